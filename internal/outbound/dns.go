package outbound

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/miekg/dns"

	"liuproxy_vless/internal/metrics"
	"liuproxy_vless/internal/shared/logger"
)

// DNSConn 把 UDP/53 请求伪装成字节流：写入的是 2 字节大端长度前缀的 DNS 报文，
// 帧可以跨多次写入；每个响应同样加上长度前缀后从 Read 返回。
// Write 与 Read 分别只被一个 goroutine 调用。
type DNSConn struct {
	ctx      context.Context
	cancel   context.CancelFunc
	client   *dns.Client
	upstream string

	pending []byte
	pr      *io.PipeReader
	pw      *io.PipeWriter

	closeOnce sync.Once
}

func NewDNSConn(ctx context.Context, client *dns.Client, upstream string) *DNSConn {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	return &DNSConn{
		ctx:      ctx,
		cancel:   cancel,
		client:   client,
		upstream: upstream,
		pr:       pr,
		pw:       pw,
	}
}

// Write 消费完整的帧并同步查询上游，不完整的尾部留到下次写入。
// 单个查询失败只丢弃该查询，与 UDP 的语义一致；客户端自行重试。
func (c *DNSConn) Write(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, io.ErrClosedPipe
	}
	c.pending = append(c.pending, p...)

	for len(c.pending) >= 2 {
		n := int(binary.BigEndian.Uint16(c.pending[:2]))
		if len(c.pending) < 2+n {
			break
		}
		query := c.pending[2 : 2+n]
		if n > 0 {
			if err := c.resolve(query); err != nil {
				return 0, err
			}
		}
		c.pending = c.pending[2+n:]
	}

	if len(c.pending) == 0 {
		c.pending = nil
	}
	return len(p), nil
}

// resolve 原样转发查询字节，并原样返回上游的响应。
func (c *DNSConn) resolve(query []byte) error {
	l := logger.Ctx(c.ctx)

	msg := new(dns.Msg)
	if err := msg.Unpack(query); err != nil {
		metrics.DNSQueries.WithLabelValues("malformed").Inc()
		l.Debug().Err(err).Int("len", len(query)).Msg("Dropping malformed DNS query")
		return nil
	}

	start := time.Now()
	reply, err := c.exchange(query, msg.Id)
	if err != nil {
		if c.ctx.Err() != nil {
			return io.ErrClosedPipe
		}
		metrics.DNSQueries.WithLabelValues("failed").Inc()
		l.Debug().Err(err).Str("upstream", c.upstream).Msg("DNS exchange failed")
		return nil
	}

	metrics.DNSQueries.WithLabelValues("ok").Inc()
	if len(msg.Question) > 0 {
		l.Debug().Str("name", msg.Question[0].Name).Dur("rtt", time.Since(start)).Int("len", len(reply)).Msg("DNS query answered")
	}

	frame := make([]byte, 2+len(reply))
	binary.BigEndian.PutUint16(frame[:2], uint16(len(reply)))
	copy(frame[2:], reply)
	if _, err := c.pw.Write(frame); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return io.ErrClosedPipe
		}
		return err
	}
	return nil
}

// exchange 在一个新的 UDP socket 上发送查询，丢弃 ID 不匹配的报文，直到超时。
func (c *DNSConn) exchange(query []byte, id uint16) ([]byte, error) {
	co, err := c.client.DialContext(c.ctx, c.upstream)
	if err != nil {
		return nil, err
	}
	defer co.Close()

	stop := context.AfterFunc(c.ctx, func() { _ = co.Close() })
	defer stop()

	timeout := c.client.Timeout
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	if err := co.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := co.Write(query); err != nil {
		return nil, err
	}

	buf := make([]byte, dns.MaxMsgSize)
	for {
		n, err := co.Read(buf)
		if err != nil {
			return nil, err
		}
		if n >= 2 && binary.BigEndian.Uint16(buf[:2]) == id {
			return append([]byte(nil), buf[:n]...), nil
		}
	}
}

// Read 返回带长度前缀的响应。Close 之后返回 io.EOF。
func (c *DNSConn) Read(p []byte) (int, error) {
	return c.pr.Read(p)
}

func (c *DNSConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.pw.Close()
	})
	return nil
}
