// Package outbound 负责打开到请求目标的连接：TCP 直连，或 UDP/53 的 DNS 转发。
package outbound

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/miekg/dns"

	"liuproxy_vless/internal/protocol/vless"
	"liuproxy_vless/internal/shared/logger"
	"liuproxy_vless/internal/shared/types"
)

const (
	dnsPort           = 53
	defaultDNSTimeout = 5 * time.Second
)

// Connector 没有可变状态，所有会话共享一个实例。
type Connector struct {
	dialer      *net.Dialer
	dnsUpstream string
	dnsTimeout  time.Duration
}

func New(out types.OutboundConf, dnsConf types.DNSConf) *Connector {
	dialer := &net.Dialer{
		Timeout:   time.Duration(out.DialTimeoutMs) * time.Millisecond,
		KeepAlive: 30 * time.Second,
	}
	if out.Mark != 0 {
		dialer.Control = markControl(out.Mark)
	}
	timeout := time.Duration(dnsConf.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	return &Connector{
		dialer:      dialer,
		dnsUpstream: dnsConf.Upstream,
		dnsTimeout:  timeout,
	}
}

// Connect 按请求的命令打开出站连接。失败不重试。
func (c *Connector) Connect(ctx context.Context, req *vless.Request) (io.ReadWriteCloser, error) {
	dest := req.Destination()
	switch req.Command {
	case vless.CommandTCP:
		conn, err := c.dialer.DialContext(ctx, "tcp", dest.String())
		if err != nil {
			return nil, fmt.Errorf("%w: tcp %s: %w", vless.ErrOutboundConnect, dest, err)
		}
		logger.Ctx(ctx).Debug().Str("target", dest.String()).Str("local", conn.LocalAddr().String()).Msg("Outbound TCP connected")
		return conn, nil

	case vless.CommandUDP:
		if req.Port != dnsPort {
			return nil, fmt.Errorf("%w: port %d", vless.ErrUnsupportedUDPTarget, req.Port)
		}
		upstream := c.dnsUpstream
		if upstream == "" {
			upstream = dest.String()
		}
		client := &dns.Client{Net: "udp", Timeout: c.dnsTimeout, Dialer: c.dialer}
		logger.Ctx(ctx).Debug().Str("upstream", upstream).Msg("Outbound DNS path ready")
		return NewDNSConn(ctx, client, upstream), nil
	}
	return nil, fmt.Errorf("%w: %d", vless.ErrUnsupportedCommand, byte(req.Command))
}
