package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"liuproxy_vless/internal/protocol/vless"
	"liuproxy_vless/internal/shared/logger"
)

// State 只会向前推进，不会回到已经经过的状态。
type State int32

const (
	StateAwaitingHeader State = iota
	StateAuthenticated
	StateConnecting
	StateRelaying
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHeader:
		return "awaiting_header"
	case StateAuthenticated:
		return "authenticated"
	case StateConnecting:
		return "connecting"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var transitions = map[State][]State{
	StateAwaitingHeader: {StateAuthenticated, StateFailed},
	StateAuthenticated:  {StateConnecting, StateFailed},
	StateConnecting:     {StateRelaying, StateFailed},
	StateRelaying:       {StateClosed},
}

// Transport 是已经完成升级的入站连接，按消息读取。ReadChunk 在流结束时返回 io.EOF。
type Transport interface {
	ReadChunk() ([]byte, error)
	Write(p []byte) (int, error)
	Close() error
}

// Dialer 打开到请求目标的出站连接
type Dialer interface {
	Connect(ctx context.Context, req *vless.Request) (io.ReadWriteCloser, error)
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Session 处理一个入站连接，从不在连接之间共享。
type Session struct {
	h        *Handler
	inbound  Transport
	outbound io.ReadWriteCloser
	request  *vless.Request

	state atomic.Int32

	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newSession(h *Handler, inbound Transport) *Session {
	return &Session{h: h, inbound: inbound}
}

func (s *Session) State() State            { return State(s.state.Load()) }
func (s *Session) BytesIn() int64          { return s.bytesIn.Load() }
func (s *Session) BytesOut() int64         { return s.bytesOut.Load() }
func (s *Session) Request() *vless.Request { return s.request }

func (s *Session) advance(next State) {
	cur := s.State()
	for _, allowed := range transitions[cur] {
		if allowed == next {
			s.state.Store(int32(next))
			return
		}
	}
	panic(fmt.Sprintf("relay: invalid session transition %s -> %s", cur, next))
}

// fail 关闭入站连接，不向对端发送任何字节。
func (s *Session) fail(err error) error {
	s.advance(StateFailed)
	_ = s.closeAll()
	return err
}

func (s *Session) run(ctx context.Context) error {
	l := logger.Ctx(ctx)

	req, first, err := s.readHeader()
	if err != nil {
		return s.fail(err)
	}
	s.request = req

	if err := s.h.auth.Authenticate(req.Credential); err != nil {
		return s.fail(err)
	}
	s.advance(StateAuthenticated)

	l.Debug().
		Uint8("version", req.Version).
		Str("command", req.Command.String()).
		Str("target", req.Destination().String()).
		Int("addons", len(req.Addons)).
		Msg("VLESS header accepted")

	if _, err := s.inbound.Write(vless.BuildResponse(req.Version)); err != nil {
		return s.fail(fmt.Errorf("%w: write response: %w", vless.ErrTransport, err))
	}
	s.advance(StateConnecting)

	outbound, err := s.h.dialer.Connect(ctx, req)
	if err != nil {
		return s.fail(err)
	}
	s.outbound = outbound
	s.advance(StateRelaying)

	err = s.relay(first[req.PayloadOffset:])
	s.advance(StateClosed)
	return err
}

// readHeader 读取直到请求头完整。StrictFirstChunk 时只看第一个数据块。
// 返回的 buf 包含头部以及同一批数据中紧随其后的负载。
func (s *Session) readHeader() (*vless.Request, []byte, error) {
	if d, ok := s.inbound.(readDeadliner); ok && s.h.opts.HeaderTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(s.h.opts.HeaderTimeout))
		defer func() { _ = d.SetReadDeadline(time.Time{}) }()
	}

	var buf []byte
	for {
		chunk, err := s.inbound.ReadChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, fmt.Errorf("%w: stream ended after %d bytes", vless.ErrTruncatedHeader, len(buf))
			}
			// 收到部分头部后超时，仍归为头部不完整
			if len(buf) > 0 && isTimeout(err) {
				return nil, nil, fmt.Errorf("%w: timed out after %d bytes: %w", vless.ErrTruncatedHeader, len(buf), err)
			}
			return nil, nil, fmt.Errorf("%w: read header: %w", vless.ErrTransport, err)
		}
		buf = append(buf, chunk...)

		req, err := vless.ParseRequest(buf)
		if err == nil {
			return req, buf, nil
		}
		if !errors.Is(err, vless.ErrTruncatedHeader) || s.h.opts.StrictFirstChunk || len(buf) >= vless.MaxHeaderLen {
			return nil, nil, err
		}
	}
}

// relay 并发运行两个方向的转发，任一方向结束都会关闭两端。
func (s *Session) relay(payload []byte) error {
	var g errgroup.Group
	g.Go(func() error {
		defer s.closeAll()
		return s.inboundToOutbound(payload)
	})
	g.Go(func() error {
		defer s.closeAll()
		return s.outboundToInbound()
	})
	return g.Wait()
}

func (s *Session) inboundToOutbound(payload []byte) error {
	if len(payload) > 0 {
		if err := s.writeOutbound(payload); err != nil {
			return s.transportErr("write outbound", err)
		}
	}
	for {
		chunk, err := s.inbound.ReadChunk()
		if err != nil {
			return s.transportErr("read inbound", err)
		}
		if len(chunk) == 0 {
			continue
		}
		if err := s.writeOutbound(chunk); err != nil {
			return s.transportErr("write outbound", err)
		}
	}
}

func (s *Session) writeOutbound(p []byte) error {
	n, err := s.outbound.Write(p)
	s.bytesIn.Add(int64(n))
	return err
}

func (s *Session) outboundToInbound() error {
	buf := make([]byte, s.h.opts.BufferSize)
	for {
		n, err := s.outbound.Read(buf)
		if n > 0 {
			if _, werr := s.inbound.Write(buf[:n]); werr != nil {
				return s.transportErr("write inbound", werr)
			}
			s.bytesOut.Add(int64(n))
		}
		if err != nil {
			return s.transportErr("read outbound", err)
		}
	}
}

// transportErr 把转发中的错误归类：正常结束和由本端拆除引起的错误都不算错误。
func (s *Session) transportErr(op string, err error) error {
	if s.closing.Load() || isClosed(err) {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", vless.ErrTransport, op, err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// closeAll 关闭入站和出站连接，可以从任意一个方向重复调用。
func (s *Session) closeAll() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err := s.inbound.Close()
		if s.outbound != nil {
			err = multierr.Append(err, s.outbound.Close())
		}
		s.closeErr = err
	})
	return s.closeErr
}
