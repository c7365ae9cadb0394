// Package relay 实现单个入站连接的完整生命周期：解析头部、认证、应答、拨号和双向转发。
package relay

import (
	"context"
	"errors"
	"time"

	"liuproxy_vless/internal/metrics"
	"liuproxy_vless/internal/protocol/vless"
	"liuproxy_vless/internal/shared/logger"
	"liuproxy_vless/internal/stats"
)

const defaultBufferSize = 32 * 1024

// Options 控制会话行为
type Options struct {
	BufferSize       int
	StrictFirstChunk bool
	HeaderTimeout    time.Duration
}

// Handler 持有所有会话共享的只读依赖。
type Handler struct {
	auth     *vless.Authenticator
	dialer   Dialer
	recorder stats.Recorder
	opts     Options
}

func NewHandler(auth *vless.Authenticator, dialer Dialer, recorder stats.Recorder, opts Options) *Handler {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if recorder == nil {
		recorder = stats.Nop{}
	}
	return &Handler{auth: auth, dialer: dialer, recorder: recorder, opts: opts}
}

// Serve 运行一个会话直到终态。正常关闭返回 nil，否则返回导致终止的错误。
// 返回时入站和出站连接都已关闭。
func (h *Handler) Serve(ctx context.Context, t Transport) error {
	_, err := h.serve(ctx, t)
	return err
}

func (h *Handler) serve(ctx context.Context, t Transport) (*Session, error) {
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()
	start := time.Now()

	s := newSession(h, t)
	err := s.run(ctx)
	_ = s.closeAll()

	elapsed := time.Since(start)
	result := resultLabel(err)
	metrics.SessionsTotal.WithLabelValues(result).Inc()
	metrics.SessionSeconds.Observe(elapsed.Seconds())
	metrics.BytesTotal.WithLabelValues(metrics.DirectionUp).Add(float64(s.BytesIn()))
	metrics.BytesTotal.WithLabelValues(metrics.DirectionDown).Add(float64(s.BytesOut()))

	l := logger.Ctx(ctx)
	if s.request != nil && s.State() == StateClosed {
		recCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if rerr := h.recorder.Record(recCtx, h.auth.Identity(), s.BytesIn(), s.BytesOut()); rerr != nil {
			l.Warn().Err(rerr).Msg("Failed to record traffic")
		}
		cancel()
	}

	event := l.Debug()
	if err != nil && !errors.Is(err, vless.ErrAuthFailure) {
		event = l.Info()
	}
	if err != nil {
		event = event.Err(err)
	}
	if s.request != nil {
		event = event.Str("target", s.request.Destination().String()).Str("command", s.request.Command.String())
	}
	event.Str("state", s.State().String()).
		Str("result", result).
		Int64("bytes_in", s.BytesIn()).
		Int64("bytes_out", s.BytesOut()).
		Dur("duration", elapsed).
		Msg("Session finished")

	return s, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, vless.ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, vless.ErrUnsupportedCommand):
		return "unsupported_command"
	case errors.Is(err, vless.ErrMalformedAddress) && !errors.Is(err, vless.ErrTruncatedHeader):
		return "malformed_address"
	case errors.Is(err, vless.ErrTruncatedHeader):
		return "truncated_header"
	case errors.Is(err, vless.ErrUnsupportedUDPTarget):
		return "unsupported_udp_target"
	case errors.Is(err, vless.ErrOutboundConnect):
		return "outbound_connect_failure"
	case errors.Is(err, vless.ErrTransport):
		return "transport_error"
	}
	return "error"
}
