package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	proxyproto "github.com/pires/go-proxyproto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"liuproxy_vless/internal/metrics"
	"liuproxy_vless/internal/outbound"
	"liuproxy_vless/internal/protocol/vless"
	"liuproxy_vless/internal/relay"
	"liuproxy_vless/internal/service/web"
	"liuproxy_vless/internal/shared"
	"liuproxy_vless/internal/shared/config"
	"liuproxy_vless/internal/shared/logger"
	"liuproxy_vless/internal/shared/types"
	"liuproxy_vless/internal/stats"
)

// RemoteServer 在 ws_path 上接受 WebSocket 升级，并把每个连接交给 relay.Handler。
type RemoteServer struct {
	cfg      *types.Config
	identity uuid.UUID
	handler  *relay.Handler
	recorder stats.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	listener   net.Listener
	httpServer *http.Server

	mu          sync.Mutex
	stopped     bool
	activeConns sync.Map // 用于追踪所有活跃的客户端连接
	active      atomic.Int64
	waitGroup   sync.WaitGroup
	closeOnce   sync.Once
	stopErr     error
}

// New 根据配置组装服务器。redis 不可达时返回错误。
func New(cfg *types.Config) (*RemoteServer, error) {
	id, err := config.ParseIdentity(cfg.VlessConf.UUID)
	if err != nil {
		return nil, err
	}
	recorder, err := stats.New(cfg.StatsConf)
	if err != nil {
		return nil, err
	}

	handler := relay.NewHandler(
		vless.NewAuthenticator(id),
		outbound.New(cfg.OutboundConf, cfg.DNSConf),
		recorder,
		relay.Options{
			BufferSize:       cfg.CommonConf.BufferSize,
			StrictFirstChunk: cfg.VlessConf.StrictFirstChunk,
			HeaderTimeout:    time.Duration(cfg.VlessConf.HeaderTimeoutMs) * time.Millisecond,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteServer{
		cfg:      cfg,
		identity: id,
		handler:  handler,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Handler 返回完整的路由，测试中可直接挂到 httptest.Server。
func (s *RemoteServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.RemoteConf.WsPath, s.handleTunnel)
	if s.cfg.RemoteConf.MetricsPath != "" {
		mux.Handle(s.cfg.RemoteConf.MetricsPath, promhttp.Handler())
	}
	return mux
}

// Start 开始监听，立即返回。
func (s *RemoteServer) Start() error {
	addr := net.JoinHostPort(s.cfg.RemoteConf.ListenAddr, strconv.Itoa(s.cfg.RemoteConf.PortWsSvr))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("remote server: failed to listen on %s: %w", addr, err)
	}
	if s.cfg.RemoteConf.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln, ReadHeaderTimeout: 10 * time.Second}
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	logger.Info().
		Str("listen_addr", ln.Addr().String()).
		Str("ws_path", s.cfg.RemoteConf.WsPath).
		Bool("proxy_protocol", s.cfg.RemoteConf.ProxyProtocol).
		Msg(">>> VLESS tunnel server listening")
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok && tcpAddr.IP.IsUnspecified() {
		logLocalIPs(tcpAddr.Port, s.cfg.RemoteConf.WsPath)
	}

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server stopped unexpectedly")
		}
	}()
	return nil
}

// Addr 返回实际监听地址，端口为 0 时有用。
func (s *RemoteServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveSessions 返回当前正在处理的会话数
func (s *RemoteServer) ActiveSessions() int64 { return s.active.Load() }

func (s *RemoteServer) handleTunnel(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		if s.cfg.RemoteConf.ConfigPage {
			web.ConfigPageHandler(s.identity, s.cfg.RemoteConf.WsPath, s.cfg.RemoteConf.PublicHost)(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	// 升级之前先占用名额，升级失败时归还
	if !s.reserve() {
		metrics.RejectedTotal.Inc()
		logger.Warn().Str("client_ip", r.RemoteAddr).Int("max_connections", s.cfg.CommonConf.MaxConnections).Msg("Rejecting upgrade, connection limit reached")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	conn, err := shared.NewWebSocketConnAdapterServer(w, r)
	if err != nil {
		s.release()
		logger.Debug().Err(err).Str("client_ip", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	if !s.track(conn) {
		s.release()
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)

	// 1. 生成 Trace ID 并创建带上下文的 logger
	l := logger.With().Str("trace_id", uuid.NewString()).Str("client_ip", r.RemoteAddr).Logger()
	ctx := l.WithContext(s.ctx)

	defer func() {
		if rec := recover(); rec != nil {
			l.Error().Interface("panic", rec).Msg("PANIC recovered in tunnel handler")
			_ = conn.Close()
		}
	}()

	_ = s.handler.Serve(ctx, conn)
}

// reserve 占用一个会话名额，max_connections 为 0 时不限制。
func (s *RemoteServer) reserve() bool {
	limit := int64(s.cfg.CommonConf.MaxConnections)
	if limit <= 0 {
		s.active.Add(1)
		return true
	}
	for {
		cur := s.active.Load()
		if cur >= limit {
			return false
		}
		if s.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (s *RemoteServer) release() { s.active.Add(-1) }

// track 注册已占用名额的连接，服务器停止后返回 false。
func (s *RemoteServer) track(conn *shared.WebSocketConnAdapter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.waitGroup.Add(1)
	s.activeConns.Store(conn, struct{}{}) // 注册连接
	return true
}

func (s *RemoteServer) untrack(conn *shared.WebSocketConnAdapter) {
	s.activeConns.Delete(conn) // 注销连接
	s.release()
	s.waitGroup.Done()
}

// Stop 关闭监听、强制关闭所有活动连接并等待会话退出。可重复调用。
func (s *RemoteServer) Stop() error {
	s.closeOnce.Do(func() {
		logger.Info().Int64("active_sessions", s.active.Load()).Msg("Stopping tunnel server...")
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.cancel()

		var err error
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = multierr.Append(err, s.httpServer.Shutdown(ctx))
			cancel()
		}
		// 被劫持的 WebSocket 连接不受 Shutdown 管理，需要手动关闭
		s.activeConns.Range(func(key, value interface{}) bool {
			if conn, ok := key.(*shared.WebSocketConnAdapter); ok {
				_ = conn.Close()
			}
			return true
		})
		s.waitGroup.Wait()
		err = multierr.Append(err, s.recorder.Close())
		s.stopErr = err
		logger.Info().Msg("Tunnel server stopped.")
	})
	return s.stopErr
}

// logLocalIPs finds and prints available non-loopback IPv4 addresses.
func logLocalIPs(port int, path string) {
	interfaces, err := net.Interfaces()
	if err != nil {
		logger.Warn().Err(err).Msg("Could not get network interfaces")
		return
	}

	for _, i := range interfaces {
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			// We only care about IPv4 for simplicity
			ip = ip.To4()
			if ip != nil {
				logger.Info().Str("url", fmt.Sprintf("ws://%s%s", net.JoinHostPort(ip.String(), strconv.Itoa(port)), path)).Msg("  -> server address for client configuration")
			}
		}
	}
}
