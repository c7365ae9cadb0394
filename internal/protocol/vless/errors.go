package vless

import "errors"

// 会话的终止原因。所有错误都是终态，内部不重试。
var (
	ErrTruncatedHeader      = errors.New("vless: truncated header")
	ErrUnsupportedCommand   = errors.New("vless: unsupported command")
	ErrMalformedAddress     = errors.New("vless: malformed address")
	ErrUnsupportedUDPTarget = errors.New("vless: unsupported udp target")
	ErrAuthFailure          = errors.New("vless: authentication failed")
	ErrOutboundConnect      = errors.New("vless: outbound connect failed")
	ErrTransport            = errors.New("vless: transport error")
)
