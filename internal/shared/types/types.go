package types

// CommonConf 包含进程级的通用配置
type CommonConf struct {
	MaxConnections int `ini:"max_connections"`
	BufferSize     int `ini:"buffer_size"`
}

// LogConf 控制 zerolog 的输出
type LogConf struct {
	Level  string `ini:"level"`
	Format string `ini:"format"` // console | json
	File   string `ini:"file"`
}

// RemoteConf 描述 WebSocket 入站监听
type RemoteConf struct {
	ListenAddr    string `ini:"listen_addr"`
	PortWsSvr     int    `ini:"port_ws_svr"`
	WsPath        string `ini:"ws_path"`
	ProxyProtocol bool   `ini:"proxy_protocol"`
	MetricsPath   string `ini:"metrics_path"`
	ConfigPage    bool   `ini:"config_page"`
	PublicHost    string `ini:"public_host"`
}

// VlessConf 是协议层的配置。UUID 是唯一的身份凭证。
type VlessConf struct {
	UUID             string `ini:"uuid"`
	StrictFirstChunk bool   `ini:"strict_first_chunk"`
	HeaderTimeoutMs  int    `ini:"header_timeout_ms"`
}

// OutboundConf 控制到目标地址的拨号
type OutboundConf struct {
	DialTimeoutMs int `ini:"dial_timeout_ms"`
	// Mark 非 0 时在 linux 上为出站 socket 设置 SO_MARK
	Mark int `ini:"mark"`
}

// DNSConf 控制 UDP/53 请求的上游。Upstream 为空时直接发往客户端请求的地址。
type DNSConf struct {
	Upstream  string `ini:"upstream"`
	TimeoutMs int    `ini:"timeout_ms"`
}

// StatsConf 配置基于 redis 的流量统计，RedisAddr 为空则关闭。
type StatsConf struct {
	RedisAddr     string `ini:"redis_addr"`
	RedisPassword string `ini:"redis_password"`
	RedisDB       int    `ini:"redis_db"`
	KeyPrefix     string `ini:"key_prefix"`
}

// Config 是整个应用程序的统一配置结构体
type Config struct {
	CommonConf   `ini:"common"`
	LogConf      `ini:"log"`
	RemoteConf   `ini:"remote"`
	VlessConf    `ini:"vless"`
	OutboundConf `ini:"outbound"`
	DNSConf      `ini:"dns"`
	StatsConf    `ini:"stats"`
}
