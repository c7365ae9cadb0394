package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	ini "gopkg.in/ini.v1"

	"liuproxy_vless/internal/shared/types"
)

const (
	DefaultWsPath      = "/vless"
	DefaultMetricsPath = "/metrics"
	DefaultBufferSize  = 32 * 1024
)

// Default 返回一份可以直接运行的配置（UUID 除外）。
func Default() *types.Config {
	return &types.Config{
		CommonConf: types.CommonConf{
			BufferSize: DefaultBufferSize,
		},
		LogConf: types.LogConf{
			Level:  "info",
			Format: "console",
		},
		RemoteConf: types.RemoteConf{
			ListenAddr:  "0.0.0.0",
			PortWsSvr:   8080,
			WsPath:      DefaultWsPath,
			MetricsPath: DefaultMetricsPath,
			ConfigPage:  true,
		},
		VlessConf: types.VlessConf{
			HeaderTimeoutMs: 5000,
		},
		OutboundConf: types.OutboundConf{
			DialTimeoutMs: 10000,
		},
		DNSConf: types.DNSConf{
			TimeoutMs: 5000,
		},
		StatsConf: types.StatsConf{
			KeyPrefix: "vless:traffic:",
		},
	}
}

// LoadIni 从指定的 fileName 加载配置到传入的 types.Config 结构体中。
// 文件中缺失的键保留 cfg 中已有的值，因此调用方通常先传入 Default()。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}

	// 使用 MapTo 自动将 .ini 文件的 section 映射到 cfg 结构体的嵌入字段
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}

	applyEnv(cfg)
	return nil
}

// Load 是 Default + LoadIni + Validate 的组合
func Load(fileName string) (*types.Config, error) {
	cfg := Default()
	if err := LoadIni(cfg, fileName); err != nil {
		return nil, fmt.Errorf("load config %s: %w", fileName, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *types.Config) {
	overrideFromEnvString(&cfg.VlessConf.UUID, "VLESS_UUID")
	overrideFromEnvInt(&cfg.RemoteConf.PortWsSvr, "REMOTE_PORT_WS_SVR")
	overrideFromEnvString(&cfg.StatsConf.RedisAddr, "REDIS_ADDR")
	overrideFromEnvString(&cfg.LogConf.Level, "LOG_LEVEL")
}

// Validate 检查运行所必需的字段
func Validate(cfg *types.Config) error {
	if _, err := ParseIdentity(cfg.VlessConf.UUID); err != nil {
		return err
	}
	if cfg.RemoteConf.PortWsSvr <= 0 || cfg.RemoteConf.PortWsSvr > 65535 {
		return fmt.Errorf("config: port_ws_svr out of range: %d", cfg.RemoteConf.PortWsSvr)
	}
	if !strings.HasPrefix(cfg.RemoteConf.WsPath, "/") {
		return fmt.Errorf("config: ws_path must start with '/': %q", cfg.RemoteConf.WsPath)
	}
	if cfg.RemoteConf.MetricsPath != "" && cfg.RemoteConf.MetricsPath == cfg.RemoteConf.WsPath {
		return fmt.Errorf("config: metrics_path collides with ws_path")
	}
	if cfg.CommonConf.BufferSize <= 0 {
		cfg.CommonConf.BufferSize = DefaultBufferSize
	}
	switch cfg.LogConf.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", cfg.LogConf.Format)
	}
	return nil
}

// ParseIdentity 解析配置中的 UUID。
func ParseIdentity(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("config: vless uuid is not set")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("config: invalid vless uuid %q: %w", s, err)
	}
	return id, nil
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
