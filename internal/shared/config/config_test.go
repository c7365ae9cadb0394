package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUUID = "8d4a8f38-2d9c-4e3d-b35e-90c01872c61d"

func writeIni(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remote.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_KeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeIni(t, `
[vless]
uuid = `+testUUID+`

[remote]
port_ws_svr = 9443
proxy_protocol = true

[dns]
upstream = 1.1.1.1:53
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, testUUID, cfg.VlessConf.UUID)
	assert.Equal(t, 9443, cfg.RemoteConf.PortWsSvr)
	assert.True(t, cfg.RemoteConf.ProxyProtocol)
	assert.Equal(t, "1.1.1.1:53", cfg.DNSConf.Upstream)

	// 未出现在文件中的键保持默认值
	assert.Equal(t, DefaultWsPath, cfg.RemoteConf.WsPath)
	assert.Equal(t, DefaultBufferSize, cfg.CommonConf.BufferSize)
	assert.Equal(t, 10000, cfg.OutboundConf.DialTimeoutMs)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeIni(t, "[remote]\nport_ws_svr = 8080\n")
	t.Setenv("VLESS_UUID", testUUID)
	t.Setenv("REMOTE_PORT_WS_SVR", "10086")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testUUID, cfg.VlessConf.UUID)
	assert.Equal(t, 10086, cfg.RemoteConf.PortWsSvr)
}

func TestValidate(t *testing.T) {
	t.Run("MissingUUID", func(t *testing.T) {
		cfg := Default()
		assert.Error(t, Validate(cfg))
	})

	t.Run("BadUUID", func(t *testing.T) {
		cfg := Default()
		cfg.VlessConf.UUID = "not-a-uuid"
		assert.Error(t, Validate(cfg))
	})

	t.Run("BadPath", func(t *testing.T) {
		cfg := Default()
		cfg.VlessConf.UUID = testUUID
		cfg.RemoteConf.WsPath = "vless"
		assert.Error(t, Validate(cfg))
	})

	t.Run("MetricsCollision", func(t *testing.T) {
		cfg := Default()
		cfg.VlessConf.UUID = testUUID
		cfg.RemoteConf.MetricsPath = cfg.RemoteConf.WsPath
		assert.Error(t, Validate(cfg))
	})

	t.Run("Valid", func(t *testing.T) {
		cfg := Default()
		cfg.VlessConf.UUID = testUUID
		assert.NoError(t, Validate(cfg))
	})
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	assert.Error(t, err)
}
