// Package web 渲染非升级请求看到的客户端配置页。
package web

import (
	"encoding/json"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"liuproxy_vless/internal/shared/logger"
)

// 客户端总是通过前置的 TLS 入口连接
const clientPort = 443

var pageTemplate = template.Must(template.New("config").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>VLESS Configuration</title>
</head>
<body>
  <h2>VLESS Configuration</h2>
  <pre>{{.JSON}}</pre>
  <p>VLESS URL: <code>{{.URL}}</code></p>
</body>
</html>
`))

// ClientConfig 是配置页展示给客户端的字段
type ClientConfig struct {
	Protocol   string `json:"protocol"`
	UUID       string `json:"uuid"`
	Address    string `json:"address"`
	Port       int    `json:"port"`
	Encryption string `json:"encryption"`
	Flow       string `json:"flow"`
	Network    string `json:"network"`
	Security   string `json:"security"`
	Path       string `json:"path"`
}

func NewClientConfig(id uuid.UUID, host, path string) ClientConfig {
	return ClientConfig{
		Protocol:   "vless",
		UUID:       id.String(),
		Address:    host,
		Port:       clientPort,
		Encryption: "none",
		Network:    "ws",
		Security:   "tls",
		Path:       path,
	}
}

// ShareURL 生成 vless://uuid@host:443?...#host 形式的分享链接
func (c ClientConfig) ShareURL() string {
	q := url.Values{}
	q.Set("encryption", c.Encryption)
	q.Set("security", c.Security)
	q.Set("type", c.Network)
	q.Set("path", c.Path)
	u := url.URL{
		Scheme:   "vless",
		User:     url.User(c.UUID),
		Host:     net.JoinHostPort(c.Address, strconv.Itoa(c.Port)),
		RawQuery: q.Encode(),
		Fragment: c.Address,
	}
	return u.String()
}

// ConfigPageHandler 返回配置页。publicHost 为空时使用请求的 Host。
func ConfigPageHandler(id uuid.UUID, wsPath, publicHost string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		host := publicHost
		if host == "" {
			host = r.Host
			if h, _, err := net.SplitHostPort(r.Host); err == nil {
				host = h
			}
		}

		cfg := NewClientConfig(id, host, wsPath)
		pretty, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		if err := pageTemplate.Execute(w, struct {
			JSON string
			URL  string
		}{JSON: string(pretty), URL: cfg.ShareURL()}); err != nil {
			logger.Warn().Err(err).Msg("Failed to render config page")
		}
	}
}
