package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "vless_active_sessions", Help: "Sessions currently between upgrade and teardown"})
	SessionsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "vless_sessions_total", Help: "Finished sessions by terminal result"}, []string{"result"})
	BytesTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "vless_relayed_bytes_total", Help: "Bytes relayed by direction"}, []string{"direction"})
	DNSQueries     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "vless_dns_queries_total", Help: "DNS queries forwarded by result"}, []string{"result"})
	RejectedTotal  = promauto.NewCounter(prometheus.CounterOpts{Name: "vless_rejected_upgrades_total", Help: "Upgrades refused because max_connections was reached"})
	SessionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "vless_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)
