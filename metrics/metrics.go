package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HandshakeTotal counts completed backend handshakes by outcome
	// (cmd/mxbackend records "success" and "failure").
	HandshakeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mxbackend_handshake_total",
			Help: "Total number of backend authentication handshakes",
		},
		[]string{"backend", "outcome"},
	)

	// HandshakeLatency tracks time from greeting to a terminal auth
	// result.
	HandshakeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mxbackend_handshake_latency_seconds",
			Help:    "Backend handshake latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// ReplyDesyncTotal counts DesyncError occurrences observed by the
	// reply tracker, by backend address.
	ReplyDesyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mxbackend_reply_desync_total",
			Help: "Total number of reply tracker desync errors",
		},
		[]string{"backend"},
	)

	// PoolReuseTotal counts COM_CHANGE_USER-based connection reuse
	// attempts by outcome (cmd/mxbackend records "success" and
	// "failure").
	PoolReuseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mxbackend_pool_reuse_total",
			Help: "Total number of pooled connection reuse attempts",
		},
		[]string{"backend", "outcome"},
	)

	// IdleSeconds observes how long a connection sat idle in the pool
	// before being picked for reuse or closed.
	IdleSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mxbackend_idle_seconds",
			Help:    "Seconds a pooled backend connection was idle before reuse or eviction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	once sync.Once
)

// Init registers all metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(HandshakeTotal)
		prometheus.MustRegister(HandshakeLatency)
		prometheus.MustRegister(ReplyDesyncTotal)
		prometheus.MustRegister(PoolReuseTotal)
		prometheus.MustRegister(IdleSeconds)
	})
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
