package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GatewayMetrics captures passive counters for the realtime gateway. The hot
// path only increments; nothing here is consulted for decisions.
type GatewayMetrics interface {
	ConnOpened()
	ConnClosed()
	IncFrame(frameType string)
	IncIngest(schema, status string)
	IncDedup()
	IncBroadcast()
	IncEviction(reason string)
	IncAuthFailure()
}

// Noop implements GatewayMetrics without emitting anything.
type Noop struct{}

func (Noop) ConnOpened()              {}
func (Noop) ConnClosed()              {}
func (Noop) IncFrame(string)          {}
func (Noop) IncIngest(string, string) {}
func (Noop) IncDedup()                {}
func (Noop) IncBroadcast()            {}
func (Noop) IncEviction(string)       {}
func (Noop) IncAuthFailure()          {}

// Prom implements GatewayMetrics backed by Prometheus collectors.
type Prom struct {
	connections  prometheus.Gauge
	frames       *prometheus.CounterVec
	ingest       *prometheus.CounterVec
	dedup        prometheus.Counter
	broadcasts   prometheus.Counter
	evictions    *prometheus.CounterVec
	authFailures prometheus.Counter
	once         sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Live websocket connections",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound frames by type",
		}, []string{"type"}),
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_events_total",
			Help:      "Ingest events by schema and status",
		}, []string{"schema", "status"}),
		dedup: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_dedup_total",
			Help:      "Ingest events short-circuited by idempotency markers",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "EVENT frames fanned out to subscribers",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Connections force-closed by reason",
		}, []string{"reason"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected connection attempts",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(
			p.connections, p.frames, p.ingest, p.dedup,
			p.broadcasts, p.evictions, p.authFailures,
		)
	})
}

func (p *Prom) ConnOpened() { p.connections.Inc() }
func (p *Prom) ConnClosed() { p.connections.Dec() }

func (p *Prom) IncFrame(frameType string) {
	p.frames.WithLabelValues(frameType).Inc()
}

func (p *Prom) IncIngest(schema, status string) {
	p.ingest.WithLabelValues(schema, status).Inc()
}

func (p *Prom) IncDedup()     { p.dedup.Inc() }
func (p *Prom) IncBroadcast() { p.broadcasts.Inc() }

func (p *Prom) IncEviction(reason string) {
	p.evictions.WithLabelValues(reason).Inc()
}

func (p *Prom) IncAuthFailure() { p.authFailures.Inc() }

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
