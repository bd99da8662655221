// Package metrics exposes the router's Prometheus collectors. Every collector
// is a no-op until Initialize is called, so packages can record unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "rhizome"

var registry *prometheus.Registry

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

type Histogram interface {
	Observe(float64)
}

type CounterVec interface {
	With(labels ...string) Counter
}

type GaugeVec interface {
	With(labels ...string) Gauge
}

type NoopStat struct{}

func (NoopStat) Inc()            {}
func (NoopStat) Dec()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Sub(float64)     {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Observe(float64) {}

type noopCounterVec struct{}
type noopGaugeVec struct{}

func (noopCounterVec) With(labels ...string) Counter { return NoopStat{} }
func (noopGaugeVec) With(labels ...string) Gauge     { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

type prometheusGaugeVec struct {
	vec *prometheus.GaugeVec
}

func (p *prometheusGaugeVec) With(labelValues ...string) Gauge {
	return p.vec.WithLabelValues(labelValues...)
}

// Result label values
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultError  = "error"
)

var (
	// MessagesPublished counts data messages published, by source transport
	MessagesPublished CounterVec = noopCounterVec{}

	// Deliveries counts per-subscriber sends by connection kind and result (ok, failed)
	Deliveries CounterVec = noopCounterVec{}

	// BlobRedirects counts deliveries rerouted to a paired blob connection
	BlobRedirects Counter = NoopStat{}

	// ControlMessages counts control requests by address and result (ok, error)
	ControlMessages CounterVec = noopCounterVec{}

	// Connections tracks live connections by kind
	Connections GaugeVec = noopGaugeVec{}

	// Subscriptions tracks the number of (address, connection) pairs
	Subscriptions Gauge = NoopStat{}

	// PublishSeconds measures the time to fan a message out to all subscribers
	PublishSeconds Histogram = NoopStat{}

	// InboundPackets counts frames read by a transport, by transport and result (ok, error)
	InboundPackets CounterVec = noopCounterVec{}
)

// Initialize creates the registry and swaps every collector for a real one.
// It must be called once at startup, before any traffic is handled.
func Initialize(nodeID string) *prometheus.Registry {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	constLabels := prometheus.Labels{"node_id": nodeID}

	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "messages_published_total",
		Help:        "Data messages published, by source transport.",
		ConstLabels: constLabels,
	}, []string{"source"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "deliveries_total",
		Help:        "Per-subscriber deliveries by connection kind and result.",
		ConstLabels: constLabels,
	}, []string{"kind", "result"})
	redirects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "blob_redirects_total",
		Help:        "Deliveries redirected to a paired blob connection.",
		ConstLabels: constLabels,
	})
	control := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "control_messages_total",
		Help:        "Control requests by address and result.",
		ConstLabels: constLabels,
	}, []string{"address", "result"})
	connections := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "connections",
		Help:        "Live connections by kind.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	subscriptions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "subscriptions",
		Help:        "Registered (address, connection) pairs.",
		ConstLabels: constLabels,
	})
	publishSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "publish_duration_seconds",
		Help:        "Time to deliver one published message to every subscriber.",
		Buckets:     []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		ConstLabels: constLabels,
	})

	inbound := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "inbound_packets_total",
		Help:        "Frames read from clients, by transport and decode result.",
		ConstLabels: constLabels,
	}, []string{"transport", "result"})

	registry.MustRegister(published, deliveries, redirects, control, connections, subscriptions, publishSeconds, inbound)

	MessagesPublished = &prometheusCounterVec{vec: published}
	Deliveries = &prometheusCounterVec{vec: deliveries}
	BlobRedirects = redirects
	ControlMessages = &prometheusCounterVec{vec: control}
	Connections = &prometheusGaugeVec{vec: connections}
	Subscriptions = subscriptions
	PublishSeconds = publishSeconds
	InboundPackets = &prometheusCounterVec{vec: inbound}

	log.Info().Str("node_id", nodeID).Msg("Prometheus metrics enabled")
	return registry
}

// Handler returns the HTTP handler serving the registry, or nil when metrics
// were never initialized.
func Handler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
