package hooks

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromMetrics implements core.MetricsCollector backed by Prometheus.
type PromMetrics struct {
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	bytesFetched  prometheus.Counter
	clones        prometheus.Counter
	releases      prometheus.Counter
	gatherer      prometheus.Gatherer
}

// NewPromMetrics registers the collectors on reg, or on the default
// registry when reg is nil.
func NewPromMetrics(namespace string, reg *prometheus.Registry) *PromMetrics {
	p := &PromMetrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of fetch, decode and post-processing stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Stage failures by category",
		}, []string{"stage", "category"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Terminal subscription outcomes by flow and status",
		}, []string{"flow", "status"}),
		bytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_bytes_total",
			Help:      "Encoded bytes fetched from sources",
		}),
		clones: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_clones_total",
			Help:      "Pooled buffer references taken by subscribers",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_releases_total",
			Help:      "Pooled buffer references released by subscribers",
		}),
	}
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	p.gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, p.gatherer = reg, reg
	}
	registerer.MustRegister(p.stageDuration, p.stageErrors, p.deliveries, p.bytesFetched, p.clones, p.releases)
	return p
}

func (p *PromMetrics) RecordProcessingTime(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PromMetrics) RecordThroughput(bytes int64) {
	if bytes > 0 {
		p.bytesFetched.Add(float64(bytes))
	}
}

func (p *PromMetrics) RecordError(stage, category string) {
	p.stageErrors.WithLabelValues(stage, category).Inc()
}

func (p *PromMetrics) RecordDelivery(flow, status string) {
	p.deliveries.WithLabelValues(flow, status).Inc()
}

func (p *PromMetrics) RecordBufferClone()   { p.clones.Inc() }
func (p *PromMetrics) RecordBufferRelease() { p.releases.Inc() }

// Handler serves the registry the collectors were registered on.
func (p *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
