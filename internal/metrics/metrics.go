// Package metrics exposes Prometheus collectors for the image cache. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

const namespace = "imagecache"

// Build results
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors registered for one optimizer
type Metrics struct {
	Builds        *prometheus.CounterVec
	StoreHits     *prometheus.CounterVec
	Coalesced     prometheus.Counter
	SlotsInUse    prometheus.Gauge
	BuildDuration *prometheus.HistogramVec
	Responses     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Transform executions by kind and result.",
		}, []string{"kind", "result"}),
		StoreHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_hits_total",
			Help:      "Requests answered from the persistent store.",
		}, []string{"kind"}),
		Coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_total",
			Help:      "Requests that joined an in-flight build instead of starting one.",
		}),
		SlotsInUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_slots_in_use",
			Help:      "Build slots currently held by running transforms.",
		}),
		BuildDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Time spent in a build slot, by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"kind"}),
		Responses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "Artifact handler responses by status code.",
		}, []string{"code"}),
	}
}

// ObserveBuild records one finished transform execution
func (m *Metrics) ObserveBuild(kind imagecache.Kind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.Builds.WithLabelValues(string(kind), result).Inc()
	m.BuildDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// StoreHit records a request served from the store
func (m *Metrics) StoreHit(kind imagecache.Kind) {
	if m == nil {
		return
	}
	m.StoreHits.WithLabelValues(string(kind)).Inc()
}

// Coalesce records a request that shared another request's build
func (m *Metrics) Coalesce() {
	if m == nil {
		return
	}
	m.Coalesced.Inc()
}

// SlotAcquired marks a build slot as taken
func (m *Metrics) SlotAcquired() {
	if m == nil {
		return
	}
	m.SlotsInUse.Inc()
}

// SlotReleased marks a build slot as free
func (m *Metrics) SlotReleased() {
	if m == nil {
		return
	}
	m.SlotsInUse.Dec()
}

// Response records an artifact handler response
func (m *Metrics) Response(code int) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(strconv.Itoa(code)).Inc()
}
