// Package metrics holds the Prometheus collectors for ingestion runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newsfeed"

// Metrics holds all ingestion metrics.
type Metrics struct {
	registry prometheus.Gatherer

	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	FeedsTotal      *prometheus.CounterVec
	ItemsTotal      *prometheus.CounterVec
	Classifications *prometheus.CounterVec
	PostsPurged     prometheus.Counter
}

// RunSummary is the part of a run that gets recorded.
type RunSummary struct {
	Status        string
	Duration      time.Duration
	FeedsOK       int
	FeedsFailed   int
	ItemsFetched  int
	ItemsNew      int
	Inserted      int
	Conflicts     int
	ClassifyState string
	Purged        int64
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs by final status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of an ingestion run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		FeedsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feeds_total",
			Help:      "Feeds fetched by result",
		}, []string{"result"}),
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items seen per pipeline stage",
		}, []string{"stage"}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classification calls by outcome",
		}, []string{"outcome"}),
		PostsPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_purged_total",
			Help:      "Expired posts removed after a run",
		}),
	}
}

// ObserveRun records one finished run. A nil receiver is a no-op.
func (m *Metrics) ObserveRun(s RunSummary) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(s.Status).Inc()
	m.RunDuration.Observe(s.Duration.Seconds())
	m.FeedsTotal.WithLabelValues("ok").Add(float64(s.FeedsOK))
	m.FeedsTotal.WithLabelValues("failed").Add(float64(s.FeedsFailed))
	m.ItemsTotal.WithLabelValues("fetched").Add(float64(s.ItemsFetched))
	m.ItemsTotal.WithLabelValues("new").Add(float64(s.ItemsNew))
	m.ItemsTotal.WithLabelValues("inserted").Add(float64(s.Inserted))
	m.ItemsTotal.WithLabelValues("conflict").Add(float64(s.Conflicts))
	if s.ClassifyState != "" {
		m.Classifications.WithLabelValues(s.ClassifyState).Inc()
	}
	m.PostsPurged.Add(float64(s.Purged))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
