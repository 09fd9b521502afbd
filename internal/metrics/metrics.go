// Package metrics exposes Prometheus collectors for the store daemon and the
// favorites managers it hosts.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/celerix-dev/celerix-favorites/pkg/bridge"
	"github.com/celerix-dev/celerix-favorites/pkg/favorites"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "celerix"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// favoritesEvents counts manager notifications.
	// Labels: persona, type (add, remove, clear, load, sync, import, limit)
	favoritesEvents *prometheus.CounterVec

	// favoritesCount is the current set size per persona.
	favoritesCount *prometheus.GaugeVec

	// storageOps counts favorites storage calls.
	// Labels: op (load, save), status (success, error)
	storageOps *prometheus.CounterVec

	// storageLatency measures favorites storage calls.
	// Labels: op
	storageLatency *prometheus.HistogramVec

	// commands counts line protocol commands.
	// Labels: command, status (ok, error)
	commands *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		favoritesEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "favorites",
			Name:      "events_total",
			Help:      "Favorites notifications by type",
		}, []string{"persona", "type"}),
		favoritesCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "favorites",
			Name:      "items",
			Help:      "Current number of favorites",
		}, []string{"persona"}),
		storageOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "favorites",
			Name:      "storage_operations_total",
			Help:      "Favorites storage operations by result",
		}, []string{"op", "status"}),
		storageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "favorites",
			Name:      "storage_latency_seconds",
			Help:      "Favorites storage operation latency in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "commands_total",
			Help:      "Line protocol commands by result",
		}, []string{"command", "status"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Listener returns a favorites listener recording events for persona.
func (m *Metrics) Listener(persona string) favorites.Listener {
	return func(n favorites.Notification) {
		m.favoritesEvents.WithLabelValues(persona, string(n.Type)).Inc()
		m.favoritesCount.WithLabelValues(persona).Set(float64(n.Count))
	}
}

// ObserveCommand records one line protocol command.
func (m *Metrics) ObserveCommand(command string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.commands.WithLabelValues(command, status).Inc()
}

func (m *Metrics) observeStorage(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.storageOps.WithLabelValues(op, status).Inc()
	m.storageLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// InstrumentStorage wraps s so every Load and Save is counted and timed.
// Enrichment support on s is preserved.
func InstrumentStorage(s bridge.Storage, m *Metrics) bridge.Storage {
	inst := &instrumentedStorage{next: s, m: m}
	if e, ok := s.(bridge.EnrichedLoader); ok {
		return &instrumentedEnrichedStorage{instrumentedStorage: inst, enricher: e}
	}
	return inst
}

type instrumentedStorage struct {
	next bridge.Storage
	m    *Metrics
}

func (s *instrumentedStorage) Load(ctx context.Context) ([]any, error) {
	start := time.Now()
	items, err := s.next.Load(ctx)
	s.m.observeStorage("load", start, err)
	return items, err
}

func (s *instrumentedStorage) Save(ctx context.Context, ids []string) error {
	start := time.Now()
	err := s.next.Save(ctx, ids)
	s.m.observeStorage("save", start, err)
	return err
}

type instrumentedEnrichedStorage struct {
	*instrumentedStorage
	enricher bridge.EnrichedLoader
}

func (s *instrumentedEnrichedStorage) LoadWithEnrichment(ctx context.Context, items []any) ([]any, error) {
	start := time.Now()
	out, err := s.enricher.LoadWithEnrichment(ctx, items)
	s.m.observeStorage("enrich", start, err)
	return out, err
}
