// Package metrics holds the process-wide message counters.
//
// Counters are unsigned and only ever increase; wraparound is not handled.
// A Registry is created once in main and passed to every component that
// updates it.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"translation-relay/models"
)

type Counter int

const (
	TotalMessages Counter = iota
	TranslatedCount
	Errors
)

func (c Counter) String() string {
	switch c {
	case TotalMessages:
		return "total_messages"
	case TranslatedCount:
		return "translated_count"
	case Errors:
		return "errors"
	default:
		return "unknown"
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	totalMessages   atomic.Uint64
	translatedCount atomic.Uint64
	errors          atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Inc atomically increments counter c. Unknown counters are ignored.
func (r *Registry) Inc(c Counter) {
	switch c {
	case TotalMessages:
		r.totalMessages.Add(1)
	case TranslatedCount:
		r.translatedCount.Add(1)
	case Errors:
		r.errors.Add(1)
	}
}

// Snapshot reads the counters without locking. Each value is read atomically;
// the three are not read as one transaction.
func (r *Registry) Snapshot() models.MetricsSnapshot {
	return models.MetricsSnapshot{
		TotalMessages:   r.totalMessages.Load(),
		TranslatedCount: r.translatedCount.Load(),
		Errors:          r.errors.Load(),
	}
}

// Collectors exposes the counters to Prometheus. activeConnections, when
// non-nil, backs a gauge of currently registered sessions.
func (r *Registry) Collectors(activeConnections func() int) []prometheus.Collector {
	cs := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "messages_total",
			Help:      "Structurally valid inbound messages processed.",
		}, func() float64 { return float64(r.totalMessages.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "translations_total",
			Help:      "Successful translate calls.",
		}, func() float64 { return float64(r.translatedCount.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "errors_total",
			Help:      "Messages that ended in an error result.",
		}, func() float64 { return float64(r.errors.Load()) }),
	}
	if activeConnections != nil {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "active_connections",
			Help:      "Sessions currently held in the connection registry.",
		}, func() float64 { return float64(activeConnections()) }))
	}
	return cs
}

// NewPrometheusRegistry returns a Prometheus registry carrying r's
// collectors plus the Go runtime and process collectors.
func (r *Registry) NewPrometheusRegistry(activeConnections func() int) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	cs := append(r.Collectors(activeConnections),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
