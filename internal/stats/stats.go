package stats

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gochat"

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
}

// StatsUpdater keeps a gauge per registered metric on its own registry.
type StatsUpdater struct {
	registry *prometheus.Registry
	mu       sync.RWMutex
	gauges   map[string]prometheus.Gauge
}

// NewStatsUpdater creates a new stats updater instance.
func NewStatsUpdater() *StatsUpdater {
	su := &StatsUpdater{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
	}
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the server started.",
		}, func() float64 {
			return time.Since(startTime).Seconds()
		}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (su *StatsUpdater) Handler() http.Handler {
	return promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{})
}

func (su *StatsUpdater) gauge(name string) prometheus.Gauge {
	su.mu.RLock()
	defer su.mu.RUnlock()

	g, ok := su.gauges[name]
	if !ok {
		panic("metric not found: " + name)
	}
	return g
}

func (su *StatsUpdater) Incr(name string) {
	su.gauge(name).Inc()
}

func (su *StatsUpdater) Decr(name string) {
	su.gauge(name).Dec()
}

// RegisterMetric registers a gauge. Registering the same name twice is a
// no-op.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}
