// Package metrics collects and exposes Prometheus metrics for cowfork.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kahiteam/cowfork/internal/events"
)

// FreePager reports the number of unallocated physical pages.
// *kernel.Kernel implements it.
type FreePager interface {
	FreePages() int
}

// Collector holds all cowfork-specific Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	// Fork and fault metrics.
	ForksTotal           *prometheus.CounterVec
	PageFaultsTotal      *prometheus.CounterVec
	PagesDuplicatedTotal *prometheus.CounterVec

	// Environment metrics.
	EnvsCreatedTotal   prometheus.Counter
	EnvsDestroyedTotal prometheus.Counter

	BuildInfo *prometheus.GaugeVec
}

// New creates and registers all cowfork metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()

	// Register default Go runtime metrics.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		ForksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cowfork_forks_total",
				Help: "Total number of fork attempts by result.",
			},
			[]string{"result"},
		),

		PageFaultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cowfork_page_faults_total",
				Help: "Total number of page faults handled by the copy-on-write handler, by result.",
			},
			[]string{"result"},
		),

		PagesDuplicatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cowfork_pages_duplicated_total",
				Help: "Total number of pages mapped into children during fork, by mode.",
			},
			[]string{"mode"},
		),

		EnvsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cowfork_envs_created_total",
				Help: "Total number of environments created.",
			},
		),

		EnvsDestroyedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cowfork_envs_destroyed_total",
				Help: "Total number of environments destroyed.",
			},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cowfork_info",
				Help: "Build information about cowfork.",
			},
			[]string{"version", "commit", "go_version"},
		),
	}

	reg.MustRegister(
		c.ForksTotal,
		c.PageFaultsTotal,
		c.PagesDuplicatedTotal,
		c.EnvsCreatedTotal,
		c.EnvsDestroyedTotal,
		c.BuildInfo,
	)

	return c
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo sets the constant build info gauge.
func (c *Collector) SetBuildInfo(version, commit, goVersion string) {
	c.BuildInfo.WithLabelValues(version, commit, goVersion).Set(1)
}

// TrackFreePages exports src's free page count as cowfork_free_pages,
// sampled at scrape time.
func (c *Collector) TrackFreePages(src FreePager) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "cowfork_free_pages",
			Help: "Number of unallocated physical pages.",
		},
		func() float64 { return float64(src.FreePages()) },
	))
}

// Subscribe feeds the collector from bus.
func (c *Collector) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.ForkCompleted, func(events.Event) {
		c.ForksTotal.WithLabelValues("ok").Inc()
	})
	bus.Subscribe(events.ForkFailed, func(events.Event) {
		c.ForksTotal.WithLabelValues("failed").Inc()
	})
	bus.Subscribe(events.CowResolved, func(events.Event) {
		c.PageFaultsTotal.WithLabelValues("resolved").Inc()
	})
	bus.Subscribe(events.CowFatal, func(events.Event) {
		c.PageFaultsTotal.WithLabelValues("fatal").Inc()
	})
	bus.Subscribe(events.PageDuplicated, func(e events.Event) {
		c.PagesDuplicatedTotal.WithLabelValues(e.Data["mode"]).Inc()
	})
	bus.Subscribe(events.EnvCreated, func(events.Event) {
		c.EnvsCreatedTotal.Inc()
	})
	bus.Subscribe(events.EnvDestroyed, func(events.Event) {
		c.EnvsDestroyedTotal.Inc()
	})
}
