package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics instruments the supervisor.  All methods are nil-safe so code
// paths shared with the agent processes (which expose no scrape endpoint)
// can simply carry a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	spawns        *prometheus.CounterVec
	spawnFailures *prometheus.CounterVec
	stops         *prometheus.CounterVec
	dataServes    *prometheus.CounterVec
	dataMisses    *prometheus.CounterVec
}

// NewMetrics builds the supervisor metric set on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilab_agent_spawns_total",
			Help: "Agent processes started by the lifecycle controller.",
		}, []string{"agent"}),
		spawnFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilab_agent_spawn_failures_total",
			Help: "Agent spawns that failed or died immediately.",
		}, []string{"agent"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilab_agent_stops_total",
			Help: "Agent processes stopped by the lifecycle controller.",
		}, []string{"agent"}),
		dataServes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilab_data_requests_total",
			Help: "Dynamic data documents served to pollers.",
		}, []string{"agent"}),
		dataMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilab_data_misses_total",
			Help: "Dynamic data requests answered not-found (agent offline).",
		}, []string{"agent"}),
	}
	m.registry.MustRegister(m.spawns, m.spawnFailures, m.stops, m.dataServes, m.dataMisses)
	return m
}

// Handler returns the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Spawned(agent string) {
	if m != nil {
		m.spawns.WithLabelValues(agent).Inc()
	}
}

func (m *Metrics) SpawnFailed(agent string) {
	if m != nil {
		m.spawnFailures.WithLabelValues(agent).Inc()
	}
}

func (m *Metrics) Stopped(agent string) {
	if m != nil {
		m.stops.WithLabelValues(agent).Inc()
	}
}

func (m *Metrics) DataServed(agent string) {
	if m != nil {
		m.dataServes.WithLabelValues(agent).Inc()
	}
}

func (m *Metrics) DataMissed(agent string) {
	if m != nil {
		m.dataMisses.WithLabelValues(agent).Inc()
	}
}
