// Package metrics exposes build statistics as Prometheus collectors and
// writes them in the node exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robert-at-pretension-io/fabricdb/internal/policy"
	"github.com/robert-at-pretension-io/fabricdb/internal/verify"
)

const namespace = "fabricdb"

// Metrics holds the collectors of one build on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	tiles      *prometheus.GaugeVec
	wires      *prometheus.GaugeVec
	nodes      *prometheus.GaugeVec
	mismatches *prometheus.GaugeVec
	findings   *prometheus.GaugeVec
	phase      *prometheus.HistogramVec
	cache      *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	device := []string{"device"}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		tiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "grid_tiles", Help: "Tile instances in the expanded grid.",
		}, device),
		wires: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "grid_wires", Help: "Wire instances in the expanded grid.",
		}, device),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "grid_nodes", Help: "Electrical nodes in the expanded grid.",
		}, device),
		mismatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "verify_mismatches", Help: "Verification mismatches by kind.",
		}, []string{"device", "kind"}),
		findings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "triage_findings", Help: "Triaged findings by severity.",
		}, []string{"device", "severity"}),
		phase: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "phase_duration_seconds", Help: "Duration of pipeline phases.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "report_cache_total", Help: "Verification report cache lookups.",
		}, []string{"result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "device_failures_total", Help: "Devices that failed a phase.",
		}, []string{"phase"}),
	}
	m.Registry.MustRegister(m.tiles, m.wires, m.nodes, m.mismatches, m.findings, m.phase, m.cache, m.failures)
	return m
}

// ObserveGrid records the size of an expanded device.
func (m *Metrics) ObserveGrid(device string, tiles, wires, nodes int) {
	m.tiles.WithLabelValues(device).Set(float64(tiles))
	m.wires.WithLabelValues(device).Set(float64(wires))
	m.nodes.WithLabelValues(device).Set(float64(nodes))
}

// ObserveReport records mismatch counts per kind. Kinds absent from the
// report are set to zero so a fixed defect clears its series.
func (m *Metrics) ObserveReport(device string, r *verify.Report) {
	counts := r.ByKind()
	for _, kind := range verify.AllKinds() {
		m.mismatches.WithLabelValues(device, string(kind)).Set(float64(len(counts[kind])))
	}
}

// ObserveFindings records triage results.
func (m *Metrics) ObserveFindings(device string, s policy.Summary) {
	m.findings.WithLabelValues(device, policy.SeverityError).Set(float64(s.Errors))
	m.findings.WithLabelValues(device, policy.SeverityWarning).Set(float64(s.Warnings))
	m.findings.WithLabelValues(device, policy.SeverityInfo).Set(float64(s.Info))
}

// ObservePhase records how long a phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.phase.WithLabelValues(phase).Observe(d.Seconds())
}

// CacheHit counts a report served from the cache.
func (m *Metrics) CacheHit() { m.cache.WithLabelValues("hit").Inc() }

// CacheMiss counts a report that had to be computed.
func (m *Metrics) CacheMiss() { m.cache.WithLabelValues("miss").Inc() }

// Failure counts a device that failed phase.
func (m *Metrics) Failure(phase string) { m.failures.WithLabelValues(phase).Inc() }

// WriteTextfile writes every collected metric to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
