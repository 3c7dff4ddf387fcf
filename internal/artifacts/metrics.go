package artifacts

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Benny93/apex-go/internal/storage"
)

const metricsNamespace = "apex"

// RunMetrics holds the gauges describing one run. Each run gets its own
// registry so metrics never leak between runs in one process.
type RunMetrics struct {
	Registry *prometheus.Registry

	StageDuration *prometheus.GaugeVec
	RunSuccess    prometheus.Gauge
	RunDuration   prometheus.Gauge
	PathLength    prometheus.Gauge
	Functions     *prometheus.GaugeVec
	ArtifactBytes *prometheus.GaugeVec
}

// NewRunMetrics creates and registers the run gauges.
func NewRunMetrics() *RunMetrics {
	reg := prometheus.NewRegistry()

	m := &RunMetrics{
		Registry: reg,
		StageDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time of each pipeline stage",
			},
			[]string{"stage", "status"},
		),
		RunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "run_success",
			Help:      "1 if the run produced an executable, 0 otherwise",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the whole run",
		}),
		PathLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "path_length",
			Help:      "Number of functions on the entry-to-target call path",
		}),
		Functions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "functions",
				Help:      "Functions of the linked program by reachability outcome",
			},
			[]string{"set"},
		),
		ArtifactBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "artifact_bytes",
				Help:      "Size of each produced artifact",
			},
			[]string{"artifact"},
		),
	}

	reg.MustRegister(m.StageDuration, m.RunSuccess, m.RunDuration, m.PathLength, m.Functions, m.ArtifactBytes)
	return m
}

// Observe sets every gauge from run.
func (m *RunMetrics) Observe(run *storage.RunRecord) {
	for _, s := range run.Stages {
		m.StageDuration.WithLabelValues(s.Name, s.Status).Set(float64(s.DurationMS) / 1000)
	}

	if run.Status == storage.RunSucceeded {
		m.RunSuccess.Set(1)
	} else {
		m.RunSuccess.Set(0)
	}
	m.RunDuration.Set(run.Duration().Seconds())
	m.PathLength.Set(float64(len(run.Path)))
	m.Functions.WithLabelValues("retained").Set(float64(len(run.Retained)))
	m.Functions.WithLabelValues("pruned").Set(float64(len(run.Pruned)))

	for _, a := range run.Artifacts {
		m.ArtifactBytes.WithLabelValues(a.Path).Set(float64(a.Size))
	}
}

// WriteMetrics writes the metrics of run in the Prometheus text format to
// <buildDir>/metrics.prom and returns the file path.
func WriteMetrics(buildDir string, run *storage.RunRecord) (string, error) {
	m := NewRunMetrics()
	m.Observe(run)

	path := filepath.Join(buildDir, MetricsFile)
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return "", fmt.Errorf("writing metrics: %w", err)
	}
	return path, nil
}
