package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records per-stage timings and row counts for one batch run. The
// registry is written to a node_exporter textfile when the run ends.
type Metrics struct {
	reg *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageRows     *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vehown_stage_duration_seconds",
			Help:    "Duration of a pipeline stage.",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 300.0},
		}, []string{"stage"}),
		stageRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vehown_stage_rows_total",
			Help: "Total number of table rows produced by a pipeline stage.",
		}, []string{"stage"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vehown_stage_failures_total",
			Help: "Total number of pipeline stage failures.",
		}, []string{"stage"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vehown_last_success_timestamp_seconds",
			Help: "Unix time of the last run that completed every stage.",
		}),
	}
}

func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, rows int, err error) {
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(stage).Inc()
		return
	}
	m.stageRows.WithLabelValues(stage).Add(float64(rows))
}

func (m *Metrics) MarkSuccess(t time.Time) {
	m.lastSuccess.Set(float64(t.Unix()))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WriteTextfile writes the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
