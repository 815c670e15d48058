// Package metrics exposes prometheus collectors for the processing pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the pipeline collectors. All names are prefixed "organizer_".
type Metrics struct {
	SessionsTotal   *prometheus.CounterVec
	StageFilesTotal *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	QuotaRejections *prometheus.CounterVec
	SessionsRunning prometheus.Gauge
}

// NewMetrics registers the collectors on the default registry once and
// returns the shared instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SessionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "organizer_sessions_total",
					Help: "Processing sessions that reached a terminal status",
				},
				[]string{"status"},
			),
			StageFilesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "organizer_stage_files_total",
					Help: "Files visited by a pipeline stage",
				},
				[]string{"stage", "outcome"}, // "ok", "failed", "fallback"
			),
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "organizer_stage_duration_seconds",
					Help:    "Wall time of one stage over a session's files",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
				},
				[]string{"stage"},
			),
			QuotaRejections: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "organizer_quota_rejections_total",
					Help: "Submissions rejected by the quota gate",
				},
				[]string{"owner_kind"},
			),
			SessionsRunning: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "organizer_sessions_in_flight",
					Help: "Sessions currently being processed",
				},
			),
		}
	})
	return globalMetrics
}

// RecordStageFile counts one file outcome for stage.
func (m *Metrics) RecordStageFile(stage, outcome string) {
	m.StageFilesTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveStage records how long stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordSession counts a session reaching status.
func (m *Metrics) RecordSession(status string) {
	m.SessionsTotal.WithLabelValues(status).Inc()
}

// RecordQuotaRejection counts a rejected submission.
func (m *Metrics) RecordQuotaRejection(ownerKind string) {
	m.QuotaRejections.WithLabelValues(ownerKind).Inc()
}
