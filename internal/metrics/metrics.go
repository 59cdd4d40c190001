// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Bot
	UpdatesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ymbot_updates_total",
			Help: "Total number of Telegram updates handled",
		},
		[]string{"kind"}, // "command", "callback", "document", "link", "text"
	)

	HandlerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ymbot_handler_panics_total",
			Help: "Total number of recovered panics in update handlers",
		},
	)

	// Downloads
	Downloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ymbot_downloads_total",
			Help: "Total number of track downloads by outcome",
		},
		[]string{"kind", "status"}, // kind: "track", "album"; status: "success", "failure"
	)

	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ymbot_download_duration_seconds",
			Help:    "Time spent downloading a single track",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Backups
	Backups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ymbot_backups_total",
			Help: "Total number of backup exports by trigger and outcome",
		},
		[]string{"trigger", "status"}, // trigger: "schedule", "manual", "restore"
	)

	BackupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ymbot_backup_duration_seconds",
			Help:    "Time spent exporting and delivering a backup",
			Buckets: prometheus.DefBuckets,
		},
	)

	BackupLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ymbot_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful scheduled backup",
		},
	)

	// Restore
	RestoreSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ymbot_restore_steps_total",
			Help: "Total number of restore steps by table and outcome",
		},
		[]string{"table", "outcome"}, // outcome: "restored", "skipped", "rejected", "failed"
	)

	RestoreSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ymbot_restore_sessions_active",
			Help: "Number of open restore sessions",
		},
	)

	// Catalog client
	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ymbot_catalog_requests_total",
			Help: "Total number of music catalog requests by result",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ymbot_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordDownload records one track download attempt
func RecordDownload(kind string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	Downloads.WithLabelValues(kind, status).Inc()
	DownloadDuration.Observe(duration.Seconds())
}

// RecordBackup records one export
func RecordBackup(trigger string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	Backups.WithLabelValues(trigger, status).Inc()
	BackupDuration.Observe(duration.Seconds())
	if err == nil && trigger == "schedule" {
		BackupLastSuccess.SetToCurrentTime()
	}
}

// RecordRestoreStep records the outcome of one restore step
func RecordRestoreStep(table, outcome string) {
	RestoreSteps.WithLabelValues(table, outcome).Inc()
}
