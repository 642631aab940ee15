// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnda_dl_files_downloaded_total",
		Help: "Total number of files downloaded successfully",
	})

	filesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnda_dl_files_skipped_total",
		Help: "Total number of files skipped because the manifest marks them complete",
	})

	filesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnda_dl_files_failed_total",
		Help: "Total number of files that failed after all retries",
	})

	bytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnda_dl_bytes_downloaded_total",
		Help: "Total bytes transferred from the archive",
	})

	downloadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnda_dl_download_retries_total",
		Help: "Total number of per-file retry attempts",
	})

	sessionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnda_dl_sessions_total",
		Help: "Sessions processed by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cnda_dl_session_duration_seconds",
		Help:    "Wall-clock duration of one session download",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	downloadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cnda_dl_downloads_in_flight",
		Help: "Number of file downloads currently running",
	})
)

func IncFilesDownloaded() { filesDownloaded.Inc() }

func IncFilesSkipped() { filesSkipped.Inc() }

func IncFilesFailed() { filesFailed.Inc() }

func AddBytesDownloaded(n int64) {
	if n > 0 {
		bytesDownloaded.Add(float64(n))
	}
}

func IncDownloadRetries() { downloadRetries.Inc() }

func RecordSession(outcome string, seconds float64) {
	sessionsCompleted.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(seconds)
}

func DownloadStarted() { downloadsInFlight.Inc() }

func DownloadFinished() { downloadsInFlight.Dec() }
