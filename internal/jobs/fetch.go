// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/washu-ocean/cnda-dl/internal/format"
	xlog "github.com/washu-ocean/cnda-dl/internal/log"
	"github.com/washu-ocean/cnda-dl/internal/manifest"
	"github.com/washu-ocean/cnda-dl/internal/metrics"
	"github.com/washu-ocean/cnda-dl/internal/xnat"
)

// fileResult holds the outcome of a single file transfer.
type fileResult struct {
	task    fileTask
	bytes   int64
	skipped bool
	err     error
}

type poolResult struct {
	downloaded int
	skipped    int
	failed     int
	bytes      int64
}

// downloadAll transfers tasks with bounded concurrency. Failures are counted,
// not fatal: the rest of the session still downloads.
func (d *Downloader) downloadAll(ctx context.Context, session string, tasks []fileTask) poolResult {
	logger := xlog.WithComponentFromContext(ctx, "jobs")

	// Worker pool semaphore
	sem := make(chan struct{}, d.cfg.Concurrency)
	results := make(chan fileResult, len(tasks))
	var wg sync.WaitGroup

	for _, task := range tasks {
		t := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				results <- fileResult{task: t, err: ctx.Err()}
				return
			}
			results <- d.downloadOne(ctx, session, t)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var out poolResult
	done := 0
	for res := range results {
		switch {
		case res.skipped:
			out.skipped++
			d.progress.FileSkipped()
			metrics.IncFilesSkipped()
			logger.Debug().
				Str(xlog.FieldEvent, "file.skipped").
				Str(xlog.FieldScan, res.task.scanID).
				Str(xlog.FieldFile, res.task.file.Name).
				Msg("file already downloaded")
			continue
		case res.err != nil:
			out.failed++
			d.progress.FileFailed()
			metrics.IncFilesFailed()
			if !errors.Is(res.err, context.Canceled) {
				logger.Error().Err(res.err).
					Str(xlog.FieldScan, res.task.scanID).
					Str(xlog.FieldFile, res.task.file.Name).
					Msg("file download failed")
			}
			continue
		default:
			out.downloaded++
			out.bytes += res.bytes
			d.progress.FileDownloaded()
			metrics.IncFilesDownloaded()
			metrics.AddBytesDownloaded(res.bytes)
		}
		done++
		logger.Info().
			Str(xlog.FieldEvent, "file.done").
			Str(xlog.FieldScan, res.task.scanID).
			Str(xlog.FieldFile, res.task.file.Name).
			Str("size", format.Bytes(res.task.file.Size)).
			Int(xlog.FieldFilesDone, done).
			Int(xlog.FieldFilesTotal, len(tasks)).
			Msg("file complete")
	}
	return out
}

// downloadOne fetches a single file, honouring the manifest and retrying
// transient archive failures with exponential backoff.
func (d *Downloader) downloadOne(ctx context.Context, session string, t fileTask) fileResult {
	if d.store != nil {
		done, err := d.store.IsComplete(ctx, session, t.scanID, t.file.Name, t.file.Size)
		if err == nil && done {
			if _, statErr := os.Stat(t.dest); statErr == nil {
				return fileResult{task: t, skipped: true}
			}
			// Manifest says complete but the file vanished; fall through.
		}
	}

	if err := os.MkdirAll(filepath.Dir(t.dest), 0o755); err != nil {
		return fileResult{task: t, err: fmt.Errorf("create series dir: %w", err)}
	}

	metrics.DownloadStarted()
	defer metrics.DownloadFinished()

	n, err := d.downloadWithRetry(ctx, t)
	if err != nil {
		return fileResult{task: t, bytes: n, err: err}
	}

	if d.store != nil {
		if err := d.store.MarkComplete(ctx, manifest.Entry{
			Session: session,
			Scan:    t.scanID,
			Name:    t.file.Name,
			Size:    t.file.Size,
			Digest:  t.file.Digest,
		}); err != nil {
			// The download itself succeeded; a manifest hiccup only costs resume.
			logger := xlog.WithComponentFromContext(ctx, "jobs")
			logger.Warn().Err(err).
				Str(xlog.FieldFile, t.file.Name).
				Msg("could not record file in manifest")
		}
	}
	return fileResult{task: t, bytes: n}
}

// downloadWithRetry attempts the transfer with exponential backoff.
func (d *Downloader) downloadWithRetry(ctx context.Context, t fileTask) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if attempt > 0 {
			metrics.IncDownloadRetries()
			backoff := time.Duration(attempt*attempt*500) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			logger := xlog.WithComponentFromContext(ctx, "jobs")
			logger.Debug().
				Int(xlog.FieldAttempt, attempt).
				Str(xlog.FieldFile, t.file.Name).
				Msg("retrying download")
		}

		// Bytes feed the tracker as they arrive so /api/status shows live
		// progress. A failed attempt rolls its bytes back before the retry.
		var attemptBytes int64
		progress := func(n int64) {
			attemptBytes += n
			d.progress.AddBytes(n)
		}

		n, err := d.client.Download(ctx, t.file.URI, t.dest, progress)
		if err == nil {
			return n, nil
		}
		d.progress.AddBytes(-attemptBytes)
		lastErr = err
		if !isRetryable(err) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("after %d retries: %w", d.cfg.Retries, lastErr)
}

// isRetryable reports whether another attempt could plausibly succeed.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, xnat.ErrNotFound), errors.Is(err, xnat.ErrForbidden):
		return false
	default:
		return true
	}
}
