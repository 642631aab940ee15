// SPDX-License-Identifier: MIT

package jobs

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the current run, served by the status API.
type Snapshot struct {
	Session         string    `json:"session"`
	Phase           string    `json:"phase"`
	FilesTotal      int       `json:"files_total"`
	FilesDownloaded int       `json:"files_downloaded"`
	FilesSkipped    int       `json:"files_skipped"`
	FilesFailed     int       `json:"files_failed"`
	Bytes           int64     `json:"bytes"`
	StartedAt       time.Time `json:"started_at"`
}

// Tracker accumulates progress counters for the session currently downloading.
// All methods are safe for concurrent use by the download workers.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// BeginSession resets the tracker for a new session.
func (t *Tracker) BeginSession(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{Session: session, Phase: "resolving", StartedAt: time.Now()}
}

// SetPhase records the phase the downloader is in ("resolving", "dicom", "nordic", "done").
func (t *Tracker) SetPhase(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Phase = phase
}

// SetTotal records how many files the session will transfer.
func (t *Tracker) SetTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.FilesTotal = n
}

// FileDownloaded counts one finished file.
func (t *Tracker) FileDownloaded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.FilesDownloaded++
}

// FileSkipped counts one file satisfied from the manifest.
func (t *Tracker) FileSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.FilesSkipped++
}

// FileFailed counts one file that exhausted its retries.
func (t *Tracker) FileFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.FilesFailed++
}

// AddBytes accumulates transferred bytes.
func (t *Tracker) AddBytes(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Bytes += n
}

// Current returns a copy of the live snapshot.
func (t *Tracker) Current() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}
