// SPDX-License-Identifier: MIT

// Package jobs orchestrates session downloads from the archive.
package jobs

import (
	"context"
	"time"

	"github.com/washu-ocean/cnda-dl/internal/manifest"
	"github.com/washu-ocean/cnda-dl/internal/xnat"
)

// Client is the slice of the XNAT client the downloader needs; tests inject mocks.
type Client interface {
	ResolveExperiment(ctx context.Context, q xnat.SessionQuery) (xnat.Experiment, error)
	SubjectXML(ctx context.Context, project, subjectID string) ([]byte, error)
	Scans(ctx context.Context, project, experimentID string) ([]string, error)
	ScanFiles(ctx context.Context, project, experimentID, scanID string) ([]xnat.File, error)
	ResourceFiles(ctx context.Context, project, experimentID, resource string) ([]xnat.File, error)
	Download(ctx context.Context, uri, dest string, progress xnat.ProgressFunc) (int64, error)
}

// Manifest records completed files for resume. A nil Manifest disables resume.
type Manifest interface {
	MarkComplete(ctx context.Context, e manifest.Entry) error
	IsComplete(ctx context.Context, session, scan, name string, size int64) (bool, error)
}

// Config holds per-run download settings.
type Config struct {
	DicomDir       string // root directory for DICOM output (required)
	XMLDir         string // directory for session XML (defaults to DicomDir)
	Project        string // project ID narrowing the query
	ByExperimentID bool   // session args are experiment IDs, not subject labels
	StartScan      string // first scan to download, earlier scans are skipped
	SkipUnusable   bool   // drop scans marked unusable in the session document
	IgnoreNordic   bool   // skip the NORDIC_VOLUMES resource entirely
	Concurrency    int    // parallel file downloads, clamped to [1,10]
	Retries        int    // per-file retry attempts after the first try
}

// Status reports the outcome of one session download.
type Status struct {
	Session           string        `json:"session"`
	Experiment        string        `json:"experiment"`
	Project           string        `json:"project"`
	Scans             int           `json:"scans"`
	FilesTotal        int           `json:"files_total"`
	FilesDownloaded   int           `json:"files_downloaded"`
	FilesSkipped      int           `json:"files_skipped"`
	FilesFailed       int           `json:"files_failed"`
	Bytes             int64         `json:"bytes"`
	NordicVolumes     int           `json:"nordic_volumes"`
	UnconvertedSeries []string      `json:"unconverted_series,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// fileTask is one file scheduled for download.
type fileTask struct {
	scanID string
	file   xnat.File
	dest   string
}
