// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRunID      = "run_id"
	FieldSession    = "session"
	FieldProject    = "project"
	FieldSubject    = "subject"
	FieldExperiment = "experiment"
	FieldScan       = "scan"
	FieldSeries     = "series"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"

	// Transfer fields
	FieldFile       = "file"
	FieldBytes      = "bytes"
	FieldFilesDone  = "files_done"
	FieldFilesTotal = "files_total"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
)
