// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/washu-ocean/cnda-dl/internal/format"
	xlog "github.com/washu-ocean/cnda-dl/internal/log"
	"github.com/washu-ocean/cnda-dl/internal/metrics"
	"github.com/washu-ocean/cnda-dl/internal/sessiondoc"
	"github.com/washu-ocean/cnda-dl/internal/telemetry"
	"github.com/washu-ocean/cnda-dl/internal/xnat"
)

// Downloader runs session downloads against one archive.
type Downloader struct {
	client   Client
	store    Manifest
	cfg      Config
	progress *Tracker
}

// NewDownloader wires a downloader. store may be nil (resume disabled) and
// tracker may be nil (progress not exported).
func NewDownloader(client Client, store Manifest, tracker *Tracker, cfg Config) (*Downloader, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Downloader{
		client:   client,
		store:    store,
		cfg:      cfg,
		progress: tracker,
	}, nil
}

// Run downloads one session: resolve the experiment, stage the session XML,
// pull every scan file, then handle NORDIC volumes.
func (d *Downloader) Run(ctx context.Context, session string) (*Status, error) {
	start := time.Now()
	ctx = xlog.ContextWithSession(ctx, session)
	ctx, span := telemetry.Tracer("jobs").Start(ctx, "session.download")
	defer span.End()
	logger := xlog.WithComponentFromContext(ctx, "jobs")

	st := &Status{Session: session}
	outcome := "failure"
	defer func() {
		st.Duration = time.Since(start)
		metrics.RecordSession(outcome, st.Duration.Seconds())
	}()

	d.progress.BeginSession(session)
	logger.Info().Str(xlog.FieldEvent, "session.start").Msg("starting download of session")

	q := xnat.SessionQuery{Project: d.cfg.Project}
	if d.cfg.ByExperimentID {
		q.ExperimentID = session
	} else {
		q.SubjectLabel = session
	}

	exp, err := d.client.ResolveExperiment(ctx, q)
	if err != nil {
		return st, err
	}
	st.Experiment = exp.ID
	st.Project = exp.Project
	logger = logger.With().
		Str(xlog.FieldExperiment, exp.ID).
		Str(xlog.FieldProject, exp.Project).
		Logger()

	scans, err := d.stageSessionDoc(ctx, &logger, session, exp)
	if err != nil {
		return st, err
	}

	tasks, err := d.planScans(ctx, &logger, session, exp, scans)
	if err != nil {
		return st, err
	}
	st.Scans = len(scans)
	st.FilesTotal = len(tasks)
	d.progress.SetTotal(len(tasks))
	d.progress.SetPhase("dicom")

	logger.Info().
		Str(xlog.FieldEvent, "session.plan").
		Int(xlog.FieldFilesTotal, len(tasks)).
		Msg("total number of files determined")

	res := d.downloadAll(ctx, session, tasks)
	st.FilesDownloaded = res.downloaded
	st.FilesSkipped = res.skipped
	st.FilesFailed = res.failed
	st.Bytes = res.bytes
	if err := ctx.Err(); err != nil {
		return st, err
	}
	if res.failed > 0 {
		return st, fmt.Errorf("jobs: %d of %d files failed for session %s", res.failed, len(tasks), session)
	}

	if !d.cfg.IgnoreNordic {
		d.progress.SetPhase("nordic")
		if err := d.runNordic(ctx, session, exp, scans, st); err != nil {
			return st, err
		}
	}

	d.progress.SetPhase("done")
	outcome = "success"
	logger.Info().
		Str(xlog.FieldEvent, "session.done").
		Int(xlog.FieldFilesDone, st.FilesDownloaded).
		Int("files_skipped", st.FilesSkipped).
		Str(xlog.FieldBytes, format.Bytes(st.Bytes)).
		Dur("duration", time.Since(start)).
		Msg("session download complete")
	return st, nil
}

// stageSessionDoc fetches the subject XML, writes it next to the DICOM output
// and returns the scan entries of this experiment.
func (d *Downloader) stageSessionDoc(ctx context.Context, logger *zerolog.Logger, session string, exp xnat.Experiment) ([]sessiondoc.Scan, error) {
	logger.Info().Str(xlog.FieldEvent, "sessiondoc.fetch").Msg("downloading session xml")

	data, err := d.client.SubjectXML(ctx, exp.Project, exp.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("subject XML for %s: %w", exp.SubjectID, err)
	}

	if err := os.MkdirAll(d.cfg.XMLDir, 0o755); err != nil {
		return nil, fmt.Errorf("create XML dir: %w", err)
	}
	xmlPath := filepath.Join(d.cfg.XMLDir, session+".xml")
	if err := writeSessionXML(ctx, xmlPath, data); err != nil {
		return nil, err
	}
	logger.Info().
		Str(xlog.FieldEvent, "sessiondoc.write").
		Str(xlog.FieldPath, xmlPath).
		Msg("session xml written")

	doc, err := sessiondoc.Parse(data)
	if err != nil {
		return nil, err
	}
	return doc.ScansFor(exp.ID), nil
}

// planScans applies the unusable filter and start-scan slicing, then lists
// every file up front so progress can be reported against a known total.
func (d *Downloader) planScans(ctx context.Context, logger *zerolog.Logger, session string, exp xnat.Experiment, scans []sessiondoc.Scan) ([]fileTask, error) {
	scanIDs, err := d.client.Scans(ctx, exp.Project, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("scans for %s: %w", exp.ID, err)
	}

	if d.cfg.SkipUnusable {
		quality := sessiondoc.QualityByScan(scans)
		kept := scanIDs[:0]
		for _, id := range scanIDs {
			if quality[id] == sessiondoc.QualityUnusable {
				logger.Info().
					Str(xlog.FieldEvent, "scan.skip_unusable").
					Str(xlog.FieldScan, id).
					Msg("not downloading scan (marked unusable)")
				continue
			}
			kept = append(kept, id)
		}
		scanIDs = kept
	}

	scanIDs, err = sliceFromScan(scanIDs, d.cfg.StartScan)
	if err != nil {
		return nil, err
	}

	var tasks []fileTask
	for _, scanID := range scanIDs {
		files, err := d.client.ScanFiles(ctx, exp.Project, exp.ID, scanID)
		if err != nil {
			return nil, fmt.Errorf("files for scan %s: %w", scanID, err)
		}
		for _, f := range files {
			dest, err := scanFileDest(d.cfg.DicomDir, session, scanID, f.Name)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, fileTask{scanID: scanID, file: f, dest: dest})
		}
	}
	return tasks, nil
}

// scanFileDest confines the archive-supplied file name under the DICOM root.
func scanFileDest(dicomDir, session, scanID, name string) (string, error) {
	return confineJoin(dicomDir, filepath.Join(session, scanID, "DICOM", name))
}

// Tracker returns the progress tracker for external observers.
func (d *Downloader) Tracker() *Tracker {
	return d.progress
}
