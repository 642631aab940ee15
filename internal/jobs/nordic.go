// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/washu-ocean/cnda-dl/internal/archive"
	xlog "github.com/washu-ocean/cnda-dl/internal/log"
	"github.com/washu-ocean/cnda-dl/internal/sessiondoc"
	"github.com/washu-ocean/cnda-dl/internal/xnat"
)

// nordicResource is the experiment-level resource holding NORDIC volume bundles.
const nordicResource = "NORDIC_VOLUMES"

// runNordic downloads the NORDIC_VOLUMES bundles, spreads their .dat files
// over the matching series directories and converts complete series to NIFTI.
func (d *Downloader) runNordic(ctx context.Context, session string, exp xnat.Experiment, scans []sessiondoc.Scan, st *Status) error {
	logger := xlog.WithComponentFromContext(ctx, "nordic")

	files, err := d.client.ResourceFiles(ctx, exp.Project, exp.ID, nordicResource)
	if errors.Is(err, xnat.ErrNotFound) || (err == nil && len(files) == 0) {
		logger.Warn().
			Str(xlog.FieldEvent, "nordic.absent").
			Msg("no NORDIC_VOLUMES folder found for this session")
		return nil
	}
	if err != nil {
		return fmt.Errorf("list %s: %w", nordicResource, err)
	}
	st.NordicVolumes = len(files)

	sessionDir := filepath.Join(d.cfg.DicomDir, session)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	niiDir := filepath.Join(d.cfg.DicomDir, session+"_nii")
	converter, canConvert := LookupConverter(niiDir)
	if canConvert {
		if err := os.MkdirAll(niiDir, 0o755); err != nil {
			return fmt.Errorf("create NIFTI dir: %w", err)
		}
		logger.Info().
			Str(xlog.FieldPath, niiDir).
			Msg("combined .dcm and .dat files (.nii.gz format) will be stored here")
	} else {
		logger.Info().Msg("dcmdat2niix not installed or not on PATH, cannot convert NORDIC files into NIFTI")
	}

	// Bundles are large; download and extract a couple at a time.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	extracted := make([]string, len(files))
	for i, f := range files {
		g.Go(func() error {
			dest, err := confineJoin(sessionDir, f.Name)
			if err != nil {
				return err
			}
			logger.Info().
				Str(xlog.FieldEvent, "nordic.download").
				Str(xlog.FieldFile, f.Name).
				Msg("downloading NORDIC bundle")
			if _, err := d.client.Download(gctx, f.URI, dest, d.progress.AddBytes); err != nil {
				return fmt.Errorf("download %s: %w", f.Name, err)
			}
			dir, err := archive.Unzip(gctx, dest, false)
			if err != nil {
				return err
			}
			// Bundles occasionally nest further archives.
			if err := archive.RecursiveUnzip(gctx, dir); err != nil {
				return err
			}
			extracted[i] = dir
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	uidToScan := sessiondoc.UIDPrefixByScan(scans)
	unconverted := make(map[string]struct{})

	for _, dir := range extracted {
		if err := d.distributeDats(ctx, &logger, dir, sessionDir, uidToScan, converter, canConvert, unconverted); err != nil {
			return err
		}
	}

	if len(unconverted) > 0 {
		st.UnconvertedSeries = make([]string, 0, len(unconverted))
		for id := range unconverted {
			st.UnconvertedSeries = append(st.UnconvertedSeries, id)
		}
		sort.Strings(st.UnconvertedSeries)
		logger.Warn().
			Str(xlog.FieldEvent, "nordic.unconverted").
			Strs("series", st.UnconvertedSeries).
			Msg("series not converted to NIFTI due to inconsistent number of DICOM and dat files")
	}
	return nil
}

// distributeDats moves the .dat files of one extracted bundle into the series
// directories whose scan UID matches the timestamp embedded in the file name.
func (d *Downloader) distributeDats(ctx context.Context, logger *zerolog.Logger, bundleDir, sessionDir string, uidToScan map[string]string, converter *Converter, canConvert bool, unconverted map[string]struct{}) error {
	var dats []string
	err := filepath.WalkDir(bundleDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".dat") {
			dats = append(dats, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("collect dat files: %w", err)
	}

	for prefix, scanID := range uidToScan {
		var matching []string
		for _, dat := range dats {
			if strings.Contains(filepath.Base(dat), prefix) {
				matching = append(matching, dat)
			}
		}
		if len(matching) == 0 {
			continue
		}

		seriesDir := filepath.Join(sessionDir, scanID, "DICOM")
		if err := os.MkdirAll(seriesDir, 0o755); err != nil {
			return fmt.Errorf("create series dir: %w", err)
		}
		for _, dat := range matching {
			if err := os.Rename(dat, filepath.Join(seriesDir, filepath.Base(dat))); err != nil {
				return fmt.Errorf("move %s: %w", dat, err)
			}
		}

		// A .dat/.dcm count mismatch usually means a run that stopped early.
		dcms, err := filepath.Glob(filepath.Join(seriesDir, "*.dcm"))
		if err != nil {
			return fmt.Errorf("glob dcm files: %w", err)
		}
		if len(matching) != len(dcms) {
			logger.Warn().
				Str(xlog.FieldEvent, "nordic.mismatch").
				Str(xlog.FieldSeries, scanID).
				Int("dat_count", len(matching)).
				Int("dcm_count", len(dcms)).
				Msg("number of .dat and .dcm files mismatched, skipping conversion")
			unconverted[scanID] = struct{}{}
			continue
		}

		if canConvert {
			logger.Info().
				Str(xlog.FieldEvent, "nordic.convert").
				Str(xlog.FieldSeries, scanID).
				Msg("running dcmdat2niix on series")
			if err := converter.Convert(ctx, seriesDir); err != nil {
				logger.Error().Err(err).
					Str(xlog.FieldSeries, scanID).
					Msg("dcmdat2niix ended with a nonzero exit code")
				unconverted[scanID] = struct{}{}
			}
		}
	}
	return nil
}
