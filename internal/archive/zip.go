// SPDX-License-Identifier: MIT

// Package archive extracts zip bundles delivered by the imaging archive.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/washu-ocean/cnda-dl/internal/fsutil"
	xlog "github.com/washu-ocean/cnda-dl/internal/log"
)

// Unzip extracts zipPath into a sibling directory named after the archive
// (without the .zip suffix) and returns that directory. Entry paths are
// confined to the destination, so hostile archives cannot escape it.
// Unless keepZip is set the archive is removed after extraction.
func Unzip(ctx context.Context, zipPath string, keepZip bool) (string, error) {
	logger := xlog.WithComponentFromContext(ctx, "archive")

	dest := strings.TrimSuffix(zipPath, filepath.Ext(zipPath))
	logger.Info().
		Str(xlog.FieldPath, zipPath).
		Str("dest", dest).
		Msg("unzipping archive")

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", zipPath, err)
	}
	defer func() {
		_ = r.Close()
	}()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create extraction dir: %w", err)
	}

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := extractEntry(dest, f); err != nil {
			return "", err
		}
	}

	if !keepZip {
		// Close before unlink so Windows does not hold the handle.
		_ = r.Close()
		logger.Debug().Str(xlog.FieldPath, zipPath).Msg("removing archive")
		if err := os.Remove(zipPath); err != nil {
			return "", fmt.Errorf("remove archive %s: %w", zipPath, err)
		}
	}

	return dest, nil
}

func extractEntry(dest string, f *zip.File) error {
	target, err := fsutil.ConfineRelPath(dest, f.Name)
	if err != nil {
		return fmt.Errorf("archive entry %q: %w", f.Name, err)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %q: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %q: %w", f.Name, err)
	}
	defer func() {
		_ = src.Close()
	}()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %q: %w", target, err)
	}

	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("extract %q: %w", f.Name, err)
	}
	return out.Close()
}

// RecursiveUnzip extracts every .zip under topDir, repeating until archives
// stop appearing (extracted archives may themselves contain archives).
func RecursiveUnzip(ctx context.Context, topDir string) error {
	for {
		var zips []string
		err := filepath.WalkDir(topDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".zip") {
				zips = append(zips, path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan %s: %w", topDir, err)
		}
		if len(zips) == 0 {
			return nil
		}
		for _, z := range zips {
			if _, err := Unzip(ctx, z, false); err != nil {
				return err
			}
		}
	}
}
