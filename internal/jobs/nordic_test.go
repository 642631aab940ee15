// SPDX-License-Identifier: MIT

package jobs

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nordicZip builds a NORDIC bundle holding the given .dat file names.
func nordicZip(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte("dat-payload"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRunNordicDistributesDats(t *testing.T) {
	mock := newTestArchive(t)
	// Two dats for scan 1 (which downloads two .dcm files) and one for scan 3
	// (which downloads a single .dcm file).
	mock.AddResourceFile("CNDA_E1", "NORDIC_VOLUMES", "volumes.zip", nordicZip(t,
		"1.3.12.2.1107.5.2.43.20001_a.dat",
		"1.3.12.2.1107.5.2.43.20001_b.dat",
		"1.3.12.2.1107.5.2.43.20003_a.dat",
	))

	dicomDir := t.TempDir()
	d := newTestDownloader(t, mock, Config{DicomDir: dicomDir, Project: "PROJ"}, nil)

	st, err := d.Run(context.Background(), "SUB01")
	require.NoError(t, err)
	assert.Equal(t, 1, st.NordicVolumes)

	// Scan 1: 2 dcm + 2 dat, counts match, nothing flagged.
	series1 := filepath.Join(dicomDir, "SUB01", "1", "DICOM")
	dats, err := filepath.Glob(filepath.Join(series1, "*.dat"))
	require.NoError(t, err)
	assert.Len(t, dats, 2)

	// Scan 3: 1 dcm + 1 dat.
	series3 := filepath.Join(dicomDir, "SUB01", "3", "DICOM")
	dats, err = filepath.Glob(filepath.Join(series3, "*.dat"))
	require.NoError(t, err)
	assert.Len(t, dats, 1)

	assert.Empty(t, st.UnconvertedSeries)

	// The bundle archive itself is removed after extraction.
	_, statErr := os.Stat(filepath.Join(dicomDir, "SUB01", "volumes.zip"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunNordicFlagsCountMismatch(t *testing.T) {
	mock := newTestArchive(t)
	// Three dats for scan 1, which only has two .dcm files.
	mock.AddResourceFile("CNDA_E1", "NORDIC_VOLUMES", "volumes.zip", nordicZip(t,
		"1.3.12.2.1107.5.2.43.20001_a.dat",
		"1.3.12.2.1107.5.2.43.20001_b.dat",
		"1.3.12.2.1107.5.2.43.20001_c.dat",
	))

	d := newTestDownloader(t, mock, Config{DicomDir: t.TempDir(), Project: "PROJ"}, nil)

	st, err := d.Run(context.Background(), "SUB01")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, st.UnconvertedSeries)
}

func TestRunNordicAbsentResourceIsNotFatal(t *testing.T) {
	mock := newTestArchive(t)

	d := newTestDownloader(t, mock, Config{DicomDir: t.TempDir(), Project: "PROJ"}, nil)

	st, err := d.Run(context.Background(), "SUB01")
	require.NoError(t, err)
	assert.Zero(t, st.NordicVolumes)
}

func TestLookupConverterMissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, ok := LookupConverter(t.TempDir())
	assert.False(t, ok)
}

func TestConverterRunsBinary(t *testing.T) {
	binDir := t.TempDir()
	outDir := t.TempDir()
	script := "#!/bin/sh\necho converted \"$@\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "dcmdat2niix"), []byte(script), 0o755))
	t.Setenv("PATH", binDir)

	conv, ok := LookupConverter(outDir)
	require.True(t, ok)
	assert.NoError(t, conv.Convert(context.Background(), t.TempDir()))
}

func TestConverterReportsNonzeroExit(t *testing.T) {
	binDir := t.TempDir()
	script := "#!/bin/sh\nexit 3\n"
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "dcmdat2niix"), []byte(script), 0o755))
	t.Setenv("PATH", binDir)

	conv, ok := LookupConverter(t.TempDir())
	require.True(t, ok)
	assert.Error(t, conv.Convert(context.Background(), t.TempDir()))
}
