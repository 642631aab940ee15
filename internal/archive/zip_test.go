// SPDX-License-Identifier: MIT

package archive

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

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestUnzipExtractsAndRemovesArchive(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")
	writeZip(t, zipPath, map[string]string{
		"a.dat":        "alpha",
		"nested/b.dat": "beta",
	})

	dest, err := Unzip(context.Background(), zipPath, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bundle"), dest)

	got, err := os.ReadFile(filepath.Join(dest, "a.dat"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	got, err = os.ReadFile(filepath.Join(dest, "nested", "b.dat"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(got))

	_, err = os.Stat(zipPath)
	assert.True(t, os.IsNotExist(err), "archive should be removed")
}

func TestUnzipKeepZip(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "keep.zip")
	writeZip(t, zipPath, map[string]string{"f": "x"})

	_, err := Unzip(context.Background(), zipPath, true)
	require.NoError(t, err)

	_, err = os.Stat(zipPath)
	assert.NoError(t, err, "archive should survive")
}

func TestUnzipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	writeZip(t, zipPath, map[string]string{"../escape.txt": "nope"})

	_, err := Unzip(context.Background(), zipPath, true)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRecursiveUnzip(t *testing.T) {
	dir := t.TempDir()

	// inner.zip inside outer.zip
	var inner bytes.Buffer
	iw := zip.NewWriter(&inner)
	f, err := iw.Create("deep.dat")
	require.NoError(t, err)
	_, err = f.Write([]byte("deep"))
	require.NoError(t, err)
	require.NoError(t, iw.Close())

	var outer bytes.Buffer
	ow := zip.NewWriter(&outer)
	f, err = ow.Create("inner.zip")
	require.NoError(t, err)
	_, err = f.Write(inner.Bytes())
	require.NoError(t, err)
	require.NoError(t, ow.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "outer.zip"), outer.Bytes(), 0o644))

	require.NoError(t, RecursiveUnzip(context.Background(), dir))

	got, err := os.ReadFile(filepath.Join(dir, "outer", "inner", "deep.dat"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(got))
}
