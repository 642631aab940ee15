// SPDX-License-Identifier: MIT

package xnat

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMRSessionsFiltersBySubjectLabel(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	mock.AddExperiment(Experiment{ID: "CNDA_E1", Label: "SUB01", Project: "PROJ", SubjectID: "CNDA_S1"})
	mock.AddExperiment(Experiment{ID: "CNDA_E2", Label: "SUB02", Project: "PROJ", SubjectID: "CNDA_S2"})

	cl := New(mock.URL, Options{})
	exps, err := cl.MRSessions(context.Background(), SessionQuery{Project: "PROJ", SubjectLabel: "SUB01"})
	require.NoError(t, err)

	want := []Experiment{{ID: "CNDA_E1", Label: "SUB01", Project: "PROJ", SubjectID: "CNDA_S1"}}
	if diff := cmp.Diff(want, exps); diff != "" {
		t.Errorf("experiments mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveExperiment(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	mock.AddExperiment(Experiment{ID: "CNDA_E1", Label: "SUB01", Project: "PROJ", SubjectID: "CNDA_S1"})
	mock.AddExperiment(Experiment{ID: "CNDA_E2", Label: "DUP", Project: "PROJ", SubjectID: "CNDA_S2"})
	mock.AddExperiment(Experiment{ID: "CNDA_E3", Label: "DUP", Project: "PROJ", SubjectID: "CNDA_S3"})

	cl := New(mock.URL, Options{})
	ctx := context.Background()

	exp, err := cl.ResolveExperiment(ctx, SessionQuery{ExperimentID: "CNDA_E1"})
	require.NoError(t, err)
	assert.Equal(t, "CNDA_S1", exp.SubjectID)

	_, err = cl.ResolveExperiment(ctx, SessionQuery{Project: "PROJ", SubjectLabel: "MISSING"})
	assert.True(t, errors.Is(err, ErrNoResults), "got %v", err)

	_, err = cl.ResolveExperiment(ctx, SessionQuery{Project: "PROJ", SubjectLabel: "DUP"})
	assert.True(t, errors.Is(err, ErrAmbiguousResult), "got %v", err)
}

func TestScansAndScanFiles(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	mock.SetScans("CNDA_E1", "1", "2", "10")
	mock.AddScanFile("CNDA_E1", "1", "1.dcm", []byte("dicom-bytes"))

	cl := New(mock.URL, Options{})
	ctx := context.Background()

	scans, err := cl.Scans(ctx, "PROJ", "CNDA_E1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "10"}, scans, "archive order preserved")

	files, err := cl.ScanFiles(ctx, "PROJ", "CNDA_E1", "1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "1.dcm", files[0].Name)
	assert.Equal(t, int64(len("dicom-bytes")), files[0].Size)
	assert.Equal(t, "DICOM", files[0].Collection)
}

func TestResourceFilesMissingResource(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	cl := New(mock.URL, Options{})
	_, err := cl.ResourceFiles(context.Background(), "PROJ", "CNDA_E1", "NORDIC_VOLUMES")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestSubjectXML(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	doc := []byte(`<xnat:Subject xmlns:xnat="http://nrg.wustl.edu/xnat"/>`)
	mock.SetSubjectXML("PROJ", "CNDA_S1", doc)

	cl := New(mock.URL, Options{})
	got, err := cl.SubjectXML(context.Background(), "PROJ", "CNDA_S1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrForbidden},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"server error", http.StatusInternalServerError, ErrUpstreamError},
		{"bad gateway", http.StatusBadGateway, ErrUpstreamError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", tc.status)
			}))
			defer srv.Close()

			cl := New(srv.URL, Options{})
			_, err := cl.Scans(context.Background(), "P", "E")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.sentinel), "got %v", err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Contains(t, apiErr.Body, "boom")
		})
	}
}

func TestTransportErrorMapping(t *testing.T) {
	// Server that is already closed: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cl := New(srv.URL, Options{})
	_, err := cl.Scans(context.Background(), "P", "E")
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable), "got %v", err)
}

func TestTimeoutMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cl := New(srv.URL, Options{Timeout: 20 * time.Millisecond})
	_, err := cl.Scans(context.Background(), "P", "E")
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
}

func TestBadJSONMapsToBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	cl := New(srv.URL, Options{})
	_, err := cl.Scans(context.Background(), "P", "E")
	assert.True(t, errors.Is(err, ErrBadResponse), "got %v", err)
}

func TestBasicAuthHeaderSent(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		writeResultSet(w, nil)
	}))
	defer srv.Close()

	cl := New(srv.URL, Options{Username: "alice", Password: "s3cret"})
	_, err := cl.Scans(context.Background(), "P", "E")
	require.NoError(t, err)
	require.True(t, gotOK)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "s3cret", gotPass)
}

func TestDownloadWritesAtomically(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	content := []byte("0123456789")
	mock.AddScanFile("CNDA_E1", "1", "a.dcm", content)

	cl := New(mock.URL, Options{})
	dest := filepath.Join(t.TempDir(), "a.dcm")

	var transferred int64
	n, err := cl.Download(context.Background(),
		"/data/experiments/CNDA_E1/scans/1/resources/DICOM/files/a.dcm",
		dest,
		func(n int64) { transferred += n })
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, int64(len(content)), transferred)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestDownloadOutlivesRequestTimeout(t *testing.T) {
	// Stream 8 KB at 1 KB every 50ms: the whole transfer takes well over the
	// 100ms request timeout, but the bytes keep flowing.
	chunk := bytes.Repeat([]byte("x"), 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl, ok := w.(http.Flusher)
		require.True(t, ok)
		for i := 0; i < 8; i++ {
			_, _ = w.Write(chunk)
			fl.Flush()
			time.Sleep(50 * time.Millisecond)
		}
	}))
	defer srv.Close()

	cl := New(srv.URL, Options{Timeout: 100 * time.Millisecond})
	dest := filepath.Join(t.TempDir(), "bundle.zip")

	n, err := cl.Download(context.Background(), "/data/experiments/E/resources/NORDIC_VOLUMES/files/bundle.zip", dest, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8*len(chunk)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Len(t, got, 8*len(chunk))
}

func TestDownloadHonoursContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl, ok := w.(http.Flusher)
		require.True(t, ok)
		for {
			if _, err := w.Write([]byte("data")); err != nil {
				return
			}
			fl.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	cl := New(srv.URL, Options{})
	dest := filepath.Join(t.TempDir(), "endless.zip")

	_, err := cl.Download(ctx, "/data/experiments/E/files/endless.zip", dest, nil)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no partial file may remain")
}

func TestDownloadMissingFileLeavesNoDest(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	cl := New(mock.URL, Options{})
	dest := filepath.Join(t.TempDir(), "missing.dcm")

	_, err := cl.Download(context.Background(), "/data/experiments/X/files/missing.dcm", dest, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no partial file may remain")
}
