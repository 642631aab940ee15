// SPDX-License-Identifier: MIT
package xnat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// MockServer provides a configurable XNAT mock for testing.
type MockServer struct {
	*httptest.Server
	mu            sync.RWMutex
	experiments   []Experiment
	subjectXML    map[string][]byte // "project/subjectID"
	scans         map[string][]string
	scanFiles     map[string][]File // "experimentID/scanID"
	resourceFiles map[string][]File // "experimentID/resource"
	fileContents  map[string][]byte // by URI
	failures      map[string]int    // failures before success, keyed by path prefix
}

// NewMockServer creates a mock XNAT archive with no data.
func NewMockServer() *MockServer {
	mock := &MockServer{
		subjectXML:    make(map[string][]byte),
		scans:         make(map[string][]string),
		scanFiles:     make(map[string][]File),
		resourceFiles: make(map[string][]File),
		fileContents:  make(map[string][]byte),
		failures:      make(map[string]int),
	}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// AddExperiment registers an experiment row for session queries.
func (m *MockServer) AddExperiment(exp Experiment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments = append(m.experiments, exp)
}

// SetSubjectXML sets the subject document served for project/subjectID.
func (m *MockServer) SetSubjectXML(project, subjectID string, doc []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjectXML[project+"/"+subjectID] = doc
}

// SetScans sets the scan ID listing of an experiment.
func (m *MockServer) SetScans(experimentID string, scanIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[experimentID] = scanIDs
}

// AddScanFile registers a file under a scan and serves content at its URI.
func (m *MockServer) AddScanFile(experimentID, scanID, name string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uri := fmt.Sprintf("/data/experiments/%s/scans/%s/resources/DICOM/files/%s", experimentID, scanID, name)
	key := experimentID + "/" + scanID
	m.scanFiles[key] = append(m.scanFiles[key], File{
		Name:       name,
		Size:       int64(len(content)),
		URI:        uri,
		Collection: "DICOM",
	})
	m.fileContents[uri] = content
}

// AddResourceFile registers an experiment-level resource file (e.g. NORDIC_VOLUMES).
func (m *MockServer) AddResourceFile(experimentID, resource, name string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uri := fmt.Sprintf("/data/experiments/%s/resources/%s/files/%s", experimentID, resource, name)
	key := experimentID + "/" + resource
	m.resourceFiles[key] = append(m.resourceFiles[key], File{
		Name: name,
		Size: int64(len(content)),
		URI:  uri,
	})
	m.fileContents[uri] = content
}

// SetFailures makes requests whose path starts with prefix fail with 503 the
// given number of times before succeeding.
func (m *MockServer) SetFailures(prefix string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[prefix] = count
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	for prefix, n := range m.failures {
		if strings.HasPrefix(r.URL.Path, prefix) && n > 0 {
			m.failures[prefix] = n - 1
			m.mu.Unlock()
			http.Error(w, "mock failure", http.StatusServiceUnavailable)
			return
		}
	}
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	path := r.URL.Path
	switch {
	case path == "/data/experiments":
		m.handleExperiments(w, r)
	case strings.Contains(path, "/subjects/"):
		m.handleSubject(w, r)
	case strings.HasSuffix(path, "/scans"):
		m.handleScans(w, r)
	case strings.Contains(path, "/scans/") && strings.HasSuffix(path, "/files"):
		m.handleScanFiles(w, r)
	case strings.Contains(path, "/resources/") && strings.HasSuffix(path, "/files"):
		m.handleResourceFiles(w, r)
	default:
		if content, ok := m.fileContents[path]; ok {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			_, _ = w.Write(content)
			return
		}
		http.NotFound(w, r)
	}
}

func (m *MockServer) handleExperiments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var rows []map[string]string
	for _, exp := range m.experiments {
		if id := q.Get("ID"); id != "" && exp.ID != id {
			continue
		}
		if label := q.Get("subject_label"); label != "" && exp.Label != label {
			continue
		}
		if project := q.Get("project"); project != "" && exp.Project != project {
			continue
		}
		rows = append(rows, map[string]string{
			"ID":                               exp.ID,
			"label":                            exp.Label,
			"project":                          exp.Project,
			"xnat:mrsessiondata/subject_id":    exp.SubjectID,
		})
	}
	writeResultSet(w, rows)
}

func (m *MockServer) handleSubject(w http.ResponseWriter, r *http.Request) {
	// /data/projects/{p}/subjects/{s}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 5 {
		http.NotFound(w, r)
		return
	}
	key := parts[2] + "/" + parts[4]
	doc, ok := m.subjectXML[key]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write(doc)
}

func (m *MockServer) handleScans(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// /data/projects/{p}/experiments/{e}/scans
	if len(parts) < 6 {
		http.NotFound(w, r)
		return
	}
	ids, ok := m.scans[parts[4]]
	if !ok {
		http.NotFound(w, r)
		return
	}
	rows := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, map[string]string{"ID": id})
	}
	writeResultSet(w, rows)
}

func (m *MockServer) handleScanFiles(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// /data/projects/{p}/experiments/{e}/scans/{s}/resources/files
	if len(parts) < 8 {
		http.NotFound(w, r)
		return
	}
	files, ok := m.scanFiles[parts[4]+"/"+parts[6]]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeResultSet(w, fileRows(files))
}

func (m *MockServer) handleResourceFiles(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// /data/projects/{p}/experiments/{e}/resources/{r}/files
	if len(parts) < 8 {
		http.NotFound(w, r)
		return
	}
	files, ok := m.resourceFiles[parts[4]+"/"+parts[6]]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeResultSet(w, fileRows(files))
}

func fileRows(files []File) []map[string]string {
	rows := make([]map[string]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, map[string]string{
			"Name":       f.Name,
			"Size":       strconv.FormatInt(f.Size, 10),
			"URI":        f.URI,
			"collection": f.Collection,
			"digest":     f.Digest,
		})
	}
	return rows
}

func writeResultSet(w http.ResponseWriter, rows []map[string]string) {
	if rows == nil {
		rows = []map[string]string{}
	}
	envelope := map[string]any{
		"ResultSet": map[string]any{
			"Result":       rows,
			"totalRecords": strconv.Itoa(len(rows)),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope)
}
