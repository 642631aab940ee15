// SPDX-License-Identifier: MIT

// Package xnat implements the REST client for XNAT-based imaging archives.
package xnat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const maxErrorBodyBytes = 512

// Options configures a Client beyond its base URL.
type Options struct {
	Username  string
	Password  string
	Timeout   time.Duration // per-request timeout, defaults to 30s
	RateLimit float64       // requests per second against the archive, <=0 disables throttling
	RateBurst int
	Transport http.RoundTripper // optional, wrapped with otelhttp
}

// Client talks to one XNAT archive.
type Client struct {
	base     string
	http     *http.Client
	download *http.Client
	user     string
	pass     string
	limiter  *rate.Limiter
}

// New creates a client for the archive at base.
func New(base string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := opts.Transport
	if transport == nil {
		if t, ok := http.DefaultTransport.(*http.Transport); ok {
			tc := t.Clone()
			tc.ResponseHeaderTimeout = timeout
			transport = tc
		} else {
			transport = http.DefaultTransport
		}
	}
	rt := otelhttp.NewTransport(transport)

	limit := rate.Inf
	burst := opts.RateBurst
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: rt,
		},
		// File transfers routinely outlive any per-request timeout, so the
		// download client has none: a dead connection is still bounded by
		// the transport's header timeout and context cancellation.
		download: &http.Client{
			Transport: rt,
		},
		user:    opts.Username,
		pass:    opts.Password,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// BaseURL returns the archive base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base
}

// get performs a throttled GET and maps transport/status failures onto the
// package sentinels. The caller owns the response body on success.
func (c *Client) get(ctx context.Context, op, path string, query url.Values) (*http.Response, error) {
	return c.getWith(ctx, c.http, op, path, query)
}

func (c *Client) getWith(ctx context.Context, cl *http.Client, op, path string, query url.Values) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	res, err := cl.Do(req)
	if err != nil {
		return nil, mapTransportError(op, err)
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}

	snippet := readErrorBody(res.Body)
	_ = res.Body.Close()

	sentinel := ErrBadResponse
	switch {
	case res.StatusCode == http.StatusNotFound:
		sentinel = ErrNotFound
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		sentinel = ErrForbidden
	case res.StatusCode >= 500:
		sentinel = ErrUpstreamError
	}
	return nil, &APIError{Sentinel: sentinel, Operation: op, Status: res.StatusCode, Body: snippet}
}

func mapTransportError(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &APIError{Sentinel: ErrTimeout, Operation: op, Err: err}
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &netErr) && netErr.Timeout():
		return &APIError{Sentinel: ErrTimeout, Operation: op, Err: err}
	default:
		return &APIError{Sentinel: ErrUpstreamUnavailable, Operation: op, Err: err}
	}
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	return strings.TrimSpace(string(b))
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("format", "json")

	res, err := c.get(ctx, op, path, query)
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	return nil
}

// MRSessions queries MR sessions matching q.
func (c *Client) MRSessions(ctx context.Context, q SessionQuery) ([]Experiment, error) {
	query := url.Values{}
	query.Set("xsiType", "xnat:mrSessionData")
	query.Set("columns", "ID,label,project,xnat:mrsessiondata/subject_id")
	if q.ExperimentID != "" {
		query.Set("ID", q.ExperimentID)
	} else {
		query.Set("subject_label", q.SubjectLabel)
	}
	if q.Project != "" {
		query.Set("project", q.Project)
	}

	var rs resultSet
	if err := c.getJSON(ctx, "mrsessions", "/data/experiments", query, &rs); err != nil {
		return nil, err
	}

	exps := make([]Experiment, 0, len(rs.ResultSet.Result))
	for _, row := range rs.ResultSet.Result {
		exps = append(exps, Experiment{
			ID:        row["ID"],
			Label:     row["label"],
			Project:   row["project"],
			SubjectID: row["xnat:mrsessiondata/subject_id"],
		})
	}
	return exps, nil
}

// ResolveExperiment runs an MR session query that must match exactly one
// experiment, the semantics every download starts from.
func (c *Client) ResolveExperiment(ctx context.Context, q SessionQuery) (Experiment, error) {
	exps, err := c.MRSessions(ctx, q)
	if err != nil {
		return Experiment{}, err
	}
	switch len(exps) {
	case 0:
		return Experiment{}, fmt.Errorf("%w for %s", ErrNoResults, describeQuery(q))
	case 1:
		return exps[0], nil
	default:
		return Experiment{}, fmt.Errorf("%w for %s: narrow the search with a project or experiment ID", ErrAmbiguousResult, describeQuery(q))
	}
}

func describeQuery(q SessionQuery) string {
	if q.ExperimentID != "" {
		return fmt.Sprintf("experiment %q", q.ExperimentID)
	}
	if q.Project != "" {
		return fmt.Sprintf("subject %q in project %q", q.SubjectLabel, q.Project)
	}
	return fmt.Sprintf("subject %q", q.SubjectLabel)
}

// SubjectXML fetches the subject document, the XML that carries per-scan
// quality and UID metadata.
func (c *Client) SubjectXML(ctx context.Context, project, subjectID string) ([]byte, error) {
	path := fmt.Sprintf("/data/projects/%s/subjects/%s", url.PathEscape(project), url.PathEscape(subjectID))
	query := url.Values{}
	query.Set("format", "xml")

	res, err := c.get(ctx, "subject-xml", path, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: "subject-xml", Err: err}
	}
	return body, nil
}

// Scans lists scan IDs of an experiment in archive order.
func (c *Client) Scans(ctx context.Context, project, experimentID string) ([]string, error) {
	path := fmt.Sprintf("/data/projects/%s/experiments/%s/scans",
		url.PathEscape(project), url.PathEscape(experimentID))

	var rs resultSet
	if err := c.getJSON(ctx, "scans", path, nil, &rs); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rs.ResultSet.Result))
	for _, row := range rs.ResultSet.Result {
		if id := row["ID"]; id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ScanFiles lists the files of one scan.
func (c *Client) ScanFiles(ctx context.Context, project, experimentID, scanID string) ([]File, error) {
	path := fmt.Sprintf("/data/projects/%s/experiments/%s/scans/%s/resources/files",
		url.PathEscape(project), url.PathEscape(experimentID), url.PathEscape(scanID))

	var rs resultSet
	if err := c.getJSON(ctx, "scan-files", path, nil, &rs); err != nil {
		return nil, err
	}

	files := make([]File, 0, len(rs.ResultSet.Result))
	for _, row := range rs.ResultSet.Result {
		files = append(files, fileFromRow(row))
	}
	return files, nil
}

// ResourceFiles lists the files of an experiment-level resource such as
// NORDIC_VOLUMES. A missing resource surfaces as ErrNotFound.
func (c *Client) ResourceFiles(ctx context.Context, project, experimentID, resource string) ([]File, error) {
	path := fmt.Sprintf("/data/projects/%s/experiments/%s/resources/%s/files",
		url.PathEscape(project), url.PathEscape(experimentID), url.PathEscape(resource))

	var rs resultSet
	if err := c.getJSON(ctx, "resource-files", path, nil, &rs); err != nil {
		return nil, err
	}

	files := make([]File, 0, len(rs.ResultSet.Result))
	for _, row := range rs.ResultSet.Result {
		files = append(files, fileFromRow(row))
	}
	return files, nil
}
