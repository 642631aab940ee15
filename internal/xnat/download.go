// SPDX-License-Identifier: MIT

package xnat

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/google/renameio/v2"
)

// ProgressFunc receives the number of bytes transferred since the last call.
type ProgressFunc func(n int64)

// Download streams the file at uri (a URI as returned in listings, e.g.
// "/data/projects/.../files/1.dcm") into dest. The write is atomic: dest
// appears complete or not at all, even across crashes mid-transfer. The
// transfer runs on the untimed client so a healthy stream is never cut off
// by the per-request timeout; cancellation comes from ctx.
func (c *Client) Download(ctx context.Context, uri, dest string, progress ProgressFunc) (int64, error) {
	res, err := c.getWith(ctx, c.download, "download", escapeURIPath(uri), nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	pending, err := renameio.NewPendingFile(dest)
	if err != nil {
		return 0, fmt.Errorf("create pending file for %s: %w", dest, err)
	}
	defer func() {
		// Removes the temp file when not committed.
		_ = pending.Cleanup()
	}()

	var body io.Reader = res.Body
	if progress != nil {
		body = &progressReader{r: res.Body, fn: progress}
	}

	n, err := io.Copy(pending, body)
	if err != nil {
		return n, &APIError{Sentinel: ErrUpstreamUnavailable, Operation: "download", Err: err}
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("atomically replace %s: %w", dest, err)
	}
	return n, nil
}

// escapeURIPath re-escapes each segment of an already-decoded URI path.
// Listing URIs come back decoded, and file names may contain spaces.
func escapeURIPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return u.EscapedPath()
}

type progressReader struct {
	r  io.Reader
	fn ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.fn(int64(n))
	}
	return n, err
}
