// SPDX-License-Identifier: MIT

// Package fetch is the byte-stream collaborator for all remote data
// sources. It hands callers either a fully buffered document or an
// incrementally readable stream, with transparent decompression picked by
// URL suffix, and maps transport failures to model.ErrFetchFailed.
package fetch

import (
	"compress/bzip2"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"golang.org/x/time/rate"

	"bgpinfo/pkg/model"
)

const (
	DefaultUserAgent = "bgpinfo/1.0"

	// Buffered documents are small (JSON feeds, index tables); streams can
	// run for the duration of a multi-hundred-megabyte archive download and
	// are bounded by the caller's context instead.
	bufferedTimeout = 2 * time.Minute
)

// Client fetches remote documents over HTTP.
type Client struct {
	buffered  *http.Client
	streaming *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// NewClient creates a fetch client. probeRate limits HEAD existence probes
// in requests per second; 0 disables limiting.
func NewClient(userAgent string, probeRate float64) *Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	var limiter *rate.Limiter
	if probeRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(probeRate), int(probeRate)+1)
	}
	return &Client{
		buffered:  &http.Client{Timeout: bufferedTimeout},
		streaming: &http.Client{},
		userAgent: userAgent,
		limiter:   limiter,
	}
}

var defaultClient = NewClient(DefaultUserAgent, 0)

// Default returns a shared client with default settings.
func Default() *Client {
	return defaultClient
}

// Stream opens url and returns the raw response body. The caller owns the
// returned reader and must close it; closing before EOF drops the
// connection without draining, which is what the archive extractor relies
// on for early termination.
func (c *Client) Stream(ctx context.Context, url string) (io.ReadCloser, error) {
	return c.open(ctx, c.streaming, url)
}

// Reader opens url and transparently decompresses the body based on the
// URL suffix (.gz, .xz, .bz2). Unknown suffixes pass through untouched.
func (c *Client) Reader(ctx context.Context, url string) (io.ReadCloser, error) {
	body, err := c.open(ctx, c.buffered, url)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(url, ".gz") || strings.HasSuffix(url, ".tgz"):
		gz, err := gzip.NewReader(body)
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("%w: gzip: %v", model.ErrDecode, err)
		}
		return &stackedCloser{reader: gz, inner: body}, nil
	case strings.HasSuffix(url, ".xz"):
		xr, err := xz.NewReader(body)
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("%w: xz: %v", model.ErrDecode, err)
		}
		return &stackedCloser{reader: io.NopCloser(xr), inner: body}, nil
	case strings.HasSuffix(url, ".bz2"):
		return &stackedCloser{reader: io.NopCloser(bzip2.NewReader(body)), inner: body}, nil
	default:
		return body, nil
	}
}

// ReadAll fetches url into memory, decompressing by suffix.
func (c *Client) ReadAll(ctx context.Context, url string) ([]byte, error) {
	r, err := c.Reader(ctx, url)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", model.ErrDecode, url, err)
	}
	return data, nil
}

// ReadJSON fetches url (decompressing by suffix) and unmarshals it into v.
func (c *Client) ReadJSON(ctx context.Context, url string, v any) error {
	r, err := c.Reader(ctx, url)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("%w: JSON from %s: %v", model.ErrFormat, url, err)
	}
	return nil
}

// Probe issues a HEAD request against url. A 2xx answer reports existence
// along with the advertised Content-Length (0 if the server does not say);
// 4xx reports absence. Transport faults and server errors are returned as
// errors so callers can distinguish "absent" from "unreachable".
func (c *Client) Probe(ctx context.Context, url string) (bool, int64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.buffered.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", model.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		size := resp.ContentLength
		if size < 0 {
			size = 0
		}
		return true, size, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false, 0, nil
	default:
		return false, 0, fmt.Errorf("%w: unexpected status %d for %s", model.ErrFetchFailed, resp.StatusCode, url)
	}
}

// Exists probes url with a HEAD request, discarding the size.
func (c *Client) Exists(ctx context.Context, url string) (bool, error) {
	ok, _, err := c.Probe(ctx, url)
	return ok, err
}

// ContentLength probes url with HEAD and reports the advertised size,
// 0 if the server does not say. A missing url is an error here.
func (c *Client) ContentLength(ctx context.Context, url string) (int64, error) {
	ok, size, err := c.Probe(ctx, url)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s is absent", model.ErrFetchFailed, url)
	}
	return size, nil
}

func (c *Client) open(ctx context.Context, hc *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrFetchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %d for %s", model.ErrFetchFailed, resp.StatusCode, url)
	}
	return resp.Body, nil
}

// stackedCloser closes a decompression reader and the response body under it.
type stackedCloser struct {
	reader io.ReadCloser
	inner  io.Closer
}

func (s *stackedCloser) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *stackedCloser) Close() error {
	err1 := s.reader.Close()
	err2 := s.inner.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
