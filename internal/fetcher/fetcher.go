// Package fetcher reads JSON corpus resources from an HTTP origin or a
// local bundle directory.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxBytes caps a single resource read
const DefaultMaxBytes = 64 << 20

// ResourceFetchError reports a failed or non-success resource fetch
type ResourceFetchError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *ResourceFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Path, e.Err)
}

func (e *ResourceFetchError) Unwrap() error {
	return e.Err
}

// Options tunes the fetcher
type Options struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
}

type Fetcher struct {
	base    string
	baseURL *url.URL
	client  *http.Client
	opts    Options
	logger  *logrus.Entry
}

// New creates a fetcher rooted at base. An http(s) base is fetched over the
// network, anything else is treated as a directory on disk.
func New(base string, opts Options, logger *logrus.Entry) (*Fetcher, error) {
	if logger == nil {
		logger = logrus.WithField("component", "fetcher")
	} else {
		logger = logger.WithField("component", "fetcher")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "promptrank/1.0"
	}

	f := &Fetcher{base: base, opts: opts, logger: logger}

	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		u, err := url.Parse(strings.TrimSuffix(base, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", base, err)
		}
		f.baseURL = u
		f.client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return f, nil
}

// Base is the root the fetcher resolves paths under
func (f *Fetcher) Base() string {
	return f.base
}

// FetchJSON reads the resource at rel and decodes it into v
func (f *Fetcher) FetchJSON(ctx context.Context, rel string, v any) error {
	data, err := f.fetch(ctx, rel)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &ResourceFetchError{Path: rel, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, rel string) ([]byte, error) {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" {
		return nil, &ResourceFetchError{Path: rel, Err: errors.New("empty path")}
	}

	start := time.Now()
	var (
		data []byte
		err  error
	)
	if f.baseURL != nil {
		data, err = f.fetchHTTP(ctx, rel)
	} else {
		data, err = f.fetchFile(rel)
	}
	if err != nil {
		return nil, err
	}

	f.logger.WithFields(logrus.Fields{
		"path":     rel,
		"bytes":    len(data),
		"duration": time.Since(start),
	}).Debug("Fetched resource")
	return data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rel string) ([]byte, error) {
	target := f.baseURL.ResolveReference(&url.URL{Path: rel})

	req, err := http.NewRequestWithContext(ctx, "GET", target.String(), nil)
	if err != nil {
		return nil, &ResourceFetchError{Path: rel, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &ResourceFetchError{Path: rel, Err: fmt.Errorf("network error: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ResourceFetchError{Path: rel, StatusCode: resp.StatusCode}
	}

	return f.readLimited(rel, resp.Body)
}

func (f *Fetcher) fetchFile(rel string) ([]byte, error) {
	file, err := os.Open(filepath.Join(f.base, filepath.FromSlash(rel)))
	if err != nil {
		return nil, &ResourceFetchError{Path: rel, Err: err}
	}
	defer file.Close()

	return f.readLimited(rel, file)
}

func (f *Fetcher) readLimited(rel string, r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.opts.MaxBytes+1))
	if err != nil {
		return nil, &ResourceFetchError{Path: rel, Err: fmt.Errorf("read: %w", err)}
	}
	if int64(len(data)) > f.opts.MaxBytes {
		return nil, &ResourceFetchError{Path: rel, Err: fmt.Errorf("resource exceeds %d bytes", f.opts.MaxBytes)}
	}
	return data, nil
}
