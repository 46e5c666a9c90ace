package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"cricsheet/internal/metrics"
)

// Logger is the minimal logging interface used by the client.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Options configures a Client.
type Options struct {
	UserAgent string
	// Timeout bounds each request including the body transfer. 0 means none.
	Timeout time.Duration
	// RequestsPerMinute throttles requests. 0 means unlimited.
	RequestsPerMinute int
	// Job tags HTTP metrics.
	Job string

	// HTTPClient overrides the transport. Its Timeout is replaced by Timeout.
	HTTPClient *http.Client
	Logger     Logger
}

// Client downloads the catalog and its archives.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	job       string
	logger    Logger
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	hc := &http.Client{}
	if opts.HTTPClient != nil {
		cp := *opts.HTTPClient
		hc = &cp
	}
	hc.Timeout = opts.Timeout

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60.0)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "cricsheet-loader/1.0"
	}
	job := opts.Job
	if job == "" {
		job = "cricsheet"
	}

	return &Client{
		http:      hc,
		limiter:   rate.NewLimiter(limit, 1),
		userAgent: ua,
		job:       job,
		logger:    logger,
	}
}

// StatusError is returned for non-2xx responses. Body holds up to 4KB of the
// response body.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d for %s: %s", e.Status, e.URL, e.Body)
}

const maxErrorBody = 4096

// get issues a throttled GET and hands a 2xx body to consume. It records one
// HTTP metric sample per call.
func (c *Client) get(ctx context.Context, rawURL string, consume func(io.Reader) (int64, error)) (err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("acquire: rate limit wait: %w", err)
	}

	start := time.Now()
	status := 0
	var reqDur, respDur time.Duration
	var n int64
	defer func() {
		if reqDur == 0 {
			reqDur = time.Since(start)
		}
		metrics.RecordHTTP(c.job, status, err, reqDur, respDur, n)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("acquire: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("acquire: get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	reqDur = time.Since(start)
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		respDur = time.Since(start)
		return &StatusError{URL: rawURL, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	n, err = consume(resp.Body)
	respDur = time.Since(start)
	if err != nil {
		return fmt.Errorf("acquire: read %s: %w", rawURL, err)
	}
	return nil
}

// FetchPage returns the body of rawURL.
func (c *Client) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.get(ctx, rawURL, func(r io.Reader) (int64, error) { return buf.ReadFrom(r) }); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Download saves rawURL into dir under the URL's base name and returns the
// written path. The file is written to a temp file and renamed into place,
// so a failed download never leaves a partial archive behind.
func (c *Client) Download(ctx context.Context, rawURL, dir string) (string, int64, error) {
	name, err := fileName(rawURL)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("acquire: create %s: %w", dir, err)
	}
	dest := filepath.Join(dir, name)

	var written int64
	err = c.get(ctx, rawURL, func(r io.Reader) (int64, error) {
		n, err := writeFileAtomic(dest, r)
		written = n
		return n, err
	})
	if err != nil {
		return "", written, err
	}
	return dest, written, nil
}

func fileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("acquire: bad url %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("acquire: url %q has no file name", rawURL)
	}
	return name, nil
}

// writeFileAtomic writes r to a temp file next to dest and renames it over
// dest on success. The temp file is removed on any failure.
func writeFileAtomic(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	return n, nil
}

// Archive is one downloaded category archive.
type Archive struct {
	Category string
	URL      string
	Path     string
	Bytes    int64
}

// Run fetches the catalog at catalogURL and downloads the JSON archive of
// every category into dir. Categories without a link are logged and
// skipped. Any HTTP or file error aborts the run.
func (c *Client) Run(ctx context.Context, catalogURL, dir string, categories []string) ([]Archive, error) {
	base, err := url.Parse(catalogURL)
	if err != nil {
		return nil, fmt.Errorf("acquire: bad catalog url %q: %w", catalogURL, err)
	}

	page, err := c.FetchPage(ctx, catalogURL)
	if err != nil {
		return nil, fmt.Errorf("acquire: catalog: %w", err)
	}
	links, missing, err := FindArchiveLinks(bytes.NewReader(page), base, categories)
	if err != nil {
		return nil, err
	}
	for _, m := range missing {
		c.logger.Printf("stage=acquire category=%q msg=%q", m, "no JSON link in catalog; skipped")
	}

	out := make([]Archive, 0, len(links))
	for _, l := range links {
		c.logger.Printf("stage=acquire category=%q url=%s", l.Category, l.URL)
		start := time.Now()
		p, n, err := c.Download(ctx, l.URL, dir)
		if err != nil {
			return out, fmt.Errorf("acquire: category %q: %w", l.Category, err)
		}
		c.logger.Printf("stage=acquire category=%q file=%s bytes=%d duration=%s",
			l.Category, p, n, time.Since(start).Truncate(time.Millisecond))
		out = append(out, Archive{Category: l.Category, URL: l.URL, Path: p, Bytes: n})
	}
	return out, nil
}
