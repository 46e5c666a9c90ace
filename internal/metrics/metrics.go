// Package metrics is a small process-wide metrics facade. Code records through
// the package functions; the CLI installs a Backend (Datadog, or nop by
// default).
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names.
const (
	StepTotal           = "cricsheet_step_total"
	StepDurationSeconds = "cricsheet_step_duration_seconds"
	DocumentsTotal      = "cricsheet_documents_total"
	RowsTotal           = "cricsheet_rows_total"

	HTTPRequestsTotal           = "cricsheet_http_requests_total"
	HTTPErrorsTotal             = "cricsheet_http_errors_total"
	HTTPRequestDurationSeconds  = "cricsheet_http_request_duration_seconds"
	HTTPResponseDurationSeconds = "cricsheet_http_response_duration_seconds"
	HTTPDownloadBytes           = "cricsheet_http_download_bytes"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process backend. nil restores the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush asks the backend to submit buffered data.
func Flush() error {
	return current().Flush()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStep counts one pipeline step and its duration.
func RecordStep(step string, err error, d time.Duration) {
	l := Labels{"step": step, "status": statusOf(err)}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordDocuments counts n documents of a format with the given status
// (included, excluded, malformed).
func RecordDocuments(format, status string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(DocumentsTotal, float64(n), Labels{"format": format, "status": status})
}

// RecordRows counts rows written to table.
func RecordRows(table string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"table": table})
}

// RecordHTTP records one HTTP attempt. status is 0 when no response was
// received.
func RecordHTTP(job string, status int, err error, requestDur, responseDur time.Duration, bytes int64) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	l := Labels{"job": job, "status": code}

	IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status < 200 || status > 299 {
		IncCounter(HTTPErrorsTotal, 1, l)
	}
	ObserveHistogram(HTTPRequestDurationSeconds, requestDur.Seconds(), l)
	if responseDur > 0 {
		ObserveHistogram(HTTPResponseDurationSeconds, responseDur.Seconds(), l)
	}
	if bytes > 0 {
		ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}
