package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cricsheet/internal/cricsheet"
)

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses dotted/indexed notation, e.g.
// "formats[2].name".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var storageKinds = map[string]bool{"postgres": true, "sqlite": true, "mssql": true}

// ValidatePipeline checks p and returns every issue found. Any issue with
// SeverityError makes the configuration unusable.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	errf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityError, path, fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		warnf("job", "empty job name; metrics will be tagged job:cricsheet")
	}

	// source
	if u, err := url.Parse(p.Source.CatalogURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errf("source.catalog_url", "must be an absolute http(s) URL, got %q", p.Source.CatalogURL)
	}
	if strings.TrimSpace(p.Source.DownloadDir) == "" {
		errf("source.download_dir", "is required")
	}
	if p.Source.TimeoutSeconds < 0 {
		errf("source.timeout_seconds", "must be >= 0")
	}
	if p.Source.RequestsPerMinute < 0 {
		errf("source.requests_per_minute", "must be >= 0")
	}

	// formats
	if len(p.Formats) == 0 {
		errf("formats", "at least one format is required")
	}
	seen := make(map[string]bool, len(p.Formats))
	enabled := 0
	for i, f := range p.Formats {
		path := fmt.Sprintf("formats[%d]", i)
		name := strings.ToLower(strings.TrimSpace(f.Name))
		if name == "" {
			errf(path+".name", "is required")
			continue
		}
		if _, ok := cricsheet.LookupFormat(name); !ok {
			errf(path+".name", "unknown format %q (want test, odi, t20 or ipl)", f.Name)
		}
		if seen[name] {
			errf(path+".name", "duplicate format %q", f.Name)
		}
		seen[name] = true
		if f.IsEnabled() {
			enabled++
		}
	}
	if len(p.Formats) > 0 && enabled == 0 {
		errf("formats", "no format is enabled")
	}

	// flatten
	if _, err := cricsheet.ParseFlagEncoding(p.Flatten.FlagEncoding); err != nil {
		errf("flatten.flag_encoding", "must be key_presence or value, got %q", p.Flatten.FlagEncoding)
	}

	// storage
	if !storageKinds[p.Storage.Kind] {
		errf("storage.kind", "unsupported kind %q (want postgres, sqlite or mssql)", p.Storage.Kind)
	}
	if strings.TrimSpace(p.Storage.DSN) == "" {
		errf("storage.dsn", "is required")
	} else if strings.TrimSpace(p.Storage.ExpandedDSN()) == "" {
		warnf("storage.dsn", "expands to an empty string; check the referenced environment variables")
	}
	switch p.Storage.Mode {
	case ModeReplace, ModeAppend:
	case "":
		errf("storage.mode", "is required (replace or append)")
	default:
		errf("storage.mode", "must be replace or append, got %q", p.Storage.Mode)
	}
	if !p.Storage.AutoCreateTables() {
		warnf("storage.auto_create", "disabled; tables must already exist")
	}

	// runtime
	if p.Runtime.BatchSize <= 0 {
		errf("runtime.batch_size", "must be > 0")
	}
	if p.Runtime.FormatWorkers < 0 {
		errf("runtime.format_workers", "must be >= 0")
	}

	// metrics
	switch p.Metrics.Backend {
	case "", "none", "datadog":
	default:
		errf("metrics.backend", "must be none or datadog, got %q", p.Metrics.Backend)
	}
	if p.Metrics.FlushSeconds < 0 {
		errf("metrics.flush_seconds", "must be >= 0")
	}

	return issues
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Err joins the error-severity issues into one error, or returns nil.
func Err(issues []Issue) error {
	var errs []error
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, errors.New(iss.Path+": "+iss.Message))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid pipeline: %w", errors.Join(errs...))
}
