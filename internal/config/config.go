// Package config defines the pipeline configuration file: where archives come
// from, which formats are flattened, and where tables are persisted.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cricsheet/internal/cricsheet"
)

// Pipeline is the root of a configuration file.
type Pipeline struct {
	Job     string   `json:"job" yaml:"job"`
	Source  Source   `json:"source" yaml:"source"`
	Formats []Format `json:"formats" yaml:"formats"`
	Flatten Flatten  `json:"flatten" yaml:"flatten"`
	Storage Storage  `json:"storage" yaml:"storage"`
	Runtime Runtime  `json:"runtime" yaml:"runtime"`
	Metrics Metrics  `json:"metrics" yaml:"metrics"`
}

// Source describes the archive catalog and the local archive directory.
type Source struct {
	CatalogURL        string `json:"catalog_url" yaml:"catalog_url"`
	DownloadDir       string `json:"download_dir" yaml:"download_dir"`
	UserAgent         string `json:"user_agent" yaml:"user_agent"`
	TimeoutSeconds    int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	RequestsPerMinute int    `json:"requests_per_minute" yaml:"requests_per_minute"`
}

// Format enables one built-in format. Token and Category override the
// built-in archive token and catalog label when set.
type Format struct {
	Name     string `json:"name" yaml:"name"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the format should be processed.
func (f Format) IsEnabled() bool { return f.Enabled == nil || *f.Enabled }

// Flatten holds flattening options.
type Flatten struct {
	// FlagEncoding is "key_presence" (default) or "value".
	FlagEncoding string `json:"flag_encoding" yaml:"flag_encoding"`
}

// Storage selects the persistence backend.
type Storage struct {
	// Kind: "postgres" | "sqlite" | "mssql".
	Kind string `json:"kind" yaml:"kind"`
	// DSN may reference environment variables as ${VAR}.
	DSN string `json:"dsn" yaml:"dsn"`
	// Mode: "replace" truncates emitted tables before insert, "append" keeps them.
	Mode string `json:"mode" yaml:"mode"`
	// AutoCreate creates missing tables. Defaults to true when omitted.
	AutoCreate *bool `json:"auto_create,omitempty" yaml:"auto_create,omitempty"`
}

// ExpandedDSN returns the DSN with environment variables expanded.
func (s Storage) ExpandedDSN() string { return os.ExpandEnv(s.DSN) }

// AutoCreateTables reports whether missing tables should be created.
func (s Storage) AutoCreateTables() bool { return s.AutoCreate == nil || *s.AutoCreate }

// Runtime controls execution.
type Runtime struct {
	// FormatWorkers bounds how many formats are flattened concurrently.
	// 0 means one worker per enabled format.
	FormatWorkers int `json:"format_workers" yaml:"format_workers"`
	// BatchSize is the number of rows handed to the backend per insert call.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend: "none" | "datadog".
	Backend      string   `json:"backend" yaml:"backend"`
	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	FlushSeconds int      `json:"flush_seconds" yaml:"flush_seconds"`
}

const (
	DefaultCatalogURL = "https://cricsheet.org/matches/"
	DefaultBatchSize  = 1000
)

// Default returns a configuration that downloads and loads all four formats
// into a local SQLite file.
func Default() Pipeline {
	formats := cricsheet.Formats()
	fs := make([]Format, 0, len(formats))
	for _, f := range formats {
		fs = append(fs, Format{Name: f.Name})
	}
	return Pipeline{
		Job: "cricsheet",
		Source: Source{
			CatalogURL:        DefaultCatalogURL,
			DownloadDir:       "data",
			UserAgent:         "cricsheet-loader/1.0",
			TimeoutSeconds:    120,
			RequestsPerMinute: 30,
		},
		Formats: fs,
		Flatten: Flatten{FlagEncoding: string(cricsheet.FlagKeyPresence)},
		Storage: Storage{
			Kind: "sqlite",
			DSN:  "file:cricsheet.db",
			Mode: ModeReplace,
		},
		Runtime: Runtime{BatchSize: DefaultBatchSize},
		Metrics: Metrics{Backend: "none", FlushSeconds: 60},
	}
}

// Storage modes.
const (
	ModeReplace = "replace"
	ModeAppend  = "append"
)

// Load reads a pipeline file over Default. Files ending in .yaml or .yml are
// YAML, everything else is JSON. Sections missing from the file keep their
// defaults.
func Load(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	p := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("config: parse yaml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("config: parse json %s: %w", path, err)
		}
	}
	return p, nil
}

// Timeout is the per-request HTTP timeout.
func (s Source) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// FlushEvery is the Datadog flush interval.
func (m Metrics) FlushEvery() time.Duration {
	return time.Duration(m.FlushSeconds) * time.Second
}

// ResolvedFormats returns the enabled formats as cricsheet.Format records,
// in file order, with token/category overrides and the flag encoding
// applied. When only is non-empty, formats not named in it are dropped; a
// name in only that is unknown or not enabled is an error.
func (p Pipeline) ResolvedFormats(only ...string) ([]cricsheet.Format, error) {
	enc, err := cricsheet.ParseFlagEncoding(p.Flatten.FlagEncoding)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	keep := make(map[string]bool, len(only))
	for _, name := range only {
		keep[strings.ToLower(strings.TrimSpace(name))] = true
	}
	matched := make(map[string]bool, len(keep))

	out := make([]cricsheet.Format, 0, len(p.Formats))
	for _, fc := range p.Formats {
		if !fc.IsEnabled() {
			continue
		}
		if len(keep) > 0 && !keep[strings.ToLower(fc.Name)] {
			continue
		}
		matched[strings.ToLower(fc.Name)] = true
		f, ok := cricsheet.LookupFormat(fc.Name)
		if !ok {
			return nil, fmt.Errorf("config: unknown format %q", fc.Name)
		}
		if fc.Token != "" {
			f.Token = fc.Token
		}
		if fc.Category != "" {
			f.Category = fc.Category
		}
		out = append(out, f.WithFlagEncoding(enc))
	}
	for _, name := range only {
		n := strings.ToLower(strings.TrimSpace(name))
		if matched[n] {
			continue
		}
		if _, ok := cricsheet.LookupFormat(n); !ok {
			return nil, fmt.Errorf("config: unknown format %q", name)
		}
		return nil, fmt.Errorf("config: format %q is not enabled", name)
	}
	return out, nil
}
