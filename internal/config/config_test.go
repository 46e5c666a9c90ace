package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cricsheet/internal/cricsheet"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	p := Default()
	if issues := ValidatePipeline(p); HasErrors(issues) {
		t.Fatalf("Default() has errors: %v", issues)
	}
	if p.Source.CatalogURL != DefaultCatalogURL || p.Source.DownloadDir != "data" {
		t.Fatalf("source=%+v", p.Source)
	}
	if p.Storage.Mode != ModeReplace || p.Runtime.BatchSize != 1000 {
		t.Fatalf("storage=%+v runtime=%+v", p.Storage, p.Runtime)
	}

	fs, err := p.ResolvedFormats()
	if err != nil {
		t.Fatalf("ResolvedFormats() err=%v", err)
	}
	var cats []string
	for _, f := range fs {
		cats = append(cats, f.Category)
	}
	want := "Test matches|One-day internationals|T20 internationals|Indian Premier League"
	if got := strings.Join(cats, "|"); got != want {
		t.Fatalf("categories=%q, want %q", got, want)
	}
}

func TestLoad_JSONOverDefaults(t *testing.T) {
	t.Setenv("CRICSHEET_PG", "postgres://u:p@db/cricket")

	path := writeFile(t, "pipeline.json", `{
		"job": "nightly",
		"formats": [{"name": "ipl"}, {"name": "t20", "enabled": false}],
		"storage": {"kind": "postgres", "dsn": "${CRICSHEET_PG}", "mode": "append"},
		"runtime": {"batch_size": 250}
	}`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if p.Job != "nightly" || p.Source.CatalogURL != DefaultCatalogURL {
		t.Fatalf("job=%q catalog=%q", p.Job, p.Source.CatalogURL)
	}
	if got := p.Storage.ExpandedDSN(); got != "postgres://u:p@db/cricket" {
		t.Fatalf("ExpandedDSN()=%q", got)
	}
	if p.Runtime.BatchSize != 250 || p.Storage.Mode != ModeAppend {
		t.Fatalf("runtime=%+v storage=%+v", p.Runtime, p.Storage)
	}

	fs, err := p.ResolvedFormats()
	if err != nil {
		t.Fatalf("ResolvedFormats() err=%v", err)
	}
	if len(fs) != 1 || fs[0].Name != "ipl" {
		t.Fatalf("formats=%v", fs)
	}
}

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "pipeline.yaml", `
job: weekly
source:
  download_dir: /var/cricsheet
  requests_per_minute: 6
formats:
  - name: test
    token: tests_json
    category: Test matches (men)
flatten:
  flag_encoding: value
metrics:
  backend: datadog
  tags: [env:prod, team:data]
`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if p.Source.DownloadDir != "/var/cricsheet" || p.Source.RequestsPerMinute != 6 {
		t.Fatalf("source=%+v", p.Source)
	}
	if p.Source.Timeout() != 120*time.Second {
		t.Fatalf("Timeout()=%s, want default 120s", p.Source.Timeout())
	}
	if len(p.Metrics.Tags) != 2 || p.Metrics.FlushEvery() != time.Minute {
		t.Fatalf("metrics=%+v", p.Metrics)
	}

	fs, err := p.ResolvedFormats()
	if err != nil {
		t.Fatalf("ResolvedFormats() err=%v", err)
	}
	if len(fs) != 1 {
		t.Fatalf("formats=%d, want 1", len(fs))
	}
	f := fs[0]
	if f.Token != "tests_json" || f.Category != "Test matches (men)" || f.FlagEncoding != cricsheet.FlagValue {
		t.Fatalf("format=%+v", f)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("Load(missing) err=nil")
	}
	bad := writeFile(t, "bad.json", `{"job": `)
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "parse json") {
		t.Fatalf("Load(bad json) err=%v", err)
	}
	badYAML := writeFile(t, "bad.yml", "formats: [\n")
	if _, err := Load(badYAML); err == nil || !strings.Contains(err.Error(), "parse yaml") {
		t.Fatalf("Load(bad yaml) err=%v", err)
	}
}

func TestResolvedFormats_Only(t *testing.T) {
	t.Parallel()

	p := Default()
	fs, err := p.ResolvedFormats("IPL", " odi ")
	if err != nil {
		t.Fatalf("ResolvedFormats() err=%v", err)
	}
	if len(fs) != 2 || fs[0].Name != "odi" || fs[1].Name != "ipl" {
		t.Fatalf("formats=%v, want odi then ipl in config order", fs)
	}

	if _, err := p.ResolvedFormats("bbl"); err == nil {
		t.Fatalf("ResolvedFormats(bbl) err=nil")
	}
	if _, err := p.ResolvedFormats("odi", "bogus"); err == nil || !strings.Contains(err.Error(), `unknown format "bogus"`) {
		t.Fatalf("ResolvedFormats(odi, bogus) err=%v", err)
	}

	off := false
	p.Formats[0].Enabled = &off
	if _, err := p.ResolvedFormats("odi", p.Formats[0].Name); err == nil || !strings.Contains(err.Error(), "not enabled") {
		t.Fatalf("ResolvedFormats(disabled) err=%v", err)
	}

	p.Flatten.FlagEncoding = "maybe"
	if _, err := p.ResolvedFormats(); err == nil {
		t.Fatalf("ResolvedFormats() with bad encoding err=nil")
	}
}

func TestValidatePipeline(t *testing.T) {
	t.Parallel()

	off := false
	tests := []struct {
		name   string
		mutate func(*Pipeline)
		path   string
		sev    Severity
	}{
		{"relative_catalog", func(p *Pipeline) { p.Source.CatalogURL = "/matches/" }, "source.catalog_url", SeverityError},
		{"empty_download_dir", func(p *Pipeline) { p.Source.DownloadDir = " " }, "source.download_dir", SeverityError},
		{"negative_rate", func(p *Pipeline) { p.Source.RequestsPerMinute = -1 }, "source.requests_per_minute", SeverityError},
		{"no_formats", func(p *Pipeline) { p.Formats = nil }, "formats", SeverityError},
		{"unknown_format", func(p *Pipeline) { p.Formats[0].Name = "bbl" }, "formats[0].name", SeverityError},
		{"duplicate_format", func(p *Pipeline) { p.Formats[1].Name = "TEST" }, "formats[1].name", SeverityError},
		{"all_disabled", func(p *Pipeline) {
			for i := range p.Formats {
				p.Formats[i].Enabled = &off
			}
		}, "formats", SeverityError},
		{"bad_flag_encoding", func(p *Pipeline) { p.Flatten.FlagEncoding = "truthy" }, "flatten.flag_encoding", SeverityError},
		{"mysql_kind", func(p *Pipeline) { p.Storage.Kind = "mysql" }, "storage.kind", SeverityError},
		{"empty_dsn", func(p *Pipeline) { p.Storage.DSN = "" }, "storage.dsn", SeverityError},
		{"unset_env_dsn", func(p *Pipeline) { p.Storage.DSN = "${CRICSHEET_UNSET_DSN_VAR}" }, "storage.dsn", SeverityWarning},
		{"bad_mode", func(p *Pipeline) { p.Storage.Mode = "upsert" }, "storage.mode", SeverityError},
		{"auto_create_off", func(p *Pipeline) { p.Storage.AutoCreate = &off }, "storage.auto_create", SeverityWarning},
		{"zero_batch", func(p *Pipeline) { p.Runtime.BatchSize = 0 }, "runtime.batch_size", SeverityError},
		{"bad_metrics_backend", func(p *Pipeline) { p.Metrics.Backend = "statsd" }, "metrics.backend", SeverityError},
		{"empty_job", func(p *Pipeline) { p.Job = "" }, "job", SeverityWarning},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := Default()
			tc.mutate(&p)

			issues := ValidatePipeline(p)
			for _, iss := range issues {
				if iss.Path == tc.path && iss.Severity == tc.sev {
					return
				}
			}
			t.Fatalf("no %s issue at %q; got %v", tc.sev, tc.path, issues)
		})
	}
}

func TestErr(t *testing.T) {
	t.Parallel()

	if err := Err([]Issue{{Severity: SeverityWarning, Path: "job", Message: "empty"}}); err != nil {
		t.Fatalf("Err(warnings only)=%v, want nil", err)
	}
	err := Err([]Issue{
		{Severity: SeverityError, Path: "storage.kind", Message: "unsupported"},
		{Severity: SeverityError, Path: "runtime.batch_size", Message: "must be > 0"},
	})
	if err == nil || !strings.Contains(err.Error(), "storage.kind") || !strings.Contains(err.Error(), "runtime.batch_size") {
		t.Fatalf("Err()=%v", err)
	}
}
