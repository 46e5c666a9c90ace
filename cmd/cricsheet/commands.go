package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cricsheet/internal/acquire"
	"cricsheet/internal/archive"
	"cricsheet/internal/config"
	"cricsheet/internal/cricsheet"
	"cricsheet/internal/metrics"
	"cricsheet/internal/metrics/datadog"
	"cricsheet/internal/pipeline"
	"cricsheet/internal/probe"
)

// app holds flag values and resolved state shared by subcommands.
type app struct {
	deps deps

	configPath string
	formats    []string
	dir        string
	quiet      bool
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "cricsheet",
		Short:         "Flatten cricsheet ball-by-ball archives into relational tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: 2, err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "pipeline config file (.json, .yaml); defaults are used when empty")
	pf.StringSliceVar(&a.formats, "format", nil, "restrict to these formats (test, odi, t20, ipl)")
	pf.StringVar(&a.dir, "dir", "", "override source.download_dir")
	pf.BoolVar(&a.quiet, "quiet", false, "suppress stage logs on stderr")

	root.AddCommand(a.downloadCmd())
	root.AddCommand(a.flattenCmd())
	root.AddCommand(a.loadCmd())
	root.AddCommand(a.runCmd())
	root.AddCommand(a.validateCmd())
	root.AddCommand(a.probeCmd())
	return root
}

func (a *app) logger() *log.Logger {
	if a.quiet {
		return log.New(io.Discard, "", 0)
	}
	return log.New(a.deps.Stderr, "", log.LstdFlags)
}

// loadPipeline reads the config file (or defaults) and applies flag overrides.
func (a *app) loadPipeline() (config.Pipeline, error) {
	p := config.Default()
	if a.configPath != "" {
		var err error
		if p, err = config.Load(a.configPath); err != nil {
			return config.Pipeline{}, err
		}
	}
	if a.dir != "" {
		p.Source.DownloadDir = a.dir
	}
	if v := os.Getenv("METRICS_BACKEND"); v != "" {
		p.Metrics.Backend = v
	}
	return p, nil
}

// prepare loads and validates the pipeline and resolves the selected formats.
// Warnings are printed; errors abort.
func (a *app) prepare() (config.Pipeline, []cricsheet.Format, error) {
	p, err := a.loadPipeline()
	if err != nil {
		return config.Pipeline{}, nil, failed(err)
	}
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		if iss.Severity == config.SeverityWarning {
			fmt.Fprintf(a.deps.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
	}
	if err := config.Err(issues); err != nil {
		return config.Pipeline{}, nil, failed(err)
	}
	formats, err := p.ResolvedFormats(a.formats...)
	if err != nil {
		return config.Pipeline{}, nil, failed(err)
	}
	return p, formats, nil
}

// startMetrics installs the configured metrics backend. The returned func
// flushes and restores the no-op backend.
func (a *app) startMetrics(ctx context.Context, p config.Pipeline) (func(), error) {
	switch strings.ToLower(strings.TrimSpace(p.Metrics.Backend)) {
	case "", "none":
		return func() {}, nil
	case "datadog":
		if a.deps.BackendFactory == nil {
			return nil, fmt.Errorf("metrics: datadog backend factory not configured")
		}
		tags := append([]string(nil), p.Metrics.Tags...)
		tags = append(tags, datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))...)
		b, err := a.deps.BackendFactory(ctx, p.Job, tags, p.Metrics.FlushEvery())
		if err != nil {
			return nil, fmt.Errorf("metrics init: %w", err)
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				fmt.Fprintf(a.deps.Stderr, "metrics close: %v\n", err)
			}
			metrics.SetBackend(nil)
		}, nil
	default:
		return nil, fmt.Errorf("metrics: unknown backend %q", p.Metrics.Backend)
	}
}

// withPipeline runs fn with a validated pipeline and live metrics.
func (a *app) withPipeline(cmd *cobra.Command, fn func(ctx context.Context, p config.Pipeline, formats []cricsheet.Format) error) error {
	p, formats, err := a.prepare()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	stop, err := a.startMetrics(ctx, p)
	if err != nil {
		return failed(err)
	}
	defer stop()
	return failed(fn(ctx, p, formats))
}

func (a *app) newRunner(p config.Pipeline, formats []cricsheet.Format) *pipeline.Runner {
	r := pipeline.NewRunner(p, formats, a.logger())
	r.NewRepository = a.deps.NewRepository
	return r
}

func (a *app) download(ctx context.Context, p config.Pipeline, formats []cricsheet.Format) error {
	categories := make([]string, 0, len(formats))
	for _, f := range formats {
		categories = append(categories, f.Category)
	}
	client := acquire.NewClient(acquire.Options{
		UserAgent:         p.Source.UserAgent,
		Timeout:           p.Source.Timeout(),
		RequestsPerMinute: p.Source.RequestsPerMinute,
		Job:               p.Job,
		HTTPClient:        a.deps.HTTPClient,
		Logger:            a.logger(),
	})
	start := time.Now()
	archives, err := client.Run(ctx, p.Source.CatalogURL, p.Source.DownloadDir, categories)
	metrics.RecordStep("download", err, time.Since(start))
	if err != nil {
		return err
	}
	for _, ar := range archives {
		fmt.Fprintf(a.deps.Stdout, "downloaded category=%q path=%s bytes=%d\n", ar.Category, ar.Path, ar.Bytes)
	}
	return nil
}

func (a *app) downloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download the JSON archives for the selected formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withPipeline(cmd, a.download)
		},
	}
}

type tableJSON struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type formatJSON struct {
	Format    string      `json:"format"`
	Archive   string      `json:"archive,omitempty"`
	Documents int         `json:"documents"`
	Included  int         `json:"included"`
	Excluded  int         `json:"excluded"`
	Malformed int         `json:"malformed"`
	Warnings  []string    `json:"warnings,omitempty"`
	Tables    []tableJSON `json:"tables"`
}

func toJSON(res pipeline.Result) formatJSON {
	out := formatJSON{
		Format:    res.Format.Name,
		Archive:   res.Archive,
		Documents: res.Documents,
		Included:  res.Included,
		Excluded:  res.Excluded,
		Malformed: res.Malformed,
		Tables:    []tableJSON{},
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w.String())
	}
	for _, t := range res.Tables.Tables() {
		out.Tables = append(out.Tables, tableJSON{Name: t.Name, Columns: t.Columns, Rows: t.Rows})
	}
	return out
}

func printResult(w io.Writer, res pipeline.Result) {
	fmt.Fprintf(w, "format=%s archive=%q documents=%d included=%d excluded=%d malformed=%d warnings=%d\n",
		res.Format.Name, res.Archive, res.Documents, res.Included, res.Excluded, res.Malformed, len(res.Warnings))
	for _, t := range res.Tables.Tables() {
		fmt.Fprintf(w, "  table=%s rows=%d columns=%d\n", t.Name, len(t.Rows), len(t.Columns))
	}
}

func (a *app) flattenCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "flatten",
		Short: "Flatten downloaded archives and print the resulting tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withPipeline(cmd, func(ctx context.Context, p config.Pipeline, formats []cricsheet.Format) error {
				results, err := a.newRunner(p, formats).Flatten(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					out := make([]formatJSON, 0, len(results))
					for _, res := range results {
						out = append(out, toJSON(res))
					}
					enc := json.NewEncoder(a.deps.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(out)
				}
				for _, res := range results {
					printResult(a.deps.Stdout, res)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print every table's columns and rows as JSON")
	return cmd
}

func (a *app) printLoads(loads []pipeline.FormatLoad) {
	for _, fl := range loads {
		for _, tl := range fl.Tables {
			fmt.Fprintf(a.deps.Stdout, "loaded format=%s table=%s rows=%d inserted=%d skipped=%d\n", fl.Format, tl.Table, tl.Rows, tl.Inserted, tl.Skipped)
		}
	}
}

func (a *app) load(ctx context.Context, p config.Pipeline, formats []cricsheet.Format) error {
	_, loads, err := a.newRunner(p, formats).Run(ctx)
	a.printLoads(loads)
	return err
}

func (a *app) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Flatten downloaded archives and load the tables into storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withPipeline(cmd, a.load)
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Download, flatten and load in one pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withPipeline(cmd, func(ctx context.Context, p config.Pipeline, formats []cricsheet.Format) error {
				if err := a.download(ctx, p, formats); err != nil {
					return err
				}
				return a.load(ctx, p, formats)
			})
		},
	}
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the pipeline configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			p, err := a.loadPipeline()
			if err != nil {
				return failed(err)
			}
			issues := config.ValidatePipeline(p)
			for _, iss := range issues {
				fmt.Fprintf(a.deps.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if config.HasErrors(issues) {
				return failed(fmt.Errorf("config: %d issue(s)", len(issues)))
			}
			if _, err := p.ResolvedFormats(a.formats...); err != nil {
				return failed(err)
			}
			fmt.Fprintln(a.deps.Stdout, "ok")
			return nil
		},
	}
}

func (a *app) probeCmd() *cobra.Command {
	var sample int
	cmd := &cobra.Command{
		Use:   "probe [archive.zip ...]",
		Short: "Sample archives and report format routing and info key coverage",
		Long: "Sample archives and report format routing and info key coverage.\n" +
			"Without arguments, the archive of every selected format in the download directory is probed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, formats, err := a.prepare()
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				for _, f := range formats {
					path, err := archive.FindArchive(p.Source.DownloadDir, f.Token)
					if err != nil {
						fmt.Fprintf(a.deps.Stderr, "probe: format=%s: %v\n", f.Name, err)
						continue
					}
					paths = append(paths, path)
				}
			}
			for _, path := range paths {
				r, err := probe.Archive(cmd.Context(), path, probe.Options{Sample: sample, Formats: formats})
				if err != nil {
					return failed(err)
				}
				fmt.Fprintln(a.deps.Stdout, r.String())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&sample, "sample", probe.DefaultSample, "maximum JSON members read per archive")
	return cmd
}
