// Command cricsheet downloads ball-by-ball match archives, flattens them into
// per-format relational tables and loads those tables into a database.
//
// Usage:
//
//	cricsheet download --config pipeline.yaml
//	cricsheet flatten --format ipl --json
//	cricsheet load --config pipeline.json
//	cricsheet run
//	cricsheet validate --config pipeline.yaml
//	cricsheet probe data/ipl_json.zip --sample 50
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cricsheet/internal/metrics"
	"cricsheet/internal/metrics/datadog"
	"cricsheet/internal/storage"

	// register all backends with the storage factory.
	_ "cricsheet/internal/storage/all"
)

// backendCloser is a metrics backend with a shutdown hook.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
	NewRepository  func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	HTTPClient     *http.Client
}

func main() {
	// .env is optional.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		NewRepository: storage.New,
	})
	stop()
	os.Exit(code)
}

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// failed marks err as a runtime failure (exit code 1).
func failed(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 1, err: err}
}

// run executes the CLI and returns an exit code.
//
// Exit codes:
//   - 0: success.
//   - 1: invalid configuration or a failed download/load.
//   - 2: usage error (unknown command or flag).
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.NewRepository == nil {
		d.NewRepository = storage.New
	}

	root := newRootCmd(&app{deps: d})
	root.SetArgs(args)
	root.SetOut(d.Stdout)
	root.SetErr(d.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(d.Stderr, "error: %v\n", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 2
}
