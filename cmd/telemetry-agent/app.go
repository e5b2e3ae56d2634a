package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nneupane1/telemetry-agent/internal/config"
	"github.com/nneupane1/telemetry-agent/internal/format"
	"github.com/nneupane1/telemetry-agent/internal/interpret"
	"github.com/nneupane1/telemetry-agent/internal/llm"
	"github.com/nneupane1/telemetry-agent/internal/logging"
	"github.com/nneupane1/telemetry-agent/internal/mart"
	"github.com/nneupane1/telemetry-agent/internal/metrics"
	"github.com/nneupane1/telemetry-agent/internal/reference"
	"github.com/nneupane1/telemetry-agent/internal/store"
)

// app holds the wired engine and everything that must be closed with it.
type app struct {
	engine   *interpret.Engine
	registry *prometheus.Registry
	closers  []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// newApp wires the engine from cfg: mart source, reference dictionaries,
// approval ledger, optional generator and metrics.
func newApp(ctx context.Context, c config.Config) (*app, error) {
	logger := logging.New("cli")
	a := &app{registry: prometheus.NewRegistry()}

	src, err := mart.Open(c.Data)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, src)

	set, err := reference.LoadDir(c.Data.ReferenceDir)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("load reference dictionaries from %s: %w", c.Data.ReferenceDir, err)
	}

	ledger, err := store.OpenDriver(c.Data.LedgerDriver, c.Data.LedgerDSN)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open approval ledger: %w", err)
	}
	a.closers = append(a.closers, ledger)

	deps := interpret.Deps{
		Config:     c,
		Source:     src,
		References: reference.NewResolver(set),
		Ledger:     ledger,
		Metrics:    metrics.New(a.registry),
	}
	if c.Features.GenerativeEnabled {
		client, err := llm.FromConfig(c.LLM)
		switch {
		case errors.Is(err, llm.ErrNotConfigured):
			logger.Warn("generative narrative enabled but no provider configured")
		case err != nil:
			_ = a.Close()
			return nil, err
		default:
			deps.Generator = client
		}
	}

	a.engine, err = interpret.New(ctx, deps)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(ctx context.Context, fn func(*app) error) (err error) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

// outputFormat is "json" or a table Mode.
type outputFormat struct {
	json bool
	mode format.Mode
}

func parseOutput(s string) (outputFormat, error) {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return outputFormat{json: true}, nil
	}
	m, err := format.ParseMode(s)
	if err != nil {
		return outputFormat{}, err
	}
	return outputFormat{mode: m}, nil
}
