// Package engine wires VulnStore, LabelPredictor, ScanEngine, and
// VerificationOrchestrator behind a single entry point, the way
// libvuln.Libvuln wires a matcher store, matchers, and an update
// manager behind one handle.
package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quay/vulnassess/ctxlock"
	"github.com/quay/vulnassess/orchestrator"
	"github.com/quay/vulnassess/predictor"
	"github.com/quay/vulnassess/scanner"
	"github.com/quay/vulnassess/store"
	"github.com/quay/vulnassess/telemetry"
)

// Options configures Engine construction.
type Options struct {
	// StorePath is the embedded SQLite database file.
	StorePath string

	Embedder predictor.Embedder
	LLM      predictor.LLMBackend
	Index    *predictor.ExampleIndex
	Taxonomy predictor.Taxonomy

	// Workers is the bulk-scan pool width; <= 0 uses orchestrator.DefaultWorkers.
	Workers int

	// Registerer receives the engine's prometheus collectors. A nil
	// Registerer disables metrics (every component tolerates a nil
	// *telemetry.Metrics).
	Registerer prometheus.Registerer

	// TracingEnabled is passed to telemetry.Bootstrap. New supplies no
	// TracerProvider, so a no-op provider is installed either way; the
	// logger is not affected.
	TracingEnabled bool
}

// Engine is the process-level handle the rest of a program (a CLI, an
// HTTP handler, a test) drives.
type Engine struct {
	Store        store.Store
	Predictor    *predictor.Predictor
	Scanner      *scanner.Engine
	Orchestrator *orchestrator.Orchestrator

	Metrics *telemetry.Metrics

	closeStore func() error
}

// New opens the store, wires every component over it, and returns a
// ready-to-use Engine.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.StorePath == "" {
		return nil, fmt.Errorf("engine: StorePath is required")
	}

	telemetry.Bootstrap(opts.TracingEnabled, nil)

	var metrics *telemetry.Metrics
	if opts.Registerer != nil {
		metrics = telemetry.NewMetrics(opts.Registerer)
	}

	s, err := store.Open(ctx, opts.StorePath)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}
	s.SetMetrics(metrics)

	scanEngine := scanner.New(s, metrics)
	pred := predictor.New(s, opts.Embedder, opts.LLM, opts.Index, opts.Taxonomy, metrics)
	orch := orchestrator.New(s, scanEngine, ctxlock.New(), opts.Workers, metrics)

	return &Engine{
		Store:        s,
		Predictor:    pred,
		Scanner:      scanEngine,
		Orchestrator: orch,
		Metrics:      metrics,
		closeStore:   s.Close,
	}, nil
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	if e.closeStore != nil {
		return e.closeStore()
	}
	return nil
}
