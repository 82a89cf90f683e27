package engine

import (
	"context"
	"log/slog"
	"maps"
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/sandbox"
)

// AppInput is everything a contract run needs beyond the transaction.
type AppInput struct {
	// Binaries maps verification key to contract bytecode.
	Binaries map[charms.B32][]byte

	// PublicInputs names the apps to verify and their public input.
	PublicInputs map[charms.App]charms.Data

	// PrivateInputs are optional; a missing entry means empty.
	PrivateInputs map[charms.App]charms.Data
}

// AppResult is the outcome of one app in a verification pass.
type AppResult struct {
	App      charms.App
	FastPath bool
	Cycles   uint64
}

// TotalCycles sums per-app costs in the given (app index) order.
func TotalCycles(results []AppResult) uint64 {
	var total uint64
	for _, r := range results {
		total += r.Cycles
	}
	return total
}

// Engine is the contract satisfaction engine. Safe for concurrent use.
type Engine struct {
	runner      *sandbox.Runner
	simple      charms.SimpleTransferFunc
	parallelism int
	logger      *slog.Logger
	metrics     *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism runs up to n contracts at once. n <= 1 runs them one at
// a time.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		e.parallelism = n
	}
}

// WithSimpleTransfer replaces the simple-transfer predicate.
func WithSimpleTransfer(f charms.SimpleTransferFunc) Option {
	return func(e *Engine) {
		e.simple = f
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records verification metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine running contracts on runner.
func New(runner *sandbox.Runner, opts ...Option) *Engine {
	e := &Engine{
		runner:      runner,
		simple:      charms.IsSimpleTransfer,
		parallelism: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Runner returns the sandbox runner.
func (e *Engine) Runner() *sandbox.Runner {
	return e.runner
}

// RunAll verifies every app in in.PublicInputs against tx, in ascending
// App order. It returns one result per app or the error of the
// lowest-indexed failing app.
//
// Cancelling ctx stops new contract runs from starting; a run already in
// progress finishes or exhausts its budget.
func (e *Engine) RunAll(ctx context.Context, tx *charms.Transaction, in AppInput) ([]AppResult, error) {
	apps := charms.SortedApps(maps.Keys(in.PublicInputs))
	results := make([]AppResult, len(apps))
	errs := make([]error, len(apps))

	if e.parallelism <= 1 {
		for i, app := range apps {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i], errs[i] = e.runApp(tx, app, in)
			if errs[i] != nil {
				return nil, errs[i]
			}
		}
		return results, nil
	}

	// Apps after the lowest failure seen so far are skipped. The lowest
	// failing index always runs, so the reported error is stable.
	var firstFailure atomic.Int64
	firstFailure.Store(math.MaxInt64)

	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, app := range apps {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			break
		}
		g.Go(func() error {
			if int64(i) > firstFailure.Load() {
				return nil
			}
			results[i], errs[i] = e.runApp(tx, app, in)
			if errs[i] != nil {
				for {
					cur := firstFailure.Load()
					if int64(i) >= cur || firstFailure.CompareAndSwap(cur, int64(i)) {
						break
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (e *Engine) runApp(tx *charms.Transaction, app charms.App, in AppInput) (AppResult, error) {
	if e.simple(app, tx) {
		e.logger.Debug("simple transfer", "app", app.String())
		e.metrics.appRun(pathFast, nil, 0)
		return AppResult{App: app, FastPath: true}, nil
	}

	binary, ok := in.Binaries[app.VK]
	if !ok {
		err := charms.Errorf(charms.ErrCodeMissingBinary, "no contract binary for vk %s", app.VK).WithApp(app)
		e.metrics.appRun(pathSandbox, err, 0)
		return AppResult{}, err
	}
	cycles, err := e.runner.Run(binary, app, tx, in.PublicInputs[app], in.PrivateInputs[app])
	e.metrics.appRun(pathSandbox, err, cycles)
	if err != nil {
		e.logger.Debug("app contract failed", "app", app.String(), "error", err)
		return AppResult{}, err
	}
	e.logger.Debug("app contract satisfied", "app", app.String(), "cycles", cycles)
	return AppResult{App: app, Cycles: cycles}, nil
}
