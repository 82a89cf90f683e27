package cli

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bitsnark/charms/internal/config"
	"github.com/bitsnark/charms/internal/engine"
	"github.com/bitsnark/charms/internal/prover"
	"github.com/bitsnark/charms/internal/sandbox"
	"github.com/bitsnark/charms/internal/store"
)

// runtime is everything a command needs to verify and prove spells.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	engine   *engine.Engine
	verifier engine.Verifier
	backend  prover.ProofSystem
	prover   *prover.Prover
	closers  []func() error
}

// newRuntime loads the configuration and builds the sandbox, engine,
// verifier and proof backend it selects. Callers must close the runtime.
func newRuntime(opts *RootOptions, cmd *cobra.Command) (*runtime, error) {
	cfg, logger, err := opts.setup(cmd)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	runner := sandbox.New(
		sandbox.WithMetering(cfg.Metering),
		sandbox.WithMaxFuel(cfg.MaxFuel),
		sandbox.WithDiagnostics(logWriter{logger}),
	)
	rt.engine = engine.New(runner,
		engine.WithParallelism(cfg.Parallelism),
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(rt.registry)),
	)

	if cfg.Mock {
		rt.verifier = engine.NewMockVerifier(rt.engine)
	} else {
		v, err := engine.NewProductionVerifier(rt.engine)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to initialize verifier", err)
		}
		rt.verifier = v
	}

	switch cfg.Prover.Backend {
	case config.BackendRemote:
		remote, err := prover.Dial(cfg.Prover.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to prover", err)
		}
		rt.backend = remote
		rt.closers = append(rt.closers, remote.Close)
	default:
		rt.backend = prover.MockBackend{}
	}
	return rt, nil
}

// spellProver runs backend setup on first use.
func (r *runtime) spellProver(ctx context.Context) (*prover.Prover, error) {
	if r.prover != nil {
		return r.prover, nil
	}
	p, err := prover.New(ctx, r.backend, r.verifier, r.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up prover", err)
	}
	r.prover = p
	return p, nil
}

// variant names the verifier in the verification log.
func (r *runtime) variant() string {
	if r.verifier.Mock() {
		return store.VariantMock
	}
	return store.VariantProduction
}

// openStore opens the configured cache. It returns nil when none is
// configured.
func (r *runtime) openStore() (*store.Store, error) {
	if r.cfg.DB == "" {
		return nil, nil
	}
	st, err := store.Open(r.cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	r.closers = append(r.closers, st.Close)
	r.logger.Debug("database ready", "path", r.cfg.DB)
	return st, nil
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Error("error closing resource", "error", err)
		}
	}
	r.closers = nil
}

// logWriter forwards contract diagnostics to the debug log.
type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Debug("contract output", "stderr", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
