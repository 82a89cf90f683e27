package sandbox

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/bytecodealliance/wasmtime-go/v25"

	"github.com/bitsnark/charms/internal/charms"
)

// DefaultMaxFuel is the per-run execution budget when metering is enabled.
const DefaultMaxFuel uint64 = 1_000_000_000

// Runner executes app contracts. A Runner is safe for concurrent use.
type Runner struct {
	engine   *wasmtime.Engine
	metering bool
	maxFuel  uint64

	diagMu sync.Mutex
	diag   io.Writer
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetering enables fuel metering.
func WithMetering(enabled bool) Option {
	return func(r *Runner) {
		r.metering = enabled
	}
}

// WithMaxFuel sets the per-run budget. Only meaningful with metering.
func WithMaxFuel(fuel uint64) Option {
	return func(r *Runner) {
		r.maxFuel = fuel
	}
}

// WithDiagnostics sets where contract stderr output goes. Each run's output
// is buffered and written in one piece when the run ends.
func WithDiagnostics(w io.Writer) Option {
	return func(r *Runner) {
		r.diag = w
	}
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		maxFuel: DefaultMaxFuel,
		diag:    io.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}

	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(r.metering)
	// Every verifier must reach the same outcome for the same contract.
	cfg.SetCraneliftFlag("enable_nan_canonicalization", "true")
	cfg.SetWasmRelaxedSIMD(false)
	cfg.SetWasmThreads(false)
	r.engine = wasmtime.NewEngineWithConfig(cfg)
	return r
}

// Metering reports whether runs are metered.
func (r *Runner) Metering() bool {
	return r.metering
}

// MaxFuel returns the per-run budget.
func (r *Runner) MaxFuel() uint64 {
	return r.maxFuel
}

type payload struct {
	_       struct{} `cbor:",toarray"`
	App     charms.App
	Tx      *charms.Transaction
	Public  charms.Data
	Private charms.Data
}

// Payload is the exact stdin a contract reads: the canonical encoding of
// (app, tx, public, private).
func Payload(app charms.App, tx *charms.Transaction, public, private charms.Data) ([]byte, error) {
	return charms.Marshal(payload{App: app, Tx: tx, Public: public, Private: private})
}

// Run executes binary as app's contract against tx and returns the fuel it
// consumed (zero when metering is off).
func (r *Runner) Run(binary []byte, app charms.App, tx *charms.Transaction, public, private charms.Data) (uint64, error) {
	if vk := charms.VK(binary); vk != app.VK {
		return 0, charms.Errorf(charms.ErrCodeIntegrity, "binary hash %s does not match app vk", vk).WithApp(app)
	}

	stdin, err := Payload(app, tx, public, private)
	if err != nil {
		return 0, charms.WrapError(charms.ErrCodeHostFault, "encode contract input", err).WithApp(app)
	}

	host := &hostState{stdin: stdin}
	defer r.flushDiagnostics(&host.stderr)

	store := wasmtime.NewStore(r.engine)
	if r.metering {
		if err := store.SetFuel(r.maxFuel); err != nil {
			return 0, charms.WrapError(charms.ErrCodeHostFault, "set fuel", err).WithApp(app)
		}
	}

	module, err := wasmtime.NewModule(r.engine, binary)
	if err != nil {
		return 0, charms.WrapError(charms.ErrCodeHostFault, "compile contract", err).WithApp(app)
	}

	linker := wasmtime.NewLinker(r.engine)
	if err := host.define(linker); err != nil {
		return 0, charms.WrapError(charms.ErrCodeHostFault, "define host functions", err).WithApp(app)
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		if failure := classify(host, err); failure != nil {
			return 0, failure.WithApp(app)
		}
		return 0, charms.Errorf(charms.ErrCodeHostFault, "contract exited during instantiation").WithApp(app)
	}

	start := instance.GetFunc(store, "_start")
	if start == nil {
		return 0, charms.Errorf(charms.ErrCodeHostFault, "contract does not export _start").WithApp(app)
	}
	if _, err := start.Call(store); err != nil {
		if failure := classify(host, err); failure != nil {
			return 0, failure.WithApp(app)
		}
	}

	if !r.metering {
		return 0, nil
	}
	remaining, err := store.GetFuel()
	if err != nil {
		return 0, charms.WrapError(charms.ErrCodeHostFault, "read fuel", err).WithApp(app)
	}
	cycles := r.maxFuel - remaining
	slog.Debug("contract run", "app", app.String(), "cycles", cycles)
	return cycles, nil
}

// classify maps a failed call to an error, or nil for a clean proc_exit(0).
func classify(host *hostState, err error) *charms.Error {
	if host.exited {
		if host.exitCode == 0 {
			return nil
		}
		return charms.Errorf(charms.ErrCodeContractRejected, "contract exited with code %d", host.exitCode)
	}
	if host.fault != nil {
		return charms.WrapError(charms.ErrCodeHostFault, "contract passed an invalid argument to the host", host.fault)
	}

	var trap *wasmtime.Trap
	if !errors.As(err, &trap) || trap.Code() == nil {
		return charms.WrapError(charms.ErrCodeHostFault, "contract execution failed", err)
	}
	switch *trap.Code() {
	case wasmtime.OutOfFuel:
		return charms.WrapError(charms.ErrCodeResourceExhausted, "execution budget exhausted", err)
	case wasmtime.UnreachableCodeReached,
		wasmtime.IntegerOverflow,
		wasmtime.IntegerDivisionByZero,
		wasmtime.BadConversionToInteger,
		wasmtime.StackOverflow:
		return charms.WrapError(charms.ErrCodeContractRejected, "contract trapped", err)
	default:
		return charms.WrapError(charms.ErrCodeHostFault, "contract faulted", err)
	}
}

func (r *Runner) flushDiagnostics(buf *bytes.Buffer) {
	if buf.Len() == 0 {
		return
	}
	r.diagMu.Lock()
	defer r.diagMu.Unlock()
	_, _ = r.diag.Write(buf.Bytes())
}
