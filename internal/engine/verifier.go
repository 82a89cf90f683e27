package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/check"
)

// Request is one spell verification.
type Request struct {
	Spell       *charms.NormalizedSpell
	Ancestors   map[charms.TxID]*charms.NormalizedSpell
	BeamSources map[charms.UtxoID]charms.UtxoID

	// DeclaredIns and DeclaredRefs are the author's view of input charms,
	// compared against the ancestors when present.
	DeclaredIns  []charms.Charms
	DeclaredRefs []charms.Charms

	// AppInput is nil when the caller supplied no contract input at all.
	// Its PublicInputs are taken from the spell.
	AppInput *AppInput
}

// Result describes an accepted spell.
type Result struct {
	Tx          *charms.Transaction
	Apps        []AppResult
	TotalCycles uint64

	// FastPath is set when the spell was accepted without consulting any
	// contract input.
	FastPath bool
}

// IsCorrect runs the structural check and then the satisfaction gate. It
// returns a Result only when the spell is accepted.
func (e *Engine) IsCorrect(ctx context.Context, req Request) (*Result, error) {
	tx, err := check.Check(check.Request{
		Spell:        req.Spell,
		Ancestors:    req.Ancestors,
		BeamSources:  req.BeamSources,
		DeclaredIns:  req.DeclaredIns,
		DeclaredRefs: req.DeclaredRefs,
	})
	if err != nil {
		return nil, err
	}
	apps := req.Spell.Apps()

	if req.AppInput == nil {
		results := make([]AppResult, len(apps))
		for i, app := range apps {
			if !e.simple(app, tx) {
				return nil, charms.Errorf(charms.ErrCodeMissingBinary, "app needs a contract run but no contract input was supplied").WithApp(app)
			}
			results[i] = AppResult{App: app, FastPath: true}
		}
		for range apps {
			e.metrics.appRun(pathFast, nil, 0)
		}
		e.logger.Debug("accepted as simple transfer", "apps", len(apps))
		return &Result{Tx: tx, Apps: results, FastPath: true}, nil
	}

	in := *req.AppInput
	in.PublicInputs = req.Spell.AppPublicInputs
	results, err := e.RunAll(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	return &Result{Tx: tx, Apps: results, TotalCycles: TotalCycles(results)}, nil
}

// Verifier decides spell correctness.
type Verifier interface {
	Verify(ctx context.Context, req Request) (*Result, error)

	// Mock reports whether this verifier accepts mock spells.
	Mock() bool
}

// MockVerifier accepts mock spells and does not meter. For development
// and structural testing; its costs are always zero.
type MockVerifier struct {
	engine *Engine
}

// NewMockVerifier wraps e, which should run an unmetered sandbox.
func NewMockVerifier(e *Engine) *MockVerifier {
	return &MockVerifier{engine: e}
}

func (v *MockVerifier) Mock() bool { return true }

func (v *MockVerifier) Verify(ctx context.Context, req Request) (*Result, error) {
	res, err := v.engine.IsCorrect(ctx, req)
	v.engine.metrics.verification("mock", err)
	return res, err
}

// ProductionVerifier meters every contract run and refuses mock spells,
// both the one under verification and any of its ancestors.
type ProductionVerifier struct {
	engine *Engine
}

// ErrUnmetered is returned when a production verifier is built on an
// engine whose sandbox does not meter.
var ErrUnmetered = errors.New("production verification requires a metered sandbox")

func NewProductionVerifier(e *Engine) (*ProductionVerifier, error) {
	if !e.runner.Metering() {
		return nil, ErrUnmetered
	}
	return &ProductionVerifier{engine: e}, nil
}

func (v *ProductionVerifier) Mock() bool { return false }

func (v *ProductionVerifier) Verify(ctx context.Context, req Request) (*Result, error) {
	res, err := v.verify(ctx, req)
	v.engine.metrics.verification("production", err)
	return res, err
}

func (v *ProductionVerifier) verify(ctx context.Context, req Request) (*Result, error) {
	if req.Spell != nil && req.Spell.Mock {
		return nil, charms.Errorf(charms.ErrCodeMalformedSpell, "mock spell rejected by production verifier")
	}
	for _, id := range slices.SortedFunc(maps.Keys(req.Ancestors), charms.TxID.Compare) {
		if a := req.Ancestors[id]; a != nil && a.Mock {
			return nil, charms.Errorf(charms.ErrCodeInconsistentAncestry, "ancestor is a mock spell").WithTxID(id)
		}
	}
	return v.engine.IsCorrect(ctx, req)
}

// LoadBinaries reads contract files and keys them by verification key.
func LoadBinaries(paths ...string) (map[charms.B32][]byte, error) {
	binaries := make(map[charms.B32][]byte, len(paths))
	for _, p := range paths {
		bin, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("load contract: %w", err)
		}
		binaries[charms.VK(bin)] = bin
	}
	return binaries, nil
}
