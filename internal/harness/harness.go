package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/engine"
	"github.com/bitsnark/charms/internal/sandbox"
	"github.com/bitsnark/charms/internal/spell"
	"github.com/bitsnark/charms/internal/testutil"
)

// Run executes a scenario and compares its outcome with the expectation.
//
// A scenario whose ancestors or contracts cannot be loaded is an error.
// Problems with the spell under test are outcomes: they reject the spell.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	ancestors := make(map[charms.TxID]*charms.NormalizedSpell, len(scenario.Ancestors))
	for name, node := range scenario.Ancestors {
		ns, err := normalizeNode("ancestor "+name, &node)
		if err != nil {
			return nil, fmt.Errorf("ancestor %s: %w", name, err)
		}
		ancestors[testutil.NamedTxID(name)] = ns.spell
	}

	var binaries map[charms.B32][]byte
	if scenario.AppInput != nil {
		binaries = make(map[charms.B32][]byte, len(scenario.AppInput.Binaries))
		for _, name := range scenario.AppInput.Binaries {
			bin, err := loadContract(scenario.dir, name)
			if err != nil {
				return nil, fmt.Errorf("contract %s: %w", name, err)
			}
			binaries[charms.VK(bin)] = bin
		}
	}

	verifier, err := newVerifier(scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	res, err := verify(ctx, verifier, scenario, ancestors, binaries)
	if err != nil {
		result.ErrorCode = charms.CodeOf(err)
		result.Err = err
	} else {
		result.Accepted = true
		result.FastPath = res.FastPath
		result.TotalCycles = res.TotalCycles
		for i, r := range res.Apps {
			result.Apps = append(result.Apps, AppOutcome{Index: i, App: r.App, FastPath: r.FastPath, Cycles: r.Cycles})
		}
	}

	for _, msg := range evaluate(scenario.Expect, result) {
		result.AddError(msg)
	}
	return result, nil
}

func newVerifier(scenario *Scenario) (engine.Verifier, error) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := []engine.Option{engine.WithLogger(quiet)}
	if scenario.Parallelism > 0 {
		opts = append(opts, engine.WithParallelism(scenario.Parallelism))
	}

	if scenario.Verifier == VerifierProduction {
		runner := sandbox.New(sandbox.WithMetering(true), sandbox.WithDiagnostics(io.Discard))
		return engine.NewProductionVerifier(engine.New(runner, opts...))
	}
	runner := sandbox.New(sandbox.WithDiagnostics(io.Discard))
	return engine.NewMockVerifier(engine.New(runner, opts...)), nil
}

type normalized struct {
	spell   *charms.NormalizedSpell
	private map[charms.App]charms.Data
	beams   map[charms.UtxoID]charms.UtxoID
	ins     []charms.Charms
	refs    []charms.Charms
}

// normalizeNode parses a source spell embedded in the scenario, with the
// same schema checks as a spell file.
func normalizeNode(name string, node *yaml.Node) (*normalized, error) {
	data, err := yaml.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("re-encode spell: %w", err)
	}
	src, err := spell.Parse(name, data, spell.FormatYAML)
	if err != nil {
		return nil, err
	}
	ns, private, beams, err := spell.Normalize(src)
	if err != nil {
		return nil, err
	}
	ins, refs, err := src.DeclaredInputs()
	if err != nil {
		return nil, err
	}
	return &normalized{spell: ns, private: private, beams: beams, ins: ins, refs: refs}, nil
}

func verify(ctx context.Context, v engine.Verifier, scenario *Scenario, ancestors map[charms.TxID]*charms.NormalizedSpell, binaries map[charms.B32][]byte) (*engine.Result, error) {
	n, err := normalizeNode("spell", &scenario.Spell)
	if err != nil {
		return nil, err
	}
	var in *engine.AppInput
	if binaries != nil {
		in = &engine.AppInput{Binaries: binaries, PrivateInputs: n.private}
	}
	return v.Verify(ctx, engine.Request{
		Spell:        n.spell,
		Ancestors:    ancestors,
		BeamSources:  n.beams,
		DeclaredIns:  n.ins,
		DeclaredRefs: n.refs,
		AppInput:     in,
	})
}

// evaluate compares a result with the expectation and returns every
// mismatch.
func evaluate(want Expect, got *Result) []string {
	var errs []string
	if want.Accepted != got.Accepted {
		if got.Err != nil {
			errs = append(errs, fmt.Sprintf("expected spell to be accepted, got %v", got.Err))
		} else {
			errs = append(errs, fmt.Sprintf("expected %s rejection, spell was accepted", want.Error))
		}
		return errs
	}
	if !want.Accepted {
		if got.ErrorCode != want.Error {
			errs = append(errs, fmt.Sprintf("expected %s, got %v", want.Error, got.Err))
		}
		return errs
	}

	if want.FastPath != nil && *want.FastPath != got.FastPath {
		errs = append(errs, fmt.Sprintf("expected fast_path %t, got %t", *want.FastPath, got.FastPath))
	}
	if want.Apps == nil {
		return errs
	}
	if len(want.Apps) != len(got.Apps) {
		return append(errs, fmt.Sprintf("expected %d app results, got %d", len(want.Apps), len(got.Apps)))
	}
	for i, w := range want.Apps {
		g := got.Apps[i]
		if w.Index != g.Index {
			errs = append(errs, fmt.Sprintf("app result %d: expected index %d, got %d", i, w.Index, g.Index))
		}
		if w.FastPath != g.FastPath {
			errs = append(errs, fmt.Sprintf("app %d: expected fast_path %t, got %t", g.Index, w.FastPath, g.FastPath))
		}
		if w.Metered != nil && *w.Metered != (g.Cycles > 0) {
			errs = append(errs, fmt.Sprintf("app %d: expected metered %t, got %d cycles", g.Index, *w.Metered, g.Cycles))
		}
	}
	return errs
}
