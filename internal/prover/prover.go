package prover

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/engine"
)

// Request is a spell to prove together with everything needed to verify
// it first.
type Request struct {
	Spell       *charms.NormalizedSpell
	Ancestors   map[charms.TxID]*charms.NormalizedSpell
	BeamSources map[charms.UtxoID]charms.UtxoID

	DeclaredIns  []charms.Charms
	DeclaredRefs []charms.Charms

	// Binaries and PrivateInputs form the contract input. With no binaries
	// the spell must pass as a simple transfer.
	Binaries      map[charms.B32][]byte
	PrivateInputs map[charms.App]charms.Data
}

// Proved is a proven spell in its on-chain form.
type Proved struct {
	// Spell has its inputs cleared; the transaction carries them.
	Spell  *charms.NormalizedSpell
	Proof  []byte
	Cycles uint64
}

// Prover verifies spells and proves them with a Backend.
type Prover struct {
	backend  Backend
	verifier engine.Verifier
	pk       ProvingKey
	vk       charms.B32
	logger   *slog.Logger
}

// New runs backend setup for the spell checker program once and returns a
// Prover that checks every spell with verifier before proving it.
func New(ctx context.Context, backend Backend, verifier engine.Verifier, logger *slog.Logger) (*Prover, error) {
	pk, vk, err := backend.Setup(ctx, SpellCheckerProgram)
	if err != nil {
		return nil, fmt.Errorf("prover setup: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prover{backend: backend, verifier: verifier, pk: pk, vk: vk, logger: logger}, nil
}

// VK is the verification key proofs from this Prover verify under.
func (p *Prover) VK() charms.B32 {
	return p.vk
}

// Prove verifies req.Spell and proves it. A mock verifier marks the spell
// as mock before anything else, so the mock flag is part of what is
// proven.
func (p *Prover) Prove(ctx context.Context, req Request) (*Proved, error) {
	if req.Spell == nil {
		return nil, charms.Errorf(charms.ErrCodeMalformedSpell, "no spell")
	}
	spell := *req.Spell
	if p.verifier.Mock() {
		spell.Mock = true
	}

	var in *engine.AppInput
	if len(req.Binaries) > 0 {
		in = &engine.AppInput{Binaries: req.Binaries, PrivateInputs: req.PrivateInputs}
	}
	res, err := p.verifier.Verify(ctx, engine.Request{
		Spell:        &spell,
		Ancestors:    req.Ancestors,
		BeamSources:  req.BeamSources,
		DeclaredIns:  req.DeclaredIns,
		DeclaredRefs: req.DeclaredRefs,
		AppInput:     in,
	})
	if err != nil {
		return nil, err
	}

	committed, err := charms.CommittedData(p.vk, &spell)
	if err != nil {
		return nil, err
	}
	proof, err := p.backend.Prove(ctx, p.pk, committed)
	if err != nil {
		return nil, fmt.Errorf("prove spell: %w", err)
	}
	p.logger.Info("proof generated", "total_cycles", res.TotalCycles, "mock", spell.Mock)

	return &Proved{Spell: spell.ClearInputs(), Proof: proof, Cycles: res.TotalCycles}, nil
}
