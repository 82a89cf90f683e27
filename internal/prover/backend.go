// Package prover turns verified spells into proofs.
//
// The proof system itself is a collaborator behind Backend: Setup derives
// a proving key and verification key for a program, Prove produces a
// proof over committed bytes. Backends are chosen at configuration time
// (MockBackend in-process, RemoteBackend over gRPC) and injected into a
// Prover.
//
// A proof always commits to CommittedData(vk, spell) with the spell's
// inputs present. On chain the inputs are cleared; verifiers restore them
// from the enclosing transaction before checking the proof.
package prover

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitsnark/charms/internal/charms"
)

// SpellCheckerProgram identifies the spell checker the proofs attest to
// running. Changing it changes every verification key.
var SpellCheckerProgram = []byte(fmt.Sprintf("charms-spell-checker/v%d", charms.CurrentVersion))

// ProvingKey is opaque backend state returned by Setup.
type ProvingKey []byte

// Backend is a proof system.
type Backend interface {
	Setup(ctx context.Context, program []byte) (ProvingKey, charms.B32, error)
	Prove(ctx context.Context, pk ProvingKey, committed []byte) ([]byte, error)
}

// ProofVerifier checks proofs produced by a Backend.
type ProofVerifier interface {
	VerifyProof(ctx context.Context, vk charms.B32, committed, proof []byte) error
}

// ErrInvalidProof is returned (wrapped) when a proof does not verify.
var ErrInvalidProof = errors.New("invalid proof")

// VerifySpell checks proof for spell under vk. spell must carry its inputs.
func VerifySpell(ctx context.Context, pv ProofVerifier, vk charms.B32, spell *charms.NormalizedSpell, proof []byte) error {
	committed, err := charms.CommittedData(vk, spell)
	if err != nil {
		return err
	}
	return pv.VerifyProof(ctx, vk, committed, proof)
}
