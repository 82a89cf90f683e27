// Package ledger reads proven spells out of chain transactions.
//
// A spell travels on chain as an Envelope: the normalized spell with its
// inputs cleared plus the proof. Chain-specific code implements Adapter;
// everything about trusting what was extracted lives here.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/prover"
)

// ErrNoSpell is returned by Adapter.Extract for transactions that carry no
// spell envelope.
var ErrNoSpell = errors.New("transaction carries no spell")

// Envelope is the on-chain form of a proven spell.
type Envelope struct {
	_     struct{} `cbor:",toarray"`
	Spell *charms.NormalizedSpell
	Proof []byte
}

// Encode returns the canonical envelope bytes.
func (e *Envelope) Encode() ([]byte, error) {
	return charms.Marshal(e)
}

// DecodeEnvelope parses envelope bytes.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	env := new(Envelope)
	if err := charms.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Spell == nil {
		return nil, fmt.Errorf("decode envelope: missing spell")
	}
	return env, nil
}

// Adapter understands one chain's transaction format.
type Adapter interface {
	Chain() string

	// TxID returns the ID of the raw transaction.
	TxID(raw []byte) (charms.TxID, error)

	// Extract returns the envelope carried by raw and the transaction
	// inputs the spell's inputs are restored from. ErrNoSpell when there
	// is no envelope.
	Extract(raw []byte) (*Envelope, []charms.UtxoID, error)
}

// ExtractAndVerify returns the spell carried by raw, with its inputs
// restored, if its proof verifies under vk and its mock flag matches mock.
func ExtractAndVerify(ctx context.Context, a Adapter, raw []byte, vk charms.B32, pv prover.ProofVerifier, mock bool) (*charms.NormalizedSpell, error) {
	env, ins, err := a.Extract(raw)
	if err != nil {
		return nil, err
	}
	spell := env.Spell
	if spell.Version != charms.CurrentVersion {
		return nil, fmt.Errorf("unsupported spell version %d", spell.Version)
	}
	if spell.Tx.Ins != nil {
		return nil, fmt.Errorf("on-chain spell must not list its inputs")
	}
	if spell.Mock != mock {
		return nil, fmt.Errorf("spell mock flag is %t, expected %t", spell.Mock, mock)
	}

	restored := *spell
	restored.Tx.Ins = ins
	if err := prover.VerifySpell(ctx, pv, vk, &restored, env.Proof); err != nil {
		return nil, err
	}
	return &restored, nil
}

// PrevSpells resolves ancestor transactions to their verified spells.
// Transactions without a valid spell map to an empty spell: their outputs
// carry no charms. Only transactions that cannot be parsed are an error.
func PrevSpells(ctx context.Context, a Adapter, raws [][]byte, vk charms.B32, pv prover.ProofVerifier, mock bool) (map[charms.TxID]*charms.NormalizedSpell, error) {
	spells := make(map[charms.TxID]*charms.NormalizedSpell, len(raws))
	for _, raw := range raws {
		id, err := a.TxID(raw)
		if err != nil {
			return nil, fmt.Errorf("%s transaction: %w", a.Chain(), err)
		}
		spell, err := ExtractAndVerify(ctx, a, raw, vk, pv, mock)
		if err != nil {
			if !errors.Is(err, ErrNoSpell) {
				slog.Debug("ignoring invalid spell", "chain", a.Chain(), "tx", id.String(), "error", err)
			}
			spell = &charms.NormalizedSpell{}
		}
		spells[id] = spell
	}
	return spells, nil
}
