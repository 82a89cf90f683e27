package charms

import (
	"crypto/sha256"
	"fmt"
)

// VK computes the verification key of a contract binary: its SHA-256.
func VK(binary []byte) B32 {
	return B32(sha256.Sum256(binary))
}

// BeamDestination is the marker an origin-chain output carries when its
// charms are beamed to u on another chain: SHA-256(u.Bytes()).
func BeamDestination(u UtxoID) B32 {
	return B32(sha256.Sum256(u.Bytes()))
}

// committedData is the pair a spell proof attests to.
type committedData struct {
	_       struct{} `cbor:",toarray"`
	SpellVK B32
	Spell   *NormalizedSpell
}

// CommittedData returns the canonical bytes bound into a spell proof: the
// spell checker's verification key and the spell with its inputs.
func CommittedData(spellVK B32, spell *NormalizedSpell) ([]byte, error) {
	if spell.Tx.Ins == nil {
		return nil, fmt.Errorf("committed data: spell inputs must be present")
	}
	return Marshal(committedData{SpellVK: spellVK, Spell: spell})
}
