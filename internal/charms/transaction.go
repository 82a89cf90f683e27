package charms

import (
	"fmt"
	"iter"
	"maps"
	"slices"
)

// CurrentVersion is the protocol version this build verifies.
const CurrentVersion uint32 = 7

// Charms maps each app to the charm value it holds on one output.
type Charms map[App]Data

// Equal reports whether c and o hold the same apps with equal values.
func (c Charms) Equal(o Charms) bool {
	if len(c) != len(o) {
		return false
	}
	for app, d := range c {
		od, ok := o[app]
		if !ok || !d.Equal(od) {
			return false
		}
	}
	return true
}

// Apps returns the apps in ascending order.
func (c Charms) Apps() []App {
	return SortedApps(maps.Keys(c))
}

// UtxoCharms pairs an input (or reference input) with its charms.
type UtxoCharms struct {
	_      struct{} `cbor:",toarray"`
	Utxo   UtxoID   `json:"utxo_id"`
	Charms Charms   `json:"charms"`
}

// Transaction is the view contracts validate against. It is constructed
// once per verification pass and must not be mutated afterwards.
type Transaction struct {
	Ins  []UtxoCharms `cbor:"ins" json:"ins"`
	Refs []UtxoCharms `cbor:"refs" json:"refs"`
	Outs []Charms     `cbor:"outs" json:"outs"`
}

// Apps returns every app appearing anywhere in the transaction, ascending.
func (tx *Transaction) Apps() []App {
	set := make(map[App]struct{})
	for _, in := range tx.Ins {
		for app := range in.Charms {
			set[app] = struct{}{}
		}
	}
	for _, ref := range tx.Refs {
		for app := range ref.Charms {
			set[app] = struct{}{}
		}
	}
	for _, out := range tx.Outs {
		for app := range out {
			set[app] = struct{}{}
		}
	}
	return SortedApps(maps.Keys(set))
}

// NormalizedCharms maps app index to value.
type NormalizedCharms map[uint32]Data

// NormalizedTransaction is the index-compressed transaction of a spell.
//
// Ins is nil once inputs have been cleared for on-chain embedding; the
// chain transaction itself already lists them.
type NormalizedTransaction struct {
	Ins        []UtxoID           `cbor:"ins,omitempty" json:"ins,omitempty"`
	Refs       []UtxoID           `cbor:"refs,omitempty" json:"refs,omitempty"`
	Outs       []NormalizedCharms `cbor:"outs" json:"outs"`
	BeamedOuts map[uint32]B32     `cbor:"beamed_outs,omitempty" json:"beamed_outs,omitempty"`
}

// PrevTxIDs returns the distinct transaction IDs of inputs and reference
// inputs, ascending.
func (t *NormalizedTransaction) PrevTxIDs() []TxID {
	set := make(map[TxID]struct{}, len(t.Ins)+len(t.Refs))
	for _, u := range t.Ins {
		set[u.TxID] = struct{}{}
	}
	for _, u := range t.Refs {
		set[u.TxID] = struct{}{}
	}
	return slices.SortedFunc(maps.Keys(set), TxID.Compare)
}

// NormalizedSpell is the canonical, proof-visible form of a spell.
//
// The keys of AppPublicInputs are the spell's app table: app index i is
// the i-th app in ascending App order.
type NormalizedSpell struct {
	Version         uint32                `cbor:"version" json:"version"`
	Tx              NormalizedTransaction `cbor:"tx" json:"tx"`
	AppPublicInputs map[App]Data          `cbor:"app_public_inputs" json:"app_public_inputs"`
	Mock            bool                  `cbor:"mock,omitempty" json:"mock,omitempty"`
}

// Apps returns the app table in index order.
func (s *NormalizedSpell) Apps() []App {
	return SortedApps(maps.Keys(s.AppPublicInputs))
}

// OutputCharms resolves the charms of output i, mapping app indexes back
// to apps. Outputs beyond the end of the spell carry no charms.
func (s *NormalizedSpell) OutputCharms(i uint32) (Charms, error) {
	if int(i) >= len(s.Tx.Outs) {
		return Charms{}, nil
	}
	apps := s.Apps()
	out := make(Charms, len(s.Tx.Outs[i]))
	for idx, d := range s.Tx.Outs[i] {
		if int(idx) >= len(apps) {
			return nil, fmt.Errorf("output %d: app index %d out of range (%d apps)", i, idx, len(apps))
		}
		out[apps[idx]] = d
	}
	return out, nil
}

// IsBeamedOut reports whether output i carries a beam destination marker.
func (s *NormalizedSpell) IsBeamedOut(i uint32) bool {
	_, ok := s.Tx.BeamedOuts[i]
	return ok
}

// ClearInputs returns a copy of s with the input list dropped.
func (s *NormalizedSpell) ClearInputs() *NormalizedSpell {
	c := *s
	c.Tx.Ins = nil
	return &c
}

// SortedApps collects and sorts apps ascending.
func SortedApps(seq iter.Seq[App]) []App {
	return slices.SortedFunc(seq, App.Compare)
}
