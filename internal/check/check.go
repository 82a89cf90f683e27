// Package check validates a normalized spell against the ancestor spells
// it builds on and produces the resolved transaction view.
//
// Checks run cheapest first and stop at the first failure. Nothing here
// executes contract code: a spell that fails these checks never reaches
// the sandbox.
//
// Ancestors are a flat map of already-verified spells keyed by transaction
// ID. Resolution looks one level up only; an ancestor's own ancestry was
// settled when that ancestor was verified.
package check

import (
	"maps"
	"slices"

	"github.com/bitsnark/charms/internal/charms"
)

// Request is the input to Check.
type Request struct {
	// Spell is the spell under verification. Its inputs must be present.
	Spell *charms.NormalizedSpell

	// Ancestors maps every transaction the spell spends from, references or
	// beams from to that transaction's verified spell. Transactions without
	// charms map to an empty spell.
	Ancestors map[charms.TxID]*charms.NormalizedSpell

	// BeamSources maps inputs teleported from another chain to the UTXO on
	// the origin chain they were beamed from.
	BeamSources map[charms.UtxoID]charms.UtxoID

	// DeclaredIns and DeclaredRefs are the charms the spell author declared
	// per input (nil entries: not declared). Optional.
	DeclaredIns  []charms.Charms
	DeclaredRefs []charms.Charms
}

func malformed(format string, args ...any) *charms.Error {
	return charms.Errorf(charms.ErrCodeMalformedSpell, format, args...)
}

func inconsistent(format string, args ...any) *charms.Error {
	return charms.Errorf(charms.ErrCodeInconsistentAncestry, format, args...)
}

// Check verifies structural consistency and returns the transaction view.
//
// Shape violations are MalformedSpell. A missing or extra ancestor, an
// attempt to spend a beamed-out output directly, or a beam without the
// origin's matching marker is InconsistentAncestry. Declared input charms
// that differ from what the ancestor output holds are MalformedSpell.
func Check(req Request) (*charms.Transaction, error) {
	ns := req.Spell
	if err := checkShape(req); err != nil {
		return nil, err
	}
	if err := checkAncestorSet(req); err != nil {
		return nil, err
	}

	ins := make([]charms.UtxoCharms, len(ns.Tx.Ins))
	for i, u := range ns.Tx.Ins {
		c, err := resolveInput(req, u)
		if err != nil {
			return nil, err
		}
		if i < len(req.DeclaredIns) && req.DeclaredIns[i] != nil && !req.DeclaredIns[i].Equal(c) {
			return nil, malformed("input %d: declared charms differ from the ancestor output", i).WithUtxo(u)
		}
		ins[i] = charms.UtxoCharms{Utxo: u, Charms: c}
	}

	refs := make([]charms.UtxoCharms, len(ns.Tx.Refs))
	for i, u := range ns.Tx.Refs {
		c, err := outputCharms(req.Ancestors[u.TxID], u)
		if err != nil {
			return nil, err
		}
		if i < len(req.DeclaredRefs) && req.DeclaredRefs[i] != nil && !req.DeclaredRefs[i].Equal(c) {
			return nil, malformed("reference input %d: declared charms differ from the ancestor output", i).WithUtxo(u)
		}
		refs[i] = charms.UtxoCharms{Utxo: u, Charms: c}
	}

	apps := ns.Apps()
	outs := make([]charms.Charms, len(ns.Tx.Outs))
	for i, nc := range ns.Tx.Outs {
		c := make(charms.Charms, len(nc))
		for idx, d := range nc {
			c[apps[idx]] = d
		}
		outs[i] = c
	}

	return &charms.Transaction{Ins: ins, Refs: refs, Outs: outs}, nil
}

func checkShape(req Request) error {
	ns := req.Spell
	if ns == nil {
		return malformed("no spell")
	}
	if ns.Version != charms.CurrentVersion {
		return malformed("unsupported version %d (current %d)", ns.Version, charms.CurrentVersion)
	}
	if ns.Tx.Ins == nil {
		return malformed("spell inputs are missing")
	}

	apps := ns.Apps()
	for i, nc := range ns.Tx.Outs {
		for _, idx := range slices.Sorted(maps.Keys(nc)) {
			d := nc[idx]
			if int(idx) >= len(apps) {
				return malformed("output %d: app index %d out of range (%d apps)", i, idx, len(apps))
			}
			app := apps[idx]
			if app.Tag != charms.TokenTag {
				continue
			}
			amount, err := charms.TokenAmount(d)
			if err == nil && amount == 0 {
				return malformed("output %d: zero token amount", i).WithApp(app)
			}
		}
	}
	for i := range ns.Tx.BeamedOuts {
		if int(i) >= len(ns.Tx.Outs) {
			return malformed("beam destination for missing output %d", i)
		}
	}

	inputs := make(map[charms.UtxoID]struct{}, len(ns.Tx.Ins))
	for _, u := range ns.Tx.Ins {
		if _, dup := inputs[u]; dup {
			return malformed("duplicate input").WithUtxo(u)
		}
		inputs[u] = struct{}{}
	}
	for _, u := range slices.SortedFunc(maps.Keys(req.BeamSources), charms.UtxoID.Compare) {
		if _, ok := inputs[u]; !ok {
			return malformed("beam source bound to a UTXO that is not an input").WithUtxo(u)
		}
	}
	return nil
}

// checkAncestorSet requires the ancestor map keys to be exactly the
// transactions the spell refers to.
func checkAncestorSet(req Request) error {
	ns := req.Spell
	referenced := make(map[charms.TxID]struct{})

	need := func(u charms.UtxoID) error {
		referenced[u.TxID] = struct{}{}
		if _, ok := req.Ancestors[u.TxID]; !ok {
			return inconsistent("ancestor transaction missing").WithUtxo(u).WithTxID(u.TxID)
		}
		return nil
	}
	for _, u := range ns.Tx.Ins {
		if err := need(u); err != nil {
			return err
		}
	}
	for _, u := range ns.Tx.Refs {
		if err := need(u); err != nil {
			return err
		}
	}
	for _, in := range slices.SortedFunc(maps.Keys(req.BeamSources), charms.UtxoID.Compare) {
		if err := need(req.BeamSources[in]); err != nil {
			return err
		}
	}

	for _, id := range slices.SortedFunc(maps.Keys(req.Ancestors), charms.TxID.Compare) {
		if _, ok := referenced[id]; !ok {
			return inconsistent("unreferenced ancestor transaction supplied").WithTxID(id)
		}
		if req.Ancestors[id] == nil {
			return inconsistent("nil ancestor spell").WithTxID(id)
		}
	}
	return nil
}

func resolveInput(req Request, u charms.UtxoID) (charms.Charms, error) {
	source, beamed := req.BeamSources[u]
	if !beamed {
		parent := req.Ancestors[u.TxID]
		if parent.IsBeamedOut(u.Vout) {
			return nil, inconsistent("output was beamed out and cannot be spent directly").WithUtxo(u)
		}
		return outputCharms(parent, u)
	}

	origin := req.Ancestors[source.TxID]
	marker, ok := origin.Tx.BeamedOuts[source.Vout]
	if !ok {
		return nil, inconsistent("beam source output carries no beam destination").WithUtxo(source)
	}
	if marker != charms.BeamDestination(u) {
		return nil, inconsistent("beam source output is bound to a different destination").WithUtxo(u)
	}
	return outputCharms(origin, source)
}

func outputCharms(parent *charms.NormalizedSpell, u charms.UtxoID) (charms.Charms, error) {
	c, err := parent.OutputCharms(u.Vout)
	if err != nil {
		return nil, charms.WrapError(charms.ErrCodeInconsistentAncestry, "ancestor spell is malformed", err).WithUtxo(u)
	}
	return c, nil
}
