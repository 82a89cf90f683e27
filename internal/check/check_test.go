package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsnark/charms/internal/charms"
)

func b32(b byte) charms.B32 {
	var v charms.B32
	for i := range v {
		v[i] = b
	}
	return v
}

func txid(b byte) charms.TxID { return charms.TxID(b32(b)) }

var token = charms.NewApp(charms.TokenTag, b32(0xa0), b32(0xb0))

// parentSpell creates token outputs with the given amounts.
func parentSpell(amounts ...int) *charms.NormalizedSpell {
	outs := make([]charms.NormalizedCharms, len(amounts))
	for i, a := range amounts {
		outs[i] = charms.NormalizedCharms{0: charms.MustData(a)}
	}
	return &charms.NormalizedSpell{
		Version:         charms.CurrentVersion,
		Tx:              charms.NormalizedTransaction{Ins: []charms.UtxoID{}, Outs: outs},
		AppPublicInputs: map[charms.App]charms.Data{token: {}},
	}
}

func childSpell(ins []charms.UtxoID, amounts ...int) *charms.NormalizedSpell {
	s := parentSpell(amounts...)
	s.Tx.Ins = ins
	return s
}

func TestCheckResolvesTransaction(t *testing.T) {
	in := charms.NewUtxoID(txid(1), 1)
	ref := charms.NewUtxoID(txid(2), 0)
	spell := childSpell([]charms.UtxoID{in}, 30, 20)
	spell.Tx.Refs = []charms.UtxoID{ref}

	tx, err := Check(Request{
		Spell: spell,
		Ancestors: map[charms.TxID]*charms.NormalizedSpell{
			txid(1): parentSpell(10, 50),
			txid(2): parentSpell(7),
		},
	})
	require.NoError(t, err)

	require.Len(t, tx.Ins, 1)
	assert.Equal(t, in, tx.Ins[0].Utxo)
	assert.True(t, tx.Ins[0].Charms[token].Equal(charms.MustData(50)))
	require.Len(t, tx.Refs, 1)
	assert.True(t, tx.Refs[0].Charms[token].Equal(charms.MustData(7)))
	require.Len(t, tx.Outs, 2)
	assert.True(t, tx.Outs[1][token].Equal(charms.MustData(20)))
	assert.True(t, charms.IsSimpleTransfer(token, tx))
}

func TestCheckMissingOutputIsEmpty(t *testing.T) {
	in := charms.NewUtxoID(txid(1), 5)
	tx, err := Check(Request{
		Spell:     childSpell([]charms.UtxoID{in}),
		Ancestors: map[charms.TxID]*charms.NormalizedSpell{txid(1): parentSpell(10)},
	})
	require.NoError(t, err)
	assert.Empty(t, tx.Ins[0].Charms)
}

func TestCheckPlainAncestor(t *testing.T) {
	// A transaction without charms is supplied as an empty spell.
	in := charms.NewUtxoID(txid(1), 0)
	tx, err := Check(Request{
		Spell:     childSpell([]charms.UtxoID{in}),
		Ancestors: map[charms.TxID]*charms.NormalizedSpell{txid(1): {}},
	})
	require.NoError(t, err)
	assert.Empty(t, tx.Ins[0].Charms)
}

func TestCheckAncestryCompleteness(t *testing.T) {
	in1 := charms.NewUtxoID(txid(1), 0)
	in2 := charms.NewUtxoID(txid(2), 0)
	ref := charms.NewUtxoID(txid(3), 0)
	beamedIn := charms.NewUtxoID(txid(4), 0)
	source := charms.NewUtxoID(txid(5), 0)

	origin := parentSpell(10)
	origin.Tx.BeamedOuts = map[uint32]charms.B32{0: charms.BeamDestination(beamedIn)}

	spell := childSpell([]charms.UtxoID{in1, in2, beamedIn}, 10)
	spell.Tx.Refs = []charms.UtxoID{ref}
	full := map[charms.TxID]*charms.NormalizedSpell{
		txid(1): parentSpell(0),
		txid(2): {},
		txid(3): parentSpell(1),
		txid(4): {},
		txid(5): origin,
	}
	beams := map[charms.UtxoID]charms.UtxoID{beamedIn: source}

	_, err := Check(Request{Spell: spell, Ancestors: full, BeamSources: beams})
	require.NoError(t, err)

	for id := range full {
		t.Run(id.String()[:8], func(t *testing.T) {
			partial := make(map[charms.TxID]*charms.NormalizedSpell)
			for k, v := range full {
				if k != id {
					partial[k] = v
				}
			}
			_, err := Check(Request{Spell: spell, Ancestors: partial, BeamSources: beams})
			require.Error(t, err)
			assert.True(t, charms.IsInconsistentAncestry(err), "got %v", err)
		})
	}
}

func TestCheckRejectsExtraAncestor(t *testing.T) {
	in := charms.NewUtxoID(txid(1), 0)
	_, err := Check(Request{
		Spell: childSpell([]charms.UtxoID{in}),
		Ancestors: map[charms.TxID]*charms.NormalizedSpell{
			txid(1): parentSpell(1),
			txid(9): parentSpell(1),
		},
	})
	require.Error(t, err)
	assert.True(t, charms.IsInconsistentAncestry(err))

	var cerr *charms.Error
	require.ErrorAs(t, err, &cerr)
	require.NotNil(t, cerr.TxID)
	assert.Equal(t, txid(9), *cerr.TxID)
}

func TestCheckDeclaredCharmsMustMatchAncestor(t *testing.T) {
	in := charms.NewUtxoID(txid(1), 0)
	req := Request{
		Spell:       childSpell([]charms.UtxoID{in}, 5),
		Ancestors:   map[charms.TxID]*charms.NormalizedSpell{txid(1): parentSpell(5)},
		DeclaredIns: []charms.Charms{{token: charms.MustData(5)}},
	}
	_, err := Check(req)
	require.NoError(t, err)

	req.DeclaredIns = []charms.Charms{{token: charms.MustData(6)}}
	_, err = Check(req)
	require.Error(t, err)
	assert.True(t, charms.IsMalformedSpell(err))

	req.DeclaredIns = []charms.Charms{nil}
	_, err = Check(req)
	assert.NoError(t, err, "undeclared inputs are not compared")
}

func TestCheckBeaming(t *testing.T) {
	beamedIn := charms.NewUtxoID(txid(4), 0)
	source := charms.NewUtxoID(txid(5), 1)

	tests := []struct {
		name    string
		marker  map[uint32]charms.B32
		wantErr bool
	}{
		{"bound both ways", map[uint32]charms.B32{1: charms.BeamDestination(beamedIn)}, false},
		{"no marker on origin", nil, true},
		{"marker for other output", map[uint32]charms.B32{0: charms.BeamDestination(beamedIn)}, true},
		{"marker to other destination", map[uint32]charms.B32{1: charms.BeamDestination(charms.NewUtxoID(txid(4), 1))}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin := parentSpell(3, 8)
			origin.Tx.BeamedOuts = tt.marker
			tx, err := Check(Request{
				Spell:       childSpell([]charms.UtxoID{beamedIn}, 8),
				Ancestors:   map[charms.TxID]*charms.NormalizedSpell{txid(4): {}, txid(5): origin},
				BeamSources: map[charms.UtxoID]charms.UtxoID{beamedIn: source},
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, charms.IsInconsistentAncestry(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tx.Ins[0].Charms[token].Equal(charms.MustData(8)), "charms come from the beam source")
		})
	}
}

func TestCheckCannotSpendBeamedOutOutput(t *testing.T) {
	in := charms.NewUtxoID(txid(1), 0)
	parent := parentSpell(5)
	parent.Tx.BeamedOuts = map[uint32]charms.B32{0: b32(0xee)}

	_, err := Check(Request{
		Spell:     childSpell([]charms.UtxoID{in}, 5),
		Ancestors: map[charms.TxID]*charms.NormalizedSpell{txid(1): parent},
	})
	require.Error(t, err)
	assert.True(t, charms.IsInconsistentAncestry(err))
}

func TestCheckShape(t *testing.T) {
	in := charms.NewUtxoID(txid(1), 0)
	ancestors := map[charms.TxID]*charms.NormalizedSpell{txid(1): parentSpell(5)}

	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"wrong version", func(r *Request) { r.Spell.Version = 1 }},
		{"cleared inputs", func(r *Request) { r.Spell.Tx.Ins = nil }},
		{"app index out of range", func(r *Request) { r.Spell.Tx.Outs[0][3] = charms.MustData(1) }},
		{"zero token amount", func(r *Request) { r.Spell.Tx.Outs[0][0] = charms.MustData(0) }},
		{"beam marker past outputs", func(r *Request) { r.Spell.Tx.BeamedOuts = map[uint32]charms.B32{4: b32(1)} }},
		{"beam source for non input", func(r *Request) {
			r.BeamSources = map[charms.UtxoID]charms.UtxoID{charms.NewUtxoID(txid(7), 0): in}
		}},
		{"duplicate input", func(r *Request) { r.Spell.Tx.Ins = []charms.UtxoID{in, in} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Spell: childSpell([]charms.UtxoID{in}, 5), Ancestors: ancestors}
			tt.mutate(&req)
			_, err := Check(req)
			require.Error(t, err)
			assert.True(t, charms.IsMalformedSpell(err), "got %v", err)
		})
	}
}

func TestCheckShapeReportsLowestAppIndexFirst(t *testing.T) {
	in := charms.NewUtxoID(txid(1), 0)
	ancestors := map[charms.TxID]*charms.NormalizedSpell{txid(1): parentSpell(5)}

	for range 50 {
		req := Request{Spell: childSpell([]charms.UtxoID{in}, 5), Ancestors: ancestors}
		req.Spell.Tx.Outs[0][0] = charms.MustData(0)
		for idx := uint32(3); idx < 10; idx++ {
			req.Spell.Tx.Outs[0][idx] = charms.MustData(1)
		}

		_, err := Check(req)
		require.Error(t, err)
		assert.ErrorContains(t, err, "zero token amount")

		var cerr *charms.Error
		require.ErrorAs(t, err, &cerr)
		require.NotNil(t, cerr.App)
		assert.Equal(t, token, *cerr.App)
	}
}
