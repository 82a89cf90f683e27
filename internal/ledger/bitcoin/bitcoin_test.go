package bitcoin

import (
	"bytes"
	"context"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/engine"
	"github.com/bitsnark/charms/internal/ledger"
	"github.com/bitsnark/charms/internal/prover"
	"github.com/bitsnark/charms/internal/sandbox"
	"github.com/bitsnark/charms/internal/testutil"
)

func testKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	seed := sha256.Sum256([]byte("bitcoin adapter test key"))
	priv, _ := btcec.PrivKeyFromBytes(seed[:])
	return priv
}

func TestDataScriptRoundTrip(t *testing.T) {
	key := testKey(t).PubKey()
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"single zero byte", []byte{0x00}},
		{"single small int", []byte{0x05}},
		{"single 0x81", []byte{0x81}},
		{"one chunk", bytes.Repeat([]byte{0xab}, 520)},
		{"chunk plus one zero", append(bytes.Repeat([]byte{0xab}, 520), 0x00)},
		{"several chunks", bytes.Repeat([]byte{1, 2, 3}, 700)},
		{"pushdata1 sized", bytes.Repeat([]byte{7}, 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := DataScript(key, tt.data)
			require.NoError(t, err)
			got, err := parseDataScript(script)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(got))
			assert.True(t, bytes.Equal(tt.data, got))
		})
	}
}

func TestParseRejectsOtherScripts(t *testing.T) {
	key := testKey(t).PubKey()
	p2tr, err := txscript.PayToTaprootScript(key)
	require.NoError(t, err)

	wrongTag := []byte{txscript.OP_FALSE, txscript.OP_IF}
	wrongTag = appendPush(wrongTag, []byte("other"))

	for _, script := range [][]byte{nil, p2tr, wrongTag, {txscript.OP_FALSE, txscript.OP_IF, 0x05}} {
		_, err := parseDataScript(script)
		assert.Error(t, err)
	}
}

func TestTxIDDisplayMatchesBitcoin(t *testing.T) {
	h := chainhash.DoubleHashH([]byte("tx"))
	assert.Equal(t, h.String(), TxIDOf(h).String())

	op := wire.OutPoint{Hash: h, Index: 3}
	assert.Equal(t, op.String(), UtxoOf(op).String())
}

// fixture is a spell transaction revealing an envelope: input 0 spends
// parent:0, the last input spends the commitment.
type fixture struct {
	tx       *wire.MsgTx
	fetcher  *txscript.MultiPrevOutFetcher
	commit   *Commitment
	parent   wire.OutPoint
	envelope []byte
}

func buildFixture(t *testing.T, envelope []byte) fixture {
	t.Helper()
	priv := testKey(t)
	commit, err := Commit(priv.PubKey(), envelope)
	require.NoError(t, err)

	parent := wire.OutPoint{Hash: chainhash.Hash(testutil.NamedTxID("parent")), Index: 0}
	commitOut := wire.OutPoint{Hash: chainhash.Hash(testutil.NamedTxID("commit")), Index: 0}

	p2tr, err := txscript.PayToTaprootScript(priv.PubKey())
	require.NoError(t, err)
	fetcher := txscript.NewMultiPrevOutFetcher(map[wire.OutPoint]*wire.TxOut{
		parent:    wire.NewTxOut(5_000, p2tr),
		commitOut: wire.NewTxOut(1_000, commit.PkScript),
	})

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&parent, nil, nil))
	tx.AddTxIn(wire.NewTxIn(&commitOut, nil, nil))
	tx.AddTxOut(wire.NewTxOut(5_500, p2tr))
	require.NoError(t, commit.Spend(tx, fetcher, priv))

	return fixture{tx: tx, fetcher: fetcher, commit: commit, parent: parent, envelope: envelope}
}

func TestCommitmentSpendIsValid(t *testing.T) {
	f := buildFixture(t, bytes.Repeat([]byte{0x42}, 1200))
	idx := len(f.tx.TxIn) - 1

	vm, err := txscript.NewEngine(f.commit.PkScript, f.tx, idx, txscript.StandardVerifyFlags,
		nil, txscript.NewTxSigHashes(f.tx, f.fetcher), 1_000, f.fetcher)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

func TestSpendRequiresCommitmentInput(t *testing.T) {
	priv := testKey(t)
	commit, err := Commit(priv.PubKey(), []byte{1})
	require.NoError(t, err)

	op := wire.OutPoint{Index: 1}
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	fetcher := txscript.NewCannedPrevOutputFetcher([]byte{txscript.OP_TRUE}, 10)
	assert.Error(t, commit.Spend(tx, fetcher, priv))
	assert.Error(t, commit.Spend(wire.NewMsgTx(2), fetcher, priv))
}

func TestAdapterExtract(t *testing.T) {
	spell := &charms.NormalizedSpell{
		Version:         charms.CurrentVersion,
		Tx:              charms.NormalizedTransaction{Outs: []charms.NormalizedCharms{{}}},
		AppPublicInputs: map[charms.App]charms.Data{},
	}
	env := &ledger.Envelope{Spell: spell, Proof: []byte{9, 9}}
	data, err := env.Encode()
	require.NoError(t, err)

	f := buildFixture(t, data)
	raw, err := Encode(f.tx)
	require.NoError(t, err)

	var a Adapter
	assert.Equal(t, Chain, a.Chain())
	id, err := a.TxID(raw)
	require.NoError(t, err)
	assert.Equal(t, TxIDOf(f.tx.TxHash()), id)

	got, ins, err := a.Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, []charms.UtxoID{UtxoOf(f.parent)}, ins)
	assert.Equal(t, []byte{9, 9}, got.Proof)
	assert.Nil(t, got.Spell.Tx.Ins)

	plain := wire.NewMsgTx(2)
	plain.AddTxIn(wire.NewTxIn(&f.parent, nil, nil))
	plainRaw, err := Encode(plain)
	require.NoError(t, err)
	_, _, err = a.Extract(plainRaw)
	assert.ErrorIs(t, err, ledger.ErrNoSpell)

	_, err = a.TxID([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestProvenSpellOnChain(t *testing.T) {
	ctx := context.Background()
	p, err := prover.New(ctx, prover.MockBackend{}, engine.NewMockVerifier(engine.New(sandbox.New())), nil)
	require.NoError(t, err)

	app := charms.NewApp(charms.TokenTag, testutil.Fill(1), testutil.Fill(2))
	parentOut := wire.OutPoint{Hash: chainhash.Hash(testutil.NamedTxID("parent")), Index: 0}
	parentSpell := &charms.NormalizedSpell{
		Version:         charms.CurrentVersion,
		Tx:              charms.NormalizedTransaction{Ins: []charms.UtxoID{}, Outs: []charms.NormalizedCharms{{0: charms.MustData(3)}}},
		AppPublicInputs: map[charms.App]charms.Data{app: {}},
	}
	spell := &charms.NormalizedSpell{
		Version:         charms.CurrentVersion,
		Tx:              charms.NormalizedTransaction{Ins: []charms.UtxoID{UtxoOf(parentOut)}, Outs: []charms.NormalizedCharms{{0: charms.MustData(3)}}},
		AppPublicInputs: map[charms.App]charms.Data{app: {}},
	}
	proved, err := p.Prove(ctx, prover.Request{
		Spell:     spell,
		Ancestors: map[charms.TxID]*charms.NormalizedSpell{TxIDOf(parentOut.Hash): parentSpell},
	})
	require.NoError(t, err)

	data, err := (&ledger.Envelope{Spell: proved.Spell, Proof: proved.Proof}).Encode()
	require.NoError(t, err)
	f := buildFixture(t, data)
	raw, err := Encode(f.tx)
	require.NoError(t, err)

	got, err := ledger.ExtractAndVerify(ctx, Adapter{}, raw, p.VK(), prover.MockBackend{}, true)
	require.NoError(t, err)
	assert.Equal(t, spell.Tx.Ins, got.Tx.Ins)
	assert.True(t, got.Mock)

	_, err = ledger.ExtractAndVerify(ctx, Adapter{}, raw, p.VK(), prover.MockBackend{}, false)
	assert.Error(t, err, "mock spells are not valid outside mock mode")

	_, otherVK, err := prover.MockBackend{}.Setup(ctx, []byte("other checker"))
	require.NoError(t, err)
	_, err = ledger.ExtractAndVerify(ctx, Adapter{}, raw, otherVK, prover.MockBackend{}, true)
	assert.ErrorIs(t, err, prover.ErrInvalidProof)

	plain := wire.NewMsgTx(2)
	plain.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 7}, nil, nil))
	plainRaw, err := Encode(plain)
	require.NoError(t, err)

	spells, err := ledger.PrevSpells(ctx, Adapter{}, [][]byte{raw, plainRaw}, p.VK(), prover.MockBackend{}, true)
	require.NoError(t, err)
	require.Len(t, spells, 2)
	assert.Equal(t, got, spells[TxIDOf(f.tx.TxHash())])
	assert.Equal(t, &charms.NormalizedSpell{}, spells[TxIDOf(plain.TxHash())])

	_, err = ledger.PrevSpells(ctx, Adapter{}, [][]byte{{0xde, 0xad}}, p.VK(), prover.MockBackend{}, true)
	assert.Error(t, err)
}

func TestAlignSpell(t *testing.T) {
	a := wire.OutPoint{Hash: chainhash.Hash(testutil.NamedTxID("a")), Index: 0}
	b := wire.OutPoint{Hash: chainhash.Hash(testutil.NamedTxID("b")), Index: 1}
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&a, nil, nil))
	tx.AddTxIn(wire.NewTxIn(&b, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1, nil))

	spell := &charms.NormalizedSpell{
		Version: charms.CurrentVersion,
		Tx:      charms.NormalizedTransaction{Ins: []charms.UtxoID{UtxoOf(a)}, Outs: []charms.NormalizedCharms{{}}},
	}
	aligned, err := AlignSpell(spell, tx)
	require.NoError(t, err)
	assert.Equal(t, []charms.UtxoID{UtxoOf(a), UtxoOf(b)}, aligned.Tx.Ins)
	assert.Len(t, spell.Tx.Ins, 1, "input spell is not modified")

	bad := *spell
	bad.Tx.Ins = []charms.UtxoID{UtxoOf(b)}
	_, err = AlignSpell(&bad, tx)
	assert.Error(t, err)

	tooMany := *spell
	tooMany.Tx.Outs = []charms.NormalizedCharms{{}, {}}
	_, err = AlignSpell(&tooMany, tx)
	assert.Error(t, err)

	cleared := *spell
	cleared.Tx.Ins = nil
	_, err = AlignSpell(&cleared, tx)
	assert.Error(t, err)
}
