package bitcoin

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/ledger"
)

// Chain is the adapter's chain name.
const Chain = "bitcoin"

// Commitment is a P2TR output committing to an envelope leaf.
type Commitment struct {
	Script       []byte
	Leaf         txscript.TapLeaf
	PkScript     []byte
	ControlBlock []byte
}

// Commit builds the commitment for envelope under key, which is both the
// taproot internal key and the key that signs the script-path spend.
func Commit(key *btcec.PublicKey, envelope []byte) (*Commitment, error) {
	script, err := DataScript(key, envelope)
	if err != nil {
		return nil, err
	}
	leaf := txscript.NewBaseTapLeaf(script)
	tree := txscript.AssembleTaprootScriptTree(leaf)
	root := tree.RootNode.TapHash()

	outputKey := txscript.ComputeTaprootOutputKey(key, root[:])
	pkScript, err := txscript.PayToTaprootScript(outputKey)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	ctrlBlock := tree.LeafMerkleProofs[0].ToControlBlock(key)
	ctrl, err := ctrlBlock.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("commit: control block: %w", err)
	}
	return &Commitment{Script: script, Leaf: leaf, PkScript: pkScript, ControlBlock: ctrl}, nil
}

// Spend signs the last input of tx, which must spend the commitment
// output, and sets its witness to reveal the envelope. prevOuts must
// resolve every input of tx.
func (c *Commitment) Spend(tx *wire.MsgTx, prevOuts txscript.PrevOutputFetcher, key *btcec.PrivateKey) error {
	if len(tx.TxIn) == 0 {
		return fmt.Errorf("spend commitment: transaction has no inputs")
	}
	idx := len(tx.TxIn) - 1
	prev := prevOuts.FetchPrevOutput(tx.TxIn[idx].PreviousOutPoint)
	if prev == nil || !bytes.Equal(prev.PkScript, c.PkScript) {
		return fmt.Errorf("spend commitment: last input does not spend the commitment output")
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)
	sig, err := txscript.RawTxInTapscriptSignature(tx, sigHashes, idx, prev.Value, c.PkScript, c.Leaf, txscript.SigHashDefault, key)
	if err != nil {
		return fmt.Errorf("spend commitment: %w", err)
	}
	tx.TxIn[idx].Witness = wire.TxWitness{sig, c.Script, c.ControlBlock}
	return nil
}

// Adapter implements ledger.Adapter for serialized bitcoin transactions.
type Adapter struct{}

var _ ledger.Adapter = Adapter{}

func (Adapter) Chain() string { return Chain }

// Decode parses a serialized transaction.
func Decode(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// Encode serializes tx with witness data.
func Encode(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return buf.Bytes(), nil
}

// TxIDOf converts a bitcoin transaction hash. Both use internal byte
// order and display reversed.
func TxIDOf(h chainhash.Hash) charms.TxID {
	return charms.TxID(h)
}

// UtxoOf converts an outpoint.
func UtxoOf(op wire.OutPoint) charms.UtxoID {
	return charms.NewUtxoID(TxIDOf(op.Hash), op.Index)
}

func (Adapter) TxID(raw []byte) (charms.TxID, error) {
	tx, err := Decode(raw)
	if err != nil {
		return charms.TxID{}, err
	}
	return TxIDOf(tx.TxHash()), nil
}

func (Adapter) Extract(raw []byte) (*ledger.Envelope, []charms.UtxoID, error) {
	tx, err := Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	return ExtractTx(tx)
}

// ExtractTx reads the envelope from the last input's witness and returns
// the outpoints of the other inputs.
func ExtractTx(tx *wire.MsgTx) (*ledger.Envelope, []charms.UtxoID, error) {
	if len(tx.TxIn) == 0 {
		return nil, nil, ledger.ErrNoSpell
	}
	last := tx.TxIn[len(tx.TxIn)-1]
	if len(last.Witness) < 2 {
		return nil, nil, ledger.ErrNoSpell
	}
	data, err := parseDataScript(last.Witness[len(last.Witness)-2])
	if err != nil {
		return nil, nil, ledger.ErrNoSpell
	}
	env, err := ledger.DecodeEnvelope(data)
	if err != nil {
		return nil, nil, err
	}

	ins := make([]charms.UtxoID, 0, len(tx.TxIn)-1)
	for _, in := range tx.TxIn[:len(tx.TxIn)-1] {
		ins = append(ins, UtxoOf(in.PreviousOutPoint))
	}
	return env, ins, nil
}

// AlignSpell checks that spell's inputs are a prefix of tx's inputs and
// that tx has room for spell's outputs, then appends the remaining tx
// inputs to the spell's inputs.
func AlignSpell(spell *charms.NormalizedSpell, tx *wire.MsgTx) (*charms.NormalizedSpell, error) {
	ins := spell.Tx.Ins
	if ins == nil {
		return nil, fmt.Errorf("align spell: no inputs")
	}
	if len(ins) > len(tx.TxIn) {
		return nil, fmt.Errorf("align spell: spell inputs exceed transaction inputs")
	}
	if len(spell.Tx.Outs) > len(tx.TxOut) {
		return nil, fmt.Errorf("align spell: spell outputs exceed transaction outputs")
	}
	for i, u := range ins {
		if got := UtxoOf(tx.TxIn[i].PreviousOutPoint); got != u {
			return nil, fmt.Errorf("align spell: input %d is %s, transaction spends %s", i, u, got)
		}
	}

	aligned := *spell
	aligned.Tx.Ins = make([]charms.UtxoID, 0, len(tx.TxIn))
	aligned.Tx.Ins = append(aligned.Tx.Ins, ins...)
	for _, in := range tx.TxIn[len(ins):] {
		aligned.Tx.Ins = append(aligned.Tx.Ins, UtxoOf(in.PreviousOutPoint))
	}
	return &aligned, nil
}
