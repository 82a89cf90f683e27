// Package bitcoin carries spell envelopes in taproot script-path spends.
//
// The envelope sits in a tapscript leaf that is never executed:
//
//	OP_FALSE OP_IF "spell" <chunk> <chunk> ... OP_ENDIF <x-only key> OP_CHECKSIG
//
// The spell transaction's last input spends the P2TR output committing to
// that leaf, so the script travels in the input witness. The other inputs
// are the spell's inputs, in order.
package bitcoin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

var envelopeTag = []byte("spell")

// appendPush appends a direct data push. Pushes are never turned into
// small-integer opcodes, so every byte string reads back unchanged.
func appendPush(script, data []byte) []byte {
	n := len(data)
	switch {
	case n < txscript.OP_PUSHDATA1:
		script = append(script, byte(n))
	case n <= 0xff:
		script = append(script, txscript.OP_PUSHDATA1, byte(n))
	default:
		script = append(script, txscript.OP_PUSHDATA2)
		script = binary.LittleEndian.AppendUint16(script, uint16(n))
	}
	return append(script, data...)
}

// DataScript builds the envelope leaf script for data, spendable by key.
func DataScript(key *btcec.PublicKey, data []byte) ([]byte, error) {
	script := []byte{txscript.OP_FALSE, txscript.OP_IF}
	script = appendPush(script, envelopeTag)
	for chunk := range slices.Chunk(data, txscript.MaxScriptElementSize) {
		script = appendPush(script, chunk)
	}
	script = append(script, txscript.OP_ENDIF)

	tail, err := txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(key)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, fmt.Errorf("data script: %w", err)
	}
	return append(script, tail...), nil
}

var errNotEnvelope = errors.New("not a spell envelope script")

// parseDataScript returns the envelope bytes of a DataScript.
func parseDataScript(script []byte) ([]byte, error) {
	tok := txscript.MakeScriptTokenizer(0, script)
	expectOp := func(op byte) bool {
		return tok.Next() && tok.Opcode() == op
	}

	if !expectOp(txscript.OP_FALSE) || !expectOp(txscript.OP_IF) {
		return nil, errNotEnvelope
	}
	if !tok.Next() || !bytes.Equal(pushedData(&tok), envelopeTag) {
		return nil, errNotEnvelope
	}

	var data []byte
	for tok.Next() {
		if tok.Opcode() == txscript.OP_ENDIF {
			if !tok.Next() || len(tok.Data()) != schnorr.PubKeyBytesLen {
				return nil, errNotEnvelope
			}
			if !expectOp(txscript.OP_CHECKSIG) || tok.Next() {
				return nil, errNotEnvelope
			}
			return data, nil
		}
		if op := tok.Opcode(); op > txscript.OP_16 || op == txscript.OP_RESERVED {
			return nil, errNotEnvelope
		}
		data = append(data, pushedData(&tok)...)
	}
	if err := tok.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errNotEnvelope, err)
	}
	return nil, errNotEnvelope
}

// pushedData returns the bytes a push opcode places on the stack,
// including the small-integer forms.
func pushedData(tok *txscript.ScriptTokenizer) []byte {
	switch op := tok.Opcode(); {
	case op == txscript.OP_0:
		return nil
	case op == txscript.OP_1NEGATE:
		return []byte{0x81}
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return []byte{op - txscript.OP_1 + 1}
	default:
		return tok.Data()
	}
}
