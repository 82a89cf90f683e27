package charms

import (
	"math/bits"
)

// SimpleTransferFunc decides whether tx moves app's charms without needing
// the app's contract. It must be pure, deterministic and total.
type SimpleTransferFunc func(app App, tx *Transaction) bool

// IsSimpleTransfer is the default predicate:
//   - token apps (tag "t"): the summed u64 amounts of ins equal those of outs
//   - NFT apps (tag "n"): ins and outs hold the same multiset of states
//
// Any other tag, or an amount that does not decode, is not a simple transfer.
// Reference inputs are never counted.
func IsSimpleTransfer(app App, tx *Transaction) bool {
	switch app.Tag {
	case TokenTag:
		return tokenAmountsBalanced(app, tx)
	case NFTTag:
		return nftStatePreserved(app, tx)
	default:
		return false
	}
}

// TokenAmount decodes a token charm value.
func TokenAmount(d Data) (uint64, error) {
	var amount uint64
	if err := d.Decode(&amount); err != nil {
		return 0, err
	}
	return amount, nil
}

func tokenAmountsBalanced(app App, tx *Transaction) bool {
	in, ok := sumInputs(app, tx.Ins)
	if !ok {
		return false
	}
	out, ok := sumOutputs(app, tx.Outs)
	if !ok {
		return false
	}
	return in == out
}

func sumInputs(app App, ins []UtxoCharms) (uint64, bool) {
	var total uint64
	for _, in := range ins {
		d, ok := in.Charms[app]
		if !ok {
			continue
		}
		var carry uint64
		amount, err := TokenAmount(d)
		if err != nil {
			return 0, false
		}
		total, carry = bits.Add64(total, amount, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return total, true
}

func sumOutputs(app App, outs []Charms) (uint64, bool) {
	var total uint64
	for _, out := range outs {
		d, ok := out[app]
		if !ok {
			continue
		}
		var carry uint64
		amount, err := TokenAmount(d)
		if err != nil {
			return 0, false
		}
		total, carry = bits.Add64(total, amount, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return total, true
}

func nftStatePreserved(app App, tx *Transaction) bool {
	counts := make(map[string]int)
	for _, in := range tx.Ins {
		if d, ok := in.Charms[app]; ok {
			counts[string(d.Bytes())]++
		}
	}
	for _, out := range tx.Outs {
		if d, ok := out[app]; ok {
			counts[string(d.Bytes())]--
		}
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}
