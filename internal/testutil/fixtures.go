// Package testutil holds deterministic fixtures shared by package tests:
// byte-pattern identifiers, named transactions, contract binaries and
// reproducible clocks and IDs.
package testutil

import (
	"crypto/sha256"
	"testing"

	"github.com/bitsnark/charms/internal/charms"
)

// Fill returns a B32 with every byte set to b.
func Fill(b byte) charms.B32 {
	var v charms.B32
	for i := range v {
		v[i] = b
	}
	return v
}

// NamedTxID derives a stable transaction ID from a readable name.
func NamedTxID(name string) charms.TxID {
	return charms.TxID(sha256.Sum256([]byte(name)))
}

// Utxo returns output vout of the transaction called name.
func Utxo(name string, vout uint32) charms.UtxoID {
	return charms.NewUtxoID(NamedTxID(name), vout)
}

// ContractApp returns an app whose VK is the hash of the named contract.
func ContractApp(t testing.TB, tag string, identity byte, contract string) (charms.App, []byte) {
	t.Helper()
	bin := MustWasm(t, contract)
	return charms.NewApp(tag, Fill(identity), charms.VK(bin)), bin
}
