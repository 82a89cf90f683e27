// Package charms provides the foundation types of the charms protocol.
//
// This package contains the data model shared by every other internal
// package: identifiers (B32, TxID, UtxoID), app identities, opaque charm
// data, the transaction view contracts validate against and the canonical
// (normalized) spell. It imports nothing internal.
//
// Key design constraints:
//   - Canonical CBOR (RFC 8949 core deterministic encoding) is the ONLY
//     serialization used for anything that is hashed, proven or handed to
//     a contract. JSON and YAML forms exist for humans only.
//   - App index assignment is the ascending App order, never the order in
//     which a user happened to write the apps.
//   - Transaction views are built once per verification pass and never
//     mutated afterwards.
package charms
