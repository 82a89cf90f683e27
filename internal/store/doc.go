// Package store provides SQLite-backed storage for verified spells and
// verification runs.
//
// The store keeps two kinds of records:
//   - Spells: the verified spell of a chain transaction, keyed by chain and
//     txid. Transactions that carry no valid spell are stored as charmless.
//   - Verifications: one record per verification run with its per-app
//     results, keyed by a UUID and ordered by a logical sequence number.
//
// # Ordering
//
// All listings order by seq, a logical clock, never by wall time. Given the
// same clock and ID generator, the same sequence of calls yields identical
// databases.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Spells are stored in canonical CBOR, the same bytes that are committed to
// proofs.
package store
