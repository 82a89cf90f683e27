package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/ledger"
	"github.com/bitsnark/charms/internal/prover"
)

// SpellKey identifies a cached spell: a transaction and the context its
// proof was verified in.
type SpellKey struct {
	Chain string
	TxID  charms.TxID
	VK    charms.B32
	Mock  bool
}

// SpellRecord is a cached spell. Spell is nil for transactions that carry
// no valid spell.
type SpellRecord struct {
	SpellKey
	Spell *charms.NormalizedSpell
	Seq   int64
}

// PutSpell caches the verified spell of a transaction. A nil spell records
// the transaction as charmless. Writing an existing key is a no-op: a
// transaction's verified spell never changes.
func (s *Store) PutSpell(ctx context.Context, key SpellKey, spell *charms.NormalizedSpell) error {
	var data any
	if spell != nil {
		b, err := charms.Marshal(spell)
		if err != nil {
			return fmt.Errorf("put spell: %w", err)
		}
		data = b
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spells (chain, txid, vk, mock, spell, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain, txid, vk, mock) DO NOTHING
	`,
		key.Chain,
		key.TxID[:],
		key.VK[:],
		key.Mock,
		data,
		s.clock.Next(),
	)
	if err != nil {
		return fmt.Errorf("put spell: %w", err)
	}
	return nil
}

// GetSpell returns the cached spell for key. Charmless transactions return
// an empty spell. found is false when nothing is cached.
func (s *Store) GetSpell(ctx context.Context, key SpellKey) (spell *charms.NormalizedSpell, found bool, err error) {
	var data []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT spell FROM spells
		WHERE chain = ? AND txid = ? AND vk = ? AND mock = ?
	`, key.Chain, key.TxID[:], key.VK[:], key.Mock).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get spell: %w", err)
	}
	if data == nil {
		return &charms.NormalizedSpell{}, true, nil
	}
	spell = new(charms.NormalizedSpell)
	if err := charms.Unmarshal(data, spell); err != nil {
		return nil, false, fmt.Errorf("get spell %s: %w", key.TxID, err)
	}
	return spell, true, nil
}

// ListSpells returns every cached spell of chain, oldest first.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListSpells(ctx context.Context, chain string) ([]SpellRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT txid, vk, mock, spell, seq
		FROM spells
		WHERE chain = ?
		ORDER BY seq ASC
	`, chain)
	if err != nil {
		return nil, fmt.Errorf("query spells: %w", err)
	}
	defer rows.Close()

	records := []SpellRecord{}
	for rows.Next() {
		var (
			txid, vk, data []byte
			rec            = SpellRecord{SpellKey: SpellKey{Chain: chain}}
		)
		if err := rows.Scan(&txid, &vk, &rec.Mock, &data, &rec.Seq); err != nil {
			return nil, fmt.Errorf("scan spell: %w", err)
		}
		if len(txid) != len(rec.TxID) || len(vk) != len(rec.VK) {
			return nil, fmt.Errorf("scan spell: malformed key")
		}
		copy(rec.TxID[:], txid)
		copy(rec.VK[:], vk)
		if data != nil {
			rec.Spell = new(charms.NormalizedSpell)
			if err := charms.Unmarshal(data, rec.Spell); err != nil {
				return nil, fmt.Errorf("scan spell %s: %w", rec.TxID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spells: %w", err)
	}
	return records, nil
}

// PrevSpells is ledger.PrevSpells with the store as a cache. Only
// transactions missing from the cache are extracted and verified, and
// their results are cached.
func (s *Store) PrevSpells(ctx context.Context, a ledger.Adapter, raws [][]byte, vk charms.B32, pv prover.ProofVerifier, mock bool) (map[charms.TxID]*charms.NormalizedSpell, error) {
	spells := make(map[charms.TxID]*charms.NormalizedSpell, len(raws))
	var (
		missing    [][]byte
		missingIDs []charms.TxID
	)
	for _, raw := range raws {
		id, err := a.TxID(raw)
		if err != nil {
			return nil, fmt.Errorf("%s transaction: %w", a.Chain(), err)
		}
		spell, found, err := s.GetSpell(ctx, SpellKey{Chain: a.Chain(), TxID: id, VK: vk, Mock: mock})
		if err != nil {
			return nil, err
		}
		if found {
			spells[id] = spell
			continue
		}
		missing = append(missing, raw)
		missingIDs = append(missingIDs, id)
	}
	if len(missing) == 0 {
		return spells, nil
	}

	resolved, err := ledger.PrevSpells(ctx, a, missing, vk, pv, mock)
	if err != nil {
		return nil, err
	}
	for _, id := range missingIDs {
		spell := resolved[id]
		cached := spell
		if spell.Version == 0 {
			cached = nil
		}
		if err := s.PutSpell(ctx, SpellKey{Chain: a.Chain(), TxID: id, VK: vk, Mock: mock}, cached); err != nil {
			return nil, err
		}
		spells[id] = spell
	}
	return spells, nil
}
