package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/engine"
)

// Verification variants.
const (
	VariantMock       = "mock"
	VariantProduction = "production"
)

// Verification is one recorded verification run.
type Verification struct {
	ID          uuid.UUID
	SpellHash   charms.B32
	Variant     string
	Accepted    bool
	TotalCycles uint64
	ErrorCode   charms.ErrorCode
	Error       string
	Seq         int64
	Apps        []AppRun
}

// AppRun is the result of one app within an accepted verification.
type AppRun struct {
	App      charms.App
	FastPath bool
	Cycles   uint64
}

// SpellHash is sha256 of the spell's canonical encoding.
func SpellHash(spell *charms.NormalizedSpell) (charms.B32, error) {
	data, err := charms.Marshal(spell)
	if err != nil {
		return charms.B32{}, err
	}
	return sha256.Sum256(data), nil
}

// RecordVerification stores the outcome of verifying spell: res when
// verr is nil, otherwise the error and its code.
func (s *Store) RecordVerification(ctx context.Context, spell *charms.NormalizedSpell, variant string, res *engine.Result, verr error) (Verification, error) {
	hash, err := SpellHash(spell)
	if err != nil {
		return Verification{}, fmt.Errorf("record verification: %w", err)
	}
	v := Verification{
		ID:        s.ids.New(),
		SpellHash: hash,
		Variant:   variant,
		Accepted:  verr == nil,
		Seq:       s.clock.Next(),
	}
	if verr != nil {
		v.ErrorCode = charms.CodeOf(verr)
		v.Error = verr.Error()
	} else if res != nil {
		v.TotalCycles = res.TotalCycles
		for _, r := range res.Apps {
			v.Apps = append(v.Apps, AppRun{App: r.App, FastPath: r.FastPath, Cycles: r.Cycles})
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Verification{}, fmt.Errorf("record verification: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO verifications
		(id, spell_hash, variant, accepted, total_cycles, error_code, error, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.ID.String(),
		v.SpellHash[:],
		v.Variant,
		v.Accepted,
		int64(v.TotalCycles),
		string(v.ErrorCode),
		v.Error,
		v.Seq,
	)
	if err != nil {
		return Verification{}, fmt.Errorf("record verification: %w", err)
	}
	for i, r := range v.Apps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO app_runs (verification_id, app_index, app, fast_path, cycles)
			VALUES (?, ?, ?, ?, ?)
		`, v.ID.String(), i, r.App.String(), r.FastPath, int64(r.Cycles))
		if err != nil {
			return Verification{}, fmt.Errorf("record verification: app run %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Verification{}, fmt.Errorf("record verification: commit: %w", err)
	}
	return v, nil
}

// GetVerification returns the run with the given ID. found is false when
// there is none.
func (s *Store) GetVerification(ctx context.Context, id uuid.UUID) (v Verification, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, spell_hash, variant, accepted, total_cycles, error_code, error, seq
		FROM verifications
		WHERE id = ?
	`, id.String())
	v, err = scanVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Verification{}, false, nil
	}
	if err != nil {
		return Verification{}, false, err
	}
	if v.Apps, err = s.readAppRuns(ctx, v.ID); err != nil {
		return Verification{}, false, err
	}
	return v, true, nil
}

// ListVerifications returns the runs of the spell with the given hash,
// oldest first. Returns an empty slice (not nil) when there are none.
func (s *Store) ListVerifications(ctx context.Context, spellHash charms.B32) ([]Verification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, spell_hash, variant, accepted, total_cycles, error_code, error, seq
		FROM verifications
		WHERE spell_hash = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, spellHash[:])
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}

	vs := []Verification{}
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		vs = append(vs, v)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	rows.Close()

	// The single connection is free again once rows is closed.
	for i := range vs {
		if vs[i].Apps, err = s.readAppRuns(ctx, vs[i].ID); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

func (s *Store) readAppRuns(ctx context.Context, id uuid.UUID) ([]AppRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app, fast_path, cycles
		FROM app_runs
		WHERE verification_id = ?
		ORDER BY app_index ASC
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query app runs: %w", err)
	}
	defer rows.Close()

	var runs []AppRun
	for rows.Next() {
		var (
			app    string
			r      AppRun
			cycles int64
		)
		if err := rows.Scan(&app, &r.FastPath, &cycles); err != nil {
			return nil, fmt.Errorf("scan app run: %w", err)
		}
		if r.App, err = charms.ParseApp(app); err != nil {
			return nil, fmt.Errorf("scan app run: %w", err)
		}
		r.Cycles = uint64(cycles)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate app runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerification(row scanner) (Verification, error) {
	var (
		v         Verification
		id        string
		hash      []byte
		cycles    int64
		errorCode string
	)
	err := row.Scan(&id, &hash, &v.Variant, &v.Accepted, &cycles, &errorCode, &v.Error, &v.Seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Verification{}, err
		}
		return Verification{}, fmt.Errorf("scan verification: %w", err)
	}
	if v.ID, err = uuid.Parse(id); err != nil {
		return Verification{}, fmt.Errorf("scan verification: %w", err)
	}
	if len(hash) != len(v.SpellHash) {
		return Verification{}, fmt.Errorf("scan verification: malformed spell hash")
	}
	copy(v.SpellHash[:], hash)
	v.TotalCycles = uint64(cycles)
	v.ErrorCode = charms.ErrorCode(errorCode)
	return v, nil
}
