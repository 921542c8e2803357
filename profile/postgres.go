package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
)

// Schema is the DDL for the profiles table. Apply it with
// PostgresStore.Migrate or during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS inharmonicity_profiles (
    note_index     INTEGER PRIMARY KEY CHECK (note_index BETWEEN 0 AND 87),
    note_name      TEXT NOT NULL,
    f0             DOUBLE PRECISION NOT NULL,
    b              DOUBLE PRECISION NOT NULL,
    residual_cents DOUBLE PRECISION NOT NULL,
    confidence     DOUBLE PRECISION NOT NULL,
    plausible      BOOLEAN NOT NULL,
    profile        JSONB NOT NULL,
    measured_at    TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the subset of pgx used by PostgresStore. *pgxpool.Pool and
// *pgx.Conn both satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a Store backed by PostgreSQL. The scalar columns are
// there for querying; the full profile lives in the JSONB column.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open connection or pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres opens a pool for dsn and wraps it. Close the returned
// pool when done.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("profile: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("profile: ping: %w", err)
	}
	return NewPostgresStore(pool), pool, nil
}

// Migrate creates the table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("profile: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, p *tonal.InharmonicityProfile) error {
	if err := validate(p); err != nil {
		return err
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile: marshal: %w", err)
	}

	const query = `
		INSERT INTO inharmonicity_profiles (
			note_index, note_name, f0, b, residual_cents, confidence, plausible, profile, measured_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (note_index) DO UPDATE SET
			note_name = EXCLUDED.note_name,
			f0 = EXCLUDED.f0,
			b = EXCLUDED.b,
			residual_cents = EXCLUDED.residual_cents,
			confidence = EXCLUDED.confidence,
			plausible = EXCLUDED.plausible,
			profile = EXCLUDED.profile,
			measured_at = EXCLUDED.measured_at,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query,
		p.Note.Index, p.Note.Name, p.F0, p.B, p.ResidualCents, p.Confidence, p.Plausible, doc, p.CreatedAt,
	); err != nil {
		return fmt.Errorf("profile: save %s: %w", p.Note.Name, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, noteIndex int) (*tonal.InharmonicityProfile, error) {
	const query = `SELECT profile FROM inharmonicity_profiles WHERE note_index = $1`

	var doc []byte
	if err := s.db.QueryRow(ctx, query, noteIndex).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("profile: get %d: %w", noteIndex, err)
	}
	return decode(doc)
}

func (s *PostgresStore) List(ctx context.Context) ([]*tonal.InharmonicityProfile, error) {
	const query = `SELECT profile FROM inharmonicity_profiles ORDER BY note_index`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	defer rows.Close()

	var out []*tonal.InharmonicityProfile
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("profile: list scan: %w", err)
		}
		p, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, noteIndex int) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM inharmonicity_profiles WHERE note_index = $1`, noteIndex)
	if err != nil {
		return fmt.Errorf("profile: delete %d: %w", noteIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func decode(doc []byte) (*tonal.InharmonicityProfile, error) {
	var p tonal.InharmonicityProfile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("profile: unmarshal: %w", err)
	}
	return &p, nil
}
