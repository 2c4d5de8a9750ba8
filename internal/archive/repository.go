// Package archive journals persisted plies to Postgres so finished and
// abandoned sessions can be replayed.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/Leonid-DD/Chess2/internal/turn"
)

const schema = `CREATE TABLE IF NOT EXISTS chess2_plies (
    session_id  TEXT        NOT NULL,
    seq         BIGINT      NOT NULL,
    mover       TEXT        NOT NULL,
    kind        TEXT        NOT NULL,
    from_square TEXT        NOT NULL,
    to_square   TEXT        NOT NULL,
    captured    TEXT,
    recorded_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session_id, seq)
)`

// Repository writes one row per ply. A nil *Repository is a valid,
// disabled journal.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db, now: time.Now}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the ply table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// RecordPly upserts the row for c. Replays of the same seq overwrite.
func (r *Repository) RecordPly(ctx context.Context, sessionID string, c turn.Committed) error {
	if r == nil || r.db == nil {
		return nil
	}
	row := RowFor(sessionID, c, r.now())
	q := `INSERT INTO chess2_plies (
        session_id, seq, mover, kind, from_square, to_square, captured, recorded_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
      ON CONFLICT (session_id, seq) DO UPDATE SET
        mover=EXCLUDED.mover,
        kind=EXCLUDED.kind,
        from_square=EXCLUDED.from_square,
        to_square=EXCLUDED.to_square,
        captured=EXCLUDED.captured,
        recorded_at=EXCLUDED.recorded_at`
	var captured sql.NullString
	if row.Captured != "" {
		captured = sql.NullString{String: row.Captured, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q,
		row.SessionID, int64(row.Seq), row.Mover, row.Kind,
		row.From, row.To, captured, row.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record ply %s#%d: %w", sessionID, c.Seq, err)
	}
	return nil
}

// Plies returns the journal of a session in seq order.
func (r *Repository) Plies(ctx context.Context, sessionID string) ([]Row, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT session_id, seq, mover, kind, from_square, to_square,
        COALESCE(captured, ''), recorded_at FROM chess2_plies WHERE session_id=$1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var row Row
		var seq int64
		if err := rows.Scan(&row.SessionID, &seq, &row.Mover, &row.Kind, &row.From, &row.To, &row.Captured, &row.RecordedAt); err != nil {
			return nil, err
		}
		row.Seq = uint64(seq)
		out = append(out, row)
	}
	return out, rows.Err()
}
