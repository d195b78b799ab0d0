package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore implements Store using PostgreSQL.
//
// The full session record lives in a JSONB payload; risk score, conversion
// status, and last-active are mirrored into columns for indexed dashboard
// queries. Expiry is an expires_at column checked on every read, so a
// restart never resurrects stale sessions.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Put(ctx context.Context, s *Session, ttl time.Duration) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, payload, risk_score, conversion_status, last_active,
			expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW() + $6 * INTERVAL '1 second', NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			risk_score = EXCLUDED.risk_score,
			conversion_status = EXCLUDED.conversion_status,
			last_active = EXCLUDED.last_active,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, s.SessionID, payload, s.RiskScore, s.ConversionStatus, s.LastActive, ttl.Seconds())

	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT payload FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, id).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT payload FROM sessions
		WHERE expires_at > NOW()
		ORDER BY last_active DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(payload, &s); err != nil {
			continue
		}
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// DeleteExpired reclaims rows past their expiry. Called periodically by the
// server; reads already filter on expires_at so this is purely hygiene.
func (p *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
