package control

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore keeps switch state in the system_state and disabled_games
// tables
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a state store over a migrated database
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveGaming implements StateStore
func (p *PostgresStore) SaveGaming(ctx context.Context, enabled bool, reason, by string, at time.Time) error {
	value := "true"
	if !enabled {
		value = "false"
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO system_state (key, value, reason, updated_at, updated_by)
		VALUES ('gaming_enabled', $1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = $1, reason = $2, updated_at = $3, updated_by = $4
	`, value, reason, at, by)
	return err
}

// SaveGame implements StateStore
func (p *PostgresStore) SaveGame(ctx context.Context, gameID string, disabled bool, reason, by string, at time.Time) error {
	if !disabled {
		_, err := p.db.ExecContext(ctx, `DELETE FROM disabled_games WHERE game_id = $1`, gameID)
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disabled_games (game_id, reason, disabled_at, disabled_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id) DO UPDATE SET reason = $2, disabled_at = $3, disabled_by = $4
	`, gameID, reason, at, by)
	return err
}

// Load implements StateStore
func (p *PostgresStore) Load(ctx context.Context) (*State, error) {
	st := &State{GamingEnabled: true}

	var value, reason, by string
	var at time.Time
	err := p.db.QueryRowContext(ctx, `
		SELECT value, reason, updated_at, updated_by FROM system_state WHERE key = 'gaming_enabled'
	`).Scan(&value, &reason, &at, &by)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	case value == "false":
		st.GamingEnabled = false
		st.DisabledAt = &at
		st.DisabledBy = by
		st.DisabledReason = reason
	}

	rows, err := p.db.QueryContext(ctx, `SELECT game_id FROM disabled_games ORDER BY game_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var gameID string
		if err := rows.Scan(&gameID); err != nil {
			return nil, err
		}
		st.DisabledGames = append(st.DisabledGames, gameID)
	}
	return st, rows.Err()
}
