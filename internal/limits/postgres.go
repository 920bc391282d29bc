package limits

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// PostgresStore keeps limits in the wager_limits, self_exclusions and
// daily_wagers tables
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over a migrated database
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get implements Store
func (p *PostgresStore) Get(ctx context.Context, userID string) (*Limits, error) {
	l := &Limits{UserID: userID, DailyWager: map[domain.Currency]Limit{}}

	rows, err := p.db.QueryContext(ctx, `
		SELECT currency, amount, previous, effective_at, updated_at
		FROM wager_limits WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var cur string
		var lim Limit
		if err := rows.Scan(&cur, &lim.Amount, &lim.Previous, &lim.EffectiveAt, &lim.UpdatedAt); err != nil {
			return nil, err
		}
		l.DailyWager[domain.Currency(cur)] = lim
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var ex Exclusion
	err = p.db.QueryRowContext(ctx, `
		SELECT reason, started_at, expires_at FROM self_exclusions WHERE user_id = $1
	`, userID).Scan(&ex.Reason, &ex.StartedAt, &ex.ExpiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		l.Exclusion = &ex
	}
	return l, nil
}

// SaveLimit implements Store
func (p *PostgresStore) SaveLimit(ctx context.Context, userID string, cur domain.Currency, l Limit) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wager_limits (user_id, currency, amount, previous, effective_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, currency) DO UPDATE
		SET amount = $3, previous = $4, effective_at = $5, updated_at = $6
	`, userID, string(cur), l.Amount, l.Previous, l.EffectiveAt, l.UpdatedAt)
	return err
}

// SaveExclusion implements Store
func (p *PostgresStore) SaveExclusion(ctx context.Context, userID string, ex Exclusion) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO self_exclusions (user_id, reason, started_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET reason = $2, started_at = $3, expires_at = $4
	`, userID, ex.Reason, ex.StartedAt, ex.ExpiresAt)
	return err
}

// Reserve implements Store. The conflict update runs under the row lock, so
// concurrent reservations see each other's increments.
func (p *PostgresStore) Reserve(ctx context.Context, userID string, cur domain.Currency, day time.Time, amount, limit int64) (bool, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO daily_wagers (user_id, currency, day, amount)
		SELECT $1, $2, $3, $4::bigint
		WHERE $5::bigint = 0 OR $4::bigint <= $5::bigint
		ON CONFLICT (user_id, currency, day) DO UPDATE
		SET amount = daily_wagers.amount + EXCLUDED.amount
		WHERE $5::bigint = 0 OR daily_wagers.amount + EXCLUDED.amount <= $5::bigint
		RETURNING amount
	`, userID, string(cur), day, amount, limit).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Release implements Store
func (p *PostgresStore) Release(ctx context.Context, userID string, cur domain.Currency, day time.Time, amount int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE daily_wagers SET amount = amount - $4
		WHERE user_id = $1 AND currency = $2 AND day = $3
	`, userID, string(cur), day, amount)
	return err
}

// Wagered implements Store
func (p *PostgresStore) Wagered(ctx context.Context, userID string, cur domain.Currency, day time.Time) (int64, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM daily_wagers
		WHERE user_id = $1 AND currency = $2 AND day = $3
	`, userID, string(cur), day).Scan(&total)
	return total, err
}
