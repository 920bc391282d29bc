package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	"github.com/alexbotov/sweepsrgs/internal/database"
	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// Postgres is the durable Store. Apply runs in one transaction that locks
// the balance row first, so the idempotency check and the mutation are
// serialized per player.
type Postgres struct {
	db  *database.DB
	now func() time.Time
}

// NewPostgres creates a ledger over a migrated database
func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const historyColumns = `id, activity_id, user_id, game_id, ts, debit, credit, currency, result,
	balance_after, gc_after, sc_after, redeemable_after, audit_ref, outcome_hash, outcome,
	free_spin, idempotency_key`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanHistory reads one history row and the balance snapshot taken with it
func scanHistory(row rowScanner) (*domain.HistoryEntry, *domain.Balance, error) {
	var (
		e       domain.HistoryEntry
		b       domain.Balance
		outcome []byte
	)
	err := row.Scan(&e.ID, &e.ActivityID, &e.UserID, &e.GameID, &e.Timestamp, &e.Debit, &e.Credit,
		&e.Currency, &e.Result, &e.BalanceAfter, &b.GoldCoins, &b.SweepsCash, &b.RedeemableSC,
		&e.AuditRef, &e.OutcomeHash, &outcome, &e.FreeSpin, &e.IdempotencyKey)
	if err != nil {
		return nil, nil, err
	}
	if len(outcome) > 0 {
		e.Outcome = outcome
	}
	e.Timestamp = e.Timestamp.UTC()
	b.UserID = e.UserID
	b.UpdatedAt = e.Timestamp
	return &e, &b, nil
}

// Apply implements Store
func (s *Postgres) Apply(ctx context.Context, m *Mutation) (*Receipt, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.At.IsZero() {
		m.At = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	bal := &domain.Balance{UserID: m.UserID}
	err = tx.QueryRowContext(ctx, `
		SELECT gold_coins, sweeps_cash, redeemable_sc, updated_at
		FROM balances WHERE user_id = $1 FOR UPDATE
	`, m.UserID).Scan(&bal.GoldCoins, &bal.SweepsCash, &bal.RedeemableSC, &bal.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: balance of %s", domain.ErrNotFound, m.UserID)
	}
	if err != nil {
		return nil, classify(err)
	}
	if err := domain.CheckIntegrity("balance", bal); err != nil {
		return nil, err
	}

	prior, err := s.lookupTx(ctx, tx, m.UserID, m.IdempotencyKey)
	if err == nil {
		return prior, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	bonus, err := s.bonusTx(ctx, tx, m.UserID, m.GameID, true)
	if err != nil {
		return nil, err
	}
	bonus, err = apply(bal, bonus, m)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckIntegrity("balance", bal); err != nil {
		return nil, err
	}
	entry := newEntry(m, bal)

	if _, err := tx.ExecContext(ctx, `
		UPDATE balances SET gold_coins = $2, sweeps_cash = $3, redeemable_sc = $4, updated_at = $5
		WHERE user_id = $1
	`, bal.UserID, bal.GoldCoins, bal.SweepsCash, bal.RedeemableSC, bal.UpdatedAt); err != nil {
		return nil, classify(err)
	}

	if bonus.Active() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bonus_states (user_id, game_id, remaining, wager, currency)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, game_id) DO UPDATE
			SET remaining = EXCLUDED.remaining, wager = EXCLUDED.wager, currency = EXCLUDED.currency
		`, bonus.UserID, bonus.GameID, bonus.Remaining, bonus.Wager, bonus.Currency)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM bonus_states WHERE user_id = $1 AND game_id = $2`,
			m.UserID, m.GameID)
	}
	if err != nil {
		return nil, classify(err)
	}

	var outcome any
	if len(entry.Outcome) > 0 {
		outcome = []byte(entry.Outcome)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, entry.ID, entry.ActivityID, entry.UserID, entry.GameID, entry.Timestamp, entry.Debit, entry.Credit,
		entry.Currency, entry.Result, entry.BalanceAfter, bal.GoldCoins, bal.SweepsCash, bal.RedeemableSC,
		entry.AuditRef, entry.OutcomeHash, outcome, entry.FreeSpin, entry.IdempotencyKey); err != nil {
		return nil, classify(err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE players SET last_active_at = $2 WHERE id = $1`,
		m.UserID, m.At); err != nil {
		return nil, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &Receipt{Balance: bal, Entry: entry, Bonus: bonus}, nil
}

func (s *Postgres) lookupTx(ctx context.Context, tx *sql.Tx, userID, key string) (*Receipt, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+historyColumns+`
		FROM history WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
	entry, bal, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	bonus, err := s.bonusTx(ctx, tx, userID, entry.GameID, false)
	if err != nil {
		return nil, err
	}
	return &Receipt{Balance: bal, Entry: entry, Bonus: bonus, Replayed: true}, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) bonusTx(ctx context.Context, q queryRower, userID, gameID string, lock bool) (*domain.BonusState, error) {
	query := `SELECT remaining, wager, currency FROM bonus_states WHERE user_id = $1 AND game_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	b := &domain.BonusState{UserID: userID, GameID: gameID}
	err := q.QueryRowContext(ctx, query, userID, gameID).Scan(&b.Remaining, &b.Wager, &b.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return b, nil
}

// Lookup implements Store
func (s *Postgres) Lookup(ctx context.Context, userID, key string) (*Receipt, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()
	return s.lookupTx(ctx, tx, userID, key)
}

// Balance implements Store
func (s *Postgres) Balance(ctx context.Context, userID string) (*domain.Balance, error) {
	b := &domain.Balance{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT gold_coins, sweeps_cash, redeemable_sc, updated_at FROM balances WHERE user_id = $1
	`, userID).Scan(&b.GoldCoins, &b.SweepsCash, &b.RedeemableSC, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: balance of %s", domain.ErrNotFound, userID)
	}
	if err != nil {
		return nil, classify(err)
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	if err := domain.CheckIntegrity("balance", b); err != nil {
		return nil, err
	}
	return b, nil
}

// Profile implements Store
func (s *Postgres) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	p := &domain.Profile{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT display_name, kyc_status, guest, created_at, last_active_at FROM players WHERE id = $1
	`, userID).Scan(&p.DisplayName, &p.KYCStatus, &p.Guest, &p.CreatedAt, &p.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: profile of %s", domain.ErrNotFound, userID)
	}
	if err != nil {
		return nil, classify(err)
	}
	if err := domain.CheckIntegrity("profile", p); err != nil {
		return nil, err
	}
	return p, nil
}

// Bonus implements Store
func (s *Postgres) Bonus(ctx context.Context, userID, gameID string) (*domain.BonusState, error) {
	b, err := s.bonusTx(ctx, s.db, userID, gameID, false)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return &domain.BonusState{UserID: userID, GameID: gameID}, nil
	}
	return b, nil
}

// History implements Store, newest first
func (s *Postgres) History(ctx context.Context, f domain.HistoryFilter) ([]*domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+historyColumns+` FROM history
		WHERE user_id = $1
		AND ($2::timestamptz IS NULL OR ts >= $2)
		AND ($3::timestamptz IS NULL OR ts <= $3)
		ORDER BY ts DESC
		LIMIT $4`, f.UserID, f.From, f.To, clampLimit(f.Limit))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*domain.HistoryEntry
	for rows.Next() {
		e, _, err := scanHistory(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// CreateAccount implements Store
func (s *Postgres) CreateAccount(ctx context.Context, p *domain.Profile, g Grant) (*domain.Balance, error) {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastActiveAt.IsZero() {
		p.LastActiveAt = now
	}
	if p.KYCStatus == "" {
		p.KYCStatus = domain.KYCNone
	}
	if err := domain.Validator().Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWager, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO players (id, display_name, kyc_status, guest, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.UserID, p.DisplayName, p.KYCStatus, p.Guest, p.CreatedAt, p.LastActiveAt)
	if isUniqueViolation(err) {
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, classify(err)
	}

	b := &domain.Balance{UserID: p.UserID, GoldCoins: g.GoldCoins, SweepsCash: g.SweepsCash, UpdatedAt: now}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, gold_coins, sweeps_cash, redeemable_sc, updated_at)
		VALUES ($1, $2, $3, 0, $4)
	`, b.UserID, b.GoldCoins, b.SweepsCash, b.UpdatedAt); err != nil {
		return nil, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return b, nil
}

// SetKYCStatus implements Store
func (s *Postgres) SetKYCStatus(ctx context.Context, userID string, status domain.KYCStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE players SET kyc_status = $2 WHERE id = $1`, userID, status)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: profile of %s", domain.ErrNotFound, userID)
	}
	return nil
}

// ResetStaleGuests implements Store
func (s *Postgres) ResetStaleGuests(ctx context.Context, cutoff time.Time, g Grant) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE balances b SET gold_coins = $2, sweeps_cash = $3, redeemable_sc = 0, updated_at = $4
		FROM players p
		WHERE p.id = b.user_id AND p.guest AND p.last_active_at < $1
		AND (b.gold_coins <> $2 OR b.sweeps_cash <> $3 OR b.redeemable_sc <> 0)
	`, cutoff, g.GoldCoins, g.SweepsCash, s.now())
	if err != nil {
		return 0, classify(err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM bonus_states bs USING players p
		WHERE p.id = bs.user_id AND p.guest AND p.last_active_at < $1
	`, cutoff); err != nil {
		return 0, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// classify marks driver errors that a retry with the same key can resolve
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03", "57P01":
			return fmt.Errorf("%w: %v", ErrTransient, err)
		case "23505":
			// a concurrent Apply with the same key won the insert
			return fmt.Errorf("%w: %v", ErrTransient, err)
		case "23514":
			return domain.IntegrityError("ledger constraint", err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
