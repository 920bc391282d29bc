package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/alexbotov/sweepsrgs/internal/audit"
	"github.com/alexbotov/sweepsrgs/internal/cards"
	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/metrics"
	"github.com/alexbotov/sweepsrgs/internal/rng"
	"github.com/alexbotov/sweepsrgs/internal/rounds"
	"github.com/alexbotov/sweepsrgs/internal/wallet"
)

// Ledger steps of a table round. Each is the suffix of an idempotency key
// derived from the round id.
const (
	stepDeal   = "deal"
	stepDouble = "double"
	stepSettle = "settle"
	stepRefund = "refund"
)

// StageClosed is reported for a round that has already been settled
const StageClosed = "closed"

// ErrRefundPending marks an aborted round whose refund could not be applied
// yet. The round stays open so the housekeeping job retries it.
var ErrRefundPending = errors.New("refund pending")

var errExpired = errors.New("round expired")

// roundNamespace derives round ids from the deal's idempotency key, so a
// repeated deal finds the round it opened.
var roundNamespace = uuid.MustParse("5b0c6f0e-3c1a-4b8e-9d8f-2f0f5c8a7e11")

func roundID(userID, key string) string {
	return uuid.NewSHA1(roundNamespace, []byte(userID+"\x00"+key)).String()
}

// tableState is what a round record carries between actions
type tableState struct {
	Seed      string         `json:"seed"`
	Demo      bool           `json:"demo,omitempty"`
	Staked    int64          `json:"staked"`
	Blackjack *BlackjackHand `json:"blackjack,omitempty"`
	Poker     *PokerHand     `json:"poker,omitempty"`
}

func (st *tableState) terminal() bool {
	if st.Blackjack != nil {
		return st.Blackjack.Stage.Terminal()
	}
	return st.Poker.Stage == PokerOver
}

func (st *tableState) stage() string {
	if st.Blackjack != nil {
		return string(st.Blackjack.Stage)
	}
	return string(st.Poker.Stage)
}

func (st *tableState) payout(cur domain.Currency) int64 {
	if st.Blackjack != nil {
		return st.Blackjack.Payout(cur)
	}
	return st.Poker.Payout(cur)
}

func (st *tableState) result() domain.HistoryResult {
	if st.Blackjack != nil {
		return st.Blackjack.Result()
	}
	return st.Poker.Result()
}

func (st *tableState) view(cur domain.Currency) any {
	if st.Blackjack != nil {
		return st.Blackjack.View(cur)
	}
	return st.Poker.View(cur)
}

func decodeState(rec *rounds.Record) (*tableState, error) {
	var st tableState
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return nil, domain.IntegrityError("round "+rec.ID, err)
	}
	if (st.Blackjack == nil) == (st.Poker == nil) {
		return nil, domain.IntegrityError("round "+rec.ID, errors.New("no hand"))
	}
	return &st, nil
}

func encodeState(rec *rounds.Record, st *tableState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode round: %w", err)
	}
	rec.State = b
	rec.Stage = st.stage()
	return nil
}

// RoundResult is the answer to a table action
type RoundResult struct {
	RoundID   string          `json:"round_id"`
	GameID    string          `json:"game_id"`
	Stage     string          `json:"stage"`
	Wager     domain.Money    `json:"wager"`
	Balance   *domain.Balance `json:"balance"`
	Blackjack *BlackjackView  `json:"blackjack,omitempty"`
	Poker     *PokerView      `json:"poker,omitempty"`
	Outcome   *domain.Outcome `json:"outcome,omitempty"`
	Replayed  bool            `json:"replayed,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (e *Engine) roundResult(ctx context.Context, rec *rounds.Record, st *tableState, bal *domain.Balance) (*RoundResult, error) {
	if bal == nil {
		b, err := e.wallet.GetBalance(ctx, rec.UserID)
		if err != nil {
			return nil, err
		}
		bal = b
	}
	res := &RoundResult{
		RoundID:   rec.ID,
		GameID:    rec.Table,
		Stage:     st.stage(),
		Wager:     rec.Wager,
		Balance:   bal,
		UpdatedAt: rec.UpdatedAt,
	}
	switch v := st.view(rec.Wager.Currency).(type) {
	case *BlackjackView:
		res.Blackjack = v
	case *PokerView:
		res.Poker = v
	}
	return res, nil
}

// DealBlackjack opens a blackjack round and debits the stake. A natural is
// settled at once.
func (e *Engine) DealBlackjack(ctx context.Context, p Player, w domain.Wager) (*RoundResult, error) {
	def, err := e.catalog.GetOfType(w.GameID, domain.GameTypeBlackjack)
	if err != nil {
		return nil, err
	}
	return e.open(ctx, p, w, domain.GameTypeBlackjack, func(deck *cards.Deck) (*tableState, error) {
		h, err := DealBlackjack(deck, w.Amount, *def.Blackjack)
		if err != nil {
			return nil, err
		}
		return &tableState{Blackjack: h}, nil
	})
}

// DealPoker opens a video poker round and debits the stake
func (e *Engine) DealPoker(ctx context.Context, p Player, w domain.Wager) (*RoundResult, error) {
	if _, err := e.catalog.GetOfType(w.GameID, domain.GameTypePoker); err != nil {
		return nil, err
	}
	return e.open(ctx, p, w, domain.GameTypePoker, func(deck *cards.Deck) (*tableState, error) {
		h, err := DealPoker(deck, w.Amount)
		if err != nil {
			return nil, err
		}
		return &tableState{Poker: h}, nil
	})
}

// shuffle builds the deck of a new round. Tests replace it to stack decks.
var shuffle = func(src rng.Source) (*cards.Deck, error) {
	return cards.NewShuffledDeck(src)
}

func (e *Engine) open(ctx context.Context, p Player, w domain.Wager, kind domain.GameType,
	deal func(deck *cards.Deck) (*tableState, error)) (*RoundResult, error) {
	if err := e.wallet.Ladders().ValidateWager(w); err != nil {
		return nil, err
	}

	rec := rounds.NewRecord(p.UserID, w.GameID, kind, w.Money())
	rec.ID = roundID(p.UserID, w.IdempotencyKey)

	unlock, err := e.locks.Lock(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := e.wallet.Lookup(ctx, p.UserID, rec.Key(stepDeal)); err == nil {
		return e.replayRound(ctx, rec)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	release, err := e.admit(ctx, p, w.GameID, w.Money())
	if err != nil {
		return nil, err
	}
	debited := false
	defer func() {
		if !debited {
			release()
		}
	}()

	src, seed, demo, err := e.source(ctx, p, w.Currency)
	if err != nil {
		return nil, err
	}
	deck, err := shuffle(src)
	if err != nil {
		return nil, err
	}
	st, err := deal(deck)
	if err != nil {
		return nil, err
	}
	st.Seed, st.Demo, st.Staked = seed, demo, w.Amount
	if err := encodeState(rec, st); err != nil {
		return nil, err
	}

	if err := e.rounds.Create(ctx, rec); err != nil {
		return nil, err
	}
	r, err := e.wallet.Debit(ctx, wallet.Entry{
		UserID:     p.UserID,
		Key:        rec.Key(stepDeal),
		ActivityID: rec.ID,
		GameID:     w.GameID,
		Amount:     w.Money(),
		Result:     domain.ResultWager,
		AuditRef:   seed,
	})
	if err != nil {
		if derr := e.rounds.Delete(ctx, rec); derr != nil {
			log.WithError(derr).WithField("round_id", rec.ID).Error("Failed to discard unfunded round")
		}
		return nil, err
	}
	debited = !r.Replayed

	log.WithFields(log.Fields{
		"round_id": rec.ID,
		"user_id":  p.UserID,
		"game_id":  w.GameID,
		"stage":    rec.Stage,
	}).Debug("Round opened")

	if st.terminal() {
		return e.settleRound(ctx, p, rec, st)
	}
	return e.roundResult(ctx, rec, st, r.Balance)
}

// replayRound answers a repeated deal with the current state of its round
func (e *Engine) replayRound(ctx context.Context, rec *rounds.Record) (*RoundResult, error) {
	cur, err := e.rounds.Get(ctx, rec.ID)
	if errors.Is(err, domain.ErrNotFound) {
		b, err := e.wallet.GetBalance(ctx, rec.UserID)
		if err != nil {
			return nil, err
		}
		return &RoundResult{
			RoundID:  rec.ID,
			GameID:   rec.Table,
			Stage:    StageClosed,
			Wager:    rec.Wager,
			Balance:  b,
			Replayed: true,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	st, err := decodeState(cur)
	if err != nil {
		return nil, err
	}
	res, err := e.roundResult(ctx, cur, st, nil)
	if err != nil {
		return nil, err
	}
	res.Replayed = true
	return res, nil
}

// Hit draws one card for the player
func (e *Engine) Hit(ctx context.Context, p Player, roundID string) (*RoundResult, error) {
	return e.act(ctx, p, roundID, domain.GameTypeBlackjack, func(_ *rounds.Record, st *tableState) error {
		return st.Blackjack.Hit()
	})
}

// Stand ends the player's turn and settles the round
func (e *Engine) Stand(ctx context.Context, p Player, roundID string) (*RoundResult, error) {
	return e.act(ctx, p, roundID, domain.GameTypeBlackjack, func(_ *rounds.Record, st *tableState) error {
		return st.Blackjack.Stand()
	})
}

// DoubleDown debits a second stake, draws one card and settles the round
func (e *Engine) DoubleDown(ctx context.Context, p Player, roundID string) (*RoundResult, error) {
	return e.act(ctx, p, roundID, domain.GameTypeBlackjack, func(rec *rounds.Record, st *tableState) error {
		h := st.Blackjack
		if !h.CanDouble() {
			return fmt.Errorf("%w: double down only on the first two cards", domain.ErrInvalidRoundState)
		}
		// the second stake passes the same checks as the first
		extra := domain.NewMoney(h.Stake, rec.Wager.Currency)
		release, err := e.admit(ctx, p, rec.Table, extra)
		if err != nil {
			return err
		}
		r, err := e.wallet.Debit(ctx, wallet.Entry{
			UserID:     rec.UserID,
			Key:        rec.Key(stepDouble),
			ActivityID: rec.ID,
			GameID:     rec.Table,
			Amount:     extra,
			Result:     domain.ResultWager,
			AuditRef:   st.Seed,
		})
		if err != nil {
			release()
			return err
		}
		if r.Replayed {
			release()
		}
		st.Staked += h.Stake
		return h.DoubleDown()
	})
}

// Draw replaces the cards not held and settles the poker round
func (e *Engine) Draw(ctx context.Context, p Player, roundID string, held []int) (*RoundResult, error) {
	return e.act(ctx, p, roundID, domain.GameTypePoker, func(_ *rounds.Record, st *tableState) error {
		return st.Poker.Draw(held)
	})
}

// Round returns the state of an open round owned by the player
func (e *Engine) Round(ctx context.Context, p Player, roundID string) (*RoundResult, error) {
	rec, err := e.rounds.Get(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if err := rec.Owned(p.UserID); err != nil {
		return nil, err
	}
	st, err := decodeState(rec)
	if err != nil {
		return nil, err
	}
	return e.roundResult(ctx, rec, st, nil)
}

// ActiveRound returns the open round of the player at a table, if any
func (e *Engine) ActiveRound(ctx context.Context, p Player, gameID string) (*RoundResult, error) {
	rec, err := e.rounds.Active(ctx, p.UserID, gameID)
	if err != nil {
		return nil, err
	}
	st, err := decodeState(rec)
	if err != nil {
		return nil, err
	}
	return e.roundResult(ctx, rec, st, nil)
}

// act serializes one action on a round. A depleted deck aborts the round
// and refunds everything staked on it.
func (e *Engine) act(ctx context.Context, p Player, roundID string, kind domain.GameType,
	step func(rec *rounds.Record, st *tableState) error) (*RoundResult, error) {
	unlock, err := e.locks.Lock(ctx, roundID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := e.rounds.Get(ctx, roundID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: round %s is not open", domain.ErrInvalidRoundState, roundID)
	}
	if err != nil {
		return nil, err
	}
	if err := rec.Owned(p.UserID); err != nil {
		return nil, err
	}
	if rec.Kind != kind {
		return nil, fmt.Errorf("%w: round %s is %s", domain.ErrInvalidRoundState, roundID, rec.Kind)
	}
	if err := e.control.CheckAccess(rec.Table); err != nil {
		return nil, err
	}
	st, err := decodeState(rec)
	if err != nil {
		return nil, err
	}
	if st.terminal() {
		// settled but not yet closed
		return e.settleRound(ctx, p, rec, st)
	}

	if err := step(rec, st); err != nil {
		if errors.Is(err, domain.ErrDeckDepleted) {
			return nil, e.abort(ctx, rec, st, err)
		}
		return nil, err
	}

	if st.terminal() {
		return e.settleRound(ctx, p, rec, st)
	}
	if err := encodeState(rec, st); err != nil {
		return nil, err
	}
	if err := e.rounds.Update(ctx, rec); err != nil {
		return nil, err
	}
	return e.roundResult(ctx, rec, st, nil)
}

// settleRound credits the payout of a terminal round and closes it
func (e *Engine) settleRound(ctx context.Context, p Player, rec *rounds.Record, st *tableState) (*RoundResult, error) {
	cur := rec.Wager.Currency
	payout := st.payout(cur)
	d, err := detail(st.view(cur))
	if err != nil {
		return nil, err
	}
	out := &domain.Outcome{
		GameID:    rec.Table,
		TotalWin:  payout,
		IsBigWin:  payout > st.Staked*bigWinFactor,
		Detail:    d,
		AuditSeed: st.Seed,
		Demo:      st.Demo,
	}

	if err := encodeState(rec, st); err != nil {
		return nil, err
	}
	if err := e.rounds.Update(ctx, rec); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	r, err := e.wallet.Credit(ctx, wallet.Entry{
		UserID:     rec.UserID,
		Key:        rec.Key(stepSettle),
		ActivityID: rec.ID,
		GameID:     rec.Table,
		Amount:     domain.NewMoney(payout, cur),
		Result:     st.result(),
		AuditRef:   st.Seed,
		Outcome:    out,
	})
	if err != nil {
		return nil, err
	}
	if err := e.rounds.Delete(ctx, rec); err != nil {
		log.WithError(err).WithField("round_id", rec.ID).Warn("Failed to close settled round")
	}
	if out.IsBigWin && !r.Replayed {
		e.bigWin(ctx, p, rec.Table, domain.NewMoney(st.Staked, cur), payout)
	}

	res, err := e.roundResult(ctx, rec, st, r.Balance)
	if err != nil {
		return nil, err
	}
	res.Outcome = out
	return res, nil
}

// bigWinFactor flags table wins above this multiple of the stake
const bigWinFactor = 10

// abort refunds a round that cannot continue and closes it. The returned
// error wraps cause.
func (e *Engine) abort(ctx context.Context, rec *rounds.Record, st *tableState, cause error) error {
	refund := domain.NewMoney(st.Staked, rec.Wager.Currency)
	_, err := e.wallet.Credit(ctx, wallet.Entry{
		UserID:     rec.UserID,
		Key:        rec.Key(stepRefund),
		ActivityID: rec.ID,
		GameID:     rec.Table,
		Amount:     refund,
		Result:     domain.ResultRefund,
		AuditRef:   st.Seed,
		Outcome:    map[string]any{"reason": cause.Error(), "stage": rec.Stage},
	})
	if err != nil {
		log.WithError(err).WithField("round_id", rec.ID).Error("Failed to refund aborted round")
		return fmt.Errorf("%w: round %s: %w", ErrRefundPending, rec.ID, errors.Join(cause, err))
	}
	if err := e.rounds.Delete(ctx, rec); err != nil {
		log.WithError(err).WithField("round_id", rec.ID).Warn("Failed to close aborted round")
	}

	metrics.RoundsAborted.WithLabelValues(rec.Table).Inc()
	e.audit.Log(ctx, audit.EventRoundAborted, domain.SeverityError,
		fmt.Sprintf("Round %s aborted and refunded %s", rec.ID, refund),
		map[string]any{"round_id": rec.ID, "game_id": rec.Table, "refund": refund.Amount, "reason": cause.Error()},
		audit.WithUser(rec.UserID), audit.WithComponent("engine"))
	return fmt.Errorf("round %s aborted and refunded: %w", rec.ID, cause)
}

// ExpireStale closes rounds untouched since before. A round whose hand is
// already decided is settled; any other round is refunded.
func (e *Engine) ExpireStale(ctx context.Context, before time.Time) (int, error) {
	stale, err := e.rounds.Stale(ctx, before)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, rec := range stale {
		ok, err := e.expire(ctx, rec.ID, before)
		if err != nil {
			log.WithError(err).WithField("round_id", rec.ID).Error("Failed to expire round")
			continue
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

// expire closes one stale round. The round is read again under its lock: a
// round closed or played since the stale listing is left alone.
func (e *Engine) expire(ctx context.Context, roundID string, before time.Time) (bool, error) {
	unlock, err := e.locks.Lock(ctx, roundID)
	if err != nil {
		return false, err
	}
	defer unlock()

	rec, err := e.rounds.Get(ctx, roundID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.UpdatedAt.Before(before) {
		return false, nil
	}

	st, err := decodeState(rec)
	if err != nil {
		e.audit.Log(ctx, audit.EventIntegrityFailure, domain.SeverityCritical,
			fmt.Sprintf("Stale round %s is unreadable", rec.ID), map[string]any{"error": err.Error()},
			audit.WithUser(rec.UserID), audit.WithComponent("jobs"))
		return false, err
	}

	e.audit.Log(ctx, audit.EventRoundStale, domain.SeverityWarning,
		fmt.Sprintf("Expiring round %s in stage %s", rec.ID, rec.Stage),
		map[string]any{
			"round_id":   rec.ID,
			"game_id":    rec.Table,
			"stage":      rec.Stage,
			"staked":     st.Staked,
			"created_at": rec.CreatedAt,
			"updated_at": rec.UpdatedAt,
		},
		audit.WithUser(rec.UserID), audit.WithComponent("jobs"))

	if st.terminal() {
		if _, err := e.settleRound(ctx, Player{UserID: rec.UserID}, rec, st); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := e.abort(ctx, rec, st, errExpired); errors.Is(err, ErrRefundPending) {
		return false, err
	}
	return true, nil
}
