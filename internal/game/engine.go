// Package game provides the outcome engines and the play flow that ties
// them to the kill switches, the compliance gate and settlement.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alexbotov/sweepsrgs/internal/audit"
	"github.com/alexbotov/sweepsrgs/internal/compliance"
	"github.com/alexbotov/sweepsrgs/internal/concurrency"
	"github.com/alexbotov/sweepsrgs/internal/control"
	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/ledger"
	"github.com/alexbotov/sweepsrgs/internal/limits"
	"github.com/alexbotov/sweepsrgs/internal/metrics"
	"github.com/alexbotov/sweepsrgs/internal/rng"
	"github.com/alexbotov/sweepsrgs/internal/rounds"
	"github.com/alexbotov/sweepsrgs/internal/wallet"
)

// Deps are the collaborators of an Engine. Demo may be nil, in which case
// Gold Coin play fails like Sweeps Cash play when the secure source is
// down. Gate may be nil only when Sweeps Cash play is not offered: every
// Sweeps Cash wager is then refused. Limits may be nil when no player
// limits are enforced.
type Deps struct {
	Catalog *Catalog
	Wallet  *wallet.Service
	Rounds  rounds.Store
	RNG     rng.Source
	Demo    rng.Source
	Gate    *compliance.Gate
	Control *control.Service
	Limits  *limits.Service
	Audit   *audit.Service
}

// Engine runs plays
type Engine struct {
	catalog *Catalog
	wallet  *wallet.Service
	rounds  rounds.Store
	rng     rng.Source
	demo    rng.Source
	gate    *compliance.Gate
	control *control.Service
	limits  *limits.Service
	audit   *audit.Service
	locks   *concurrency.LockManager
}

// New creates a game engine
func New(d Deps) *Engine {
	return &Engine{
		catalog: d.Catalog,
		wallet:  d.Wallet,
		rounds:  d.Rounds,
		rng:     d.RNG,
		demo:    d.Demo,
		gate:    d.Gate,
		control: d.Control,
		limits:  d.Limits,
		audit:   d.Audit,
		locks:   concurrency.NewLockManager(),
	}
}

// Player identifies the caller of a play
type Player struct {
	UserID string
	IP     string
}

// PlayResult is the answer to a single-step play
type PlayResult struct {
	Balance  *domain.Balance    `json:"balance"`
	Outcome  *domain.Outcome    `json:"outcome"`
	Bonus    *domain.BonusState `json:"bonus,omitempty"`
	Replayed bool               `json:"replayed,omitempty"`
}

// GameInfo is a catalog entry with its current availability
type GameInfo struct {
	*GameDef
	Enabled bool `json:"enabled"`
}

// Catalog returns the games the engine serves
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Games lists every game and whether it may be played now
func (e *Engine) Games() []GameInfo {
	defs := e.catalog.All()
	out := make([]GameInfo, 0, len(defs))
	for _, g := range defs {
		out = append(out, GameInfo{GameDef: g, Enabled: e.control.CheckAccess(g.ID) == nil})
	}
	return out
}

// admit runs the checks that precede any outcome: kill switches, then for
// Sweeps Cash the KYC status and the fail-closed location gate, and last the
// player limits, which reserve the stake against today's cap. The returned
// release gives the reservation back and must run when the stake is not
// debited. A free spin passes a zero stake.
func (e *Engine) admit(ctx context.Context, p Player, gameID string, stake domain.Money) (func(), error) {
	if err := e.control.CheckAccess(gameID); err != nil {
		return nil, err
	}
	if stake.Currency == domain.SweepsCash {
		if err := e.admitSweeps(ctx, p, gameID); err != nil {
			return nil, err
		}
	}
	if e.limits == nil {
		return func() {}, nil
	}
	return e.limits.Reserve(ctx, p.UserID, stake)
}

func (e *Engine) admitSweeps(ctx context.Context, p Player, gameID string) error {
	prof, err := e.wallet.GetProfile(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !prof.CanPlaySweeps() {
		return fmt.Errorf("%w: kyc status %s", domain.ErrKYCRequired, prof.KYCStatus)
	}

	if e.gate == nil {
		return &domain.LocationBlockedError{Reason: compliance.ReasonServiceError}
	}
	d := e.gate.VerifyLocation(ctx, p.IP)
	if d.Allowed {
		return nil
	}
	e.audit.Log(ctx, audit.EventLocationDenied, domain.SeverityWarning,
		fmt.Sprintf("Sweeps play refused: %s", d.Reason),
		map[string]any{"game_id": gameID, "reason": d.Reason, "country": d.Country, "region": d.Region},
		audit.WithUser(p.UserID), audit.WithIP(p.IP), audit.WithComponent("compliance"))
	return d.Err()
}

// source picks the random source of a play and draws its audit seed. Gold
// Coin play falls back to the demo generator when the secure source fails;
// Sweeps Cash never does.
func (e *Engine) source(ctx context.Context, p Player, cur domain.Currency) (rng.Source, string, bool, error) {
	if !e.rng.Secure() && cur == domain.SweepsCash {
		return nil, "", false, fmt.Errorf("%w: configured source is not cryptographic", domain.ErrRNGUnavailable)
	}
	seed, err := rng.AuditSeed(e.rng)
	if err == nil {
		return e.rng, seed, false, nil
	}

	metrics.RNGHealthy.Set(0)
	e.audit.Log(ctx, audit.EventRNGFailure, domain.SeverityCritical, "Secure RNG unavailable",
		map[string]any{"error": err.Error(), "currency": cur},
		audit.WithUser(p.UserID), audit.WithComponent("rng"))

	if cur != domain.GoldCoin || e.demo == nil {
		return nil, "", false, err
	}
	seed, derr := rng.AuditSeed(e.demo)
	if derr != nil {
		return nil, "", false, err
	}
	e.audit.Log(ctx, audit.EventDemoFallback, domain.SeverityWarning, "Gold Coin play on demo RNG",
		nil, audit.WithUser(p.UserID), audit.WithComponent("rng"))
	return e.demo, seed, true, nil
}

// replay answers a repeated idempotency key with the original result
func (e *Engine) replay(ctx context.Context, userID, key string) (*PlayResult, bool, error) {
	r, err := e.wallet.Lookup(ctx, userID, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	res, err := e.replayed(r)
	return res, err == nil, err
}

// play is the shared single-step flow. eval computes the outcome from the
// chosen source.
func (e *Engine) play(ctx context.Context, p Player, w domain.Wager, freeSpin bool,
	eval func(src rng.Source) (*domain.Outcome, error)) (*PlayResult, error) {
	if res, ok, err := e.replay(ctx, p.UserID, w.IdempotencyKey); ok || err != nil {
		return res, err
	}
	stake := w.Money()
	if freeSpin {
		stake.Amount = 0
	}
	release, err := e.admit(ctx, p, w.GameID, stake)
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

	out, err := eval(src)
	if err != nil {
		if domain.Fatal(err) {
			e.audit.Log(ctx, audit.EventRNGFailure, domain.SeverityCritical, "Outcome generation failed",
				map[string]any{"game_id": w.GameID, "error": err.Error()},
				audit.WithUser(p.UserID), audit.WithComponent("engine"))
		}
		return nil, err
	}
	out.GameID = w.GameID
	out.AuditSeed = seed
	out.Demo = demo

	r, err := e.wallet.Settle(ctx, wallet.Play{UserID: p.UserID, Wager: w, Outcome: out, FreeSpin: freeSpin})
	if err != nil {
		if errors.Is(err, domain.ErrDataIntegrity) {
			e.audit.Log(ctx, audit.EventIntegrityFailure, domain.SeverityCritical, "Settlement aborted",
				map[string]any{"game_id": w.GameID, "key": w.IdempotencyKey, "error": err.Error()},
				audit.WithUser(p.UserID), audit.WithComponent("wallet"))
		}
		return nil, err
	}
	if r.Replayed {
		return e.replayed(r)
	}
	debited = true
	if out.IsBigWin {
		e.bigWin(ctx, p, w.GameID, w.Money(), out.TotalWin)
	}
	return &PlayResult{Balance: r.Balance, Outcome: out, Bonus: r.Bonus}, nil
}

// replayed rebuilds the result of an already settled key from its receipt
func (e *Engine) replayed(r *ledger.Receipt) (*PlayResult, error) {
	var out domain.Outcome
	if err := json.Unmarshal(r.Entry.Outcome, &out); err != nil {
		return nil, domain.IntegrityError("stored outcome", err)
	}
	return &PlayResult{Balance: r.Balance, Outcome: &out, Bonus: r.Bonus, Replayed: true}, nil
}

func (e *Engine) bigWin(ctx context.Context, p Player, gameID string, stake domain.Money, win int64) {
	metrics.BigWinsTotal.WithLabelValues(gameID).Inc()
	e.audit.Log(ctx, audit.EventBigWin, domain.SeverityInfo,
		fmt.Sprintf("Big win on %s: %s", gameID, domain.NewMoney(win, stake.Currency)),
		map[string]any{"game_id": gameID, "wager": stake.Amount, "win": win, "currency": stake.Currency},
		audit.WithUser(p.UserID), audit.WithIP(p.IP), audit.WithComponent("engine"))
}

func detail(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outcome detail: %w", err)
	}
	return b, nil
}

// Spin plays one slot spin. A free spin replays the stake of the player's
// bonus and consumes one spin of it; w.Amount and w.Currency are taken from
// the bonus.
func (e *Engine) Spin(ctx context.Context, p Player, w domain.Wager, freeSpin bool) (*PlayResult, error) {
	def, err := e.catalog.GetOfType(w.GameID, domain.GameTypeSlots)
	if err != nil {
		return nil, err
	}
	if freeSpin {
		bonus, err := e.wallet.GetBonus(ctx, p.UserID, w.GameID)
		if err != nil {
			return nil, err
		}
		if !bonus.Active() {
			if res, ok, err := e.replay(ctx, p.UserID, w.IdempotencyKey); ok || err != nil {
				return res, err
			}
			return nil, domain.ErrNoFreeSpins
		}
		w.Amount, w.Currency = bonus.Wager, bonus.Currency
	} else if err := e.wallet.Ladders().ValidateWager(w); err != nil {
		return nil, err
	}

	return e.play(ctx, p, w, freeSpin, func(src rng.Source) (*domain.Outcome, error) {
		res, err := Spin(src, def.Slot, w.Money(), freeSpin)
		if err != nil {
			return nil, err
		}
		res.FreeSpin = freeSpin
		d, err := detail(res)
		if err != nil {
			return nil, err
		}
		return &domain.Outcome{
			TotalWin:     res.TotalWin,
			IsBigWin:     res.IsBigWin,
			FreeSpinsWon: res.FreeSpinsWon,
			Detail:       d,
		}, nil
	})
}

// Drop plays one Plinko ball
func (e *Engine) Drop(ctx context.Context, p Player, w domain.Wager, rows int, risk Risk) (*PlayResult, error) {
	if _, err := e.catalog.GetOfType(w.GameID, domain.GameTypePlinko); err != nil {
		return nil, err
	}
	if err := e.wallet.Ladders().ValidateWager(w); err != nil {
		return nil, err
	}
	if _, err := Multipliers(rows, risk); err != nil {
		return nil, err
	}

	return e.play(ctx, p, w, false, func(src rng.Source) (*domain.Outcome, error) {
		res, err := Drop(src, rows, risk, w.Money())
		if err != nil {
			return nil, err
		}
		d, err := detail(res)
		if err != nil {
			return nil, err
		}
		return &domain.Outcome{TotalWin: res.TotalWin, IsBigWin: res.IsBigWin, Detail: d}, nil
	})
}

// BuyTicket buys and reveals one scratch ticket. A zero w.Amount means the
// catalog price; any other amount must equal it.
func (e *Engine) BuyTicket(ctx context.Context, p Player, w domain.Wager) (*PlayResult, error) {
	def, err := e.catalog.GetOfType(w.GameID, domain.GameTypeScratch)
	if err != nil {
		return nil, err
	}
	price := def.Scratch.Price(w.Currency)
	if w.Amount == 0 {
		w.Amount = price.Amount
	}
	if w.Amount != price.Amount {
		return nil, fmt.Errorf("%w: ticket costs %s", domain.ErrInvalidWager, price)
	}
	if err := e.wallet.Ladders().ValidateWager(w); err != nil {
		return nil, err
	}

	return e.play(ctx, p, w, false, func(src rng.Source) (*domain.Outcome, error) {
		res, err := DrawTicket(src, def.Scratch, price)
		if err != nil {
			return nil, err
		}
		d, err := detail(res)
		if err != nil {
			return nil, err
		}
		return &domain.Outcome{TotalWin: res.Prize, IsBigWin: res.IsBigWin, Detail: d}, nil
	})
}
