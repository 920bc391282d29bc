package game

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alexbotov/sweepsrgs/internal/cards"
	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// PokerStage is the state of a video poker round
type PokerStage string

const (
	PokerDealt PokerStage = "dealt"
	PokerOver  PokerStage = "over"
)

// PokerHand is the serialisable state of one Jacks or Better round
type PokerHand struct {
	Deck  *cards.Deck    `json:"deck"`
	Cards []cards.Card   `json:"cards"`
	Held  []int          `json:"held,omitempty"`
	Stage PokerStage     `json:"stage"`
	Stake int64          `json:"stake"`
	Rank  cards.HandRank `json:"rank"`
}

// DealPoker deals five cards
func DealPoker(deck *cards.Deck, stake int64) (*PokerHand, error) {
	hand, err := deck.DrawN(cards.PokerHandSize)
	if err != nil {
		return nil, err
	}
	h := &PokerHand{Deck: deck, Cards: hand, Stage: PokerDealt, Stake: stake}
	h.Rank, err = cards.Classify(hand)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Draw replaces every card not listed in held, classifies the final hand
// and ends the round. It can only happen once.
func (h *PokerHand) Draw(held []int) error {
	if h.Stage != PokerDealt {
		return fmt.Errorf("%w: draw in stage %s", domain.ErrInvalidRoundState, h.Stage)
	}
	keep := make([]bool, len(h.Cards))
	for _, i := range held {
		if i < 0 || i >= len(h.Cards) {
			return fmt.Errorf("%w: held index %d out of range", domain.ErrInvalidWager, i)
		}
		keep[i] = true
	}
	for i := range h.Cards {
		if keep[i] {
			continue
		}
		c, err := h.Deck.Draw()
		if err != nil {
			return err
		}
		h.Cards[i] = c
	}

	rank, err := cards.Classify(h.Cards)
	if err != nil {
		return err
	}
	h.Held = held
	h.Rank = rank
	h.Stage = PokerOver
	return nil
}

// Payout is stake times the paytable multiplier of the final hand
func (h *PokerHand) Payout(cur domain.Currency) int64 {
	if h.Stage != PokerOver {
		return 0
	}
	stake := domain.Money{Amount: h.Stake, Currency: cur}
	return stake.Mul(decimal.NewFromInt(h.Rank.Multiplier())).Amount
}

// PokerView is what the player sees of the round
type PokerView struct {
	Cards      []cards.Card   `json:"cards"`
	Held       []int          `json:"held,omitempty"`
	Stage      PokerStage     `json:"stage"`
	Stake      int64          `json:"stake"`
	Rank       cards.HandRank `json:"rank"`
	Multiplier int64          `json:"multiplier"`
	Payout     int64          `json:"payout"`
}

// View renders the hand for the player
func (h *PokerHand) View(cur domain.Currency) *PokerView {
	return &PokerView{
		Cards:      h.Cards,
		Held:       h.Held,
		Stage:      h.Stage,
		Stake:      h.Stake,
		Rank:       h.Rank,
		Multiplier: h.Rank.Multiplier(),
		Payout:     h.Payout(cur),
	}
}

// Result classifies the final hand for history
func (h *PokerHand) Result() domain.HistoryResult {
	switch m := h.Rank.Multiplier(); {
	case m > 1:
		return domain.ResultWin
	case m == 1:
		return domain.ResultPush
	}
	return domain.ResultLoss
}
