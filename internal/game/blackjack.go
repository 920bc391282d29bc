package game

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alexbotov/sweepsrgs/internal/cards"
	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// BlackjackStage is the state of a blackjack round
type BlackjackStage string

const (
	StageActive     BlackjackStage = "active"
	StagePlayerBust BlackjackStage = "player_bust"
	StageDealerBust BlackjackStage = "dealer_bust"
	StagePlayerWin  BlackjackStage = "player_win"
	StageDealerWin  BlackjackStage = "dealer_win"
	StagePush       BlackjackStage = "push"
)

// Terminal reports whether no further action is possible
func (s BlackjackStage) Terminal() bool {
	return s != StageActive
}

// Payout multipliers of the total stake, returned to the player
var (
	naturalPays = decimal.RequireFromString("2.5")
	winPays     = decimal.NewFromInt(2)
	pushPays    = decimal.NewFromInt(1)
)

// DealerStandsOn is the total at which the dealer stops drawing
const DealerStandsOn = 17

// BlackjackRules are the table options
type BlackjackRules struct {
	HitSoft17 bool `yaml:"hit_soft_17" json:"hit_soft_17"`
}

// BlackjackHand is the serialisable state of one round
type BlackjackHand struct {
	Deck    *cards.Deck    `json:"deck"`
	Player  []cards.Card   `json:"player"`
	Dealer  []cards.Card   `json:"dealer"`
	Stage   BlackjackStage `json:"stage"`
	Stake   int64          `json:"stake"`
	Doubled bool           `json:"doubled"`
	Natural bool           `json:"natural"`
	Rules   BlackjackRules `json:"rules"`
}

// DealBlackjack deals player, dealer, player, dealer and resolves naturals
func DealBlackjack(deck *cards.Deck, stake int64, rules BlackjackRules) (*BlackjackHand, error) {
	h := &BlackjackHand{Deck: deck, Stage: StageActive, Stake: stake, Rules: rules}
	for i := 0; i < 2; i++ {
		p, err := deck.Draw()
		if err != nil {
			return nil, err
		}
		d, err := deck.Draw()
		if err != nil {
			return nil, err
		}
		h.Player = append(h.Player, p)
		h.Dealer = append(h.Dealer, d)
	}

	playerNatural := cards.IsNatural(h.Player)
	dealerNatural := cards.IsNatural(h.Dealer)
	switch {
	case playerNatural && dealerNatural:
		h.Stage = StagePush
	case playerNatural:
		h.Stage = StagePlayerWin
		h.Natural = true
	case dealerNatural:
		// the dealer checks for blackjack before the player acts
		h.Stage = StageDealerWin
	}
	return h, nil
}

func (h *BlackjackHand) requireActive(action string) error {
	if h.Stage != StageActive {
		return fmt.Errorf("%w: cannot %s in stage %s", domain.ErrInvalidRoundState, action, h.Stage)
	}
	return nil
}

// Hit draws one card for the player
func (h *BlackjackHand) Hit() error {
	if err := h.requireActive("hit"); err != nil {
		return err
	}
	c, err := h.Deck.Draw()
	if err != nil {
		return err
	}
	h.Player = append(h.Player, c)
	if cards.IsBust(h.Player) {
		h.Stage = StagePlayerBust
	}
	return nil
}

// Stand plays out the dealer and resolves the round
func (h *BlackjackHand) Stand() error {
	if err := h.requireActive("stand"); err != nil {
		return err
	}
	return h.playDealer()
}

// CanDouble reports whether doubling down is allowed now
func (h *BlackjackHand) CanDouble() bool {
	return h.Stage == StageActive && len(h.Player) == 2 && !h.Doubled
}

// DoubleDown doubles the stake, draws exactly one card, then stands
func (h *BlackjackHand) DoubleDown() error {
	if err := h.requireActive("double down"); err != nil {
		return err
	}
	if !h.CanDouble() {
		return fmt.Errorf("%w: double down only on the first two cards", domain.ErrInvalidRoundState)
	}
	c, err := h.Deck.Draw()
	if err != nil {
		return err
	}
	h.Doubled = true
	h.Stake *= 2
	h.Player = append(h.Player, c)
	if cards.IsBust(h.Player) {
		h.Stage = StagePlayerBust
		return nil
	}
	return h.playDealer()
}

func (h *BlackjackHand) dealerHits() bool {
	s := cards.ScoreHand(h.Dealer)
	if s.Total < DealerStandsOn {
		return true
	}
	return h.Rules.HitSoft17 && s.Total == DealerStandsOn && s.Soft
}

func (h *BlackjackHand) playDealer() error {
	for h.dealerHits() {
		c, err := h.Deck.Draw()
		if err != nil {
			return err
		}
		h.Dealer = append(h.Dealer, c)
	}

	player := cards.ScoreHand(h.Player).Total
	dealer := cards.ScoreHand(h.Dealer).Total
	switch {
	case dealer > cards.Blackjack:
		h.Stage = StageDealerBust
	case player > dealer:
		h.Stage = StagePlayerWin
	case player < dealer:
		h.Stage = StageDealerWin
	default:
		h.Stage = StagePush
	}
	return nil
}

// Payout is the amount returned to the player for a terminal stage
func (h *BlackjackHand) Payout(cur domain.Currency) int64 {
	stake := domain.Money{Amount: h.Stake, Currency: cur}
	switch h.Stage {
	case StagePlayerWin:
		if h.Natural {
			return stake.Mul(naturalPays).Amount
		}
		return stake.Mul(winPays).Amount
	case StageDealerBust:
		return stake.Mul(winPays).Amount
	case StagePush:
		return stake.Mul(pushPays).Amount
	}
	return 0
}

// BlackjackView is what the player may see. The dealer hole card stays
// hidden while the round is active.
type BlackjackView struct {
	Player      []cards.Card   `json:"player"`
	Dealer      []cards.Card   `json:"dealer"`
	PlayerScore cards.Score    `json:"player_score"`
	DealerScore *cards.Score   `json:"dealer_score,omitempty"`
	Stage       BlackjackStage `json:"stage"`
	Stake       int64          `json:"stake"`
	Doubled     bool           `json:"doubled"`
	CanDouble   bool           `json:"can_double"`
	Payout      int64          `json:"payout"`
}

// View renders the hand for the player
func (h *BlackjackHand) View(cur domain.Currency) *BlackjackView {
	v := &BlackjackView{
		Player:      h.Player,
		PlayerScore: cards.ScoreHand(h.Player),
		Stage:       h.Stage,
		Stake:       h.Stake,
		Doubled:     h.Doubled,
		CanDouble:   h.CanDouble(),
	}
	if h.Stage.Terminal() {
		s := cards.ScoreHand(h.Dealer)
		v.Dealer = h.Dealer
		v.DealerScore = &s
		v.Payout = h.Payout(cur)
	} else if len(h.Dealer) > 0 {
		v.Dealer = h.Dealer[:1]
	}
	return v
}

// Result classifies the terminal stage for history
func (h *BlackjackHand) Result() domain.HistoryResult {
	switch h.Stage {
	case StagePlayerWin, StageDealerBust:
		return domain.ResultWin
	case StagePush:
		return domain.ResultPush
	}
	return domain.ResultLoss
}
