package cards

import (
	"fmt"
	"sort"
)

// HandRank is a Jacks or Better category, ordered lowest to highest
type HandRank int

const (
	HighCard HandRank = iota
	JacksOrBetter
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
	RoyalFlush
)

var handNames = [...]string{
	HighCard:      "High Card",
	JacksOrBetter: "Jacks or Better",
	TwoPair:       "Two Pair",
	ThreeOfAKind:  "Three of a Kind",
	Straight:      "Straight",
	Flush:         "Flush",
	FullHouse:     "Full House",
	FourOfAKind:   "Four of a Kind",
	StraightFlush: "Straight Flush",
	RoyalFlush:    "Royal Flush",
}

func (h HandRank) String() string {
	if h < 0 || int(h) >= len(handNames) {
		return fmt.Sprintf("HandRank(%d)", int(h))
	}
	return handNames[h]
}

// MarshalText encodes the rank by name
func (h HandRank) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a rank name
func (h *HandRank) UnmarshalText(b []byte) error {
	for i, n := range handNames {
		if n == string(b) {
			*h = HandRank(i)
			return nil
		}
	}
	return fmt.Errorf("unknown hand rank %q", string(b))
}

// Paytable maps a category to its payout multiplier of the wager
var Paytable = map[HandRank]int64{
	RoyalFlush:    800,
	StraightFlush: 50,
	FourOfAKind:   25,
	FullHouse:     9,
	Flush:         6,
	Straight:      4,
	ThreeOfAKind:  3,
	TwoPair:       2,
	JacksOrBetter: 1,
	HighCard:      0,
}

// Multiplier returns the paytable entry of h
func (h HandRank) Multiplier() int64 {
	return Paytable[h]
}

// PokerHandSize is the number of cards in a draw poker hand
const PokerHandSize = 5

// Classify ranks a five-card hand
func Classify(hand []Card) (HandRank, error) {
	if len(hand) != PokerHandSize {
		return HighCard, fmt.Errorf("poker hand needs %d cards, got %d", PokerHandSize, len(hand))
	}

	ranks := make([]int, len(hand))
	for i, c := range hand {
		ranks[i] = int(c.Rank)
	}
	sort.Ints(ranks)

	flush := true
	for _, c := range hand[1:] {
		if c.Suit != hand[0].Suit {
			flush = false
			break
		}
	}

	straight := isStraight(ranks)

	counts := make(map[int]int)
	for _, r := range ranks {
		counts[r]++
	}
	var pairs, trips, quads int
	highPair := false
	for r, n := range counts {
		switch n {
		case 2:
			pairs++
			if r >= int(Jack) {
				highPair = true
			}
		case 3:
			trips++
		case 4:
			quads++
		}
	}

	switch {
	case straight && flush && ranks[0] == 10:
		return RoyalFlush, nil
	case straight && flush:
		return StraightFlush, nil
	case quads == 1:
		return FourOfAKind, nil
	case trips == 1 && pairs == 1:
		return FullHouse, nil
	case flush:
		return Flush, nil
	case straight:
		return Straight, nil
	case trips == 1:
		return ThreeOfAKind, nil
	case pairs == 2:
		return TwoPair, nil
	case pairs == 1 && highPair:
		return JacksOrBetter, nil
	}
	return HighCard, nil
}

// isStraight expects sorted ranks. A-2-3-4-5 (the wheel) counts.
func isStraight(ranks []int) bool {
	for i := 1; i < len(ranks); i++ {
		if ranks[i] == ranks[i-1] {
			return false
		}
	}
	if ranks[len(ranks)-1]-ranks[0] == len(ranks)-1 {
		return true
	}
	return ranks[0] == 2 && ranks[1] == 3 && ranks[2] == 4 && ranks[3] == 5 && ranks[4] == int(Ace)
}
