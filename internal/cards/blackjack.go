package cards

// Blackjack is the target total
const Blackjack = 21

// Score is the blackjack total of a hand.
// Soft counts aces still valued at 11.
type Score struct {
	Total int  `json:"total"`
	Soft  bool `json:"soft"`
}

// ScoreHand sums card values with aces at 11, then reduces one ace at a
// time by 10 while the total is over 21.
func ScoreHand(hand []Card) Score {
	total, aces := 0, 0
	for _, c := range hand {
		total += c.Value()
		if c.Rank == Ace {
			aces++
		}
	}
	for total > Blackjack && aces > 0 {
		total -= 10
		aces--
	}
	return Score{Total: total, Soft: aces > 0}
}

// IsNatural reports a two-card 21
func IsNatural(hand []Card) bool {
	return len(hand) == 2 && ScoreHand(hand).Total == Blackjack
}

// IsBust reports a total over 21
func IsBust(hand []Card) bool {
	return ScoreHand(hand).Total > Blackjack
}
