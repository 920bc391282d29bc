// Package cards implements the 52-card deck and the hand evaluators used by
// the blackjack and video poker tables.
package cards

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/rng"
)

// Suit of a card
type Suit string

const (
	Hearts   Suit = "H"
	Diamonds Suit = "D"
	Clubs    Suit = "C"
	Spades   Suit = "S"
)

// Suits in deck order
var Suits = []Suit{Hearts, Diamonds, Clubs, Spades}

// Rank of a card, 2..14 with Jack=11, Queen=12, King=13, Ace=14
type Rank int

const (
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
	Ace   Rank = 14
)

var rankNames = map[Rank]string{10: "10", Jack: "J", Queen: "Q", King: "K", Ace: "A"}

func (r Rank) String() string {
	if n, ok := rankNames[r]; ok {
		return n
	}
	return fmt.Sprintf("%d", int(r))
}

// Card is a single playing card
type Card struct {
	Suit Suit `json:"suit"`
	Rank Rank `json:"rank"`
}

// Value is the blackjack value: face cards 10, Ace 11
func (c Card) Value() int {
	switch {
	case c.Rank == Ace:
		return 11
	case c.Rank >= 10:
		return 10
	default:
		return int(c.Rank)
	}
}

func (c Card) String() string {
	return c.Rank.String() + string(c.Suit)
}

// ParseCard parses notation such as "10S", "AH", "qd"
func ParseCard(s string) (Card, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 {
		return Card{}, fmt.Errorf("invalid card %q", s)
	}
	suit := Suit(s[len(s)-1:])
	switch suit {
	case Hearts, Diamonds, Clubs, Spades:
	default:
		return Card{}, fmt.Errorf("invalid suit in %q", s)
	}
	var rank Rank
	switch r := s[:len(s)-1]; r {
	case "J":
		rank = Jack
	case "Q":
		rank = Queen
	case "K":
		rank = King
	case "A":
		rank = Ace
	default:
		n, err := strconv.Atoi(r)
		if err != nil || n < 2 || n > 10 {
			return Card{}, fmt.Errorf("invalid rank in %q", s)
		}
		rank = Rank(n)
	}
	return Card{Suit: suit, Rank: rank}, nil
}

// MustParseHand parses space separated cards and panics on error. Test helper.
func MustParseHand(s string) []Card {
	fields := strings.Fields(s)
	hand := make([]Card, 0, len(fields))
	for _, f := range fields {
		c, err := ParseCard(f)
		if err != nil {
			panic(err)
		}
		hand = append(hand, c)
	}
	return hand
}

// DeckSize is the number of cards in a fresh deck
const DeckSize = 52

// Deck is an ordered pile of cards; the top of the deck is the end of the slice
type Deck struct {
	Cards []Card `json:"cards"`
}

// NewDeck builds an unshuffled 52-card deck
func NewDeck() *Deck {
	d := &Deck{Cards: make([]Card, 0, DeckSize)}
	for _, s := range Suits {
		for r := Rank(2); r <= Ace; r++ {
			d.Cards = append(d.Cards, Card{Suit: s, Rank: r})
		}
	}
	return d
}

// NewShuffledDeck builds and shuffles a deck
func NewShuffledDeck(src rng.Source) (*Deck, error) {
	d := NewDeck()
	if err := d.Shuffle(src); err != nil {
		return nil, err
	}
	return d, nil
}

// Shuffle shuffles the remaining cards in place with Fisher-Yates
func (d *Deck) Shuffle(src rng.Source) error {
	return rng.ShuffleN(src, len(d.Cards), func(i, j int) {
		d.Cards[i], d.Cards[j] = d.Cards[j], d.Cards[i]
	})
}

// Len returns the number of cards left
func (d *Deck) Len() int {
	return len(d.Cards)
}

// Draw pops the top card
func (d *Deck) Draw() (Card, error) {
	n := len(d.Cards)
	if n == 0 {
		return Card{}, domain.ErrDeckDepleted
	}
	c := d.Cards[n-1]
	d.Cards = d.Cards[:n-1]
	return c, nil
}

// DrawN pops n cards
func (d *Deck) DrawN(n int) ([]Card, error) {
	if n > len(d.Cards) {
		return nil, fmt.Errorf("%w: need %d cards, %d left", domain.ErrDeckDepleted, n, len(d.Cards))
	}
	out := make([]Card, 0, n)
	for i := 0; i < n; i++ {
		c, _ := d.Draw()
		out = append(out, c)
	}
	return out, nil
}

// Stack builds a deck that deals the given cards in order, first card first.
// Used to replay or force a deal.
func Stack(cards ...Card) *Deck {
	d := &Deck{Cards: make([]Card, len(cards))}
	for i, c := range cards {
		d.Cards[len(cards)-1-i] = c
	}
	return d
}
