package game

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/rng"
)

// Risk selects the steepness of a Plinko multiplier table
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// ParseRisk accepts a risk name in any case
func ParseRisk(s string) (Risk, error) {
	switch r := Risk(strings.ToLower(strings.TrimSpace(s))); r {
	case RiskLow, RiskMedium, RiskHigh:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown plinko risk %q", domain.ErrInvalidWager, s)
}

// Row bounds of a Plinko board
const (
	PlinkoMinRows = 8
	PlinkoMaxRows = 16
)

var (
	tenth            = decimal.New(1, -1)
	bigWinMultiplier = decimal.NewFromInt(10)
	edgeBoost        = map[Risk]decimal.Decimal{
		RiskLow:    decimal.RequireFromString("1.2"),
		RiskMedium: decimal.RequireFromString("1.5"),
		RiskHigh:   decimal.RequireFromString("2"),
	}
)

// baseMultiplier is the unrounded curve value at distance d from the centre
func baseMultiplier(risk Risk, d decimal.Decimal) decimal.Decimal {
	switch risk {
	case RiskLow:
		return decimal.RequireFromString("0.5").Add(decimal.RequireFromString("0.3").Mul(d))
	case RiskMedium:
		return decimal.RequireFromString("0.3").Add(decimal.RequireFromString("0.2").Mul(d.Mul(d)))
	default:
		return decimal.RequireFromString("0.2").Add(decimal.RequireFromString("0.1").Mul(d.Mul(d).Mul(d)))
	}
}

// truncate keeps one decimal below 1 and whole numbers from 1 up
func truncate(m decimal.Decimal) decimal.Decimal {
	if m.LessThan(decimal.NewFromInt(1)) {
		return m.Div(tenth).Floor().Mul(tenth)
	}
	return m.Floor()
}

// Multipliers derives the bucket multiplier table for rows and risk. It is a
// pure function: bucket i pays more the further it sits from rows/2, and the
// two edge buckets get an extra risk-dependent boost.
func Multipliers(rows int, risk Risk) ([]decimal.Decimal, error) {
	if rows < PlinkoMinRows || rows > PlinkoMaxRows {
		return nil, fmt.Errorf("%w: plinko rows must be in [%d,%d], got %d",
			domain.ErrInvalidWager, PlinkoMinRows, PlinkoMaxRows, rows)
	}
	boost, ok := edgeBoost[risk]
	if !ok {
		return nil, fmt.Errorf("%w: unknown plinko risk %q", domain.ErrInvalidWager, risk)
	}

	centre := decimal.NewFromInt(int64(rows)).Div(decimal.NewFromInt(2))
	table := make([]decimal.Decimal, rows+1)
	for i := range table {
		dist := decimal.NewFromInt(int64(i)).Sub(centre).Abs()
		m := truncate(baseMultiplier(risk, dist))
		if i == 0 || i == rows {
			m = m.Mul(boost).Div(tenth).Floor().Mul(tenth)
		}
		table[i] = m
	}
	return table, nil
}

// Direction of one peg bounce
type Direction string

const (
	Left  Direction = "L"
	Right Direction = "R"
)

// PlinkoOutcome is the result of one drop. Bucket and Multiplier are
// authoritative; Path only lets the client animate to the same bucket.
type PlinkoOutcome struct {
	Rows       int             `json:"rows"`
	Risk       Risk            `json:"risk"`
	Path       []Direction     `json:"path"`
	Bucket     int             `json:"bucket"`
	Multiplier decimal.Decimal `json:"multiplier"`
	TotalWin   int64           `json:"total_win"`
	IsBigWin   bool            `json:"is_big_win"`
}

// Drop walks the ball through rows independent fair bounces
func Drop(src rng.Source, rows int, risk Risk, wager domain.Money) (*PlinkoOutcome, error) {
	table, err := Multipliers(rows, risk)
	if err != nil {
		return nil, err
	}

	out := &PlinkoOutcome{Rows: rows, Risk: risk, Path: make([]Direction, 0, rows)}
	for i := 0; i < rows; i++ {
		u, err := src.GenerateFloat()
		if err != nil {
			return nil, err
		}
		if u > 0.5 {
			out.Path = append(out.Path, Right)
			out.Bucket++
		} else {
			out.Path = append(out.Path, Left)
		}
	}

	out.Multiplier = table[out.Bucket]
	out.TotalWin = wager.Mul(out.Multiplier).Amount
	out.IsBigWin = out.Multiplier.GreaterThanOrEqual(bigWinMultiplier)
	return out, nil
}
