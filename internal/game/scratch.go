package game

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/rng"
)

// PrizeTier is one row of the scratch prize table
type PrizeTier struct {
	Name       string          `yaml:"name" json:"name"`
	Symbol     Symbol          `yaml:"symbol" json:"symbol"`
	Multiplier decimal.Decimal `yaml:"multiplier" json:"multiplier"`
	Weight     float64         `yaml:"weight" json:"weight"`
}

// ScratchConfig describes one scratch ticket product
type ScratchConfig struct {
	Prices  map[domain.Currency]int64 `yaml:"prices" json:"prices"`
	WinRate float64                   `yaml:"win_rate" json:"win_rate"`
	Tiers   []PrizeTier               `yaml:"tiers" json:"tiers"`
	Symbols []Symbol                  `yaml:"symbols" json:"symbols"`
}

// Validate checks the prize table
func (c *ScratchConfig) Validate() error {
	if c.WinRate < 0 || c.WinRate > 1 {
		return fmt.Errorf("scratch win rate %v outside [0,1]", c.WinRate)
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("scratch config has no prize tiers")
	}
	if len(c.Symbols) < 3 {
		return fmt.Errorf("scratch config needs at least 3 decorative symbols")
	}
	for _, cur := range []domain.Currency{domain.GoldCoin, domain.SweepsCash} {
		if c.Prices[cur] <= 0 {
			return fmt.Errorf("scratch ticket has no %s price", cur)
		}
	}
	return nil
}

// Price returns the ticket price in currency c
func (c *ScratchConfig) Price(cur domain.Currency) domain.Money {
	return domain.Money{Amount: c.Prices[cur], Currency: cur}
}

// ScratchOutcome is a revealed ticket. Prize is authoritative; the grid is
// decoration that agrees with it.
type ScratchOutcome struct {
	Win      bool       `json:"win"`
	Tier     string     `json:"tier,omitempty"`
	Prize    int64      `json:"prize"`
	Grid     [][]Symbol `json:"grid"`
	WinRow   int        `json:"win_row"`
	IsBigWin bool       `json:"is_big_win"`
}

// DrawTicket decides win or loss, then the prize tier, then paints the grid
func DrawTicket(src rng.Source, cfg *ScratchConfig, price domain.Money) (*ScratchOutcome, error) {
	u, err := src.GenerateFloat()
	if err != nil {
		return nil, err
	}
	out := &ScratchOutcome{WinRow: -1}

	var winSymbol Symbol
	if u < cfg.WinRate {
		weights := make([]float64, len(cfg.Tiers))
		for i, t := range cfg.Tiers {
			weights[i] = t.Weight
		}
		idx, err := rng.SelectWeighted(src, weights)
		if err != nil {
			return nil, err
		}
		tier := cfg.Tiers[idx]
		out.Win = true
		out.Tier = tier.Name
		out.Prize = price.Mul(tier.Multiplier).Amount
		out.IsBigWin = tier.Multiplier.GreaterThanOrEqual(bigWinMultiplier)
		winSymbol = tier.Symbol

		row, err := src.GenerateIntRange(0, 2)
		if err != nil {
			return nil, err
		}
		out.WinRow = int(row)
	}

	grid, err := paintScratchGrid(src, cfg.Symbols, out.WinRow, winSymbol)
	if err != nil {
		return nil, err
	}
	out.Grid = grid
	return out, nil
}

// paintScratchGrid fills a 3x3 grid. When winRow >= 0 that row shows sym
// three times; no other row, column or diagonal ever shows a triple.
func paintScratchGrid(src rng.Source, symbols []Symbol, winRow int, sym Symbol) ([][]Symbol, error) {
	grid := make([][]Symbol, 3)
	for r := range grid {
		grid[r] = make([]Symbol, 3)
	}
	if winRow >= 0 {
		for c := 0; c < 3; c++ {
			grid[winRow][c] = sym
		}
	}

	for r := 0; r < 3; r++ {
		if r == winRow {
			continue
		}
		for c := 0; c < 3; c++ {
			candidates := make([]Symbol, 0, len(symbols))
			for _, s := range symbols {
				if s == sym && winRow >= 0 {
					continue
				}
				grid[r][c] = s
				if !completesTriple(grid, r, c) {
					candidates = append(candidates, s)
				}
			}
			if len(candidates) == 0 {
				return nil, fmt.Errorf("scratch grid: no symbol fits cell %d,%d", r, c)
			}
			i, err := src.GenerateIntRange(0, int64(len(candidates)-1))
			if err != nil {
				return nil, err
			}
			grid[r][c] = candidates[i]
		}
	}
	return grid, nil
}

// completesTriple reports whether cell (r,c) finishes a losing-line triple.
// Cells not yet painted are empty and never match.
func completesTriple(g [][]Symbol, r, c int) bool {
	same := func(a, b, d Symbol) bool { return a != "" && a == b && b == d }
	if same(g[r][0], g[r][1], g[r][2]) {
		return true
	}
	if same(g[0][c], g[1][c], g[2][c]) {
		return true
	}
	if r == c && same(g[0][0], g[1][1], g[2][2]) {
		return true
	}
	if r+c == 2 && same(g[0][2], g[1][1], g[2][0]) {
		return true
	}
	return false
}
