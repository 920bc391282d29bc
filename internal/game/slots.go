package game

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/rng"
)

// Symbol represents a slot reel symbol
type Symbol string

const (
	SymbolCherry  Symbol = "CHERRY"
	SymbolLemon   Symbol = "LEMON"
	SymbolOrange  Symbol = "ORANGE"
	SymbolPlum    Symbol = "PLUM"
	SymbolBell    Symbol = "BELL"
	SymbolBar     Symbol = "BAR"
	SymbolSeven   Symbol = "SEVEN"
	SymbolScatter Symbol = "STAR"
)

// SlotRows is the height of the visible grid
const SlotRows = 3

// Payline lists the grid row crossed on each reel, left to right
type Payline []int

// SlotConfig describes one slot machine
type SlotConfig struct {
	Reels          [][]Symbol                 `yaml:"reels" json:"reels"`
	Paytable       map[Symbol]decimal.Decimal `yaml:"paytable" json:"paytable"`
	Paylines       []Payline                  `yaml:"paylines" json:"paylines"`
	Scatter        Symbol                     `yaml:"scatter" json:"scatter"`
	ScatterTrigger int                        `yaml:"scatter_trigger" json:"scatter_trigger"`
	FreeSpinGrant  int                        `yaml:"free_spin_grant" json:"free_spin_grant"`
	BigWinFactor   int64                      `yaml:"big_win_factor" json:"big_win_factor"`
}

// Validate checks the reel and payline geometry
func (c *SlotConfig) Validate() error {
	if len(c.Reels) == 0 {
		return fmt.Errorf("slot config has no reels")
	}
	for i, strip := range c.Reels {
		if len(strip) < SlotRows {
			return fmt.Errorf("reel %d is shorter than %d symbols", i, SlotRows)
		}
	}
	if len(c.Paylines) == 0 {
		return fmt.Errorf("slot config has no paylines")
	}
	for i, line := range c.Paylines {
		if len(line) != len(c.Reels) {
			return fmt.Errorf("payline %d crosses %d reels, want %d", i, len(line), len(c.Reels))
		}
		for _, row := range line {
			if row < 0 || row >= SlotRows {
				return fmt.Errorf("payline %d uses row %d outside the grid", i, row)
			}
		}
	}
	for sym, mult := range c.Paytable {
		if mult.IsNegative() {
			return fmt.Errorf("paytable entry %s is negative", sym)
		}
	}
	if c.ScatterTrigger <= 0 || c.FreeSpinGrant < 0 || c.BigWinFactor <= 0 {
		return fmt.Errorf("slot bonus settings out of range")
	}
	return nil
}

// LineWin is one matching payline
type LineWin struct {
	Line       int             `json:"line"`
	Symbol     Symbol          `json:"symbol"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// SlotOutcome is the full result of one spin. Stops reproduce Grid exactly.
type SlotOutcome struct {
	Stops        []int      `json:"stops"`
	Grid         [][]Symbol `json:"grid"` // Grid[row][reel]
	Lines        []LineWin  `json:"lines"`
	Scatters     int        `json:"scatters"`
	FreeSpinsWon int        `json:"free_spins_won"`
	Retrigger    bool       `json:"retrigger,omitempty"`
	FreeSpin     bool       `json:"free_spin,omitempty"`
	TotalWin     int64      `json:"total_win"`
	IsBigWin     bool       `json:"is_big_win"`
}

// Spin draws one stop per reel and evaluates the grid. inBonus marks a spin
// played while free spins remain, which makes a scatter hit a re-trigger.
func Spin(src rng.Source, cfg *SlotConfig, wager domain.Money, inBonus bool) (*SlotOutcome, error) {
	stops := make([]int, len(cfg.Reels))
	for i, strip := range cfg.Reels {
		idx, err := src.GenerateIntRange(0, int64(len(strip)-1))
		if err != nil {
			return nil, err
		}
		stops[i] = int(idx)
	}
	out := EvaluateSlot(cfg, stops, wager)
	out.Retrigger = inBonus && out.FreeSpinsWon > 0
	return out, nil
}

// GridAt builds the visible grid for the given stops
func GridAt(cfg *SlotConfig, stops []int) [][]Symbol {
	grid := make([][]Symbol, SlotRows)
	for row := range grid {
		grid[row] = make([]Symbol, len(cfg.Reels))
		for reel, strip := range cfg.Reels {
			grid[row][reel] = strip[(stops[reel]+row)%len(strip)]
		}
	}
	return grid
}

// EvaluateSlot scores a stop vector. Each matching line pays
// wager * multiplier / len(Paylines): the stake covers all lines, so every
// line is valued against the same per-line share. The sum is truncated to
// the minor unit once.
func EvaluateSlot(cfg *SlotConfig, stops []int, wager domain.Money) *SlotOutcome {
	grid := GridAt(cfg, stops)
	out := &SlotOutcome{Stops: stops, Grid: grid, Lines: []LineWin{}}

	lineCount := decimal.NewFromInt(int64(len(cfg.Paylines)))
	stake := decimal.NewFromInt(wager.Amount)
	total := decimal.Zero

	for i, line := range cfg.Paylines {
		first := grid[line[0]][0]
		if first == cfg.Scatter {
			continue
		}
		match := true
		for reel := 1; reel < len(line); reel++ {
			if grid[line[reel]][reel] != first {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		mult, ok := cfg.Paytable[first]
		if !ok || mult.IsZero() {
			continue
		}
		out.Lines = append(out.Lines, LineWin{Line: i, Symbol: first, Multiplier: mult})
		total = total.Add(stake.Mul(mult).Div(lineCount))
	}

	for _, row := range grid {
		for _, sym := range row {
			if sym == cfg.Scatter {
				out.Scatters++
			}
		}
	}
	if out.Scatters >= cfg.ScatterTrigger {
		out.FreeSpinsWon = cfg.FreeSpinGrant
	}

	out.TotalWin = total.Floor().IntPart()
	out.IsBigWin = out.TotalWin > wager.Amount*cfg.BigWinFactor
	return out
}
