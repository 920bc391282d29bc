package game

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/rng"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog("")
	require.NoError(t, err)
	return c
}

func TestCatalog(t *testing.T) {
	c := testCatalog(t)

	ids := make([]string, 0)
	for _, g := range c.All() {
		ids = append(ids, g.ID)
	}
	assert.Equal(t, []string{"blackjack", "jacks-or-better", "lucky-fives", "lucky-scratch", "plinko"}, ids)

	g, err := c.GetOfType("lucky-fives", domain.GameTypeSlots)
	require.NoError(t, err)
	assert.Len(t, g.Slot.Paylines, 5)
	assert.True(t, g.Slot.Paytable[SymbolOrange].Equal(decimal.NewFromInt(4)))

	_, err = c.GetOfType("lucky-fives", domain.GameTypePoker)
	assert.ErrorIs(t, err, domain.ErrInvalidWager)
	_, err = c.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = ParseCatalog([]byte("games:\n  - id: x\n    type: slots\n"))
	assert.Error(t, err)
	_, err = ParseCatalog([]byte("games:\n  - id: p\n    type: plinko\n  - id: p\n    type: plinko\n"))
	assert.Error(t, err)
}

func TestSlotForcedGrid(t *testing.T) {
	cfg := testCatalog(t).games["lucky-fives"].Slot

	// top row reads ORANGE ORANGE ORANGE, nothing else lines up
	out, err := Spin(rng.NewScripted([]int64{2, 2, 1}, nil), cfg, domain.NewMoney(100, domain.GoldCoin), false)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, out.Stops)
	assert.Equal(t, []Symbol{SymbolOrange, SymbolOrange, SymbolOrange}, out.Grid[0])
	require.Len(t, out.Lines, 1)
	assert.Equal(t, 0, out.Lines[0].Line)
	assert.Equal(t, int64(80), out.TotalWin)
	assert.False(t, out.IsBigWin)
	assert.Zero(t, out.FreeSpinsWon)

	assert.Equal(t, out.Grid, GridAt(cfg, out.Stops))
}

func TestSlotEvaluation(t *testing.T) {
	cfg := &SlotConfig{
		Reels: [][]Symbol{
			{SymbolSeven, SymbolScatter, SymbolCherry, SymbolLemon, SymbolLemon},
			{SymbolSeven, SymbolScatter, SymbolCherry, SymbolLemon, SymbolLemon},
			{SymbolSeven, SymbolScatter, SymbolCherry, SymbolLemon, SymbolLemon},
		},
		Paytable: map[Symbol]decimal.Decimal{
			SymbolSeven:  decimal.NewFromInt(50),
			SymbolCherry: decimal.NewFromInt(2),
		},
		Paylines:       []Payline{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}},
		Scatter:        SymbolScatter,
		ScatterTrigger: 3,
		FreeSpinGrant:  10,
		BigWinFactor:   10,
	}
	require.NoError(t, cfg.Validate())
	wager := domain.NewMoney(30, domain.GoldCoin)

	t.Run("ScatterLineNeverPays", func(t *testing.T) {
		out := EvaluateSlot(cfg, []int{0, 0, 0}, wager)
		// SEVEN line: 30*50/3 = 500, CHERRY line: 30*2/3 = 20
		assert.Equal(t, int64(520), out.TotalWin)
		assert.Len(t, out.Lines, 2)
		assert.Equal(t, 3, out.Scatters)
		assert.Equal(t, 10, out.FreeSpinsWon)
		assert.True(t, out.IsBigWin)
	})

	t.Run("WinIsFlooredOnce", func(t *testing.T) {
		out := EvaluateSlot(cfg, []int{2, 2, 2}, domain.NewMoney(10, domain.GoldCoin))
		// CHERRY line: 10*2/3 = 6.67
		assert.Equal(t, int64(6), out.TotalWin)
		assert.Zero(t, out.Scatters)
	})

	t.Run("RetriggerOnlyInBonus", func(t *testing.T) {
		src := rng.NewScripted([]int64{0, 0, 0, 0, 0, 0}, nil)
		out, err := Spin(src, cfg, wager, false)
		require.NoError(t, err)
		assert.False(t, out.Retrigger)
		out, err = Spin(src, cfg, wager, true)
		require.NoError(t, err)
		assert.True(t, out.Retrigger)
	})

	t.Run("RNGFailureSurfaces", func(t *testing.T) {
		_, err := Spin(rng.NewScripted([]int64{0}, nil), cfg, wager, false)
		assert.ErrorIs(t, err, domain.ErrRNGUnavailable)
	})

	t.Run("BadGeometry", func(t *testing.T) {
		bad := *cfg
		bad.Paylines = []Payline{{0, 3, 0}}
		assert.Error(t, bad.Validate())
		bad.Paylines = []Payline{{0, 0}}
		assert.Error(t, bad.Validate())
	})
}

func TestPlinkoMultipliers(t *testing.T) {
	for _, risk := range []Risk{RiskLow, RiskMedium, RiskHigh} {
		for rows := PlinkoMinRows; rows <= PlinkoMaxRows; rows++ {
			table, err := Multipliers(rows, risk)
			require.NoError(t, err)
			require.Len(t, table, rows+1)

			for i := 0; i <= rows/2; i++ {
				assert.True(t, table[i].Equal(table[rows-i]), "%s/%d not symmetric at %d", risk, rows, i)
				if i > 0 {
					assert.True(t, table[i-1].GreaterThanOrEqual(table[i]),
						"%s/%d: bucket %d pays less than bucket %d", risk, rows, i-1, i)
				}
			}
		}
	}

	low, _ := Multipliers(16, RiskLow)
	high, _ := Multipliers(16, RiskHigh)
	assert.True(t, high[0].GreaterThan(low[0]))

	_, err := Multipliers(7, RiskLow)
	assert.ErrorIs(t, err, domain.ErrInvalidWager)
	_, err = ParseRisk("extreme")
	assert.ErrorIs(t, err, domain.ErrInvalidWager)
	r, err := ParseRisk(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, r)
}

func TestPlinkoDrop(t *testing.T) {
	wager := domain.NewMoney(100, domain.GoldCoin)
	table, err := Multipliers(8, RiskHigh)
	require.NoError(t, err)

	t.Run("AllRight", func(t *testing.T) {
		src := rng.NewScripted(nil, []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9})
		out, err := Drop(src, 8, RiskHigh, wager)
		require.NoError(t, err)
		assert.Equal(t, 8, out.Bucket)
		assert.True(t, out.Multiplier.Equal(table[8]))
		assert.Equal(t, wager.Mul(table[8]).Amount, out.TotalWin)
		assert.True(t, out.IsBigWin)
	})

	t.Run("HalfGoesLeft", func(t *testing.T) {
		src := rng.NewScripted(nil, []float64{0.5, 0.51, 0.5, 0.51, 0.5, 0.51, 0.5, 0.51})
		out, err := Drop(src, 8, RiskHigh, wager)
		require.NoError(t, err)
		assert.Equal(t, 4, out.Bucket)
		assert.Equal(t, []Direction{Left, Right, Left, Right, Left, Right, Left, Right}, out.Path)
		assert.False(t, out.IsBigWin)
	})

	t.Run("PathMatchesBucket", func(t *testing.T) {
		src := rng.New()
		for i := 0; i < 200; i++ {
			out, err := Drop(src, 12, RiskMedium, wager)
			require.NoError(t, err)
			rights := 0
			for _, d := range out.Path {
				if d == Right {
					rights++
				}
			}
			require.Equal(t, out.Bucket, rights)
		}
	})
}

// triples lists the rows, columns and diagonals of g showing one symbol
func triples(g [][]Symbol) int {
	n := 0
	same := func(a, b, c Symbol) bool { return a == b && b == c }
	for i := 0; i < 3; i++ {
		if same(g[i][0], g[i][1], g[i][2]) {
			n++
		}
		if same(g[0][i], g[1][i], g[2][i]) {
			n++
		}
	}
	if same(g[0][0], g[1][1], g[2][2]) {
		n++
	}
	if same(g[0][2], g[1][1], g[2][0]) {
		n++
	}
	return n
}

func TestScratchTickets(t *testing.T) {
	cfg := testCatalog(t).games["lucky-scratch"].Scratch
	price := cfg.Price(domain.SweepsCash)
	require.Equal(t, int64(100), price.Amount)

	src := rng.New()
	wins := 0
	for i := 0; i < 500; i++ {
		out, err := DrawTicket(src, cfg, price)
		require.NoError(t, err)
		require.Len(t, out.Grid, 3)

		if !out.Win {
			assert.Zero(t, out.Prize)
			assert.Equal(t, -1, out.WinRow)
			assert.Zero(t, triples(out.Grid), "losing ticket shows a triple: %v", out.Grid)
			continue
		}
		wins++
		assert.Equal(t, 1, triples(out.Grid), "winning ticket must show exactly its row: %v", out.Grid)
		row := out.Grid[out.WinRow]
		assert.Equal(t, row[0], row[1])
		assert.Equal(t, row[1], row[2])

		var tier *PrizeTier
		for i := range cfg.Tiers {
			if cfg.Tiers[i].Name == out.Tier {
				tier = &cfg.Tiers[i]
			}
		}
		require.NotNil(t, tier)
		assert.Equal(t, tier.Symbol, row[0])
		assert.Equal(t, price.Mul(tier.Multiplier).Amount, out.Prize)
	}
	assert.Greater(t, wins, 40)
	assert.Less(t, wins, 170)
}

func TestScratchForcedLoss(t *testing.T) {
	cfg := testCatalog(t).games["lucky-scratch"].Scratch
	src := rng.NewScripted([]int64{0, 1, 2, 3, 4, 5, 0, 1, 2}, []float64{0.99})
	out, err := DrawTicket(src, cfg, cfg.Price(domain.GoldCoin))
	require.NoError(t, err)
	assert.False(t, out.Win)
	assert.Zero(t, triples(out.Grid))
}
