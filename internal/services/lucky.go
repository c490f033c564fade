package services

import (
	"math/rand"
	"sync"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"livetalk-economy/internal/config"
	"livetalk-economy/internal/models"
)

var hundred = decimal.NewFromInt(100)

// LuckyPicker draws lucky-gift outcomes. The source is seeded so tests can replay draws.
type LuckyPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewLuckyPicker(seed int64) *LuckyPicker {
	return &LuckyPicker{rng: rand.New(rand.NewSource(seed))}
}

// Pick selects one entry weighted by chance. The table must be non-empty with a positive
// chance sum; config validation guarantees both.
func (p *LuckyPicker) Pick(table []models.LuckyMultiplier) models.LuckyMultiplier {
	total := lo.SumBy(table, func(m models.LuckyMultiplier) float64 { return m.Chance })

	p.mu.Lock()
	r := p.rng.Float64() * total
	p.mu.Unlock()

	for _, m := range table {
		if r < m.Chance {
			return m
		}
		r -= m.Chance
	}
	return table[0]
}

// Wins reports whether a single lucky send hits, given a win rate in percent.
func (p *LuckyPicker) Wins(winRate float64) bool {
	p.mu.Lock()
	draw := decimal.NewFromFloat(p.rng.Float64()).Mul(hundred)
	p.mu.Unlock()
	return draw.LessThan(decimal.NewFromFloat(winRate))
}

// Draw returns the amount refunded to the sender for sending qty of gift.
// The payout is a multiple of unitCost*qty, independent of the recipient count.
func (p *LuckyPicker) Draw(cfg config.EconomyConfig, gift models.Gift, qty int64) int64 {
	if !cfg.LuckyEnabled || !gift.Lucky() || len(cfg.LuckyMultipliers) == 0 {
		return 0
	}
	if !p.Wins(cfg.LuckyGiftWinRate) {
		return 0
	}
	return gift.UnitCost * qty * p.Pick(cfg.LuckyMultipliers).Value
}
