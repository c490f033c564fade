package services

import (
	"math"

	"livetalk-economy/internal/models"
)

const (
	levelPointsUnit = 50000
	MinLevel        = 1
	MaxLevel        = 200
)

// Level maps accumulated points to a level in [MinLevel, MaxLevel].
func Level(points int64) int {
	if points <= 0 {
		return MinLevel
	}
	lvl := int(math.Floor(math.Sqrt(float64(points) / levelPointsUnit)))
	if lvl < MinLevel {
		return MinLevel
	}
	if lvl > MaxLevel {
		return MaxLevel
	}
	return lvl
}

// LevelOf picks the accumulator backing kind. Unknown kinds fall back to wealth.
func LevelOf(b models.UserBalance, kind models.LevelKind) int {
	if kind == models.LevelRecharge {
		return Level(b.RechargePoints)
	}
	return Level(b.Wealth)
}

// BalanceView is the client-facing balance with both levels resolved.
func BalanceView(b models.UserBalance) *models.BalanceResponse {
	return &models.BalanceResponse{
		Coins:          b.Coins,
		Diamonds:       b.Diamonds,
		Wealth:         b.Wealth,
		Charm:          b.Charm,
		RechargePoints: b.RechargePoints,
		AgencyBalance:  b.AgencyBalance,
		WealthLevel:    Level(b.Wealth),
		RechargeLevel:  Level(b.RechargePoints),
		VIPLevel:       b.VIPLevel,
		Frame:          b.Frame,
	}
}
