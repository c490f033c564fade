package models

import "time"

// UserBalance is the authoritative (or mirrored) balance document of one user.
type UserBalance struct {
	UserID         string    `json:"user_id" redis:"user_id"`
	Name           string    `json:"name" redis:"name"`
	Coins          int64     `json:"coins" redis:"coins"`
	Diamonds       int64     `json:"diamonds" redis:"diamonds"`
	Wealth         int64     `json:"wealth" redis:"wealth"`
	Charm          int64     `json:"charm" redis:"charm"`
	RechargePoints int64     `json:"recharge_points" redis:"recharge_points"`
	AgencyBalance  int64     `json:"agency_balance" redis:"agency_balance"`
	HostProduction int64     `json:"host_production" redis:"host_production"`
	HostAgencyID   string    `json:"host_agency_id,omitempty" redis:"host_agency_id"`
	IsVIP          bool      `json:"is_vip" redis:"is_vip"`
	VIPLevel       int       `json:"vip_level" redis:"vip_level"`
	Frame          string    `json:"frame,omitempty" redis:"frame"`
	UpdatedAt      time.Time `json:"updated_at" redis:"-"`

	// AppliedBatch is set on snapshots published right after that batch committed.
	AppliedBatch string `json:"applied_batch,omitempty" redis:"-"`
}

// Delta is a relative change applied to a UserBalance. Zero fields are no-ops.
type Delta struct {
	Coins          int64 `json:"coins,omitempty"`
	Diamonds       int64 `json:"diamonds,omitempty"`
	Wealth         int64 `json:"wealth,omitempty"`
	Charm          int64 `json:"charm,omitempty"`
	RechargePoints int64 `json:"recharge_points,omitempty"`
	AgencyBalance  int64 `json:"agency_balance,omitempty"`
}

// Apply returns b with d added.
func (b UserBalance) Apply(d Delta) UserBalance {
	b.Coins += d.Coins
	b.Diamonds += d.Diamonds
	b.Wealth += d.Wealth
	b.Charm += d.Charm
	b.RechargePoints += d.RechargePoints
	b.AgencyBalance += d.AgencyBalance
	return b
}

// Add combines two deltas.
func (d Delta) Add(o Delta) Delta {
	return Delta{
		Coins:          d.Coins + o.Coins,
		Diamonds:       d.Diamonds + o.Diamonds,
		Wealth:         d.Wealth + o.Wealth,
		Charm:          d.Charm + o.Charm,
		RechargePoints: d.RechargePoints + o.RechargePoints,
		AgencyBalance:  d.AgencyBalance + o.AgencyBalance,
	}
}

type LevelKind string

const (
	LevelWealth   LevelKind = "wealth"
	LevelRecharge LevelKind = "recharge"
)

type BalanceResponse struct {
	Coins          int64  `json:"coins"`
	Diamonds       int64  `json:"diamonds"`
	Wealth         int64  `json:"wealth"`
	Charm          int64  `json:"charm"`
	RechargePoints int64  `json:"recharge_points"`
	AgencyBalance  int64  `json:"agency_balance"`
	WealthLevel    int    `json:"wealth_level"`
	RechargeLevel  int    `json:"recharge_level"`
	VIPLevel       int    `json:"vip_level"`
	Frame          string `json:"frame,omitempty"`
}
