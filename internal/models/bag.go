package models

import "time"

type LuckyBag struct {
	ID              string    `json:"id"`
	SenderID        string    `json:"sender_id"`
	SenderName      string    `json:"sender_name"`
	RoomID          string    `json:"room_id"`
	TotalAmount     int64     `json:"total_amount"`
	RemainingAmount int64     `json:"remaining_amount"`
	Capacity        int64     `json:"capacity"`
	ClaimedBy       []string  `json:"claimed_by"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Share is the fixed amount every successful claimant receives.
// The floor-division remainder is never distributed.
func (b *LuckyBag) Share() int64 {
	if b.Capacity <= 0 {
		return 0
	}
	return b.TotalAmount / b.Capacity
}

// Active reports whether the bag is still claimable by anyone at now.
func (b *LuckyBag) Active(now time.Time) bool {
	return b.RemainingAmount > 0 &&
		int64(len(b.ClaimedBy)) < b.Capacity &&
		b.ExpiresAt.After(now)
}

// ClaimedByUser reports whether userID already appears among the claimants.
func (b *LuckyBag) ClaimedByUser(userID string) bool {
	for _, id := range b.ClaimedBy {
		if id == userID {
			return true
		}
	}
	return false
}

type CreateBagRequest struct {
	Amount   int64 `json:"amount" binding:"required,min=1"`
	Capacity int64 `json:"capacity" binding:"required,min=1"`
}

type ClaimStatus string

const (
	ClaimOK             ClaimStatus = "ok"
	ClaimNotFound       ClaimStatus = "not_found"
	ClaimAlreadyClaimed ClaimStatus = "already_claimed"
	ClaimFull           ClaimStatus = "full"
	ClaimExpired        ClaimStatus = "expired"
)

// ClaimResult is the outcome of one atomic claim against the store.
type ClaimResult struct {
	Status    ClaimStatus `json:"status"`
	Share     int64       `json:"share"`
	Remaining int64       `json:"remaining"`
}

// ActiveBagView is a bag as seen by one viewer, including the client-side claim gate.
type ActiveBagView struct {
	Bag         *LuckyBag `json:"bag"`
	Share       int64     `json:"share"`
	ClaimableAt time.Time `json:"claimable_at"`
	Claimed     bool      `json:"claimed"`
}
