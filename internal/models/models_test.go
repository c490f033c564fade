package models

import (
	"testing"
	"time"
)

func TestSendGiftRequestValidate(t *testing.T) {
	req := SendGiftRequest{GiftID: "rose", Quantity: 1, RecipientIDs: []string{"bob", "", "bob", " ", "carol"}}
	if err := req.Validate("alice"); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(req.RecipientIDs) != 2 || req.RecipientIDs[0] != "bob" || req.RecipientIDs[1] != "carol" {
		t.Errorf("Expected [bob carol], got %v", req.RecipientIDs)
	}

	empty := SendGiftRequest{GiftID: "rose", Quantity: 1, RecipientIDs: []string{""}}
	if err := empty.Validate("alice"); err == nil {
		t.Error("Expected an error without recipients")
	}

	self := SendGiftRequest{GiftID: "rose", Quantity: 1, RecipientIDs: []string{"alice"}}
	if err := self.Validate("alice"); err != nil {
		t.Errorf("Sending to yourself must be accepted, got %v", err)
	}

	zero := SendGiftRequest{GiftID: "rose", RecipientIDs: []string{"bob"}}
	if err := zero.Validate("alice"); err == nil {
		t.Error("Expected an error for zero quantity")
	}
}

func TestLuckyBagShareAndActive(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bag := &LuckyBag{TotalAmount: 1000, RemainingAmount: 1000, Capacity: 3, ExpiresAt: now.Add(time.Minute)}

	if got := bag.Share(); got != 333 {
		t.Errorf("Expected share 333, got %d", got)
	}
	if !bag.Active(now) {
		t.Error("Fresh bag should be active")
	}
	if bag.Active(now.Add(time.Minute)) {
		t.Error("Bag must be inactive at its expiry instant")
	}

	bag.ClaimedBy = []string{"a", "b", "c"}
	if bag.Active(now) {
		t.Error("Full bag should be inactive")
	}
	if !bag.ClaimedByUser("b") || bag.ClaimedByUser("z") {
		t.Error("ClaimedByUser mismatch")
	}

	if (&LuckyBag{TotalAmount: 10}).Share() != 0 {
		t.Error("Zero capacity must yield a zero share")
	}
}

func TestBalanceApplyDelta(t *testing.T) {
	b := UserBalance{UserID: "u", Coins: 100, Charm: 5}
	d := Delta{Coins: -30, Wealth: 30}.Add(Delta{Charm: 10, Diamonds: 7})

	got := b.Apply(d)
	if got.Coins != 70 || got.Wealth != 30 || got.Charm != 15 || got.Diamonds != 7 {
		t.Errorf("Unexpected balance: %+v", got)
	}
	if b.Coins != 100 {
		t.Error("Apply must not mutate the receiver")
	}
}

func TestGiftLucky(t *testing.T) {
	if !(Gift{Category: GiftCategoryLucky}).Lucky() {
		t.Error("Lucky category must roll")
	}
	if !(Gift{IsLucky: true}).Lucky() {
		t.Error("IsLucky flag must roll")
	}
	if (Gift{Category: GiftCategoryNormal}).Lucky() {
		t.Error("Normal gift must not roll")
	}
}
