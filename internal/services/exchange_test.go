package services_test

import (
	"context"
	"testing"
	"time"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/events"
	"livetalk-economy/internal/models"
)

func TestExchangeDiamonds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seed(t, models.UserBalance{UserID: "host", Diamonds: 1000, Coins: 10})

	got, err := env.econ.ExchangeDiamonds(ctx, "host", 1000)
	if err != nil {
		t.Fatalf("ExchangeDiamonds failed: %v", err)
	}
	if got.Diamonds != 0 || got.Coins != 510 {
		t.Errorf("Expected diamonds 0 coins 510, got %d / %d", got.Diamonds, got.Coins)
	}

	stored := env.stored(t, "host")
	if stored.Diamonds != 0 || stored.Coins != 510 {
		t.Errorf("Store not updated: %+v", stored)
	}
}

func TestExchangeDiamondsRounding(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seed(t, models.UserBalance{UserID: "host", Diamonds: 3})

	got, err := env.econ.ExchangeDiamonds(ctx, "host", 3)
	if err != nil {
		t.Fatalf("ExchangeDiamonds failed: %v", err)
	}
	if got.Coins != 1 {
		t.Errorf("Expected floor(1.5) = 1 coin, got %d", got.Coins)
	}
}

func TestExchangeDiamondsInsufficient(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seed(t, models.UserBalance{UserID: "host", Diamonds: 999})

	if _, err := env.econ.ExchangeDiamonds(ctx, "host", 1000); !apperrors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Errorf("Expected insufficient funds, got %v", err)
	}
	if _, err := env.econ.ExchangeDiamonds(ctx, "host", 0); !apperrors.Is(err, apperrors.ErrInvalidRequest) {
		t.Errorf("Expected invalid request for zero amount, got %v", err)
	}
	if got := env.stored(t, "host").Diamonds; got != 999 {
		t.Errorf("Rejected exchange changed diamonds to %d", got)
	}
	if got := env.mirror(t, "host").Diamonds; got != 999 {
		t.Errorf("Rejected exchange changed mirror to %d", got)
	}
}

func TestExchangeSalaryToAgency(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seed(t, models.UserBalance{UserID: "host", Diamonds: 100000})
	env.seed(t, models.UserBalance{UserID: "agent"})

	got, err := env.econ.ExchangeSalaryToAgency(ctx, "host", "agent", 70000)
	if err != nil {
		t.Fatalf("ExchangeSalaryToAgency failed: %v", err)
	}
	if got.Diamonds != 30000 {
		t.Errorf("Expected diamonds 30000, got %d", got.Diamonds)
	}
	if agent := env.stored(t, "agent"); agent.AgencyBalance != 80000 {
		t.Errorf("Expected agent credit 80000, got %d", agent.AgencyBalance)
	}

	if _, err := env.econ.ExchangeSalaryToAgency(ctx, "host", "agent", 69999); !apperrors.Is(err, apperrors.ErrInvalidRequest) {
		t.Errorf("Expected invalid request below the minimum, got %v", err)
	}
	if _, err := env.econ.ExchangeSalaryToAgency(ctx, "host", "", 70000); !apperrors.Is(err, apperrors.ErrInvalidRequest) {
		t.Errorf("Expected invalid request without agent, got %v", err)
	}
}

func TestAgencyTransfer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seed(t, models.UserBalance{UserID: "agent", AgencyBalance: 80000})
	env.seed(t, models.UserBalance{UserID: "player", Coins: 5})

	got, err := env.econ.AgencyTransfer(ctx, "agent", "player", 20000)
	if err != nil {
		t.Fatalf("AgencyTransfer failed: %v", err)
	}
	if got.AgencyBalance != 60000 {
		t.Errorf("Expected agency balance 60000, got %d", got.AgencyBalance)
	}

	player := env.stored(t, "player")
	if player.Coins != 20005 || player.RechargePoints != 20000 {
		t.Errorf("Expected coins 20005 and recharge 20000, got %d / %d", player.Coins, player.RechargePoints)
	}

	if _, err := env.econ.AgencyTransfer(ctx, "agent", "player", 70000); !apperrors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Errorf("Expected insufficient funds, got %v", err)
	}
	if _, err := env.econ.AgencyTransfer(ctx, "agent", "agent", 10); !apperrors.Is(err, apperrors.ErrInvalidRequest) {
		t.Errorf("Expected invalid request for self transfer, got %v", err)
	}
}

func TestExchangeKeepsPendingSettlementDebit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seed(t, models.UserBalance{UserID: "alice", Coins: 1000, Diamonds: 2})

	roses := models.SendGiftRequest{GiftID: "rose", Quantity: 6, RecipientIDs: []string{"bob"}}
	if _, err := env.econ.SendGift(ctx, "room1", "alice", roses); err != nil {
		t.Fatalf("SendGift failed: %v", err)
	}

	got, err := env.econ.ExchangeDiamonds(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("ExchangeDiamonds failed: %v", err)
	}
	if got.Coins != 401 {
		t.Errorf("Expected mirror coins 401 after the exchange, got %d", got.Coins)
	}
	if got := env.mirror(t, "alice").Coins; got != 401 {
		t.Errorf("Expected mirror coins 401, got %d", got)
	}

	if _, err := env.econ.SendGift(ctx, "room1", "alice", roses); !apperrors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Fatalf("Expected insufficient funds, got %v", err)
	}

	env.advance(3 * time.Second)
	env.settle(t)
	if got := env.stored(t, "alice").Coins; got != 401 {
		t.Errorf("Expected stored coins 401, got %d", got)
	}
	if dead := env.econ.Outbox().DeadLetters(); len(dead) != 0 {
		t.Errorf("Expected no dead letters, got %d", len(dead))
	}
}

func TestBuyItem(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seed(t, models.UserBalance{UserID: "fan", Coins: 600})

	got, err := env.econ.BuyItem(ctx, "fan", "frame_gold")
	if err != nil {
		t.Fatalf("BuyItem failed: %v", err)
	}
	if got.Coins != 100 || got.Wealth != 500 {
		t.Errorf("Expected coins 100 wealth 500, got %d / %d", got.Coins, got.Wealth)
	}
	if stored := env.stored(t, "fan"); stored.Coins != 100 || stored.Wealth != 500 {
		t.Errorf("Store not updated: %+v", stored)
	}
	owned, _ := env.econ.OwnedItems(ctx, "fan")
	if len(owned) != 1 || owned[0] != "frame_gold" {
		t.Errorf("Expected frame_gold owned, got %v", owned)
	}
	if got := len(env.recorder.Messages(events.TopicPurchases)); got != 1 {
		t.Errorf("Expected 1 purchase event, got %d", got)
	}

	if _, err := env.econ.BuyItem(ctx, "fan", "frame_gold"); !apperrors.Is(err, apperrors.ErrItemOwned) {
		t.Errorf("Expected item owned, got %v", err)
	}
	if _, err := env.econ.BuyItem(ctx, "fan", "bubble_neon"); !apperrors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Errorf("Expected insufficient funds, got %v", err)
	}
	if _, err := env.econ.BuyItem(ctx, "fan", "crown"); !apperrors.Is(err, apperrors.ErrItemNotFound) {
		t.Errorf("Expected item not found, got %v", err)
	}
	if stored := env.stored(t, "fan"); stored.Coins != 100 {
		t.Errorf("Rejected purchases changed coins to %d", stored.Coins)
	}
	if _, n := env.econ.Ledger().Outstanding("fan"); n != 0 {
		t.Errorf("Expected no outstanding holds, got %d", n)
	}
}

func TestBuyVIP(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seed(t, models.UserBalance{UserID: "fan", Coins: 1000})

	got, err := env.econ.BuyVIP(ctx, "fan", 2)
	if err != nil {
		t.Fatalf("BuyVIP failed: %v", err)
	}
	if got.Coins != 100 || got.VIPLevel != 2 || got.Frame != "frames/vip2.png" {
		t.Errorf("Unexpected mirror after BuyVIP: %+v", got)
	}
	stored := env.stored(t, "fan")
	if !stored.IsVIP || stored.VIPLevel != 2 || stored.Wealth != 900 {
		t.Errorf("Store not updated: %+v", stored)
	}

	if _, err := env.econ.BuyVIP(ctx, "fan", 1); !apperrors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Errorf("Expected insufficient funds, got %v", err)
	}
	if _, err := env.econ.BuyVIP(ctx, "fan", 7); !apperrors.Is(err, apperrors.ErrItemNotFound) {
		t.Errorf("Expected unknown package, got %v", err)
	}
	if lvl := env.mirror(t, "fan").VIPLevel; lvl != 2 {
		t.Errorf("Rejected purchases changed the VIP level to %d", lvl)
	}
}
