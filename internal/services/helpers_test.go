package services_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"livetalk-economy/internal/config"
	"livetalk-economy/internal/events"
	"livetalk-economy/internal/logging"
	"livetalk-economy/internal/models"
	"livetalk-economy/internal/services"
	"livetalk-economy/internal/store"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

var testGifts = []models.Gift{
	{ID: "rose", Name: "Rose", UnitCost: 100, Category: models.GiftCategoryNormal},
	{ID: "heart", Name: "Heart", UnitCost: 50, Category: models.GiftCategoryNormal},
	{ID: "clover", Name: "Clover", UnitCost: 100, Category: models.GiftCategoryLucky},
	{ID: "castle", Name: "Castle", UnitCost: 10000, Category: models.GiftCategoryNormal},
}

var testItems = []models.StoreItem{
	{ID: "frame_gold", Name: "Gold Frame", Type: "frame", Price: 500},
	{ID: "bubble_neon", Name: "Neon Bubble", Type: "bubble", Price: 200},
}

var testVIPs = []models.VIPPackage{
	{Level: 1, Name: "VIP 1", Cost: 300, FrameURL: "frames/vip1.png"},
	{Level: 2, Name: "VIP 2", Cost: 900, FrameURL: "frames/vip2.png"},
}

type testEnv struct {
	econ     *services.Economy
	store    *store.MemoryStore
	clock    *manualClock
	recorder *events.Recorder
}

func newTestEnv(t *testing.T, tune func(*config.EconomyConfig)) *testEnv {
	t.Helper()

	cfg := config.DefaultEconomy()
	if tune != nil {
		tune(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid test config: %v", err)
	}

	clock := newManualClock()
	s := store.NewMemoryStore()
	rec := &events.Recorder{}

	econ := services.NewEconomy(s, cfg, testGifts, services.Options{
		Publisher: rec,
		Outbox: config.OutboxConfig{
			Workers:         1,
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
		Now:         clock.Now,
		Seed:        42,
		StoreItems:  testItems,
		VIPPackages: testVIPs,
	}, logging.NewDefault())

	return &testEnv{econ: econ, store: s, clock: clock, recorder: rec}
}

// advance moves the clock and fires every timer that became due.
func (e *testEnv) advance(d time.Duration) {
	e.econ.Scheduler().RunDue(e.clock.Advance(d))
}

// settle fires due timers and commits everything the outbox holds.
func (e *testEnv) settle(t *testing.T) int {
	t.Helper()
	e.econ.Scheduler().RunDue(e.clock.Now())
	return e.econ.Outbox().Process(context.Background())
}

func (e *testEnv) seed(t *testing.T, u models.UserBalance) {
	t.Helper()
	u.Name = u.UserID
	if err := e.store.PutUser(context.Background(), &u); err != nil {
		t.Fatalf("Failed to seed %s: %v", u.UserID, err)
	}
}

func (e *testEnv) stored(t *testing.T, id string) models.UserBalance {
	t.Helper()
	u, err := e.store.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", id, err)
	}
	return *u
}

func (e *testEnv) mirror(t *testing.T, id string) models.UserBalance {
	t.Helper()
	u, ok := e.econ.Ledger().Snapshot(id)
	if !ok {
		t.Fatalf("No mirror for %s", id)
	}
	return u
}

func (e *testEnv) giftEvents(t *testing.T, roomID string) []models.GiftEvent {
	t.Helper()
	raw, err := e.store.List(context.Background(), store.RoomGiftEventsKey(roomID), 0)
	if err != nil {
		t.Fatalf("Failed to list gift events: %v", err)
	}
	out := make([]models.GiftEvent, 0, len(raw))
	for _, r := range raw {
		var ev models.GiftEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			t.Fatalf("Bad gift event %q: %v", r, err)
		}
		out = append(out, ev)
	}
	return out
}

func sendRose(recipients ...string) models.SendGiftRequest {
	return models.SendGiftRequest{GiftID: "rose", Quantity: 1, RecipientIDs: recipients}
}
