package services_test

import (
	"context"
	"testing"
	"time"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/models"
)

func TestSeatChangesAreDebounced(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seed(t, models.UserBalance{UserID: "alice"})
	env.seed(t, models.UserBalance{UserID: "bob"})

	if _, err := env.econ.TakeSeat(ctx, "room1", "alice", 0, false); err != nil {
		t.Fatalf("TakeSeat failed: %v", err)
	}
	env.advance(time.Second)
	if _, err := env.econ.TakeSeat(ctx, "room1", "bob", 1, true); err != nil {
		t.Fatalf("TakeSeat failed: %v", err)
	}

	env.advance(2 * time.Second)
	stored, _ := env.store.GetRoomSeats(ctx, "room1")
	if len(stored.Speakers) != 0 {
		t.Fatalf("Seats written before the quiet period: %+v", stored.Speakers)
	}

	env.advance(600 * time.Millisecond)
	stored, _ = env.store.GetRoomSeats(ctx, "room1")
	if len(stored.Speakers) != 2 || stored.MicCount != 8 {
		t.Fatalf("Expected 2 speakers on 8 mics, got %+v", stored)
	}
	if !stored.Speakers[1].IsMuted || stored.Speakers[1].ID != "bob" {
		t.Errorf("Unexpected second speaker: %+v", stored.Speakers[1])
	}
}

func TestTakeSeatValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	if _, err := env.econ.TakeSeat(ctx, "room1", "alice", 3, false); err != nil {
		t.Fatalf("TakeSeat failed: %v", err)
	}
	if _, err := env.econ.TakeSeat(ctx, "room1", "bob", 3, false); !apperrors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Expected conflict on an occupied seat, got %v", err)
	}
	if _, err := env.econ.TakeSeat(ctx, "room1", "bob", 8, false); !apperrors.Is(err, apperrors.ErrInvalidRequest) {
		t.Errorf("Expected invalid seat, got %v", err)
	}

	seats, err := env.econ.TakeSeat(ctx, "room1", "alice", 5, false)
	if err != nil {
		t.Fatalf("Moving seat failed: %v", err)
	}
	if len(seats.Speakers) != 1 || seats.Speakers[0].SeatIndex != 5 {
		t.Errorf("Expected alice moved to seat 5, got %+v", seats.Speakers)
	}
}

func TestCycleLayout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	env.econ.CycleLayout(ctx, "room1") // 10
	env.econ.TakeSeat(ctx, "room1", "alice", 2, false)
	env.econ.TakeSeat(ctx, "room1", "bob", 9, false)

	want := []int{15, 20, 8}
	for _, n := range want {
		seats, err := env.econ.CycleLayout(ctx, "room1")
		if err != nil {
			t.Fatalf("CycleLayout failed: %v", err)
		}
		if seats.MicCount != n {
			t.Errorf("Expected %d mics, got %d", n, seats.MicCount)
		}
	}

	seats, _ := env.econ.Seats(ctx, "room1")
	if len(seats.Speakers) != 1 || seats.Speakers[0].ID != "alice" {
		t.Errorf("Speaker beyond the layout must lose their seat, got %+v", seats.Speakers)
	}
}

func TestEmojiLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	if err := env.econ.SendEmoji(ctx, "room1", "alice", "🔥"); !apperrors.Is(err, apperrors.ErrNotSeated) {
		t.Errorf("Expected not seated, got %v", err)
	}

	env.econ.TakeSeat(ctx, "room1", "alice", 0, false)
	if err := env.econ.SendEmoji(ctx, "room1", "alice", "🔥"); err != nil {
		t.Fatalf("SendEmoji failed: %v", err)
	}

	seats, _ := env.econ.Seats(ctx, "room1")
	if seats.Speakers[0].ActiveEmoji != "🔥" {
		t.Errorf("Expected active emoji, got %q", seats.Speakers[0].ActiveEmoji)
	}

	env.advance(3 * time.Second)
	seats, _ = env.econ.Seats(ctx, "room1")
	if seats.Speakers[0].ActiveEmoji != "🔥" {
		t.Error("Emoji cleared too early")
	}

	env.advance(time.Second)
	seats, _ = env.econ.Seats(ctx, "room1")
	if seats.Speakers[0].ActiveEmoji != "" {
		t.Errorf("Expected emoji cleared after 4s, got %q", seats.Speakers[0].ActiveEmoji)
	}
}

func TestSeatCharmFollowsSettlements(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seed(t, models.UserBalance{UserID: "alice", Coins: 1000})
	env.seed(t, models.UserBalance{UserID: "bob"})

	env.econ.TakeSeat(ctx, "room1", "bob", 0, false)
	if _, err := env.econ.SendGift(ctx, "room1", "alice", sendRose("bob")); err != nil {
		t.Fatalf("SendGift failed: %v", err)
	}
	env.advance(3 * time.Second)
	env.settle(t)

	seats, _ := env.econ.Seats(ctx, "room1")
	if len(seats.Speakers) != 1 || seats.Speakers[0].Charm != 100 {
		t.Errorf("Expected seat charm 100, got %+v", seats.Speakers)
	}
}

func TestLeaveRoomFreesSeat(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	env.econ.TakeSeat(ctx, "room1", "alice", 0, false)
	if _, err := env.econ.LeaveRoom(ctx, "room1", "alice"); err != nil {
		t.Fatalf("LeaveRoom failed: %v", err)
	}
	seats, _ := env.econ.Seats(ctx, "room1")
	if len(seats.Speakers) != 0 {
		t.Errorf("Expected empty seats, got %+v", seats.Speakers)
	}
}
