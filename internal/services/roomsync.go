package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/config"
	"livetalk-economy/internal/models"
	"livetalk-economy/internal/store"
)

const seatCommitTimeout = 5 * time.Second

type roomState struct {
	micCount int
	speakers map[string]*models.Speaker
}

// RoomSpeakerSync owns the seat layout of each room locally and writes it back to the
// room document after a quiet period. Charm is read from the room charm hash, which
// settlements update with relative increments.
type RoomSpeakerSync struct {
	mu        sync.Mutex
	rooms     map[string]*roomState
	store     store.BalanceStore
	scheduler *Scheduler
	cfg       config.EconomyConfig
	logger    zerolog.Logger
}

func NewRoomSpeakerSync(s store.BalanceStore, scheduler *Scheduler, cfg config.EconomyConfig, logger zerolog.Logger) *RoomSpeakerSync {
	return &RoomSpeakerSync{
		rooms:     make(map[string]*roomState),
		store:     s,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger.With().Str("component", "room-sync").Logger(),
	}
}

func (r *RoomSpeakerSync) Seats(ctx context.Context, roomID string) (*models.RoomSeats, error) {
	r.mu.Lock()
	state, err := r.roomLocked(ctx, roomID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	seats := state.view(roomID)
	r.mu.Unlock()

	charm, err := r.store.RoomCharm(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for i := range seats.Speakers {
		seats.Speakers[i].Charm = charm[seats.Speakers[i].ID]
	}
	return seats, nil
}

// TakeSeat puts the user on seatIndex, moving them if they already sit elsewhere.
func (r *RoomSpeakerSync) TakeSeat(ctx context.Context, roomID, userID, name string, seatIndex int, muted bool) (*models.RoomSeats, error) {
	r.mu.Lock()
	state, err := r.roomLocked(ctx, roomID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if seatIndex < 0 || seatIndex >= state.micCount {
		r.mu.Unlock()
		return nil, apperrors.NewWithDebug(apperrors.ErrInvalidRequest, "invalid seat",
			fmt.Sprintf("seat %d outside layout of %d", seatIndex, state.micCount))
	}
	for _, sp := range state.speakers {
		if sp.SeatIndex == seatIndex && sp.ID != userID {
			r.mu.Unlock()
			return nil, apperrors.New(apperrors.ErrConflict, "seat is taken")
		}
	}
	state.speakers[userID] = &models.Speaker{ID: userID, Name: name, SeatIndex: seatIndex, IsMuted: muted}
	r.scheduleCommitLocked(roomID)
	r.mu.Unlock()

	return r.Seats(ctx, roomID)
}

func (r *RoomSpeakerSync) LeaveSeat(ctx context.Context, roomID, userID string) (*models.RoomSeats, error) {
	r.mu.Lock()
	state, err := r.roomLocked(ctx, roomID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if _, ok := state.speakers[userID]; ok {
		delete(state.speakers, userID)
		r.scheduler.Cancel(emojiTimerKey(roomID, userID))
		r.scheduleCommitLocked(roomID)
	}
	r.mu.Unlock()

	return r.Seats(ctx, roomID)
}

// CycleLayout advances to the next mic layout. Speakers beyond the new count lose their seat.
func (r *RoomSpeakerSync) CycleLayout(ctx context.Context, roomID string) (*models.RoomSeats, error) {
	r.mu.Lock()
	state, err := r.roomLocked(ctx, roomID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	idx := lo.IndexOf(models.MicLayouts, state.micCount)
	state.micCount = models.MicLayouts[(idx+1)%len(models.MicLayouts)]
	for id, sp := range state.speakers {
		if sp.SeatIndex >= state.micCount {
			delete(state.speakers, id)
		}
	}
	r.scheduleCommitLocked(roomID)
	r.mu.Unlock()

	return r.Seats(ctx, roomID)
}

// SendEmoji shows emoji on the user's seat for the configured display duration.
func (r *RoomSpeakerSync) SendEmoji(ctx context.Context, roomID, userID, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.roomLocked(ctx, roomID)
	if err != nil {
		return err
	}
	sp, ok := state.speakers[userID]
	if !ok {
		return apperrors.NotSeated
	}
	sp.ActiveEmoji = emoji
	r.scheduleCommitLocked(roomID)

	r.scheduler.Schedule(emojiTimerKey(roomID, userID), r.cfg.EmojiDuration, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		st, ok := r.rooms[roomID]
		if !ok {
			return
		}
		if sp, ok := st.speakers[userID]; ok && sp.ActiveEmoji == emoji {
			sp.ActiveEmoji = ""
			r.scheduleCommitLocked(roomID)
		}
	})
	return nil
}

// Flush writes roomID now instead of waiting for the debounce.
func (r *RoomSpeakerSync) Flush(ctx context.Context, roomID string) error {
	r.scheduler.Cancel(seatTimerKey(roomID))
	return r.commit(ctx, roomID)
}

// FlushAll writes every room with a pending seat commit.
func (r *RoomSpeakerSync) FlushAll(ctx context.Context) {
	r.mu.Lock()
	var pending []string
	for roomID := range r.rooms {
		if r.scheduler.Cancel(seatTimerKey(roomID)) {
			pending = append(pending, roomID)
		}
	}
	r.mu.Unlock()

	for _, roomID := range pending {
		if err := r.commit(ctx, roomID); err != nil {
			r.logger.Error().Err(err).Str("room_id", roomID).Msg("Failed to flush seats")
		}
	}
}

func (r *RoomSpeakerSync) roomLocked(ctx context.Context, roomID string) (*roomState, error) {
	if st, ok := r.rooms[roomID]; ok {
		return st, nil
	}
	stored, err := r.store.GetRoomSeats(ctx, roomID)
	if err != nil {
		return nil, err
	}
	st := &roomState{micCount: stored.MicCount, speakers: make(map[string]*models.Speaker)}
	if !lo.Contains(models.MicLayouts, st.micCount) {
		st.micCount = r.cfg.DefaultMicCount
	}
	for i := range stored.Speakers {
		sp := stored.Speakers[i]
		sp.ActiveEmoji = ""
		st.speakers[sp.ID] = &sp
	}
	r.rooms[roomID] = st
	return st, nil
}

func (r *RoomSpeakerSync) scheduleCommitLocked(roomID string) {
	r.scheduler.Schedule(seatTimerKey(roomID), r.cfg.RoomSyncDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), seatCommitTimeout)
		defer cancel()
		if err := r.commit(ctx, roomID); err != nil {
			r.logger.Error().Err(err).Str("room_id", roomID).Msg("Failed to sync seats")
		}
	})
}

func (r *RoomSpeakerSync) commit(ctx context.Context, roomID string) error {
	r.mu.Lock()
	st, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	seats := st.view(roomID)
	r.mu.Unlock()

	data, err := json.Marshal(seats.Speakers)
	if err != nil {
		return fmt.Errorf("failed to marshal seats: %w", err)
	}

	batch := store.Batch{ID: models.GenerateBatchID(), Ops: store.SeatOps(roomID, string(data), seats.MicCount)}
	if _, err := r.store.CommitBatch(ctx, batch); err != nil {
		return err
	}

	r.logger.Debug().Str("room_id", roomID).Int("speakers", len(seats.Speakers)).Msg("Seats synced")
	return nil
}

func (st *roomState) view(roomID string) *models.RoomSeats {
	speakers := make([]models.Speaker, 0, len(st.speakers))
	for _, sp := range st.speakers {
		cp := *sp
		cp.Charm = 0
		speakers = append(speakers, cp)
	}
	sort.Slice(speakers, func(i, j int) bool { return speakers[i].SeatIndex < speakers[j].SeatIndex })
	return &models.RoomSeats{RoomID: roomID, MicCount: st.micCount, Speakers: speakers}
}

func seatTimerKey(roomID string) string {
	return "seats:" + roomID
}

func emojiTimerKey(roomID, userID string) string {
	return "emoji:" + roomID + ":" + userID
}
