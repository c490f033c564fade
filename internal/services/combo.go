package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/config"
	"livetalk-economy/internal/models"
)

type comboKey struct {
	roomID   string
	senderID string
}

func (k comboKey) timerKey() string {
	return fmt.Sprintf("combo:%s:%s", k.roomID, k.senderID)
}

// ComboSession is the active repeat window of one sender in one room.
// Gift and recipients are frozen when the session starts.
type ComboSession struct {
	ID         string
	RoomID     string
	SenderID   string
	Gift       models.Gift
	Recipients []string
	Count      int64
	CreatedAt  time.Time
	LastHitAt  time.Time
	ExpiresAt  time.Time
}

type ComboSessionManager struct {
	mu        sync.Mutex
	sessions  map[comboKey]*ComboSession
	batcher   *SettlementBatcher
	picker    *LuckyPicker
	scheduler *Scheduler
	cfg       config.EconomyConfig
	now       func() time.Time
	logger    zerolog.Logger
}

func NewComboSessionManager(batcher *SettlementBatcher, picker *LuckyPicker, scheduler *Scheduler, cfg config.EconomyConfig, now func() time.Time, logger zerolog.Logger) *ComboSessionManager {
	if now == nil {
		now = time.Now
	}
	return &ComboSessionManager{
		sessions:  make(map[comboKey]*ComboSession),
		batcher:   batcher,
		picker:    picker,
		scheduler: scheduler,
		cfg:       cfg,
		now:       now,
		logger:    logger.With().Str("component", "combo").Logger(),
	}
}

// SendGift starts a session (or replaces one for a different gift or recipient set).
// Sending the same gift to the same recipients while a session is active extends it.
func (m *ComboSessionManager) SendGift(roomID, senderID string, gift models.Gift, qty int64, recipients []string) (*models.SendResult, error) {
	if qty < 1 || len(recipients) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidRequest, "quantity and recipients are required")
	}

	key := comboKey{roomID: roomID, senderID: senderID}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[key]
	if !ok || session.Gift.ID != gift.ID || !sameRecipients(session.Recipients, recipients) {
		session = nil
	}

	res, err := m.accept(roomID, senderID, gift, qty, recipients)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if session == nil {
		session = &ComboSession{
			ID:         uuid.NewString(),
			RoomID:     roomID,
			SenderID:   senderID,
			Gift:       gift,
			Recipients: append([]string(nil), recipients...),
			CreatedAt:  now,
		}
		m.sessions[key] = session
		m.logger.Debug().Str("room_id", roomID).Str("sender_id", senderID).Str("gift_id", gift.ID).Msg("Combo started")
	}
	session.Count += qty
	session.LastHitAt = now
	session.ExpiresAt = m.armExpiry(key, session.ID)

	res.Count = session.Count
	res.ExpiresAt = session.ExpiresAt.UnixMilli()
	return res, nil
}

// Hit repeats the active session's gift once to the same recipients.
func (m *ComboSessionManager) Hit(roomID, senderID string) (*models.SendResult, error) {
	key := comboKey{roomID: roomID, senderID: senderID}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[key]
	if !ok {
		return nil, apperrors.NoActiveCombo
	}

	res, err := m.accept(roomID, senderID, session.Gift, 1, session.Recipients)
	if err != nil {
		return nil, err
	}

	session.Count++
	session.LastHitAt = m.now()
	session.ExpiresAt = m.armExpiry(key, session.ID)

	res.Count = session.Count
	res.ExpiresAt = session.ExpiresAt.UnixMilli()
	return res, nil
}

// End discards the session of senderID in roomID and cancels its expiry timer.
func (m *ComboSessionManager) End(roomID, senderID string) bool {
	key := comboKey{roomID: roomID, senderID: senderID}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[key]
	delete(m.sessions, key)
	m.scheduler.Cancel(key.timerKey())
	return ok
}

func (m *ComboSessionManager) Session(roomID, senderID string) (ComboSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[comboKey{roomID: roomID, senderID: senderID}]
	if !ok {
		return ComboSession{}, false
	}
	cp := *s
	cp.Recipients = append([]string(nil), s.Recipients...)
	return cp, true
}

// accept draws the lucky win and hands the send to the batcher, which checks funds and
// holds the deltas. Caller holds m.mu.
func (m *ComboSessionManager) accept(roomID, senderID string, gift models.Gift, qty int64, recipients []string) (*models.SendResult, error) {
	cost := gift.UnitCost * qty * int64(len(recipients))
	win := m.picker.Draw(m.cfg, gift, qty)

	sender, err := m.batcher.Queue(roomID, senderID, gift, qty, recipients, cost, win)
	if err != nil {
		m.logger.Info().
			Str("room_id", roomID).
			Str("sender_id", senderID).
			Int64("cost", cost).
			Int64("coins", sender.Coins).
			Msg("Gift rejected: insufficient funds")
		return nil, err
	}

	return &models.SendResult{
		GiftID: gift.ID,
		Cost:   cost,
		Win:    win,
		Coins:  sender.Coins,
	}, nil
}

func (m *ComboSessionManager) armExpiry(key comboKey, sessionID string) time.Time {
	return m.scheduler.Schedule(key.timerKey(), m.cfg.ComboExpiry, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if s, ok := m.sessions[key]; ok && s.ID == sessionID {
			delete(m.sessions, key)
			m.logger.Debug().Str("room_id", key.roomID).Str("sender_id", key.senderID).Int64("count", s.Count).Msg("Combo expired")
		}
	})
}
