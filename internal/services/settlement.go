package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"livetalk-economy/internal/config"
	"livetalk-economy/internal/events"
	"livetalk-economy/internal/models"
	"livetalk-economy/internal/store"
)

type settlementKey struct {
	roomID   string
	senderID string
	giftID   string
}

func (k settlementKey) timerKey() string {
	return fmt.Sprintf("flush:%s:%s:%s", k.roomID, k.senderID, k.giftID)
}

// PendingSettlement accumulates repeats of one gift until the flush timer fires.
// BatchID is fixed at creation; the ledger holds every accepted repeat under it.
type PendingSettlement struct {
	BatchID    string
	RoomID     string
	SenderID   string
	Gift       models.Gift
	Recipients []string
	Count      int64
	TotalCost  int64
	TotalWin   int64
	StartedAt  time.Time
}

// SettlementBatcher coalesces queued repeats per (room, sender, gift) into one outbox
// entry, flushed after the configured quiet period.
type SettlementBatcher struct {
	mu        sync.Mutex
	pending   map[settlementKey]*PendingSettlement
	scheduler *Scheduler
	outbox    *Outbox
	ledger    *OptimisticLedger
	cfg       config.EconomyConfig
	now       func() time.Time
	logger    zerolog.Logger
}

func NewSettlementBatcher(scheduler *Scheduler, outbox *Outbox, ledger *OptimisticLedger, cfg config.EconomyConfig, now func() time.Time, logger zerolog.Logger) *SettlementBatcher {
	if now == nil {
		now = time.Now
	}
	return &SettlementBatcher{
		pending:   make(map[settlementKey]*PendingSettlement),
		scheduler: scheduler,
		outbox:    outbox,
		ledger:    ledger,
		cfg:       cfg,
		now:       now,
		logger:    logger.With().Str("component", "settlement").Logger(),
	}
}

// Queue debits the sender and credits the recipients in the ledger, then adds the send to
// its pending settlement and restarts the flush timer. Both happen under the batcher lock,
// so every hold of a settlement is recorded before it can flush. A send of the same gift to
// a different recipient set flushes the old settlement first.
func (b *SettlementBatcher) Queue(roomID, senderID string, gift models.Gift, qty int64, recipients []string, cost, win int64) (models.UserBalance, error) {
	key := settlementKey{roomID: roomID, senderID: senderID, giftID: gift.ID}

	b.mu.Lock()
	p, ok := b.pending[key]
	var stale *PendingSettlement
	if ok && !sameRecipients(p.Recipients, recipients) {
		stale = p
		ok = false
	}
	if !ok {
		p = &PendingSettlement{
			BatchID:    models.GenerateBatchID(),
			RoomID:     roomID,
			SenderID:   senderID,
			Gift:       gift,
			Recipients: append([]string(nil), recipients...),
			StartedAt:  b.now(),
		}
	}

	sender, err := b.ledger.TryDebit(senderID, p.BatchID, cost, models.Delta{Coins: win - cost, Wealth: cost})
	if err != nil {
		b.mu.Unlock()
		return sender, err
	}
	perRecipient := gift.UnitCost * qty
	earnings := earningsShare(perRecipient, b.cfg.EarningsShare)
	for _, id := range recipients {
		b.ledger.ApplyDelta(id, p.BatchID, models.Delta{Charm: perRecipient, Diamonds: earnings})
	}

	b.pending[key] = p
	p.Count += qty
	p.TotalCost += cost
	p.TotalWin += win
	b.mu.Unlock()

	if stale != nil {
		b.enqueue(stale)
	}

	b.scheduler.Schedule(key.timerKey(), b.cfg.FlushDelay, func() { b.flush(key) })
	return sender, nil
}

// Pending returns a copy of the settlement accumulating for the triple, if any.
func (b *SettlementBatcher) Pending(roomID, senderID, giftID string) (PendingSettlement, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[settlementKey{roomID: roomID, senderID: senderID, giftID: giftID}]
	if !ok {
		return PendingSettlement{}, false
	}
	return *p, true
}

// FlushSender flushes every pending settlement of senderID in roomID immediately.
func (b *SettlementBatcher) FlushSender(roomID, senderID string) int {
	return b.flushWhere(func(k settlementKey) bool {
		return k.roomID == roomID && k.senderID == senderID
	})
}

// FlushAll flushes every pending settlement immediately.
func (b *SettlementBatcher) FlushAll() int {
	return b.flushWhere(func(settlementKey) bool { return true })
}

func (b *SettlementBatcher) flushWhere(match func(settlementKey) bool) int {
	b.mu.Lock()
	var taken []*PendingSettlement
	for k, p := range b.pending {
		if match(k) {
			taken = append(taken, p)
			delete(b.pending, k)
			b.scheduler.Cancel(k.timerKey())
		}
	}
	b.mu.Unlock()

	sort.Slice(taken, func(i, j int) bool { return taken[i].StartedAt.Before(taken[j].StartedAt) })
	for _, p := range taken {
		b.enqueue(p)
	}
	return len(taken)
}

func (b *SettlementBatcher) flush(key settlementKey) {
	b.mu.Lock()
	p, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()

	if ok {
		b.enqueue(p)
	}
}

func (b *SettlementBatcher) enqueue(p *PendingSettlement) {
	entry := b.build(p)
	b.logger.Info().
		Str("batch_id", entry.Batch.ID).
		Str("room_id", p.RoomID).
		Str("sender_id", p.SenderID).
		Str("gift_id", p.Gift.ID).
		Int64("count", p.Count).
		Int64("cost", p.TotalCost).
		Int64("win", p.TotalWin).
		Msg("Flushing settlement")
	b.outbox.Enqueue(entry)
}

// build turns a pending settlement into one all-or-nothing batch plus its events.
func (b *SettlementBatcher) build(p *PendingSettlement) *OutboxEntry {
	now := b.now()
	sender, _ := b.ledger.Snapshot(p.SenderID)
	authoritative, _ := b.ledger.Authoritative(p.SenderID)

	perRecipient := p.Gift.UnitCost * p.Count
	earnings := earningsShare(perRecipient, b.cfg.EarningsShare)
	senderKey := store.UserKey(p.SenderID)

	ops := []store.Op{
		store.GuardedIncrement(senderKey, store.FieldCoins, p.TotalWin-p.TotalCost),
		store.Increment(senderKey, store.FieldWealth, p.TotalCost),
		store.Increment(store.RoomContributorsKey(p.RoomID), p.SenderID, p.TotalCost),
	}

	for _, id := range p.Recipients {
		key := store.UserKey(id)
		ops = append(ops,
			store.Increment(key, store.FieldCharm, perRecipient),
			store.Increment(key, store.FieldDiamonds, earnings),
			store.Increment(store.RoomCharmKey(p.RoomID), id, perRecipient),
		)
		if r, ok := b.ledger.Snapshot(id); ok && r.HostAgencyID != "" {
			ops = append(ops,
				store.Increment(key, store.FieldHostProduction, earnings),
				store.Increment(store.HostAgencyKey(r.HostAgencyID), store.FieldTotalProduction, earnings),
			)
		}
	}

	event := models.GiftEvent{
		ID:           models.GenerateEventID(),
		RoomID:       p.RoomID,
		GiftID:       p.Gift.ID,
		GiftName:     p.Gift.Name,
		GiftIcon:     p.Gift.Icon,
		SenderID:     p.SenderID,
		SenderName:   sender.Name,
		RecipientIDs: p.Recipients,
		Quantity:     p.Count,
		TotalCost:    p.TotalCost,
		TotalWin:     p.TotalWin,
		Timestamp:    now,
	}
	ops = appendRecord(ops, b.logger, store.RoomGiftEventsKey(p.RoomID), event, store.MaxRoomGiftEvents)

	pending := []PendingEvent{{
		Topic: events.TopicGiftEvents,
		Key:   p.RoomID,
		Value: events.NewEnvelope("gift_settled", p.RoomID, event),
	}}

	if ann := b.announcement(p, sender.Name, now); ann != nil {
		ops = appendRecord(ops, b.logger, store.KeyGlobalAnnouncement, ann, store.MaxAnnouncements)
		pending = append(pending, PendingEvent{
			Topic: events.TopicAnnouncements,
			Key:   p.RoomID,
			Value: events.NewEnvelope("announcement", p.RoomID, ann),
		})
	}

	content := fmt.Sprintf("sent %s x%d", p.Gift.Name, p.Count)
	if p.TotalWin > 0 {
		content = fmt.Sprintf("%s and won %d coins", content, p.TotalWin)
	}
	chat := models.ChatMessage{
		ID:                models.GenerateEventID(),
		RoomID:            p.RoomID,
		UserID:            p.SenderID,
		UserName:          sender.Name,
		UserWealthLevel:   Level(authoritative.Wealth + p.TotalCost),
		UserRechargeLevel: Level(authoritative.RechargePoints),
		Content:           content,
		Type:              models.ChatMessageGift,
		IsLuckyWin:        p.TotalWin > 0,
		Timestamp:         now,
	}
	ops = appendRecord(ops, b.logger, store.RoomMessagesKey(p.RoomID), chat, store.MaxRoomMessages)

	return &OutboxEntry{
		Batch:      store.Batch{ID: p.BatchID, Ops: ops},
		RoomID:     p.RoomID,
		SenderID:   p.SenderID,
		Events:     pending,
		EnqueuedAt: now,
	}
}

func (b *SettlementBatcher) announcement(p *PendingSettlement, senderName string, now time.Time) *models.Announcement {
	threshold := b.cfg.AnnouncementThreshold
	if threshold <= 0 {
		return nil
	}

	ann := &models.Announcement{
		ID:         models.GenerateEventID(),
		SenderID:   p.SenderID,
		SenderName: senderName,
		GiftName:   p.Gift.Name,
		RoomID:     p.RoomID,
		Timestamp:  now,
	}
	if len(p.Recipients) > 0 {
		if r, ok := b.ledger.Snapshot(p.Recipients[0]); ok {
			ann.RecipientName = r.Name
		}
	}

	switch {
	case p.TotalWin >= threshold:
		ann.Type = models.AnnouncementLuckyWin
		ann.Amount = p.TotalWin
	case p.TotalCost >= threshold:
		ann.Type = models.AnnouncementGift
		ann.Amount = p.TotalCost
	default:
		return nil
	}
	return ann
}

// earningsShare is floor(value * share).
func earningsShare(value int64, share float64) int64 {
	return decimal.NewFromInt(value).Mul(decimal.NewFromFloat(share)).Floor().IntPart()
}

func sameRecipients(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return len(lo.Without(a, b...)) == 0 && len(lo.Without(b, a...)) == 0
}

// appendRecord adds the JSON encoding of v to the capped list at key. A record that cannot
// be encoded is logged and left out of the batch.
func appendRecord(ops []store.Op, logger zerolog.Logger, key string, v interface{}, limit int64) []store.Op {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Failed to encode record")
		return ops
	}
	return append(ops, store.Append(key, string(data), limit))
}
