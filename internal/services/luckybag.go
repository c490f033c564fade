package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/config"
	"livetalk-economy/internal/events"
	"livetalk-economy/internal/models"
	"livetalk-economy/internal/store"
)

// LuckyBagCoordinator creates shared payout pools and arbitrates claims against them.
// Both paths commit synchronously; nothing here is batched.
type LuckyBagCoordinator struct {
	store  store.BalanceStore
	outbox *Outbox
	ledger *OptimisticLedger
	cfg    config.EconomyConfig
	now    func() time.Time
	logger zerolog.Logger

	mu        sync.Mutex
	firstSeen map[string]time.Time
}

func NewLuckyBagCoordinator(s store.BalanceStore, outbox *Outbox, ledger *OptimisticLedger, cfg config.EconomyConfig, now func() time.Time, logger zerolog.Logger) *LuckyBagCoordinator {
	if now == nil {
		now = time.Now
	}
	return &LuckyBagCoordinator{
		store:     s,
		outbox:    outbox,
		ledger:    ledger,
		cfg:       cfg,
		now:       now,
		logger:    logger.With().Str("component", "lucky-bag").Logger(),
		firstSeen: make(map[string]time.Time),
	}
}

func (c *LuckyBagCoordinator) Create(ctx context.Context, roomID, senderID string, amount, capacity int64) (*models.LuckyBag, error) {
	if amount <= 0 || capacity <= 0 {
		return nil, apperrors.New(apperrors.ErrInvalidRequest, "amount and capacity must be positive")
	}
	if amount < capacity {
		return nil, apperrors.NewWithDebug(apperrors.ErrInvalidRequest, "amount too small for capacity",
			fmt.Sprintf("amount %d cannot give %d claimants a share", amount, capacity))
	}

	bagID := models.GenerateBagID()
	batchID := "bag_create_" + bagID
	sender, err := c.ledger.TryDebit(senderID, batchID, amount, models.Delta{Coins: -amount, Wealth: amount})
	if err != nil {
		return nil, err
	}

	now := c.now()
	bag := &models.LuckyBag{
		ID:              bagID,
		SenderID:        senderID,
		SenderName:      sender.Name,
		RoomID:          roomID,
		TotalAmount:     amount,
		RemainingAmount: amount,
		Capacity:        capacity,
		ClaimedBy:       []string{},
		CreatedAt:       now,
		ExpiresAt:       now.Add(c.cfg.BagExpiry),
	}

	senderKey := store.UserKey(senderID)
	ops := []store.Op{
		store.GuardedIncrement(senderKey, store.FieldCoins, -amount),
		store.Increment(senderKey, store.FieldWealth, amount),
	}
	ops = append(ops, store.BagOps(bag)...)

	chat := models.ChatMessage{
		ID:        models.GenerateEventID(),
		RoomID:    roomID,
		UserID:    senderID,
		UserName:  sender.Name,
		Content:   fmt.Sprintf("sent a lucky bag of %d coins", amount),
		Type:      models.ChatMessageGift,
		Timestamp: now,
	}
	if auth, ok := c.ledger.Authoritative(senderID); ok {
		chat.UserWealthLevel = Level(auth.Wealth + amount)
		chat.UserRechargeLevel = Level(auth.RechargePoints)
	}
	ann := models.Announcement{
		ID:         models.GenerateEventID(),
		Type:       models.AnnouncementLuckyBag,
		SenderID:   senderID,
		SenderName: sender.Name,
		RoomID:     roomID,
		Amount:     amount,
		Timestamp:  now,
	}
	ops = appendRecord(ops, c.logger, store.RoomMessagesKey(roomID), chat, store.MaxRoomMessages)
	ops = appendRecord(ops, c.logger, store.KeyGlobalAnnouncement, ann, store.MaxAnnouncements)

	entry := &OutboxEntry{
		Batch:    store.Batch{ID: batchID, Ops: ops},
		RoomID:   roomID,
		SenderID: senderID,
		Events: []PendingEvent{
			{Topic: events.TopicBagEvents, Key: roomID, Value: events.NewEnvelope("bag_created", roomID, bag)},
			{Topic: events.TopicAnnouncements, Key: roomID, Value: events.NewEnvelope("announcement", roomID, ann)},
		},
		EnqueuedAt: now,
	}

	if err := c.outbox.Commit(ctx, entry); err != nil {
		c.logger.Error().Err(err).Str("room_id", roomID).Str("sender_id", senderID).Msg("Lucky bag creation failed")
		return nil, err
	}

	c.logger.Info().
		Str("bag_id", bag.ID).
		Str("room_id", roomID).
		Str("sender_id", senderID).
		Int64("amount", amount).
		Int64("capacity", capacity).
		Msg("Lucky bag created")

	return bag, nil
}

// Claim pays one share of bagID to claimantID. The capacity and duplicate checks that
// matter run inside the store's atomic claim; the pre-checks only avoid a round trip.
func (c *LuckyBagCoordinator) Claim(ctx context.Context, bagID, claimantID string) (*models.ClaimResult, error) {
	bag, err := c.store.GetBag(ctx, bagID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	switch {
	case bag.ClaimedByUser(claimantID):
		return nil, apperrors.AlreadyClaimed
	case int64(len(bag.ClaimedBy)) >= bag.Capacity:
		return nil, apperrors.BagFull
	case !now.Before(bag.ExpiresAt):
		return nil, apperrors.BagExpired
	case bag.RemainingAmount <= 0:
		return nil, apperrors.BagFull
	}

	result, err := c.store.AtomicClaim(ctx, bagID, claimantID, bag.Share(), now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCommitFailure, "claim failed")
	}

	switch result.Status {
	case models.ClaimOK:
	case models.ClaimAlreadyClaimed:
		return nil, apperrors.AlreadyClaimed
	case models.ClaimExpired:
		return nil, apperrors.BagExpired
	case models.ClaimNotFound:
		return nil, apperrors.BagNotFound
	default:
		return nil, apperrors.BagFull
	}

	if err := c.ledger.Resync(ctx, c.store, claimantID); err != nil {
		c.logger.Warn().Err(err).Str("user_id", claimantID).Msg("Failed to refresh claimant after claim")
	}

	c.logger.Info().
		Str("bag_id", bagID).
		Str("claimant_id", claimantID).
		Int64("share", result.Share).
		Int64("remaining", result.Remaining).
		Msg("Lucky bag claimed")

	return result, nil
}

// ActiveBags lists the claimable bags of roomID as seen by viewerID, newest first.
// ClaimableAt is first observation by this viewer plus the claim gate.
func (c *LuckyBagCoordinator) ActiveBags(ctx context.Context, roomID, viewerID string) ([]models.ActiveBagView, error) {
	bags, err := c.store.RoomBags(ctx, roomID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	active := lo.Filter(bags, func(b *models.LuckyBag, _ int) bool { return b.Active(now) })
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })

	c.mu.Lock()
	defer c.mu.Unlock()

	views := make([]models.ActiveBagView, 0, len(active))
	for _, b := range active {
		seenKey := viewerID + "|" + b.ID
		seen, ok := c.firstSeen[seenKey]
		if !ok {
			seen = now
			c.firstSeen[seenKey] = seen
		}
		views = append(views, models.ActiveBagView{
			Bag:         b,
			Share:       b.Share(),
			ClaimableAt: seen.Add(c.cfg.ClaimGate),
			Claimed:     b.ClaimedByUser(viewerID),
		})
	}

	for key, seen := range c.firstSeen {
		if now.Sub(seen) > c.cfg.BagExpiry+c.cfg.ClaimGate {
			delete(c.firstSeen, key)
		}
	}

	return views, nil
}
