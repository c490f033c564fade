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
	"livetalk-economy/internal/events"
	"livetalk-economy/internal/models"
	"livetalk-economy/internal/store"
)

// Options carries the collaborators and knobs of an Economy that are not part of the
// economy configuration itself.
type Options struct {
	Publisher   events.Publisher
	Outbox      config.OutboxConfig
	Topics      config.KafkaConfig
	StoreItems  []models.StoreItem
	VIPPackages []models.VIPPackage
	Now         func() time.Time
	Seed        int64
}

// Economy is the settlement engine facade used by the HTTP layer.
type Economy struct {
	store     store.BalanceStore
	cfg       config.EconomyConfig
	gifts     map[string]models.Gift
	items     map[string]models.StoreItem
	vips      map[int]models.VIPPackage
	ledger    *OptimisticLedger
	scheduler *Scheduler
	outbox    *Outbox
	batcher   *SettlementBatcher
	combos    *ComboSessionManager
	bags      *LuckyBagCoordinator
	rooms     *RoomSpeakerSync
	exchange  *ExchangeService
	logger    zerolog.Logger

	broadcaster Broadcaster

	subCtx     context.Context
	subCancel  context.CancelFunc
	subMu      sync.Mutex
	subscribed map[string]bool
}

func NewEconomy(s store.BalanceStore, cfg config.EconomyConfig, gifts []models.Gift, opts Options, logger zerolog.Logger) *Economy {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ledger := NewOptimisticLedger()
	ledger.now = now
	scheduler := NewScheduler(now)
	outbox := NewOutbox(s, ledger, opts.Publisher, opts.Outbox, opts.Topics, logger)
	batcher := NewSettlementBatcher(scheduler, outbox, ledger, cfg, now, logger)

	subCtx, subCancel := context.WithCancel(context.Background())

	return &Economy{
		store:       s,
		cfg:         cfg,
		gifts:       lo.KeyBy(gifts, func(g models.Gift) string { return g.ID }),
		items:       lo.KeyBy(opts.StoreItems, func(i models.StoreItem) string { return i.ID }),
		vips:        lo.KeyBy(opts.VIPPackages, func(v models.VIPPackage) int { return v.Level }),
		ledger:      ledger,
		scheduler:   scheduler,
		outbox:      outbox,
		batcher:     batcher,
		combos:      NewComboSessionManager(batcher, NewLuckyPicker(seed), scheduler, cfg, now, logger),
		bags:        NewLuckyBagCoordinator(s, outbox, ledger, cfg, now, logger),
		rooms:       NewRoomSpeakerSync(s, scheduler, cfg, logger),
		exchange:    NewExchangeService(outbox, ledger, cfg, logger),
		logger:      logger.With().Str("component", "economy").Logger(),
		broadcaster: noopBroadcaster{},
		subCtx:      subCtx,
		subCancel:   subCancel,
		subscribed:  make(map[string]bool),
	}
}

func (e *Economy) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = noopBroadcaster{}
	}
	e.broadcaster = b
}

func (e *Economy) Ledger() *OptimisticLedger    { return e.ledger }
func (e *Economy) Scheduler() *Scheduler        { return e.scheduler }
func (e *Economy) Outbox() *Outbox              { return e.outbox }
func (e *Economy) Batcher() *SettlementBatcher  { return e.batcher }
func (e *Economy) Combos() *ComboSessionManager { return e.combos }

// Run drives the timers and the outbox workers until ctx is done.
func (e *Economy) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.outbox.Run(ctx)
	}()
	wg.Wait()
}

// Shutdown flushes every pending settlement and seat layout, then drains the outbox.
func (e *Economy) Shutdown(ctx context.Context) error {
	flushed := e.batcher.FlushAll()
	e.rooms.FlushAll(ctx)
	err := e.outbox.Drain(ctx)
	e.subCancel()

	e.logger.Info().
		Int("flushed", flushed).
		Int("dead_letters", len(e.outbox.DeadLetters())).
		Msg("Economy shut down")
	return err
}

func (e *Economy) Gifts() []models.Gift {
	gifts := lo.Values(e.gifts)
	sort.Slice(gifts, func(i, j int) bool {
		if gifts[i].UnitCost == gifts[j].UnitCost {
			return gifts[i].ID < gifts[j].ID
		}
		return gifts[i].UnitCost < gifts[j].UnitCost
	})
	return gifts
}

func (e *Economy) Gift(id string) (models.Gift, error) {
	g, ok := e.gifts[id]
	if !ok {
		return models.Gift{}, apperrors.GiftNotFound
	}
	return g, nil
}

func (e *Economy) SendGift(ctx context.Context, roomID, senderID string, req models.SendGiftRequest) (*models.SendResult, error) {
	if err := req.Validate(senderID); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidRequest, err.Error())
	}
	gift, err := e.Gift(req.GiftID)
	if err != nil {
		return nil, err
	}
	if err := e.ensure(ctx, append([]string{senderID}, req.RecipientIDs...)...); err != nil {
		return nil, err
	}

	res, err := e.combos.SendGift(roomID, senderID, gift, req.Quantity, req.RecipientIDs)
	if err != nil {
		return nil, err
	}
	e.broadcaster.BroadcastRoom(roomID, RoomEventGiftSent, map[string]interface{}{
		"sender_id":     senderID,
		"gift":          gift,
		"recipient_ids": req.RecipientIDs,
		"count":         res.Count,
		"win":           res.Win,
	})
	return res, nil
}

func (e *Economy) OnComboHit(ctx context.Context, roomID, senderID string) (*models.SendResult, error) {
	session, ok := e.combos.Session(roomID, senderID)
	if !ok {
		return nil, apperrors.NoActiveCombo
	}
	if err := e.ensure(ctx, append([]string{senderID}, session.Recipients...)...); err != nil {
		return nil, err
	}

	res, err := e.combos.Hit(roomID, senderID)
	if err != nil {
		return nil, err
	}
	e.broadcaster.BroadcastRoom(roomID, RoomEventComboHit, map[string]interface{}{
		"sender_id": senderID,
		"gift_id":   res.GiftID,
		"count":     res.Count,
		"win":       res.Win,
	})
	return res, nil
}

// LeaveRoom ends the user's combo, flushes their pending settlements into the outbox
// and frees their seat. It returns how many settlements were flushed.
func (e *Economy) LeaveRoom(ctx context.Context, roomID, userID string) (int, error) {
	e.combos.End(roomID, userID)
	flushed := e.batcher.FlushSender(roomID, userID)

	if _, err := e.rooms.LeaveSeat(ctx, roomID, userID); err != nil {
		return flushed, err
	}

	e.logger.Debug().Str("room_id", roomID).Str("user_id", userID).Int("flushed", flushed).Msg("User left room")
	return flushed, nil
}

func (e *Economy) CreateLuckyBag(ctx context.Context, roomID, senderID string, amount, capacity int64) (*models.LuckyBag, error) {
	if err := e.ensure(ctx, senderID); err != nil {
		return nil, err
	}
	bag, err := e.bags.Create(ctx, roomID, senderID, amount, capacity)
	if err != nil {
		return nil, err
	}
	e.broadcaster.BroadcastRoom(roomID, RoomEventLuckyBag, bag)
	return bag, nil
}

func (e *Economy) ClaimLuckyBag(ctx context.Context, bagID, claimantID string) (*models.ClaimResult, error) {
	if err := e.ensure(ctx, claimantID); err != nil {
		return nil, err
	}
	res, err := e.bags.Claim(ctx, bagID, claimantID)
	if err != nil {
		return nil, err
	}
	if bag, gerr := e.store.GetBag(ctx, bagID); gerr == nil {
		e.broadcaster.BroadcastRoom(bag.RoomID, RoomEventBagClaimed, map[string]interface{}{
			"bag_id":      bagID,
			"claimant_id": claimantID,
			"share":       res.Share,
			"remaining":   res.Remaining,
		})
	}
	return res, nil
}

func (e *Economy) ActiveBags(ctx context.Context, roomID, viewerID string) ([]models.ActiveBagView, error) {
	return e.bags.ActiveBags(ctx, roomID, viewerID)
}

func (e *Economy) CurrentLevel(ctx context.Context, userID string, kind models.LevelKind) (int, error) {
	b, err := e.mirror(ctx, userID)
	if err != nil {
		return 0, err
	}
	return LevelOf(b, kind), nil
}

func (e *Economy) Balance(ctx context.Context, userID string) (*models.BalanceResponse, error) {
	b, err := e.mirror(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BalanceView(b), nil
}

// Watch calls fn with the current mirror of userID and again on every change until ctx
// is done.
func (e *Economy) Watch(ctx context.Context, userID string, fn func(models.UserBalance)) error {
	if err := e.ensure(ctx, userID); err != nil {
		return err
	}
	stop := e.ledger.Listen(userID, fn)
	if b, ok := e.ledger.Snapshot(userID); ok {
		fn(b)
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return nil
}

func (e *Economy) Contributors(ctx context.Context, roomID string, limit int) ([]models.Contributor, error) {
	return e.store.Contributors(ctx, roomID, limit)
}

// RoomMessages returns the most recent chat lines of roomID, oldest first.
func (e *Economy) RoomMessages(ctx context.Context, roomID string, limit int64) ([]models.ChatMessage, error) {
	return decodeList[models.ChatMessage](ctx, e.store, store.RoomMessagesKey(roomID), limit)
}

func (e *Economy) Announcements(ctx context.Context, limit int64) ([]models.Announcement, error) {
	return decodeList[models.Announcement](ctx, e.store, store.KeyGlobalAnnouncement, limit)
}

func (e *Economy) Seats(ctx context.Context, roomID string) (*models.RoomSeats, error) {
	return e.rooms.Seats(ctx, roomID)
}

func (e *Economy) TakeSeat(ctx context.Context, roomID, userID string, seatIndex int, muted bool) (*models.RoomSeats, error) {
	b, err := e.mirror(ctx, userID)
	if err != nil {
		return nil, err
	}
	seats, err := e.rooms.TakeSeat(ctx, roomID, userID, b.Name, seatIndex, muted)
	if err != nil {
		return nil, err
	}
	e.broadcaster.BroadcastRoom(roomID, RoomEventSeats, seats)
	return seats, nil
}

func (e *Economy) LeaveSeat(ctx context.Context, roomID, userID string) (*models.RoomSeats, error) {
	seats, err := e.rooms.LeaveSeat(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	e.broadcaster.BroadcastRoom(roomID, RoomEventSeats, seats)
	return seats, nil
}

func (e *Economy) CycleLayout(ctx context.Context, roomID string) (*models.RoomSeats, error) {
	seats, err := e.rooms.CycleLayout(ctx, roomID)
	if err != nil {
		return nil, err
	}
	e.broadcaster.BroadcastRoom(roomID, RoomEventSeats, seats)
	return seats, nil
}

func (e *Economy) SendEmoji(ctx context.Context, roomID, userID, emoji string) error {
	if err := e.rooms.SendEmoji(ctx, roomID, userID, emoji); err != nil {
		return err
	}
	e.broadcaster.BroadcastRoom(roomID, RoomEventEmoji, map[string]interface{}{
		"user_id": userID,
		"emoji":   emoji,
	})
	return nil
}

func (e *Economy) ExchangeDiamonds(ctx context.Context, userID string, amount int64) (*models.UserBalance, error) {
	if err := e.ensure(ctx, userID); err != nil {
		return nil, err
	}
	return e.exchange.ExchangeDiamonds(ctx, userID, amount)
}

func (e *Economy) ExchangeSalaryToAgency(ctx context.Context, userID, agentID string, amount int64) (*models.UserBalance, error) {
	if err := e.ensure(ctx, userID); err != nil {
		return nil, err
	}
	return e.exchange.ExchangeSalaryToAgency(ctx, userID, agentID, amount)
}

func (e *Economy) AgencyTransfer(ctx context.Context, agentID, targetID string, amount int64) (*models.UserBalance, error) {
	if err := e.ensure(ctx, agentID); err != nil {
		return nil, err
	}
	return e.exchange.AgencyTransfer(ctx, agentID, targetID, amount)
}

// StoreItems lists the shop catalogue, cheapest first.
func (e *Economy) StoreItems() []models.StoreItem {
	items := lo.Values(e.items)
	sort.Slice(items, func(i, j int) bool {
		if items[i].Price == items[j].Price {
			return items[i].ID < items[j].ID
		}
		return items[i].Price < items[j].Price
	})
	return items
}

func (e *Economy) VIPPackages() []models.VIPPackage {
	pkgs := lo.Values(e.vips)
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Level < pkgs[j].Level })
	return pkgs
}

func (e *Economy) OwnedItems(ctx context.Context, userID string) ([]string, error) {
	items, err := e.store.OwnedItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Strings(items)
	return items, nil
}

// BuyItem charges the catalogue price of itemID. Items already owned are not sold again.
func (e *Economy) BuyItem(ctx context.Context, userID, itemID string) (*models.UserBalance, error) {
	item, ok := e.items[itemID]
	if !ok {
		return nil, apperrors.ItemNotFound
	}
	if err := e.ensure(ctx, userID); err != nil {
		return nil, err
	}
	owned, err := e.store.OwnedItems(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServerError, "failed to load owned items")
	}
	if lo.Contains(owned, itemID) {
		return nil, apperrors.ItemOwned
	}
	return e.exchange.Purchase(ctx, userID, item)
}

func (e *Economy) BuyVIP(ctx context.Context, userID string, level int) (*models.UserBalance, error) {
	pkg, ok := e.vips[level]
	if !ok {
		return nil, apperrors.NewWithDebug(apperrors.ErrItemNotFound, "vip package not found", fmt.Sprintf("level %d", level))
	}
	if err := e.ensure(ctx, userID); err != nil {
		return nil, err
	}
	return e.exchange.BuyVIP(ctx, userID, pkg)
}

func (e *Economy) CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error) {
	return e.store.CheckRateLimit(ctx, userID, action, limit, window)
}

func (e *Economy) mirror(ctx context.Context, userID string) (models.UserBalance, error) {
	if err := e.ensure(ctx, userID); err != nil {
		return models.UserBalance{}, err
	}
	b, _ := e.ledger.Snapshot(userID)
	return b, nil
}

// ensure loads users into the mirror and subscribes to their store snapshots once.
// The subscription is registered before the initial read so no write is missed.
func (e *Economy) ensure(ctx context.Context, userIDs ...string) error {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	for _, id := range userIDs {
		if e.subscribed[id] && e.ledger.Known(id) {
			continue
		}
		if !e.subscribed[id] {
			if err := e.store.Subscribe(e.subCtx, id, e.ledger.Replace); err != nil {
				return apperrors.Wrap(err, apperrors.ErrInternalServerError, "failed to subscribe to balance")
			}
			e.subscribed[id] = true
		}
		if err := e.ledger.Resync(ctx, e.store, id); err != nil {
			return apperrors.Wrap(err, apperrors.ErrInternalServerError, "failed to load balance")
		}
	}
	return nil
}

func decodeList[T any](ctx context.Context, s store.BalanceStore, key string, limit int64) ([]T, error) {
	raw, err := s.List(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s entry: %w", key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
