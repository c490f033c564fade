package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/config"
	"livetalk-economy/internal/events"
	"livetalk-economy/internal/models"
	"livetalk-economy/internal/store"
)

// ExchangeService implements the fixed-rate conversions between diamonds, coins and
// agency balance, and the coin purchases of store items and VIP tiers. Every operation
// is one guarded synchronous batch.
type ExchangeService struct {
	outbox *Outbox
	ledger *OptimisticLedger
	cfg    config.EconomyConfig
	logger zerolog.Logger
}

func NewExchangeService(outbox *Outbox, ledger *OptimisticLedger, cfg config.EconomyConfig, logger zerolog.Logger) *ExchangeService {
	return &ExchangeService{
		outbox: outbox,
		ledger: ledger,
		cfg:    cfg,
		logger: logger.With().Str("component", "exchange").Logger(),
	}
}

// DiamondsToCoins is floor(amount * rate).
func (s *ExchangeService) DiamondsToCoins(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(s.cfg.DiamondExchangeRate)).Floor().IntPart()
}

// SalaryToAgency is floor(amount / block * credit).
func (s *ExchangeService) SalaryToAgency(amount int64) int64 {
	return decimal.NewFromInt(amount).
		Div(decimal.NewFromInt(s.cfg.SalaryBlock)).
		Mul(decimal.NewFromInt(s.cfg.AgencyBlockCredit)).
		Floor().IntPart()
}

func (s *ExchangeService) ExchangeDiamonds(ctx context.Context, userID string, amount int64) (*models.UserBalance, error) {
	if amount <= 0 {
		return nil, apperrors.New(apperrors.ErrInvalidRequest, "amount must be positive")
	}
	coins := s.DiamondsToCoins(amount)

	key := store.UserKey(userID)
	ops := []store.Op{
		store.GuardedIncrement(key, store.FieldDiamonds, -amount),
		store.Increment(key, store.FieldCoins, coins),
	}
	return s.run(ctx, "diamond_exchange", userID, diamondsOf, amount, models.Delta{Diamonds: -amount, Coins: coins}, ops)
}

func (s *ExchangeService) ExchangeSalaryToAgency(ctx context.Context, userID, agentID string, amount int64) (*models.UserBalance, error) {
	if amount < s.cfg.SalaryBlock {
		return nil, apperrors.NewWithDebug(apperrors.ErrInvalidRequest, "amount below minimum exchange",
			fmt.Sprintf("minimum is %d", s.cfg.SalaryBlock))
	}
	if agentID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidRequest, "agent is required")
	}
	credit := s.SalaryToAgency(amount)

	ops := []store.Op{
		store.GuardedIncrement(store.UserKey(userID), store.FieldDiamonds, -amount),
		store.Increment(store.UserKey(agentID), store.FieldAgencyBalance, credit),
	}
	return s.run(ctx, "agency_exchange", userID, diamondsOf, amount, models.Delta{Diamonds: -amount}, ops)
}

func (s *ExchangeService) AgencyTransfer(ctx context.Context, agentID, targetID string, amount int64) (*models.UserBalance, error) {
	if amount <= 0 {
		return nil, apperrors.New(apperrors.ErrInvalidRequest, "amount must be positive")
	}
	if targetID == "" || targetID == agentID {
		return nil, apperrors.New(apperrors.ErrInvalidRequest, "invalid transfer target")
	}

	target := store.UserKey(targetID)
	ops := []store.Op{
		store.GuardedIncrement(store.UserKey(agentID), store.FieldAgencyBalance, -amount),
		store.Increment(target, store.FieldCoins, amount),
		store.Increment(target, store.FieldRechargePoints, amount),
	}
	return s.run(ctx, "agency_transfer", agentID, agencyOf, amount, models.Delta{AgencyBalance: -amount}, ops)
}

// Purchase buys item with coins: coins fall and wealth rises by its price, and the item
// joins the user's owned set.
func (s *ExchangeService) Purchase(ctx context.Context, userID string, item models.StoreItem) (*models.UserBalance, error) {
	if item.Price <= 0 {
		return nil, apperrors.NewWithDebug(apperrors.ErrInvalidRequest, "item is not for sale",
			fmt.Sprintf("item %s has price %d", item.ID, item.Price))
	}

	key := store.UserKey(userID)
	ops := []store.Op{
		store.GuardedIncrement(key, store.FieldCoins, -item.Price),
		store.Increment(key, store.FieldWealth, item.Price),
		store.Union(store.UserItemsKey(userID), item.ID),
	}
	ev := PendingEvent{
		Topic: events.TopicPurchases,
		Key:   userID,
		Value: events.NewEnvelope("item_purchased", "", map[string]interface{}{"user_id": userID, "item": item}),
	}
	return s.run(ctx, "purchase", userID, coinsOf, item.Price, models.Delta{Coins: -item.Price, Wealth: item.Price}, ops, ev)
}

// BuyVIP charges the package cost and sets the VIP tier and frame in the same batch.
func (s *ExchangeService) BuyVIP(ctx context.Context, userID string, pkg models.VIPPackage) (*models.UserBalance, error) {
	if pkg.Cost < 0 || pkg.Level < 1 {
		return nil, apperrors.New(apperrors.ErrInvalidRequest, "invalid vip package")
	}

	key := store.UserKey(userID)
	ops := []store.Op{
		store.GuardedIncrement(key, store.FieldCoins, -pkg.Cost),
		store.Increment(key, store.FieldWealth, pkg.Cost),
	}
	ops = append(ops, store.VIPOps(userID, pkg)...)
	ev := PendingEvent{
		Topic: events.TopicPurchases,
		Key:   userID,
		Value: events.NewEnvelope("vip_purchased", "", map[string]interface{}{"user_id": userID, "vip": pkg}),
	}
	return s.run(ctx, "vip", userID, coinsOf, pkg.Cost, models.Delta{Coins: -pkg.Cost, Wealth: pkg.Cost}, ops, ev)
}

// run holds the debit in the ledger, then commits the batch synchronously. The outbox
// settles the hold and refreshes every loaded user the batch touched.
func (s *ExchangeService) run(ctx context.Context, kind, userID string, have func(models.UserBalance) int64, required int64, d models.Delta, ops []store.Op, evs ...PendingEvent) (*models.UserBalance, error) {
	batchID := models.GenerateBatchID()
	if _, err := s.ledger.TryDebitField(userID, batchID, have, required, d); err != nil {
		return nil, err
	}

	entry := &OutboxEntry{
		Batch:    store.Batch{ID: batchID, Ops: ops},
		SenderID: userID,
		Events:   evs,
	}
	if err := s.outbox.Commit(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Str("user_id", userID).Int64("amount", required).Msg("Exchange failed")
		return nil, err
	}

	s.logger.Info().Str("kind", kind).Str("user_id", userID).Int64("amount", required).Msg("Exchange committed")
	b, _ := s.ledger.Snapshot(userID)
	return &b, nil
}

func coinsOf(b models.UserBalance) int64    { return b.Coins }
func diamondsOf(b models.UserBalance) int64 { return b.Diamonds }
func agencyOf(b models.UserBalance) int64   { return b.AgencyBalance }
