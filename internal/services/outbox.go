package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/config"
	"livetalk-economy/internal/events"
	"livetalk-economy/internal/store"
)

const defaultSettleTimeout = 5 * time.Second

// PendingEvent is published once its batch has been applied. Topic is a logical name
// resolved through the Kafka topic map.
type PendingEvent struct {
	Topic string
	Key   string
	Value interface{}
}

// OutboxEntry is one pending durable commit. Batch.ID is stable across retries.
type OutboxEntry struct {
	Batch      store.Batch
	RoomID     string
	SenderID   string
	Events     []PendingEvent
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
}

// Outbox holds settlements between acceptance and durable commit. Entries are retried
// with exponential backoff; the batch id makes a retry after an ambiguous failure safe.
type Outbox struct {
	store     store.BalanceStore
	ledger    *OptimisticLedger
	publisher events.Publisher
	cfg       config.OutboxConfig
	topics    config.KafkaConfig
	logger    zerolog.Logger

	mu        sync.Mutex
	queue     []*OutboxEntry
	dead      []*OutboxEntry
	inflight  int
	committed int
	notify    chan struct{}
}

func NewOutbox(s store.BalanceStore, ledger *OptimisticLedger, publisher events.Publisher, cfg config.OutboxConfig, topics config.KafkaConfig, logger zerolog.Logger) *Outbox {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Outbox{
		store:     s,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		topics:    topics,
		logger:    logger.With().Str("component", "outbox").Logger(),
		notify:    make(chan struct{}, 1),
	}
}

func (o *Outbox) Enqueue(entry *OutboxEntry) {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}

	o.mu.Lock()
	o.queue = append(o.queue, entry)
	o.mu.Unlock()

	o.logger.Debug().
		Str("batch_id", entry.Batch.ID).
		Str("room_id", entry.RoomID).
		Str("sender_id", entry.SenderID).
		Int("ops", len(entry.Batch.Ops)).
		Msg("Settlement enqueued")

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Process commits queued entries until the queue is empty and returns how many were
// committed. It stops early, leaving entries queued, once ctx is done.
func (o *Outbox) Process(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		entry := o.pop()
		if entry == nil {
			return n
		}
		if o.deliver(ctx, entry) {
			n++
		}
	}
	return n
}

// Run starts the configured number of workers and blocks until ctx is done.
func (o *Outbox) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				o.Process(ctx)
				select {
				case <-ctx.Done():
					return
				case <-o.notify:
				}
			}
		}()
	}
	wg.Wait()
}

// Drain processes until nothing is queued or in flight, or ctx is done.
func (o *Outbox) Drain(ctx context.Context) error {
	for {
		o.Process(ctx)
		if o.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Commit delivers entry synchronously, bypassing the queue. Used where the caller must
// know the outcome before answering.
func (o *Outbox) Commit(ctx context.Context, entry *OutboxEntry) error {
	err := o.commit(ctx, entry)
	o.settle(ctx, entry)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.Wrap(err, apperrors.ErrCommitFailure, "commit failed")
	}
	return nil
}

// Pending counts queued and in-flight entries.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue) + o.inflight
}

func (o *Outbox) Committed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.committed
}

// DeadLetters returns copies of the entries that could not be committed.
func (o *Outbox) DeadLetters() []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OutboxEntry, 0, len(o.dead))
	for _, e := range o.dead {
		out = append(out, *e)
	}
	return out
}

func (o *Outbox) pop() *OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil
	}
	entry := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	o.inflight++
	return entry
}

func (o *Outbox) deliver(ctx context.Context, entry *OutboxEntry) bool {
	err := o.commit(ctx, entry)

	o.mu.Lock()
	o.inflight--
	if err == nil {
		o.mu.Unlock()
		o.settle(ctx, entry)
		return true
	}
	if ctx.Err() != nil {
		// Interrupted by shutdown, not a store verdict: keep it for Drain.
		o.queue = append([]*OutboxEntry{entry}, o.queue...)
		o.mu.Unlock()
		return false
	}
	entry.LastError = err.Error()
	o.dead = append(o.dead, entry)
	o.mu.Unlock()

	o.logger.Error().
		Err(err).
		Str("batch_id", entry.Batch.ID).
		Str("room_id", entry.RoomID).
		Str("sender_id", entry.SenderID).
		Int("attempts", entry.Attempts).
		Msg("Settlement dead-lettered, resyncing mirrors")

	o.settle(ctx, entry)
	return false
}

func (o *Outbox) commit(ctx context.Context, entry *OutboxEntry) error {
	policy := backoff.NewExponentialBackOff()
	if o.cfg.InitialInterval > 0 {
		policy.InitialInterval = o.cfg.InitialInterval
	}
	if o.cfg.MaxInterval > 0 {
		policy.MaxInterval = o.cfg.MaxInterval
	}
	policy.MaxElapsedTime = 0

	var status store.CommitStatus
	operation := func() error {
		entry.Attempts++

		cctx, cancel := ctx, context.CancelFunc(func() {})
		if o.cfg.CommitTimeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, o.cfg.CommitTimeout)
		}
		defer cancel()

		st, err := o.store.CommitBatch(cctx, entry.Batch)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrInsufficientFunds) {
				return backoff.Permanent(err)
			}
			return err
		}
		status = st
		return nil
	}

	notify := func(err error, wait time.Duration) {
		o.logger.Warn().
			Err(err).
			Str("batch_id", entry.Batch.ID).
			Int("attempt", entry.Attempts).
			Dur("retry_in", wait).
			Msg("Commit failed, retrying")
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, o.cfg.MaxAttempts-1), ctx)
	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		return err
	}

	o.mu.Lock()
	o.committed++
	o.mu.Unlock()

	if status == store.CommitDuplicate {
		o.logger.Info().Str("batch_id", entry.Batch.ID).Msg("Batch already committed, skipping events")
		return nil
	}

	o.publish(entry)
	return nil
}

func (o *Outbox) publish(entry *OutboxEntry) {
	if o.publisher == nil {
		return
	}
	for _, ev := range entry.Events {
		if err := o.publisher.Publish(o.topics.Topic(ev.Topic), ev.Key, ev.Value); err != nil {
			o.logger.Warn().Err(err).Str("batch_id", entry.Batch.ID).Str("topic", ev.Topic).Msg("Failed to publish event")
		}
	}
}

// settle releases the ledger holds of a batch the store has ruled on and refreshes the
// mirrors it touched. It runs even when ctx is already cancelled.
func (o *Outbox) settle(ctx context.Context, entry *OutboxEntry) {
	if o.ledger == nil {
		return
	}
	timeout := o.cfg.CommitTimeout
	if timeout <= 0 {
		timeout = defaultSettleTimeout
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := o.ledger.Settle(sctx, o.store, entry.Batch.ID, entry.Batch.TouchedUsers()...); err != nil {
		o.logger.Error().Err(err).Str("batch_id", entry.Batch.ID).Msg("Failed to refresh mirrors after settlement")
	}
}
