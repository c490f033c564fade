package services

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/models"
	"livetalk-economy/internal/store"
)

// OptimisticLedger keeps two tiers of balance state per user: the last snapshot pushed by
// the store (authoritative) and a local mirror. Every accepted local action is held under
// the id of the batch that will settle it, and the mirror is always the authoritative
// snapshot plus the holds still outstanding. A hold is dropped once its batch is ruled on.
type OptimisticLedger struct {
	mu            sync.RWMutex
	authoritative map[string]models.UserBalance
	local         map[string]models.UserBalance
	holds         map[string]map[string]models.Delta // user -> batch -> delta
	holders       map[string]map[string]bool         // batch -> users
	listeners     map[string]map[int]func(models.UserBalance)
	nextID        int
	now           func() time.Time
}

func NewOptimisticLedger() *OptimisticLedger {
	return &OptimisticLedger{
		authoritative: make(map[string]models.UserBalance),
		local:         make(map[string]models.UserBalance),
		holds:         make(map[string]map[string]models.Delta),
		holders:       make(map[string]map[string]bool),
		listeners:     make(map[string]map[int]func(models.UserBalance)),
		now:           time.Now,
	}
}

func (l *OptimisticLedger) Known(userID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.local[userID]
	return ok
}

// Snapshot returns the local mirror of userID.
func (l *OptimisticLedger) Snapshot(userID string) (models.UserBalance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.local[userID]
	return b, ok
}

// Authoritative returns the last store snapshot of userID.
func (l *OptimisticLedger) Authoritative(userID string) (models.UserBalance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.authoritative[userID]
	return b, ok
}

// Outstanding returns the sum of the holds of userID not yet ruled on by the store.
func (l *OptimisticLedger) Outstanding(userID string) (models.Delta, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum models.Delta
	for _, d := range l.holds[userID] {
		sum = sum.Add(d)
	}
	return sum, len(l.holds[userID])
}

// Replace installs a store snapshot and rebuilds the mirror on top of the outstanding
// holds. A snapshot that names the batch it was published for releases that hold. A
// snapshot read before the installed one is not installed.
func (l *OptimisticLedger) Replace(snap models.UserBalance) {
	l.mu.Lock()
	if snap.AppliedBatch != "" {
		l.releaseLocked(snap.AppliedBatch, snap.UserID)
	}
	l.installLocked(snap)
	b := l.rebuildLocked(snap.UserID)
	fns := l.listenersLocked(snap.UserID)
	l.mu.Unlock()

	for _, fn := range fns {
		fn(b)
	}
}

// ApplyDelta holds d for userID under batchID without a funds check. Callers check funds
// first. Users never loaded keep only the hold, which applies once they are loaded.
func (l *OptimisticLedger) ApplyDelta(userID, batchID string, d models.Delta) models.UserBalance {
	l.mu.Lock()
	l.holdLocked(userID, batchID, d)
	b, ok := l.local[userID]
	if !ok {
		l.mu.Unlock()
		return models.UserBalance{UserID: userID}
	}
	b = b.Apply(d)
	b.UpdatedAt = l.now()
	l.local[userID] = b
	fns := l.listenersLocked(userID)
	l.mu.Unlock()

	for _, fn := range fns {
		fn(b)
	}
	return b
}

// TryDebit holds d for userID under batchID only if the mirror holds at least required
// coins. The check and the hold happen under one lock, so concurrent debits cannot overdraw.
func (l *OptimisticLedger) TryDebit(userID, batchID string, required int64, d models.Delta) (models.UserBalance, error) {
	return l.TryDebitField(userID, batchID, func(b models.UserBalance) int64 { return b.Coins }, required, d)
}

// TryDebitField is TryDebit for a non-coin currency.
func (l *OptimisticLedger) TryDebitField(userID, batchID string, have func(models.UserBalance) int64, required int64, d models.Delta) (models.UserBalance, error) {
	l.mu.Lock()
	b, ok := l.local[userID]
	if !ok || have(b) < required {
		l.mu.Unlock()
		return b, apperrors.InsufficientFunds
	}
	l.holdLocked(userID, batchID, d)
	b = b.Apply(d)
	b.UpdatedAt = l.now()
	l.local[userID] = b
	fns := l.listenersLocked(userID)
	l.mu.Unlock()

	for _, fn := range fns {
		fn(b)
	}
	return b, nil
}

// Resync reloads userID from the store and rebuilds its mirror.
func (l *OptimisticLedger) Resync(ctx context.Context, s store.BalanceStore, userID string) error {
	snap, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	l.Replace(*snap)
	return nil
}

// Settle is called once the store has ruled on batchID, whether it applied, was a
// duplicate or was given up on. Fresh snapshots of the loaded users among the holders and
// touched are read first, then the holds are dropped and the snapshots installed under one
// lock.
func (l *OptimisticLedger) Settle(ctx context.Context, s store.BalanceStore, batchID string, touched ...string) error {
	l.mu.RLock()
	users := make([]string, 0, len(l.holders[batchID])+len(touched))
	seen := make(map[string]bool)
	for _, id := range append(lo.Keys(l.holders[batchID]), touched...) {
		if _, known := l.local[id]; known && !seen[id] {
			seen[id] = true
			users = append(users, id)
		}
	}
	l.mu.RUnlock()

	var firstErr error
	snaps := make([]models.UserBalance, 0, len(users))
	for _, id := range users {
		snap, err := s.GetUser(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		snaps = append(snaps, *snap)
	}

	l.mu.Lock()
	for id := range l.holders[batchID] {
		l.releaseLocked(batchID, id)
	}
	for _, snap := range snaps {
		l.installLocked(snap)
	}
	type change struct {
		b   models.UserBalance
		fns []func(models.UserBalance)
	}
	changes := make([]change, 0, len(users))
	for _, id := range users {
		changes = append(changes, change{b: l.rebuildLocked(id), fns: l.listenersLocked(id)})
	}
	l.mu.Unlock()

	for _, c := range changes {
		for _, fn := range c.fns {
			fn(c.b)
		}
	}
	return firstErr
}

// Listen registers fn for every mirror change of userID until the returned func is called.
func (l *OptimisticLedger) Listen(userID string, fn func(models.UserBalance)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listeners[userID] == nil {
		l.listeners[userID] = make(map[int]func(models.UserBalance))
	}
	id := l.nextID
	l.nextID++
	l.listeners[userID][id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.listeners[userID], id)
		if len(l.listeners[userID]) == 0 {
			delete(l.listeners, userID)
		}
	}
}

func (l *OptimisticLedger) holdLocked(userID, batchID string, d models.Delta) {
	if l.holds[userID] == nil {
		l.holds[userID] = make(map[string]models.Delta)
	}
	l.holds[userID][batchID] = l.holds[userID][batchID].Add(d)
	if l.holders[batchID] == nil {
		l.holders[batchID] = make(map[string]bool)
	}
	l.holders[batchID][userID] = true
}

func (l *OptimisticLedger) releaseLocked(batchID, userID string) {
	delete(l.holds[userID], batchID)
	if len(l.holds[userID]) == 0 {
		delete(l.holds, userID)
	}
	delete(l.holders[batchID], userID)
	if len(l.holders[batchID]) == 0 {
		delete(l.holders, batchID)
	}
}

// installLocked keeps the authoritative tier monotonic in read time. Snapshots without a
// read time are always installed.
func (l *OptimisticLedger) installLocked(snap models.UserBalance) {
	snap.AppliedBatch = ""
	if cur, ok := l.authoritative[snap.UserID]; ok && !snap.UpdatedAt.IsZero() && snap.UpdatedAt.Before(cur.UpdatedAt) {
		return
	}
	l.authoritative[snap.UserID] = snap
}

func (l *OptimisticLedger) rebuildLocked(userID string) models.UserBalance {
	b := l.authoritative[userID]
	for _, d := range l.holds[userID] {
		b = b.Apply(d)
	}
	l.local[userID] = b
	return b
}

func (l *OptimisticLedger) listenersLocked(userID string) []func(models.UserBalance) {
	fns := make([]func(models.UserBalance), 0, len(l.listeners[userID]))
	for _, fn := range l.listeners[userID] {
		fns = append(fns, fn)
	}
	return fns
}
