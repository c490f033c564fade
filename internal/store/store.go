// Package store holds the durable balance store contract and its Redis and
// in-memory implementations.
package store

import (
	"context"
	"time"

	"livetalk-economy/internal/models"
)

type OpKind string

const (
	OpIncrement OpKind = "increment"
	OpSet       OpKind = "set"
	OpAppend    OpKind = "append"
	OpUnion     OpKind = "union"
)

// Op is one mutation inside a Batch. Key names a document, Field one of its fields.
// Append pushes Value onto the list named by Key (trimmed to Cap when Cap > 0).
// Union adds Value to the set named by Key.
type Op struct {
	Kind  OpKind `json:"kind"`
	Key   string `json:"key"`
	Field string `json:"field,omitempty"`
	Delta int64  `json:"delta,omitempty"`
	Value string `json:"value,omitempty"`
	Cap   int64  `json:"cap,omitempty"`
	// Guard rejects the whole batch if this increment would leave the field below zero.
	Guard bool `json:"guard,omitempty"`
}

// Batch is committed all-or-nothing. ID is the idempotency key: committing an ID that
// was already committed is a successful no-op.
type Batch struct {
	ID  string `json:"id"`
	Ops []Op   `json:"ops"`
}

type CommitStatus string

const (
	CommitApplied   CommitStatus = "applied"
	CommitDuplicate CommitStatus = "duplicate"
)

// BalanceStore is the transactional key/value document store the economy runs on.
type BalanceStore interface {
	GetUser(ctx context.Context, userID string) (*models.UserBalance, error)
	PutUser(ctx context.Context, user *models.UserBalance) error
	Subscribe(ctx context.Context, userID string, onChange func(models.UserBalance)) error
	CommitBatch(ctx context.Context, batch Batch) (CommitStatus, error)
	AtomicClaim(ctx context.Context, bagID, claimantID string, share int64, now time.Time) (*models.ClaimResult, error)
	GetBag(ctx context.Context, bagID string) (*models.LuckyBag, error)
	RoomBags(ctx context.Context, roomID string) ([]*models.LuckyBag, error)
	Contributors(ctx context.Context, roomID string, limit int) ([]models.Contributor, error)
	RoomCharm(ctx context.Context, roomID string) (map[string]int64, error)
	GetRoomSeats(ctx context.Context, roomID string) (*models.RoomSeats, error)
	OwnedItems(ctx context.Context, userID string) ([]string, error)
	List(ctx context.Context, key string, limit int64) ([]string, error)
	CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error)
	Close() error
}

// Increment builds an increment op.
func Increment(key, field string, delta int64) Op {
	return Op{Kind: OpIncrement, Key: key, Field: field, Delta: delta}
}

// GuardedIncrement builds an increment op that may not drive the field negative.
func GuardedIncrement(key, field string, delta int64) Op {
	return Op{Kind: OpIncrement, Key: key, Field: field, Delta: delta, Guard: true}
}

// Set builds a set op.
func Set(key, field, value string) Op {
	return Op{Kind: OpSet, Key: key, Field: field, Value: value}
}

// Append builds an append op keeping only the newest limit entries.
func Append(key, value string, limit int64) Op {
	return Op{Kind: OpAppend, Key: key, Value: value, Cap: limit}
}

// Union builds a set-add op.
func Union(key, member string) Op {
	return Op{Kind: OpUnion, Key: key, Value: member}
}

// TouchedUsers returns the user ids whose balance documents the batch mutates.
func (b Batch) TouchedUsers() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, op := range b.Ops {
		if op.Kind != OpIncrement && op.Kind != OpSet {
			continue
		}
		id, ok := UserIDFromKey(op.Key)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
