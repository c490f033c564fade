package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/models"
)

// MemoryStore implements BalanceStore in process. It mirrors the Redis data layout
// (hashes, lists, sets) so both backends share the same batch semantics.
type MemoryStore struct {
	mu          sync.Mutex
	hashes      map[string]map[string]string
	lists       map[string][]string
	sets        map[string][]string
	commits     map[string]bool
	rates       map[string]rateWindow
	subscribers map[string]map[int]func(models.UserBalance)
	nextSubID   int
	now         func() time.Time

	// failNext > 0 fails that many upcoming commits with a transient error.
	failNext int
	commitN  int
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes:      make(map[string]map[string]string),
		lists:       make(map[string][]string),
		sets:        make(map[string][]string),
		commits:     make(map[string]bool),
		rates:       make(map[string]rateWindow),
		subscribers: make(map[string]map[int]func(models.UserBalance)),
		now:         time.Now,
	}
}

// FailNextCommits makes the next n commits fail before applying anything.
func (s *MemoryStore) FailNextCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// Commits returns how many batches were applied (duplicates and failures excluded).
func (s *MemoryStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitN
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*models.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(userID)
	return &u, nil
}

func (s *MemoryStore) PutUser(ctx context.Context, user *models.UserBalance) error {
	s.mu.Lock()
	s.hashes[UserKey(user.UserID)] = userFields(user)
	snap := s.userLocked(user.UserID)
	subs := s.subscribersLocked(user.UserID)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, userID string, onChange func(models.UserBalance)) error {
	s.mu.Lock()
	if s.subscribers[userID] == nil {
		s.subscribers[userID] = make(map[int]func(models.UserBalance))
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[userID][id] = onChange
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers[userID], id)
		s.mu.Unlock()
	}()
	return nil
}

func (s *MemoryStore) CommitBatch(ctx context.Context, batch Batch) (CommitStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		return "", fmt.Errorf("memory store: injected commit failure")
	}
	if batch.ID != "" && s.commits[batch.ID] {
		s.mu.Unlock()
		return CommitDuplicate, nil
	}

	running := make(map[string]int64)
	for _, op := range batch.Ops {
		if op.Kind != OpIncrement {
			continue
		}
		slot := op.Key + "\x00" + op.Field
		cur, seen := running[slot]
		if !seen {
			v, err := s.intFieldLocked(op.Key, op.Field)
			if err != nil {
				s.mu.Unlock()
				return "", err
			}
			cur = v
		}
		cur += op.Delta
		running[slot] = cur
		if op.Guard && cur < 0 {
			s.mu.Unlock()
			return "", apperrors.NewWithDebug(apperrors.ErrInsufficientFunds, "insufficient funds",
				fmt.Sprintf("%s.%s would become %d", op.Key, op.Field, cur))
		}
	}

	for _, op := range batch.Ops {
		switch op.Kind {
		case OpIncrement:
			v, _ := s.intFieldLocked(op.Key, op.Field)
			s.hashLocked(op.Key)[op.Field] = strconv.FormatInt(v+op.Delta, 10)
		case OpSet:
			s.hashLocked(op.Key)[op.Field] = op.Value
		case OpAppend:
			list := append(s.lists[op.Key], op.Value)
			if op.Cap > 0 && int64(len(list)) > op.Cap {
				list = list[int64(len(list))-op.Cap:]
			}
			s.lists[op.Key] = list
		case OpUnion:
			s.addMemberLocked(op.Key, op.Value)
		}
	}
	if batch.ID != "" {
		s.commits[batch.ID] = true
	}
	s.commitN++

	notify := make(map[string]models.UserBalance)
	subs := make(map[string][]func(models.UserBalance))
	for _, id := range batch.TouchedUsers() {
		snap := s.userLocked(id)
		snap.AppliedBatch = batch.ID
		notify[id] = snap
		subs[id] = s.subscribersLocked(id)
	}
	s.mu.Unlock()

	for id, fns := range subs {
		for _, fn := range fns {
			fn(notify[id])
		}
	}
	return CommitApplied, nil
}

func (s *MemoryStore) AtomicClaim(ctx context.Context, bagID, claimantID string, share int64, now time.Time) (*models.ClaimResult, error) {
	s.mu.Lock()
	bag, ok := s.bagLocked(bagID)
	if !ok {
		s.mu.Unlock()
		return &models.ClaimResult{Status: models.ClaimNotFound}, nil
	}

	result := &models.ClaimResult{Remaining: bag.RemainingAmount}
	switch {
	case bag.ClaimedByUser(claimantID):
		result.Status = models.ClaimAlreadyClaimed
	case int64(len(bag.ClaimedBy)) >= bag.Capacity:
		result.Status = models.ClaimFull
	case !now.Before(bag.ExpiresAt):
		result.Status = models.ClaimExpired
	case bag.RemainingAmount <= 0 || share <= 0 || bag.RemainingAmount < share:
		result.Status = models.ClaimFull
	}
	if result.Status != "" {
		s.mu.Unlock()
		return result, nil
	}

	s.addMemberLocked(BagClaimantsKey(bagID), claimantID)
	remaining := bag.RemainingAmount - share
	s.hashLocked(BagKey(bagID))[bagFieldRemaining] = strconv.FormatInt(remaining, 10)
	coins, _ := s.intFieldLocked(UserKey(claimantID), FieldCoins)
	s.hashLocked(UserKey(claimantID))[FieldCoins] = strconv.FormatInt(coins+share, 10)

	snap := s.userLocked(claimantID)
	subs := s.subscribersLocked(claimantID)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return &models.ClaimResult{Status: models.ClaimOK, Share: share, Remaining: remaining}, nil
}

func (s *MemoryStore) GetBag(ctx context.Context, bagID string) (*models.LuckyBag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bag, ok := s.bagLocked(bagID)
	if !ok {
		return nil, apperrors.BagNotFound
	}
	return bag, nil
}

func (s *MemoryStore) RoomBags(ctx context.Context, roomID string) ([]*models.LuckyBag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bags []*models.LuckyBag
	for _, id := range s.sets[RoomBagsKey(roomID)] {
		if bag, ok := s.bagLocked(id); ok {
			bags = append(bags, bag)
		}
	}
	return bags, nil
}

func (s *MemoryStore) Contributors(ctx context.Context, roomID string, limit int) ([]models.Contributor, error) {
	s.mu.Lock()
	raw := copyHash(s.hashes[RoomContributorsKey(roomID)])
	s.mu.Unlock()
	return rankContributors(raw, limit), nil
}

func (s *MemoryStore) RoomCharm(ctx context.Context, roomID string) (map[string]int64, error) {
	s.mu.Lock()
	raw := copyHash(s.hashes[RoomCharmKey(roomID)])
	s.mu.Unlock()
	return parseIntHash(raw), nil
}

func (s *MemoryStore) GetRoomSeats(ctx context.Context, roomID string) (*models.RoomSeats, error) {
	s.mu.Lock()
	raw := copyHash(s.hashes[RoomSeatsKey(roomID)])
	s.mu.Unlock()
	return decodeSeats(roomID, raw)
}

func (s *MemoryStore) OwnedItems(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.sets[UserItemsKey(userID)]...), nil
}

func (s *MemoryStore) List(ctx context.Context, key string, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if limit > 0 && int64(len(list)) > limit {
		list = list[int64(len(list))-limit:]
	}
	return append([]string(nil), list...), nil
}

func (s *MemoryStore) CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf(KeyRateLimit, userID, action)
	now := s.now()
	w := s.rates[key]
	if now.After(w.resetAt) {
		w = rateWindow{resetAt: now.Add(window)}
	}
	w.count++
	s.rates[key] = w
	return w.count <= limit, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) hashLocked(key string) map[string]string {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	return h
}

func (s *MemoryStore) intFieldLocked(key, field string) (int64, error) {
	raw, ok := s.hashes[key][field]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s.%s is not an integer", key, field)
	}
	return v, nil
}

func (s *MemoryStore) addMemberLocked(key, member string) {
	for _, m := range s.sets[key] {
		if m == member {
			return
		}
	}
	s.sets[key] = append(s.sets[key], member)
}

func (s *MemoryStore) userLocked(userID string) models.UserBalance {
	u := parseUser(userID, s.hashes[UserKey(userID)])
	u.UpdatedAt = s.now()
	return u
}

func (s *MemoryStore) subscribersLocked(userID string) []func(models.UserBalance) {
	fns := make([]func(models.UserBalance), 0, len(s.subscribers[userID]))
	for _, fn := range s.subscribers[userID] {
		fns = append(fns, fn)
	}
	return fns
}

func (s *MemoryStore) bagLocked(bagID string) (*models.LuckyBag, bool) {
	h, ok := s.hashes[BagKey(bagID)]
	if !ok {
		return nil, false
	}
	bag := parseBag(bagID, h)
	bag.ClaimedBy = append([]string{}, s.sets[BagClaimantsKey(bagID)]...)
	return bag, true
}

func copyHash(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func parseIntHash(raw map[string]string) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}

func rankContributors(raw map[string]string, limit int) []models.Contributor {
	amounts := parseIntHash(raw)
	out := make([]models.Contributor, 0, len(amounts))
	for id, amount := range amounts {
		out = append(out, models.Contributor{UserID: id, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount == out[j].Amount {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Amount > out[j].Amount
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func decodeSeats(roomID string, raw map[string]string) (*models.RoomSeats, error) {
	seats := &models.RoomSeats{RoomID: roomID, Speakers: []models.Speaker{}}
	if v, ok := raw["mic_count"]; ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			seats.MicCount = n
		}
	}
	if v, ok := raw["speakers"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &seats.Speakers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal room seats: %w", err)
		}
	}
	return seats, nil
}
