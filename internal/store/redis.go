package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/config"
	"livetalk-economy/internal/models"
)

type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisStore(cfg config.RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "redis-store").Logger(),
	}, nil
}

// Client returns the underlying Redis client for advanced operations
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetUser(ctx context.Context, userID string) (*models.UserBalance, error) {
	data, err := s.client.HGetAll(ctx, UserKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	user := parseUser(userID, data)
	user.UpdatedAt = time.Now()
	return &user, nil
}

func (s *RedisStore) PutUser(ctx context.Context, user *models.UserBalance) error {
	key := UserKey(user.UserID)
	fields := userFields(user)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put user %s: %w", user.UserID, err)
	}

	s.publishSnapshots(ctx, "", []string{user.UserID})
	return nil
}

// Subscribe returns once the pub/sub subscription is confirmed. Snapshots are delivered
// from a background goroutine until ctx is done.
func (s *RedisStore) Subscribe(ctx context.Context, userID string, onChange func(models.UserBalance)) error {
	pubsub := s.client.Subscribe(ctx, UserUpdatesChannel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to user %s: %w", userID, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var snap models.UserBalance
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					s.logger.Warn().Err(err).Str("user_id", userID).Msg("Dropping malformed snapshot")
					continue
				}
				onChange(snap)
			}
		}
	}()

	return nil
}

var commitBatchScript = redis.NewScript(`
	local commitKey = KEYS[1]
	local ops = cjson.decode(ARGV[1])
	local ttl = tonumber(ARGV[2])
	local idempotent = ARGV[3] == "1"

	if idempotent and redis.call("EXISTS", commitKey) == 1 then
		return "duplicate"
	end

	local running = {}
	for _, op in ipairs(ops) do
		if op.kind == "increment" then
			local key = KEYS[op.k]
			local slot = key .. "|" .. op.field
			local cur = running[slot]
			if cur == nil then
				cur = tonumber(redis.call("HGET", key, op.field) or "0")
				if cur == nil then
					return redis.error_reply("NOTINT " .. key .. "." .. op.field)
				end
			end
			cur = cur + tonumber(op.delta)
			running[slot] = cur
			if op.guard and cur < 0 then
				return redis.error_reply("INSUFFICIENT " .. key .. "." .. op.field)
			end
		end
	end

	for _, op in ipairs(ops) do
		local key = KEYS[op.k]
		if op.kind == "increment" then
			redis.call("HINCRBY", key, op.field, op.delta)
		elseif op.kind == "set" then
			redis.call("HSET", key, op.field, op.value)
		elseif op.kind == "append" then
			redis.call("RPUSH", key, op.value)
			if op.cap and op.cap > 0 then
				redis.call("LTRIM", key, -op.cap, -1)
			end
		elseif op.kind == "union" then
			redis.call("SADD", key, op.value)
		end
	end

	if idempotent then
		redis.call("SET", commitKey, "1", "EX", ttl)
	end

	return "applied"
`)

type scriptOp struct {
	K     int    `json:"k"`
	Kind  OpKind `json:"kind"`
	Field string `json:"field,omitempty"`
	Delta string `json:"delta,omitempty"`
	Value string `json:"value,omitempty"`
	Cap   int64  `json:"cap,omitempty"`
	Guard bool   `json:"guard,omitempty"`
}

func (s *RedisStore) CommitBatch(ctx context.Context, batch Batch) (CommitStatus, error) {
	keys := []string{fmt.Sprintf(KeyCommit, batch.ID)}
	index := make(map[string]int)
	ops := make([]scriptOp, 0, len(batch.Ops))

	for _, op := range batch.Ops {
		k, ok := index[op.Key]
		if !ok {
			keys = append(keys, op.Key)
			k = len(keys)
			index[op.Key] = k
		}
		so := scriptOp{K: k, Kind: op.Kind, Field: op.Field, Value: op.Value, Cap: op.Cap, Guard: op.Guard}
		if op.Kind == OpIncrement {
			so.Delta = strconv.FormatInt(op.Delta, 10)
		}
		ops = append(ops, so)
	}

	payload, err := json.Marshal(ops)
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch %s: %w", batch.ID, err)
	}

	idempotent := "0"
	if batch.ID != "" {
		idempotent = "1"
	}

	res, err := commitBatchScript.Run(ctx, s.client, keys, payload, int64(TTLCommit.Seconds()), idempotent).Text()
	if err != nil {
		if strings.Contains(err.Error(), "INSUFFICIENT") {
			return "", apperrors.NewWithDebug(apperrors.ErrInsufficientFunds, "insufficient funds", err.Error())
		}
		return "", fmt.Errorf("failed to commit batch %s: %w", batch.ID, err)
	}

	if res == "duplicate" {
		return CommitDuplicate, nil
	}

	s.publishSnapshots(ctx, batch.ID, batch.TouchedUsers())
	return CommitApplied, nil
}

var claimBagScript = redis.NewScript(`
	local bagKey = KEYS[1]
	local claimantsKey = KEYS[2]
	local userKey = KEYS[3]
	local claimant = ARGV[1]
	local share = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	if redis.call("EXISTS", bagKey) == 0 then
		return {"not_found", 0, 0}
	end

	local remaining = tonumber(redis.call("HGET", bagKey, "remaining_amount") or "0")
	local capacity = tonumber(redis.call("HGET", bagKey, "capacity") or "0")
	local expires = tonumber(redis.call("HGET", bagKey, "expires_at") or "0")

	if redis.call("SISMEMBER", claimantsKey, claimant) == 1 then
		return {"already_claimed", 0, remaining}
	end
	if redis.call("SCARD", claimantsKey) >= capacity then
		return {"full", 0, remaining}
	end
	if now >= expires then
		return {"expired", 0, remaining}
	end
	if remaining <= 0 or share <= 0 or remaining < share then
		return {"full", 0, remaining}
	end

	redis.call("SADD", claimantsKey, claimant)
	remaining = redis.call("HINCRBY", bagKey, "remaining_amount", -share)
	redis.call("HINCRBY", userKey, "coins", share)

	return {"ok", share, remaining}
`)

func (s *RedisStore) AtomicClaim(ctx context.Context, bagID, claimantID string, share int64, now time.Time) (*models.ClaimResult, error) {
	keys := []string{BagKey(bagID), BagClaimantsKey(bagID), UserKey(claimantID)}

	raw, err := claimBagScript.Run(ctx, s.client, keys, claimantID, share, now.UnixMilli()).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim bag %s: %w", bagID, err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("unexpected claim reply for bag %s: %v", bagID, raw)
	}

	status, _ := raw[0].(string)
	result := &models.ClaimResult{Status: models.ClaimStatus(status)}
	result.Share, _ = raw[1].(int64)
	result.Remaining, _ = raw[2].(int64)

	if result.Status == models.ClaimOK {
		s.publishSnapshots(ctx, "", []string{claimantID})
	}

	return result, nil
}

func (s *RedisStore) GetBag(ctx context.Context, bagID string) (*models.LuckyBag, error) {
	pipe := s.client.Pipeline()
	fields := pipe.HGetAll(ctx, BagKey(bagID))
	claimants := pipe.SMembers(ctx, BagClaimantsKey(bagID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get bag %s: %w", bagID, err)
	}

	data := fields.Val()
	if len(data) == 0 {
		return nil, apperrors.BagNotFound
	}

	bag := parseBag(bagID, data)
	bag.ClaimedBy = append(bag.ClaimedBy, claimants.Val()...)
	return bag, nil
}

func (s *RedisStore) RoomBags(ctx context.Context, roomID string) ([]*models.LuckyBag, error) {
	bagIDs, err := s.client.SMembers(ctx, RoomBagsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room bags: %w", err)
	}

	if len(bagIDs) == 0 {
		return []*models.LuckyBag{}, nil
	}

	pipe := s.client.Pipeline()
	fieldCmds := make([]*redis.MapStringStringCmd, len(bagIDs))
	claimantCmds := make([]*redis.StringSliceCmd, len(bagIDs))

	for i, bagID := range bagIDs {
		fieldCmds[i] = pipe.HGetAll(ctx, BagKey(bagID))
		claimantCmds[i] = pipe.SMembers(ctx, BagClaimantsKey(bagID))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	var bags []*models.LuckyBag
	var stale []interface{}
	for i, bagID := range bagIDs {
		data := fieldCmds[i].Val()
		if len(data) == 0 {
			stale = append(stale, bagID)
			continue
		}
		bag := parseBag(bagID, data)
		bag.ClaimedBy = append(bag.ClaimedBy, claimantCmds[i].Val()...)
		bags = append(bags, bag)
	}

	if len(stale) > 0 {
		s.client.SRem(ctx, RoomBagsKey(roomID), stale...)
	}

	return bags, nil
}

func (s *RedisStore) Contributors(ctx context.Context, roomID string, limit int) ([]models.Contributor, error) {
	raw, err := s.client.HGetAll(ctx, RoomContributorsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get contributors: %w", err)
	}
	return rankContributors(raw, limit), nil
}

func (s *RedisStore) RoomCharm(ctx context.Context, roomID string) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, RoomCharmKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room charm: %w", err)
	}
	return parseIntHash(raw), nil
}

func (s *RedisStore) GetRoomSeats(ctx context.Context, roomID string) (*models.RoomSeats, error) {
	raw, err := s.client.HGetAll(ctx, RoomSeatsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room seats: %w", err)
	}
	return decodeSeats(roomID, raw)
}

func (s *RedisStore) OwnedItems(ctx context.Context, userID string) ([]string, error) {
	items, err := s.client.SMembers(ctx, UserItemsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get owned items of %s: %w", userID, err)
	}
	return items, nil
}

func (s *RedisStore) List(ctx context.Context, key string, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := s.client.LRange(ctx, key, -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", key, err)
	}
	return items, nil
}

func (s *RedisStore) CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, userID, action)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count == 1 {
		s.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

// DeleteKeys removes test or maintenance keys.
func (s *RedisStore) DeleteKeys(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// publishSnapshots pushes the current state of each user. batchID names the batch the
// snapshots were read after, if any.
func (s *RedisStore) publishSnapshots(ctx context.Context, batchID string, userIDs []string) {
	for _, id := range userIDs {
		user, err := s.GetUser(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", id).Msg("Failed to load snapshot for publish")
			continue
		}
		user.AppliedBatch = batchID
		data, err := json.Marshal(user)
		if err != nil {
			continue
		}
		if err := s.client.Publish(ctx, UserUpdatesChannel(id), data).Err(); err != nil {
			s.logger.Warn().Err(err).Str("user_id", id).Msg("Failed to publish snapshot")
		}
	}
}
