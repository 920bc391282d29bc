package rounds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// DefaultTTL applies when no round ttl is configured
const DefaultTTL = 24 * time.Hour

const (
	keyRound  = "rgs:round:%s"
	keyActive = "rgs:round:active:%s:%s"
	keyIndex  = "rgs:rounds:updated"
)

// Redis stores rounds as JSON documents. A per player and table marker
// enforces one open round; a sorted set indexes rounds by last update.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a round store. ttl bounds how long an abandoned round
// survives in Redis.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Dial connects to Redis and verifies the connection
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// KEYS: round, active marker, index. ARGV: id, payload, ttl ms, score.
var createScript = redis.NewScript(`
	local existing = redis.call("GET", KEYS[2])
	if existing then
		return existing
	end
	redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[3])
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
	return ""
`)

// KEYS: round, active marker, index. ARGV: id.
var deleteScript = redis.NewScript(`
	redis.call("DEL", KEYS[1])
	if redis.call("GET", KEYS[2]) == ARGV[1] then
		redis.call("DEL", KEYS[2])
	end
	redis.call("ZREM", KEYS[3], ARGV[1])
	return "OK"
`)

// KEYS: round, active marker, index. ARGV: id, payload, ttl ms, score.
var updateScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return 0
	end
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	redis.call("PEXPIRE", KEYS[2], ARGV[3])
	redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
	return 1
`)

func (s *Redis) keys(r *Record) []string {
	return []string{
		fmt.Sprintf(keyRound, r.ID),
		fmt.Sprintf(keyActive, r.UserID, r.Table),
		keyIndex,
	}
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Create implements Store
func (s *Redis) Create(ctx context.Context, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}
	existing, err := createScript.Run(ctx, s.client, s.keys(r),
		r.ID, data, s.ttl.Milliseconds(), score(r.UpdatedAt)).Text()
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	if existing != "" {
		return fmt.Errorf("%w: round %s open at %s", domain.ErrRoundInProgress, existing, r.Table)
	}
	return nil
}

// Get implements Store
func (s *Redis) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(keyRound, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, domain.IntegrityError("round "+id, err)
	}
	return &r, nil
}

// Update implements Store
func (s *Redis) Update(ctx context.Context, r *Record) error {
	r.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}
	ok, err := updateScript.Run(ctx, s.client, s.keys(r),
		r.ID, data, s.ttl.Milliseconds(), score(r.UpdatedAt)).Int()
	if err != nil {
		return fmt.Errorf("failed to update round: %w", err)
	}
	if ok == 0 {
		return notFound(r.ID)
	}
	return nil
}

// Delete implements Store
func (s *Redis) Delete(ctx context.Context, r *Record) error {
	if err := deleteScript.Run(ctx, s.client, s.keys(r), r.ID).Err(); err != nil {
		return fmt.Errorf("failed to delete round: %w", err)
	}
	return nil
}

// Active implements Store
func (s *Redis) Active(ctx context.Context, userID, table string) (*Record, error) {
	id, err := s.client.Get(ctx, fmt.Sprintf(keyActive, userID, table)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(userID + "@" + table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}
	return s.Get(ctx, id)
}

// Stale implements Store, oldest first. Index entries whose round already
// expired are pruned.
func (s *Redis) Stale(ctx context.Context, before time.Time) ([]*Record, error) {
	ids, err := s.client.ZRangeByScore(ctx, keyIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + score(before),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stale rounds: %w", err)
	}
	var out []*Record
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			s.client.ZRem(ctx, keyIndex, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
