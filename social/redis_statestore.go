package social

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "auth:social:state:"

// RedisStateStore shares outstanding redirects between client instances.
// Expiry is delegated to Redis key TTLs and Take uses GETDEL so a state can
// only be redeemed once across the fleet.
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStateStore creates a store using client. An empty prefix selects the default.
func NewRedisStateStore(client redis.UniversalClient, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

// ConnectRedis builds a client from either a redis:// URL or a bare host:port.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err == nil {
		return redis.NewClient(opt), nil
	}
	if redisURL == "" {
		return nil, errors.New("[social.ConnectRedis] address is required")
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func (s *RedisStateStore) Put(ctx context.Context, state string, flow FlowState, ttl time.Duration) error {
	if state == "" {
		return errors.New("[RedisStateStore.Put] state cannot be empty")
	}
	if flow.ExpiresAt.IsZero() {
		flow.ExpiresAt = flow.CreatedAt.Add(ttl)
	}
	raw, err := json.Marshal(flow)
	if err != nil {
		return errors.Wrap(err, "[RedisStateStore.Put] failed to encode flow state")
	}
	if err := s.client.Set(ctx, s.prefix+state, raw, ttl).Err(); err != nil {
		return errors.Wrap(err, "[RedisStateStore.Put] failed to store flow state")
	}
	return nil
}

func (s *RedisStateStore) Take(ctx context.Context, state string) (FlowState, bool, error) {
	if state == "" {
		return FlowState{}, false, nil
	}
	raw, err := s.client.GetDel(ctx, s.prefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return FlowState{}, false, nil
	}
	if err != nil {
		return FlowState{}, false, errors.Wrap(err, "[RedisStateStore.Take] failed to read flow state")
	}
	var flow FlowState
	if err := json.Unmarshal(raw, &flow); err != nil {
		return FlowState{}, false, errors.Wrap(err, "[RedisStateStore.Take] failed to decode flow state")
	}
	return flow, true, nil
}
