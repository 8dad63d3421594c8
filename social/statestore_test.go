package social_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-auth-client/social"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*social.RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return social.NewRedisStateStore(client, ""), mr
}

func TestInMemoryStateStore_TakeIsSingleUse(t *testing.T) {
	store := social.NewInMemoryStateStore(nil)
	ctx := context.Background()

	require.Error(t, store.Put(ctx, "", social.FlowState{}, time.Minute))
	require.NoError(t, store.Put(ctx, "s1", social.FlowState{Provider: "github", Nonce: "n"}, time.Minute))

	flow, ok, err := store.Take(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "github", flow.Provider)
	require.Equal(t, "n", flow.Nonce)

	_, ok, err = store.Take(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInMemoryStateStore_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := social.NewInMemoryStateStore(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "s1", social.FlowState{Provider: "github"}, time.Minute))
	now = now.Add(2 * time.Minute)

	_, ok, err := store.Take(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStateStore_PutTake(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.Put(ctx, "s1", social.FlowState{Provider: "google", CodeVerifier: "v", CreatedAt: created}, time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists("auth:social:state:s1"))
	require.Equal(t, time.Minute, mr.TTL("auth:social:state:s1"))

	flow, ok, err := store.Take(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", flow.CodeVerifier)
	require.True(t, flow.ExpiresAt.Equal(created.Add(time.Minute)))
	require.False(t, mr.Exists("auth:social:state:s1"))

	_, ok, err = store.Take(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStateStore_Expiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "s1", social.FlowState{Provider: "google"}, time.Minute))
	mr.FastForward(time.Minute + time.Second)

	_, ok, err := store.Take(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStateStore_BridgeRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	bridge, err := social.NewBridge([]social.ProviderConfig{plainProvider()}, social.WithStateStore(store))
	require.NoError(t, err)
	ctx := context.Background()

	redirect, err := bridge.Begin(ctx, "github")
	require.NoError(t, err)

	attempt, err := bridge.Complete(ctx, social.ProviderResponse{
		Provider: "github",
		Params:   url.Values{"code": {"abc"}, "state": {redirect.State}},
	})
	require.NoError(t, err)
	require.Equal(t, "abc", attempt.ProviderToken)
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := social.ConnectRedis("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()).Err())
	_ = client.Close()

	client, err = social.ConnectRedis(mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()).Err())
	_ = client.Close()

	_, err = social.ConnectRedis("")
	require.Error(t, err)
}
