package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mclima/stock-intel-service/internal/domain"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(rdb), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "stock:price:AAPL", time.Minute, []byte(`{"price":150.25}`)))

	v, err := store.Get(ctx, "stock:price:AAPL")
	require.NoError(t, err)
	require.Equal(t, `{"price":150.25}`, string(v))
}

func TestRedisStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRedisStore_StaleSurvivesExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "stock:price:AAPL", 2*time.Second, []byte(`{"price":100}`)))
	mr.FastForward(3 * time.Second)

	_, err := store.Get(ctx, "stock:price:AAPL")
	require.True(t, errors.Is(err, domain.ErrNotFound))

	stale, err := store.GetStale(ctx, "stock:price:AAPL")
	require.NoError(t, err)
	require.Equal(t, `{"price":100}`, string(stale))
}

func TestRedisStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "stock:price:AAPL", time.Minute, []byte("v")))
	require.NoError(t, store.Delete(ctx, "stock:price:AAPL"))

	_, err := store.Get(ctx, "stock:price:AAPL")
	require.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = store.GetStale(ctx, "stock:price:AAPL")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}
