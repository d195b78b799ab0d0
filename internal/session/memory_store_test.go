package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	t.Cleanup(m.Stop)
	return m
}

func TestMemoryStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s := New("visitor_1", 1000)
	s.Behaviors["rageClicks"] = 2
	s.RiskScore = 40

	require.NoError(t, store.Put(ctx, s, time.Minute))

	got, err := store.Get(ctx, "visitor_1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.RiskScore)
	assert.Equal(t, 2.0, got.Behaviors["rageClicks"])
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, New("short_lived", 1), 10*time.Millisecond))

	_, err := store.Get(ctx, "short_lived")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = store.Get(ctx, "short_lived")
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired session must read as not found")
}

func TestMemoryStore_PutRefreshesTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, New("v", 1), 15*time.Millisecond))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Put(ctx, New("v", 1), 100*time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	// Past the original deadline but within the refreshed one.
	_, err := store.Get(ctx, "v")
	assert.NoError(t, err)
}

func TestMemoryStore_ListSkipsExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, New("live", 1), time.Minute))
	require.NoError(t, store.Put(ctx, New("dead", 1), 1*time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "live", sessions[0].SessionID)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s := New("v", 1)
	s.Behaviors["deadClicks"] = 1
	require.NoError(t, store.Put(ctx, s, time.Minute))

	// Mutating the original after Put must not change stored state.
	s.Behaviors["deadClicks"] = 50

	got, err := store.Get(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Behaviors["deadClicks"])

	// Mutating the returned copy must not change stored state either.
	got.Behaviors["deadClicks"] = 99
	again, err := store.Get(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Behaviors["deadClicks"])
}

func TestMemoryStore_RemoveExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, New("a", 1), 1*time.Millisecond))
	require.NoError(t, store.Put(ctx, New("b", 1), time.Minute))
	time.Sleep(5 * time.Millisecond)

	store.removeExpired()
	assert.Equal(t, 1, store.Len())
}
