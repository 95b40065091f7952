package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/chat-realtime/internal/domain"
)

type recorder struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (r *recorder) handler(channel string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
	r.payloads = append(r.payloads, payload)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func TestSetStatusPublishesOnce(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	_, err := store.Subscribe(StatusChannel, rec.handler)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.SetStatus(ctx, "u1", domain.StatusOnline))
	require.NoError(t, store.SetStatus(ctx, "u1", domain.StatusOnline))

	assert.Equal(t, 1, rec.count(), "repeated status must not publish twice")

	var event domain.UserStatusEvent
	require.NoError(t, json.Unmarshal(rec.payloads[0], &event))
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, domain.StatusOnline, event.Status)
	require.NotNil(t, event.LastSeen)
}

func TestSetStatusRefreshesLastSeenOnRepeat(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	ctx := context.Background()
	require.NoError(t, store.SetStatus(ctx, "u1", domain.StatusOnline))

	current = current.Add(time.Minute)
	require.NoError(t, store.SetStatus(ctx, "u1", domain.StatusOnline))

	record, err := store.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, current, record.LastSeen)
}

func TestSetStatusTransitionPublishesAgain(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	_, err := store.Subscribe(StatusChannel, rec.handler)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.SetStatus(ctx, "u1", domain.StatusOnline))
	require.NoError(t, store.SetStatus(ctx, "u1", domain.StatusAway))
	require.NoError(t, store.SetStatus(ctx, "u1", domain.StatusOnline))

	assert.Equal(t, 3, rec.count())
}

func TestGetStatusDefaultsOffline(t *testing.T) {
	store := NewMemoryStore()

	record, err := store.GetStatus(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Equal(t, "stranger", record.UserID)
	assert.Equal(t, domain.StatusOffline, record.Status)
	assert.True(t, record.LastSeen.IsZero())
}

func TestBlacklistExpiresAfterTTL(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	ctx := context.Background()
	require.NoError(t, store.Blacklist(ctx, "hash-1", 10*time.Second))

	revoked, err := store.IsBlacklisted(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	current = current.Add(11 * time.Second)
	revoked, err = store.IsBlacklisted(ctx, "hash-1")
	require.NoError(t, err)
	assert.False(t, revoked, "entry must expire once real time advances past the ttl")
}

func TestPSubscribeMatchesRoomPattern(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	_, err := store.PSubscribe(RoomChannelPrefix+"*", rec.handler)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Publish(ctx, RoomChannel("r1"), []byte(`{"a":1}`)))
	require.NoError(t, store.Publish(ctx, StatusChannel, []byte(`{"b":2}`)))

	require.Equal(t, 1, rec.count(), "status channel must not match the room pattern")
	assert.Equal(t, RoomChannel("r1"), rec.channels[0])
}

func TestClosedSubscriptionStopsDelivery(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	sub, err := store.Subscribe("chan", rec.handler)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Publish(ctx, "chan", []byte("x")))
	require.NoError(t, sub.Close())
	require.NoError(t, store.Publish(ctx, "chan", []byte("y")))

	assert.Equal(t, 1, rec.count())
}

func TestMemoryStoreMode(t *testing.T) {
	store := NewMemoryStore()
	assert.Equal(t, ModeFallback, store.Mode())
	assert.True(t, store.Healthy(context.Background()))
}
