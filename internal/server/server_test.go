package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/chat-realtime/internal/presence"
	"github.com/example/chat-realtime/internal/registry"
	"github.com/example/chat-realtime/internal/router"
)

type noChats struct{}

func (noChats) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	return false, nil
}

func (noChats) Touch(ctx context.Context, chatID string) (time.Time, error) {
	return time.Now(), nil
}

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	store := presence.NewMemoryStore()
	reg := registry.New(store, time.Millisecond)
	rt := router.New(reg, store, noChats{}, nil, router.Config{})
	return NewHandle("127.0.0.1:0", http.NewServeMux(), rt, reg, store)
}

func TestStartIsIdempotent(t *testing.T) {
	h := newTestHandle(t)

	require.NoError(t, h.Start())
	require.NoError(t, h.Start(), "second start must be a no-op")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))
}

func TestStartAfterStopFails(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))

	assert.Error(t, h.Start())
}

func TestStopWithoutStart(t *testing.T) {
	h := newTestHandle(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.Stop(ctx))
}

func TestHealthyAndConnectionCount(t *testing.T) {
	h := newTestHandle(t)

	assert.True(t, h.Healthy(context.Background()))
	assert.Zero(t, h.ActiveConnectionCount())
}
