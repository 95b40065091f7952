package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/chat-realtime/internal/domain"
)

type fakeStatus struct {
	mu      sync.Mutex
	changes []domain.Status
}

func (f *fakeStatus) SetStatus(ctx context.Context, userID string, status domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, status)
	return nil
}

func (f *fakeStatus) snapshot() []domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Status, len(f.changes))
	copy(out, f.changes)
	return out
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []interface{}
	closed bool
}

func (f *fakeSender) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func identity(userID string) domain.Identity {
	return domain.Identity{UserID: userID, Email: userID + "@example.com", Role: "user"}
}

func TestRegisterMarksFirstConnectionOnline(t *testing.T) {
	status := &fakeStatus{}
	reg := New(status, 10*time.Millisecond)

	reg.Register("c1", identity("u1"), &fakeSender{})
	reg.Register("c2", identity("u1"), &fakeSender{})

	assert.Equal(t, []domain.Status{domain.StatusOnline}, status.snapshot(),
		"second connection of the same user must not publish online again")
	assert.Equal(t, 2, reg.ActiveConnectionCount())
}

func TestReconnectWithinGraceSkipsOfflineWrite(t *testing.T) {
	status := &fakeStatus{}
	reg := New(status, 50*time.Millisecond)

	reg.Register("c1", identity("u1"), &fakeSender{})
	reg.Unregister("c1")
	reg.Register("c2", identity("u1"), &fakeSender{})

	time.Sleep(150 * time.Millisecond)

	for _, s := range status.snapshot() {
		require.NotEqual(t, domain.StatusOffline, s,
			"reconnect inside the grace window must never write offline")
	}
}

func TestLastDisconnectGoesOfflineAfterGrace(t *testing.T) {
	status := &fakeStatus{}
	reg := New(status, 20*time.Millisecond)

	reg.Register("c1", identity("u1"), &fakeSender{})
	reg.Unregister("c1")

	assert.Eventually(t, func() bool {
		changes := status.snapshot()
		return len(changes) == 2 && changes[1] == domain.StatusOffline
	}, time.Second, 5*time.Millisecond)
}

func TestUnregisterClosesSenderAndLeavesRooms(t *testing.T) {
	status := &fakeStatus{}
	reg := New(status, time.Millisecond)
	sender := &fakeSender{}

	reg.Register("c1", identity("u1"), sender)
	reg.JoinRoom("c1", "r1")
	require.True(t, reg.InRoom("c1", "r1"))

	reg.Unregister("c1")

	assert.True(t, sender.closed)
	assert.Empty(t, reg.ConnectionsInRoom("r1"))
	assert.False(t, reg.InRoom("c1", "r1"))
}

func TestRoomBookkeeping(t *testing.T) {
	reg := New(&fakeStatus{}, time.Millisecond)

	reg.Register("c1", identity("u1"), &fakeSender{})
	reg.Register("c2", identity("u2"), &fakeSender{})
	reg.JoinRoom("c1", "r1")
	reg.JoinRoom("c2", "r1")
	reg.JoinRoom("c1", "r2")

	assert.ElementsMatch(t, []string{"c1", "c2"}, reg.ConnectionsInRoom("r1"))
	assert.ElementsMatch(t, []string{"r1", "r2"}, reg.RoomsForConnection("c1"))

	reg.LeaveRoom("c1", "r1")
	assert.ElementsMatch(t, []string{"c2"}, reg.ConnectionsInRoom("r1"))
	assert.False(t, reg.InRoom("c1", "r1"))
	assert.True(t, reg.InRoom("c1", "r2"))
}

func TestJoinRoomUnknownConnectionIsNoop(t *testing.T) {
	reg := New(&fakeStatus{}, time.Millisecond)

	reg.JoinRoom("ghost", "r1")

	assert.Empty(t, reg.ConnectionsInRoom("r1"))
}

func TestIdentityFor(t *testing.T) {
	reg := New(&fakeStatus{}, time.Millisecond)
	reg.Register("c1", identity("u1"), &fakeSender{})

	id, ok := reg.IdentityFor("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", id.UserID)

	_, ok = reg.IdentityFor("nope")
	assert.False(t, ok)
}

func TestSendToMissingConnectionIsIgnored(t *testing.T) {
	reg := New(&fakeStatus{}, time.Millisecond)
	assert.NoError(t, reg.Send("gone", "hello"))
}

func TestDisconnectUserClosesEveryConnection(t *testing.T) {
	status := &fakeStatus{}
	reg := New(status, time.Millisecond)
	s1 := &fakeSender{}
	s2 := &fakeSender{}

	reg.Register("c1", identity("u1"), s1)
	reg.Register("c2", identity("u1"), s2)
	reg.Register("c3", identity("u2"), &fakeSender{})

	reg.DisconnectUser("u1", "Logged out")

	assert.True(t, s1.closed)
	assert.True(t, s2.closed)
	assert.Equal(t, 1, reg.ActiveConnectionCount())

	s1.mu.Lock()
	require.Len(t, s1.sent, 1)
	ack, ok := s1.sent[0].(domain.ErrorAck)
	s1.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, domain.CodeUnauthorized, ack.Code)
}
