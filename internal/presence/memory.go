package presence

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/example/chat-realtime/internal/domain"
)

// MemoryStore is a complete single-process Store. It backs deployments
// without a configured Redis URL and the test suites. Pub/sub delivery is
// synchronous and in-process only, so Mode reports fallback.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.PresenceRecord
	revoked map[string]time.Time
	subs    []*memorySub

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]domain.PresenceRecord),
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

type memorySub struct {
	store   *MemoryStore
	pattern string
	handler Handler
	closed  bool
}

func (s *memorySub) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.closed = true
	return nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, userID string, status domain.Status) error {
	m.mu.Lock()
	prev, existed := m.records[userID]
	record := domain.PresenceRecord{
		UserID:   userID,
		Status:   status,
		LastSeen: m.now(),
	}
	m.records[userID] = record
	m.mu.Unlock()

	// Repeating the same status refreshes lastSeen without a duplicate
	// notification downstream.
	if existed && prev.Status == status {
		return nil
	}

	payload, err := json.Marshal(domain.UserStatusEvent{
		Type:     domain.EventUserStatus,
		UserID:   userID,
		Status:   status,
		LastSeen: &record.LastSeen,
	})
	if err != nil {
		return err
	}
	return m.Publish(ctx, StatusChannel, payload)
}

func (m *MemoryStore) GetStatus(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if record, ok := m.records[userID]; ok {
		return record, nil
	}
	return domain.PresenceRecord{UserID: userID, Status: domain.StatusOffline}, nil
}

func (m *MemoryStore) Blacklist(ctx context.Context, tokenHash string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.revoked[tokenHash] = now.Add(ttl)

	// Opportunistic sweep so a long-lived process does not accumulate
	// expired entries between lookups.
	for hash, expiresAt := range m.revoked {
		if now.After(expiresAt) {
			delete(m.revoked, hash)
		}
	}
	return nil
}

func (m *MemoryStore) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt, ok := m.revoked[tokenHash]
	if !ok {
		return false, nil
	}
	if m.now().After(expiresAt) {
		delete(m.revoked, tokenHash)
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	var handlers []Handler
	for _, sub := range m.subs {
		if !sub.closed && channelMatches(sub.pattern, channel) {
			handlers = append(handlers, sub.handler)
		}
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(channel, payload)
	}
	return nil
}

func (m *MemoryStore) Subscribe(channel string, h Handler) (Subscription, error) {
	return m.addSub(channel, h), nil
}

func (m *MemoryStore) PSubscribe(pattern string, h Handler) (Subscription, error) {
	return m.addSub(pattern, h), nil
}

func (m *MemoryStore) addSub(pattern string, h Handler) *memorySub {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &memorySub{store: m, pattern: pattern, handler: h}
	m.subs = append(m.subs, sub)
	return sub
}

func (m *MemoryStore) Mode() StoreMode { return ModeFallback }

func (m *MemoryStore) Healthy(ctx context.Context) bool { return true }

func (m *MemoryStore) Close() error { return nil }

// channelMatches supports the single trailing-star glob used by room
// channel patterns.
func channelMatches(pattern, channel string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}
