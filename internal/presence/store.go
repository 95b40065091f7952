// Package presence implements the shared presence state, token revocation
// list and cross-process pub/sub channel behind a single capability
// interface, so the event router never depends on the backing technology.
package presence

import (
	"context"
	"time"

	"github.com/example/chat-realtime/internal/domain"
)

// Key and channel layout in the backing store.
const (
	presenceKeyPrefix = "presence:"
	revokedKeyPrefix  = "revoked:"

	// StatusChannel carries UserStatusEvent payloads between processes.
	StatusChannel = "presence:status"

	// RoomChannelPrefix + roomID carries Envelope payloads for one room.
	RoomChannelPrefix = "room:"
)

// RoomChannel returns the pub/sub channel for a room.
func RoomChannel(roomID string) string {
	return RoomChannelPrefix + roomID
}

// StoreMode reports how the store currently operates. It is returned by an
// explicit health call instead of being inferred from runtime types.
type StoreMode int

const (
	// ModeReal means the shared backing store is reachable and presence,
	// revocation and fan-out are cross-process.
	ModeReal StoreMode = iota
	// ModeFallback means state is process-local only: no cross-process
	// fan-out and revocation checks answer "not blacklisted".
	ModeFallback
)

func (m StoreMode) String() string {
	if m == ModeReal {
		return "real"
	}
	return "fallback"
}

// Handler receives pub/sub payloads. Delivery is at-least-once to currently
// subscribed processes; a process that is down at publish time never sees
// the event.
type Handler func(channel string, payload []byte)

// Subscription is a live pub/sub registration.
type Subscription interface {
	Close() error
}

// Store is the presence capability used by the router, registry and auth
// layers.
type Store interface {
	// SetStatus upserts the user's presence record. LastSeen is always
	// refreshed; a StatusChanged notification is published only when the
	// status actually changed.
	SetStatus(ctx context.Context, userID string, status domain.Status) error

	// GetStatus returns the stored record, or an offline record with zero
	// LastSeen when the user is unknown.
	GetStatus(ctx context.Context, userID string) (domain.PresenceRecord, error)

	// Blacklist records a revoked token hash. The store itself enforces
	// expiry: after ttl the entry is invisible without any manual sweep.
	Blacklist(ctx context.Context, tokenHash string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, tokenHash string) (bool, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(channel string, h Handler) (Subscription, error)
	PSubscribe(pattern string, h Handler) (Subscription, error)

	Mode() StoreMode
	Healthy(ctx context.Context) bool
	Close() error
}
