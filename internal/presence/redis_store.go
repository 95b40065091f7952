package presence

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/chat-realtime/internal/domain"
)

// RedisStore is the cross-process Store. When Redis becomes unreachable it
// degrades to a process-local presence map: no cross-process fan-out, and
// revocation checks answer "not blacklisted". That availability tradeoff is
// logged, never silently masked, and a background probe restores real mode
// once the server is reachable again.
type RedisStore struct {
	client *redis.Client
	local  *MemoryStore

	degraded atomic.Bool
	done     chan struct{}
}

func NewRedisStore(client *redis.Client) *RedisStore {
	s := &RedisStore{
		client: client,
		local:  NewMemoryStore(),
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.degrade(err)
	} else {
		log.Println("[REDIS] Connected successfully")
	}

	go s.monitor()
	return s
}

func (s *RedisStore) degrade(err error) {
	if s.degraded.CompareAndSwap(false, true) {
		log.Printf("[REDIS] Store unreachable: %v. Entering fallback mode (process-local presence, revocation checks disabled).", err)
	}
}

// monitor probes the backing store while degraded and restores real mode
// on success. Backoff doubles from 1s to a 30s ceiling.
func (s *RedisStore) monitor() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-s.done:
			return
		case <-time.After(backoff):
		}

		if !s.degraded.Load() {
			backoff = time.Second
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := s.client.Ping(ctx).Err()
		cancel()

		if err != nil {
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		s.degraded.Store(false)
		backoff = time.Second
		log.Println("[REDIS] Store reachable again, leaving fallback mode")
	}
}

func (s *RedisStore) SetStatus(ctx context.Context, userID string, status domain.Status) error {
	if s.degraded.Load() {
		return s.local.SetStatus(ctx, userID, status)
	}

	key := presenceKeyPrefix + userID

	// The read-compare-write below is not atomic across processes; two
	// processes writing the same status concurrently may each publish.
	// Presence is last-write-wins and receivers apply updates
	// idempotently, so the duplicate notification is tolerated.
	var prev domain.PresenceRecord
	prevKnown := false
	if data, err := s.client.Get(ctx, key).Bytes(); err == nil {
		if jsonErr := json.Unmarshal(data, &prev); jsonErr == nil {
			prevKnown = true
		}
	} else if err != redis.Nil {
		s.degrade(err)
		return s.local.SetStatus(ctx, userID, status)
	}

	record := domain.PresenceRecord{
		UserID:   userID,
		Status:   status,
		LastSeen: time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		s.degrade(err)
		return s.local.SetStatus(ctx, userID, status)
	}

	// Idempotent on repeat: lastSeen refreshed above, notification skipped.
	if prevKnown && prev.Status == status {
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
	return s.Publish(ctx, StatusChannel, payload)
}

func (s *RedisStore) GetStatus(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	if s.degraded.Load() {
		return s.local.GetStatus(ctx, userID)
	}

	data, err := s.client.Get(ctx, presenceKeyPrefix+userID).Bytes()
	if err == redis.Nil {
		return domain.PresenceRecord{UserID: userID, Status: domain.StatusOffline}, nil
	}
	if err != nil {
		s.degrade(err)
		return s.local.GetStatus(ctx, userID)
	}

	var record domain.PresenceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.PresenceRecord{UserID: userID, Status: domain.StatusOffline}, nil
	}
	return record, nil
}

func (s *RedisStore) Blacklist(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if s.degraded.Load() {
		log.Printf("[REDIS] Dropping revocation for %.8s...: store in fallback mode", tokenHash)
		return domain.StoreUnavailable("revocation list unreachable")
	}

	// SET with EX lets Redis expire the entry itself, keeping the list
	// bounded without garbage collection.
	if err := s.client.Set(ctx, revokedKeyPrefix+tokenHash, "1", ttl).Err(); err != nil {
		s.degrade(err)
		return domain.StoreUnavailable("revocation list unreachable")
	}
	return nil
}

func (s *RedisStore) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	if s.degraded.Load() {
		return false, nil
	}

	n, err := s.client.Exists(ctx, revokedKeyPrefix+tokenHash).Result()
	if err != nil {
		s.degrade(err)
		return false, nil
	}
	return n > 0, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	// Fallback mode still fans out to same-process subscribers; only the
	// cross-process path is lost.
	if s.degraded.Load() {
		return s.local.Publish(ctx, channel, payload)
	}
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		s.degrade(err)
		return s.local.Publish(ctx, channel, payload)
	}
	return nil
}

// Subscriptions are registered on both paths: Redis delivers in real mode,
// the local map delivers while degraded. A payload travels exactly one of
// the two, so handlers never see duplicates.
func (s *RedisStore) Subscribe(channel string, h Handler) (Subscription, error) {
	localSub, err := s.local.Subscribe(channel, h)
	if err != nil {
		return nil, err
	}
	pubsub := s.client.Subscribe(context.Background(), channel)
	return dualSub{remote: s.consume(pubsub, h), local: localSub}, nil
}

func (s *RedisStore) PSubscribe(pattern string, h Handler) (Subscription, error) {
	localSub, err := s.local.PSubscribe(pattern, h)
	if err != nil {
		return nil, err
	}
	pubsub := s.client.PSubscribe(context.Background(), pattern)
	return dualSub{remote: s.consume(pubsub, h), local: localSub}, nil
}

// consume pumps pub/sub messages into the handler. go-redis resubscribes
// on reconnect, so a degraded window only costs the events published
// while the store was down.
func (s *RedisStore) consume(pubsub *redis.PubSub, h Handler) Subscription {
	go func() {
		for msg := range pubsub.Channel() {
			h(msg.Channel, []byte(msg.Payload))
		}
	}()
	return redisSub{pubsub: pubsub}
}

type redisSub struct {
	pubsub *redis.PubSub
}

func (r redisSub) Close() error { return r.pubsub.Close() }

type dualSub struct {
	remote Subscription
	local  Subscription
}

func (d dualSub) Close() error {
	err := d.remote.Close()
	if localErr := d.local.Close(); err == nil {
		err = localErr
	}
	return err
}

func (s *RedisStore) Mode() StoreMode {
	if s.degraded.Load() {
		return ModeFallback
	}
	return ModeReal
}

func (s *RedisStore) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

func (s *RedisStore) Close() error {
	close(s.done)
	return s.client.Close()
}
