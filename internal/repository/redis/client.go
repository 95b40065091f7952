package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient builds the shared Redis client. Reachability is probed here so
// the caller can log the initial state; an unreachable server is not fatal
// because the presence store degrades to process-local mode.
func NewClient(addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := client.Ping(ctx).Err()
	return client, err
}
