package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions describes a Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// ConnectRedis creates a client and validates the connection with PING.
func ConnectRedis(ctx context.Context, o RedisOptions) (*redis.Client, error) {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{Addr: o.Addr, Password: o.Password, DB: o.DB})
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", o.Addr, err)
	}
	return client, nil
}
