package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/regdocs/regdocs/internal/config"
	"github.com/regdocs/regdocs/internal/document/repository"
	"github.com/regdocs/regdocs/internal/indexqueue"
	"github.com/regdocs/regdocs/internal/storage"
	"github.com/regdocs/regdocs/pkg/logger"
)

const mongoConnectAttempts = 5

// Backends bundles the stores a process needs.
type Backends struct {
	Metadata repository.Store
	Content  storage.ContentStore
	// Redis is nil when Redis is not configured or unreachable.
	Redis *redis.Client
	Queue indexqueue.Publisher

	mongo *mongo.Client
}

// Open connects the metadata store, the content store and, when configured,
// Redis. An unreachable Redis is logged and treated as absent; index jobs are
// then dropped and re-published later by the reconciler.
func Open(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{Queue: indexqueue.Nop{}}
	if err := b.openMetadata(ctx, cfg); err != nil {
		return nil, err
	}

	content, err := storage.Open(ctx, cfg.Content)
	if err != nil {
		_ = b.Close(ctx)
		return nil, fmt.Errorf("content store: %w", err)
	}
	b.Content = content

	if addr := cfg.Redis.Addr(); addr != "" {
		client, err := ConnectRedis(ctx, RedisOptions{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
		} else {
			b.Redis = client
			b.Queue = indexqueue.NewRedisQueue(client, cfg.Redis.IndexQueueKey)
			logger.Infof("connected to Redis: %s", addr)
		}
	}
	return b, nil
}

func (b *Backends) openMetadata(ctx context.Context, cfg *config.Config) error {
	switch cfg.Metadata.Backend {
	case "memory":
		b.Metadata = repository.NewMemoryRepo()
		logger.Warn("using in-memory metadata store; data is lost on restart")
	case "sqlite":
		r, err := repository.NewSQLiteRepo(cfg.Metadata.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite metadata store: %w", err)
		}
		b.Metadata = r
		logger.Infof("metadata store: sqlite %s", r.Path())
	case "mongo":
		client, err := ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, mongoConnectAttempts)
		if err != nil {
			return err
		}
		r, err := repository.NewMongoRepo(ctx, client.Database(cfg.MongoDB.Database))
		if err != nil {
			_ = client.Disconnect(context.Background())
			return fmt.Errorf("mongo metadata store: %w", err)
		}
		b.mongo = client
		b.Metadata = r
		logger.Infof("metadata store: mongo database %s", cfg.MongoDB.Database)
	default:
		return fmt.Errorf("unknown metadata backend %q", cfg.Metadata.Backend)
	}
	return nil
}

// Ping reports whether the connected dependencies answer.
func (b *Backends) Ping(ctx context.Context) map[string]bool {
	deps := map[string]bool{"metadata": b.Metadata != nil, "content": b.Content != nil}
	if b.mongo != nil {
		deps["mongo"] = b.mongo.Ping(ctx, nil) == nil
	}
	if b.Redis != nil {
		deps["redis"] = b.Redis.Ping(ctx).Err() == nil
	}
	return deps
}

// Close releases every connection that was opened.
func (b *Backends) Close(ctx context.Context) error {
	var errs []error
	if b.Metadata != nil {
		errs = append(errs, b.Metadata.Close(ctx))
	}
	if b.mongo != nil {
		errs = append(errs, b.mongo.Disconnect(ctx))
	}
	if b.Redis != nil {
		errs = append(errs, b.Redis.Close())
	}
	return errors.Join(errs...)
}
