// Package firestore assembles the reactive document API for one backend:
// change feed, store, callback backend and usecases.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"rxfirestore/internal/firestore/adapter/persistence"
	"rxfirestore/internal/firestore/adapter/persistence/gcp"
	"rxfirestore/internal/firestore/adapter/persistence/memory"
	"rxfirestore/internal/firestore/adapter/persistence/mongodb"
	"rxfirestore/internal/firestore/adapter/realtime"
	"rxfirestore/internal/firestore/adapter/remote"
	"rxfirestore/internal/firestore/config"
	"rxfirestore/internal/firestore/domain/repository"
	"rxfirestore/internal/firestore/usecase"
	"rxfirestore/internal/shared/eventbus"
	"rxfirestore/internal/shared/logger"

	"github.com/redis/go-redis/v9"
)

// FirestoreModule owns the components selected by the configuration.
type FirestoreModule struct {
	Config *config.Config
	Logger logger.Logger

	// Feed is nil for backends with native listens (firestore, remote).
	Feed        repository.ChangeFeed
	RedisClient *redis.Client

	// Store is nil for the remote backend, which implements Backend
	// directly.
	Store            repository.DocumentStore
	Backend          repository.Backend
	FirestoreUsecase *usecase.FirestoreUsecase

	// closers run in reverse order on Stop.
	closers []func(ctx context.Context) error
}

// NewFirestoreModule connects the backend named by cfg.Backend.
func NewFirestoreModule(ctx context.Context, cfg *config.Config, log logger.Logger) (*FirestoreModule, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	m := &FirestoreModule{Config: cfg, Logger: log}
	log.Infof("Initializing Firestore module with %s backend", cfg.Backend)

	if err := m.init(ctx); err != nil {
		if stopErr := m.Stop(ctx); stopErr != nil {
			log.Warnf("Cleanup after failed initialization: %v", stopErr)
		}
		return nil, err
	}

	m.FirestoreUsecase = usecase.NewFirestoreUsecase(m.Backend, log)
	log.Info("Firestore module initialized successfully")
	return m, nil
}

func (m *FirestoreModule) init(ctx context.Context) error {
	cfg := m.Config

	if cfg.Backend == config.BackendRemote {
		backend, err := remote.New(cfg.Remote, cfg.Realtime.WebSocketPath, m.Logger)
		if err != nil {
			return err
		}
		m.Backend = backend
		m.onStop(backend.Close)
		return nil
	}

	var (
		store repository.DocumentStore
		err   error
	)
	switch cfg.Backend {
	case config.BackendFirestore:
		store, err = gcp.Connect(ctx, cfg.GCP, m.Logger)
	case config.BackendMongoDB:
		if err = m.initFeed(ctx); err == nil {
			store, err = mongodb.Connect(ctx, cfg.Mongo, m.Feed, m.Logger)
		}
	default:
		if err = m.initFeed(ctx); err == nil {
			store, err = memory.NewStore(m.Feed, m.Logger)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create %s store: %w", cfg.Backend, err)
	}

	m.Store = store
	backend := persistence.NewAsyncBackend(store, cfg.MaxInFlight, m.Logger)
	m.Backend = backend
	m.onStop(backend.Close)
	return nil
}

// initFeed creates the change feed stores publish on.
func (m *FirestoreModule) initFeed(ctx context.Context) error {
	if m.Config.Feed != config.FeedRedis {
		feed := realtime.NewLocalFeed(eventbus.NewEventBus(m.Logger), m.Logger)
		m.Feed = feed
		m.onStop(func(context.Context) error { return feed.Close() })
		return nil
	}

	client := config.NewRedisClient(m.Config.Redis)
	m.RedisClient = client
	m.onStop(func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", m.Config.Redis.GetAddr(), err)
	}

	feed := realtime.NewRedisFeed(client, m.Config.Redis.StreamMaxLength, m.Logger)
	m.Feed = feed
	m.onStop(func(context.Context) error { return feed.Close() })
	m.Logger.Infof("Redis change feed connected at %s", m.Config.Redis.GetAddr())
	return nil
}

func (m *FirestoreModule) onStop(closer func(ctx context.Context) error) {
	m.closers = append(m.closers, closer)
}

// HealthCheck pings Redis and the store when they support it.
func (m *FirestoreModule) HealthCheck(ctx context.Context) error {
	if m.RedisClient != nil {
		if err := m.RedisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}
	if pinger, ok := m.Store.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("store health check failed: %w", err)
		}
	}
	return nil
}

// Stop releases everything in reverse order of creation: the backend and
// its store first, then the feed, then Redis.
func (m *FirestoreModule) Stop(ctx context.Context) error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}
