// Package di wires configuration, logging, the document API and the
// gateway's token service into one container with an ordered shutdown.
package di

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"rxfirestore/internal/firestore"
	httpAdapter "rxfirestore/internal/firestore/adapter/http"
	"rxfirestore/internal/firestore/config"
	"rxfirestore/internal/firestore/usecase"
	"rxfirestore/internal/shared/logger"
)

const shutdownTimeout = 30 * time.Second

// Container holds the process-wide components.
type Container struct {
	mu       sync.RWMutex
	services map[reflect.Type]any

	Config          *config.Config
	Logger          logger.Logger
	FirestoreModule *firestore.FirestoreModule
	// Tokens is nil when the gateway runs without authentication.
	Tokens *httpAdapter.TokenService
}

// NewContainer creates the logger described by cfg. Modules are created by
// InitializeFirestore.
func NewContainer(cfg *config.Config) *Container {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Container{
		services: make(map[reflect.Type]any),
		Config:   cfg,
		Logger:   logger.New(cfg.Log.Backend, cfg.Log.Level, cfg.Log.Format),
	}
	c.register(cfg)
	c.register(c.Logger)
	return c
}

// InitializeFirestore connects the configured backend and, when a JWT
// secret is configured, the token service.
func (c *Container) InitializeFirestore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FirestoreModule != nil {
		return fmt.Errorf("firestore module already initialized")
	}

	if c.Config.Server.AuthEnabled() {
		tokens, err := httpAdapter.NewTokenService(c.Config.Server)
		if err != nil {
			return fmt.Errorf("failed to create token service: %w", err)
		}
		c.Tokens = tokens
		c.registerLocked(tokens)
	}

	module, err := firestore.NewFirestoreModule(ctx, c.Config, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to create Firestore module: %w", err)
	}
	c.FirestoreModule = module
	c.registerLocked(module)
	c.registerLocked(module.FirestoreUsecase)
	return nil
}

func (c *Container) register(service any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerLocked(service)
}

func (c *Container) registerLocked(service any) {
	serviceType := reflect.TypeOf(service)
	if serviceType.Kind() == reflect.Ptr {
		serviceType = serviceType.Elem()
	}
	c.services[serviceType] = service
}

// Resolve returns the registered service of the given type.
func (c *Container) Resolve(serviceType reflect.Type) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if serviceType != nil && serviceType.Kind() == reflect.Ptr {
		serviceType = serviceType.Elem()
	}
	if service, exists := c.services[serviceType]; exists {
		return service, nil
	}
	return nil, fmt.Errorf("service of type %v not registered", serviceType)
}

// GetService resolves a registered service by its static type. Interface
// types such as logger.Logger resolve to the registered implementation.
func GetService[T any](c *Container) (T, error) {
	var zero T
	serviceType := reflect.TypeOf((*T)(nil)).Elem()

	if serviceType.Kind() == reflect.Interface {
		c.mu.RLock()
		defer c.mu.RUnlock()
		for _, service := range c.services {
			if typed, ok := service.(T); ok {
				return typed, nil
			}
		}
		return zero, fmt.Errorf("no service implements %v", serviceType)
	}

	service, err := c.Resolve(serviceType)
	if err != nil {
		return zero, err
	}
	if typed, ok := service.(T); ok {
		return typed, nil
	}
	return zero, fmt.Errorf("service is not of expected type %T", zero)
}

// Firestore returns the document API, or nil before InitializeFirestore.
func (c *Container) Firestore() *usecase.FirestoreUsecase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.FirestoreModule == nil {
		return nil
	}
	return c.FirestoreModule.FirestoreUsecase
}

// HealthCheck reports whether the backend and its feed are reachable.
func (c *Container) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	module := c.FirestoreModule
	c.mu.RUnlock()
	if module == nil {
		return fmt.Errorf("firestore module not initialized")
	}
	return module.HealthCheck(ctx)
}

// Cleanup stops the modules and forgets every registered service.
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.FirestoreModule != nil {
		if stopErr := c.FirestoreModule.Stop(ctx); stopErr != nil {
			err = fmt.Errorf("failed to stop Firestore module: %w", stopErr)
		}
		c.FirestoreModule = nil
	}
	c.Tokens = nil
	c.services = make(map[reflect.Type]any)
	return err
}

// Close runs Cleanup with a bounded shutdown window.
func (c *Container) Close() error {
	c.Logger.Info("Closing DI container resources")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := c.Cleanup(ctx); err != nil {
		c.Logger.Warnf("Cleanup errors occurred: %v", err)
		return err
	}
	c.Logger.Info("DI container resources closed")
	return nil
}
