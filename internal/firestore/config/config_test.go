package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "rxfirestore/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, FeedLocal, cfg.Feed)
	assert.Equal(t, int64(64), cfg.MaxInFlight)
	assert.Equal(t, 100, cfg.DeleteBatchLimit)
	assert.Equal(t, "/ws/v1/listen", cfg.Realtime.WebSocketPath)
	assert.Equal(t, 10, cfg.Realtime.ClientSendChannelBuffer)
	assert.Equal(t, "localhost:6379", cfg.Redis.GetAddr())
	assert.Equal(t, time.Hour, cfg.Server.TokenTTL)
	assert.False(t, cfg.Server.AuthEnabled())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("BACKEND", "mongodb")
	t.Setenv("FEED", "redis")
	t.Setenv("DELETE_BATCH_LIMIT", "250")
	t.Setenv("MONGODB_DATABASE", "orders")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendMongoDB, cfg.Backend)
	assert.Equal(t, FeedRedis, cfg.Feed)
	assert.Equal(t, 250, cfg.DeleteBatchLimit)
	assert.Equal(t, "orders", cfg.Mongo.Database)
	assert.Equal(t, "cache:6380", cfg.Redis.GetAddr())
	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.True(t, cfg.Server.AuthEnabled())
}

func TestLoadConfig_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("MAX_IN_FLIGHT=8\nREMOTE_TIMEOUT=3s\n"), 0o600))
	t.Setenv("MAX_IN_FLIGHT", "16")
	t.Cleanup(func() { os.Unsetenv("REMOTE_TIMEOUT") })

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, int64(16), cfg.MaxInFlight)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		check  func(*testing.T, error)
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
			check:  func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Backend = "sqlite" },
			check:  func(t *testing.T, err error) { assert.True(t, apperrors.IsValidation(err)) },
		},
		{
			name:   "unknown feed",
			mutate: func(c *Config) { c.Feed = "kafka" },
			check:  func(t *testing.T, err error) { assert.True(t, apperrors.IsValidation(err)) },
		},
		{
			name:   "batch limit above maximum",
			mutate: func(c *Config) { c.DeleteBatchLimit = 501 },
			check:  func(t *testing.T, err error) { assert.True(t, apperrors.IsBatchSizeExceeded(err)) },
		},
		{
			name:   "batch limit at maximum",
			mutate: func(c *Config) { c.DeleteBatchLimit = 500 },
			check:  func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:   "zero batch limit",
			mutate: func(c *Config) { c.DeleteBatchLimit = 0 },
			check:  func(t *testing.T, err error) { assert.True(t, apperrors.IsValidation(err)) },
		},
		{
			name:   "zero in-flight bound",
			mutate: func(c *Config) { c.MaxInFlight = 0 },
			check:  func(t *testing.T, err error) { assert.True(t, apperrors.IsValidation(err)) },
		},
		{
			name:   "firestore needs a project",
			mutate: func(c *Config) { c.Backend = BackendFirestore },
			check:  func(t *testing.T, err error) { assert.True(t, apperrors.IsValidation(err)) },
		},
		{
			name:   "remote needs a url",
			mutate: func(c *Config) { c.Backend = BackendRemote },
			check:  func(t *testing.T, err error) { assert.True(t, apperrors.IsValidation(err)) },
		},
		{
			name: "remote with url",
			mutate: func(c *Config) {
				c.Backend = BackendRemote
				c.Remote.URL = "http://localhost:3000"
			},
			check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			tt.check(t, cfg.Validate())
		})
	}
}

func TestConfig_ValidateFillsRealtimeDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Realtime = RealtimeConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/ws/v1/listen", cfg.Realtime.WebSocketPath)
	assert.Equal(t, 10, cfg.Realtime.ClientSendChannelBuffer)
}

func TestNewRedisClient(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.ConnMaxIdleTime = "not-a-duration"
	cfg.Database = 3

	client := NewRedisClient(cfg)
	defer client.Close()

	opts := client.Options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 30*time.Minute, opts.ConnMaxIdleTime)
	assert.Equal(t, time.Hour, opts.ConnMaxLifetime)
	assert.Nil(t, opts.TLSConfig)
}
