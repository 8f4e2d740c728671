package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	apperrors "rxfirestore/internal/shared/errors"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Backend names accepted by BACKEND.
const (
	BackendMemory    = "memory"
	BackendMongoDB   = "mongodb"
	BackendFirestore = "firestore"
	BackendRemote    = "remote"
)

// Feed names accepted by FEED.
const (
	FeedLocal = "local"
	FeedRedis = "redis"
)

// RealtimeConfig holds configuration specific to real-time functionalities.
type RealtimeConfig struct {
	// WebSocketPath is the endpoint path for WebSocket listen connections.
	WebSocketPath string `env:"WEBSOCKET_PATH" envDefault:"/ws/v1/listen" json:"websocket_path"`

	// ClientSendChannelBuffer is the number of frames queued per WebSocket
	// client before the connection is considered too slow and dropped.
	ClientSendChannelBuffer int `env:"CLIENT_SEND_CHANNEL_BUFFER" envDefault:"10" json:"client_send_channel_buffer"`
}

// LogConfig selects the logger implementation.
type LogConfig struct {
	Backend string `env:"LOG_BACKEND" envDefault:"logrus" json:"backend"`
	Level   string `env:"LOG_LEVEL" json:"level"`
	Format  string `env:"LOG_FORMAT" json:"format"`
}

// MongoConfig configures the MongoDB store.
type MongoConfig struct {
	URI            string        `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017" json:"uri"`
	Database       string        `env:"MONGODB_DATABASE" envDefault:"rxfirestore" json:"database"`
	Collection     string        `env:"MONGODB_COLLECTION" envDefault:"documents" json:"collection"`
	ConnectTimeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s" json:"connect_timeout"`
}

// GCPConfig configures the Google Cloud Firestore store.
type GCPConfig struct {
	ProjectID       string `env:"GCP_PROJECT_ID" json:"project_id"`
	DatabaseID      string `env:"FIRESTORE_DATABASE_ID" envDefault:"(default)" json:"database_id"`
	CredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS" json:"-"`
}

// RemoteConfig configures the backend that talks to a running gateway.
type RemoteConfig struct {
	URL     string        `env:"REMOTE_URL" json:"url"`
	Token   string        `env:"REMOTE_TOKEN" json:"-"`
	Timeout time.Duration `env:"REMOTE_TIMEOUT" envDefault:"10s" json:"timeout"`
}

// ServerConfig holds gateway configuration.
type ServerConfig struct {
	Host      string        `env:"SERVER_HOST" envDefault:"localhost" json:"host"`
	Port      string        `env:"SERVER_PORT" envDefault:"3000" json:"port"`
	JWTSecret string        `env:"JWT_SECRET" json:"-"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"rxfirestore" json:"jwt_issuer"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"1h" json:"token_ttl"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// AuthEnabled reports whether bearer tokens are required by the gateway.
func (s ServerConfig) AuthEnabled() bool {
	return s.JWTSecret != ""
}

// Config holds all configuration for the reactive store.
type Config struct {
	Backend          string `env:"BACKEND" envDefault:"memory" json:"backend"`
	Feed             string `env:"FEED" envDefault:"local" json:"feed"`
	MaxInFlight      int64  `env:"MAX_IN_FLIGHT" envDefault:"64" json:"max_in_flight"`
	DeleteBatchLimit int    `env:"DELETE_BATCH_LIMIT" envDefault:"100" json:"delete_batch_limit"`

	Log      LogConfig      `json:"log"`
	Mongo    MongoConfig    `json:"mongo"`
	GCP      GCPConfig      `json:"gcp"`
	Remote   RemoteConfig   `json:"remote"`
	Redis    RedisConfig    `json:"redis"`
	Realtime RealtimeConfig `json:"realtime"`
	Server   ServerConfig   `json:"server"`
}

// LoadConfig reads the given dotenv files (if any) into the process
// environment and parses the configuration from it. Variables already set
// in the environment win over file values.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load configuration from environment: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendMongoDB, BackendFirestore, BackendRemote:
	default:
		return invalid("BACKEND", fmt.Sprintf("unknown backend %q", c.Backend))
	}
	switch c.Feed {
	case FeedLocal, FeedRedis:
	default:
		return invalid("FEED", fmt.Sprintf("unknown feed %q", c.Feed))
	}
	if c.MaxInFlight <= 0 {
		return invalid("MAX_IN_FLIGHT", "must be positive")
	}
	if c.DeleteBatchLimit <= 0 {
		return invalid("DELETE_BATCH_LIMIT", "must be positive")
	}
	if c.DeleteBatchLimit > apperrors.MaxBatchSize {
		return apperrors.NewBatchSizeExceededError(c.DeleteBatchLimit).WithDetail("variable", "DELETE_BATCH_LIMIT")
	}
	if c.Backend == BackendFirestore && c.GCP.ProjectID == "" {
		return invalid("GCP_PROJECT_ID", "required for the firestore backend")
	}
	if c.Backend == BackendRemote && c.Remote.URL == "" {
		return invalid("REMOTE_URL", "required for the remote backend")
	}
	if c.Realtime.ClientSendChannelBuffer <= 0 {
		c.Realtime.ClientSendChannelBuffer = 10
	}
	if c.Realtime.WebSocketPath == "" {
		c.Realtime.WebSocketPath = "/ws/v1/listen"
	}
	return nil
}

func invalid(variable, reason string) error {
	return apperrors.NewValidationError(variable+" "+reason).
		WithComponent("config").
		WithDetail("variable", variable)
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Backend:          BackendMemory,
		Feed:             FeedLocal,
		MaxInFlight:      64,
		DeleteBatchLimit: 100,
		Log:              LogConfig{Backend: "logrus"},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "rxfirestore",
			Collection:     "documents",
			ConnectTimeout: 10 * time.Second,
		},
		GCP:    GCPConfig{DatabaseID: "(default)"},
		Remote: RemoteConfig{Timeout: 10 * time.Second},
		Redis:  DefaultRedisConfig(),
		Realtime: RealtimeConfig{
			WebSocketPath:           "/ws/v1/listen",
			ClientSendChannelBuffer: 10,
		},
		Server: ServerConfig{
			Host:      "localhost",
			Port:      "3000",
			JWTIssuer: "rxfirestore",
			TokenTTL:  time.Hour,
		},
	}
}
