package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	SubscriptionsPath string
	SubscriptionsURL  string
	DBPath            string

	// Store settings
	StoreDriver   string // "sqlite" or "mongo"
	MongoURI      string
	MongoDatabase string

	// Server settings
	ServerHost    string
	ServerPort    int
	APIKey        string
	EnableTrigger bool

	// Processing settings
	WorkerCount   int
	Interval      time.Duration
	Schedule      string // cron expression, takes precedence over Interval
	RetentionDays int
	FetchMode     string
	FeedTimeout   time.Duration
	RunTimeout    time.Duration

	// Classification settings
	AnthropicAPIKey string
	ClassifyModel   string
	ClassifyCeiling int
	ClassifyTimeout time.Duration
	PromptPath      string

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		SubscriptionsPath: DefaultSubscriptionsPath,
		SubscriptionsURL:  GetEnvString("NEWSFEED_SUBSCRIPTIONS_URL", RemoteSubscriptionsURL),
		DBPath:            DefaultDBPath,
		StoreDriver:       DefaultStoreDriver,
		MongoURI:          DefaultMongoURI,
		MongoDatabase:     DefaultMongoDatabase,
		ServerHost:        DefaultServerHost,
		ServerPort:        DefaultServerPort,
		APIKey:            GetEnvString("NEWSFEED_API_KEY", ""),
		WorkerCount:       DefaultWorkerCount,
		Interval:          time.Duration(DefaultInterval) * time.Minute,
		RetentionDays:     DefaultRetentionDays,
		FetchMode:         DefaultFetchMode,
		FeedTimeout:       time.Duration(DefaultFeedTimeout) * time.Minute,
		RunTimeout:        time.Duration(DefaultRunTimeout) * time.Minute,
		AnthropicAPIKey:   GetEnvString("ANTHROPIC_API_KEY", ""),
		ClassifyModel:     DefaultClassifyModel,
		ClassifyCeiling:   DefaultClassifyCeiling,
		ClassifyTimeout:   time.Duration(DefaultClassifyTimeout) * time.Second,
		LogLevel:          logLevel,
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// Retention returns how long a stored post lives before it expires.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Validate reports settings that cannot produce a working pipeline.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite", "mongo":
	default:
		return fmt.Errorf("unknown store driver %q: use sqlite or mongo", c.StoreDriver)
	}
	switch c.FetchMode {
	case "normalized", "raw":
	default:
		return fmt.Errorf("unknown fetch mode %q: use normalized or raw", c.FetchMode)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention must be positive, got %d days", c.RetentionDays)
	}
	if c.ClassifyCeiling <= 0 {
		return fmt.Errorf("classification ceiling must be positive, got %d", c.ClassifyCeiling)
	}
	return nil
}
