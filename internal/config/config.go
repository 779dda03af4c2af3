// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"TRANSIT_HOST" yaml:"host"`
	Port int    `envconfig:"TRANSIT_PORT" yaml:"port"`

	// Upstream schedule data source configuration
	Upstream UpstreamConfig `yaml:"upstream"`

	// Tracking loop configuration
	Tracking TrackingConfig `yaml:"tracking"`

	// Notification configuration
	Notify NotifyConfig `yaml:"notify"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`
}

// UpstreamConfig holds schedule data source settings.
type UpstreamConfig struct {
	// Kind selects the data source implementation: "http" or "gtfsrt".
	Kind string `envconfig:"TRANSIT_UPSTREAM_KIND" yaml:"kind"`

	// BaseURL is the schedule data exchange API base URL (http kind).
	BaseURL string `envconfig:"TRANSIT_UPSTREAM_URL" yaml:"base_url"`

	// FeedURL is the GTFS-Realtime feed URL (gtfsrt kind).
	FeedURL string `envconfig:"TRANSIT_UPSTREAM_FEED_URL" yaml:"feed_url"`

	// Timeout bounds each upstream request.
	Timeout time.Duration `envconfig:"TRANSIT_UPSTREAM_TIMEOUT" yaml:"timeout"`
}

// TrackingConfig holds poll loop and notification trigger settings.
type TrackingConfig struct {
	// PollInterval is the fixed tick interval of the tracking loop.
	PollInterval time.Duration `envconfig:"TRANSIT_POLL_INTERVAL" yaml:"poll_interval"`

	// FetchTimeout bounds each per-schedule fetch; should be at most
	// half the poll interval so a slow upstream never stalls the next tick.
	FetchTimeout time.Duration `envconfig:"TRANSIT_FETCH_TIMEOUT" yaml:"fetch_timeout"`

	// FetchConcurrency caps parallel per-schedule fetches per tick.
	FetchConcurrency int `envconfig:"TRANSIT_FETCH_CONCURRENCY" yaml:"fetch_concurrency"`

	// ArrivalWindowMinutes is the upper bound of the arrival trigger
	// interval (0, N] in minutes.
	ArrivalWindowMinutes float64 `envconfig:"TRANSIT_ARRIVAL_WINDOW_MIN" yaml:"arrival_window_minutes"`

	// NotificationCooldown is the minimum time between repeat arrival
	// notifications for the same (subject, schedule) pair.
	NotificationCooldown time.Duration `envconfig:"TRANSIT_NOTIFICATION_COOLDOWN" yaml:"notification_cooldown"`

	// AverageSpeedKmh is the assumed vehicle speed for straight-line ETA.
	AverageSpeedKmh float64 `envconfig:"TRANSIT_AVERAGE_SPEED_KMH" yaml:"average_speed_kmh"`
}

// NotifyConfig holds notification emitter settings.
type NotifyConfig struct {
	// BusType selects the outbound event bus: "memory" or "kafka".
	BusType string `envconfig:"TRANSIT_NOTIFY_BUS" yaml:"bus_type"`

	// KafkaBrokers is a comma-separated broker list (kafka bus).
	KafkaBrokers string `envconfig:"TRANSIT_KAFKA_BROKERS" yaml:"kafka_brokers"`

	// KafkaGroup is the consumer group ID (kafka bus).
	KafkaGroup string `envconfig:"TRANSIT_KAFKA_GROUP" yaml:"kafka_group"`

	// MarkerStore selects cooldown marker persistence: "memory" or "redis".
	MarkerStore string `envconfig:"TRANSIT_MARKER_STORE" yaml:"marker_store"`

	// RedisURL is the Redis connection URL (redis marker store).
	RedisURL string `envconfig:"TRANSIT_REDIS_URL" yaml:"redis_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"TRANSIT_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"TRANSIT_LOG_FORMAT" yaml:"format"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit   int    `envconfig:"TRANSIT_RATE_LIMIT" yaml:"rate_limit"`
	CORSOrigins string `envconfig:"TRANSIT_CORS_ORIGINS" yaml:"cors_origins"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080

	cfg.Upstream = UpstreamConfig{
		Kind:    "http",
		BaseURL: "http://localhost:3002",
		Timeout: 10 * time.Second,
	}

	cfg.Tracking = TrackingConfig{
		PollInterval:         5 * time.Second,
		FetchTimeout:         2500 * time.Millisecond,
		FetchConcurrency:     8,
		ArrivalWindowMinutes: 5,
		NotificationCooldown: 30 * time.Minute,
		AverageSpeedKmh:      30,
	}

	cfg.Notify = NotifyConfig{
		BusType:     "memory",
		KafkaGroup:  "transit-tracking",
		MarkerStore: "memory",
		RedisURL:    "redis://localhost:6379",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Security = SecurityConfig{
		RateLimit:   0,
		CORSOrigins: "*",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	validKinds := map[string]bool{"http": true, "gtfsrt": true}
	if !validKinds[c.Upstream.Kind] {
		errs = append(errs, fmt.Sprintf("invalid upstream kind: %s (must be http or gtfsrt)", c.Upstream.Kind))
	}

	if c.Upstream.Kind == "http" && c.Upstream.BaseURL == "" {
		errs = append(errs, "upstream base_url is required for http kind")
	}

	if c.Upstream.Kind == "gtfsrt" && c.Upstream.FeedURL == "" {
		errs = append(errs, "upstream feed_url is required for gtfsrt kind")
	}

	if c.Tracking.PollInterval <= 0 {
		errs = append(errs, "poll_interval must be positive")
	}

	if c.Tracking.FetchTimeout <= 0 {
		errs = append(errs, "fetch_timeout must be positive")
	}

	if c.Tracking.FetchTimeout > c.Tracking.PollInterval/2 {
		errs = append(errs, "fetch_timeout must be at most half the poll_interval")
	}

	if c.Tracking.FetchConcurrency < 1 {
		errs = append(errs, "fetch_concurrency must be at least 1")
	}

	if c.Tracking.ArrivalWindowMinutes <= 0 {
		errs = append(errs, "arrival_window_minutes must be positive")
	}

	if c.Tracking.NotificationCooldown <= 0 {
		errs = append(errs, "notification_cooldown must be positive")
	}

	if c.Tracking.AverageSpeedKmh <= 0 {
		errs = append(errs, "average_speed_kmh must be positive")
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Notify.BusType] {
		errs = append(errs, fmt.Sprintf("invalid notify bus type: %s (must be memory or kafka)", c.Notify.BusType))
	}

	if c.Notify.BusType == "kafka" && c.Notify.KafkaBrokers == "" {
		errs = append(errs, "kafka_brokers is required for kafka bus")
	}

	validMarkerStores := map[string]bool{"memory": true, "redis": true}
	if !validMarkerStores[c.Notify.MarkerStore] {
		errs = append(errs, fmt.Sprintf("invalid marker store: %s (must be memory or redis)", c.Notify.MarkerStore))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
