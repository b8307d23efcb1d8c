package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Feed source kinds
const (
	FeedSourceWebsocket = "websocket"
	FeedSourceNATS      = "nats"
	FeedSourceSynthetic = "synthetic"
)

// Config represents the application configuration
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Stats   StatsConfig   `mapstructure:"stats"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Scoring ScoringConfig `mapstructure:"scoring"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Neo4J   Neo4JConfig   `mapstructure:"neo4j"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// AppConfig represents application-specific configuration
type AppConfig struct {
	Env                    string        `mapstructure:"env"`
	LogLevel               string        `mapstructure:"log_level"`
	HTTPPort               int           `mapstructure:"http_port"`
	PerformanceLogInterval time.Duration `mapstructure:"performance_log_interval"`
}

// FeedConfig represents upstream feed configuration
type FeedConfig struct {
	Source            string        `mapstructure:"source"`
	URL               string        `mapstructure:"url"`
	SubscribeOps      []string      `mapstructure:"subscribe_ops"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	SyntheticInterval time.Duration `mapstructure:"synthetic_interval"`
	SyntheticSeed     int64         `mapstructure:"synthetic_seed"`
}

// StatsConfig represents external network stats configuration
type StatsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	MempoolPath   string        `mapstructure:"mempool_path"`
	TipHeightPath string        `mapstructure:"tip_height_path"`
	HashratePath  string        `mapstructure:"hashrate_path"`
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// GatewayConfig represents subscriber gateway configuration
type GatewayConfig struct {
	InitialSnapshotSize int           `mapstructure:"initial_snapshot_size"`
	DefaultPullLimit    int           `mapstructure:"default_pull_limit"`
	MaxClients          int           `mapstructure:"max_clients"`
	SendBufferSize      int           `mapstructure:"send_buffer_size"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	PongTimeout         time.Duration `mapstructure:"pong_timeout"`
	AllowedOrigins      []string      `mapstructure:"allowed_origins"`
}

// ScoringConfig represents the aggregation thresholds
type ScoringConfig struct {
	BufferCapacity          int           `mapstructure:"buffer_capacity"`
	HighValueThresholdCoins int64         `mapstructure:"high_value_threshold_coins"`
	SuspiciousRiskScore     int           `mapstructure:"suspicious_risk_score"`
	RateWindow              time.Duration `mapstructure:"rate_window"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `mapstructure:"url"`
	SubjectPrefix     string        `mapstructure:"subject_prefix"`
	ConsumerGroup     string        `mapstructure:"consumer_group"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxPendingFrames  int           `mapstructure:"max_pending_frames"`
	PublishEnabled    bool          `mapstructure:"publish_enabled"`
}

// Neo4JConfig represents Neo4J configuration
type Neo4JConfig struct {
	Enabled                      bool          `mapstructure:"enabled"`
	URI                          string        `mapstructure:"uri"`
	Username                     string        `mapstructure:"username"`
	Password                     string        `mapstructure:"password"`
	Database                     string        `mapstructure:"database"`
	MaxConnectionPoolSize        int           `mapstructure:"max_connection_pool_size"`
	ConnectionAcquisitionTimeout time.Duration `mapstructure:"connection_acquisition_timeout"`
	FlagMinRiskScore             int           `mapstructure:"flag_min_risk_score"`
	QueueSize                    int           `mapstructure:"queue_size"`
	WriteTimeout                 time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from a .env file, environment variables and config files
func Load() (*Config, error) {
	// A missing .env file is not an error
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/bitcoin-tx-monitor")

	// Environment variables
	v.AutomaticEnv()

	// Map environment variables to nested config keys
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Default values
	setDefaults(v)

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the configuration for values the monitor cannot run with
func (c *Config) Validate() error {
	if c.App.HTTPPort <= 0 || c.App.HTTPPort > 65535 {
		return fmt.Errorf("invalid app.http_port: %d", c.App.HTTPPort)
	}

	switch c.Feed.Source {
	case FeedSourceWebsocket:
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url is required for the websocket source")
		}
	case FeedSourceNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for the nats source")
		}
	case FeedSourceSynthetic:
		if c.Feed.SyntheticInterval <= 0 {
			return fmt.Errorf("feed.synthetic_interval must be positive")
		}
	default:
		return fmt.Errorf("unknown feed.source %q", c.Feed.Source)
	}
	if c.Feed.ReconnectDelay <= 0 {
		return fmt.Errorf("feed.reconnect_delay must be positive")
	}

	if c.Stats.Enabled {
		if c.Stats.BaseURL == "" {
			return fmt.Errorf("stats.base_url is required when stats are enabled")
		}
		if c.Stats.Interval <= 0 || c.Stats.Timeout <= 0 {
			return fmt.Errorf("stats.interval and stats.timeout must be positive")
		}
	}

	if c.Scoring.BufferCapacity <= 0 {
		return fmt.Errorf("scoring.buffer_capacity must be positive")
	}
	if c.Scoring.RateWindow <= 0 {
		return fmt.Errorf("scoring.rate_window must be positive")
	}
	if c.Gateway.MaxClients <= 0 || c.Gateway.SendBufferSize <= 0 {
		return fmt.Errorf("gateway.max_clients and gateway.send_buffer_size must be positive")
	}
	if c.Gateway.InitialSnapshotSize <= 0 || c.Gateway.DefaultPullLimit <= 0 {
		return fmt.Errorf("gateway.initial_snapshot_size and gateway.default_pull_limit must be positive")
	}

	if c.Neo4J.Enabled && c.Neo4J.URI == "" {
		return fmt.Errorf("neo4j.uri is required when neo4j is enabled")
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_port", 4000)
	v.SetDefault("app.performance_log_interval", "30s")

	// Feed defaults
	v.SetDefault("feed.source", FeedSourceWebsocket)
	v.SetDefault("feed.url", "wss://ws.blockchain.info/inv")
	v.SetDefault("feed.subscribe_ops", []string{"unconfirmed_sub", "blocks_sub"})
	v.SetDefault("feed.reconnect_delay", "5s")
	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.read_timeout", "90s")
	v.SetDefault("feed.ping_interval", "30s")
	v.SetDefault("feed.synthetic_interval", "500ms")
	v.SetDefault("feed.synthetic_seed", 0)

	// Stats defaults
	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.base_url", "https://mempool.space/api")
	v.SetDefault("stats.mempool_path", "/mempool")
	v.SetDefault("stats.tip_height_path", "/blocks/tip/height")
	v.SetDefault("stats.hashrate_path", "/v1/mining/hashrate/1d")
	v.SetDefault("stats.interval", "10s")
	v.SetDefault("stats.timeout", "5s")

	// Gateway defaults
	v.SetDefault("gateway.initial_snapshot_size", 10)
	v.SetDefault("gateway.default_pull_limit", 20)
	v.SetDefault("gateway.max_clients", 10000)
	v.SetDefault("gateway.send_buffer_size", 256)
	v.SetDefault("gateway.write_timeout", "10s")
	v.SetDefault("gateway.pong_timeout", "60s")
	v.SetDefault("gateway.allowed_origins", []string{"http://localhost:3000"})

	// Scoring defaults
	v.SetDefault("scoring.buffer_capacity", 1000)
	v.SetDefault("scoring.high_value_threshold_coins", 100)
	v.SetDefault("scoring.suspicious_risk_score", 50)
	v.SetDefault("scoring.rate_window", "60s")

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "bitcoin")
	v.SetDefault("nats.consumer_group", "tx-monitor")
	v.SetDefault("nats.connect_timeout", "10s")
	v.SetDefault("nats.reconnect_attempts", 5)
	v.SetDefault("nats.reconnect_delay", "2s")
	v.SetDefault("nats.max_pending_frames", 10000)
	v.SetDefault("nats.publish_enabled", false)

	// Neo4J defaults
	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.max_connection_pool_size", 50)
	v.SetDefault("neo4j.connection_acquisition_timeout", "60s")
	v.SetDefault("neo4j.flag_min_risk_score", 70)
	v.SetDefault("neo4j.queue_size", 1024)
	v.SetDefault("neo4j.write_timeout", "5s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)

	// Bind well-known env names
	_ = v.BindEnv("app.http_port", "PORT")
	_ = v.BindEnv("nats.url", "NATS_URL")
	_ = v.BindEnv("feed.url", "FEED_URL")
}
