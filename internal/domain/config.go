package domain

import (
	"os"
	"strconv"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backing service selection
	Tier Tier `json:"tier"`

	// Analytics tuning
	Risk      RiskConfig      `json:"risk"`
	Community CommunityConfig `json:"community"`

	// Component configurations
	GraphStore StoreConfig    `json:"graphStore"`
	Cache      CacheConfig    `json:"cache"`
	EventBus   EventBusConfig `json:"eventBus"`

	// BroadcastFilter is an optional CEL expression gating which alerts are
	// published on the alert topic. Empty means publish everything.
	BroadcastFilter string `json:"broadcastFilter"`

	// Observability
	Logging LoggingConfig `json:"logging"`
}

// RiskConfig holds rule thresholds and score normalization settings.
type RiskConfig struct {
	// HighValueThreshold is the amount at or above which HIGH_VALUE fires.
	HighValueThreshold float64 `json:"highValueThreshold"`

	// BurstWindow is the lookback interval for the BURST rule.
	BurstWindow time.Duration `json:"burstWindow"`

	// BurstMinCount is the pair-edge count at which BURST fires.
	BurstMinCount int `json:"burstMinCount"`

	// AlertsWindow is the trailing interval over which high/medium alerts
	// count toward an entity's alerts component.
	AlertsWindow time.Duration `json:"alertsWindow"`

	// AlertsPenaltyDivisor normalizes the windowed alert count to 0..1.
	AlertsPenaltyDivisor int `json:"alertsPenaltyDivisor"`

	// Component weights, expected (not enforced) to sum to 1.
	WeightVolume float64 `json:"weightVolume"`
	WeightDegree float64 `json:"weightDegree"`
	WeightAlerts float64 `json:"weightAlerts"`
}

// Weights returns the configured weights as a broadcast-friendly struct.
func (c RiskConfig) Weights() RiskWeights {
	return RiskWeights{
		Volume: c.WeightVolume,
		Degree: c.WeightDegree,
		Alerts: c.WeightAlerts,
	}
}

// CommunityConfig controls the hybrid count/time cache invalidation of the
// community detector.
type CommunityConfig struct {
	// EveryNTx forces a recompute once this many transactions have been
	// observed since the last one.
	EveryNTx int `json:"everyNTx"`

	// Interval forces a recompute once this much time has elapsed since the
	// last one.
	Interval time.Duration `json:"interval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultRiskConfig returns the reference rule thresholds and weights.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		HighValueThreshold:   95_000,
		BurstWindow:          60 * time.Second,
		BurstMinCount:        4,
		AlertsWindow:         5 * time.Minute,
		AlertsPenaltyDivisor: 8,
		WeightVolume:         0.2,
		WeightDegree:         0.2,
		WeightAlerts:         0.6,
	}
}

// DefaultCommunityConfig returns the reference invalidation thresholds.
func DefaultCommunityConfig() CommunityConfig {
	return CommunityConfig{
		EveryNTx: 5,
		Interval: 30 * time.Second,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:      TierCommunity,
		Risk:      DefaultRiskConfig(),
		Community: DefaultCommunityConfig(),
		GraphStore: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.GraphStore = StoreConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		LocalMaxSize:   10000,
		LocalTTL:       5 * time.Minute,
		EnableTwoPhase: true,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	return cfg
}

// ApplyEnv overlays environment overrides onto the configuration. Values
// that fail to parse fall back to the compiled default; the analytics core
// assumes validated numbers.
func (c *Config) ApplyEnv() {
	c.Risk.HighValueThreshold = envFloat("HIGH_VALUE_THRESHOLD", c.Risk.HighValueThreshold)
	c.Risk.BurstWindow = envMillis("BURST_WINDOW_MS", c.Risk.BurstWindow)
	c.Risk.BurstMinCount = envInt("BURST_MIN_COUNT", c.Risk.BurstMinCount)
	c.Risk.AlertsWindow = envMillis("ALERTS_WINDOW_MS", c.Risk.AlertsWindow)
	c.Risk.AlertsPenaltyDivisor = envInt("ALERTS_PENALTY_DIVISOR", c.Risk.AlertsPenaltyDivisor)
	c.Risk.WeightVolume = envFloat("RISK_WEIGHT_VOLUME", c.Risk.WeightVolume)
	c.Risk.WeightDegree = envFloat("RISK_WEIGHT_DEGREE", c.Risk.WeightDegree)
	c.Risk.WeightAlerts = envFloat("RISK_WEIGHT_ALERTS", c.Risk.WeightAlerts)

	c.Community.EveryNTx = envInt("COMMUNITY_RECOMPUTE_EVERY_N_TX", c.Community.EveryNTx)
	c.Community.Interval = envMillis("COMMUNITY_RECOMPUTE_INTERVAL_MS", c.Community.Interval)

	if v := os.Getenv("KESTREL_ALERT_FILTER"); v != "" {
		c.BroadcastFilter = v
	}
	if v := os.Getenv("KESTREL_DB_PATH"); v != "" {
		c.GraphStore.SQLitePath = v
	}
	c.Server.Port = envInt("KESTREL_PORT", c.Server.Port)
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envMillis(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
