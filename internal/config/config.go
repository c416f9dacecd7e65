package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/vanshika/walletgate/internal/risk"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP    HTTPConfig
	Graph   GraphConfig
	Logging LoggingConfig
	Gate    GateConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MetricsEnabled    bool
	AllowedOriginsCSV string
}

// GraphConfig describes connectivity to the Neo4j wallet store.
type GraphConfig struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
	TxTimeout      time.Duration
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
	Service       string
	// File enables rotating file output in addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// GateConfig holds the risk policy and requeue behaviour of the transfer gate.
type GateConfig struct {
	Policy             risk.Policy
	PolicyFile         string
	RequeueDelay       time.Duration
	MaxRequeueAttempts int
	RequeueBackoff     bool
	MaxRequeueDelay    time.Duration
	// ResumeWrites retries writes left pending by a registry failure in the
	// background, with exponential backoff from ResumeDelay to MaxResumeDelay.
	ResumeWrites       bool
	ResumeDelay        time.Duration
	MaxResumeDelay     time.Duration
	MaxResumeAttempts  int
}

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLoggingLevel     = "info"
	defaultLoggingFormat    = "text"
	defaultServiceName      = "walletgate"
	defaultLogMaxSizeMB     = 100
	defaultLogMaxBackups    = 5
	defaultGraphMaxSessions = 10
	defaultRequeueDelay     = 5 * time.Second
	defaultMaxRequeueDelay  = time.Minute
	defaultResumeDelay      = time.Second
	defaultMaxResumeDelay   = 30 * time.Second
)

// Load reads configuration from environment variables, applying defaults.
// When GATE_POLICY_FILE is set the file is applied over the default policy and
// GATE_* policy variables are applied over the file.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host:              valueOrDefault("SERVER_HOST", defaultHost),
			MetricsEnabled:    parseBoolWithDefault("SERVER_METRICS_ENABLED", false),
			AllowedOriginsCSV: os.Getenv("SERVER_ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
			Service:       valueOrDefault("LOG_SERVICE", defaultServiceName),
			File:          os.Getenv("LOG_FILE"),
			MaxSizeMB:     parseIntWithDefault("LOG_MAX_SIZE_MB", defaultLogMaxSizeMB),
			MaxBackups:    parseIntWithDefault("LOG_MAX_BACKUPS", defaultLogMaxBackups),
		},
		Graph: GraphConfig{
			URI:            os.Getenv("GRAPH_URI"),
			Database:       valueOrDefault("GRAPH_DATABASE", ""),
			Username:       os.Getenv("GRAPH_USERNAME"),
			Password:       os.Getenv("GRAPH_PASSWORD"),
			MaxConnections: parseIntWithDefault("GRAPH_MAX_CONNECTIONS", defaultGraphMaxSessions),
		},
		Gate: GateConfig{
			Policy:          risk.DefaultPolicy(),
			PolicyFile:      os.Getenv("GATE_POLICY_FILE"),
			RequeueBackoff:  parseBoolWithDefault("GATE_REQUEUE_BACKOFF", false),
			MaxRequeueDelay: defaultMaxRequeueDelay,
			ResumeWrites:    parseBoolWithDefault("GATE_RESUME_WRITES", true),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout, defaultReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout, defaultWriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout, defaultIdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout, defaultShutdownTimeout},
		{"GRAPH_TX_TIMEOUT", &cfg.Graph.TxTimeout, 0},
		{"GATE_REQUEUE_DELAY", &cfg.Gate.RequeueDelay, defaultRequeueDelay},
		{"GATE_MAX_REQUEUE_DELAY", &cfg.Gate.MaxRequeueDelay, defaultMaxRequeueDelay},
		{"GATE_RESUME_DELAY", &cfg.Gate.ResumeDelay, defaultResumeDelay},
		{"GATE_MAX_RESUME_DELAY", &cfg.Gate.MaxResumeDelay, defaultMaxResumeDelay},
	}
	for _, d := range durations {
		val, err := parseDuration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = val
	}

	attempts, err := parseNonNegativeInt("GATE_MAX_REQUEUE_ATTEMPTS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.Gate.MaxRequeueAttempts = attempts

	resumeAttempts, err := parseNonNegativeInt("GATE_MAX_RESUME_ATTEMPTS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.Gate.MaxResumeAttempts = resumeAttempts

	if cfg.Gate.PolicyFile != "" {
		policy, err := LoadPolicyFile(cfg.Gate.PolicyFile, cfg.Gate.Policy)
		if err != nil {
			return Config{}, err
		}
		cfg.Gate.Policy = policy
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"GATE_INTERNAL_LIMIT_THRESHOLD", &cfg.Gate.Policy.InternalLimitThreshold},
		{"GATE_EXTERNAL_LIMIT_THRESHOLD", &cfg.Gate.Policy.ExternalLimitThreshold},
		{"GATE_INTERNAL_BLOCK_PENALTY_PCT", &cfg.Gate.Policy.InternalBlockPenaltyPct},
		{"GATE_EXTERNAL_BLOCK_PENALTY_PCT", &cfg.Gate.Policy.ExternalBlockPenaltyPct},
		{"GATE_SENDER_SCORE_CEILING", &cfg.Gate.Policy.SenderScoreCeiling},
	}
	for _, f := range floats {
		val, err := parseFloat(f.key, *f.dst)
		if err != nil {
			return Config{}, err
		}
		*f.dst = val
	}

	if err := cfg.Gate.Policy.Validate(); err != nil {
		return Config{}, fmt.Errorf("gate policy: %w", err)
	}
	if cfg.Gate.RequeueDelay <= 0 {
		return Config{}, fmt.Errorf("GATE_REQUEUE_DELAY must be positive, got %s", cfg.Gate.RequeueDelay)
	}
	if cfg.Gate.ResumeWrites && cfg.Gate.ResumeDelay <= 0 {
		return Config{}, fmt.Errorf("GATE_RESUME_DELAY must be positive, got %s", cfg.Gate.ResumeDelay)
	}

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseNonNegativeInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, val)
	}
	return val, nil
}

func parseFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	val, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return val, nil
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
