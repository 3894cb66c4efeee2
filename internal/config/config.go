package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the engine's runtime configuration, loaded from environment
// variables. Scoring weights and windows are deliberately surfaced here so
// they can be tuned without a rebuild.
type Config struct {
	Addr string

	// Collaborator auth (shared-secret JWT). Empty disables auth.
	AuthSecret string

	// Notification boundary
	DatabaseURL  string
	KafkaBrokers []string
	KafkaTopic   string
	S3Bucket     string
	S3Prefix     string
	EmailURL     string

	// Pipeline
	Workers   int
	QueueSize int

	Ingest   IngestConfig
	History  HistoryConfig
	Score    ScoreConfig
	Suppress SuppressConfig
}

// IngestConfig bounds signal validation.
type IngestConfig struct {
	// MaxFutureSkew is how far in the future occurredAt may be before the
	// signal is rejected as clock-skewed.
	MaxFutureSkew time.Duration
}

// HistoryConfig bounds the per-repository commit index.
type HistoryConfig struct {
	MaxAge     time.Duration
	MaxPerRepo int
}

// ScoreConfig holds the correlation weights and thresholds.
type ScoreConfig struct {
	Horizon  time.Duration
	HalfLife time.Duration

	// Weights when criticalPaths is configured for the repository.
	PathWeight    float64
	RecencyWeight float64
	// Weights when criticalPaths is empty (recency dominant).
	FallbackPathWeight    float64
	FallbackRecencyWeight float64

	AttributionThreshold float64
	CandidateLimit       int
}

// SuppressConfig bounds the dedup state machine.
type SuppressConfig struct {
	Window              time.Duration
	ReAlertInterval     time.Duration
	EscalationThreshold int
}

const (
	defaultAddr          = ":8070"
	defaultWorkers       = 8
	defaultQueueSize     = 256
	defaultMaxFutureSkew = 2 * time.Minute
	defaultHistoryMaxAge = 7 * 24 * time.Hour
	defaultMaxPerRepo    = 500

	defaultHorizon              = 24 * time.Hour
	defaultHalfLife             = 6 * time.Hour
	defaultPathWeight           = 0.7
	defaultRecencyWeight        = 0.3
	defaultAttributionThreshold = 0.35
	defaultCandidateLimit       = 200

	defaultSuppressionWindow   = 30 * time.Minute
	defaultReAlertInterval     = 10 * time.Minute
	defaultEscalationThreshold = 10
)

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Addr:         getEnv("INCIDENT_ENGINE_ADDR", defaultAddr),
		AuthSecret:   os.Getenv("INCIDENT_ENGINE_AUTH_SECRET"),
		DatabaseURL:  firstNonEmpty(os.Getenv("INCIDENT_ENGINE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers: splitList(os.Getenv("INCIDENT_ENGINE_KAFKA_BROKERS")),
		KafkaTopic:   getEnv("INCIDENT_ENGINE_KAFKA_TOPIC", "incident.alerts"),
		S3Bucket:     os.Getenv("INCIDENT_ENGINE_S3_BUCKET"),
		S3Prefix:     getEnv("INCIDENT_ENGINE_S3_PREFIX", "alerts"),
		EmailURL:     os.Getenv("INCIDENT_ENGINE_EMAIL_URL"),
		Workers:      getInt("INCIDENT_ENGINE_WORKERS", defaultWorkers),
		QueueSize:    getInt("INCIDENT_ENGINE_QUEUE_SIZE", defaultQueueSize),
		Ingest: IngestConfig{
			MaxFutureSkew: getDuration("INCIDENT_ENGINE_MAX_FUTURE_SKEW", defaultMaxFutureSkew),
		},
		History: HistoryConfig{
			MaxAge:     getDuration("INCIDENT_ENGINE_HISTORY_MAX_AGE", defaultHistoryMaxAge),
			MaxPerRepo: getInt("INCIDENT_ENGINE_HISTORY_MAX_PER_REPO", defaultMaxPerRepo),
		},
		Score: ScoreConfig{
			Horizon:               getDuration("INCIDENT_ENGINE_HORIZON", defaultHorizon),
			HalfLife:              getDuration("INCIDENT_ENGINE_HALF_LIFE", defaultHalfLife),
			PathWeight:            getFloat("INCIDENT_ENGINE_PATH_WEIGHT", defaultPathWeight),
			RecencyWeight:         getFloat("INCIDENT_ENGINE_RECENCY_WEIGHT", defaultRecencyWeight),
			FallbackPathWeight:    getFloat("INCIDENT_ENGINE_FALLBACK_PATH_WEIGHT", defaultRecencyWeight),
			FallbackRecencyWeight: getFloat("INCIDENT_ENGINE_FALLBACK_RECENCY_WEIGHT", defaultPathWeight),
			AttributionThreshold:  getFloat("INCIDENT_ENGINE_ATTRIBUTION_THRESHOLD", defaultAttributionThreshold),
			CandidateLimit:        getInt("INCIDENT_ENGINE_CANDIDATE_LIMIT", defaultCandidateLimit),
		},
		Suppress: SuppressConfig{
			Window:              getDuration("INCIDENT_ENGINE_SUPPRESSION_WINDOW", defaultSuppressionWindow),
			ReAlertInterval:     getDuration("INCIDENT_ENGINE_REALERT_INTERVAL", defaultReAlertInterval),
			EscalationThreshold: getInt("INCIDENT_ENGINE_ESCALATION_THRESHOLD", defaultEscalationThreshold),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
