package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr          = ":8090"
	defaultMetricsAddr       = ":9094"
	defaultRedisURL          = "redis://localhost:6379"
	defaultNATSURL           = "nats://localhost:4222"
	defaultMaxFrameBytes     = 128 << 10 // 128 KiB ceiling per inbound frame
	defaultHeartbeatInterval = 15 * time.Second
	defaultHeartbeatTimeout  = 60 * time.Second
	defaultIngestRPS         = 50
	defaultIngestBurst       = 100
	defaultReplayLimit       = 500
)

const (
	envHTTPAddr          = "PULSEGATE_HTTP_ADDR"
	envMetricsAddr       = "PULSEGATE_METRICS_ADDR"
	envRedisURL          = "REDIS_URL"
	envNATSURL           = "NATS_URL"
	envBusDisabled       = "PULSEGATE_BUS_DISABLED"
	envStaticKeysPath    = "PULSEGATE_KEYS_PATH"
	envMaxFrameBytes     = "PULSEGATE_MAX_FRAME_BYTES"
	envHeartbeatInterval = "PULSEGATE_HEARTBEAT_INTERVAL"
	envHeartbeatTimeout  = "PULSEGATE_HEARTBEAT_TIMEOUT"
	envIngestRPS         = "PULSEGATE_INGEST_RPS"
	envIngestBurst       = "PULSEGATE_INGEST_BURST"
	envReplayLimit       = "PULSEGATE_REPLAY_LIMIT"
	envAllowedOrigins    = "PULSEGATE_ALLOWED_ORIGINS"
)

// Config holds runtime configuration for the gateway.
type Config struct {
	HTTPAddr          string
	MetricsAddr       string
	RedisURL          string
	NatsURL           string
	BusDisabled       bool
	StaticKeysPath    string
	MaxFrameBytes     int64
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	IngestRPS         int
	IngestBurst       int
	ReplayLimit       int64
	AllowedOrigins    []string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	return &Config{
		HTTPAddr:          stringEnv(envHTTPAddr, defaultHTTPAddr),
		MetricsAddr:       stringEnv(envMetricsAddr, defaultMetricsAddr),
		RedisURL:          stringEnv(envRedisURL, defaultRedisURL),
		NatsURL:           stringEnv(envNATSURL, defaultNATSURL),
		BusDisabled:       boolEnv(envBusDisabled),
		StaticKeysPath:    strings.TrimSpace(os.Getenv(envStaticKeysPath)),
		MaxFrameBytes:     int64Env(envMaxFrameBytes, defaultMaxFrameBytes),
		HeartbeatInterval: durationEnv(envHeartbeatInterval, defaultHeartbeatInterval),
		HeartbeatTimeout:  durationEnv(envHeartbeatTimeout, defaultHeartbeatTimeout),
		IngestRPS:         intEnv(envIngestRPS, defaultIngestRPS),
		IngestBurst:       intEnv(envIngestBurst, defaultIngestBurst),
		ReplayLimit:       int64Env(envReplayLimit, defaultReplayLimit),
		AllowedOrigins:    listEnv(envAllowedOrigins),
	}
}

func stringEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func int64Env(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func listEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
