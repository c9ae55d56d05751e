package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the BTSERIAL_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// ConfigFileEnv names the config file when --config is not given.
const ConfigFileEnv = "BTSERIAL_CONFIG"

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flags are applied so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BTSERIAL_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if envBool("BTSERIAL_LISTEN") {
		cfg.Listen = true
	}
	if envBool("BTSERIAL_RELISTEN") {
		cfg.Relisten = true
	}
	if envBool("BTSERIAL_STRICT_SEND") {
		cfg.StrictSend = true
	}
	if v := os.Getenv("BTSERIAL_DELIMITER"); v != "" {
		cfg.Delimiter = ParseDelimiter(v)
	}
	if v := envDuration("BTSERIAL_FALLBACK_DELAY"); v > 0 {
		cfg.FallbackDelay = v
	}
	if v := envInt("BTSERIAL_READ_BUFFER_SIZE"); v > 0 {
		cfg.ReadBufferSize = v
	}

	// Bluetooth
	if v := os.Getenv("BTSERIAL_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("BTSERIAL_ADAPTER"); v != "" {
		cfg.Adapter = v
	}
	if v := envInt("BTSERIAL_CHANNEL"); v > 0 {
		cfg.Channel = v
	}
	if v := envInt("BTSERIAL_FALLBACK_CHANNEL"); v > 0 {
		cfg.FallbackChannel = v
	}
	if v := os.Getenv("BTSERIAL_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("BTSERIAL_UUID"); v != "" {
		cfg.UUID = v
	}

	// Host bridge
	if v := os.Getenv("BTSERIAL_SERVE"); v != "" {
		cfg.Serve = v
	}

	// Output
	if v := envInt("BTSERIAL_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if v := os.Getenv("BTSERIAL_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

// envDuration accepts Go durations ("250ms") or bare milliseconds.
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}
