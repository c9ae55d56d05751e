// Package config defines the runtime configuration for btserial and
// the helpers that load it from a file, the environment and flags.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	bterr "btserial/internal/errors"
	"btserial/internal/transport"
)

// Config holds every tuneable for one btserial run.
type Config struct {
	// ── Connection ───────────────────────────────────────────────────
	Address    string `yaml:"address,omitempty"` // remote device to connect to
	Listen     bool   `yaml:"listen,omitempty"`
	Relisten   bool   `yaml:"relisten,omitempty"`
	StrictSend bool   `yaml:"strict_send,omitempty"`
	Delimiter  string `yaml:"delimiter,omitempty"`

	FallbackDelay  time.Duration `yaml:"fallback_delay,omitempty"`
	ReadBufferSize int           `yaml:"read_buffer_size,omitempty"`

	// ── Bluetooth ────────────────────────────────────────────────────
	Backend         string `yaml:"backend,omitempty"` // "profile" or "socket"
	Adapter         string `yaml:"adapter,omitempty"` // e.g. "hci0"; empty picks the first
	Channel         int    `yaml:"channel,omitempty"`
	FallbackChannel int    `yaml:"fallback_channel,omitempty"`
	ServiceName     string `yaml:"service_name,omitempty"`
	UUID            string `yaml:"uuid,omitempty"`

	// ── Execution ────────────────────────────────────────────────────
	Execute string `yaml:"exec,omitempty"`    // -e: program run per record
	Command string `yaml:"command,omitempty"` // -c: shell command run per record

	// ── Host bridge ──────────────────────────────────────────────────
	Serve        string `yaml:"serve,omitempty"` // WebSocket listen address
	PrintAddress bool   `yaml:"-"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose   int    `yaml:"verbose,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"` // "console" or "json"
}

// ── Delimiter helpers ────────────────────────────────────────────────

// ParseDelimiter interprets Go-style escapes such as `\n` or `\r\n` so
// delimiters can be given on a command line.  Text that is not a valid
// escaped string is used verbatim.
func ParseDelimiter(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	if out, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`); err == nil {
		return out
	}
	return s
}

// ── UUID ─────────────────────────────────────────────────────────────

var uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ServiceUUID returns the configured UUID, or the fixed btserial UUID.
func (c *Config) ServiceUUID() string {
	if c.UUID == "" {
		return transport.ServiceUUID
	}
	return strings.ToLower(c.UUID)
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError carrying a hint.
func (c *Config) Validate() error {
	modes := 0
	for _, on := range []bool{c.Listen, c.Serve != "", c.PrintAddress} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return &bterr.ConfigError{
			Field:   "listen",
			Message: "-l, --serve and --address are mutually exclusive",
			Hint:    "pick one mode per run",
		}
	}

	switch {
	case c.Listen || c.Serve != "" || c.PrintAddress:
		if c.Address != "" {
			return &bterr.ConfigError{
				Field:   "device",
				Value:   c.Address,
				Message: "a device address is only used when connecting",
				Hint:    "drop the address, or drop -l/--serve/--address",
			}
		}
	default:
		if c.Address == "" {
			return &bterr.ConfigError{
				Field:   "device",
				Message: "device address is required",
				Hint:    "btserial AA:BB:CC:DD:EE:FF, or -l to wait for a connection (use --help for usage)",
			}
		}
		if _, err := transport.ParseAddress(c.Address); err != nil {
			return &bterr.ConfigError{
				Field:   "device",
				Value:   c.Address,
				Message: "not a Bluetooth device address",
				Hint:    "use six hex pairs separated by ':' or '-'",
			}
		}
	}

	if c.Execute != "" && c.Command != "" {
		return &bterr.ConfigError{Field: "exec", Message: "-e and -c are mutually exclusive"}
	}
	if (c.Execute != "" || c.Command != "") && c.Serve != "" {
		return &bterr.ConfigError{
			Field:   "serve",
			Value:   c.Serve,
			Message: "--serve cannot be combined with -e or -c",
			Hint:    "API clients drive the channel themselves",
		}
	}
	if (c.Execute != "" || c.Command != "") && c.Delimiter == "" {
		return &bterr.ConfigError{
			Field:   "delimiter",
			Message: "-e and -c need a record delimiter",
			Hint:    `use -d '\n'`,
		}
	}
	if c.Relisten && !c.Listen {
		return &bterr.ConfigError{
			Field:   "relisten",
			Message: "--relisten only applies to listen mode",
			Hint:    "add -l",
		}
	}

	switch c.Backend {
	case "profile", "socket":
	default:
		return &bterr.ConfigError{
			Field:   "backend",
			Value:   c.Backend,
			Message: "unknown backend",
			Hint:    `use "profile" (BlueZ) or "socket" (raw RFCOMM)`,
		}
	}
	if c.Channel < 1 || c.Channel > MaxChannel {
		return &bterr.ConfigError{
			Field:   "channel",
			Value:   c.Channel,
			Message: fmt.Sprintf("RFCOMM channel must be 1-%d", MaxChannel),
		}
	}
	if c.FallbackChannel < 1 || c.FallbackChannel > MaxChannel {
		return &bterr.ConfigError{
			Field:   "fallback-channel",
			Value:   c.FallbackChannel,
			Message: fmt.Sprintf("RFCOMM channel must be 1-%d", MaxChannel),
		}
	}
	if c.UUID != "" && !uuidRe.MatchString(c.UUID) {
		return &bterr.ConfigError{
			Field:   "uuid",
			Value:   c.UUID,
			Message: "malformed service UUID",
			Hint:    "expected 8-4-4-4-12 hex digits",
		}
	}
	if c.ReadBufferSize < 1 {
		return &bterr.ConfigError{Field: "read-buffer-size", Value: c.ReadBufferSize, Message: "must be positive"}
	}
	if c.FallbackDelay < 0 {
		return &bterr.ConfigError{Field: "fallback-delay", Value: c.FallbackDelay, Message: "must not be negative"}
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return &bterr.ConfigError{
			Field:   "log-format",
			Value:   c.LogFormat,
			Message: "unknown log format",
			Hint:    `use "console" or "json"`,
		}
	}
	return nil
}
