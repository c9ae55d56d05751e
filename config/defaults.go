package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultDelimiter terminates records when none is configured.
	DefaultDelimiter = "\n"

	// DefaultBackend selects BlueZ profile registration for both
	// listening and the primary dial strategy.
	DefaultBackend = "profile"

	// DefaultChannel is the RFCOMM channel advertised when listening.
	DefaultChannel = 1

	// DefaultFallbackChannel is the channel the fallback dial strategy
	// connects to directly, without a service lookup.
	DefaultFallbackChannel = 1

	// MaxChannel is the highest valid RFCOMM channel.
	MaxChannel = 30

	// DefaultServiceName is the name advertised in the service record.
	DefaultServiceName = "btserial"

	// DefaultFallbackDelay is the pause between the primary and the
	// fallback dial strategy.
	DefaultFallbackDelay = 250 * time.Millisecond

	// DefaultReadBufferSize is the session read size.
	DefaultReadBufferSize = 1024

	// DefaultRelistenMaxFailures is how many relistens in a row may fail
	// to bind before relistening pauses.
	DefaultRelistenMaxFailures = 3

	// DefaultRelistenPause is how long relistening stays paused.
	DefaultRelistenPause = 30 * time.Second

	// DefaultLogFormat is the human-readable console encoder.
	DefaultLogFormat = "console"

	// DefaultPingInterval keeps WebSocket clients of --serve alive.
	DefaultPingInterval = 20 * time.Second

	// DefaultGracePeriod is how long --serve waits for clients on
	// shutdown.
	DefaultGracePeriod = 5 * time.Second
)

// Default returns a Config populated with the defaults above.
func Default() *Config {
	return &Config{
		Delimiter:       DefaultDelimiter,
		Backend:         DefaultBackend,
		Channel:         DefaultChannel,
		FallbackChannel: DefaultFallbackChannel,
		ServiceName:     DefaultServiceName,
		FallbackDelay:   DefaultFallbackDelay,
		ReadBufferSize:  DefaultReadBufferSize,
		LogFormat:       DefaultLogFormat,
	}
}
