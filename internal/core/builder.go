package core

import (
	"fmt"

	"btserial/config"
	"btserial/internal/capability"
	"btserial/internal/host"
	"btserial/internal/manager"
	"btserial/internal/metrics"
	"btserial/internal/retry"
	"btserial/internal/transport"
	"btserial/util"
)

// Build constructs the appropriate Mode from the given configuration.
// The mode owns a fresh Manager bound to factory; the caller keeps
// ownership of factory itself.
func Build(cfg *config.Config, logger *util.Logger, factory transport.Factory) (Mode, error) {
	switch {
	case cfg.PrintAddress:
		return &AddressMode{Manager: buildManager(cfg, logger, factory)}, nil
	case cfg.Serve != "":
		return buildServe(cfg, logger, factory), nil
	case cfg.Listen:
		return buildListen(cfg, logger, factory), nil
	default:
		return buildConnect(cfg, logger, factory)
	}
}

// SystemOptions maps the Bluetooth section of cfg onto the platform
// transport.
func SystemOptions(cfg *config.Config) transport.SystemOptions {
	return transport.SystemOptions{
		Backend:         transport.Backend(cfg.Backend),
		Adapter:         cfg.Adapter,
		UUID:            cfg.ServiceUUID(),
		Channel:         uint8(cfg.Channel),
		FallbackChannel: uint8(cfg.FallbackChannel),
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildConnect(cfg *config.Config, logger *util.Logger, factory transport.Factory) (Mode, error) {
	addr, err := transport.ParseAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &ConnectMode{
		Manager:    buildManager(cfg, logger, factory),
		Capability: buildCapability(cfg, logger),
		Endpoint:   transport.Endpoint{Address: addr},
		Logger:     logger,
	}, nil
}

func buildListen(cfg *config.Config, logger *util.Logger, factory transport.Factory) Mode {
	return &ListenMode{
		Manager:    buildManager(cfg, logger, factory),
		Capability: buildCapability(cfg, logger),
		Relisten:   cfg.Relisten,
		Logger:     logger,
	}
}

func buildServe(cfg *config.Config, logger *util.Logger, factory transport.Factory) Mode {
	m := buildManager(cfg, logger, factory)
	d := host.NewDispatcher(m, logger)
	return &ServeMode{
		Manager: m,
		Server:  host.NewServer(d, logger, config.DefaultPingInterval, config.DefaultGracePeriod),
		Address: cfg.Serve,
		Logger:  logger,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildManager translates cfg into manager options.
func buildManager(cfg *config.Config, logger *util.Logger, factory transport.Factory) *manager.Manager {
	svc := transport.Service{
		UUID:    cfg.ServiceUUID(),
		Name:    cfg.ServiceName,
		Channel: uint8(cfg.Channel),
	}
	breaker := &retry.CircuitBreakerConfig{
		Name:         "relisten",
		MaxFailures:  config.DefaultRelistenMaxFailures,
		ResetTimeout: config.DefaultRelistenPause,
		OnStateChange: func(from, to retry.State) {
			logger.Verbose("relisten breaker %s -> %s", from, to)
		},
	}
	return manager.New(factory,
		manager.WithLogger(logger),
		manager.WithMetrics(metrics.New()),
		manager.WithService(svc),
		manager.WithDelimiter(cfg.Delimiter),
		manager.WithReadBufferSize(cfg.ReadBufferSize),
		manager.WithFallbackDelay(cfg.FallbackDelay),
		manager.WithRelisten(cfg.Relisten),
		manager.WithRelistenBreaker(breaker),
		manager.WithStrictSend(cfg.StrictSend),
	)
}

// buildCapability selects what the command line does with the channel.
func buildCapability(cfg *config.Config, logger *util.Logger) capability.Capability {
	if cfg.Execute != "" || cfg.Command != "" {
		return &capability.Exec{
			Program:   cfg.Execute,
			Command:   cfg.Command,
			Delimiter: cfg.Delimiter,
			Logger:    logger,
		}
	}
	return &capability.Relay{Logger: logger}
}
