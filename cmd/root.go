// Package cmd wires up the CLI flags and dispatches to the btserial core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"btserial/config"
	"btserial/internal/core"
	"btserial/internal/transport"
	"btserial/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X btserial/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// invocation is the outcome of parsing one command line.
type invocation struct {
	cfg     *config.Config
	fs      *flag.FlagSet
	help    bool
	version bool
	dryRun  bool
}

// Execute parses args and runs the appropriate btserial mode.
func Execute(ctx context.Context, args []string) error {
	inv, err := parseArgs(args)
	if err != nil {
		return err
	}
	if inv.help {
		printUsage(inv.fs)
		return nil
	}
	if inv.version {
		fmt.Printf("btserial %s\n", version)
		return nil
	}

	cfg := inv.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	if inv.dryRun {
		printPlan(os.Stderr, cfg)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if cfg.LogFormat == "json" {
		logger.SetJSON(true)
	}

	sys, err := transport.NewSystem(core.SystemOptions(cfg))
	if err != nil {
		return err
	}
	defer sys.Close()

	mode, err := core.Build(cfg, logger, sys)
	if err != nil {
		return err
	}
	if cfg.Execute == "" && cfg.Command == "" && cfg.Serve == "" && !cfg.PrintAddress &&
		term.IsTerminal(int(os.Stdin.Fd())) {
		logger.Info("interactive session: lines typed here are sent to the device, Ctrl-C quits")
	}
	return mode.Run(ctx)
}

// parseArgs layers defaults, the config file, the environment and the
// command line, in that order.
func parseArgs(args []string) (*invocation, error) {
	inv := &invocation{}
	fl := config.Default()
	fs := flag.NewFlagSet("btserial", flag.ContinueOnError)
	inv.fs = fs

	// ── connection ───────────────────────────────────────────────
	fs.BoolVarP(&fl.Listen, "listen", "l", false, "Wait for a device to connect")
	fs.BoolVar(&fl.Relisten, "relisten", false, "Keep listening after a session ends (with -l)")
	fs.StringVarP(&fl.Delimiter, "delimiter", "d", `\n`, "Record delimiter for -e/-c (escapes allowed)")
	fs.BoolVar(&fl.StrictSend, "strict-send", false, "Fail writes made while no device is connected")
	fs.DurationVar(&fl.FallbackDelay, "fallback-delay", config.DefaultFallbackDelay, "Pause before the fallback dial")
	fs.IntVar(&fl.ReadBufferSize, "read-buffer-size", config.DefaultReadBufferSize, "Bytes read from the link per chunk")

	// ── bluetooth ────────────────────────────────────────────────
	fs.StringVar(&fl.Backend, "backend", config.DefaultBackend, `Listener backend: "profile" (BlueZ) or "socket"`)
	fs.StringVar(&fl.Adapter, "adapter", "", "Local adapter, e.g. hci0 (default: first found)")
	fs.IntVar(&fl.Channel, "channel", config.DefaultChannel, "RFCOMM channel to listen on")
	fs.IntVar(&fl.FallbackChannel, "fallback-channel", config.DefaultFallbackChannel, "RFCOMM channel for the direct dial")
	fs.StringVar(&fl.ServiceName, "service-name", config.DefaultServiceName, "Advertised service name")
	fs.StringVar(&fl.UUID, "uuid", "", "Service UUID (default: btserial's)")

	// ── execution ────────────────────────────────────────────────
	fs.StringVarP(&fl.Execute, "exec", "e", "", "Run program per received record")
	fs.StringVarP(&fl.Command, "command", "c", "", "Run shell command per received record")

	// ── host bridge ──────────────────────────────────────────────
	fs.StringVar(&fl.Serve, "serve", "", "Serve the WebSocket API on host:port")
	fs.BoolVar(&fl.PrintAddress, "address", false, "Print the local adapter address and exit")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&fl.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVar(&fl.LogFormat, "log-format", config.DefaultLogFormat, `Log format: "console" or "json"`)

	var configPath string
	fs.StringVar(&configPath, "config", "", "YAML config file (or $"+config.ConfigFileEnv+")")
	fs.BoolVar(&inv.dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&inv.version, "version", false, "Print version and exit")
	fs.BoolVarP(&inv.help, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		inv.help = true
	}
	if inv.help || inv.version {
		return inv, nil
	}

	// ── layer ────────────────────────────────────────────────────
	cfg := config.Default()
	if configPath == "" {
		configPath = os.Getenv(config.ConfigFileEnv)
	}
	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	fs.Visit(func(f *flag.Flag) { applyFlag(cfg, fl, f.Name) })

	// ── positional arguments ─────────────────────────────────────
	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		cfg.Address = rest[0]
	default:
		return nil, fmt.Errorf("too many arguments: %q (expected one device address)", rest)
	}

	inv.cfg = cfg
	return inv, nil
}

// applyFlag copies the value of an explicitly set flag from fl to cfg.
func applyFlag(cfg, fl *config.Config, name string) {
	switch name {
	case "listen":
		cfg.Listen = fl.Listen
	case "relisten":
		cfg.Relisten = fl.Relisten
	case "delimiter":
		cfg.Delimiter = config.ParseDelimiter(fl.Delimiter)
	case "strict-send":
		cfg.StrictSend = fl.StrictSend
	case "fallback-delay":
		cfg.FallbackDelay = fl.FallbackDelay
	case "read-buffer-size":
		cfg.ReadBufferSize = fl.ReadBufferSize
	case "backend":
		cfg.Backend = fl.Backend
	case "adapter":
		cfg.Adapter = fl.Adapter
	case "channel":
		cfg.Channel = fl.Channel
	case "fallback-channel":
		cfg.FallbackChannel = fl.FallbackChannel
	case "service-name":
		cfg.ServiceName = fl.ServiceName
	case "uuid":
		cfg.UUID = fl.UUID
	case "exec":
		cfg.Execute = fl.Execute
	case "command":
		cfg.Command = fl.Command
	case "serve":
		cfg.Serve = fl.Serve
	case "address":
		cfg.PrintAddress = fl.PrintAddress
	case "verbose":
		cfg.Verbose = fl.Verbose
	case "log-format":
		cfg.LogFormat = fl.LogFormat
	}
}

// printPlan describes what a run with cfg would do.
func printPlan(w io.Writer, cfg *config.Config) {
	switch {
	case cfg.PrintAddress:
		fmt.Fprintln(w, "mode:     address")
	case cfg.Serve != "":
		fmt.Fprintf(w, "mode:     serve on %s\n", cfg.Serve)
	case cfg.Listen:
		fmt.Fprintf(w, "mode:     listen (relisten=%t)\n", cfg.Relisten)
	default:
		fmt.Fprintf(w, "mode:     connect to %s\n", cfg.Address)
	}
	fmt.Fprintf(w, "backend:  %s (channel %d, fallback %d)\n", cfg.Backend, cfg.Channel, cfg.FallbackChannel)
	fmt.Fprintf(w, "service:  %s %s\n", cfg.ServiceName, cfg.ServiceUUID())
	fmt.Fprintf(w, "delay:    %s\n", cfg.FallbackDelay.Round(time.Millisecond))
	switch {
	case cfg.Execute != "":
		fmt.Fprintf(w, "exec:     %s (delimiter %q)\n", cfg.Execute, cfg.Delimiter)
	case cfg.Command != "":
		fmt.Fprintf(w, "command:  %s (delimiter %q)\n", cfg.Command, cfg.Delimiter)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `btserial - Bluetooth RFCOMM serial channel v%s

Connects to, or waits for, a Bluetooth device speaking the Serial Port
Profile and exposes the link on stdio, to a command, or over WebSocket.

Usage:
  btserial [options] <device>                 Connect
  btserial -l [options]                       Listen
  btserial --serve <host:port> [options]      WebSocket API
  btserial --address                          Print adapter address

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  btserial 00:1A:7D:DA:71:13                  Interactive session
  btserial -l --relisten                      Accept devices one after another
  btserial -l -d ';' -c 'logger -t sensor'    Run a command per record
  btserial --serve 127.0.0.1:8765             Bridge to WebSocket clients
  echo "AT" | btserial 00:1A:7D:DA:71:13      Pipe data
`)
}
