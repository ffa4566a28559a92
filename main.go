// rdkfwupdatemgr is the device-resident firmware update broker. It serves
// org.rdkfwupdater.Service on the system D-Bus, brokers update checks
// against the remote catalog, and coordinates firmware downloads and
// flashes on behalf of registered client applications.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/config"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/daemon"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/service"
)

var progName = filepath.Base(os.Args[0])

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "service":
		runService(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  serve         Register on the system bus and serve update requests
  service       Manage the systemd system service

Run '%s <command> -h' for command-specific help.
`, progName, progName)
}

func runService(args []string) {
	if len(args) == 0 {
		printServiceUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		runServiceInstall(args[1:])
	case "uninstall":
		if err := service.Uninstall(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "status":
		service.Status()
	case "-h", "--help", "help":
		printServiceUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown service command: %s\n\n", args[0])
		printServiceUsage()
		os.Exit(1)
	}
}

func runServiceInstall(args []string) {
	fs := flag.NewFlagSet("service install", flag.ExitOnError)
	start := fs.Bool("start", false, "Start the service immediately after installing")
	configPath := fs.String("config", "", "Config file path to embed in the unit file")
	fs.Parse(args) //nolint:errcheck

	if err := service.Install(service.Options{
		ConfigPath: *configPath,
		Start:      *start,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printServiceUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s service <command> [options]

Commands:
  install       Install the unit and bus policy, then enable the service
  uninstall     Stop, disable, and remove the service
  status        Show the service status

Install options:
  --start       Start the service immediately after installing
  --config      Config file path to embed in the unit file's ExecStart
`, progName)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: "+config.DefaultPath+")")
	busAddress := fs.String("bus-address", "", "D-Bus address to connect to (default: system bus)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "Log format: text (colored) or json")
	operationTimeout := fs.Duration("operation-timeout", 0, "Force-fail a stuck operation after this long (0 = config default)")
	xconfURL := fs.String("xconf-url", "", "Update catalog URL (overrides config)")
	downloadDir := fs.String("download-dir", "", "Firmware image directory (overrides config)")
	fs.Parse(args) //nolint:errcheck

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Flags given on the command line win over the config file.
	set := setFlags(fs)
	if set["log-level"] || cfg.LogLevel == "" {
		cfg.LogLevel = *logLevel
	}
	if set["log-format"] || cfg.LogFormat == "" {
		cfg.LogFormat = *logFormat
	}
	if set["operation-timeout"] {
		cfg.OperationTimeout = config.Duration(*operationTimeout)
	}
	if set["xconf-url"] {
		cfg.Xconf.URL = *xconfURL
	}
	if set["download-dir"] {
		cfg.Download.Dir = *downloadDir
	}

	setupLogging(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := daemon.Run(ctx, daemon.Config{
		BusAddress: *busAddress,
		App:        cfg,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(levelName, format string) {
	level := parseLogLevel(levelName)

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		// When running under systemd, the journal adds its own timestamps.
		underSystemd := os.Getenv("INVOCATION_ID") != ""
		opts := &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    underSystemd,
		}
		if underSystemd {
			opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return a
			}
		}
		handler = tint.NewHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig loads a config file. An explicit path that doesn't exist is an
// error; a missing default path means built-in defaults.
func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s", explicitPath)
		}
		return config.Load(explicitPath)
	}
	return config.Load(config.DefaultPath)
}

// setFlags returns the set of flag names that were explicitly provided on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	m := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { m[f.Name] = true })
	return m
}
