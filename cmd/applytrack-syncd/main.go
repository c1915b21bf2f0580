package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/clawinfra/applytrack/internal/api"
	"github.com/clawinfra/applytrack/internal/config"
	"github.com/clawinfra/applytrack/internal/offline"
	"github.com/clawinfra/applytrack/internal/persist"
	"github.com/clawinfra/applytrack/internal/transport"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

const beaconGrace = 2 * time.Second

// App holds all the runtime components
type App struct {
	Config      *config.Config
	ConfigPath  string
	Logger      *slog.Logger
	LogLevel    *slog.LevelVar
	Store       persist.Adapter
	Sender      *transport.HTTPSender
	Beacon      transport.Beacon
	Queue       *offline.Queue
	Prober      *offline.Prober
	Maintenance *offline.Maintenance
	APIServer   *api.Server
	Watcher     *config.Watcher

	reloadMu  sync.Mutex
	looping   bool
	ctx       context.Context
	cancel    context.CancelFunc
	apiDone   chan struct{}
	apiCancel context.CancelFunc
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("applytrack-syncd", flag.ContinueOnError)
	configPath := fs.String("config", "applytrack.yaml", "Path to config file (.json, .yaml, .toml)")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Printf("applytrack-syncd v%s (built %s)\n", version, buildTime)
		return 0
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	if err := startServices(app); err != nil {
		app.Logger.Error("failed to start services", "error", err)
		shutdown(app)
		return 1
	}

	printBanner(app)

	if err := waitForShutdown(app); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}
	return 0
}

// setup initializes all application components
func setup(configPath string) (*App, error) {
	app := &App{ConfigPath: configPath, LogLevel: new(slog.LevelVar)}
	app.Logger = newLogger("text", app.LogLevel)

	app.Logger.Info("starting applytrack-syncd",
		"version", version,
		"config", configPath,
	)

	cfg, err := loadConfig(configPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg

	// Recreate logger with the configured format and level
	app.LogLevel.Set(parseLogLevel(cfg.Log.Level))
	app.Logger = newLogger(cfg.Log.Format, app.LogLevel)
	d := cfg.Durations()

	store, err := persist.Open(cfg.Queue.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.Store = persist.NewRetention(store, d.Retention, app.Logger)

	app.Sender = transport.NewHTTPSender(cfg.Remote.BaseURL, cfg.Remote.Headers, d.RemoteTimeout, app.Logger)

	app.Beacon, err = buildBeacon(cfg, app.Sender, app.Logger)
	if err != nil {
		_ = app.Store.Close()
		return nil, fmt.Errorf("create beacon: %w", err)
	}

	app.Queue = offline.New(app.Store, app.Sender, offline.Options{
		Beacon:            app.Beacon,
		Retry:             offline.RetryPolicy{BaseDelay: d.RetryBase, CapDelay: d.RetryCap},
		BatchSize:         cfg.Queue.BatchSize,
		BatchDelay:        d.BatchDelay,
		RequestTimeout:    d.RequestTimeout,
		SyncInterval:      d.SyncInterval,
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
		Retention:         d.Retention,
		StartOnline:       cfg.Connectivity.StartOnline,
		Logger:            app.Logger,
	})

	if cfg.Connectivity.HealthURL != "" {
		app.Prober = offline.NewProber(
			cfg.Connectivity.HealthURL,
			d.ProbeInterval,
			cfg.Connectivity.FailureThreshold,
			app.Queue,
			app.Logger,
		)
	}

	app.Maintenance, err = offline.NewMaintenance(app.Queue, cfg.Queue.PruneSchedule, app.Logger)
	if err != nil {
		_ = app.Beacon.Close()
		_ = app.Store.Close()
		return nil, err
	}

	app.APIServer = api.NewServer(cfg.Addr(), app.Queue, app.Logger)
	app.Watcher = config.NewWatcher(configPath, 0, app.Logger, func() { reloadConfig(app) })

	return app, nil
}

// loadConfig loads configuration from file or creates default
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, creating default")
			cfg = config.DefaultConfig()
			cfg.ApplyEnv(os.Getenv)
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			if err := cfg.Save(path); err != nil {
				return nil, fmt.Errorf("save default config: %w", err)
			}
			logger.Info("default config created", "path", path)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
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

// buildBeacon picks the teardown flush transport.
func buildBeacon(cfg *config.Config, sender *transport.HTTPSender, logger *slog.Logger) (transport.Beacon, error) {
	switch cfg.Beacon.Transport {
	case "http", "":
		return transport.NewHTTPBeacon(sender, beaconGrace), nil
	case "mqtt":
		m := cfg.Beacon.MQTT
		b := transport.NewMQTTBeacon(transport.MQTTConfig{
			Broker:   m.Broker,
			Port:     m.Port,
			ClientID: m.ClientID,
			Username: m.Username,
			Password: m.Password,
			Topic:    m.Topic,
		}, logger)
		if err := b.Connect(); err != nil {
			// Beacons are best effort; a broker that is down only loses the flush.
			logger.Warn("mqtt beacon unavailable", "broker", m.Broker, "error", err)
		}
		return b, nil
	case "none":
		return transport.Discard, nil
	default:
		return nil, fmt.Errorf("unknown beacon transport %q", cfg.Beacon.Transport)
	}
}

// startServices hydrates the queue and starts every background loop.
func startServices(app *App) error {
	app.ctx, app.cancel = context.WithCancel(context.Background())

	if err := app.Queue.Load(app.ctx); err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	if err := app.Queue.Start(app.ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	if app.Prober != nil {
		app.Prober.Start(app.ctx)
	}
	app.Maintenance.Start(app.ctx)
	app.looping = true

	apiCtx, apiCancel := context.WithCancel(app.ctx)
	app.apiCancel = apiCancel
	app.apiDone = make(chan struct{})
	go func() {
		defer close(app.apiDone)
		if err := app.APIServer.Start(apiCtx); err != nil {
			app.Logger.Error("API server error", "error", err)
		}
	}()

	if err := app.Watcher.Start(); err != nil {
		app.Logger.Warn("config hot reload disabled", "error", err)
	}
	return nil
}

// reloadConfig re-reads the config file and applies hot-reloadable sections.
func reloadConfig(app *App) {
	app.reloadMu.Lock()
	defer app.reloadMu.Unlock()

	result, err := app.Config.Reload(app.ConfigPath)
	if err != nil {
		app.Logger.Error("config reload failed", "error", err)
		return
	}
	app.LogLevel.Set(parseLogLevel(app.Config.Log.Level))
	result.LogResult(app.Logger)
}

// printBanner displays the startup banner
func printBanner(app *App) {
	st := app.Queue.Status()
	fmt.Println()
	fmt.Println("  applytrack-syncd v" + version)
	fmt.Printf("  API:     http://%s\n", app.Config.Addr())
	fmt.Printf("  Remote:  %s\n", app.Config.Remote.BaseURL)
	fmt.Printf("  Store:   %s\n", app.Config.Queue.StoreDSN)
	fmt.Printf("  Pending: %d action(s), online=%t\n", st.QueueLength, st.IsOnline)
	fmt.Println()
}

// waitForShutdown waits for termination signal and performs graceful shutdown
func waitForShutdown(app *App) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)
	defer signal.Stop(sigCh)

	for {
		sig := <-sigCh
		if handlePlatformSignal(sig, app) {
			continue
		}
		app.Logger.Info("shutdown signal received", "signal", sig)
		break
	}

	shutdown(app)
	return nil
}

// shutdown stops intake first, then flushes high-priority work through the
// beacon and releases the store.
func shutdown(app *App) {
	if app.apiCancel != nil {
		app.apiCancel()
		<-app.apiDone
	}
	if app.Watcher != nil {
		app.Watcher.Stop()
	}
	if app.looping {
		if app.Prober != nil {
			app.Prober.Stop()
		}
		app.Maintenance.Stop()
	}

	// Cancel first so an in-flight cycle ends now instead of after its
	// request timeouts.
	if app.cancel != nil {
		app.cancel()
	}
	app.Queue.Stop()
	if n := app.Queue.Teardown(); n > 0 {
		app.Logger.Info("beaconed high-priority actions", "count", n)
	}

	if err := app.Beacon.Close(); err != nil {
		app.Logger.Warn("beacon close failed", "error", err)
	}
	if err := app.Store.Close(); err != nil {
		app.Logger.Error("failed to close store", "error", err)
	}

	app.Logger.Info("applytrack-syncd stopped")
}
