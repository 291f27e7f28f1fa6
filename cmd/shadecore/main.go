// Shade Core - motorised shade controller
//
// This is the main entry point for the Shade Core service. It keeps one
// motorised shade in step with its MQTT actuator: persisted position and
// presets, optimistic commands confirmed against device reports, timed
// schedule entries, and a REST/WebSocket surface for local panels.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/shade-core/migrations"

	"github.com/nerrad567/shade-core/internal/api"
	"github.com/nerrad567/shade-core/internal/automation"
	"github.com/nerrad567/shade-core/internal/infrastructure/config"
	"github.com/nerrad567/shade-core/internal/infrastructure/database"
	"github.com/nerrad567/shade-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/shade-core/internal/infrastructure/logging"
	"github.com/nerrad567/shade-core/internal/shade"
	"github.com/nerrad567/shade-core/internal/store"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when SHADECORE_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// historyRetention bounds the position history kept on disk.
	historyRetention = 30 * 24 * time.Hour

	// shutdownTimeout bounds each shutdown step.
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Shade Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	kv := store.NewSQLiteKV(db.DB)
	history := store.NewSQLiteHistory(db.DB)
	if pruned, pruneErr := history.Prune(ctx, historyRetention); pruneErr != nil {
		log.Warn("pruning position history failed", "error", pruneErr)
	} else if pruned > 0 {
		log.Info("position history pruned", "rows", pruned)
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	shadeCfg, err := shadeConfig(cfg)
	if err != nil {
		return err
	}
	reconciler := shade.New(shadeCfg, newMQTTDialer(cfg.MQTT, log), kv, log.With("component", "shade"))
	reconciler.SetHistory(history)
	if influxClient != nil {
		reconciler.SetTelemetry(influxClient)
	}

	hub := api.NewHub(cfg.WebSocket, log)
	removeObserver := reconciler.AddObserver(hub)
	defer removeObserver()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	shadeCtx, stopShade := context.WithCancel(context.Background())
	defer stopShade()
	shadeDone := make(chan error, 1)
	go func() { shadeDone <- reconciler.Run(shadeCtx) }()

	var scheduler *automation.Scheduler
	if cfg.Schedule.Enabled {
		scheduler, err = startScheduler(cfg.Schedule, reconciler, log)
		if err != nil {
			stopShade()
			<-shadeDone
			return err
		}
	} else {
		log.Info("schedule disabled")
	}

	deps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Shade:       reconciler,
		History:     history,
		DB:          db,
		ExternalHub: hub,
		Version:     version,
	}
	if scheduler != nil {
		deps.Schedule = scheduler
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		stopShade()
		<-shadeDone
		return fmt.Errorf("starting API server: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"namespace", shadeCfg.Namespace,
		"api", server.Addr(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if scheduler != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		scheduler.Stop(stopCtx)
		cancel()
	}
	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}

	stopShade()
	select {
	case runErr := <-shadeDone:
		if runErr != nil {
			log.Error("reconciler stopped with error", "error", runErr)
		}
	case <-time.After(shutdownTimeout):
		log.Warn("reconciler did not stop in time")
	}
	stopHub()

	// Deferred Close() calls run in reverse order: InfluxDB, then database.
	log.Info("Shade Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SHADECORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SHADECORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// shadeConfig converts the loaded configuration into reconciler settings.
func shadeConfig(cfg *config.Config) (shade.Config, error) {
	policy, err := shade.ParseResolutionPolicy(cfg.Shade.ResolutionPolicy)
	if err != nil {
		return shade.Config{}, fmt.Errorf("shade config: %w", err)
	}

	presets := make([]shade.Preset, 0, len(cfg.Shade.DefaultPresets))
	for _, p := range cfg.Shade.DefaultPresets {
		presets = append(presets, shade.Preset{Name: p.Name, Value: shade.Clamp(p.Value)})
	}

	return shade.Config{
		Namespace:      cfg.Shade.Namespace,
		SensorRoot:     cfg.Shade.SensorRoot,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2 by config.Validate
		ReconnectDelay: cfg.ReconnectDelay(),
		ConfirmDelay:   cfg.Shade.ConfirmDelay(),
		ConfirmTimeout: cfg.Shade.ConfirmTimeout(),
		Policy:         policy,
		DefaultPresets: presets,
	}, nil
}

// startScheduler builds and starts the timed preset scheduler.
//
// Parameters:
//   - cfg: Schedule section of config.yaml
//   - target: The shade the entries drive
//   - log: Logger instance
//
// Returns:
//   - *automation.Scheduler: Running scheduler
//   - error: If the timezone or an entry is invalid
func startScheduler(cfg config.ScheduleConfig, target automation.Shade, log *logging.Logger) (*automation.Scheduler, error) {
	loc, err := automation.ParseLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone: %w", err)
	}

	entries := make([]automation.Entry, 0, len(cfg.Entries))
	for _, e := range cfg.Entries {
		entries = append(entries, automation.Entry{Spec: e.Cron, Preset: e.Preset, Position: e.Position})
	}

	scheduler, err := automation.NewScheduler(target, entries, loc, log.With("component", "schedule"))
	if err != nil {
		if errors.Is(err, automation.ErrInvalidEntry) {
			return nil, fmt.Errorf("schedule config: %w", err)
		}
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	scheduler.Start()

	log.Info("schedule started", "entries", len(entries), "timezone", loc.String())
	return scheduler, nil
}
