// Gray Logic Serial Bus - command-bus protocol engine
//
// This is the main entry point for the serial bus service. It owns the
// USB/serial command-bus devices (relay boards, inverters) and exposes them
// to the rest of Gray Logic over MQTT:
//   - Requests arrive on graylogic/request/serial/{handler}/{request_id}
//   - Replies, device states and discovery results are published back
//   - Reported states are persisted in SQLite and written to InfluxDB
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	serialbridge "github.com/nerrad567/gray-logic-serialbus/internal/bridges/serial"
	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-serialbus/internal/serialbus"
	"github.com/nerrad567/gray-logic-serialbus/internal/statestore"
	"github.com/nerrad567/gray-logic-serialbus/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Serial Bus",
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

	// Build handlers before touching infrastructure so a bad profile fails fast.
	handlers, err := buildHandlers(cfg, log)
	if err != nil {
		return err
	}

	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
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

	if migrateErr := db.Migrate(ctx, migrations.Source); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := statestore.New(db.DB)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	opts := serialbridge.Options{
		MQTT:             mqttClient,
		Handlers:         handlers,
		Store:            store,
		DefaultTrust:     cfg.Security.Sensitivity.DefaultTrust,
		HistoryRetention: time.Duration(cfg.Database.HistoryRetentionDays) * 24 * time.Hour,
		Version:          version,
		Logger:           log.Component("bridge"),
	}
	// Assigned only when set so the interface is never a typed nil.
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := serialbridge.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating serial bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting serial bridge: %w", err)
	}
	defer func() {
		log.Info("stopping serial bridge")
		bridge.Stop()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal", "handlers", len(handlers))

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Serial bridge
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("Gray Logic Serial Bus stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildHandlers creates one protocol handler per enabled handler entry.
//
// Parameters:
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - []serialbridge.HandlerEntry: Handlers keyed by their configured ID
//   - error: If no handler is enabled or a profile is unknown
func buildHandlers(cfg *config.Config, log *logging.Logger) ([]serialbridge.HandlerEntry, error) {
	enabled := cfg.EnabledHandlers()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no serial handlers enabled")
	}

	frames := serialbus.FrameOptions{
		PollInterval: cfg.Serial.PollInterval(),
		Timeout:      cfg.Serial.FrameTimeout(),
		DrainTimeout: cfg.Serial.DrainTimeout(),
	}
	policy := serialbus.NewSensitivityPolicy(cfg.Security.Sensitivity.Read, cfg.Security.Sensitivity.Write)

	entries := make([]serialbridge.HandlerEntry, 0, len(enabled))
	for _, hc := range enabled {
		profile, err := serialbus.LookupProfile(hc.Profile)
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", hc.ID, err)
		}

		h, err := serialbus.NewHandler(serialbus.HandlerOptions{
			Profile: profile,
			Pattern: cfg.PatternFor(hc),
			Retries: cfg.Serial.Retries,
			Frames:  frames,
			Policy:  policy,
			Opener:  serialbus.SerialOpener{BaudRate: cfg.Serial.BaudRate},
			Logger:  log.Component("serialbus").With("handler", hc.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", hc.ID, err)
		}

		log.Info("serial handler configured",
			"handler", hc.ID,
			"profile", profile.Name,
			"pattern", cfg.PatternFor(hc),
		)
		entries = append(entries, serialbridge.HandlerEntry{ID: hc.ID, Handler: h})
	}
	return entries, nil
}

// connectInflux connects to InfluxDB when enabled. A nil client means
// telemetry is off.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
