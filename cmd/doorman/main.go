// Doorman Core - IoT door and camera gateway
//
// This is the main entry point for the Doorman Core application. Doorman
// connects ESP32 door locks and cameras to a reception dashboard:
//   - Device registry with QR-code activation
//   - Real-time WebSocket gateway for devices and dashboards
//   - Visitor approval workflow with paired door unlock
//   - Command dispatch over MQTT with acknowledgment tracking
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/carrick-labs/doorman-core/migrations"

	"github.com/carrick-labs/doorman-core/internal/api"
	"github.com/carrick-labs/doorman-core/internal/auth"
	"github.com/carrick-labs/doorman-core/internal/command"
	"github.com/carrick-labs/doorman-core/internal/device"
	"github.com/carrick-labs/doorman-core/internal/gateway"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/config"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/database"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/influxdb"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/logging"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/mqtt"
	"github.com/carrick-labs/doorman-core/internal/visitor"
)

// Set at build time:
//
//	go build -ldflags "-X main.version=1.2.0 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run holds the startup and shutdown sequence, separate from main so
// tests can drive it with their own context.
func run(ctx context.Context) error {
	// Bootstrap logger until config says otherwise
	log := logging.Default()
	log.Info("starting Doorman Core",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and migrate
	db, err := database.Open(database.Config{
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

	// Device registry
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	// Seed the first admin account on an empty database
	userRepo := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedAdmin(ctx, userRepo, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	// Connect to MQTT broker
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
	mqttClient.SetLogger(log)
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

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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

	// Domain wiring. The visitor engine, hub, bridge and dispatcher
	// reference each other; construct them first, then close the loop
	// with setters before anything starts.
	visitorEngine := visitor.NewEngine(visitor.NewSQLiteRepository(db.DB), nil)
	visitorEngine.SetLogger(log)

	hub := gateway.NewHub(cfg.WebSocket, registry, nil, visitorEngine, cfg.Security.JWT.Secret, log)

	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
	bridge := gateway.NewBridge(mqttClient, topics, hub, nil, visitorEngine, log)

	dispatcher := command.NewDispatcher(bridge, cfg.GetAckTimeout(), cfg.GetRetention())
	dispatcher.SetLogger(log)

	bridge.SetCommands(dispatcher)
	hub.SetCommander(dispatcher)
	visitorEngine.SetUnlocker(bridge)
	visitorEngine.SetNotifier(hub)
	dispatcher.SetNotifier(hub)
	if influxClient != nil {
		hub.SetMetrics(influxClient)
	}

	if startErr := bridge.Start(); startErr != nil {
		return fmt.Errorf("starting MQTT bridge: %w", startErr)
	}
	log.Info("MQTT bridge started", "response_topic", topics.ResponseWildcard())

	go hub.Run(ctx)
	go dispatcher.Run(ctx)

	// HTTP API
	apiServer, err := api.New(api.Deps{
		Config:   cfg.Server,
		Security: cfg.Security,
		Logger:   log,
		Registry: registry,
		Users:    userRepo,
		Tokens:   auth.NewTokenRepository(db.DB),
		Visitors: visitorEngine,
		Commands: dispatcher,
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (stops accepting requests)
	// 2. InfluxDB (if enabled)
	// 3. MQTT (publishes offline status via LWT settings)
	// 4. Database

	log.Info("Doorman Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DOORMAN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DOORMAN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when telemetry is disabled.
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
