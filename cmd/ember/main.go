// Ember Core - Home Hub Runtime
//
// This is the main entry point for the Ember Core application. Ember is
// a local-first home hub: adapters fetch data from external services and
// the host, entity managers own registration and polling, and state is
// projected to MQTT, InfluxDB, and WebSocket clients.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/emberhaus/ember-core/migrations"

	"github.com/emberhaus/ember-core/internal/adapters/sysmon"
	"github.com/emberhaus/ember-core/internal/adapters/weather"
	"github.com/emberhaus/ember-core/internal/api"
	"github.com/emberhaus/ember-core/internal/coordinator"
	"github.com/emberhaus/ember-core/internal/entity"
	"github.com/emberhaus/ember-core/internal/infrastructure/config"
	"github.com/emberhaus/ember-core/internal/infrastructure/database"
	"github.com/emberhaus/ember-core/internal/infrastructure/influxdb"
	"github.com/emberhaus/ember-core/internal/infrastructure/logging"
	"github.com/emberhaus/ember-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
//nolint:gocognit,gocyclo // Startup wiring is linear; splitting it obscures ordering
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Ember Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	entityRepo := entity.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
	} else {
		log.Info("MQTT disabled")
	}

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

	// Assemble the state projection pipeline. Without MQTT the WebSocket
	// hub receives projections directly; with MQTT the API server relays
	// broker traffic instead.
	var sinks entity.MultiSink
	var hub *api.Hub
	if mqttClient != nil {
		sinks = append(sinks, entity.NewMQTTSink(mqttClient, log))
	} else {
		hub = api.NewHub(cfg.WebSocket, log)
		go hub.Run(ctx)
		sinks = append(sinks, api.HubStateSink(hub))
	}
	if influxClient != nil {
		sinks = append(sinks, entity.NewInfluxSink(influxClient))
	}

	// Sensor domain manager
	sensorMgr, err := entity.NewManager(entity.ManagerOptions{
		Domain:               "sensor",
		Repository:           entityRepo,
		Sink:                 sinks,
		Logger:               log.With("component", "entity"),
		ScanInterval:         cfg.Polling.ScanInterval,
		UpdateTimeout:        cfg.Polling.UpdateTimeout,
		MaxConcurrentUpdates: cfg.Polling.MaxConcurrentUpdates,
	})
	if err != nil {
		return fmt.Errorf("creating sensor manager: %w", err)
	}
	defer func() {
		log.Info("shutting down sensor manager")
		sensorMgr.Shutdown()
	}()

	// Weather adapter (optional)
	var coordinators []*coordinator.Coordinator
	if cfg.Adapters.Weather.Enabled {
		wx, wxErr := weather.New(cfg.Adapters.Weather, cfg.Site, cfg.Polling, log.With("component", "weather"))
		if wxErr != nil {
			return fmt.Errorf("creating weather adapter: %w", wxErr)
		}
		defer func() {
			log.Info("shutting down weather adapter")
			wx.Shutdown()
		}()

		// A failed first fetch is tolerated; the coordinator keeps
		// retrying on its cadence and entities stay unavailable.
		if refreshErr := wx.Coordinator().FirstRefresh(ctx); refreshErr != nil {
			var startupErr *coordinator.StartupError
			if errors.As(refreshErr, &startupErr) {
				log.Warn("weather first refresh failed, starting degraded", "error", refreshErr)
			} else {
				return fmt.Errorf("weather first refresh: %w", refreshErr)
			}
		}

		if addErr := sensorMgr.AddEntities(ctx, wx.Entities(), false); addErr != nil {
			log.Warn("some weather entities were rejected", "error", addErr)
		}
		if startErr := wx.Coordinator().Start(ctx); startErr != nil {
			return fmt.Errorf("starting weather coordinator: %w", startErr)
		}
		coordinators = append(coordinators, wx.Coordinator())
		log.Info("weather adapter started", "interval", wx.Coordinator().Interval())
	} else {
		log.Info("weather adapter disabled")
	}

	// Host monitor adapter (optional)
	if cfg.Adapters.Sysmon.Enabled {
		sm, smErr := sysmon.New(cfg.Adapters.Sysmon)
		if smErr != nil {
			return fmt.Errorf("creating sysmon adapter: %w", smErr)
		}
		if addErr := sensorMgr.AddEntities(ctx, sm.Entities(), true); addErr != nil {
			log.Warn("some host sensors were rejected", "error", addErr)
		}
		log.Info("host monitor adapter started")
	} else {
		log.Info("host monitor adapter disabled")
	}

	// Publish coordinator health to MQTT and InfluxDB on every attempt
	for _, coord := range coordinators {
		announceCoordinator(coord, mqttClient, influxClient, log)
	}

	// Start the poll loop
	if startErr := sensorMgr.Start(ctx); startErr != nil {
		return fmt.Errorf("starting sensor manager: %w", startErr)
	}
	log.Info("sensor manager started", "entities", sensorMgr.Len())

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		Logger:       log.With("component", "api"),
		Managers:     []*entity.Manager{sensorMgr},
		Coordinators: coordinators,
		MQTT:         mqttClient,
		ExternalHub:  hub,
		Version:      version,
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
	// API server, adapters, manager, InfluxDB, MQTT, database.

	log.Info("Ember Core stopped")
	return nil
}

// announceCoordinator attaches a listener that pushes the coordinator's
// health to the retained MQTT status topic and the time-series store
// after every fetch attempt.
func announceCoordinator(coord *coordinator.Coordinator, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) {
	if mqttClient == nil && influxClient == nil {
		return
	}

	coord.AddListener(func() {
		if influxClient != nil {
			influxClient.WriteCoordinatorMetric(coord.Name(), "consecutive_failures", float64(coord.ConsecutiveFailures()))
		}

		if mqttClient == nil {
			return
		}
		status := map[string]any{
			"name":                 coord.Name(),
			"last_update_success":  coord.LastUpdateSuccess(),
			"consecutive_failures": coord.ConsecutiveFailures(),
		}
		if lastErr := coord.LastError(); lastErr != nil {
			status["last_error"] = lastErr.Error()
		}
		payload, err := json.Marshal(status)
		if err != nil {
			return
		}
		topic := mqtt.Topics{}.CoordinatorStatus(coord.Name())
		if pubErr := mqttClient.PublishRetained(topic, payload); pubErr != nil {
			log.Debug("coordinator status publish failed", "coordinator", coord.Name(), "error", pubErr)
		}
	})
}

// getConfigPath returns the configuration file path.
// Uses EMBER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("EMBER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
