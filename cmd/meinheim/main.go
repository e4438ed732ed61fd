// meinHeim Core - home automation controller
//
// meinHeim drives a Tinkerforge stack through brickd: remote-controlled
// power sockets, an ambient light sensor and a distance sensor. Two rules
// run in the background (timed watering and a desk lamp that follows
// presence and daylight), and a small web page switches sockets, toggles
// rules and shows sensor values and the next BVG departures.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/meinheim-core/migrations"

	"github.com/nerrad567/meinheim-core/internal/api"
	"github.com/nerrad567/meinheim-core/internal/audit"
	"github.com/nerrad567/meinheim-core/internal/bridges/tinkerforge"
	"github.com/nerrad567/meinheim-core/internal/device"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/config"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/database"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/logging"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meinheim-core/internal/process"
	"github.com/nerrad567/meinheim-core/internal/rules"
	"github.com/nerrad567/meinheim-core/internal/transit"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	brickdReadyTimeout = 15 * time.Second
	shutdownTimeout    = 15 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, blocks until ctx is cancelled and tears the
// components down in reverse order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting meinHeim Core", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // last thing we do
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	checks := map[string]api.HealthChecker{"database": db}

	// Optional infrastructure. The interface-typed variables stay nil when a
	// component is disabled so no typed nil pointer reaches a consumer.
	var (
		publisher interface {
			Publish(topic string, payload []byte, qos byte, retained bool) error
		}
		series device.SeriesWriter
	)

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
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		publisher = mqttClient
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		series = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Hardware
	if cfg.Tinkerforge.Brickd.Managed {
		brickd, brickdErr := startBrickd(ctx, cfg, log)
		if brickdErr != nil {
			return brickdErr
		}
		defer func() {
			log.Info("stopping brickd")
			if stopErr := brickd.Stop(); stopErr != nil {
				log.Error("error stopping brickd", "error", stopErr)
			}
		}()
	}

	tfClient, err := tinkerforge.Connect(ctx, tinkerforge.ClientConfig{
		Address:           cfg.BrickdAddr(),
		ConnectTimeout:    time.Duration(cfg.Tinkerforge.ConnectTimeout) * time.Millisecond,
		RequestTimeout:    time.Duration(cfg.Tinkerforge.RequestTimeout) * time.Millisecond,
		ReconnectInterval: time.Duration(cfg.Tinkerforge.ReconnectInterval) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("connecting to brickd: %w", err)
	}
	defer func() {
		log.Info("closing brickd connection")
		if closeErr := tfClient.Close(); closeErr != nil {
			log.Error("error closing brickd connection", "error", closeErr)
		}
	}()
	tfClient.SetLogger(log)

	gateway := tinkerforge.NewGateway(tfClient, tinkerforge.GatewayConfig{
		Serialize:      cfg.Tinkerforge.Serialize,
		RequestTimeout: time.Duration(cfg.Tinkerforge.RequestTimeout) * time.Millisecond,
	})
	gateway.SetLogger(log)
	if enumErr := gateway.Enumerate(ctx); enumErr != nil {
		log.Warn("initial enumeration failed", "error", enumErr)
	}
	log.Info("brickd connected", "address", cfg.BrickdAddr())

	// Sockets, telemetry and the live feed
	hub := api.NewHub(cfg.WebSocket, log)
	deviceDeps := device.Deps{
		Switcher: gateway,
		Audit:    auditRepo,
		Series:   series,
		Hub:      hub,
		Logger:   log,
	}
	if publisher != nil {
		deviceDeps.MQTT = publisher
	}
	sockets, err := device.NewRegistry(device.SocketsFromConfig(cfg.Sockets), deviceDeps)
	if err != nil {
		return fmt.Errorf("building socket registry: %w", err)
	}
	gateway.SetOnReading(device.NewTelemetry(deviceDeps).Record)

	// Rules
	ruleDeps := rules.RegistryDeps{
		Store:  rules.NewSQLiteStateStore(db.DB),
		Audit:  auditRepo,
		Hub:    hub,
		Logger: log,
	}
	if publisher != nil {
		ruleDeps.MQTT = publisher
	}
	ruleRegistry := rules.NewRegistry(ruleDeps)
	if buildErr := registerRules(cfg, ruleRegistry, sockets, gateway, log); buildErr != nil {
		return buildErr
	}
	defer func() {
		log.Info("stopping rules")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := ruleRegistry.Shutdown(stopCtx); stopErr != nil {
			log.Error("error stopping rules", "error", stopErr)
		}
	}()
	if restoreErr := ruleRegistry.Restore(ctx, map[string]bool{
		ruleWatering: cfg.Rules.Watering.Enabled,
		ruleDeskLamp: cfg.Rules.DeskLamp.Enabled,
	}); restoreErr != nil {
		return fmt.Errorf("restoring rules: %w", restoreErr)
	}

	// Commands over MQTT
	if mqttClient != nil {
		if subErr := subscribeCommands(mqttClient, sockets, ruleRegistry, log); subErr != nil {
			return subErr
		}
	}

	// HTTP
	apiDeps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Sockets: sockets,
		Rules:   ruleRegistry,
		Sensors: gateway,
		History: auditRepo,
		Hub:     hub,
		Checks:  checks,
		DB:      db.DB,
		Version: version,
	}
	if cfg.Transit.Enabled {
		apiDeps.Transit = transit.NewClient(transit.Config{
			Endpoint: cfg.Transit.Endpoint,
			Station:  cfg.Transit.Station,
			Limit:    cfg.Transit.Limit,
			Timeout:  time.Duration(cfg.Transit.Timeout) * time.Second,
			RetryMax: cfg.Transit.RetryMax,
			Logger:   log,
		})
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if startErr := server.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		<-gctx.Done()
		return server.Close()
	})

	log.Info("initialisation complete", "listen", cfg.ListenAddr())
	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns MEINHEIM_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("MEINHEIM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func startBrickd(ctx context.Context, cfg *config.Config, log *logging.Logger) (*process.Supervisor, error) {
	sup := process.New(process.BrickdConfig(cfg.Tinkerforge, cfg.BrickdAddr()))
	sup.SetLogger(log)
	if err := sup.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting brickd: %w", err)
	}
	if err := process.WaitReady(ctx, cfg.BrickdAddr(), brickdReadyTimeout); err != nil {
		sup.Stop() //nolint:errcheck // already failing
		return nil, fmt.Errorf("waiting for brickd: %w", err)
	}
	log.Info("brickd started", "binary", cfg.Tinkerforge.Brickd.Binary)
	return sup, nil
}
