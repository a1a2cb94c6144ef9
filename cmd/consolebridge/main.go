// Gray Logic Console Bridge
//
// This is the main entry point for the console bridge. It keeps one
// SmartGlass session per configured Xbox console and exposes them to the
// rest of the building over MQTT, a REST/WebSocket API, InfluxDB telemetry
// and a NATS event stream.
//
// Usage:
//
//	consolebridge                  run with $GRAYLOGIC_CONFIG or configs/config.yaml
//	consolebridge -hash-password   read a password on stdin and print its Argon2id hash
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-xbox/internal/api"
	"github.com/nerrad567/gray-logic-xbox/internal/audit"
	"github.com/nerrad567/gray-logic-xbox/internal/auth"
	consolebridge "github.com/nerrad567/gray-logic-xbox/internal/bridges/console"
	"github.com/nerrad567/gray-logic-xbox/internal/consoles"
	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/natsbus"
	"github.com/nerrad567/gray-logic-xbox/migrations"
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

const (
	// bridgeID names this bridge in MQTT health reports.
	bridgeID = "xbox-bridge"

	// retentionInterval spaces history and audit pruning.
	retentionInterval = 24 * time.Hour

	// auditRetention is how long audit entries are kept.
	auditRetention = 365 * 24 * time.Hour
)

func main() {
	hashPassword := flag.Bool("hash-password", false, "read a password from stdin and print its Argon2id hash")
	flag.Parse()

	if *hashPassword {
		if err := printPasswordHash(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printPasswordHash hashes the first line of r for an operator entry.
func printPasswordHash(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("password is empty")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic console bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "consoles", len(cfg.Consoles))

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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	consoleRepo := consoles.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	sinks := []consoles.Sink{consoles.NewStoreSink(consoleRepo, log)}

	// Connect to InfluxDB (optional)
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
		sinks = append(sinks, consoles.NewMetricsSink(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to NATS (optional)
	var natsPublisher *natsbus.Publisher
	if cfg.NATS.Enabled {
		natsPublisher, err = natsbus.Connect(ctx, cfg.NATS, log)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer func() {
			log.Info("closing NATS connection")
			if closeErr := natsPublisher.Close(); closeErr != nil {
				log.Error("error closing NATS", "error", closeErr)
			}
		}()
		sinks = append(sinks, consoles.NewStreamSink(natsPublisher, cfg.Logging.Level == "debug", log))
		log.Info("NATS connected", "url", cfg.NATS.URL, "subject_prefix", cfg.NATS.SubjectPrefix)
	} else {
		log.Info("NATS disabled")
	}

	manager, err := consoles.NewManager(consoles.Options{
		Consoles: cfg.Consoles,
		Session:  cfg.Session,
		Logger:   log,
		Sinks:    sinks,
	})
	if err != nil {
		return fmt.Errorf("creating console manager: %w", err)
	}

	// Connect to MQTT and start the bus bridge (optional)
	var (
		mqttClient *mqtt.Client
		bridge     *consolebridge.Bridge
	)
	if cfg.MQTT.Enabled {
		mqttClient, bridge, err = startMQTTBridge(ctx, cfg, manager, auditRepo, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Live event hub is a manager sink whether or not the API listens.
	hub := api.NewHub(cfg.WebSocket, log)
	manager.AddSink(hub)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting console manager: %w", err)
	}
	defer func() {
		log.Info("stopping console manager")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error stopping console manager", "error", closeErr)
		}
	}()
	log.Info("console manager started", "consoles", len(cfg.Consoles))

	if bridge != nil {
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
	}

	if cfg.API.Enabled {
		server, err := startAPI(ctx, cfg, deps{
			log:      log,
			manager:  manager,
			repo:     consoleRepo,
			audit:    auditRepo,
			hub:      hub,
			db:       db,
			mqtt:     mqttClient,
			bridge:   bridge,
			natsConn: natsPublisher,
		})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, natsPublisher); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	go retentionLoop(ctx, cfg.Database.HistoryRetentionDays, consoleRepo, auditRepo, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, MQTT bridge, console
	// manager, hub, MQTT, NATS, InfluxDB, database.
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

// startMQTTBridge connects to the broker and creates the bus bridge. The
// bridge is registered as a manager sink; it is started after the manager.
func startMQTTBridge(ctx context.Context, cfg *config.Config, manager *consoles.Manager,
	auditRepo audit.Repository, log *logging.Logger) (*mqtt.Client, *consolebridge.Bridge, error) {
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
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

	bridge, err := consolebridge.NewBridge(consolebridge.Options{
		Controller:     manager,
		MQTTClient:     mqttClient,
		Consoles:       cfg.Consoles,
		Audit:          auditRepo,
		BridgeID:       bridgeID,
		Version:        version,
		HealthInterval: cfg.GetHealthInterval(),
		Logger:         log,
	})
	if err != nil {
		//nolint:errcheck // already failing
		mqttClient.Close()
		return nil, nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	manager.AddSink(bridge)
	return mqttClient, bridge, nil
}

// deps gathers what the API server is built from.
type deps struct {
	log      *logging.Logger
	manager  *consoles.Manager
	repo     consoles.Repository
	audit    audit.Repository
	hub      *api.Hub
	db       *database.DB
	mqtt     *mqtt.Client
	bridge   *consolebridge.Bridge
	natsConn *natsbus.Publisher
}

// startAPI creates and starts the HTTP server.
func startAPI(ctx context.Context, cfg *config.Config, d deps) (*api.Server, error) {
	authn, err := auth.NewAuthenticator(cfg.Security.Operators)
	if err != nil {
		return nil, fmt.Errorf("loading operators: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		d.log.Warn("API authentication disabled: security.jwt.secret is not set")
	}

	apiDeps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Logger:        d.log,
		Consoles:      d.manager,
		History:       d.repo,
		Audit:         d.audit,
		Authenticator: authn,
		Hub:           d.hub,
		DB:            d.db,
		Version:       version,
	}
	// Typed nil pointers must not reach the interface fields.
	if d.mqtt != nil {
		apiDeps.MQTT = d.mqtt
	}
	if d.bridge != nil {
		apiDeps.Bridge = d.bridge
	}

	server, err := api.New(apiDeps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return server, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient, influxClient, natsPublisher: optional clients (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client,
	influxClient *influxdb.Client, natsPublisher *natsbus.Publisher) error {
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
	if natsPublisher != nil {
		if err := natsPublisher.HealthCheck(ctx); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}
	return nil
}

// pruner deletes rows older than a cutoff.
type pruner func(ctx context.Context, before time.Time) (int64, error)

// retentionLoop prunes state history and the audit trail once at startup
// and then daily until ctx ends. historyDays of 0 keeps history forever.
func retentionLoop(ctx context.Context, historyDays int, repo consoles.Repository, auditRepo audit.Repository, log *logging.Logger) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		now := time.Now()
		if historyDays > 0 {
			prune(ctx, log, "state history", repo.PruneHistory, now.AddDate(0, 0, -historyDays))
		}
		prune(ctx, log, "audit", auditRepo.Prune, now.Add(-auditRetention))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func prune(ctx context.Context, log *logging.Logger, what string, fn pruner, before time.Time) {
	n, err := fn(ctx, before)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("retention prune failed", "table", what, "error", err)
		}
		return
	}
	if n > 0 {
		log.Info("retention pruned rows", "table", what, "rows", n)
	}
}
