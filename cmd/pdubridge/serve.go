package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-pdu/internal/accessory"
	"github.com/nerrad567/gray-logic-pdu/internal/api"
	"github.com/nerrad567/gray-logic-pdu/internal/audit"
	"github.com/nerrad567/gray-logic-pdu/internal/bridge"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
	"github.com/nerrad567/gray-logic-pdu/migrations"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// run is the actual application logic, separated from the command for
// testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting PDU bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("configuration loaded",
		"path", getConfigPath(),
		"controller", cfg.Controller.String(),
		"pdus", len(cfg.PDUs),
	)

	// Open database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

	auditLog := audit.NewSQLiteRepository(db.DB)
	if retention := cfg.AuditRetention(); retention > 0 {
		pruned, pruneErr := auditLog.Prune(ctx, time.Now().Add(-retention))
		if pruneErr != nil {
			log.Warn("pruning audit log failed", "error", pruneErr)
		} else if pruned > 0 {
			log.Info("audit log pruned", "removed", pruned, "retention_days", cfg.Database.AuditRetention)
		}
	}

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
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
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
	}

	repo, err := newRepository(cfg, log)
	if err != nil {
		return err
	}

	// Host bridge: cache, MQTT surface, time-series writes
	store := bridge.NewStore(db)
	defer store.Close()

	bridgeOpts := bridge.Options{
		BridgeID:      cfg.MQTT.Broker.ClientID,
		Version:       version,
		ControllerURL: cfg.Controller.URL,
		Store:         store,
		QoS:           byte(cfg.MQTT.QoS),
		Audit:         auditLog,
		Logger:        log.Component("bridge"),
	}
	// Only set interfaces when the concrete client exists: a typed nil
	// pointer would not compare equal to nil.
	if mqttClient != nil {
		bridgeOpts.MQTT = mqttClient
	}
	if influxClient != nil {
		bridgeOpts.Telemetry = influxClient
	}
	host, err := bridge.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	reconciler, err := accessory.NewReconciler(accessory.ReconcilerOptions{
		Service:           repo,
		Host:              host,
		Sink:              host,
		DeviceCount:       len(cfg.PDUs),
		TelemetryInterval: cfg.TelemetryInterval(),
		ConfirmDelay:      cfg.ConfirmDelay(),
		RequestTimeout:    cfg.RequestTimeout(),
		Logger:            log.Component("accessory"),
	})
	if err != nil {
		return fmt.Errorf("creating reconciler: %w", err)
	}
	defer reconciler.Close()

	restored, err := host.LoadCache(ctx, reconciler.Restore)
	if err != nil {
		return fmt.Errorf("loading accessory cache: %w", err)
	}
	log.Info("accessories restored", "count", restored)

	discovery, err := accessory.NewDiscovery(accessory.DiscoveryOptions{
		Service:            repo,
		Reconciler:         reconciler,
		Devices:            deviceSpecs(cfg.PDUs),
		RetryDelay:         cfg.DiscoveryRetry(),
		RediscoverInterval: cfg.RediscoverInterval(),
		OnPass:             host.PassCompleted,
		OnFailure:          host.PassFailed,
		Logger:             log.Component("discovery"),
	})
	if err != nil {
		return fmt.Errorf("creating discovery: %w", err)
	}
	rediscover := func(ctx context.Context) error {
		_, err := discovery.RunOnce(ctx)
		return err
	}
	host.Attach(reconciler, rediscover)

	if err := host.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer host.Stop()

	// HTTP API (optional)
	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.Component("api"),
			Directory:  reconciler,
			Telemetry:  host,
			Health:     host,
			Rediscover: rediscover,
			Events:     host,
			Audit:      auditLog,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, discovering outlets")

	// Run blocks until shutdown; it retries discovery until the controller
	// answers.
	if err := discovery.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("discovery: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, reconciler,
	// store, InfluxDB, MQTT, database.
	return nil
}

// newRepository builds the controller client from configuration.
func newRepository(cfg *config.Config, log *logging.Logger) (*unifi.Repository, error) {
	client, err := unifi.NewClient(unifi.Options{
		BaseURL: cfg.Controller.URL,
		Site:    cfg.Controller.Site,
		Credentials: unifi.Credentials{
			APIKey:   cfg.Controller.APIKey,
			Username: cfg.Controller.Username,
			Password: cfg.Controller.Password,
		},
		VerifyTLS: cfg.Controller.VerifyTLS,
		Timeout:   cfg.RequestTimeout(),
		Logger:    log.Component("unifi"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating controller client: %w", err)
	}
	log.Info("controller client ready", "url", cfg.Controller.URL, "auth", client.Session().Mode())
	return unifi.NewRepository(client), nil
}

// deviceSpecs converts configured PDUs to discovery specs.
func deviceSpecs(pdus []config.PDUConfig) []accessory.DeviceSpec {
	specs := make([]accessory.DeviceSpec, len(pdus))
	for i, p := range pdus {
		specs[i] = accessory.DeviceSpec{
			MAC:          p.MAC,
			Label:        p.Name,
			OutletFilter: p.OutletFilter,
		}
	}
	return specs
}
