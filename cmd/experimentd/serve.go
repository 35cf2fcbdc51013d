package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nerrad567/experiment-core/internal/api"
	"github.com/nerrad567/experiment-core/internal/component"
	"github.com/nerrad567/experiment-core/internal/control"
	"github.com/nerrad567/experiment-core/internal/infrastructure/config"
	"github.com/nerrad567/experiment-core/internal/infrastructure/database"
	"github.com/nerrad567/experiment-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/experiment-core/internal/infrastructure/logging"
	"github.com/nerrad567/experiment-core/internal/infrastructure/metrics"
	"github.com/nerrad567/experiment-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/experiment-core/internal/instrument"
	"github.com/nerrad567/experiment-core/internal/settingsstore"
	"github.com/nerrad567/experiment-core/internal/telemetry"
	"github.com/nerrad567/experiment-core/migrations"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control service until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *globalFlags) error {
	log := logging.Default()
	log.Info("starting experimentd", "version", version, "commit", commit, "build_date", date)

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	a, err := startApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.healthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-hup:
			reloadLogLevel(flags, log)
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			return nil
		}
	}
}

// reloadLogLevel re-reads the configuration on SIGHUP and applies its log
// level. Other settings need a restart.
func reloadLogLevel(flags *globalFlags, log *logging.Logger) {
	cfg, err := loadConfig(flags)
	if err != nil {
		log.Warn("config reload failed, keeping log level", "error", err)
		return
	}
	log.SetLevel(cfg.Logging.Level)
	log.Info("log level reloaded", "level", cfg.Logging.Level)
}

// app holds every running part of the service. Parts that are disabled in
// the configuration stay nil.
type app struct {
	log       *logging.Logger
	container *component.Container
	metrics   *metrics.Metrics
	db        *database.DB
	redis     *redis.Client
	persister *settingsstore.Persister
	mqtt      *mqtt.Client
	bridge    *control.Bridge
	influx    *influxdb.Client
	sampler   *telemetry.Sampler
	server    *api.Server

	// closers run in reverse order on close.
	closers []func()
}

func (a *app) onClose(name string, fn func() error) {
	a.closers = append(a.closers, func() {
		a.log.Info("stopping " + name)
		if err := fn(); err != nil {
			a.log.Error("error stopping "+name, "error", err)
		}
	})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.log.Info("experimentd stopped")
}

// startApp builds and starts every part of the service. On error the
// parts already started are stopped again.
func startApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (a *app, err error) {
	a = &app{log: log}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	a.container = component.NewContainer()
	a.container.SetLogger(log.Component("container"))
	a.onClose("component container", a.container.Close)

	defaults, err := declareSlots(a.container, cfg.Slots)
	if err != nil {
		return a, err
	}
	log.Info("slots declared", "slots", len(a.container.Slots()))

	a.metrics = metrics.New()
	stopTracking := a.metrics.Track(a.container)
	a.onClose("metrics", func() error { stopTracking(); return nil })

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return a, err
	}

	a.persister = settingsstore.NewPersister(a.container, store, cfg.Persistence.Debounce())
	a.persister.SetLogger(log.Component("settingsstore"))
	activated := a.container.InitFrom(settingsstore.Chain(
		a.persister.Resolver(ctx),
		settingsstore.Defaults(a.container, defaults),
	))
	log.Info("slots restored", "activated", activated)
	if err := a.persister.Watch(); err != nil {
		return a, fmt.Errorf("watching slot changes: %w", err)
	}
	a.onClose("settings persister", a.persister.Close)

	if err := a.startMQTT(ctx, cfg); err != nil {
		return a, err
	}
	if err := a.startTelemetry(ctx, cfg); err != nil {
		return a, err
	}

	a.server, err = api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.Component("api"),
		Container: a.container,
		Metrics:   a.metrics,
		MQTT:      a.mqtt,
		Influx:    a.influx,
		Version:   version,
	})
	if err != nil {
		return a, fmt.Errorf("creating API server: %w", err)
	}
	if err := a.server.Start(ctx); err != nil {
		return a, fmt.Errorf("starting API server: %w", err)
	}
	a.onClose("API server", a.server.Close)
	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is empty, the API is unauthenticated")
	}

	return a, nil
}

// declareSlots registers the configured slots, or one slot per built-in
// contract when none are configured, and every built-in implementation.
// It returns the configured default selections keyed by slot key.
func declareSlots(c *component.Container, slots []config.SlotConfig) (map[string]settingsstore.Record, error) {
	defaults := make(map[string]settingsstore.Record)
	if len(slots) == 0 {
		if err := instrument.RegisterAll(c); err != nil {
			return nil, err
		}
		return defaults, nil
	}

	for _, sc := range slots {
		contract, ok := instrument.ContractByKey(sc.Contract)
		if !ok {
			return nil, fmt.Errorf("slot %q: unknown contract %q", sc.ID, sc.Contract)
		}
		id, err := c.RegisterContract(contract, sc.ID)
		if err != nil {
			return nil, fmt.Errorf("declaring %s slot: %w", sc.Contract, err)
		}
		if sc.Implementation != "" {
			ref := component.SlotRef{Contract: contract, ID: id}
			defaults[ref.Key()] = settingsstore.Record{Implementation: sc.Implementation, Settings: sc.Settings}
		}
	}
	if err := instrument.RegisterImplementations(c); err != nil {
		return nil, err
	}
	return defaults, nil
}

// openStore opens the configured persistence backend.
func (a *app) openStore(ctx context.Context, cfg *config.Config) (settingsstore.Store, error) {
	switch cfg.Persistence.Backend {
	case config.BackendSQLite:
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.db = db
		a.onClose("database", db.Close)
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		a.log.Info("settings store ready", "backend", "sqlite", "path", cfg.Database.Path)
		return settingsstore.NewSQLiteStore(db), nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.redis = client
		a.onClose("redis client", client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.log.Info("settings store ready", "backend", "redis", "addr", cfg.Redis.Addr)
		return settingsstore.NewRedisStore(client, settingsstore.WithPrefix(cfg.Redis.Prefix)), nil

	case config.BackendMemory:
		a.log.Warn("settings store is in memory, selections are lost on restart")
		return settingsstore.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
}

func (a *app) startMQTT(ctx context.Context, cfg *config.Config) error {
	if !cfg.MQTT.Enabled {
		a.log.Info("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	a.mqtt = client
	a.onClose("MQTT client", client.Close)
	client.SetLogger(a.log.Component("mqtt"))
	client.SetOnConnect(func() { a.log.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { a.log.Warn("MQTT disconnected", "error", err) })
	a.log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	a.bridge = control.New(a.container, client, byte(cfg.MQTT.QoS))
	a.bridge.SetLogger(a.log.Component("control"))
	a.bridge.SetDeadZone(cfg.MQTT.JogDeadZone)
	if err := a.bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT control bridge: %w", err)
	}
	a.onClose("MQTT control bridge", a.bridge.Stop)
	return nil
}

func (a *app) startTelemetry(ctx context.Context, cfg *config.Config) error {
	if !cfg.InfluxDB.Enabled {
		a.log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	a.influx = client
	a.onClose("InfluxDB client", client.Close)
	client.SetOnError(func(err error) {
		a.log.Error("InfluxDB write failed", "error", err)
	})
	a.log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)

	if !cfg.Telemetry.Enabled {
		return nil
	}
	a.sampler = telemetry.New(a.container, client, cfg.Telemetry.Interval())
	a.sampler.SetLogger(a.log.Component("telemetry"))
	if err := a.sampler.Start(ctx); err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	a.onClose("telemetry sampler", func() error { a.sampler.Stop(); return nil })
	return nil
}

// healthCheck verifies every enabled dependency.
func (a *app) healthCheck(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		if err := a.db.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.mqtt != nil {
		if err := a.mqtt.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if a.influx != nil {
		if err := a.influx.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	if a.server != nil {
		if err := a.server.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api: %w", err))
		}
	}
	return errors.Join(errs...)
}
