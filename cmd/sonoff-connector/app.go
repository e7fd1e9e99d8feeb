package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/api"
	"github.com/FastyBird/sonoff-connector-sub001/internal/connector"
	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/config"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/database"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/influxdb"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/logging"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/mqtt"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/cloud"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/lan"
	"github.com/FastyBird/sonoff-connector-sub001/internal/writers"
	"github.com/FastyBird/sonoff-connector-sub001/migrations"
)

// drainTimeout bounds how long shutdown waits for queued messages.
const drainTimeout = 30 * time.Second

// app holds everything one command run owns. close releases it in
// reverse order of creation.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	db        *database.DB
	mqtt      *mqtt.Client
	influx    *influxdb.Client
	repo      *device.SQLiteRepository
	states    *device.StateStore
	connector *connector.Connector
	api       *api.Server
}

// runExecute runs the connector until ctx is cancelled.
func runExecute(ctx context.Context, configPath string, standalone bool) error {
	a, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.API.Enabled {
		if err := a.startAPI(ctx); err != nil {
			return err
		}
	}

	if err := a.connector.Execute(ctx, standalone); err != nil {
		return fmt.Errorf("executing connector: %w", err)
	}
	a.log.Info("connector running",
		"connector", a.cfg.Connector.ID,
		"mode", a.cfg.Connector.Mode,
		"standalone", standalone,
	)

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	a.connector.Terminate()
	a.waitForTasks()
	return nil
}

// runDiscover runs one discovery and returns the number of devices found.
func runDiscover(ctx context.Context, configPath string) (int, error) {
	a, err := bootstrap(ctx, configPath)
	if err != nil {
		return 0, err
	}
	defer a.close()

	found, err := a.connector.Discover(ctx)
	a.waitForTasks()
	if err != nil {
		return 0, err
	}
	a.log.Info("discovery finished", "devices", found)
	return found, nil
}

// bootstrap loads the configuration and opens every component the
// connector needs. On error everything opened so far is closed.
func bootstrap(ctx context.Context, configPath string) (_ *app, err error) {
	log := logging.Default()
	log.Info("starting Sonoff connector",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"connector", cfg.Connector.ID,
		"mode", cfg.Connector.Mode,
		"config_path", configPath,
	)

	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.connectMQTT(); err != nil {
		return nil, err
	}
	a.connectInfluxDB()

	if err := a.buildConnector(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openDatabase(ctx context.Context) error {
	db, err := database.Open(ctx, database.Config{
		Path:        a.cfg.Database.Path,
		WALMode:     a.cfg.Database.WALMode,
		BusyTimeout: a.cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.db = db

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	a.log.Info("database ready",
		"path", a.cfg.Database.Path,
		"schema", version,
		"migrations_applied", applied,
	)
	return nil
}

func (a *app) connectMQTT() error {
	if !a.cfg.MQTT.Enabled {
		a.log.Info("MQTT disabled, exchange bus and health reports are off")
		return nil
	}

	client, err := mqtt.Connect(a.cfg.MQTT, a.cfg.Connector.ID)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	a.mqtt = client

	mqttLog := a.log.Component("mqtt")
	client.SetLogger(mqttLog)
	client.SetOnConnect(func() {
		mqttLog.Info("MQTT connection restored")
	})
	client.SetOnDisconnect(func(err error) {
		mqttLog.Warn("MQTT connection lost", "error", err)
	})
	a.log.Info("MQTT connected",
		"broker", a.cfg.MQTT.Broker.Host,
		"port", a.cfg.MQTT.Broker.Port,
	)
	return nil
}

// connectInfluxDB is best effort: the connector runs without history.
func (a *app) connectInfluxDB() {
	client, err := influxdb.Connect(a.cfg.InfluxDB, a.cfg.Connector.ID)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		a.log.Info("InfluxDB disabled")
		return
	case err != nil:
		a.log.Warn("InfluxDB unavailable, history is not recorded", "error", err)
		return
	}

	influxLog := a.log.Component("influxdb")
	client.SetOnError(func(err error) {
		influxLog.Error("InfluxDB write error", "error", err)
	})
	a.influx = client
	a.log.Info("InfluxDB connected", "url", a.cfg.InfluxDB.URL, "bucket", a.cfg.InfluxDB.Bucket)
}

func (a *app) buildConnector() error {
	mode, err := sonoff.ParseClientMode(a.cfg.Connector.Mode)
	if err != nil {
		return fmt.Errorf("connector mode: %w", err)
	}

	a.repo = device.NewSQLiteRepository(a.db.DB)
	a.states = device.NewStateStore()

	opts := connector.Options{
		Identifier:          a.cfg.Connector.ID,
		Name:                a.cfg.Connector.Name,
		Mode:                mode,
		WriterKind:          writers.Kind(a.cfg.Writer.Kind),
		HeartbeatDelay:      a.cfg.GetHeartbeatDelay(),
		StateReadingDelay:   a.cfg.GetStateReadingDelay(),
		LanDiscoveryTimeout: a.cfg.GetDiscoveryLanTimeout(),
		Repository:          a.repo,
		States:              a.states,
		QoS:                 byte(a.cfg.MQTT.QoS),
		Version:             version,
		Logger:              a.log.Component("connector"),
	}

	// The LAN client is always built: discovery listens for local
	// broadcasts in every mode that reaches devices directly.
	opts.Lan = lan.New(lan.Options{
		HTTPClient:     &http.Client{Timeout: a.cfg.GetLanHTTPTimeout()},
		BrowseInterval: a.cfg.GetBrowseInterval(),
		Logger:         a.log.Component("lan"),
	})

	if a.cfg.Cloud.Username != "" {
		rest := cloud.New(cloud.Options{
			Username:            a.cfg.Cloud.Username,
			Password:            a.cfg.Cloud.Password,
			AppID:               a.cfg.Cloud.AppID,
			AppSecret:           a.cfg.Cloud.AppSecret,
			Region:              sonoff.Region(a.cfg.Cloud.Region),
			TransportErrorCodes: a.cfg.Cloud.TransportErrorCodes,
			Logger:              a.log.Component("cloud"),
		})
		opts.Cloud = rest

		if mode != sonoff.ModeLan {
			opts.Socket = cloud.NewWSClient(rest, cloud.WSOptions{
				AppID:       a.cfg.Cloud.AppID,
				CallTimeout: a.cfg.GetCallTimeout(),
				Logger:      a.log.Component("cloud-ws"),
			})
		}
	}

	if a.mqtt != nil {
		opts.Bus = a.mqtt
	}
	if a.influx != nil {
		opts.Recorder = a.influx
	}

	c, err := connector.New(opts)
	if err != nil {
		return fmt.Errorf("creating connector: %w", err)
	}
	a.connector = c
	return nil
}

func (a *app) startAPI(ctx context.Context) error {
	checks := map[string]api.HealthChecker{"database": a.db}
	if a.mqtt != nil {
		checks["mqtt"] = a.mqtt
	}
	var history func() influxdb.Stats
	if a.influx != nil {
		checks["influxdb"] = a.influx
		history = a.influx.Stats
	}

	srv, err := api.New(api.Deps{
		Config:     a.cfg.API,
		Logger:     a.log.Component("api"),
		Connector:  a.connector,
		Repository: a.repo,
		States:     a.states,
		Checks:     checks,
		Pool:       a.db.Stats,
		History:    history,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	a.api = srv
	return nil
}

// waitForTasks blocks until the connector's queue is drained or
// drainTimeout passes.
func (a *app) waitForTasks() {
	if a.connector == nil {
		return
	}

	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(sonoff.ProcessingInterval)
	defer ticker.Stop()

	for a.connector.HasUnfinishedTasks() {
		select {
		case <-deadline.C:
			a.log.Warn("giving up on unfinished tasks", "queued", a.connector.Queue().Len())
			return
		case <-ticker.C:
		}
	}
}

func (a *app) close() {
	if a.api != nil {
		if err := a.api.Close(); err != nil {
			a.log.Error("error closing API server", "error", err)
		}
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.log.Error("error closing InfluxDB", "error", err)
		}
	}
	if a.mqtt != nil {
		if err := a.mqtt.Close(); err != nil {
			a.log.Error("error closing MQTT", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("error closing database", "error", err)
		}
	}
	a.log.Info("Sonoff connector stopped")
}
