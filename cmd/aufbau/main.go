// Anlage Aufbau - enrollment station for Modbus RTU field devices.
//
// The station walks the sensor and indicator light rows of a project
// workbook, moves each freshly plugged device from its factory address to
// the planned one, and writes the collected identifiers back. Operators
// drive it from the interactive console, the REST/WebSocket API or MQTT.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/api"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/auth"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/console"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/config"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/database"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/influxdb"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/logging"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/mqtt"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/journal"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/remote"
	"github.com/arnventures/InosentAnlageAufbauTool/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the command line flags.
type options struct {
	configPath   string
	port         string
	workbook     string
	project      string
	simulate     bool
	noConsole    bool
	showVersion  bool
	hashPassword bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := flag.NewFlagSet("aufbau", flag.ContinueOnError)
	flags.StringVar(&opts.configPath, "config", "", "config file (default $AUFBAU_CONFIG or "+config.DefaultPath+")")
	flags.StringVar(&opts.port, "port", "", "serial port, overrides bus.port")
	flags.StringVar(&opts.workbook, "workbook", "", "project workbook (.xlsx/.xlsm)")
	flags.StringVar(&opts.project, "project", "", "project number, located below workbook.project_root")
	flags.BoolVar(&opts.simulate, "simulate", false, "run against a simulated bus")
	flags.BoolVar(&opts.noConsole, "no-console", false, "disable the interactive console")
	flags.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	flags.BoolVar(&opts.hashPassword, "hash-password", false, "read a password from stdin and print its Argon2id hash")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if flags.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	return opts, nil
}

// progressHandler receives progress events and run changes.
type progressHandler interface {
	HandleEvent(ev enroll.ProgressEvent)
	HandleRun(st enroll.RunStatus)
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Printf("aufbau %s (%s, %s)\n", version, commit, date)
		return nil
	}
	if opts.hashPassword {
		return printPasswordHash(os.Stdin, os.Stdout)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logging.Default()
	defer func() {
		log.Close() //nolint:errcheck // last line of shutdown
	}()
	log.Info("starting Anlage Aufbau", "version", version, "commit", commit, "build_date", date)

	cfg, err := loadConfig(opts.configPath, log)
	if err != nil {
		return err
	}
	if opts.port != "" {
		cfg.Bus.Port = opts.port
	}

	// Open the journal before the engine so it closes after the last run event.
	var (
		db   *database.DB
		repo journal.Repository
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, database.Config{
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
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		repo = journal.NewSQLiteRepository(db.DB)
		log.Info("journal ready", "path", cfg.Database.Path)
	}

	eng, err := newEngine(cfg, opts)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer func() {
		log.Info("stopping enrollment engine")
		eng.close(log)
	}()

	var con *console.Console
	if !opts.noConsole {
		con, err = console.New(console.Deps{
			Controller: eng.ctrl,
			Bus:        eng.bus,
			Journal:    repo,
		})
		if err != nil {
			return fmt.Errorf("starting console: %w", err)
		}
	}

	// Log lines must not tear the console prompt.
	if con != nil && cfg.Logging.Output == "stdout" {
		log = logging.NewWithWriter(cfg.Logging, version, con.Stdout())
	} else {
		log = logging.New(cfg.Logging, version)
	}
	eng.setLogger(log)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	var handlers []progressHandler
	if repo != nil {
		recorder := journal.NewRecorder(repo, journal.RecorderConfig{
			StationID: cfg.Site.ID,
			Port:      eng.bus.PortName,
			Workbook:  eng.workbookName,
		})
		recorder.SetLogger(log)
		handlers = append(handlers, recorder)
	}
	if con != nil {
		handlers = append(handlers, con)
	}

	mqttClient, bridge := startRemote(ctx, cfg, eng, log)
	if mqttClient != nil {
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		handlers = append(handlers, bridge)
	}

	influxClient := connectInflux(cfg, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		handlers = append(handlers, newOutcomeMetrics(influxClient, cfg.Site.ID, eng.bus))
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log,
			Controller: eng.ctrl,
			Bus:        eng.bus,
			Journal:    repo,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		handlers = append(handlers, apiServer.Hub())
	}

	for _, h := range handlers {
		unsubscribe := eng.dispatcher.Subscribe(h.HandleEvent)
		defer unsubscribe()
		eng.ctrl.OnRunChange(h.HandleRun)
	}

	if apiServer != nil {
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if loadErr := eng.ctrl.Load(ctx); loadErr != nil {
		log.Warn("initial target load failed", "source", eng.workbookName(), "error", loadErr)
	} else {
		sensors, lights := eng.ctrl.Targets()
		log.Info("targets loaded", "source", eng.workbookName(), "sensors", len(sensors), "lights", len(lights))
	}
	eng.autoConnect(ctx, cfg.Bus, log)

	log.Info("initialisation complete", "station", cfg.Site.ID, "simulate", opts.simulate)

	if con != nil {
		con.Run(ctx, cancel)
	} else {
		<-ctx.Done()
	}

	log.Info("shutting down")
	return nil
}

// printPasswordHash reads one line from in and writes the hash to put into
// security.jwt.password.
func printPasswordHash(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

// loadConfig reads the config file. A missing default file falls back to
// the built-in configuration; an explicitly named file must exist.
func loadConfig(flagValue string, log *logging.Logger) (*config.Config, error) {
	path := config.ResolvePath(flagValue)
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		log.Info("configuration loaded", "path", path)
		return cfg, nil
	case errors.Is(err, fs.ErrNotExist) && path == config.DefaultPath:
		log.Warn("no config file, using defaults", "path", path)
		return config.Default(), nil
	default:
		return nil, fmt.Errorf("loading config: %w", err)
	}
}

// startRemote connects to the broker and starts the command bridge. A broker
// that cannot be reached is logged and the station runs without it.
func startRemote(ctx context.Context, cfg *config.Config, eng *engine, log *logging.Logger) (*mqtt.Client, *remote.Bridge) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}

	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
	if err != nil {
		log.Warn("MQTT unavailable, continuing without remote control", "error", err)
		return nil, nil
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	bridge := remote.New(client, eng.ctrl, eng.bus, remote.Config{
		Station:        cfg.Site.ID,
		HealthInterval: cfg.MQTT.HealthInterval,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated 0..2
	})
	bridge.SetLogger(log)
	if err := bridge.Start(ctx); err != nil {
		log.Warn("MQTT bridge failed to start", "error", err)
		client.Close() //nolint:errcheck // already failing
		return nil, nil
	}

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, bridge
}

// connectInflux opens the metrics client when enabled. Failures are logged.
func connectInflux(cfg *config.Config, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil
	}
	if err != nil {
		log.Warn("InfluxDB unavailable, continuing without metrics", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)
	return client
}

// healthCheck verifies the optional infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Journal database (may be nil if disabled)
//   - mqttClient: MQTT client (may be nil if disabled or unreachable)
//   - influxClient: InfluxDB client (may be nil if disabled or unreachable)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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
