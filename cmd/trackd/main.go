package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/rb/deliverytrack-go/internal/api"
	"github.com/rb/deliverytrack-go/internal/decode"
	"github.com/rb/deliverytrack-go/internal/metrics"
	"github.com/rb/deliverytrack-go/internal/storage"
	"github.com/rb/deliverytrack-go/internal/storage/clickhouse"
	"github.com/rb/deliverytrack-go/internal/storage/influxdb"
	"github.com/rb/deliverytrack-go/internal/storage/memstore"
	"github.com/rb/deliverytrack-go/internal/storage/postgres"
	sqliteStore "github.com/rb/deliverytrack-go/internal/storage/sqlite"
	"github.com/rb/deliverytrack-go/internal/tracker"
	"github.com/rb/deliverytrack-go/internal/vehicles"
	"github.com/rb/deliverytrack-go/internal/wialon"
	"github.com/rb/deliverytrack-go/pkg/config"
)

const version = "1.2.0"

type options struct {
	config      string
	httpAddr    string
	dbURL       string
	debug       bool
	version     bool
	generateCfg string
}

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println("trackd", version)
		return
	}
	if opts.generateCfg != "" {
		if err := generateExampleConfig(opts.generateCfg); err != nil {
			logrus.Fatalf("write example config: %v", err)
		}
		return
	}

	// Local .env is a convenience, not a requirement.
	_ = godotenv.Load()

	cfg, err := config.Load(opts.config)
	if err != nil {
		logrus.Fatalf("failed to load config %s: %v", opts.config, err)
	}
	if opts.httpAddr != "" {
		cfg.HTTP.Addr = opts.httpAddr
	}
	if opts.dbURL != "" {
		cfg.Store.DSN = opts.dbURL
	}
	if opts.debug {
		cfg.HTTP.Debug = true
	}
	if cfg.HTTP.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	api.SetDebugLogging(cfg.HTTP.Debug)
	metrics.Register()

	log := logrus.WithField("component", "trackd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := initStorage(ctx, cfg.Store.DSN)
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("storage schema: %v", err)
	}

	provider, err := wialon.New(wialon.Config{
		BaseURL: cfg.Wialon.URL,
		Token:   cfg.Wialon.Token,
		Timeout: cfg.Wialon.Timeout.Std(),
	})
	if err != nil {
		log.Fatalf("telemetry provider: %v", err)
	}
	// Log in now so a bad token is visible at boot. A failure is not fatal:
	// the provider may be down while deliveries have not started yet, and
	// every request retries the login lazily.
	if err := provider.Login(ctx); err != nil {
		log.WithError(err).Warn("initial provider login failed")
	}

	source := initVehicles(ctx, cfg, log)

	tr, err := tracker.New(tracker.Config{
		Fetcher:         provider,
		Store:           store,
		Vehicles:        source,
		Signals:         signalsFromConfig(cfg.Signals),
		DefaultInterval: time.Duration(cfg.Tracking.DefaultIntervalSeconds) * time.Second,
		CallTimeout:     cfg.Tracking.CallTimeout.Std(),
	})
	if err != nil {
		log.Fatalf("tracker: %v", err)
	}
	defer tr.StopAll()

	server, err := api.NewServer(api.Config{
		Tracker:   tr,
		Store:     store,
		Units:     provider,
		JWTSecret: cfg.HTTP.JWTSecret,
	})
	if err != nil {
		log.Fatalf("http server: %v", err)
	}

	log.WithField("addr", cfg.HTTP.Addr).Info("starting HTTP server")
	if err := server.Listen(ctx, cfg.HTTP.Addr); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("http server error: %v", err)
	}
	log.Info("shutting down")
}

func parseFlags() options {
	var opt options

	flag.StringVar(&opt.config, "config", "", "path to YAML config file")
	flag.StringVar(&opt.httpAddr, "http-addr", "", "HTTP listen address, overrides the config (e.g. :8080)")
	flag.StringVar(&opt.dbURL, "db", "", "store DSN, overrides the config (influxdb://, postgres://, clickhouse://, sqlite file; empty for in-memory)")
	flag.BoolVar(&opt.debug, "debug", false, "enable verbose debug logs")
	flag.BoolVar(&opt.version, "version", false, "print version and exit")
	flag.StringVar(&opt.generateCfg, "generate-config", "", "write example YAML config to file (use '-' for stdout)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Delivery vehicle tracking service. Example:")
		fmt.Fprintf(flag.CommandLine.Output(), "  %s --config config/trackd.yaml --db influxdb://localhost:8086/tracking\n\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	return opt
}

// initStorage dispatches the DSN to a backend. No DSN means the in-memory
// store, which is only useful for local runs.
func initStorage(ctx context.Context, dsn string) storage.Store {
	if dsn == "" {
		logrus.Warn("no store DSN configured, using in-memory store")
		return memstore.New()
	}
	if influxdb.IsSource(dsn) {
		store, err := influxdb.New(ctx, influxdb.Config{DSN: dsn})
		if err != nil {
			logrus.Fatalf("influxdb storage error: %v", err)
		}
		return store
	}
	if postgres.IsPostgresURL(dsn) {
		store, err := postgres.New(ctx, postgres.Config{ConnString: dsn})
		if err != nil {
			logrus.Fatalf("postgres storage error: %v", err)
		}
		return store
	}
	if clickhouse.IsSource(dsn) {
		store, err := clickhouse.New(ctx, clickhouse.Config{DSN: dsn})
		if err != nil {
			logrus.Fatalf("clickhouse storage error: %v", err)
		}
		return store
	}
	if sqliteStore.IsSource(dsn) {
		store, err := sqliteStore.New(ctx, sqliteStore.Config{Source: sqliteStore.NormalizeSource(dsn)})
		if err != nil {
			logrus.Fatalf("sqlite storage error: %v", err)
		}
		return store
	}
	logrus.Fatalf("unsupported store DSN: %s", dsn)
	return nil
}

func initVehicles(ctx context.Context, cfg *config.Config, log *logrus.Entry) vehicles.Source {
	if cfg.Vehicles.MongoURI != "" {
		client, err := vehicles.ConnectMongo(ctx, cfg.Vehicles.MongoURI)
		if err != nil {
			log.Fatalf("mongo: %v", err)
		}
		log.WithField("database", cfg.Vehicles.MongoDatabase).Info("using mongo vehicle source")
		return vehicles.NewMongoSource(client, cfg.Vehicles.MongoDatabase, cfg.Vehicles.MongoCollection)
	}
	log.WithField("count", len(cfg.Vehicles.Static)).Info("using static vehicle source")
	return vehicles.NewStaticSource(cfg.Vehicles.Static)
}

func signalsFromConfig(sc config.SignalsConfig) decode.Signals {
	return decode.Signals{
		FuelParam:     sc.FuelParam,
		FuelSensor:    sc.FuelSensor,
		TempParam:     sc.TempParam,
		TempSensor:    sc.TempSensor,
		TempScale:     sc.TempScale,
		IgnitionParam: sc.IgnitionParam,
	}
}

func generateExampleConfig(path string) error {
	if path == "-" {
		_, err := os.Stdout.WriteString(exampleConfigYAML)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(exampleConfigYAML), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Example config written to %s\n", path)
	return nil
}

const exampleConfigYAML = `# trackd configuration example.

http:
  addr: :8080
  jwt_secret: ${TRACKD_JWT_SECRET} # empty disables auth
  debug: false

wialon:
  url: https://hst-api.wialon.eu/wialon/ajax.html
  token: ${WIALON_TOKEN}
  timeout: 10s

store:
  # influxdb://host:8086/database | postgres://... | clickhouse://... |
  # sqlite://track.db | empty for in-memory
  dsn: influxdb://localhost:8086/tracking

tracking:
  default_interval_seconds: 30
  call_timeout: 10s

signals:
  fuel_param: io_273
  fuel_sensor: io_273
  temp_param: io_26
  temp_sensor: io_26*const10
  temp_scale: 10
  ignition_param: io_239

vehicles:
  # mongo_uri: mongodb://localhost:27017
  # mongo_database: backoffice
  # mongo_collection: vehicles
  static:
    - id: veh-1
      name: Truck 734
      registration_number: AB 123 CD
      tracking_id: "734"
      tracking_plate: AB 123 CD
`
