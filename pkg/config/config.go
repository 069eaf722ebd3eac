package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Wialon   WialonConfig   `yaml:"wialon"`
	Store    StoreConfig    `yaml:"store"`
	Tracking TrackingConfig `yaml:"tracking"`
	Signals  SignalsConfig  `yaml:"signals"`
	Vehicles VehiclesConfig `yaml:"vehicles"`
}

type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
	Debug     bool   `yaml:"debug"`
}

type WialonConfig struct {
	URL     string   `yaml:"url"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"`
}

type StoreConfig struct {
	// DSN selects the backend: influxdb://, postgres://, clickhouse://,
	// a sqlite file path, or empty for the in-memory store.
	DSN string `yaml:"dsn"`
}

type TrackingConfig struct {
	DefaultIntervalSeconds int      `yaml:"default_interval_seconds"`
	CallTimeout            Duration `yaml:"call_timeout"`
}

// SignalsConfig maps provider parameter codes to decoded quantities.
// Defaults match the Wialon unit layout the fleet uses.
type SignalsConfig struct {
	FuelParam     string  `yaml:"fuel_param"`
	FuelSensor    string  `yaml:"fuel_sensor"`
	TempParam     string  `yaml:"temp_param"`
	TempSensor    string  `yaml:"temp_sensor"`
	TempScale     float64 `yaml:"temp_scale"`
	IgnitionParam string  `yaml:"ignition_param"`
}

type VehiclesConfig struct {
	MongoURI        string          `yaml:"mongo_uri"`
	MongoDatabase   string          `yaml:"mongo_database"`
	MongoCollection string          `yaml:"mongo_collection"`
	Static          []StaticVehicle `yaml:"static"`
}

type StaticVehicle struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	RegistrationNumber string `yaml:"registration_number"`
	TrackingID         string `yaml:"tracking_id"`
	TrackingPlate      string `yaml:"tracking_plate"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		Wialon: WialonConfig{
			URL:     "https://hst-api.wialon.eu/wialon/ajax.html",
			Timeout: Duration(10 * time.Second),
		},
		Tracking: TrackingConfig{
			DefaultIntervalSeconds: 30,
			CallTimeout:            Duration(10 * time.Second),
		},
		Signals: SignalsConfig{
			FuelParam:     "io_273",
			FuelSensor:    "io_273",
			TempParam:     "io_26",
			TempSensor:    "io_26*const10",
			TempScale:     10,
			IgnitionParam: "io_239",
		},
		Vehicles: VehiclesConfig{
			MongoDatabase:   "backoffice",
			MongoCollection: "vehicles",
		},
	}
}

// Load reads a YAML config file, expands ${ENV} references and validates the
// result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	expanded := os.Expand(string(data), os.Getenv)
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode YAML: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.Wialon.URL == "" {
		c.Wialon.URL = def.Wialon.URL
	}
	if c.Wialon.Timeout <= 0 {
		c.Wialon.Timeout = def.Wialon.Timeout
	}
	if c.Tracking.DefaultIntervalSeconds <= 0 {
		c.Tracking.DefaultIntervalSeconds = def.Tracking.DefaultIntervalSeconds
	}
	if c.Tracking.CallTimeout <= 0 {
		c.Tracking.CallTimeout = def.Tracking.CallTimeout
	}
	if c.Signals.FuelParam == "" {
		c.Signals.FuelParam = def.Signals.FuelParam
	}
	if c.Signals.FuelSensor == "" {
		c.Signals.FuelSensor = def.Signals.FuelSensor
	}
	if c.Signals.TempParam == "" {
		c.Signals.TempParam = def.Signals.TempParam
	}
	if c.Signals.TempSensor == "" {
		c.Signals.TempSensor = def.Signals.TempSensor
	}
	if c.Signals.TempScale == 0 {
		c.Signals.TempScale = def.Signals.TempScale
	}
	if c.Signals.IgnitionParam == "" {
		c.Signals.IgnitionParam = def.Signals.IgnitionParam
	}
	if c.Vehicles.MongoDatabase == "" {
		c.Vehicles.MongoDatabase = def.Vehicles.MongoDatabase
	}
	if c.Vehicles.MongoCollection == "" {
		c.Vehicles.MongoCollection = def.Vehicles.MongoCollection
	}
}

// Validate checks the parts that would otherwise fail far from startup.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("config: http.addr is empty")
	}
	if c.Wialon.URL == "" {
		return errors.New("config: wialon.url is empty")
	}
	if c.Tracking.DefaultIntervalSeconds <= 0 {
		return errors.New("config: tracking.default_interval_seconds must be positive")
	}
	if c.Vehicles.MongoURI == "" && len(c.Vehicles.Static) == 0 {
		return errors.New("config: no vehicle source configured (set vehicles.mongo_uri or vehicles.static)")
	}
	for i, v := range c.Vehicles.Static {
		if v.ID == "" {
			return fmt.Errorf("config: vehicles.static[%d]: id is empty", i)
		}
	}
	return nil
}
