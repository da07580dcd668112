package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saze24/backtester/internal/domain"
	"github.com/saze24/backtester/internal/series"
)

// DefaultPath is used when BACKTESTER_CONFIG is unset.
const DefaultPath = "config/backtester.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backtester.
type Config struct {
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Logging Logging `yaml:"logging"`
	Series  Series  `yaml:"series"`
	Sweep   Sweep   `yaml:"sweep"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Series selects the price series sweeps run against.
type Series struct {
	Instrument string `yaml:"instrument"`
	Timeframe  string `yaml:"timeframe"`
	Start      string `yaml:"start"`
	End        string `yaml:"end"`
	CSVPath    string `yaml:"csv_path"`
}

// Sweep holds execution and ranking parameters.
type Sweep struct {
	Workers           int `yaml:"workers"`
	TopLimit          int `yaml:"top_limit"`
	GroupTopN         int `yaml:"group_top_n"`
	GroupMinFrequency int `yaml:"group_min_frequency"`
}

// Window parses Start and End. Empty values leave that side open.
func (s Series) Window() (series.Window, error) {
	var w series.Window
	var err error
	if s.Start != "" {
		if w.Start, err = parseDate(s.Start); err != nil {
			return w, fmt.Errorf("series.start: %w", err)
		}
	}
	if s.End != "" {
		if w.End, err = parseDate(s.End); err != nil {
			return w, fmt.Errorf("series.end: %w", err)
		}
	}
	return w, nil
}

// Interval parses Timeframe into a candle interval.
func (s Series) Interval() (time.Duration, error) {
	return series.ParseTimeframe(s.Timeframe)
}

func parseDate(v string) (time.Time, error) {
	for _, layout := range []string{domain.TimeLayout, "2006-01-02", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", v)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file path from BACKTESTER_CONFIG, or DefaultPath.
func Path() string {
	if p := os.Getenv("BACKTESTER_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, fills defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/backtester.db"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 9090
	}
	if c.Alpaca.RateLimitPerMin == 0 {
		c.Alpaca.RateLimitPerMin = 200
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Series.Instrument == "" {
		c.Series.Instrument = "XBTUSD"
	}
	if c.Series.Timeframe == "" {
		c.Series.Timeframe = "4H"
	}
	if c.Sweep.TopLimit == 0 {
		c.Sweep.TopLimit = 50
	}
	if c.Sweep.GroupTopN == 0 {
		c.Sweep.GroupTopN = 200
	}
	if c.Sweep.GroupMinFrequency == 0 {
		c.Sweep.GroupMinFrequency = 3
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}
	if c.Server.Port != 0 && c.Server.Port == c.Server.GRPCPort {
		errs = append(errs, errors.New("server.port and server.grpc_port must differ"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}
	if c.Series.Timeframe != "" {
		if _, err := c.Series.Interval(); err != nil {
			errs = append(errs, fmt.Errorf("series.timeframe: %w", err))
		}
	}
	if w, err := c.Series.Window(); err != nil {
		errs = append(errs, err)
	} else if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		errs = append(errs, errors.New("series.end is before series.start"))
	}
	if c.Sweep.Workers < 0 {
		errs = append(errs, fmt.Errorf("sweep.workers %d must not be negative", c.Sweep.Workers))
	}
	if c.Sweep.TopLimit < 0 || c.Sweep.GroupTopN < 0 || c.Sweep.GroupMinFrequency < 0 {
		errs = append(errs, errors.New("sweep ranking limits must not be negative"))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("BACKTESTER_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("SWEEP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sweep.Workers = n
		}
	}

	// Canonical Alpaca SDK names win over everything above.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
