package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	Pick       PickConfig       `yaml:"pick" mapstructure:"pick"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	GeoAdmin   GeoAdminConfig   `yaml:"geoadmin" mapstructure:"geoadmin"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DatasetConfig names one upstream dataset: where to download it from and
// which file the pipeline reads inside the data directory. For zip datasets
// File is the extracted member, not the archive.
type DatasetConfig struct {
	URL  string `yaml:"url" mapstructure:"url"`
	File string `yaml:"file" mapstructure:"file"`
}

// DataConfig locates the input datasets on disk and upstream.
type DataConfig struct {
	Dir        string        `yaml:"dir" mapstructure:"dir"`
	Registry   DatasetConfig `yaml:"registry" mapstructure:"registry"`
	Boundaries DatasetConfig `yaml:"boundaries" mapstructure:"boundaries"`
	Population DatasetConfig `yaml:"population" mapstructure:"population"`
}

// RegistryPath returns the on-disk path of the extracted registry CSV.
func (d DataConfig) RegistryPath() string {
	return filepath.Join(d.Dir, d.Registry.File)
}

// BoundariesPath returns the on-disk path of the extracted shapefile.
func (d DataConfig) BoundariesPath() string {
	return filepath.Join(d.Dir, d.Boundaries.File)
}

// PopulationPath returns the on-disk path of the population workbook.
func (d DataConfig) PopulationPath() string {
	return filepath.Join(d.Dir, d.Population.File)
}

// PickConfig carries the selection defaults; pick command flags override them.
type PickConfig struct {
	SeparationM float64 `yaml:"separation_m" mapstructure:"separation_m"`
	Coverage    bool    `yaml:"coverage" mapstructure:"coverage"`
	Order       string  `yaml:"order" mapstructure:"order"`
	Format      string  `yaml:"format" mapstructure:"format"`
	Workers     int     `yaml:"workers" mapstructure:"workers"`
}

// FetchConfig configures the dataset downloader.
type FetchConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the label API server.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// GeoAdminConfig configures the geo.admin.ch cross-check client.
type GeoAdminConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// MonitoringConfig configures run metrics collection and webhook alerting.
type MonitoringConfig struct {
	Enabled                 bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours     int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	UnassignedRateThreshold float64 `yaml:"unassigned_rate_threshold" mapstructure:"unassigned_rate_threshold"`
	OutOfRangeRateThreshold float64 `yaml:"out_of_range_rate_threshold" mapstructure:"out_of_range_rate_threshold"`
	MaxRunAgeHours          int     `yaml:"max_run_age_hours" mapstructure:"max_run_age_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. The file is
// $TOWNPICK_CONFIG when set, otherwise ./townpick.yaml; a missing default
// file is fine, a missing explicit one is not.
func Load() (*Config, error) {
	v := viper.New()

	if path := os.Getenv("TOWNPICK_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("townpick")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("TOWNPICK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.registry.url", "https://data.geo.admin.ch/ch.swisstopo-vd.ortschaftenverzeichnis_plz/ortschaftenverzeichnis_plz/ortschaftenverzeichnis_plz_2056.csv.zip")
	v.SetDefault("data.registry.file", "AMTOVZ_CSV_LV95.csv")
	v.SetDefault("data.boundaries.url", "https://data.geo.admin.ch/ch.swisstopo.swissboundaries3d/swissboundaries3d_2024-01/swissboundaries3d_2024-01_2056_5728.shp.zip")
	v.SetDefault("data.boundaries.file", "swissBOUNDARIES3D_1_5_TLM_HOHEITSGEBIET.shp")
	v.SetDefault("data.population.url", "https://dam-api.bfs.admin.ch/hub/api/dam/assets/32229209/master")
	v.SetDefault("data.population.file", "population.xlsx")
	v.SetDefault("pick.separation_m", 10000.0)
	v.SetDefault("pick.coverage", true)
	v.SetDefault("pick.order", "rank")
	v.SetDefault("pick.format", "json")
	v.SetDefault("pick.workers", 0)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.user_agent", "townpick/1.0")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "townpick.db")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("geoadmin.base_url", "https://api3.geo.admin.ch")
	v.SetDefault("geoadmin.rate_per_sec", 5.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.unassigned_rate_threshold", 0.05)
	v.SetDefault("monitoring.out_of_range_rate_threshold", 0.01)
	v.SetDefault("monitoring.max_run_age_hours", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional unless pinned via TOWNPICK_CONFIG)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	// Checks shared by every mode.
	if c.Pick.SeparationM < 0 {
		problems = append(problems, "pick.separation_m must be >= 0")
	}
	switch c.Pick.Order {
	case "rank", "position":
	default:
		problems = append(problems, `pick.order must be "rank" or "position"`)
	}
	switch c.Pick.Format {
	case "json", "csv", "geojson":
	default:
		problems = append(problems, `pick.format must be "json", "csv" or "geojson"`)
	}

	switch mode {
	case "pick":
		// Input paths come from flags.
	case "fetch":
		if c.Data.Registry.URL == "" {
			problems = append(problems, "data.registry.url is required")
		}
		if c.Data.Boundaries.URL == "" {
			problems = append(problems, "data.boundaries.url is required")
		}
		if c.Data.Population.URL == "" {
			problems = append(problems, "data.population.url is required")
		}
		if c.Fetch.TimeoutSecs <= 0 {
			problems = append(problems, "fetch.timeout_secs must be > 0")
		}
	case "serve":
		if c.Server.Addr == "" {
			problems = append(problems, "server.addr is required")
		}
		if c.Monitoring.CheckIntervalSecs < 0 {
			problems = append(problems, "monitoring.check_interval_secs must be >= 0")
		}
		problems = append(problems, c.storeProblems()...)
	case "runs":
		problems = append(problems, c.storeProblems()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: invalid configuration:\n  " + strings.Join(problems, "\n  "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	var problems []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, `store.driver must be "sqlite" or "postgres"`)
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	return problems
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
