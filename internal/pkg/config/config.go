package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kalisio/k2/internal/core/domain"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Tiles     TilesConfig     `mapstructure:"tiles"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
	Elevation ElevationConfig `mapstructure:"elevation"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	// BodyLimit is the maximum request body size in bytes (paths can be long).
	BodyLimit   int    `mapstructure:"body_limit"`
	OpenAPIPath string `mapstructure:"openapi_path"`
}

// TilesConfig selects where terrain tiles are read from.
type TilesConfig struct {
	Backend     string `mapstructure:"backend"` // "mbtiles" or "postgres"
	MBTilesPath string `mapstructure:"mbtiles_path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ElevationConfig drives the profile pipeline.
type ElevationConfig struct {
	DEMDir             string           `mapstructure:"dem_dir"`
	Datasets           []domain.Dataset `mapstructure:"datasets"`
	DefaultResolution  float64          `mapstructure:"default_resolution"`
	MinResolution      float64          `mapstructure:"min_resolution"`
	DefaultConcurrency int              `mapstructure:"default_concurrency"`
	MaxConcurrency     int              `mapstructure:"max_concurrency"`
	JobTimeout         time.Duration    `mapstructure:"job_timeout"`
	FailurePolicy      string           `mapstructure:"failure_policy"`
	Engine             string           `mapstructure:"engine"` // "gdal" or "nats"
	GDALWarpPath       string           `mapstructure:"gdalwarp_path"`
	ScratchDir         string           `mapstructure:"scratch_dir"`
	CacheTTL           time.Duration    `mapstructure:"cache_ttl"`
}

// DefaultDatasets is the resolution to DEM lookup table, finest first.
func DefaultDatasets() []domain.Dataset {
	return []domain.Dataset{
		{MaxResolution: 250, File: "srtm.vrt"},
		{MaxResolution: 500, File: "GMTED2010/mx75.tif"},
		{MaxResolution: 1000, File: "GMTED2010/mx15.tif"},
		{MaxResolution: 0, File: "GMTED2010/mx30.tif"},
	}
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.body_limit", 10*1024*1024)
	v.SetDefault("server.openapi_path", "api/openapi.yaml")
	v.SetDefault("tiles.backend", "mbtiles")
	v.SetDefault("tiles.mbtiles_path", "/mbtiles/terrain.mbtiles")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "k2")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "k2")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "elevation-profiles")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("elevation.dem_dir", "/mbtiles")
	v.SetDefault("elevation.datasets", DefaultDatasets())
	v.SetDefault("elevation.default_resolution", 30)
	v.SetDefault("elevation.min_resolution", 30)
	v.SetDefault("elevation.default_concurrency", 4)
	v.SetDefault("elevation.max_concurrency", 6)
	v.SetDefault("elevation.job_timeout", 2*time.Minute)
	v.SetDefault("elevation.failure_policy", "fail_fast")
	v.SetDefault("elevation.engine", "gdal")
	v.SetDefault("elevation.gdalwarp_path", "gdalwarp")
	v.SetDefault("elevation.scratch_dir", os.TempDir())
	v.SetDefault("elevation.cache_ttl", time.Hour)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: K2_ELEVATION_DEM_DIR → elevation.dem_dir
	v.SetEnvPrefix("K2")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyLegacyEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyLegacyEnv maps the unprefixed variables older deployments set.
func applyLegacyEnv(v *viper.Viper) {
	if p := os.Getenv("PORT"); p != "" && os.Getenv("K2_SERVER_PORT") == "" {
		if n, err := strconv.Atoi(p); err == nil {
			v.Set("server.port", n)
		}
	}
	if f := os.Getenv("TERRAIN_FILEPATH"); f != "" && os.Getenv("K2_TILES_MBTILES_PATH") == "" {
		v.Set("tiles.mbtiles_path", f)
	}
	if d := os.Getenv("DEM_FILEPATH"); d != "" && os.Getenv("K2_ELEVATION_DEM_DIR") == "" {
		v.Set("elevation.dem_dir", d)
	}
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	switch c.Tiles.Backend {
	case "mbtiles":
		if c.Tiles.MBTilesPath == "" {
			errs = append(errs, "tiles.mbtiles_path is required for the mbtiles backend")
		}
	case "postgres":
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres backend")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required for the postgres backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("tiles.backend must be mbtiles or postgres, got %q", c.Tiles.Backend))
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}

	e := c.Elevation
	if e.DEMDir == "" {
		errs = append(errs, "elevation.dem_dir is required")
	}
	if len(e.Datasets) == 0 {
		errs = append(errs, "elevation.datasets must not be empty")
	}
	if e.MinResolution <= 0 {
		errs = append(errs, "elevation.min_resolution must be positive")
	}
	if e.DefaultResolution < e.MinResolution {
		errs = append(errs, "elevation.default_resolution must be >= elevation.min_resolution")
	}
	if e.DefaultConcurrency <= 0 || e.MaxConcurrency < e.DefaultConcurrency {
		errs = append(errs, "elevation concurrency must satisfy 0 < default_concurrency <= max_concurrency")
	}
	switch e.FailurePolicy {
	case "fail_fast", "collect_all":
	default:
		errs = append(errs, fmt.Sprintf("elevation.failure_policy must be fail_fast or collect_all, got %q", e.FailurePolicy))
	}
	switch e.Engine {
	case "gdal":
	case "nats":
		if c.NATS.URL == "" {
			errs = append(errs, "nats.url is required for the nats engine")
		}
	default:
		errs = append(errs, fmt.Sprintf("elevation.engine must be gdal or nats, got %q", e.Engine))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
