package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all service settings, populated from environment variables.
// A .env file in the working directory is loaded first when present.
type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// DataDir is where parquet datasets are written.
	DataDir       string        `envconfig:"DATA_DIR" default:"data"`
	FetchInterval time.Duration `envconfig:"FETCH_INTERVAL" default:"15m"`

	// Source selects the upstream client the pipeline runs against:
	// usgs, epa, noaa, or mesonet.
	Source  string `envconfig:"SOURCE" default:"usgs"`
	Dataset string `envconfig:"DATASET" default:"gauge-obs"`

	// Query scope for the configured source.
	Sites         []string      `envconfig:"SITES"`
	StateCode     string        `envconfig:"STATE_CODE" default:"MT"`
	ParameterCode string        `envconfig:"PARAMETER_CODE" default:"00060"`
	Lookback      time.Duration `envconfig:"LOOKBACK" default:"168h"`
	NOAADataset   string        `envconfig:"NOAA_DATASET" default:"GHCND"`

	USGSBaseURL    string `envconfig:"USGS_BASE_URL"`
	EPABaseURL     string `envconfig:"EPA_BASE_URL"`
	NOAABaseURL    string `envconfig:"NOAA_BASE_URL"`
	NOAAAPIToken   string `envconfig:"NOAA_API_TOKEN"`
	MesonetBaseURL string `envconfig:"MESONET_BASE_URL"`

	// Kafka publishing is off unless explicitly enabled.
	KafkaEnabled   bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers   []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaSinkTopic string   `envconfig:"KAFKA_SINK_TOPIC" default:"water-observations"`
}

// Load reads configuration from a .env file (if any) and the environment,
// applying defaults where unset.
func Load() (*Config, error) {
	// Missing .env is fine; the environment alone is enough.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.ShutdownTimeout <= 0 {
		return nil, errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.FetchInterval < 0 {
		return nil, errors.New("FETCH_INTERVAL must not be negative")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	switch cfg.Source {
	case "usgs", "epa", "noaa", "mesonet":
	default:
		return nil, fmt.Errorf("unknown SOURCE %q", cfg.Source)
	}
	if cfg.Source == "noaa" && cfg.NOAAAPIToken == "" {
		return nil, errors.New("SOURCE is noaa but NOAA_API_TOKEN is not set")
	}
	if cfg.Lookback <= 0 {
		return nil, errors.New("LOOKBACK must be positive")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_ENABLED is true but KAFKA_SINK_TOPIC is empty")
		}
	}

	return &cfg, nil
}

// APIToken returns the token configured for a named source via the
// <SOURCE>_API_TOKEN convention, e.g. NOAA_API_TOKEN for "noaa".
func APIToken(sourceName string) string {
	key := strings.ToUpper(strings.ReplaceAll(sourceName, "-", "_")) + "_API_TOKEN"
	return os.Getenv(key)
}
