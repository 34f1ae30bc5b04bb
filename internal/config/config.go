package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/weather-data-loader/internal/domain"
)

// ErrConfigLoad wraps every configuration failure; the run never starts.
var ErrConfigLoad = errors.New("config load")

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	StoreDriver       string
	DatabaseURL       string
	DBSchema          string
	SensorsTable      string
	ObservationsTable string
	AutoMigrate       bool

	IntakeDir  string
	FileMask   string
	ArchiveDir string
	DedupKey   domain.DedupKey
	DryRun     bool

	// RunInterval > 0 repeats the pass and serves HTTPAddr until shutdown.
	RunInterval     time.Duration
	HTTPAddr        string
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string

	PushgatewayURL string
	PushgatewayJob string

	KafkaBrokers     []string
	KafkaReportTopic string
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file (or the file named by ENV_FILE) is read first; it
// never overrides variables already set.
func Load() (*Config, error) {
	envFile := sharedcfg.EnvOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: read %s: %w", ErrConfigLoad, envFile, err)
	}

	cfg := &Config{
		StoreDriver:       strings.ToLower(sharedcfg.EnvOrDefault("STORE_DRIVER", DriverPostgres)),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBSchema:          sharedcfg.EnvOrDefault("DB_SCHEMA", "public"),
		SensorsTable:      sharedcfg.EnvOrDefault("SENSORS_TABLE", "sensors"),
		ObservationsTable: sharedcfg.EnvOrDefault("OBSERVATIONS_TABLE", "weather_data"),
		IntakeDir:         sharedcfg.EnvOrDefault("INTAKE_DIR", "."),
		FileMask:          os.Getenv("INTAKE_FILE_MASK"),
		DedupKey:          domain.DedupKey(sharedcfg.EnvOrDefault("DEDUP_KEY", string(domain.KeyTimestamp))),
		HTTPAddr:          sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:          sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		PushgatewayURL:    strings.TrimSpace(os.Getenv("PUSHGATEWAY_URL")),
		PushgatewayJob:    sharedcfg.EnvOrDefault("PUSHGATEWAY_JOB", "weather_loader"),
		KafkaBrokers:      sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaReportTopic:  sharedcfg.EnvOrDefault("KAFKA_REPORT_TOPIC", "weather-ingest-runs"),
	}

	var err error
	if cfg.AutoMigrate, err = parseBool("STORE_AUTO_MIGRATE"); err != nil {
		return nil, err
	}
	if cfg.DryRun, err = parseBool("DRY_RUN"); err != nil {
		return nil, err
	}
	if cfg.RunInterval, err = parseRunInterval(); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = sharedcfg.ParseShutdownTimeout(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}

	cfg.ArchiveDir = sharedcfg.EnvOrDefault("ARCHIVE_DIR", "archive")
	if !filepath.IsAbs(cfg.ArchiveDir) {
		cfg.ArchiveDir = filepath.Join(cfg.IntakeDir, cfg.ArchiveDir)
	}

	if cfg.DatabaseURL == "" && cfg.StoreDriver == DriverPostgres {
		cfg.DatabaseURL = postgresURLFromParts()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.StoreDriver != DriverPostgres && c.StoreDriver != DriverSQLite:
		return fmt.Errorf("%w: STORE_DRIVER must be %q or %q", ErrConfigLoad, DriverPostgres, DriverSQLite)
	case c.DatabaseURL == "":
		return fmt.Errorf("%w: DATABASE_URL (or DB_HOST and DB_NAME) is required", ErrConfigLoad)
	case c.FileMask == "":
		return fmt.Errorf("%w: INTAKE_FILE_MASK is required", ErrConfigLoad)
	case !c.DedupKey.Valid():
		return fmt.Errorf("%w: DEDUP_KEY must be %q or %q", ErrConfigLoad, domain.KeyTimestamp, domain.KeySensorTimestamp)
	case c.SensorsTable == "" || c.ObservationsTable == "":
		return fmt.Errorf("%w: SENSORS_TABLE and OBSERVATIONS_TABLE must not be empty", ErrConfigLoad)
	case c.LogFormat != "json" && c.LogFormat != "text":
		return fmt.Errorf("%w: LOG_FORMAT must be json or text", ErrConfigLoad)
	}
	return nil
}

// postgresURLFromParts builds a connection URL from DB_HOST, DB_PORT,
// DB_USER, DB_PASSWORD and DB_NAME. It returns "" unless host and name are set.
func postgresURLFromParts() string {
	host := os.Getenv("DB_HOST")
	name := os.Getenv("DB_NAME")
	if host == "" || name == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, sharedcfg.EnvOrDefault("DB_PORT", "5432")),
		Path:   "/" + name,
	}
	if user := os.Getenv("DB_USER"); user != "" {
		u.User = url.UserPassword(user, os.Getenv("DB_PASSWORD"))
	}
	return u.String()
}

func parseBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: invalid %s: %w", ErrConfigLoad, key, err)
	}
	return b, nil
}

// parseRunInterval reads RUN_INTERVAL. Zero (the default) means one pass.
func parseRunInterval() (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault("RUN_INTERVAL", "0s"))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid RUN_INTERVAL: %w", ErrConfigLoad, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: RUN_INTERVAL must not be negative", ErrConfigLoad)
	}
	return d, nil
}
