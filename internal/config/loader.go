package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config captures environment driven configuration values for the scheduler service.
type Config struct {
	HTTPPort          int
	StorageDriver     string
	SQLiteDSN         string
	PostgresDSN       string
	JWTSecret         string
	JoinCodeSecret    string
	TokenTTL          time.Duration
	Timezone          string
	Location          *time.Location
	LogLevel          slog.Level
	JoinMaxAttempts   int
	ExtendConcurrency int
}

var defaults = map[string]any{
	"http_port":          8080,
	"storage_driver":     DriverSQLite,
	"sqlite_dsn":         "file:scheduler.db",
	"token_ttl":          "168h",
	"timezone":           "UTC",
	"log_level":          "info",
	"join_max_attempts":  3,
	"extend_concurrency": 4,
}

// Load reads SCHEDULER_* environment variables, falling back to an optional
// scheduler.{yaml,env,...} file in the working directory and then to defaults.
func Load() (Config, error) {
	v := newViper()
	v.SetConfigName("scheduler")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	return parse(v)
}

// LoadFile behaves like Load but reads the given config file, which must exist.
func LoadFile(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	return parse(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SCHEDULER")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// parse validates every key and reports all missing and invalid variables at once.
func parse(v *viper.Viper) (Config, error) {
	var (
		cfg     Config
		missing []string
		invalid []string
	)
	envName := func(key string) string { return "SCHEDULER_" + strings.ToUpper(key) }
	str := func(key string) string { return strings.TrimSpace(v.GetString(key)) }
	positiveInt := func(key string) int {
		n, err := strconv.Atoi(str(key))
		if err != nil || n <= 0 {
			invalid = append(invalid, envName(key))
			return 0
		}
		return n
	}

	cfg.HTTPPort = positiveInt("http_port")
	if cfg.HTTPPort > 65535 {
		invalid = append(invalid, envName("http_port"))
	}

	cfg.StorageDriver = strings.ToLower(str("storage_driver"))
	switch cfg.StorageDriver {
	case DriverMemory:
	case DriverSQLite:
		if cfg.SQLiteDSN = str("sqlite_dsn"); cfg.SQLiteDSN == "" {
			missing = append(missing, envName("sqlite_dsn"))
		}
	case DriverPostgres:
		if cfg.PostgresDSN = str("postgres_dsn"); cfg.PostgresDSN == "" {
			missing = append(missing, envName("postgres_dsn"))
		}
	default:
		invalid = append(invalid, envName("storage_driver"))
	}

	if cfg.JWTSecret = str("jwt_secret"); cfg.JWTSecret == "" {
		missing = append(missing, envName("jwt_secret"))
	}
	if cfg.JoinCodeSecret = str("join_code_secret"); cfg.JoinCodeSecret == "" {
		cfg.JoinCodeSecret = cfg.JWTSecret
	}

	if ttl, err := time.ParseDuration(str("token_ttl")); err != nil || ttl <= 0 {
		invalid = append(invalid, envName("token_ttl"))
	} else {
		cfg.TokenTTL = ttl
	}

	cfg.Timezone = str("timezone")
	if loc, err := time.LoadLocation(cfg.Timezone); err != nil {
		invalid = append(invalid, envName("timezone"))
	} else {
		cfg.Location = loc
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(str("log_level"))); err != nil {
		invalid = append(invalid, envName("log_level"))
	}

	cfg.JoinMaxAttempts = positiveInt("join_max_attempts")
	cfg.ExtendConcurrency = positiveInt("extend_concurrency")

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}
