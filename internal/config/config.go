// Package config reads daemon and CLI settings from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir   string
	Port      string
	HTTPPort  string
	Backend   string
	StoreAddr string

	Log       LogConfig
	Favorites FavoritesConfig
	AMQP      AMQPConfig

	// MasterKey enables vault encryption of persisted favorites. Raw env value.
	MasterKey string
	// WatchFiles reloads personas changed on disk by other processes.
	WatchFiles bool
}

type LogConfig struct {
	Level  string
	Format string // text, json or color
}

type FavoritesConfig struct {
	Max      int
	Overflow string
	Debounce time.Duration
	Sync     bool
	Key      string
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

// Enabled reports whether events should be published to a broker.
func (c AMQPConfig) Enabled() bool { return c.URL != "" }

// Load reads the configuration. With no argument a .env in the working
// directory is used if present; an explicit path must exist.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("could not load env file %s: %w", envPath[0], err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not load .env file: %w", err)
	}

	cfg := &Config{
		DataDir:   getEnvAsString("CELERIX_DATA_DIR", "./data"),
		Port:      getEnvAsString("CELERIX_PORT", "7001"),
		HTTPPort:  getEnvAsString("CELERIX_HTTP_PORT", "7002"),
		Backend:   getEnvAsString("CELERIX_BACKEND", "json"),
		StoreAddr: getEnvAsString("CELERIX_STORE_ADDR", ""),
		Log: LogConfig{
			Level:  getEnvAsString("CELERIX_LOG_LEVEL", "info"),
			Format: getEnvAsString("CELERIX_LOG_FORMAT", "text"),
		},
		Favorites: FavoritesConfig{
			Max:      getEnvAsInt("CELERIX_FAV_MAX", 0),
			Overflow: getEnvAsString("CELERIX_FAV_OVERFLOW", "reject"),
			Debounce: getEnvAsMillis("CELERIX_FAV_DEBOUNCE_MS", 200*time.Millisecond),
			Sync:     getEnvAsBool("CELERIX_FAV_SYNC", true),
			Key:      getEnvAsString("CELERIX_FAV_KEY", "favorites"),
		},
		AMQP: AMQPConfig{
			URL:      getEnvAsString("CELERIX_AMQP_URL", ""),
			Exchange: getEnvAsString("CELERIX_AMQP_EXCHANGE", "celerix.events"),
		},
		MasterKey:  getEnvAsString("CELERIX_MASTER_KEY", ""),
		WatchFiles: getEnvAsBool("CELERIX_WATCH_FILES", false),
	}

	if cfg.Favorites.Max < 0 {
		return nil, fmt.Errorf("CELERIX_FAV_MAX must not be negative, got %d", cfg.Favorites.Max)
	}
	return cfg, nil
}

func getEnvAsString(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	valueInt, err := strconv.Atoi(valueStr)
	if err != nil {
		slog.Warn("env variable is not an int, using default", "key", key, "value", valueStr, "default", defaultValue)
		return defaultValue
	}
	return valueInt
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valStr, exists := os.LookupEnv(key)
	if !exists || valStr == "" {
		return defaultValue
	}
	valBool, err := strconv.ParseBool(valStr)
	if err != nil {
		slog.Warn("env variable is not a bool, using default", "key", key, "value", valStr, "default", defaultValue)
		return defaultValue
	}
	return valBool
}

// getEnvAsMillis reads a non-negative number of milliseconds.
func getEnvAsMillis(key string, defaultValue time.Duration) time.Duration {
	ms := getEnvAsInt(key, -1)
	if ms < 0 {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}
