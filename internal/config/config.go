package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/models"
	"github.com/bobby-s-dev/airquality-harvester/pkg/client"
)

// MinInterval is the shortest repeat period accepted in loop mode.
const MinInterval = 30 * time.Minute

type Config struct {
	Harvest struct {
		Stations   []string
		OnlyLatest bool
		// Interval is the repeat period; zero runs a single cycle.
		Interval time.Duration
	}

	Broker struct {
		Endpoint    string
		Service     string
		ServicePath string
	}

	Feed struct {
		URL          string
		Delimiter    rune
		StationsFile string
	}

	HTTP struct {
		Timeout  time.Duration
		CABundle string
	}

	CircuitBreaker struct {
		Failures int
		Timeout  time.Duration
	}

	Cache struct {
		Duration time.Duration
		MaxSize  int
	}

	Log struct {
		Level string
		File  string
	}

	Server struct {
		// Port is empty when the status API is disabled.
		Port         string
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
	}
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		zap.L().Info("No .env file found, using environment variables")
	}

	cfg := &Config{}

	// Harvest configuration
	cfg.Harvest.Stations = splitList(getEnv("HARVEST_STATIONS", ""))
	cfg.Harvest.OnlyLatest = parseBool(getEnv("HARVEST_ONLY_LATEST", "false"))
	interval, err := ParseInterval(getEnv("HARVEST_INTERVAL", "0"))
	if err != nil {
		return nil, err
	}
	cfg.Harvest.Interval = interval

	// Context broker configuration
	cfg.Broker.Endpoint = getEnv("ORION_ENDPOINT", "http://localhost:1030")
	cfg.Broker.Service = getEnv("FIWARE_SERVICE", "AirQuality")
	cfg.Broker.ServicePath = getEnv("FIWARE_SERVICE_PATH", "/Spain_Madrid")

	// Feed configuration
	cfg.Feed.URL = getEnv("DATASET_URL", client.DefaultDatasetURL)
	delimiter, err := parseDelimiter(getEnv("FEED_DELIMITER", ","))
	if err != nil {
		return nil, err
	}
	cfg.Feed.Delimiter = delimiter
	cfg.Feed.StationsFile = getEnv("STATIONS_FILE", "")

	// HTTP configuration
	cfg.HTTP.Timeout = parseDuration(getEnv("HTTP_TIMEOUT", "30s"))
	cfg.HTTP.CABundle = getEnv("CA_BUNDLE", "")

	// Circuit breaker configuration
	cfg.CircuitBreaker.Failures = parseInt(getEnv("BREAKER_FAILURES", "3"))
	cfg.CircuitBreaker.Timeout = parseDuration(getEnv("BREAKER_TIMEOUT", "5m"))

	// Cache configuration
	cfg.Cache.Duration = parseDuration(getEnv("CACHE_DURATION", "2h"))
	cfg.Cache.MaxSize = parseInt(getEnv("MAX_CACHE_SIZE", "100"))

	// Log configuration
	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.File = getEnv("LOG_FILE", "harvest_madrid.log")

	// Status server configuration
	cfg.Server.Port = getEnv("STATUS_PORT", "")
	cfg.Server.ReadTimeout = parseDuration(getEnv("FIBER_READ_TIMEOUT", "10s"))
	cfg.Server.WriteTimeout = parseDuration(getEnv("FIBER_WRITE_TIMEOUT", "10s"))

	return cfg, nil
}

// Tenant returns the broker tenant headers.
func (c *Config) Tenant() client.Tenant {
	return client.Tenant{Service: c.Broker.Service, ServicePath: c.Broker.ServicePath}
}

// Loop reports whether the process repeats cycles.
func (c *Config) Loop() bool {
	return c.Harvest.Interval > 0
}

// Validate rejects configurations that must stop the process before any cycle.
func (c *Config) Validate() error {
	if c.Harvest.Interval < 0 {
		return &models.ConfigError{Key: "HARVEST_INTERVAL", Reason: "must not be negative"}
	}
	if c.Loop() && c.Harvest.Interval < MinInterval {
		return &models.ConfigError{
			Key:    "HARVEST_INTERVAL",
			Reason: fmt.Sprintf("%s is below the minimum of %s", c.Harvest.Interval, MinInterval),
		}
	}
	if c.Loop() && !c.Harvest.OnlyLatest {
		return &models.ConfigError{Key: "HARVEST_ONLY_LATEST", Reason: "repeating cycles requires only latest publishing"}
	}
	if c.Broker.Endpoint == "" {
		return &models.ConfigError{Key: "ORION_ENDPOINT", Reason: "must not be empty"}
	}
	if c.Feed.URL == "" {
		return &models.ConfigError{Key: "DATASET_URL", Reason: "must not be empty"}
	}
	if c.HTTP.Timeout <= 0 {
		return &models.ConfigError{Key: "HTTP_TIMEOUT", Reason: "must be positive"}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseDelimiter(value string) (rune, error) {
	if value == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(value)
	if size == 0 || size != len(value) || r == utf8.RuneError {
		return 0, &models.ConfigError{Key: "FEED_DELIMITER", Reason: fmt.Sprintf("%q is not a single character", value)}
	}
	return r, nil
}

// ParseInterval reads a whole number of seconds, as accepted on the command line.
func ParseInterval(value string) (time.Duration, error) {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &models.ConfigError{Key: "HARVEST_INTERVAL", Reason: fmt.Sprintf("%q is not a number of seconds", value)}
	}
	return time.Duration(seconds) * time.Second, nil
}

func parseDuration(value string) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		zap.L().Warn("Failed to parse duration", zap.String("value", value), zap.Error(err))
		return 0
	}
	return duration
}

func parseInt(value string) int {
	intValue, err := strconv.Atoi(value)
	if err != nil {
		zap.L().Warn("Failed to parse int", zap.String("value", value), zap.Error(err))
		return 0
	}
	return intValue
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		zap.L().Warn("Failed to parse bool", zap.String("value", value), zap.Error(err))
		return false
	}
	return b
}
