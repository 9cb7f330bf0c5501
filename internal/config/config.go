// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxBrowserPoolSize = 20
	maxTimeout         = 10 * time.Minute
	maxFetchPerHost    = 256
	maxFetchRedirects  = 50
	maxFetchWait       = 10 * time.Minute
	maxFetchBodyBytes  = 512 * 1024 * 1024
	minAPIKeyLength    = 16
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless         bool
	BrowserPath      string
	StealthEnabled   bool
	IgnoreCertErrors bool

	// Pool settings. A pool size of 0 disables page rendering.
	BrowserPoolSize    int
	BrowserPoolTimeout time.Duration

	// Timeouts for page.render
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	// Logging
	LogLevel          string
	LogFile           string
	LogFileMaxSizeMB  int
	LogFileMaxBackups int

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int

	// Security
	CORSAllowedOrigins []string
	APIKeyEnabled      bool
	APIKey             string
	RateLimitEnabled   bool
	RateLimitRPM       int
	TrustProxy         bool

	// User scripts
	ScriptsPath      string
	ScriptsHotReload bool

	// Outbound fetches
	FetchMaxPerHost     int
	FetchMaxRedirects   int
	FetchConnectTimeout time.Duration
	FetchReadTimeout    time.Duration
	FetchWaitTimeout    time.Duration // 0 waits indefinitely
	FetchMaxBodyBytes   int64
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Localhost by default; set HOST=0.0.0.0 to expose the API.
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8192),

		Headless:         getEnvBool("HEADLESS", true),
		BrowserPath:      getEnvString("BROWSER_PATH", ""),
		StealthEnabled:   getEnvBool("STEALTH_ENABLED", true),
		IgnoreCertErrors: getEnvBool("IGNORE_CERT_ERRORS", false),

		BrowserPoolSize:    getEnvIntAllowZero("BROWSER_POOL_SIZE", 1),
		BrowserPoolTimeout: getEnvDuration("BROWSER_POOL_TIMEOUT", 30*time.Second),

		DefaultTimeout: getEnvDuration("DEFAULT_TIMEOUT", 60*time.Second),
		MaxTimeout:     getEnvDuration("MAX_TIMEOUT", 300*time.Second),

		LogLevel:          getEnvString("LOG_LEVEL", "info"),
		LogFile:           getEnvString("LOG_FILE", ""),
		LogFileMaxSizeMB:  getEnvInt("LOG_FILE_MAX_SIZE_MB", 100),
		LogFileMaxBackups: getEnvInt("LOG_FILE_MAX_BACKUPS", 3),

		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 9090),

		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),
		APIKeyEnabled:      getEnvBool("API_KEY_ENABLED", false),
		APIKey:             getEnvString("API_KEY", ""),
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", false),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 60),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),

		ScriptsPath:      getEnvString("SCRIPTS_PATH", ""),
		ScriptsHotReload: getEnvBool("SCRIPTS_HOT_RELOAD", false),

		FetchMaxPerHost:     getEnvInt("FETCH_MAX_PER_HOST", 20),
		FetchMaxRedirects:   getEnvInt("FETCH_MAX_REDIRECTS", 10),
		FetchConnectTimeout: getEnvDuration("FETCH_CONNECT_TIMEOUT", 10*time.Second),
		FetchReadTimeout:    getEnvDuration("FETCH_READ_TIMEOUT", 10*time.Second),
		FetchWaitTimeout:    getEnvDurationAllowZero("FETCH_WAIT_TIMEOUT", 0),
		FetchMaxBodyBytes:   int64(getEnvInt("FETCH_MAX_BODY_BYTES", 32*1024*1024)),
	}
}

// RenderingEnabled reports whether page.render is available.
func (c *Config) RenderingEnabled() bool {
	return c.BrowserPoolSize > 0
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port 0 asks the system for a free port.
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8192")
		c.Port = 8192
	}

	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BrowserPath contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !isAbsPath(c.BrowserPath) {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BrowserPath should be an absolute path")
		}
	}

	if c.BrowserPoolSize < 0 {
		log.Warn().Int("size", c.BrowserPoolSize).Msg("Invalid pool size, using default 1")
		c.BrowserPoolSize = 1
	} else if c.BrowserPoolSize > maxBrowserPoolSize {
		log.Warn().
			Int("size", c.BrowserPoolSize).
			Int("max", maxBrowserPoolSize).
			Msg("Pool size too large, capping to maximum")
		c.BrowserPoolSize = maxBrowserPoolSize
	}
	if c.BrowserPoolSize == 0 {
		log.Info().Msg("BROWSER_POOL_SIZE=0, page rendering disabled")
	}

	const minPoolTimeout = 1 * time.Second
	const maxPoolTimeout = 5 * time.Minute
	if c.BrowserPoolTimeout < minPoolTimeout {
		log.Warn().
			Dur("timeout", c.BrowserPoolTimeout).
			Dur("min", minPoolTimeout).
			Msg("Browser pool timeout too short, using minimum")
		c.BrowserPoolTimeout = minPoolTimeout
	} else if c.BrowserPoolTimeout > maxPoolTimeout {
		log.Warn().
			Dur("timeout", c.BrowserPoolTimeout).
			Dur("max", maxPoolTimeout).
			Msg("Browser pool timeout too long, using maximum")
		c.BrowserPoolTimeout = maxPoolTimeout
	}

	// MaxTimeout first so DefaultTimeout can be clamped against it.
	if c.MaxTimeout < time.Second {
		log.Warn().Dur("timeout", c.MaxTimeout).Msg("Max timeout too short, using 300s")
		c.MaxTimeout = 300 * time.Second
	}
	if c.MaxTimeout > maxTimeout {
		log.Warn().
			Dur("timeout", c.MaxTimeout).
			Dur("max", maxTimeout).
			Msg("Max timeout too high, capping to maximum")
		c.MaxTimeout = maxTimeout
	}
	if c.DefaultTimeout < time.Second {
		log.Warn().Dur("timeout", c.DefaultTimeout).Msg("Default timeout too short, using 60s")
		c.DefaultTimeout = 60 * time.Second
	}
	if c.DefaultTimeout > c.MaxTimeout {
		log.Warn().
			Dur("default", c.DefaultTimeout).
			Dur("max", c.MaxTimeout).
			Msg("Default timeout exceeds max timeout, adjusting to max")
		c.DefaultTimeout = c.MaxTimeout
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	if c.LogFile != "" {
		if c.LogFileMaxSizeMB < 1 {
			log.Warn().Int("mb", c.LogFileMaxSizeMB).Msg("Invalid LOG_FILE_MAX_SIZE_MB, using 100")
			c.LogFileMaxSizeMB = 100
		}
		if c.LogFileMaxBackups < 0 {
			log.Warn().Int("backups", c.LogFileMaxBackups).Msg("Invalid LOG_FILE_MAX_BACKUPS, using 3")
			c.LogFileMaxBackups = 3
		}
	}

	if len(c.CORSAllowedOrigins) == 0 {
		log.Warn().Msg("CORS_ALLOWED_ORIGINS not set - cross-origin requests will be rejected")
	}

	if c.RateLimitEnabled && c.RateLimitRPM < 1 {
		log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid RATE_LIMIT_RPM, using 60")
		c.RateLimitRPM = 60
	}
	if c.TrustProxy {
		log.Warn().Msg("TRUST_PROXY enabled - X-Forwarded-For is trusted for client IPs")
	}

	if c.IgnoreCertErrors {
		log.Warn().Msg("WARNING: IGNORE_CERT_ERRORS enabled - outbound fetches and the browser accept any certificate")
	}

	if c.PrometheusEnabled {
		if c.PrometheusPort < 1 || c.PrometheusPort > 65535 {
			log.Warn().Int("port", c.PrometheusPort).Msg("Invalid PROMETHEUS_PORT, using 9090")
			c.PrometheusPort = 9090
		}
		if c.PrometheusPort == c.Port {
			log.Error().
				Int("port", c.PrometheusPort).
				Msg("PROMETHEUS_PORT conflicts with PORT, adjusting")
			c.PrometheusPort = c.Port + 1
			if c.PrometheusPort > 65535 {
				log.Warn().Msg("Could not find available metrics port, disabling")
				c.PrometheusEnabled = false
			}
		}
	}

	c.validateScriptsConfig()
	c.validateFetchConfig()

	if c.APIKeyEnabled {
		const maxAPIKeyLength = 256
		switch {
		case c.APIKey == "":
			log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().
				Int("length", len(c.APIKey)).
				Int("min_required", minAPIKeyLength).
				Msg("API_KEY is too short for secure authentication - consider using a longer key")
		case len(c.APIKey) > maxAPIKeyLength:
			log.Error().
				Int("length", len(c.APIKey)).
				Int("max", maxAPIKeyLength).
				Msg("API_KEY is too long")
		}
	}
}

func (c *Config) validateScriptsConfig() {
	if c.ScriptsPath != "" {
		if strings.Contains(c.ScriptsPath, "..") {
			log.Error().
				Str("path", c.ScriptsPath).
				Msg("ScriptsPath contains path traversal sequence (..), ignoring")
			c.ScriptsPath = ""
		} else if !isAbsPath(c.ScriptsPath) {
			log.Warn().
				Str("path", c.ScriptsPath).
				Msg("ScriptsPath should be an absolute path")
		}
		if c.ScriptsPath != "" {
			if _, err := os.Stat(c.ScriptsPath); os.IsNotExist(err) {
				log.Warn().
					Str("path", c.ScriptsPath).
					Msg("ScriptsPath does not exist - no scripts will be injected until it is created")
			}
		}
	}

	if c.ScriptsHotReload && c.ScriptsPath == "" {
		log.Warn().Msg("SCRIPTS_HOT_RELOAD enabled but SCRIPTS_PATH not set - hot-reload disabled")
		c.ScriptsHotReload = false
	}
}

func (c *Config) validateFetchConfig() {
	if c.FetchMaxPerHost < 1 {
		log.Warn().Int("value", c.FetchMaxPerHost).Msg("FETCH_MAX_PER_HOST too low, using 20")
		c.FetchMaxPerHost = 20
	} else if c.FetchMaxPerHost > maxFetchPerHost {
		log.Warn().
			Int("value", c.FetchMaxPerHost).
			Int("max", maxFetchPerHost).
			Msg("FETCH_MAX_PER_HOST too high, capping to maximum")
		c.FetchMaxPerHost = maxFetchPerHost
	}

	if c.FetchMaxRedirects < 1 {
		log.Warn().Int("value", c.FetchMaxRedirects).Msg("FETCH_MAX_REDIRECTS too low, using 10")
		c.FetchMaxRedirects = 10
	} else if c.FetchMaxRedirects > maxFetchRedirects {
		log.Warn().
			Int("value", c.FetchMaxRedirects).
			Int("max", maxFetchRedirects).
			Msg("FETCH_MAX_REDIRECTS too high, capping to maximum")
		c.FetchMaxRedirects = maxFetchRedirects
	}

	if c.FetchConnectTimeout > maxTimeout {
		log.Warn().Dur("timeout", c.FetchConnectTimeout).Msg("FETCH_CONNECT_TIMEOUT too long, capping to maximum")
		c.FetchConnectTimeout = maxTimeout
	}
	if c.FetchReadTimeout > maxTimeout {
		log.Warn().Dur("timeout", c.FetchReadTimeout).Msg("FETCH_READ_TIMEOUT too long, capping to maximum")
		c.FetchReadTimeout = maxTimeout
	}

	if c.FetchWaitTimeout < 0 {
		log.Warn().Dur("timeout", c.FetchWaitTimeout).Msg("FETCH_WAIT_TIMEOUT negative, waiting indefinitely")
		c.FetchWaitTimeout = 0
	} else if c.FetchWaitTimeout > maxFetchWait {
		log.Warn().
			Dur("timeout", c.FetchWaitTimeout).
			Dur("max", maxFetchWait).
			Msg("FETCH_WAIT_TIMEOUT too long, capping to maximum")
		c.FetchWaitTimeout = maxFetchWait
	}

	if c.FetchMaxBodyBytes < 1024 {
		log.Warn().Int64("bytes", c.FetchMaxBodyBytes).Msg("FETCH_MAX_BODY_BYTES too low, using 32MiB")
		c.FetchMaxBodyBytes = 32 * 1024 * 1024
	} else if c.FetchMaxBodyBytes > maxFetchBodyBytes {
		log.Warn().
			Int64("bytes", c.FetchMaxBodyBytes).
			Int64("max", maxFetchBodyBytes).
			Msg("FETCH_MAX_BODY_BYTES too high, capping to maximum")
		c.FetchMaxBodyBytes = maxFetchBodyBytes
	}
}

func isAbsPath(p string) bool {
	return strings.HasPrefix(p, "/") || strings.HasPrefix(p, "C:") || strings.HasPrefix(p, "c:")
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

// getEnvIntAllowZero is getEnvInt for settings where 0 is meaningful.
func getEnvIntAllowZero(key string, defaultValue int) int {
	if _, ok := os.LookupEnv(key); !ok {
		return defaultValue
	}
	return getEnvInt(key, defaultValue)
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

// getEnvDurationAllowZero accepts "0" (and "0s") as an explicit zero.
func getEnvDurationAllowZero(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "0" {
		return 0
	}
	if d, err := time.ParseDuration(value); err == nil && d == 0 {
		return 0
	}
	return getEnvDuration(key, defaultValue)
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
