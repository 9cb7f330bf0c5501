package config

import (
	"os"
	"testing"
	"time"
)

var allEnvVars = []string{
	"HOST", "PORT", "HEADLESS", "BROWSER_PATH", "STEALTH_ENABLED", "IGNORE_CERT_ERRORS",
	"BROWSER_POOL_SIZE", "BROWSER_POOL_TIMEOUT",
	"DEFAULT_TIMEOUT", "MAX_TIMEOUT",
	"LOG_LEVEL", "LOG_FILE", "LOG_FILE_MAX_SIZE_MB", "LOG_FILE_MAX_BACKUPS",
	"PROMETHEUS_ENABLED", "PROMETHEUS_PORT",
	"CORS_ALLOWED_ORIGINS", "API_KEY_ENABLED", "API_KEY",
	"RATE_LIMIT_ENABLED", "RATE_LIMIT_RPM", "TRUST_PROXY",
	"SCRIPTS_PATH", "SCRIPTS_HOT_RELOAD",
	"FETCH_MAX_PER_HOST", "FETCH_MAX_REDIRECTS", "FETCH_CONNECT_TIMEOUT",
	"FETCH_READ_TIMEOUT", "FETCH_WAIT_TIMEOUT", "FETCH_MAX_BODY_BYTES",
}

// clearEnv unsets every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected default host '127.0.0.1', got %q", cfg.Host)
	}
	if cfg.Port != 8192 {
		t.Errorf("Expected default port 8192, got %d", cfg.Port)
	}
	if !cfg.Headless {
		t.Error("Expected Headless to be true by default")
	}
	if !cfg.StealthEnabled {
		t.Error("Expected StealthEnabled to be true by default")
	}
	if cfg.BrowserPoolSize != 1 {
		t.Errorf("Expected default pool size 1, got %d", cfg.BrowserPoolSize)
	}
	if cfg.BrowserPoolTimeout != 30*time.Second {
		t.Errorf("Expected default pool timeout 30s, got %v", cfg.BrowserPoolTimeout)
	}
	if cfg.DefaultTimeout != 60*time.Second {
		t.Errorf("Expected default timeout 60s, got %v", cfg.DefaultTimeout)
	}
	if cfg.MaxTimeout != 300*time.Second {
		t.Errorf("Expected max timeout 300s, got %v", cfg.MaxTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.PrometheusEnabled {
		t.Error("Expected PrometheusEnabled to be false by default")
	}
	if cfg.FetchMaxPerHost != 20 {
		t.Errorf("Expected FetchMaxPerHost 20, got %d", cfg.FetchMaxPerHost)
	}
	if cfg.FetchMaxRedirects != 10 {
		t.Errorf("Expected FetchMaxRedirects 10, got %d", cfg.FetchMaxRedirects)
	}
	if cfg.FetchConnectTimeout != 10*time.Second || cfg.FetchReadTimeout != 10*time.Second {
		t.Errorf("Unexpected fetch timeouts: %v %v", cfg.FetchConnectTimeout, cfg.FetchReadTimeout)
	}
	if cfg.FetchWaitTimeout != 0 {
		t.Errorf("Expected indefinite wait by default, got %v", cfg.FetchWaitTimeout)
	}
	if !cfg.RenderingEnabled() {
		t.Error("Expected rendering to be enabled by default")
	}
	if cfg.RateLimitEnabled || cfg.RateLimitRPM != 60 || cfg.TrustProxy {
		t.Errorf("Unexpected rate limit defaults: enabled=%v rpm=%d trust=%v",
			cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.TrustProxy)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "9999")
	t.Setenv("HEADLESS", "false")
	t.Setenv("BROWSER_PATH", "/usr/bin/chromium")
	t.Setenv("BROWSER_POOL_SIZE", "0")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/var/log/pagehook.log")
	t.Setenv("PROMETHEUS_ENABLED", "true")
	t.Setenv("PROMETHEUS_PORT", "9100")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.test, https://b.test,")
	t.Setenv("SCRIPTS_PATH", "/etc/pagehook/scripts.yaml")
	t.Setenv("SCRIPTS_HOT_RELOAD", "true")
	t.Setenv("FETCH_MAX_PER_HOST", "8")
	t.Setenv("FETCH_WAIT_TIMEOUT", "45s")

	cfg := Load()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Expected host '0.0.0.0', got %q", cfg.Host)
	}
	if cfg.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", cfg.Port)
	}
	if cfg.Headless {
		t.Error("Expected Headless to be false")
	}
	if cfg.BrowserPoolSize != 0 || cfg.RenderingEnabled() {
		t.Errorf("Expected explicit pool size 0 to disable rendering, got %d", cfg.BrowserPoolSize)
	}
	if cfg.LogFile != "/var/log/pagehook.log" {
		t.Errorf("Unexpected LogFile %q", cfg.LogFile)
	}
	if !cfg.PrometheusEnabled || cfg.PrometheusPort != 9100 {
		t.Errorf("Unexpected metrics config: %v %d", cfg.PrometheusEnabled, cfg.PrometheusPort)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.test" {
		t.Errorf("Unexpected CORS origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.ScriptsPath != "/etc/pagehook/scripts.yaml" || !cfg.ScriptsHotReload {
		t.Errorf("Unexpected scripts config: %q %v", cfg.ScriptsPath, cfg.ScriptsHotReload)
	}
	if cfg.FetchMaxPerHost != 8 {
		t.Errorf("Expected FetchMaxPerHost 8, got %d", cfg.FetchMaxPerHost)
	}
	if cfg.FetchWaitTimeout != 45*time.Second {
		t.Errorf("Expected FetchWaitTimeout 45s, got %v", cfg.FetchWaitTimeout)
	}
}

func TestInvalidEnvValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not_a_number")
	t.Setenv("HEADLESS", "not_a_bool")
	t.Setenv("BROWSER_POOL_TIMEOUT", "not_a_duration")
	t.Setenv("FETCH_READ_TIMEOUT", "-5s")

	cfg := Load()

	if cfg.Port != 8192 {
		t.Errorf("Expected default port 8192 for invalid value, got %d", cfg.Port)
	}
	if !cfg.Headless {
		t.Error("Expected default Headless (true) for invalid value")
	}
	if cfg.BrowserPoolTimeout != 30*time.Second {
		t.Errorf("Expected default pool timeout for invalid value, got %v", cfg.BrowserPoolTimeout)
	}
	if cfg.FetchReadTimeout != 10*time.Second {
		t.Errorf("Expected default read timeout for negative value, got %v", cfg.FetchReadTimeout)
	}
}

func TestWaitTimeoutAllowsZero(t *testing.T) {
	for _, v := range []string{"0", "0s"} {
		t.Run(v, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("FETCH_WAIT_TIMEOUT", v)
			if got := Load().FetchWaitTimeout; got != 0 {
				t.Errorf("Expected 0, got %v", got)
			}
		})
	}
}

func TestValidateClamps(t *testing.T) {
	cfg := &Config{
		Port:                70000,
		BrowserPoolSize:     100,
		BrowserPoolTimeout:  time.Millisecond,
		DefaultTimeout:      20 * time.Minute,
		MaxTimeout:          time.Hour,
		LogLevel:            "loud",
		PrometheusEnabled:   true,
		PrometheusPort:      8192,
		ScriptsHotReload:    true,
		FetchMaxPerHost:     0,
		FetchMaxRedirects:   1000,
		FetchWaitTimeout:    -time.Second,
		FetchMaxBodyBytes:   10,
		FetchConnectTimeout: time.Second,
		FetchReadTimeout:    time.Second,
	}

	cfg.Validate()

	if cfg.Port != 8192 {
		t.Errorf("Port = %d, want 8192", cfg.Port)
	}
	if cfg.BrowserPoolSize != maxBrowserPoolSize {
		t.Errorf("BrowserPoolSize = %d, want %d", cfg.BrowserPoolSize, maxBrowserPoolSize)
	}
	if cfg.BrowserPoolTimeout != time.Second {
		t.Errorf("BrowserPoolTimeout = %v, want 1s", cfg.BrowserPoolTimeout)
	}
	if cfg.MaxTimeout != maxTimeout || cfg.DefaultTimeout != maxTimeout {
		t.Errorf("Timeouts = %v/%v, want both %v", cfg.DefaultTimeout, cfg.MaxTimeout, maxTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.PrometheusPort != 8193 {
		t.Errorf("PrometheusPort = %d, want 8193", cfg.PrometheusPort)
	}
	if cfg.ScriptsHotReload {
		t.Error("Expected hot reload disabled without a path")
	}
	if cfg.FetchMaxPerHost != 20 || cfg.FetchMaxRedirects != maxFetchRedirects {
		t.Errorf("Fetch limits = %d/%d", cfg.FetchMaxPerHost, cfg.FetchMaxRedirects)
	}
	if cfg.FetchWaitTimeout != 0 {
		t.Errorf("FetchWaitTimeout = %v, want 0", cfg.FetchWaitTimeout)
	}
	if cfg.FetchMaxBodyBytes != 32*1024*1024 {
		t.Errorf("FetchMaxBodyBytes = %d", cfg.FetchMaxBodyBytes)
	}
}

func TestValidateKeepsZeroPoolSize(t *testing.T) {
	cfg := Load()
	cfg.BrowserPoolSize = 0
	cfg.Validate()
	if cfg.BrowserPoolSize != 0 {
		t.Errorf("Expected pool size 0 to be kept, got %d", cfg.BrowserPoolSize)
	}
}

func TestValidateRejectsTraversal(t *testing.T) {
	cfg := Load()
	cfg.BrowserPath = "/usr/../bin/chrome"
	cfg.ScriptsPath = "/etc/../scripts.yaml"
	cfg.Validate()
	if cfg.BrowserPath != "" || cfg.ScriptsPath != "" {
		t.Errorf("Expected traversal paths to be cleared: %q %q", cfg.BrowserPath, cfg.ScriptsPath)
	}
}

func TestValidateRateLimitRPM(t *testing.T) {
	cfg := &Config{
		Port:               8192,
		BrowserPoolTimeout: 30 * time.Second,
		DefaultTimeout:     60 * time.Second,
		MaxTimeout:         300 * time.Second,
		LogLevel:           "info",
		RateLimitEnabled:   true,
		RateLimitRPM:       0,
	}
	cfg.Validate()

	if cfg.RateLimitRPM != 60 {
		t.Errorf("Expected RateLimitRPM reset to 60, got %d", cfg.RateLimitRPM)
	}
}
