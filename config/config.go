package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Browser      BrowserConfig
	Workflow     WorkflowConfig
	Orchestrator OrchestratorConfig
	Selectors    Selectors
	Cache        CacheConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Log          LogConfig
}

// ServerConfig controls the HTTP control surface.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"

	// MaxRuns caps concurrently executing runs; each run owns its own workers.
	MaxRuns int // default: 2
}

// BrowserConfig controls each isolated Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is an optional proxy URL for every session.
	Proxy string

	// Stealth masks navigator.webdriver and friends on every new page.
	Stealth bool // default: true

	// ProfileRoot is the parent directory for per-session profiles.
	// Empty means os.TempDir().
	ProfileRoot string

	// WaitTimeout bounds every wait-until-present.
	WaitTimeout time.Duration // default: 10s

	// NavigationTimeout bounds page.Navigate.
	NavigationTimeout time.Duration // default: 30s

	// StepDelay is the settle pause after clicks and inputs.
	StepDelay time.Duration // default: 300ms

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string

	// GridMode is "live" (per-row CDP reads) or "snapshot" (one HTML read per page).
	GridMode string // default: "live"
}

// WorkflowConfig controls retries and pagination of a single target.
type WorkflowConfig struct {
	// MaxRetries is the number of whole-attempt tries.
	MaxRetries int // default: 3

	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration // default: 2s

	// MaxSearchRetries bounds candidate enumeration.
	MaxSearchRetries int // default: 10

	// SearchRetryDelay spaces candidate enumerations.
	SearchRetryDelay time.Duration // default: 300ms

	// StepDelay is the pause between UI steps.
	StepDelay time.Duration // default: 300ms

	// PageSize is the row count of a full grid page.
	PageSize int // default: 15

	// MaxPages stops pagination after this many pages; 0 means unlimited.
	MaxPages int // default: 0
}

// OrchestratorConfig controls the worker pool.
type OrchestratorConfig struct {
	// Concurrency is the maximum number of alive tasks.
	Concurrency int // default: 3

	// PollInterval is the launch/join polling period.
	PollInterval time.Duration // default: 500ms

	// LaunchDelay is the minimum spacing between two launches.
	LaunchDelay time.Duration // default: 1s

	// JoinTimeout bounds the wait for each task after a stop.
	JoinTimeout time.Duration // default: 10s
}

// CacheConfig controls the per-entity result cache used by the API.
type CacheConfig struct {
	// MaxEntries caps cached entities.
	MaxEntries int // default: 1000
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// Load reads configuration from environment variables with sane defaults.
// Selectors come from DefaultSelectors, overlaid with SEIBRO_SELECTORS_FILE if set.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:    envOr("SEIBRO_HOST", "0.0.0.0"),
			Port:    envIntOr("SEIBRO_PORT", 8080),
			Mode:    envOr("SEIBRO_MODE", "release"),
			MaxRuns: envIntOr("SEIBRO_MAX_RUNS", 2),
		},
		Browser: BrowserConfig{
			Headless:          envBoolOr("SEIBRO_HEADLESS", true),
			NoSandbox:         envBoolOr("SEIBRO_NO_SANDBOX", false),
			BrowserBin:        os.Getenv("SEIBRO_BROWSER_BIN"),
			Proxy:             os.Getenv("SEIBRO_PROXY"),
			Stealth:           envBoolOr("SEIBRO_STEALTH", true),
			ProfileRoot:       os.Getenv("SEIBRO_PROFILE_ROOT"),
			WaitTimeout:       envDurationOr("SEIBRO_WAIT_TIMEOUT", 10*time.Second),
			NavigationTimeout: envDurationOr("SEIBRO_NAV_TIMEOUT", 30*time.Second),
			StepDelay:         envDurationOr("SEIBRO_STEP_DELAY", 300*time.Millisecond),
			BlockedResourceTypes: envSliceOr("SEIBRO_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
			GridMode: envOr("SEIBRO_GRID_MODE", "live"),
		},
		Workflow: WorkflowConfig{
			MaxRetries:       envIntOr("SEIBRO_MAX_RETRIES", 3),
			RetryBackoff:     envDurationOr("SEIBRO_RETRY_BACKOFF", 2*time.Second),
			MaxSearchRetries: envIntOr("SEIBRO_MAX_SEARCH_RETRIES", 10),
			SearchRetryDelay: envDurationOr("SEIBRO_SEARCH_RETRY_DELAY", 300*time.Millisecond),
			StepDelay:        envDurationOr("SEIBRO_STEP_DELAY", 300*time.Millisecond),
			PageSize:         envIntOr("SEIBRO_PAGE_SIZE", 15),
			MaxPages:         envIntOr("SEIBRO_MAX_PAGES", 0),
		},
		Orchestrator: OrchestratorConfig{
			Concurrency:  envIntOr("SEIBRO_WORKERS", 3),
			PollInterval: envDurationOr("SEIBRO_POLL_INTERVAL", 500*time.Millisecond),
			LaunchDelay:  envDurationOr("SEIBRO_LAUNCH_DELAY", time.Second),
			JoinTimeout:  envDurationOr("SEIBRO_JOIN_TIMEOUT", 10*time.Second),
		},
		Selectors: DefaultSelectors(),
		Cache: CacheConfig{
			MaxEntries: envIntOr("SEIBRO_CACHE_MAX_ENTRIES", 1000),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("SEIBRO_AUTH_ENABLED", true),
			APIKeys: envSliceOr("SEIBRO_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("SEIBRO_RATE_RPS", 5.0),
			Burst:             envIntOr("SEIBRO_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("SEIBRO_LOG_LEVEL", "info"),
			Format: envOr("SEIBRO_LOG_FORMAT", "text"),
		},
	}

	if path := os.Getenv("SEIBRO_SELECTORS_FILE"); path != "" {
		sel, err := LoadSelectors(path)
		if err != nil {
			return nil, err
		}
		cfg.Selectors = sel
	}
	if err := cfg.Selectors.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize fills zero values with defaults so hand-built configs behave.
func (c *WorkflowConfig) Normalize() {
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.MaxSearchRetries < 1 {
		c.MaxSearchRetries = 1
	}
	if c.PageSize < 1 {
		c.PageSize = 15
	}
}

// Normalize fills zero values with defaults so hand-built configs behave.
func (c *OrchestratorConfig) Normalize() {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
