// Package config provides configuration loading and validation for the
// audition service and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults
const (
	DefaultPort               = 8080
	DefaultGenerationTimeout  = 10 * time.Minute
	DefaultGenerationEstimate = 3 * time.Minute
	DefaultLogLevel           = "info"

	// SQLitePrefix selects the local store in DatabaseURL, e.g. "sqlite:./data".
	SQLitePrefix = "sqlite:"
)

// Duration is a time.Duration that reads "90s"-style strings or whole
// seconds from JSON.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the service configuration. Values are layered: JSON file, then
// environment, then CLI flags.
type Config struct {
	DatabaseURL         string   `json:"database_url,omitempty"`          // postgres URL or sqlite:<dir>
	APIKey              string   `json:"api_key,omitempty"`               // Gemini API key
	Port                int      `json:"port,omitempty"`                  // HTTP port
	GenerationTimeout   Duration `json:"generation_timeout,omitempty"`    // wall-clock budget per generation
	GenerationEstimate  Duration `json:"generation_estimate,omitempty"`   // typical generation time
	SharedScaffoldCache bool     `json:"shared_scaffold_cache,omitempty"` // reuse READY scaffolds across projects
	LogLevel            string   `json:"log_level,omitempty"`             // info or debug
	UseBrowser          bool     `json:"use_browser,omitempty"`           // render JD pages with a headless browser
	Verbose             bool     `json:"verbose,omitempty"`               // print detailed CLI output
}

// Default returns a Config with every default applied.
func Default() Config {
	return Config{
		Port:               DefaultPort,
		GenerationTimeout:  Duration(DefaultGenerationTimeout),
		GenerationEstimate: Duration(DefaultGenerationEstimate),
		LogLevel:           DefaultLogLevel,
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overlays environment variables onto the config. Unset variables
// leave fields untouched; malformed ones are errors.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %v", err)
		}
		c.Port = port
	}
	for key, dst := range map[string]*Duration{
		"GENERATION_TIMEOUT":  &c.GenerationTimeout,
		"GENERATION_ESTIMATE": &c.GenerationEstimate,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %v", key, err)
			}
			*dst = Duration(d)
		}
	}
	if v := os.Getenv("SHARED_SCAFFOLD_CACHE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SHARED_SCAFFOLD_CACHE: %v", err)
		}
		c.SharedScaffoldCache = b
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
// Bools cannot distinguish unset from false, so they are not merged.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.GenerationTimeout == 0 {
		result.GenerationTimeout = defaults.GenerationTimeout
	}
	if result.GenerationEstimate == 0 {
		result.GenerationEstimate = defaults.GenerationEstimate
	}
	if result.LogLevel == "" {
		result.LogLevel = defaults.LogLevel
	}
	return result
}

// Validate checks that the configuration has valid values. Required fields
// are checked by the commands that need them.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("config error: 'generation_timeout' must be positive")
	}
	if c.GenerationEstimate <= 0 {
		return fmt.Errorf("config error: 'generation_estimate' must be positive")
	}
	if c.GenerationEstimate > c.GenerationTimeout {
		return fmt.Errorf("config error: 'generation_estimate' (%s) exceeds 'generation_timeout' (%s)",
			time.Duration(c.GenerationEstimate), time.Duration(c.GenerationTimeout))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

// SQLiteDir reports the data directory when DatabaseURL selects the local store.
func (c *Config) SQLiteDir() (string, bool) {
	if !strings.HasPrefix(c.DatabaseURL, SQLitePrefix) {
		return "", false
	}
	return strings.TrimPrefix(c.DatabaseURL, SQLitePrefix), true
}

// ParseLogLevel maps a config level onto slog.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
