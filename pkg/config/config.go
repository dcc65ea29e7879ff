package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the service reads,
// e.g. CAPTURE_REQUESTS_PER_MINUTE.
const EnvPrefix = "CAPTURE"

// Config stores all configuration for the application.
type Config struct {
	// Session
	CookiePath      string `mapstructure:"cookie_path"`
	CredentialsPath string `mapstructure:"credentials_path"`

	// Browser
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	DeviceScaleFactor float64       `mapstructure:"device_scale_factor"`
	UserAgent         string        `mapstructure:"user_agent"`
	Headless          bool          `mapstructure:"headless"`
	ChromePath        string        `mapstructure:"chrome_path"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`

	// Rate limiting
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	DiscoveryDelay    time.Duration `mapstructure:"discovery_delay"`

	// Output
	OutputDir         string  `mapstructure:"output_dir"`
	ContentAreaX      float64 `mapstructure:"content_area_x"`
	ContentAreaY      float64 `mapstructure:"content_area_y"`
	ContentAreaWidth  float64 `mapstructure:"content_area_width"`
	ContentAreaHeight float64 `mapstructure:"content_area_height"`

	// Validation
	MinDensity   float64 `mapstructure:"min_density"`
	DensityCheck bool    `mapstructure:"density_check"`

	// Storage
	DBDriver     string `mapstructure:"db_driver"`
	DatabasePath string `mapstructure:"database_path"`
	PostgresURL  string `mapstructure:"postgres_url"`

	// Redis is optional; an empty address keeps throttling and locking in-process.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Site
	BaseURL        string `mapstructure:"base_url"`
	ArticlePattern string `mapstructure:"article_pattern"`
	SearchURL      string `mapstructure:"search_url"`

	// Expansion
	MaxExpansionAttempts int           `mapstructure:"max_expansion_attempts"`
	ExpansionDelay       time.Duration `mapstructure:"expansion_delay"`

	// Processing
	MaxRetries      int           `mapstructure:"max_retries"`
	BatchSize       int           `mapstructure:"batch_size"`
	ProcessInterval time.Duration `mapstructure:"process_interval"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`

	// Service
	ServerPort   string `mapstructure:"server_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cookie_path", "secrets/auth_state.json")
	v.SetDefault("credentials_path", "")

	v.SetDefault("viewport_width", 1280)
	v.SetDefault("viewport_height", 720)
	v.SetDefault("device_scale_factor", 2.0)
	v.SetDefault("user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("headless", true)
	v.SetDefault("chrome_path", "")
	v.SetDefault("navigation_timeout", 15*time.Second)
	v.SetDefault("settle_delay", 3*time.Second)

	v.SetDefault("requests_per_minute", 30)
	v.SetDefault("min_delay", 2*time.Second)
	v.SetDefault("max_delay", 4*time.Second)
	v.SetDefault("discovery_delay", time.Second)

	v.SetDefault("output_dir", "captures")
	v.SetDefault("content_area_x", 380)
	v.SetDefault("content_area_y", 56)
	v.SetDefault("content_area_width", 848)
	v.SetDefault("content_area_height", 1200)

	v.SetDefault("min_density", 0.95)
	v.SetDefault("density_check", false)

	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("database_path", "article_capture.db")
	v.SetDefault("postgres_url", "")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("base_url", "https://next.amboss.com")
	v.SetDefault("article_pattern", `https://next\.amboss\.com/de/(?:article|knowledge)/([a-z0-9-]+)`)
	v.SetDefault("search_url", "https://next.amboss.com/de/search?q=&v=article")

	v.SetDefault("max_expansion_attempts", 4)
	v.SetDefault("expansion_delay", 400*time.Millisecond)

	v.SetDefault("max_retries", 3)
	v.SetDefault("batch_size", 10)
	v.SetDefault("process_interval", 5*time.Minute)
	v.SetDefault("stale_after", 30*time.Minute)
	v.SetDefault("lock_ttl", 15*time.Minute)

	v.SetDefault("server_port", "8080")
	v.SetDefault("otlp_endpoint", "")
}

// Load reads configuration from an optional file, a .env file and the
// environment, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		errs = append(errs, errors.New("viewport dimensions must be positive"))
	}
	if c.DeviceScaleFactor <= 0 {
		errs = append(errs, errors.New("device_scale_factor must be positive"))
	}
	if c.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests_per_minute must be positive"))
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		errs = append(errs, fmt.Errorf("invalid delay range [%s, %s]", c.MinDelay, c.MaxDelay))
	}
	if c.MinDensity < 0 || c.MinDensity > 1 {
		errs = append(errs, errors.New("min_density must be within [0, 1]"))
	}
	if c.ContentAreaWidth <= 0 || c.ContentAreaHeight <= 0 {
		errs = append(errs, errors.New("content area dimensions must be positive"))
	}
	if c.MaxExpansionAttempts < 1 {
		errs = append(errs, errors.New("max_expansion_attempts must be at least 1"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.BatchSize < 0 {
		errs = append(errs, errors.New("batch_size must not be negative"))
	}
	if c.ProcessInterval <= 0 {
		errs = append(errs, errors.New("process_interval must be positive"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("lock_ttl must be positive"))
	}
	// A URL younger than the slug lock may still be owned by a live worker.
	if c.StaleAfter < c.LockTTL {
		errs = append(errs, fmt.Errorf("stale_after (%s) must be at least lock_ttl (%s)", c.StaleAfter, c.LockTTL))
	}
	switch c.DBDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("database_path is required for the sqlite driver"))
		}
	case "postgres":
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("postgres_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db_driver %q", c.DBDriver))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or text, got %q", c.LogFormat))
	}
	if re, err := regexp.Compile(c.ArticlePattern); err != nil {
		errs = append(errs, fmt.Errorf("article_pattern: %w", err))
	} else if re.NumSubexp() < 1 {
		errs = append(errs, errors.New("article_pattern needs a capture group for the slug"))
	}
	return errors.Join(errs...)
}

// CredentialsFile returns the login credentials path, defaulting to
// credentials.json next to the cookie file.
func (c *Config) CredentialsFile() string {
	if c.CredentialsPath != "" {
		return c.CredentialsPath
	}
	return filepath.Join(filepath.Dir(c.CookiePath), "credentials.json")
}

// EnsureDirs creates the output and cookie directories.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.CookiePath), 0o700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	return nil
}
