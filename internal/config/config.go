package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	env "github.com/caarlos0/env/v11"

	"ytpdf/internal/core/domain"
	"ytpdf/internal/logging"
)

// Config is the client configuration, loaded from environment variables
// with github.com/caarlos0/env. See the domain structs for variable names.
type Config struct {
	API     APIConfig
	Poll    PollConfig
	Storage StorageConfig
	Log     LogConfig
	Redis   RedisConfig `envPrefix:"REDIS_"`

	// MetricsAddr enables the Prometheus endpoint when set (e.g. ":9090").
	MetricsAddr string `env:"METRICS_ADDR"`
}

// APIConfig holds the conversion backend endpoints.
type APIConfig struct {
	SubmitURL string `env:"YTPDF_SUBMIT_URL"`
	StatusURL string `env:"YTPDF_STATUS_URL"`
	UploadURL string `env:"YTPDF_UPLOAD_URL"`

	// ClientID stands in for the push/device token the backend notifies.
	ClientID        string        `env:"YTPDF_CLIENT_ID"`
	HTTPTimeout     time.Duration `env:"YTPDF_HTTP_TIMEOUT"     envDefault:"30s"`
	DownloadTimeout time.Duration `env:"YTPDF_DOWNLOAD_TIMEOUT" envDefault:"30m"`
}

// PollConfig controls how often and how long jobs are polled.
type PollConfig struct {
	Interval time.Duration `env:"YTPDF_POLL_INTERVAL" envDefault:"15s"`
	Timeout  time.Duration `env:"YTPDF_POLL_TIMEOUT"  envDefault:"15m"`
}

// StorageConfig points at the local job directory.
type StorageConfig struct {
	DataDir string `env:"YTPDF_DATA_DIR" envDefault:"./data"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

// RedisConfig configures the optional shared job index. An empty Addr disables it.
type RedisConfig struct {
	Addr      string        `env:"ADDR"`
	Password  string        `env:"PASSWORD"`
	DB        int           `env:"DB"         envDefault:"0"`
	KeyPrefix string        `env:"KEY_PREFIX" envDefault:"ytpdf"`
	TTL       time.Duration `env:"TTL"        envDefault:"168h"`
}

const minPollInterval = time.Second

// Load parses the environment into a sanitized Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Sanitize()
	return &cfg, nil
}

// Sanitize applies guardrails to values loaded from env or flags.
func (c *Config) Sanitize() {
	c.Poll.Sanitize()
	if c.API.HTTPTimeout <= 0 {
		c.API.HTTPTimeout = 30 * time.Second
	}
	if c.API.DownloadTimeout <= 0 {
		c.API.DownloadTimeout = 30 * time.Minute
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "ytpdf"
	}
}

// Sanitize keeps the interval at or above one second and the timeout at or above the interval.
func (p *PollConfig) Sanitize() {
	if p.Interval < minPollInterval {
		p.Interval = minPollInterval
	}
	if p.Timeout < p.Interval {
		p.Timeout = p.Interval
	}
}

// Domain converts to the poller's configuration type.
func (p PollConfig) Domain() domain.PollConfig {
	return domain.PollConfig{Interval: p.Interval, Timeout: p.Timeout}
}

// Logging converts to the logger configuration type.
func (l LogConfig) Logging() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format}
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool { return c.Redis.Addr != "" }

// ValidateConversion checks the settings needed to submit and poll jobs.
func (c *Config) ValidateConversion() error {
	var errs []error
	if err := validateEndpoint("YTPDF_SUBMIT_URL", c.API.SubmitURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateEndpoint("YTPDF_STATUS_URL", c.API.StatusURL); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateUpload checks the settings needed to upload audio.
func (c *Config) ValidateUpload() error {
	return validateEndpoint("YTPDF_UPLOAD_URL", c.API.UploadURL)
}

func validateEndpoint(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is not set", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host", name)
	}
	return nil
}
