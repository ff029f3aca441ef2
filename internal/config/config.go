package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/vdpress/internal/codegen"
	"github.com/foxzi/vdpress/internal/ipfilter"
	"github.com/foxzi/vdpress/internal/render"
)

// Config is the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Tracking TrackingConfig `yaml:"tracking"`
	Batch    BatchConfig    `yaml:"batch"`
	Render   RenderConfig   `yaml:"render"`
	Progress ProgressConfig `yaml:"progress"`
	Quota    QuotaConfig    `yaml:"quota"`   // print quotas for API-started runs
	Metrics  MetricsConfig  `yaml:"metrics"` // Prometheus metrics configuration
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	PublicURL string `yaml:"public_url" validate:"required,url"` // externally reachable base for links
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr" validate:"required"`
	APIKeyHash     string        `yaml:"api_key_hash"`                     // bcrypt hash, empty = no auth
	MaxHeaderBytes int           `yaml:"max_header_bytes" validate:"gte=0"` // Max HTTP header size (default: 1MB)
	MaxBodyBytes   int64         `yaml:"max_body_bytes" validate:"gte=0"`   // Max request body (default: 10MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`                     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`                    // HTTP write timeout (default: 60s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`                     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`                      // IP addresses/CIDRs allowed to access API (empty = allow all)
	TrustProxy     bool          `yaml:"trust_proxy"`                      // honour X-Forwarded-For
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// StorageConfig contains artifact store settings
type StorageConfig struct {
	Path       string          `yaml:"path" validate:"required"`
	SigningKey string          `yaml:"signing_key" validate:"required,min=16"`
	URLTTL     time.Duration   `yaml:"url_ttl" validate:"gt=0"` // lifetime of signed download links
	Retention  RetentionConfig `yaml:"retention"`
}

// RetentionConfig contains artifact retention settings
type RetentionConfig struct {
	MaxAge          time.Duration `yaml:"max_age"`          // Delete artifacts older than this (0 = keep forever)
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // How often to run cleanup
}

// TrackingConfig contains tracking code settings
type TrackingConfig struct {
	BaseURL       string `yaml:"base_url" validate:"required,url"`
	CodeSize      int    `yaml:"code_size" validate:"gte=64,lte=4096"`
	RecoveryLevel string `yaml:"recovery_level"`
	FallbackURL   string `yaml:"fallback_url" validate:"omitempty,url"` // redirect when no landing page exists
}

// BatchConfig contains batch processor settings
type BatchConfig struct {
	Concurrency   int           `yaml:"concurrency" validate:"gte=1,lte=64"`
	CodeTimeout   time.Duration `yaml:"code_timeout" validate:"gt=0"`
	RenderTimeout time.Duration `yaml:"render_timeout" validate:"gt=0"`
	Validate      bool          `yaml:"validate"` // run batch validation before processing
}

// RenderConfig contains headless Chrome settings
type RenderConfig struct {
	ChromeBin     string        `yaml:"chrome_bin"`
	ControlURL    string        `yaml:"control_url" validate:"omitempty,url"`
	Pages         int           `yaml:"pages" validate:"gte=1"`
	NoSandbox     bool          `yaml:"no_sandbox"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	DefaultFormat string        `yaml:"default_format"`
}

// ProgressConfig selects where progress events go
type ProgressConfig struct {
	Backend string      `yaml:"backend" validate:"oneof=memory redis"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl"`
}

// QuotaConfig caps the mail pieces rendered through the API
type QuotaConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Global              *QuotaLimits  `yaml:"global,omitempty"`
	DefaultOrganization *QuotaLimits  `yaml:"default_organization,omitempty"`
	DefaultIP           *QuotaLimits  `yaml:"default_ip,omitempty"`
	FlushInterval       time.Duration `yaml:"flush_interval"`
}

// QuotaLimits contains quota values (0 = unlimited)
type QuotaLimits struct {
	PiecesPerHour int `yaml:"pieces_per_hour" validate:"gte=0"`
	PiecesPerDay  int `yaml:"pieces_per_day" validate:"gte=0"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report yaml names in errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = "http://localhost:8080"
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 10 << 20 // 10 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 60 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/vdpress/vdpress.db"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/vdpress/artifacts.db"
	}
	if c.Storage.URLTTL == 0 {
		c.Storage.URLTTL = 7 * 24 * time.Hour
	}
	if c.Storage.Retention.CleanupInterval == 0 {
		c.Storage.Retention.CleanupInterval = time.Hour
	}

	if c.Tracking.BaseURL == "" {
		c.Tracking.BaseURL = c.Server.PublicURL + "/t"
	}
	if c.Tracking.CodeSize == 0 {
		c.Tracking.CodeSize = codegen.DefaultSize
	}
	if c.Tracking.RecoveryLevel == "" {
		c.Tracking.RecoveryLevel = "medium"
	}

	if c.Batch.Concurrency == 0 {
		c.Batch.Concurrency = 1
	}
	if c.Batch.CodeTimeout == 0 {
		c.Batch.CodeTimeout = 10 * time.Second
	}
	if c.Batch.RenderTimeout == 0 {
		c.Batch.RenderTimeout = 60 * time.Second
	}

	if c.Render.Pages == 0 {
		c.Render.Pages = c.Batch.Concurrency
	}
	if c.Render.Timeout == 0 {
		c.Render.Timeout = c.Batch.RenderTimeout
	}
	if c.Render.DefaultFormat == "" {
		c.Render.DefaultFormat = render.DefaultFormat
	}

	if c.Progress.Backend == "" {
		c.Progress.Backend = "memory"
	}
	if c.Progress.Redis.TTL == 0 {
		c.Progress.Redis.TTL = 24 * time.Hour
	}

	if c.Quota.FlushInterval == 0 {
		c.Quota.FlushInterval = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if u, err := url.Parse(c.Tracking.BaseURL); err != nil || u.Host == "" {
		return fmt.Errorf("tracking.base_url must be an absolute URL: %s", c.Tracking.BaseURL)
	}
	if _, err := codegen.ParseLevel(c.Tracking.RecoveryLevel); err != nil {
		return fmt.Errorf("invalid tracking.recovery_level: %s (must be low, medium, high, or highest)", c.Tracking.RecoveryLevel)
	}

	if _, ok := render.LookupFormat(c.Render.DefaultFormat); !ok {
		return fmt.Errorf("unknown render.default_format: %s", c.Render.DefaultFormat)
	}

	if c.Progress.Backend == "redis" && c.Progress.Redis.Addr == "" {
		return fmt.Errorf("progress.redis.addr is required when progress.backend is redis")
	}

	if c.API.APIKeyHash != "" && !strings.HasPrefix(c.API.APIKeyHash, "$2") {
		return fmt.Errorf("api.api_key_hash must be a bcrypt hash (see 'vdpress apikey hash')")
	}

	if _, err := ipfilter.Parse(c.API.AllowedIPs); err != nil {
		return fmt.Errorf("invalid api.allowed_ips: %w", err)
	}
	if _, err := ipfilter.Parse(c.Metrics.AllowedIPs); err != nil {
		return fmt.Errorf("invalid metrics.allowed_ips: %w", err)
	}

	if c.Quota.Enabled && c.Quota.Global == nil && c.Quota.DefaultOrganization == nil && c.Quota.DefaultIP == nil {
		return fmt.Errorf("quota is enabled but no limits are configured")
	}

	if c.Storage.Retention.MaxAge < 0 {
		return fmt.Errorf("storage.retention.max_age must not be negative")
	}

	return nil
}

// formatValidationError turns validator output into one readable error
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.TrimPrefix(e.Namespace(), "Config.")
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "url":
			msgs = append(msgs, field+" must be a valid URL")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, e.Param()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, minParam(e)))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return errors.New(strings.Join(msgs, ", "))
}

func minParam(e validator.FieldError) string {
	if e.Tag() == "min" && e.Kind() == reflect.String {
		return e.Param() + " characters"
	}
	return e.Param()
}
