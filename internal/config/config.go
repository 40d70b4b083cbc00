package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"kostbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Exports    ExportConfig     `yaml:"exports"`
	Google     GoogleConfig     `yaml:"google"`
	AMQP       AMQPConfig       `yaml:"amqp"`
}

type BookingConfig struct {
	GraceMinutes     int           `yaml:"grace_minutes"`
	MaxDurationHours int           `yaml:"max_duration_hours"`
	MaxAdvanceDays   int           `yaml:"max_advance_days"`
	MaxRetries       int           `yaml:"max_retries"`
	LockTimeout      time.Duration `yaml:"lock_timeout"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
}

// Grace is the early check-in window.
func (c BookingConfig) Grace() time.Duration {
	return time.Duration(c.GraceMinutes) * time.Minute
}

type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	JWT       JWTConfig          `yaml:"jwt"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	Reflection      bool          `yaml:"reflection"`
	TLS             APITLSConfig  `yaml:"tls"`
	MaxRecvMsgBytes int           `yaml:"max_recv_msg_bytes"`
	MinPingInterval time.Duration `yaml:"min_ping_interval"`
	MaxConnIdle     time.Duration `yaml:"max_conn_idle"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// JWTConfig verifies bearer sessions issued by the auth service.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// Load reads the YAML file at path. A .env file in the working directory is
// loaded first when present, and ${VAR} references are expanded before
// parsing.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands environment references in data, decodes it, fills defaults
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.API.HTTP.Enabled && c.API.JWT.Secret == "" {
		errs = append(errs, errors.New("api.jwt.secret is required when the HTTP API is enabled"))
	}
	errs = append(errs, c.Booking.validate()...)
	if c.Sweep.Enabled && c.Sweep.Interval < time.Second {
		errs = append(errs, errors.New("sweep.interval must be at least 1s"))
	}
	if err := c.API.Auth.validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c BookingConfig) validate() []error {
	var errs []error
	if c.GraceMinutes < 0 {
		errs = append(errs, errors.New("booking.grace_minutes must not be negative"))
	}
	if c.MaxDurationHours < 1 {
		errs = append(errs, errors.New("booking.max_duration_hours must be at least 1"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("booking.max_retries must not be negative"))
	}
	// the lease must outlive a full admission attempt
	if c.LockTTL > 0 && c.LockTTL < c.LockTimeout {
		errs = append(errs, fmt.Errorf("booking.lock_ttl (%s) must not be shorter than booking.lock_timeout (%s)", c.LockTTL, c.LockTimeout))
	}
	return errs
}

func (c APIAuthConfig) validate() error {
	seen := make(map[string]string, len(c.APIKeys))
	for _, k := range c.APIKeys {
		if k.Key == "" {
			continue
		}
		if other, dup := seen[k.Key]; dup {
			return fmt.Errorf("api.auth.api_keys: %q and %q share a key", other, k.Name)
		}
		seen[k.Key] = k.Name
	}
	return nil
}

// ValidateKosts checks the catalogue seed for duplicate or zero ids.
func ValidateKosts(kosts []models.Kost) error {
	kostIDs := make(map[int64]bool)
	roomIDs := make(map[int64]bool)
	for _, k := range kosts {
		if k.ID == 0 {
			return fmt.Errorf("kost '%s' has invalid ID 0", k.Name)
		}
		if kostIDs[k.ID] {
			return fmt.Errorf("duplicate kost ID found: %d", k.ID)
		}
		kostIDs[k.ID] = true
		if k.PricePerHour <= 0 {
			return fmt.Errorf("kost %d has non-positive price_per_hour", k.ID)
		}
		for _, r := range k.Rooms {
			if r.ID == 0 {
				return fmt.Errorf("room '%s' of kost %d has invalid ID 0", r.Number, k.ID)
			}
			if roomIDs[r.ID] {
				return fmt.Errorf("duplicate room ID found: %d", r.ID)
			}
			roomIDs[r.ID] = true
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.API.applyDefaults()
	c.Booking.applyDefaults()

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = models.DefaultSweepInterval
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "kostbook.bookings"
	}
}

func (c *APIConfig) applyDefaults() {
	if c.Enabled {
		c.HTTP.Enabled = true
	}
	c.HTTP.Port = cmp.Or(c.HTTP.Port, 8080)
	c.GRPC.Port = cmp.Or(c.GRPC.Port, 8081)
	c.GRPC.MaxRecvMsgBytes = cmp.Or(c.GRPC.MaxRecvMsgBytes, 1<<20)
	c.GRPC.MinPingInterval = cmp.Or(c.GRPC.MinPingInterval, 30*time.Second)
	c.GRPC.MaxConnIdle = cmp.Or(c.GRPC.MaxConnIdle, 15*time.Minute)
	c.Auth.HeaderAPIKey = cmp.Or(c.Auth.HeaderAPIKey, "x-api-key")
	c.Auth.HeaderExtra = cmp.Or(c.Auth.HeaderExtra, "x-api-extra")
	c.JWT.Issuer = cmp.Or(c.JWT.Issuer, "kostbook")
}

func (c *BookingConfig) applyDefaults() {
	c.GraceMinutes = cmp.Or(c.GraceMinutes, int(models.DefaultCheckinGrace/time.Minute))
	c.MaxDurationHours = cmp.Or(c.MaxDurationHours, models.DefaultMaxDurationHours)
	c.MaxAdvanceDays = cmp.Or(c.MaxAdvanceDays, models.DefaultMaxAdvanceDays)
	c.MaxRetries = cmp.Or(c.MaxRetries, models.DefaultAdmissionRetries)
	c.LockTimeout = cmp.Or(c.LockTimeout, models.DefaultLockTimeout)
	c.LockTTL = cmp.Or(c.LockTTL, 10*time.Second)
}
