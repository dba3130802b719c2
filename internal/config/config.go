package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Notifier NotifierConfig `yaml:"notifier" envconfig:"NOTIFIER"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// DatabaseConfig contains the PostgreSQL connection settings for the
// license store. DSN is required for the server binaries; client-side
// tooling loads the same config and simply never opens the pool.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	MigrateOnStart  bool          `yaml:"migrate_on_start" envconfig:"MIGRATE_ON_START"`
}

// SecurityConfig contains security-related configuration.
// AdminSecret guards revocation, PartnerSecret guards issuance; the two
// are distinct credentials and neither is ever logged.
type SecurityConfig struct {
	AdminSecret    string          `yaml:"admin_secret" envconfig:"ADMIN_SECRET"`
	PartnerSecret  string          `yaml:"partner_secret" envconfig:"PARTNER_SECRET"`
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// NotifierConfig contains the issuance notification sink settings.
// The sink posts the one-time key payload to WebhookURL; delivery runs
// on a detached context bounded by Timeout.
type NotifierConfig struct {
	Enabled    bool          `yaml:"enabled" envconfig:"ENABLED"`
	WebhookURL string        `yaml:"webhook_url" envconfig:"WEBHOOK_URL"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	ExecutableDir    string `yaml:"executable_dir" envconfig:"EXECUTABLE_DIR"`
	DataDir          string `yaml:"data_dir" envconfig:"DATA_DIR"`
	LogsDir          string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
	LicenseStateFile string `yaml:"license_state_file" envconfig:"LICENSE_STATE_FILE"`
	TrialFile        string `yaml:"trial_file" envconfig:"TRIAL_FILE"`
	AuditLogFile     string `yaml:"audit_log_file" envconfig:"AUDIT_LOG_FILE"`
}

// Load loads configuration with defaults < config file < environment
// precedence. Environment variables use the KEYGATE_ prefix
// (KEYGATE_SERVER_PORT, KEYGATE_DATABASE_DSN, ...).
func Load() (*Config, error) {
	cfg := Default()

	// Overlay config file if one exists
	configFile := getConfigFilePath()
	if configFile != "" {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg.overlay(fileCfg)
	}

	// Environment variables override everything
	if err := envconfig.Process("KEYGATE", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Resolve relative paths
	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// overlay applies non-zero values from the file config on top of the defaults
func (c *Config) overlay(file *Config) {
	if file.Server.Port != 0 {
		c.Server.Port = file.Server.Port
	}
	if file.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = file.Server.ReadTimeout
	}
	if file.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = file.Server.WriteTimeout
	}
	if file.Server.IdleTimeout != 0 {
		c.Server.IdleTimeout = file.Server.IdleTimeout
	}
	if file.Server.MaxHeaderBytes != 0 {
		c.Server.MaxHeaderBytes = file.Server.MaxHeaderBytes
	}
	if file.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = file.Server.ShutdownTimeout
	}
	if file.Server.RequestTimeout != 0 {
		c.Server.RequestTimeout = file.Server.RequestTimeout
	}

	if file.Database.DSN != "" {
		c.Database.DSN = file.Database.DSN
	}
	if file.Database.MaxOpenConns != 0 {
		c.Database.MaxOpenConns = file.Database.MaxOpenConns
	}
	if file.Database.MaxIdleConns != 0 {
		c.Database.MaxIdleConns = file.Database.MaxIdleConns
	}
	if file.Database.ConnMaxLifetime != 0 {
		c.Database.ConnMaxLifetime = file.Database.ConnMaxLifetime
	}
	if file.Database.ConnectTimeout != 0 {
		c.Database.ConnectTimeout = file.Database.ConnectTimeout
	}
	if file.Database.MigrateOnStart {
		c.Database.MigrateOnStart = true
	}

	if file.Security.AdminSecret != "" {
		c.Security.AdminSecret = file.Security.AdminSecret
	}
	if file.Security.PartnerSecret != "" {
		c.Security.PartnerSecret = file.Security.PartnerSecret
	}
	if len(file.Security.AllowedOrigins) > 0 {
		c.Security.AllowedOrigins = file.Security.AllowedOrigins
	}
	if file.Security.EnableCORS {
		c.Security.EnableCORS = true
	}
	if file.Security.RateLimit.RPS != 0 {
		c.Security.RateLimit.RPS = file.Security.RateLimit.RPS
	}
	if file.Security.RateLimit.Burst != 0 {
		c.Security.RateLimit.Burst = file.Security.RateLimit.Burst
	}

	if file.Logging.Level != "" {
		c.Logging.Level = file.Logging.Level
	}
	if file.Logging.Format != "" {
		c.Logging.Format = file.Logging.Format
	}
	if file.Logging.Output != "" {
		c.Logging.Output = file.Logging.Output
	}
	if file.Logging.FilePath != "" {
		c.Logging.FilePath = file.Logging.FilePath
	}

	if file.Notifier.Enabled {
		c.Notifier.Enabled = true
	}
	if file.Notifier.WebhookURL != "" {
		c.Notifier.WebhookURL = file.Notifier.WebhookURL
	}
	if file.Notifier.Timeout != 0 {
		c.Notifier.Timeout = file.Notifier.Timeout
	}

	if file.Paths.DataDir != "" {
		c.Paths.DataDir = file.Paths.DataDir
	}
	if file.Paths.LogsDir != "" {
		c.Paths.LogsDir = file.Paths.LogsDir
	}
	if file.Paths.LicenseStateFile != "" {
		c.Paths.LicenseStateFile = file.Paths.LicenseStateFile
	}
	if file.Paths.TrialFile != "" {
		c.Paths.TrialFile = file.Paths.TrialFile
	}
	if file.Paths.AuditLogFile != "" {
		c.Paths.AuditLogFile = file.Paths.AuditLogFile
	}
}

// resolvePaths sets up the executable directory from the centralized paths system
func (c *Config) resolvePaths() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("failed to get paths: %w", err)
	}

	c.Paths.ExecutableDir = paths.ExecutableDir

	return nil
}

// EnsureDirectories creates the data and log directories if missing
func (c *Config) EnsureDirectories() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("failed to get paths: %w", err)
	}

	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to ensure directories: %w", err)
	}

	return nil
}

// GetDataDir returns the resolved data directory path
func (c *Config) GetDataDir() string {
	if filepath.IsAbs(c.Paths.DataDir) {
		return c.Paths.DataDir
	}
	return filepath.Join(c.Paths.ExecutableDir, c.Paths.DataDir)
}

// GetLogsDir returns the resolved logs directory path
func (c *Config) GetLogsDir() string {
	if filepath.IsAbs(c.Paths.LogsDir) {
		return c.Paths.LogsDir
	}
	return filepath.Join(c.Paths.ExecutableDir, c.Paths.LogsDir)
}

// GetLicenseStateFile returns the resolved client license state file path
func (c *Config) GetLicenseStateFile() string {
	if filepath.IsAbs(c.Paths.LicenseStateFile) {
		return c.Paths.LicenseStateFile
	}
	return filepath.Join(c.Paths.ExecutableDir, c.Paths.LicenseStateFile)
}

// GetTrialFile returns the resolved trial record file path
func (c *Config) GetTrialFile() string {
	if filepath.IsAbs(c.Paths.TrialFile) {
		return c.Paths.TrialFile
	}
	return filepath.Join(c.Paths.ExecutableDir, c.Paths.TrialFile)
}

// GetAuditLogFile returns the resolved audit log file path
func (c *Config) GetAuditLogFile() string {
	if filepath.IsAbs(c.Paths.AuditLogFile) {
		return c.Paths.AuditLogFile
	}
	return filepath.Join(c.GetDataDir(), c.Paths.AuditLogFile)
}

// validate validates the configuration and normalizes logging settings
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate limit rps must be positive when enabled")
		}
		if c.Security.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive when enabled")
		}
	}

	if c.Notifier.Enabled && c.Notifier.WebhookURL == "" {
		return fmt.Errorf("notifier webhook url is required when the notifier is enabled")
	}

	// Logs are always structured JSON
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "file", "both":
	default:
		c.Logging.Output = "both"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(DefaultLogsDir, DefaultLogFileName)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	// Check for config file in common locations
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			MigrateOnStart:  true,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimitRPS,
				Burst:   DefaultRateLimitBurst,
			},
		},
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   DefaultLogFormat,
			Output:   "both",
			FilePath: filepath.Join(DefaultLogsDir, DefaultLogFileName),
		},
		Notifier: NotifierConfig{
			Enabled: false,
			Timeout: NotifyTimeout,
		},
		Paths: PathsConfig{
			DataDir:          DefaultDataDir,
			LogsDir:          DefaultLogsDir,
			LicenseStateFile: LicenseStateFileName,
			TrialFile:        TrialFileName,
			AuditLogFile:     AuditLogFileName,
		},
	}
}
