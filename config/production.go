// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database    DatabaseConfig    `json:"database"`
	Server      ServerConfig      `json:"server"`
	Security    SecurityConfig    `json:"security"`
	JWT         JWTConfig         `json:"jwt"`
	Logging     LoggingConfig     `json:"logging"`
	Metrics     MetricsConfig     `json:"metrics"`
	Cache       CacheConfig       `json:"cache"`
	Telegram    TelegramConfig    `json:"telegram"`
	Dispatch    DispatchConfig    `json:"dispatch"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Deployment  DeploymentConfig  `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

// DSN returns the libpq connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
	CompressionLevel  int           `json:"compression_level"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`

	// Rate Limiting
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// Content Security
	XFrameOptions  string `json:"x_frame_options"`
	ReferrerPolicy string `json:"referrer_policy"`

	// Scheduler API keys for the external trigger endpoints
	APIKeyHeader     string   `json:"api_key_header"`
	SchedulerAPIKeys []string `json:"-"`
}

// JWTConfig configures verification of admin tokens issued by the auth service
type JWTConfig struct {
	SecretKey  string `json:"-"`
	PublicKey  string `json:"-"`            // RSA public key in PEM format
	UseRSAKeys bool   `json:"use_rsa_keys"` // Whether to use RSA keys instead of secret key
	Issuer     string `json:"issuer"`
	Audience   string `json:"audience"`
	AdminRole  string `json:"admin_role"`
}

type LoggingConfig struct {
	Level        string `json:"level"`  // debug, info, warn, error
	Format       string `json:"format"` // json, text
	Output       string `json:"output"` // stdout, file, both
	FilePath     string `json:"file_path"`
	MaxSize      int    `json:"max_size"` // MB
	MaxBackups   int    `json:"max_backups"`
	MaxAge       int    `json:"max_age"` // days
	Compress     bool   `json:"compress"`
	EnableCaller bool   `json:"enable_caller"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled"`
	Provider    string        `json:"provider"` // redis, memory
	RedisURL    string        `json:"redis_url"`
	RedisDB     int           `json:"redis_db"`
	RedisPrefix string        `json:"redis_prefix"`
	DefaultTTL  time.Duration `json:"default_ttl"`
}

// TelegramConfig configures the Bot API sender
type TelegramConfig struct {
	BotToken           string        `json:"-"`
	APIBaseURL         string        `json:"api_base_url"`
	Timeout            time.Duration `json:"timeout"`
	MessagesPerSecond  float64       `json:"messages_per_second"`
	MaxRetryAfter      time.Duration `json:"max_retry_after"`
	DisableLinkPreview bool          `json:"disable_link_preview"`
}

// DispatchConfig configures the dispatch engine and its worker pool
type DispatchConfig struct {
	WorkerEnabled      bool          `json:"worker_enabled"`
	Workers            int           `json:"workers"`
	Interval           time.Duration `json:"interval"`
	BatchSize          int           `json:"batch_size"`
	GuardWindow        time.Duration `json:"guard_window"`
	MaxBatchesPerWake  int           `json:"max_batches_per_wake"`
	KickOnCreate       bool          `json:"kick_on_create"`
	ProgressPing       time.Duration `json:"progress_ping"`
	ProgressBufferSize int           `json:"progress_buffer_size"`
}

// MaintenanceConfig configures the periodic maintenance sweeps
type MaintenanceConfig struct {
	Enabled             bool   `json:"enabled"`
	CleanupSchedule     string `json:"cleanup_schedule"`
	CleanupDays         int    `json:"cleanup_days"`
	CancelStaleSchedule string `json:"cancel_stale_schedule"`
	CancelStaleDays     int    `json:"cancel_stale_days"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// IsProduction reports whether the service runs in the production environment
func (c DeploymentConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := loadFromEnv()

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromEnv() *ProductionConfig {
	return &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "astro"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
			CompressionLevel:  getEnvInt("SERVER_COMPRESSION_LEVEL", 1),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-API-Key"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			CORSMaxAge:       getEnvInt("CORS_MAX_AGE", 86400),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 600),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			XFrameOptions:    getEnvString("X_FRAME_OPTIONS", "DENY"),
			ReferrerPolicy:   getEnvString("REFERRER_POLICY", "strict-origin-when-cross-origin"),
			APIKeyHeader:     getEnvString("API_KEY_HEADER", "X-API-Key"),
			SchedulerAPIKeys: getEnvStringSlice("SCHEDULER_API_KEYS", nil),
		},
		JWT: JWTConfig{
			SecretKey:  getEnvString("JWT_SECRET_KEY", ""),
			PublicKey:  getEnvString("JWT_PUBLIC_KEY", ""),
			UseRSAKeys: getEnvBool("JWT_USE_RSA_KEYS", false),
			Issuer:     getEnvString("JWT_ISSUER", "astro-auth"),
			Audience:   getEnvString("JWT_AUDIENCE", "astro-admin"),
			AdminRole:  getEnvString("JWT_ADMIN_ROLE", "admin"),
		},
		Logging: LoggingConfig{
			Level:        getEnvString("LOG_LEVEL", "info"),
			Format:       getEnvString("LOG_FORMAT", "json"),
			Output:       getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:     getEnvString("LOG_FILE_PATH", "/var/log/astro-dispatch/app.log"),
			MaxSize:      getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:   getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:       getEnvInt("LOG_MAX_AGE", 30),
			Compress:     getEnvBool("LOG_COMPRESS", true),
			EnableCaller: getEnvBool("LOG_ENABLE_CALLER", false),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", false),
			Provider:    getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "astro:"),
			DefaultTTL:  getEnvDuration("CACHE_DEFAULT_TTL", 24*time.Hour),
		},
		Telegram: TelegramConfig{
			BotToken:           getEnvString("TELEGRAM_BOT_TOKEN", ""),
			APIBaseURL:         strings.TrimRight(getEnvString("TELEGRAM_API_BASE_URL", "https://api.telegram.org"), "/"),
			Timeout:            getEnvDuration("TELEGRAM_TIMEOUT", 30*time.Second),
			MessagesPerSecond:  getEnvFloat("TELEGRAM_MESSAGES_PER_SECOND", 25),
			MaxRetryAfter:      getEnvDuration("TELEGRAM_MAX_RETRY_AFTER", 5*time.Second),
			DisableLinkPreview: getEnvBool("TELEGRAM_DISABLE_LINK_PREVIEW", false),
		},
		Dispatch: DispatchConfig{
			WorkerEnabled:      getEnvBool("DISPATCH_WORKER_ENABLED", true),
			Workers:            getEnvInt("DISPATCH_WORKERS", 1),
			Interval:           getEnvDuration("DISPATCH_INTERVAL", 1*time.Minute),
			BatchSize:          getEnvInt("DISPATCH_BATCH_SIZE", 50),
			GuardWindow:        getEnvDuration("DISPATCH_GUARD_WINDOW", 2*time.Minute),
			MaxBatchesPerWake:  getEnvInt("DISPATCH_MAX_BATCHES_PER_WAKE", 20),
			KickOnCreate:       getEnvBool("DISPATCH_KICK_ON_CREATE", true),
			ProgressPing:       getEnvDuration("DISPATCH_PROGRESS_PING", 15*time.Second),
			ProgressBufferSize: getEnvInt("DISPATCH_PROGRESS_BUFFER", 16),
		},
		Maintenance: MaintenanceConfig{
			Enabled:             getEnvBool("MAINTENANCE_ENABLED", true),
			CleanupSchedule:     getEnvString("MAINTENANCE_CLEANUP_SCHEDULE", "@daily"),
			CleanupDays:         getEnvInt("MAINTENANCE_CLEANUP_DAYS", 30),
			CancelStaleSchedule: getEnvString("MAINTENANCE_CANCEL_STALE_SCHEDULE", ""),
			CancelStaleDays:     getEnvInt("MAINTENANCE_CANCEL_STALE_DAYS", 7),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}
}

// loadEnvFile loads environment variables from the given file if it exists
func loadEnvFile(envFile string) error {
	// Check if .env file exists
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		// .env file doesn't exist, continue with environment variables
		return nil
	}

	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 && ((strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
			(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`))) {
			value = value[1 : len(value)-1]
		}

		// Set environment variable if not already set
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}
	if cfg.Database.Password == "" && cfg.Deployment.IsProduction() {
		errors = append(errors, "DB_PASSWORD is required")
	}

	// Validate JWT configuration
	if cfg.JWT.UseRSAKeys {
		if cfg.JWT.PublicKey == "" {
			errors = append(errors, "JWT_PUBLIC_KEY is required when JWT_USE_RSA_KEYS is true")
		}
	} else if len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.Issuer == "" {
		errors = append(errors, "JWT_ISSUER is required")
	}
	if cfg.JWT.Audience == "" {
		errors = append(errors, "JWT_AUDIENCE is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.IdleTimeout <= 0 {
		errors = append(errors, "SERVER_IDLE_TIMEOUT must be positive")
	}

	// Validate logging configuration
	if cfg.Logging.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		valid := false
		for _, level := range validLevels {
			if cfg.Logging.Level == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
		}
	}
	switch cfg.Logging.Output {
	case "stdout", "file", "both":
	default:
		errors = append(errors, "LOG_OUTPUT must be one of: stdout, file, both")
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled {
		if cfg.Cache.Provider == "redis" && cfg.Cache.RedisURL == "" {
			errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled with redis provider")
		}
	}

	// Validate telegram configuration; a missing token is reported per trigger
	if cfg.Telegram.APIBaseURL == "" {
		errors = append(errors, "TELEGRAM_API_BASE_URL is required")
	}
	if cfg.Telegram.Timeout <= 0 {
		errors = append(errors, "TELEGRAM_TIMEOUT must be positive")
	}
	if cfg.Telegram.MessagesPerSecond <= 0 {
		errors = append(errors, "TELEGRAM_MESSAGES_PER_SECOND must be positive")
	}

	// Validate dispatch configuration
	if cfg.Dispatch.Workers < 1 {
		errors = append(errors, "DISPATCH_WORKERS must be at least 1")
	}
	if cfg.Dispatch.Interval <= 0 {
		errors = append(errors, "DISPATCH_INTERVAL must be positive")
	}
	if cfg.Dispatch.BatchSize < 1 || cfg.Dispatch.BatchSize > 1000 {
		errors = append(errors, "DISPATCH_BATCH_SIZE must be between 1 and 1000")
	}
	if cfg.Dispatch.GuardWindow <= 0 {
		errors = append(errors, "DISPATCH_GUARD_WINDOW must be positive")
	}
	if cfg.Dispatch.MaxBatchesPerWake < 1 {
		errors = append(errors, "DISPATCH_MAX_BATCHES_PER_WAKE must be at least 1")
	}

	// Validate maintenance schedules
	if cfg.Maintenance.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.Maintenance.CleanupSchedule); err != nil {
			errors = append(errors, fmt.Sprintf("MAINTENANCE_CLEANUP_SCHEDULE is invalid: %v", err))
		}
		if cfg.Maintenance.CancelStaleSchedule != "" {
			if _, err := parser.Parse(cfg.Maintenance.CancelStaleSchedule); err != nil {
				errors = append(errors, fmt.Sprintf("MAINTENANCE_CANCEL_STALE_SCHEDULE is invalid: %v", err))
			}
		}
		if cfg.Maintenance.CleanupDays < 1 {
			errors = append(errors, "MAINTENANCE_CLEANUP_DAYS must be at least 1")
		}
		if cfg.Maintenance.CancelStaleDays < 1 {
			errors = append(errors, "MAINTENANCE_CANCEL_STALE_DAYS must be at least 1")
		}
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
