package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	AIClient    AIClientConfig   `mapstructure:"ai_client"`
	Analyze     AnalyzeConfig    `mapstructure:"analyze"`
	Generative  GenerativeConfig `mapstructure:"generative"`
	Rag         RagConfig        `mapstructure:"rag"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Report      ReportConfig     `mapstructure:"report"`
	Minio       MinioConfig      `mapstructure:"minio"`
	Session     SessionConfig    `mapstructure:"session"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// AIClientConfig configures the upstream quality/detection service
type AIClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AnalyzeConfig configures the narrative-first analyze pipeline
type AnalyzeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// GenerativeConfig configures the optional narrative backend
type GenerativeConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Provider          string        `mapstructure:"provider"` // "http", "gemini"
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Language          string        `mapstructure:"language"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// RagConfig configures the supporting-context retriever
type RagConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	TopK    int           `mapstructure:"top_k"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig represents retrieval cache configuration
type CacheConfig struct {
	Backend     string        `mapstructure:"backend"` // "memory", "redis"
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxItems    int           `mapstructure:"max_items"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// ReportConfig configures rendering and publishing of PDF reports
type ReportConfig struct {
	Language    string `mapstructure:"language"`
	FontPath    string `mapstructure:"font_path"`
	StorageType string `mapstructure:"storage_type"` // "local", "minio"
	LocalDir    string `mapstructure:"local_dir"`
	BaseURL     string `mapstructure:"base_url"`
}

// MinioConfig configures the object storage publisher
type MinioConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	Region        string        `mapstructure:"region"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	ReportPrefix  string        `mapstructure:"report_prefix"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// SessionConfig selects the session ledger backend
type SessionConfig struct {
	Store       string `mapstructure:"store"` // "sqlite", "postgres"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// DatabaseConfig represents the optional screening record database
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdle     time.Duration `mapstructure:"conn_max_idle"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RateLimitConfig configures per-client request throttling on the HTTP façade
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}
