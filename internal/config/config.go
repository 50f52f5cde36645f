package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/denticheck-screening-server/internal/domain"
)

const envPrefix = "DENTICHECK"

var _ domain.ConfigManager = (*Manager)(nil)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config

	configPaths []string
	envFile     string
}

// Option customizes where a Manager looks for its sources.
type Option func(*Manager)

// WithConfigPaths replaces the directories searched for config.yaml.
func WithConfigPaths(paths ...string) Option {
	return func(m *Manager) { m.configPaths = paths }
}

// WithEnvFile sets the dotenv file loaded before reading the environment. "" disables it.
func WithEnvFile(path string) Option {
	return func(m *Manager) { m.envFile = path }
}

// NewManager creates a new configuration manager
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		configPaths: []string{".", "./config", "/etc/denticheck/"},
		envFile:     ".env",
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	if m.envFile != "" {
		// Existing environment variables win over the dotenv file.
		if err := godotenv.Load(m.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading %s: %w", m.envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range m.configPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("ai_client.base_url", "http://localhost:8001")
	v.SetDefault("ai_client.timeout", "5s")

	v.SetDefault("analyze.timeout", "25s")

	v.SetDefault("generative.enabled", false)
	v.SetDefault("generative.provider", "http")
	v.SetDefault("generative.base_url", "")
	v.SetDefault("generative.api_key", "")
	v.SetDefault("generative.model", "gemini-2.0-flash")
	v.SetDefault("generative.timeout", "20s")
	v.SetDefault("generative.language", "ko")
	v.SetDefault("generative.requests_per_second", 0)

	v.SetDefault("rag.enabled", false)
	v.SetDefault("rag.base_url", "")
	v.SetDefault("rag.top_k", 8)
	v.SetDefault("rag.timeout", "3s")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.default_ttl", "10m")
	v.SetDefault("cache.max_items", 1024)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	v.SetDefault("report.language", "ko")
	v.SetDefault("report.font_path", "")
	v.SetDefault("report.storage_type", "local")
	v.SetDefault("report.local_dir", "./data/reports")
	v.SetDefault("report.base_url", "http://localhost:8080/reports")

	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "denticheck-reports")
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.report_prefix", "ai-check")
	v.SetDefault("minio.presign_expiry", "168h")

	v.SetDefault("session.store", "sqlite")
	v.SetDefault("session.sqlite_path", "./data/sessions.db")
	v.SetDefault("session.postgres_url", "")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "denticheck")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 2)
	v.SetDefault("rate_limit.burst", 10)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// ConfigFileUsed returns the path of the loaded config.yaml, or "".
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration for values the server cannot start with.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server max_upload_bytes must be positive")
	}

	if config.AIClient.BaseURL == "" {
		return fmt.Errorf("AI client base URL is required")
	}
	if _, err := url.ParseRequestURI(config.AIClient.BaseURL); err != nil {
		return fmt.Errorf("invalid AI client base URL: %w", err)
	}
	if config.Analyze.Timeout <= 0 {
		return fmt.Errorf("analyze timeout must be positive")
	}

	if config.Generative.Enabled {
		switch strings.ToLower(config.Generative.Provider) {
		case "", "http":
			if config.Generative.BaseURL == "" {
				return fmt.Errorf("generative base URL is required for the http provider")
			}
		case "gemini":
			if config.Generative.APIKey == "" {
				return fmt.Errorf("generative API key is required for the gemini provider")
			}
		default:
			return fmt.Errorf("unknown generative provider: %s", config.Generative.Provider)
		}
	}

	if config.Rag.Enabled && config.Rag.BaseURL == "" {
		return fmt.Errorf("RAG base URL is required when RAG is enabled")
	}

	switch config.Cache.Backend {
	case "", "memory":
	case "redis":
		if config.Cache.RedisURL == "" {
			return fmt.Errorf("Redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", config.Cache.Backend)
	}

	switch config.Report.StorageType {
	case "", "local":
		if config.Report.LocalDir == "" {
			return fmt.Errorf("report local_dir is required for local storage")
		}
	case "minio":
		if config.Minio.Endpoint == "" || config.Minio.Bucket == "" {
			return fmt.Errorf("minio endpoint and bucket are required for minio storage")
		}
	default:
		return fmt.Errorf("unknown report storage type: %s", config.Report.StorageType)
	}

	switch config.Session.Store {
	case "", "sqlite":
	case "postgres":
		if config.Session.PostgresURL == "" {
			return fmt.Errorf("session postgres_url is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown session store: %s", config.Session.Store)
	}

	if config.Database.Enabled {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	switch config.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit requests_per_second must be positive when enabled")
	}

	return nil
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}
