// Package config loads server configuration. Manager reads defaults, config.yaml, .env and
// DENTICHECK_* variables through viper; LiteConfig is the environment-only variant used by
// the MCP binary, which runs without external databases.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/denticheck-screening-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
type LiteConfig struct {
	DataDir string // sessions.db and reports/ live here

	AIBaseURL      string
	AITimeout      time.Duration
	AnalyzeTimeout time.Duration

	GenerativeProvider string // "", "http" or "gemini"; empty disables generation
	GenerativeBaseURL  string
	GenerativeAPIKey   string
	GenerativeModel    string

	RagBaseURL string // empty disables retrieval

	CacheMaxItems int
	CacheTTL      time.Duration

	Language  string
	LogLevel  string
	LogFormat string
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()

	return &LiteConfig{
		DataDir:        filepath.Join(homeDir, ".denticheck"),
		AIBaseURL:      "http://localhost:8001",
		AITimeout:      5 * time.Second,
		AnalyzeTimeout: 25 * time.Second,
		CacheMaxItems:  1024,
		CacheTTL:       10 * time.Minute,
		Language:       "ko",
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	setString(&cfg.DataDir, "DENTICHECK_DATA_DIR")

	setString(&cfg.AIBaseURL, "DENTICHECK_AI_URL")
	setDuration(&cfg.AITimeout, "DENTICHECK_AI_TIMEOUT")
	setDuration(&cfg.AnalyzeTimeout, "DENTICHECK_ANALYZE_TIMEOUT")

	setString(&cfg.GenerativeProvider, "DENTICHECK_GENERATIVE_PROVIDER")
	setString(&cfg.GenerativeBaseURL, "DENTICHECK_GENERATIVE_URL")
	setString(&cfg.GenerativeModel, "DENTICHECK_GENERATIVE_MODEL")
	cfg.GenerativeAPIKey = os.Getenv("GEMINI_API_KEY")

	setString(&cfg.RagBaseURL, "DENTICHECK_RAG_URL")

	if v := os.Getenv("DENTICHECK_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	setDuration(&cfg.CacheTTL, "DENTICHECK_CACHE_TTL")

	setString(&cfg.Language, "DENTICHECK_LANGUAGE")
	setString(&cfg.LogLevel, "DENTICHECK_LOG_LEVEL")
	setString(&cfg.LogFormat, "DENTICHECK_LOG_FORMAT")

	return cfg
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

// SessionDBPath returns the path to the session ledger SQLite database.
func (c *LiteConfig) SessionDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// ReportDir returns the directory rendered reports are written to.
func (c *LiteConfig) ReportDir() string {
	return filepath.Join(c.DataDir, "reports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ReportDir(), 0755)
}

// ToConfig expands the lite settings into a full configuration with local storage, the
// sqlite ledger, the in-memory cache and no record database.
func (c *LiteConfig) ToConfig() *domain.Config {
	return &domain.Config{
		Environment: "lite",
		AIClient:    domain.AIClientConfig{BaseURL: c.AIBaseURL, Timeout: c.AITimeout},
		Analyze:     domain.AnalyzeConfig{Timeout: c.AnalyzeTimeout},
		Generative: domain.GenerativeConfig{
			Enabled:  c.GenerativeProvider != "",
			Provider: c.GenerativeProvider,
			BaseURL:  c.GenerativeBaseURL,
			APIKey:   c.GenerativeAPIKey,
			Model:    c.GenerativeModel,
			Timeout:  20 * time.Second,
			Language: c.Language,
		},
		Rag: domain.RagConfig{
			Enabled: c.RagBaseURL != "",
			BaseURL: c.RagBaseURL,
			TopK:    8,
			Timeout: 3 * time.Second,
		},
		Cache: domain.CacheConfig{
			Backend:    "memory",
			DefaultTTL: c.CacheTTL,
			MaxItems:   c.CacheMaxItems,
		},
		Report: domain.ReportConfig{
			Language:    c.Language,
			StorageType: "local",
			LocalDir:    c.ReportDir(),
			BaseURL:     "file://" + filepath.ToSlash(c.ReportDir()),
		},
		Session: domain.SessionConfig{Store: "sqlite", SQLitePath: c.SessionDBPath()},
		Logging: domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat},
	}
}
