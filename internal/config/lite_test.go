package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.True(t, filepath.IsAbs(cfg.DataDir) || cfg.DataDir == ".denticheck")
	assert.Equal(t, "http://localhost:8001", cfg.AIBaseURL)
	assert.Equal(t, 25*time.Second, cfg.AnalyzeTimeout)
	assert.Equal(t, 1024, cfg.CacheMaxItems)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Empty(t, cfg.GenerativeProvider)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DENTICHECK_DATA_DIR", "/tmp/test-denticheck")
	t.Setenv("DENTICHECK_AI_URL", "http://vision:9000")
	t.Setenv("DENTICHECK_ANALYZE_TIMEOUT", "12s")
	t.Setenv("DENTICHECK_GENERATIVE_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("DENTICHECK_RAG_URL", "http://rag:8002")
	t.Setenv("DENTICHECK_CACHE_MAX_ITEMS", "500")
	t.Setenv("DENTICHECK_CACHE_TTL", "bogus")
	t.Setenv("DENTICHECK_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-denticheck", cfg.DataDir)
	assert.Equal(t, "http://vision:9000", cfg.AIBaseURL)
	assert.Equal(t, 12*time.Second, cfg.AnalyzeTimeout)
	assert.Equal(t, "gemini", cfg.GenerativeProvider)
	assert.Equal(t, "test-key", cfg.GenerativeAPIKey)
	assert.Equal(t, "http://rag:8002", cfg.RagBaseURL)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL, "unparsable durations keep the default")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.denticheck"}

	assert.Equal(t, "/home/user/.denticheck/sessions.db", cfg.SessionDBPath())
	assert.Equal(t, "/home/user/.denticheck/reports", cfg.ReportDir())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "denticheck")}

	require.NoError(t, cfg.EnsureDataDir())

	_, err := os.Stat(cfg.DataDir)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.ReportDir())
	assert.NoError(t, err)
}

func TestLiteConfig_ToConfig(t *testing.T) {
	lite := DefaultLiteConfig()
	lite.DataDir = "/data"

	cfg := lite.ToConfig()

	assert.False(t, cfg.Generative.Enabled)
	assert.False(t, cfg.Rag.Enabled)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "local", cfg.Report.StorageType)
	assert.Equal(t, "/data/reports", cfg.Report.LocalDir)
	assert.Equal(t, "file:///data/reports", cfg.Report.BaseURL)
	assert.Equal(t, "/data/sessions.db", cfg.Session.SQLitePath)
	assert.False(t, cfg.Database.Enabled)

	lite.GenerativeProvider = "http"
	lite.GenerativeBaseURL = "http://gen"
	lite.RagBaseURL = "http://rag"
	cfg = lite.ToConfig()
	assert.True(t, cfg.Generative.Enabled)
	assert.True(t, cfg.Rag.Enabled)
}
