package setup

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeSetup(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp-server")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	return path
}

func TestRegister_PreservesOtherEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{
  "theme": "dark",
  "mcpServers": {"other": {"command": "/usr/bin/other"}}
}`), 0644))

	binary := fakeBinary(t)
	require.NoError(t, Register(path, Options{BinaryPath: binary, DataDir: "/data", AIBaseURL: "http://ai:8001"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.JSONEq(t, `"dark"`, string(doc["theme"]))

	cfg, err := LoadDesktopConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/other", cfg.MCPServers["other"].Command)

	entry := cfg.MCPServers[ServerName]
	assert.Equal(t, binary, entry.Command)
	assert.Equal(t, "/data", entry.Env["DENTICHECK_DATA_DIR"])
	assert.Equal(t, "http://ai:8001", entry.Env["DENTICHECK_AI_URL"])
}

func TestRegister_RequiresBinary(t *testing.T) {
	err := Register(filepath.Join(t.TempDir(), "config.json"), Options{})
	assert.Error(t, err)
}

func TestLoadDesktopConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content *string
		wantErr bool
	}{
		{name: "missing file", content: nil},
		{name: "empty file", content: ptr("  \n")},
		{name: "no servers", content: ptr(`{"theme":"light"}`)},
		{name: "malformed", content: ptr(`{"mcpServers":`), wantErr: true},
		{name: "wrong servers shape", content: ptr(`{"mcpServers":[]}`), wantErr: true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "cfg", string(rune('a'+i))+".json")
			if tt.content != nil {
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0644))
			}

			cfg, err := LoadDesktopConfig(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, cfg.MCPServers)
			assert.Empty(t, cfg.MCPServers)
		})
	}
}

func TestInspect(t *testing.T) {
	t.Run("not registered", func(t *testing.T) {
		status, err := Inspect(filepath.Join(t.TempDir(), "config.json"))
		require.NoError(t, err)
		assert.False(t, status.Registered)
		assert.Contains(t, status.Issues, "server is not registered")
	})

	t.Run("registered", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		binary := fakeBinary(t)
		require.NoError(t, Register(path, Options{BinaryPath: binary, DataDir: "/data"}))

		status, err := Inspect(path)
		require.NoError(t, err)
		assert.True(t, status.Registered)
		assert.Equal(t, binary, status.Command)
		assert.Equal(t, "/data", status.DataDir)
		assert.Empty(t, status.Issues)
	})

	t.Run("binary gone", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		binary := fakeBinary(t)
		require.NoError(t, Register(path, Options{BinaryPath: binary}))
		require.NoError(t, os.Remove(binary))

		status, err := Inspect(path)
		require.NoError(t, err)
		require.Len(t, status.Issues, 1)
		assert.Contains(t, status.Issues[0], "not found")
	})
}

func TestDesktopConfigPath_Override(t *testing.T) {
	t.Setenv(ConfigPathEnv, "/tmp/custom.json")
	path, err := DesktopConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.json", path)
}

func TestSetupCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	binary := fakeBinary(t)

	out, err := executeSetup(t, "register", "--config", path, "--binary", binary, "--data-dir", "/srv/denticheck")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered "+ServerName)

	out, err = executeSetup(t, "status", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Registered:  yes")
	assert.Contains(t, out, binary)
	assert.Contains(t, out, "/srv/denticheck")

	_, err = executeSetup(t, "status", "extra-arg", "--config", path)
	assert.Error(t, err)
}

func ptr(s string) *string { return &s }
