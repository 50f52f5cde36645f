// Package setup registers the MCP server with desktop MCP clients and reports whether the
// registration is usable.
package setup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// ServerName is the key of this server under mcpServers.
	ServerName = "denticheck-screening"

	// ConfigPathEnv overrides the desktop client config location.
	ConfigPathEnv = "DENTICHECK_DESKTOP_CONFIG"

	dataDirEnv = "DENTICHECK_DATA_DIR"
	aiURLEnv   = "DENTICHECK_AI_URL"
)

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// DesktopConfig is the client config file. Keys other than mcpServers are kept verbatim.
type DesktopConfig struct {
	MCPServers map[string]MCPServerConfig
	other      map[string]json.RawMessage
}

// Options describe the registration to write.
type Options struct {
	BinaryPath string
	DataDir    string
	AIBaseURL  string
}

// Status is the result of inspecting a registration.
type Status struct {
	ConfigPath string
	Registered bool
	Command    string
	DataDir    string
	Issues     []string
}

// DesktopConfigPath returns the client config path for this platform.
func DesktopConfigPath() (string, error) {
	if override := os.Getenv(ConfigPathEnv); override != "" {
		return override, nil
	}

	var configDir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
			break
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config", "Claude")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadDesktopConfig reads the client config. A missing file yields an empty config.
func LoadDesktopConfig(path string) (*DesktopConfig, error) {
	cfg := &DesktopConfig{
		MCPServers: make(map[string]MCPServerConfig),
		other:      make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}

	if err := json.Unmarshal(data, &cfg.other); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := cfg.other["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.other, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]MCPServerConfig)
	}
	return cfg, nil
}

// SaveDesktopConfig writes cfg to path, creating the directory if needed.
func SaveDesktopConfig(path string, cfg *DesktopConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]any, len(cfg.other)+1)
	for k, v := range cfg.other {
		out[k] = v
	}
	out["mcpServers"] = cfg.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Register adds or replaces this server's entry in the config at path.
func Register(path string, opts Options) error {
	if strings.TrimSpace(opts.BinaryPath) == "" {
		return fmt.Errorf("server binary path is required")
	}
	binary, err := filepath.Abs(opts.BinaryPath)
	if err != nil {
		return fmt.Errorf("failed to resolve binary path: %w", err)
	}

	cfg, err := LoadDesktopConfig(path)
	if err != nil {
		return err
	}

	entry := MCPServerConfig{Command: binary, Env: map[string]string{}}
	if opts.DataDir != "" {
		entry.Env[dataDirEnv] = opts.DataDir
	}
	if opts.AIBaseURL != "" {
		entry.Env[aiURLEnv] = opts.AIBaseURL
	}
	cfg.MCPServers[ServerName] = entry

	return SaveDesktopConfig(path, cfg)
}

// Inspect reports the registration found at path and anything that would stop it working.
func Inspect(path string) (*Status, error) {
	status := &Status{ConfigPath: path}

	cfg, err := LoadDesktopConfig(path)
	if err != nil {
		return nil, err
	}

	entry, ok := cfg.MCPServers[ServerName]
	if !ok {
		status.Issues = append(status.Issues, "server is not registered")
		return status, nil
	}
	status.Registered = true
	status.Command = entry.Command
	status.DataDir = entry.Env[dataDirEnv]

	info, err := os.Stat(entry.Command)
	switch {
	case err != nil:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
	case info.IsDir():
		status.Issues = append(status.Issues, fmt.Sprintf("server binary is a directory: %s", entry.Command))
	case runtime.GOOS != "windows" && info.Mode()&0111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
	}

	return status, nil
}
