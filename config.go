package rpcprobe

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	defaults "github.com/rpcprobe/rpcprobe/default"
)

// Config represents the user's rpcprobe configuration.
type Config struct {
	// Socket is the Unix domain socket path of the JSON-RPC service.
	Socket string `toml:"socket"`
	// TimeoutSeconds bounds how long a request may stay outstanding before
	// its completion handle fails with a timeout. 0 falls back to the default.
	TimeoutSeconds int            `toml:"timeout_seconds"`
	Identify       IdentifyConfig `toml:"identify"`
}

// IdentifyConfig holds the identification handshake sent on every connect.
type IdentifyConfig struct {
	// Method is the RPC method used for the handshake.
	Method     string `toml:"method"`
	ClientName string `toml:"client_name"`
	ClientType string `toml:"client_type"`
	URL        string `toml:"url"`
}

// Params returns the handshake request parameters.
func (ic IdentifyConfig) Params() map[string]any {
	return map[string]any{
		"client_name": ic.ClientName,
		"version":     Version,
		"type":        ic.ClientType,
		"url":         ic.URL,
	}
}

// ConfigDir returns the config directory path.
// Resolution order: $RPCPROBE_CONFIG_DIR > $XDG_CONFIG_HOME/rpcprobe > ~/.config/rpcprobe
func ConfigDir() string {
	if dir := os.Getenv("RPCPROBE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "rpcprobe")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "rpcprobe-config")
	}
	return filepath.Join(home, ".config", "rpcprobe")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded
// default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if err := toml.Unmarshal(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("rpcprobe: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from the given path, or from ConfigPath() when path
// is empty. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = ConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for missing fields
	def := DefaultConfig()
	if cfg.Socket == "" {
		cfg.Socket = def.Socket
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = def.TimeoutSeconds
	}
	if cfg.Identify.Method == "" {
		cfg.Identify.Method = def.Identify.Method
	}
	if cfg.Identify.ClientName == "" {
		cfg.Identify.ClientName = def.Identify.ClientName
	}
	if cfg.Identify.ClientType == "" {
		cfg.Identify.ClientType = def.Identify.ClientType
	}
	if cfg.Identify.URL == "" {
		cfg.Identify.URL = def.Identify.URL
	}

	return &cfg, nil
}

// ResolveSocketPath returns the socket path to connect to.
// Priority: flag value > $RPCPROBE_SOCKET env > config value.
func ResolveSocketPath(flagValue string, cfg *Config) string {
	if flagValue != "" {
		return ExpandHome(flagValue)
	}
	if path := os.Getenv("RPCPROBE_SOCKET"); path != "" {
		return ExpandHome(path)
	}
	if cfg != nil && cfg.Socket != "" {
		return ExpandHome(cfg.Socket)
	}
	return ""
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
