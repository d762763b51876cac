// Package config loads the broker's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the broker daemon configuration.
type Config struct {
	SocketPath  string `yaml:"socket_path"`
	SessionsDir string `yaml:"sessions_dir"`
	LogDir      string `yaml:"log_dir"`
	Shell       string `yaml:"shell"` // empty means auto-detect

	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogPretty bool   `yaml:"log_pretty"`
}

// DefaultConfigPath is where Load looks when no path is given.
const DefaultConfigPath = "~/.ptybroker/config.yml"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SocketPath:  "~/.ptybroker/broker.sock",
		SessionsDir: "~/.ptybroker/sessions",
		LogDir:      "~/.ptybroker/log",
		LogLevel:    "info",
	}
}

// Load reads the config at path, falling back to defaults when the file
// does not exist. Path fields are tilde-expanded after loading.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	for _, p := range []*string{&cfg.SocketPath, &cfg.SessionsDir, &cfg.LogDir, &cfg.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	return cfg, nil
}

// ExpandPath expands a leading tilde to the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return homeDir, nil
	}
	if path[1] == '/' || path[1] == '\\' {
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
