package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the structure of ~/.scrapectl/config.yaml. Every
// field is optional; command-line flags and environment variables take
// precedence.
type FileConfig struct {
	JobsDir   string `yaml:"jobs_dir"`
	Settings  string `yaml:"settings"`
	Delay     string `yaml:"delay"`
	History   string `yaml:"history"`
	UserAgent string `yaml:"user_agent"`
	LogLevel  string `yaml:"log_level"`
}

// ConfigFilePath returns the location of the user config file.
func ConfigFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".scrapectl", "config.yaml"), nil
}

// LoadConfigFile loads configuration from ~/.scrapectl/config.yaml. Returns
// nil if the file doesn't exist (not an error). Returns error if the file
// exists but cannot be parsed.
func LoadConfigFile() (*FileConfig, error) {
	configPath, err := ConfigFilePath()
	if err != nil {
		return nil, err
	}

	// Check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil // File doesn't exist -- not an error
	}

	// Read file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}
