package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			// Config file is optional, don't fail if it doesn't exist
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	loadFromEnv(cfg)

	if cfg.App.DataDir == "" {
		cfg.App.DataDir = defaultDataDir()
	}

	return cfg, nil
}

// getConfigPath returns the path to the config file.
func getConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "jancore", "config.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	// On macOS, favor Library/Application Support/jancore when present.
	if runtime.GOOS == "darwin" {
		appSupport := filepath.Join(homeDir, "Library", "Application Support", "jancore", "config.yaml")
		if _, err := os.Stat(appSupport); err == nil {
			return appSupport
		}
		dotConfig := filepath.Join(homeDir, ".config", "jancore", "config.yaml")
		if _, err := os.Stat(dotConfig); err == nil {
			return dotConfig
		}
		return appSupport
	}

	return filepath.Join(homeDir, ".config", "jancore", "config.yaml")
}

// defaultDataDir returns the platform default data directory.
func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "jancore")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "jancore-data"
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(homeDir, "Library", "Application Support", "jancore", "data")
	}
	return filepath.Join(homeDir, ".local", "share", "jancore")
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Expand environment variables in the config file
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) {
	if dataDir := os.Getenv("JANCORE_DATA_DIR"); dataDir != "" {
		cfg.App.DataDir = dataDir
	}

	if level := os.Getenv("JANCORE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		cfg.Ollama.BaseURL = host
	}
	if key := os.Getenv("OLLAMA_API_KEY"); key != "" {
		cfg.Ollama.APIKey = key
	}

	if raw := os.Getenv("JANCORE_EXPERIMENTAL"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Completion.ExperimentalFeatures = v
		}
	}

	if raw := os.Getenv("JANCORE_KEEP_ALIVE"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.Ollama.KeepAlive = d
		}
	}
}

// GetConfigPath returns the path to the config file (exported for external use).
func GetConfigPath() string {
	return getConfigPath()
}

// ProvidersPath returns the provider catalog path inside the data dir.
func (c *Config) ProvidersPath() string {
	return filepath.Join(c.App.DataDir, "providers.yaml")
}

// ThreadsPath returns the thread database path inside the data dir.
func (c *Config) ThreadsPath() string {
	return filepath.Join(c.App.DataDir, "threads.db")
}

// Save saves the configuration to the config file.
func (c *Config) Save() error {
	configPath := getConfigPath()
	if configPath == "" {
		return fmt.Errorf("could not determine config path")
	}

	// Ensure config directory exists (0700 for security - only owner can access)
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file atomically (write to temp file then rename)
	// Use 0600 permissions for security - config may contain API keys
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		// If rename fails, try direct write (Windows filesystem)
		if err := os.WriteFile(configPath, data, 0600); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}
