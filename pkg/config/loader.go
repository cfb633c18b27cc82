package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved process configuration.
type Config struct {
	configDir string

	Settings *Settings
	Rules    *RulesConfig
	Response *ResponseConfig
	Queue    *QueueConfig
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// aegisYAMLConfig represents the optional aegis.yaml file structure.
// It tunes infrastructure behavior; detection and response policy live
// in their own files.
type aegisYAMLConfig struct {
	Queue *QueueConfig `yaml:"queue"`
}

// Initialize loads, merges, validates, and returns ready-to-use
// configuration. This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read Settings from the environment
//  2. Load rules.yaml, response.yaml, and aegis.yaml from configDir
//     (each optional — built-in defaults apply)
//  3. Expand environment variables in the YAML content
//  4. Merge file values over built-in defaults
//  5. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	settings := LoadSettingsFromEnv()

	rules := DefaultRulesConfig()
	if err := loadAndMerge(filepath.Join(configDir, "rules.yaml"), rules); err != nil {
		return nil, fmt.Errorf("failed to load rules config: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	response := DefaultResponseConfig()
	if err := loadAndMerge(filepath.Join(configDir, "response.yaml"), response); err != nil {
		return nil, fmt.Errorf("failed to load response config: %w", err)
	}
	if err := response.Validate(); err != nil {
		return nil, err
	}

	queue := DefaultQueueConfig()
	var aegisYAML aegisYAMLConfig
	if err := loadYAMLFile(filepath.Join(configDir, "aegis.yaml"), &aegisYAML); err != nil {
		return nil, fmt.Errorf("failed to load aegis.yaml: %w", err)
	}
	if aegisYAML.Queue != nil {
		if err := mergo.Merge(queue, aegisYAML.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	log.Info("Configuration initialized successfully",
		"brute_force_threshold", rules.SSHBruteForce.Threshold,
		"brute_force_window_s", rules.SSHBruteForce.WindowSeconds,
		"block_threshold", response.Policy.BlockThreshold,
		"whitelist_cidrs", len(response.Whitelist.CIDRs),
		"workers", queue.WorkerCount)

	return &Config{
		configDir: configDir,
		Settings:  settings,
		Rules:     rules,
		Response:  response,
		Queue:     queue,
	}, nil
}

// loadAndMerge reads a YAML file into a fresh value of dst's type and
// merges the file values over dst (file wins). A missing file leaves dst
// untouched.
func loadAndMerge[T any](path string, dst *T) error {
	var loaded T
	found, err := readYAML(path, &loaded)
	if err != nil {
		return err
	}
	if !found {
		slog.Info("Config file not found, using defaults", "path", path)
		return nil
	}
	if err := mergo.Merge(dst, loaded, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging %s: %w", filepath.Base(path), err)
	}
	return nil
}

// loadYAMLFile reads a YAML file into dst, treating a missing file as empty.
func loadYAMLFile(path string, dst any) error {
	_, err := readYAML(path, dst)
	return err
}

func readYAML(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	return true, nil
}
