// Copyright 2026 Socratic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
)

const (
	// ServiceName for keyring storage
	ServiceName = "socbench"
	// DefaultConfigFileName is the name of the config file
	DefaultConfigFileName = "socbench"
)

// Config holds all configuration for the socbench CLI.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Database  DatabaseConfig  `mapstructure:"database"`
	Objects   ObjectsConfig   `mapstructure:"objects"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig holds kv store configuration.
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	EncryptionKey string `mapstructure:"encryption_key"` // From CLI/env/keyring only
	// PostgresDSN selects the postgres backend when non-empty.
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// ObjectsConfig holds object store configuration.
type ObjectsConfig struct {
	Root string `mapstructure:"root"`
	Gzip bool   `mapstructure:"gzip"`
}

// QueueConfig holds job bus configuration.
type QueueConfig struct {
	Path string `mapstructure:"path"`
}

// BenchmarkConfig points at the benchmark definition and its schedule.
type BenchmarkConfig struct {
	ConfigPath string `mapstructure:"config_path"`
	Cron       string `mapstructure:"cron"`
}

// LLMConfig holds provider credentials and defaults.
type LLMConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"` // From CLI/env/keyring only
	AnthropicURL    string `mapstructure:"anthropic_url"`

	BedrockRegion          string `mapstructure:"bedrock_region"`
	BedrockProfile         string `mapstructure:"bedrock_profile"`
	BedrockAccessKeyID     string `mapstructure:"bedrock_access_key_id"`     // From CLI/env/keyring only
	BedrockSecretAccessKey string `mapstructure:"bedrock_secret_access_key"` // From CLI/env/keyring only
	BedrockSessionToken    string `mapstructure:"bedrock_session_token"`     // From CLI/env/keyring only
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GetDataDir returns the socbench data directory, respecting
// SOCBENCH_DATA_DIR.
func GetDataDir() string {
	if dir := os.Getenv("SOCBENCH_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".socbench"
	}
	return filepath.Join(home, ".socbench")
}

// LoadConfig loads configuration with flag > env > file > keyring > default
// precedence.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	// Setup config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(GetDataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/socbench/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	// Read config file (if it exists)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	// Bind environment variables
	viper.SetEnvPrefix("SOCBENCH")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.DataDir == "" {
		config.DataDir = GetDataDir()
	}
	if config.Database.Path == "" {
		config.Database.Path = filepath.Join(config.DataDir, "socbench.db")
	}
	if config.Objects.Root == "" {
		config.Objects.Root = filepath.Join(config.DataDir, "objects")
	}
	if config.Queue.Path == "" {
		config.Queue.Path = filepath.Join(config.DataDir, "queues.db")
	}

	loadSecrets(&config)
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("objects.gzip", false)
}

// secretMapping pairs a keyring key with the config field it fills.
type secretMapping struct {
	Key    string
	Get    func(*Config) string
	Setter func(*Config, string)
}

func secretMappings() []secretMapping {
	return []secretMapping{
		{"anthropic_api_key",
			func(c *Config) string { return c.LLM.AnthropicAPIKey },
			func(c *Config, v string) { c.LLM.AnthropicAPIKey = v }},
		{"bedrock_access_key_id",
			func(c *Config) string { return c.LLM.BedrockAccessKeyID },
			func(c *Config, v string) { c.LLM.BedrockAccessKeyID = v }},
		{"bedrock_secret_access_key",
			func(c *Config) string { return c.LLM.BedrockSecretAccessKey },
			func(c *Config, v string) { c.LLM.BedrockSecretAccessKey = v }},
		{"bedrock_session_token",
			func(c *Config) string { return c.LLM.BedrockSessionToken },
			func(c *Config, v string) { c.LLM.BedrockSessionToken = v }},
		{"db_encryption_key",
			func(c *Config) string { return c.Database.EncryptionKey },
			func(c *Config, v string) { c.Database.EncryptionKey = v }},
	}
}

// loadSecrets fills empty secret fields from the OS keyring. Flags and env
// always win; a keyring miss is not an error.
func loadSecrets(config *Config) {
	for _, mapping := range secretMappings() {
		if mapping.Get(config) != "" {
			continue
		}
		value, err := keyring.Get(ServiceName, mapping.Key)
		if err == nil && value != "" {
			mapping.Setter(config, value)
		}
	}
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring saves a secret to the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}

// ListAvailableSecretKeys returns the keyring keys socbench understands.
func ListAvailableSecretKeys() []string {
	mappings := secretMappings()
	keys := make([]string, len(mappings))
	for i, m := range mappings {
		keys[i] = m.Key
	}
	return keys
}
