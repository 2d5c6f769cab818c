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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/socratic-labs/socbench/internal/log"
	"github.com/socratic-labs/socbench/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "socbench",
	Short:   "Socratic tutoring benchmark pipeline",
	Long:    `socbench plans weekly benchmark manifests, runs multi-turn Socratic tutoring dialogues against LLM providers, judges every turn on a Socratic rubric, and curates per-run and per-model weekly aggregates.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $SOCBENCH_DATA_DIR/socbench.yaml)")

	// Storage flags
	rootCmd.PersistentFlags().String("db", "", "sqlite kv database path (default: $SOCBENCH_DATA_DIR/socbench.db)")
	rootCmd.PersistentFlags().String("db-key", "", "sqlite encryption key (or use keyring/env)")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "postgres DSN; overrides --db when set")
	rootCmd.PersistentFlags().String("objects-dir", "", "object store root (default: $SOCBENCH_DATA_DIR/objects)")
	rootCmd.PersistentFlags().Bool("objects-gzip", false, "gzip object store payloads")
	rootCmd.PersistentFlags().String("queue-db", "", "job bus database path (default: $SOCBENCH_DATA_DIR/queues.db)")

	// Benchmark flags
	rootCmd.PersistentFlags().String("benchmark-config", "", "benchmark config JSON file (models, scenarios, parameters)")
	rootCmd.PersistentFlags().String("cron", "", "planner cron spec (default: Monday 06:00)")

	// Provider flags
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or use keyring/env)")
	rootCmd.PersistentFlags().String("bedrock-region", "", "AWS region for Bedrock models")
	rootCmd.PersistentFlags().String("bedrock-profile", "", "AWS shared-config profile for Bedrock models")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("database.encryption_key", rootCmd.PersistentFlags().Lookup("db-key"))
	_ = viper.BindPFlag("database.postgres_dsn", rootCmd.PersistentFlags().Lookup("postgres-dsn"))
	_ = viper.BindPFlag("objects.root", rootCmd.PersistentFlags().Lookup("objects-dir"))
	_ = viper.BindPFlag("objects.gzip", rootCmd.PersistentFlags().Lookup("objects-gzip"))
	_ = viper.BindPFlag("queue.path", rootCmd.PersistentFlags().Lookup("queue-db"))

	_ = viper.BindPFlag("benchmark.config_path", rootCmd.PersistentFlags().Lookup("benchmark-config"))
	_ = viper.BindPFlag("benchmark.cron", rootCmd.PersistentFlags().Lookup("cron"))

	_ = viper.BindPFlag("llm.anthropic_api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("llm.bedrock_region", rootCmd.PersistentFlags().Lookup("bedrock-region"))
	_ = viper.BindPFlag("llm.bedrock_profile", rootCmd.PersistentFlags().Lookup("bedrock-profile"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := log.Configure(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
}
