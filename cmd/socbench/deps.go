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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/socratic-labs/socbench/internal/log"
	"github.com/socratic-labs/socbench/pkg/bench"
	"github.com/socratic-labs/socbench/pkg/bus"
	"github.com/socratic-labs/socbench/pkg/gateway"
	"github.com/socratic-labs/socbench/pkg/store"
)

// openKV opens the configured kv backend: postgres when a DSN is set,
// sqlite otherwise.
func openKV() (store.KV, error) {
	if config.Database.PostgresDSN != "" {
		return store.NewPostgresKV(store.PostgresConfig{DSN: config.Database.PostgresDSN})
	}
	if err := os.MkdirAll(filepath.Dir(config.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return store.NewSQLiteKV(store.SQLiteConfig{
		Path:          config.Database.Path,
		EncryptionKey: config.Database.EncryptionKey,
	})
}

// openObjects opens the filesystem object store.
func openObjects() (store.ObjectStore, error) {
	return store.NewFSObjectStore(store.FSObjectConfig{
		Root:     config.Objects.Root,
		Compress: config.Objects.Gzip,
	})
}

// openBus opens the job bus database.
func openBus() (*bus.Bus, error) {
	if err := os.MkdirAll(filepath.Dir(config.Queue.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return bus.New(bus.Config{
		Path:   config.Queue.Path,
		Logger: log.Logger(),
	})
}

// buildGateway creates the model gateway and registers a provider for every
// model the benchmark config names, plus the judge model. Providers are
// shared across models: one Anthropic client, one Bedrock client.
func buildGateway(ctx context.Context, benchCfg *bench.Config) (*gateway.Gateway, error) {
	g := gateway.New(gateway.Config{Logger: log.Logger()})

	var anthropicProvider *gateway.AnthropicProvider
	var bedrockProvider *gateway.BedrockProvider

	anthropic := func() (gateway.Provider, error) {
		if anthropicProvider != nil {
			return anthropicProvider, nil
		}
		p, err := gateway.NewAnthropicProvider(gateway.AnthropicConfig{
			APIKey:  config.LLM.AnthropicAPIKey,
			BaseURL: config.LLM.AnthropicURL,
		})
		if err != nil {
			return nil, err
		}
		anthropicProvider = p
		return p, nil
	}
	bedrock := func() (gateway.Provider, error) {
		if bedrockProvider != nil {
			return bedrockProvider, nil
		}
		p, err := gateway.NewBedrockProvider(ctx, gateway.BedrockConfig{
			Region:          config.LLM.BedrockRegion,
			Profile:         config.LLM.BedrockProfile,
			AccessKeyID:     config.LLM.BedrockAccessKeyID,
			SecretAccessKey: config.LLM.BedrockSecretAccessKey,
			SessionToken:    config.LLM.BedrockSessionToken,
		})
		if err != nil {
			return nil, err
		}
		bedrockProvider = p
		return p, nil
	}

	register := func(modelID, providerName string) error {
		var p gateway.Provider
		var err error
		switch providerName {
		case "anthropic":
			p, err = anthropic()
		case "bedrock":
			p, err = bedrock()
		case "mock":
			p = &gateway.MockProvider{}
		default:
			return fmt.Errorf("unknown provider %q for model %s", providerName, modelID)
		}
		if err != nil {
			return fmt.Errorf("failed to build %s provider: %w", providerName, err)
		}
		g.Register(modelID, p)
		return nil
	}

	for _, model := range benchCfg.Models {
		if err := register(model.ModelID, model.Provider); err != nil {
			return nil, err
		}
	}

	// The judge model rides the Anthropic provider unless a model entry
	// already claimed its id with another provider.
	judge := benchCfg.Parameters.JudgeModel
	if judge != "" && !contains(g.Models(), judge) {
		if err := register(judge, "anthropic"); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// loadBenchmarkConfig reads and validates the benchmark config file.
func loadBenchmarkConfig() ([]byte, *bench.Config, error) {
	path := config.Benchmark.ConfigPath
	if path == "" {
		return nil, nil, fmt.Errorf("benchmark config path is required (--benchmark-config)")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read benchmark config: %w", err)
	}
	cfg, err := bench.ParseConfig(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, cfg, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
