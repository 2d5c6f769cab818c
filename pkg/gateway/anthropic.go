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
package gateway

import (
	"context"
	"fmt"
	"os"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey falls back to the ANTHROPIC_API_KEY environment variable.
	APIKey string
	// BaseURL overrides the API endpoint, mainly for test servers.
	BaseURL string
}

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates the provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{client: anthropic.NewClient(opts...)}, nil
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Generate sends the conversation to the Messages API.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	params, err := buildAnthropicParams(req)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic call failed: %w", err)
	}
	return anthropicResponse(message), nil
}

// buildAnthropicParams converts a normalized request to SDK params. Shared
// with the Bedrock provider, which rides the same SDK surface.
func buildAnthropicParams(req Request) (anthropic.MessageNewParams, error) {
	var sdkMessages []anthropic.MessageParam
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case RoleUser:
			sdkMessages = append(sdkMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			sdkMessages = append(sdkMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(m.Content)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role: %q", m.Role)
		}
	}
	if len(sdkMessages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("no messages to send")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.ModelID),
		Messages:  sdkMessages,
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params, nil
}

func anthropicResponse(message *anthropic.Message) *Response {
	resp := &Response{
		TokensIn:  int(message.Usage.InputTokens),
		TokensOut: int(message.Usage.OutputTokens),
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			resp.Text += block.Text
		}
	}
	return resp
}

var _ Provider = (*AnthropicProvider)(nil)
