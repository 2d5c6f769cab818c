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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// DefaultBedrockRegion is used when no region is configured.
const DefaultBedrockRegion = "us-east-1"

// BedrockConfig configures the AWS Bedrock provider. Credentials resolve in
// order: explicit keys, named profile, default chain.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
}

// BedrockProvider calls models through the Bedrock Converse API.
type BedrockProvider struct {
	client *bedrockruntime.Client
	region string
}

// NewBedrockProvider loads AWS configuration and creates the provider.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		if envRegion := os.Getenv("AWS_DEFAULT_REGION"); envRegion != "" {
			cfg.Region = envRegion
		} else {
			cfg.Region = DefaultBedrockRegion
		}
	}

	var awsCfg aws.Config
	var err error
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	case cfg.Profile != "":
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithSharedConfigProfile(cfg.Profile))
	default:
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		region: cfg.Region,
	}, nil
}

// Name returns the provider name.
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// Generate sends the conversation through the Converse API.
func (p *BedrockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	var messages []bedrocktypes.Message
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		var role bedrocktypes.ConversationRole
		switch m.Role {
		case RoleUser:
			role = bedrocktypes.ConversationRoleUser
		case RoleAssistant:
			role = bedrocktypes.ConversationRoleAssistant
		default:
			return nil, fmt.Errorf("unsupported message role: %q", m.Role)
		}
		messages = append(messages, bedrocktypes.Message{
			Role: role,
			Content: []bedrocktypes.ContentBlock{
				&bedrocktypes.ContentBlockMemberText{Value: m.Content},
			},
		})
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.ModelID),
		Messages: messages,
		InferenceConfig: &bedrocktypes.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}
	if req.System != "" {
		input.System = []bedrocktypes.SystemContentBlock{
			&bedrocktypes.SystemContentBlockMemberText{Value: req.System},
		}
	}

	output, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse failed: %w", err)
	}

	resp := &Response{}
	if msg, ok := output.Output.(*bedrocktypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if text, ok := block.(*bedrocktypes.ContentBlockMemberText); ok {
				resp.Text += text.Value
			}
		}
	}
	if output.Usage != nil {
		resp.TokensIn = int(aws.ToInt32(output.Usage.InputTokens))
		resp.TokensOut = int(aws.ToInt32(output.Usage.OutputTokens))
	}
	return resp, nil
}

var _ Provider = (*BedrockProvider)(nil)
