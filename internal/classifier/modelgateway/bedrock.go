package modelgateway

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockConfig configures the AWS Bedrock-backed Completer.
type BedrockConfig struct {
	Region    string
	MaxTokens int32
}

type bedrockCompleter struct {
	runtime   *bedrockruntime.Client
	model     string
	maxTokens int32
}

func newBedrockCompleter(model string, cfg BedrockConfig) (Completer, error) {
	if model == "" {
		return nil, errors.New("bedrock model identifier is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &bedrockCompleter{
		runtime:   bedrockruntime.NewFromConfig(awsCfg),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (c *bedrockCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: &c.model,
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: userPrompt}},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: &c.maxTokens},
	}
	if systemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: systemPrompt}}
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: response carries no message output")
	}
	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	return text, nil
}
