package modelgateway

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic-backed Completer.
type AnthropicConfig struct {
	APIKey    string
	MaxTokens int64
}

type anthropicCompleter struct {
	msg       *sdk.MessageService
	model     string
	maxTokens int64
}

func newAnthropicCompleter(model string, cfg AnthropicConfig) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if model == "" {
		return nil, errors.New("anthropic model identifier is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return &anthropicCompleter{msg: &client.Messages, model: model, maxTokens: maxTokens}, nil
}

func (c *anthropicCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := sdk.MessageNewParams{
		MaxTokens: c.maxTokens,
		Model:     sdk.Model(c.model),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	var out string
	for _, block := range msg.Content {
		if text := block.AsText(); text.Text != "" {
			out += text.Text
		}
	}
	return out, nil
}
