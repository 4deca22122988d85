// Package modelgateway adapts concrete LLM SDKs into the single-turn
// Completer surface the Classifier needs: given a system prompt
// and a user prompt, return the model's text reply. It is grounded on the
// teacher's model.Client family (features/model/{anthropic,openai,bedrock}),
// narrowed to a single Complete call since the classifier needs
// neither tool-calling nor streaming, only a JSON-producing completion.
package modelgateway

import (
	"context"

	"github.com/queryorch/orchestrator/internal/orcherrors"
)

// Completer issues a single-turn completion against a backing LLM.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config selects and configures one of the bundled Completer backends.
type Config struct {
	Backend     Backend
	Model       string
	Anthropic   AnthropicConfig
	OpenAI      OpenAIConfig
	Bedrock     BedrockConfig
}

// Backend identifies which SDK backs a Completer.
type Backend string

const (
	BackendAnthropic Backend = "anthropic"
	BackendOpenAI    Backend = "openai"
	BackendBedrock   Backend = "bedrock"
)

// New constructs a Completer from cfg.
func New(cfg Config) (Completer, error) {
	switch cfg.Backend {
	case BackendAnthropic:
		return newAnthropicCompleter(cfg.Model, cfg.Anthropic)
	case BackendOpenAI:
		return newOpenAICompleter(cfg.Model, cfg.OpenAI)
	case BackendBedrock:
		return newBedrockCompleter(cfg.Model, cfg.Bedrock)
	default:
		return nil, orcherrors.Newf(orcherrors.ConfigInvalid, "unknown model backend %q", cfg.Backend)
	}
}
