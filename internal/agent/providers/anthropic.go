// Package providers implements the model router port for the LLM
// services the agent can talk to.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/itak-ai/itak/internal/agent"
	"github.com/itak-ai/itak/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// Anthropic routes chat calls to the Claude API with streaming.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates the provider. APIKey is required.
func NewAnthropic(config AnthropicConfig) (*Anthropic, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.Model == "" {
		config.Model = defaultAnthropicModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Anthropic{
		client:    anthropic.NewClient(options...),
		model:     config.Model,
		maxTokens: config.MaxTokens,
	}, nil
}

// Chat sends the conversation and returns the full response text,
// feeding deltas to stream as they arrive.
func (p *Anthropic) Chat(ctx context.Context, messages []models.Message, stream agent.StreamCallback) (string, error) {
	system, converted := p.convertMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  converted,
		MaxTokens: p.maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	sse := p.client.Messages.NewStreaming(ctx, params)
	var b strings.Builder
	for sse.Next() {
		event := sse.Current()
		switch event.Type {
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				b.WriteString(delta.Text)
				if stream != nil {
					stream(delta.Text)
				}
			}
		case "message_stop":
			return b.String(), nil
		}
	}
	if err := sse.Err(); err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	return b.String(), nil
}

// convertMessages splits out the leading system prompt and maps the rest
// onto user/assistant turns. Mid-conversation system notes (tool results,
// warnings) become user messages since the API accepts only two roles.
func (p *Anthropic) convertMessages(messages []models.Message) (string, []anthropic.MessageParam) {
	system := ""
	var converted []anthropic.MessageParam
	for i, msg := range messages {
		if msg.Content == "" {
			continue
		}
		switch {
		case msg.Role == models.RoleSystem && i == 0:
			system = msg.Content
		case msg.Role == models.RoleAssistant:
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system, converted
}
