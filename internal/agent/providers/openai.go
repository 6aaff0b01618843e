package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/itak-ai/itak/internal/agent"
	"github.com/itak-ai/itak/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures the OpenAI provider. BaseURL supports
// OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI routes chat calls to the OpenAI API with streaming.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates the provider. APIKey is required.
func NewOpenAI(config OpenAIConfig) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.Model == "" {
		config.Model = defaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}, nil
}

// Chat sends the conversation and returns the full response text,
// feeding deltas to stream as they arrive.
func (p *OpenAI) Chat(ctx context.Context, messages []models.Message, stream agent.StreamCallback) (string, error) {
	request := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: p.convertMessages(messages),
		Stream:   true,
	}

	completion, err := p.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer completion.Close()

	var b strings.Builder
	for {
		response, err := completion.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("openai: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta != "" {
			b.WriteString(delta)
			if stream != nil {
				stream(delta)
			}
		}
	}
}

func (p *OpenAI) convertMessages(messages []models.Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		converted = append(converted, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return converted
}
