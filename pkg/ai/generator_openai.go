package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// chatCompleter is the subset of *openai.Client the generator needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIGenerator calls any OpenAI-compatible /v1/chat/completions endpoint.
// Works with OpenAI, vLLM, LiteLLM, OpenRouter and self-hosted models.
type OpenAIGenerator struct {
	client      chatCompleter
	model       string
	temperature float32
}

// NewOpenAIGenerator builds an OpenAI-compatible TextGenerator.
// baseURL should include the /v1 prefix and may be empty for api.openai.com.
// apiKey can be empty for local models that do not require authentication.
func NewOpenAIGenerator(baseURL, apiKey, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(cfg),
		model:       strings.TrimSpace(model),
		temperature: 0.2,
	}
}

func (g *OpenAIGenerator) ModelName() string { return g.model }

// GenerateText implements TextGenerator.
func (g *OpenAIGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.complete(ctx, systemPrompt, userPrompt, nil)
}

// GenerateJSON implements JSONGenerator using the json_object response format.
func (g *OpenAIGenerator) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.complete(ctx, systemPrompt, userPrompt, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
}

func (g *OpenAIGenerator) complete(ctx context.Context, systemPrompt, userPrompt string, format *openai.ChatCompletionResponseFormat) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("openai generation model required")
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userPrompt})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          g.model,
		Messages:       messages,
		Temperature:    g.temperature,
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from openai api")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty response from openai api")
	}
	return text, nil
}
