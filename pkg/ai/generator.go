package ai

import "context"

// TextGenerator generates text from a system prompt and user prompt.
// Every provider (OpenAI-compatible, Ollama) implements this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// JSONGenerator is implemented by providers that can constrain output to a
// single JSON object.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ModelNamer reports the model identifier recorded next to generated output.
type ModelNamer interface {
	ModelName() string
}
