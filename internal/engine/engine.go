package engine

import "context"

// Engine abstracts a hosted inference backend reached through an
// OpenAI-compatible API. Query rewriting, embedding and answer synthesis
// use this interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}
