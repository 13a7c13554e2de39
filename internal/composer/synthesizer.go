package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/vttrag/internal/engine"
	"github.com/kalambet/vttrag/internal/reranking"
)

// Chatter is the interface for chat completion.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// SynthesisError reports a failed answer completion. It is not retried.
type SynthesisError struct {
	Model string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesizing answer with %s: %v", e.Model, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Synthesizer asks a completion model to answer from ranked chunks.
type Synthesizer struct {
	client Chatter
	model  string
}

// NewSynthesizer creates a Synthesizer for the given model.
func NewSynthesizer(client Chatter, model string) *Synthesizer {
	return &Synthesizer{client: client, model: model}
}

// Answer issues one completion with the instruction prompt and the query
// and returns the model's raw text.
func (s *Synthesizer) Answer(ctx context.Context, query string, chunks []reranking.RankedChunk) (string, error) {
	prompt, err := BuildPrompt(chunks)
	if err != nil {
		return "", &SynthesisError{Model: s.model, Err: err}
	}
	slog.Debug("synthesizing answer", "model", s.model, "chunks", len(chunks), "prompt_tokens", EstimateTokens(prompt))

	messages := []engine.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: query},
	}
	out, err := s.client.Chat(ctx, s.model, messages, nil)
	if err != nil {
		return "", &SynthesisError{Model: s.model, Err: err}
	}
	if strings.TrimSpace(out) == "" {
		return "", &SynthesisError{Model: s.model, Err: errors.New("empty response")}
	}
	return out, nil
}
