package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// GeminiBaseURL is Gemini's OpenAI-compatible endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

const (
	defaultTimeout = 60 * time.Second

	// embedMaxRetries bounds retries of an embedding call rejected with 429.
	embedMaxRetries = 3
	baseBackoff     = 2 * time.Second
	maxBackoff      = 32 * time.Second
)

// ErrAPIKeyNotSet is returned when an engine is built without credentials.
var ErrAPIKeyNotSet = errors.New("api key not set")

// OpenAIConfig configures an OpenAIEngine. BaseURL is empty for OpenAI
// itself and GeminiBaseURL for Gemini.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// EmbedDimensions requests reduced-size embeddings when > 0.
	EmbedDimensions int
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// OpenAIEngine implements Engine over the OpenAI chat completions and
// embeddings APIs. The SDK's own retry loop is disabled; chat calls are
// attempted once and embedding calls retry only on rate limiting.
type OpenAIEngine struct {
	client     openai.Client
	dimensions int
	timeout    time.Duration
	backoff    time.Duration
}

// Compile-time check that OpenAIEngine implements Engine.
var _ Engine = (*OpenAIEngine)(nil)

// NewOpenAIEngine creates an engine for the given endpoint.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIEngine{
		client:     openai.NewClient(opts...),
		dimensions: cfg.EmbedDimensions,
		timeout:    timeout,
		backoff:    baseBackoff,
	}, nil
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: toChatMessages(messages),
	}

	if jsonSchema != nil {
		doc, err := jsonSchema.document()
		if err != nil {
			return "", fmt.Errorf("encoding response schema: %w", err)
		}
		name := jsonSchema.Name
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: doc,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	completion, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion with %s: %w", model, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion with %s: no choices returned", model)
	}
	return completion.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	var lastErr error
	for attempt := 0; attempt <= embedMaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(math.Pow(2, float64(attempt-1))) * e.backoff
			if wait > maxBackoff {
				wait = maxBackoff
			}
			slog.Warn("embedding rate limited, backing off", "model", model, "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		vecs, err := e.embedOnce(ctx, params, len(texts))
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !isRateLimitError(err) {
			break
		}
	}
	return nil, fmt.Errorf("embedding %d texts with %s: %w", len(texts), model, lastErr)
}

func (e *OpenAIEngine) embedOnce(ctx context.Context, params openai.EmbeddingNewParams, n int) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != n {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), n)
	}

	out := make([][]float32, n)
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= n {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func toChatMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
