package rewrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/vttrag/internal/engine"
)

// Chatter is the interface for chat completion.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Stages reported by RewriteError.
const (
	StageClean  = "clean"
	StageExpand = "expand"
)

// RewriteError reports a failed or malformed rewrite. Raw holds the model
// output when one was received.
type RewriteError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("%s rewrite: %v", e.Stage, e.Err)
}

func (e *RewriteError) Unwrap() error { return e.Err }

// Expansion holds a query and the phrasings derived from it.
type Expansion struct {
	Original string    `json:"original"`
	Clean    string    `json:"clean"`
	Rewrites [3]string `json:"rewrites"`
}

// Variants returns the retrieval queries in the order original, clean (when
// includeClean and present), rewrite1, rewrite2, rewrite3. Empty entries are skipped.
func (x Expansion) Variants(includeClean bool) []string {
	out := make([]string, 0, 5)
	if x.Original != "" {
		out = append(out, x.Original)
	}
	if includeClean && x.Clean != "" {
		out = append(out, x.Clean)
	}
	for _, r := range x.Rewrites {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Expander rewrites user queries with a generative model.
type Expander struct {
	client      Chatter
	cleanModel  string
	expandModel string
}

// NewExpander creates an Expander. The clean rewrite and the three-way
// rewrite may use different models.
func NewExpander(client Chatter, cleanModel, expandModel string) *Expander {
	return &Expander{client: client, cleanModel: cleanModel, expandModel: expandModel}
}

type rewrites struct {
	Rewrite1 string `json:"rewrite1"`
	Rewrite2 string `json:"rewrite2"`
	Rewrite3 string `json:"rewrite3"`
}

// Expand makes the clean and three-way rewrite calls. Any failure returns a
// *RewriteError. When only the three-way rewrite fails, the returned
// Expansion still carries Original and Clean.
func (e *Expander) Expand(ctx context.Context, query string) (Expansion, error) {
	x := Expansion{Original: query}

	raw, err := e.client.Chat(ctx, e.cleanModel, BuildCleanPrompt(query), nil)
	if err != nil {
		return x, &RewriteError{Stage: StageClean, Err: err}
	}
	clean := strings.TrimSpace(stripFences(raw))
	if clean == "" {
		return x, &RewriteError{Stage: StageClean, Raw: raw, Err: errors.New("empty response")}
	}
	x.Clean = clean

	raw, err = e.client.Chat(ctx, e.expandModel, BuildExpandPrompt(query), rewritesSchema())
	if err != nil {
		return x, &RewriteError{Stage: StageExpand, Err: err}
	}

	var r rewrites
	if err := json.Unmarshal([]byte(stripFences(raw)), &r); err != nil {
		slog.Warn("failed to unmarshal rewrites from model response", "error", err, "response", raw)
		return x, &RewriteError{Stage: StageExpand, Raw: raw, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	fields := [3]string{strings.TrimSpace(r.Rewrite1), strings.TrimSpace(r.Rewrite2), strings.TrimSpace(r.Rewrite3)}
	for i, f := range fields {
		if f == "" {
			return x, &RewriteError{Stage: StageExpand, Raw: raw, Err: fmt.Errorf("rewrite%d missing or empty", i+1)}
		}
	}
	x.Rewrites = fields
	return x, nil
}

// stripFences removes a surrounding markdown code fence, which some models
// add even when asked for bare JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
