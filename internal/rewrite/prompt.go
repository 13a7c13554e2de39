package rewrite

import "github.com/kalambet/vttrag/internal/engine"

const cleanPrompt = `You are a query rewriter. Take a user query that may contain grammar mistakes, typos, or unclear phrasing, and rewrite it into a clear, meaningful, and grammatically correct query.
Return only the rewritten query text, with no explanations, extra text, quotes, or symbols.`

const expandPrompt = `You are a query rewriter. Rewrite the user query in three different ways. Each rewrite must keep the meaning of the original query and improve its clarity.
Your output must be ONLY a single valid JSON object with the fields "rewrite1", "rewrite2" and "rewrite3". Do not include any other text, prose, or markdown.`

// BuildCleanPrompt constructs the chat messages for the single clean rewrite.
func BuildCleanPrompt(query string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: cleanPrompt},
		{Role: "user", Content: query},
	}
}

// BuildExpandPrompt constructs the chat messages for the three-way rewrite.
func BuildExpandPrompt(query string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: expandPrompt},
		{Role: "user", Content: query},
	}
}

// rewritesSchema is the structured output requested for the three-way rewrite.
func rewritesSchema() *engine.Schema {
	no := false
	return &engine.Schema{
		Name: "query_rewrites",
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"rewrite1": {Type: "string", Description: "First alternate phrasing"},
			"rewrite2": {Type: "string", Description: "Second alternate phrasing"},
			"rewrite3": {Type: "string", Description: "Third alternate phrasing"},
		},
		Required:             []string{"rewrite1", "rewrite2", "rewrite3"},
		AdditionalProperties: &no,
	}
}
