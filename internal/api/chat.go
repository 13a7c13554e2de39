package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kalambet/vttrag/internal/composer"
	"github.com/kalambet/vttrag/internal/pipeline"
	"github.com/kalambet/vttrag/internal/reranking"
	"github.com/kalambet/vttrag/internal/retrieval"
	"github.com/kalambet/vttrag/internal/rewrite"
)

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Query      string `json:"query"`
	Collection string `json:"collection,omitempty"`
}

// ChatResponse is the POST /chat success body.
type ChatResponse struct {
	Status        string       `json:"status"`
	Message       string       `json:"message"`
	Data          string       `json:"data"`
	InteractionID string       `json:"interaction_id,omitempty"`
	Collection    string       `json:"collection"`
	CleanQuery    string       `json:"clean_query"`
	Rewrites      []string     `json:"rewrites"`
	Degraded      bool         `json:"degraded"`
	Sources       []SourceJSON `json:"sources"`
}

// SourceJSON is one ranked chunk as returned to clients.
type SourceJSON struct {
	ID        string             `json:"id"`
	Content   string             `json:"content"`
	Metadata  retrieval.Metadata `json:"metadata"`
	Frequency int                `json:"frequency"`
	Score     float32            `json:"score"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		ans, err := deps.Answerer.Ask(r.Context(), pipeline.Question{
			Query:      req.Query,
			Collection: req.Collection,
		})

		var notFound *retrieval.CollectionNotFoundError
		var synthErr *composer.SynthesisError
		var rwErr *rewrite.RewriteError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, chatResponse(ans))
		case errors.Is(err, pipeline.ErrEmptyQuery):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
		case errors.As(err, &notFound):
			httpError(w, http.StatusNotFound, "collection_not_found", "%v", notFound)
		case errors.As(err, &synthErr):
			httpError(w, http.StatusBadGateway, "synthesis_error", "%v", synthErr)
		case errors.As(err, &rwErr):
			httpError(w, http.StatusBadGateway, "rewrite_error", "%v", rwErr)
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
		}
	}
}

func chatResponse(ans pipeline.Answer) ChatResponse {
	rewrites := ans.Rewrites
	if rewrites == nil {
		rewrites = []string{}
	}
	return ChatResponse{
		Status:        "success",
		Message:       "Answer generated",
		Data:          ans.Text,
		InteractionID: ans.InteractionID,
		Collection:    ans.Collection,
		CleanQuery:    ans.CleanQuery,
		Rewrites:      rewrites,
		Degraded:      ans.Degraded,
		Sources:       sourcesJSON(ans.Sources),
	}
}

func sourcesJSON(chunks []reranking.RankedChunk) []SourceJSON {
	out := make([]SourceJSON, len(chunks))
	for i, c := range chunks {
		out[i] = SourceJSON{
			ID:        c.ID,
			Content:   c.Document.Content,
			Metadata:  c.Document.Metadata,
			Frequency: c.Frequency,
			Score:     c.Score,
		}
	}
	return out
}
