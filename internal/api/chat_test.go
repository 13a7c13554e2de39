package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/vttrag/internal/composer"
	"github.com/kalambet/vttrag/internal/engine"
	"github.com/kalambet/vttrag/internal/indexing"
	"github.com/kalambet/vttrag/internal/pipeline"
	"github.com/kalambet/vttrag/internal/reranking"
	"github.com/kalambet/vttrag/internal/retrieval"
	"github.com/kalambet/vttrag/internal/rewrite"
	"github.com/kalambet/vttrag/internal/storage"
)

func sampleAnswer() pipeline.Answer {
	return pipeline.Answer{
		InteractionID: "int-1",
		Text:          "a) Explanation: timers run first.",
		Collection:    "nodejs-course-vtts",
		CleanQuery:    "event loop phases",
		Rewrites:      []string{"r1", "r2", "r3"},
		Sources: []reranking.RankedChunk{{
			ScoredRecord: retrieval.ScoredRecord{
				Record: retrieval.Record{
					ID: "p1",
					Document: retrieval.Document{
						Content:  "The event loop has phases.",
						Metadata: retrieval.Metadata{Module: "module-1", File: "intro.vtt", ChunkID: "0", StartTime: "00:00:01.000", EndTime: "00:00:09.000"},
					},
				},
				Score: 0.91,
			},
			Frequency: 4,
		}},
	}
}

func TestChat_Success(t *testing.T) {
	ans := &mockAnswerer{answer: sampleAnswer()}
	h := NewHandler(Deps{History: newTestStore(t), Answerer: ans})

	rec := doRequest(t, h, http.MethodPost, "/chat", ChatRequest{Query: "how does the event loop work", Collection: "nodejs-course-vtts"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ans.got.Query != "how does the event loop work" || ans.got.Collection != "nodejs-course-vtts" {
		t.Errorf("answerer got %+v", ans.got)
	}

	var resp ChatResponse
	if err := decodeInto(rec, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.Data != "a) Explanation: timers run first." {
		t.Errorf("resp = %+v", resp)
	}
	if resp.CleanQuery != "event loop phases" || len(resp.Rewrites) != 3 || resp.InteractionID != "int-1" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("sources = %+v", resp.Sources)
	}
	src := resp.Sources[0]
	if src.ID != "p1" || src.Frequency != 4 || src.Metadata.File != "intro.vtt" || src.Metadata.StartTime != "00:00:01.000" {
		t.Errorf("source = %+v", src)
	}
}

func TestChat_DegradedHasEmptyRewrites(t *testing.T) {
	a := sampleAnswer()
	a.Rewrites = nil
	a.Degraded = true
	h := NewHandler(Deps{History: newTestStore(t), Answerer: &mockAnswerer{answer: a}})

	rec := doRequest(t, h, http.MethodPost, "/chat", ChatRequest{Query: "q"})
	body := decodeBody(t, rec)
	if body["degraded"] != true {
		t.Errorf("degraded = %v", body["degraded"])
	}
	if rw, ok := body["rewrites"].([]any); !ok || len(rw) != 0 {
		t.Errorf("rewrites = %v, want []", body["rewrites"])
	}
}

func TestChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"empty query", pipeline.ErrEmptyQuery, http.StatusBadRequest, "invalid_request_error"},
		{"missing collection", &retrieval.CollectionNotFoundError{Collection: "x-vtts"}, http.StatusNotFound, "collection_not_found"},
		{"wrapped missing collection", errors.Join(errors.New("retrieving"), &retrieval.CollectionNotFoundError{Collection: "x-vtts"}), http.StatusNotFound, "collection_not_found"},
		{"synthesis", &composer.SynthesisError{Model: "gpt-4.1", Err: errors.New("timeout")}, http.StatusBadGateway, "synthesis_error"},
		{"rewrite", &rewrite.RewriteError{Stage: rewrite.StageExpand, Err: errors.New("bad json")}, http.StatusBadGateway, "rewrite_error"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "api_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(Deps{History: newTestStore(t), Answerer: &mockAnswerer{err: tt.err}})
			rec := doRequest(t, h, http.MethodPost, "/chat", ChatRequest{Query: "q"})
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if typ := errorType(t, decodeBody(t, rec)); typ != tt.wantType {
				t.Errorf("type = %q, want %q", typ, tt.wantType)
			}
		})
	}
}

func TestChat_InvalidBody(t *testing.T) {
	h := NewHandler(Deps{History: newTestStore(t), Answerer: &mockAnswerer{}})

	rec := doRequest(t, h, http.MethodPost, "/chat", "query=hi")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// fakeEngine answers by model name and embeds text deterministically.
type fakeEngine struct{}

func (fakeEngine) Chat(_ context.Context, model string, _ []engine.Message, _ *engine.Schema) (string, error) {
	switch model {
	case "clean":
		return "How does the Node.js event loop work?", nil
	case "expand":
		return `{"rewrite1":"event loop phases","rewrite2":"libuv event loop","rewrite3":"timers and callbacks"}`, nil
	default:
		return "a) Explanation: the event loop processes callbacks in phases.", nil
	}
}

func (fakeEngine) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t)%5) + 1, 0.5}
	}
	return out, nil
}

const lessonVTT = `WEBVTT

00:00:01.000 --> 00:00:05.000
The event loop runs callbacks in phases.

00:00:05.000 --> 00:00:09.000
Timers come first, then pending callbacks.
`

func TestEndToEnd_IndexThenChat(t *testing.T) {
	store := newTestStore(t)
	eng := fakeEngine{}
	vectors := retrieval.NewSQLiteStore(store.DB())
	embedder := retrieval.NewEmbedder(eng, "embed")
	ix := indexing.New(embedder, vectors, indexing.Options{Dimension: 3})
	answerer := pipeline.NewAnswerer(
		rewrite.NewExpander(eng, "clean", "expand"),
		retrieval.NewRetriever(embedder, vectors, retrieval.DefaultTopK),
		composer.NewSynthesizer(eng, "answer"),
		store,
		pipeline.Options{DefaultCollection: "nodejs-course-vtts", RewriteFallback: true},
	)
	h := NewHandler(Deps{History: store, Indexer: ix, Answerer: answerer, Vectors: vectors})

	root := filepath.Join(t.TempDir(), "nodejs-course")
	if err := os.MkdirAll(filepath.Join(root, "module-1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "module-1", "intro.vtt"), []byte(lessonVTT), 0o644); err != nil {
		t.Fatal(err)
	}

	// Chat before indexing: the collection does not exist yet.
	rec := doRequest(t, h, http.MethodPost, "/chat", ChatRequest{Query: "event loop?"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("chat before indexing: status = %d, want 404: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/indexing", IndexRequest{FolderPath: root})
	if rec.Code != http.StatusOK {
		t.Fatalf("indexing: status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["collection"] != "nodejs-course-vtts" || body["stored"] != float64(1) {
		t.Fatalf("indexing body = %v", body)
	}

	rec = doRequest(t, h, http.MethodPost, "/chat", ChatRequest{Query: "how does the event loop work"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp ChatResponse
	if err := decodeInto(rec, &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.Data, "a) Explanation") {
		t.Errorf("Data = %q", resp.Data)
	}
	if resp.Degraded || len(resp.Rewrites) != 3 {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("sources = %+v", resp.Sources)
	}
	src := resp.Sources[0]
	if src.Frequency != 4 || src.Metadata.Module != "module-1" || src.Metadata.StartTime != "00:00:01.000" || src.Metadata.EndTime != "00:00:09.000" {
		t.Errorf("source = %+v", src)
	}

	interactions, err := store.ListInteractions(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(interactions) != 2 {
		t.Fatalf("interactions = %d, want 2 (one failed, one completed)", len(interactions))
	}
	statuses := map[string]bool{}
	for _, in := range interactions {
		statuses[in.Status] = true
	}
	if !statuses[storage.StatusCompleted] || !statuses[storage.StatusFailed] {
		t.Errorf("statuses = %v", statuses)
	}
	if resp.InteractionID == "" {
		t.Error("InteractionID not set")
	}
}
