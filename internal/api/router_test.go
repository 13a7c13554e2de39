package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/vttrag/internal/indexing"
	"github.com/kalambet/vttrag/internal/pipeline"
	"github.com/kalambet/vttrag/internal/storage"
)

// --- mocks ---

type mockIndexer struct {
	mu     sync.Mutex
	result indexing.Result
	err    error
	reqs   []indexing.Request
}

func (m *mockIndexer) Index(_ context.Context, req indexing.Request) (indexing.Result, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	return m.result, m.err
}

type mockAnswerer struct {
	answer pipeline.Answer
	err    error
	got    pipeline.Question
	panics bool
}

func (m *mockAnswerer) Ask(_ context.Context, q pipeline.Question) (pipeline.Answer, error) {
	if m.panics {
		panic("boom")
	}
	m.got = q
	return m.answer, m.err
}

type mockLister struct {
	names []string
	err   error
}

func (m *mockLister) ListCollections(context.Context) ([]string, error) {
	return m.names, m.err
}

// --- helpers ---

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
	return m
}

func errorType(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("body has no error envelope: %v", body)
	}
	if _, ok := e["message"].(string); !ok {
		t.Fatalf("error envelope has no message: %v", e)
	}
	typ, _ := e["type"].(string)
	return typ
}

// --- tests ---

func TestHealth_OK(t *testing.T) {
	h := NewHandler(Deps{History: newTestStore(t), Vectors: &mockLister{names: []string{"a-vtts", "b-vtts"}}, Version: "1.2.3"})

	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["vector_store"] != "ok" || body["version"] != "1.2.3" {
		t.Errorf("body = %v", body)
	}
	if body["collections"] != float64(2) {
		t.Errorf("collections = %v, want 2", body["collections"])
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestHealth_VectorStoreDown(t *testing.T) {
	h := NewHandler(Deps{History: newTestStore(t), Vectors: &mockLister{err: errors.New("connection refused")}})

	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "degraded" || body["vector_store"] != "unavailable" {
		t.Errorf("body = %v", body)
	}
}

func TestHealth_NoVectorStore(t *testing.T) {
	h := NewHandler(Deps{History: newTestStore(t)})

	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if _, ok := decodeBody(t, rec)["vector_store"]; ok {
		t.Error("vector_store reported without a vector store")
	}
}

func TestListInteractions_EmptyIsArray(t *testing.T) {
	h := NewHandler(Deps{History: newTestStore(t)})

	rec := doRequest(t, h, http.MethodGet, "/interactions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestInteractions_ListAndGet(t *testing.T) {
	store := newTestStore(t)
	for _, q := range []string{"first question", "second question", "third question"} {
		if err := store.SaveInteraction(&storage.Interaction{Collection: "c-vtts", UserQuery: q, Answer: "a"}); err != nil {
			t.Fatalf("SaveInteraction: %v", err)
		}
	}
	h := NewHandler(Deps{History: store})

	rec := doRequest(t, h, http.MethodGet, "/interactions?limit=2&offset=0", nil)
	var list []storage.Interaction
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}

	rec = doRequest(t, h, http.MethodGet, "/interactions/"+list[0].ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got storage.Interaction
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding interaction: %v", err)
	}
	if got.ID != list[0].ID || got.UserQuery != list[0].UserQuery {
		t.Errorf("got %+v, want %+v", got, list[0])
	}
}

func TestGetInteraction_NotFound(t *testing.T) {
	h := NewHandler(Deps{History: newTestStore(t)})

	rec := doRequest(t, h, http.MethodGet, "/interactions/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if typ := errorType(t, decodeBody(t, rec)); typ != "not_found" {
		t.Errorf("error type = %q, want not_found", typ)
	}
}

func TestRecoverer_PanicBecomes500(t *testing.T) {
	h := NewHandler(Deps{History: newTestStore(t), Answerer: &mockAnswerer{panics: true}})

	rec := doRequest(t, h, http.MethodPost, "/chat", ChatRequest{Query: "q"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "goroutine") {
		t.Errorf("response leaks a stack trace: %s", rec.Body.String())
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=500", 100},
		{"limit=-1", 20},
		{"limit=abc", 20},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20, 100); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func decodeInto(rec *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}
