package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeQdrant keeps collections in memory and answers the handful of REST
// calls QdrantStore makes.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[string][]qdrantPoint
	apiKeys     []string
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *QdrantStore) {
	t.Helper()
	f := &fakeQdrant{collections: map[string]int{}, points: map[string][]qdrantPoint{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, NewQdrantStore(QdrantConfig{URL: srv.URL + "/", APIKey: "secret"})
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if parts[0] != "collections" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		var cs []map[string]string
		for name := range f.collections {
			cs = append(cs, map[string]string{"name": name})
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"collections": cs}})
		return
	}

	name := parts[1]
	dim, exists := f.collections[name]
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		if !exists {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": dim, "distance": "Cosine"}}},
		}})
	case len(parts) == 2 && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Vectors.Distance != "Cosine" {
			http.Error(w, "bad distance", http.StatusBadRequest)
			return
		}
		f.collections[name] = body.Vectors.Size
		w.Write([]byte(`{"result":true}`))
	case !exists:
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
	case len(parts) == 3 && parts[2] == "points" && r.Method == http.MethodPut:
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.points[name] = append(f.points[name], body.Points...)
		w.Write([]byte(`{"result":{"status":"completed"}}`))
	case len(parts) == 4 && parts[3] == "search":
		var res []map[string]any
		for i, p := range f.points[name] {
			res = append(res, map[string]any{"id": p.ID, "score": 1 - float64(i)*0.1, "payload": p.Payload})
		}
		json.NewEncoder(w).Encode(map[string]any{"result": res})
	case len(parts) == 4 && parts[3] == "count":
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"count": len(f.points[name])}})
	default:
		http.NotFound(w, r)
	}
}

func TestQdrantStore_EnsureCollection(t *testing.T) {
	ctx := context.Background()
	f, s := newFakeQdrant(t)

	if err := s.EnsureCollection(ctx, "nodejs-course-vtts", 3072); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if f.collections["nodejs-course-vtts"] != 3072 {
		t.Errorf("created with size %d, want 3072", f.collections["nodejs-course-vtts"])
	}
	if err := s.EnsureCollection(ctx, "nodejs-course-vtts", 3072); err != nil {
		t.Errorf("second EnsureCollection: %v", err)
	}
	if err := s.EnsureCollection(ctx, "nodejs-course-vtts", 1536); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
	for _, k := range f.apiKeys {
		if k != "secret" {
			t.Errorf("api-key header = %q, want secret", k)
		}
	}
}

func TestQdrantStore_UpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	f, s := newFakeQdrant(t)
	s.EnsureCollection(ctx, "c", 2)

	err := s.Upsert(ctx, "c", []Record{
		{Document: doc("intro", 0), Embedding: []float32{1, 0}},
		{ID: "keep-me", Document: doc("intro", 1), Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if f.points["c"][0].ID == "" {
		t.Error("missing ID was not assigned")
	}
	if f.points["c"][1].ID != "keep-me" {
		t.Errorf("ID = %q, want keep-me", f.points["c"][1].ID)
	}

	res, err := s.Search(ctx, "c", []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	if res[1].ID != "keep-me" {
		t.Errorf("res[1].ID = %q, want keep-me", res[1].ID)
	}
	if res[0].Document.Metadata.ChunkID != "intro-0" || res[0].Document.Content != "intro chunk 0" {
		t.Errorf("payload not decoded: %+v", res[0].Document)
	}

	n, err := s.Count(ctx, "c")
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v; want 2", n, err)
	}
	names, err := s.ListCollections(ctx)
	if err != nil || len(names) != 1 || names[0] != "c" {
		t.Errorf("ListCollections = %v, %v", names, err)
	}
}

func TestQdrantStore_SearchMissingCollection(t *testing.T) {
	_, s := newFakeQdrant(t)
	_, err := s.Search(context.Background(), "missing-vtts", []float32{1}, 3)
	var nf *CollectionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want *CollectionNotFoundError", err)
	}
	if nf.Collection != "missing-vtts" {
		t.Errorf("Collection = %q", nf.Collection)
	}
}

func TestQdrantStore_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	s := NewQdrantStore(QdrantConfig{URL: srv.URL})

	_, err := s.Search(context.Background(), "c", []float32{1}, 3)
	var nf *CollectionNotFoundError
	if err == nil || errors.As(err, &nf) {
		t.Fatalf("err = %v, want a generic error", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v, want status in message", err)
	}
}

func TestPointID(t *testing.T) {
	if got := pointID(json.RawMessage(`"abc-123"`)); got != "abc-123" {
		t.Errorf("pointID(string) = %q", got)
	}
	if got := pointID(json.RawMessage(`42`)); got != "42" {
		t.Errorf("pointID(number) = %q", got)
	}
}
