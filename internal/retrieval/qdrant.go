package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Compile-time check that QdrantStore implements VectorStore.
var _ VectorStore = (*QdrantStore)(nil)

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// QdrantStore is a minimal REST client for Qdrant. Points carry the payload
// {"content": ..., "metadata": {...}}, the layout LangChain's Qdrant store
// reads and writes, so collections can be shared with such tooling.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewQdrantStore creates a store targeting the Qdrant server at cfg.URL.
func NewQdrantStore(cfg QdrantConfig) *QdrantStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// qdrantStatusError is returned for any non-2xx response.
type qdrantStatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type collectionInfoResponse struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// EnsureCollection creates the collection if needed and verifies its dimension.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}

	size, found, err := s.collectionSize(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": Distance,
			},
		}
		err := s.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), body, nil)
		if err == nil {
			return nil
		}
		// Lost a creation race with another writer; fall through and compare.
		var se *qdrantStatusError
		if !errors.As(err, &se) || se.Status != http.StatusConflict {
			return fmt.Errorf("creating collection %q: %w", name, err)
		}
		if size, _, err = s.collectionSize(ctx, name); err != nil {
			return err
		}
	}

	if size != dimension {
		return fmt.Errorf("collection %q has dimension %d, want %d: %w", name, size, dimension, ErrDimensionMismatch)
	}
	return nil
}

func (s *QdrantStore) collectionSize(ctx context.Context, name string) (int, bool, error) {
	var info collectionInfoResponse
	err := s.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(name), nil, &info)
	if isNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading collection %q: %w", name, err)
	}
	return info.Result.Config.Params.Vectors.Size, true, nil
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Document  `json:"payload"`
}

// Upsert writes records and waits for Qdrant to apply them.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		points[i] = qdrantPoint{ID: id, Vector: r.Embedding, Payload: r.Document}
	}

	path := "/collections/" + url.PathEscape(collection) + "/points?wait=true"
	if err := s.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		if isNotFound(err) {
			return &CollectionNotFoundError{Collection: collection}
		}
		return fmt.Errorf("upserting %d points into %q: %w", len(points), collection, err)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		// Qdrant IDs are either unsigned integers or UUID strings.
		ID      json.RawMessage `json:"id"`
		Score   float32         `json:"score"`
		Payload Document        `json:"payload"`
	} `json:"result"`
}

// Search runs a nearest-neighbour query with payloads included.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}

	var resp searchResponse
	path := "/collections/" + url.PathEscape(collection) + "/points/search"
	if err := s.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		if isNotFound(err) {
			return nil, &CollectionNotFoundError{Collection: collection}
		}
		return nil, fmt.Errorf("searching %q: %w", collection, err)
	}

	results := make([]ScoredRecord, 0, len(resp.Result))
	for _, p := range resp.Result {
		results = append(results, ScoredRecord{
			Record: Record{ID: pointID(p.ID), Document: p.Payload},
			Score:  p.Score,
		})
	}
	return results, nil
}

// ListCollections returns collection names as reported by the server.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	names := make([]string, len(resp.Result.Collections))
	for i, c := range resp.Result.Collections {
		names[i] = c.Name
	}
	return names, nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := "/collections/" + url.PathEscape(collection) + "/points/count"
	if err := s.do(ctx, http.MethodPost, path, map[string]any{"exact": true}, &resp); err != nil {
		if isNotFound(err) {
			return 0, &CollectionNotFoundError{Collection: collection}
		}
		return 0, fmt.Errorf("counting %q: %w", collection, err)
	}
	return resp.Result.Count, nil
}

func (s *QdrantStore) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &qdrantStatusError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var se *qdrantStatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
