package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/vttrag/internal/indexing"
	"github.com/kalambet/vttrag/internal/pipeline"
	"github.com/kalambet/vttrag/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const healthProbeTimeout = 2 * time.Second

// Indexer indexes a caption folder into a collection.
type Indexer interface {
	Index(ctx context.Context, req indexing.Request) (indexing.Result, error)
}

// Answerer answers a question against a collection.
type Answerer interface {
	Ask(ctx context.Context, q pipeline.Question) (pipeline.Answer, error)
}

// HistoryStore persists chat and indexing history.
type HistoryStore interface {
	GetInteraction(id string) (storage.Interaction, error)
	ListInteractions(limit, offset int) ([]storage.Interaction, error)
	SaveIndexRun(r *storage.IndexRun) error
	ListIndexRuns(limit int) ([]storage.IndexRun, error)
}

// CollectionLister probes the vector store.
type CollectionLister interface {
	ListCollections(ctx context.Context) ([]string, error)
}

// Deps holds dependencies for the HTTP API.
type Deps struct {
	History  HistoryStore
	Indexer  Indexer
	Answerer Answerer
	Vectors  CollectionLister // optional; if nil, /health skips the vector store probe
	// BaseFolder is indexed when a request names no folder.
	BaseFolder string
	Version    string
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))
	r.Get("/indexing", handleIndexQuery(deps))
	r.Post("/indexing", handleIndexBody(deps))
	r.Post("/chat", handleChat(deps))
	r.Get("/interactions", handleListInteractions(deps))
	r.Get("/interactions/{id}", handleGetInteraction(deps))
	r.Get("/index-runs", handleListIndexRuns(deps))

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":  "ok",
			"version": deps.Version,
		}
		code := http.StatusOK

		if deps.Vectors != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
			defer cancel()
			names, err := deps.Vectors.ListCollections(ctx)
			if err != nil {
				slog.Warn("vector store health probe failed", "error", err)
				resp["status"] = "degraded"
				resp["vector_store"] = "unavailable"
				code = http.StatusServiceUnavailable
			} else {
				resp["vector_store"] = "ok"
				resp["collections"] = len(names)
			}
		}

		writeJSON(w, code, resp)
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		interactions, err := deps.History.ListInteractions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}

		if interactions == nil {
			interactions = []storage.Interaction{}
		}

		writeJSON(w, http.StatusOK, interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.History.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, interaction)
	}
}

func handleListIndexRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := deps.History.ListIndexRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list index runs: %v", err)
			return
		}

		if runs == nil {
			runs = []storage.IndexRun{}
		}

		writeJSON(w, http.StatusOK, runs)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	httpErrorWith(w, code, errType, fmt.Sprintf(format, args...), nil)
}

// httpErrorWith writes the error envelope plus extra top-level fields.
func httpErrorWith(w http.ResponseWriter, code int, errType, msg string, extra map[string]any) {
	body := map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, code, body)
}
