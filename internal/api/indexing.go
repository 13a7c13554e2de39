package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kalambet/vttrag/internal/indexing"
	"github.com/kalambet/vttrag/internal/storage"
)

// IndexRequest is the POST /indexing body.
type IndexRequest struct {
	FolderPath string `json:"folder_path"`
	Collection string `json:"collection"`
	Course     string `json:"course"`
}

type indexResponse struct {
	Status string `json:"status"`
	indexing.Result
}

func handleIndexQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		serveIndex(w, r, deps, IndexRequest{
			FolderPath: q.Get("folderPath"),
			Collection: q.Get("collection"),
			Course:     q.Get("course"),
		})
	}
}

func handleIndexBody(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IndexRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		serveIndex(w, r, deps, req)
	}
}

func serveIndex(w http.ResponseWriter, r *http.Request, deps Deps, req IndexRequest) {
	folder := strings.TrimSpace(req.FolderPath)
	if folder == "" {
		folder = deps.BaseFolder
	}
	if folder == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "folderPath is required")
		return
	}

	res, err := IndexAndRecord(r.Context(), deps.History, deps.Indexer, indexing.Request{
		Root:       folder,
		Course:     strings.TrimSpace(req.Course),
		Collection: strings.TrimSpace(req.Collection),
	})

	var noDocs *indexing.NoDocumentsError
	var ixErr *indexing.IndexingError
	switch {
	case err == nil && res.TotalFiles == 0:
		writeJSON(w, http.StatusOK, map[string]any{"message": "No caption files found"})
	case err == nil:
		writeJSON(w, http.StatusOK, indexResponse{Status: "success", Result: res})
	case errors.Is(err, indexing.ErrRootNotFound):
		httpErrorWith(w, http.StatusNotFound, "not_found", "folder not found", map[string]any{"path": folder})
	case errors.As(err, &noDocs):
		httpErrorWith(w, http.StatusBadRequest, "no_documents", noDocs.Error(), map[string]any{
			"totalFiles":     noDocs.TotalFiles,
			"processedFiles": noDocs.ProcessedFiles,
			"errors":         noDocs.Errors,
		})
	case errors.As(err, &ixErr):
		httpError(w, http.StatusInternalServerError, "indexing_error", "%v", ixErr)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "indexing failed: %v", err)
	}
}

// IndexAndRecord indexes one folder and records the outcome in history.
// history may be nil.
func IndexAndRecord(ctx context.Context, history HistoryStore, ix Indexer, req indexing.Request) (indexing.Result, error) {
	res, err := ix.Index(ctx, req)

	run := storage.IndexRun{
		Collection:     res.Collection,
		Course:         res.Course,
		Root:           req.Root,
		TotalFiles:     res.TotalFiles,
		ProcessedFiles: res.ProcessedFiles,
		Stored:         res.Stored,
		Errors:         res.Errors,
	}
	if run.Collection == "" {
		run.Collection = req.Collection
	}
	if run.Course == "" {
		run.Course = req.Course
	}

	var noDocs *indexing.NoDocumentsError
	switch {
	case err == nil && res.TotalFiles == 0:
		run.Status = storage.RunEmpty
		run.Message = "No caption files found"
	case err == nil:
		run.Status = storage.RunSuccess
	case errors.Is(err, indexing.ErrRootNotFound):
		run.Status = storage.RunNotFound
		run.Message = err.Error()
	case errors.As(err, &noDocs):
		run.Status = storage.RunNoDocuments
		run.Message = err.Error()
		run.TotalFiles = noDocs.TotalFiles
		run.ProcessedFiles = noDocs.ProcessedFiles
		run.Errors = noDocs.Errors
	default:
		run.Status = storage.RunFailed
		run.Message = err.Error()
	}

	if history != nil {
		if serr := history.SaveIndexRun(&run); serr != nil {
			slog.Warn("failed to record index run", "error", serr)
		}
	}

	if err != nil {
		slog.Warn("indexing failed", "root", req.Root, "status", run.Status, "error", err)
	} else {
		slog.Info("indexing finished",
			"root", req.Root,
			"collection", res.Collection,
			"stored", res.Stored,
			"files", res.ProcessedFiles,
		)
	}
	return res, err
}
