package indexing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kalambet/vttrag/internal/caption"
	"github.com/kalambet/vttrag/internal/retrieval"
	"golang.org/x/sync/errgroup"
)

// RootModule is the module name recorded for files directly in the root folder.
const RootModule = "root"

const (
	DefaultBatchSize = 50
	DefaultDimension = 3072
)

// ErrRootNotFound is returned when the folder to index does not exist.
var ErrRootNotFound = errors.New("folder not found")

// NoDocumentsError reports an indexing run in which no file produced a chunk.
type NoDocumentsError struct {
	TotalFiles     int
	ProcessedFiles int
	Errors         []string
}

func (e *NoDocumentsError) Error() string {
	return fmt.Sprintf("no documents created from %d caption files", e.TotalFiles)
}

// IndexingError reports a failure to write to the vector store, including a
// collection whose dimension does not match the configured one.
type IndexingError struct {
	Collection string
	Err        error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing into %q: %v", e.Collection, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

// BatchEmbedder embeds a batch of texts, in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Writer is the write side of a retrieval.VectorStore.
type Writer interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, collection string, records []retrieval.Record) error
	Count(ctx context.Context, collection string) (int, error)
}

// Options tune an Indexer. Zero values select the defaults.
type Options struct {
	MaxChunkChars int
	BatchSize     int
	// MaxConcurrency caps in-flight batches; 0 dispatches all at once.
	MaxConcurrency int
	Dimension      int
	Patterns       []string
}

// Request names the folder to index and where its chunks go.
type Request struct {
	Root string
	// Course defaults to the root folder's base name.
	Course string
	// Collection defaults to CollectionName(Course).
	Collection string
	// OnProgress, if set, is called after each discovered file is handled.
	OnProgress func(done, total int, file string)
}

// Summary carries derived statistics for a successful run.
type Summary struct {
	TotalDocuments   int `json:"totalDocuments"`
	AvgChunksPerFile int `json:"avgChunksPerFile"`
}

// Result describes a successful indexing run. Errors lists files that were
// skipped because they could not be read or parsed.
type Result struct {
	Collection     string   `json:"collection"`
	Course         string   `json:"course"`
	Stored         int      `json:"stored"`
	ProcessedFiles int      `json:"processedFiles"`
	TotalFiles     int      `json:"totalFiles"`
	Errors         []string `json:"errors,omitempty"`
	Summary        Summary  `json:"summary"`
	// CollectionSize is the collection's point count after the run, or 0
	// when the store could not report it.
	CollectionSize int `json:"collectionSize,omitempty"`
}

// Indexer turns a folder of caption files into vectors in a collection.
type Indexer struct {
	embedder BatchEmbedder
	store    Writer
	opts     Options
}

// New creates an Indexer.
func New(embedder BatchEmbedder, store Writer, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Dimension <= 0 {
		opts.Dimension = DefaultDimension
	}
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = caption.DefaultMaxChunkChars
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = DefaultPatterns
	}
	return &Indexer{embedder: embedder, store: store, opts: opts}
}

// Index indexes the folder at req.Root on the local filesystem.
func (ix *Indexer) Index(ctx context.Context, req Request) (Result, error) {
	info, err := os.Stat(req.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrRootNotFound, req.Root)
		}
		return Result{}, fmt.Errorf("reading folder %s: %w", req.Root, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, req.Root)
	}
	if req.Course == "" {
		req.Course = filepath.Base(filepath.Clean(req.Root))
	}
	return ix.IndexFS(ctx, os.DirFS(req.Root), req)
}

// IndexFS indexes the caption files in fsys. req.Root is informational only.
// A folder without caption files yields a zero Result and no error.
func (ix *Indexer) IndexFS(ctx context.Context, fsys fs.FS, req Request) (Result, error) {
	if req.Collection == "" {
		req.Collection = CollectionName(req.Course)
	}
	res := Result{Collection: req.Collection, Course: req.Course}

	files, err := Discover(fsys, ix.opts.Patterns)
	if err != nil {
		return res, err
	}
	res.TotalFiles = len(files)
	if len(files) == 0 {
		return res, nil
	}

	var docs []retrieval.Document
	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fileDocs, err := ix.documentsFor(fsys, rel, req.Course)
		switch {
		case err != nil:
			msg := fmt.Sprintf("Error processing %s: %v", rel, err)
			slog.Warn("skipping caption file", "file", rel, "error", err)
			res.Errors = append(res.Errors, msg)
		case len(fileDocs) > 0:
			docs = append(docs, fileDocs...)
			res.ProcessedFiles++
			slog.Debug("processed caption file", "file", rel, "chunks", len(fileDocs))
		}
		if req.OnProgress != nil {
			req.OnProgress(i+1, len(files), rel)
		}
	}

	if len(docs) == 0 {
		return res, &NoDocumentsError{
			TotalFiles:     res.TotalFiles,
			ProcessedFiles: res.ProcessedFiles,
			Errors:         res.Errors,
		}
	}

	if err := ix.store.EnsureCollection(ctx, req.Collection, ix.opts.Dimension); err != nil {
		return res, &IndexingError{Collection: req.Collection, Err: err}
	}
	if err := ix.write(ctx, req.Collection, docs); err != nil {
		return res, &IndexingError{Collection: req.Collection, Err: err}
	}

	res.Stored = len(docs)
	res.Summary = Summary{
		TotalDocuments:   len(docs),
		AvgChunksPerFile: int(math.Round(float64(len(docs)) / float64(res.ProcessedFiles))),
	}
	if n, err := ix.store.Count(ctx, req.Collection); err != nil {
		slog.Warn("counting collection points", "collection", req.Collection, "error", err)
	} else {
		res.CollectionSize = n
	}
	slog.Info("indexing complete",
		"collection", req.Collection,
		"stored", res.Stored,
		"collection_size", res.CollectionSize,
		"processed_files", res.ProcessedFiles,
		"total_files", res.TotalFiles,
		"errors", len(res.Errors),
	)
	return res, nil
}

// documentsFor parses and chunks one file. A file without cues yields no documents.
func (ix *Indexer) documentsFor(fsys fs.FS, rel, course string) ([]retrieval.Document, error) {
	f, err := fsys.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cues, err := caption.Parse(f)
	if err != nil {
		return nil, err
	}
	if len(cues) == 0 {
		return nil, nil
	}

	module := RootModule
	if dir, _, ok := strings.Cut(rel, "/"); ok {
		module = dir
	}
	base := path.Base(rel)
	file := strings.TrimSuffix(base, path.Ext(base))

	chunks := caption.ChunkCues(cues, ix.opts.MaxChunkChars)
	docs := make([]retrieval.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = retrieval.Document{
			Content: ch.Text,
			Metadata: retrieval.Metadata{
				Course:       course,
				Module:       module,
				File:         file,
				ChunkID:      fmt.Sprintf("%s-%d", file, i),
				StartTime:    ch.StartTimestamp,
				EndTime:      ch.EndTimestamp,
				StartSeconds: ch.StartSeconds,
				EndSeconds:   ch.EndSeconds,
				FilePath:     rel,
			},
		}
	}
	return docs, nil
}

// write embeds and upserts docs in batches, one goroutine per batch.
func (ix *Indexer) write(ctx context.Context, collection string, docs []retrieval.Document) error {
	g, gCtx := errgroup.WithContext(ctx)
	if ix.opts.MaxConcurrency > 0 {
		g.SetLimit(ix.opts.MaxConcurrency)
	}

	for start := 0; start < len(docs); start += ix.opts.BatchSize {
		batch := docs[start:min(start+ix.opts.BatchSize, len(docs))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, d := range batch {
				texts[i] = d.Content
			}
			vecs, err := ix.embedder.EmbedBatch(gCtx, texts)
			if err != nil {
				return fmt.Errorf("embedding batch at %d: %w", start, err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedding batch at %d: got %d vectors for %d documents", start, len(vecs), len(batch))
			}

			records := make([]retrieval.Record, len(batch))
			for i, d := range batch {
				if len(vecs[i]) != ix.opts.Dimension {
					return fmt.Errorf("embedding has dimension %d, want %d: %w", len(vecs[i]), ix.opts.Dimension, retrieval.ErrDimensionMismatch)
				}
				records[i] = retrieval.Record{Document: d, Embedding: vecs[i]}
			}
			if err := ix.store.Upsert(gCtx, collection, records); err != nil {
				return fmt.Errorf("writing batch at %d: %w", start, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CollectionName derives a collection slug from a course name: lowercase,
// every byte outside [a-z0-9] replaced by '-', suffixed with "-vtts".
func CollectionName(course string) string {
	b := []byte(strings.ToLower(course))
	for i, c := range b {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			b[i] = '-'
		}
	}
	return string(b) + "-vtts"
}
