package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/vttrag/internal/composer"
	"github.com/kalambet/vttrag/internal/config"
	"github.com/kalambet/vttrag/internal/engine"
	"github.com/kalambet/vttrag/internal/indexing"
	"github.com/kalambet/vttrag/internal/pipeline"
	"github.com/kalambet/vttrag/internal/retrieval"
	"github.com/kalambet/vttrag/internal/rewrite"
	"github.com/kalambet/vttrag/internal/storage"
)

// app holds the wired components shared by serve, mcp and index.
type app struct {
	store    *storage.Store
	vectors  retrieval.VectorStore
	indexer  *indexing.Indexer
	answerer *pipeline.Answerer
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// setupLogging installs the process-wide slog handler on stderr.
func setupLogging(cfg config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func buildApp(cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	openaiEngine, err := engine.NewOpenAIEngine(engine.OpenAIConfig{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		EmbedDimensions: cfg.OpenAI.EmbedDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	geminiBaseURL := cfg.Gemini.BaseURL
	if geminiBaseURL == "" {
		geminiBaseURL = engine.GeminiBaseURL
	}
	geminiEngine, err := engine.NewOpenAIEngine(engine.OpenAIConfig{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: geminiBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	var vectors retrieval.VectorStore
	switch cfg.VectorStore.Backend {
	case config.BackendSQLite:
		vectors = retrieval.NewSQLiteStore(store.DB())
	default:
		vectors = retrieval.NewQdrantStore(retrieval.QdrantConfig{
			URL:    cfg.VectorStore.QdrantURL,
			APIKey: cfg.VectorStore.QdrantAPIKey,
		})
	}
	slog.Debug("vector store selected", "backend", cfg.VectorStore.Backend)

	embedder := retrieval.NewEmbedder(openaiEngine, cfg.OpenAI.EmbedModel)

	indexer := indexing.New(embedder, vectors, indexing.Options{
		MaxChunkChars:  cfg.Indexing.MaxChunkChars,
		BatchSize:      cfg.Indexing.BatchSize,
		MaxConcurrency: cfg.Indexing.MaxConcurrency,
		Dimension:      cfg.OpenAI.EmbedDimensions,
		Patterns:       cfg.PatternList(),
	})

	answerer := pipeline.NewAnswerer(
		rewrite.NewExpander(geminiEngine, cfg.Gemini.CleanModel, cfg.Gemini.RewriteModel),
		retrieval.NewRetriever(embedder, vectors, cfg.Retrieval.TopK),
		composer.NewSynthesizer(openaiEngine, cfg.OpenAI.ChatModel),
		store,
		pipeline.Options{
			TopK:              cfg.Retrieval.TopK,
			TopN:              cfg.Retrieval.TopN,
			IncludeCleanQuery: cfg.Retrieval.IncludeCleanQuery,
			RewriteFallback:   cfg.Chat.RewriteFallback,
			DefaultCollection: cfg.Chat.DefaultCollection,
		},
	)

	return &app{
		store:    store,
		vectors:  vectors,
		indexer:  indexer,
		answerer: answerer,
	}, nil
}
