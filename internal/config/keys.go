package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "VTTRAG_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "VTTRAG_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "VTTRAG_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "VTTRAG_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VTTRAG_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "openai.api_key", typ: kString, env: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "VTTRAG_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.chat_model", typ: kString, env: "VTTRAG_OPENAI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ChatModel },
	},
	{
		key: "openai.embed_model", typ: kString, env: "VTTRAG_OPENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "openai.embed_dimensions", typ: kInt, env: "VTTRAG_OPENAI_EMBED_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedDimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedDimensions },
	},
	{
		key: "gemini.api_key", typ: kString, env: "GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.base_url", typ: kString, env: "VTTRAG_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.clean_model", typ: kString, env: "VTTRAG_GEMINI_CLEAN_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.CleanModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.CleanModel },
	},
	{
		key: "gemini.rewrite_model", typ: kString, env: "VTTRAG_GEMINI_REWRITE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.RewriteModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.RewriteModel },
	},
	{
		key: "vectorstore.backend", typ: kString, env: "VTTRAG_VECTORSTORE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.VectorStore.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.VectorStore.Backend },
	},
	{
		key: "vectorstore.qdrant_url", typ: kString, env: "QDRANT_URL",
		apply:   func(cfg *Config, v any) { cfg.VectorStore.QdrantURL = v.(string) },
		extract: func(cfg Config) any { return cfg.VectorStore.QdrantURL },
	},
	{
		key: "vectorstore.qdrant_api_key", typ: kString, env: "QDRANT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.VectorStore.QdrantAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.VectorStore.QdrantAPIKey },
	},
	{
		key: "indexing.max_chunk_chars", typ: kInt, env: "VTTRAG_INDEXING_MAX_CHUNK_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Indexing.MaxChunkChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Indexing.MaxChunkChars },
	},
	{
		key: "indexing.batch_size", typ: kInt, env: "VTTRAG_INDEXING_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Indexing.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Indexing.BatchSize },
	},
	{
		key: "indexing.max_concurrency", typ: kInt, env: "VTTRAG_INDEXING_MAX_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Indexing.MaxConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Indexing.MaxConcurrency },
	},
	{
		key: "indexing.patterns", typ: kString, env: "VTTRAG_INDEXING_PATTERNS",
		apply:   func(cfg *Config, v any) { cfg.Indexing.Patterns = v.(string) },
		extract: func(cfg Config) any { return cfg.Indexing.Patterns },
	},
	{
		key: "indexing.base_folder", typ: kString, env: "VTTRAG_BASE_FOLDER",
		apply:   func(cfg *Config, v any) { cfg.Indexing.BaseFolder = v.(string) },
		extract: func(cfg Config) any { return cfg.Indexing.BaseFolder },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "VTTRAG_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.top_n", typ: kInt, env: "VTTRAG_RETRIEVAL_TOP_N",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopN = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopN },
	},
	{
		key: "retrieval.include_clean_query", typ: kBool, env: "VTTRAG_RETRIEVAL_INCLUDE_CLEAN_QUERY",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.IncludeCleanQuery = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.IncludeCleanQuery },
	},
	{
		key: "chat.default_collection", typ: kString, env: "VTTRAG_CHAT_DEFAULT_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Chat.DefaultCollection = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.DefaultCollection },
	},
	{
		key: "chat.rewrite_fallback", typ: kBool, env: "VTTRAG_CHAT_REWRITE_FALLBACK",
		apply:   func(cfg *Config, v any) { cfg.Chat.RewriteFallback = v.(bool) },
		extract: func(cfg Config) any { return cfg.Chat.RewriteFallback },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
