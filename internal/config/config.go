package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/vttrag/internal/storage"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Storage     StorageConfig
	OpenAI      OpenAIConfig
	Gemini      GeminiConfig
	VectorStore VectorStoreConfig
	Indexing    IndexingConfig
	Retrieval   RetrievalConfig
	Chat        ChatConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	DataDir string
}

// OpenAIConfig covers the embedding and answer models.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	EmbedModel      string
	EmbedDimensions int
}

// GeminiConfig covers the query rewrite models.
type GeminiConfig struct {
	APIKey       string
	BaseURL      string
	CleanModel   string
	RewriteModel string
}

type VectorStoreConfig struct {
	Backend      string
	QdrantURL    string
	QdrantAPIKey string
}

type IndexingConfig struct {
	MaxChunkChars  int
	BatchSize      int
	MaxConcurrency int
	// Patterns is a comma-separated list of doublestar globs.
	Patterns   string
	BaseFolder string
}

type RetrievalConfig struct {
	TopK              int
	TopN              int
	IncludeCleanQuery bool
}

type ChatConfig struct {
	DefaultCollection string
	RewriteFallback   bool
}

// Vector store backends.
const (
	BackendQdrant = "qdrant"
	BackendSQLite = "sqlite"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		OpenAI: OpenAIConfig{
			ChatModel:       "gpt-4.1",
			EmbedModel:      "text-embedding-3-large",
			EmbedDimensions: 3072,
		},
		Gemini: GeminiConfig{
			CleanModel:   "gemini-2.5-flash",
			RewriteModel: "gemini-2.5-flash",
		},
		VectorStore: VectorStoreConfig{
			Backend:   BackendQdrant,
			QdrantURL: "http://localhost:6333",
		},
		Indexing: IndexingConfig{
			MaxChunkChars: 400,
			BatchSize:     50,
			Patterns:      "**/*.vtt,**/*.webvtt",
		},
		Retrieval: RetrievalConfig{
			TopK: 3,
			TopN: 3,
		},
		Chat: ChatConfig{
			DefaultCollection: "nodejs-course-vtts",
			RewriteFallback:   true,
		},
	}
}

// Load reads configuration from the YAML file backend and environment
// variables. The file lives at $XDG_CONFIG_HOME/vttrag/config.yaml.
//
// Environment variables (VTTRAG_*, plus the provider keys OPENAI_API_KEY,
// GEMINI_API_KEY, QDRANT_API_KEY and QDRANT_URL) override file values.
// Secrets are read from the environment only.
//
// Load does not require any secret; call Validate before using the
// providers.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	cfg.VectorStore.Backend = strings.ToLower(strings.TrimSpace(cfg.VectorStore.Backend))
	switch cfg.VectorStore.Backend {
	case BackendQdrant, BackendSQLite:
	default:
		return Config{}, fmt.Errorf("invalid vectorstore.backend %q: must be %q or %q",
			cfg.VectorStore.Backend, BackendQdrant, BackendSQLite)
	}

	return cfg, nil
}

// Validate reports missing secrets needed to talk to the model providers.
func (c Config) Validate() error {
	var missing []string
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "OpenAI API key (OPENAI_API_KEY)")
	}
	if c.Gemini.APIKey == "" {
		missing = append(missing, "Gemini API key (GEMINI_API_KEY)")
	}
	if len(missing) > 0 {
		return errors.New("missing required config: " + strings.Join(missing, ", "))
	}
	return nil
}

// PatternList splits Indexing.Patterns into individual globs.
func (c Config) PatternList() []string {
	var out []string
	for _, p := range strings.Split(c.Indexing.Patterns, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DBPath is the SQLite file for interaction history and local vectors.
func (c Config) DBPath() string {
	return storage.DBPath(c.Storage.DataDir)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "vttrag-data"
		}
	}
	return filepath.Join(dir, "vttrag")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "vttrag", "config.yaml")
}
