package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// clearEnv blanks every variable Load reads so the host environment does
// not leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "missing.yaml")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.OpenAI.ChatModel != "gpt-4.1" {
		t.Errorf("OpenAI.ChatModel = %q, want %q", cfg.OpenAI.ChatModel, "gpt-4.1")
	}
	if cfg.OpenAI.EmbedModel != "text-embedding-3-large" || cfg.OpenAI.EmbedDimensions != 3072 {
		t.Errorf("embedding = %q/%d, want text-embedding-3-large/3072", cfg.OpenAI.EmbedModel, cfg.OpenAI.EmbedDimensions)
	}
	if cfg.Gemini.CleanModel != "gemini-2.5-flash" || cfg.Gemini.RewriteModel != "gemini-2.5-flash" {
		t.Errorf("gemini models = %q/%q", cfg.Gemini.CleanModel, cfg.Gemini.RewriteModel)
	}
	if cfg.VectorStore.Backend != BackendQdrant || cfg.VectorStore.QdrantURL != "http://localhost:6333" {
		t.Errorf("VectorStore = %+v", cfg.VectorStore)
	}
	if cfg.Indexing.MaxChunkChars != 400 || cfg.Indexing.BatchSize != 50 {
		t.Errorf("Indexing = %+v", cfg.Indexing)
	}
	if cfg.Retrieval.TopK != 3 || cfg.Retrieval.TopN != 3 || cfg.Retrieval.IncludeCleanQuery {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Chat.DefaultCollection != "nodejs-course-vtts" || !cfg.Chat.RewriteFallback {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if cfg.Storage.DataDir != "/tmp/xdg-data/vttrag" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.DBPath() != "/tmp/xdg-data/vttrag/vttrag.db" {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
server.port: 5000
storage.data_dir: /tmp/vttrag-test
openai.chat_model: gpt-4o
vectorstore.backend: sqlite
indexing.patterns: "**/*.vtt"
retrieval.top_k: 5
retrieval.include_clean_query: true
chat.rewrite_fallback: false
openai.api_key: ignored-from-file
`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/vttrag-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o" {
		t.Errorf("OpenAI.ChatModel = %q", cfg.OpenAI.ChatModel)
	}
	if cfg.VectorStore.Backend != BackendSQLite {
		t.Errorf("VectorStore.Backend = %q", cfg.VectorStore.Backend)
	}
	if !reflect.DeepEqual(cfg.PatternList(), []string{"**/*.vtt"}) {
		t.Errorf("PatternList = %v", cfg.PatternList())
	}
	if cfg.Retrieval.TopK != 5 || !cfg.Retrieval.IncludeCleanQuery {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Chat.RewriteFallback {
		t.Error("Chat.RewriteFallback = true, want false")
	}
	if cfg.OpenAI.APIKey != "" {
		t.Errorf("secret read from file: %q", cfg.OpenAI.APIKey)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "server.port: 5000\nvectorstore.qdrant_url: http://file:6333\n")

	t.Setenv("VTTRAG_SERVER_PORT", "6000")
	t.Setenv("QDRANT_URL", "http://env:6333")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("GEMINI_API_KEY", "gm-env")
	t.Setenv("VTTRAG_BASE_FOLDER", "/data/courses")
	t.Setenv("VTTRAG_RETRIEVAL_TOP_N", "not-a-number")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.VectorStore.QdrantURL != "http://env:6333" {
		t.Errorf("QdrantURL = %q", cfg.VectorStore.QdrantURL)
	}
	if cfg.OpenAI.APIKey != "sk-env" || cfg.Gemini.APIKey != "gm-env" {
		t.Errorf("keys = %q/%q", cfg.OpenAI.APIKey, cfg.Gemini.APIKey)
	}
	if cfg.Indexing.BaseFolder != "/data/courses" {
		t.Errorf("BaseFolder = %q", cfg.Indexing.BaseFolder)
	}
	if cfg.Retrieval.TopN != 3 {
		t.Errorf("TopN = %d, want default 3 after unparsable env", cfg.Retrieval.TopN)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("VTTRAG_VECTORSTORE_BACKEND", "pinecone")

	if _, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "none.yaml"))); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoad_InvalidInteger(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "server.port: abc\n")

	if _, err := loadWith(newFileBackend(path)); err == nil {
		t.Fatal("expected error for non-integer port")
	}
}

func TestValidate_MissingKeys(t *testing.T) {
	err := defaults().Validate()
	if err == nil {
		t.Fatal("expected error for missing API keys")
	}
	for _, want := range []string{"missing required config", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to contain %q", err.Error(), want)
		}
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	b := newFileBackend(path)

	if err := setKey(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKey port: %v", err)
	}
	if err := setKey(b, "chat.rewrite_fallback", "false"); err != nil {
		t.Fatalf("setKey bool: %v", err)
	}
	if err := setKey(b, "chat.default_collection", "go-course-vtts"); err != nil {
		t.Fatalf("setKey string: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Chat.RewriteFallback {
		t.Error("Chat.RewriteFallback = true, want false")
	}
	if cfg.Chat.DefaultCollection != "go-course-vtts" {
		t.Errorf("DefaultCollection = %q", cfg.Chat.DefaultCollection)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.yaml"))
	tests := []struct {
		key, value string
	}{
		{"openai.api_key", "sk-123"},
		{"no.such.key", "x"},
		{"server.port", "eighty"},
		{"chat.rewrite_fallback", "sometimes"},
		{"vectorstore.backend", "pinecone"},
	}
	for _, tt := range tests {
		if err := setKey(b, tt.key, tt.value); err == nil {
			t.Errorf("setKey(%q, %q) = nil, want error", tt.key, tt.value)
		}
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.OpenAI.APIKey = "sk-secret"

	infos := ShowAll(cfg)
	if len(infos) != len(ValidKeys()) {
		t.Errorf("ShowAll = %d keys, ValidKeys = %d", len(infos), len(ValidKeys()))
	}
	for _, ki := range infos {
		if strings.Contains(ki.Key, "api_key") || ki.Value == "sk-secret" {
			t.Errorf("secret exposed: %+v", ki)
		}
	}
}
