package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/vttrag/internal/api"
	"github.com/kalambet/vttrag/internal/config"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vttrag system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "vttrag version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewHandler(api.Deps{
		History:    a.store,
		Indexer:    a.indexer,
		Answerer:   a.answerer,
		Vectors:    a.vectors,
		BaseFolder: cfg.Indexing.BaseFolder,
		Version:    version,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("vttrag listening", "addr", addr, "vector_store", cfg.VectorStore.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the MCP protocol; logs stay on stderr.
	setupLogging(cfg)

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		History:    a.store,
		Indexer:    a.indexer,
		Answerer:   a.answerer,
		BaseFolder: cfg.Indexing.BaseFolder,
		Version:    version,
	})
	slog.Info("MCP server started (stdio transport)")

	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	VectorStore string `json:"vector_store"`
	Collections int    `json:"collections"`
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    serverURL(cfg),
		httpClient: &http.Client{Timeout: 3 * time.Second},
	}
	health, running := fetchHealth(ctx, client)
	switch {
	case !running:
		printStatus("Server", "stopped")
	case health.Status == "ok":
		printStatus("Server", "running at %s (version %s)", client.baseURL, health.Version)
	default:
		printStatus("Server", "%s at %s", health.Status, client.baseURL)
	}

	printStatus("Vector store", "%s", vectorStoreLabel(cfg))
	if running {
		if health.VectorStore == "ok" {
			printStatus("Collections", "%d", health.Collections)
		} else {
			printStatus("Collections", "vector store %s", health.VectorStore)
		}
	}

	printStatus("Chat model", "%s", cfg.OpenAI.ChatModel)
	printStatus("Embed model", "%s (%d dims)", cfg.OpenAI.EmbedModel, cfg.OpenAI.EmbedDimensions)
	printStatus("Rewrite models", "%s / %s", cfg.Gemini.CleanModel, cfg.Gemini.RewriteModel)
	printStatus("Default course", "%s", cfg.Chat.DefaultCollection)

	if running {
		resp, err := client.get(ctx, "/interactions?limit=100")
		if err == nil {
			var interactions []json.RawMessage
			if decodeJSON(resp, &interactions) == nil {
				printStatus("Interactions", "%s", countLabel(len(interactions), 100))
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		printWarning("%v", err)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Database", "%s", cfg.DBPath())
	return nil
}

func fetchHealth(ctx context.Context, client *apiClient) (healthResponse, bool) {
	var h healthResponse
	resp, err := client.get(ctx, "/health")
	if err != nil {
		return h, false
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		h.Status = fmt.Sprintf("error (HTTP %d)", resp.StatusCode)
	}
	return h, true
}

func vectorStoreLabel(cfg config.Config) string {
	if cfg.VectorStore.Backend == config.BackendSQLite {
		return "sqlite (local)"
	}
	return "qdrant at " + cfg.VectorStore.QdrantURL
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
