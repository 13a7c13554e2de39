package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vttrag/internal/indexing"
	"github.com/kalambet/vttrag/internal/pipeline"
)

const (
	recentLimit    = 10
	maxQueryRunes  = 200
	recentURI      = "vttrag://interactions/recent"
	recentRunsURI  = "vttrag://index-runs/recent"
	mcpServerName  = "vttrag"
	mcpInstruction = "vttrag answers questions about video courses from their timed captions, citing module, file and timestamps."
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	History    HistoryStore
	Indexer    Indexer
	Answerer   Answerer
	BaseFolder string
	Version    string
}

// NewMCPServer creates an MCP server with the course tools and history resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		mcpServerName,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions(mcpInstruction),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_course",
			mcp.WithDescription("Answer a question from an indexed course, with the source module, file and timestamps."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("collection", mcp.Description("Collection to search (defaults to the configured course)")),
		),
		mcpAskCourse(deps),
	)

	s.AddTool(
		mcp.NewTool("index_folder",
			mcp.WithDescription("Index a folder of WebVTT caption files into a course collection."),
			mcp.WithString("folder_path", mcp.Description("Folder to index (defaults to the configured base folder)")),
			mcp.WithString("collection", mcp.Description("Target collection (defaults to <course>-vtts)")),
			mcp.WithString("course", mcp.Description("Course name (defaults to the folder name)")),
		),
		mcpIndexFolder(deps),
	)

	s.AddResource(
		mcp.NewResource(
			recentURI,
			"Recent Questions",
			mcp.WithResourceDescription("Last 10 answered questions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			recentRunsURI,
			"Recent Indexing Runs",
			mcp.WithResourceDescription("Last 10 indexing runs with their outcome"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRuns(deps),
	)

	return s
}

func mcpAskCourse(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required"), nil
		}

		ans, err := deps.Answerer.Ask(ctx, pipeline.Question{
			Query:      query,
			Collection: req.GetString("collection", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(chatResponse(ans))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIndexFolder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		folder := strings.TrimSpace(req.GetString("folder_path", ""))
		if folder == "" {
			folder = deps.BaseFolder
		}
		if folder == "" {
			return mcpError("folder_path is required"), nil
		}

		res, err := IndexAndRecord(ctx, deps.History, deps.Indexer, indexing.Request{
			Root:       folder,
			Course:     req.GetString("course", ""),
			Collection: req.GetString("collection", ""),
		})
		var noDocs *indexing.NoDocumentsError
		switch {
		case errors.Is(err, indexing.ErrRootNotFound):
			return mcpError(fmt.Sprintf("folder not found: %s", folder)), nil
		case errors.As(err, &noDocs):
			return mcpError(fmt.Sprintf("%v; errors: %s", noDocs, strings.Join(noDocs.Errors, "; "))), nil
		case err != nil:
			return mcpError(fmt.Sprintf("indexing failed: %v", err)), nil
		case res.TotalFiles == 0:
			return mcpText("No caption files found"), nil
		}

		b, err := json.Marshal(indexResponse{Status: "success", Result: res})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.History.ListInteractions(recentLimit, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID         string `json:"id"`
			CreatedAt  string `json:"created_at"`
			Collection string `json:"collection"`
			Query      string `json:"query"`
			Status     string `json:"status"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			summaries[i] = interactionSummary{
				ID:         ix.ID,
				CreatedAt:  ix.CreatedAt.Format(time.RFC3339),
				Collection: ix.Collection,
				Query:      truncateRunes(ix.UserQuery, maxQueryRunes),
				Status:     ix.Status,
			}
		}

		return jsonResource(req.Params.URI, summaries)
	}
}

func mcpResourceRecentRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.History.ListIndexRuns(recentLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent index runs: %w", err)
		}
		return jsonResource(req.Params.URI, runs)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
