package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kalambet/vttrag/internal/api"
	"github.com/kalambet/vttrag/internal/config"
	"github.com/kalambet/vttrag/internal/indexing"
)

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index [folder]",
	Short: "Index a folder of caption files into a course collection",
	Long: `Index a folder of WebVTT caption files into a course collection.

The folder defaults to indexing.base_folder. The course name defaults to the
folder's base name and the collection to "<course>-vtts".

Examples:
  vttrag index ./courses/nodejs-course
  vttrag index ./captions --course nodejs-course`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		course, _ := cmd.Flags().GetString("course")
		collection, _ := cmd.Flags().GetString("collection")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		folder := cfg.Indexing.BaseFolder
		if len(args) == 1 {
			folder = args[0]
		}
		if folder == "" {
			return fmt.Errorf("a folder argument is required (or set indexing.base_folder)")
		}
		if abs, err := filepath.Abs(folder); err == nil {
			folder = abs
		}

		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		fmt.Printf("Scanning %s...\n", folder)
		start := time.Now()
		res, err := api.IndexAndRecord(ctx, a.store, a.indexer, indexing.Request{
			Root:       folder,
			Course:     course,
			Collection: collection,
			OnProgress: newIndexProgress(os.Stderr),
		})
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		printIndexResult(os.Stdout, res, time.Since(start))
		return nil
	},
}

func init() {
	indexCmd.Flags().String("course", "", "course name (default: folder name)")
	indexCmd.Flags().String("collection", "", "collection name (default: <course>-vtts)")
}

// newIndexProgress returns an OnProgress callback that draws a progress bar
// once the number of files is known.
func newIndexProgress(w io.Writer) func(done, total int, file string) {
	var (
		bar   *progressbar.ProgressBar
		mu    sync.Mutex
		start time.Time
	)
	return func(done, total int, file string) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			start = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionEnableColorCodes(!noColor),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(w)
				}),
			)
		}

		_ = bar.Set(done)
		if done > 0 && done < total {
			perFile := time.Since(start) / time.Duration(done)
			eta := perFile * time.Duration(total-done)
			bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] %s ETA: %s", filepath.Base(file), eta.Round(time.Second)))
		}
	}
}

func printIndexResult(w io.Writer, res indexing.Result, elapsed time.Duration) {
	if res.TotalFiles == 0 {
		fmt.Fprintln(w, "No caption files found.")
		return
	}
	fmt.Fprintf(w, "%s %d chunks from %d/%d files into %s (%s)\n",
		colorize(colorGreen, "Indexed"),
		res.Stored, res.ProcessedFiles, res.TotalFiles,
		colorize(colorBold, res.Collection),
		elapsed.Round(time.Millisecond),
	)
	fmt.Fprintf(w, "  Course: %s\n", res.Course)
	fmt.Fprintf(w, "  Avg chunks per file: %d\n", res.Summary.AvgChunksPerFile)
	if res.CollectionSize > 0 {
		fmt.Fprintf(w, "  Collection size: %d chunks\n", res.CollectionSize)
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(w, "  %s %d file(s) skipped:\n", colorize(colorYellow, "!"), len(res.Errors))
		for _, e := range res.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about an indexed course",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		showSources, _ := cmd.Flags().GetBool("sources")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		answer, err := ask(cmd.Context(), client, strings.Join(args, " "), collection)
		if err != nil {
			return err
		}
		printAnswer(os.Stdout, answer, showSources)
		return nil
	},
}

func init() {
	askCmd.Flags().String("collection", "", "collection to search (default: chat.default_collection)")
	askCmd.Flags().Bool("sources", true, "print the caption excerpts used for the answer")
}

func ask(ctx context.Context, client *apiClient, query, collection string) (api.ChatResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var out api.ChatResponse
	resp, err := client.post(ctx, "/chat", api.ChatRequest{Query: query, Collection: collection})
	if err != nil {
		return out, err
	}
	if err := decodeJSON(resp, &out); err != nil {
		return out, err
	}
	return out, nil
}

func printAnswer(w io.Writer, a api.ChatResponse, showSources bool) {
	fmt.Fprintln(w, a.Data)
	if a.Degraded {
		fmt.Fprintf(w, "\n%s query rewriting failed; answered from the original question only\n", colorize(colorYellow, "!"))
	}
	if !showSources || len(a.Sources) == 0 {
		return
	}

	fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Sources"))
	for i, s := range a.Sources {
		loc := s.Metadata.File
		if s.Metadata.Module != "" {
			loc = s.Metadata.Module + "/" + loc
		}
		if s.Metadata.StartTime != "" {
			loc += " @ " + s.Metadata.StartTime
		}
		fmt.Fprintf(w, "  %s %s [hits: %d]\n", colorize(colorCyan, fmt.Sprintf("%d.", i+1)), loc, s.Frequency)
		fmt.Fprintf(w, "     %s\n", truncate(s.Content, 160))
	}
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Browse chat history",
}

type interactionRow struct {
	ID         string `json:"id"`
	CreatedAt  string `json:"created_at"`
	Collection string `json:"collection"`
	UserQuery  string `json:"user_query"`
	Status     string `json:"status"`
	Degraded   bool   `json:"degraded"`
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/interactions?limit=%d", limit))
		if err != nil {
			return err
		}

		var rows []interactionRow
		if err := decodeJSON(resp, &rows); err != nil {
			return err
		}
		printInteractions(os.Stdout, rows)
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/interactions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var interaction any
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}
		return printJSON(os.Stdout, interaction)
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
}

func printInteractions(w io.Writer, rows []interactionRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No interactions found.")
		return
	}
	for _, r := range rows {
		status := r.Status
		switch {
		case status == "failed":
			status = colorize(colorRed, status)
		case r.Degraded:
			status = colorize(colorYellow, "degraded")
		}
		fmt.Fprintf(w, "%s  %s  %-9s  %s  %s\n",
			colorize(colorCyan, shortID(r.ID)),
			r.CreatedAt,
			status,
			r.Collection,
			truncate(r.UserQuery, 80),
		)
	}
}

// --- index-runs ---

type indexRunRow struct {
	ID             string `json:"id"`
	CreatedAt      string `json:"created_at"`
	Collection     string `json:"collection"`
	Root           string `json:"root"`
	TotalFiles     int    `json:"total_files"`
	ProcessedFiles int    `json:"processed_files"`
	Stored         int    `json:"stored"`
	Status         string `json:"status"`
	Message        string `json:"message"`
}

var indexRunsCmd = &cobra.Command{
	Use:   "index-runs",
	Short: "List recent indexing runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/index-runs?limit=%d", limit))
		if err != nil {
			return err
		}

		var runs []indexRunRow
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}
		printIndexRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	indexRunsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
}

func printIndexRuns(w io.Writer, runs []indexRunRow) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No indexing runs found.")
		return
	}
	for _, r := range runs {
		status := r.Status
		if status == "success" {
			status = colorize(colorGreen, status)
		} else {
			status = colorize(colorYellow, status)
		}
		fmt.Fprintf(w, "%s  %s  %s  %s  %d/%d files, %d chunks\n",
			colorize(colorCyan, shortID(r.ID)),
			r.CreatedAt,
			status,
			r.Collection,
			r.ProcessedFiles, r.TotalFiles, r.Stored,
		)
		if r.Message != "" {
			fmt.Fprintf(w, "    %s\n", r.Message)
		}
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nValid keys: " +
		strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- helpers ---

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
