package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/vttrag/internal/reranking"
	"github.com/kalambet/vttrag/internal/retrieval"
	"github.com/kalambet/vttrag/internal/rewrite"
	"github.com/kalambet/vttrag/internal/storage"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyQuery is returned when a question has no text.
var ErrEmptyQuery = errors.New("query is empty")

// Expander produces query variants.
type Expander interface {
	Expand(ctx context.Context, query string) (rewrite.Expansion, error)
}

// Retriever looks up nearest chunks for one query.
type Retriever interface {
	Retrieve(ctx context.Context, collection, query string, topK int) ([]retrieval.ScoredRecord, error)
}

// Synthesizer answers a query from ranked chunks.
type Synthesizer interface {
	Answer(ctx context.Context, query string, chunks []reranking.RankedChunk) (string, error)
}

// Recorder persists chat history. It may be nil.
type Recorder interface {
	SaveInteraction(i *storage.Interaction) error
}

// Options tune an Answerer. Zero values select the defaults.
type Options struct {
	TopK int
	TopN int
	// IncludeCleanQuery adds the clean rewrite as a retrieval variant.
	IncludeCleanQuery bool
	// RewriteFallback retrieves with the original query alone when
	// rewriting fails, instead of failing the request.
	RewriteFallback   bool
	DefaultCollection string
}

// Question is one chat request.
type Question struct {
	Query      string
	Collection string
}

// Answer is the outcome of a chat request. Degraded is set when rewriting
// failed and retrieval fell back to the original query.
type Answer struct {
	InteractionID string
	Text          string
	Collection    string
	CleanQuery    string
	Rewrites      []string
	Variants      []string
	Sources       []reranking.RankedChunk
	Degraded      bool
	Duration      time.Duration
}

// Answerer orchestrates the query-time pipeline: rewrite, retrieve per
// variant, rank by frequency, and synthesize.
type Answerer struct {
	expander    Expander
	retriever   Retriever
	synthesizer Synthesizer
	recorder    Recorder
	opts        Options
}

// NewAnswerer creates an Answerer wired to all pipeline stages.
// recorder may be nil to skip history.
func NewAnswerer(expander Expander, retriever Retriever, synthesizer Synthesizer, recorder Recorder, opts Options) *Answerer {
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	if opts.TopN <= 0 {
		opts.TopN = reranking.DefaultTopN
	}
	return &Answerer{
		expander:    expander,
		retriever:   retriever,
		synthesizer: synthesizer,
		recorder:    recorder,
		opts:        opts,
	}
}

// Ask runs the full pipeline:
//  1. Expand the query into a clean rewrite and three alternates
//  2. Retrieve top-K for every variant concurrently, keeping variant order
//  3. Rank the merged results by cross-variant frequency, keep top-N
//  4. Synthesize with the clean query (the original if there is none)
//
// Retrieval and synthesis errors abort the request. Rewrite errors abort it
// unless RewriteFallback is set.
func (a *Answerer) Ask(ctx context.Context, q Question) (ans Answer, err error) {
	start := time.Now()
	query := strings.TrimSpace(q.Query)
	if query == "" {
		return Answer{}, ErrEmptyQuery
	}
	ans.Collection = q.Collection
	if ans.Collection == "" {
		ans.Collection = a.opts.DefaultCollection
	}

	defer func() {
		ans.Duration = time.Since(start)
		ans.InteractionID = a.record(query, ans, err)
	}()

	// 1. Expand.
	x, xerr := a.expander.Expand(ctx, query)
	ans.CleanQuery = x.Clean
	switch {
	case xerr == nil:
		ans.Variants = x.Variants(a.opts.IncludeCleanQuery)
		ans.Rewrites = x.Rewrites[:]
	case a.opts.RewriteFallback && isRewriteError(xerr):
		slog.Warn("query rewrite failed, retrieving with original query only", "error", xerr)
		ans.Degraded = true
		ans.Variants = []string{query}
	default:
		return ans, xerr
	}

	// 2. Retrieve.
	lists, err := a.retrieveAll(ctx, ans.Collection, ans.Variants)
	if err != nil {
		return ans, err
	}

	// 3. Rank.
	ans.Sources = reranking.ByFrequency(lists, a.opts.TopN)

	// 4. Synthesize.
	synthQuery := x.Clean
	if synthQuery == "" {
		synthQuery = query
	}
	ans.Text, err = a.synthesizer.Answer(ctx, synthQuery, ans.Sources)
	if err != nil {
		return ans, err
	}

	slog.Debug("answer complete",
		"collection", ans.Collection,
		"variants", len(ans.Variants),
		"sources", len(ans.Sources),
		"degraded", ans.Degraded,
	)
	return ans, nil
}

func (a *Answerer) retrieveAll(ctx context.Context, collection string, variants []string) ([][]retrieval.ScoredRecord, error) {
	lists := make([][]retrieval.ScoredRecord, len(variants))
	g, gCtx := errgroup.WithContext(ctx)
	for i, v := range variants {
		g.Go(func() error {
			res, err := a.retriever.Retrieve(gCtx, collection, v, a.opts.TopK)
			if err != nil {
				return err
			}
			lists[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lists, nil
}

// record saves the interaction and returns its ID. Failures are logged only.
func (a *Answerer) record(query string, ans Answer, askErr error) string {
	if a.recorder == nil {
		return ""
	}
	in := storage.Interaction{
		Collection: ans.Collection,
		UserQuery:  query,
		CleanQuery: ans.CleanQuery,
		Answer:     ans.Text,
		Status:     storage.StatusCompleted,
		Degraded:   ans.Degraded,
	}
	for _, r := range ans.Rewrites {
		if r != "" {
			in.Rewrites = append(in.Rewrites, r)
		}
	}
	for _, s := range ans.Sources {
		in.SourceIDs = append(in.SourceIDs, s.ID)
	}
	if askErr != nil {
		in.Status = storage.StatusFailed
		in.Error = askErr.Error()
	}
	if err := a.recorder.SaveInteraction(&in); err != nil {
		slog.Warn("failed to record interaction", "error", err)
		return ""
	}
	return in.ID
}

func isRewriteError(err error) bool {
	var re *rewrite.RewriteError
	return errors.As(err, &re)
}
