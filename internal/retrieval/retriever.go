package retrieval

import (
	"context"
	"fmt"
)

// DefaultTopK is the number of neighbours returned per query.
const DefaultTopK = 3

// QueryEmbedder turns a query into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of a VectorStore.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredRecord, error)
}

// Retriever combines embedding and vector search to find relevant chunks.
type Retriever struct {
	embedder QueryEmbedder
	store    Searcher
	topK     int
}

// NewRetriever creates a Retriever. topK <= 0 selects DefaultTopK.
func NewRetriever(embedder QueryEmbedder, store Searcher, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, store: store, topK: topK}
}

// Retrieve embeds the query and returns the top-K most similar chunks in the
// collection. topK <= 0 uses the Retriever's default. A missing collection is
// reported as *CollectionNotFoundError.
func (r *Retriever) Retrieve(ctx context.Context, collection, query string, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		topK = r.topK
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, collection, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieving from %q: %w", collection, err)
	}
	return scored, nil
}
