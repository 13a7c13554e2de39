package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// VectorStore is the interface for vector storage and similarity search backends.
// Records live in named collections, one per course. Each collection has a
// fixed dimensionality and uses cosine distance.
//
// Two implementations exist: QdrantStore talks to a Qdrant server over REST,
// SQLiteStore keeps vectors in the local database and scans them brute force.
type VectorStore interface {
	// EnsureCollection creates the collection with the given dimension if it does
	// not exist. An existing collection with another dimension yields an error
	// wrapping ErrDimensionMismatch.
	EnsureCollection(ctx context.Context, name string, dimension int) error

	// Upsert writes records to the collection. Records without an ID are
	// assigned a fresh UUID by the store.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Search returns the top-K records most similar to vector, best first.
	// A missing collection yields *CollectionNotFoundError.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredRecord, error)

	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int, error)
}

// Distance is the only metric collections are created with.
const Distance = "Cosine"

// ErrDimensionMismatch is returned when vectors do not match a collection's dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// CollectionNotFoundError reports a query against a collection that does not exist.
type CollectionNotFoundError struct {
	Collection string
}

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("collection %q not found", e.Collection)
}

// Metadata is attached to every indexed chunk. StartTime and EndTime keep the
// caption file's original timestamp strings.
type Metadata struct {
	Course       string  `json:"course"`
	Module       string  `json:"module"`
	File         string  `json:"file"`
	ChunkID      string  `json:"chunkId"`
	StartTime    string  `json:"startTime"`
	EndTime      string  `json:"endTime"`
	StartSeconds float64 `json:"startSeconds"`
	EndSeconds   float64 `json:"endSeconds"`
	FilePath     string  `json:"filePath"`
}

// Document is the unit written to and read from a collection.
type Document struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Record is a stored document with its store-assigned identity.
type Record struct {
	ID        string
	Document  Document
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
