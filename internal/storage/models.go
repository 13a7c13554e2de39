package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction status values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Interaction is one answered (or failed) chat request.
type Interaction struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Collection string    `json:"collection"`
	UserQuery  string    `json:"user_query"`
	CleanQuery string    `json:"clean_query,omitempty"`
	Rewrites   []string  `json:"rewrites,omitempty"`
	SourceIDs  []string  `json:"source_ids,omitempty"`
	Answer     string    `json:"answer,omitempty"`
	Status     string    `json:"status"`
	Degraded   bool      `json:"degraded"`
	Error      string    `json:"error,omitempty"`
}

// IndexRun status values.
const (
	RunSuccess     = "success"
	RunEmpty       = "empty"
	RunNoDocuments = "no_documents"
	RunNotFound    = "not_found"
	RunFailed      = "failed"
)

// IndexRun records the outcome of one indexing request.
type IndexRun struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Collection     string    `json:"collection"`
	Course         string    `json:"course"`
	Root           string    `json:"root"`
	TotalFiles     int       `json:"total_files"`
	ProcessedFiles int       `json:"processed_files"`
	Stored         int       `json:"stored"`
	Errors         []string  `json:"errors,omitempty"`
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
}
