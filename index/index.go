// Package index records which documents have been seen and stored. The
// crawl orchestrator consults it before fetching detail pages, so lookups
// sit on the hot path of every run.
package index

import (
	"context"
	"time"

	"github.com/regsift/regsift/document"
)

// Result classifies the outcome of an insert attempt.
type Result string

const (
	ResultCreated  Result = "created"
	ResultExisting Result = "existing"
	ResultFailed   Result = "failed"
)

// InsertResult carries the classification plus the document's index ID.
// ID is empty when the insert failed.
type InsertResult struct {
	Result Result
	ID     string
}

// RunRecord summarises one crawl of a source for the fetch log.
type RunRecord struct {
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Discovered int
	Stored     int
	Skipped    int
	Failed     int
	Error      string
}

// Index is the persistence contract the orchestrator depends on.
type Index interface {
	// ExistsDocument reports whether a document with this URL is already
	// indexed.
	ExistsDocument(ctx context.Context, url string) (bool, error)

	// InsertDocument indexes the document, treating its URL as the natural
	// key. Re-inserting a known URL is not an error: it reports
	// ResultExisting with the original ID.
	InsertDocument(ctx context.Context, doc *document.Document) (InsertResult, error)

	// LogRun appends a crawl summary to the fetch log.
	LogRun(ctx context.Context, rec RunRecord) error

	Close() error
}
