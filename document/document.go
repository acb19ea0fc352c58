// Package document defines the record flowing through the crawl pipeline,
// from discovery on a result page to its indexed, content-addressed form.
package document

import "time"

// Status tracks how far a document has travelled through the pipeline.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFetched   Status = "fetched"
	StatusConverted Status = "converted"
	StatusStored    Status = "stored"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Document is one candidate publication found on a source.
//
// URL is the natural key: a document without one never enters the pipeline.
// ContentHash is only set after the blob store accepted Content.
type Document struct {
	URL           string    `json:"url"`
	DetailURL     string    `json:"detail_url,omitempty"`
	Title         string    `json:"title,omitempty"`
	PublishedDate time.Time `json:"published_date,omitzero"`
	SourceName    string    `json:"source_name,omitempty"`

	// Metadata holds open-ended, source-specific fields keyed by dotted
	// paths (e.g. "metadata.topic").
	Metadata Metadata `json:"metadata,omitempty"`

	RawContent  []byte `json:"-"`
	ContentType string `json:"content_type,omitempty"`

	// Content is the canonical (post-conversion) representation.
	Content []byte `json:"-"`

	// Text is plain text pulled from Content by downstream analyzers.
	Text string `json:"text,omitempty"`

	ContentHash string `json:"content_hash,omitempty"`
	Status      Status `json:"status"`
}

// New creates a pending Document for the given source URL.
func New(url string) *Document {
	return &Document{
		URL:      url,
		Metadata: Metadata{},
		Status:   StatusPending,
	}
}
