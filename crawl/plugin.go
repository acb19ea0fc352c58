// Package crawl drives the pipeline: a source plugin discovers candidate
// documents page by page, and a worker pool carries each one through
// enrichment, download, conversion, analysis and storage.
package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/regsift/regsift/document"
	"github.com/regsift/regsift/fetch"
	"github.com/regsift/regsift/paginate"
)

// PageSource yields result pages until the source is exhausted. Next
// returns nil when there is nothing left; iteration errors are handled
// inside the source and also end in nil.
type PageSource interface {
	Next(ctx context.Context) *paginate.Page
}

// Plugin adapts one publication source to the pipeline.
type Plugin interface {
	// Name identifies the source in logs and in the index.
	Name() string

	// Entries returns a fresh page iterator for one crawl.
	Entries(ctx context.Context) PageSource

	// FindEntries extracts candidate documents from one result page.
	// Documents without a URL are dropped by the orchestrator.
	FindEntries(ctx context.Context, page *paginate.Page) []*document.Document

	// ProcessDocument enriches a document, typically by fetching its
	// detail page. An error leaves the document with partial metadata;
	// it stays in the pipeline.
	ProcessDocument(ctx context.Context, doc *document.Document) error
}

// Deps is what a plugin factory gets to work with.
type Deps struct {
	Fetcher *fetch.Fetcher
	Logger  *slog.Logger
}

// Factory builds a configured plugin instance.
type Factory func(Deps) (Plugin, error)

// Registry is an explicit name-to-factory table. Sources register at
// startup; there is no scanning or auto-discovery.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New instantiates the named plugin.
func (r *Registry) New(name string, deps Deps) (Plugin, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("crawl: unknown source %q", name)
	}
	return f(deps)
}

// Names lists the registered sources, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
