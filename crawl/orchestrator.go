package crawl

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/regsift/regsift/analyze"
	"github.com/regsift/regsift/convert"
	"github.com/regsift/regsift/document"
	"github.com/regsift/regsift/fetch"
	"github.com/regsift/regsift/index"
)

// Downloader fetches document content. *fetch.Fetcher satisfies it.
type Downloader interface {
	Fetch(ctx context.Context, url string, opts ...fetch.Option) (*fetch.Response, error)
}

// Converter normalises raw content. *convert.Registry satisfies it.
type Converter interface {
	Convert(ctx context.Context, content []byte, mimeType string, opts ...convert.Option) ([]byte, error)
}

// TextAnalyzer derives plain text from content. *analyze.Analyzer
// satisfies it.
type TextAnalyzer interface {
	Analyze(content []byte, contentType, baseURL string) (analyze.Result, error)
}

// BlobStore persists content by hash. *blobstore.Store satisfies it.
type BlobStore interface {
	Put(content []byte) (string, error)
}

// Config tunes one orchestrator. Zero values take the defaults.
type Config struct {
	// QueueSize bounds the discovery-to-worker channel. Discovery blocks
	// when workers fall behind. Default 100.
	QueueSize int

	// Workers is the processing pool size. Default 20.
	Workers int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RunParams controls one crawl.
type RunParams struct {
	// Limit caps how many documents discovery enqueues. 0 means no cap.
	Limit int

	// Initial disables early termination, forcing a full walk of the
	// source. Used for the first crawl of a new source.
	Initial bool
}

// Summary counts what one run did.
type Summary struct {
	Discovered int64
	Stored     int64
	Skipped    int64
	Failed     int64
}

// Orchestrator runs one source. Collaborators are narrow interfaces so
// tests can stub each one.
type Orchestrator struct {
	plugin     Plugin
	downloader Downloader
	converter  Converter
	analyzer   TextAnalyzer
	blobs      BlobStore
	idx        index.Index

	cfg    Config
	logger *slog.Logger
}

func NewOrchestrator(plugin Plugin, downloader Downloader, converter Converter,
	analyzer TextAnalyzer, blobs BlobStore, idx index.Index, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		plugin:     plugin,
		downloader: downloader,
		converter:  converter,
		analyzer:   analyzer,
		blobs:      blobs,
		idx:        idx,
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "crawl", "source", plugin.Name()),
	}
}

// Run walks the source once. Discovery runs in the calling goroutine's
// group; a bounded channel feeds the worker pool. Per-document failures
// are counted, logged and contained; only the inability to iterate at
// all is an error.
func (o *Orchestrator) Run(ctx context.Context, params RunParams) (Summary, error) {
	started := time.Now()
	var sum summaryCounters

	queue := make(chan *document.Document, o.cfg.QueueSize)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			o.worker(gctx, queue, &sum)
			return nil
		})
	}

	o.discover(gctx, params, queue, &sum)
	close(queue)
	g.Wait()

	summary := sum.snapshot()
	o.logger.Info("run finished",
		"discovered", summary.Discovered,
		"stored", summary.Stored,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"elapsed", time.Since(started).Round(time.Millisecond))

	if o.idx != nil {
		rec := index.RunRecord{
			Source:     o.plugin.Name(),
			StartedAt:  started,
			FinishedAt: time.Now(),
			Discovered: int(summary.Discovered),
			Stored:     int(summary.Stored),
			Skipped:    int(summary.Skipped),
			Failed:     int(summary.Failed),
		}
		if err := ctx.Err(); err != nil {
			rec.Error = err.Error()
		}
		if err := o.idx.LogRun(context.WithoutCancel(ctx), rec); err != nil {
			o.logger.Warn("fetch log write failed", "error", err)
		}
	}

	return summary, ctx.Err()
}

type summaryCounters struct {
	discovered atomic.Int64
	stored     atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
}

func (s *summaryCounters) snapshot() Summary {
	return Summary{
		Discovered: s.discovered.Load(),
		Stored:     s.stored.Load(),
		Skipped:    s.skipped.Load(),
		Failed:     s.failed.Load(),
	}
}

// discover walks result pages and feeds the queue. It owns the early
// termination decision: on an incremental run, the first already-indexed
// document dated before today means everything past it is old news.
func (o *Orchestrator) discover(ctx context.Context, params RunParams,
	queue chan<- *document.Document, sum *summaryCounters) {

	pages := o.plugin.Entries(ctx)
	enqueued := 0

	for {
		if ctx.Err() != nil {
			return
		}
		page := pages.Next(ctx)
		if page == nil {
			return
		}

		for _, doc := range o.plugin.FindEntries(ctx, page) {
			if doc == nil || doc.URL == "" {
				continue
			}
			doc.SourceName = o.plugin.Name()
			sum.discovered.Add(1)

			exists, err := o.idx.ExistsDocument(ctx, doc.URL)
			if err != nil {
				o.logger.Warn("exists check failed", "url", doc.URL, "error", err)
				sum.failed.Add(1)
				continue
			}
			if exists {
				if !params.Initial && beforeToday(doc.PublishedDate) {
					o.logger.Debug("reached known documents, stopping discovery",
						"url", doc.URL, "published", doc.PublishedDate)
					return
				}
				sum.skipped.Add(1)
				continue
			}

			select {
			case queue <- doc:
			case <-ctx.Done():
				return
			}
			enqueued++
			if params.Limit > 0 && enqueued >= params.Limit {
				o.logger.Debug("document limit reached", "limit", params.Limit)
				return
			}
		}
	}
}

// worker drains the queue. Cancellation stops new dequeues; a document
// already picked up is processed to completion on a detached context so
// its partial work is not torn down mid-write.
func (o *Orchestrator) worker(ctx context.Context, queue <-chan *document.Document, sum *summaryCounters) {
	for {
		// Checked before the blocking select: with the queue non-empty both
		// cases are ready and the runtime picks either, so a cancelled worker
		// could otherwise keep picking up fresh documents.
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case doc, ok := <-queue:
			if !ok {
				return
			}
			o.process(context.WithoutCancel(ctx), doc, sum)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, doc *document.Document, sum *summaryCounters) {
	logger := o.logger.With("url", doc.URL)

	if err := o.plugin.ProcessDocument(ctx, doc); err != nil {
		// Partial metadata is acceptable; the content pipeline goes on.
		logger.Warn("enrichment failed", "stage", "enrich", "error", err)
	}

	if len(doc.RawContent) == 0 {
		resp, err := o.downloader.Fetch(ctx, doc.URL)
		if err != nil {
			logger.Error("download failed", "stage", "download", "error", err)
			doc.Status = document.StatusFailed
			sum.failed.Add(1)
			return
		}
		if !resp.OK() {
			logger.Error("download rejected", "stage", "download", "status", resp.StatusCode)
			doc.Status = document.StatusFailed
			sum.failed.Add(1)
			return
		}
		doc.RawContent = resp.Body
		if doc.ContentType == "" {
			doc.ContentType = resp.ContentType
		}
	}
	doc.Status = document.StatusFetched

	content, err := o.converter.Convert(ctx, doc.RawContent, doc.ContentType,
		convert.WithBaseURL(doc.URL))
	if err != nil {
		logger.Error("conversion failed", "stage", "convert", "error", err)
		doc.Status = document.StatusFailed
		sum.failed.Add(1)
		return
	}
	if len(content) == 0 {
		logger.Debug("no usable content", "stage", "convert")
		doc.Status = document.StatusSkipped
		sum.skipped.Add(1)
		return
	}
	doc.Content = content
	doc.Status = document.StatusConverted

	if o.analyzer != nil {
		res, err := o.analyzer.Analyze(doc.RawContent, doc.ContentType, doc.URL)
		if err != nil {
			// Text is an enrichment; its absence never fails the document.
			logger.Debug("text analysis failed", "stage", "analyze", "error", err)
		} else {
			doc.Text = res.Text
			if doc.Title == "" {
				doc.Title = res.Title
			}
		}
	}

	hash, err := o.blobs.Put(doc.Content)
	if err != nil {
		logger.Error("store failed", "stage", "store", "error", err)
		doc.Status = document.StatusFailed
		sum.failed.Add(1)
		return
	}
	doc.ContentHash = hash
	doc.Status = document.StatusStored

	ins, err := o.idx.InsertDocument(ctx, doc)
	if err != nil {
		logger.Error("index failed", "stage", "index", "error", err)
		doc.Status = document.StatusFailed
		sum.failed.Add(1)
		return
	}
	switch ins.Result {
	case index.ResultCreated:
		sum.stored.Add(1)
	case index.ResultExisting:
		// Lost a race with another worker on the same URL.
		doc.Status = document.StatusSkipped
		sum.skipped.Add(1)
	default:
		sum.failed.Add(1)
	}
}

// beforeToday reports whether t falls on a day strictly before today.
// The zero time is never "before today": unknown dates must not trigger
// early termination.
func beforeToday(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.Location())
	return t.Before(startOfDay)
}
