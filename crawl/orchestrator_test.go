package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/regsift/regsift/convert"
	"github.com/regsift/regsift/document"
	"github.com/regsift/regsift/fetch"
	"github.com/regsift/regsift/index"
	"github.com/regsift/regsift/paginate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource yields one page per document batch.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]*document.Document
	served  int
}

func (s *fakeSource) Next(_ context.Context) *paginate.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.served >= len(s.batches) {
		return nil
	}
	s.served++
	return &paginate.Page{URL: fmt.Sprintf("https://src.test/page/%d", s.served)}
}

func (s *fakeSource) pagesServed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

type fakePlugin struct {
	source     *fakeSource
	processErr error
}

func (p *fakePlugin) Name() string { return "testsource" }

func (p *fakePlugin) Entries(_ context.Context) PageSource { return p.source }

func (p *fakePlugin) FindEntries(_ context.Context, page *paginate.Page) []*document.Document {
	p.source.mu.Lock()
	defer p.source.mu.Unlock()
	// Page N carries batch N-1; served was already advanced by Next.
	return p.source.batches[p.source.served-1]
}

func (p *fakePlugin) ProcessDocument(_ context.Context, doc *document.Document) error {
	return p.processErr
}

type stubDownloader struct {
	calls atomic.Int64
}

func (d *stubDownloader) Fetch(_ context.Context, url string, _ ...fetch.Option) (*fetch.Response, error) {
	d.calls.Add(1)
	return &fetch.Response{
		StatusCode:  200,
		Body:        []byte("content of " + url),
		ContentType: "text/plain",
	}, nil
}

type stubConverter struct {
	failFor string
	emptyOK bool
	gate    chan struct{}
	started atomic.Int64
}

func (c *stubConverter) Convert(_ context.Context, content []byte, _ string, opts ...convert.Option) ([]byte, error) {
	c.started.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	var o convert.Options
	for _, opt := range opts {
		opt(&o)
	}
	if c.failFor != "" && o.BaseURL == c.failFor {
		return nil, convert.ErrConversionFailed
	}
	if c.emptyOK {
		return nil, nil
	}
	return content, nil
}

type stubBlobs struct{ puts atomic.Int64 }

func (b *stubBlobs) Put(content []byte) (string, error) {
	b.puts.Add(1)
	return fmt.Sprintf("hash-%x", len(content)), nil
}

type memIndex struct {
	mu          sync.Mutex
	docs        map[string]string
	runs        []index.RunRecord
	existsCalls atomic.Int64
}

func newMemIndex() *memIndex { return &memIndex{docs: make(map[string]string)} }

func (m *memIndex) ExistsDocument(_ context.Context, url string) (bool, error) {
	m.existsCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[url]
	return ok, nil
}

func (m *memIndex) InsertDocument(_ context.Context, doc *document.Document) (index.InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.docs[doc.URL]; ok {
		return index.InsertResult{Result: index.ResultExisting, ID: id}, nil
	}
	id := fmt.Sprintf("id-%d", len(m.docs)+1)
	m.docs[doc.URL] = id
	return index.InsertResult{Result: index.ResultCreated, ID: id}, nil
}

func (m *memIndex) LogRun(_ context.Context, rec index.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, rec)
	return nil
}

func (m *memIndex) Close() error { return nil }

func docBatch(start, n int) []*document.Document {
	batch := make([]*document.Document, n)
	for i := 0; i < n; i++ {
		d := document.New(fmt.Sprintf("https://src.test/doc/%d", start+i))
		d.PublishedDate = time.Now()
		batch[i] = d
	}
	return batch
}

type harness struct {
	plugin     *fakePlugin
	downloader *stubDownloader
	converter  *stubConverter
	blobs      *stubBlobs
	idx        *memIndex
}

func newHarness(batches ...[]*document.Document) *harness {
	return &harness{
		plugin:     &fakePlugin{source: &fakeSource{batches: batches}},
		downloader: &stubDownloader{},
		converter:  &stubConverter{},
		blobs:      &stubBlobs{},
		idx:        newMemIndex(),
	}
}

func (h *harness) orchestrator(cfg Config) *Orchestrator {
	cfg.Logger = discardLogger()
	return NewOrchestrator(h.plugin, h.downloader, h.converter, nil, h.blobs, h.idx, cfg)
}

func TestRunStoresEverything(t *testing.T) {
	h := newHarness(docBatch(1, 4), docBatch(5, 4))
	sum, err := h.orchestrator(Config{Workers: 4}).Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatal(err)
	}
	want := Summary{Discovered: 8, Stored: 8}
	if diff := cmp.Diff(want, sum); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if got := h.blobs.puts.Load(); got != 8 {
		t.Errorf("blob puts = %d, want 8", got)
	}
	if len(h.idx.runs) != 1 || h.idx.runs[0].Stored != 8 {
		t.Errorf("fetch log = %+v", h.idx.runs)
	}
}

func TestPerDocumentIsolation(t *testing.T) {
	h := newHarness(docBatch(1, 10))
	h.converter.failFor = "https://src.test/doc/5"

	sum, err := h.orchestrator(Config{Workers: 3}).Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 9 || sum.Failed != 1 {
		t.Errorf("got stored=%d failed=%d, want 9/1", sum.Stored, sum.Failed)
	}
}

func TestEmptyConversionSkips(t *testing.T) {
	h := newHarness(docBatch(1, 3))
	h.converter.emptyOK = true

	sum, err := h.orchestrator(Config{}).Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 3 || sum.Stored != 0 {
		t.Errorf("got %+v, want 3 skipped", sum)
	}
	if h.blobs.puts.Load() != 0 {
		t.Error("empty content must not reach the blob store")
	}
}

func TestDropsDocumentsWithoutURL(t *testing.T) {
	batch := docBatch(1, 2)
	batch = append(batch, &document.Document{Title: "no url"}, nil)
	h := newHarness(batch)

	sum, err := h.orchestrator(Config{}).Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Discovered != 2 || sum.Stored != 2 {
		t.Errorf("got %+v, want 2 discovered/stored", sum)
	}
}

func TestSkipsExistingWithoutReprocessing(t *testing.T) {
	h := newHarness(docBatch(1, 3))
	h.idx.docs["https://src.test/doc/2"] = "id-prev"
	// Documents are dated today, so the known one is skipped rather than
	// ending the walk.
	sum, err := h.orchestrator(Config{}).Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 2 || sum.Skipped != 1 {
		t.Errorf("got %+v, want 2 stored 1 skipped", sum)
	}
	if h.downloader.calls.Load() != 2 {
		t.Errorf("downloads = %d, want 2", h.downloader.calls.Load())
	}
}

func TestEarlyTerminationStopsPaging(t *testing.T) {
	old := docBatch(1, 2)
	old[1].PublishedDate = time.Now().AddDate(0, 0, -3)
	h := newHarness(old, docBatch(3, 5), docBatch(8, 5))
	h.idx.docs[old[1].URL] = "id-prev"

	sum, err := h.orchestrator(Config{}).Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.plugin.source.pagesServed(); got != 1 {
		t.Errorf("pages served = %d, want discovery to stop on page 1", got)
	}
	if sum.Stored != 1 {
		t.Errorf("stored = %d, want 1", sum.Stored)
	}
}

func TestInitialRunIgnoresEarlyTermination(t *testing.T) {
	old := docBatch(1, 2)
	old[1].PublishedDate = time.Now().AddDate(0, 0, -3)
	h := newHarness(old, docBatch(3, 2))
	h.idx.docs[old[1].URL] = "id-prev"

	sum, err := h.orchestrator(Config{}).Run(context.Background(), RunParams{Initial: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.plugin.source.pagesServed(); got != 2 {
		t.Errorf("pages served = %d, want full walk", got)
	}
	if sum.Skipped != 1 || sum.Stored != 3 {
		t.Errorf("got %+v", sum)
	}
}

func TestLimitCapsEnqueues(t *testing.T) {
	h := newHarness(docBatch(1, 10), docBatch(11, 10))
	sum, err := h.orchestrator(Config{}).Run(context.Background(), RunParams{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 3 {
		t.Errorf("stored = %d, want 3", sum.Stored)
	}
}

func TestEnrichmentFailureDoesNotDropDocument(t *testing.T) {
	h := newHarness(docBatch(1, 2))
	h.plugin.processErr = errors.New("detail page gone")

	sum, err := h.orchestrator(Config{}).Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 2 {
		t.Errorf("stored = %d, want 2 despite enrichment failure", sum.Stored)
	}
}

func TestBackpressureBoundsDiscovery(t *testing.T) {
	h := newHarness(docBatch(1, 50))
	h.converter.gate = make(chan struct{})

	cfg := Config{QueueSize: 2, Workers: 2}
	done := make(chan Summary, 1)
	go func() {
		sum, _ := h.orchestrator(cfg).Run(context.Background(), RunParams{})
		done <- sum
	}()

	// Workers are parked in the converter, so discovery can get at most
	// queue capacity plus in-flight documents plus one blocked send ahead.
	maxAhead := int64(cfg.QueueSize + cfg.Workers + 1)
	deadline := time.After(2 * time.Second)
	for h.converter.started.Load() < int64(cfg.Workers) {
		select {
		case <-deadline:
			t.Fatal("workers never reached the converter")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	time.Sleep(50 * time.Millisecond) // give discovery time to overrun, if it would
	if got := h.idx.existsCalls.Load(); got > maxAhead {
		t.Errorf("discovery examined %d documents with stalled workers, want <= %d", got, maxAhead)
	}

	close(h.converter.gate)
	sum := <-done
	if sum.Stored != 50 {
		t.Errorf("stored = %d after release, want 50", sum.Stored)
	}
}

func TestCancellationStopsNewDequeues(t *testing.T) {
	h := newHarness(docBatch(1, 20))
	h.converter.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() {
		sum, _ := h.orchestrator(Config{QueueSize: 10, Workers: 1}).Run(ctx, RunParams{})
		done <- sum
	}()

	// One document is in flight at the converter and the queue holds more.
	deadline := time.After(2 * time.Second)
	for h.converter.started.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("worker never reached the converter")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	close(h.converter.gate)

	select {
	case sum := <-done:
		if got := h.converter.started.Load(); got != 1 {
			t.Errorf("worker picked up %d documents, want only the in-flight one", got)
		}
		if sum.Stored != 1 {
			t.Errorf("stored = %d, want the in-flight document to finish", sum.Stored)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestCancellationStopsRun(t *testing.T) {
	h := newHarness(docBatch(1, 50))
	h.converter.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.orchestrator(Config{QueueSize: 2, Workers: 2}).Run(ctx, RunParams{})
		done <- err
	}()

	for h.converter.started.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	close(h.converter.gate)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
