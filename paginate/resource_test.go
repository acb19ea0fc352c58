package paginate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/regsift/regsift/fetch"
)

func newTestFetcher() *fetch.Fetcher {
	return fetch.New(fetch.Config{MaxRetries: 1, BackoffUnit: time.Millisecond})
}

func TestMaxPageYieldsExactly(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, "<html><body>page %s</body></html>", r.URL.Query().Get("page"))
	}))
	defer srv.Close()

	res := New(srv.URL+"/search?page={page}", newTestFetcher(), Config{MaxPage: 3})

	var pages []*Page
	for page := res.Next(context.Background()); page != nil; page = res.Next(context.Background()) {
		pages = append(pages, page)
	}
	if len(pages) != 3 {
		t.Fatalf("expected exactly 3 pages, got %d", len(pages))
	}
	if hits.Load() != 3 {
		t.Fatalf("expected exactly 3 fetches, got %d", hits.Load())
	}
}

func TestTerminatesOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "3" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	res := New(srv.URL+"/list?page={page}", newTestFetcher(), Config{})

	count := 0
	for page := res.Next(context.Background()); page != nil; page = res.Next(context.Background()) {
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 pages before the 404, got %d", count)
	}
	// Exhausted resources stay exhausted.
	if page := res.Next(context.Background()); page != nil {
		t.Error("Next after termination returned a page")
	}
}

func TestLazyOnePagePerCall(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	res := New(srv.URL+"/p/{page}", newTestFetcher(), Config{MaxPage: 10})
	res.Next(context.Background())
	if hits.Load() != 1 {
		t.Fatalf("expected 1 fetch after one Next, got %d", hits.Load())
	}
}

func TestFreshInstanceRestartsAtMinPage(t *testing.T) {
	var first atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first.CompareAndSwap(nil, r.URL.Path)
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	res := New(srv.URL+"/p/{page}", newTestFetcher(), Config{MinPage: 4, MaxPage: 5})
	res.Next(context.Background())
	if got := first.Load(); got != "/p/4" {
		t.Fatalf("first fetched path = %v, want /p/4", got)
	}
}

func TestPageHTMLParsesLazily(t *testing.T) {
	p := &Page{URL: "x", Body: []byte("<html><body><p id='a'>hi</p></body></html>")}
	doc, err := p.HTML()
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil {
		t.Fatal("nil document")
	}
	// Second call returns the same parse.
	doc2, _ := p.HTML()
	if doc != doc2 {
		t.Error("HTML() re-parsed the body")
	}
}
