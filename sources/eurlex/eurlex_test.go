package eurlex

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/regsift/regsift/crawl"
	"github.com/regsift/regsift/fetch"
	"github.com/regsift/regsift/paginate"
)

const resultPage = `<!DOCTYPE html>
<html><body>
<div class="SearchResult">
  <h2><a class="title" href="./legal-content/AUTO/?uri=CELEX:32026R0101&qid=123456">
    Commission Regulation (EU) 2026/101
  </a></h2>
  <ul class="SearchResultDoc">
    <li><a href="./legal-content/AUTO/PDF/?uri=CELEX:32026R0101&rid=7">PDF</a></li>
  </ul>
  <dl><dt>Date of document:</dt><dd>03/02/2026</dd></dl>
</div>
<div class="SearchResult">
  <h2><a class="title" href="./legal-content/AUTO/?uri=CELEX:32026L0044">
    Directive (EU) 2026/44
  </a></h2>
  <dl><dt>Datum des Dokuments:</dt><dd>vom 01/02/2026</dd></dl>
</div>
<div class="SearchResult">
  <h2>No link here at all</h2>
</div>
</body></html>`

const detailPage = `<!DOCTYPE html>
<html><body>
<dl class="NMetadata">
  <dt>Form:</dt>
  <dd>Regulation</dd>
  <dt>Author:</dt>
  <dd><span lang="en">European Commission</span></dd>
  <dt>Subject matter:</dt>
  <dd><a href="/s1">internal market</a><a href="/s2">financial services</a></dd>
</dl>
</body></html>`

func newTestPlugin(t *testing.T, fetcher *fetch.Fetcher) *Plugin {
	t.Helper()
	plugin, err := New(crawl.Deps{
		Fetcher: fetcher,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return plugin.(*Plugin)
}

func TestFindEntries(t *testing.T) {
	p := newTestPlugin(t, nil)
	docs := p.FindEntries(context.Background(), &paginate.Page{Body: []byte(resultPage)})

	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2 (linkless entry dropped)", len(docs))
	}

	first := docs[0]
	wantURL := "https://eur-lex.europa.eu/legal-content/DE/ALL/PDF/?uri=CELEX:32026R0101"
	if first.URL != wantURL {
		t.Errorf("url = %q, want %q", first.URL, wantURL)
	}
	if first.Title != "Commission Regulation (EU) 2026/101" {
		t.Errorf("title = %q", first.Title)
	}
	want := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	if !first.PublishedDate.Equal(want) {
		t.Errorf("date = %v, want %v", first.PublishedDate, want)
	}
	wantDetail := "https://eur-lex.europa.eu/legal-content/DE/ALL/?uri=CELEX:32026R0101"
	if first.DetailURL != wantDetail {
		t.Errorf("detail url = %q, want %q", first.DetailURL, wantDetail)
	}

	// Second entry has no document list: detail link doubles as the URL.
	if docs[1].URL != docs[1].DetailURL {
		t.Errorf("fallback url = %q, detail = %q", docs[1].URL, docs[1].DetailURL)
	}
}

func TestFindEntriesUnparseablePage(t *testing.T) {
	p := newTestPlugin(t, nil)
	docs := p.FindEntries(context.Background(), &paginate.Page{Body: []byte("%$ not html, honest")})
	// html.Parse accepts almost anything; the point is no panic and no
	// phantom entries.
	if len(docs) != 0 {
		t.Errorf("got %d documents from garbage", len(docs))
	}
}

func TestProcessDocumentMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailPage))
	}))
	defer srv.Close()

	p := newTestPlugin(t, fetch.New(fetch.Config{}))
	doc := p.FindEntries(context.Background(), &paginate.Page{Body: []byte(resultPage)})[0]
	doc.DetailURL = srv.URL + "/detail"

	if err := p.ProcessDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	if got := doc.Metadata.GetString("Form"); got != "Regulation" {
		t.Errorf("Form = %q", got)
	}
	if got := doc.Metadata.GetString("Author"); got != "European Commission" {
		t.Errorf("Author = %q", got)
	}
	subjects := doc.Metadata.Get("Subject matter")
	list, ok := subjects.([]string)
	if !ok || len(list) != 2 {
		t.Errorf("Subject matter = %#v, want two values", subjects)
	}
}

func TestProcessDocumentWithoutDetailURL(t *testing.T) {
	p := newTestPlugin(t, nil)
	doc := p.FindEntries(context.Background(), &paginate.Page{Body: []byte(resultPage)})[0]
	doc.DetailURL = ""
	if err := p.ProcessDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
}
