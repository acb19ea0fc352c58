package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// failingTransport always fails at the connection level and counts attempts.
type failingTransport struct {
	attempts atomic.Int64
}

func (t *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	t.attempts.Add(1)
	return nil, errors.New("connection reset")
}

func TestFetchRetryBound(t *testing.T) {
	rt := &failingTransport{}
	f := New(Config{
		Transport:   rt,
		BackoffUnit: time.Millisecond,
	})

	resp, err := f.Fetch(context.Background(), "http://example.invalid/", WithMaxRetries(3))
	if resp != nil {
		t.Fatalf("expected nil response, got %+v", resp)
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if got := rt.attempts.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestFetchHTTPErrorNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := New(Config{BackoffUnit: time.Millisecond})
	resp, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("StatusCode = %d, want 410", resp.StatusCode)
	}
	if resp.OK() {
		t.Error("OK() = true for 410")
	}
	if hits.Load() != 1 {
		t.Fatalf("HTTP error status was retried: %d hits", hits.Load())
	}
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "regsift/1.0" {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.OK() {
		t.Fatalf("StatusCode = %d", resp.StatusCode)
	}
	if resp.ContentType != "text/html; charset=utf-8" {
		t.Errorf("ContentType = %q", resp.ContentType)
	}
	if len(resp.Body) == 0 {
		t.Error("empty body")
	}
}

func TestFetchRobotsDenied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Config{RespectRobots: true})

	if _, err := f.Fetch(context.Background(), srv.URL+"/public/doc"); err != nil {
		t.Fatalf("allowed path failed: %v", err)
	}
	_, err := f.Fetch(context.Background(), srv.URL+"/private/doc")
	if !errors.Is(err, ErrRobotsDenied) {
		t.Fatalf("expected ErrRobotsDenied, got %v", err)
	}
}

func TestFetchContextCancel(t *testing.T) {
	rt := &failingTransport{}
	f := New(Config{Transport: rt, BackoffUnit: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := f.Fetch(ctx, "http://example.invalid/", WithMaxRetries(5))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancel did not interrupt backoff")
	}
}
