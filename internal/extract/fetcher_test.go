package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/burrowler/crawl/internal/crawlerr"
)

func TestFetchPageSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "burrowler-test/1.0" {
			t.Errorf("expected configured User-Agent, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body><p>hello</p></body></html>"))
	}))
	defer ts.Close()

	f, err := New(Config{UserAgent: "burrowler-test/1.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fetched, err := f.FetchPage(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if fetched.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", fetched.StatusCode)
	}
	if fetched.Body == "" {
		t.Error("expected non-empty decoded body")
	}
}

func TestFetchPageHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f, _ := New(Config{})
	_, err := f.FetchPage(context.Background(), ts.URL)

	var httpErr *crawlerr.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *crawlerr.HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", httpErr.Status)
	}
}

func TestFetchPageLatin1Decodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		w.Write([]byte{0xE9}) // 'é' in latin-1
	}))
	defer ts.Close()

	f, _ := New(Config{})
	fetched, err := f.FetchPage(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if fetched.Body == "" {
		t.Error("expected decoded body")
	}
}
