package sitemap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/burrowler/crawl/internal/store"
)

func newPipeline(t *testing.T, ts *httptest.Server) *Pipeline {
	t.Helper()
	return New(Config{
		Fetcher: &HTTPFetcher{Client: ts.Client()},
	})
}

func TestIngestFlatURLSet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
   <url><loc>http://example.com/</loc></url>
   <url><loc>http://example.com/page1</loc></url>
</urlset>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	p := newPipeline(t, ts)
	urls, err := p.Ingest(context.Background(), "http://example.com", ts.URL+"/sitemap.xml")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %d: %v", len(urls), urls)
	}
}

func TestIngestSitemapIndex(t *testing.T) {
	mux := http.NewServeMux()
	var baseURL string
	mux.HandleFunc("/sitemap_index.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
   <sitemap><loc>` + baseURL + `/s1.xml</loc></sitemap>
   <sitemap><loc>` + baseURL + `/s2.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/s1.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>http://example.com/s1-1</loc></url></urlset>`))
	})
	mux.HandleFunc("/s2.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>http://example.com/s2-1</loc></url></urlset>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	baseURL = ts.URL

	p := newPipeline(t, ts)
	urls, err := p.Ingest(context.Background(), "http://example.com", ts.URL+"/sitemap_index.xml")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls from nested sitemaps, got %d", len(urls))
	}
}

func TestIngestUnreachableYieldsEmptyNotError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	p := newPipeline(t, ts)
	urls, err := p.Ingest(context.Background(), "http://example.com", ts.URL+"/sitemap.xml")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(urls) != 0 {
		t.Errorf("expected empty result, got %v", urls)
	}
}

func TestIngestTextSitemap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("http://example.com/a\nhttp://example.com/b\r\n"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	p := newPipeline(t, ts)
	urls, err := p.Ingest(context.Background(), "http://example.com", ts.URL+"/sitemap.txt")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %d: %v", len(urls), urls)
	}
}

func TestIngestRevisitGating(t *testing.T) {
	mux := http.NewServeMux()
	hits := 0
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>http://example.com/a</loc></url></urlset>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	st := &fakeGateway{visited: map[string]time.Time{}}
	p := New(Config{
		Fetcher:           &HTTPFetcher{Client: ts.Client()},
		Store:             st,
		CrawlDelaySitemap: 24 * time.Hour,
	})

	ctx := context.Background()
	if _, err := p.Ingest(ctx, "http://example.com", ts.URL+"/sitemap.xml"); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if _, err := p.Ingest(ctx, "http://example.com", ts.URL+"/sitemap.xml"); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if hits != 1 {
		t.Errorf("expected revisit gating to skip the second fetch, got %d hits", hits)
	}
}

type fakeGateway struct {
	visited map[string]time.Time
}

func (f *fakeGateway) UpsertSite(ctx context.Context, base string, depth int) (int64, error) {
	return 1, nil
}
func (f *fakeGateway) ListSites(ctx context.Context) ([]store.Site, error) { return nil, nil }
func (f *fakeGateway) ListRecentPages(ctx context.Context, withinDays int) ([]store.RecentPage, error) {
	return nil, nil
}
func (f *fakeGateway) StorePage(ctx context.Context, snap store.PageSnapshot) error { return nil }
func (f *fakeGateway) RecordSitemapVisit(ctx context.Context, siteBase, sitemapURL string, ts time.Time) error {
	f.visited[siteBase+"|"+sitemapURL] = ts
	return nil
}
func (f *fakeGateway) SitemapLastVisited(ctx context.Context, siteBase, sitemapURL string) (time.Time, bool, error) {
	t, ok := f.visited[siteBase+"|"+sitemapURL]
	return t, ok, nil
}
func (f *fakeGateway) Close() error { return nil }
