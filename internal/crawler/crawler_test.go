package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/burrowler/crawl/internal/extract"
	"github.com/burrowler/crawl/internal/frontier"
	"github.com/burrowler/crawl/internal/membership"
	"github.com/burrowler/crawl/internal/sitemap"
	"github.com/burrowler/crawl/internal/spillqueue"
)

func newTestCrawler(t *testing.T, ts *httptest.Server) (*Crawler, *frontier.Frontier) {
	t.Helper()

	fe, err := extract.New(extract.Config{UserAgent: "burrowler-test/1.0"})
	if err != nil {
		t.Fatalf("extract.New: %v", err)
	}

	sm := sitemap.New(sitemap.Config{
		Fetcher: &sitemap.HTTPFetcher{Client: ts.Client(), UserAgent: "burrowler-test/1.0"},
	})

	fr := frontier.New(frontier.Config{
		Membership: membership.New(membership.Config{InitialCapacity: 1000, TargetFP: 0.01}),
		MaxDepth:   3,
		SpillDir:   t.TempDir(),
		QueueMode:  spillqueue.ModeText,
	})

	c := New(Config{
		Frontier:              fr,
		Fetcher:               fe,
		Sitemaps:              sm,
		UserAgent:             "burrowler-test/1.0",
		CrawlDelay:            0,
		MaxThreads:            2,
		MaxConcurrentSitemaps: 2,
	})
	return c, fr
}

// TestSitemapPhaseFetchesRobotsAndIngestsSitemap exercises Phase A: the
// sitemap worker fetches robots.txt, follows its Sitemap: directive, and
// enqueues the discovered URL onto the host's page queue.
func TestSitemapPhaseFetchesRobotsAndIngestsSitemap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nAllow: /\nSitemap: /sitemap.xml\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><p>home</p></body></html>`))
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><p>second</p></body></html>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	// The sitemap body needs the real base URL, only known once the server
	// has started, so this handler is registered after httptest.NewServer.
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>` + ts.URL + `/page2</loc></url>
</urlset>`))
	})

	c, fr := newTestCrawler(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := fr.Seed(ctx, []string{ts.URL}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	pub := <-fr.BaseQueue()
	c.runSitemapWorker(ctx, pub)

	hs := fr.Hosts()[0]
	got, err := hs.Queue.Get()
	if err != nil {
		t.Fatalf("expected sitemap-discovered URL on queue, Get: %v", err)
	}
	if got != ts.URL+"/page2" {
		t.Errorf("Get() = %q, want %s/page2", got, ts.URL)
	}
}

// TestPagePhaseHonoursRobotsDisallow exercises Phase B: a page worker must
// not fetch a URL its robots.txt disallows.
func TestPagePhaseHonoursRobotsDisallow(t *testing.T) {
	var fetchedBlocked bool
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /blocked\n"))
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		fetchedBlocked = true
		w.Write([]byte("should not be fetched"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, fr := newTestCrawler(t, ts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fr.Seed(ctx, []string{ts.URL})
	pub := <-fr.BaseQueue()
	c.runSitemapWorker(ctx, pub) // populates hostRobots for the base

	fr.Append(ctx, ts.URL+"/blocked", 0)

	hs := fr.Hosts()[0]
	robotsDoc := c.getHostRobots(pub.Base)
	u, err := hs.Queue.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.processPage(ctx, pub.Base, u, pub.Depth, robotsDoc)

	if fetchedBlocked {
		t.Error("expected robots Disallow to prevent the fetch")
	}
}
