package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/burrowler/crawl/internal/store"
)

func TestSQLiteBackend(t *testing.T) {
	dsn := "file::memory:?cache=shared"
	b, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	siteID, err := b.UpsertSite(ctx, "http://example.com", 0)
	if err != nil {
		t.Fatalf("UpsertSite: %v", err)
	}
	if siteID == 0 {
		t.Fatalf("expected non-zero site id")
	}

	// Re-upsert at a greater depth should not override the recorded depth.
	if _, err := b.UpsertSite(ctx, "http://example.com", 3); err != nil {
		t.Fatalf("UpsertSite (second): %v", err)
	}

	sites, err := b.ListSites(ctx)
	if err != nil {
		t.Fatalf("ListSites: %v", err)
	}
	if len(sites) != 1 {
		t.Fatalf("expected 1 site, got %d", len(sites))
	}
	if sites[0].Depth != 0 {
		t.Errorf("expected depth to stay at 0, got %d", sites[0].Depth)
	}

	snap := store.PageSnapshot{
		URL:        "http://example.com/a",
		SiteBase:   "http://example.com",
		CrawlTime:  now,
		RawContent: "<html>hello</html>",
		Head: store.Head{
			Title:       "A Page",
			Description: "a test page",
		},
		Headings: []store.Heading{
			{Level: 1, Text: "Welcome", Order: 0},
		},
		Paragraphs: []store.Paragraph{
			{Text: "hello world", Order: 0, HeadingOrder: 0},
			{Text: "no heading", Order: 1, HeadingOrder: -1},
		},
	}

	if err := b.StorePage(ctx, snap); err != nil {
		t.Fatalf("StorePage: %v", err)
	}

	recent, err := b.ListRecentPages(ctx, 7)
	if err != nil {
		t.Fatalf("ListRecentPages: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent page, got %d", len(recent))
	}
	if recent[0].URL != snap.URL {
		t.Errorf("expected URL %s, got %s", snap.URL, recent[0].URL)
	}

	if err := b.RecordSitemapVisit(ctx, "http://example.com", "http://example.com/sitemap.xml", now); err != nil {
		t.Fatalf("RecordSitemapVisit: %v", err)
	}

	visited, ok, err := b.SitemapLastVisited(ctx, "http://example.com", "http://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("SitemapLastVisited: %v", err)
	}
	if !ok {
		t.Fatalf("expected sitemap visit to be recorded")
	}
	if visited.Unix() != now.Unix() {
		t.Errorf("expected visit time %v, got %v", now, visited)
	}

	_, ok, err = b.SitemapLastVisited(ctx, "http://example.com", "http://example.com/other-sitemap.xml")
	if err != nil {
		t.Fatalf("SitemapLastVisited (unknown): %v", err)
	}
	if ok {
		t.Errorf("expected unknown sitemap to report not-visited")
	}
}
