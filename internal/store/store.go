// Package store defines the Storage Gateway: the narrow interface through
// which the rest of the crawler reads and writes site, page, paragraph,
// heading, and sitemap-visit records. Grounded on
// FranksOps-burr/internal/storage's Backend interface, generalised from a
// single flat result type to the crawler's relational shape
// (websites/webpages/paragraphs/headings/sitemaps_history).
package store

import (
	"context"
	"time"
)

// Head carries the page-level metadata the extractor pulls from <head>.
type Head struct {
	Title           string
	Description     string
	Author          string
	Keywords        string
	Robots          string
	RevisitAfter    string
	PublishedTime   string
	ModifiedTime    string
	ExpirationTime  string
	Section         string
	ArticleTag      string
}

// Heading is one h1..h6 heading of the page, in document order.
type Heading struct {
	Level int // 1..6
	Text  string
	Order int // position among headings on the page, for stable ordering
}

// Paragraph is a single p/li text block, optionally attached to the heading
// that was active when it was encountered.
type Paragraph struct {
	Text         string
	Order        int // position among paragraphs on the page
	HeadingOrder int // Order of the owning Heading, or -1 if none
}

// PageSnapshot is everything the extractor produces for one fetch of a page,
// ready to hand to the Storage Gateway.
type PageSnapshot struct {
	URL         string
	SiteBase    string
	CrawlTime   time.Time
	RawContent  string
	Head        Head
	Paragraphs  []Paragraph
	Headings    []Heading
}

// Site mirrors the websites table row.
type Site struct {
	Base     string
	Depth    int
	Created  time.Time
	Modified time.Time
}

// RecentPage is a single row from ListRecentPages, used at startup to seed
// the membership filter and suppress refetch of still-fresh pages.
type RecentPage struct {
	URL           string
	SiteBase      string
	CrawlModified time.Time
}

// Gateway is the narrow storage interface specified for the crawler. All
// mutations are totally ordered behind a single write lock; reads may
// overlap each other and overlap with in-flight writes.
type Gateway interface {
	// UpsertSite creates the site row if absent, else updates its depth if
	// shallower than previously recorded, and returns its id.
	UpsertSite(ctx context.Context, base string, depth int) (int64, error)

	// ListSites returns every known site and its recorded depth.
	ListSites(ctx context.Context) ([]Site, error)

	// ListRecentPages returns pages whose crawl_modified falls within the
	// last withinDays, used to suppress refetch and re-seed the membership
	// filter at startup.
	ListRecentPages(ctx context.Context, withinDays int) ([]RecentPage, error)

	// StorePage appends a new page snapshot: the page row is appended
	// (existing rows for the same URL are not touched), while that page's
	// paragraphs and headings are replaced wholesale.
	StorePage(ctx context.Context, snap PageSnapshot) error

	// RecordSitemapVisit records that siteBase's sitemapURL was fully
	// ingested at ts.
	RecordSitemapVisit(ctx context.Context, siteBase, sitemapURL string, ts time.Time) error

	// SitemapLastVisited returns the last recorded visit time for a sitemap
	// URL, or the zero time with ok=false if never recorded.
	SitemapLastVisited(ctx context.Context, siteBase, sitemapURL string) (t time.Time, ok bool, err error)

	Close() error
}

// schemaDoc summarises the tables that the sqlite and postgres backends each
// create from their own schema constant (with dialect-specific type names),
// implementing spec.md 3's data model.
const schemaDoc = `
websites(id, base UNIQUE, depth, created, modified)
webpages(id, url, site_id, crawl_created, crawl_modified, raw_content,
         title, description, author, keywords, robots, revisit_after,
         published_time, modified_time, expiration_time, section, article_tag)
headings(id, page_id, level, text, seq)
paragraphs(id, page_id, heading_id NULLABLE, text, seq)
sitemaps_history(id, site_id, sitemap_url, modified, UNIQUE(site_id, sitemap_url))
`
