// Package postgres implements the Storage Gateway on top of jackc/pgx,
// grounded on FranksOps-burr/internal/storage/postgres.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/burrowler/crawl/internal/crawlerr"
	"github.com/burrowler/crawl/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ store.Gateway = (*Backend)(nil)

// Backend is a pgxpool-backed Storage Gateway. The pool itself already
// permits concurrent connections; writeMu enforces the single-writer
// contract from spec.md 4.4 on top of that (pgxpool would otherwise happily
// interleave two StorePage transactions).
type Backend struct {
	pool    *pgxpool.Pool
	writeMu chan struct{}
}

const schema = `
CREATE TABLE IF NOT EXISTS websites (
	id       BIGSERIAL PRIMARY KEY,
	base     TEXT NOT NULL UNIQUE,
	depth    INTEGER NOT NULL,
	created  TIMESTAMPTZ NOT NULL,
	modified TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS webpages (
	id              BIGSERIAL PRIMARY KEY,
	url             TEXT NOT NULL,
	site_id         BIGINT NOT NULL REFERENCES websites(id),
	crawl_created   TIMESTAMPTZ NOT NULL,
	crawl_modified  TIMESTAMPTZ NOT NULL,
	raw_content     TEXT,
	title           TEXT,
	description     TEXT,
	author          TEXT,
	keywords        TEXT,
	robots          TEXT,
	revisit_after   TEXT,
	published_time  TEXT,
	modified_time   TEXT,
	expiration_time TEXT,
	section         TEXT,
	article_tag     TEXT
);
CREATE INDEX IF NOT EXISTS idx_webpages_url ON webpages(url);
CREATE INDEX IF NOT EXISTS idx_webpages_crawl_modified ON webpages(crawl_modified);

CREATE TABLE IF NOT EXISTS headings (
	id      BIGSERIAL PRIMARY KEY,
	page_id BIGINT NOT NULL REFERENCES webpages(id),
	level   INTEGER NOT NULL,
	text    TEXT NOT NULL,
	seq     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS paragraphs (
	id         BIGSERIAL PRIMARY KEY,
	page_id    BIGINT NOT NULL REFERENCES webpages(id),
	heading_id BIGINT REFERENCES headings(id),
	text       TEXT NOT NULL,
	seq        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sitemaps_history (
	id          BIGSERIAL PRIMARY KEY,
	site_id     BIGINT NOT NULL REFERENCES websites(id),
	sitemap_url TEXT NOT NULL,
	modified    TIMESTAMPTZ NOT NULL,
	UNIQUE(site_id, sitemap_url)
);
`

// New connects to dsn and ensures the crawler schema exists.
func New(ctx context.Context, dsn string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "open", Err: err})
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "ping", Err: err})
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "migrate", Err: err})
	}

	b := &Backend{pool: pool, writeMu: make(chan struct{}, 1)}
	b.writeMu <- struct{}{}
	return b, nil
}

func (b *Backend) lockWrite() func() {
	<-b.writeMu
	return func() { b.writeMu <- struct{}{} }
}

func (b *Backend) UpsertSite(ctx context.Context, base string, depth int) (int64, error) {
	defer b.lockWrite()()

	now := time.Now().UTC()
	var id int64
	err := b.pool.QueryRow(ctx, `
		INSERT INTO websites (base, depth, created, modified) VALUES ($1, $2, $3, $4)
		ON CONFLICT (base) DO UPDATE SET
			depth = LEAST(websites.depth, excluded.depth),
			modified = excluded.modified
		RETURNING id
	`, base, depth, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "upsert_site", Err: err})
	}
	return id, nil
}

func (b *Backend) ListSites(ctx context.Context) ([]store.Site, error) {
	rows, err := b.pool.Query(ctx, `SELECT base, depth, created, modified FROM websites`)
	if err != nil {
		return nil, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "list_sites", Err: err})
	}
	defer rows.Close()

	var out []store.Site
	for rows.Next() {
		var s store.Site
		if err := rows.Scan(&s.Base, &s.Depth, &s.Created, &s.Modified); err != nil {
			return nil, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "list_sites", Err: err})
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *Backend) ListRecentPages(ctx context.Context, withinDays int) ([]store.RecentPage, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -withinDays)
	rows, err := b.pool.Query(ctx, `
		SELECT w.url, s.base, w.crawl_modified
		FROM webpages w JOIN websites s ON s.id = w.site_id
		WHERE w.crawl_modified >= $1
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "list_recent_pages", Err: err})
	}
	defer rows.Close()

	var out []store.RecentPage
	for rows.Next() {
		var p store.RecentPage
		if err := rows.Scan(&p.URL, &p.SiteBase, &p.CrawlModified); err != nil {
			return nil, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "list_recent_pages", Err: err})
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (b *Backend) StorePage(ctx context.Context, snap store.PageSnapshot) error {
	defer b.lockWrite()()

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
	}
	defer tx.Rollback(ctx)

	var siteID int64
	if err := tx.QueryRow(ctx, `SELECT id FROM websites WHERE base = $1`, snap.SiteBase).Scan(&siteID); err != nil {
		return fmt.Errorf("context: site %s not found: %w", snap.SiteBase, &crawlerr.StorageError{Op: "store_page", Err: err})
	}

	h := snap.Head
	var pageID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO webpages (
			url, site_id, crawl_created, crawl_modified, raw_content,
			title, description, author, keywords, robots, revisit_after,
			published_time, modified_time, expiration_time, section, article_tag
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`, snap.URL, siteID, snap.CrawlTime, snap.CrawlTime, snap.RawContent,
		h.Title, h.Description, h.Author, h.Keywords, h.Robots, h.RevisitAfter,
		h.PublishedTime, h.ModifiedTime, h.ExpirationTime, h.Section, h.ArticleTag).Scan(&pageID)
	if err != nil {
		return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
	}

	headingIDs := make(map[int]int64, len(snap.Headings))
	for _, hd := range snap.Headings {
		var id int64
		if err := tx.QueryRow(ctx, `INSERT INTO headings (page_id, level, text, seq) VALUES ($1, $2, $3, $4) RETURNING id`,
			pageID, hd.Level, hd.Text, hd.Order).Scan(&id); err != nil {
			return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
		}
		headingIDs[hd.Order] = id
	}

	for _, p := range snap.Paragraphs {
		var headingID *int64
		if id, ok := headingIDs[p.HeadingOrder]; ok {
			headingID = &id
		}
		if _, err := tx.Exec(ctx, `INSERT INTO paragraphs (page_id, heading_id, text, seq) VALUES ($1, $2, $3, $4)`,
			pageID, headingID, p.Text, p.Order); err != nil {
			return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
	}
	return nil
}

func (b *Backend) RecordSitemapVisit(ctx context.Context, siteBase, sitemapURL string, ts time.Time) error {
	defer b.lockWrite()()

	var siteID int64
	if err := b.pool.QueryRow(ctx, `SELECT id FROM websites WHERE base = $1`, siteBase).Scan(&siteID); err != nil {
		return fmt.Errorf("context: site %s not found: %w", siteBase, &crawlerr.StorageError{Op: "record_sitemap_visit", Err: err})
	}

	_, err := b.pool.Exec(ctx, `
		INSERT INTO sitemaps_history (site_id, sitemap_url, modified) VALUES ($1, $2, $3)
		ON CONFLICT (site_id, sitemap_url) DO UPDATE SET modified = excluded.modified
	`, siteID, sitemapURL, ts)
	if err != nil {
		return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "record_sitemap_visit", Err: err})
	}
	return nil
}

func (b *Backend) SitemapLastVisited(ctx context.Context, siteBase, sitemapURL string) (time.Time, bool, error) {
	var t time.Time
	err := b.pool.QueryRow(ctx, `
		SELECT h.modified FROM sitemaps_history h
		JOIN websites w ON w.id = h.site_id
		WHERE w.base = $1 AND h.sitemap_url = $2
	`, siteBase, sitemapURL).Scan(&t)
	if err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "sitemap_last_visited", Err: err})
	}
	return t, true, nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
