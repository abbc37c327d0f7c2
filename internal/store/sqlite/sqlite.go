// Package sqlite implements the Storage Gateway on top of modernc.org/sqlite,
// grounded on FranksOps-burr/internal/storage/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/burrowler/crawl/internal/crawlerr"
	"github.com/burrowler/crawl/internal/store"
	_ "modernc.org/sqlite"
)

var _ store.Gateway = (*Backend)(nil)

// Backend is a sql.DB-backed Storage Gateway. Writes are serialised through
// writeMu, matching spec.md 4.4's single-write-lock contract even though
// sqlite itself would otherwise serialise at the driver level; the explicit
// lock makes StorePage's multi-statement transaction atomic with respect to
// other writers without relying on driver-level blocking behaviour.
type Backend struct {
	db      *sql.DB
	writeMu chan struct{} // 1-buffered channel used as a non-reentrant mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS websites (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	base     TEXT NOT NULL UNIQUE,
	depth    INTEGER NOT NULL,
	created  DATETIME NOT NULL,
	modified DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS webpages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	url             TEXT NOT NULL,
	site_id         INTEGER NOT NULL REFERENCES websites(id),
	crawl_created   DATETIME NOT NULL,
	crawl_modified  DATETIME NOT NULL,
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
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	page_id INTEGER NOT NULL REFERENCES webpages(id),
	level   INTEGER NOT NULL,
	text    TEXT NOT NULL,
	seq     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS paragraphs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	page_id    INTEGER NOT NULL REFERENCES webpages(id),
	heading_id INTEGER REFERENCES headings(id),
	text       TEXT NOT NULL,
	seq        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sitemaps_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id     INTEGER NOT NULL REFERENCES websites(id),
	sitemap_url TEXT NOT NULL,
	modified    DATETIME NOT NULL,
	UNIQUE(site_id, sitemap_url)
);
`

// New opens (creating if absent) a sqlite database at dsn and ensures the
// crawler schema exists.
func New(dsn string) (*Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("context: opening sqlite database: %w", &crawlerr.StorageError{Op: "open", Err: err})
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite does not support concurrent writers

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("context: applying schema: %w", &crawlerr.StorageError{Op: "migrate", Err: err})
	}

	b := &Backend{db: db, writeMu: make(chan struct{}, 1)}
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
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO websites (base, depth, created, modified) VALUES (?, ?, ?, ?)
		ON CONFLICT(base) DO UPDATE SET
			depth = MIN(websites.depth, excluded.depth),
			modified = excluded.modified
	`, base, depth, now, now)
	if err != nil {
		return 0, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "upsert_site", Err: err})
	}

	var id int64
	row := b.db.QueryRowContext(ctx, `SELECT id FROM websites WHERE base = ?`, base)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "upsert_site", Err: err})
	}
	_ = res
	return id, nil
}

func (b *Backend) ListSites(ctx context.Context) ([]store.Site, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT base, depth, created, modified FROM websites`)
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
	rows, err := b.db.QueryContext(ctx, `
		SELECT w.url, s.base, w.crawl_modified
		FROM webpages w JOIN websites s ON s.id = w.site_id
		WHERE w.crawl_modified >= ?
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

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
	}
	defer tx.Rollback()

	var siteID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM websites WHERE base = ?`, snap.SiteBase).Scan(&siteID); err != nil {
		return fmt.Errorf("context: site %s not found: %w", snap.SiteBase, &crawlerr.StorageError{Op: "store_page", Err: err})
	}

	h := snap.Head
	res, err := tx.ExecContext(ctx, `
		INSERT INTO webpages (
			url, site_id, crawl_created, crawl_modified, raw_content,
			title, description, author, keywords, robots, revisit_after,
			published_time, modified_time, expiration_time, section, article_tag
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.URL, siteID, snap.CrawlTime, snap.CrawlTime, snap.RawContent,
		h.Title, h.Description, h.Author, h.Keywords, h.Robots, h.RevisitAfter,
		h.PublishedTime, h.ModifiedTime, h.ExpirationTime, h.Section, h.ArticleTag)
	if err != nil {
		return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
	}
	pageID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
	}

	headingIDs := make(map[int]int64, len(snap.Headings))
	for _, hd := range snap.Headings {
		r, err := tx.ExecContext(ctx, `INSERT INTO headings (page_id, level, text, seq) VALUES (?, ?, ?, ?)`,
			pageID, hd.Level, hd.Text, hd.Order)
		if err != nil {
			return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
		}
		id, err := r.LastInsertId()
		if err != nil {
			return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
		}
		headingIDs[hd.Order] = id
	}

	for _, p := range snap.Paragraphs {
		var headingID sql.NullInt64
		if id, ok := headingIDs[p.HeadingOrder]; ok {
			headingID = sql.NullInt64{Int64: id, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO paragraphs (page_id, heading_id, text, seq) VALUES (?, ?, ?, ?)`,
			pageID, headingID, p.Text, p.Order); err != nil {
			return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "store_page", Err: err})
	}
	return nil
}

func (b *Backend) RecordSitemapVisit(ctx context.Context, siteBase, sitemapURL string, ts time.Time) error {
	defer b.lockWrite()()

	var siteID int64
	if err := b.db.QueryRowContext(ctx, `SELECT id FROM websites WHERE base = ?`, siteBase).Scan(&siteID); err != nil {
		return fmt.Errorf("context: site %s not found: %w", siteBase, &crawlerr.StorageError{Op: "record_sitemap_visit", Err: err})
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO sitemaps_history (site_id, sitemap_url, modified) VALUES (?, ?, ?)
		ON CONFLICT(site_id, sitemap_url) DO UPDATE SET modified = excluded.modified
	`, siteID, sitemapURL, ts)
	if err != nil {
		return fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "record_sitemap_visit", Err: err})
	}
	return nil
}

func (b *Backend) SitemapLastVisited(ctx context.Context, siteBase, sitemapURL string) (time.Time, bool, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT h.modified FROM sitemaps_history h
		JOIN websites w ON w.id = h.site_id
		WHERE w.base = ? AND h.sitemap_url = ?
	`, siteBase, sitemapURL)

	var t time.Time
	if err := row.Scan(&t); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("context: %w", &crawlerr.StorageError{Op: "sitemap_last_visited", Err: err})
	}
	return t, true, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
