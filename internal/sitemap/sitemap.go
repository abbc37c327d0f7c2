// Package sitemap implements the sitemap ingestion pipeline: given a root
// sitemap URL it emits a bounded-memory stream of crawlable URLs, following
// sitemapindex->urlset recursion, gzip unwrapping, plain-text fallback, and
// an HTML-hyperlink-list last resort. Grounded on
// FranksOps-burr/internal/scraper/sitemap.go's FetchSitemap, generalised
// from a single flat function to the streaming/gating contract spec.md 4.6
// requires.
package sitemap

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/burrowler/crawl/internal/crawlerr"
	"github.com/burrowler/crawl/internal/store"
	"github.com/oxffaa/gopher-parse-sitemap"
	"golang.org/x/net/html"
)

// Fetcher is the minimal HTTP surface the pipeline needs; satisfied by
// *internal/extract.Fetcher, or a plain *http.Client wrapper in tests.
type Fetcher interface {
	Get(ctx context.Context, url string) (status int, body io.ReadCloser, err error)
}

// URLEntry is one terminal URL discovered in a urlset document.
type URLEntry struct {
	Loc        string
	LastMod    string
	ChangeFreq string
}

// Pipeline ingests sitemaps for a single configured crawl run.
type Pipeline struct {
	fetcher       Fetcher
	store         store.Gateway
	logger        *slog.Logger
	revisitWithin time.Duration
	maxConcurrent int
}

// Config parametrises a Pipeline.
type Config struct {
	Fetcher            Fetcher
	Store              store.Gateway
	Logger             *slog.Logger
	CrawlDelaySitemap  time.Duration // revisit gating window
	MaxConcurrentFetch int
}

func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:       cfg.Fetcher,
		store:         cfg.Store,
		logger:        logger,
		revisitWithin: cfg.CrawlDelaySitemap,
		maxConcurrent: cfg.MaxConcurrentFetch,
	}
}

// Ingest fetches rootURL (a sitemapindex, urlset, gzip, text, or HTML
// document) and returns every terminal URL reachable from it, recursing
// through sitemapindex entries and falling back to rewritten paths when a
// nested sitemap's first fetch attempt fails. It consults and updates
// sitemap-visit history on siteBase so a root sitemap already ingested
// within CrawlDelaySitemap is skipped.
func (p *Pipeline) Ingest(ctx context.Context, siteBase, rootURL string) ([]URLEntry, error) {
	if p.store != nil && p.revisitWithin > 0 {
		last, ok, err := p.store.SitemapLastVisited(ctx, siteBase, rootURL)
		if err != nil {
			p.logger.Warn("sitemap visit lookup failed", "site", siteBase, "url", rootURL, "err", err)
		} else if ok && time.Since(last) < p.revisitWithin {
			p.logger.Debug("skipping recently visited sitemap", "url", rootURL)
			return nil, nil
		}
	}

	urls, err := p.ingestRecursive(ctx, rootURL, 0)
	if err != nil {
		p.logger.Warn("sitemap root unreachable", "url", rootURL, "err", err)
		return nil, nil
	}

	if p.store != nil {
		if err := p.store.RecordSitemapVisit(ctx, siteBase, rootURL, time.Now().UTC()); err != nil {
			p.logger.Warn("failed to record sitemap visit", "url", rootURL, "err", err)
		}
	}
	return urls, nil
}

const maxIndexDepth = 6

func (p *Pipeline) ingestRecursive(ctx context.Context, sitemapURL string, depth int) ([]URLEntry, error) {
	if depth > maxIndexDepth {
		return nil, nil
	}

	body, err := p.fetchWithFallback(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reader, err := maybeGunzip(sitemapURL, body)
	if err != nil {
		return nil, fmt.Errorf("context: %w", &crawlerr.ParseError{URL: sitemapURL, Err: err})
	}

	buffered := bufio.NewReaderSize(reader, 64*1024)
	peek, _ := buffered.Peek(512)

	switch classify(sitemapURL, peek) {
	case kindURLSet:
		return parseURLSet(buffered)
	case kindIndex:
		children, err := parseIndex(buffered)
		if err != nil {
			return nil, fmt.Errorf("context: %w", &crawlerr.ParseError{URL: sitemapURL, Err: err})
		}
		var out []URLEntry
		for _, child := range children {
			childURLs, err := p.ingestRecursive(ctx, child, depth+1)
			if err != nil {
				p.logger.Warn("nested sitemap failed", "url", child, "err", err)
				continue
			}
			out = append(out, childURLs...)
		}
		return out, nil
	case kindText:
		return parseTextLines(buffered), nil
	default:
		return parseHTMLLinks(buffered, sitemapURL), nil
	}
}

// fetchWithFallback tries sitemapURL as given, then /sitemaps/<name> and
// /sitemap/<name> rewrites, per spec.md 4.6's fallback-rewrite rule for
// index-referenced children.
func (p *Pipeline) fetchWithFallback(ctx context.Context, sitemapURL string) (io.ReadCloser, error) {
	candidates := []string{sitemapURL}
	if idx := strings.LastIndex(sitemapURL, "/"); idx >= 0 {
		name := sitemapURL[idx+1:]
		base := sitemapURL[:idx]
		if root := rootOf(base); root != "" {
			candidates = append(candidates, root+"/sitemaps/"+name, root+"/sitemap/"+name)
		}
	}

	var lastErr error
	for _, u := range candidates {
		status, body, err := p.fetcher.Get(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 400 {
			body.Close()
			lastErr = &crawlerr.HTTPError{URL: u, Status: status}
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("context: all fallback rewrites failed: %w", lastErr)
}

func rootOf(base string) string {
	i := strings.Index(base, "://")
	if i < 0 {
		return ""
	}
	rest := base[i+3:]
	if j := strings.Index(rest, "/"); j >= 0 {
		return base[:i+3+j]
	}
	return base
}

func maybeGunzip(url string, body io.Reader) (io.Reader, error) {
	if strings.HasSuffix(strings.ToLower(url), ".gz") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		return gz, nil
	}
	return body, nil
}

type docKind int

const (
	kindURLSet docKind = iota
	kindIndex
	kindText
	kindHTML
)

func classify(url string, peek []byte) docKind {
	lower := strings.ToLower(url)
	trimmedPeek := strings.TrimSpace(string(peek))

	if strings.HasPrefix(trimmedPeek, "<") {
		if strings.Contains(trimmedPeek, "<sitemapindex") {
			return kindIndex
		}
		if strings.Contains(trimmedPeek, "<urlset") {
			return kindURLSet
		}
		if strings.Contains(trimmedPeek, "<html") || strings.Contains(trimmedPeek, "<!doctype") {
			return kindHTML
		}
	}
	if strings.HasSuffix(lower, ".txt") {
		return kindText
	}
	if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
		return kindHTML
	}
	// Default: attempt urlset parse; parseURLSet callers treat zero results
	// as a parse miss and the caller falls through via ingestRecursive's
	// error propagation.
	return kindURLSet
}

func parseURLSet(r io.Reader) ([]URLEntry, error) {
	var out []URLEntry
	err := sitemap.Parse(r, func(e sitemap.Entry) error {
		out = append(out, URLEntry{Loc: e.GetLocation()})
		return nil
	})
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("not a urlset: %w", err)
	}
	return out, nil
}

func parseIndex(r io.Reader) ([]string, error) {
	var out []string
	err := sitemap.ParseIndex(r, func(e sitemap.IndexEntry) error {
		out = append(out, e.GetLocation())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseTextLines(r io.Reader) []URLEntry {
	var out []URLEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		out = append(out, URLEntry{Loc: line})
	}
	return out
}

// parseHTMLLinks is the last-resort fallback: treat the document as a
// hyperlink list, per spec.md 4.6.
func parseHTMLLinks(r io.Reader, base string) []URLEntry {
	var out []URLEntry
	tokenizer := html.NewTokenizer(r)
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		token := tokenizer.Token()
		if token.Data != "a" {
			continue
		}
		for _, attr := range token.Attr {
			if attr.Key == "href" && attr.Val != "" {
				out = append(out, URLEntry{Loc: attr.Val})
			}
		}
	}
}

// HTTPFetcher adapts an *http.Client to the Fetcher interface, used where a
// full internal/extract.Fetcher is unnecessary (sitemap fetches never need
// encoding negotiation: sitemap bodies are UTF-8 XML/text by spec).
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func (f *HTTPFetcher) Get(ctx context.Context, url string) (int, io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("context: %w", &crawlerr.NetworkError{URL: url, Err: err})
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("context: %w", &crawlerr.NetworkError{URL: url, Err: err})
	}
	return resp.StatusCode, resp.Body, nil
}
