// Package crawler implements the Scheduler / Worker Pool: a per-host
// sitemap-then-page pipeline over the Frontier's announced bases, each
// stage gated by its own semaphore. Grounded on
// FranksOps-burr/internal/scraper/crawler.go's Crawler.Run (errgroup +
// semaphore + channel-driven job queue), generalized from a single global
// queue to per-host sitemap/page semaphores plus per-host rate limiting
// and per-host mutual exclusion.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/burrowler/crawl/internal/crawlerr"
	"github.com/burrowler/crawl/internal/extract"
	"github.com/burrowler/crawl/internal/frontier"
	"github.com/burrowler/crawl/internal/metrics"
	"github.com/burrowler/crawl/internal/report"
	"github.com/burrowler/crawl/internal/robots"
	"github.com/burrowler/crawl/internal/sitemap"
	"github.com/burrowler/crawl/internal/store"
	"github.com/burrowler/crawl/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

// Config parametrises the Crawler.
type Config struct {
	Frontier              *frontier.Frontier
	Fetcher               *extract.Fetcher
	Sitemaps              *sitemap.Pipeline
	Store                 store.Gateway
	Metrics               *metrics.Registry
	Logger                *slog.Logger
	UserAgent             string
	CrawlDelay            time.Duration
	MaxThreads            int
	MaxConcurrentSitemaps int
	RobotNofollow         []string
	AlwaysIncludeBase     bool

	// Observe, if set, is called once per page fetch attempt with its
	// outcome. Wired up by internal/supervisor to accumulate the run's
	// internal/report.Summary without internal/crawler needing to know
	// anything about report formatting.
	Observe func(report.PageOutcome)
}

// Crawler runs, per host, a sitemap-ingestion stage followed by a
// page-fetching stage.
type Crawler struct {
	cfg Config

	sitemapSem chan struct{}
	pageSem    chan struct{}

	hostMu      sync.Mutex
	hostLimiter map[string]*ratelimit.Limiter
	hostRobots  map[string]*robots.Doc

	drainMu sync.RWMutex
	drainOn bool
}

func New(cfg Config) *Crawler {
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = 8
	}
	if cfg.MaxConcurrentSitemaps <= 0 {
		cfg.MaxConcurrentSitemaps = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Logger = logger

	return &Crawler{
		cfg:         cfg,
		sitemapSem:  make(chan struct{}, cfg.MaxConcurrentSitemaps),
		pageSem:     make(chan struct{}, cfg.MaxThreads),
		hostLimiter: make(map[string]*ratelimit.Limiter),
		hostRobots:  make(map[string]*robots.Doc),
	}
}

// Drain sets the draining flag: in-flight workers finish their current URL
// and exit, no new hosts are picked up.
func (c *Crawler) Drain() {
	c.drainMu.Lock()
	c.drainOn = true
	c.drainMu.Unlock()
}

func (c *Crawler) isDraining() bool {
	c.drainMu.RLock()
	defer c.drainMu.RUnlock()
	return c.drainOn
}

// defaultIdleGrace is how long Run waits with no new base announcement and
// no active host worker before concluding the base queue is exhausted.
// Frontier never closes its BaseQueue (new bases can surface for as long as
// pages are being fetched), so "empty AND no workers active" from spec.md
// 4.9 is approximated by this idle window rather than a channel-close
// signal.
const defaultIdleGrace = 3 * time.Second

// Run drives the full per-host lifecycle for every base the Frontier
// announces: a host's sitemap worker (gated by MaxConcurrentSitemaps) runs
// to completion before its page worker (gated by MaxThreads) starts, which
// is spec.md 4.9's Phase A / Phase B ordering applied per host rather than
// as one global barrier across all hosts — necessary because page-phase
// link discovery can itself announce new bases that still need their own
// sitemap pass. Run returns once no base has been announced and no host
// worker has been active for idleGrace (use 0 for defaultIdleGrace), or ctx
// is cancelled.
func (c *Crawler) Run(ctx context.Context, hosts <-chan frontier.BasePublished, idleGrace time.Duration) error {
	if idleGrace <= 0 {
		idleGrace = defaultIdleGrace
	}
	g, gCtx := errgroup.WithContext(ctx)

	var active int64
	timer := time.NewTimer(idleGrace)
	defer timer.Stop()

	for {
		select {
		case pub, ok := <-hosts:
			if !ok {
				return g.Wait()
			}
			if c.isDraining() {
				continue
			}
			pub := pub
			atomic.AddInt64(&active, 1)
			g.Go(func() error {
				defer atomic.AddInt64(&active, -1)
				c.runHost(gCtx, pub)
				return nil
			})
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idleGrace)

		case <-timer.C:
			if atomic.LoadInt64(&active) == 0 {
				return g.Wait()
			}
			timer.Reset(idleGrace)

		case <-gCtx.Done():
			return g.Wait()
		}
	}
}

// runHost is one host's full Phase A -> Phase B pipeline.
func (c *Crawler) runHost(ctx context.Context, pub frontier.BasePublished) {
	select {
	case c.sitemapSem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	c.runSitemapWorker(ctx, pub)
	<-c.sitemapSem

	select {
	case c.pageSem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-c.pageSem }()
	c.runPageWorker(ctx, pub)
}

func (c *Crawler) runSitemapWorker(ctx context.Context, pub frontier.BasePublished) {
	defer recoverWorker(c.cfg.Logger, pub.Base, "", "sitemap")

	doc := c.fetchRobots(ctx, pub.Base)
	c.setHostRobots(pub.Base, doc)

	for _, sm := range doc.Sitemaps() {
		if ref, err := url.Parse(sm); err == nil && !ref.IsAbs() {
			if b, err := url.Parse(pub.Base); err == nil {
				sm = b.ResolveReference(ref).String()
			}
		}
		urls, err := c.cfg.Sitemaps.Ingest(ctx, pub.Base, sm)
		if err != nil {
			c.cfg.Logger.Warn("SITEMAP", "host", pub.Base, "url", sm, "reason", err.Error())
			continue
		}
		if c.cfg.Metrics != nil && len(urls) > 0 {
			c.cfg.Metrics.SitemapURLsFound.WithLabelValues(pub.Base).Add(float64(len(urls)))
		}
		for _, u := range urls {
			if err := c.cfg.Frontier.Enqueue(ctx, u.Loc, pub.Base, pub.Depth); err != nil {
				c.cfg.Logger.Warn("SITEMAP", "host", pub.Base, "url", u.Loc, "reason", err.Error())
			}
		}
	}

	if c.cfg.AlwaysIncludeBase {
		c.cfg.Frontier.Enqueue(ctx, pub.Base, pub.Base, pub.Depth)
	}
}

// runPageWorker is spec.md 4.9 Phase B for one host: loop popping from the
// host's queue until Empty, observing robots.txt, fetching, extracting,
// enqueuing discovered links, storing, and sleeping out the per-host crawl
// delay between fetches.
func (c *Crawler) runPageWorker(ctx context.Context, pub frontier.BasePublished) {
	defer recoverWorker(c.cfg.Logger, pub.Base, "", "page")

	hosts := c.cfg.Frontier.Hosts()
	var hs *frontier.HostState
	for _, h := range hosts {
		if h.Base == pub.Base {
			hs = h
			break
		}
	}
	if hs == nil {
		return
	}

	limiter := c.hostRateLimiter(pub.Base)
	robotsDoc := c.getHostRobots(pub.Base)

	for {
		if c.isDraining() {
			return
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		u, err := hs.Queue.Get()
		if err != nil {
			return // ErrQueueEmpty or ErrQueueClosed: normal termination
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.QueueDepth.WithLabelValues(pub.Base).Set(float64(hs.Queue.Size()))
		}

		c.processPage(ctx, pub.Base, u, pub.Depth, robotsDoc)

		delay := c.cfg.CrawlDelay
		if robotsDoc != nil && robotsDoc.CrawlDelay() > delay {
			delay = robotsDoc.CrawlDelay()
		}
		elapsed := time.Since(start)
		if remaining := delay - elapsed; remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Crawler) processPage(ctx context.Context, base, pageURL string, depth int, robotsDoc *robots.Doc) {
	if !robotsDoc.CanFetch(c.cfg.UserAgent, pageURL) {
		c.cfg.Logger.Debug("SKIP", "host", base, "url", pageURL, "reason", "robots disallow")
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RobotsDisallows.WithLabelValues(base).Inc()
		}
		return
	}

	start := time.Now()
	fetched, err := c.cfg.Fetcher.FetchPage(ctx, pageURL)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.FetchDuration.WithLabelValues(base).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.logFetchError(base, pageURL, err)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.PagesFetched.WithLabelValues(base, "error").Inc()
			c.cfg.Metrics.FetchErrors.WithLabelValues(base, errorKind(err)).Inc()
		}
		c.observe(base, pageURL, 0, 0, false, err.Error())
		return
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.PagesFetched.WithLabelValues(base, "ok").Inc()
	}

	ex, err := extract.Extract(pageURL, fetched.Body)
	if err != nil {
		c.cfg.Logger.Warn("ERROR", "host", base, "url", pageURL, "reason", err.Error())
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.FetchErrors.WithLabelValues(base, "parse").Inc()
		}
		c.observe(base, pageURL, fetched.StatusCode, len(fetched.Raw), false, err.Error())
		return
	}

	if ex.Followable {
		for _, link := range ex.Links {
			if !validHost(link.URL, c.cfg.RobotNofollow) {
				continue
			}
			if err := c.cfg.Frontier.Enqueue(ctx, link.URL, pageURL, depth); err != nil {
				c.cfg.Logger.Warn("ERROR", "host", base, "url", link.URL, "reason", err.Error())
			}
		}
	}

	if !ex.Archivable {
		c.cfg.Logger.Debug("SKIP", "host", base, "url", pageURL, "reason", "non-archivable")
		c.observe(base, pageURL, fetched.StatusCode, len(fetched.Raw), false, "")
		return
	}

	snap := store.PageSnapshot{
		URL:        pageURL,
		SiteBase:   base,
		CrawlTime:  time.Now().UTC(),
		RawContent: string(fetched.Raw),
		Head:       ex.Head,
		Paragraphs: ex.Paragraphs,
		Headings:   ex.Headings,
	}
	if c.cfg.Store != nil {
		if err := c.cfg.Store.StorePage(ctx, snap); err != nil {
			c.cfg.Logger.Warn("STORE", "host", base, "url", pageURL, "reason", err.Error())
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.FetchErrors.WithLabelValues(base, "storage").Inc()
			}
			c.observe(base, pageURL, fetched.StatusCode, len(fetched.Raw), false, err.Error())
			return
		}
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.PagesStored.WithLabelValues(base).Inc()
	}
	c.cfg.Logger.Info("STORE", "host", base, "url", pageURL)
	c.observe(base, pageURL, fetched.StatusCode, len(fetched.Raw), true, "")
}

// observe reports one page outcome to cfg.Observe, if a hook was configured.
func (c *Crawler) observe(base, pageURL string, status, bytes int, stored bool, errMsg string) {
	if c.cfg.Observe == nil {
		return
	}
	c.cfg.Observe(report.PageOutcome{
		Host:       base,
		URL:        pageURL,
		StatusCode: status,
		Bytes:      bytes,
		Stored:     stored,
		Error:      errMsg,
		FetchedAt:  time.Now().UTC(),
	})
}

// errorKind classifies an error into the coarse metric label set spec.md §7
// names: network, http, decode, or an unclassified fallback.
func errorKind(err error) string {
	var netErr *crawlerr.NetworkError
	var httpErr *crawlerr.HTTPError
	var decErr *crawlerr.DecodeError
	switch {
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &httpErr):
		return "http"
	case errors.As(err, &decErr):
		return "decode"
	default:
		return "other"
	}
}

func validHost(link string, nofollow []string) bool {
	lower := strings.ToLower(link)
	for _, n := range nofollow {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return false
		}
	}
	return true
}

func (c *Crawler) logFetchError(base, pageURL string, err error) {
	switch err.(type) {
	case *crawlerr.HTTPError:
		c.cfg.Logger.Debug("SKIP", "host", base, "url", pageURL, "reason", err.Error())
	case *crawlerr.DecodeError:
		c.cfg.Logger.Warn("ERROR", "host", base, "url", pageURL, "reason", err.Error())
	default:
		c.cfg.Logger.Warn("ERROR", "host", base, "url", pageURL, "reason", err.Error())
	}
}

func (c *Crawler) fetchRobots(ctx context.Context, base string) *robots.Doc {
	robotsURL := strings.TrimRight(base, "/") + "/robots.txt"
	status, body, err := c.cfg.Fetcher.Get(ctx, robotsURL)
	if err != nil {
		c.cfg.Logger.Warn("INIT", "host", base, "url", robotsURL, "reason", err.Error())
		return &robots.Doc{} // never-loaded: conservative, CanFetch returns false
	}
	defer body.Close()

	if status >= 400 {
		return robots.FromStatus(status, c.cfg.CrawlDelay)
	}

	doc, err := robots.Parse(body, c.cfg.CrawlDelay)
	if err != nil {
		c.cfg.Logger.Warn("INIT", "host", base, "url", robotsURL, "reason", err.Error())
		return &robots.Doc{}
	}
	return doc
}

func (c *Crawler) hostRateLimiter(base string) *ratelimit.Limiter {
	c.hostMu.Lock()
	defer c.hostMu.Unlock()
	if l, ok := c.hostLimiter[base]; ok {
		return l
	}
	l := ratelimit.NewLimiter(1, 0.1)
	c.hostLimiter[base] = l
	return l
}

func (c *Crawler) setHostRobots(base string, doc *robots.Doc) {
	c.hostMu.Lock()
	defer c.hostMu.Unlock()
	c.hostRobots[base] = doc
}

func (c *Crawler) getHostRobots(base string) *robots.Doc {
	c.hostMu.Lock()
	defer c.hostMu.Unlock()
	return c.hostRobots[base]
}

// recoverWorker is the failure-isolation wrapper spec.md 4.9/§7 requires:
// an unhandled fault in one worker is caught, logged with context, and
// control returns to the scheduler rather than crashing the crawl.
func recoverWorker(logger *slog.Logger, host, url, kind string) {
	if r := recover(); r != nil {
		logger.Error("ERROR", "kind", kind, "host", host, "url", url, "reason", fmt.Sprintf("%v", r))
	}
}
