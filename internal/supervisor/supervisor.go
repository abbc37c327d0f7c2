// Package supervisor wires the crawl's collaborators together and drives
// its lifecycle: seed the frontier, run the sitemap phase, run the page
// phase, drain, shut down. Restructured from
// FranksOps-burr/internal/pipeline/pipeline.go's 3-stage stub (SERP search
// -> crawl -> analyze) into the real crawl lifecycle this spec needs; keeps
// the stub's "fail fast if a required collaborator is nil" style.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/burrowler/crawl/internal/config"
	"github.com/burrowler/crawl/internal/crawler"
	"github.com/burrowler/crawl/internal/extract"
	"github.com/burrowler/crawl/internal/frontier"
	"github.com/burrowler/crawl/internal/membership"
	"github.com/burrowler/crawl/internal/metrics"
	"github.com/burrowler/crawl/internal/report"
	"github.com/burrowler/crawl/internal/sitemap"
	"github.com/burrowler/crawl/internal/spillqueue"
	"github.com/burrowler/crawl/internal/store"
	"github.com/burrowler/crawl/internal/store/postgres"
	"github.com/burrowler/crawl/internal/store/sqlite"
)

// Supervisor owns every long-lived collaborator for one crawl run.
type Supervisor struct {
	cfg       config.Config
	logger    *slog.Logger
	store     store.Gateway
	frontier  *frontier.Frontier
	crawler   *crawler.Crawler
	metrics   *metrics.Registry
	closeOnce func()

	outcomesMu sync.Mutex
	outcomes   []report.PageOutcome
}

// New constructs a Supervisor from loaded configuration. It opens the
// configured storage backend, builds the membership filter, frontier,
// fetcher, sitemap pipeline, and crawler, and fails fast if any required
// collaborator cannot be built.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("context: opening storage: %w", err)
	}

	mf := membership.New(membership.Config{InitialCapacity: 100000, TargetFP: 0.001})

	// Pages stored within RevisitAfter are marked seen so they are not
	// fetched again this run.
	recent, err := gw.ListRecentPages(ctx, int(cfg.RevisitAfter/(24*time.Hour)))
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("context: loading recent pages: %w", err)
	}
	for _, p := range recent {
		mf.Add(p.URL)
	}

	fr := frontier.New(frontier.Config{
		Membership: mf,
		Store:      gw,
		Logger:     logger,
		MaxDepth:   cfg.CrawlDepth,
		SpillDir:   cfg.DataDir,
		QueueMode:  spillqueue.ModeText,
	})

	fe, err := extract.New(extract.Config{UserAgent: cfg.UserAgent})
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("context: building fetcher: %w", err)
	}

	sm := sitemap.New(sitemap.Config{
		Fetcher:           &sitemap.HTTPFetcher{UserAgent: cfg.UserAgent},
		Store:             gw,
		Logger:            logger,
		CrawlDelaySitemap: cfg.CrawlDelaySitemap,
	})

	reg := metrics.NewRegistry()

	s := &Supervisor{
		cfg:      cfg,
		logger:   logger,
		store:    gw,
		frontier: fr,
		metrics:  reg,
	}

	cr := crawler.New(crawler.Config{
		Frontier:              fr,
		Fetcher:               fe,
		Sitemaps:              sm,
		Store:                 gw,
		Metrics:               reg,
		Logger:                logger,
		UserAgent:             cfg.UserAgent,
		CrawlDelay:            cfg.CrawlDelay,
		MaxThreads:            cfg.MaxThreads,
		MaxConcurrentSitemaps: cfg.MaxConcurrentSitemaps,
		RobotNofollow:         cfg.Nofollow,
		AlwaysIncludeBase:     cfg.AlwaysIncludeBaseInQueue,
		Observe:               s.recordOutcome,
	})

	s.crawler = cr
	s.closeOnce = func() { gw.Close() }
	return s, nil
}

// recordOutcome accumulates one page fetch outcome for the final report
// summary. Called concurrently by every host's page worker.
func (s *Supervisor) recordOutcome(o report.PageOutcome) {
	s.outcomesMu.Lock()
	s.outcomes = append(s.outcomes, o)
	s.outcomesMu.Unlock()
}

// Summary builds a report.Summary from every page outcome observed so far.
// Safe to call once Run has returned, or mid-crawl for a progress snapshot.
func (s *Supervisor) Summary() report.Summary {
	s.outcomesMu.Lock()
	defer s.outcomesMu.Unlock()
	outcomes := make([]report.PageOutcome, len(s.outcomes))
	copy(outcomes, s.outcomes)
	return report.GenerateSummary(outcomes)
}

func openStore(ctx context.Context, cfg config.Config) (store.Gateway, error) {
	switch cfg.DatabaseDriver {
	case "", "sqlite":
		return sqlite.New(cfg.DatabaseFilename)
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseFilename)
	default:
		return nil, fmt.Errorf("config: unknown database_driver %q", cfg.DatabaseDriver)
	}
}

// Run executes one full crawl: seeding the configured sites, then driving
// every announced base through its sitemap and page stages until the crawl
// goes quiet. Returns once the crawl has drained or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.cfg.Sites) == 0 {
		s.logger.Info("CONFIG", "reason", "no seed sites configured, nothing to do")
		return nil
	}

	if err := s.frontier.Seed(ctx, s.cfg.Sites); err != nil {
		return fmt.Errorf("context: seeding frontier: %w", err)
	}

	if err := s.crawler.Run(ctx, s.frontier.BaseQueue(), 0); err != nil {
		return fmt.Errorf("context: crawl: %w", err)
	}
	return nil
}

// Drain signals the crawler to stop picking up new hosts once in-flight
// work completes.
func (s *Supervisor) Drain() { s.crawler.Drain() }

// Close releases the storage backend and any other held resources.
func (s *Supervisor) Close() error {
	if s.closeOnce != nil {
		s.closeOnce()
	}
	return nil
}

// Metrics exposes the run's metrics registry for the HTTP /metrics endpoint
// or a final report.
func (s *Supervisor) Metrics() *metrics.Registry { return s.metrics }
