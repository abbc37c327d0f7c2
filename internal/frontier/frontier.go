// Package frontier implements the depth-bucketed set of hosts and per-host
// URL queues (spec.md 4.8). Grounded on FranksOps-burr/internal/scraper/
// crawler.go's shouldVisit/markVisited/visited map, generalized from a
// single flat visited-set to per-host HostState with depth buckets, a
// membership filter in place of a plain map, and a BaseQueue channel the
// scheduler drains to learn about newly discovered hosts.
package frontier

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/burrowler/crawl/internal/membership"
	"github.com/burrowler/crawl/internal/spillqueue"
	"github.com/burrowler/crawl/internal/store"
)

// BasePublished is one (base, depth) pair the Frontier has newly created a
// queue for; the Scheduler consumes these to spin up per-host workers.
type BasePublished struct {
	Base  string
	Depth int
}

// HostState is everything the Frontier tracks for one host: its queue and
// recorded depth.
type HostState struct {
	Base  string
	Depth int
	Queue *spillqueue.Queue
}

// Frontier owns every per-host queue and depth bucket. Workers borrow a
// queue handle for the lifetime of one task; they never mutate hostsByBase
// directly.
type Frontier struct {
	mu         sync.RWMutex
	hostsByBase map[string]*HostState

	membership *membership.Filter
	store      store.Gateway
	logger     *slog.Logger

	maxDepth  int
	spillDir  string
	queueMode spillqueue.Mode

	baseQueue chan BasePublished
}

// Config parametrises a Frontier.
type Config struct {
	Membership *membership.Filter
	Store      store.Gateway
	Logger     *slog.Logger
	MaxDepth   int
	SpillDir   string
	QueueMode  spillqueue.Mode
	// BaseQueueSize bounds how many pending (base, depth) announcements may
	// sit unread; 0 picks a generous default.
	BaseQueueSize int
}

func New(cfg Config) *Frontier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.BaseQueueSize
	if size <= 0 {
		size = 10000
	}
	return &Frontier{
		hostsByBase: make(map[string]*HostState),
		membership:  cfg.Membership,
		store:       cfg.Store,
		logger:      logger,
		maxDepth:    cfg.MaxDepth,
		spillDir:    cfg.SpillDir,
		queueMode:   cfg.QueueMode,
		baseQueue:   make(chan BasePublished, size),
	}
}

// BaseQueue returns the channel the Scheduler drains for newly discovered
// hosts. The channel is never closed: new bases can be announced for as
// long as pages are being fetched.
func (f *Frontier) BaseQueue() <-chan BasePublished { return f.baseQueue }

// Seed registers the configured seed bases at depth 0, creating a site row
// and queue for any not already known to the store, and publishes each
// newly created base to baseQueue exactly as Append does, so the Scheduler
// learns about seeded hosts the same way it learns about discovered ones.
func (f *Frontier) Seed(ctx context.Context, bases []string) error {
	for _, base := range bases {
		_, created, err := f.getOrCreateHostAt(ctx, base, 0)
		if err != nil {
			return fmt.Errorf("context: seeding %s: %w", base, err)
		}
		if created {
			select {
			case f.baseQueue <- BasePublished{Base: base, Depth: 0}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Enqueue implements spec.md 4.8's enqueue(url, from_depth): normalises the
// URL, checks the membership filter, and either routes it to an existing
// host's queue at that host's current depth, or appends it as a new base
// at from_depth+1.
func (f *Frontier) Enqueue(ctx context.Context, rawURL string, referrer string, fromDepth int) error {
	normalised, ok := normalise(rawURL, referrer)
	if !ok {
		return nil
	}

	if f.membership != nil && f.membership.Contains(normalised) {
		return nil
	}

	if base, ok := f.matchingBase(normalised); ok {
		f.mu.RLock()
		hs := f.hostsByBase[base]
		f.mu.RUnlock()
		if hs != nil {
			if f.membership != nil {
				f.membership.Add(normalised)
			}
			return hs.Queue.Put(normalised)
		}
	}

	return f.Append(ctx, normalised, fromDepth+1)
}

// Append implements spec.md 4.8's append(url, depth): drops URLs beyond
// CRAWL_DEPTH, else creates (if new) the URL's base host at depth and
// pushes the URL itself onto that base's queue, publishing (base, depth) to
// the scheduler exactly once per newly created base.
func (f *Frontier) Append(ctx context.Context, rawURL string, depth int) error {
	if depth > f.maxDepth {
		return nil
	}

	base, err := baseOf(rawURL)
	if err != nil {
		return nil
	}

	hs, created, err := f.getOrCreateHostAt(ctx, base, depth)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	if f.membership != nil {
		f.membership.Add(base)
		f.membership.Add(rawURL)
	}
	if err := hs.Queue.Put(rawURL); err != nil {
		return fmt.Errorf("context: pushing %s: %w", rawURL, err)
	}

	if created {
		select {
		case f.baseQueue <- BasePublished{Base: base, Depth: depth}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *Frontier) getOrCreateHostAt(ctx context.Context, base string, depth int) (*HostState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if hs, ok := f.hostsByBase[base]; ok {
		return hs, false, nil
	}

	if f.store != nil {
		if _, err := f.store.UpsertSite(ctx, base, depth); err != nil {
			return nil, false, err
		}
	}

	q, err := spillqueue.Open(f.spillDir, queueName(base), f.queueMode, f.spillDir != "")
	if err != nil {
		return nil, false, err
	}

	hs := &HostState{Base: base, Depth: depth, Queue: q}
	f.hostsByBase[base] = hs
	return hs, true, nil
}

// Hosts returns a snapshot of every known host; the Scheduler looks up a
// published base's HostState here.
func (f *Frontier) Hosts() []*HostState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*HostState, 0, len(f.hostsByBase))
	for _, hs := range f.hostsByBase {
		out = append(out, hs)
	}
	return out
}

func (f *Frontier) matchingBase(u string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for base := range f.hostsByBase {
		if belongsToBase(u, base) {
			return base, true
		}
	}
	return "", false
}

// normalise strips the fragment, resolves against referrer when relative,
// and reports ok=false if nothing remains.
func normalise(rawURL, referrer string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	u.Fragment = ""

	if !u.IsAbs() && referrer != "" {
		ref, err := url.Parse(referrer)
		if err == nil {
			u = ref.ResolveReference(u)
		}
	}
	if !u.IsAbs() {
		return "", false
	}
	s := u.String()
	if s == "" {
		return "", false
	}
	return s, true
}

func baseOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("context: %q is not absolute", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// belongsToBase implements url_belongs_to_base's host-equivalence rule:
// strip a leading "m." or "www." host label from either side, then compare
// the two hosts for equality, folding mobile/www variants into their
// canonical host. When either side has no parsable host, it falls back to a
// plain prefix comparison of the raw strings.
func belongsToBase(u, base string) bool {
	uHost, ok1 := hostOf(u)
	bHost, ok2 := hostOf(base)
	if !ok1 || !ok2 {
		return strings.HasPrefix(u, base)
	}
	return stripMobileWWW(uHost) == stripMobileWWW(bHost)
}

func hostOf(s string) (string, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}
	return u.Host, true
}

func stripMobileWWW(host string) string {
	lower := strings.ToLower(host)
	if strings.HasPrefix(lower, "m.") {
		return lower[2:]
	}
	if strings.HasPrefix(lower, "www.") {
		return lower[4:]
	}
	return lower
}

func queueName(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return strings.NewReplacer("/", "_", ":", "_").Replace(base)
	}
	return strings.ReplaceAll(u.Host, ":", "_")
}
