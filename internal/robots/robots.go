// Package robots implements a standalone robots.txt parser and matcher,
// grounded on original_source/crawler/robot.py's Txt (itself a thin
// extension of Python's urllib.robotparser): an explicit three-state line
// parser plus longest-prefix-match rule evaluation. Reimplemented rather
// than wrapping github.com/temoto/robotstxt because that package's
// Group.Test does not expose the Allow-beats-Disallow-on-tie rule spec.md
// 4.5 step 5 requires (see DESIGN.md).
package robots

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/burrowler/crawl/internal/crawlerr"
)

// rule is one Allow/Disallow line within an entry.
type rule struct {
	path  string
	allow bool
}

// length returns the prefix length used to break ties between competing
// rules, treating the wildcard-all pattern "/" as length 1 like the
// original robotparser.
func (r rule) length() int { return len(r.path) }

func (r rule) matches(path string) bool {
	if r.path == "" {
		return false
	}
	return strings.HasPrefix(path, r.path)
}

// entry groups the rules declared for one or more user-agent lines.
type entry struct {
	agents []string
	rules  []rule
}

// appliesTo reports whether ua matches one of e's specific (non-wildcard)
// agent tokens. The wildcard "*" block is never stored in entries — see
// commit — so this never needs to special-case it.
func (e entry) appliesTo(ua string) bool {
	ua = strings.ToLower(ua)
	for _, a := range e.agents {
		a = strings.ToLower(a)
		if strings.Contains(ua, a) {
			return true
		}
	}
	return false
}

// allowance applies the longest-matching-rule-wins policy, Allow winning
// ties, per spec.md 4.5 step 5. No matching rule means access is granted.
func (e entry) allowance(path string) bool {
	best := -1
	bestAllow := true
	for _, r := range e.rules {
		if !r.matches(path) {
			continue
		}
		l := r.length()
		if l > best || (l == best && r.allow) {
			best = l
			bestAllow = r.allow
		}
	}
	if best < 0 {
		return true
	}
	return bestAllow
}

// Doc is a parsed robots.txt document plus the load outcome that governs
// CanFetch's first two checks.
type Doc struct {
	entries     []entry
	defaultEnt  *entry
	sitemaps    []string
	crawlDelay  time.Duration
	disallowAll bool
	allowAll    bool
	loaded      bool
}

// parser states, named after original_source/crawler/robot.py's parse().
type state int

const (
	stateStart state = iota
	stateSawAgent
	stateSawRule
)

// Parse reads raw robots.txt content and applies the three-state line
// machine: blank lines end a block (SawAgent discards it, SawRule commits
// it); a User-agent line seen while SawRule commits the prior entry and
// starts a new one. defaultCrawlDelay is the floor applied regardless of
// any declared value (never smaller than config default, per spec.md 4.5).
func Parse(r io.Reader, defaultCrawlDelay time.Duration) (*Doc, error) {
	doc := &Doc{crawlDelay: defaultCrawlDelay, loaded: true}

	st := stateStart
	var cur entry

	// commit files the just-parsed block. A block naming "*" is kept only as
	// defaultEnt (the step-6 fallback in CanFetch), never added to entries,
	// so it can't shadow a more specific block that happens to appear first
	// in the file — per spec.md 4.5 steps 5-6, a specific match always wins.
	commit := func() {
		e := cur
		isWildcard := false
		for _, a := range e.agents {
			if a == "*" {
				isWildcard = true
				break
			}
		}
		if isWildcard {
			if doc.defaultEnt == nil {
				doc.defaultEnt = &e
			}
		} else {
			doc.entries = append(doc.entries, e)
		}
		cur = entry{}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			switch st {
			case stateSawAgent:
				cur = entry{}
				st = stateStart
			case stateSawRule:
				commit()
				st = stateStart
			}
			continue
		}

		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val, err := url.QueryUnescape(strings.TrimSpace(parts[1]))
		if err != nil {
			val = strings.TrimSpace(parts[1])
		}

		switch {
		case key == "user-agent":
			if st == stateSawRule {
				commit()
			}
			cur.agents = append(cur.agents, val)
			st = stateSawAgent
		case key == "disallow":
			if st != stateStart {
				cur.rules = append(cur.rules, rule{path: val, allow: false})
				st = stateSawRule
			}
		case key == "allow":
			if st != stateStart {
				cur.rules = append(cur.rules, rule{path: val, allow: true})
				st = stateSawRule
			}
		case key == "sitemap":
			doc.sitemaps = append(doc.sitemaps, val)
		case strings.HasPrefix(key, "crawl-delay"):
			secs, err := strconv.ParseFloat(val, 64)
			if err == nil {
				d := time.Duration(secs * float64(time.Second))
				if d > doc.crawlDelay {
					doc.crawlDelay = d
				}
			}
		}
	}
	if st == stateSawRule {
		commit()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("context: scanning robots.txt: %w", &crawlerr.ParseError{URL: "robots.txt", Err: err})
	}

	return doc, nil
}

// FromStatus builds a Doc reflecting an HTTP failure fetching robots.txt:
// 401/403 imply disallow_all (conservative), other 4xx imply allow_all
// (the site has no robots.txt to restrict us), per spec.md 7 and
// original_source/crawler/robot.py's read().
func FromStatus(status int, defaultCrawlDelay time.Duration) *Doc {
	doc := &Doc{crawlDelay: defaultCrawlDelay, loaded: true}
	switch {
	case status == 401 || status == 403:
		doc.disallowAll = true
	case status >= 400 && status < 500:
		doc.allowAll = true
	}
	return doc
}

// CrawlDelay returns the floor-adjusted crawl delay declared in the
// document (or the configured default, whichever is larger).
func (d *Doc) CrawlDelay() time.Duration { return d.crawlDelay }

// Sitemaps returns every Sitemap: line declared in the document.
func (d *Doc) Sitemaps() []string { return d.sitemaps }

// CanFetch applies spec.md 4.5's decision sequence.
func (d *Doc) CanFetch(ua, rawURL string) bool {
	if d == nil || !d.loaded {
		return false
	}
	if d.disallowAll {
		return false
	}
	if d.allowAll {
		return true
	}

	path := normalisePath(rawURL)

	for _, e := range d.entries {
		if e.appliesTo(ua) {
			return e.allowance(path)
		}
	}
	if d.defaultEnt != nil {
		return d.defaultEnt.allowance(path)
	}
	return true
}

// normalisePath reduces a URL to its path+params+query+fragment, percent-
// re-encoded, matching original_source/crawler/robot.py's can_fetch.
func normalisePath(rawURL string) string {
	unescaped, err := url.QueryUnescape(rawURL)
	if err != nil {
		unescaped = rawURL
	}
	u, err := url.Parse(unescaped)
	if err != nil {
		if rawURL == "" {
			return "/"
		}
		return rawURL
	}

	var b bytes.Buffer
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteString("#")
		b.WriteString(u.Fragment)
	}
	out := b.String()
	if out == "" {
		return "/"
	}
	return out
}
