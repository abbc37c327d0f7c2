package robots

import (
	"strings"
	"testing"
	"time"
)

func TestParseBasicAllowDisallow(t *testing.T) {
	txt := `
User-agent: *
Disallow: /private
Allow: /private/public
Sitemap: http://example.com/sitemap.xml
Crawl-delay: 5
`
	doc, err := Parse(strings.NewReader(txt), time.Second)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if doc.CanFetch("anybot", "http://example.com/private/secret") {
		t.Error("expected /private/secret to be disallowed")
	}
	if !doc.CanFetch("anybot", "http://example.com/private/public") {
		t.Error("expected /private/public to win on longest-match Allow")
	}
	if !doc.CanFetch("anybot", "http://example.com/other") {
		t.Error("expected unrestricted path to be allowed")
	}
	if len(doc.Sitemaps()) != 1 || doc.Sitemaps()[0] != "http://example.com/sitemap.xml" {
		t.Errorf("unexpected sitemaps: %v", doc.Sitemaps())
	}
	if doc.CrawlDelay() != 5*time.Second {
		t.Errorf("CrawlDelay() = %v, want 5s", doc.CrawlDelay())
	}
}

func TestCrawlDelayNeverBelowDefault(t *testing.T) {
	txt := "User-agent: *\nCrawl-delay: 1\n"
	doc, err := Parse(strings.NewReader(txt), 10*time.Second)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.CrawlDelay() != 10*time.Second {
		t.Errorf("CrawlDelay() = %v, want the configured floor of 10s", doc.CrawlDelay())
	}
}

func TestBlankLineEndsBlock(t *testing.T) {
	txt := `
User-agent: GoogleBot

Disallow: /shouldnotapply
`
	doc, err := Parse(strings.NewReader(txt), time.Second)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !doc.CanFetch("GoogleBot", "http://example.com/shouldnotapply") {
		t.Error("expected the discarded empty agent block not to restrict GoogleBot")
	}
}

func TestUserAgentMidRuleCommitsAndRestarts(t *testing.T) {
	txt := `
User-agent: a
Disallow: /a-only
User-agent: b
Disallow: /b-only
`
	doc, err := Parse(strings.NewReader(txt), time.Second)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.CanFetch("a", "http://example.com/a-only") {
		t.Error("expected agent a to be disallowed from /a-only")
	}
	if !doc.CanFetch("a", "http://example.com/b-only") {
		t.Error("agent a's rules should not include b's disallow")
	}
	if doc.CanFetch("b", "http://example.com/b-only") {
		t.Error("expected agent b to be disallowed from /b-only")
	}
}

func TestLongestMatchAllowBeatsDisallowOnTie(t *testing.T) {
	txt := `
User-agent: *
Disallow: /x
Allow: /x
`
	doc, err := Parse(strings.NewReader(txt), time.Second)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !doc.CanFetch("bot", "http://example.com/x") {
		t.Error("expected Allow to win a tied-length match against Disallow")
	}
}

func TestWildcardBlockDoesNotShadowSpecificAgent(t *testing.T) {
	txt := `
User-agent: *
Disallow: /everything

User-agent: GoodBot
Allow: /everything
`
	doc, err := Parse(strings.NewReader(txt), time.Second)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !doc.CanFetch("GoodBot", "http://example.com/everything") {
		t.Error("expected GoodBot's specific Allow to win over the earlier wildcard Disallow")
	}
	if doc.CanFetch("SomeOtherBot", "http://example.com/everything") {
		t.Error("expected an unmatched agent to still fall back to the wildcard block")
	}
}

func TestFromStatusDisallowAll(t *testing.T) {
	doc := FromStatus(403, time.Second)
	if doc.CanFetch("bot", "http://example.com/anything") {
		t.Error("expected 403 to disallow everything")
	}
}

func TestFromStatusAllowAll(t *testing.T) {
	doc := FromStatus(404, time.Second)
	if !doc.CanFetch("bot", "http://example.com/anything") {
		t.Error("expected 404 to allow everything")
	}
}

func TestNeverLoadedIsConservative(t *testing.T) {
	var doc *Doc
	if doc.CanFetch("bot", "http://example.com/anything") {
		t.Error("expected a nil/never-loaded doc to refuse fetches")
	}
}
