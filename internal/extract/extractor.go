package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/burrowler/crawl/internal/crawlerr"
	"github.com/burrowler/crawl/internal/store"
)

// Link is a single discovered hyperlink, resolved against the page's URL.
type Link struct {
	URL string
	Rel []string
}

// Extracted is everything one streaming pass over the document yields.
type Extracted struct {
	Head       store.Head
	Links      []Link
	Paragraphs []store.Paragraph
	Headings   []store.Heading
	Followable bool
	Archivable bool
}

// nofollowRel is the set of rel values that exclude a link from being
// enqueued, per spec.md 4.7.
var nofollowRel = map[string]bool{
	"nofollow":   true,
	"noarchive":  true,
	"nosnippet":  true,
	"noindex":    true,
}

var headingTags = map[string]int{
	"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6,
}

// Extract runs a single goquery pass over body (already UTF-8 decoded),
// resolving relative links against base. Grounded on
// internal/scraper/crawler.go's extractLinks (doc.Find("a[href]") +
// base.ResolveReference), generalized to also walk head-meta, p/li, and
// h1..h6 in document order.
func Extract(baseURL, body string) (*Extracted, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("context: %w", &crawlerr.ParseError{URL: baseURL, Err: err})
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("context: %w", &crawlerr.ParseError{URL: baseURL, Err: err})
	}

	ex := &Extracted{Followable: true, Archivable: true}
	ex.Head = extractHead(doc)

	robotsMeta := strings.ToLower(ex.Head.Robots)
	if strings.Contains(robotsMeta, "nofollow") {
		ex.Followable = false
	}
	for _, tok := range []string{"noarchive", "nosnippet", "noindex"} {
		if strings.Contains(robotsMeta, tok) {
			ex.Archivable = false
		}
	}

	extractLinks(doc, base, ex)
	extractBody(doc, ex)

	return ex, nil
}

func extractHead(doc *goquery.Document) store.Head {
	var h store.Head
	h.Title = strings.TrimSpace(doc.Find("head title").First().Text())

	meta := func(selectors ...string) string {
		for _, sel := range selectors {
			if v, ok := doc.Find(sel).First().Attr("content"); ok && v != "" {
				return v
			}
		}
		return ""
	}

	h.Description = meta(`meta[name="description"]`, `meta[property="og:description"]`)
	h.Author = meta(`meta[name="author"]`)
	h.Keywords = meta(`meta[name="keywords"]`)
	h.Robots = meta(`meta[name="robots"]`)
	h.RevisitAfter = meta(`meta[name="revisit-after"]`)
	h.PublishedTime = meta(`meta[property="article:published_time"]`, `meta[property="og:published_time"]`)
	h.ModifiedTime = meta(`meta[property="article:modified_time"]`, `meta[property="og:modified_time"]`)
	h.ExpirationTime = meta(`meta[property="article:expiration_time"]`)
	h.Section = meta(`meta[property="article:section"]`)
	h.ArticleTag = meta(`meta[property="article:tag"]`)

	return h
}

func extractLinks(doc *goquery.Document, base *url.URL, ex *Extracted) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(u)

		var rels []string
		if relAttr, ok := s.Attr("rel"); ok {
			for _, r := range strings.Fields(relAttr) {
				rels = append(rels, strings.ToLower(r))
			}
		}
		for _, r := range rels {
			if nofollowRel[r] {
				return
			}
		}

		ex.Links = append(ex.Links, Link{URL: resolved.String(), Rel: rels})
	})
}

// extractBody walks p/li/h1..h6 elements in document order and attributes
// each paragraph to the most recent heading encountered, per spec.md 3's
// "heading-rooted sections" model. Only that one heading is recorded; the
// enclosing higher-level headings are not kept with the paragraph.
func extractBody(doc *goquery.Document, ex *Extracted) {
	activeHeadingOrder := -1
	headingSeq := 0
	paraSeq := 0

	var walk func(sel *goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Children().Each(func(_ int, child *goquery.Selection) {
			tag := goquery.NodeName(child)
			switch {
			case headingTags[tag] != 0:
				text := strings.TrimSpace(child.Text())
				if text != "" {
					ex.Headings = append(ex.Headings, store.Heading{
						Level: headingTags[tag],
						Text:  text,
						Order: headingSeq,
					})
					activeHeadingOrder = headingSeq
					headingSeq++
				}
			case tag == "p" || tag == "li":
				text := strings.TrimSpace(child.Text())
				if text != "" {
					ex.Paragraphs = append(ex.Paragraphs, store.Paragraph{
						Text:         text,
						Order:        paraSeq,
						HeadingOrder: activeHeadingOrder,
					})
					paraSeq++
				}
				return // don't descend into a paragraph's own children
			}
			walk(child)
		})
	}
	walk(doc.Find("body").First())
}
