package extract

import "testing"

const testPage = `
<html>
<head>
	<title>Test Page</title>
	<meta name="description" content="a test page">
	<meta name="robots" content="noarchive">
	<meta property="article:published_time" content="2024-01-01T00:00:00Z">
</head>
<body>
	<h1>Intro</h1>
	<p>first paragraph</p>
	<h2>Details</h2>
	<p>second paragraph</p>
	<li>a list item</li>
	<a href="/relative">relative link</a>
	<a href="/blocked" rel="nofollow">blocked link</a>
</body>
</html>`

func TestExtractHeadMeta(t *testing.T) {
	ex, err := Extract("http://example.com/page", testPage)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.Head.Title != "Test Page" {
		t.Errorf("Title = %q", ex.Head.Title)
	}
	if ex.Head.Description != "a test page" {
		t.Errorf("Description = %q", ex.Head.Description)
	}
	if ex.Head.PublishedTime != "2024-01-01T00:00:00Z" {
		t.Errorf("PublishedTime = %q", ex.Head.PublishedTime)
	}
}

func TestExtractArchivableFollowable(t *testing.T) {
	ex, err := Extract("http://example.com/page", testPage)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.Archivable {
		t.Error("expected noarchive meta to mark the page non-archivable")
	}
	if !ex.Followable {
		t.Error("expected the page itself to remain followable (no page-level nofollow)")
	}
}

func TestExtractLinksSkipsNofollow(t *testing.T) {
	ex, err := Extract("http://example.com/page", testPage)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var urls []string
	for _, l := range ex.Links {
		urls = append(urls, l.URL)
	}
	found := false
	for _, u := range urls {
		if u == "http://example.com/relative" {
			found = true
		}
		if u == "http://example.com/blocked" {
			t.Error("expected rel=nofollow link to be excluded")
		}
	}
	if !found {
		t.Errorf("expected resolved relative link in %v", urls)
	}
}

func TestExtractHeadingStack(t *testing.T) {
	ex, err := Extract("http://example.com/page", testPage)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ex.Headings) != 2 {
		t.Fatalf("expected 2 headings, got %d", len(ex.Headings))
	}
	if len(ex.Paragraphs) != 3 {
		t.Fatalf("expected 3 paragraph/li entries, got %d", len(ex.Paragraphs))
	}
	if ex.Paragraphs[0].HeadingOrder != ex.Headings[0].Order {
		t.Errorf("expected first paragraph under first heading")
	}
	if ex.Paragraphs[1].HeadingOrder != ex.Headings[1].Order {
		t.Errorf("expected second paragraph under second heading")
	}
}
