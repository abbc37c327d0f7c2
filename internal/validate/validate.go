// Package validate implements URL syntax checking, IRI-to-URI escaping, and
// filename sanitisation for the crawl engine. Nothing here ever panics or
// returns an error: invalid input yields false or a best-effort string.
package validate

import (
	"regexp"
	"strings"
)

// urlRegexp mirrors Django's absolute-URL validator: scheme, DNS-label host
// or localhost or IPv4, optional port, optional path.
var urlRegexp = regexp.MustCompile(
	`(?i)^(?:http|ftp)s?://` +
		`(?:(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+(?:[a-z]{2,6}\.?|[a-z0-9-]{2,}\.?)|` +
		`localhost|` +
		`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})` +
		`(?::\d+)?` +
		`(?:/?|[/?]\S+)$`,
)

// officeExtensionSuffix is the final letter of the office-document
// extensions (.docx, .pptx, .xlsx, ...) that are rejected outright.
var officeExtensionSuffix = "x"

// allowedThreeLetterExtensions is consulted when the last path segment has a
// 4-char extension (".htm", ".com", ...).
var allowedThreeLetterExtensions = map[string]bool{
	"htm": true,
	"com": true,
	"org": true,
	"edu": true,
	"gov": true,
}

// URLValid reports whether u is an absolute URL this crawler is willing to
// enqueue: matches the URL grammar, does not carry an office-document style
// extension, has an acceptable 3-letter extension when a 4-char extension is
// present, and does not match any configured nofollow host substring.
func URLValid(u string, nofollow []string) bool {
	if !urlRegexp.MatchString(u) {
		return false
	}
	return extensionAndNofollowOK(u, nofollow)
}

// extensionAndNofollowOK implements the extension-blocklist and nofollow
// substring rules independent of grammar validation, grounded on
// original_source/crawler/validate.py's url().
func extensionAndNofollowOK(u string, nofollow []string) bool {
	trimmed := strings.TrimRight(u, "/")
	if trimmed == "" {
		return true
	}

	// Office-document style extensions (.docx, .pptx, .xlsx, ...): last char
	// is 'x' and the 5th-from-last char is '.'.
	if len(trimmed) >= 5 && trimmed[len(trimmed)-1:] == officeExtensionSuffix && trimmed[len(trimmed)-5:len(trimmed)-4] == "." {
		return false
	}

	// If the last path segment has a 4-char extension, it must be one of the
	// allowed three-letter extensions. A URL with no path has no segment.
	segment := trimmed
	if i := strings.Index(segment, "://"); i >= 0 {
		segment = segment[i+3:]
		if j := strings.IndexByte(segment, '/'); j >= 0 {
			segment = segment[j+1:]
		} else {
			segment = ""
		}
	}
	if k := strings.LastIndexByte(segment, '/'); k >= 0 {
		segment = segment[k+1:]
	}
	if len(segment) >= 4 && segment[len(segment)-4] == '.' {
		ext := strings.ToLower(segment[len(segment)-3:])
		if !allowedThreeLetterExtensions[ext] {
			return false
		}
	}

	lower := strings.ToLower(trimmed)
	for _, n := range nofollow {
		if n == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(n)) {
			return false
		}
	}
	return true
}

// reservedChars is the set of bytes iri_to_uri percent-encodes beyond the
// 0x80-0xFF range: quote, apostrophe, comma, semicolon, colon.
const reservedChars = `"',;:`

// IRIToURI percent-encodes every byte in 0x80..0xFF and the reserved
// character set, leaving ASCII-safe bytes untouched. Grounded on
// original_source/crawler/validate.py's iri_to_uri/url_encode_non_ascii.
func IRIToURI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 || strings.IndexByte(reservedChars, c) >= 0 {
			b.WriteString("%")
			b.WriteString(hexByte(c))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

const hexDigits = "0123456789abcdef"

func hexByte(c byte) string {
	return string([]byte{hexDigits[c>>4], hexDigits[c&0x0f]})
}

// filenameSafe matches characters allowed verbatim in a sanitised filename.
var filenameSafe = regexp.MustCompile(`[^A-Za-z0-9._/-]`)

var multiSlash = regexp.MustCompile(`/+`)

// SanitiseFilename removes characters outside [A-Za-z0-9._/-] and, when
// collapseSlashes is true, collapses consecutive '/' into one.
func SanitiseFilename(s string, collapseSlashes bool) string {
	cleaned := filenameSafe.ReplaceAllString(s, "")
	if collapseSlashes {
		cleaned = multiSlash.ReplaceAllString(cleaned, "/")
	}
	return cleaned
}
