// Package extractor implements link discovery. The crawler core treats
// resource extraction as a pluggable collaborator that consumes a byte
// buffer and yields candidate URL strings; this package supplies the
// default regex-based implementation described by the crawler's discovery
// rules, plus a DOM-based alternative built on goquery for callers who
// prefer structural matching over text scanning (see dom.go).
package extractor

import (
	"regexp"
	"strings"
)

// Extractor discovers candidate URL strings (uncleaned, possibly relative)
// inside a fetched document. contentType is the response's declared MIME
// type, forwarded so implementations can skip non-markup bodies cheaply.
type Extractor interface {
	Extract(body []byte, contentType string) []string
}

// Options controls the default regex extractor's behavior.
type Options struct {
	// ParseHTMLComments, when false, strips HTML comments before scanning
	// so links mentioned only inside a comment are never discovered.
	// Default true.
	ParseHTMLComments bool
	// ParseScriptTags, when false, strips <script>...</script> blocks
	// before scanning. Default true.
	ParseScriptTags bool
	// RespectRobotsTxt, combined with a <meta name="robots"
	// content="nofollow"> tag, makes Extract return no candidates at all.
	RespectRobotsTxt bool
}

var (
	commentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	scriptRe   = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	hrefSrcRe  = regexp.MustCompile(`(?i)\b(?:href|src)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'>]+))`)
	cssURLRe   = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^)'"]*))\s*\)`)
	bareURLRe  = regexp.MustCompile(`https?://[^\s"'<>]+`)
	srcsetRe   = regexp.MustCompile(`(?i)\bsrcset\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	metaRe1    = regexp.MustCompile(`(?is)<meta[^>]*http-equiv\s*=\s*["']?refresh["']?[^>]*content\s*=\s*["']?[^"'>]*?url=([^"'>]+)`)
	metaRe2    = regexp.MustCompile(`(?is)<meta[^>]*content\s*=\s*["']?[^"'>]*?url=([^"'>]+)[^>]*http-equiv\s*=\s*["']?refresh["']?`)
	metaRobots = regexp.MustCompile(`(?is)<meta[^>]*name\s*=\s*["']?robots["']?[^>]*content\s*=\s*["']?[^"'>]*nofollow`)
)

// RegexExtractor is the default extractor: a sequence of regex matchers for
// href/src, CSS url(...), bare absolute http(s) URLs, srcset (first
// candidate of each comma-separated entry), and meta-refresh redirects.
type RegexExtractor struct {
	Options Options
}

// NewRegexExtractor creates a RegexExtractor with the given options.
func NewRegexExtractor(opts Options) *RegexExtractor {
	return &RegexExtractor{Options: opts}
}

// Extract implements Extractor.
func (e *RegexExtractor) Extract(body []byte, contentType string) []string {
	text := string(body)

	if e.Options.RespectRobotsTxt && metaRobots.MatchString(text) {
		return nil
	}

	if !e.Options.ParseHTMLComments {
		text = commentRe.ReplaceAllString(text, "")
	}
	if !e.Options.ParseScriptTags {
		text = scriptRe.ReplaceAllString(text, "")
	}

	var out []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	for _, m := range hrefSrcRe.FindAllStringSubmatch(text, -1) {
		add(firstNonEmpty(m[1], m[2], m[3]))
	}
	for _, m := range cssURLRe.FindAllStringSubmatch(text, -1) {
		add(firstNonEmpty(m[1], m[2], m[3]))
	}
	for _, m := range bareURLRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range srcsetRe.FindAllStringSubmatch(text, -1) {
		candidates := strings.Split(firstNonEmpty(m[1], m[2]), ",")
		for _, c := range candidates {
			fields := strings.Fields(strings.TrimSpace(c))
			if len(fields) > 0 {
				add(fields[0])
			}
		}
	}
	if m := metaRe1.FindStringSubmatch(text); m != nil {
		add(m[1])
	} else if m := metaRe2.FindStringSubmatch(text); m != nil {
		add(m[1])
	}

	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
