package extractor

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	attrFluffRe     = regexp.MustCompile(`(?i)^(?:href|src)\s*=\s*`)
	quoteRe         = regexp.MustCompile(`^["']|["']$`)
	cssURLWrapperRe = regexp.MustCompile(`(?i)^url\(\s*["']?|["']?\s*\)$`)
	jsCallRe        = regexp.MustCompile(`(?i)^javascript:\w+\(["']([^"']*)["']\)$`)
)

// entities are the four hard-coded HTML entities the crawler decodes while
// cleaning a candidate link -- deliberately a closed set, not a general
// HTML-entity decoder, matching the original crawler's narrow scope.
var entities = []struct{ from, to string }{
	{"&amp;", "&"},
	{"&#38;", "&"},
	{"&#x00026;", "&"},
	{"&#x2f;", "/"},
}

// CleanExpandOptions configures CleanExpand.
type CleanExpandOptions struct {
	AllowedProtocols []*regexp.Regexp
}

// DefaultAllowedProtocols matches http, https, and rss/atom/feed URLs (with
// an optional "+xml" suffix), the crawler's default allowlist.
func DefaultAllowedProtocols() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)^https?$`),
		regexp.MustCompile(`(?i)^(rss|atom|feed)(\+xml)?$`),
	}
}

// CleanExpand strips HTML-attribute fluff from each raw candidate, decodes
// the crawler's four hard-coded entities, rewrites protocol-relative
// ("//host/path") URLs using referrer's scheme, drops fragments, resolves
// against referrer, rejects URLs whose scheme is not in opts
// .AllowedProtocols, and de-duplicates the result, preserving first-seen
// order.
func CleanExpand(candidates []string, referrer *url.URL, opts CleanExpandOptions) []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range candidates {
		cleaned := clean(raw)
		if cleaned == "" {
			continue
		}
		if strings.HasPrefix(cleaned, "//") && referrer != nil {
			cleaned = referrer.Scheme + ":" + cleaned
		}
		u, err := url.Parse(cleaned)
		if err != nil {
			continue
		}
		u.Fragment = ""
		if referrer != nil {
			u = referrer.ResolveReference(u)
		}
		if !protocolAllowed(u.Scheme, opts.AllowedProtocols) {
			continue
		}
		final := u.String()
		if seen[final] {
			continue
		}
		seen[final] = true
		out = append(out, final)
	}
	return out
}

func clean(raw string) string {
	s := strings.TrimSpace(raw)
	if m := jsCallRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	s = attrFluffRe.ReplaceAllString(s, "")
	s = cssURLWrapperRe.ReplaceAllString(s, "")
	s = quoteRe.ReplaceAllString(s, "")
	for _, e := range entities {
		s = strings.ReplaceAll(s, e.from, e.to)
	}
	return strings.TrimSpace(s)
}

func protocolAllowed(scheme string, allowed []*regexp.Regexp) bool {
	if scheme == "" {
		return true
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedProtocols()
	}
	for _, re := range allowed {
		if re.MatchString(scheme) {
			return true
		}
	}
	return false
}
