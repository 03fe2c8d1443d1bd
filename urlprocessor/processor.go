// Package urlprocessor canonicalises a raw URL string into the shape the
// fetch queue works with (queue.Item), resolving it against an optional
// referrer. It plays the role the former fetcher.resolveRelativeURL played
// for the goquery-based link parser, generalised to the crawler's full set of
// normalisation options.
package urlprocessor

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/codepr/gocrawl/queue"
)

// Encoding selects how the normalised URL string is encoded.
type Encoding int

const (
	EncodingUnicode Encoding = iota
	EncodingISO8859
)

// Options mirrors the subset of engine configuration that affects URL
// normalisation.
type Options struct {
	StripWWWDomain       bool
	StripQuerystring     bool
	SortQueryParameters  bool
	URLEncoding          Encoding
}

// Process trims raw, resolves it against referrer (nil for a seed URL, in
// which case depth becomes 1 via the synthetic referrer convention), and
// returns a fully populated queue.Item with Status = created and Fetched =
// false. ok is false when raw is empty after trimming or cannot be parsed.
func Process(raw string, referrer *queue.Item, opts Options) (*queue.Item, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, false
	}

	var refURL *url.URL
	refDepth := 0
	refURLStr := ""
	if referrer != nil {
		refURLStr = referrer.URL
		refDepth = referrer.Depth
		if u, err := url.Parse(referrer.URL); err == nil {
			refURL = u
		}
	}

	if refURL != nil {
		parsed = refURL.ResolveReference(parsed)
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}

	host := parsed.Hostname()
	if opts.StripWWWDomain {
		host = strings.TrimPrefix(host, "www.")
	}

	if opts.StripQuerystring {
		parsed.RawQuery = ""
	} else if opts.SortQueryParameters && parsed.RawQuery != "" {
		parsed.RawQuery = sortedQuery(parsed.RawQuery)
	}

	normalized := parsed.String()
	if opts.StripWWWDomain && strings.HasPrefix(parsed.Host, "www.") {
		normalized = strings.Replace(normalized, parsed.Host, strings.TrimPrefix(parsed.Host, "www."), 1)
	}

	if opts.URLEncoding == EncodingISO8859 {
		normalized = toISO88591(normalized)
	}

	item := &queue.Item{
		URL:      normalized,
		Protocol: parsed.Scheme,
		Host:     host,
		Port:     parsed.Port(),
		Path:     parsed.Path,
		URIPath:  requestURI(parsed),
		Depth:    refDepth + 1,
		Referrer: refURLStr,
		Fetched:  false,
		Status:   queue.StatusCreated,
	}
	return item, true
}

// Seed builds the item for the crawl's starting URL, using the synthetic
// referrer {url: initialURL, depth: 0} so that the seed's depth becomes 1.
func Seed(rawURL string, opts Options) (*queue.Item, bool) {
	synthetic := &queue.Item{URL: rawURL, Depth: 0}
	return Process(rawURL, synthetic, opts)
}

func requestURI(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Path
	}
	return u.Path + "?" + u.RawQuery
}

func sortedQuery(raw string) string {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		sort.Strings(values[k])
		for j, v := range values[k] {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// toISO88591 re-encodes a unicode string into Latin-1 via charmap.ISO8859_1,
// mirroring the engine's optional ISO-8859-1 URL encoding mode used by
// servers that reject percent-encoded UTF-8 in request lines. If s contains
// a rune outside the Latin-1 range the encoder fails and s is returned
// unchanged.
func toISO88591(s string) string {
	out, _, err := transform.String(charmap.ISO8859_1.NewEncoder(), s)
	if err != nil {
		return s
	}
	return out
}
