package extractor

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
)

// DOMExtractor is an alternative to RegexExtractor built on goquery, the
// same HTML parsing library the crawler's teacher project used for anchor
// discovery (see the former fetcher.GoqueryParser). Where the regex
// extractor scans raw text, DOMExtractor walks the parsed tree and is less
// prone to false positives from malformed markup, at the cost of needing a
// well-formed document.
type DOMExtractor struct {
	// Tags names the elements inspected for a link-bearing attribute, e.g.
	// {"a": "href", "img": "src", "link": "href", "script": "src"}.
	Tags map[string]string
}

// NewDOMExtractor creates a DOMExtractor with the crawler's default element
// set: anchors and link elements by href, images, scripts and iframes by
// src.
func NewDOMExtractor() *DOMExtractor {
	return &DOMExtractor{Tags: map[string]string{
		"a":      "href",
		"link":   "href",
		"img":    "src",
		"script": "src",
		"iframe": "src",
	}}
}

// Extract implements Extractor.
func (d *DOMExtractor) Extract(body []byte, contentType string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for tag, attr := range d.Tags {
		doc.Find(tag).Each(func(i int, sel *goquery.Selection) {
			val, ok := sel.Attr(attr)
			if !ok || val == "" || seen[val] {
				return
			}
			seen[val] = true
			out = append(out, val)
		})
	}
	return out
}
