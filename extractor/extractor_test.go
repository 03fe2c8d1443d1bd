package extractor

import (
	"net/url"
	"testing"
)

func TestRegexExtractorHrefSrc(t *testing.T) {
	e := NewRegexExtractor(Options{ParseHTMLComments: true, ParseScriptTags: true})
	body := []byte(`<a href="/a">x</a><img src='/b.png'>`)
	got := e.Extract(body, "text/html")
	if !contains(got, "/a") || !contains(got, "/b.png") {
		t.Errorf("Extract failed: got %v", got)
	}
}

func TestRegexExtractorCSSURL(t *testing.T) {
	e := NewRegexExtractor(Options{ParseHTMLComments: true, ParseScriptTags: true})
	body := []byte(`<style>.x{background:url('/bg.png')}</style>`)
	got := e.Extract(body, "text/css")
	if !contains(got, "/bg.png") {
		t.Errorf("Extract failed: got %v", got)
	}
}

func TestRegexExtractorSrcset(t *testing.T) {
	e := NewRegexExtractor(Options{ParseHTMLComments: true, ParseScriptTags: true})
	body := []byte(`<img srcset="/a.png 1x, /b.png 2x">`)
	got := e.Extract(body, "text/html")
	if !contains(got, "/a.png") || !contains(got, "/b.png") {
		t.Errorf("Extract failed: got %v", got)
	}
}

func TestRegexExtractorMetaRefresh(t *testing.T) {
	e := NewRegexExtractor(Options{ParseHTMLComments: true, ParseScriptTags: true})
	body := []byte(`<meta http-equiv="refresh" content="0;url=/next">`)
	got := e.Extract(body, "text/html")
	if !contains(got, "/next") {
		t.Errorf("Extract failed: got %v", got)
	}
}

func TestRegexExtractorStripsComments(t *testing.T) {
	e := NewRegexExtractor(Options{ParseHTMLComments: false, ParseScriptTags: true})
	body := []byte(`<!-- <a href="/hidden">x</a> --><a href="/visible">y</a>`)
	got := e.Extract(body, "text/html")
	if contains(got, "/hidden") || !contains(got, "/visible") {
		t.Errorf("Extract failed: got %v", got)
	}
}

func TestRegexExtractorNofollowStopsAll(t *testing.T) {
	e := NewRegexExtractor(Options{ParseHTMLComments: true, ParseScriptTags: true, RespectRobotsTxt: true})
	body := []byte(`<meta name="robots" content="nofollow"><a href="/a">x</a>`)
	got := e.Extract(body, "text/html")
	if len(got) != 0 {
		t.Errorf("Extract failed: expected no candidates got %v", got)
	}
}

func TestCleanExpandResolvesAndDedupes(t *testing.T) {
	referrer, _ := url.Parse("http://example.com/dir/page")
	candidates := []string{
		`href="foo"`,
		`foo`,
		`//example.com/bar#frag`,
		`javascript:go("baz")`,
	}
	got := CleanExpand(candidates, referrer, CleanExpandOptions{})
	if len(got) != 3 {
		t.Fatalf("CleanExpand failed: expected 3 unique urls got %v", got)
	}
}

func TestCleanExpandDecodesEntities(t *testing.T) {
	referrer, _ := url.Parse("http://example.com/")
	got := CleanExpand([]string{"/x?a=1&amp;b=2"}, referrer, CleanExpandOptions{})
	if len(got) != 1 || got[0] != "http://example.com/x?a=1&b=2" {
		t.Errorf("CleanExpand failed: got %v", got)
	}
}

func TestCleanExpandRejectsDisallowedProtocol(t *testing.T) {
	referrer, _ := url.Parse("http://example.com/")
	got := CleanExpand([]string{"ftp://example.com/file"}, referrer, CleanExpandOptions{})
	if len(got) != 0 {
		t.Errorf("CleanExpand failed: expected ftp rejected got %v", got)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
