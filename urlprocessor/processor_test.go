package urlprocessor

import (
	"testing"

	"github.com/codepr/gocrawl/queue"
)

func TestSeedDepthIsOne(t *testing.T) {
	item, ok := Seed("http://example.com/", Options{})
	if !ok {
		t.Fatalf("Seed failed: expected ok")
	}
	if item.Depth != 1 {
		t.Errorf("Seed failed: expected depth 1 got %d", item.Depth)
	}
}

func TestProcessRejectsEmpty(t *testing.T) {
	if _, ok := Process("   ", nil, Options{}); ok {
		t.Errorf("Process failed: expected rejection of empty input")
	}
}

func TestProcessRejectsUnparsable(t *testing.T) {
	if _, ok := Process("http://%zz", nil, Options{}); ok {
		t.Errorf("Process failed: expected rejection of unparsable url")
	}
}

func TestProcessResolvesAgainstReferrer(t *testing.T) {
	referrer := &queue.Item{URL: "http://example.com/a/b", Depth: 2}
	item, ok := Process("../c", referrer, Options{})
	if !ok {
		t.Fatalf("Process failed")
	}
	if item.URL != "http://example.com/c" {
		t.Errorf("Process failed: expected http://example.com/c got %s", item.URL)
	}
	if item.Depth != 3 {
		t.Errorf("Process failed: expected depth 3 got %d", item.Depth)
	}
}

func TestProcessStripWWW(t *testing.T) {
	item, ok := Process("http://www.x.com", nil, Options{StripWWWDomain: true})
	if !ok {
		t.Fatalf("Process failed")
	}
	if item.Host != "x.com" {
		t.Errorf("Process failed: expected host x.com got %s", item.Host)
	}
}

func TestProcessSortQueryParametersCollapsesDuplicates(t *testing.T) {
	a, _ := Process("http://x.com/?b=2&a=1", nil, Options{SortQueryParameters: true})
	b, _ := Process("http://x.com/?a=1&b=2", nil, Options{SortQueryParameters: true})
	if a.URL != b.URL {
		t.Errorf("Process failed: expected equal URLs got %s and %s", a.URL, b.URL)
	}
}

func TestProcessStripQuerystring(t *testing.T) {
	item, ok := Process("http://x.com/path?a=1", nil, Options{StripQuerystring: true})
	if !ok {
		t.Fatalf("Process failed")
	}
	if item.URL != "http://x.com/path" {
		t.Errorf("Process failed: expected http://x.com/path got %s", item.URL)
	}
}
