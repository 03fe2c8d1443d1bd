package extractor

import "testing"

func TestDOMExtractorFindsAnchorsAndImages(t *testing.T) {
	e := NewDOMExtractor()
	body := []byte(`<html><body><a href="/a">x</a><img src="/b.png"></body></html>`)
	got := e.Extract(body, "text/html")
	if !contains(got, "/a") || !contains(got, "/b.png") {
		t.Errorf("Extract failed: got %v", got)
	}
}

func TestDOMExtractorMalformedDocumentDoesNotPanic(t *testing.T) {
	e := NewDOMExtractor()
	got := e.Extract([]byte(`not really html <<< `), "text/html")
	_ = got
}
