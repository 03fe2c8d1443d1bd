// Package request implements the per-item HTTP state machine described by
// the crawler: spool, request, headers, download, terminal status. It
// generalises the teacher project's stdHttpFetcher (crawler/fetcher) --
// rehttp-backed retries over the standard library's http.Client -- into a
// full state machine wired to the fetch queue, cookie jar, cache and event
// bus.
package request

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/rehttp"
)

// ClientOptions configures the transport the engine issues requests
// through.
type ClientOptions struct {
	Timeout        time.Duration
	IgnoreInvalidSSL bool
	UseProxy       bool
	ProxyURL       string
	MaxRetries     int
}

// NewClient builds an *http.Client with a rehttp-wrapped transport that
// retries temporary errors with exponential jittered backoff, the same
// retry strategy the teacher project's fetcher used.
func NewClient(opts ClientOptions) *http.Client {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.IgnoreInvalidSSL},
	}
	if opts.UseProxy && opts.ProxyURL != "" {
		if proxyURL, err := url.Parse(opts.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	retryTransport := rehttp.NewTransport(
		transport,
		rehttp.RetryAll(
			rehttp.RetryMaxRetries(maxRetries),
			rehttp.RetryTemporaryErr(),
		),
		rehttp.ExpJitterDelay(1, 10*time.Second),
	)
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: retryTransport,
		// Redirects are handled manually by the engine so every hop can be
		// inspected and turned into its own QueueItem/event pair.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
