// Package robots implements the per-origin robots.txt gate: fetch, parse,
// and decision cache. It generalises the former crawler-package CrawlingRules
// (a single robots.txt tracked per crawl) into a registry that holds one
// entry per origin, kept in fetch order with an origin lookup index; a URL
// is judged by the entry of its own origin.
package robots

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const robotsTxtPath = "/robots.txt"

// ErrDisallowedRedirect is returned when the robots.txt fetch was redirected
// to a domain the domainValid predicate rejects.
var ErrDisallowedRedirect = errors.New("robots: redirected to a disallowed domain")

// Doer is the minimal HTTP surface the registry needs; satisfied by
// *http.Client (including one configured by the request engine with the
// crawler's user-agent, cookies, proxy and SSL-ignore settings).
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Entry is a parsed robots.txt for one origin.
type Entry struct {
	Origin   string
	group    *robotstxt.Group
	Sitemaps []string
}

// IsAllowed reports whether path is allowed under this entry, using the
// user-agent group selected when the entry was fetched. A nil group (no valid robots.txt was found) means fully permissive.
func (e *Entry) IsAllowed(path string) bool {
	if e == nil || e.group == nil {
		return true
	}
	return e.group.Test(path)
}

// CrawlDelay returns the robots.txt Crawl-delay directive, or 0 if absent.
func (e *Entry) CrawlDelay() time.Duration {
	if e == nil || e.group == nil {
		return 0
	}
	return e.group.CrawlDelay
}

// Registry tracks one Entry per origin, in the order they were first
// fetched, plus which origins have already been touched this crawl (so the
// control loop only fetches robots.txt once per origin).
type Registry struct {
	mu      sync.Mutex
	entries []*Entry
	index   map[string]int
	touched map[string]bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{index: make(map[string]int), touched: make(map[string]bool)}
}

// Touch marks origin as having had its robots.txt fetch attempted,
// returning whether it was already touched (in which case the control loop
// must not fetch it again).
func (r *Registry) Touch(origin string) (alreadyTouched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alreadyTouched = r.touched[origin]
	r.touched[origin] = true
	return alreadyTouched
}

// Fetch retrieves and parses ${origin}/robots.txt via client, using
// userAgent both as the request header and as the robots.txt group
// selector. Redirects are only followed when domainValid accepts the
// target host; a non-2xx terminal response is treated as "no rules" (fully
// permissive), not an error. Sitemaps discovered in the file are returned
// so the caller can enqueue them against the robots.txt's own queue item as
// referrer.
func (r *Registry) Fetch(client Doer, origin, userAgent string, domainValid func(host string) bool) (*Entry, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, err
	}
	target := base.ResolveReference(&url.URL{Path: robotsTxtPath})

	req, err := http.NewRequest(http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.doWithRedirectCheck(client, req, domainValid)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	entry := &Entry{Origin: origin}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := robotstxt.FromResponse(resp)
		if err == nil {
			entry.group = data.FindGroup(userAgent)
			entry.Sitemaps = data.Sitemaps
		}
	}
	// non-2xx: entry.group stays nil, i.e. fully permissive.

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.index[origin] = len(r.entries) - 1
	r.mu.Unlock()

	return entry, nil
}

func (r *Registry) doWithRedirectCheck(client Doer, req *http.Request, domainValid func(string) bool) (*http.Response, error) {
	// Not every Doer offers CheckRedirect hooks (a plain http.Client does,
	// but test doubles may not), so we drive redirect-following ourselves
	// to guarantee the domain check happens on every hop.
	const maxRedirects = 10
	if hc, ok := client.(*http.Client); ok {
		// Stop an *http.Client from following redirects on its own, which
		// would bypass the per-hop domain check below.
		manual := *hc
		manual.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &manual
	}
	for i := 0; i < maxRedirects; i++ {
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 300 || resp.StatusCode >= 400 || resp.Header.Get("Location") == "" {
			return resp, nil
		}
		loc := resp.Header.Get("Location")
		resp.Body.Close()
		next, err := req.URL.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("robots: invalid redirect location %q: %w", loc, err)
		}
		if domainValid != nil && !domainValid(next.Hostname()) {
			return nil, ErrDisallowedRedirect
		}
		newReq, err := http.NewRequest(http.MethodGet, next.String(), nil)
		if err != nil {
			return nil, err
		}
		newReq.Header = req.Header.Clone()
		req = newReq
	}
	return nil, fmt.Errorf("robots: too many redirects")
}

// Lookup returns the Entry for origin, if one has been fetched.
func (r *Registry) Lookup(origin string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.index[origin]
	if !ok {
		return nil, false
	}
	return r.entries[idx], true
}

// IsAllowed looks up the entry fetched for the URL's origin and tests the
// URL's path against it; if no entry exists for that origin the URL is
// allowed. userAgent is not consulted here: the entry's group was selected
// by Fetch.
func (r *Registry) IsAllowed(rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	origin := fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	entry, ok := r.Lookup(origin)
	if !ok {
		return true
	}
	path := u.RequestURI()
	return entry.IsAllowed(path)
}
