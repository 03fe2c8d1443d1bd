// Package events implements the publish/subscribe surface through which the
// crawler reports every observable lifecycle transition. It plays the same
// role that messaging.ProducerConsumer plays for crawl results: a decoupling
// point between the crawl control loop and whatever wants to react to it
// (indexers, mirrors, scrapers, link checkers).
package events

import "sync"

// Name identifies a lifecycle transition emitted by the crawler.
type Name string

// The full event surface. Payloads are documented per event in the crawler
// package that emits them.
const (
	CrawlStart           Name = "crawlstart"
	QueueAdd             Name = "queueadd"
	QueueDuplicate       Name = "queueduplicate"
	QueueError           Name = "queueerror"
	InvalidDomain        Name = "invaliddomain"
	FetchDisallowed      Name = "fetchdisallowed"
	FetchConditionError  Name = "fetchconditionerror"
	FetchPrevented       Name = "fetchprevented"
	FetchStart           Name = "fetchstart"
	FetchHeaders         Name = "fetchheaders"
	FetchComplete        Name = "fetchcomplete"
	FetchRedirect        Name = "fetchredirect"
	NotModified          Name = "notmodified"
	Fetch404             Name = "fetch404"
	Fetch410             Name = "fetch410"
	FetchError           Name = "fetcherror"
	FetchDataError       Name = "fetchdataerror"
	FetchTimeout         Name = "fetchtimeout"
	FetchClientError     Name = "fetchclienterror"
	GzipError            Name = "gziperror"
	CookieError          Name = "cookieerror"
	DownloadConditionErr Name = "downloadconditionerror"
	DownloadPrevented    Name = "downloadprevented"
	RobotsTxtError       Name = "robotstxterror"
	DiscoveryComplete    Name = "discoverycomplete"
	Complete             Name = "complete"
)

// Handler reacts to an emitted event. Handlers run synchronously, in
// subscription order, on whatever goroutine called Emit; the crawler
// relies on this to keep every mutation of shared state inside a single
// logical thread of execution.
type Handler func(args ...interface{})

// Bus is an ordered multi-subscriber dispatcher keyed by event Name. The
// zero value is not usable; construct one with New.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Name][]Handler)}
}

// On registers a handler for the given event name. Handlers for the same
// name fire in registration order.
func (b *Bus) On(name Name, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit calls every handler registered for name, in order, passing args
// through unchanged. Emit never panics on an event with no subscribers.
func (b *Bus) Emit(name Name, args ...interface{}) {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[name]))
	copy(hs, b.handlers[name])
	b.mu.RUnlock()
	for _, h := range hs {
		h(args...)
	}
}

// Len reports how many handlers are registered for name, mostly useful in
// tests.
func (b *Bus) Len(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
