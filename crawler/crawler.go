// Package crawler implements the crawl control loop: a periodic scheduler
// that picks the oldest unfetched queue item, gates it on robots.txt and the
// admission predicates, hands it to the request engine, and detects
// completion. It generalises WebCrawler's crawlPage loop -- a semaphore-bound
// goroutine fan-out reading from a links channel -- into the ticking,
// single-logical-thread scheduler the event-driven design calls for.
package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/codepr/gocrawl/cache"
	"github.com/codepr/gocrawl/cookiejar"
	"github.com/codepr/gocrawl/env"
	"github.com/codepr/gocrawl/events"
	"github.com/codepr/gocrawl/extractor"
	"github.com/codepr/gocrawl/messaging"
	"github.com/codepr/gocrawl/predicates"
	"github.com/codepr/gocrawl/queue"
	"github.com/codepr/gocrawl/request"
	"github.com/codepr/gocrawl/robots"
	"github.com/codepr/gocrawl/urlprocessor"
)

// Default settings, mirroring the crawler's documented configuration surface.
const (
	DefaultInterval                = 250 * time.Millisecond
	DefaultMaxConcurrency           = 5
	DefaultTimeout                 = 300 * time.Second
	DefaultListenerTTL              = 10 * time.Second
	DefaultMaxResourceSize    int64 = 16 << 20
	DefaultUserAgent                = "Mozilla/5.0 (compatible; gocrawl/1.0; +https://github.com/codepr/gocrawl)"
)

// ErrAlreadyRunning is returned by Start when the crawler is already running.
// Such a call has no effect on the running crawl (Start is idempotent); the
// error only tells the caller that nothing was started.
var ErrAlreadyRunning = errors.New("crawler: already running")

// Config is the crawler's external configuration surface (§6 of the
// underlying design): scheduling, scope, and transport knobs.
type Config struct {
	UserAgent                string
	Interval                 time.Duration
	MaxConcurrency           int
	Timeout                  time.Duration
	ListenerTTL              time.Duration
	RespectRobotsTxt         bool
	AllowInitialDomainChange bool
	DecompressResponses      bool
	DecodeResponses          bool
	FilterByDomain           bool
	ScanSubdomains           bool
	IgnoreWWWDomain          bool
	StripWWWDomain           bool
	StripQuerystring         bool
	SortQueryParameters      bool
	URLEncoding              urlprocessor.Encoding
	MaxDepth                 int
	MaxResourceSize          int64
	DownloadUnsupported      bool
	SupportedMimeTypes       []string
	ParseHTMLComments        bool
	ParseScriptTags          bool
	AllowedProtocols         []string
	DomainWhitelist          []string
	CustomHeaders            map[string]string
	NeedsAuth                bool
	AuthUser, AuthPass       string
	UseProxy                 bool
	ProxyHostname            string
	ProxyPort                int
	ProxyUser, ProxyPass     string
	AcceptCookies            bool
	IgnoreInvalidSSL         bool
	MaxRetries               int
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:           DefaultUserAgent,
		Interval:            DefaultInterval,
		MaxConcurrency:      DefaultMaxConcurrency,
		Timeout:             DefaultTimeout,
		ListenerTTL:         DefaultListenerTTL,
		RespectRobotsTxt:    true,
		DecompressResponses: true,
		FilterByDomain:      true,
		IgnoreWWWDomain:     true,
		MaxResourceSize:     DefaultMaxResourceSize,
		DownloadUnsupported: true,
		ParseHTMLComments:   true,
		ParseScriptTags:     true,
		AcceptCookies:       true,
	}
}

// ConfigFromEnv reads Config overrides from the process environment, using
// the same GetEnv/GetEnvAsInt helpers the original crawler package used for
// its settings.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.UserAgent = env.GetEnv("GOCRAWL_USERAGENT", cfg.UserAgent)
	cfg.Interval = time.Duration(env.GetEnvAsInt("GOCRAWL_INTERVAL_MS", int(cfg.Interval/time.Millisecond))) * time.Millisecond
	cfg.MaxConcurrency = env.GetEnvAsInt("GOCRAWL_CONCURRENCY", cfg.MaxConcurrency)
	cfg.Timeout = time.Duration(env.GetEnvAsInt("GOCRAWL_TIMEOUT_SEC", int(cfg.Timeout/time.Second))) * time.Second
	cfg.MaxDepth = env.GetEnvAsInt("GOCRAWL_MAX_DEPTH", cfg.MaxDepth)
	return cfg
}

// Option mutates a Crawler at construction time, the same option pattern the
// source used for CrawlerOpt, generalised from a CrawlerSettings mutator to
// a Crawler mutator so options can wire collaborators as well as scalars.
type Option func(*Crawler)

// WithResultsQueue wires an optional messaging.Producer that receives a
// json-encoded DiscoveryResult for every discoverycomplete event, playing
// the same decoupling role ParsedResult/messaging.Producer played in the
// source crawler.
func WithResultsQueue(p messaging.Producer) Option {
	return func(c *Crawler) { c.results = p }
}

// WithCache wires a conditional-fetch cache collaborator.
func WithCache(ch cache.Cache) Option {
	return func(c *Crawler) { c.cacheObj = ch }
}

// WithExtractor overrides the default regex-based link extractor.
func WithExtractor(ex extractor.Extractor) Option {
	return func(c *Crawler) { c.extract = ex }
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Crawler) { c.logger = l }
}

// DiscoveryResult is the payload forwarded to the results queue, mirroring
// the source's ParsedResult shape (url + discovered links).
type DiscoveryResult struct {
	URL   string   `json:"url"`
	Links []string `json:"links"`
}

// Crawler runs a single-seed crawl: one ticking control loop, one fetch
// queue, one robots registry, one cookie jar, driving a request.Engine.
type Crawler struct {
	cfg     Config
	logger  *log.Logger
	bus     *events.Bus
	q       *queue.Queue
	jar     *cookiejar.Jar
	cacheObj cache.Cache
	robotsReg *robots.Registry
	extract extractor.Extractor

	fetchConditions    *predicates.List
	downloadConditions *predicates.List

	engine *request.Engine

	results messaging.Producer

	mu                 sync.Mutex
	running            bool
	startedOnce        bool
	done               chan struct{}
	engineHost         string
	seedURL            string
	fetchingRobotsTxt  bool
	fetchingQueueItem  bool
	openListeners      int32
}

// New constructs a Crawler with the given configuration and options.
func New(cfg Config, opts ...Option) *Crawler {
	bus := events.New()
	q := queue.New()
	jar := cookiejar.New(bus)
	fetchConditions := predicates.NewList()
	downloadConditions := predicates.NewList()

	c := &Crawler{
		cfg:                cfg,
		logger:             log.New(os.Stderr, "crawler: ", log.LstdFlags),
		bus:                bus,
		q:                  q,
		jar:                jar,
		robotsReg:          robots.New(),
		extract:            extractor.NewRegexExtractor(extractor.Options{ParseHTMLComments: cfg.ParseHTMLComments, ParseScriptTags: cfg.ParseScriptTags, RespectRobotsTxt: cfg.RespectRobotsTxt}),
		fetchConditions:    fetchConditions,
		downloadConditions: downloadConditions,
	}
	for _, opt := range opts {
		opt(c)
	}

	client := request.NewClient(request.ClientOptions{
		Timeout:          cfg.Timeout,
		IgnoreInvalidSSL: cfg.IgnoreInvalidSSL,
		UseProxy:         cfg.UseProxy,
		ProxyURL:         proxyURL(cfg),
		MaxRetries:       cfg.MaxRetries,
	})
	c.engine = request.New(request.Config{
		UserAgent:           cfg.UserAgent,
		Timeout:             cfg.Timeout,
		MaxResourceSize:     cfg.MaxResourceSize,
		DecompressResponses: cfg.DecompressResponses,
		DecodeResponses:     cfg.DecodeResponses,
		SupportedMimeTypes:  compilePatterns(cfg.SupportedMimeTypes),
		DownloadUnsupported: cfg.DownloadUnsupported,
		AllowedProtocols:    compilePatterns(cfg.AllowedProtocols),
		CustomHeaders:       cfg.CustomHeaders,
		NeedsAuth:           cfg.NeedsAuth,
		AuthUser:            cfg.AuthUser,
		AuthPass:            cfg.AuthPass,
		ProxyUser:           cfg.ProxyUser,
		ProxyPass:           cfg.ProxyPass,
		AcceptCookies:       cfg.AcceptCookies,
	}, client, bus, q, jar, c.cacheObj, nil, downloadConditions, c.extract)
	c.engine.Admit = func(rawURL string, referrer *queue.Item) { c.queueURL(rawURL, referrer, false) }
	c.engine.AdmitRedirect = c.admitRedirect

	bus.On(events.DiscoveryComplete, c.onDiscoveryComplete)

	return c
}

// NewFromEnv builds a Crawler from ConfigFromEnv plus any extra options.
func NewFromEnv(opts ...Option) *Crawler {
	return New(ConfigFromEnv(), opts...)
}

func proxyURL(cfg Config) string {
	if !cfg.UseProxy || cfg.ProxyHostname == "" {
		return ""
	}
	if cfg.ProxyPort != 0 {
		return fmt.Sprintf("http://%s:%d", cfg.ProxyHostname, cfg.ProxyPort)
	}
	return fmt.Sprintf("http://%s", cfg.ProxyHostname)
}

// Events exposes the crawler's event bus for subscription.
func (c *Crawler) Events() *events.Bus { return c.bus }

// Queue exposes the underlying fetch queue, mostly for statistics/snapshot
// callers.
func (c *Crawler) Queue() *queue.Queue { return c.q }

// AddFetchCondition registers a predicate evaluated during URL admission,
// before queueing, returning its stable slot index.
func (c *Crawler) AddFetchCondition(p *predicates.Predicate) int {
	return c.fetchConditions.Add(p)
}

// AddDownloadCondition registers a predicate evaluated after response
// headers, before the body is streamed, returning its stable slot index.
func (c *Crawler) AddDownloadCondition(p *predicates.Predicate) int {
	return c.downloadConditions.Add(p)
}

// Wait declares that asynchronous discovery is in progress outside the
// built-in extractor; the control loop treats a non-zero hold count as
// "work pending" and will not emit complete. The returned release function
// must be called when the caller's discovery finishes; the hold also
// expires automatically after cfg.ListenerTTL.
func (c *Crawler) Wait() (release func()) {
	atomic.AddInt32(&c.openListeners, 1)
	var once sync.Once
	release = func() {
		once.Do(func() { atomic.AddInt32(&c.openListeners, -1) })
	}
	ttl := c.cfg.ListenerTTL
	if ttl <= 0 {
		ttl = DefaultListenerTTL
	}
	time.AfterFunc(ttl, release)
	return release
}

// Start begins crawling from seedURL. Calling Start while already running
// has no effect and returns ErrAlreadyRunning.
// crawlstart fires on every Start, including resumptions after Stop.
func (c *Crawler) Start(seedURL string) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.bus.Emit(events.CrawlStart)

	if !c.startedOnce {
		c.startedOnce = true
		seed, ok := urlprocessor.Seed(seedURL, c.urlOpts())
		if !ok {
			return fmt.Errorf("crawler: invalid seed URL %q", seedURL)
		}
		c.mu.Lock()
		c.engineHost = seed.Host
		c.seedURL = seed.URL
		c.mu.Unlock()
		c.queueURL(seedURL, nil, false)
	}

	interval := c.cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	go c.run(interval)
	return nil
}

func (c *Crawler) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.done:
			return
		}
	}
}

// Stop halts scheduling of new requests. When abort is true, every tracked
// in-flight request is also cancelled; otherwise in-flight requests are
// allowed to finish (their completions still land, harmlessly, after the
// loop has stopped ticking).
func (c *Crawler) Stop(abort bool) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	done := c.done
	c.mu.Unlock()

	close(done)
	if abort {
		c.engine.AbortAll()
	}
}

// tick implements one control-loop cycle: §4.7.
func (c *Crawler) tick() {
	c.mu.Lock()
	if c.engine.OpenRequestCount() >= maxConcurrency(c.cfg) || c.fetchingRobotsTxt || c.fetchingQueueItem {
		c.mu.Unlock()
		return
	}
	c.fetchingQueueItem = true
	c.mu.Unlock()

	c.q.OldestUnfetchedItem(func(err error, result interface{}) {
		c.mu.Lock()
		c.fetchingQueueItem = false
		c.mu.Unlock()

		if err != nil {
			c.logger.Println("oldestUnfetchedItem:", err)
			return
		}
		if result == nil {
			c.checkComplete()
			return
		}
		item := result.(*queue.Item)
		c.dispatch(item)
	})
}

func maxConcurrency(cfg Config) int {
	if cfg.MaxConcurrency <= 0 {
		return DefaultMaxConcurrency
	}
	return cfg.MaxConcurrency
}

func (c *Crawler) dispatch(item *queue.Item) {
	if !c.cfg.RespectRobotsTxt {
		c.fetchItem(item)
		return
	}

	origin := item.Origin()
	if alreadyTouched := c.robotsReg.Touch(origin); alreadyTouched {
		c.checkAllowedAndFetch(item)
		return
	}

	c.mu.Lock()
	c.fetchingRobotsTxt = true
	c.mu.Unlock()

	go func() {
		entry, err := c.robotsReg.Fetch(c.httpDoer(), origin, c.cfg.UserAgent, c.domainValid)
		c.mu.Lock()
		c.fetchingRobotsTxt = false
		c.mu.Unlock()

		if err != nil {
			c.bus.Emit(events.RobotsTxtError, err)
		} else if entry != nil {
			robotsItem := &queue.Item{URL: origin + "/robots.txt", Host: item.Host, Protocol: item.Protocol}
			for _, sitemap := range entry.Sitemaps {
				c.queueURL(sitemap, robotsItem, false)
			}
		}
		c.checkAllowedAndFetch(item)
	}()
}

func (c *Crawler) checkAllowedAndFetch(item *queue.Item) {
	if c.cfg.RespectRobotsTxt && !c.robotsReg.IsAllowed(item.URL, c.cfg.UserAgent) {
		c.q.Update(item.ID, queue.Item{Fetched: true, Status: queue.StatusDisallowed}, func(error, interface{}) {})
		c.bus.Emit(events.FetchDisallowed, item)
		return
	}
	c.fetchItem(item)
}

func (c *Crawler) fetchItem(item *queue.Item) {
	var referrer *queue.Item
	if item.Referrer != "" {
		c.q.FilterItems(queue.Comparator{URL: item.Referrer}, func(err error, result interface{}) {
			if err == nil {
				if items := result.([]*queue.Item); len(items) > 0 {
					referrer = items[0]
				}
			}
			c.engine.Fetch(item, referrer)
		})
		return
	}
	c.engine.Fetch(item, nil)
}

func (c *Crawler) httpDoer() robots.Doer {
	return request.NewClient(request.ClientOptions{
		Timeout:          c.cfg.Timeout,
		IgnoreInvalidSSL: c.cfg.IgnoreInvalidSSL,
		UseProxy:         c.cfg.UseProxy,
		ProxyURL:         proxyURL(c.cfg),
		MaxRetries:       c.cfg.MaxRetries,
	})
}

func (c *Crawler) checkComplete() {
	if c.engine.OpenRequestCount() > 0 || atomic.LoadInt32(&c.openListeners) > 0 {
		return
	}
	c.q.CountItems(queue.Comparator{Fetched: boolPtr(true)}, func(err error, result interface{}) {
		if err != nil {
			return
		}
		fetchedCount := result.(int)
		if fetchedCount == c.q.Len() {
			c.logger.Printf("crawl complete: %s pages fetched", humanize.Comma(int64(fetchedCount)))
			c.bus.Emit(events.Complete)
			c.Stop(false)
		}
	})
}

func boolPtr(b bool) *bool { return &b }

// queueURL implements §4.8's admission pipeline: process -> max depth ->
// domain valid -> robots -> fetch conditions -> queue add, in that fixed
// order.
func (c *Crawler) queueURL(rawURL string, referrer *queue.Item, force bool) {
	c.queueURLAtDepth(rawURL, referrer, force, 0)
}

// admitRedirect is the engine's AdmitRedirect hook: it implements §4.6's
// AllowInitialDomainChange branch. When the crawl's very first request (the
// seed fetch) redirects and AllowInitialDomainChange is set, the redirect
// target's host becomes the crawl's new canonical host and the target is
// admitted at depth 1, as if it were itself the seed; otherwise a redirect
// is admitted exactly like any other discovered link.
func (c *Crawler) admitRedirect(rawURL string, original *queue.Item) {
	c.mu.Lock()
	isFirstRequest := original != nil && original.URL == c.seedURL
	c.mu.Unlock()

	if !c.cfg.AllowInitialDomainChange || !isFirstRequest {
		c.queueURL(rawURL, original, false)
		return
	}

	target, err := url.Parse(rawURL)
	if err != nil || target.Hostname() == "" {
		c.queueURL(rawURL, original, false)
		return
	}

	c.mu.Lock()
	c.engineHost = target.Hostname()
	c.seedURL = rawURL
	c.mu.Unlock()

	c.queueURLAtDepth(rawURL, original, false, 1)
}

// queueURLAtDepth is queueURL with an explicit depth override; depth <= 0
// means "use whatever urlprocessor.Process computes".
func (c *Crawler) queueURLAtDepth(rawURL string, referrer *queue.Item, force bool, depth int) {
	item, ok := urlprocessor.Process(rawURL, referrer, c.urlOpts())
	if !ok {
		return
	}
	if depth > 0 {
		item.Depth = depth
	}
	if c.cfg.MaxDepth > 0 && item.Depth > c.cfg.MaxDepth {
		return
	}
	if !c.domainValid(item.Host) {
		c.bus.Emit(events.InvalidDomain, item)
		return
	}
	if c.cfg.RespectRobotsTxt && !c.robotsReg.IsAllowed(item.URL, c.cfg.UserAgent) {
		c.bus.Emit(events.FetchDisallowed, item)
		return
	}
	c.fetchConditions.Evaluate(item, referrer, func(pass bool, err error) {
		if err != nil {
			c.bus.Emit(events.FetchConditionError, item, err)
			return
		}
		if !pass {
			c.bus.Emit(events.FetchPrevented, item)
			return
		}
		c.q.Add(item, force, func(err error, result interface{}) {
			if err != nil {
				if queue.IsDuplicate(err) {
					c.bus.Emit(events.QueueDuplicate, item)
					return
				}
				c.bus.Emit(events.QueueError, err, item)
				return
			}
			c.bus.Emit(events.QueueAdd, item, referrer)
		})
	})
}

func (c *Crawler) urlOpts() urlprocessor.Options {
	return urlprocessor.Options{
		StripWWWDomain:      c.cfg.StripWWWDomain,
		StripQuerystring:    c.cfg.StripQuerystring,
		SortQueryParameters: c.cfg.SortQueryParameters,
		URLEncoding:         c.cfg.URLEncoding,
	}
}

// domainValid implements §4.8's OR-combined rules.
func (c *Crawler) domainValid(host string) bool {
	if !c.cfg.FilterByDomain {
		return true
	}
	c.mu.Lock()
	engineHost := c.engineHost
	c.mu.Unlock()

	if host == engineHost {
		return true
	}
	if c.cfg.IgnoreWWWDomain && stripWWW(host) == stripWWW(engineHost) {
		return true
	}
	for _, w := range c.cfg.DomainWhitelist {
		if stripWWW(host) == stripWWW(w) {
			return true
		}
	}
	if c.cfg.ScanSubdomains && isSubdomainSuffix(host, engineHost) {
		return true
	}
	return false
}

func stripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}

// isSubdomainSuffix reports whether host is a (sub)domain of base, compared
// with the reversed-string suffix technique used throughout this codebase
// for domain comparison (see cookiejar.Cookie.MatchesDomain).
func isSubdomainSuffix(host, base string) bool {
	if host == "" || base == "" {
		return false
	}
	return strings.HasPrefix(reverseString(host), reverseString(base))
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func (c *Crawler) onDiscoveryComplete(args ...interface{}) {
	if c.results == nil {
		return
	}
	item, ok := args[0].(*queue.Item)
	if !ok {
		return
	}
	urls, _ := args[1].([]string)
	payload, err := json.Marshal(DiscoveryResult{URL: item.URL, Links: urls})
	if err != nil {
		return
	}
	if err := c.results.Produce(payload); err != nil {
		c.logger.Println("results queue:", err)
	}
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	if len(patterns) == 0 {
		return nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
		}
	}
	return out
}
