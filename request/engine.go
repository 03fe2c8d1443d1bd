package request

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/codepr/gocrawl/cache"
	"github.com/codepr/gocrawl/cookiejar"
	"github.com/codepr/gocrawl/events"
	"github.com/codepr/gocrawl/extractor"
	"github.com/codepr/gocrawl/predicates"
	"github.com/codepr/gocrawl/queue"
)

// Config is the subset of engine-wide settings that shape how a single
// item is fetched.
type Config struct {
	UserAgent            string
	AcceptHeader         string
	Timeout              time.Duration
	MaxResourceSize      int64
	DecompressResponses  bool
	DecodeResponses      bool
	SupportedMimeTypes   []*regexp.Regexp
	DownloadUnsupported  bool
	AllowedProtocols     []*regexp.Regexp
	CustomHeaders        map[string]string
	NeedsAuth            bool
	AuthUser, AuthPass   string
	ProxyUser, ProxyPass string
	AcceptCookies        bool
}

// DefaultSupportedMimeTypes mirrors the crawler's default allowlist:
// text/*, application/(rss|html|xhtml)+xml, application/javascript, xml/*.
func DefaultSupportedMimeTypes() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)^text/`),
		regexp.MustCompile(`(?i)^application/(rss|html|xhtml)\+xml`),
		regexp.MustCompile(`(?i)^application/javascript`),
		regexp.MustCompile(`(?i)^xml/`),
	}
}

// Engine runs the per-item HTTP lifecycle: spool, headers, download,
// terminal status, emitting the crawler's event surface at every
// transition and funneling discovered links back through Admit.
type Engine struct {
	cfg       Config
	client    *http.Client
	bus       *events.Bus
	q         *queue.Queue
	jar       *cookiejar.Jar
	cacheObj  cache.Cache
	clk       clock.Clock
	downloads *predicates.List
	extract   extractor.Extractor

	// Admit is invoked for every URL discovered by the body extractor; the
	// crawler wires this to its full admission pipeline (domain validity,
	// robots, fetch conditions, queue add).
	Admit func(rawURL string, referrer *queue.Item)

	// AdmitRedirect is invoked instead of Admit when a fetch terminates in
	// a redirect, passing the redirected-from item as original. The
	// crawler distinguishes this case because a redirect, unlike a
	// discovered link, may need to reset the crawl's canonical host and
	// depth (see AllowInitialDomainChange). Falls back to Admit when nil.
	AdmitRedirect func(rawURL string, original *queue.Item)

	mu           sync.Mutex
	cancels      map[int]context.CancelFunc
	aborted      map[int]bool
}

// New creates an Engine. client, bus, q and jar are required; cacheObj,
// clk, downloads and extract may be nil/zero, in which case conditional
// fetches, deterministic timestamps, download conditions and link
// discovery are simply skipped.
func New(cfg Config, client *http.Client, bus *events.Bus, q *queue.Queue,
	jar *cookiejar.Jar, cacheObj cache.Cache, clk clock.Clock,
	downloads *predicates.List, extract extractor.Extractor) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if downloads == nil {
		downloads = predicates.NewList()
	}
	return &Engine{
		cfg: cfg, client: client, bus: bus, q: q, jar: jar,
		cacheObj: cacheObj, clk: clk, downloads: downloads, extract: extract,
		cancels: make(map[int]context.CancelFunc),
		aborted: make(map[int]bool),
	}
}

// OpenRequestCount reports how many requests are currently tracked
// in-flight.
func (e *Engine) OpenRequestCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cancels)
}

// AbortAll cancels every tracked in-flight request. Their eventual
// completion is silent: the engine checks the aborted flag rather than
// emitting fetchclienterror for a cancellation the caller itself requested.
func (e *Engine) AbortAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.cancels {
		e.aborted[id] = true
		cancel()
	}
}

func (e *Engine) track(id int, cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancels[id] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(id int) (wasAborted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, id)
	wasAborted = e.aborted[id]
	delete(e.aborted, id)
	return wasAborted
}

func (e *Engine) emit(name events.Name, args ...interface{}) {
	if e.bus != nil {
		e.bus.Emit(name, args...)
	}
}

// Fetch drives item through the complete request lifecycle. referrer may be
// nil for the seed URL.
func (e *Engine) Fetch(item *queue.Item, referrer *queue.Item) {
	e.q.Update(item.ID, queue.Item{Status: queue.StatusSpooled}, func(error, interface{}) {})

	req, err := http.NewRequest(http.MethodGet, item.URL, nil)
	if err != nil {
		e.finishTerminal(item, queue.StatusFailed, 600)
		e.emit(events.FetchClientError, item, err)
		return
	}
	e.applyRequestHeaders(req, item)

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout())
	req = req.WithContext(ctx)
	e.track(item.ID, cancel)

	e.emit(events.FetchStart, item, req)

	started := e.clk.Now()
	resp, err := e.client.Do(req)
	elapsed := e.clk.Now().Sub(started)

	if err != nil {
		aborted := e.untrack(item.ID)
		cancel()
		if aborted {
			return
		}
		if ctx.Err() == context.DeadlineExceeded {
			e.finishTerminal(item, queue.StatusTimeout, 0)
			e.emit(events.FetchTimeout, item, e.cfg.Timeout)
			return
		}
		e.finishTerminal(item, queue.StatusFailed, 600)
		e.emit(events.FetchClientError, item, err)
		return
	}
	defer func() {
		e.untrack(item.ID)
		cancel()
	}()

	e.onHeaders(item, referrer, resp, elapsed)
}

func (e *Engine) timeout() time.Duration {
	if e.cfg.Timeout <= 0 {
		return 300 * time.Second
	}
	return e.cfg.Timeout
}

func (e *Engine) applyRequestHeaders(req *http.Request, item *queue.Item) {
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	if e.cfg.AcceptHeader != "" {
		req.Header.Set("Accept", e.cfg.AcceptHeader)
	}
	if e.cfg.DecompressResponses {
		req.Header.Set("Accept-Encoding", "gzip, deflate")
	}
	if e.jar != nil && e.cfg.AcceptCookies {
		if header := e.jar.HeaderString(req.URL.Hostname(), req.URL.Path); header != "" {
			req.Header.Set("Cookie", header)
		}
	}
	if e.cfg.NeedsAuth {
		req.SetBasicAuth(e.cfg.AuthUser, e.cfg.AuthPass)
	}
	if e.cfg.ProxyUser != "" {
		req.Header.Set("Proxy-Authorization", basicAuthHeader(e.cfg.ProxyUser, e.cfg.ProxyPass))
	}
	for k, v := range e.cfg.CustomHeaders {
		req.Header.Set(k, v)
	}
	if e.cacheObj != nil {
		if obj, ok := e.cacheObj.GetCacheData(item.URL); ok {
			if obj.ETag != "" {
				req.Header.Set("If-None-Match", obj.ETag)
			}
			if obj.LastModified != "" {
				req.Header.Set("If-Modified-Since", obj.LastModified)
			}
		}
	}
}

func basicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func (e *Engine) onHeaders(item *queue.Item, referrer *queue.Item, resp *http.Response, elapsed time.Duration) {
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	contentType := resp.Header.Get("Content-Type")
	contentLength := resp.ContentLength
	if contentLength < 0 {
		if v, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
			contentLength = v
		}
	}

	e.q.Update(item.ID, queue.Item{StateData: queue.StateData{
		RequestLatency: elapsed.Milliseconds(),
		RequestTime:    elapsed.Milliseconds(),
		ContentLength:  contentLength,
		ContentType:    contentType,
		Code:           resp.StatusCode,
		Headers:        headers,
	}}, func(error, interface{}) {})

	if e.jar != nil && e.cfg.AcceptCookies {
		if errs := e.jar.AddFromHeaders(resp.Header["Set-Cookie"]); len(errs) > 0 {
			for _, cerr := range errs {
				e.emit(events.CookieError, item, cerr, "")
			}
		}
	}

	e.emit(events.FetchHeaders, item, resp)

	maxSize := e.cfg.MaxResourceSize
	if maxSize <= 0 {
		maxSize = 16 << 20
	}
	if contentLength > maxSize {
		resp.Body.Close()
		e.finishTerminal(item, queue.StatusFailed, resp.StatusCode)
		e.emit(events.FetchDataError, item, resp)
		return
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		e.onSuccess(item, referrer, resp, contentLength, maxSize, contentType)
	case resp.StatusCode == http.StatusNotModified:
		resp.Body.Close()
		e.finishTerminal(item, queue.StatusDownloaded, resp.StatusCode)
		var cacheObj *cache.Object
		if e.cacheObj != nil {
			cacheObj, _ = e.cacheObj.GetCacheData(item.URL)
		}
		e.emit(events.NotModified, item, resp, cacheObj)
	case resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != "":
		resp.Body.Close()
		e.onRedirect(item, resp)
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		e.finishTerminal(item, queue.StatusNotFound, resp.StatusCode)
		e.emit(events.Fetch404, item, resp)
	case resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		e.finishTerminal(item, queue.StatusNotFound, resp.StatusCode)
		e.emit(events.Fetch410, item, resp)
	default:
		resp.Body.Close()
		e.finishTerminal(item, queue.StatusFailed, resp.StatusCode)
		e.emit(events.FetchError, item, resp)
	}
}

func (e *Engine) onRedirect(item *queue.Item, resp *http.Response) {
	e.finishTerminal(item, queue.StatusRedirected, resp.StatusCode)

	base, _ := url.Parse(item.URL)
	loc := resp.Header.Get("Location")
	var targetURL string
	if base != nil {
		if next, err := base.Parse(loc); err == nil {
			targetURL = next.String()
		}
	}
	if targetURL == "" {
		targetURL = loc
	}
	e.emit(events.FetchRedirect, item, targetURL, resp)
	if targetURL == "" {
		return
	}
	if e.AdmitRedirect != nil {
		e.AdmitRedirect(targetURL, item)
	} else if e.Admit != nil {
		e.Admit(targetURL, item)
	}
}

func (e *Engine) onSuccess(item *queue.Item, referrer *queue.Item, resp *http.Response, declaredLength, maxSize int64, contentType string) {
	evaluate := func(pass bool, err error) {
		if err != nil {
			resp.Body.Close()
			e.emit(events.DownloadConditionErr, item, err)
			return
		}
		if !pass {
			resp.Body.Close()
			e.finishTerminal(item, queue.StatusDownloadPrevented, resp.StatusCode)
			e.emit(events.DownloadPrevented, item, resp)
			return
		}
		e.download(item, referrer, resp, declaredLength, maxSize, contentType)
	}
	e.downloads.Evaluate(item, referrer, evaluate)
}

func (e *Engine) download(item *queue.Item, referrer *queue.Item, resp *http.Response, declaredLength, maxSize int64, contentType string) {
	defer resp.Body.Close()

	initial := declaredLength
	if initial <= 0 || initial > maxSize {
		initial = maxSize
	}
	buf := bytes.NewBuffer(make([]byte, 0, initial))

	limited := io.LimitReader(resp.Body, maxSize+1)
	downloadStart := e.clk.Now()
	n, err := io.Copy(buf, limited)
	if err != nil {
		e.finishTerminal(item, queue.StatusFailed, resp.StatusCode)
		e.emit(events.FetchError, item, resp)
		return
	}
	if n > maxSize {
		e.finishTerminal(item, queue.StatusFailed, resp.StatusCode)
		e.emit(events.FetchDataError, item, resp)
		return
	}
	downloadTime := e.clk.Now().Sub(downloadStart)

	raw := buf.Bytes()
	decompressed, decompErr := decompressBody(raw, resp.Header.Get("Content-Encoding"))
	if decompErr != nil {
		e.emit(events.GzipError, item, decompErr, raw)
		decompressed = raw
	}

	sentIncorrect := declaredLength > 0 && declaredLength != int64(len(raw))

	e.q.Update(item.ID, queue.Item{StateData: queue.StateData{
		DownloadTime:      downloadTime.Milliseconds(),
		ActualDataSize:    int64(len(raw)),
		SentIncorrectSize: sentIncorrect,
	}}, func(error, interface{}) {})
	e.finishTerminal(item, queue.StatusDownloaded, resp.StatusCode)

	if e.cacheObj != nil {
		e.cacheObj.SetCacheData(item.URL, &cache.Object{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			ContentType:  contentType,
			Body:         decompressed,
		})
	}

	delivered := raw
	if shouldDeliverDecoded(e.cfg.DecompressResponses, resp.Header.Get("Content-Encoding")) {
		delivered = decompressed
	}
	e.emit(events.FetchComplete, item, delivered, resp)

	if e.cfg.DecodeResponses {
		decompressed = decodeCharset(decompressed, contentType)
	}

	if e.extract != nil && (e.cfg.DownloadUnsupported || mimeSupported(contentType, e.cfg.SupportedMimeTypes)) {
		candidates := e.extract.Extract(decompressed, contentType)
		refURL, _ := url.Parse(item.URL)
		urls := extractor.CleanExpand(candidates, refURL, extractor.CleanExpandOptions{AllowedProtocols: e.cfg.AllowedProtocols})
		if e.Admit != nil {
			for _, u := range urls {
				e.Admit(u, item)
			}
		}
		e.emit(events.DiscoveryComplete, item, urls)
	}
}

func (e *Engine) finishTerminal(item *queue.Item, status queue.Status, code int) {
	updates := queue.Item{Fetched: true, Status: status}
	if code != 0 {
		updates.StateData.Code = code
	}
	e.q.Update(item.ID, updates, func(error, interface{}) {})
}

func shouldDeliverDecoded(decompressResponses bool, contentEncoding string) bool {
	if !isCompressed(contentEncoding) {
		return true
	}
	return decompressResponses
}

func isCompressed(contentEncoding string) bool {
	ce := strings.ToLower(contentEncoding)
	return ce == "gzip" || ce == "deflate" || ce == "x-gzip"
}

func decompressBody(raw []byte, contentEncoding string) ([]byte, error) {
	switch strings.ToLower(contentEncoding) {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return raw, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(raw))
		defer r.Close()
		return io.ReadAll(r)
	default:
		return raw, nil
	}
}

// decodeCharset decodes raw into UTF-8 using the charset indicated by
// contentType or a <meta charset> within the first 512 bytes, falling back
// to the raw bytes unchanged when detection or decoding fails.
func decodeCharset(raw []byte, contentType string) []byte {
	sniff := raw
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	enc, _, _ := charset.DetermineEncoding(sniff, contentType)
	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return raw
	}
	return decoded
}

func mimeSupported(contentType string, patterns []*regexp.Regexp) bool {
	if len(patterns) == 0 {
		patterns = DefaultSupportedMimeTypes()
	}
	mt := contentType
	if idx := strings.IndexByte(mt, ';'); idx >= 0 {
		mt = mt[:idx]
	}
	mt = strings.TrimSpace(mt)
	for _, re := range patterns {
		if re.MatchString(mt) {
			return true
		}
	}
	return false
}
