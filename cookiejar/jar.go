package cookiejar

import (
	"strings"
	"sync"
	"time"

	"github.com/codepr/gocrawl/events"
)

type key struct {
	name, domain string
}

// Jar is an unordered collection of cookies keyed by (name, domain);
// inserting with an existing key overwrites the previous entry. A Jar is
// safe for concurrent use, mirroring the mutex-guarded stores used
// elsewhere in this codebase (see cache.Memory).
type Jar struct {
	mu      sync.RWMutex
	cookies map[key]*Cookie
	bus     *events.Bus
}

// New creates an empty Jar. bus may be nil, in which case addcookie and
// removecookie transitions are simply not observable.
func New(bus *events.Bus) *Jar {
	return &Jar{cookies: make(map[key]*Cookie), bus: bus}
}

// Add inserts a constructed Cookie, overwriting any existing entry with the
// same (name, domain) key.
func (j *Jar) Add(c *Cookie) {
	if c == nil || c.Name == "" {
		return
	}
	j.mu.Lock()
	j.cookies[key{c.Name, c.Domain}] = c
	j.mu.Unlock()
	if j.bus != nil {
		j.bus.Emit(events.Name("addcookie"), c)
	}
}

// AddFromString parses raw as a Set-Cookie header value and adds the
// resulting cookie.
func (j *Jar) AddFromString(raw string) error {
	c, err := FromString(raw)
	if err != nil {
		return err
	}
	j.Add(c)
	return nil
}

// AddFromHeaders feeds every header value in one through AddFromString;
// parse errors on an individual header do not abort the remaining ones.
func (j *Jar) AddFromHeaders(headers []string) []error {
	var errs []error
	for _, h := range headers {
		if err := j.AddFromString(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Remove deletes the cookie matching (name, domain), if present, and emits
// removecookie.
func (j *Jar) Remove(name, domain string) {
	j.mu.Lock()
	c, ok := j.cookies[key{name, domain}]
	if ok {
		delete(j.cookies, key{name, domain})
	}
	j.mu.Unlock()
	if ok && j.bus != nil {
		j.bus.Emit(events.Name("removecookie"), c)
	}
}

// Get returns every stored cookie matching both filters; an empty filter
// matches everything.
func (j *Jar) Get(name, domain string) []*Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*Cookie
	for k, c := range j.cookies {
		if name != "" && k.name != name {
			continue
		}
		if domain != "" && k.domain != domain {
			continue
		}
		out = append(out, c)
	}
	return out
}

// All returns every cookie currently stored.
func (j *Jar) All() []*Cookie {
	return j.Get("", "")
}

// Purge removes every expired cookie as of now, returning how many were
// removed. Collecting removal candidates up front (rather than mutating
// while ranging) avoids the index-unsafe splice-during-iteration bug that
// plagues naive ports of this logic.
func (j *Jar) Purge(now time.Time) int {
	j.mu.Lock()
	var stale []key
	for k, c := range j.cookies {
		if c.Expired(now) {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		delete(j.cookies, k)
	}
	j.mu.Unlock()
	return len(stale)
}

// HeaderFor returns the outbound "name=value" pairs for every non-expired
// cookie matching domain and/or path (a request may supply just one of the
// two, in which case only that one filters). Callers join the results with
// "; " to build a Cookie request header.
func (j *Jar) HeaderFor(domain, path string) []string {
	now := time.Now()
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []string
	for _, c := range j.cookies {
		if c.Expired(now) {
			continue
		}
		if domain != "" && !c.MatchesDomain(domain) {
			continue
		}
		if path != "" && !c.MatchesPath(path) {
			continue
		}
		out = append(out, c.String())
	}
	return out
}

// HeaderString is HeaderFor joined with "; ", ready to use as a Cookie
// request header value.
func (j *Jar) HeaderString(domain, path string) string {
	return strings.Join(j.HeaderFor(domain, path), "; ")
}
