// Package cookiejar implements session-state tracking for the crawler: a
// single Cookie type plus an unordered Jar keyed by (name, domain), mirroring
// the mutex-guarded map style used throughout this codebase for small
// in-memory stores (see cache.Memory).
package cookiejar

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyName is returned when a cookie is constructed or parsed without a
// name; a configuration error, since it signals a caller bug rather than
// something observable mid-crawl.
var ErrEmptyName = errors.New("cookiejar: cookie name must not be empty")

// Cookie is a single stored cookie. Expires is milliseconds since the Unix
// epoch; -1 means session-only/never-expiring.
type Cookie struct {
	Name     string
	Value    string
	Expires  int64
	Path     string
	Domain   string
	HTTPOnly bool
}

// NewCookie builds a Cookie applying the defaults described by the spec: Path
// defaults to "/", Domain defaults to "*" (match-all), Expires defaults to
// -1 (session).
func NewCookie(name, value string) (*Cookie, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	return &Cookie{
		Name:    name,
		Value:   value,
		Expires: -1,
		Path:    "/",
		Domain:  "*",
	}, nil
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// FromString parses a raw Set-Cookie header value (the optional leading
// "Set-Cookie:" prefix is tolerated) into a Cookie. The first ";"-delimited
// segment is "name=value" (the value itself may contain "="); subsequent
// segments are attributes. Attribute keys are lowercased and stripped of
// non-alphanumeric characters so "expires"/"expiry" are interchangeable and
// a bare "httponly" sets the flag.
func FromString(raw string) (*Cookie, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "Set-Cookie:")
	s = strings.TrimPrefix(s, "set-cookie:")
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ";")
	if len(parts) == 0 {
		return nil, ErrEmptyName
	}
	nameValue := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	name := strings.TrimSpace(nameValue[0])
	value := ""
	if len(nameValue) == 2 {
		value = strings.TrimSpace(nameValue[1])
	}
	c, err := NewCookie(name, value)
	if err != nil {
		return nil, err
	}
	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		kv := strings.SplitN(attr, "=", 2)
		key := nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(kv[0])), "")
		var val string
		if len(kv) == 2 {
			val = strings.TrimSpace(kv[1])
		}
		switch key {
		case "expires", "expiry":
			if ms, ok := parseExpires(val); ok {
				c.Expires = ms
			}
		case "maxage":
			if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
				c.Expires = time.Now().UnixMilli() + secs*1000
			}
		case "path":
			if val != "" {
				c.Path = val
			}
		case "domain":
			if val != "" {
				c.Domain = val
			}
		case "httponly":
			c.HTTPOnly = true
		}
	}
	return c, nil
}

func parseExpires(val string) (int64, bool) {
	if val == "" {
		return 0, false
	}
	if t, err := time.Parse(time.RFC1123, val); err == nil {
		return t.UnixMilli(), true
	}
	if t, err := time.Parse(time.RFC850, val); err == nil {
		return t.UnixMilli(), true
	}
	if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
		return ms, true
	}
	return 0, false
}

// Expired reports whether the cookie has passed its expiry at instant now.
// A cookie with Expires < 0 never expires.
func (c *Cookie) Expired(now time.Time) bool {
	return c.Expires >= 0 && c.Expires < now.UnixMilli()
}

// MatchesDomain reports whether the cookie is valid for candidate. "*"
// matches everything; otherwise the stored domain must be a suffix of the
// candidate, compared reversed (so "example.com" matches
// "www.example.com" but not "notexample.com").
func (c *Cookie) MatchesDomain(candidate string) bool {
	if c.Domain == "*" || c.Domain == "" {
		return true
	}
	stored := strings.TrimPrefix(c.Domain, ".")
	candidate = strings.TrimPrefix(candidate, ".")
	if stored == candidate {
		return true
	}
	return strings.HasPrefix(reverseString(candidate), reverseString(stored)) &&
		(len(candidate) == len(stored) || candidate[len(candidate)-len(stored)-1] == '.')
}

// MatchesPath reports whether the cookie applies to the candidate request
// path. An empty stored path matches everything.
func (c *Cookie) MatchesPath(candidate string) bool {
	if c.Path == "" {
		return true
	}
	return strings.HasPrefix(candidate, c.Path)
}

// String renders the cookie as a "name=value" pair suitable for a Cookie
// request header.
func (c *Cookie) String() string {
	return fmt.Sprintf("%s=%s", c.Name, c.Value)
}

// SetCookieString renders the cookie as a full Set-Cookie response header
// value, the inverse of FromString; round-tripping through FromString
// preserves Name, Value, Expires, Path, Domain and HTTPOnly.
func (c *Cookie) SetCookieString(withAttributes bool) string {
	if !withAttributes {
		return c.String()
	}
	var b strings.Builder
	b.WriteString(c.String())
	if c.Expires >= 0 {
		fmt.Fprintf(&b, "; Expires=%d", c.Expires)
	}
	if c.Path != "" {
		fmt.Fprintf(&b, "; Path=%s", c.Path)
	}
	if c.Domain != "" && c.Domain != "*" {
		fmt.Fprintf(&b, "; Domain=%s", c.Domain)
	}
	if c.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	return b.String()
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
