package cookiejar

import (
	"testing"
	"time"
)

func TestCookieRoundTrip(t *testing.T) {
	c, err := NewCookie("session", "abc123")
	if err != nil {
		t.Fatalf("NewCookie failed: %v", err)
	}
	c.Expires = 1999999999000
	c.Domain = ".example.com"
	c.HTTPOnly = true
	rt, err := FromString(c.SetCookieString(true))
	if err != nil {
		t.Fatalf("FromString failed: %v", err)
	}
	if rt.Name != c.Name || rt.Value != c.Value || rt.Expires != c.Expires ||
		rt.Path != c.Path || rt.Domain != c.Domain || rt.HTTPOnly != c.HTTPOnly {
		t.Errorf("Cookie round trip failed: expected %+v got %+v", c, rt)
	}
}

func TestFromStringBareHttpOnly(t *testing.T) {
	c, err := FromString("thing=stuff; path=/; domain=.localhost; HttpOnly")
	if err != nil {
		t.Fatalf("FromString failed: %v", err)
	}
	if c.Name != "thing" || c.Value != "stuff" || c.Path != "/" ||
		c.Domain != ".localhost" || !c.HTTPOnly {
		t.Errorf("FromString failed: got %+v", c)
	}
}

func TestFromStringExpiryAlias(t *testing.T) {
	c, err := FromString("a=b; Expiry=1700000000000")
	if err != nil {
		t.Fatalf("FromString failed: %v", err)
	}
	if c.Expires != 1700000000000 {
		t.Errorf("FromString failed: expected 1700000000000 got %d", c.Expires)
	}
}

func TestFromStringEmptyName(t *testing.T) {
	if _, err := FromString("=novalue"); err != ErrEmptyName {
		t.Errorf("FromString failed: expected ErrEmptyName got %v", err)
	}
}

func TestCookieDomainMatch(t *testing.T) {
	c := &Cookie{Name: "a", Domain: "example.com"}
	if !c.MatchesDomain("www.example.com") {
		t.Errorf("MatchesDomain failed: expected true")
	}
	if c.MatchesDomain("notexample.com") {
		t.Errorf("MatchesDomain failed: expected false")
	}
	wild := &Cookie{Name: "a", Domain: "*"}
	if !wild.MatchesDomain("anything.test") {
		t.Errorf("MatchesDomain failed: wildcard should match all")
	}
}

func TestCookiePathMatch(t *testing.T) {
	c := &Cookie{Name: "a", Path: "/blog"}
	if !c.MatchesPath("/blog/post/1") {
		t.Errorf("MatchesPath failed: expected true")
	}
	if c.MatchesPath("/other") {
		t.Errorf("MatchesPath failed: expected false")
	}
}

func TestCookieExpired(t *testing.T) {
	c := &Cookie{Name: "a", Expires: -1}
	if c.Expired(time.UnixMilli(0)) {
		t.Errorf("Expired failed: session cookie should never expire")
	}
}
