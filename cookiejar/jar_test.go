package cookiejar

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/codepr/gocrawl/events"
)

func TestJarAddOverwrites(t *testing.T) {
	j := New(nil)
	c1, _ := NewCookie("a", "1")
	c1.Domain = "example.com"
	c2, _ := NewCookie("a", "2")
	c2.Domain = "example.com"
	j.Add(c1)
	j.Add(c2)
	got := j.Get("a", "example.com")
	if len(got) != 1 || got[0].Value != "2" {
		t.Errorf("Jar#Add failed: expected single overwritten entry got %v", got)
	}
}

func TestJarEmitsAddCookie(t *testing.T) {
	bus := events.New()
	var fired bool
	bus.On(events.Name("addcookie"), func(args ...interface{}) { fired = true })
	j := New(bus)
	c, _ := NewCookie("a", "1")
	j.Add(c)
	if !fired {
		t.Errorf("Jar#Add failed: expected addcookie event")
	}
}

func TestJarHeaderString(t *testing.T) {
	j := New(nil)
	for i := 1; i <= 3; i++ {
		c, _ := NewCookie(fmt.Sprintf("name%d", i), fmt.Sprintf("value%d", i))
		c.Domain = "localhost"
		j.Add(c)
	}
	header := j.HeaderString("localhost", "/")
	pairs := strings.Split(header, "; ")
	if len(pairs) != 3 {
		t.Errorf("Jar#HeaderString failed: expected 3 pairs got %q", header)
	}
	for _, p := range pairs {
		if !strings.HasPrefix(p, "name") {
			t.Errorf("Jar#HeaderString failed: unexpected pair %q", p)
		}
	}
}

func TestJarRemove(t *testing.T) {
	j := New(nil)
	c, _ := NewCookie("a", "1")
	c.Domain = "example.com"
	j.Add(c)
	j.Remove("a", "example.com")
	if len(j.Get("a", "example.com")) != 0 {
		t.Errorf("Jar#Remove failed: cookie still present")
	}
}

func TestJarPurgeExpired(t *testing.T) {
	j := New(nil)
	c, _ := NewCookie("a", "1")
	c.Expires = 1
	j.Add(c)
	removed := j.Purge(time.Now().Add(24 * time.Hour))
	if removed != 1 {
		t.Errorf("Jar#Purge failed: expected 1 removed got %d", removed)
	}
}

func TestJarHeaderFilterByDomainOnly(t *testing.T) {
	j := New(nil)
	a, _ := NewCookie("a", "1")
	a.Domain = "example.com"
	b, _ := NewCookie("b", "2")
	b.Domain = "other.com"
	j.Add(a)
	j.Add(b)
	header := j.HeaderString("example.com", "")
	if header != "a=1" {
		t.Errorf("Jar#HeaderString failed: expected a=1 got %q", header)
	}
}
