package crawler

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codepr/gocrawl/events"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestCrawlerBasicCrawlReachesComplete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="/stage2">stage2</a>`))
	})
	mux.HandleFunc("/stage2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="/stage3">stage3</a>`))
	})
	mux.HandleFunc("/stage3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`no more links here`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.RespectRobotsTxt = false
	c := New(cfg)

	var completed bool
	c.Events().On(events.Complete, func(args ...interface{}) { completed = true })

	require.NoError(t, c.Start(srv.URL+"/"))

	waitFor(t, 3*time.Second, func() bool { return completed })

	require.Equal(t, 3, c.Queue().Len(), "expected 3 queued items (seed + 2 discovered)")
}

func TestCrawlerInvalidDomainEmitsEvent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="http://other-host.example/page">external</a>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.RespectRobotsTxt = false
	c := New(cfg)

	invalid := make(chan struct{}, 1)
	c.Events().On(events.InvalidDomain, func(args ...interface{}) {
		select {
		case invalid <- struct{}{}:
		default:
		}
	})

	require.NoError(t, c.Start(srv.URL+"/"))

	select {
	case <-invalid:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected invaliddomain event for external link")
	}
	c.Stop(true)
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.RespectRobotsTxt = false
	c := New(cfg)

	require.NoError(t, c.Start(srv.URL+"/"))
	require.ErrorIs(t, c.Start(srv.URL+"/"), ErrAlreadyRunning)
	c.Stop(true)
}

func TestCrawlerRobotsDisallowBlocksFetch(t *testing.T) {
	var privateHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="/private">private</a>`))
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&privateHits, 1)
		w.Write([]byte("should never be reached"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.RespectRobotsTxt = true
	c := New(cfg)

	var disallowed bool
	c.Events().On(events.FetchDisallowed, func(args ...interface{}) { disallowed = true })

	var completed bool
	c.Events().On(events.Complete, func(args ...interface{}) { completed = true })

	require.NoError(t, c.Start(srv.URL+"/"))
	waitFor(t, 3*time.Second, func() bool { return completed })

	require.True(t, disallowed, "expected fetchdisallowed event for the robots-blocked link")
	require.Equal(t, int32(0), atomic.LoadInt32(&privateHits), "disallowed path must never be fetched")
	require.Equal(t, 1, c.Queue().Len(), "only the seed should have been queued")
}

func TestCrawlerMaxDepthLimitsTraversal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="/stage2">stage2</a>`))
	})
	mux.HandleFunc("/stage2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="/stage3">stage3</a>`))
	})
	mux.HandleFunc("/stage3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("leaf"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.RespectRobotsTxt = false
	cfg.MaxDepth = 2
	c := New(cfg)

	var completed bool
	c.Events().On(events.Complete, func(args ...interface{}) { completed = true })

	require.NoError(t, c.Start(srv.URL+"/"))
	waitFor(t, 3*time.Second, func() bool { return completed })

	require.Equal(t, 2, c.Queue().Len(), "expected only the seed (depth 1) and stage2 (depth 2) queued; stage3 exceeds max depth")
}

func TestWaitHoldBlocksComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("leaf"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.RespectRobotsTxt = false
	cfg.ListenerTTL = 5 * time.Second
	c := New(cfg)

	release := c.Wait()

	var completed bool
	c.Events().On(events.Complete, func(args ...interface{}) { completed = true })

	if err := c.Start(srv.URL + "/"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if completed {
		t.Errorf("expected complete to stay blocked while a wait hold is open")
	}

	release()
	waitFor(t, 2*time.Second, func() bool { return completed })
}
