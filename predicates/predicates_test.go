package predicates

import (
	"errors"
	"testing"

	"github.com/codepr/gocrawl/queue"
)

func TestEvaluateAllPassSync(t *testing.T) {
	l := NewList()
	l.Add(Sync(func(item, referrer *queue.Item) (bool, error) { return true, nil }))
	l.Add(Sync(func(item, referrer *queue.Item) (bool, error) { return true, nil }))
	var pass bool
	l.Evaluate(&queue.Item{}, nil, func(p bool, err error) { pass = p })
	if !pass {
		t.Errorf("Evaluate failed: expected pass")
	}
}

func TestEvaluateShortCircuitsOnFalse(t *testing.T) {
	l := NewList()
	called := false
	l.Add(Sync(func(item, referrer *queue.Item) (bool, error) { return false, nil }))
	l.Add(Sync(func(item, referrer *queue.Item) (bool, error) { called = true; return true, nil }))
	var pass bool
	l.Evaluate(&queue.Item{}, nil, func(p bool, err error) { pass = p })
	if pass || called {
		t.Errorf("Evaluate failed: expected short circuit, pass=%v called=%v", pass, called)
	}
}

func TestEvaluatePropagatesError(t *testing.T) {
	l := NewList()
	sentinel := errors.New("boom")
	l.Add(Sync(func(item, referrer *queue.Item) (bool, error) { return false, sentinel }))
	var gotErr error
	l.Evaluate(&queue.Item{}, nil, func(p bool, err error) { gotErr = err })
	if gotErr != sentinel {
		t.Errorf("Evaluate failed: expected sentinel error got %v", gotErr)
	}
}

func TestEvaluateAsync(t *testing.T) {
	l := NewList()
	l.Add(Async(func(item, referrer *queue.Item, cb func(bool, error)) { cb(true, nil) }))
	var pass bool
	l.Evaluate(&queue.Item{}, nil, func(p bool, err error) { pass = p })
	if !pass {
		t.Errorf("Evaluate failed: expected pass")
	}
}

func TestRemovedSlotIsAlwaysPass(t *testing.T) {
	l := NewList()
	idx := l.Add(Sync(func(item, referrer *queue.Item) (bool, error) { return false, nil }))
	l.RemoveAt(idx)
	var pass bool
	l.Evaluate(&queue.Item{}, nil, func(p bool, err error) { pass = p })
	if !pass {
		t.Errorf("Evaluate failed: expected removed slot to always-pass")
	}
}

func TestRemoveByReference(t *testing.T) {
	l := NewList()
	p := Sync(func(item, referrer *queue.Item) (bool, error) { return false, nil })
	l.Add(p)
	l.Remove(p)
	var pass bool
	l.Evaluate(&queue.Item{}, nil, func(pv bool, err error) { pass = pv })
	if !pass {
		t.Errorf("Evaluate failed: expected removed-by-reference slot to always-pass")
	}
}

func TestRemoveUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("RemoveAt failed: expected panic for unknown index")
		}
	}()
	l := NewList()
	l.RemoveAt(0)
}

func TestStableIndicesAfterRemoval(t *testing.T) {
	l := NewList()
	first := l.Add(Sync(func(item, referrer *queue.Item) (bool, error) { return true, nil }))
	l.RemoveAt(first)
	second := l.Add(Sync(func(item, referrer *queue.Item) (bool, error) { return true, nil }))
	if second != first+1 {
		t.Errorf("Add failed: expected stable append index %d got %d", first+1, second)
	}
}
