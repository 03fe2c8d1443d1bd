// Package predicates implements the two admission arrays the crawler
// consults: fetch conditions (evaluated before a discovered URL is queued)
// and download conditions (evaluated after response headers, before the
// body is streamed). Both are represented the same way: an ordered slot
// array with stable indices, so that removing one predicate never
// renumbers the rest.
package predicates

import (
	"fmt"
	"sync"

	"github.com/codepr/gocrawl/queue"
)

// SyncFunc is an arity-2 predicate: evaluated synchronously, a thrown
// error (a non-nil return) aborts evaluation.
type SyncFunc func(item, referrer *queue.Item) (bool, error)

// AsyncFunc is an arity-3 predicate: cb must be invoked exactly once with
// the pass/fail verdict or an error.
type AsyncFunc func(item, referrer *queue.Item, cb func(pass bool, err error))

// Predicate wraps exactly one of SyncFunc or AsyncFunc. Use Sync or Async
// to construct one; the zero value is not meaningful.
type Predicate struct {
	sync  SyncFunc
	async AsyncFunc
}

// Sync wraps an arity-2 predicate.
func Sync(f SyncFunc) *Predicate { return &Predicate{sync: f} }

// Async wraps an arity-3 predicate.
func Async(f AsyncFunc) *Predicate { return &Predicate{async: f} }

// List is an ordered, stably-indexed collection of predicates. A removed
// slot is kept as an empty sentinel (nil) rather than spliced out, so every
// other predicate's index/identity survives the removal -- see DESIGN.md.
type List struct {
	mu    sync.Mutex
	slots []*Predicate
}

// NewList creates an empty List.
func NewList() *List { return &List{} }

// Add appends p and returns its stable slot index.
func (l *List) Add(p *Predicate) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slots = append(l.slots, p)
	return len(l.slots) - 1
}

// RemoveAt nullifies the slot at idx. Removing an out-of-range or already
// empty slot is a caller bug and panics, matching the "configuration
// errors are thrown at call site" policy for unknown predicate ids.
func (l *List) RemoveAt(idx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx < 0 || idx >= len(l.slots) || l.slots[idx] == nil {
		panic(fmt.Sprintf("predicates: no live slot at index %d", idx))
	}
	l.slots[idx] = nil
}

// Remove nullifies the slot holding p by reference. Panics if no live slot
// matches, for the same reason as RemoveAt.
func (l *List) Remove(p *Predicate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.slots {
		if s == p {
			l.slots[i] = nil
			return
		}
	}
	panic("predicates: no live slot matches the given predicate")
}

// Len reports the number of slots, including empty ones.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// Evaluate runs every live predicate in order against item/referrer,
// short-circuiting on the first falsy result or error. cb receives the
// overall pass/fail verdict and, on a thrown/async error, the error that
// caused the short-circuit. Evaluate never blocks the caller when any
// predicate is async: it resumes from that predicate's callback.
func (l *List) Evaluate(item, referrer *queue.Item, cb func(pass bool, err error)) {
	l.mu.Lock()
	slots := make([]*Predicate, len(l.slots))
	copy(slots, l.slots)
	l.mu.Unlock()
	evaluateFrom(slots, 0, item, referrer, cb)
}

func evaluateFrom(slots []*Predicate, idx int, item, referrer *queue.Item, cb func(bool, error)) {
	if idx >= len(slots) {
		cb(true, nil)
		return
	}
	slot := slots[idx]
	if slot == nil {
		evaluateFrom(slots, idx+1, item, referrer, cb)
		return
	}
	if slot.sync != nil {
		pass, err := safeCallSync(slot.sync, item, referrer)
		if err != nil {
			cb(false, err)
			return
		}
		if !pass {
			cb(false, nil)
			return
		}
		evaluateFrom(slots, idx+1, item, referrer, cb)
		return
	}
	slot.async(item, referrer, func(pass bool, err error) {
		if err != nil {
			cb(false, err)
			return
		}
		if !pass {
			cb(false, nil)
			return
		}
		evaluateFrom(slots, idx+1, item, referrer, cb)
	})
}

func safeCallSync(f SyncFunc, item, referrer *queue.Item) (pass bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predicates: panic in synchronous predicate: %v", r)
		}
	}()
	return f(item, referrer)
}
