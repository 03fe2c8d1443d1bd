package queue

import (
	"encoding/json"
	"math"
	"os"
	"sync"
)

// Callback is the shape every Queue operation completes through. result is
// operation-specific and must be type-asserted by the caller.
type Callback func(err error, result interface{})

// statisticWhitelist names the numeric StateData fields aggregate queries
// (Max/Min/Avg) may target.
var statisticWhitelist = map[string]func(*Item) (float64, bool){
	"actualDataSize": func(i *Item) (float64, bool) { return float64(i.StateData.ActualDataSize), true },
	"contentLength":  func(i *Item) (float64, bool) { return float64(i.StateData.ContentLength), true },
	"downloadTime":   func(i *Item) (float64, bool) { return float64(i.StateData.DownloadTime), true },
	"requestLatency": func(i *Item) (float64, bool) { return float64(i.StateData.RequestLatency), true },
	"requestTime":    func(i *Item) (float64, bool) { return float64(i.StateData.RequestTime), true },
}

// Queue is the default in-memory FetchQueue: an ordered slice of Items plus
// a scan index for O(1) duplicate checks and a monotone oldest-unfetched
// cursor. Every exported method dispatches its callback from a freshly
// spawned goroutine rather than inline, so callers can never rely on
// synchronous completion -- the same contract a durable, network-backed
// queue implementation would have to honor.
type Queue struct {
	mu        sync.Mutex
	items     []*Item
	scanIndex map[string]int
	cursor    int
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{scanIndex: make(map[string]int)}
}

func dispatch(cb Callback, err error, result interface{}) {
	if cb == nil {
		return
	}
	go cb(err, result)
}

// Add inserts item into the queue. If item.URL is already present and force
// is false, the call fails with a KindDuplicate error. If present and force
// is true, the call still fails (with KindTwice) when the very same object
// pointer is already queued -- this is the one case force cannot override,
// since re-adding the identical item would corrupt the scan index.
// Otherwise item is assigned id = len(items), status queued, appended, and
// indexed.
func (q *Queue) Add(item *Item, force bool, cb Callback) {
	q.mu.Lock()
	if idx, ok := q.scanIndex[item.URL]; ok {
		if !force {
			q.mu.Unlock()
			dispatch(cb, newError(KindDuplicate, "url already queued: %s", item.URL), nil)
			return
		}
		if q.items[idx] == item {
			q.mu.Unlock()
			dispatch(cb, newError(KindTwice, "cannot add the same item twice: %s", item.URL), nil)
			return
		}
	}
	item.ID = len(q.items)
	item.Status = StatusQueued
	q.items = append(q.items, item)
	q.scanIndex[item.URL] = item.ID
	q.mu.Unlock()
	dispatch(cb, nil, item)
}

// Exists reports, via the scan index, whether url is currently in the
// queue.
func (q *Queue) Exists(url string, cb Callback) {
	q.mu.Lock()
	_, ok := q.scanIndex[url]
	q.mu.Unlock()
	dispatch(cb, nil, ok)
}

// Get returns the item at position index, or a KindRange error if index is
// out of bounds.
func (q *Queue) Get(index int, cb Callback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		dispatch(cb, newError(KindRange, "index out of range: %d", index), nil)
		return
	}
	dispatch(cb, nil, q.items[index])
}

// Len returns the number of items currently held.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Update finds the item with the given id and deep-merges updates into it:
// nested StateData fields are merged recursively, never wholesale-replaced.
func (q *Queue) Update(id int, updates Item, cb Callback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var target *Item
	for _, it := range q.items {
		if it.ID == id {
			target = it
			break
		}
	}
	if target == nil {
		dispatch(cb, newError(KindNotFound, "no item with id %d", id), nil)
		return
	}
	if updates.URL != "" {
		target.URL = updates.URL
	}
	if updates.Status != "" {
		target.Status = updates.Status
	}
	if updates.Fetched {
		target.Fetched = true
	}
	if updates.Depth != 0 {
		target.Depth = updates.Depth
	}
	target.StateData.Merge(updates.StateData)
	dispatch(cb, nil, target)
}

// OldestUnfetchedItem scans forward from the cursor for the first queued
// item. The cursor advances to that index so repeated calls never
// re-inspect items already known to be in flight. If none is found,
// cb(nil, nil) fires -- absence of work is not an error.
func (q *Queue) OldestUnfetchedItem(cb Callback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := q.cursor; i < len(q.items); i++ {
		if q.items[i].Status == StatusQueued {
			q.cursor = i
			dispatch(cb, nil, q.items[i])
			return
		}
	}
	dispatch(cb, nil, nil)
}

// Max aggregates the named statistic across fetched items, returning the
// maximum finite value seen, or 0 over an empty set.
func (q *Queue) Max(statistic string, cb Callback) {
	q.aggregate(statistic, cb, func(values []float64) float64 {
		if len(values) == 0 {
			return 0
		}
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	})
}

// Min aggregates the named statistic across fetched items, returning the
// minimum finite value seen, or 0 over an empty set.
func (q *Queue) Min(statistic string, cb Callback) {
	q.aggregate(statistic, cb, func(values []float64) float64 {
		if len(values) == 0 {
			return 0
		}
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	})
}

// Avg aggregates the named statistic across fetched items. An empty set
// yields NaN -- preserved deliberately rather than guessed at as 0, see
// DESIGN.md.
func (q *Queue) Avg(statistic string, cb Callback) {
	q.aggregate(statistic, cb, func(values []float64) float64 {
		if len(values) == 0 {
			return math.NaN()
		}
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	})
}

func (q *Queue) aggregate(statistic string, cb Callback, reduce func([]float64) float64) {
	extract, ok := statisticWhitelist[statistic]
	if !ok {
		dispatch(cb, newError(KindInvalidStatistic, "invalid statistic: %s", statistic), nil)
		return
	}
	q.mu.Lock()
	var values []float64
	for _, it := range q.items {
		if !it.Fetched {
			continue
		}
		if v, ok := extract(it); ok && !math.IsInf(v, 0) && !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	q.mu.Unlock()
	dispatch(cb, nil, reduce(values))
}

// Comparator is a partial Item; CountItems/FilterItems treat every
// non-zero-value scalar field and every key present in StateData.Headers as
// a constraint that must match exactly.
type Comparator struct {
	URL      string
	Host     string
	Protocol string
	Depth    int
	Fetched  *bool
	Status   Status
	Headers  map[string]string
}

func (c Comparator) matches(it *Item) bool {
	if c.URL != "" && c.URL != it.URL {
		return false
	}
	if c.Host != "" && c.Host != it.Host {
		return false
	}
	if c.Protocol != "" && c.Protocol != it.Protocol {
		return false
	}
	if c.Depth != 0 && c.Depth != it.Depth {
		return false
	}
	if c.Fetched != nil && *c.Fetched != it.Fetched {
		return false
	}
	if c.Status != "" && c.Status != it.Status {
		return false
	}
	for k, v := range c.Headers {
		if it.StateData.Headers == nil || it.StateData.Headers[k] != v {
			return false
		}
	}
	return true
}

// CountItems counts items matching comparator.
func (q *Queue) CountItems(comparator Comparator, cb Callback) {
	q.mu.Lock()
	count := 0
	for _, it := range q.items {
		if comparator.matches(it) {
			count++
		}
	}
	q.mu.Unlock()
	dispatch(cb, nil, count)
}

// FilterItems returns every item matching comparator, preserving insertion
// order.
func (q *Queue) FilterItems(comparator Comparator, cb Callback) {
	q.mu.Lock()
	var out []*Item
	for _, it := range q.items {
		if comparator.matches(it) {
			out = append(out, it)
		}
	}
	q.mu.Unlock()
	dispatch(cb, nil, out)
}

// snapshot is the on-disk representation written by Freeze and read back by
// Defrost.
type snapshot struct {
	Items []*Item `json:"items"`
}

// Freeze serialises the queue to filename. Any non-fetched item's status is
// rewritten to queued first, so in-flight work (spooled, headers) is never
// persisted mid-transition -- crash recovery always resumes from a clean
// state.
func (q *Queue) Freeze(filename string, cb Callback) {
	q.mu.Lock()
	for _, it := range q.items {
		if !it.Fetched {
			it.Status = StatusQueued
		}
	}
	snap := snapshot{Items: q.items}
	q.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		dispatch(cb, err, nil)
		return
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		dispatch(cb, err, nil)
		return
	}
	dispatch(cb, nil, nil)
}

// Defrost reads filename back, rebuilds the scan index, and recomputes the
// oldest-unfetched cursor as the smallest index whose status is queued.
func (q *Queue) Defrost(filename string, cb Callback) {
	data, err := os.ReadFile(filename)
	if err != nil {
		dispatch(cb, err, nil)
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		dispatch(cb, err, nil)
		return
	}
	q.mu.Lock()
	q.items = snap.Items
	q.scanIndex = make(map[string]int, len(q.items))
	q.cursor = len(q.items)
	for i, it := range q.items {
		q.scanIndex[it.URL] = it.ID
		if it.Status == StatusQueued && i < q.cursor {
			q.cursor = i
		}
	}
	q.mu.Unlock()
	dispatch(cb, nil, nil)
}
