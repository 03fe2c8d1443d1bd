// Package queue implements the fetch queue: an ordered store of QueueItems
// with a scan index for O(1) duplicate detection, an oldest-unfetched
// cursor, and snapshot/restore to a single file. Every operation is
// callback-shaped so that a durable backend can be swapped in without
// changing the control loop; the default implementation is an in-memory
// slice but still invokes callbacks without assuming synchronous dispatch.
package queue

import "fmt"

// Status is a QueueItem's position in the per-item state machine described
// by the crawler: queued -> spooled -> headers -> downloaded, with several
// alternate terminals.
type Status string

const (
	StatusCreated           Status = "created"
	StatusQueued            Status = "queued"
	StatusSpooled           Status = "spooled"
	StatusHeaders           Status = "headers"
	StatusDownloaded        Status = "downloaded"
	StatusRedirected        Status = "redirected"
	StatusNotFound          Status = "notfound"
	StatusFailed            Status = "failed"
	StatusTimeout           Status = "timeout"
	StatusDisallowed        Status = "disallowed"
	StatusDownloadPrevented Status = "downloadprevented"
)

// terminal is the set of statuses that may only be reached together with
// Fetched = true.
var terminal = map[Status]bool{
	StatusDownloaded:        true,
	StatusRedirected:        true,
	StatusNotFound:          true,
	StatusFailed:            true,
	StatusTimeout:           true,
	StatusDisallowed:        true,
	StatusDownloadPrevented: true,
}

// IsTerminal reports whether s is a terminal status.
func IsTerminal(s Status) bool { return terminal[s] }

// StateData is the bag of fields populated across the request lifecycle.
type StateData struct {
	RequestLatency    int64             `json:"requestLatency,omitempty"`
	RequestTime       int64             `json:"requestTime,omitempty"`
	DownloadTime      int64             `json:"downloadTime,omitempty"`
	ContentLength      int64             `json:"contentLength,omitempty"`
	ContentType       string            `json:"contentType,omitempty"`
	Code              int               `json:"code,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	ActualDataSize    int64             `json:"actualDataSize,omitempty"`
	SentIncorrectSize bool              `json:"sentIncorrectSize,omitempty"`
}

// Merge deep-merges updates into s: scalar fields overwrite, the Headers
// map is merged key by key rather than replaced wholesale.
func (s *StateData) Merge(updates StateData) {
	if updates.RequestLatency != 0 {
		s.RequestLatency = updates.RequestLatency
	}
	if updates.RequestTime != 0 {
		s.RequestTime = updates.RequestTime
	}
	if updates.DownloadTime != 0 {
		s.DownloadTime = updates.DownloadTime
	}
	if updates.ContentLength != 0 {
		s.ContentLength = updates.ContentLength
	}
	if updates.ContentType != "" {
		s.ContentType = updates.ContentType
	}
	if updates.Code != 0 {
		s.Code = updates.Code
	}
	if updates.Headers != nil {
		if s.Headers == nil {
			s.Headers = make(map[string]string, len(updates.Headers))
		}
		for k, v := range updates.Headers {
			s.Headers[k] = v
		}
	}
	if updates.ActualDataSize != 0 {
		s.ActualDataSize = updates.ActualDataSize
	}
	s.SentIncorrectSize = s.SentIncorrectSize || updates.SentIncorrectSize
}

// Item is the unit of work tracked by the FetchQueue.
type Item struct {
	ID        int       `json:"id"`
	URL       string    `json:"url"`
	Protocol  string    `json:"protocol"`
	Host      string    `json:"host"`
	Port      string    `json:"port"`
	Path      string    `json:"path"`
	URIPath   string    `json:"uriPath"`
	Depth     int       `json:"depth"`
	Referrer  string    `json:"referrer"`
	Fetched   bool      `json:"fetched"`
	Status    Status    `json:"status"`
	StateData StateData `json:"stateData"`
}

// Origin returns the scheme+host+port triple used to key robots.txt rules.
func (i *Item) Origin() string {
	port := i.Port
	if port == "" {
		return fmt.Sprintf("%s://%s", i.Protocol, i.Host)
	}
	return fmt.Sprintf("%s://%s:%s", i.Protocol, i.Host, port)
}
