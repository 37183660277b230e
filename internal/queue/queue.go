// Package queue holds per-tab pending submissions awaiting user action in the
// in-page toolbar. State is in memory only and dies with the process.
package queue

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Kind classifies what a pending request captured.
type Kind string

const (
	KindLink      Kind = "link"
	KindPage      Kind = "page"
	KindSelection Kind = "selection"
)

// Origin is a snapshot of the tab the request came from.
type Origin struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	IconURL string `json:"favIconUrl"`
}

// PendingRequest is one queued submission.
type PendingRequest struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"time"`
	Origin    Origin `json:"parent"`
	Content   string `json:"content"`
	Kind      Kind   `json:"type"`
}

// Notifier is told whenever a tab's queue may have changed.
type Notifier interface {
	QueueChanged(tabID int)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(tabID int)

func (f NotifierFunc) QueueChanged(tabID int) { f(tabID) }

// Store is the per-tab request queue.
type Store struct {
	mu     sync.Mutex
	queues map[int][]PendingRequest

	notifier Notifier
	now      func() time.Time
	suffix   func() int
}

// NewStore creates an empty store. notifier may be nil.
func NewStore(notifier Notifier) *Store {
	return &Store{
		queues:   make(map[int][]PendingRequest),
		notifier: notifier,
		now:      time.Now,
		suffix:   func() int { return rand.IntN(10000) },
	}
}

// SetNotifier replaces the queue-changed notifier.
func (s *Store) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Enqueue appends content to tabID's queue unless an entry with the same kind
// and content exists. The notifier fires in both cases. It returns the entry
// that now represents the content and whether it was newly added.
func (s *Store) Enqueue(tabID int, content string, origin Origin, kind Kind) (PendingRequest, bool) {
	s.mu.Lock()
	var (
		entry PendingRequest
		added bool
	)
	dupe := false
	for _, item := range s.queues[tabID] {
		if item.Kind == kind && item.Content == content {
			entry = item
			dupe = true
			break
		}
	}
	if !dupe {
		ts := s.now().UnixMilli()
		entry = PendingRequest{
			ID:        fmt.Sprintf("%d%d%d", tabID, ts, s.suffix()),
			CreatedAt: ts,
			Origin:    origin,
			Content:   content,
			Kind:      kind,
		}
		s.queues[tabID] = append(s.queues[tabID], entry)
		added = true
	}
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil {
		notifier.QueueChanged(tabID)
	}
	return entry, added
}

// List returns a copy of tabID's queue. It never returns nil.
func (s *Store) List(tabID int) []PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingRequest, len(s.queues[tabID]))
	copy(out, s.queues[tabID])
	return out
}

// RemoveOne drops the entry with requestID from tabID's queue.
func (s *Store) RemoveOne(tabID int, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[tabID]
	if !ok {
		return
	}
	kept := q[:0:0]
	for _, item := range q {
		if item.ID != requestID {
			kept = append(kept, item)
		}
	}
	s.queues[tabID] = kept
}

// RemoveAll clears tabID's queue.
func (s *Store) RemoveAll(tabID int) {
	s.mu.Lock()
	delete(s.queues, tabID)
	s.mu.Unlock()
}

// Tabs returns how many tabs currently hold a queue.
func (s *Store) Tabs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}
