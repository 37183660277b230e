package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Feeds published to the extension shim.
const (
	FeedBadge  = "badge"
	FeedMenus  = "menus"
	FeedRules  = "rules"
	FeedInject = "inject"
	FeedCNL    = "cnl"
)

// Event is a single message on a feed.
type Event struct {
	ID      int64
	Feed    string
	Payload string
}

// Broker fans out events to all subscribers. Feeds marked retained keep
// their latest event and replay it to new subscribers, so a reconnecting
// shim starts from current state.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	retained    map[string]bool
	latest      map[string]Event
	nextSubID   atomic.Int64
	nextEventID atomic.Int64
}

// NewBroker creates a broker retaining the given feeds.
func NewBroker(retainedFeeds ...string) *Broker {
	b := &Broker{
		subscribers: make(map[int64]chan Event),
		retained:    make(map[string]bool),
		latest:      make(map[string]Event),
	}
	for _, f := range retainedFeeds {
		b.retained[f] = true
	}
	return b
}

// Subscribe registers a client and returns its id and event channel. The
// channel is buffered; slow consumers have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextSubID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	for _, evt := range b.latest {
		ch <- evt
	}
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends evt to every subscriber without blocking.
func (b *Broker) Publish(evt Event) {
	evt.ID = b.nextEventID.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retained[evt.Feed] {
		b.latest[evt.Feed] = evt
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// PublishJSON encodes v and publishes it on feed.
func (b *Broker) PublishJSON(feed string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("relay event encode failed", "feed", feed, "error", err)
		return
	}
	b.Publish(Event{Feed: feed, Payload: string(data)})
}

// Latest returns the retained event of feed.
func (b *Broker) Latest(feed string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	evt, ok := b.latest[feed]
	return evt, ok
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
