package relay

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	heartbeatInterval = 15 * time.Second
	// reconnectDelay is the retry hint sent to EventSource clients.
	reconnectDelay = 3 * time.Second
)

var knownFeeds = map[string]bool{
	FeedBadge:  true,
	FeedMenus:  true,
	FeedRules:  true,
	FeedInject: true,
	FeedCNL:    true,
}

// parseFeeds reads the ?feeds=a,b filter. A nil map means every feed.
func parseFeeds(q string) (map[string]bool, error) {
	if q == "" {
		return nil, nil
	}
	filter := make(map[string]bool)
	for _, f := range strings.Split(q, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !knownFeeds[f] {
			return nil, fmt.Errorf("unknown feed %q", f)
		}
		filter[f] = true
	}
	return filter, nil
}

func writeEvent(w io.Writer, evt Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Feed, evt.Payload)
	return err
}

// SSEHandler streams broker events to the extension shim. Clients may
// filter feeds with ?feeds=badge,menus; unknown feed names are rejected.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		feeds, err := parseFeeds(r.URL.Query().Get("feeds"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		fmt.Fprintf(w, "retry: %d\n", reconnectDelay.Milliseconds())
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if feeds != nil && !feeds[evt.Feed] {
					continue
				}
				if err := writeEvent(w, evt); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
