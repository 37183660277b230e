// Package notify pushes desktop notifications through an ntfy endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Notifier posts messages to one ntfy topic. A zero Endpoint disables it.
type Notifier struct {
	Endpoint string
	Client   *http.Client
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.Endpoint != ""
}

// CNLPending announces captured Click'n'Load links waiting for confirmation.
func (n *Notifier) CNLPending(ctx context.Context, pending int, sourceURL string) error {
	if !n.Enabled() {
		return nil
	}
	msg := fmt.Sprintf("%d Click'n'Load submission(s) waiting for confirmation", pending)
	if sourceURL != "" {
		msg += " from " + sourceURL
	}
	return Send(ctx, n.Client, n.Endpoint, "MyJDownloader", msg)
}

// Send posts message to endpoint. title is sent as the ntfy Title header
// when non-empty.
func Send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
