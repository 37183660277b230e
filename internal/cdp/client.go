// Package cdp intercepts Click'n'Load traffic of browser pages through the
// DevTools Fetch domain. Requests to the loopback CNL hosts are paused and
// answered by the page's cnl.Interceptor; nothing else is touched.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/myjd_bridge/internal/cnl"
)

// Client attaches to every page of a remote browser.
type Client struct {
	cdpURL      string
	gate        Gate
	registry    *TabRegistry
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	tabs        map[target.ID]*TabContext
	tabsMu      sync.RWMutex
}

type TabContext struct {
	ID     target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client for the browser at cdpURL. Captures go to sink;
// gate decides whether interception is currently enabled.
func NewClient(cdpURL string, sink cnl.Sink, gate Gate) *Client {
	return &Client{
		cdpURL:   cdpURL,
		gate:     gate,
		registry: NewTabRegistry(sink),
		tabs:     make(map[target.ID]*TabContext),
	}
}

// Connect attaches to the existing pages and follows new ones.
func (c *Client) Connect(ctx context.Context) error {
	_ = ctx
	slog.Info("Connecting to Chromium", "url", c.cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)
	c.browserCtx, c.browserStop = chromedp.NewContext(c.allocCtx)

	if err := chromedp.Run(c.browserCtx); err != nil {
		c.allocCancel()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		c.allocCancel()
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}
	slog.Info("Found browser targets", "count", len(targets))

	chromedp.ListenBrowser(c.browserCtx, c.onBrowserEvent)
	if err := chromedp.Run(c.browserCtx, target.SetDiscoverTargets(true)); err != nil {
		slog.Warn("target discovery unavailable, new tabs will not be intercepted", "error", err)
	}

	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
		}
	}
	slog.Info("Attached to tabs", "count", c.GetTabCount())
	return nil
}

func (c *Client) onBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo.Type != "page" {
			return
		}
		go func() {
			if err := c.attachToTab(e.TargetInfo.TargetID, e.TargetInfo.URL); err != nil {
				slog.Debug("Failed to attach to new tab", "target_id", e.TargetInfo.TargetID, "error", err)
			}
		}()
	case *target.EventTargetDestroyed:
		c.detach(e.TargetID)
	}
}

func (c *Client) attachToTab(targetID target.ID, url string) error {
	c.tabsMu.Lock()
	if _, ok := c.tabs[targetID]; ok {
		c.tabsMu.Unlock()
		return nil
	}
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	c.tabs[targetID] = &TabContext{ID: targetID, ctx: tabCtx, cancel: tabCancel}
	c.tabsMu.Unlock()

	c.registry.Register(targetID, url)
	chromedp.ListenTarget(tabCtx, c.createEventHandler(targetID, tabCtx))

	if err := chromedp.Run(tabCtx, page.Enable(), fetch.Enable().WithPatterns(cnlPatterns())); err != nil {
		c.detach(targetID)
		return fmt.Errorf("failed to enable fetch/page domains: %w", err)
	}

	slog.Info("Attached to tab", "target_id", targetID, "url", truncateURL(url))
	return nil
}

func (c *Client) detach(targetID target.ID) {
	c.tabsMu.Lock()
	tab, ok := c.tabs[targetID]
	delete(c.tabs, targetID)
	c.tabsMu.Unlock()
	c.registry.Remove(targetID)
	if ok {
		tab.cancel()
		slog.Debug("Detached from tab", "target_id", targetID)
	}
}

func (c *Client) createEventHandler(targetID target.ID, tabCtx context.Context) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				c.registry.Navigate(targetID, e.Frame.URL)
				slog.Debug("Tab navigated (full)", "target_id", targetID, "url", truncateURL(e.Frame.URL))
			}
		case *page.EventNavigatedWithinDocument:
			c.registry.Navigate(targetID, e.URL)
		case *fetch.EventRequestPaused:
			// Event handlers must not block; answering the pause is a CDP call.
			go c.handlePaused(tabCtx, targetID, e)
		}
	}
}

func (c *Client) handlePaused(tabCtx context.Context, targetID target.ID, e *fetch.EventRequestPaused) {
	ic, _ := c.registry.Get(targetID)
	d := decide(tabCtx, ic, c.gate, e.Request)
	if err := chromedp.Run(tabCtx, d.action(e.RequestID)); err != nil {
		slog.Warn("Failed to answer paused request", "target_id", targetID, "fulfill", d.fulfill, "error", err)
	}
}

func (c *Client) Close() error {
	c.tabsMu.Lock()
	for _, tab := range c.tabs {
		tab.cancel()
	}
	c.tabs = make(map[target.ID]*TabContext)
	c.tabsMu.Unlock()

	if c.browserStop != nil {
		c.browserStop()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}

	slog.Info("CDP client closed")
	return nil
}

func (c *Client) GetTabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
