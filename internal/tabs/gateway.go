// Package tabs is the messaging gateway between the bridge and the content
// scripts running in browser tabs. Each tab keeps one WebSocket; messages
// to a tab without a live content script trigger an injection request.
package tabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dgnsrekt/myjd_bridge/internal/metrics"
	"github.com/dgnsrekt/myjd_bridge/internal/relay"
	"github.com/dgnsrekt/myjd_bridge/internal/types"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// ErrNotConnected is returned when a tab has no live content script.
var ErrNotConnected = errors.New("no content script connected")

// Inbound handles runtime messages sent by a content script. It returns the
// response and whether one should be sent.
type Inbound interface {
	HandleTabMessage(ctx context.Context, tab types.TabInfo, msg json.RawMessage) (json.RawMessage, bool)
}

// Publisher receives injection requests.
type Publisher interface {
	PublishJSON(feed string, v any)
}

// Options tune the gateway's timing.
type Options struct {
	// SendTimeout bounds a request/reply round trip.
	SendTimeout time.Duration
	// InjectWait bounds how long OpenToolbar waits for an injected script.
	InjectWait time.Duration
	// Settle is the pause between injection and the retried messages.
	Settle time.Duration
}

func (o *Options) defaults() {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.InjectWait <= 0 {
		o.InjectWait = 3 * time.Second
	}
	if o.Settle <= 0 {
		o.Settle = 100 * time.Millisecond
	}
}

// Gateway tracks tab connections.
type Gateway struct {
	opts    Options
	pub     Publisher
	metrics *metrics.Metrics

	mu      sync.Mutex
	conns   map[int]*tabConn
	waiters map[int][]chan struct{}
	inbound Inbound
}

// NewGateway creates a gateway publishing injection requests to pub.
func NewGateway(pub Publisher, opts Options, m *metrics.Metrics) *Gateway {
	opts.defaults()
	return &Gateway{
		opts:    opts,
		pub:     pub,
		metrics: m,
		conns:   make(map[int]*tabConn),
		waiters: make(map[int][]chan struct{}),
	}
}

// SetInbound installs the handler for content-script runtime messages.
func (g *Gateway) SetInbound(in Inbound) {
	g.mu.Lock()
	g.inbound = in
	g.mu.Unlock()
}

type tabConn struct {
	tab  types.TabInfo
	conn net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Envelope

	done chan struct{}
	once sync.Once
}

func (c *tabConn) write(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("tabs: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerText(c.conn, data)
}

func (c *tabConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
}

// ServeTab upgrades the request to a WebSocket and serves the content script
// of tab until it disconnects. A newer connection replaces an older one.
func (g *Gateway) ServeTab(w http.ResponseWriter, r *http.Request, tab types.TabInfo) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Warn("tab websocket upgrade failed", "tab_id", tab.ID, "error", err)
		return
	}

	c := &tabConn{tab: tab, conn: conn, pending: make(map[string]chan Envelope), done: make(chan struct{})}
	g.register(c)
	slog.Info("content script connected", "tab_id", tab.ID, "url", tab.URL)
	g.metrics.TabConnected(1)

	defer func() {
		g.unregister(c)
		c.close()
		g.metrics.TabConnected(-1)
		slog.Info("content script disconnected", "tab_id", tab.ID)
	}()
	g.readLoop(r.Context(), c)
}

func (g *Gateway) register(c *tabConn) {
	g.mu.Lock()
	old := g.conns[c.tab.ID]
	g.conns[c.tab.ID] = c
	waiters := g.waiters[c.tab.ID]
	delete(g.waiters, c.tab.ID)
	g.mu.Unlock()

	if old != nil {
		old.close()
	}
	for _, ch := range waiters {
		close(ch)
	}
}

func (g *Gateway) unregister(c *tabConn) {
	g.mu.Lock()
	if g.conns[c.tab.ID] == c {
		delete(g.conns, c.tab.ID)
	}
	g.mu.Unlock()
}

func (g *Gateway) lookup(tabID int) *tabConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[tabID]
}

// Connected reports whether tab has a live content script.
func (g *Gateway) Connected(tabID int) bool {
	return g.lookup(tabID) != nil
}

// Disconnect drops tab's connection, e.g. when the tab closed.
func (g *Gateway) Disconnect(tabID int) {
	if c := g.lookup(tabID); c != nil {
		c.close()
	}
}

// Close drops every connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := make([]*tabConn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (g *Gateway) readLoop(ctx context.Context, c *tabConn) {
	for {
		data, err := wsutil.ReadClientText(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				slog.Debug("tab read loop exit", "tab_id", c.tab.ID, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("tab frame unreadable", "tab_id", c.tab.ID, "error", err)
			continue
		}

		switch {
		case env.ReplyTo != "":
			c.pendingMu.Lock()
			ch, ok := c.pending[env.ReplyTo]
			if ok {
				delete(c.pending, env.ReplyTo)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- env
			}
		case len(env.Message) > 0:
			go g.handleInbound(ctx, c, env)
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, c *tabConn, env Envelope) {
	g.mu.Lock()
	in := g.inbound
	g.mu.Unlock()
	if in == nil {
		return
	}
	resp, ok := in.HandleTabMessage(ctx, c.tab, env.Message)
	if !ok || env.ID == "" {
		return
	}
	if err := c.write(Envelope{ReplyTo: env.ID, Data: resp}); err != nil {
		slog.Debug("tab reply failed", "tab_id", c.tab.ID, "error", err)
	}
}

// Send delivers action to tab and waits for the content script's reply.
func (g *Gateway) Send(ctx context.Context, tabID int, action string, data any) (json.RawMessage, error) {
	c := g.lookup(tabID)
	if c == nil {
		return nil, ErrNotConnected
	}
	raw, err := encode(data)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ch := make(chan Envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	drop := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	if err := c.write(Envelope{ID: id, Action: action, TabID: tabID, Data: raw}); err != nil {
		drop()
		return nil, fmt.Errorf("tabs: send %s: %w", action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.SendTimeout)
	defer cancel()
	select {
	case env, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if env.Error != "" {
			return nil, fmt.Errorf("tabs: %s: %s", action, env.Error)
		}
		return env.Data, nil
	case <-ctx.Done():
		drop()
		return nil, fmt.Errorf("tabs: %s: %w", action, ctx.Err())
	}
}

// Post delivers action to tab without waiting for a reply.
func (g *Gateway) Post(tabID int, action string, data any) error {
	c := g.lookup(tabID)
	if c == nil {
		return ErrNotConnected
	}
	raw, err := encode(data)
	if err != nil {
		return err
	}
	return c.write(Envelope{Action: action, TabID: tabID, Data: raw})
}

// SendToTab posts a message and only logs failures.
func (g *Gateway) SendToTab(tabID int, action string, data any) {
	if err := g.Post(tabID, action, data); err != nil {
		slog.Debug("tab message not delivered", "tab_id", tabID, "action", action, "error", err)
	}
}

// QueueChanged opens the toolbar of tab in the background.
func (g *Gateway) QueueChanged(tabID int) {
	go g.OpenToolbar(context.Background(), tabID)
}

// OpenToolbar asks the tab's content script to show the toolbar and refresh
// its link list. Without a content script it requests an injection, waits
// for the script to connect, and retries after a short settle delay.
func (g *Gateway) OpenToolbar(ctx context.Context, tabID int) error {
	payload := map[string]int{"tabId": tabID}
	if _, err := g.Send(ctx, tabID, ActionOpenToolbar, payload); err == nil {
		g.SendToTab(tabID, ActionLinkInfoUpdate, payload)
		return nil
	}

	slog.Info("injecting toolbar content script", "tab_id", tabID)
	connected := g.waitConnected(tabID)
	defer g.stopWaiting(tabID, connected)
	if g.pub != nil {
		g.pub.PublishJSON(relay.FeedInject, InjectRequest{TabID: tabID, Files: []string{ToolbarScript}})
	}

	timer := time.NewTimer(g.opts.InjectWait)
	defer timer.Stop()
	select {
	case <-connected:
	case <-timer.C:
		err := fmt.Errorf("tabs: toolbar injection into tab %d timed out", tabID)
		slog.Error("toolbar content script injection failed", "tab_id", tabID, "error", err)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-time.After(g.opts.Settle):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := g.Post(tabID, ActionOpenToolbar, payload); err != nil {
		slog.Error("toolbar notify after injection failed", "tab_id", tabID, "error", err)
		return err
	}
	g.SendToTab(tabID, ActionLinkInfoUpdate, payload)
	return nil
}

// waitConnected returns a channel closed when tab has a connection.
func (g *Gateway) waitConnected(tabID int) <-chan struct{} {
	ch := make(chan struct{})
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[tabID]; ok {
		close(ch)
		return ch
	}
	g.waiters[tabID] = append(g.waiters[tabID], ch)
	return ch
}

// stopWaiting drops ch from the tab's waiters if it is still registered.
func (g *Gateway) stopWaiting(tabID int, ch <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	waiters := g.waiters[tabID]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(g.waiters, tabID)
	} else {
		g.waiters[tabID] = waiters
	}
}

func encode(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("tabs: marshal data: %w", err)
	}
	return b, nil
}
