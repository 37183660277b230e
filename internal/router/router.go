// Package router is the single entry point for runtime messages. It checks
// the sender, classifies the action and dispatches to the request queue,
// the worker manager, the CNL backlog or the visible surface.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/myjd_bridge/internal/agent"
	"github.com/dgnsrekt/myjd_bridge/internal/cnl"
	"github.com/dgnsrekt/myjd_bridge/internal/metrics"
	"github.com/dgnsrekt/myjd_bridge/internal/notify"
	"github.com/dgnsrekt/myjd_bridge/internal/queue"
	"github.com/dgnsrekt/myjd_bridge/internal/storage"
	"github.com/dgnsrekt/myjd_bridge/internal/surface"
	"github.com/dgnsrekt/myjd_bridge/internal/worker"
)

// Dispatcher forwards actions to the privileged worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, action string, payload any) json.RawMessage
	Exists() bool
	State() worker.State
	Teardown() error
}

// TabSender delivers messages to content scripts.
type TabSender interface {
	SendToTab(tabID int, action string, data any)
	Post(tabID int, action string, data any) error
	Disconnect(tabID int)
}

// Publisher receives events for the extension shim.
type Publisher interface {
	PublishJSON(feed string, v any)
}

// Journal records CNL captures.
type Journal interface {
	Append(record any) error
}

// Pinger reports the loopback interceptor's liveness.
type Pinger interface {
	Ping() cnl.PingStatus
}

// Deps are the router's collaborators. Store, Queue, Workers and Surface
// are required.
type Deps struct {
	ExtensionID string
	Store       *storage.Store
	Queue       *queue.Store
	Workers     Dispatcher
	Surface     *surface.Surface
	Tabs        TabSender
	Events      Publisher
	Journal     Journal
	Notifier    *notify.Notifier
	Interceptor Pinger
	Metrics     *metrics.Metrics
}

// Settings are the cached persisted settings.
type Settings struct {
	CNLInterceptActive bool             `json:"cnlInterceptActive"`
	ContextMenuSimple  bool             `json:"contextMenuSimple"`
	CNLDialogActive    bool             `json:"cnlDialogActive"`
	PreferredDevice    DevicePreference `json:"defaultPreferredDevice"`
}

// DefaultSettings apply where nothing is persisted.
var DefaultSettings = Settings{
	CNLInterceptActive: true,
	ContextMenuSimple:  true,
	CNLDialogActive:    true,
	PreferredDevice:    AskEveryTime,
}

// State is the router's view of the process.
type State struct {
	Connected   bool             `json:"isConnected"`
	LoggedIn    bool             `json:"isLoggedIn"`
	WorkerState worker.State     `json:"workerState"`
	Settings    Settings         `json:"settings"`
	Surface     surface.Snapshot `json:"surface"`
	CNLPending  bool             `json:"cnlPending"`
	CNLBacklog  int              `json:"cnlBacklog"`
}

// Router owns the process-scoped state. Build it with New and call Init
// before handling messages.
type Router struct {
	deps Deps
	now  func() time.Time

	mu        sync.Mutex
	connected bool
	settings  Settings

	// cnlMu orders backlog appends with their persistence.
	cnlMu      sync.Mutex
	cnlBacklog []cnl.Capture

	listenOnce sync.Once
	wg         sync.WaitGroup
}

// New builds a router.
func New(deps Deps) *Router {
	return &Router{deps: deps, now: time.Now, settings: DefaultSettings}
}

// Init (re)loads state from storage, applies defaults and re-applies every
// side effect: badge, context menus and the CNL rule pair.
func (r *Router) Init(ctx context.Context) error {
	r.listenOnce.Do(func() {
		r.deps.Store.OnChange(r.onStorageChange)
	})

	settings := DefaultSettings
	for key, dst := range map[string]any{
		storage.KeyCNLInterceptActive:     &settings.CNLInterceptActive,
		storage.KeyContextMenuSimple:      &settings.ContextMenuSimple,
		storage.KeyCNLDialogActive:        &settings.CNLDialogActive,
		storage.KeyDefaultPreferredDevice: &settings.PreferredDevice,
	} {
		if _, err := r.deps.Store.Get(ctx, key, dst); err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
	}
	if settings.PreferredDevice.ID == "" {
		settings.PreferredDevice = AskEveryTime
	}

	var rec agent.StateRecord
	if _, err := r.deps.Store.Get(ctx, storage.KeyConnectionState, &rec); err != nil {
		return fmt.Errorf("load connection state: %w", err)
	}

	var backlog []cnl.Capture
	if _, err := r.deps.Store.Get(ctx, storage.KeyCNLQueue, &backlog); err != nil {
		return fmt.Errorf("load cnl queue: %w", err)
	}

	r.mu.Lock()
	r.settings = settings
	r.connected = rec.IsConnected
	r.mu.Unlock()

	r.cnlMu.Lock()
	r.cnlBacklog = backlog
	r.cnlMu.Unlock()

	if settings.CNLInterceptActive {
		r.deps.Surface.InstallRules()
	} else {
		r.deps.Surface.RemoveRules()
	}
	r.deps.Surface.SetMenus(settings.ContextMenuSimple)
	r.deps.Surface.SetConnected(rec.IsConnected)

	slog.Info("router initialized",
		"cnl_intercept", settings.CNLInterceptActive,
		"menu_simple", settings.ContextMenuSimple,
		"cnl_dialog", settings.CNLDialogActive,
		"connected", rec.IsConnected,
		"cnl_backlog", len(backlog),
	)
	return nil
}

// Wait blocks until background work started by handlers has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) goAsync(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Settings returns the cached settings.
func (r *Router) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Connected reports the mirrored connection flag.
func (r *Router) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *Router) setConnected(connected bool) {
	r.mu.Lock()
	r.connected = connected
	r.mu.Unlock()
	r.deps.Surface.SetConnected(connected)
}

// Snapshot reports the router's state.
func (r *Router) Snapshot(ctx context.Context) State {
	var pending bool
	_, _ = r.deps.Store.Get(ctx, storage.KeyCNLPending, &pending)
	r.cnlMu.Lock()
	backlog := len(r.cnlBacklog)
	r.cnlMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Connected:   r.connected,
		LoggedIn:    r.loggedIn(ctx),
		WorkerState: r.deps.Workers.State(),
		Settings:    r.settings,
		Surface:     r.deps.Surface.Snapshot(),
		CNLPending:  pending,
		CNLBacklog:  backlog,
	}
}

// loggedIn reports whether a readable session is stored. An unreadable
// one counts as absent.
func (r *Router) loggedIn(ctx context.Context) bool {
	var raw string
	ok, err := r.deps.Store.Get(ctx, storage.KeySession, &raw)
	if err != nil || !ok || raw == "" {
		return false
	}
	_, err = agent.DecodeSession(raw)
	return err == nil
}

// onStorageChange applies side effects of persisted setting changes.
func (r *Router) onStorageChange(c storage.Change) {
	switch c.Key {
	case storage.KeyConnectionState:
		var rec agent.StateRecord
		if c.New != nil {
			if err := json.Unmarshal(c.New, &rec); err != nil {
				slog.Warn("connection state unreadable", "error", err)
				return
			}
		}
		r.setConnected(rec.IsConnected)

	case storage.KeyContextMenuSimple:
		simple := DefaultSettings.ContextMenuSimple
		decodeSetting(c, &simple)
		r.mu.Lock()
		r.settings.ContextMenuSimple = simple
		r.mu.Unlock()
		r.deps.Surface.SetMenus(simple)

	case storage.KeyCNLInterceptActive:
		active := DefaultSettings.CNLInterceptActive
		decodeSetting(c, &active)
		r.mu.Lock()
		r.settings.CNLInterceptActive = active
		r.mu.Unlock()
		if active {
			r.deps.Surface.InstallRules()
		} else {
			r.deps.Surface.RemoveRules()
		}

	case storage.KeyCNLDialogActive:
		dialog := DefaultSettings.CNLDialogActive
		decodeSetting(c, &dialog)
		r.mu.Lock()
		r.settings.CNLDialogActive = dialog
		r.mu.Unlock()

	case storage.KeyDefaultPreferredDevice:
		pref := AskEveryTime
		decodeSetting(c, &pref)
		if pref.ID == "" {
			pref = AskEveryTime
		}
		r.mu.Lock()
		r.settings.PreferredDevice = pref
		r.mu.Unlock()
	}
}

// decodeSetting leaves dst at its default when the key was removed or holds
// something unreadable.
func decodeSetting(c storage.Change, dst any) {
	if c.New == nil {
		return
	}
	if err := json.Unmarshal(c.New, dst); err != nil {
		slog.Warn("setting unreadable, using default", "key", c.Key, "error", err)
	}
}
