// Package agentworker is the privileged worker: it owns the MyJDownloader
// client, persists its session and answers the offscreen-* actions.
package agentworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/dgnsrekt/myjd_bridge/internal/agent"
	"github.com/dgnsrekt/myjd_bridge/internal/storage"
	"github.com/dgnsrekt/myjd_bridge/internal/types"
	"github.com/dgnsrekt/myjd_bridge/internal/worker"
)

// Worker actions.
const (
	ActionLogin      = "offscreen-login"
	ActionLogout     = "offscreen-logout"
	ActionGetDevices = "offscreen-get-devices"
	ActionAddLink    = "offscreen-add-link"
	ActionAddCNL     = "offscreen-add-cnl"
	ActionWhoami     = "offscreen-whoami"
	ActionPing       = "offscreen-ping"
)

const restoreTimeout = 15 * time.Second

// Store is the persisted state the worker reads and writes.
type Store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
}

// Credentials are the account login fields.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the offscreen-login payload.
type LoginRequest struct {
	Credentials Credentials `json:"credentials"`
}

// AddLinkRequest is the payload of offscreen-add-link and offscreen-add-cnl.
type AddLinkRequest struct {
	DeviceID string              `json:"deviceId"`
	Query    agent.AddLinksQuery `json:"query"`
}

// Handler answers worker actions. Requests arrive one at a time through a
// worker.Mailbox.
type Handler struct {
	store Store
	opts  agent.Options

	client *agent.Client
	ready  bool
}

// New builds the handler, restores any persisted session and starts
// mirroring the connection state into the store.
func New(ctx context.Context, store Store, opts agent.Options) *Handler {
	h := &Handler{store: store, opts: opts}
	defer func() { h.ready = true }()

	if err := validateAPIRoot(opts.APIRoot); err != nil {
		slog.Error("agent client not created", "error", err)
		return h
	}
	h.client = h.newClient()
	h.restore(ctx)
	return h
}

func validateAPIRoot(root string) error {
	if root == "" {
		return nil
	}
	u, err := url.Parse(root)
	if err != nil {
		return fmt.Errorf("invalid api root %q: %w", root, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api root %q", root)
	}
	return nil
}

// Factory returns a worker.Factory producing mailbox-backed handlers.
func Factory(store Store, opts agent.Options) worker.Factory {
	return func(ctx context.Context) (worker.Worker, error) {
		return worker.NewMailbox(New(ctx, store, opts), 16), nil
	}
}

func (h *Handler) newClient() *agent.Client {
	c := agent.NewClient(h.opts)
	c.OnStateChange(h.publishState)
	return c
}

func (h *Handler) publishState(s agent.ConnectionState) {
	rec := agent.StateRecord{State: s, IsConnected: s.Connected()}
	if err := h.store.Set(context.Background(), storage.KeyConnectionState, rec); err != nil {
		slog.Warn("connection state publish failed", "state", s, "error", err)
	}
}

func (h *Handler) restore(ctx context.Context) {
	var raw string
	ok, err := h.store.Get(ctx, storage.KeySession, &raw)
	if err != nil {
		slog.Warn("session read failed", "error", err)
		return
	}
	if !ok || raw == "" {
		slog.Info("no session to restore")
		return
	}
	s, err := agent.DecodeSession(raw)
	if err != nil {
		slog.Warn("stored session unreadable, discarding", "error", err)
		_ = h.store.Remove(ctx, storage.KeySession)
		return
	}

	rctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()
	if err := h.client.Restore(rctx, s); err != nil {
		slog.Warn("session restore failed", "error", err)
		if agent.IsRemote(err) {
			_ = h.store.Remove(ctx, storage.KeySession)
		}
		return
	}
	h.persistSession(ctx)
	slog.Info("session restored", "user", s.Email)
}

func (h *Handler) persistSession(ctx context.Context) {
	s, ok := h.client.Session()
	if !ok {
		return
	}
	encoded, err := s.Encode()
	if err != nil {
		slog.Error("session encode failed", "error", err)
		return
	}
	if err := h.store.Set(ctx, storage.KeySession, encoded); err != nil {
		slog.Error("session persist failed", "error", err)
	}
}

// Handle implements worker.Handler.
func (h *Handler) Handle(ctx context.Context, action string, payload json.RawMessage) any {
	slog.Debug("worker request", "action", action)

	switch action {
	case ActionLogin:
		return h.login(ctx, payload)
	case ActionLogout:
		return h.logout(ctx)
	case ActionGetDevices:
		return h.devices(ctx)
	case ActionAddLink:
		return h.addLink(ctx, payload, false)
	case ActionAddCNL:
		return h.addLink(ctx, payload, true)
	case ActionWhoami:
		return h.whoami()
	case ActionPing:
		return map[string]any{"status": "ok", "ready": h.ready, "hasApi": h.client != nil}
	default:
		return errorResponse("Unknown action: " + action)
	}
}

// Close implements worker.Handler. The session stays persisted.
func (h *Handler) Close() error {
	return nil
}

func (h *Handler) login(ctx context.Context, payload json.RawMessage) any {
	if h.client == nil {
		return errorResponse("API not initialized")
	}
	var req LoginRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return failure(types.NewError(types.CodeValidation, "Invalid login request", err))
	}
	if req.Credentials.Email == "" || req.Credentials.Password == "" {
		return failure(types.NewError(types.CodeValidation, "Email and password are required", nil))
	}

	s, err := h.client.Connect(ctx, req.Credentials.Email, req.Credentials.Password)
	if err != nil {
		return failure(err)
	}
	h.persistSession(ctx)
	return map[string]any{"success": true, "data": map[string]any{"email": s.Email, "connected": true}}
}

func (h *Handler) logout(ctx context.Context) any {
	if h.client == nil {
		return map[string]any{"success": true}
	}
	if err := h.client.Disconnect(ctx); err != nil {
		slog.Warn("logout remote call failed", "error", err)
	}
	if err := h.store.Remove(ctx, storage.KeySession); err != nil {
		slog.Error("session remove failed", "error", err)
	}
	return map[string]any{"success": true}
}

func (h *Handler) devices(ctx context.Context) any {
	if h.client == nil {
		return errorResponse("API not initialized")
	}
	if !h.client.LoggedIn() {
		return errorResponse("Not logged in")
	}
	devices, err := h.client.ListDevices(ctx)
	if err != nil {
		return failure(err)
	}
	h.persistSession(ctx)
	return map[string]any{"success": true, "devices": devices}
}

func (h *Handler) addLink(ctx context.Context, payload json.RawMessage, cnl bool) any {
	if h.client == nil {
		return errorResponse("API not initialized")
	}
	var req AddLinkRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return failure(types.NewError(types.CodeValidation, "Invalid link request", err))
	}
	q := req.Query
	if cnl {
		q = agent.AddLinksQuery{Links: req.Query.Links, SourceURL: req.Query.SourceURL}
	}
	if !h.client.LoggedIn() {
		return failure(types.NewError(types.CodeNotReady, "Not logged in", nil))
	}
	result, err := h.client.AddLinks(ctx, req.DeviceID, q)
	if err != nil {
		return failure(err)
	}
	h.persistSession(ctx)
	return map[string]any{"success": true, "result": result}
}

func (h *Handler) whoami() any {
	if h.client == nil {
		return errorResponse("Not logged in")
	}
	user, ok := h.client.CurrentUser()
	if !ok {
		return errorResponse("Not logged in")
	}
	return map[string]any{"success": true, "username": user}
}

func errorResponse(msg string) map[string]any {
	return map[string]any{"error": msg}
}

func failure(err error) map[string]any {
	return map[string]any{"success": false, "error": types.Message(err)}
}
