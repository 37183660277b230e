package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dgnsrekt/myjd_bridge/internal/agent"
	"github.com/dgnsrekt/myjd_bridge/internal/agentworker"
	"github.com/dgnsrekt/myjd_bridge/internal/cnl"
	"github.com/dgnsrekt/myjd_bridge/internal/relay"
	"github.com/dgnsrekt/myjd_bridge/internal/storage"
	"github.com/google/uuid"
)

// Capture dispositions.
const (
	dispositionSurfaced  = "surfaced"
	dispositionSubmitted = "submitted"
	dispositionFailed    = "failed"
)

// CNLEvent is published when a capture awaits confirmation.
type CNLEvent struct {
	Capture cnl.Capture `json:"capture"`
	Pending int         `json:"pending"`
}

// SubmitCapture implements cnl.Sink for in-process interceptors.
func (r *Router) SubmitCapture(ctx context.Context, c cnl.Capture) error {
	return r.ingest(ctx, c)
}

// Backlog returns a copy of the durable capture backlog.
func (r *Router) Backlog() []cnl.Capture {
	r.cnlMu.Lock()
	defer r.cnlMu.Unlock()
	return append([]cnl.Capture{}, r.cnlBacklog...)
}

// ClearBacklog consumes the backlog and resets the pending flag. It returns
// how many captures were dropped.
func (r *Router) ClearBacklog(ctx context.Context) (int, error) {
	r.cnlMu.Lock()
	n := len(r.cnlBacklog)
	r.cnlBacklog = nil
	err := r.deps.Store.Remove(ctx, storage.KeyCNLQueue)
	r.cnlMu.Unlock()
	if err != nil {
		return 0, err
	}
	if err := r.deps.Store.Set(ctx, storage.KeyCNLPending, false); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Router) handleCaptured(ctx context.Context, data json.RawMessage) {
	var c cnl.Capture
	if err := json.Unmarshal(data, &c); err != nil {
		slog.Warn("cnl capture unreadable", "error", err)
		return
	}
	if err := r.ingest(ctx, c); err != nil {
		slog.Error("failed to handle cnl capture", "error", err)
	}
}

// ingest appends c to the backlog, persists it and then either flags it for
// the user or submits it to the preferred device.
func (r *Router) ingest(ctx context.Context, c cnl.Capture) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp == 0 {
		c.Timestamp = r.now().UnixMilli()
	}

	r.cnlMu.Lock()
	backlog := append(append([]cnl.Capture{}, r.cnlBacklog...), c)
	r.cnlBacklog = backlog
	err := r.deps.Store.Set(ctx, storage.KeyCNLQueue, backlog)
	r.cnlMu.Unlock()
	if err != nil {
		return err
	}

	if r.deps.Journal != nil {
		if err := r.deps.Journal.Append(c); err != nil {
			slog.Warn("cnl journal append failed", "error", err)
		}
	}
	slog.Info("cnl capture queued", "type", c.Type, "source_url", c.SourceURL, "backlog", len(backlog))

	if r.Settings().CNLDialogActive {
		return r.surfaceCapture(ctx, c, len(backlog))
	}
	device, ok := r.resolveDevice(ctx)
	if !ok {
		slog.Info("no device preference for cnl auto-submit, asking user")
		return r.surfaceCapture(ctx, c, len(backlog))
	}
	r.goAsync(func() { r.autoSubmit(context.WithoutCancel(ctx), c, device) })
	return nil
}

func (r *Router) surfaceCapture(ctx context.Context, c cnl.Capture, pending int) error {
	if err := r.deps.Store.Set(ctx, storage.KeyCNLPending, true); err != nil {
		return err
	}
	r.deps.Metrics.ObserveCapture(string(c.Type), dispositionSurfaced)
	if r.deps.Events != nil {
		r.deps.Events.PublishJSON(relay.FeedCNL, CNLEvent{Capture: c, Pending: pending})
	}
	if r.deps.Notifier.Enabled() {
		r.goAsync(func() {
			if err := r.deps.Notifier.CNLPending(context.WithoutCancel(ctx), pending, c.SourceURL); err != nil {
				slog.Warn("cnl notification failed", "error", err)
			}
		})
	}
	return nil
}

func (r *Router) autoSubmit(ctx context.Context, c cnl.Capture, device agent.Device) {
	req := agentworker.AddLinkRequest{
		DeviceID: device.ID,
		Query:    agent.AddLinksQuery{Links: c.FormData.Links(), SourceURL: c.SourceURL},
	}
	resp := r.deps.Workers.Dispatch(ctx, agentworker.ActionAddCNL, req)
	if !succeeded(resp) {
		r.deps.Metrics.ObserveCapture(string(c.Type), dispositionFailed)
		slog.Error("cnl auto-submit failed", "device", device.Name, "response", string(resp))
		return
	}
	r.deps.Metrics.ObserveCapture(string(c.Type), dispositionSubmitted)
	r.recordLastUsed(ctx, device)
	slog.Info("cnl capture submitted", "device", device.Name, "source_url", c.SourceURL)
}
