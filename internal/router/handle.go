package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/myjd_bridge/internal/agent"
	"github.com/dgnsrekt/myjd_bridge/internal/agentworker"
	"github.com/dgnsrekt/myjd_bridge/internal/queue"
	"github.com/dgnsrekt/myjd_bridge/internal/storage"
	"github.com/dgnsrekt/myjd_bridge/internal/types"
)

// Handle dispatches msg. It calls respond exactly once for every accepted
// message and returns true when that happens after Handle returns.
// Messages from a foreign sender or addressed to the worker are dropped:
// respond is never called and Handle returns false.
func (r *Router) Handle(ctx context.Context, msg Message, sender Sender, respond Respond) bool {
	if msg.Target == TargetWorker {
		return false
	}
	action := ParseAction(msg.Action)
	if sender.ID != r.deps.ExtensionID {
		slog.Warn("message from foreign sender dropped", "action", msg.Action, "sender_id", sender.ID)
		r.deps.Metrics.ObserveMessage(action.String(), "dropped")
		return false
	}

	var once sync.Once
	reply := func(v any) {
		once.Do(func() { respond(v) })
	}

	if sender.Tab != nil {
		slog.Debug("message", "action", msg.Action, "tab_id", sender.Tab.ID)
	} else {
		slog.Debug("message", "action", msg.Action, "from", "extension")
	}

	run := func() {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("message handler panicked", "action", msg.Action, "panic", p)
				r.deps.Metrics.ObserveMessage(action.String(), "panic")
				reply(map[string]any{"error": fmt.Sprintf("internal error: %v", p)})
			}
		}()
		r.dispatch(ctx, action, msg, sender, reply)
		r.deps.Metrics.ObserveMessage(action.String(), "handled")
	}

	if !isAsync(action) {
		run()
		return false
	}
	ctx = context.WithoutCancel(ctx)
	r.goAsync(run)
	return true
}

// Call handles msg and waits for its response. ok is false when the
// message was dropped.
func (r *Router) Call(ctx context.Context, msg Message, sender Sender) (resp any, ok bool) {
	ch := make(chan any, 1)
	async := r.Handle(ctx, msg, sender, func(v any) { ch <- v })
	if !async {
		select {
		case v := <-ch:
			return v, true
		default:
			return nil, false
		}
	}
	select {
	case v := <-ch:
		return v, true
	case <-ctx.Done():
		return map[string]any{"error": ctx.Err().Error()}, true
	}
}

// HandleTabMessage handles a runtime message sent by tab's content script.
func (r *Router) HandleTabMessage(ctx context.Context, tab types.TabInfo, raw json.RawMessage) (json.RawMessage, bool) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("tab message unreadable", "tab_id", tab.ID, "error", err)
		return nil, false
	}
	resp, ok := r.Call(ctx, msg, Sender{ID: r.deps.ExtensionID, Tab: &tab})
	if !ok {
		return nil, false
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"error":%q}`, err.Error())), true
	}
	return b, true
}

// isAsync reports whether an action's response depends on a worker or
// tab round trip.
func isAsync(a Action) bool {
	switch a {
	case ActionCloseWorker, ActionLogin, ActionLogout, ActionWhoami,
		ActionListDevices, ActionSubmitLink, ActionSubmitCNL:
		return true
	}
	return false
}

func (r *Router) dispatch(ctx context.Context, action Action, msg Message, sender Sender, reply Respond) {
	switch action {
	case ActionConnectionStatus:
		reply(map[string]any{"isConnected": r.Connected(), "isLoggedIn": r.loggedIn(ctx)})

	case ActionSessionInfo:
		reply(map[string]any{"data": map[string]any{
			"isLoggedIn":      r.loggedIn(ctx),
			"connectionState": r.Connected(),
		}})

	case ActionCheckWorker:
		reply(map[string]any{"exists": r.deps.Workers.Exists()})

	case ActionCloseWorker:
		if err := r.deps.Workers.Teardown(); err != nil {
			slog.Warn("worker teardown failed", "error", err)
		}
		reply(map[string]any{"closed": true})

	case ActionWake:
		reply(map[string]any{"awake": true})

	case ActionSetConnectionState:
		var data struct {
			IsConnected bool `json:"isConnected"`
		}
		_ = json.Unmarshal(msg.Data, &data)
		r.setConnected(data.IsConnected)
		reply(statusOK)

	case ActionConnectionStateChange:
		var state agent.ConnectionState
		if err := json.Unmarshal(msg.Data, &state); err == nil {
			switch state {
			case agent.StateConnected:
				r.setConnected(true)
			case agent.StateDisconnected:
				r.setConnected(false)
			default:
				r.deps.Surface.SetConnected(r.Connected())
			}
		}
		reply(statusOK)

	case ActionUpdateBadge:
		var data BadgeRequest
		_ = json.Unmarshal(msg.Data, &data)
		r.deps.Surface.OverrideBadge(data.Text, data.Color)
		reply(statusOK)

	case ActionCNLPing:
		if r.deps.Interceptor == nil {
			reply(map[string]any{"status": "inactive"})
			return
		}
		reply(r.deps.Interceptor.Ping())

	case ActionLogin:
		reply(r.deps.Workers.Dispatch(ctx, agentworker.ActionLogin, map[string]any{"credentials": msg.Data}))

	case ActionLogout:
		reply(r.deps.Workers.Dispatch(ctx, agentworker.ActionLogout, nil))

	case ActionWhoami:
		reply(r.deps.Workers.Dispatch(ctx, agentworker.ActionWhoami, nil))

	case ActionListDevices:
		list := NormalizeDevices(r.deps.Workers.Dispatch(ctx, agentworker.ActionGetDevices, nil))
		if IsLegacyName(msg.Action) {
			reply(map[string]any{"data": list})
			return
		}
		reply(list)

	case ActionSubmitLink:
		reply(r.submit(ctx, agentworker.ActionAddLink, msg))

	case ActionSubmitCNL:
		reply(r.submit(ctx, agentworker.ActionAddCNL, msg))

	case ActionQueueList:
		tabID, ok := tabIDFrom(msg.Data)
		if !ok && sender.Tab != nil {
			tabID = sender.Tab.ID
		}
		list := r.deps.Queue.List(tabID)
		if IsLegacyName(msg.Action) {
			reply(map[string]any{"data": list})
			return
		}
		reply(list)

	case ActionQueueRemove:
		var ref TabRef
		if err := json.Unmarshal(msg.Data, &ref); err == nil && ref.TabID != 0 && ref.RequestID != "" {
			r.deps.Queue.RemoveOne(int(ref.TabID), ref.RequestID)
		}
		reply(statusOK)

	case ActionQueueClear:
		if tabID, ok := tabIDFrom(msg.Data); ok {
			r.deps.Queue.RemoveAll(tabID)
		}
		reply(statusOK)

	case ActionCloseToolbar:
		if tabID, ok := tabIDFrom(msg.Data); ok {
			if r.deps.Tabs != nil {
				r.deps.Tabs.SendToTab(tabID, "close-in-page-toolbar", nil)
			}
			r.deps.Queue.RemoveAll(tabID)
		}
		reply(statusOK)

	case ActionSelectionResult:
		var data struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(msg.Data, &data); err == nil && data.Text != "" && sender.Tab != nil {
			r.deps.Queue.Enqueue(sender.Tab.ID, data.Text, originOf(*sender.Tab), queue.KindSelection)
		}
		reply(statusOK)

	case ActionCNLCaptured:
		r.handleCaptured(ctx, msg.Data)
		reply(Status{Status: "cnl-received"})

	case ActionCNLQueue:
		var pending bool
		_, _ = r.deps.Store.Get(ctx, storage.KeyCNLPending, &pending)
		reply(map[string]any{"queue": r.Backlog(), "pending": pending})

	case ActionCNLQueueClear:
		n, err := r.ClearBacklog(ctx)
		if err != nil {
			reply(map[string]any{"status": "error", "error": err.Error()})
			return
		}
		reply(map[string]any{"status": "ok", "cleared": n})

	case ActionTabRemoved:
		if tabID, ok := tabIDFrom(msg.Data); ok {
			r.deps.Queue.RemoveAll(tabID)
			if r.deps.Tabs != nil {
				r.deps.Tabs.Disconnect(tabID)
			}
		}
		reply(statusOK)

	case ActionContextMenuClick:
		var click MenuClick
		if err := json.Unmarshal(msg.Data, &click); err != nil {
			reply(map[string]any{"status": "error", "error": "invalid menu click"})
			return
		}
		if click.Tab == nil {
			click.Tab = sender.Tab
		}
		r.handleMenuClick(click)
		reply(statusOK)

	case ActionContentScriptInjected, ActionDevicePoll, ActionSendFeedback:
		reply(statusOK)

	case ActionIsActiveOnTab:
		reply(map[string]any{"data": map[string]any{"active": false}})

	default:
		slog.Info("unhandled action acknowledged", "action", msg.Action)
		reply(map[string]any{"forwarded": true, "action": msg.Action})
	}
}

// submit forwards a link submission to the worker and records the device
// on success.
func (r *Router) submit(ctx context.Context, workerAction string, msg Message) json.RawMessage {
	var req SubmitRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return json.RawMessage(`{"success":false,"error":"Invalid submission"}`)
		}
	} else {
		req.Device, req.Query = msg.Device, msg.Query
	}

	device := agent.Device{ID: req.DeviceID}
	if device.ID == "" && req.Device != nil {
		device = *req.Device
	}
	if device.ID == "" {
		if d, ok := r.resolveDevice(ctx); ok {
			device = d
		}
	}

	query := agent.AddLinksQuery{}
	if req.Query != nil {
		query = *req.Query
	}
	resp := r.deps.Workers.Dispatch(ctx, workerAction, agentworker.AddLinkRequest{DeviceID: device.ID, Query: query})
	if succeeded(resp) {
		r.recordLastUsed(ctx, device)
	}
	return resp
}

func (r *Router) resolveDevice(ctx context.Context) (agent.Device, bool) {
	var last agent.Device
	found, _ := r.deps.Store.Get(ctx, storage.KeyLastUsedDevice, &last)
	var lastPtr *agent.Device
	if found {
		lastPtr = &last
	}
	return r.Settings().PreferredDevice.Resolve(lastPtr)
}

func (r *Router) recordLastUsed(ctx context.Context, d agent.Device) {
	if d.ID == "" {
		return
	}
	if err := r.deps.Store.Set(ctx, storage.KeyLastUsedDevice, d); err != nil {
		slog.Warn("last used device not saved", "error", err)
	}
}

func succeeded(resp json.RawMessage) bool {
	var out struct {
		Success bool `json:"success"`
	}
	return json.Unmarshal(resp, &out) == nil && out.Success
}

func originOf(tab types.TabInfo) queue.Origin {
	return queue.Origin{URL: tab.URL, Title: tab.Title, IconURL: tab.FavIconURL}
}
