package router

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dgnsrekt/myjd_bridge/internal/agent"
	"github.com/dgnsrekt/myjd_bridge/internal/agentworker"
	"github.com/dgnsrekt/myjd_bridge/internal/cnl"
	"github.com/dgnsrekt/myjd_bridge/internal/queue"
	"github.com/dgnsrekt/myjd_bridge/internal/relay"
	"github.com/dgnsrekt/myjd_bridge/internal/storage"
	"github.com/dgnsrekt/myjd_bridge/internal/surface"
	"github.com/dgnsrekt/myjd_bridge/internal/types"
	"github.com/dgnsrekt/myjd_bridge/internal/worker"
	"github.com/google/go-cmp/cmp"
)

const testExtensionID = "ext-under-test"

type workerCall struct {
	action  string
	payload string
}

type fakeWorkers struct {
	mu        sync.Mutex
	calls     []workerCall
	reply     func(action string) json.RawMessage
	exists    bool
	teardowns int
}

func (f *fakeWorkers) Dispatch(_ context.Context, action string, payload any) json.RawMessage {
	b, _ := json.Marshal(payload)
	f.mu.Lock()
	f.calls = append(f.calls, workerCall{action: action, payload: string(b)})
	f.exists = true
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return json.RawMessage(`{"success":true}`)
	}
	return reply(action)
}

func (f *fakeWorkers) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists
}

func (f *fakeWorkers) State() worker.State {
	if f.Exists() {
		return worker.Present
	}
	return worker.Absent
}

func (f *fakeWorkers) Teardown() error {
	f.mu.Lock()
	f.exists = false
	f.teardowns++
	f.mu.Unlock()
	return nil
}

func (f *fakeWorkers) recorded() []workerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]workerCall{}, f.calls...)
}

type fakeTabs struct {
	mu           sync.Mutex
	sent         []string
	connected    bool
	disconnected []int
}

func (f *fakeTabs) SendToTab(tabID int, action string, data any) {
	f.mu.Lock()
	f.sent = append(f.sent, action)
	f.mu.Unlock()
}

func (f *fakeTabs) Post(tabID int, action string, data any) error {
	if !f.connected {
		return errNotConnected
	}
	f.SendToTab(tabID, action, data)
	return nil
}

func (f *fakeTabs) Disconnect(tabID int) {
	f.mu.Lock()
	f.disconnected = append(f.disconnected, tabID)
	f.mu.Unlock()
}

var errNotConnected = types.NewError(types.CodeNotReady, "no content script", nil)

type recorder struct {
	mu     sync.Mutex
	events map[string][]string
}

func (r *recorder) PublishJSON(feed string, v any) {
	b, _ := json.Marshal(v)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string][]string)
	}
	r.events[feed] = append(r.events[feed], string(b))
}

func (r *recorder) feed(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events[name]...)
}

type fixture struct {
	router  *Router
	store   *storage.Store
	queue   *queue.Store
	workers *fakeWorkers
	tabs    *fakeTabs
	events  *recorder
	surface *surface.Surface
}

func newFixture(t *testing.T, seed map[string]any) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	for k, v := range seed {
		if err := store.Set(ctx, k, v); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	f := &fixture{
		store:   store,
		queue:   queue.NewStore(nil),
		workers: &fakeWorkers{},
		tabs:    &fakeTabs{},
		events:  &recorder{},
	}
	f.surface = surface.New(f.events)
	f.router = New(Deps{
		ExtensionID: testExtensionID,
		Store:       store,
		Queue:       f.queue,
		Workers:     f.workers,
		Surface:     f.surface,
		Tabs:        f.tabs,
		Events:      f.events,
	})
	if err := f.router.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(f.router.Wait)
	return f
}

var self = Sender{ID: testExtensionID}

func (f *fixture) call(t *testing.T, action string, data any, sender Sender) string {
	t.Helper()
	msg := Message{Action: action}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal data: %v", err)
		}
		msg.Data = b
	}
	resp, ok := f.router.Call(context.Background(), msg, sender)
	if !ok {
		t.Fatalf("Call(%s) dropped", action)
	}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return string(b)
}

func TestForeignSenderIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	tab := &types.TabInfo{ID: 3, URL: "https://example.com"}
	data, _ := json.Marshal(MenuClick{MenuItemID: surface.MenuDownloadLink, LinkURL: "https://example.com/a.zip"})

	called := false
	async := f.router.Handle(context.Background(),
		Message{Action: "context-menu-click", Data: data},
		Sender{ID: "someone-else", Tab: tab},
		func(any) { called = true })

	if async || called {
		t.Fatalf("Handle() = %v, responded = %v; want false, false", async, called)
	}
	if got := f.queue.List(3); len(got) != 0 {
		t.Fatalf("queue = %v; want untouched", got)
	}
	if _, ok := f.router.Call(context.Background(), Message{Action: "wake"}, Sender{ID: "x"}); ok {
		t.Fatal("Call() ok = true for foreign sender")
	}
}

func TestWorkerAddressedMessageIgnored(t *testing.T) {
	f := newFixture(t, nil)
	called := false
	async := f.router.Handle(context.Background(), Message{Action: "offscreen-login", Target: TargetWorker}, self, func(any) { called = true })
	if async || called {
		t.Fatalf("Handle() = %v, responded = %v; want false, false", async, called)
	}
	if len(f.workers.recorded()) != 0 {
		t.Fatal("worker reached by offscreen-targeted message")
	}
}

func TestUnknownActionIsAcknowledged(t *testing.T) {
	f := newFixture(t, nil)
	if got, want := f.call(t, "brand-new-thing", nil, self), `{"action":"brand-new-thing","forwarded":true}`; got != want {
		t.Fatalf("response = %s; want %s", got, want)
	}
}

func TestStateQueries(t *testing.T) {
	f := newFixture(t, nil)
	if got, want := f.call(t, "connection-status", nil, self), `{"isConnected":false,"isLoggedIn":false}`; got != want {
		t.Fatalf("connection-status = %s; want %s", got, want)
	}
	if got, want := f.call(t, "wake", nil, self), `{"awake":true}`; got != want {
		t.Fatalf("wake = %s; want %s", got, want)
	}
	if got, want := f.call(t, "check-offscreen", nil, self), `{"exists":false}`; got != want {
		t.Fatalf("check-offscreen = %s; want %s", got, want)
	}

	if err := f.store.Set(context.Background(), storage.KeySession, storedSession(t)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, want := f.call(t, "session-info", nil, self), `{"data":{"connectionState":false,"isLoggedIn":true}}`; got != want {
		t.Fatalf("session-info = %s; want %s", got, want)
	}
}

func storedSession(t *testing.T) string {
	t.Helper()
	token := strings.Repeat("ab", 32)
	encoded, err := agent.Session{
		Email:                 "user@example.com",
		SessionToken:          "s1",
		RegainToken:           "r1",
		ServerEncryptionToken: token,
		DeviceEncryptionToken: token,
	}.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return encoded
}

func TestCorruptSessionIsLoggedOut(t *testing.T) {
	for _, stored := range []any{"opaque", "", 42, map[string]string{"sessiontoken": "s1"}} {
		f := newFixture(t, nil)
		if err := f.store.Set(context.Background(), storage.KeySession, stored); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if got, want := f.call(t, "connection-status", nil, self), `{"isConnected":false,"isLoggedIn":false}`; got != want {
			t.Fatalf("connection-status with session %v = %s; want %s", stored, got, want)
		}
		if f.router.Snapshot(context.Background()).LoggedIn {
			t.Fatalf("Snapshot().LoggedIn with session %v = true; want false", stored)
		}
	}
}

func TestQueueOperations(t *testing.T) {
	f := newFixture(t, nil)
	origin := queue.Origin{URL: "https://example.com"}
	f.queue.Enqueue(5, "https://example.com/a", origin, queue.KindLink)
	f.queue.Enqueue(5, "https://example.com/a", origin, queue.KindLink)
	entry, _ := f.queue.Enqueue(5, "https://example.com/b", origin, queue.KindLink)

	var list []queue.PendingRequest
	if err := json.Unmarshal([]byte(f.call(t, "queue-list", 5, self)), &list); err != nil {
		t.Fatalf("decode queue-list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("queue-list len = %d; want 2", len(list))
	}

	if got := f.call(t, "queue-remove", map[string]any{"tabId": 5, "requestId": entry.ID}, self); got != `{"status":"ok"}` {
		t.Fatalf("queue-remove = %s", got)
	}
	var legacy struct {
		Data []queue.PendingRequest `json:"data"`
	}
	if err := json.Unmarshal([]byte(f.call(t, "link-info", "5", self)), &legacy); err != nil {
		t.Fatalf("decode link-info: %v", err)
	}
	if len(legacy.Data) != 1 || legacy.Data[0].Content != "https://example.com/a" {
		t.Fatalf("link-info data = %+v; want only /a", legacy.Data)
	}

	f.call(t, "queue-clear", map[string]any{"tabId": 5}, self)
	if got := f.call(t, "queue-list", 5, self); got != `[]` {
		t.Fatalf("queue-list after clear = %s; want []", got)
	}
}

func TestContextMenuAddLink(t *testing.T) {
	f := newFixture(t, nil)
	tab := &types.TabInfo{ID: 11, URL: "https://example.com", Title: "Example"}
	f.call(t, "context-menu-click", MenuClick{
		MenuItemID: surface.MenuDownloadLink,
		LinkURL:    "https://example.com/file.zip",
	}, Sender{ID: testExtensionID, Tab: tab})

	got := f.queue.List(11)
	if len(got) != 1 {
		t.Fatalf("queue len = %d; want 1", len(got))
	}
	if got[0].Content != "https://example.com/file.zip" || got[0].Kind != queue.KindLink || got[0].Origin.URL != "https://example.com" {
		t.Fatalf("entry = %+v", got[0])
	}
}

func TestContextMenuSimpleClicks(t *testing.T) {
	f := newFixture(t, nil)
	tab := &types.TabInfo{ID: 12, URL: "https://example.com/page"}
	sender := Sender{ID: testExtensionID, Tab: tab}

	f.call(t, "context-menu-click", MenuClick{MenuItemID: surface.MenuSimple}, sender)
	f.call(t, "context-menu-click", MenuClick{MenuItemID: surface.MenuSimple, SrcURL: "https://cdn.example/i.png"}, sender)
	f.call(t, "context-menu-click", MenuClick{MenuItemID: surface.MenuSimple, SelectionText: "some text"}, sender)

	var kinds []queue.Kind
	for _, e := range f.queue.List(12) {
		kinds = append(kinds, e.Kind)
	}
	want := []queue.Kind{queue.KindPage, queue.KindLink, queue.KindSelection}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("queued kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectionAskedFromContentScript(t *testing.T) {
	f := newFixture(t, nil)
	f.tabs.connected = true
	tab := &types.TabInfo{ID: 13, URL: "https://example.com"}
	sender := Sender{ID: testExtensionID, Tab: tab}

	f.call(t, "context-menu-click", MenuClick{MenuItemID: surface.MenuSelection, SelectionText: "trunc"}, sender)
	if len(f.queue.List(13)) != 0 {
		t.Fatal("selection queued before content script answered")
	}
	if diff := cmp.Diff([]string{"get-selection"}, f.tabs.sent); diff != "" {
		t.Fatalf("tab messages mismatch (-want +got):\n%s", diff)
	}

	f.call(t, "selection-result", map[string]string{"text": "the full selection"}, sender)
	got := f.queue.List(13)
	if len(got) != 1 || got[0].Content != "the full selection" || got[0].Kind != queue.KindSelection {
		t.Fatalf("queue = %+v", got)
	}
}

func TestTabRemovedClearsQueue(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.Enqueue(21, "https://example.com/a", queue.Origin{}, queue.KindLink)
	f.call(t, "tab-removed", map[string]int{"tabId": 21}, self)
	if got := f.queue.List(21); len(got) != 0 {
		t.Fatalf("queue after tab-removed = %v; want empty", got)
	}
	if diff := cmp.Diff([]int{21}, f.tabs.disconnected); diff != "" {
		t.Fatalf("disconnected mismatch (-want +got):\n%s", diff)
	}
}

func TestCloseToolbarClearsQueueAndNotifiesTab(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.Enqueue(22, "https://example.com/a", queue.Origin{}, queue.KindLink)
	f.call(t, "close-in-page-toolbar", map[string]string{"tabId": "22"}, self)
	if got := f.queue.List(22); len(got) != 0 {
		t.Fatalf("queue after close = %v; want empty", got)
	}
	if diff := cmp.Diff([]string{"close-in-page-toolbar"}, f.tabs.sent); diff != "" {
		t.Fatalf("tab messages mismatch (-want +got):\n%s", diff)
	}
}

func encryptedCapture() cnl.Capture {
	return cnl.Capture{
		Type:      cnl.EndpointAddCrypted,
		URL:       "http://127.0.0.1:9666/flash/addcrypted2",
		FormData:  cnl.FormData{"crypted": "Q1JZUFRFRA==", "jk": "function f(){return '31323334';}"},
		SourceURL: "https://links.example/folder",
	}
}

func TestCNLCaptureSurfacedByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if got := f.call(t, "cnl-captured", encryptedCapture(), self); got != `{"status":"cnl-received"}` {
		t.Fatalf("cnl-captured = %s", got)
	}

	var backlog []cnl.Capture
	if ok, err := f.store.Get(ctx, storage.KeyCNLQueue, &backlog); !ok || err != nil {
		t.Fatalf("Get(cnlQueue) = %v, %v", ok, err)
	}
	if len(backlog) != 1 || backlog[0].FormData.String("crypted") != "Q1JZUFRFRA==" || backlog[0].Timestamp == 0 {
		t.Fatalf("backlog = %+v", backlog)
	}
	var pending bool
	if ok, _ := f.store.Get(ctx, storage.KeyCNLPending, &pending); !ok || !pending {
		t.Fatalf("cnlPending = %v, %v; want true", ok, pending)
	}
	if len(f.events.feed(relay.FeedCNL)) != 1 {
		t.Fatalf("cnl events = %v; want 1", f.events.feed(relay.FeedCNL))
	}
	if calls := f.workers.recorded(); len(calls) != 0 {
		t.Fatalf("worker calls = %+v; want none", calls)
	}
}

func TestCNLCaptureAutoSubmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]any{
		storage.KeyCNLDialogActive:        false,
		storage.KeyDefaultPreferredDevice: DevicePreference{ID: "dev-1", Name: "Home"},
	})

	if err := f.router.SubmitCapture(ctx, encryptedCapture()); err != nil {
		t.Fatalf("SubmitCapture() error = %v", err)
	}
	f.router.Wait()

	calls := f.workers.recorded()
	if len(calls) != 1 || calls[0].action != agentworker.ActionAddCNL {
		t.Fatalf("worker calls = %+v; want one add-cnl", calls)
	}
	var req agentworker.AddLinkRequest
	if err := json.Unmarshal([]byte(calls[0].payload), &req); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if req.DeviceID != "dev-1" || req.Query.Links != "Q1JZUFRFRA==" || req.Query.SourceURL != "https://links.example/folder" {
		t.Fatalf("payload = %+v", req)
	}

	var last agent.Device
	if ok, _ := f.store.Get(ctx, storage.KeyLastUsedDevice, &last); !ok || last.ID != "dev-1" {
		t.Fatalf("lastUsedDevice = %+v; want dev-1", last)
	}
	var pending bool
	if _, _ = f.store.Get(ctx, storage.KeyCNLPending, &pending); pending {
		t.Fatal("cnlPending set for auto-submitted capture")
	}
}

func TestCNLAutoSubmitWithoutDeviceFallsBackToUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]any{storage.KeyCNLDialogActive: false})

	if err := f.router.SubmitCapture(ctx, encryptedCapture()); err != nil {
		t.Fatalf("SubmitCapture() error = %v", err)
	}
	f.router.Wait()

	if calls := f.workers.recorded(); len(calls) != 0 {
		t.Fatalf("worker calls = %+v; want none", calls)
	}
	var pending bool
	if _, _ = f.store.Get(ctx, storage.KeyCNLPending, &pending); !pending {
		t.Fatal("cnlPending = false; want true")
	}
}

func TestCNLQueueClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.call(t, "cnl-captured", encryptedCapture(), self)
	f.call(t, "cnl-captured", encryptedCapture(), self)

	if got := f.call(t, "cnl-queue-clear", nil, self); got != `{"cleared":2,"status":"ok"}` {
		t.Fatalf("cnl-queue-clear = %s", got)
	}
	if raw, _ := f.store.GetRaw(ctx, storage.KeyCNLQueue); raw != nil {
		t.Fatalf("cnlQueue = %s; want removed", raw)
	}
	if got := f.call(t, "cnl-queue", nil, self); got != `{"pending":false,"queue":[]}` {
		t.Fatalf("cnl-queue = %s", got)
	}
}

func TestCorruptBacklogTreatedAsEmpty(t *testing.T) {
	f := newFixture(t, map[string]any{storage.KeyCNLQueue: "not a list"})
	if got := f.router.Backlog(); len(got) != 0 {
		t.Fatalf("Backlog() = %v; want empty", got)
	}
}

func TestInterceptToggleInstallsRulePair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]any{storage.KeyCNLInterceptActive: false})
	if f.surface.RulesActive() {
		t.Fatal("rules active with interception disabled")
	}

	if err := f.store.Set(ctx, storage.KeyCNLInterceptActive, true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	rules := f.events.feed(relay.FeedRules)
	var added surface.RuleUpdate
	if err := json.Unmarshal([]byte(rules[len(rules)-1]), &added); err != nil {
		t.Fatalf("decode rule update: %v", err)
	}
	var addedIDs []int
	for _, r := range added.AddRules {
		addedIDs = append(addedIDs, r.ID)
	}
	if diff := cmp.Diff([]int{1, 2}, addedIDs); diff != "" {
		t.Fatalf("added rule ids mismatch (-want +got):\n%s", diff)
	}
	if !f.surface.Allows("http://127.0.0.1:9666/jdcheck.js") || !f.surface.Allows("http://localhost:9666/flash/add") {
		t.Fatal("installed rules do not admit loopback CNL hosts")
	}

	if err := f.store.Set(ctx, storage.KeyCNLInterceptActive, false); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	rules = f.events.feed(relay.FeedRules)
	var removed surface.RuleUpdate
	if err := json.Unmarshal([]byte(rules[len(rules)-1]), &removed); err != nil {
		t.Fatalf("decode rule update: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2}, removed.RemoveRuleIDs); diff != "" || len(removed.AddRules) != 0 {
		t.Fatalf("removal = %+v", removed)
	}
	if f.router.Settings().CNLInterceptActive || f.surface.RulesActive() {
		t.Fatal("rules still active")
	}
}

func TestConnectionStateDrivesBadge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if got := f.surface.Snapshot().Badge.Text; got != surface.AlertGlyph {
		t.Fatalf("badge = %q; want alert", got)
	}

	if err := f.store.Set(ctx, storage.KeyConnectionState, agent.StateRecord{State: agent.StateConnected, IsConnected: true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !f.router.Connected() || f.surface.Snapshot().Badge.Text != "" {
		t.Fatalf("connected = %v, badge = %q; want true, empty", f.router.Connected(), f.surface.Snapshot().Badge.Text)
	}

	f.call(t, "CONNECTION_STATE_CHANGE", "DISCONNECTED", self)
	if f.router.Connected() || f.surface.Snapshot().Badge.Text != surface.AlertGlyph {
		t.Fatal("CONNECTION_STATE_CHANGE did not restore alert badge")
	}
	f.call(t, "set-connection-state", map[string]bool{"isConnected": true}, self)
	if !f.router.Connected() {
		t.Fatal("set-connection-state ignored")
	}
}

func TestMenuModeChangeRebuildsMenus(t *testing.T) {
	f := newFixture(t, nil)
	if got := len(f.surface.Snapshot().Menus); got != 1 {
		t.Fatalf("menus = %d; want 1 in simple mode", got)
	}
	if err := f.store.Set(context.Background(), storage.KeyContextMenuSimple, false); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := len(f.surface.Snapshot().Menus); got != 6 {
		t.Fatalf("menus = %d; want 6 in expanded mode", got)
	}
}

func TestListDevicesNormalized(t *testing.T) {
	f := newFixture(t, nil)
	f.workers.reply = func(string) json.RawMessage {
		return json.RawMessage(`{"success":true,"devices":[{"id":"d1","name":"Home"}]}`)
	}

	if got, want := f.call(t, "list-devices", nil, self), `{"devices":[{"id":"d1","name":"Home"}],"error":false}`; got != want {
		t.Fatalf("list-devices = %s; want %s", got, want)
	}
	if got, want := f.call(t, "devices-pull", nil, self), `{"data":{"devices":[{"id":"d1","name":"Home"}],"error":false}}`; got != want {
		t.Fatalf("devices-pull = %s; want %s", got, want)
	}
}

func TestSubmitLinkRecordsLastUsedDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.workers.reply = func(string) json.RawMessage { return json.RawMessage(`{"success":true,"result":{}}`) }

	got := f.call(t, "add-link", map[string]any{
		"device": map[string]string{"id": "d7", "name": "Seedbox"},
		"query":  map[string]string{"links": "https://example.com/a.zip"},
	}, self)
	if got != `{"success":true,"result":{}}` {
		t.Fatalf("add-link = %s", got)
	}
	calls := f.workers.recorded()
	if len(calls) != 1 || calls[0].action != agentworker.ActionAddLink {
		t.Fatalf("worker calls = %+v", calls)
	}

	var last agent.Device
	if ok, _ := f.store.Get(ctx, storage.KeyLastUsedDevice, &last); !ok || last.Name != "Seedbox" {
		t.Fatalf("lastUsedDevice = %+v; want Seedbox", last)
	}
}

func TestSubmitFailureLeavesLastUsedDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.workers.reply = func(string) json.RawMessage { return json.RawMessage(`{"success":false,"error":"Device is offline"}`) }

	got := f.call(t, "submit-link", map[string]any{"deviceId": "d9", "query": map[string]string{"links": "x"}}, self)
	if got != `{"success":false,"error":"Device is offline"}` {
		t.Fatalf("submit-link = %s", got)
	}
	if raw, _ := f.store.GetRaw(ctx, storage.KeyLastUsedDevice); raw != nil {
		t.Fatalf("lastUsedDevice = %s; want unset", raw)
	}
}

func TestLoginForwardsCredentials(t *testing.T) {
	f := newFixture(t, nil)
	f.call(t, "login", map[string]string{"email": "a@b.c", "password": "pw"}, self)
	calls := f.workers.recorded()
	if len(calls) != 1 || calls[0].action != agentworker.ActionLogin {
		t.Fatalf("worker calls = %+v", calls)
	}
	if want := `{"credentials":{"email":"a@b.c","password":"pw"}}`; calls[0].payload != want {
		t.Fatalf("payload = %s; want %s", calls[0].payload, want)
	}
}

func TestCloseWorker(t *testing.T) {
	f := newFixture(t, nil)
	f.workers.exists = true
	if got := f.call(t, "close-offscreen", nil, self); got != `{"closed":true}` {
		t.Fatalf("close-offscreen = %s", got)
	}
	if f.workers.Exists() {
		t.Fatal("worker still present after close-offscreen")
	}
}

func TestHandlerPanicAnswered(t *testing.T) {
	f := newFixture(t, nil)
	f.workers.reply = func(string) json.RawMessage { panic("boom") }

	responses := 0
	var got any
	done := make(chan struct{})
	async := f.router.Handle(context.Background(), Message{Action: "whoami"}, self, func(v any) {
		responses++
		got = v
		close(done)
	})
	if !async {
		t.Fatal("Handle() = false; want async for worker-backed action")
	}
	<-done
	f.router.Wait()
	if responses != 1 {
		t.Fatalf("responses = %d; want 1", responses)
	}
	if m, ok := got.(map[string]any); !ok || m["error"] == nil {
		t.Fatalf("response = %v; want {error}", got)
	}
}

func TestHandleTabMessage(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.Enqueue(31, "https://example.com/a", queue.Origin{}, queue.KindLink)

	resp, ok := f.router.HandleTabMessage(context.Background(), types.TabInfo{ID: 31}, json.RawMessage(`{"action":"link-info","data":31}`))
	if !ok {
		t.Fatal("HandleTabMessage() ok = false")
	}
	var out struct {
		Data []queue.PendingRequest `json:"data"`
	}
	if err := json.Unmarshal(resp, &out); err != nil || len(out.Data) != 1 {
		t.Fatalf("response = %s (%v); want one entry", resp, err)
	}
}

func TestParseAction(t *testing.T) {
	cases := map[string]Action{
		"list-devices":        ActionListDevices,
		"devices-pull":        ActionListDevices,
		"remove-all-requests": ActionQueueClear,
		"device-poll-stop":    ActionDevicePoll,
		"cnl-captured":        ActionCNLCaptured,
		"nope":                ActionUnknown,
	}
	for name, want := range cases {
		if got := ParseAction(name); got != want {
			t.Fatalf("ParseAction(%q) = %v; want %v", name, got, want)
		}
	}
	if got := ActionSubmitCNL.String(); got != "submit-cnl" {
		t.Fatalf("String() = %q; want submit-cnl", got)
	}
}
