package agentworker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/myjd_bridge/internal/agent"
	"github.com/dgnsrekt/myjd_bridge/internal/storage"
	"github.com/google/go-cmp/cmp"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// rejectingServer answers every account call with the given remote error.
func rejectingServer(t *testing.T, typ string, hits *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"src":"MYJD","type":"`+typ+`"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, h *Handler, action string, payload any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	out, err := json.Marshal(h.Handle(context.Background(), action, raw))
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return got
}

func testOptions(root string) agent.Options {
	return agent.Options{APIRoot: root, AppKey: "test_app", Timeout: 2 * time.Second, RetryWaitMin: time.Millisecond}
}

func TestPingAndUnknownAction(t *testing.T) {
	h := New(context.Background(), openStore(t), testOptions("http://127.0.0.1:1"))

	got := call(t, h, ActionPing, nil)
	want := map[string]any{"status": "ok", "ready": true, "hasApi": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ping mismatch (-want +got):\n%s", diff)
	}

	got = call(t, h, "offscreen-frobnicate", nil)
	if got["error"] != "Unknown action: offscreen-frobnicate" {
		t.Fatalf("unknown action response = %v", got)
	}
}

func TestNotLoggedInResponses(t *testing.T) {
	h := New(context.Background(), openStore(t), testOptions("http://127.0.0.1:1"))

	if got := call(t, h, ActionGetDevices, nil); got["error"] != "Not logged in" {
		t.Fatalf("get-devices = %v; want Not logged in", got)
	}
	if got := call(t, h, ActionWhoami, nil); got["error"] != "Not logged in" {
		t.Fatalf("whoami = %v; want Not logged in", got)
	}
	got := call(t, h, ActionAddLink, AddLinkRequest{DeviceID: "d", Query: agent.AddLinksQuery{Links: "x"}})
	if got["success"] != false || got["error"] != "Not logged in" {
		t.Fatalf("add-link = %v; want success=false Not logged in", got)
	}
	if got := call(t, h, ActionLogout, nil); got["success"] != true {
		t.Fatalf("logout = %v; want success", got)
	}
}

func TestInvalidAPIRootLeavesAPIUninitialized(t *testing.T) {
	h := New(context.Background(), openStore(t), testOptions("ftp://nowhere"))

	if got := call(t, h, ActionPing, nil); got["hasApi"] != false || got["ready"] != true {
		t.Fatalf("ping = %v; want ready without api", got)
	}
	for _, action := range []string{ActionLogin, ActionGetDevices, ActionAddLink, ActionAddCNL} {
		if got := call(t, h, action, map[string]any{}); got["error"] != "API not initialized" {
			t.Fatalf("%s = %v; want API not initialized", action, got)
		}
	}
	if got := call(t, h, ActionLogout, nil); got["success"] != true {
		t.Fatalf("logout = %v; want success", got)
	}
}

func TestLoginRejectedMirrorsState(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	srv := rejectingServer(t, agent.ErrTypeAuthFailed, nil)
	h := New(ctx, store, testOptions(srv.URL))

	got := call(t, h, ActionLogin, LoginRequest{Credentials: Credentials{Email: "a@b.c", Password: "x"}})
	want := map[string]any{"success": false, "error": "Invalid email or password"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("login mismatch (-want +got):\n%s", diff)
	}

	var rec agent.StateRecord
	if ok, err := store.Get(ctx, storage.KeyConnectionState, &rec); err != nil || !ok {
		t.Fatalf("connection state not mirrored: %v, %v", ok, err)
	}
	if rec.State != agent.StateDisconnected || rec.IsConnected {
		t.Fatalf("mirrored state = %+v; want disconnected", rec)
	}

	var session string
	if ok, _ := store.Get(ctx, storage.KeySession, &session); ok {
		t.Fatal("session persisted after failed login")
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	h := New(context.Background(), openStore(t), testOptions("http://127.0.0.1:1"))
	got := call(t, h, ActionLogin, LoginRequest{})
	if got["success"] != false || got["error"] != "Email and password are required" {
		t.Fatalf("login = %v", got)
	}
}

func TestRestoreDiscardsRejectedSession(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	stale := agent.Session{
		Email:                 "a@b.c",
		SessionToken:          "aa",
		RegainToken:           "bb",
		ServerEncryptionToken: "0000000000000000000000000000000000000000000000000000000000000000",
		DeviceEncryptionToken: "1111111111111111111111111111111111111111111111111111111111111111",
	}
	encoded, _ := stale.Encode()
	if err := store.Set(ctx, storage.KeySession, encoded); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var hits atomic.Int32
	srv := rejectingServer(t, agent.ErrTypeTokenInvalid, &hits)
	h := New(ctx, store, testOptions(srv.URL))

	if hits.Load() != 1 {
		t.Fatalf("reconnect attempts = %d; want 1", hits.Load())
	}
	var session string
	if ok, _ := store.Get(ctx, storage.KeySession, &session); ok {
		t.Fatal("rejected session still persisted")
	}
	if got := call(t, h, ActionPing, nil); got["ready"] != true {
		t.Fatalf("ping after failed restore = %v; want ready", got)
	}
}

func TestRestoreDiscardsCorruptSession(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if err := store.Set(ctx, storage.KeySession, "garbage"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	var hits atomic.Int32
	srv := rejectingServer(t, agent.ErrTypeTokenInvalid, &hits)
	New(ctx, store, testOptions(srv.URL))

	if hits.Load() != 0 {
		t.Fatalf("server hits = %d; want 0", hits.Load())
	}
	var session string
	if ok, _ := store.Get(ctx, storage.KeySession, &session); ok {
		t.Fatal("corrupt session still persisted")
	}
}

func TestFactoryProducesMailbox(t *testing.T) {
	w, err := Factory(openStore(t), testOptions("http://127.0.0.1:1"))(context.Background())
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	defer w.Close()

	raw, err := w.Call(context.Background(), ActionPing, nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil || got["status"] != "ok" {
		t.Fatalf("Call() = %s, %v", raw, err)
	}
}
