package browser

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestArgsLoadExtensionShim(t *testing.T) {
	l := NewLauncher(Config{
		CDPAddress:   "127.0.0.1",
		CDPPort:      9220,
		ProfileDir:   "/tmp/profile",
		ExtensionDir: "/opt/myjd/extension",
	})

	want := []string{
		"--remote-debugging-port=9220",
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=/tmp/profile",
		"--load-extension=/opt/myjd/extension",
		"--disable-extensions-except=/opt/myjd/extension",
		"--no-first-run",
		"--no-default-browser-check",
		"about:blank",
	}
	if diff := cmp.Diff(want, l.Args()); diff != "" {
		t.Fatalf("Args() mismatch (-want +got):\n%s", diff)
	}
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return dir
}

func TestReadManifest(t *testing.T) {
	dir := writeManifest(t, `{"name":"MyJDownloader Bridge","version":"1.2.0","manifest_version":3}`)
	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	want := Manifest{Name: "MyJDownloader Bridge", Version: "1.2.0", ManifestVersion: 3}
	if got != want {
		t.Fatalf("ReadManifest() = %+v; want %+v", got, want)
	}
}

func TestReadManifestRejects(t *testing.T) {
	tests := map[string]string{
		"missing":     t.TempDir(),
		"garbage":     writeManifest(t, `not json`),
		"manifest v2": writeManifest(t, `{"name":"old","manifest_version":2}`),
	}
	for name, dir := range tests {
		if _, err := ReadManifest(dir); !errors.Is(err, ErrShimMissing) {
			t.Fatalf("%s: ReadManifest() error = %v; want ErrShimMissing", name, err)
		}
	}
}

func devtoolsServer(t *testing.T) (string, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Browser":"Chrome/130.0","Protocol-Version":"1.3","webSocketDebuggerUrl":"ws://x/devtools/browser/1"}`))
	}))
	t.Cleanup(srv.Close)
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	p, _ := strconv.Atoi(port)
	return host, p
}

func TestProbe(t *testing.T) {
	host, port := devtoolsServer(t)
	l := NewLauncher(Config{CDPAddress: host, CDPPort: port})

	v, err := l.Probe(t.Context())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if v.Browser != "Chrome/130.0" || v.ProtocolVersion != "1.3" {
		t.Fatalf("Probe() = %+v; want Chrome/130.0 protocol 1.3", v)
	}
}

func TestLaunchReusesRunningBrowser(t *testing.T) {
	host, port := devtoolsServer(t)
	// No manifest and no binary: Launch must not get that far.
	l := NewLauncher(Config{CDPAddress: host, CDPPort: port, ExtensionDir: t.TempDir(), BrowserPath: "/nonexistent"})

	if err := l.Launch(t.Context()); err != nil {
		t.Fatalf("Launch() error = %v; want reuse of the running browser", err)
	}
	if l.Running() {
		t.Fatal("Running() = true; want false for a reused browser")
	}
	l.Stop()
}

func TestLaunchRequiresShim(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: 1, ProfileDir: t.TempDir(), ExtensionDir: t.TempDir()})
	if err := l.Launch(t.Context()); !errors.Is(err, ErrShimMissing) {
		t.Fatalf("Launch() error = %v; want ErrShimMissing", err)
	}
}
