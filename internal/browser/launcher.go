// Package browser launches a Chromium instance with the extension shim
// loaded and remote debugging enabled for page-level CNL interception.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrShimMissing is returned when the extension directory holds no usable
// manifest.
var ErrShimMissing = errors.New("extension shim not found")

// Config holds browser launch configuration.
type Config struct {
	CDPAddress   string
	CDPPort      int
	ProfileDir   string
	ExtensionDir string
	StartURL     string
	// BrowserPath skips binary detection when set.
	BrowserPath string
	// ReadyTimeout bounds the wait for the DevTools endpoint; zero means 15s.
	ReadyTimeout time.Duration
}

// Version is the DevTools /json/version answer.
type Version struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Manifest is the part of the shim's manifest.json the launcher checks.
type Manifest struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ManifestVersion int    `json:"manifest_version"`
}

// Launcher manages the lifecycle of a browser process.
type Launcher struct {
	cfg  Config
	http *resty.Client
	cmd  *exec.Cmd
	done chan struct{}
}

// NewLauncher creates a new browser launcher with the given config.
func NewLauncher(cfg Config) *Launcher {
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg, http: resty.New().SetTimeout(time.Second)}
}

// ReadManifest loads and checks the shim manifest in dir.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrShimMissing, err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: manifest.json: %v", ErrShimMissing, err)
	}
	if m.ManifestVersion < 3 {
		return m, fmt.Errorf("%w: manifest_version %d, need 3", ErrShimMissing, m.ManifestVersion)
	}
	return m, nil
}

func (l *Launcher) browserPath() (string, error) {
	if l.cfg.BrowserPath != "" {
		return exec.LookPath(l.cfg.BrowserPath)
	}
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", errors.New("no Chromium-based browser found; set BRIDGE_BROWSER_PATH")
}

func (l *Launcher) versionURL() string {
	return "http://" + l.cfg.CDPAddress + ":" + strconv.Itoa(l.cfg.CDPPort) + "/json/version"
}

// Probe asks the DevTools endpoint for its version.
func (l *Launcher) Probe(ctx context.Context) (Version, error) {
	var v Version
	resp, err := l.http.R().SetContext(ctx).SetResult(&v).Get(l.versionURL())
	if err != nil {
		return v, err
	}
	if resp.IsError() {
		return v, fmt.Errorf("devtools answered %s", resp.Status())
	}
	return v, nil
}

// Launch starts the browser unless a DevTools endpoint already answers on
// the configured port, in which case that browser is reused.
func (l *Launcher) Launch(ctx context.Context) error {
	if v, err := l.Probe(ctx); err == nil {
		slog.Info("browser already running, skipping launch", "browser", v.Browser, "port", l.cfg.CDPPort)
		return nil
	}

	manifest, err := ReadManifest(l.cfg.ExtensionDir)
	if err != nil {
		return err
	}
	path, err := l.browserPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	l.cmd = exec.Command(path, l.Args()...)
	l.cmd.Stdout = os.Stdout
	l.cmd.Stderr = os.Stderr
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	l.done = make(chan struct{})
	go func(cmd *exec.Cmd, done chan struct{}) {
		_ = cmd.Wait()
		close(done)
	}(l.cmd, l.done)
	slog.Info("browser process started", "path", path, "pid", l.cmd.Process.Pid,
		"shim", manifest.Name, "shim_version", manifest.Version)

	v, err := l.waitReady(ctx)
	if err != nil {
		l.Stop()
		return fmt.Errorf("waiting for devtools: %w", err)
	}
	slog.Info("devtools endpoint ready", "browser", v.Browser, "protocol", v.ProtocolVersion)
	return nil
}

// Args returns the command line the browser is started with.
func (l *Launcher) Args() []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", l.cfg.CDPPort),
		fmt.Sprintf("--remote-debugging-address=%s", l.cfg.CDPAddress),
		fmt.Sprintf("--user-data-dir=%s", l.cfg.ProfileDir),
		fmt.Sprintf("--load-extension=%s", l.cfg.ExtensionDir),
		fmt.Sprintf("--disable-extensions-except=%s", l.cfg.ExtensionDir),
		"--no-first-run",
		"--no-default-browser-check",
	}
	return append(args, l.cfg.StartURL)
}

func (l *Launcher) waitReady(ctx context.Context) (Version, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Version{}, ctx.Err()
		case <-l.done:
			return Version{}, errors.New("browser exited during startup")
		case <-ticker.C:
			if v, err := l.Probe(ctx); err == nil {
				return v, nil
			}
		}
	}
}

// Running reports whether this launcher spawned a browser that is still alive.
func (l *Launcher) Running() bool {
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Stop interrupts the spawned browser and kills it if it has not exited
// after five seconds. A reused browser is left alone.
func (l *Launcher) Stop() {
	if !l.Running() {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(os.Interrupt)
	select {
	case <-l.done:
		slog.Info("browser stopped gracefully")
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, killing it")
		_ = l.cmd.Process.Kill()
		<-l.done
	}
}
