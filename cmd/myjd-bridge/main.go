package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/myjd_bridge/internal/agent"
	"github.com/dgnsrekt/myjd_bridge/internal/agentworker"
	"github.com/dgnsrekt/myjd_bridge/internal/api"
	"github.com/dgnsrekt/myjd_bridge/internal/browser"
	"github.com/dgnsrekt/myjd_bridge/internal/cdp"
	"github.com/dgnsrekt/myjd_bridge/internal/cnl"
	"github.com/dgnsrekt/myjd_bridge/internal/config"
	"github.com/dgnsrekt/myjd_bridge/internal/metrics"
	"github.com/dgnsrekt/myjd_bridge/internal/netutil"
	"github.com/dgnsrekt/myjd_bridge/internal/notify"
	"github.com/dgnsrekt/myjd_bridge/internal/queue"
	"github.com/dgnsrekt/myjd_bridge/internal/relay"
	"github.com/dgnsrekt/myjd_bridge/internal/router"
	"github.com/dgnsrekt/myjd_bridge/internal/storage"
	"github.com/dgnsrekt/myjd_bridge/internal/surface"
	"github.com/dgnsrekt/myjd_bridge/internal/tabs"
	"github.com/dgnsrekt/myjd_bridge/internal/worker"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load bridge config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("bridge config loaded",
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"cnl_listen", cfg.CNLListen,
		"cdp_enabled", cfg.CDPEnabled,
		"data_dir", cfg.DataDir,
		"worker_timeout", cfg.WorkerTimeout,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	store, err := storage.Open(cfg.StatePath())
	if err != nil {
		slog.Error("failed to open state store", "path", cfg.StatePath(), "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	if err := seedSettings(ctx, store, cfg.SettingsSeed); err != nil {
		slog.Error("failed to apply settings seed", "path", cfg.SettingsSeed, "error", err)
		os.Exit(1)
	}

	journal := storage.NewJournal(cfg.JournalDir(), "cnl_captures", cfg.JournalBuffer, cfg.JournalMaxSizeMB)
	defer func() { _ = journal.Close() }()

	m := metrics.New()
	events := relay.NewBroker(relay.FeedBadge, relay.FeedMenus, relay.FeedRules)
	surf := surface.New(events)
	requests := queue.NewStore(nil)
	gateway := tabs.NewGateway(events, tabs.Options{}, m)
	defer gateway.Close()

	workers := worker.NewManager(
		agentworker.Factory(store, agent.Options{APIRoot: cfg.APIRoot, AppKey: cfg.AppKey, RetryMax: 2}),
		cfg.WorkerTimeout,
		m,
	)
	defer func() { _ = workers.Teardown() }()

	var rt *router.Router
	loopback := cnl.New(cnl.SinkFunc(func(ctx context.Context, c cnl.Capture) error {
		return rt.SubmitCapture(ctx, c)
	}), "")

	rt = router.New(router.Deps{
		ExtensionID: cfg.ExtensionID,
		Store:       store,
		Queue:       requests,
		Workers:     workers,
		Surface:     surf,
		Tabs:        gateway,
		Events:      events,
		Journal:     journal,
		Notifier:    &notify.Notifier{Endpoint: cfg.NtfyEndpoint, Client: &http.Client{Timeout: 10 * time.Second}},
		Interceptor: loopback,
		Metrics:     m,
	})
	requests.SetNotifier(gateway)
	gateway.SetInbound(rt)

	if err := rt.Init(ctx); err != nil {
		slog.Error("failed to initialize router", "error", err)
		os.Exit(1)
	}
	defer rt.Wait()

	if cfg.CNLListen {
		cnlSrv, err := startCNLListener(cfg.CNLAddr, loopback)
		if err != nil {
			slog.Error("failed to start cnl listener", "addr", cfg.CNLAddr, "error", err)
			os.Exit(1)
		}
		defer func() { _ = cnlSrv.Close() }()
	}

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress:   cfg.CDPAddress,
			CDPPort:      cfg.CDPPort,
			ProfileDir:   cfg.ProfileDir,
			ExtensionDir: cfg.ExtensionDir,
			BrowserPath:  cfg.BrowserPath,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	if cfg.CDPEnabled {
		cdpClient := cdp.NewClient(cfg.CDPURL(), rt, surf)
		if err := cdpClient.Connect(ctx); err != nil {
			slog.Error("failed to connect CDP", "cdp_url", cfg.CDPURL(), "error", err)
			os.Exit(1)
		}
		defer func() { _ = cdpClient.Close() }()
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	bindAddr := ln.Addr().String()

	h := api.NewServer(api.Deps{
		ExtensionID: cfg.ExtensionID,
		Router:      rt,
		Queue:       requests,
		Tabs:        gateway,
		Events:      events,
		Metrics:     m,
	})
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		slog.Info("bridge listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("bridge server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("bridge shutdown failed", "error", err)
	}
}

// startCNLListener serves the Click'n'Load port for pages that post to it
// directly. It refuses anything but a loopback address.
func startCNLListener(addr string, ic *cnl.Interceptor) (*http.Server, error) {
	if err := netutil.RequireLoopback(addr); err != nil {
		return nil, err
	}
	ln, err := netutil.Listen(addr, nil, false)
	if err != nil {
		return nil, err
	}
	ic.MarkInstalled()
	srv := &http.Server{Handler: cnl.NewHandler(ic), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info("cnl listener started", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("cnl listener failed", "error", err)
		}
	}()
	return srv, nil
}

func seedSettings(ctx context.Context, store *storage.Store, path string) error {
	if path == "" {
		return nil
	}
	seed, err := config.LoadSettingsSeed(path)
	if err != nil {
		return err
	}
	for key, value := range seed.Values() {
		applied, err := store.SetIfAbsent(ctx, key, value)
		if err != nil {
			return err
		}
		if applied {
			slog.Info("settings seed applied", "key", key)
		}
	}
	return nil
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
