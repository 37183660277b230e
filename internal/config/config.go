package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the bridge daemon's configuration.
type Config struct {
	// HTTP API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	ExtensionID      string

	// Loopback CNL listener
	CNLListen bool
	CNLAddr   string

	// Page-level interception through CDP
	CDPEnabled bool
	CDPAddress string
	CDPPort    int

	// Persisted state and capture journal
	DataDir          string
	JournalMaxSizeMB int
	JournalBuffer    int
	SettingsSeed     string

	LogLevel string
	LogFile  string

	// MyJDownloader service
	APIRoot       string
	AppKey        string
	WorkerTimeout time.Duration

	NtfyEndpoint string

	// Optional browser launch
	LaunchBrowser bool
	ExtensionDir  string
	ProfileDir    string
	BrowserPath   string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:         getEnvOrDefault("BRIDGE_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvListOrDefault("BRIDGE_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}),
		PortAutoFallback: getEnvBoolOrDefault("BRIDGE_PORT_AUTO_FALLBACK", true),
		ExtensionID:      getEnvOrDefault("BRIDGE_EXTENSION_ID", ""),
		CNLListen:        getEnvBoolOrDefault("BRIDGE_CNL_LISTEN", false),
		CNLAddr:          getEnvOrDefault("BRIDGE_CNL_ADDR", "127.0.0.1:9666"),
		CDPEnabled:       getEnvBoolOrDefault("BRIDGE_CDP_ENABLED", false),
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		DataDir:          getEnvOrDefault("BRIDGE_DATA_DIR", "./bridge_data"),
		JournalMaxSizeMB: getEnvIntOrDefault("BRIDGE_JOURNAL_MAX_SIZE_MB", 50),
		JournalBuffer:    getEnvIntOrDefault("BRIDGE_JOURNAL_BUFFER", 256),
		SettingsSeed:     getEnvOrDefault("BRIDGE_SETTINGS_SEED", ""),
		LogLevel:         strings.ToLower(getEnvOrDefault("BRIDGE_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("BRIDGE_LOG_FILE", "logs/myjd_bridge.log"),
		APIRoot:          getEnvOrDefault("MYJD_API_ROOT", "https://api.jdownloader.org"),
		AppKey:           getEnvOrDefault("MYJD_APP_KEY", "myjd_webextension_chrome"),
		WorkerTimeout:    time.Duration(getEnvIntOrDefault("BRIDGE_WORKER_TIMEOUT_MS", 30000)) * time.Millisecond,
		NtfyEndpoint:     getEnvOrDefault("BRIDGE_NTFY_ENDPOINT", ""),
		LaunchBrowser:    getEnvBoolOrDefault("BRIDGE_LAUNCH_BROWSER", false),
		ExtensionDir:     getEnvOrDefault("BRIDGE_EXTENSION_DIR", "./extension"),
		ProfileDir:       getEnvOrDefault("BRIDGE_PROFILE_DIR", "./bridge_data/profile"),
		BrowserPath:      getEnvOrDefault("BRIDGE_BROWSER_PATH", ""),
	}

	if cfg.ExtensionID == "" {
		return nil, fmt.Errorf("BRIDGE_EXTENSION_ID is required")
	}
	if cfg.WorkerTimeout < time.Second {
		cfg.WorkerTimeout = time.Second
	}
	if cfg.JournalBuffer < 1 {
		cfg.JournalBuffer = 1
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// StatePath is the SQLite file holding persisted settings and session.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// JournalDir is where CNL captures are journaled.
func (c *Config) JournalDir() string {
	return filepath.Join(c.DataDir, "captures")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
