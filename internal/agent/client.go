// Package agent is a client for the MyJDownloader remote API: account
// sessions, device listing and device calls, all signed and encrypted with
// the account-derived tokens.
package agent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/dgnsrekt/myjd_bridge/internal/types"
)

const (
	DefaultAPIRoot = "https://api.jdownloader.org"
	DefaultAppKey  = "myjd_webextension_chrome"

	contentTypeDevice = "application/aesjson-jd; charset=utf-8"
	apiVersion        = 1
)

// Options configures a Client.
type Options struct {
	APIRoot  string
	AppKey   string
	Timeout  time.Duration
	RetryMax int
	// RetryWaitMin bounds the first backoff; zero selects one second.
	RetryWaitMin time.Duration
}

// Client talks to the MyJDownloader service. It is safe for concurrent use,
// although login and logout must not race each other.
type Client struct {
	rest    *resty.Client
	apiRoot string
	appKey  string
	rid     atomic.Int64

	mu      sync.RWMutex
	session *Session
	keys    sessionKeys
	state   ConnectionState

	listenersMu sync.Mutex
	listeners   []func(ConnectionState)
}

// NewClient builds a client over a retrying HTTP transport.
func NewClient(opts Options) *Client {
	if opts.APIRoot == "" {
		opts.APIRoot = DefaultAPIRoot
	}
	if opts.AppKey == "" {
		opts.AppKey = DefaultAppKey
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = nil
	// Remote rejections come back as 4xx/5xx bodies the client must read.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	rest := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", "myjd-bridge/1.0")

	c := &Client{
		rest:    rest,
		apiRoot: strings.TrimRight(opts.APIRoot, "/"),
		appKey:  opts.AppKey,
		state:   StateDisconnected,
	}
	c.rid.Store(time.Now().UnixMilli())
	return c
}

// OnStateChange registers fn to run on every connection state transition.
func (c *Client) OnStateChange(fn func(ConnectionState)) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LoggedIn reports whether the client holds a session token.
func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil && c.session.SessionToken != ""
}

// CurrentUser returns the account email of the active session.
func (c *Client) CurrentUser() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return "", false
	}
	return c.session.Email, true
}

// Session returns a copy of the active session.
func (c *Client) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if !changed {
		return
	}
	slog.Info("myjd connection state changed", "state", s)

	c.listenersMu.Lock()
	listeners := append([]func(ConnectionState){}, c.listeners...)
	c.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (c *Client) nextRID() int64 {
	return c.rid.Add(1)
}

type tokenResponse struct {
	SessionToken string `json:"sessiontoken"`
	RegainToken  string `json:"regaintoken"`
	RID          int64  `json:"rid"`
}

// Connect logs in with account credentials and returns the new session.
func (c *Client) Connect(ctx context.Context, email, password string) (Session, error) {
	c.setState(StateConnecting)

	loginSecret := secret(email, password, domainServer)
	deviceSecret := secret(email, password, domainDevice)

	query := fmt.Sprintf("/my/connect?email=%s&appkey=%s&rid=%d",
		url.QueryEscape(strings.ToLower(email)), url.QueryEscape(c.appKey), c.nextRID())

	var tokens tokenResponse
	if err := c.serverCall(ctx, "login", query, loginSecret, &tokens); err != nil {
		c.setState(StateDisconnected)
		return Session{}, err
	}

	server, err := updateToken(loginSecret, tokens.SessionToken)
	if err != nil {
		c.setState(StateDisconnected)
		return Session{}, transportFailure("login", err)
	}
	device, err := updateToken(deviceSecret, tokens.SessionToken)
	if err != nil {
		c.setState(StateDisconnected)
		return Session{}, transportFailure("login", err)
	}

	s := Session{
		Email:                 strings.ToLower(email),
		SessionToken:          tokens.SessionToken,
		RegainToken:           tokens.RegainToken,
		ServerEncryptionToken: hex.EncodeToString(server),
		DeviceEncryptionToken: hex.EncodeToString(device),
	}
	c.install(&s, sessionKeys{server: server, device: device})
	c.setState(StateConnected)
	return s, nil
}

// Restore adopts a persisted session and refreshes its tokens. On failure
// the client ends up disconnected; a rejected session is dropped.
func (c *Client) Restore(ctx context.Context, s Session) error {
	keys, err := s.keys()
	if err != nil {
		return err
	}
	c.install(&s, keys)
	c.setState(StateReconnecting)
	if err := c.reconnect(ctx); err != nil {
		if IsRemote(err) {
			c.install(nil, sessionKeys{})
		}
		c.setState(StateDisconnected)
		return err
	}
	c.setState(StateConnected)
	return nil
}

// Reconnect exchanges the regain token for a fresh session token.
func (c *Client) Reconnect(ctx context.Context) error {
	if !c.LoggedIn() {
		return notLoggedIn()
	}
	c.setState(StateReconnecting)
	if err := c.reconnect(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.setState(StateConnected)
	return nil
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.RLock()
	if c.session == nil {
		c.mu.RUnlock()
		return notLoggedIn()
	}
	s := *c.session
	keys := c.keys
	c.mu.RUnlock()

	query := fmt.Sprintf("/my/reconnect?sessiontoken=%s&regaintoken=%s&rid=%d",
		url.QueryEscape(s.SessionToken), url.QueryEscape(s.RegainToken), c.nextRID())

	var tokens tokenResponse
	if err := c.serverCall(ctx, "reconnect", query, keys.server, &tokens); err != nil {
		return err
	}
	server, err := updateToken(keys.server, tokens.SessionToken)
	if err != nil {
		return transportFailure("reconnect", err)
	}
	device, err := updateToken(keys.device, tokens.SessionToken)
	if err != nil {
		return transportFailure("reconnect", err)
	}
	s.SessionToken = tokens.SessionToken
	s.RegainToken = tokens.RegainToken
	s.ServerEncryptionToken = hex.EncodeToString(server)
	s.DeviceEncryptionToken = hex.EncodeToString(device)
	c.install(&s, sessionKeys{server: server, device: device})
	return nil
}

// Disconnect ends the session. The local session is dropped even when the
// remote call fails.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.RLock()
	s := c.session
	keys := c.keys
	c.mu.RUnlock()

	var err error
	if s != nil {
		query := fmt.Sprintf("/my/disconnect?sessiontoken=%s&rid=%d", url.QueryEscape(s.SessionToken), c.nextRID())
		err = c.serverCall(ctx, "logout", query, keys.server, nil)
		if err != nil {
			slog.Warn("myjd disconnect failed", "error", err)
		}
	}
	c.install(nil, sessionKeys{})
	c.setState(StateDisconnected)
	return err
}

type deviceList struct {
	List []Device `json:"list"`
	RID  int64    `json:"rid"`
}

// ListDevices returns the account's registered devices.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var out deviceList
	err := c.withSession(ctx, func(s Session, keys sessionKeys) error {
		query := fmt.Sprintf("/my/listdevices?sessiontoken=%s&rid=%d", url.QueryEscape(s.SessionToken), c.nextRID())
		return c.serverCall(ctx, "list devices", query, keys.server, &out)
	})
	if err != nil {
		return nil, err
	}
	if out.List == nil {
		out.List = []Device{}
	}
	return out.List, nil
}

// AddLinks submits links to a device's linkgrabber.
func (c *Client) AddLinks(ctx context.Context, deviceID string, q AddLinksQuery) (json.RawMessage, error) {
	return c.CallDevice(ctx, deviceID, "/linkgrabberv2/addLinks", q)
}

// CallDevice invokes path on a device. Each param is sent JSON encoded.
func (c *Client) CallDevice(ctx context.Context, deviceID, path string, params ...any) (json.RawMessage, error) {
	if deviceID == "" {
		return nil, types.NewError(types.CodeValidation, "No device selected", nil)
	}
	encoded := make([]string, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode param: %w", err)
		}
		encoded = append(encoded, string(b))
	}

	var data json.RawMessage
	err := c.withSession(ctx, func(s Session, keys sessionKeys) error {
		var err error
		data, err = c.deviceCall(ctx, s, keys, deviceID, path, encoded)
		return err
	})
	return data, err
}

// withSession runs fn with the current session and retries once after a
// reconnect when the token expired.
func (c *Client) withSession(ctx context.Context, fn func(Session, sessionKeys) error) error {
	snapshot := func() (Session, sessionKeys, bool) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.session == nil {
			return Session{}, sessionKeys{}, false
		}
		return *c.session, c.keys, true
	}

	s, keys, ok := snapshot()
	if !ok {
		return notLoggedIn()
	}
	err := fn(s, keys)
	if !IsTokenInvalid(err) {
		return err
	}

	slog.Info("myjd session token expired, reconnecting")
	if rerr := c.Reconnect(ctx); rerr != nil {
		return rerr
	}
	s, keys, ok = snapshot()
	if !ok {
		return notLoggedIn()
	}
	return fn(s, keys)
}

func (c *Client) install(s *Session, keys sessionKeys) {
	c.mu.Lock()
	c.session = s
	c.keys = keys
	c.mu.Unlock()
}

// serverCall performs a signed GET against the account endpoints and
// decrypts the response into out.
func (c *Client) serverCall(ctx context.Context, op, query string, key []byte, out any) error {
	signed := query + "&signature=" + sign(key, query)
	resp, err := c.rest.R().SetContext(ctx).Get(c.apiRoot + signed)
	if err != nil {
		return transportFailure(op, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return remoteRejection(op, c.readRemoteError(resp.StatusCode(), resp.Body(), key))
	}
	if out == nil {
		return nil
	}
	plain, err := decrypt(key, string(resp.Body()))
	if err != nil {
		return transportFailure(op, fmt.Errorf("decrypt response: %w", err))
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return transportFailure(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type deviceRequest struct {
	URL    string   `json:"url"`
	Params []string `json:"params"`
	RID    int64    `json:"rid"`
	APIVer int      `json:"apiVer"`
}

type deviceResponse struct {
	Data json.RawMessage `json:"data"`
	RID  int64           `json:"rid"`
}

func (c *Client) deviceCall(ctx context.Context, s Session, keys sessionKeys, deviceID, path string, params []string) (json.RawMessage, error) {
	body, err := json.Marshal(deviceRequest{URL: path, Params: params, RID: c.nextRID(), APIVer: apiVersion})
	if err != nil {
		return nil, err
	}
	cipherText, err := encrypt(keys.device, body)
	if err != nil {
		return nil, transportFailure("device call", err)
	}

	endpoint := c.apiRoot + "/t_" + url.PathEscape(s.SessionToken) + "_" + url.PathEscape(deviceID) + path
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentTypeDevice).
		SetBody(cipherText).
		Post(endpoint)
	if err != nil {
		return nil, transportFailure("device call", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, remoteRejection("device call", c.readRemoteError(resp.StatusCode(), resp.Body(), keys.device))
	}

	plain, err := decrypt(keys.device, string(resp.Body()))
	if err != nil {
		return nil, transportFailure("device call", fmt.Errorf("decrypt response: %w", err))
	}
	var out deviceResponse
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, transportFailure("device call", fmt.Errorf("decode response: %w", err))
	}
	if len(out.Data) == 0 {
		return json.RawMessage("null"), nil
	}
	return out.Data, nil
}

// readRemoteError decodes an error body that may arrive in clear text or
// encrypted with key.
func (c *Client) readRemoteError(status int, body []byte, key []byte) *RemoteError {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") && trimmed != "" {
		if plain, err := decrypt(key, trimmed); err == nil {
			body = plain
		}
	}
	re := parseRemoteError(status, body)
	slog.Debug("myjd remote error", "status", status, "src", re.Source, "type", re.Type)
	return re
}
