// Package worker manages the single privileged worker that owns the remote
// agent client. The manager creates it on demand, reuses it, tears it down,
// and relays dispatches without ever returning an error to the caller.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/myjd_bridge/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of the worker.
type State int

const (
	Absent State = iota
	Creating
	Present
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Creating:
		return "creating"
	case Present:
		return "present"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Worker is a live privileged context.
type Worker interface {
	Call(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)
	Close() error
}

// Factory creates a worker.
type Factory func(ctx context.Context) (Worker, error)

// DefaultTimeout bounds a single dispatch round trip.
const DefaultTimeout = 30 * time.Second

// Manager owns the worker lifecycle.
type Manager struct {
	factory Factory
	timeout time.Duration
	metrics *metrics.Metrics

	group singleflight.Group

	mu      sync.Mutex
	state   State
	current Worker
}

// NewManager returns a manager in the Absent state. A zero timeout selects
// DefaultTimeout.
func NewManager(factory Factory, timeout time.Duration, m *metrics.Metrics) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{factory: factory, timeout: timeout, metrics: m}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Exists reports whether a worker is present.
func (m *Manager) Exists() bool {
	return m.State() == Present
}

// Ensure returns the present worker or creates one. Concurrent callers while
// a creation is in flight share its result.
func (m *Manager) Ensure(ctx context.Context) (Worker, error) {
	m.mu.Lock()
	if m.state == Present {
		w := m.current
		m.mu.Unlock()
		return w, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("worker", func() (any, error) {
		m.mu.Lock()
		if m.state == Present {
			w := m.current
			m.mu.Unlock()
			return w, nil
		}
		m.state = Creating
		m.mu.Unlock()

		slog.Info("creating privileged worker")
		// The creation outlives any single caller that triggered it.
		w, err := m.factory(context.WithoutCancel(ctx))

		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			m.state = Absent
			return nil, err
		}
		m.state = Present
		m.current = w
		m.metrics.ObserveWorkerCreation()
		slog.Info("privileged worker created")
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Worker), nil
}

// Teardown closes the present worker. It is a no-op when none exists.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	if m.state != Present {
		m.mu.Unlock()
		return nil
	}
	w := m.current
	m.current = nil
	m.state = Absent
	m.mu.Unlock()

	slog.Info("privileged worker closed")
	return w.Close()
}

// Dispatch ensures the worker, forwards action with payload and returns the
// worker's response verbatim. Every failure comes back as {"error": msg}.
func (m *Manager) Dispatch(ctx context.Context, action string, payload any) json.RawMessage {
	start := time.Now()
	resp, err := m.dispatch(ctx, action, payload)
	if err != nil {
		slog.Error("worker dispatch failed", "action", action, "error", err)
		m.metrics.ObserveDispatch(action, "error", time.Since(start))
		return errorPayload(err)
	}
	m.metrics.ObserveDispatch(action, "ok", time.Since(start))
	return resp
}

func (m *Manager) dispatch(ctx context.Context, action string, payload any) (resp json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	w, err := m.Ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker unavailable: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err = w.Call(callCtx, action, raw)
	if errors.Is(err, ErrClosed) {
		m.forget(w)
	}
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 || string(resp) == "null" {
		return json.RawMessage(`{}`), nil
	}
	return resp, nil
}

// forget drops w if it is still the current worker, so the next dispatch
// creates a fresh one.
func (m *Manager) forget(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == w {
		m.current = nil
		m.state = Absent
	}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return p, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return b, nil
	}
}

func errorPayload(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
