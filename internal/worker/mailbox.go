package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by calls to a worker that has shut down.
var ErrClosed = errors.New("worker channel closed")

// Handler processes one worker request. Handlers run one at a time.
type Handler interface {
	Handle(ctx context.Context, action string, payload json.RawMessage) any
	Close() error
}

type call struct {
	ctx     context.Context
	action  string
	payload json.RawMessage
	reply   chan result
}

type result struct {
	data json.RawMessage
	err  error
}

// Mailbox runs a Handler on its own goroutine and feeds it requests in
// arrival order.
type Mailbox struct {
	handler Handler
	inbox   chan call
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewMailbox starts a mailbox around h.
func NewMailbox(h Handler, buffer int) *Mailbox {
	mb := &Mailbox{
		handler: h,
		inbox:   make(chan call, buffer),
		done:    make(chan struct{}),
	}
	mb.wg.Add(1)
	go mb.loop()
	return mb
}

// Call implements Worker.
func (mb *Mailbox) Call(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	c := call{ctx: ctx, action: action, payload: payload, reply: make(chan result, 1)}
	select {
	case <-mb.done:
		return nil, ErrClosed
	default:
	}
	select {
	case mb.inbox <- c:
	case <-mb.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("worker busy: %w", ctx.Err())
	}

	select {
	case r := <-c.reply:
		return r.data, r.err
	case <-mb.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("worker timeout: %w", ctx.Err())
	}
}

// Close stops the loop after the request in progress and closes the handler.
func (mb *Mailbox) Close() error {
	mb.closeOnce.Do(func() {
		close(mb.done)
		mb.wg.Wait()
		mb.closeErr = mb.handler.Close()
	})
	return mb.closeErr
}

func (mb *Mailbox) loop() {
	defer mb.wg.Done()
	for {
		select {
		case <-mb.done:
			return
		case c := <-mb.inbox:
			c.reply <- mb.run(c)
		}
	}
}

func (mb *Mailbox) run(c call) (r result) {
	defer func() {
		if p := recover(); p != nil {
			r = result{err: fmt.Errorf("worker handler panic: %v", p)}
		}
	}()
	// Operations started by the worker are not cancelled when the caller
	// stops waiting; only the transport's own timeouts bound them.
	out := mb.handler.Handle(context.WithoutCancel(c.ctx), c.action, c.payload)
	if raw, ok := out.(json.RawMessage); ok {
		return result{data: raw}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return result{err: fmt.Errorf("encode worker response: %w", err)}
	}
	return result{data: data}
}
