// Package client is the public access layer: reads go through the entity
// cache and fall through to the host on a miss; writes go to the host and
// invalidate what they made stale. Host notifications keep the cache honest.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zot/codata/internal/cache"
	"github.com/zot/codata/internal/notify"
	"github.com/zot/codata/internal/protocol"
	"github.com/zot/codata/internal/svc"
	"github.com/zot/codata/internal/transport"
)

// OperationError reports a failed host operation.
type OperationError struct {
	Op      string // get, create, update, delete
	Target  string // e.g. `context "Mammals"`
	Message string // host error message, if any
	Err     error  // transport error, if any
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("failed to %s %s", e.Op, e.Target)
	switch {
	case e.Err != nil:
		return msg + ": " + e.Err.Error()
	case e.Message != "":
		return msg + ": " + e.Message
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// notificationSource is implemented by transports that deliver host pushes.
type notificationSource interface {
	SetNotificationHandler(h transport.NotificationHandler)
}

// Client is safe for concurrent use.
type Client struct {
	caller    transport.Caller
	cache     *cache.Cache
	listeners *notify.Registry
	router    *notify.Router
	exec      svc.ChanSvc
	timeout   time.Duration
	logger    *slog.Logger

	// closed guards exec: nothing is queued on it after Close.
	closed bool
	mu     sync.RWMutex
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every host call. Zero waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger for the client and its cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCache shares an existing cache.
func WithCache(cc *cache.Cache) Option {
	return func(c *Client) { c.cache = cc }
}

// New creates a client on caller. If caller delivers notifications, they are
// routed to this client.
func New(caller transport.Caller, opts ...Option) *Client {
	c := &Client{caller: caller}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.cache == nil {
		c.cache = cache.New()
		c.cache.SetLogger(c.logger)
	}
	c.listeners = notify.NewRegistry()
	c.exec = svc.New(c.logger)
	c.router = notify.NewRouter(c.cache, c.listeners, c.exec, c.logger)
	if src, ok := caller.(notificationSource); ok {
		src.SetNotificationHandler(c.HandleNotification)
	}
	return c
}

// Close stops listener dispatch; later notifications are ignored. It does
// not close the transport. Close is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.exec)
}

// Cache exposes the entity cache for diagnostics.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// HandleNotification routes one host notification.
func (c *Client) HandleNotification(n *protocol.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.router.Handle(n)
}

// WaitListeners blocks until listeners queued by earlier notifications ran.
// After Close it returns immediately.
func (c *Client) WaitListeners() {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	done := make(chan struct{})
	svc.Svc(c.exec, func() { close(done) })
	c.mu.RUnlock()
	<-done
}

// OnContextChange registers fn for changes to the named context.
func (c *Client) OnContextChange(name string, fn func()) notify.ListenerID {
	return c.listeners.OnContextChange(name, fn)
}

// OnContextListChange registers fn for changes to the set of contexts.
func (c *Client) OnContextListChange(fn func()) notify.ListenerID {
	return c.listeners.OnContextListChange(fn)
}

// RemoveListener unregisters a listener.
func (c *Client) RemoveListener(id notify.ListenerID) bool {
	return c.listeners.Remove(id)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

// call submits one request and turns transport errors and unsuccessful
// responses into an *OperationError.
func (c *Client) call(ctx context.Context, op, target string, req protocol.Request) (protocol.Response, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.logger.Debug("host call", "action", req.Action, "resource", req.Resource)
	resp, err := transport.CallOne(ctx, c.caller, req)
	if err != nil {
		return resp, &OperationError{Op: op, Target: target, Err: err}
	}
	if !resp.Success {
		return resp, &OperationError{Op: op, Target: target, Message: resp.ErrorMessage()}
	}
	return resp, nil
}

func contextTarget(name string) string {
	return fmt.Sprintf("context %q", name)
}

func caseTarget(contextName string, id int64) string {
	return fmt.Sprintf("case %d of context %q", id, contextName)
}

func decode(op, target string, resp protocol.Response, v any) error {
	if err := resp.Decode(v); err != nil {
		return &OperationError{Op: op, Target: target, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
