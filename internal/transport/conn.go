package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zot/codata/internal/protocol"
)

// Framer moves whole envelopes over an underlying connection.
type Framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

type reply struct {
	resps []protocol.Response
	err   error
}

// Conn multiplexes calls over one framed connection. Replies are matched to
// calls by envelope ID; notifications go to the handler in arrival order.
type Conn struct {
	framer   Framer
	pending  map[string]chan reply
	handler  NotificationHandler
	logger   *slog.Logger
	done     chan struct{}
	closeErr error
	mu       sync.Mutex
	writeMu  sync.Mutex
}

// NewConn starts the read loop on f.
func NewConn(f Framer, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Conn{
		framer:  f,
		pending: make(map[string]chan reply),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// SetNotificationHandler sets the receiver of host notifications.
func (c *Conn) SetNotificationHandler(h NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Call submits reqs as one batch and waits for the matching reply.
func (c *Conn) Call(ctx context.Context, reqs []protocol.Request) ([]protocol.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	id := uuid.NewString()
	env, err := protocol.NewEnvelope(protocol.EnvelopeCall, id, reqs)
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}
	data, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}

	ch := make(chan reply, 1)
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.logger.Debug("call", "id", id, "requests", len(reqs))
	c.writeMu.Lock()
	err = c.framer.WriteFrame(data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("send call: %w", err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if err := CheckCount(reqs, r.resps); err != nil {
			return nil, err
		}
		return r.resps, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.err()
	}
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// isClosed must be called with mu held.
func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.closeErr)
	}
	return ErrClosed
}

// Done is closed when the connection stops.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close stops the connection. Waiting calls fail with ErrClosed.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return c.framer.Close()
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return
	}
	c.closeErr = cause
	close(c.done)
	c.pending = make(map[string]chan reply)
}

func (c *Conn) readLoop() {
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			c.mu.Lock()
			closed := c.isClosed()
			c.mu.Unlock()
			if !closed {
				c.logger.Info("connection lost", "error", err)
			}
			c.shutdown(err)
			c.framer.Close()
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		c.logger.Debug("dropping frame", "error", err)
		return
	}
	switch env.Type {
	case protocol.EnvelopeReply:
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("reply for unknown call", "id", env.ID)
			return
		}
		ch <- decodeReply(env)
	case protocol.EnvelopeNotify:
		var n protocol.Request
		if err := json.Unmarshal(env.Data, &n); err != nil {
			c.logger.Debug("dropping notification", "error", err)
			return
		}
		c.logger.Debug("notification", "resource", n.Resource)
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(&n)
		}
	default:
		c.logger.Debug("unexpected envelope", "type", env.Type)
	}
}

func decodeReply(env *protocol.Envelope) reply {
	if env.Error != "" {
		return reply{err: fmt.Errorf("host: %s", env.Error)}
	}
	var resps []protocol.Response
	if err := json.Unmarshal(env.Data, &resps); err != nil {
		return reply{err: fmt.Errorf("decode reply: %w", err)}
	}
	return reply{resps: resps}
}
