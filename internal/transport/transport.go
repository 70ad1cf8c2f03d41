// Package transport carries batched requests to the host and delivers its
// replies and push notifications.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/zot/codata/internal/protocol"
)

// ErrClosed is returned by calls on a closed connection and to callers that
// were waiting when the connection went away.
var ErrClosed = errors.New("transport: connection closed")

// Caller submits an ordered batch of requests. Implementations return exactly
// one response per request, in request order. There is no retry, and a
// cancelled ctx only stops the wait: the host may still apply the batch.
type Caller interface {
	Call(ctx context.Context, reqs []protocol.Request) ([]protocol.Response, error)
}

// NotificationHandler receives host notifications in delivery order, on the
// connection's read goroutine. It must not block on host calls.
type NotificationHandler func(n *protocol.Request)

// CountMismatchError reports a reply whose response count does not match
// the request count.
type CountMismatchError struct {
	Requests  int
	Responses int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("transport: %d responses for %d requests", e.Responses, e.Requests)
}

// CallOne submits a single request.
func CallOne(ctx context.Context, c Caller, req protocol.Request) (protocol.Response, error) {
	resps, err := c.Call(ctx, []protocol.Request{req})
	if err != nil {
		return protocol.Response{}, err
	}
	if len(resps) != 1 {
		return protocol.Response{}, &CountMismatchError{Requests: 1, Responses: len(resps)}
	}
	return resps[0], nil
}

// CheckCount validates a batch reply.
func CheckCount(reqs []protocol.Request, resps []protocol.Response) error {
	if len(reqs) != len(resps) {
		return &CountMismatchError{Requests: len(reqs), Responses: len(resps)}
	}
	return nil
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, reqs []protocol.Request) ([]protocol.Response, error)

func (f CallerFunc) Call(ctx context.Context, reqs []protocol.Request) ([]protocol.Response, error) {
	return f(ctx, reqs)
}
