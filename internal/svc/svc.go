// Package svc runs closures one at a time, in submission order, on a
// dedicated goroutine.
package svc

import (
	"log/slog"
	"sync/atomic"
)

var svcCount atomic.Int64

// ChanSvc is a serial executor. Close it to stop the service.
type ChanSvc chan func()

// SvcSync runs code on the service and waits for its result.
func SvcSync[T any](s ChanSvc, code func() (T, error)) (T, error) {
	result := make(chan bool)
	var value T
	var err error
	Svc(s, func() {
		defer func() { result <- true }()
		value, err = code()
	})
	<-result
	return value, err
}

// Svc queues code without waiting. Order is preserved between calls made
// from the same goroutine.
func Svc(s ChanSvc, code func()) {
	s <- code
}

// RunSvc starts the service loop. A panicking closure is logged and the
// loop keeps running.
func RunSvc(s ChanSvc, logger *slog.Logger) {
	go func() {
		for cmd := range s {
			run(cmd, logger)
		}
	}()
}

func run(cmd func(), logger *slog.Logger) {
	n := svcCount.Add(1)
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("svc panic", "n", n, "panic", r)
		}
	}()
	cmd()
}

// New creates and starts a service whose queue is unbounded, so Svc only
// blocks for the hand-off and never on the closures ahead of it.
func New(logger *slog.Logger) ChanSvc {
	in := make(ChanSvc)
	work := make(ChanSvc)
	go pump(in, work)
	RunSvc(work, logger)
	return in
}

// pump moves closures from in to out, buffering without limit.
func pump(in, out ChanSvc) {
	var queue []func()
	for {
		var send ChanSvc
		var next func()
		if len(queue) > 0 {
			send = out
			next = queue[0]
		}
		select {
		case cmd, ok := <-in:
			if !ok {
				for _, cmd := range queue {
					out <- cmd
				}
				close(out)
				return
			}
			queue = append(queue, cmd)
		case send <- next:
			queue[0] = nil
			queue = queue[1:]
		}
	}
}
