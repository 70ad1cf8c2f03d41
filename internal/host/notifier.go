package host

import (
	"sync"
	"time"

	"github.com/zot/codata/internal/protocol"
	"github.com/zot/codata/internal/transport"
)

// Logger receives verbosity-levelled log lines. *config.Config implements it.
type Logger interface {
	Log(level int, format string, args ...any)
}

// Notifier batches change events with debouncing. Events queued within one
// interval are grouped into a single notification per context, plus one
// documentChangeNotice for document-level events, in order of first
// appearance. An interval of zero delivers on every Queue.
type Notifier struct {
	mu               sync.Mutex
	sendMu           sync.Mutex
	pending          []Event
	debounceTimer    *time.Timer
	debounceInterval time.Duration
	subscribers      map[int]transport.NotificationHandler
	nextSub          int
	log              Logger
	batchCount       int
}

// NewNotifier creates a notifier with the given debounce interval.
func NewNotifier(interval time.Duration, log Logger) *Notifier {
	return &Notifier{
		debounceInterval: interval,
		subscribers:      make(map[int]transport.NotificationHandler),
		log:              log,
	}
}

// Subscribe registers a receiver and returns a function that removes it.
func (n *Notifier) Subscribe(fn transport.NotificationHandler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSub
	n.nextSub++
	n.subscribers[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subscribers, id)
	}
}

// Queue adds events and starts the debounce timer if it is not running.
func (n *Notifier) Queue(events ...Event) {
	if len(events) == 0 {
		return
	}
	n.mu.Lock()
	n.pending = append(n.pending, events...)
	if n.debounceInterval <= 0 {
		n.mu.Unlock()
		n.flush()
		return
	}
	if n.debounceTimer == nil {
		n.debounceTimer = time.AfterFunc(n.debounceInterval, n.flush)
	}
	n.mu.Unlock()
}

// FlushNow immediately sends all pending events.
func (n *Notifier) FlushNow() {
	n.mu.Lock()
	if n.debounceTimer != nil {
		n.debounceTimer.Stop()
	}
	n.mu.Unlock()

	n.flush()
}

// flush sends pending events (called by timer or FlushNow). Deliveries are
// serialized so notifications keep their order across flushes.
func (n *Notifier) flush() {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()

	n.mu.Lock()
	n.debounceTimer = nil
	events := n.pending
	n.pending = nil
	n.batchCount++
	count := n.batchCount
	subs := make([]transport.NotificationHandler, 0, len(n.subscribers))
	for i := 0; i < n.nextSub; i++ {
		if fn, ok := n.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	n.mu.Unlock()

	if len(events) == 0 {
		return
	}
	msgs := Group(events)
	if n.log != nil {
		n.log.Log(4, "[OUT] BATCH %d: %d events in %d notifications", count, len(events), len(msgs))
	}
	for _, msg := range msgs {
		for _, fn := range subs {
			fn(msg)
		}
	}
}

// Group builds notification messages from events, one per context in order
// of first appearance.
func Group(events []Event) []*protocol.Request {
	var order []string
	ops := make(map[string][]protocol.Operation)
	for _, e := range events {
		if _, seen := ops[e.Context]; !seen {
			order = append(order, e.Context)
		}
		ops[e.Context] = append(ops[e.Context], e.Op)
	}
	msgs := make([]*protocol.Request, 0, len(order))
	for _, name := range order {
		var msg protocol.Request
		if name == "" {
			msg = protocol.NewDocumentNotification(ops[name]...)
		} else {
			msg = protocol.NewContextNotification(name, ops[name])
		}
		msgs = append(msgs, &msg)
	}
	return msgs
}

// Clear drops pending events and stops the timer.
func (n *Notifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.debounceTimer != nil {
		n.debounceTimer.Stop()
	}
	n.debounceTimer = nil
	n.pending = nil
}

// PendingCount returns the number of pending events (for testing).
func (n *Notifier) PendingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}
