package host

import (
	"sync"
	"testing"
	"time"

	"github.com/zot/codata/internal/protocol"
)

type sink struct {
	mu  sync.Mutex
	got []*protocol.Request
}

func (s *sink) handle(n *protocol.Request) {
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
}

func (s *sink) resources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, n := range s.got {
		out = append(out, n.Resource)
	}
	return out
}

func event(contextName, op string) Event {
	return Event{Context: contextName, Op: protocol.NewOperation(op, nil)}
}

// TestNotifierDebounce verifies events are held until the interval passes
func TestNotifierDebounce(t *testing.T) {
	var s sink
	n := NewNotifier(10*time.Millisecond, nil)
	n.Subscribe(s.handle)

	n.Queue(event("mammals", protocol.OpCreateCases))
	n.Queue(event("mammals", protocol.OpUpdateCases))

	if n.PendingCount() != 2 {
		t.Errorf("Expected 2 pending, got %d", n.PendingCount())
	}

	time.Sleep(50 * time.Millisecond)

	got := s.resources()
	if len(got) != 1 || got[0] != "dataContextChangeNotice[mammals]" {
		t.Errorf("Expected one grouped notification, got %v", got)
	}
	if n.PendingCount() != 0 {
		t.Error("Should have no pending after flush")
	}
}

// TestNotifierFlushNow verifies immediate flush
func TestNotifierFlushNow(t *testing.T) {
	var s sink
	n := NewNotifier(time.Hour, nil)
	n.Subscribe(s.handle)

	n.Queue(event("a", protocol.OpCreateCases))
	n.FlushNow()

	if got := s.resources(); len(got) != 1 {
		t.Errorf("Expected 1 notification after FlushNow, got %v", got)
	}
}

// TestNotifierImmediate verifies a zero interval delivers synchronously
func TestNotifierImmediate(t *testing.T) {
	var s sink
	n := NewNotifier(0, nil)
	n.Subscribe(s.handle)

	n.Queue(event("a", protocol.OpCreateCases))
	n.Queue(event("b", protocol.OpCreateCases))

	got := s.resources()
	if len(got) != 2 || got[0] != "dataContextChangeNotice[a]" || got[1] != "dataContextChangeNotice[b]" {
		t.Errorf("Expected a then b, got %v", got)
	}
}

// TestGroupOrder verifies grouping by context in order of first appearance
func TestGroupOrder(t *testing.T) {
	msgs := Group([]Event{
		event("b", protocol.OpCreateCases),
		event("", protocol.OpDataContextCountChanged),
		event("a", protocol.OpCreateCollection),
		event("b", protocol.OpDeleteCases),
	})
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	want := []string{"dataContextChangeNotice[b]", "documentChangeNotice", "dataContextChangeNotice[a]"}
	for i, msg := range msgs {
		if msg.Resource != want[i] {
			t.Errorf("Message %d: expected %s, got %s", i, want[i], msg.Resource)
		}
		if msg.Action != protocol.ActionNotify {
			t.Errorf("Message %d: expected notify action, got %s", i, msg.Action)
		}
	}
	ops, err := protocol.ParseOperations(msgs[0].Values)
	if err != nil {
		t.Fatalf("ParseOperations failed: %v", err)
	}
	if len(ops) != 2 || ops[0].Operation != protocol.OpCreateCases || ops[1].Operation != protocol.OpDeleteCases {
		t.Errorf("Unexpected ops for b: %+v", ops)
	}
}

// TestNotifierUnsubscribe verifies removed subscribers get nothing
func TestNotifierUnsubscribe(t *testing.T) {
	var s sink
	n := NewNotifier(0, nil)
	stop := n.Subscribe(s.handle)
	stop()

	n.Queue(event("a", protocol.OpCreateCases))
	if got := s.resources(); len(got) != 0 {
		t.Errorf("Expected nothing after unsubscribe, got %v", got)
	}
}

// TestNotifierClear verifies Clear drops pending events
func TestNotifierClear(t *testing.T) {
	var s sink
	n := NewNotifier(time.Hour, nil)
	n.Subscribe(s.handle)

	n.Queue(event("a", protocol.OpCreateCases))
	n.Clear()
	n.FlushNow()

	if got := s.resources(); len(got) != 0 {
		t.Errorf("Expected nothing after Clear, got %v", got)
	}
}
