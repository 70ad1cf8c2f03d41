package notify

import (
	"encoding/json"
	"log/slog"

	"github.com/zot/codata/internal/cache"
	"github.com/zot/codata/internal/path"
	"github.com/zot/codata/internal/protocol"
	"github.com/zot/codata/internal/svc"
)

// Router classifies host notifications. Cache invalidation happens inline,
// in arrival order; listener calls are queued on a serial executor so a
// listener that queries the host does not block the connection's read loop.
type Router struct {
	cache     *cache.Cache
	listeners *Registry
	exec      svc.ChanSvc
	logger    *slog.Logger
}

// NewRouter creates a Router. A nil exec runs listeners inline.
func NewRouter(c *cache.Cache, listeners *Registry, exec svc.ChanSvc, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{cache: c, listeners: listeners, exec: exec, logger: logger}
}

// Effects records what one notification did.
type Effects struct {
	Context            string
	InvalidatedContext bool
	ContextListeners   bool
	ContextListChanged bool
	InvalidatedCaseIDs []int64
	DroppedContexts    []string
	Ignored            bool
}

// Handle processes one notification. It never fails: malformed or unknown
// notifications are logged and dropped.
func (r *Router) Handle(n *protocol.Request) (fx Effects) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("notification handler panic", "panic", p)
			fx = Effects{Ignored: true}
		}
	}()

	if n == nil || n.Action != protocol.ActionNotify {
		return Effects{Ignored: true}
	}
	addr, err := path.Parse(n.Resource)
	if err != nil {
		r.logger.Debug("ignoring notification", "resource", n.Resource, "error", err)
		return Effects{Ignored: true}
	}
	ops, err := protocol.ParseOperations(n.Values)
	if err != nil {
		r.logger.Debug("ignoring notification payload", "resource", n.Resource, "error", err)
		return Effects{Ignored: true}
	}

	switch addr.Kind {
	case path.KindDocumentChangeNotice:
		fx = r.documentChanged(ops)
	case path.KindContextChangeNotice:
		fx = r.contextChanged(addr.Context, ops)
	default:
		r.logger.Debug("ignoring notification", "resource", n.Resource, "kind", addr.Kind)
		return Effects{Ignored: true}
	}
	r.dispatch(fx)
	return fx
}

func (r *Router) documentChanged(ops []protocol.Operation) Effects {
	var fx Effects
	for _, op := range ops {
		switch op.Operation {
		case protocol.OpDataContextCountChanged:
			fx.ContextListChanged = true
		case protocol.OpDataContextDeleted:
			fx.ContextListChanged = true
			var deleted struct {
				Name string `json:"name"`
			}
			if json.Unmarshal(op.Result, &deleted) == nil && deleted.Name != "" {
				r.cache.InvalidateContext(deleted.Name)
				fx.DroppedContexts = append(fx.DroppedContexts, deleted.Name)
			}
		}
	}
	return fx
}

func (r *Router) contextChanged(name string, ops []protocol.Operation) Effects {
	fx := Effects{Context: name}
	for _, op := range ops {
		if op.Operation == protocol.OpUpdateDataContext {
			fx.ContextListChanged = true
		} else {
			fx.ContextListeners = true
		}
		if op.Operation == protocol.OpDeleteCases || op.Operation == protocol.OpUpdateCases {
			for _, id := range caseIDs(op.Result) {
				r.cache.InvalidateCase(id)
				fx.InvalidatedCaseIDs = append(fx.InvalidatedCaseIDs, id)
			}
		}
	}
	if fx.ContextListeners {
		r.cache.InvalidateContext(name)
		fx.InvalidatedContext = true
	}
	return fx
}

func caseIDs(raw json.RawMessage) []int64 {
	if len(raw) == 0 {
		return nil
	}
	var result protocol.OperationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil
	}
	return result.AffectedCaseIDs()
}

func (r *Router) dispatch(fx Effects) {
	var pending []Listener
	if fx.ContextListeners {
		pending = append(pending, r.listeners.ContextListeners(fx.Context)...)
	}
	if fx.ContextListChanged {
		pending = append(pending, r.listeners.ContextListListeners()...)
	}
	if len(pending) == 0 {
		return
	}
	r.logger.Debug("notify listeners", "context", fx.Context, "count", len(pending))
	run := func() {
		for _, fn := range pending {
			r.call(fn)
		}
	}
	if r.exec == nil {
		run()
		return
	}
	svc.Svc(r.exec, run)
}

func (r *Router) call(fn Listener) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("listener panic", "panic", p)
		}
	}()
	fn()
}

// Wait blocks until every listener queued so far has run.
func (r *Router) Wait() {
	if r.exec == nil {
		return
	}
	_, _ = svc.SvcSync(r.exec, func() (struct{}, error) { return struct{}{}, nil })
}
