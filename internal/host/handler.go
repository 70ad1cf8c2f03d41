package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zot/codata/internal/config"
	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/path"
	"github.com/zot/codata/internal/protocol"
	"github.com/zot/codata/internal/storage"
	"github.com/zot/codata/internal/svc"
	"github.com/zot/codata/internal/transport"
)

// Apply runs one request against the store and returns its response.
// Failures are reported in the response, never as a Go error.
func (s *Store) Apply(req protocol.Request) protocol.Response {
	addr, err := path.Parse(req.Resource)
	if err != nil {
		return protocol.Failure("%v", err)
	}
	resp, err := s.apply(req, addr)
	if err != nil {
		return protocol.Failure("%v", err)
	}
	return resp
}

func (s *Store) apply(req protocol.Request, a *path.Address) (protocol.Response, error) {
	switch a.Kind {
	case path.KindContextList:
		switch req.Action {
		case protocol.ActionGet:
			infos := []model.ContextInfo{}
			for _, dc := range s.sortedContexts() {
				infos = append(infos, dc.info())
			}
			return protocol.Success(infos), nil
		case protocol.ActionCreate:
			var values model.Context
			if err := decodeValues(req.Values, &values); err != nil {
				return protocol.Response{}, err
			}
			info, err := s.createContext(&values)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(info), nil
		}

	case path.KindContext:
		switch req.Action {
		case protocol.ActionGet:
			dc, err := s.lookup(a.Context)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(dc.schema()), nil
		case protocol.ActionUpdate:
			info, err := s.updateContext(a.Context, req.Values)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(info), nil
		case protocol.ActionDelete:
			return protocol.Success(nil), s.deleteContext(a.Context)
		}

	case path.KindCollectionList:
		switch req.Action {
		case protocol.ActionGet:
			dc, err := s.lookup(a.Context)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(dc.schema().Collections), nil
		case protocol.ActionCreate:
			colls, err := decodeCollections(req.Values)
			if err != nil {
				return protocol.Response{}, err
			}
			created, err := s.createCollections(a.Context, colls)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(created), nil
		}

	case path.KindCollection:
		switch req.Action {
		case protocol.ActionGet:
			dc, err := s.lookup(a.Context)
			if err != nil {
				return protocol.Response{}, err
			}
			i, err := dc.collectionIndex(a.Collection)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(dc.Collections[i]), nil
		case protocol.ActionDelete:
			return protocol.Success(nil), s.deleteCollection(a.Context, a.Collection)
		}

	case path.KindAllCases:
		switch req.Action {
		case protocol.ActionGet:
			listing, err := s.allCases(a.Context, a.Collection)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(listing), nil
		case protocol.ActionDelete:
			removed, err := s.deleteAllCases(a.Context, a.Collection)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(protocol.OperationResult{Success: true, CaseIDs: removed}), nil
		}

	case path.KindCases:
		if req.Action == protocol.ActionCreate {
			var cases []newCase
			if err := decodeValues(req.Values, &cases); err != nil {
				return protocol.Response{}, err
			}
			ids, err := s.createCases(a.Context, a.Collection, cases)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(protocol.CreatedIDs{IDs: ids}), nil
		}

	case path.KindCaseByID:
		switch req.Action {
		case protocol.ActionGet:
			c, err := s.getCase(a.Context, a.CaseID)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(protocol.CaseValues{Case: *c}), nil
		case protocol.ActionUpdate:
			var update struct {
				Values map[string]any `json:"values"`
			}
			if err := decodeValues(req.Values, &update); err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(nil), s.updateCase(a.Context, a.CaseID, update.Values)
		case protocol.ActionDelete:
			removed, err := s.deleteCase(a.Context, a.CaseID)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(protocol.OperationResult{Success: true, CaseIDs: removed}), nil
		}

	case path.KindItem:
		switch req.Action {
		case protocol.ActionGet:
			records, err := s.items(a.Context)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(records), nil
		case protocol.ActionCreate:
			var items []model.Record
			if err := decodeValues(req.Values, &items); err != nil {
				return protocol.Response{}, err
			}
			ids, err := s.createItems(a.Context, items)
			if err != nil {
				return protocol.Response{}, err
			}
			return protocol.Success(ids), nil
		}
	}
	return protocol.Response{}, fmt.Errorf("unsupported %s on %s", req.Action, a.Kind)
}

// decodeCollections accepts one collection or an array of them.
func decodeCollections(values json.RawMessage) ([]model.Collection, error) {
	var colls []model.Collection
	if err := decodeValues(values, &colls); err == nil {
		return colls, nil
	}
	var one model.Collection
	if err := decodeValues(values, &one); err != nil {
		return nil, err
	}
	return []model.Collection{one}, nil
}

// Handler serves request batches against a Store. Batches run one at a time
// in arrival order; changed contexts are persisted after each batch and the
// resulting events are queued on the Notifier.
type Handler struct {
	cfg      *config.Config
	store    *Store
	backend  storage.Backend
	notifier *Notifier
	exec     svc.ChanSvc
	closed   bool
	mu       sync.RWMutex
}

// NewHandler creates a handler and loads any saved contexts from backend.
// backend may be nil for a purely in-memory host.
func NewHandler(cfg *config.Config, backend storage.Backend, notifier *Notifier) (*Handler, error) {
	h := &Handler{
		cfg:      cfg,
		store:    NewStore(),
		backend:  backend,
		notifier: notifier,
		exec:     svc.New(cfg.Logger()),
	}
	if backend != nil {
		if err := h.load(); err != nil {
			close(h.exec)
			return nil, err
		}
	}
	return h, nil
}

// load restores contexts and the id counter. Ids are never reused, even if
// the saved counter is behind the saved data.
func (h *Handler) load() error {
	names, err := h.backend.List()
	if err != nil {
		return fmt.Errorf("list saved contexts: %w", err)
	}
	var maxID int64
	for _, name := range names {
		d, err := h.backend.Load(name)
		if err != nil {
			return fmt.Errorf("load context %q: %w", name, err)
		}
		var dc dataContext
		if err := json.Unmarshal(d.Data, &dc); err != nil {
			return fmt.Errorf("decode context %q: %w", name, err)
		}
		dc.index()
		maxID = max(maxID, dc.ID)
		for _, c := range dc.Collections {
			maxID = max(maxID, c.ID)
		}
		for _, c := range dc.Cases {
			maxID = max(maxID, c.ID)
		}
		h.store.contexts[dc.Name] = &dc
	}
	saved, err := h.backend.NextID()
	if err != nil {
		return fmt.Errorf("read next id: %w", err)
	}
	h.store.nextID = max(saved, maxID+1, 1)
	h.cfg.Log(1, "Loaded %d contexts, next id %d", len(names), h.store.nextID)
	return nil
}

// Call applies reqs in order and returns one response per request. A failed
// request does not stop the ones after it.
func (h *Handler) Call(ctx context.Context, reqs []protocol.Request) ([]protocol.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, transport.ErrClosed
	}
	return svc.SvcSync(h.exec, func() ([]protocol.Response, error) {
		resps := make([]protocol.Response, len(reqs))
		for i, req := range reqs {
			resps[i] = h.store.Apply(req)
			h.cfg.Log(2, "%s %s -> %v", req.Action, req.Resource, resps[i].Success)
		}
		if err := h.persist(); err != nil {
			h.cfg.Log(0, "Failed to persist: %v", err)
		}
		if h.notifier != nil {
			h.notifier.Queue(h.store.takeEvents()...)
		} else {
			h.store.takeEvents()
		}
		return resps, nil
	})
}

// SetNotificationHandler subscribes an in-process receiver to notifications.
func (h *Handler) SetNotificationHandler(fn transport.NotificationHandler) {
	if h.notifier != nil {
		h.notifier.Subscribe(fn)
	}
}

// ContextNames lists contexts in creation order.
func (h *Handler) ContextNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	names, _ := svc.SvcSync(h.exec, func() ([]string, error) {
		return h.store.ContextNames(), nil
	})
	return names
}

// Close stops the handler. Later calls fail with transport.ErrClosed.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.exec)
	}
}

func (h *Handler) persist() error {
	s := h.store
	if h.backend == nil || (len(s.dirty) == 0 && len(s.deleted) == 0) {
		return nil
	}
	defer func() {
		clear(s.dirty)
		clear(s.deleted)
	}()
	tx, err := h.backend.BeginTransaction()
	if err != nil {
		return err
	}
	for name := range s.dirty {
		dc, ok := s.contexts[name]
		if !ok {
			continue
		}
		data, err := json.Marshal(dc)
		if err != nil {
			return errors.Join(err, tx.Rollback())
		}
		if err := tx.Store(&storage.ContextData{Name: name, Data: data}); err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	for name := range s.deleted {
		if err := tx.Delete(name); err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	if err := tx.SetNextID(s.nextID); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}
