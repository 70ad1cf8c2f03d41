// Package cache holds the client's local view of remote entities: context
// schemas, individual cases, and flattened record sets per context.
package cache

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/zot/codata/internal/model"
)

// Cache is the process-wide entity store. Each of its three stores is keyed
// independently; entries are present or absent and never expire.
//
// Every key carries a generation that invalidation bumps. The Load methods
// remember the generation before fetching and only store the result if it is
// unchanged, so an invalidation that lands while a fetch is in flight is not
// overwritten by the late result. Concurrent loads of one key share a single
// fetch. Plain Set always overwrites.
type Cache struct {
	contexts map[string]*model.Context
	cases    map[int64]*model.Case
	records  map[string][]model.Record

	// InvalidateContext bumps both contextGen and recordGen: a stale schema
	// makes the record set stale too.
	contextGen map[string]uint64
	recordGen  map[string]uint64
	caseGen    map[int64]uint64
	// caseEpoch counts every case invalidation, for batches whose ids are
	// not known before the fetch.
	caseEpoch uint64

	flight singleflight.Group
	logger *slog.Logger
	mu     sync.RWMutex
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		contexts:   make(map[string]*model.Context),
		cases:      make(map[int64]*model.Case),
		records:    make(map[string][]model.Record),
		contextGen: make(map[string]uint64),
		recordGen:  make(map[string]uint64),
		caseGen:    make(map[int64]uint64),
		logger:     slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger used for cache operation tracing.
func (c *Cache) SetLogger(logger *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// GetContext returns the cached schema of a context.
func (c *Cache) GetContext(name string) (*model.Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.contexts[name]
	return v, ok
}

// SetContext stores a context schema, overwriting any previous entry.
func (c *Cache) SetContext(name string, v *model.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contexts[name] = v
}

// InvalidateContext drops the schema entry of a context and its record set.
func (c *Cache) InvalidateContext(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.contexts, name)
	delete(c.records, name)
	c.contextGen[name]++
	c.recordGen[name]++
	c.logger.Debug("cache invalidate context", "context", name)
}

// GetCase returns a cached case.
func (c *Cache) GetCase(id int64) (*model.Case, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cases[id]
	return v, ok
}

// SetCase stores a case, overwriting any previous entry.
func (c *Cache) SetCase(id int64, v *model.Case) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cases[id] = v
}

// InvalidateCase drops one case. Record sets are not touched: the mutation
// that changes a case also invalidates its context.
func (c *Cache) InvalidateCase(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cases, id)
	c.caseGen[id]++
	c.caseEpoch++
	c.logger.Debug("cache invalidate case", "case", id)
}

// GetRecords returns the cached record set of a context.
func (c *Cache) GetRecords(name string) ([]model.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.records[name]
	return v, ok
}

// SetRecords stores the record set of a context, overwriting any previous entry.
func (c *Cache) SetRecords(name string, v []model.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[name] = v
}

// InvalidateRecords drops only the record set of a context.
func (c *Cache) InvalidateRecords(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, name)
	c.recordGen[name]++
	c.logger.Debug("cache invalidate records", "context", name)
}

// Clear drops every entry of every store.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.contexts {
		c.contextGen[name]++
	}
	for name := range c.records {
		c.recordGen[name]++
	}
	for id := range c.cases {
		c.caseGen[id]++
	}
	c.caseEpoch++
	c.contexts = make(map[string]*model.Context)
	c.cases = make(map[int64]*model.Case)
	c.records = make(map[string][]model.Record)
}

// LoadContext returns the cached schema or fetches it. The fetched value is
// returned to the caller even when an invalidation during the fetch keeps it
// out of the cache.
func (c *Cache) LoadContext(ctx context.Context, name string, fetch func(context.Context) (*model.Context, error)) (*model.Context, error) {
	if v, ok := c.GetContext(name); ok {
		return v, nil
	}
	v, err := c.shared(ctx, "context:"+name, func(ctx context.Context) (any, error) {
		if v, ok := c.GetContext(name); ok {
			return v, nil
		}
		gen := c.generation(c.contextGen, name)
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.storeIfCurrent(func() bool { return c.contextGen[name] == gen }, func() { c.contexts[name] = v }, "context", name)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Context), nil
}

// LoadCase returns the cached case or fetches it.
func (c *Cache) LoadCase(ctx context.Context, id int64, fetch func(context.Context) (*model.Case, error)) (*model.Case, error) {
	if v, ok := c.GetCase(id); ok {
		return v, nil
	}
	key := strconv.FormatInt(id, 10)
	v, err := c.shared(ctx, "case:"+key, func(ctx context.Context) (any, error) {
		if v, ok := c.GetCase(id); ok {
			return v, nil
		}
		c.mu.RLock()
		gen := c.caseGen[id]
		c.mu.RUnlock()
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.storeIfCurrent(func() bool { return c.caseGen[id] == gen }, func() { c.cases[id] = v }, "case", key)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Case), nil
}

// LoadRecords returns the cached record set or builds it.
func (c *Cache) LoadRecords(ctx context.Context, name string, fetch func(context.Context) ([]model.Record, error)) ([]model.Record, error) {
	if v, ok := c.GetRecords(name); ok {
		return v, nil
	}
	v, err := c.shared(ctx, "records:"+name, func(ctx context.Context) (any, error) {
		if v, ok := c.GetRecords(name); ok {
			return v, nil
		}
		gen := c.generation(c.recordGen, name)
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.storeIfCurrent(func() bool { return c.recordGen[name] == gen }, func() { c.records[name] = v }, "records", name)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Record), nil
}

// shared runs fetch once per key for all concurrent callers. The fetch does
// not inherit any caller's cancellation; each caller stops waiting when its
// own ctx is done.
func (c *Cache) shared(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	ch := c.flight.DoChan(key, func() (any, error) {
		return fetch(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CaseEpoch returns a counter that changes whenever any case is invalidated.
func (c *Cache) CaseEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caseEpoch
}

// StoreCasesIfCurrent stores cases fetched as a batch, unless some case was
// invalidated after epoch was read with CaseEpoch. It reports whether the
// cases were stored.
func (c *Cache) StoreCasesIfCurrent(cases []*model.Case, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caseEpoch != epoch {
		c.logger.Debug("cache drop stale case batch", "cases", len(cases))
		return false
	}
	for _, v := range cases {
		c.cases[v.ID] = v
	}
	return true
}

func (c *Cache) generation(gens map[string]uint64, key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gens[key]
}

func (c *Cache) storeIfCurrent(current func() bool, store func(), kind, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !current() {
		c.logger.Debug("cache drop stale fetch", "kind", kind, "key", key)
		return
	}
	store()
}

// Snapshot summarizes cache contents for diagnostics.
type Snapshot struct {
	Contexts []string `json:"contexts"`
	Records  []string `json:"records"`
	Cases    []int64  `json:"cases"`
}

// Snapshot returns the sorted keys of every store.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Contexts: make([]string, 0, len(c.contexts)),
		Records:  make([]string, 0, len(c.records)),
		Cases:    make([]int64, 0, len(c.cases)),
	}
	for name := range c.contexts {
		s.Contexts = append(s.Contexts, name)
	}
	for name := range c.records {
		s.Records = append(s.Records, name)
	}
	for id := range c.cases {
		s.Cases = append(s.Cases, id)
	}
	slices.Sort(s.Contexts)
	slices.Sort(s.Records)
	slices.Sort(s.Cases)
	return s
}
