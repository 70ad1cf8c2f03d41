// Package host is an in-process implementation of the remote data store. It
// answers the same requests as the real host, batches change notifications
// per context, and serves them over websocket and packet sockets.
package host

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/protocol"
)

// dataContext is the stored form of one context, cases in creation order.
type dataContext struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Title       string             `json:"title,omitempty"`
	Collections []model.Collection `json:"collections"`
	Cases       []*model.Case      `json:"cases"`

	byID map[int64]*model.Case
}

func (dc *dataContext) index() {
	dc.byID = make(map[int64]*model.Case, len(dc.Cases))
	for _, c := range dc.Cases {
		dc.byID[c.ID] = c
	}
}

func (dc *dataContext) info() model.ContextInfo {
	return model.ContextInfo{ID: dc.ID, Name: dc.Name, Title: dc.Title}
}

func (dc *dataContext) schema() *model.Context {
	return &model.Context{
		ID:          dc.ID,
		Name:        dc.Name,
		Title:       dc.Title,
		Collections: slices.Clone(dc.Collections),
	}
}

func (dc *dataContext) collectionIndex(name string) (int, error) {
	for i, c := range dc.Collections {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("collection %q not found in %q", name, dc.Name)
}

func (dc *dataContext) casesOf(collection string) []*model.Case {
	var result []*model.Case
	for _, c := range dc.Cases {
		if c.Collection == collection {
			result = append(result, c)
		}
	}
	return result
}

func (dc *dataContext) addCase(c *model.Case) {
	dc.Cases = append(dc.Cases, c)
	dc.byID[c.ID] = c
}

// removeCases deletes the given cases and all their descendants and returns
// the removed ids in creation order.
func (dc *dataContext) removeCases(roots map[int64]bool) []int64 {
	doomed := make(map[int64]bool, len(roots))
	for id := range roots {
		doomed[id] = true
	}
	// Parents are created before their children, so one pass suffices.
	for _, c := range dc.Cases {
		if c.HasParent() && doomed[c.ParentID] {
			doomed[c.ID] = true
		}
	}
	var removed []int64
	kept := dc.Cases[:0]
	for _, c := range dc.Cases {
		if doomed[c.ID] {
			removed = append(removed, c.ID)
			delete(dc.byID, c.ID)
		} else {
			kept = append(kept, c)
		}
	}
	clear(dc.Cases[len(kept):])
	dc.Cases = kept
	return removed
}

// Store holds every context. It is not safe for concurrent use; the Handler
// serializes access.
type Store struct {
	contexts map[string]*dataContext
	nextID   int64
	events   []Event
	dirty    map[string]bool
	deleted  map[string]bool
}

// Event is one change to announce. An empty Context means a document-level
// change.
type Event struct {
	Context string
	Op      protocol.Operation
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		contexts: make(map[string]*dataContext),
		nextID:   1,
		dirty:    make(map[string]bool),
		deleted:  make(map[string]bool),
	}
}

func (s *Store) newID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Store) emit(contextName, op string, result any) {
	s.events = append(s.events, Event{Context: contextName, Op: protocol.NewOperation(op, result)})
}

func (s *Store) touch(name string) {
	s.dirty[name] = true
	delete(s.deleted, name)
}

// takeEvents returns and clears the pending events.
func (s *Store) takeEvents() []Event {
	events := s.events
	s.events = nil
	return events
}

func (s *Store) lookup(name string) (*dataContext, error) {
	dc, ok := s.contexts[name]
	if !ok {
		return nil, fmt.Errorf("data context %q not found", name)
	}
	return dc, nil
}

// sortedContexts returns contexts in creation order.
func (s *Store) sortedContexts() []*dataContext {
	list := make([]*dataContext, 0, len(s.contexts))
	for _, dc := range s.contexts {
		list = append(list, dc)
	}
	slices.SortFunc(list, func(a, b *dataContext) int { return int(a.ID - b.ID) })
	return list
}

// ContextNames returns context names in creation order.
func (s *Store) ContextNames() []string {
	list := s.sortedContexts()
	names := make([]string, len(list))
	for i, dc := range list {
		names[i] = dc.Name
	}
	return names
}

func (s *Store) createContext(values *model.Context) (model.ContextInfo, error) {
	if err := values.Validate(); err != nil {
		return model.ContextInfo{}, err
	}
	if _, exists := s.contexts[values.Name]; exists {
		return model.ContextInfo{}, fmt.Errorf("data context %q already exists", values.Name)
	}
	dc := &dataContext{ID: s.newID(), Name: values.Name, Title: values.Title}
	if dc.Title == "" {
		dc.Title = dc.Name
	}
	dc.index()
	for _, c := range values.Collections {
		n := c.Normalize()
		n.ID = s.newID()
		dc.Collections = append(dc.Collections, n)
	}
	s.contexts[dc.Name] = dc
	s.touch(dc.Name)
	s.emit("", protocol.OpDataContextCountChanged, map[string]any{"success": true, "name": dc.Name})
	return dc.info(), nil
}

func (s *Store) updateContext(name string, values json.RawMessage) (model.ContextInfo, error) {
	dc, err := s.lookup(name)
	if err != nil {
		return model.ContextInfo{}, err
	}
	var update struct {
		Title *string `json:"title"`
	}
	if err := decodeValues(values, &update); err != nil {
		return model.ContextInfo{}, err
	}
	if update.Title != nil {
		dc.Title = *update.Title
	}
	s.touch(name)
	s.emit(name, protocol.OpUpdateDataContext, map[string]any{"success": true})
	return dc.info(), nil
}

func (s *Store) deleteContext(name string) error {
	if _, err := s.lookup(name); err != nil {
		return err
	}
	delete(s.contexts, name)
	delete(s.dirty, name)
	s.deleted[name] = true
	s.emit("", protocol.OpDataContextDeleted, map[string]any{"success": true, "name": name})
	return nil
}

func (s *Store) createCollections(name string, colls []model.Collection) ([]map[string]any, error) {
	dc, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if len(colls) == 0 {
		return nil, fmt.Errorf("no collections given")
	}
	seen := make(map[string]bool)
	for _, c := range dc.Collections {
		seen[c.Name] = true
	}
	for _, c := range colls {
		if c.Name == "" {
			return nil, fmt.Errorf("collection has no name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("collection %q already exists in %q", c.Name, name)
		}
		seen[c.Name] = true
	}
	var created []map[string]any
	for _, c := range colls {
		n := c.Normalize()
		n.ID = s.newID()
		dc.Collections = append(dc.Collections, n)
		created = append(created, map[string]any{"id": n.ID, "name": n.Name})
		s.emit(name, protocol.OpCreateCollection, map[string]any{"success": true, "collection": n.ID})
	}
	s.touch(name)
	return created, nil
}

// deleteCollection removes a collection and its cases. Cases of the child
// collection are relinked to the removed case's parent. The last collection
// of a context cannot be removed.
func (s *Store) deleteCollection(name, collection string) error {
	dc, err := s.lookup(name)
	if err != nil {
		return err
	}
	idx, err := dc.collectionIndex(collection)
	if err != nil {
		return err
	}
	if len(dc.Collections) == 1 {
		return fmt.Errorf("cannot delete the last collection of %q", name)
	}

	parentOf := make(map[int64]int64)
	var removed []int64
	kept := dc.Cases[:0]
	for _, c := range dc.Cases {
		if c.Collection == collection {
			parentOf[c.ID] = c.ParentID
			removed = append(removed, c.ID)
			delete(dc.byID, c.ID)
			continue
		}
		if p, ok := parentOf[c.ParentID]; ok {
			c.ParentID = p
		}
		kept = append(kept, c)
	}
	clear(dc.Cases[len(kept):])
	dc.Cases = kept
	dc.Collections = slices.Delete(dc.Collections, idx, idx+1)

	s.touch(name)
	if len(removed) > 0 {
		s.emit(name, protocol.OpDeleteCases, protocol.OperationResult{Success: true, CaseIDs: removed})
	}
	s.emit(name, protocol.OpDeleteCollection, map[string]any{"success": true, "collection": collection})
	return nil
}

func (s *Store) allCases(name, collection string) (*protocol.CollectionCases, error) {
	dc, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if _, err := dc.collectionIndex(collection); err != nil {
		return nil, err
	}
	result := &protocol.CollectionCases{Cases: []protocol.CaseEntry{}}
	result.Collection.Name = collection
	for i, c := range dc.casesOf(collection) {
		result.Cases = append(result.Cases, protocol.CaseEntry{Case: *c, CaseIndex: i})
	}
	return result, nil
}

func (s *Store) deleteAllCases(name, collection string) ([]int64, error) {
	dc, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if _, err := dc.collectionIndex(collection); err != nil {
		return nil, err
	}
	roots := make(map[int64]bool)
	for _, c := range dc.casesOf(collection) {
		roots[c.ID] = true
	}
	removed := dc.removeCases(roots)
	if len(removed) > 0 {
		s.touch(name)
		s.emit(name, protocol.OpDeleteCases, protocol.OperationResult{Success: true, CaseIDs: removed})
	}
	return removed, nil
}

// newCase is the payload of case creation requests.
type newCase struct {
	Parent int64          `json:"parent,omitempty"`
	Values map[string]any `json:"values"`
}

func (s *Store) createCases(name, collection string, cases []newCase) ([]int64, error) {
	dc, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	idx, err := dc.collectionIndex(collection)
	if err != nil {
		return nil, err
	}
	for _, nc := range cases {
		if err := s.checkParent(dc, idx, nc.Parent); err != nil {
			return nil, err
		}
	}
	ids := make([]int64, 0, len(cases))
	for _, nc := range cases {
		c := &model.Case{ID: s.newID(), Collection: collection, ParentID: nc.Parent, Values: nc.Values}
		if c.Values == nil {
			c.Values = map[string]any{}
		}
		dc.addCase(c)
		ids = append(ids, c.ID)
	}
	s.touch(name)
	s.emit(name, protocol.OpCreateCases, protocol.OperationResult{Success: true, CaseIDs: ids})
	return ids, nil
}

func (s *Store) checkParent(dc *dataContext, idx int, parent int64) error {
	if idx == 0 {
		if parent != 0 {
			return fmt.Errorf("cases of root collection %q cannot have a parent", dc.Collections[0].Name)
		}
		return nil
	}
	p, ok := dc.byID[parent]
	if !ok {
		return fmt.Errorf("parent case %d not found", parent)
	}
	if p.Collection != dc.Collections[idx-1].Name {
		return fmt.Errorf("case %d is not in parent collection %q", parent, dc.Collections[idx-1].Name)
	}
	return nil
}

func (s *Store) getCase(name string, id int64) (*model.Case, error) {
	dc, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	c, ok := dc.byID[id]
	if !ok {
		return nil, fmt.Errorf("case %d not found in %q", id, name)
	}
	copied := *c
	return &copied, nil
}

func (s *Store) updateCase(name string, id int64, values map[string]any) error {
	dc, err := s.lookup(name)
	if err != nil {
		return err
	}
	c, ok := dc.byID[id]
	if !ok {
		return fmt.Errorf("case %d not found in %q", id, name)
	}
	updated := make(map[string]any, len(c.Values)+len(values))
	for k, v := range c.Values {
		updated[k] = v
	}
	for k, v := range values {
		updated[k] = v
	}
	c.Values = updated
	s.touch(name)
	s.emit(name, protocol.OpUpdateCases, protocol.OperationResult{Success: true, CaseIDs: []int64{id}})
	return nil
}

func (s *Store) deleteCase(name string, id int64) ([]int64, error) {
	dc, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if _, ok := dc.byID[id]; !ok {
		return nil, fmt.Errorf("case %d not found in %q", id, name)
	}
	removed := dc.removeCases(map[int64]bool{id: true})
	s.touch(name)
	s.emit(name, protocol.OpDeleteCases, protocol.OperationResult{Success: true, CaseIDs: removed})
	return removed, nil
}

func decodeValues(values json.RawMessage, v any) error {
	if len(values) == 0 {
		return fmt.Errorf("request has no values")
	}
	if err := json.Unmarshal(values, v); err != nil {
		return fmt.Errorf("bad values: %w", err)
	}
	return nil
}
