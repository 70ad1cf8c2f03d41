package host

import (
	"context"
	"fmt"
	"reflect"

	"github.com/zot/codata/internal/flatten"
	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/protocol"
)

// createItems splits flat records into one case per collection level. Values
// go to the collection that owns the attribute; unknown attributes go to the
// leaf. A non-leaf case is reused when a sibling with the same parent and
// values already exists, so records sharing parent values share a parent.
func (s *Store) createItems(name string, items []model.Record) (*protocol.CreatedIDs, error) {
	dc, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	owner := make(map[string]int)
	for i, coll := range dc.Collections {
		for _, a := range coll.Attrs {
			if _, taken := owner[a.Name]; !taken {
				owner[a.Name] = i
			}
		}
	}
	leaf := len(dc.Collections) - 1

	result := &protocol.CreatedIDs{ItemIDs: []int64{}, CaseIDs: []int64{}}
	for _, item := range items {
		levels := make([]map[string]any, len(dc.Collections))
		for i := range levels {
			levels[i] = map[string]any{}
		}
		for k, v := range item {
			i, ok := owner[k]
			if !ok {
				i = leaf
			}
			levels[i][k] = v
		}

		var parent int64
		for i, values := range levels {
			coll := dc.Collections[i].Name
			if i < leaf {
				if existing := dc.findCase(coll, parent, values); existing != nil {
					parent = existing.ID
					continue
				}
			}
			c := &model.Case{ID: s.newID(), Collection: coll, ParentID: parent, Values: values}
			dc.addCase(c)
			result.CaseIDs = append(result.CaseIDs, c.ID)
			parent = c.ID
		}
		result.ItemIDs = append(result.ItemIDs, parent)
	}

	if len(result.CaseIDs) > 0 {
		s.touch(name)
		s.emit(name, protocol.OpCreateCases, protocol.OperationResult{Success: true, CaseIDs: result.CaseIDs})
	}
	return result, nil
}

func (dc *dataContext) findCase(collection string, parent int64, values map[string]any) *model.Case {
	for _, c := range dc.Cases {
		if c.Collection == collection && c.ParentID == parent && reflect.DeepEqual(c.Values, values) {
			return c
		}
	}
	return nil
}

// items returns the flattened records of the leaf collection.
func (s *Store) items(name string) ([]model.Record, error) {
	dc, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if len(dc.Collections) == 0 {
		return []model.Record{}, nil
	}
	leaves := dc.casesOf(dc.Collections[len(dc.Collections)-1].Name)
	return flatten.FlattenAll(context.Background(), leaves, func(_ context.Context, id int64) (*model.Case, error) {
		c, ok := dc.byID[id]
		if !ok {
			return nil, fmt.Errorf("case %d not found in %q", id, name)
		}
		return c, nil
	})
}
