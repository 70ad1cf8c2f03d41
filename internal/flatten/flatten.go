// Package flatten rebuilds a denormalized record from a leaf case and its
// chain of ancestor cases.
package flatten

import (
	"context"
	"fmt"

	"github.com/zot/codata/internal/model"
)

// MaxDepth bounds the parent chain; hierarchies are rarely deeper than five.
const MaxDepth = 64

// Lookup resolves a case by id. Implementations should consult the case
// cache before making a remote call.
type Lookup func(ctx context.Context, id int64) (*model.Case, error)

// Flatten merges leaf's values over those of all its ancestors. A value set
// on a descendant is never overwritten by an ancestor value of the same key.
func Flatten(ctx context.Context, leaf *model.Case, lookup Lookup) (model.Record, error) {
	if leaf == nil {
		return nil, fmt.Errorf("flatten: nil case")
	}

	chain := []*model.Case{leaf}
	seen := map[int64]bool{leaf.ID: true}
	for c := leaf; c.HasParent(); {
		if len(chain) >= MaxDepth {
			return nil, fmt.Errorf("flatten case %d: parent chain deeper than %d", leaf.ID, MaxDepth)
		}
		if seen[c.ParentID] {
			return nil, fmt.Errorf("flatten case %d: parent cycle at case %d", leaf.ID, c.ParentID)
		}
		parent, err := lookup(ctx, c.ParentID)
		if err != nil {
			return nil, fmt.Errorf("flatten case %d: parent %d: %w", leaf.ID, c.ParentID, err)
		}
		if parent == nil {
			return nil, fmt.Errorf("flatten case %d: parent %d not found", leaf.ID, c.ParentID)
		}
		seen[parent.ID] = true
		chain = append(chain, parent)
		c = parent
	}

	// Root first so each descendant overwrites its ancestors.
	rec := make(model.Record)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Values {
			rec[k] = v
		}
	}
	return rec, nil
}

// FlattenAll flattens leaves in order.
func FlattenAll(ctx context.Context, leaves []*model.Case, lookup Lookup) ([]model.Record, error) {
	records := make([]model.Record, 0, len(leaves))
	for _, leaf := range leaves {
		rec, err := Flatten(ctx, leaf, lookup)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
