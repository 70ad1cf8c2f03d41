package client

import (
	"context"
	"fmt"

	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/protocol"
	"github.com/zot/codata/internal/reconcile"
)

// CreateContext creates a context with its collections.
func (c *Client) CreateContext(ctx context.Context, dc *model.Context) error {
	if err := dc.Validate(); err != nil {
		return &OperationError{Op: "create", Target: contextTarget(dc.Name), Err: err}
	}
	create := *dc
	create.Collections = model.NormalizeCollections(dc.Collections)
	if _, err := c.call(ctx, "create", contextTarget(dc.Name), protocol.CreateContext(&create)); err != nil {
		return err
	}
	c.cache.InvalidateContext(dc.Name)
	return nil
}

// UpdateContext changes a context's title.
func (c *Client) UpdateContext(ctx context.Context, name, title string) error {
	if _, err := c.call(ctx, "update", contextTarget(name), protocol.UpdateContext(name, title)); err != nil {
		return err
	}
	c.cache.InvalidateContext(name)
	return nil
}

// DeleteContext removes a context.
func (c *Client) DeleteContext(ctx context.Context, name string) error {
	_, err := c.call(ctx, "delete", contextTarget(name), protocol.DeleteContext(name))
	// The context may be gone even if the reply was lost.
	c.cache.InvalidateContext(name)
	return err
}

// InsertItems adds flat records; the host splits them into cases. It returns
// the ids of the new items when the host reports them.
func (c *Client) InsertItems(ctx context.Context, name string, items []model.Record) ([]int64, error) {
	target := fmt.Sprintf("items of context %q", name)
	resp, err := c.call(ctx, "create", target, protocol.CreateItems(name, items))
	if err != nil {
		return nil, err
	}
	c.cache.InvalidateRecords(name)
	var ids protocol.CreatedIDs
	if len(resp.Values) > 0 && resp.Decode(&ids) == nil {
		if len(ids.ItemIDs) > 0 {
			return ids.ItemIDs, nil
		}
		return ids.IDs, nil
	}
	return nil, nil
}

// UpdateCase replaces values of one case.
func (c *Client) UpdateCase(ctx context.Context, name string, id int64, values map[string]any) error {
	_, err := c.call(ctx, "update", caseTarget(name, id), protocol.UpdateCaseByID(name, id, values))
	c.cache.InvalidateCase(id)
	c.cache.InvalidateRecords(name)
	return err
}

// DeleteCase removes one case and its descendants.
func (c *Client) DeleteCase(ctx context.Context, name string, id int64) error {
	_, err := c.call(ctx, "delete", caseTarget(name, id), protocol.DeleteCaseByID(name, id))
	c.cache.InvalidateCase(id)
	c.cache.InvalidateRecords(name)
	return err
}

// DeleteAllCases removes every case of one collection.
func (c *Client) DeleteAllCases(ctx context.Context, name, collection string) error {
	target := fmt.Sprintf("cases of collection %q in context %q", collection, name)
	_, err := c.call(ctx, "delete", target, protocol.DeleteAllCases(name, collection))
	c.cache.InvalidateRecords(name)
	return err
}

// ReplaceCollections makes the context's collections equal to requested and
// inserts items. If the schema already matches, only the items are inserted.
// The steps are not atomic: after an error, any prefix of them may have been
// applied, so the cached schema is dropped either way.
func (c *Client) ReplaceCollections(ctx context.Context, name string, requested []model.Collection, items []model.Record) error {
	dc, err := c.GetContext(ctx, name)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	plan := reconcile.Build(name, dc.Collections, requested, items)
	c.logger.Debug("reconcile", "context", name, "schemaChanged", plan.SchemaChanged, "steps", len(plan.Requests))
	err = plan.Submit(ctx, c.caller)
	if plan.SchemaChanged {
		c.cache.InvalidateContext(name)
	} else {
		c.cache.InvalidateRecords(name)
	}
	return err
}
