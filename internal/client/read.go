package client

import (
	"context"
	"fmt"

	"github.com/zot/codata/internal/flatten"
	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/protocol"
)

// ListContexts reads the host's context listing. It is not cached.
func (c *Client) ListContexts(ctx context.Context) ([]model.ContextInfo, error) {
	const target = "context list"
	resp, err := c.call(ctx, "get", target, protocol.GetContextList())
	if err != nil {
		return nil, err
	}
	var infos []model.ContextInfo
	if err := decode("get", target, resp, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// GetContext returns a context schema, from the cache when possible.
func (c *Client) GetContext(ctx context.Context, name string) (*model.Context, error) {
	return c.cache.LoadContext(ctx, name, func(ctx context.Context) (*model.Context, error) {
		target := contextTarget(name)
		resp, err := c.call(ctx, "get", target, protocol.GetContext(name))
		if err != nil {
			return nil, err
		}
		var dc model.Context
		if err := decode("get", target, resp, &dc); err != nil {
			return nil, err
		}
		if dc.Name == "" {
			dc.Name = name
		}
		return &dc, nil
	})
}

// GetCase returns one case, from the cache when possible.
func (c *Client) GetCase(ctx context.Context, contextName string, id int64) (*model.Case, error) {
	return c.cache.LoadCase(ctx, id, func(ctx context.Context) (*model.Case, error) {
		target := caseTarget(contextName, id)
		resp, err := c.call(ctx, "get", target, protocol.GetCaseByID(contextName, id))
		if err != nil {
			return nil, err
		}
		var cv protocol.CaseValues
		if err := decode("get", target, resp, &cv); err != nil {
			return nil, err
		}
		if cv.Case.ID == 0 {
			cv.Case.ID = id
		}
		return &cv.Case, nil
	})
}

// GetCollectionCases reads every case of one collection. The listing is not
// cached, but each case it returns is stored in the case cache unless a case
// invalidation arrived while the listing was in flight.
func (c *Client) GetCollectionCases(ctx context.Context, contextName, collection string) ([]*model.Case, error) {
	target := fmt.Sprintf("cases of collection %q in context %q", collection, contextName)
	epoch := c.cache.CaseEpoch()
	resp, err := c.call(ctx, "get", target, protocol.GetAllCases(contextName, collection))
	if err != nil {
		return nil, err
	}
	var listing protocol.CollectionCases
	if err := decode("get", target, resp, &listing); err != nil {
		return nil, err
	}
	cases := make([]*model.Case, len(listing.Cases))
	for i := range listing.Cases {
		kase := listing.Cases[i].Case
		if kase.Collection == "" {
			kase.Collection = collection
		}
		cases[i] = &kase
	}
	c.cache.StoreCasesIfCurrent(cases, epoch)
	return cases, nil
}

// GetData returns the flattened records of a context's leaf collection, from
// the cache when possible.
func (c *Client) GetData(ctx context.Context, name string) ([]model.Record, error) {
	return c.cache.LoadRecords(ctx, name, func(ctx context.Context) ([]model.Record, error) {
		dc, err := c.GetContext(ctx, name)
		if err != nil {
			return nil, err
		}
		leaf := dc.Leaf()
		if leaf == nil {
			return []model.Record{}, nil
		}
		leaves, err := c.GetCollectionCases(ctx, name, leaf.Name)
		if err != nil {
			return nil, err
		}
		return flatten.FlattenAll(ctx, leaves, func(ctx context.Context, id int64) (*model.Case, error) {
			return c.GetCase(ctx, name, id)
		})
	})
}
