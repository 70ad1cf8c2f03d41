// Package reconcile moves a context's collection schema to a requested shape
// with one ordered batch of host operations.
package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/protocol"
	"github.com/zot/codata/internal/transport"
)

// Step names the purpose of one request in a plan.
type Step string

const (
	StepDeleteCases       Step = "deleteAllCases"
	StepCreatePlaceholder Step = "createPlaceholder"
	StepDeleteCollection  Step = "deleteCollection"
	StepCreateRequested   Step = "createCollections"
	StepDeletePlaceholder Step = "deletePlaceholder"
	StepInsertItems       Step = "insertItems"
)

// Plan is the ordered list of requests that replaces a context's schema and
// data. Steps[i] describes Requests[i].
type Plan struct {
	Context       string
	SchemaChanged bool
	Placeholder   string
	Requests      []protocol.Request
	Steps         []Step
}

func (p *Plan) add(step Step, req protocol.Request) {
	p.Steps = append(p.Steps, step)
	p.Requests = append(p.Requests, req)
}

// Build computes the plan. When the normalized requested collections equal
// current, only the items are inserted. Otherwise the plan clears every
// current collection's cases, swaps the collections out through a
// placeholder (a context may never have zero collections), and then inserts
// the items.
func Build(contextName string, current, requested []model.Collection, items []model.Record) *Plan {
	requested = model.NormalizeCollections(requested)
	p := &Plan{Context: contextName}
	if model.EqualCollections(current, requested) {
		p.add(StepInsertItems, protocol.CreateItems(contextName, items))
		return p
	}

	p.SchemaChanged = true
	p.Placeholder = PlaceholderName(current, requested)
	for _, c := range current {
		p.add(StepDeleteCases, protocol.DeleteAllCases(contextName, c.Name))
	}
	placeholder := model.Collection{Name: p.Placeholder}.Normalize()
	p.add(StepCreatePlaceholder, protocol.CreateCollections(contextName, []model.Collection{placeholder}))
	for _, c := range current {
		p.add(StepDeleteCollection, protocol.DeleteCollection(contextName, c.Name))
	}
	p.add(StepCreateRequested, protocol.CreateCollections(contextName, requested))
	p.add(StepDeletePlaceholder, protocol.DeleteCollection(contextName, p.Placeholder))
	p.add(StepInsertItems, protocol.CreateItems(contextName, items))
	return p
}

// PlaceholderName concatenates every current and requested collection name.
// If that is empty or still collides with one of them, a numeric suffix is
// appended until it does not.
func PlaceholderName(current, requested []model.Collection) string {
	taken := make(map[string]bool, len(current)+len(requested))
	var sb strings.Builder
	for _, list := range [][]model.Collection{current, requested} {
		for _, c := range list {
			taken[c.Name] = true
			sb.WriteString(c.Name)
		}
	}
	base := sb.String()
	if base != "" && !taken[base] {
		return base
	}
	if base == "" {
		base = "placeholder"
	}
	for i := 1; ; i++ {
		name := base + "_" + strconv.Itoa(i)
		if !taken[name] {
			return name
		}
	}
}

// ReconcileError reports that a reconciliation batch did not fully succeed.
// Some steps may have been applied remotely.
type ReconcileError struct {
	Context string
	Err     error
}

func (e *ReconcileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to update collections of %s: %v", e.Context, e.Err)
	}
	return fmt.Sprintf("failed to update collections of %s", e.Context)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// Reconcile builds the plan and submits it as one ordered batch. Any
// unsuccessful response produces a single *ReconcileError.
func Reconcile(ctx context.Context, caller transport.Caller, contextName string, current, requested []model.Collection, items []model.Record) (*Plan, error) {
	p := Build(contextName, current, requested, items)
	return p, p.Submit(ctx, caller)
}

// Submit sends the plan's requests as one batch and checks every response
// once they have all arrived.
func (p *Plan) Submit(ctx context.Context, caller transport.Caller) error {
	resps, err := caller.Call(ctx, p.Requests)
	if err != nil {
		return &ReconcileError{Context: p.Context, Err: err}
	}
	if err := transport.CheckCount(p.Requests, resps); err != nil {
		return &ReconcileError{Context: p.Context, Err: err}
	}
	for _, r := range resps {
		if !r.Success {
			return &ReconcileError{Context: p.Context}
		}
	}
	return nil
}
