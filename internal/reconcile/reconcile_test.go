package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/path"
	"github.com/zot/codata/internal/protocol"
	"github.com/zot/codata/internal/transport"
)

func colls(names ...string) []model.Collection {
	out := make([]model.Collection, len(names))
	for i, name := range names {
		out[i] = model.Collection{Name: name, Attrs: []model.Attribute{{Name: name + "Attr"}}}
	}
	return out
}

// recordingCaller answers every request, failing the ones listed in fail.
type recordingCaller struct {
	batches [][]protocol.Request
	fail    map[int]bool
	err     error
}

func (c *recordingCaller) Call(ctx context.Context, reqs []protocol.Request) ([]protocol.Response, error) {
	c.batches = append(c.batches, reqs)
	if c.err != nil {
		return nil, c.err
	}
	resps := make([]protocol.Response, len(reqs))
	for i := range reqs {
		if c.fail[i] {
			resps[i] = protocol.Failure("step %d failed", i)
		} else {
			resps[i] = protocol.Success(nil)
		}
	}
	return resps, nil
}

func TestEqualSchemaOnlyInserts(t *testing.T) {
	current := model.NormalizeCollections(colls("people", "visits"))
	// Requested without defaults filled; normalization makes them equal.
	requested := colls("people", "visits")

	p := Build("ctx", current, requested, []model.Record{{"a": 1}})
	assert.False(t, p.SchemaChanged)
	require.Len(t, p.Requests, 1)
	assert.Equal(t, []Step{StepInsertItems}, p.Steps)
	assert.Equal(t, protocol.ActionCreate, p.Requests[0].Action)
	assert.Equal(t, "dataContext[ctx].item", p.Requests[0].Resource)
}

func TestChangedSchemaOrder(t *testing.T) {
	current := model.NormalizeCollections(colls("a", "b"))
	requested := colls("x", "y", "z")

	p := Build("ctx", current, requested, nil)
	require.True(t, p.SchemaChanged)

	assert.Equal(t, []Step{
		StepDeleteCases, StepDeleteCases,
		StepCreatePlaceholder,
		StepDeleteCollection, StepDeleteCollection,
		StepCreateRequested,
		StepDeletePlaceholder,
		StepInsertItems,
	}, p.Steps)

	want := []struct {
		action   protocol.Action
		resource string
	}{
		{protocol.ActionDelete, "dataContext[ctx].collection[a].allCases"},
		{protocol.ActionDelete, "dataContext[ctx].collection[b].allCases"},
		{protocol.ActionCreate, "dataContext[ctx].collection"},
		{protocol.ActionDelete, "dataContext[ctx].collection[a]"},
		{protocol.ActionDelete, "dataContext[ctx].collection[b]"},
		{protocol.ActionCreate, "dataContext[ctx].collection"},
		{protocol.ActionDelete, "dataContext[ctx].collection[" + p.Placeholder + "]"},
		{protocol.ActionCreate, "dataContext[ctx].item"},
	}
	require.Len(t, p.Requests, len(want))
	for i, w := range want {
		assert.Equal(t, w.action, p.Requests[i].Action, "step %d", i)
		assert.Equal(t, w.resource, p.Requests[i].Resource, "step %d", i)
		_, err := path.Parse(p.Requests[i].Resource)
		assert.NoError(t, err, "step %d", i)
	}

	var placeholder []model.Collection
	require.NoError(t, (&protocol.Response{Values: p.Requests[2].Values}).Decode(&placeholder))
	require.Len(t, placeholder, 1)
	assert.Equal(t, p.Placeholder, placeholder[0].Name)

	var created []model.Collection
	require.NoError(t, (&protocol.Response{Values: p.Requests[5].Values}).Decode(&created))
	assert.Equal(t, []string{"x", "y", "z"}, model.CollectionNames(created))
	assert.Equal(t, "x", created[0].Title, "requested collections are normalized")

	assert.JSONEq(t, `[]`, string(p.Requests[7].Values))
}

func TestReorderIsAChange(t *testing.T) {
	current := model.NormalizeCollections(colls("a", "b"))
	p := Build("ctx", current, colls("b", "a"), nil)
	assert.True(t, p.SchemaChanged)
}

func TestPlaceholderNeverCollides(t *testing.T) {
	tests := []struct {
		name      string
		current   []string
		requested []string
	}{
		{"distinct", []string{"a", "b"}, []string{"c"}},
		{"concat collides with requested", []string{"a", "b"}, []string{"ab"}},
		{"concat collides with current", []string{"ab", ""}, []string{}},
		{"empty names and placeholder", []string{""}, []string{"placeholder"}},
		{"everything empty", nil, nil},
		{"single empty name", []string{""}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := make([]model.Collection, len(tt.current))
			for i, n := range tt.current {
				current[i].Name = n
			}
			requested := make([]model.Collection, len(tt.requested))
			for i, n := range tt.requested {
				requested[i].Name = n
			}
			name := PlaceholderName(current, requested)
			assert.NotEmpty(t, name)
			for _, c := range append(current, requested...) {
				assert.NotEqual(t, c.Name, name)
			}
		})
	}
	assert.Equal(t, "abc", PlaceholderName(colls("a", "b"), colls("c")))
}

func TestPartialFailureIsOneAggregateError(t *testing.T) {
	current := model.NormalizeCollections(colls("a"))
	caller := &recordingCaller{fail: map[int]bool{2: true}}

	p, err := Reconcile(context.Background(), caller, "ctx", current, colls("x"), []model.Record{{"x": 1}})
	require.Error(t, err)
	require.Len(t, p.Requests, 6)
	require.Len(t, caller.batches, 1, "the plan is submitted as one batch")
	assert.Len(t, caller.batches[0], 6)

	var rerr *ReconcileError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ctx", rerr.Context)
	assert.Nil(t, rerr.Err, "no per-step detail")
	assert.Equal(t, "failed to update collections of ctx", err.Error())
}

func TestTransportErrorNamesContext(t *testing.T) {
	boom := errors.New("disconnected")
	caller := &recordingCaller{err: boom}

	_, err := Reconcile(context.Background(), caller, "ctx", nil, colls("x"), nil)
	var rerr *ReconcileError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ctx", rerr.Context)
	assert.ErrorIs(t, err, boom)
}

func TestCountMismatchIsReconcileError(t *testing.T) {
	caller := transport.CallerFunc(func(ctx context.Context, reqs []protocol.Request) ([]protocol.Response, error) {
		return []protocol.Response{protocol.Success(nil)}, nil
	})
	_, err := Reconcile(context.Background(), caller, "ctx", nil, colls("x"), nil)
	var mismatch *transport.CountMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestSuccessfulReconcile(t *testing.T) {
	caller := &recordingCaller{}
	_, err := Reconcile(context.Background(), caller, "ctx", model.NormalizeCollections(colls("a")), colls("a"), nil)
	require.NoError(t, err)
	assert.Len(t, caller.batches[0], 1)
}
