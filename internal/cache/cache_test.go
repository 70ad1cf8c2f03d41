package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zot/codata/internal/model"
)

func TestSetGetInvalidate(t *testing.T) {
	c := New()

	_, ok := c.GetContext("a")
	assert.False(t, ok, "never-set key must be absent")

	ctxA := &model.Context{Name: "a"}
	c.SetContext("a", ctxA)
	got, ok := c.GetContext("a")
	require.True(t, ok)
	assert.Same(t, ctxA, got)

	c.InvalidateContext("a")
	_, ok = c.GetContext("a")
	assert.False(t, ok)

	kase := &model.Case{ID: 5}
	c.SetCase(5, kase)
	got5, ok := c.GetCase(5)
	require.True(t, ok)
	assert.Same(t, kase, got5)
	c.InvalidateCase(5)
	_, ok = c.GetCase(5)
	assert.False(t, ok)

	c.SetRecords("a", []model.Record{{"x": 1}})
	recs, ok := c.GetRecords("a")
	require.True(t, ok)
	assert.Len(t, recs, 1)
	c.InvalidateRecords("a")
	_, ok = c.GetRecords("a")
	assert.False(t, ok)
}

func TestSetOverwrites(t *testing.T) {
	c := New()
	c.SetContext("a", &model.Context{Name: "a", Title: "one"})
	c.SetContext("a", &model.Context{Name: "a", Title: "two"})
	got, _ := c.GetContext("a")
	assert.Equal(t, "two", got.Title)
}

func TestContextInvalidationDropsRecords(t *testing.T) {
	c := New()
	c.SetContext("a", &model.Context{Name: "a"})
	c.SetRecords("a", []model.Record{{"x": 1}})
	c.SetRecords("b", []model.Record{{"y": 2}})

	c.InvalidateContext("a")

	_, ok := c.GetRecords("a")
	assert.False(t, ok, "record set must be dropped with its schema")
	_, ok = c.GetRecords("b")
	assert.True(t, ok, "other contexts are untouched")
}

func TestRecordInvalidationKeepsSchema(t *testing.T) {
	c := New()
	c.SetContext("a", &model.Context{Name: "a"})
	c.SetRecords("a", []model.Record{{"x": 1}})

	c.InvalidateRecords("a")

	_, ok := c.GetContext("a")
	assert.True(t, ok)
}

func TestCaseInvalidationDoesNotCascade(t *testing.T) {
	c := New()
	c.SetCase(1, &model.Case{ID: 1})
	c.SetCase(2, &model.Case{ID: 2})
	c.SetRecords("a", []model.Record{{"x": 1}})

	c.InvalidateCase(1)

	_, ok := c.GetCase(2)
	assert.True(t, ok)
	_, ok = c.GetRecords("a")
	assert.True(t, ok)
}

func TestLoadContextFetchesOnceThenHits(t *testing.T) {
	c := New()
	var calls atomic.Int32
	fetch := func(context.Context) (*model.Context, error) {
		calls.Add(1)
		return &model.Context{Name: "a"}, nil
	}

	for range 3 {
		v, err := c.LoadContext(context.Background(), "a", fetch)
		require.NoError(t, err)
		assert.Equal(t, "a", v.Name)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoadErrorIsNotCached(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	_, err := c.LoadCase(context.Background(), 9, func(context.Context) (*model.Case, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.GetCase(9)
	assert.False(t, ok)
}

func TestConcurrentLoadsCollapse(t *testing.T) {
	c := New()
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (*model.Case, error) {
		calls.Add(1)
		<-release
		return &model.Case{ID: 7}, nil
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.LoadCase(context.Background(), 7, fetch)
			assert.NoError(t, err)
			assert.Equal(t, int64(7), v.ID)
		}()
	}
	// Give the goroutines time to join the in-flight fetch.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

// A caller whose deadline expires stops waiting, but the shared fetch keeps
// running for the callers that joined it.
func TestJoinedLoadSurvivesFirstCallerDeadline(t *testing.T) {
	c := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context) (*model.Context, error) {
		calls.Add(1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &model.Context{Name: "m"}, nil
	}

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.LoadContext(short, "m", fetch)
		firstErr <- err
	}()
	<-started

	second := make(chan error, 1)
	var got *model.Context
	go func() {
		v, err := c.LoadContext(context.Background(), "m", fetch)
		got = v
		second <- err
	}()

	assert.ErrorIs(t, <-firstErr, context.DeadlineExceeded)
	close(release)
	require.NoError(t, <-second)
	assert.Equal(t, "m", got.Name)
	assert.Equal(t, int32(1), calls.Load())

	cached, ok := c.GetContext("m")
	require.True(t, ok, "the shared result is cached")
	assert.Equal(t, "m", cached.Name)
}

func TestCaseBatchDroppedAfterInvalidation(t *testing.T) {
	c := New()
	epoch := c.CaseEpoch()
	c.InvalidateCase(10)
	assert.False(t, c.StoreCasesIfCurrent([]*model.Case{{ID: 10}, {ID: 11}}, epoch))
	_, ok := c.GetCase(10)
	assert.False(t, ok)
	_, ok = c.GetCase(11)
	assert.False(t, ok)

	epoch = c.CaseEpoch()
	assert.True(t, c.StoreCasesIfCurrent([]*model.Case{{ID: 10}}, epoch))
	_, ok = c.GetCase(10)
	assert.True(t, ok)
}

// An invalidation processed between the fetch completing and the result
// being stored must win over the late result.
func TestInvalidationDuringFetchIsNotOverwritten(t *testing.T) {
	c := New()
	fetched := make(chan struct{})
	proceed := make(chan struct{})

	done := make(chan *model.Context)
	go func() {
		v, err := c.LoadContext(context.Background(), "a", func(context.Context) (*model.Context, error) {
			close(fetched)
			<-proceed
			return &model.Context{Name: "a", Title: "stale"}, nil
		})
		assert.NoError(t, err)
		done <- v
	}()

	<-fetched
	c.InvalidateContext("a")
	close(proceed)

	v := <-done
	assert.Equal(t, "stale", v.Title, "the caller still receives the fetched value")
	_, ok := c.GetContext("a")
	assert.False(t, ok, "the stale result must not be cached")
}

// Plain Set keeps the original last-write-wins behavior: a Set that lands
// after an invalidation is treated as fresh.
func TestPlainSetAfterInvalidationWins(t *testing.T) {
	c := New()
	c.InvalidateContext("a")
	c.SetContext("a", &model.Context{Name: "a", Title: "late"})
	got, ok := c.GetContext("a")
	require.True(t, ok)
	assert.Equal(t, "late", got.Title)
}

func TestLoadRecordsRespectsContextInvalidation(t *testing.T) {
	c := New()
	fetched := make(chan struct{})
	proceed := make(chan struct{})
	errc := make(chan error)
	go func() {
		_, err := c.LoadRecords(context.Background(), "a", func(context.Context) ([]model.Record, error) {
			close(fetched)
			<-proceed
			return []model.Record{{"x": 1}}, nil
		})
		errc <- err
	}()

	<-fetched
	c.InvalidateContext("a")
	close(proceed)
	require.NoError(t, <-errc)

	_, ok := c.GetRecords("a")
	assert.False(t, ok)
}

func TestSnapshotAndClear(t *testing.T) {
	c := New()
	c.SetContext("b", &model.Context{Name: "b"})
	c.SetContext("a", &model.Context{Name: "a"})
	c.SetCase(3, &model.Case{ID: 3})
	c.SetCase(1, &model.Case{ID: 1})
	c.SetRecords("a", nil)

	s := c.Snapshot()
	assert.Equal(t, []string{"a", "b"}, s.Contexts)
	assert.Equal(t, []string{"a"}, s.Records)
	assert.Equal(t, []int64{1, 3}, s.Cases)

	c.Clear()
	s = c.Snapshot()
	assert.Empty(t, s.Contexts)
	assert.Empty(t, s.Records)
	assert.Empty(t, s.Cases)
}
