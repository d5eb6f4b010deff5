package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pitabwire/caseview/internal/definition"
	"github.com/pitabwire/caseview/internal/listview"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/model"
)

func testPage(pageSize int) model.PageDefinition {
	return model.PageDefinition{
		ID:               "case-query",
		Title:            "個案查詢",
		PageSize:         pageSize,
		Views:            []model.ViewMode{model.ViewTable, model.ViewGrid},
		SearchableFields: []string{"medical_record_no", "patient_name"},
		Columns: []model.ColumnDefinition{
			{Field: "medical_record_no", Label: "病歷號", Sortable: true},
			{Field: "patient_name", Label: "姓名"},
		},
	}
}

func testRegistry(pageSize int, checksum string) *definition.Registry {
	return definition.NewRegistry([]model.DomainDefinition{{
		Domain:   "cases",
		Checksum: checksum,
		Pages:    []model.PageDefinition{testPage(pageSize)},
	}})
}

type countingSource struct {
	calls atomic.Int32
}

func (s *countingSource) factory(model.PageDefinition) listview.Source {
	return listview.SourceFunc(func(context.Context, model.SearchRequest) ([]model.Record, error) {
		s.calls.Add(1)
		return []model.Record{
			{"medical_record_no": "A001", "patient_name": "陳小明"},
			{"medical_record_no": "A002", "patient_name": "王大同"},
			{"medical_record_no": "A003", "patient_name": "林美玲"},
		}, nil
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingStore struct{}

func (failingStore) Get(context.Context, string, string) (listview.State, bool, error) {
	return listview.State{}, false, errors.New("store down")
}

func (failingStore) Put(context.Context, string, string, listview.State) error {
	return errors.New("store down")
}

func (failingStore) Delete(context.Context, string, string) error {
	return errors.New("store down")
}

func TestManager_AcquireReusesLiveController(t *testing.T) {
	src := &countingSource{}
	m := NewManager(testRegistry(10, "a"), src.factory, NewMemoryStore(time.Hour, 0), time.Hour)
	ctx := context.Background()

	c1, err := m.Acquire(ctx, "s1", "case-query")
	require.NoError(t, err)
	c2, err := m.Acquire(ctx, "s1", "case-query")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	other, err := m.Acquire(ctx, "s2", "case-query")
	require.NoError(t, err)
	assert.NotSame(t, c1, other, "sessions must not share controllers")
	assert.Equal(t, 2, m.Active())
}

func TestManager_AcquireUnknownPage(t *testing.T) {
	src := &countingSource{}
	m := NewManager(testRegistry(10, "a"), src.factory, NewMemoryStore(time.Hour, 0), time.Hour)

	_, err := m.Acquire(context.Background(), "s1", "missing")
	var ee *model.ErrorEnvelope
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, model.ErrNotFound, ee.Code)
}

func TestManager_RestoresPersistedState(t *testing.T) {
	src := &countingSource{}
	store := NewMemoryStore(time.Hour, 0)
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	ctx := context.Background()

	m1 := NewManager(testRegistry(10, "a"), src.factory, store, time.Hour, WithManagerMetrics(metrics))
	c1, err := m1.Acquire(ctx, "s1", "case-query")
	require.NoError(t, err)
	require.NoError(t, c1.Load(ctx))
	require.NoError(t, c1.ApplyFilter(model.FilterCriteria{Keyword: "王"}))
	require.NoError(t, m1.Persist(ctx, "s1", c1))

	// A second manager sharing the store stands in for a restart.
	m2 := NewManager(testRegistry(10, "a"), src.factory, store, time.Hour, WithManagerMetrics(metrics))
	c2, err := m2.Acquire(ctx, "s1", "case-query")
	require.NoError(t, err)

	assert.True(t, c2.Loaded())
	assert.Equal(t, int32(1), src.calls.Load(), "restore must not refetch")
	view := c2.Render()
	require.Len(t, view.Rows, 1)
	assert.Equal(t, "A002", view.Rows[0].Cells[0])
	assert.Equal(t, "王", view.Criteria.Keyword)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionRestoresTotal.WithLabelValues(OriginNew)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionRestoresTotal.WithLabelValues(OriginStore)))
}

func TestManager_StoreFailureStartsFresh(t *testing.T) {
	src := &countingSource{}
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	m := NewManager(testRegistry(10, "a"), src.factory, failingStore{}, time.Hour, WithManagerMetrics(metrics))
	ctx := context.Background()

	ctrl, err := m.Acquire(ctx, "s1", "case-query")
	require.NoError(t, err)
	assert.False(t, ctrl.Loaded())

	assert.Error(t, m.Persist(ctx, "s1", ctrl))
	assert.Error(t, m.Forget(ctx, "s1", "case-query"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionStoreErrors.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionStoreErrors.WithLabelValues("put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionStoreErrors.WithLabelValues("delete")))
}

func TestManager_Forget(t *testing.T) {
	src := &countingSource{}
	store := NewMemoryStore(time.Hour, 0)
	m := NewManager(testRegistry(10, "a"), src.factory, store, time.Hour)
	ctx := context.Background()

	c1, _ := m.Acquire(ctx, "s1", "case-query")
	require.NoError(t, c1.Load(ctx))
	require.NoError(t, m.Persist(ctx, "s1", c1))

	require.NoError(t, m.Forget(ctx, "s1", "case-query"))
	assert.Equal(t, 0, m.Active())
	assert.Equal(t, 0, store.Len())

	c2, _ := m.Acquire(ctx, "s1", "case-query")
	assert.NotSame(t, c1, c2)
	assert.False(t, c2.Loaded())
}

func TestManager_RebuildsOnDefinitionReload(t *testing.T) {
	src := &countingSource{}
	reg := testRegistry(10, "a")
	m := NewManager(reg, src.factory, NewMemoryStore(time.Hour, 0), time.Hour)
	ctx := context.Background()

	c1, _ := m.Acquire(ctx, "s1", "case-query")
	require.NoError(t, c1.Load(ctx))
	require.NoError(t, c1.ApplySort("medical_record_no"))

	reg.Replace([]model.DomainDefinition{{
		Domain:   "cases",
		Checksum: "b",
		Pages:    []model.PageDefinition{testPage(2)},
	}})

	c2, err := m.Acquire(ctx, "s1", "case-query")
	require.NoError(t, err)
	assert.Same(t, c1, c2, "reload rebinds the live controller")
	assert.Equal(t, 2, c2.Page().PageSize)
	assert.True(t, c2.Loaded())

	view := c2.Render()
	assert.Equal(t, 2, view.Pagination.PageCount)
	assert.Equal(t, model.SortSpec{Field: "medical_record_no", Direction: model.SortAsc}, view.Sort)
}

func TestManager_ReloadDuringLoadKeepsResult(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reg := testRegistry(10, "a")
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	sources := func(model.PageDefinition) listview.Source {
		return listview.SourceFunc(func(ctx context.Context, _ model.SearchRequest) ([]model.Record, error) {
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return []model.Record{
				{"medical_record_no": "A001", "patient_name": "陳小明"},
				{"medical_record_no": "A002", "patient_name": "王大同"},
				{"medical_record_no": "A003", "patient_name": "林美玲"},
			}, nil
		})
	}
	m := NewManager(reg, sources, NewMemoryStore(time.Hour, 0), time.Hour)
	ctx := context.Background()

	c1, err := m.Acquire(ctx, "s1", "case-query")
	require.NoError(t, err)
	loadErr := make(chan error, 1)
	go func() { loadErr <- c1.Load(ctx) }()
	<-started

	reg.Replace([]model.DomainDefinition{{
		Domain:   "cases",
		Checksum: "b",
		Pages:    []model.PageDefinition{testPage(2)},
	}})
	c2, err := m.Acquire(ctx, "s1", "case-query")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	close(release)
	require.NoError(t, <-loadErr)

	live, err := m.Acquire(ctx, "s1", "case-query")
	require.NoError(t, err)
	require.True(t, live.Loaded(), "the load finished before the reload must stay visible")
	view := live.Render()
	assert.Len(t, view.Rows, 2)
	assert.Equal(t, 2, view.Pagination.PageCount)
	assert.Equal(t, 3, view.Pagination.SourceTotal)
}

func TestManager_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	src := &countingSource{}
	store := NewMemoryStore(time.Hour, 0)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(testRegistry(10, "a"), src.factory, store, time.Hour,
		WithMaxLive(2), WithManagerClock(clock.Now))
	ctx := context.Background()

	c1, _ := m.Acquire(ctx, "s1", "case-query")
	clock.Advance(time.Minute)
	c2, _ := m.Acquire(ctx, "s2", "case-query")
	require.NoError(t, c2.Load(ctx))
	require.NoError(t, c2.ApplyFilter(model.FilterCriteria{Keyword: "王"}))
	clock.Advance(time.Minute)
	again, _ := m.Acquire(ctx, "s1", "case-query")
	require.Same(t, c1, again)
	clock.Advance(time.Minute)

	// s2 is now the least recently used and makes room for s3.
	_, _ = m.Acquire(ctx, "s3", "case-query")
	assert.Equal(t, 2, m.Active())
	assert.Equal(t, 1, store.Len(), "the evicted controller is persisted")

	restored, err := m.Acquire(ctx, "s2", "case-query")
	require.NoError(t, err)
	assert.NotSame(t, c2, restored)
	assert.True(t, restored.Loaded())
	assert.Equal(t, "王", restored.Render().Criteria.Keyword)
	assert.Equal(t, int32(1), src.calls.Load(), "restore after eviction must not refetch")
	assert.Equal(t, 2, m.Active())

	for i := range 500 {
		clock.Advance(time.Second)
		_, _ = m.Acquire(ctx, fmt.Sprintf("bulk-%d", i), "case-query")
	}
	assert.Equal(t, 2, m.Active())
}

func TestManager_Sweep(t *testing.T) {
	src := &countingSource{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(testRegistry(10, "a"), src.factory, NewMemoryStore(time.Hour, 0), 10*time.Minute,
		WithManagerClock(clock.Now))
	ctx := context.Background()

	_, _ = m.Acquire(ctx, "s1", "case-query")
	clock.Advance(6 * time.Minute)
	_, _ = m.Acquire(ctx, "s2", "case-query")
	clock.Advance(6 * time.Minute)

	if got := m.Sweep(); got != 1 {
		t.Errorf("Sweep = %d, want 1", got)
	}
	if got := m.Active(); got != 1 {
		t.Errorf("Active = %d, want 1", got)
	}
}

func TestManager_ConcurrentAcquireSharesController(t *testing.T) {
	src := &countingSource{}
	m := NewManager(testRegistry(10, "a"), src.factory, NewMemoryStore(time.Hour, 0), time.Hour)
	ctx := context.Background()

	const n = 16
	got := make([]*listview.Controller, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], _ = m.Acquire(ctx, "s1", "case-query")
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatalf("Acquire #%d returned a different controller", i)
		}
	}
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := &countingSource{}
	m := NewManager(testRegistry(10, "a"), src.factory, NewMemoryStore(time.Hour, 0), time.Nanosecond)
	_, _ = m.Acquire(context.Background(), "s1", "case-query")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
