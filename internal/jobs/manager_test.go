package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/internal/storetest"
	"github.com/edgewatch/edgewatch/pkg/types"
)

type fakeQueue struct {
	scheduled   []string
	unscheduled []string
}

func (q *fakeQueue) Schedule(ctx context.Context, job *types.Job) error {
	q.scheduled = append(q.scheduled, job.Name)
	return nil
}

func (q *fakeQueue) Unschedule(ctx context.Context, name string) error {
	q.unscheduled = append(q.unscheduled, name)
	return nil
}

func (q *fakeQueue) Pending(ctx context.Context) ([]types.Job, error) { return nil, nil }
func (q *fakeQueue) Close() error                                     { return nil }

func newTestManager(store *storetest.Store) (*Manager, *fakeQueue) {
	queue := &fakeQueue{}
	return NewManager(store, queue, nil, logger.NewNop()), queue
}

func TestCreateValidatesSelectors(t *testing.T) {
	m, _ := newTestManager(storetest.New())
	ctx := context.Background()

	err := m.Create(ctx, &types.Job{Name: "scan-web", Module: "nuclei", Regexp: `\.example\.com$`})
	require.NoError(t, err)

	err = m.Create(ctx, &types.Job{Name: "bad", Module: "nuclei", Regexp: `([`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid regexp selector")

	err = m.Create(ctx, &types.Job{Module: "nuclei"})
	require.Error(t, err)
}

func TestUnknownJobAborts(t *testing.T) {
	m, _ := newTestManager(storetest.New())
	ctx := context.Background()

	err := m.Schedule(ctx, "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = m.Select(ctx, "ghost", types.ScopeExternal)
	require.Error(t, err)

	err = m.Delete(ctx, "ghost")
	require.Error(t, err)
}

func TestSelectAppliesRegexpAndExclude(t *testing.T) {
	store := storetest.New()
	m, _ := newTestManager(store)
	ctx := context.Background()

	for _, name := range []string{"api.example.com", "www.example.com", "staging.example.com", "other.example.org"} {
		_, _, err := store.UpsertTarget(ctx, &types.Target{
			Name: name, Scope: types.ScopeExternal, Tag: "web", LastDate: time.Now(),
		})
		require.NoError(t, err)
	}
	require.NoError(t, m.Create(ctx, &types.Job{
		Name:    "scan-prod",
		Module:  "nuclei",
		Regexp:  `\.example\.com$`,
		Exclude: `^staging\.`,
	}))

	names, err := m.Select(ctx, "scan-prod", types.ScopeExternal)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"api.example.com", "www.example.com"}, names)
}

func TestDeleteUnschedulesFirst(t *testing.T) {
	store := storetest.New()
	m, queue := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, &types.Job{Name: "scan-web", Module: "nuclei"}))
	require.NoError(t, m.Schedule(ctx, "scan-web"))
	require.NoError(t, m.Delete(ctx, "scan-web"))

	assert.Equal(t, []string{"scan-web"}, queue.scheduled)
	assert.Equal(t, []string{"scan-web"}, queue.unscheduled)

	jobs, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
