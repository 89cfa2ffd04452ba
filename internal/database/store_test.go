package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// newSQLiteStore opens an in-memory store. One connection max, otherwise
// every pooled connection would see its own empty database.
func newSQLiteStore(t *testing.T) core.RecordStore {
	t.Helper()
	store, err := NewStore(config.DatabaseConfig{
		Driver:         "sqlite3",
		DSN:            ":memory:",
		MaxConnections: 1,
		MaxIdleConns:   1,
	}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertTargetInsertThenUpdate(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	target := &types.Target{
		Name: "www.example.com", Type: "DOMAIN", Scope: types.ScopeExternal,
		Tag: "web", Owner: "web-team", LastDate: time.Now().UTC(),
	}
	created, inserted, err := store.UpsertTarget(ctx, target)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, created.ID)

	target.Owner = "platform-team"
	updated, inserted, err := store.UpsertTarget(ctx, target)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, created.ID, updated.ID)

	got, err := store.FindTarget(ctx, types.ScopeExternal, "www.example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "platform-team", got.Owner)

	// Same name in the other scope is a distinct row.
	other := &types.Target{
		Name: "www.example.com", Type: "DOMAIN", Scope: types.ScopeInternal,
		Tag: "lan", LastDate: time.Now().UTC(),
	}
	_, inserted, err = store.UpsertTarget(ctx, other)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestFindLinkedHostsByNameOrRedirect(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	direct := &types.HostRecord{Name: "www.example.com", Scope: types.ScopeExternal, LastDate: now}
	redirect := &types.HostRecord{Name: "198.51.100.4", NName: "www.example.com", Scope: types.ScopeExternal, LastDate: now}
	unrelated := &types.HostRecord{Name: "other.example.com", Scope: types.ScopeExternal, LastDate: now}
	for _, h := range []*types.HostRecord{direct, redirect, unrelated} {
		_, _, err := store.UpsertHost(ctx, h)
		require.NoError(t, err)
	}

	linked, err := store.FindLinkedHosts(ctx, types.ScopeExternal, "www.example.com")
	require.NoError(t, err)
	require.Len(t, linked, 2)
}

func TestReplaceServicesAndCascade(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	host := &types.HostRecord{Name: "www.example.com", Scope: types.ScopeExternal, LastDate: time.Now().UTC()}
	created, _, err := store.UpsertHost(ctx, host)
	require.NoError(t, err)

	services := []types.Service{
		{Port: "22", State: "open", Protocol: "tcp", Name: "ssh", Version: "OpenSSH 8.9"},
		{Port: "80", State: "open", Protocol: "tcp", Name: "http", Version: "nginx"},
	}
	require.NoError(t, store.ReplaceServices(ctx, created.ID, services))

	got, err := store.ListServices(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, services, got)

	// Replacement fully swaps the set.
	require.NoError(t, store.ReplaceServices(ctx, created.ID, services[:1]))
	got, err = store.ListServices(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Deleting the host removes its service rows.
	require.NoError(t, store.DeleteHosts(ctx, []types.HostRecord{*created}))
	got, err = store.ListServices(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListFindingsFilters(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(vuln string, tfp types.TriageStatus, bump time.Time) {
		_, _, err := store.UpsertFinding(ctx, &types.VulnFinding{
			Name: "www.example.com", Vulnerability: vuln, TFP: tfp,
			Level: types.SeverityMedium, Scope: types.ScopeExternal,
			DetectionDate: now.Add(-time.Hour), FirstDate: now.Add(-time.Hour),
			BumpDate: bump, LastDate: now,
		})
		require.NoError(t, err)
	}
	mk("v-unset", types.TriageUnset, now.Add(-time.Hour))
	mk("v-true", types.TriageTruePositive, now.Add(time.Hour))
	mk("v-false", types.TriageFalsePositive, now.Add(time.Hour))

	rows, err := store.ListFindings(ctx, core.FindingFilter{
		Statuses: []types.TriageStatus{types.TriageTruePositive, types.TriageFalsePositive},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	overdue, err := store.ListFindings(ctx, core.FindingFilter{BumpBefore: &now})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "v-unset", overdue[0].Vulnerability)
}

func TestSearchFindingsSubstring(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f := &types.VulnFinding{
		Name: "www.example.com", Vulnerability: "exposed-admin-panel",
		Level: types.SeverityHigh, Scope: types.ScopeExternal,
		DetectionDate: now, FirstDate: now, BumpDate: now, LastDate: now,
	}
	f.SetURI("https://www.example.com/admin/console")
	_, _, err := store.UpsertFinding(ctx, f)
	require.NoError(t, err)

	rows, err := store.SearchFindings(ctx, "admin", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = store.SearchFindings(ctx, "nomatch", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSaveJobUpsertsByName(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	job := &types.Job{Name: "scan-web", Module: "nuclei", Regexp: `\.example\.com$`}
	require.NoError(t, store.SaveJob(ctx, job))
	firstID := job.ID

	job.Module = "httpx"
	require.NoError(t, store.SaveJob(ctx, job))
	assert.Equal(t, firstID, job.ID)

	got, err := store.GetJob(ctx, "scan-web")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "httpx", got.Module)

	list, err := store.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteJob(ctx, "scan-web"))
	got, err = store.GetJob(ctx, "scan-web")
	require.NoError(t, err)
	assert.Nil(t, got)
}
