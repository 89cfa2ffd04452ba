package vulns

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

func newTestManager(store *storetest.Store, sink *storetest.Sink) *Manager {
	return NewManager(store, sink, nil, logger.NewNop())
}

func TestBumpFor(t *testing.T) {
	tests := []struct {
		level types.Severity
		scope types.Scope
		code  string
		hours int
	}{
		{types.SeverityCritical, types.ScopeExternal, "P0E", 72},
		{types.SeverityCritical, types.ScopeInternal, "P1I", 336},
		{types.SeverityHigh, types.ScopeExternal, "P1E", 168},
		{types.SeverityLow, types.ScopeInternal, "P4I", 2160},
		// Unknown level falls back to medium, unknown scope to external.
		{types.Severity("bogus"), types.ScopeExternal, "P2E", 336},
		{types.SeverityCritical, types.Scope("X"), "P0E", 72},
	}
	for _, tt := range tests {
		code, window := BumpFor(tt.level, tt.scope)
		assert.Equal(t, tt.code, code, "%s/%s", tt.level, tt.scope)
		assert.Equal(t, time.Duration(tt.hours)*time.Hour, window)
	}
}

func TestIngestComputesBumpdate(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	m := newTestManager(store, sink)

	detected := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &types.VulnFinding{
		Name: "www.example.com", Vulnerability: "CVE-2024-0001",
		Level: types.SeverityCritical, Scope: types.ScopeExternal,
		DetectionDate: detected, TFP: types.TriageUnset,
	}
	inserted, err := m.Ingest(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, inserted)

	assert.Equal(t, "P0E", f.PTime)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), f.BumpDate)
	assert.Equal(t, detected, f.FirstDate)
	require.Len(t, sink.Named("new vulnerability"), 1)
}

func TestIngestRediscoveryKeepsTriageAndFirstdate(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	m := newTestManager(store, sink)
	ctx := context.Background()

	first := &types.VulnFinding{
		Name: "www.example.com", Vulnerability: "CVE-2024-0001",
		Level: types.SeverityMedium, Scope: types.ScopeExternal,
		DetectionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := m.Ingest(ctx, first)
	require.NoError(t, err)

	// Operator marks it true positive before the rescan.
	stored, err := store.FindFinding(ctx, "www.example.com", "CVE-2024-0001")
	require.NoError(t, err)
	stored.TFP = types.TriageTruePositive
	require.NoError(t, store.SaveFinding(ctx, stored))

	again := &types.VulnFinding{
		Name: "www.example.com", Vulnerability: "CVE-2024-0001",
		Level: types.SeverityCritical, Scope: types.ScopeExternal,
		DetectionDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	inserted, err := m.Ingest(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	refreshed, err := store.FindFinding(ctx, "www.example.com", "CVE-2024-0001")
	require.NoError(t, err)
	assert.Equal(t, types.TriageTruePositive, refreshed.TFP)
	assert.Equal(t, first.FirstDate, refreshed.FirstDate)
	// Severity escalation recomputes the deadline from the new detection.
	assert.Equal(t, "P0E", refreshed.PTime)
	assert.Equal(t, time.Date(2024, 2, 4, 0, 0, 0, 0, time.UTC), refreshed.BumpDate)
	// No second creation delta.
	assert.Len(t, sink.Named("new vulnerability"), 1)
}

func seedFindings(t *testing.T, store *storetest.Store, statuses []types.TriageStatus) {
	t.Helper()
	now := time.Now().UTC()
	for i, st := range statuses {
		f := &types.VulnFinding{
			Name:          "host.example.com",
			Vulnerability: string(rune('a'+i)) + "-vuln",
			TFP:           st,
			Level:         types.SeverityMedium,
			Scope:         types.ScopeExternal,
			DetectionDate: now.Add(-time.Hour),
			LastDate:      now,
			BumpDate:      now.Add(24 * time.Hour),
		}
		_, _, err := store.UpsertFinding(context.Background(), f)
		require.NoError(t, err)
	}
}

func TestFilterComposition(t *testing.T) {
	store := storetest.New()
	m := newTestManager(store, storetest.NewSink())
	seedFindings(t, store, []types.TriageStatus{
		types.TriageUnset, types.TriageUnset,
		types.TriageFalsePositive, types.TriageTruePositive,
	})

	// true OR false selects exactly the two triaged findings.
	selected, err := m.Select(context.Background(), "", Filters{True: true, False: true})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	for _, f := range selected {
		assert.Contains(t, []types.TriageStatus{types.TriageFalsePositive, types.TriageTruePositive}, f.TFP)
	}

	// Zero filters enabled selects everything.
	all, err := m.Select(context.Background(), "", Filters{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// All filters enabled is also a no-op.
	all, err = m.Select(context.Background(), "", Filters{True: true, False: true, Bump: true, New: true, Old: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestFilterNewVsOld(t *testing.T) {
	store := storetest.New()
	m := newTestManager(store, storetest.NewSink())
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := &types.VulnFinding{
		Name: "a", Vulnerability: "v1", TFP: types.TriageUnset,
		DetectionDate: now.Add(-24 * time.Hour),
	}
	stale := &types.VulnFinding{
		Name: "a", Vulnerability: "v2", TFP: types.TriageUnset,
		DetectionDate: now.Add(-30 * 24 * time.Hour),
	}
	triaged := &types.VulnFinding{
		Name: "a", Vulnerability: "v3", TFP: types.TriageTruePositive,
		DetectionDate: now.Add(-24 * time.Hour),
	}
	for _, f := range []*types.VulnFinding{fresh, stale, triaged} {
		_, _, err := store.UpsertFinding(ctx, f)
		require.NoError(t, err)
	}

	selected, err := m.Select(ctx, "", Filters{New: true})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "v1", selected[0].Vulnerability)

	selected, err = m.Select(ctx, "", Filters{Old: true})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "v2", selected[0].Vulnerability)
}

func TestSetTriageBulk(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	m := newTestManager(store, sink)
	seedFindings(t, store, []types.TriageStatus{
		types.TriageUnset, types.TriageUnset, types.TriageFalsePositive,
	})

	changed, err := m.SetTriage(context.Background(), "", Filters{Bump: true}, types.TriageTruePositive)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	selected, err := m.Select(context.Background(), "", Filters{True: true})
	require.NoError(t, err)
	assert.Len(t, selected, 2)
}

func TestDeleteEmitsBeforeRemoving(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	m := newTestManager(store, sink)
	seedFindings(t, store, []types.TriageStatus{types.TriageUnset, types.TriageUnset})

	n, err := m.DeleteByName(context.Background(), "host.example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, sink.Named("deleted from vulnerabilities database"), 2)
	assert.Empty(t, store.Findings)
}

func TestDeleteAbortsWhenSinkFails(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	sink.Fail = true
	m := newTestManager(store, sink)
	seedFindings(t, store, []types.TriageStatus{types.TriageUnset})

	_, err := m.DeleteByName(context.Background(), "host.example.com")
	require.Error(t, err)
	// The row survives when its deletion cannot be announced.
	assert.Len(t, store.Findings, 1)
}

func TestSweepBumpAlertsOnceAndReschedules(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	m := newTestManager(store, sink)
	ctx := context.Background()

	overdue := &types.VulnFinding{
		Name: "a", Vulnerability: "v1", PTime: "P0E",
		BumpDate: time.Now().UTC().Add(-time.Hour),
	}
	notYet := &types.VulnFinding{
		Name: "a", Vulnerability: "v2", PTime: "P0E",
		BumpDate: time.Now().UTC().Add(time.Hour),
	}
	for _, f := range []*types.VulnFinding{overdue, notYet} {
		_, _, err := store.UpsertFinding(ctx, f)
		require.NoError(t, err)
	}

	n, err := m.SweepBump(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.Named("unattended vulnerability"), 1)

	// The deadline moved forward, so an immediate re-run is a no-op.
	n, err = m.SweepBump(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, sink.Named("unattended vulnerability"), 1)
}

func TestSweepRetention(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	m := newTestManager(store, sink)
	ctx := context.Background()

	ancient := &types.VulnFinding{
		Name: "a", Vulnerability: "v1",
		LastDate: time.Now().UTC().AddDate(0, 0, -45),
		BumpDate: time.Now().UTC().Add(time.Hour),
	}
	recent := &types.VulnFinding{
		Name: "a", Vulnerability: "v2",
		LastDate: time.Now().UTC().AddDate(0, 0, -5),
		BumpDate: time.Now().UTC().Add(time.Hour),
	}
	for _, f := range []*types.VulnFinding{ancient, recent} {
		_, _, err := store.UpsertFinding(ctx, f)
		require.NoError(t, err)
	}

	n, err := m.SweepRetention(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, sink.Named("vulnerability deleted, not seen recently"), 1)
	assert.Len(t, store.Findings, 1)

	// Idempotent: nothing left in the window.
	n, err = m.SweepRetention(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPurgeEmitsNoDeltas(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	m := newTestManager(store, sink)
	seedFindings(t, store, []types.TriageStatus{types.TriageUnset, types.TriageTruePositive})

	n, err := m.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, store.Findings)
	assert.Empty(t, sink.Events)
}
