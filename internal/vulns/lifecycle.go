// Package vulns owns the vulnerability finding lifecycle: triage marking,
// bump scheduling by severity and scope, filtered bulk operations, and the
// periodic sweeps.
package vulns

import (
	"context"
	"fmt"
	"time"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// ptimeHours maps a symbolic review-deadline code to its hour count.
// External findings get tighter deadlines than internal ones.
var ptimeHours = map[string]int{
	"P0E": 72,
	"P1E": 168,
	"P2E": 336,
	"P3E": 720,
	"P1I": 336,
	"P2I": 720,
	"P3I": 1440,
	"P4I": 2160,
}

// ptimeTable keys the code jointly on scope and level.
var ptimeTable = map[types.Scope]map[types.Severity]string{
	types.ScopeExternal: {
		types.SeverityCritical: "P0E",
		types.SeverityHigh:     "P1E",
		types.SeverityMedium:   "P2E",
		types.SeverityLow:      "P3E",
	},
	types.ScopeInternal: {
		types.SeverityCritical: "P1I",
		types.SeverityHigh:     "P2I",
		types.SeverityMedium:   "P3I",
		types.SeverityLow:      "P4I",
	},
}

// BumpFor returns the ptime code and review window for a level/scope pair.
// Unknown levels fall back to medium, unknown scopes to external.
func BumpFor(level types.Severity, scope types.Scope) (string, time.Duration) {
	byLevel, ok := ptimeTable[scope]
	if !ok {
		byLevel = ptimeTable[types.ScopeExternal]
	}
	code, ok := byLevel[level]
	if !ok {
		code = byLevel[types.SeverityMedium]
	}
	return code, time.Duration(ptimeHours[code]) * time.Hour
}

// HoursFor resolves a bare ptime code to its window. Unknown codes get the
// external-medium window.
func HoursFor(code string) (time.Duration, bool) {
	h, ok := ptimeHours[code]
	if !ok {
		return time.Duration(ptimeHours["P2E"]) * time.Hour, false
	}
	return time.Duration(h) * time.Hour, true
}

// newWindow is the age boundary between the "new" and "old" triage
// filters.
const newWindow = 7 * 24 * time.Hour

// Filters selects findings for bulk operations. Enabled filters combine
// with OR semantics; zero or all enabled means no filtering at all.
type Filters struct {
	True  bool // tfp = 1
	False bool // tfp = 0
	Bump  bool // tfp unset
	New   bool // tfp unset, detected within the last 7 days
	Old   bool // tfp unset, detected more than 7 days ago
}

func (f Filters) allOrNone() bool {
	enabled := 0
	for _, b := range []bool{f.True, f.False, f.Bump, f.New, f.Old} {
		if b {
			enabled++
		}
	}
	return enabled == 0 || enabled == 5
}

func (f Filters) matches(v types.VulnFinding, now time.Time) bool {
	if f.allOrNone() {
		return true
	}
	age := now.Sub(v.DetectionDate)
	switch {
	case f.True && v.TFP == types.TriageTruePositive:
		return true
	case f.False && v.TFP == types.TriageFalsePositive:
		return true
	case f.Bump && v.TFP == types.TriageUnset:
		return true
	case f.New && v.TFP == types.TriageUnset && age <= newWindow:
		return true
	case f.Old && v.TFP == types.TriageUnset && age > newWindow:
		return true
	}
	return false
}

// Manager drives the finding lifecycle against the store and sink. The
// tracker is optional; ticket calls are fire-and-forget.
type Manager struct {
	store   core.RecordStore
	sink    core.DeltaSink
	tracker core.Tracker
	logger  *logger.Logger
	now     func() time.Time
}

func NewManager(store core.RecordStore, sink core.DeltaSink, tracker core.Tracker, log *logger.Logger) *Manager {
	return &Manager{
		store:   store,
		sink:    sink,
		tracker: tracker,
		logger:  log.WithComponent("vulns"),
		now:     time.Now,
	}
}

// Ingest upserts one finding keyed by (name, vulnerability). A first
// detection sets firstdate and computes the bump deadline; a rediscovery
// refreshes the non-identity fields and recomputes the deadline from the
// current level and scope, leaving triage state alone.
func (m *Manager) Ingest(ctx context.Context, f *types.VulnFinding) (bool, error) {
	now := m.now().UTC()
	if f.DetectionDate.IsZero() {
		f.DetectionDate = now
	}
	f.LastDate = now

	existing, err := m.store.FindFinding(ctx, f.Name, f.Vulnerability)
	if err != nil {
		return false, fmt.Errorf("finding lookup failed: %w", err)
	}

	code, window := BumpFor(f.Level, f.Scope)
	f.PTime = code
	f.BumpDate = f.DetectionDate.Add(window)

	if existing != nil {
		f.ID = existing.ID
		f.FirstDate = existing.FirstDate
		f.TFP = existing.TFP
		if _, _, err := m.store.UpsertFinding(ctx, f); err != nil {
			return false, fmt.Errorf("finding refresh failed: %w", err)
		}
		return false, nil
	}

	f.FirstDate = f.DetectionDate
	if f.TFP != types.TriageFalsePositive && f.TFP != types.TriageTruePositive {
		f.TFP = types.TriageUnset
	}
	_, inserted, err := m.store.UpsertFinding(ctx, f)
	if err != nil {
		return false, fmt.Errorf("finding insert failed: %w", err)
	}
	if !inserted {
		return false, nil
	}

	event := core.Event{
		"event":         "new vulnerability",
		"name":          f.Name,
		"vulnerability": f.Vulnerability,
		"level":         string(f.Level),
		"scope":         string(f.Scope),
		"engine":        f.Engine,
		"uri":           f.FullURI,
		"ptime":         f.PTime,
	}
	if err := m.sink.Emit(ctx, event); err != nil {
		return true, fmt.Errorf("delta emission failed for %s/%s: %w", f.Name, f.Vulnerability, err)
	}
	return true, nil
}

// Select returns the findings matched by the OR-composed filters,
// optionally narrowed to one host name.
func (m *Manager) Select(ctx context.Context, name string, filters Filters) ([]types.VulnFinding, error) {
	all, err := m.store.ListFindings(ctx, core.FindingFilter{Name: name})
	if err != nil {
		return nil, fmt.Errorf("finding query failed: %w", err)
	}
	now := m.now().UTC()
	var out []types.VulnFinding
	for _, f := range all {
		if filters.matches(f, now) {
			out = append(out, f)
		}
	}
	return out, nil
}

// SetTriage bulk-marks the selected findings. Marking true positives files
// tickets; marking false positives closes them. Tracker failures are
// logged and never abort the triage itself.
func (m *Manager) SetTriage(ctx context.Context, name string, filters Filters, status types.TriageStatus) (int, error) {
	selected, err := m.Select(ctx, name, filters)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range selected {
		f := selected[i]
		if f.TFP == status {
			continue
		}
		f.TFP = status
		f.LastDate = m.now().UTC()
		if err := m.store.SaveFinding(ctx, &f); err != nil {
			return changed, fmt.Errorf("triage update failed for %s/%s: %w", f.Name, f.Vulnerability, err)
		}
		changed++
		m.notifyTracker(ctx, &f, status)
	}
	m.logger.Infow("triage applied", "status", status, "changed", changed)
	return changed, nil
}

func (m *Manager) notifyTracker(ctx context.Context, f *types.VulnFinding, status types.TriageStatus) {
	if m.tracker == nil {
		return
	}
	var err error
	switch status {
	case types.TriageTruePositive:
		err = m.tracker.OpenTicket(ctx, f)
	case types.TriageFalsePositive:
		err = m.tracker.CloseTicket(ctx, f)
	}
	if err != nil {
		m.logger.Warnw("tracker call failed",
			"name", f.Name, "vulnerability", f.Vulnerability, "error", err)
	}
}

// SetPtime bulk-overrides the ptime code on the selected findings and
// recomputes their bump deadlines from detectiondate.
func (m *Manager) SetPtime(ctx context.Context, name string, filters Filters, code string) (int, error) {
	window, known := HoursFor(code)
	if !known {
		return 0, fmt.Errorf("unknown ptime code %q", code)
	}
	selected, err := m.Select(ctx, name, filters)
	if err != nil {
		return 0, err
	}
	for i := range selected {
		f := selected[i]
		f.PTime = code
		f.BumpDate = f.DetectionDate.Add(window)
		f.LastDate = m.now().UTC()
		if err := m.store.SaveFinding(ctx, &f); err != nil {
			return i, fmt.Errorf("ptime update failed for %s/%s: %w", f.Name, f.Vulnerability, err)
		}
	}
	return len(selected), nil
}

// Delete removes one finding by exact key, announcing it first.
func (m *Manager) Delete(ctx context.Context, name, vulnerability string) error {
	f, err := m.store.FindFinding(ctx, name, vulnerability)
	if err != nil {
		return fmt.Errorf("finding lookup failed: %w", err)
	}
	if f == nil {
		return fmt.Errorf("finding %s/%s not found", name, vulnerability)
	}
	return m.deleteAll(ctx, []types.VulnFinding{*f}, "deleted from vulnerabilities database")
}

// DeleteByName removes every finding on a host.
func (m *Manager) DeleteByName(ctx context.Context, name string) (int, error) {
	rows, err := m.store.ListFindings(ctx, core.FindingFilter{Name: name})
	if err != nil {
		return 0, fmt.Errorf("finding query failed: %w", err)
	}
	if err := m.deleteAll(ctx, rows, "deleted from vulnerabilities database"); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// DeleteBySearch removes every finding whose uri, vulnerability, or
// metadata matches the free-text term.
func (m *Manager) DeleteBySearch(ctx context.Context, term string) (int, error) {
	rows, err := m.store.SearchFindings(ctx, term, 0)
	if err != nil {
		return 0, fmt.Errorf("finding search failed: %w", err)
	}
	if err := m.deleteAll(ctx, rows, "deleted from vulnerabilities database"); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// deleteAll emits one delta per row, then issues a single bulk delete.
// Emission runs on live data so the row's fields ride on the message.
func (m *Manager) deleteAll(ctx context.Context, rows []types.VulnFinding, kind string) error {
	for _, f := range rows {
		event := core.Event{
			"event":         kind,
			"name":          f.Name,
			"vulnerability": f.Vulnerability,
			"level":         string(f.Level),
			"lastupdate":    f.LastDate.Format(time.RFC3339),
		}
		if err := m.sink.Emit(ctx, event); err != nil {
			return fmt.Errorf("delta emission failed for %s/%s: %w", f.Name, f.Vulnerability, err)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := m.store.DeleteFindings(ctx, rows); err != nil {
		return fmt.Errorf("finding delete failed: %w", err)
	}
	return nil
}

// SweepBump alerts on every finding whose bump deadline has passed, then
// pushes the deadline forward by one ptime window so an unchanged store
// does not re-alert on the next sweep.
func (m *Manager) SweepBump(ctx context.Context) (int, error) {
	now := m.now().UTC()
	rows, err := m.store.ListFindings(ctx, core.FindingFilter{BumpBefore: &now})
	if err != nil {
		return 0, fmt.Errorf("finding query failed: %w", err)
	}

	for i, f := range rows {
		event := core.Event{
			"event":         "unattended vulnerability",
			"name":          f.Name,
			"vulnerability": f.Vulnerability,
			"level":         string(f.Level),
			"ptime":         f.PTime,
			"bumpdate":      f.BumpDate.Format(time.RFC3339),
		}
		if err := m.sink.Emit(ctx, event); err != nil {
			return i, fmt.Errorf("delta emission failed for %s/%s: %w", f.Name, f.Vulnerability, err)
		}
		window, _ := HoursFor(f.PTime)
		f.BumpDate = now.Add(window)
		if err := m.store.SaveFinding(ctx, &f); err != nil {
			return i, fmt.Errorf("bump reschedule failed for %s/%s: %w", f.Name, f.Vulnerability, err)
		}
	}
	m.logger.Infow("bump sweep finished", "alerted", len(rows))
	return len(rows), nil
}

// SweepRetention deletes findings unseen for longer than the retention
// window, alerting per row before the bulk delete.
func (m *Manager) SweepRetention(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := m.now().UTC().AddDate(0, 0, -retentionDays)
	rows, err := m.store.ListFindings(ctx, core.FindingFilter{LastBefore: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("finding query failed: %w", err)
	}
	if err := m.deleteAll(ctx, rows, "vulnerability deleted, not seen recently"); err != nil {
		return 0, err
	}
	m.logger.Infow("retention sweep finished", "deleted", len(rows), "cutoff", cutoff)
	return len(rows), nil
}

// Purge removes every finding unconditionally. This is the one destructive
// operation that does not notify.
func (m *Manager) Purge(ctx context.Context) (int64, error) {
	n, err := m.store.PurgeFindings(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge failed: %w", err)
	}
	m.logger.Warnw("vulnerability store purged", "deleted", n)
	return n, nil
}
