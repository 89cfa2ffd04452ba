package core

import (
	"context"
	"time"

	"github.com/edgewatch/edgewatch/pkg/types"
)

// Event is one structured delta/alert payload. The sink stamps timestamps
// on emission; callers only fill in the change description.
type Event map[string]interface{}

// DeltaSink is the durable at-least-once notification boundary. Every
// meaningful state change in the pipeline goes through Emit before the
// change is made irreversible.
type DeltaSink interface {
	Emit(ctx context.Context, event Event) error
}

// FindingFilter narrows bulk finding queries. Zero-value fields are
// ignored.
type FindingFilter struct {
	Name          string
	Scope         types.Scope
	Statuses      []types.TriageStatus
	DetectedAfter *time.Time
	BumpBefore    *time.Time
	LastBefore    *time.Time
	Limit         int
}

// RecordStore is the persistent record boundary. Upserts are keyed by name
// (findings by name+vulnerability) and report whether a row was inserted,
// so callers can tell a first sighting from a refresh. A duplicate-key
// race on insert is absorbed into the update path, never surfaced.
type RecordStore interface {
	// Targets (external/internal registries, partitioned by scope).
	UpsertTarget(ctx context.Context, t *types.Target) (*types.Target, bool, error)
	FindTarget(ctx context.Context, scope types.Scope, name string) (*types.Target, error)
	FindTargetsByTag(ctx context.Context, scope types.Scope, tag string) ([]types.Target, error)
	ListTargets(ctx context.Context, scope types.Scope) ([]types.Target, error)
	DeleteTargets(ctx context.Context, targets []types.Target) error

	// Discoveries.
	UpsertDiscovery(ctx context.Context, d *types.Discovery) (*types.Discovery, bool, error)
	FindDiscovery(ctx context.Context, name string) (*types.Discovery, error)
	FindDiscoveriesByTag(ctx context.Context, tag string) ([]types.Discovery, error)
	DeleteDiscoveries(ctx context.Context, discoveries []types.Discovery) error

	// Hosts and their service rows.
	UpsertHost(ctx context.Context, h *types.HostRecord) (*types.HostRecord, bool, error)
	FindHost(ctx context.Context, scope types.Scope, name string) (*types.HostRecord, error)
	FindHostsByTag(ctx context.Context, scope types.Scope, tag string) ([]types.HostRecord, error)
	// FindLinkedHosts returns hosts referencing name directly or as a
	// redirect target (nname). Used by cascading deletion.
	FindLinkedHosts(ctx context.Context, scope types.Scope, name string) ([]types.HostRecord, error)
	DeleteHosts(ctx context.Context, hosts []types.HostRecord) error
	ListServices(ctx context.Context, hostID string) ([]types.Service, error)
	ReplaceServices(ctx context.Context, hostID string, services []types.Service) error

	// Vulnerability findings, unique on (name, vulnerability).
	UpsertFinding(ctx context.Context, f *types.VulnFinding) (*types.VulnFinding, bool, error)
	FindFinding(ctx context.Context, name, vulnerability string) (*types.VulnFinding, error)
	ListFindings(ctx context.Context, filter FindingFilter) ([]types.VulnFinding, error)
	// SearchFindings matches term as a substring/regex predicate over
	// uri, vulnerability, and metadata.
	SearchFindings(ctx context.Context, term string, limit int) ([]types.VulnFinding, error)
	SaveFinding(ctx context.Context, f *types.VulnFinding) error
	DeleteFindings(ctx context.Context, findings []types.VulnFinding) error
	PurgeFindings(ctx context.Context) (int64, error)

	// Jobs.
	SaveJob(ctx context.Context, j *types.Job) error
	GetJob(ctx context.Context, name string) (*types.Job, error)
	ListJobs(ctx context.Context) ([]types.Job, error)
	DeleteJob(ctx context.Context, name string) error

	Close() error
}

// JobQueue is the scheduler boundary: the console enqueues schedulable
// work, an external timer/worker pops it.
type JobQueue interface {
	Schedule(ctx context.Context, job *types.Job) error
	Unschedule(ctx context.Context, name string) error
	Pending(ctx context.Context) ([]types.Job, error)
	Close() error
}

// Tracker files tickets with a third-party issue tracker. Calls are
// one-way: failures are logged by the caller and never retried.
type Tracker interface {
	OpenTicket(ctx context.Context, f *types.VulnFinding) error
	CloseTicket(ctx context.Context, f *types.VulnFinding) error
}

// Launcher starts and stops external scanner binaries. The console only
// consumes their output; process supervision stays outside.
type Launcher interface {
	Start(ctx context.Context, job *types.Job) error
	Stop(ctx context.Context, name string) error
}
