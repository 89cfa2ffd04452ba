package jobs

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// Manager owns job records and their schedules. An unknown job name is a
// configuration error and aborts the invocation.
type Manager struct {
	store    core.RecordStore
	queue    core.JobQueue
	launcher core.Launcher
	logger   *logger.Logger
}

func NewManager(store core.RecordStore, queue core.JobQueue, launcher core.Launcher, log *logger.Logger) *Manager {
	return &Manager{
		store:    store,
		queue:    queue,
		launcher: launcher,
		logger:   log.WithComponent("jobs"),
	}
}

// Create validates the selectors and saves the job.
func (m *Manager) Create(ctx context.Context, job *types.Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Regexp != "" {
		if _, err := regexp.Compile(job.Regexp); err != nil {
			return fmt.Errorf("invalid regexp selector: %w", err)
		}
	}
	if job.Exclude != "" {
		if _, err := regexp.Compile(job.Exclude); err != nil {
			return fmt.Errorf("invalid exclude selector: %w", err)
		}
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Created.IsZero() {
		job.Created = time.Now().UTC()
	}
	if err := m.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.Name, err)
	}
	m.logger.Infow("job created", "name", job.Name, "module", job.Module)
	return nil
}

// Delete removes the job and its schedule entry.
func (m *Manager) Delete(ctx context.Context, name string) error {
	job, err := m.get(ctx, name)
	if err != nil {
		return err
	}
	if m.queue != nil {
		if err := m.queue.Unschedule(ctx, job.Name); err != nil {
			return fmt.Errorf("failed to unschedule job %s: %w", name, err)
		}
	}
	if err := m.store.DeleteJob(ctx, name); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", name, err)
	}
	m.logger.Infow("job deleted", "name", name)
	return nil
}

func (m *Manager) List(ctx context.Context) ([]types.Job, error) {
	return m.store.ListJobs(ctx)
}

// Schedule pushes the job to the external timer service.
func (m *Manager) Schedule(ctx context.Context, name string) error {
	job, err := m.get(ctx, name)
	if err != nil {
		return err
	}
	if err := m.queue.Schedule(ctx, job); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	m.logger.Infow("job scheduled", "name", name, "schedule", job.Schedule)
	return nil
}

// Select resolves a job's regexp/exclude pair against the target registry
// to the list of target names the job applies to.
func (m *Manager) Select(ctx context.Context, name string, scope types.Scope) ([]string, error) {
	job, err := m.get(ctx, name)
	if err != nil {
		return nil, err
	}

	var include, exclude *regexp.Regexp
	if job.Regexp != "" {
		if include, err = regexp.Compile(job.Regexp); err != nil {
			return nil, fmt.Errorf("invalid regexp selector on job %s: %w", name, err)
		}
	}
	if job.Exclude != "" {
		if exclude, err = regexp.Compile(job.Exclude); err != nil {
			return nil, fmt.Errorf("invalid exclude selector on job %s: %w", name, err)
		}
	}

	targets, err := m.store.ListTargets(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	var out []string
	for _, t := range targets {
		if include != nil && !include.MatchString(t.Name) {
			continue
		}
		if exclude != nil && exclude.MatchString(t.Name) {
			continue
		}
		out = append(out, t.Name)
	}
	return out, nil
}

// Start launches the job's module as an external process.
func (m *Manager) Start(ctx context.Context, name string) error {
	job, err := m.get(ctx, name)
	if err != nil {
		return err
	}
	if err := m.launcher.Start(ctx, job); err != nil {
		return fmt.Errorf("failed to start job %s: %w", name, err)
	}
	m.logger.Infow("job started", "name", name, "module", job.Module)
	return nil
}

func (m *Manager) Stop(ctx context.Context, name string) error {
	if _, err := m.get(ctx, name); err != nil {
		return err
	}
	if err := m.launcher.Stop(ctx, name); err != nil {
		return fmt.Errorf("failed to stop job %s: %w", name, err)
	}
	m.logger.Infow("job stopped", "name", name)
	return nil
}

func (m *Manager) get(ctx context.Context, name string) (*types.Job, error) {
	job, err := m.store.GetJob(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("job lookup failed: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %q not found", name)
	}
	return job, nil
}
