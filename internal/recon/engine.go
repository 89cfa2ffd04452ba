// Package recon merges freshly parsed scanner batches into the record
// store under a work mode and routes every effective change through the
// delta sink.
package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/classify"
	"github.com/edgewatch/edgewatch/pkg/registry"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// Record is one parsed batch entry handed to the engine.
type Record struct {
	Name  string
	Owner string
}

// Stats summarizes one ingestion run.
type Stats struct {
	Created int
	Updated int
	Deleted int
	Skipped int
}

type Engine struct {
	store    core.RecordStore
	resolver *registry.Resolver
	sink     core.DeltaSink
	logger   *logger.Logger
	now      func() time.Time
}

func NewEngine(store core.RecordStore, resolver *registry.Resolver, sink core.DeltaSink, log *logger.Logger) *Engine {
	return &Engine{
		store:    store,
		resolver: resolver,
		sink:     sink,
		logger:   log.WithComponent("recon"),
		now:      time.Now,
	}
}

// Ingest merges batch into the target registry for (scope, tag) under the
// given work mode. Every record gets the same batch-start lastdate so the
// stale-set computation has a single reference point.
//
// A malformed or failing record is logged and skipped; a failing delta
// emission aborts the run, since a state change without its notification
// breaks the downstream contract.
func (e *Engine) Ingest(ctx context.Context, batch []Record, tag string, scope types.Scope, mode types.WorkMode) (Stats, error) {
	var stats Stats
	batchStart := e.now().UTC()

	e.logger.Infow("ingestion started",
		"records", len(batch),
		"tag", tag,
		"scope", scope,
		"mode", mode,
	)

	for _, rec := range batch {
		if rec.Name == "" {
			stats.Skipped++
			continue
		}

		meta, raw, err := e.resolver.Resolve(ctx, rec.Name, scope)
		if err != nil {
			e.logger.Warnw("metadata resolution failed, skipping record",
				"name", rec.Name, "error", err)
			stats.Skipped++
			continue
		}

		owner := rec.Owner
		if owner == "" {
			owner = meta.Owner
		}

		target := &types.Target{
			Name:     rec.Name,
			Type:     string(classify.Classify(rec.Name)),
			Scope:    scope,
			Tag:      tag,
			Owner:    owner,
			LastDate: batchStart,
			Metadata: raw,
		}

		_, inserted, err := e.store.UpsertTarget(ctx, target)
		if err != nil {
			e.logger.Warnw("target upsert failed, skipping record",
				"name", rec.Name, "error", err)
			stats.Skipped++
			continue
		}

		if inserted {
			stats.Created++
			event := core.Event{
				"event": fmt.Sprintf("new object in %s target database", zone(scope)),
				"name":  target.Name,
				"type":  target.Type,
				"tag":   target.Tag,
				"owner": meta.Owner,
				"scope": meta.Scope,
			}
			if err := e.sink.Emit(ctx, event); err != nil {
				return stats, fmt.Errorf("delta emission failed for %s: %w", target.Name, err)
			}
		} else {
			stats.Updated++
		}
	}

	if mode == types.ModeMerge {
		e.logger.Infow("ingestion finished", "created", stats.Created,
			"updated", stats.Updated, "skipped", stats.Skipped)
		return stats, nil
	}

	candidates, err := e.deleteCandidates(ctx, tag, scope, mode, batchStart)
	if err != nil {
		return stats, err
	}

	deleted, err := e.CascadeDelete(ctx, candidates, scope)
	stats.Deleted = deleted
	if err != nil {
		return stats, err
	}

	e.logger.Infow("ingestion finished", "created", stats.Created,
		"updated", stats.Updated, "deleted", stats.Deleted, "skipped", stats.Skipped)
	return stats, nil
}

// deleteCandidates selects the rows the work mode marks for removal.
func (e *Engine) deleteCandidates(ctx context.Context, tag string, scope types.Scope, mode types.WorkMode, batchStart time.Time) ([]types.Target, error) {
	tagged, err := e.store.FindTargetsByTag(ctx, scope, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to load tagged targets: %w", err)
	}

	var out []types.Target
	for _, t := range tagged {
		switch mode {
		case types.ModeSync:
			// Not refreshed by this batch: stale.
			if t.LastDate.Before(batchStart) {
				out = append(out, t)
			}
		case types.ModeDelete:
			// Refreshed by the just-completed batch: undo it.
			if !t.LastDate.Before(batchStart) {
				out = append(out, t)
			}
		case types.ModeDeleteByTag:
			out = append(out, t)
		}
	}
	return out, nil
}

// CascadeDelete removes the targets and every host row linked to them by
// name or redirect name. All deltas for a target and its linked rows are
// emitted before any row is physically removed, because the event payload
// is built from live data.
func (e *Engine) CascadeDelete(ctx context.Context, targets []types.Target, scope types.Scope) (int, error) {
	deleted := 0
	for _, t := range targets {
		linked, err := e.store.FindLinkedHosts(ctx, scope, t.Name)
		if err != nil {
			return deleted, fmt.Errorf("failed to find hosts linked to %s: %w", t.Name, err)
		}

		for _, h := range linked {
			event := core.Event{
				"event":      "deleted from services database",
				"name":       h.Name,
				"type":       string(classify.Classify(h.Name)),
				"lastupdate": h.LastDate.Format(time.RFC3339),
			}
			if err := e.sink.Emit(ctx, event); err != nil {
				return deleted, fmt.Errorf("delta emission failed for service row %s: %w", h.Name, err)
			}
		}

		event := core.Event{
			"event":      "deleted from target database",
			"name":       t.Name,
			"type":       t.Type,
			"lastupdate": t.LastDate.Format(time.RFC3339),
		}
		if err := e.sink.Emit(ctx, event); err != nil {
			return deleted, fmt.Errorf("delta emission failed for target %s: %w", t.Name, err)
		}

		if len(linked) > 0 {
			if err := e.store.DeleteHosts(ctx, linked); err != nil {
				return deleted, fmt.Errorf("failed to delete hosts linked to %s: %w", t.Name, err)
			}
		}
		if err := e.store.DeleteTargets(ctx, []types.Target{t}); err != nil {
			return deleted, fmt.Errorf("failed to delete target %s: %w", t.Name, err)
		}

		deleted += 1 + len(linked)
		e.logger.Debugw("target removed",
			"name", t.Name,
			"linked_hosts", len(linked),
		)
	}
	return deleted, nil
}

func zone(scope types.Scope) string {
	if scope == types.ScopeInternal {
		return "internal"
	}
	return "external"
}
