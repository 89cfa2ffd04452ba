// Package registry resolves ownership and scope metadata for identifiers
// against the internal and external target registries.
package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// Resolver looks up a name in the registry matching the scope hint first,
// falls back to the other scope, and finally synthesizes a safe default so
// ingestion never stalls on an unregistered asset.
type Resolver struct {
	store  core.RecordStore
	logger *logger.Logger
}

func NewResolver(store core.RecordStore, log *logger.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: log.WithComponent("registry"),
	}
}

// Resolve returns the metadata for name plus its raw JSON encoding.
func (r *Resolver) Resolve(ctx context.Context, name string, scope types.Scope) (types.Metadata, string, error) {
	order := []types.Scope{scope, otherScope(scope)}

	for _, s := range order {
		target, err := r.store.FindTarget(ctx, s, name)
		if err != nil {
			return types.Metadata{}, "", fmt.Errorf("registry lookup for %s failed: %w", name, err)
		}
		if target == nil {
			continue
		}
		meta := metadataFromTarget(target, s)
		raw, err := json.Marshal(meta)
		if err != nil {
			return types.Metadata{}, "", fmt.Errorf("failed to encode metadata for %s: %w", name, err)
		}
		return meta, string(raw), nil
	}

	// Neither registry knows the name: new asset with unknown ownership.
	meta := types.Metadata{
		Owner: "Unknown",
		Scope: string(scope),
		Tag:   "new",
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return types.Metadata{}, "", fmt.Errorf("failed to encode default metadata for %s: %w", name, err)
	}
	r.logger.Debugw("identifier not in any registry, using default metadata",
		"name", name,
		"scope", scope,
	)
	return meta, string(raw), nil
}

func metadataFromTarget(t *types.Target, scope types.Scope) types.Metadata {
	// Prefer the stored blob; reconstruct from columns when it is absent
	// or unreadable.
	if t.Metadata != "" {
		var meta types.Metadata
		if err := json.Unmarshal([]byte(t.Metadata), &meta); err == nil {
			if meta.Scope == "" {
				meta.Scope = string(scope)
			}
			return meta
		}
	}
	return types.Metadata{
		Owner: t.Owner,
		Scope: string(scope),
		Tag:   t.Tag,
	}
}

func otherScope(s types.Scope) types.Scope {
	if s == types.ScopeInternal {
		return types.ScopeExternal
	}
	return types.ScopeInternal
}
