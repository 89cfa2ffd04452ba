// Package storetest provides in-memory doubles for the record store and
// delta sink boundaries, used by engine, parser, and lifecycle tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// Store is a map-backed core.RecordStore with the same upsert semantics
// as the SQL implementation.
type Store struct {
	mu          sync.Mutex
	Targets     map[string]*types.Target      // key: scope/name
	Discoveries map[string]*types.Discovery   // key: name
	Hosts       map[string]*types.HostRecord  // key: scope/name
	Services    map[string][]types.Service    // key: host id
	Findings    map[string]*types.VulnFinding // key: name/vulnerability
	Jobs        map[string]*types.Job         // key: name
}

func New() *Store {
	return &Store{
		Targets:     map[string]*types.Target{},
		Discoveries: map[string]*types.Discovery{},
		Hosts:       map[string]*types.HostRecord{},
		Services:    map[string][]types.Service{},
		Findings:    map[string]*types.VulnFinding{},
		Jobs:        map[string]*types.Job{},
	}
}

func scopeKey(scope types.Scope, name string) string {
	return string(scope) + "/" + name
}

func findingKey(name, vulnerability string) string {
	return name + "/" + vulnerability
}

func (s *Store) UpsertTarget(ctx context.Context, t *types.Target) (*types.Target, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey(t.Scope, t.Name)
	if existing, ok := s.Targets[key]; ok {
		t.ID = existing.ID
		cp := *t
		s.Targets[key] = &cp
		return t, false, nil
	}
	t.ID = uuid.New().String()
	cp := *t
	s.Targets[key] = &cp
	return t, true, nil
}

func (s *Store) FindTarget(ctx context.Context, scope types.Scope, name string) (*types.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.Targets[scopeKey(scope, name)]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) FindTargetsByTag(ctx context.Context, scope types.Scope, tag string) ([]types.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Target
	for _, t := range s.Targets {
		if t.Scope == scope && t.Tag == tag {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) ListTargets(ctx context.Context, scope types.Scope) ([]types.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Target
	for _, t := range s.Targets {
		if t.Scope == scope {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) DeleteTargets(ctx context.Context, targets []types.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range targets {
		delete(s.Targets, scopeKey(t.Scope, t.Name))
	}
	return nil
}

func (s *Store) UpsertDiscovery(ctx context.Context, d *types.Discovery) (*types.Discovery, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.Discoveries[d.Name]; ok {
		d.ID = existing.ID
		cp := *d
		s.Discoveries[d.Name] = &cp
		return d, false, nil
	}
	d.ID = uuid.New().String()
	cp := *d
	s.Discoveries[d.Name] = &cp
	return d, true, nil
}

func (s *Store) FindDiscovery(ctx context.Context, name string) (*types.Discovery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.Discoveries[name]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) FindDiscoveriesByTag(ctx context.Context, tag string) ([]types.Discovery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Discovery
	for _, d := range s.Discoveries {
		if strings.Contains(d.Tag, tag) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *Store) DeleteDiscoveries(ctx context.Context, discoveries []types.Discovery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range discoveries {
		delete(s.Discoveries, d.Name)
	}
	return nil
}

func (s *Store) UpsertHost(ctx context.Context, h *types.HostRecord) (*types.HostRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey(h.Scope, h.Name)
	if existing, ok := s.Hosts[key]; ok {
		h.ID = existing.ID
		cp := *h
		s.Hosts[key] = &cp
		return h, false, nil
	}
	h.ID = uuid.New().String()
	cp := *h
	s.Hosts[key] = &cp
	return h, true, nil
}

func (s *Store) FindHost(ctx context.Context, scope types.Scope, name string) (*types.HostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.Hosts[scopeKey(scope, name)]; ok {
		cp := *h
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) FindHostsByTag(ctx context.Context, scope types.Scope, tag string) ([]types.HostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.HostRecord
	for _, h := range s.Hosts {
		if h.Scope == scope && h.Tag == tag {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *Store) FindLinkedHosts(ctx context.Context, scope types.Scope, name string) ([]types.HostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.HostRecord
	for _, h := range s.Hosts {
		if h.Scope == scope && (h.Name == name || h.NName == name) {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *Store) DeleteHosts(ctx context.Context, hosts []types.HostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hosts {
		delete(s.Hosts, scopeKey(h.Scope, h.Name))
		delete(s.Services, h.ID)
	}
	return nil
}

func (s *Store) ListServices(ctx context.Context, hostID string) ([]types.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Service(nil), s.Services[hostID]...), nil
}

func (s *Store) ReplaceServices(ctx context.Context, hostID string, services []types.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Services[hostID] = append([]types.Service(nil), services...)
	return nil
}

func (s *Store) UpsertFinding(ctx context.Context, f *types.VulnFinding) (*types.VulnFinding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := findingKey(f.Name, f.Vulnerability)
	if existing, ok := s.Findings[key]; ok {
		f.ID = existing.ID
		cp := *f
		s.Findings[key] = &cp
		return f, false, nil
	}
	f.ID = uuid.New().String()
	cp := *f
	s.Findings[key] = &cp
	return f, true, nil
}

func (s *Store) FindFinding(ctx context.Context, name, vulnerability string) (*types.VulnFinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.Findings[findingKey(name, vulnerability)]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) ListFindings(ctx context.Context, filter core.FindingFilter) ([]types.VulnFinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.VulnFinding
	for _, f := range s.Findings {
		if filter.Name != "" && f.Name != filter.Name {
			continue
		}
		if filter.Scope != "" && f.Scope != filter.Scope {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, st := range filter.Statuses {
				if f.TFP == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if filter.DetectedAfter != nil && !f.DetectionDate.After(*filter.DetectedAfter) {
			continue
		}
		if filter.BumpBefore != nil && !f.BumpDate.Before(*filter.BumpBefore) {
			continue
		}
		if filter.LastBefore != nil && !f.LastDate.Before(*filter.LastBefore) {
			continue
		}
		out = append(out, *f)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) SearchFindings(ctx context.Context, term string, limit int) ([]types.VulnFinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.VulnFinding
	for _, f := range s.Findings {
		if strings.Contains(f.FullURI, term) ||
			strings.Contains(f.Vulnerability, term) ||
			strings.Contains(f.Metadata, term) {
			out = append(out, *f)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) SaveFinding(ctx context.Context, f *types.VulnFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := findingKey(f.Name, f.Vulnerability)
	if _, ok := s.Findings[key]; !ok {
		return fmt.Errorf("finding %s not found", key)
	}
	cp := *f
	s.Findings[key] = &cp
	return nil
}

func (s *Store) DeleteFindings(ctx context.Context, findings []types.VulnFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range findings {
		delete(s.Findings, findingKey(f.Name, f.Vulnerability))
	}
	return nil
}

func (s *Store) PurgeFindings(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.Findings))
	s.Findings = map[string]*types.VulnFinding{}
	return n, nil
}

func (s *Store) SaveJob(ctx context.Context, j *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	cp := *j
	s.Jobs[j.Name] = &cp
	return nil
}

func (s *Store) GetJob(ctx context.Context, name string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.Jobs[name]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) ListJobs(ctx context.Context) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Job
	for _, j := range s.Jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (s *Store) DeleteJob(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Jobs, name)
	return nil
}

func (s *Store) Close() error { return nil }

// Sink records every emitted event in order.
type Sink struct {
	mu     sync.Mutex
	Events []core.Event
	Fail   bool
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Emit(ctx context.Context, event core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return fmt.Errorf("sink unavailable")
	}
	s.Events = append(s.Events, event)
	return nil
}

// Named returns the events whose "event" field equals name.
func (s *Sink) Named(name string) []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Event
	for _, e := range s.Events {
		if e["event"] == name {
			out = append(out, e)
		}
	}
	return out
}
