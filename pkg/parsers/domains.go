package parsers

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/pkg/classify"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// domainLineRE matches subdomain enumeration output of the form
// "[Source1][Source2] name.example.com optional free-text origin".
var domainLineRE = regexp.MustCompile(`^((?:\[[^\]\s]+\])+)\s+(\S+)\s*(.*)$`)

// DomainParser ingests subdomain enumeration lines into the discovery
// table. Uniqueness on name is load-bearing: a resighting updates the
// existing row in place.
type DomainParser struct {
	deps Deps
	now  func() time.Time
}

func NewDomainParser(deps Deps) *DomainParser {
	return &DomainParser{
		deps: deps,
		now:  time.Now,
	}
}

func (p *DomainParser) Name() string { return "domains" }

func (p *DomainParser) Parse(ctx context.Context, r io.Reader, opts Options) (Stats, error) {
	var stats Stats
	log := p.deps.Logger.WithComponent("parser.domains")
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stats.Lines++

		m := domainLineRE.FindStringSubmatch(line)
		if m == nil {
			log.Debugw("unparseable discovery line, skipping", "line", line)
			stats.Skipped++
			continue
		}
		sources, name, info := m[1], strings.ToLower(m[2]), strings.TrimSpace(m[3])

		meta, raw, err := p.deps.Resolver.Resolve(ctx, name, opts.Scope)
		if err != nil {
			log.Warnw("metadata resolution failed, skipping line", "name", name, "error", err)
			stats.Skipped++
			continue
		}

		existing, err := p.deps.Store.FindDiscovery(ctx, name)
		if err != nil {
			log.Warnw("discovery lookup failed, skipping line", "name", name, "error", err)
			stats.Skipped++
			continue
		}

		if existing != nil {
			existing.Info = info
			existing.Tag = mergeSourceTags(existing.Tag, sources)
			existing.LastDate = p.now().UTC()
			if _, _, err := p.deps.Store.UpsertDiscovery(ctx, existing); err != nil {
				log.Warnw("discovery update failed, skipping line", "name", name, "error", err)
				stats.Skipped++
				continue
			}
			stats.Updated++
			if opts.Verbose {
				log.Infow("discovery refreshed", "name", name, "sources", sources)
			}
			continue
		}

		created, inserted, err := p.deps.Store.UpsertDiscovery(ctx, newDiscovery(name, sources, info, meta.Owner, raw, p.now().UTC()))
		if err != nil {
			log.Warnw("discovery insert failed, skipping line", "name", name, "error", err)
			stats.Skipped++
			continue
		}
		if !inserted {
			// Concurrent writer got there first. Treat as refresh.
			stats.Updated++
			continue
		}
		stats.Created++

		// The resolved metadata is merged over the message so downstream
		// consumers see ownership without a second lookup.
		event := core.Event{
			"event": "new domain found",
			"name":  created.Name,
			"type":  created.Type,
			"info":  created.Info,
			"tag":   created.Tag,
			"owner": meta.Owner,
			"scope": meta.Scope,
		}
		if err := p.deps.Sink.Emit(ctx, event); err != nil {
			return stats, err
		}
		stats.Deltas++
		if opts.Verbose {
			log.Infow("new discovery", "name", name, "sources", sources)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}

	log.Infow("discovery ingestion finished",
		"lines", stats.Lines, "created", stats.Created,
		"updated", stats.Updated, "skipped", stats.Skipped)
	return stats, nil
}

// mergeSourceTags appends the bracket tags from sources that existing does
// not already carry, preserving order of first sighting.
func mergeSourceTags(existing, sources string) string {
	out := existing
	for _, tag := range splitBracketTags(sources) {
		if !strings.Contains(out, tag) {
			out += tag
		}
	}
	return out
}

func splitBracketTags(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "][") {
		part = strings.Trim(part, "[]")
		if part != "" {
			out = append(out, "["+part+"]")
		}
	}
	return out
}

func newDiscovery(name, sources, info, owner, raw string, now time.Time) *types.Discovery {
	return &types.Discovery{
		Name:     name,
		Type:     string(classify.Classify(name)),
		Tag:      sources,
		Info:     info,
		Owner:    owner,
		LastDate: now,
		Metadata: raw,
	}
}
