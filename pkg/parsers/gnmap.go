package parsers

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/classify"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// hostSegmentRE matches the "Host: <ip> (<name>)" half of a grep-format
// port scan line. The name may be empty for unresolved hosts.
var hostSegmentRE = regexp.MustCompile(`Host:\s+(\S+)\s+\(([^)]*)\)`)

// HostParser ingests grep-format port scan lines
// ("Host: ip (name)\tPorts: p/s/proto/owner/name/rpc/ver, ..."). A first
// sighting announces the host and each service; a resighting diffs the new
// service set against the stored one by structural equality.
type HostParser struct {
	deps Deps
	now  func() time.Time
}

func NewHostParser(deps Deps) *HostParser {
	return &HostParser{
		deps: deps,
		now:  time.Now,
	}
}

func (p *HostParser) Name() string { return "hosts" }

func (p *HostParser) Parse(ctx context.Context, r io.Reader, opts Options) (Stats, error) {
	var stats Stats
	log := p.deps.Logger.WithComponent("parser.hosts")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		stats.Lines++

		ip, name, services, ok := parseGnmapLine(line)
		if !ok {
			log.Debugw("unparseable host line, skipping", "line", line)
			stats.Skipped++
			continue
		}
		if name == "" {
			name = ip
		}

		deltas, err := p.ingestHost(ctx, ip, name, line, services, opts, log)
		if err != nil {
			return stats, err
		}
		switch {
		case deltas.inserted:
			stats.Created++
		default:
			stats.Updated++
		}
		stats.Deltas += deltas.emitted
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}

	log.Infow("host ingestion finished",
		"lines", stats.Lines, "created", stats.Created,
		"updated", stats.Updated, "skipped", stats.Skipped,
		"deltas", stats.Deltas)
	return stats, nil
}

type hostResult struct {
	inserted bool
	emitted  int
}

func (p *HostParser) ingestHost(ctx context.Context, ip, name, rawLine string, services []types.Service, opts Options, log *logger.Logger) (hostResult, error) {
	var res hostResult

	meta, raw, err := p.deps.Resolver.Resolve(ctx, name, opts.Scope)
	if err != nil {
		log.Warnw("metadata resolution failed, skipping host", "name", name, "error", err)
		return res, nil
	}

	existing, err := p.deps.Store.FindHost(ctx, opts.Scope, name)
	if err != nil {
		log.Warnw("host lookup failed, skipping host", "name", name, "error", err)
		return res, nil
	}

	now := p.now().UTC()
	summary := portSummary(services)

	if existing == nil {
		host := &types.HostRecord{
			Name:      name,
			IPv4:      ip,
			Scope:     opts.Scope,
			Tag:       opts.Tag,
			Ports:     summary,
			FullPorts: encodeServices(services),
			InfoGnmap: rawLine,
			Owner:     meta.Owner,
			LastDate:  now,
			Metadata:  raw,
		}
		created, inserted, err := p.deps.Store.UpsertHost(ctx, host)
		if err != nil {
			log.Warnw("host insert failed, skipping host", "name", name, "error", err)
			return res, nil
		}
		if err := p.deps.Store.ReplaceServices(ctx, created.ID, services); err != nil {
			log.Warnw("service rows write failed", "name", name, "error", err)
			return res, nil
		}
		if !inserted {
			return res, nil
		}
		res.inserted = true

		event := core.Event{
			"event": "new host",
			"name":  name,
			"type":  string(classify.Classify(name)),
			"ipv4":  ip,
			"tag":   opts.Tag,
			"owner": meta.Owner,
			"scope": meta.Scope,
		}
		if err := p.deps.Sink.Emit(ctx, event); err != nil {
			return res, err
		}
		res.emitted++
		for _, svc := range services {
			if err := p.deps.Sink.Emit(ctx, serviceEvent("new service", name, svc)); err != nil {
				return res, err
			}
			res.emitted++
		}
		if opts.Verbose {
			log.Infow("new host", "name", name, "services", len(services))
		}
		return res, nil
	}

	// Resight: diff against the stored service rows before overwriting
	// anything, since the stored set is the only record of what was open.
	previous, err := p.deps.Store.ListServices(ctx, existing.ID)
	if err != nil {
		log.Warnw("service rows read failed, skipping host", "name", name, "error", err)
		return res, nil
	}

	opened, closed := diffServices(previous, services)
	for _, svc := range opened {
		if err := p.deps.Sink.Emit(ctx, serviceEvent("new service found", name, svc)); err != nil {
			return res, err
		}
		res.emitted++
	}
	for _, svc := range closed {
		if err := p.deps.Sink.Emit(ctx, serviceEvent("service closed", name, svc)); err != nil {
			return res, err
		}
		res.emitted++
	}

	existing.IPv4 = ip
	existing.Ports = summary
	existing.FullPorts = encodeServices(services)
	existing.InfoGnmap = rawLine
	existing.LastDate = now
	existing.Metadata = raw
	if _, _, err := p.deps.Store.UpsertHost(ctx, existing); err != nil {
		log.Warnw("host update failed", "name", name, "error", err)
		return res, nil
	}
	if err := p.deps.Store.ReplaceServices(ctx, existing.ID, services); err != nil {
		log.Warnw("service rows write failed", "name", name, "error", err)
		return res, nil
	}
	if opts.Verbose {
		log.Infow("host refreshed", "name", name,
			"opened", len(opened), "closed", len(closed))
	}
	return res, nil
}

// parseGnmapLine splits one grep-format line into ip, hostname, and the
// parsed service descriptors. Lines without a Ports segment (status-only
// lines) are rejected.
func parseGnmapLine(line string) (ip, name string, services []types.Service, ok bool) {
	m := hostSegmentRE.FindStringSubmatch(line)
	if m == nil {
		return "", "", nil, false
	}
	ip, name = m[1], strings.TrimSpace(m[2])

	idx := strings.Index(line, "Ports:")
	if idx < 0 {
		return "", "", nil, false
	}
	segment := line[idx+len("Ports:"):]
	// Later tab-separated segments (Ignored State etc.) are not services.
	if tab := strings.IndexByte(segment, '\t'); tab >= 0 {
		segment = segment[:tab]
	}
	for _, field := range strings.Split(segment, ",") {
		svc, ok := ParseService(strings.TrimSpace(field))
		if !ok {
			continue
		}
		services = append(services, svc)
	}
	return ip, name, services, true
}

// ParseService decodes one 7-field slash-delimited service descriptor.
// Field positions are a wire contract; short descriptors are rejected.
func ParseService(s string) (types.Service, bool) {
	fields := strings.Split(s, "/")
	if len(fields) < 7 {
		return types.Service{}, false
	}
	return types.Service{
		Port:     fields[0],
		State:    fields[1],
		Protocol: fields[2],
		Owner:    fields[3],
		Name:     fields[4],
		RPCInfo:  fields[5],
		Version:  strings.Join(fields[6:], "/"),
	}, true
}

// diffServices returns the services present only in next (opened) and only
// in prev (closed), compared by structural equality across all 7 fields.
func diffServices(prev, next []types.Service) (opened, closed []types.Service) {
	for _, n := range next {
		if !containsService(prev, n) {
			opened = append(opened, n)
		}
	}
	for _, o := range prev {
		if !containsService(next, o) {
			closed = append(closed, o)
		}
	}
	return opened, closed
}

func containsService(set []types.Service, svc types.Service) bool {
	for _, s := range set {
		if s.Equal(svc) {
			return true
		}
	}
	return false
}

func serviceEvent(kind, host string, svc types.Service) core.Event {
	return core.Event{
		"event":    kind,
		"name":     host,
		"port":     svc.Port,
		"protocol": svc.Protocol,
		"state":    svc.State,
		"service":  svc.Name,
		"version":  svc.Version,
	}
}

func portSummary(services []types.Service) string {
	parts := make([]string, 0, len(services))
	for _, svc := range services {
		parts = append(parts, svc.Port+"/"+svc.Protocol)
	}
	return strings.Join(parts, ",")
}

func encodeServices(services []types.Service) string {
	parts := make([]string, 0, len(services))
	for _, svc := range services {
		parts = append(parts, svc.Encode())
	}
	return strings.Join(parts, ", ")
}
