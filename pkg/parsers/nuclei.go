package parsers

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// ProbeLine is one decoded vulnerability probe result.
type ProbeLine struct {
	Vulnerability string
	Engine        string
	Severity      types.Severity
	Host          string
	Port          string
	URI           string
	Raw           string
}

var (
	bracketFieldRE = regexp.MustCompile(`\[([^\]]*)\]`)

	// Host/port extraction cascade, tried in decreasing specificity. The
	// first matching pattern wins; domain patterns would also match raw
	// IPs, so the IP forms come first within each specificity tier.
	uriHostPortRE = regexp.MustCompile(`^(?:[a-z][a-z0-9+.-]*://)?([A-Za-z0-9][A-Za-z0-9.-]*):(\d{1,5})`)
	uriSchemeRE   = regexp.MustCompile(`^(https?)://([A-Za-z0-9][A-Za-z0-9.-]*)`)
	uriBareRE     = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9.-]*)`)
)

// ParseProbeLine decodes one bracket/whitespace-delimited probe line:
// an optional timestamp bracket, the vulnerability identifier, the engine
// tag, an optional severity, and a trailing URI.
func ParseProbeLine(line string) (ProbeLine, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "[") {
		return ProbeLine{}, false
	}

	fields := bracketFieldRE.FindAllStringSubmatch(line, -1)
	if len(fields) == 0 {
		return ProbeLine{}, false
	}

	// A leading date-stamp bracket is metadata, not the identifier.
	values := make([]string, 0, len(fields))
	for _, f := range fields {
		v := strings.TrimSpace(f[1])
		if v == "" || looksLikeTimestamp(v) {
			continue
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return ProbeLine{}, false
	}

	tokens := strings.Fields(line)
	uri := tokens[len(tokens)-1]
	if strings.HasPrefix(uri, "[") {
		// No trailing URI on this line.
		return ProbeLine{}, false
	}

	pl := ProbeLine{
		Vulnerability: values[0],
		URI:           uri,
		Raw:           line,
	}
	if len(values) > 1 {
		pl.Engine = values[1]
	}
	if len(values) > 2 {
		pl.Severity = parseSeverity(values[2])
	} else {
		pl.Severity = types.SeverityMedium
	}

	host, port, ok := HostPortFromURI(uri)
	if !ok {
		return ProbeLine{}, false
	}
	pl.Host = host
	pl.Port = port
	return pl, true
}

// HostPortFromURI extracts host and port from a probe URI using the
// decreasing-specificity cascade: explicit host:port, then scheme with a
// default port (https 443, http 80), then a bare host with no port.
func HostPortFromURI(uri string) (host, port string, ok bool) {
	if m := uriHostPortRE.FindStringSubmatch(uri); m != nil {
		return strings.ToLower(m[1]), m[2], true
	}
	if m := uriSchemeRE.FindStringSubmatch(uri); m != nil {
		port := "80"
		if m[1] == "https" {
			port = "443"
		}
		return strings.ToLower(m[2]), port, true
	}
	if m := uriBareRE.FindStringSubmatch(uri); m != nil {
		return strings.ToLower(m[1]), "", true
	}
	return "", "", false
}

func looksLikeTimestamp(s string) bool {
	if len(s) < 10 {
		return false
	}
	// "2026-08-31 10:04:05" or RFC3339-ish.
	return s[4] == '-' && s[7] == '-'
}

func parseSeverity(s string) types.Severity {
	switch strings.ToLower(s) {
	case "critical":
		return types.SeverityCritical
	case "high":
		return types.SeverityHigh
	case "low", "info", "unknown":
		return types.SeverityLow
	default:
		return types.SeverityMedium
	}
}

// NucleiParser ingests vulnerability probe lines. The stored per-host
// probe text follows a first-touch-clears rule: the first line for a host
// within one run replaces the stored blob (after snapshotting it for
// dedup), later lines append. A delta fires only for lines absent from the
// pre-run snapshot.
type NucleiParser struct {
	deps Deps
	now  func() time.Time

	// Per-run state. A parser instance serves exactly one run.
	snapshots map[string]string
	cleared   map[string]bool
}

func NewNucleiParser(deps Deps) *NucleiParser {
	return &NucleiParser{
		deps:      deps,
		now:       time.Now,
		snapshots: map[string]string{},
		cleared:   map[string]bool{},
	}
}

func (p *NucleiParser) Name() string { return "nuclei" }

func (p *NucleiParser) Parse(ctx context.Context, r io.Reader, opts Options) (Stats, error) {
	var stats Stats
	log := p.deps.Logger.WithComponent("parser.nuclei")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		stats.Lines++

		pl, ok := ParseProbeLine(raw)
		if !ok {
			log.Debugw("unparseable probe line, skipping", "line", raw)
			stats.Skipped++
			continue
		}

		host, err := p.touchHost(ctx, pl, opts)
		if err != nil {
			log.Warnw("probe line not recorded, skipping", "host", pl.Host, "error", err)
			stats.Skipped++
			continue
		}
		stats.Updated++

		if strings.Contains(p.snapshots[hostKey(opts.Scope, host.Name)], pl.Raw) {
			// Already known before this run started.
			continue
		}
		event := core.Event{
			"event":         "new vulnerability found",
			"name":          host.Name,
			"port":          pl.Port,
			"vulnerability": pl.Vulnerability,
			"engine":        pl.Engine,
			"level":         string(pl.Severity),
			"uri":           pl.URI,
		}
		if err := p.deps.Sink.Emit(ctx, event); err != nil {
			return stats, err
		}
		stats.Deltas++
		if opts.Verbose {
			log.Infow("probe hit", "name", host.Name,
				"vulnerability", pl.Vulnerability, "uri", pl.URI)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}

	log.Infow("probe ingestion finished",
		"lines", stats.Lines, "updated", stats.Updated,
		"skipped", stats.Skipped, "deltas", stats.Deltas)
	return stats, nil
}

// touchHost applies the first-touch-clears/then-appends rule to the host's
// stored probe text, creating the host row when it does not exist yet.
func (p *NucleiParser) touchHost(ctx context.Context, pl ProbeLine, opts Options) (*types.HostRecord, error) {
	key := hostKey(opts.Scope, pl.Host)
	host, err := p.deps.Store.FindHost(ctx, opts.Scope, pl.Host)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	if host == nil {
		meta, raw, err := p.deps.Resolver.Resolve(ctx, pl.Host, opts.Scope)
		if err != nil {
			return nil, err
		}
		host = &types.HostRecord{
			Name:     pl.Host,
			Scope:    opts.Scope,
			Tag:      opts.Tag,
			Owner:    meta.Owner,
			Metadata: raw,
		}
	}

	if !p.cleared[key] {
		p.snapshots[key] = host.NucleiOut
		p.cleared[key] = true
		host.NucleiOut = pl.Raw
	} else {
		host.NucleiOut += "\n" + pl.Raw
	}
	host.LastDate = now

	if _, _, err := p.deps.Store.UpsertHost(ctx, host); err != nil {
		return nil, err
	}
	return host, nil
}

func hostKey(scope types.Scope, name string) string {
	return string(scope) + "/" + name
}
