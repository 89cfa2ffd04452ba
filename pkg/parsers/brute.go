package parsers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// BruteProtocols lists the per-protocol credential fields a host record
// carries.
var BruteProtocols = []string{"ssh", "ftp", "rdp", "telnet", "smb"}

// BruteParser ingests credential brute-force results for one protocol.
// Two line shapes are accepted: comma-separated rows whose fourth column
// is a status code (zero means success), and plain whitespace rows
// "host user password" where every non-comment line is a success.
type BruteParser struct {
	deps     Deps
	protocol string
	now      func() time.Time
}

func NewBruteParser(deps Deps, protocol string) *BruteParser {
	return &BruteParser{
		deps:     deps,
		protocol: protocol,
		now:      time.Now,
	}
}

func (p *BruteParser) Name() string { return "brute-" + p.protocol }

func (p *BruteParser) Parse(ctx context.Context, r io.Reader, opts Options) (Stats, error) {
	var stats Stats
	log := p.deps.Logger.WithComponent("parser.brute").WithFields("protocol", p.protocol)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		stats.Lines++

		host, user, pass, ok := parseBruteLine(line)
		if !ok {
			log.Debugw("unparseable or unsuccessful row, skipping", "line", line)
			stats.Skipped++
			continue
		}

		record, err := p.deps.Store.FindHost(ctx, opts.Scope, host)
		if err != nil {
			log.Warnw("host lookup failed, skipping row", "name", host, "error", err)
			stats.Skipped++
			continue
		}
		if record == nil {
			log.Warnw("credential hit for unknown host, skipping row", "name", host)
			stats.Skipped++
			continue
		}

		entry := fmt.Sprintf("%s:%s", user, pass)
		appendCredential(record, p.protocol, entry)
		record.LastDate = p.now().UTC()
		if _, _, err := p.deps.Store.UpsertHost(ctx, record); err != nil {
			log.Warnw("host update failed, skipping row", "name", host, "error", err)
			stats.Skipped++
			continue
		}
		stats.Updated++

		event := core.Event{
			"event":    "bruteforce",
			"name":     host,
			"protocol": p.protocol,
			"user":     user,
			"password": pass,
		}
		if err := p.deps.Sink.Emit(ctx, event); err != nil {
			return stats, err
		}
		stats.Deltas++
		if opts.Verbose {
			log.Infow("credentials found", "name", host, "user", user)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}

	log.Infow("bruteforce ingestion finished",
		"lines", stats.Lines, "updated", stats.Updated,
		"skipped", stats.Skipped, "deltas", stats.Deltas)
	return stats, nil
}

// parseBruteLine decodes one result row. CSV rows report success through a
// zero status column; plain rows are successes by presence.
func parseBruteLine(line string) (host, user, pass string, ok bool) {
	if strings.Contains(line, ",") {
		fields := strings.Split(line, ",")
		if len(fields) < 4 {
			return "", "", "", false
		}
		if strings.TrimSpace(fields[3]) != "0" {
			return "", "", "", false
		}
		return strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1]), strings.TrimSpace(fields[2]), true
	}

	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", "", "", false
	}
	return fields[0], fields[1], fields[2], true
}

// appendCredential adds entry to the host's per-protocol credential field,
// once.
func appendCredential(h *types.HostRecord, protocol, entry string) {
	field := bruteField(h, protocol)
	if strings.Contains(*field, entry) {
		return
	}
	if *field == "" {
		*field = entry
	} else {
		*field += "\n" + entry
	}
}

func bruteField(h *types.HostRecord, protocol string) *string {
	switch protocol {
	case "ftp":
		return &h.FTP
	case "rdp":
		return &h.RDP
	case "telnet":
		return &h.Telnet
	case "smb":
		return &h.SMB
	default:
		return &h.SSH
	}
}
