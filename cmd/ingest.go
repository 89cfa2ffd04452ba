package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/internal/recon"
	"github.com/edgewatch/edgewatch/internal/vulns"
	"github.com/edgewatch/edgewatch/pkg/parsers"
	"github.com/edgewatch/edgewatch/pkg/registry"
	"github.com/edgewatch/edgewatch/pkg/tracker"
	"github.com/edgewatch/edgewatch/pkg/types"
)

var (
	ingestFile    string
	ingestTag     string
	ingestScope   string
	ingestMode    string
	ingestVerbose bool
	bruteProtocol string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest scanner output into the record store",
}

var ingestDomainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "Ingest subdomain enumeration lines ([Source] name info)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runParser("domains")
	},
}

var ingestHostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Ingest grep-format port scan lines (Host: ip (name)  Ports: ...)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runParser("hosts")
	},
}

var ingestVulnsCmd = &cobra.Command{
	Use:   "vulns",
	Short: "Ingest vulnerability probe lines and record findings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVulnIngest()
	},
}

var ingestBruteCmd = &cobra.Command{
	Use:   "brute",
	Short: "Ingest credential brute-force results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runParser("brute-" + bruteProtocol)
	},
}

var ingestTargetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Reconcile a plain list of target names under a work mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTargetIngest()
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(ingestDomainsCmd, ingestHostsCmd, ingestVulnsCmd, ingestBruteCmd, ingestTargetsCmd)

	ingestCmd.PersistentFlags().StringVarP(&ingestFile, "file", "f", "-", "input file ('-' for stdin)")
	ingestCmd.PersistentFlags().StringVarP(&ingestTag, "tag", "t", types.DefaultTag, "grouping tag for this batch")
	ingestCmd.PersistentFlags().StringVarP(&ingestScope, "scope", "s", "E", "scope (E=external, I=internal)")
	ingestCmd.PersistentFlags().StringVarP(&ingestMode, "mode", "m", "merge", "work mode (merge, sync, delete, deletebytag)")
	ingestCmd.PersistentFlags().BoolVarP(&ingestVerbose, "verbose", "v", false, "print per-line progress")

	ingestBruteCmd.Flags().StringVarP(&bruteProtocol, "protocol", "p", "ssh", "protocol (ssh, ftp, rdp, telnet, smb)")
}

func openInput() (*os.File, func(), error) {
	if ingestFile == "" || ingestFile == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(ingestFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func parserDeps() parsers.Deps {
	return parsers.Deps{
		Store:    store,
		Resolver: registry.NewResolver(store, log),
		Sink:     sink,
		Logger:   log,
	}
}

func runParser(format string) error {
	in, done, err := openInput()
	if err != nil {
		return err
	}
	defer done()

	parser, err := parsers.NewRegistry().Get(format, parserDeps())
	if err != nil {
		return err
	}

	stats, err := parser.Parse(cmdContext(), in, parsers.Options{
		Tag:     ingestTag,
		Scope:   types.ParseScope(ingestScope),
		Verbose: ingestVerbose,
	})
	if err != nil {
		return err
	}

	summaryLine("%s: %d lines, %d created, %d updated, %d skipped, %d deltas\n",
		format, stats.Lines, stats.Created, stats.Updated, stats.Skipped, stats.Deltas)
	return nil
}

// runVulnIngest feeds probe lines through the nuclei parser (host probe
// text and probe deltas) and then records each parsed line as a triable
// finding.
func runVulnIngest() error {
	in, done, err := openInput()
	if err != nil {
		return err
	}
	defer done()

	ctx := cmdContext()
	scope := types.ParseScope(ingestScope)
	manager := vulns.NewManager(store, sink, tracker.New(cfg.Tracker, log), log)

	data, err := readAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	parser, err := parsers.NewRegistry().Get("nuclei", parserDeps())
	if err != nil {
		return err
	}
	stats, err := parser.Parse(ctx, bytesReader(data), parsers.Options{
		Tag:     ingestTag,
		Scope:   scope,
		Verbose: ingestVerbose,
	})
	if err != nil {
		return err
	}

	recorded := 0
	for _, line := range splitLines(data) {
		pl, ok := parsers.ParseProbeLine(line)
		if !ok {
			continue
		}
		f := &types.VulnFinding{
			Name:          pl.Host,
			Vulnerability: pl.Vulnerability,
			Level:         pl.Severity,
			Scope:         scope,
			Engine:        pl.Engine,
			Port:          pl.Port,
		}
		f.SetURI(pl.URI)
		if _, err := manager.Ingest(ctx, f); err != nil {
			return err
		}
		recorded++
	}

	summaryLine("vulns: %d lines, %d findings recorded, %d skipped, %d deltas\n",
		stats.Lines, recorded, stats.Skipped, stats.Deltas)
	return nil
}

func runTargetIngest() error {
	in, done, err := openInput()
	if err != nil {
		return err
	}
	defer done()

	mode, ok := types.ParseWorkMode(ingestMode)
	if !ok {
		return fmt.Errorf("unknown work mode %q", ingestMode)
	}

	data, err := readAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	var batch []recon.Record
	for _, line := range splitLines(data) {
		if line != "" {
			batch = append(batch, recon.Record{Name: line})
		}
	}

	engine := recon.NewEngine(store, registry.NewResolver(store, log), sink, log)
	stats, err := engine.Ingest(cmdContext(), batch, ingestTag, types.ParseScope(ingestScope), mode)
	if err != nil {
		return err
	}

	summaryLine("targets: %d created, %d updated, %d deleted, %d skipped\n",
		stats.Created, stats.Updated, stats.Deleted, stats.Skipped)
	return nil
}
