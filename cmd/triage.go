package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/internal/vulns"
	"github.com/edgewatch/edgewatch/pkg/tracker"
	"github.com/edgewatch/edgewatch/pkg/types"
)

var (
	triageName   string
	filterTrue   bool
	filterFalse  bool
	filterBump   bool
	filterNew    bool
	filterOld    bool
	deleteVuln   string
	deleteSearch string
)

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Triage vulnerability findings",
}

var triageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List findings matched by the filter flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		selected, err := triageManager().Select(cmdContext(), triageName, triageFilters())
		if err != nil {
			return err
		}
		for _, f := range selected {
			line := fmt.Sprintf("%-8s %-30s %-40s tfp=%-2d %s",
				f.Level, f.Name, f.Vulnerability, f.TFP, f.PTime)
			switch f.Level {
			case types.SeverityCritical:
				color.Red("%s\n", line)
			case types.SeverityHigh:
				color.Yellow("%s\n", line)
			default:
				fmt.Println(line)
			}
		}
		summaryLine("%d findings\n", len(selected))
		return nil
	},
}

var triageMarkCmd = &cobra.Command{
	Use:   "mark {true|false|unset}",
	Short: "Bulk-set the triage status on the filtered findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var status types.TriageStatus
		switch args[0] {
		case "true":
			status = types.TriageTruePositive
		case "false":
			status = types.TriageFalsePositive
		case "unset":
			status = types.TriageUnset
		default:
			return fmt.Errorf("unknown triage status %q (want true, false, or unset)", args[0])
		}

		changed, err := triageManager().SetTriage(cmdContext(), triageName, triageFilters(), status)
		if err != nil {
			return err
		}
		summaryLine("%d findings marked %s\n", changed, args[0])
		return nil
	},
}

var triagePtimeCmd = &cobra.Command{
	Use:   "ptime <code>",
	Short: "Bulk-override the review deadline code on the filtered findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, err := triageManager().SetPtime(cmdContext(), triageName, triageFilters(), args[0])
		if err != nil {
			return err
		}
		summaryLine("%d findings rescheduled to %s\n", changed, args[0])
		return nil
	},
}

var triageDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete findings by exact key, by host name, or by free-text search",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := triageManager()
		ctx := cmdContext()
		switch {
		case deleteSearch != "":
			n, err := m.DeleteBySearch(ctx, deleteSearch)
			if err != nil {
				return err
			}
			summaryLine("%d findings deleted\n", n)
		case triageName != "" && deleteVuln != "":
			if err := m.Delete(ctx, triageName, deleteVuln); err != nil {
				return err
			}
			summaryLine("finding deleted\n")
		case triageName != "":
			n, err := m.DeleteByName(ctx, triageName)
			if err != nil {
				return err
			}
			summaryLine("%d findings deleted\n", n)
		default:
			return fmt.Errorf("specify --name, --name with --vulnerability, or --search")
		}
		return nil
	},
}

var triagePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every finding unconditionally (emits no deltas)",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := triageManager().Purge(cmdContext())
		if err != nil {
			return err
		}
		warnLine("%d findings purged\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(triageCmd)
	triageCmd.AddCommand(triageListCmd, triageMarkCmd, triagePtimeCmd, triageDeleteCmd, triagePurgeCmd)

	triageCmd.PersistentFlags().StringVarP(&triageName, "name", "n", "", "limit to one host name")
	triageCmd.PersistentFlags().BoolVar(&filterTrue, "true", false, "select true positives")
	triageCmd.PersistentFlags().BoolVar(&filterFalse, "false", false, "select false positives")
	triageCmd.PersistentFlags().BoolVar(&filterBump, "bump", false, "select untriaged findings")
	triageCmd.PersistentFlags().BoolVar(&filterNew, "new", false, "select untriaged findings detected within 7 days")
	triageCmd.PersistentFlags().BoolVar(&filterOld, "old", false, "select untriaged findings older than 7 days")

	triageDeleteCmd.Flags().StringVar(&deleteVuln, "vulnerability", "", "vulnerability identifier (with --name)")
	triageDeleteCmd.Flags().StringVar(&deleteSearch, "search", "", "free-text search over uri/vulnerability/metadata")
}

func triageManager() *vulns.Manager {
	return vulns.NewManager(store, sink, tracker.New(cfg.Tracker, log), log)
}

func triageFilters() vulns.Filters {
	return vulns.Filters{
		True:  filterTrue,
		False: filterFalse,
		Bump:  filterBump,
		New:   filterNew,
		Old:   filterOld,
	}
}
