package cmd

import (
	"github.com/spf13/cobra"
)

var retentionDays int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Periodic maintenance sweeps over the finding store",
}

var sweepBumpCmd = &cobra.Command{
	Use:   "bump",
	Short: "Alert on findings whose review deadline has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := triageManager().SweepBump(cmdContext())
		if err != nil {
			return err
		}
		summaryLine("%d unattended findings alerted\n", n)
		return nil
	},
}

var sweepRetentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Expire findings unseen for longer than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		days := retentionDays
		if days <= 0 {
			days = cfg.Triage.RetentionDays
		}
		n, err := triageManager().SweepRetention(cmdContext(), days)
		if err != nil {
			return err
		}
		summaryLine("%d expired findings deleted\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.AddCommand(sweepBumpCmd, sweepRetentionCmd)

	sweepRetentionCmd.Flags().IntVar(&retentionDays, "days", 0, "retention window in days (0 = configured default)")
}
