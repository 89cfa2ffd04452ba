package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/probe"
)

var (
	probeCodes    []string
	probeBase     string
	probeWordlist string
	probeURLFile  string
	probeJob      string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Live HTTP probing for content discovery and response codes",
}

var probeContentCmd = &cobra.Command{
	Use:   "content",
	Short: "Probe base URL x wordlist and alert on matching status codes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if probeBase == "" || probeWordlist == "" {
			return fmt.Errorf("--base and --wordlist are required")
		}
		data, err := os.ReadFile(probeWordlist)
		if err != nil {
			return fmt.Errorf("failed to read wordlist: %w", err)
		}
		urls := probe.BuildWordlistURLs(probeBase, strings.Split(string(data), "\n"))
		return runProbe(urls)
	},
}

var probeCodesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Probe a URL set and alert on matching status codes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if probeURLFile == "" {
			return fmt.Errorf("--urls is required")
		}
		data, err := os.ReadFile(probeURLFile)
		if err != nil {
			return fmt.Errorf("failed to read url list: %w", err)
		}
		var urls []string
		for _, line := range splitLines(data) {
			if line != "" && !strings.HasPrefix(line, "#") {
				urls = append(urls, line)
			}
		}
		return runProbe(urls)
	},
}

func runProbe(urls []string) error {
	codes, err := probe.ExpandCodes(probeCodes)
	if err != nil {
		return err
	}

	prober := probe.NewProber(cfg.Probe, sink, log)
	hits, err := prober.Run(cmdContext(), urls, codes, probeJob)
	if err != nil {
		return err
	}

	for _, hit := range hits {
		fmt.Printf("%d  %s\n", hit.Status, hit.URL)
	}
	summaryLine("%d of %d URLs matched\n", len(hits), len(urls))
	return nil
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.AddCommand(probeContentCmd, probeCodesCmd)

	probeCmd.PersistentFlags().StringSliceVarP(&probeCodes, "codes", "c", []string{"200"}, "status codes or Nxx ranges to alert on")
	probeCmd.PersistentFlags().StringVarP(&probeJob, "job", "j", "", "job context carried on alerts")

	probeContentCmd.Flags().StringVarP(&probeBase, "base", "b", "", "base URL")
	probeContentCmd.Flags().StringVarP(&probeWordlist, "wordlist", "w", "", "wordlist file")
	probeCodesCmd.Flags().StringVarP(&probeURLFile, "urls", "u", "", "file with one URL per line")
}
