package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/internal/jobs"
	"github.com/edgewatch/edgewatch/pkg/types"
)

var (
	jobModule   string
	jobRegexp   string
	jobExclude  string
	jobConfig   string
	jobSchedule string
	jobScope    string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage schedulable scanner jobs",
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a job bound to a scanner module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := jobsManager().Create(cmdContext(), &types.Job{
			Name:     args[0],
			Module:   jobModule,
			Regexp:   jobRegexp,
			Exclude:  jobExclude,
			Config:   jobConfig,
			Schedule: jobSchedule,
		})
		if err != nil {
			return err
		}
		summaryLine("job %s created\n", args[0])
		return nil
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a job and its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Best effort on the schedule entry: the job row goes away even
		// when the scheduler is unreachable.
		var m *jobs.Manager
		if queue, err := jobs.NewRedisQueue(cfg.Redis); err == nil {
			defer queue.Close()
			m = jobs.NewManager(store, queue, nil, log)
		} else {
			warnLine("scheduler unreachable, removing job record only: %v\n", err)
			m = jobsManager()
		}
		if err := m.Delete(cmdContext(), args[0]); err != nil {
			return err
		}
		summaryLine("job %s deleted\n", args[0])
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := jobsManager().List(cmdContext())
		if err != nil {
			return err
		}
		for _, j := range list {
			fmt.Printf("%-24s module=%-16s schedule=%-12s regexp=%q exclude=%q\n",
				j.Name, j.Module, j.Schedule, j.Regexp, j.Exclude)
		}
		summaryLine("%d jobs\n", len(list))
		return nil
	},
}

var jobsScheduleCmd = &cobra.Command{
	Use:   "schedule <name>",
	Short: "Push a job to the external timer service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, err := jobs.NewRedisQueue(cfg.Redis)
		if err != nil {
			return err
		}
		defer queue.Close()

		m := jobs.NewManager(store, queue, nil, log)
		if err := m.Schedule(cmdContext(), args[0]); err != nil {
			return err
		}
		summaryLine("job %s scheduled\n", args[0])
		return nil
	},
}

var jobsSelectCmd = &cobra.Command{
	Use:   "select <name>",
	Short: "Resolve a job's target selectors against the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := jobsManager().Select(cmdContext(), args[0], types.ParseScope(jobScope))
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		summaryLine("%d targets selected\n", len(names))
		return nil
	},
}

var jobsStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a job's scanner module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobsManager().Start(cmdContext(), args[0]); err != nil {
			return err
		}
		summaryLine("job %s started\n", args[0])
		return nil
	},
}

var jobsStopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobsManager().Stop(cmdContext(), args[0]); err != nil {
			return err
		}
		summaryLine("job %s stopped\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsCreateCmd, jobsDeleteCmd, jobsListCmd,
		jobsScheduleCmd, jobsSelectCmd, jobsStartCmd, jobsStopCmd)

	jobsCreateCmd.Flags().StringVar(&jobModule, "module", "", "scanner module binary")
	jobsCreateCmd.Flags().StringVar(&jobRegexp, "regexp", "", "target name selector")
	jobsCreateCmd.Flags().StringVar(&jobExclude, "exclude", "", "target name exclusion")
	jobsCreateCmd.Flags().StringVar(&jobConfig, "config", "", "free-text module arguments")
	jobsCreateCmd.Flags().StringVar(&jobSchedule, "schedule", "", "timer expression for the external scheduler")
	jobsSelectCmd.Flags().StringVarP(&jobScope, "scope", "s", "E", "scope (E=external, I=internal)")
}

func jobsManager() *jobs.Manager {
	return jobs.NewManager(store, nil, jobs.NewExecLauncher(log), log)
}
