package commands

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/internal/app"
)

func newTestJobCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test-job ID",
		Short: "Run one job and print its filtered data without saving",
		Long: `Run one job and print the data after filtering. Nothing is saved and
cached responses are ignored. ID is a job number, a negative number counted
from the end, or the job's URL or command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				return a.Orchestrator.TestJob(cmd.Context(), args[0])
			})
		},
	}
}

func newTestDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-diff ID",
		Short: "Show the diffs between the stored snapshots of a job",
		Long: `Compute the diff between every pair of consecutive stored snapshots of a
job with its current differ and diff filters. Useful to tune diff_filter.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reporter, _ := cmd.Flags().GetString("reporter")
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				return a.Orchestrator.TestDiff(cmd.Context(), args[0], reporter)
			})
		},
	}

	cmd.Flags().String("reporter", "stdout", "send the diffs through this reporter")

	return cmd
}

func newDumpHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-history ID",
		Short: "Print every stored snapshot of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				return a.Orchestrator.DumpHistory(cmd.Context(), args[0])
			})
		},
	}
}

func newDeleteSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-snapshot ID",
		Short: "Delete the latest stored snapshot of a job",
		Long:  `Delete the latest stored snapshot of a job. Exits with 1 when there is none.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				return a.Orchestrator.DeleteSnapshot(cmd.Context(), args[0])
			})
		},
	}
}

func newChangeLocationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "change-location ID NEW_LOCATION",
		Short: "Move the snapshots of a job to a new URL or command",
		Long: `Move the stored snapshots of a job to the identifier of its new URL or
command, so its history survives the change. Run this before editing the
jobs file, then update the job's location.`,
		Example: `  vahti change-location https://old.example.com/ https://new.example.com/`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				return a.Orchestrator.ChangeLocation(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func newTestReporterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test-reporter NAME",
		Short: "Send a sample report through one reporter",
		Long: `Send a report holding one sample job of every kind of result (new,
changed, unchanged and error) through the named reporter, even when it is
not enabled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{SkipJobs: true}, func(a *app.App) error {
				return a.Orchestrator.TestReporter(cmd.Context(), args[0])
			})
		},
	}
}

func newFeaturesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "List the supported job kinds, filters, differs and reporters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{SkipJobs: true}, func(a *app.App) error {
				a.Orchestrator.Features(a.Kinds)
				return nil
			})
		},
	}
}
