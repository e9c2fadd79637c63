package commands

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/internal/app"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [joblist...]",
		Short: "Check jobs for changes and send the report",
		Long: `Check every job, or only the listed job numbers, for changes. Results are
saved to the snapshot database and reported through every enabled reporter.`,
		Example: `  vahti run
  vahti run -- 2 -1`,
		RunE: runJobs,
	}
}

func runJobs(cmd *cobra.Command, args []string) error {
	joblist, err := parseJoblist(args)
	if err != nil {
		return err
	}
	return withApp(cmd, app.Options{Joblist: joblist}, func(a *app.App) error {
		_, err := a.Orchestrator.RunJobs(cmd.Context())
		return err
	})
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs with their numbers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				a.Orchestrator.ListJobs()
				return nil
			})
		},
	}
}

func newErrorsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors [joblist...]",
		Short: "List jobs that fail or return no data",
		Long: `Run the jobs without saving anything and list those that end with an error
or return empty data after filtering. Conditional requests are still made,
so a source answering "not modified" is checked against its stored data.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			joblist, err := parseJoblist(args)
			if err != nil {
				return err
			}
			reporter, _ := cmd.Flags().GetString("reporter")
			return withApp(cmd, app.Options{Joblist: joblist}, func(a *app.App) error {
				return a.Orchestrator.ListErrorJobs(cmd.Context(), reporter)
			})
		},
	}

	cmd.Flags().String("reporter", "stdout", "send the list through this reporter")

	return cmd
}
