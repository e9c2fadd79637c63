package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/internal/app"
	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/pkg/types"
)

func newGCCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove snapshots of deleted jobs and trim old ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, _ := cmd.Flags().GetInt("keep")
			if keep < 1 {
				return vahtierrors.ValidationError("--keep must be at least 1")
			}
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				return a.Orchestrator.GC(cmd.Context(), keep)
			})
		},
	}

	cmd.Flags().Int("keep", 1, "snapshots to keep per job")

	return cmd
}

func newCleanCacheCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean-cache",
		Short: "Keep only the latest snapshot of every job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{SkipJobs: true}, func(a *app.App) error {
				return a.Orchestrator.CleanCache(cmd.Context())
			})
		},
	}
}

func newRollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback TIMESTAMP",
		Short: "Delete every snapshot taken after a point in time",
		Long: `Delete every snapshot taken after TIMESTAMP, given as seconds since the
Unix epoch or as an RFC 3339 time. This cannot be undone.`,
		Example: `  vahti rollback 1700000000
  vahti rollback 2024-05-01T00:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timestamp, err := parseTimestamp(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, app.Options{SkipJobs: true}, func(a *app.App) error {
				return a.Orchestrator.Rollback(cmd.Context(), timestamp)
			})
		},
	}
}

func parseTimestamp(s string) (float64, error) {
	if ts, err := strconv.ParseFloat(s, 64); err == nil {
		return ts, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, vahtierrors.ValidationError(fmt.Sprintf("invalid timestamp %q", s)).
			WithHelp("Use seconds since the Unix epoch or an RFC 3339 time such as 2024-05-01T00:00:00Z")
	}
	return types.TimestampFromTime(t), nil
}
