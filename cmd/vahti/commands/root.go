package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yairfalse/vahti/internal/app"
	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/orchestrator"
	"github.com/yairfalse/vahti/pkg/config"
)

var (
	cfgFile   string
	jobsFiles []string
	cfg       *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vahti [joblist...]",
	Short: "Watch web pages and commands for changes",
	Long: `vahti retrieves web pages, browser-rendered pages and command output,
filters them, compares them with the previous capture and reports what changed.

Jobs are read from a YAML jobs file, one document per job:

  name: Release notes
  url: https://example.com/changelog
  filter: html2text,strip

Run without a subcommand to check every job, or pass job numbers to check a
subset. Negative numbers count from the end of the jobs file.`,
	Example: `  vahti                 # check all jobs
  vahti -- 1 3 -1       # check jobs 1, 3 and the last one
  vahti errors          # list jobs that fail or return nothing
  vahti test-job 2      # show the filtered output of job 2`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runJobs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exit *orchestrator.ExitError
	if errors.As(err, &exit) {
		if exit.Message != "" {
			fmt.Fprintln(os.Stderr, exit.Message)
		}
		os.Exit(exit.Code)
	}
	vahtierrors.DisplayError(err)
	os.Exit(vahtierrors.GetExitCode(err))
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vahti/config.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&jobsFiles, "jobs", nil, "jobs file; repeat to concatenate several (default from config jobs.file)")
	rootCmd.PersistentFlags().String("cache", "", "snapshot database path (default from config storage.path)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("no-headless", false, "show the browser window for browser jobs")

	// Bind flags to viper
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("output.no_color", rootCmd.PersistentFlags().Lookup("no-color"))

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newErrorsCommand())
	rootCmd.AddCommand(newTestJobCommand())
	rootCmd.AddCommand(newTestDiffCommand())
	rootCmd.AddCommand(newDumpHistoryCommand())
	rootCmd.AddCommand(newDeleteSnapshotCommand())
	rootCmd.AddCommand(newChangeLocationCommand())
	rootCmd.AddCommand(newTestReporterCommand())
	rootCmd.AddCommand(newGCCommand())
	rootCmd.AddCommand(newCleanCacheCommand())
	rootCmd.AddCommand(newRollbackCommand())
	rootCmd.AddCommand(newFeaturesCommand())
	rootCmd.AddCommand(newVersionCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig(cmd *cobra.Command) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return vahtierrors.ConfigurationError("failed to load configuration", err)
	}

	flags := cmd.Flags()
	if flags.Changed("cache") {
		cfg.Storage.Path, _ = flags.GetString("cache")
	}
	if verbose, _ := flags.GetBool("verbose"); verbose && !flags.Changed("log-level") {
		cfg.Logging.Level = verboseLevel(cfg.Logging.Level)
	}

	// Expand paths like ~ to home directory
	if err := cfg.ExpandPaths(); err != nil {
		return vahtierrors.ConfigurationError("failed to expand config paths", err)
	}

	return nil
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	return cfg
}

// withApp builds the application for cmd, runs fn and closes it
func withApp(cmd *cobra.Command, opts app.Options, fn func(*app.App) error) error {
	flags := cmd.Flags()
	noHeadless, _ := flags.GetBool("no-headless")
	verbose, _ := flags.GetBool("verbose")

	opts.JobsFiles = jobsFiles
	opts.Headless = !noHeadless
	opts.Verbose = verbose
	opts.Out = cmd.OutOrStdout()

	a, err := app.NewAppFactory().Create(GetConfig(), opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// verboseLevel raises level to info, keeping more detailed levels such as debug
func verboseLevel(level string) string {
	parsed, err := logrus.ParseLevel(level)
	if err != nil || parsed >= logrus.InfoLevel {
		return level
	}
	return logrus.InfoLevel.String()
}

// parseJoblist converts job numbers given on the command line
func parseJoblist(args []string) ([]int, error) {
	joblist := make([]int, 0, len(args))
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil || n == 0 {
			return nil, vahtierrors.ValidationError(fmt.Sprintf("invalid job number %q", arg)).
				WithHelp("Job numbers start at 1; negative numbers count from the end")
		}
		joblist = append(joblist, n)
	}
	return joblist, nil
}
