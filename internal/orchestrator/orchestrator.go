package orchestrator

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/vahti/internal/differ"
	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/filters"
	"github.com/yairfalse/vahti/internal/jobs"
	"github.com/yairfalse/vahti/internal/logger"
	"github.com/yairfalse/vahti/internal/reporters"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/internal/storage"
	"github.com/yairfalse/vahti/pkg/config"
)

// ExitError ends a command with a non-zero exit code. Message, when set, is
// printed by the caller; the output explaining the failure has usually been
// written already.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Options configures an Orchestrator
type Options struct {
	Config    *config.Config
	Store     storage.Store
	Jobs      []runner.Job
	JobsFiles []string
	Reporters *reporters.Registry
	Filters   *filters.Registry
	Differs   *differ.Registry
	Logger    logger.Logger
	Out       io.Writer
	// Joblist restricts runs to these 1-based job numbers; negative numbers count from the end
	Joblist  []int
	Headless bool
	Verbose  bool
}

// Orchestrator runs batches of jobs and the maintenance commands around them
type Orchestrator struct {
	cfg        *config.Config
	store      storage.Store
	jobs       []runner.Job
	jobsFiles  []string
	reporters  *reporters.Registry
	dispatcher *reporters.Dispatcher
	filters    *filters.Registry
	differs    *differ.Registry
	log        logger.Logger
	out        io.Writer
	joblist    []int
	headless   bool
	verbose    bool
}

// New creates an orchestrator, filling unset options with the built-in defaults
func New(opts Options) *Orchestrator {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Reporters == nil {
		opts.Reporters = reporters.Default()
	}
	if opts.Filters == nil {
		opts.Filters = filters.Default()
	}
	if opts.Differs == nil {
		opts.Differs = differ.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Orchestrator{
		cfg:        opts.Config,
		store:      opts.Store,
		jobs:       opts.Jobs,
		jobsFiles:  opts.JobsFiles,
		reporters:  opts.Reporters,
		dispatcher: reporters.NewDispatcher(opts.Reporters, opts.Logger),
		filters:    opts.Filters,
		differs:    opts.Differs,
		log:        opts.Logger,
		out:        opts.Out,
		joblist:    opts.Joblist,
		headless:   opts.Headless,
		verbose:    opts.Verbose,
	}
}

func (o *Orchestrator) stateOptions() []runner.Option {
	return []runner.Option{
		runner.WithLogger(o.log),
		runner.WithFilters(o.filters),
		runner.WithDiffers(o.differs),
	}
}

func (o *Orchestrator) newReport(cfg *config.Config) (*runner.Report, error) {
	if cfg == nil {
		cfg = o.cfg
	}
	return runner.NewReport(cfg, o.dispatcher, o.log)
}

func (o *Orchestrator) printf(format string, args ...interface{}) {
	fmt.Fprintf(o.out, format, args...)
}

func (o *Orchestrator) println(args ...interface{}) {
	fmt.Fprintln(o.out, args...)
}

// selectJobs applies the joblist, keeping the order of the jobs file
func (o *Orchestrator) selectJobs() ([]runner.Job, error) {
	if len(o.joblist) == 0 {
		return o.jobs, nil
	}

	n := len(o.jobs)
	wanted := make(map[int]bool, len(o.joblist))
	for _, idx := range o.joblist {
		if !(-n <= idx && idx <= -1 || 1 <= idx && idx <= n) {
			return nil, vahtierrors.ValidationError(fmt.Sprintf("Job index %d out of range (found %d jobs).", idx, n))
		}
		if idx < 0 {
			idx = n + idx + 1
		}
		wanted[idx] = true
	}

	selected := make([]runner.Job, 0, len(wanted))
	for i, job := range o.jobs {
		if wanted[i+1] {
			selected = append(selected, job)
		}
	}
	return selected, nil
}

func (o *Orchestrator) joblistText() string {
	parts := make([]string, len(o.joblist))
	for i, idx := range o.joblist {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ", ")
}

// poolSize bounds the pool. Browser jobs share one browser process, so a
// batch holding any is capped at min(32, NumCPU); otherwise every job gets a worker.
func poolSize(batch []runner.Job) int {
	for _, job := range batch {
		if jobs.IsBrowser(job) {
			return min(32, runtime.NumCPU())
		}
	}
	return len(batch)
}

// workerLimit is poolSize unless jobs.max_workers overrides it
func (o *Orchestrator) workerLimit(batch []runner.Job) int {
	if o.cfg.Jobs.MaxWorkers > 0 {
		return o.cfg.Jobs.MaxWorkers
	}
	return poolSize(batch)
}

// process runs every job of batch in a bounded pool and yields the finished
// states in submission order. Stopping the iteration cancels pending work.
func (o *Orchestrator) process(ctx context.Context, batch []runner.Job, limit int) iter.Seq[*runner.JobState] {
	return func(yield func(*runner.JobState) bool) {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		done := make([]chan *runner.JobState, len(batch))
		for i := range done {
			done[i] = make(chan *runner.JobState, 1)
		}

		g, gctx := errgroup.WithContext(ctx)
		if limit > 0 {
			g.SetLimit(limit)
		}
		o.log.Debug(fmt.Sprintf("processing %d jobs with up to %d workers", len(batch), limit))

		go func() {
			for i, job := range batch {
				g.Go(func() error {
					state := runner.Open(o.store, job, o.stateOptions()...)
					state.Process(gctx, o.headless)
					state.Exception = state.Close(state.Exception)
					done[i] <- state
					return nil
				})
			}
			g.Wait()
		}()

		for i := range batch {
			if !yield(<-done[i]) {
				return
			}
		}
	}
}

// Job finds a job by 1-based number, negative number counted from the end, or location
func (o *Orchestrator) Job(id string) (runner.Job, error) {
	if n, err := strconv.Atoi(id); err == nil {
		if n < 0 {
			n = len(o.jobs) + n + 1
		}
		if n >= 1 && n <= len(o.jobs) {
			return o.jobs[n-1], nil
		}
	} else {
		for _, job := range o.jobs {
			if job.Spec().Location() == id {
				return job, nil
			}
		}
	}
	return nil, &ExitError{Code: 1, Message: fmt.Sprintf("Job not found: %s", id)}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
