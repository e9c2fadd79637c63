package runner

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/logger"
	"github.com/yairfalse/vahti/pkg/config"
	"github.com/yairfalse/vahti/pkg/types"
)

// Dispatcher delivers a finished report to the configured reporters
type Dispatcher interface {
	// SubmitAll sends the report through every enabled reporter
	SubmitAll(ctx context.Context, report *Report, states []*JobState, duration time.Duration, jobsFiles []string) error
	// SubmitOne sends the report through the named reporter. With checkEnabled
	// false the reporter is used even when it is disabled.
	SubmitOne(ctx context.Context, name string, report *Report, states []*JobState, duration time.Duration, jobsFiles []string, checkEnabled bool) error
}

// Report collects the classified job states of one invocation
type Report struct {
	Config *config.Config
	// Tz is the timezone diffs and headers are rendered in
	Tz *time.Location

	mu         sync.Mutex
	jobStates  []*JobState
	start      time.Time
	dispatcher Dispatcher
	log        logger.Logger
}

// NewReport creates a report. The start time used for the duration is taken now.
func NewReport(cfg *config.Config, dispatcher Dispatcher, log logger.Logger) (*Report, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	tz, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Report{
		Config:     cfg,
		Tz:         tz,
		start:      time.Now(),
		dispatcher: dispatcher,
		log:        log,
	}, nil
}

// New records a job seen for the first time
func (r *Report) New(state *JobState) {
	r.result(types.VerbNew, state)
}

// Changed records a job whose content changed
func (r *Report) Changed(state *JobState) {
	r.result(types.VerbChanged, state)
}

// ChangedNoReport records a change that must not be reported
func (r *Report) ChangedNoReport(state *JobState) {
	r.result(types.VerbChangedNoReport, state)
}

// Unchanged records a job whose content is the same as before
func (r *Report) Unchanged(state *JobState) {
	r.result(types.VerbUnchanged, state)
}

// Error records a failed job
func (r *Report) Error(state *JobState) {
	r.result(types.VerbError, state)
}

// Custom records a state under an arbitrary label
func (r *Report) Custom(state *JobState, label string) {
	r.result(types.Verb(label), state)
}

func (r *Report) result(verb types.Verb, state *JobState) {
	if state.Exception != nil && !vahtierrors.IsNotModified(state.Exception) {
		r.log.WithError(state.Exception).Info(fmt.Sprintf("%s: %s", state.Job.Spec().IndexedLocation(), verb))
	}

	state.Verb = verb

	r.mu.Lock()
	r.jobStates = append(r.jobStates, state)
	r.mu.Unlock()
}

// JobStates returns the recorded states in the order they were classified
func (r *Report) JobStates() []*JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]*JobState, len(r.jobStates))
	copy(states, r.jobStates)
	return states
}

// FilteredJobStates yields the states that should be shown, in order.
// Each iteration evaluates the display rules again.
func (r *Report) FilteredJobStates(ctx context.Context, states []*JobState) iter.Seq[*JobState] {
	return func(yield func(*JobState) bool) {
		for _, state := range states {
			if !r.shouldDisplay(ctx, state) {
				continue
			}
			if !yield(state) {
				return
			}
		}
	}
}

func (r *Report) shouldDisplay(ctx context.Context, state *JobState) bool {
	switch state.Verb {
	case types.VerbChangedNoReport:
		return false
	case types.VerbUnchanged, types.VerbNew, types.VerbError:
		return r.Config.DisplayVerb(string(state.Verb))
	case types.VerbChanged:
		if r.Config.Display.EmptyDiff {
			return true
		}
		diff, err := state.GetDiff(ctx, types.ReportText, nil, r.Tz)
		if err != nil {
			// A broken differ must not hide the change
			r.log.WithError(err).Warn(fmt.Sprintf("%s: could not compute diff", state.Job.Spec().IndexedLocation()))
			return true
		}
		return diff != ""
	default:
		return true
	}
}

// Duration is the wall time since the report was created
func (r *Report) Duration() time.Duration {
	return time.Since(r.start)
}

// Finish sends the report to every enabled reporter
func (r *Report) Finish(ctx context.Context, jobsFiles []string) error {
	duration := r.Duration()
	if r.dispatcher == nil {
		return nil
	}
	return r.dispatcher.SubmitAll(ctx, r, r.JobStates(), duration, jobsFiles)
}

// FinishOne sends the report to the named reporter only
func (r *Report) FinishOne(ctx context.Context, name string, jobsFiles []string, checkEnabled bool) error {
	duration := r.Duration()
	if r.dispatcher == nil {
		return nil
	}
	return r.dispatcher.SubmitOne(ctx, name, r, r.JobStates(), duration, jobsFiles, checkEnabled)
}
