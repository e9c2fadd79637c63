package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/yairfalse/vahti/internal/differ"
	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/filters"
	"github.com/yairfalse/vahti/internal/logger"
	"github.com/yairfalse/vahti/internal/storage"
	"github.com/yairfalse/vahti/pkg/types"
)

// JobState holds the outcome of one run of one job. It is used by a single
// goroutine and discarded once the Report has consumed it.
type JobState struct {
	Job   Job
	store storage.Store

	OldSnapshot  types.Snapshot
	OldData      string
	OldTimestamp float64
	OldETag      string
	OldMimeType  string

	NewData      string
	NewETag      string
	NewMimeType  string
	NewTimestamp float64

	Tries     int
	Exception error
	Traceback string

	ErrorIgnored       bool
	ErrorIgnoredReason string

	Verb types.Verb

	// HistorySnapshots indexes older captures by payload when the job compares several versions
	HistorySnapshots map[string]types.Snapshot
	history          []types.Snapshot

	generatedDiff  map[types.ReportKind]string
	unfilteredDiff map[types.ReportKind]string

	log     logger.Logger
	filters *filters.Registry
	differs *differ.Registry
}

// Option configures a JobState
type Option func(*JobState)

// WithLogger sets the logger used for lifecycle messages
func WithLogger(l logger.Logger) Option {
	return func(s *JobState) { s.log = l }
}

// WithFilters replaces the filter registry
func WithFilters(r *filters.Registry) Option {
	return func(s *JobState) { s.filters = r }
}

// WithDiffers replaces the differ registry
func WithDiffers(r *differ.Registry) Option {
	return func(s *JobState) { s.differs = r }
}

// NewJobState binds job to store for one run
func NewJobState(store storage.Store, job Job, opts ...Option) *JobState {
	empty := types.EmptySnapshot()
	s := &JobState{
		Job:              job,
		store:            store,
		OldSnapshot:      empty,
		OldData:          empty.Data,
		OldTimestamp:     empty.Timestamp,
		OldETag:          empty.ETag,
		OldMimeType:      empty.MimeType,
		NewMimeType:      types.DefaultMimeType,
		HistorySnapshots: make(map[string]types.Snapshot),
		generatedDiff:    make(map[types.ReportKind]string),
		unfilteredDiff:   make(map[types.ReportKind]string),
		log:              logger.NewNop(),
		filters:          filters.Default(),
		differs:          differ.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithFields(map[string]interface{}{
		"job":      job.Spec().Index,
		"location": job.Spec().Location(),
	})
	return s
}

// Open starts the scoped use of a JobState; pair it with Close
func Open(store storage.Store, job Job, opts ...Option) *JobState {
	return NewJobState(store, job, opts...)
}

// Close ends the scoped use of the state. Failed external processes and
// missing files in err are translated to ProcessError and IOError.
func (s *JobState) Close(err error) error {
	return vahtierrors.Normalize(err)
}

// WithJobState opens a state for job, runs fn and closes the state on every exit path
func WithJobState(store storage.Store, job Job, fn func(*JobState) error, opts ...Option) (err error) {
	state := Open(store, job, opts...)
	defer func() {
		err = state.Close(err)
	}()
	return fn(state)
}

// Process runs the job: load the previous capture, retrieve, filter, and record any error.
// The state is mutated in place and returned for chaining.
func (s *JobState) Process(ctx context.Context, headless bool) *JobState {
	spec := s.Job.Spec()
	s.log.Info(fmt.Sprintf("%s started processing", spec.IndexedLocation()))
	s.log.Debug(fmt.Sprintf("job %s", spec))

	if s.Exception != nil {
		s.NewTimestamp = types.Now()
		s.log.WithError(s.Exception).Info(fmt.Sprintf("%s ended processing due to error", spec.IndexedLocation()))
		return s
	}

	if err := s.run(ctx, headless); err != nil {
		s.recordError(err)
	}

	s.log.WithFields(s.AddedData()).Debug("processed")
	s.log.Info(fmt.Sprintf("%s ended processing", spec.IndexedLocation()))
	return s
}

// run executes the fallible steps; panics become errors
func (s *JobState) run(ctx context.Context, headless bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	if err := s.Load(ctx); err != nil {
		return err
	}

	s.NewTimestamp = types.Now()
	data, etag, mimeType, err := s.Job.Retrieve(ctx, s, headless)
	if err != nil {
		return err
	}
	s.NewETag = etag
	s.log.Debug(fmt.Sprintf("retrieved %d bytes (etag %q, mime type %q)", len(data), etag, mimeType))

	fctx := s.filterContext()
	data, mimeType = filters.AutoProcess(fctx, data, mimeType)

	steps, err := s.filters.NormalizeFilterList(s.Job.Spec().Filter, s.Job.Spec().Index)
	if err != nil {
		return err
	}
	data, mimeType, err = s.filters.ProcessChain(fctx, steps, data, mimeType)
	if err != nil {
		return err
	}

	s.NewData = data
	s.NewMimeType = mimeType
	return nil
}

type ignoreAnswer struct {
	ignored bool
	reason  string
}

// recordError lets the job format and possibly ignore its error. Failures of
// those hooks fall back to an unignored error that still counts as a try.
func (s *JobState) recordError(err error) {
	s.NewTimestamp = types.Now()
	s.Exception = err
	trace := formatTrace(err)

	formatted, policyErr := callPolicy("FormatError", func() string {
		return s.Job.FormatError(err, trace)
	})
	var answer ignoreAnswer
	if policyErr == nil {
		answer, policyErr = callPolicy("IgnoreError", func() ignoreAnswer {
			ignored, reason := s.Job.IgnoreError(err)
			return ignoreAnswer{ignored: ignored, reason: reason}
		})
	}

	if policyErr != nil {
		s.Exception = policyErr.WithCause("while handling: " + err.Error())
		s.Traceback = formatTrace(s.Exception)
		s.ErrorIgnored = false
		s.ErrorIgnoredReason = ""
		if !vahtierrors.IsNotModified(err) {
			s.Tries++
			s.log.Info(fmt.Sprintf("job ended with error (internal handling failed); incrementing cumulative error runs to %d", s.Tries))
		}
		return
	}

	s.Traceback = formatted
	s.ErrorIgnored = answer.ignored || answer.reason != ""
	s.ErrorIgnoredReason = answer.reason
	if !s.ErrorIgnored && !vahtierrors.IsNotModified(err) {
		s.Tries++
		s.log.Info(fmt.Sprintf("job ended with error; incrementing cumulative error runs to %d", s.Tries))
	}
}

// callPolicy runs a job hook, converting a panic into a JobPolicy error
func callPolicy[T any](hook string, fn func() T) (result T, err *vahtierrors.VahtiError) {
	defer func() {
		if r := recover(); r != nil {
			err = vahtierrors.PolicyFailure(hook, &panicError{value: r, stack: debug.Stack()})
		}
	}()
	return fn(), nil
}

// Load reads the previous capture and, when the job compares several versions, its history
func (s *JobState) Load(ctx context.Context) error {
	spec := s.Job.Spec()
	guid := s.Job.GUID()

	snapshot, err := s.store.Load(ctx, guid)
	if err != nil {
		return vahtierrors.StorageError("load", err)
	}
	s.OldSnapshot = snapshot
	s.OldData = snapshot.Data
	s.OldTimestamp = snapshot.Timestamp
	s.Tries = snapshot.Tries
	s.OldETag = snapshot.ETag
	s.OldMimeType = snapshot.MimeType

	if spec.ComparedVersions > 1 {
		history, err := s.store.GetHistorySnapshots(ctx, guid, spec.ComparedVersions)
		if err != nil {
			return vahtierrors.StorageError("history", err)
		}
		s.history = history
		s.HistorySnapshots = make(map[string]types.Snapshot, len(history))
		for _, snapshot := range history {
			if _, seen := s.HistorySnapshots[snapshot.Data]; !seen {
				s.HistorySnapshots[snapshot.Data] = snapshot
			}
		}
	}
	return nil
}

// History returns the captures loaded for multi-version comparison, most recent first
func (s *JobState) History() []types.Snapshot {
	return s.history
}

// Save persists the new capture. With useOldData the previous data, ETag and
// mime type are kept, e.g. when the run failed.
func (s *JobState) Save(ctx context.Context, useOldData bool) error {
	if useOldData {
		s.NewData = s.OldData
		s.NewETag = s.OldETag
		s.NewMimeType = s.OldMimeType
	}
	if s.NewTimestamp == 0 {
		s.NewTimestamp = types.Now()
	}

	snapshot := types.Snapshot{
		Data:      s.NewData,
		Timestamp: s.NewTimestamp,
		Tries:     s.Tries,
		ETag:      s.NewETag,
		MimeType:  s.NewMimeType,
	}
	if err := s.store.Save(ctx, s.Job.GUID(), snapshot); err != nil {
		return vahtierrors.StorageError("save", err)
	}
	s.log.Info("saved new data to database")
	return nil
}

// DeleteLatest removes the newest stored capture of the job
func (s *JobState) DeleteLatest(ctx context.Context, temporary bool) (bool, error) {
	deleted, err := s.store.DeleteLatest(ctx, s.Job.GUID(), temporary)
	if err != nil {
		return false, vahtierrors.StorageError("delete latest", err)
	}
	return deleted, nil
}

// GetDiff returns the diff of the given kind with the job's diff filters applied.
// Every kind is computed once; an empty string means no difference.
func (s *JobState) GetDiff(ctx context.Context, kind types.ReportKind, differOverride interface{}, tz *time.Location) (string, error) {
	if diff, ok := s.generatedDiff[kind]; ok {
		return diff, nil
	}

	spec := s.Job.Spec()
	if _, ok := s.unfilteredDiff[kind]; !ok {
		directive := differOverride
		if directive == nil {
			directive = spec.Differ
		}
		differSpec, err := s.differs.NormalizeDiffer(directive, spec.Index)
		if err != nil {
			return "", err
		}
		result, err := s.differs.Diff(ctx, differSpec, s.diffInput(tz))
		if err != nil {
			return "", err
		}
		for k, v := range result {
			s.unfilteredDiff[k] = v
		}
	}

	diff := s.unfilteredDiff[kind]
	if diff != "" {
		steps, err := s.filters.NormalizeFilterList(spec.DiffFilter, spec.Index)
		if err != nil {
			return "", err
		}
		diff, _, err = s.filters.ProcessChain(s.filterContext(), steps, diff, types.DefaultMimeType)
		if err != nil {
			return "", err
		}
	}
	s.generatedDiff[kind] = diff
	return diff, nil
}

func (s *JobState) diffInput(tz *time.Location) differ.Input {
	spec := s.Job.Spec()
	return differ.Input{
		OldData:      s.OldData,
		NewData:      s.NewData,
		OldTimestamp: s.OldTimestamp,
		NewTimestamp: s.NewTimestamp,
		OldMimeType:  s.OldMimeType,
		NewMimeType:  s.NewMimeType,
		History:      s.history,
		IsMarkdown:   s.IsMarkdown(),
		Location:     spec.Location(),
		JobIndex:     spec.Index,
		Tz:           tz,
	}
}

func (s *JobState) filterContext() filters.Context {
	spec := s.Job.Spec()
	return filters.Context{JobIndex: spec.Index, Location: spec.Location(), Logger: s.log}
}

// IsMarkdown reports whether the new data is markdown
func (s *JobState) IsMarkdown() bool {
	return s.NewMimeType == "text/markdown" || s.Job.Spec().IsMarkdown
}

// AddedData returns the fields set while processing, for debug output
func (s *JobState) AddedData() map[string]interface{} {
	added := map[string]interface{}{
		"error_ignored": s.ErrorIgnored,
		"new_data":      truncate(s.NewData, 200),
		"new_etag":      s.NewETag,
		"new_timestamp": s.NewTimestamp,
	}
	if s.Exception != nil {
		added["exception"] = s.Exception.Error()
	}
	if s.ErrorIgnoredReason != "" {
		added["error_ignored_reason"] = s.ErrorIgnoredReason
	}
	return added
}

// ErrorMessage is the job-formatted error text shown in reports
func (s *JobState) ErrorMessage() string {
	if s.Traceback != "" {
		return s.Traceback
	}
	if s.Exception != nil {
		return s.Exception.Error()
	}
	return ""
}

type panicError struct {
	value interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// formatTrace renders err with its wrapped causes and, for panics, the stack
func formatTrace(err error) string {
	var sb strings.Builder
	var vErr *vahtierrors.VahtiError
	if errors.As(err, &vErr) {
		sb.WriteString(vErr.Detail())
	} else {
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	var pErr *panicError
	if errors.As(err, &pErr) {
		sb.Write(pErr.stack)
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
