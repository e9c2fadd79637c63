package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/internal/differ"
	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/logger"
	"github.com/yairfalse/vahti/internal/storage"
	"github.com/yairfalse/vahti/pkg/config"
	"github.com/yairfalse/vahti/pkg/types"
)

// fakeJob returns canned retrieval results and policy answers
type fakeJob struct {
	spec     types.JobSpec
	data     string
	etag     string
	mimeType string
	err      error

	ignore       bool
	ignoreReason string
	panicFormat  bool
	panicFetch   bool
	retrieved    int
}

func (j *fakeJob) Spec() *types.JobSpec { return &j.spec }
func (j *fakeJob) GUID() string         { return j.spec.GUID() }

func (j *fakeJob) Retrieve(ctx context.Context, state *JobState, headless bool) (string, string, string, error) {
	j.retrieved++
	if j.panicFetch {
		panic("fetch exploded")
	}
	return j.data, j.etag, j.mimeType, j.err
}

func (j *fakeJob) FormatError(err error, trace string) string {
	if j.panicFormat {
		panic("formatter exploded")
	}
	return "formatted: " + err.Error()
}

func (j *fakeJob) IgnoreError(err error) (bool, string) {
	return j.ignore, j.ignoreReason
}

func newJob(location string) *fakeJob {
	return &fakeJob{spec: types.JobSpec{URL: location, Index: 1}, mimeType: "text/plain"}
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewLocalStore(storage.Config{Backend: "local", Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store storage.Store, guid string, snapshots ...types.Snapshot) {
	t.Helper()
	for _, s := range snapshots {
		require.NoError(t, store.Save(context.Background(), guid, s))
	}
}

func TestNewJobStateDefaults(t *testing.T) {
	store := newStore(t)
	a := NewJobState(store, newJob("https://a.example"))
	b := NewJobState(store, newJob("https://b.example"))

	assert.Equal(t, types.EmptySnapshot(), a.OldSnapshot)
	assert.Equal(t, types.EpochTimestamp, a.OldTimestamp)
	assert.Equal(t, "text/plain", a.OldMimeType)

	a.generatedDiff[types.ReportText] = "x"
	a.HistorySnapshots["x"] = types.Snapshot{}
	assert.Empty(t, b.generatedDiff)
	assert.Empty(t, b.HistorySnapshots)
}

func TestProcessSuccess(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	job := newJob("https://example.com")
	job.data = "\ufeff  first\r\nsecond\r\n  "
	job.etag = `"v2"`
	job.spec.Filter = "strip"
	seed(t, store, job.GUID(), types.Snapshot{Data: "old", Timestamp: 1700000000, Tries: 2, ETag: `"v1"`, MimeType: "text/plain"})

	state := NewJobState(store, job).Process(ctx, true)

	require.NoError(t, state.Exception)
	assert.Empty(t, state.Traceback)
	assert.Equal(t, 2, state.Tries)
	assert.Equal(t, "first\nsecond", state.NewData)
	assert.Equal(t, `"v2"`, state.NewETag)
	assert.Equal(t, "text/plain", state.NewMimeType)
	assert.Equal(t, "old", state.OldData)
	assert.Equal(t, `"v1"`, state.OldETag)
	assert.Greater(t, state.NewTimestamp, state.OldTimestamp)
}

func TestProcessErrorIncrementsTries(t *testing.T) {
	store := newStore(t)
	job := newJob("https://example.com")
	job.err = errors.New("connection refused")
	seed(t, store, job.GUID(), types.Snapshot{Data: "old", Timestamp: 1700000000, Tries: 1, MimeType: "text/plain"})

	state := NewJobState(store, job).Process(context.Background(), true)

	require.Error(t, state.Exception)
	assert.Equal(t, 2, state.Tries)
	assert.Equal(t, "formatted: connection refused", state.Traceback)
	assert.False(t, state.ErrorIgnored)
	assert.NotZero(t, state.NewTimestamp)
}

func TestProcessIgnoredError(t *testing.T) {
	tests := []struct {
		name   string
		ignore bool
		reason string
	}{
		{name: "bool", ignore: true},
		{name: "reason", reason: "HTTP 503 is ignored"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			job := newJob("https://example.com")
			job.err = errors.New("service unavailable")
			job.ignore = tt.ignore
			job.ignoreReason = tt.reason

			state := NewJobState(store, job).Process(context.Background(), true)

			require.Error(t, state.Exception)
			assert.True(t, state.ErrorIgnored)
			assert.Equal(t, tt.reason, state.ErrorIgnoredReason)
			assert.Equal(t, 0, state.Tries)
		})
	}
}

func TestProcessNotModifiedKeepsTries(t *testing.T) {
	for _, ignore := range []bool{false, true} {
		store := newStore(t)
		job := newJob("https://example.com")
		job.err = vahtierrors.NotModified(`"v1"`)
		job.ignore = ignore
		seed(t, store, job.GUID(), types.Snapshot{Data: "old", Timestamp: 1700000000, Tries: 3, MimeType: "text/plain"})

		state := NewJobState(store, job).Process(context.Background(), true)

		assert.True(t, vahtierrors.IsNotModified(state.Exception))
		assert.Equal(t, 3, state.Tries, "ignore=%v", ignore)
	}
}

func TestProcessPolicyFailure(t *testing.T) {
	store := newStore(t)
	job := newJob("https://example.com")
	job.err = errors.New("boom")
	job.panicFormat = true
	job.ignore = true

	state := NewJobState(store, job).Process(context.Background(), true)

	require.Error(t, state.Exception)
	assert.True(t, vahtierrors.Is(state.Exception, vahtierrors.ErrorTypeJobPolicy))
	assert.False(t, state.ErrorIgnored)
	assert.Equal(t, 1, state.Tries)
	assert.Contains(t, state.Traceback, "formatter exploded")
}

func TestProcessPolicyFailureOnNotModified(t *testing.T) {
	store := newStore(t)
	job := newJob("https://example.com")
	job.err = vahtierrors.NotModified("")
	job.panicFormat = true

	state := NewJobState(store, job).Process(context.Background(), true)

	assert.False(t, state.ErrorIgnored)
	assert.Equal(t, 0, state.Tries)
}

func TestProcessRecoversRetrievalPanic(t *testing.T) {
	store := newStore(t)
	job := newJob("https://example.com")
	job.panicFetch = true

	state := NewJobState(store, job).Process(context.Background(), true)

	require.Error(t, state.Exception)
	assert.Contains(t, state.Exception.Error(), "fetch exploded")
	assert.Equal(t, 1, state.Tries)
}

func TestProcessPreseededException(t *testing.T) {
	store := newStore(t)
	job := newJob("https://example.com")
	state := NewJobState(store, job)
	state.Exception = errors.New("job could not be built")

	state.Process(context.Background(), true)

	assert.Equal(t, 0, job.retrieved)
	assert.NotZero(t, state.NewTimestamp)
	assert.Equal(t, 0, state.Tries)
}

func TestProcessFilterError(t *testing.T) {
	store := newStore(t)
	job := newJob("https://example.com")
	job.data = "content"
	job.spec.Filter = []interface{}{map[string]interface{}{"re.sub": "("}}

	state := NewJobState(store, job).Process(context.Background(), true)

	require.Error(t, state.Exception)
	assert.True(t, vahtierrors.Is(state.Exception, vahtierrors.ErrorTypeFilter))
	assert.Equal(t, 1, state.Tries)
}

func TestLoadComparedVersions(t *testing.T) {
	store := newStore(t)
	job := newJob("https://example.com")
	job.spec.ComparedVersions = 3
	for i := 1; i <= 5; i++ {
		seed(t, store, job.GUID(), types.Snapshot{
			Data:      string(rune('a'+i-1)) + "\n",
			Timestamp: float64(1700000000 + i),
			MimeType:  "text/plain",
		})
	}

	state := NewJobState(store, job)
	require.NoError(t, state.Load(context.Background()))

	assert.Equal(t, "e\n", state.OldData)
	assert.Len(t, state.History(), 3)
	assert.Len(t, state.HistorySnapshots, 3)
	assert.Contains(t, state.HistorySnapshots, "c\n")
	assert.NotContains(t, state.HistorySnapshots, "b\n")
}

func TestLoadWithoutComparedVersions(t *testing.T) {
	store := newStore(t)
	job := newJob("https://example.com")
	seed(t, store, job.GUID(),
		types.Snapshot{Data: "a", Timestamp: 1700000001, MimeType: "text/plain"},
		types.Snapshot{Data: "b", Timestamp: 1700000002, MimeType: "text/plain"})

	state := NewJobState(store, job)
	require.NoError(t, state.Load(context.Background()))
	assert.Empty(t, state.HistorySnapshots)
	assert.Nil(t, state.History())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	job := newJob("https://example.com")

	state := NewJobState(store, job)
	state.NewData = "payload"
	state.NewTimestamp = 1700000123.25
	state.NewETag = `"abc"`
	state.NewMimeType = "text/html"
	state.Tries = 2
	require.NoError(t, state.Save(ctx, false))

	fresh := NewJobState(store, job)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, types.Snapshot{
		Data:      "payload",
		Timestamp: 1700000123.25,
		Tries:     2,
		ETag:      `"abc"`,
		MimeType:  "text/html",
	}, fresh.OldSnapshot)
}

func TestSaveUseOldData(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	job := newJob("https://example.com")
	job.err = errors.New("down")
	seed(t, store, job.GUID(), types.Snapshot{Data: "good", Timestamp: 1700000000, ETag: "e1", MimeType: "text/html"})

	state := NewJobState(store, job).Process(ctx, true)
	require.NoError(t, state.Save(ctx, true))

	latest, err := store.Load(ctx, job.GUID())
	require.NoError(t, err)
	assert.Equal(t, "good", latest.Data)
	assert.Equal(t, "e1", latest.ETag)
	assert.Equal(t, "text/html", latest.MimeType)
	assert.Equal(t, 1, latest.Tries)
	assert.Equal(t, state.NewTimestamp, latest.Timestamp)
}

func TestDeleteLatest(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	job := newJob("https://example.com")
	state := NewJobState(store, job)

	deleted, err := state.DeleteLatest(ctx, false)
	require.NoError(t, err)
	assert.False(t, deleted)

	seed(t, store, job.GUID(), types.Snapshot{Data: "a", Timestamp: 1700000000, MimeType: "text/plain"})
	deleted, err = state.DeleteLatest(ctx, false)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func diffState(t *testing.T, oldData, newData string, opts ...Option) *JobState {
	t.Helper()
	state := NewJobState(newStore(t), newJob("https://example.com"), opts...)
	state.OldData = oldData
	state.OldTimestamp = 1709296215
	state.NewData = newData
	state.NewTimestamp = 1709299815
	return state
}

func TestGetDiffScenarios(t *testing.T) {
	ctx := context.Background()

	same := diffState(t, "Same Old, Same Old\n", "Same Old, Same Old\n")
	diff, err := same.GetDiff(ctx, types.ReportText, nil, time.UTC)
	require.NoError(t, err)
	assert.Empty(t, diff)

	changed := diffState(t,
		"Unchanged Line\nPrevious Content\nAnother Unchanged Line\n",
		"Unchanged Line\nUpdated Content\nAnother Unchanged Line\n")
	diff, err = changed.GetDiff(ctx, types.ReportText, nil, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "--- @\tFri, 01 Mar 2024 12:30:15 +0000\n"+
		"+++ @\tFri, 01 Mar 2024 13:30:15 +0000\n"+
		"@@ -1,3 +1,3 @@\n"+
		" Unchanged Line\n"+
		"-Previous Content\n"+
		"+Updated Content\n"+
		" Another Unchanged Line\n", diff)
}

// countingDiffer counts how often it is invoked
type countingDiffer struct {
	calls atomic.Int32
}

func (d *countingDiffer) Name() string        { return "counting" }
func (d *countingDiffer) Description() string { return "counts calls" }
func (d *countingDiffer) Keys() []string      { return nil }

func (d *countingDiffer) Diff(ctx context.Context, in differ.Input, config map[string]interface{}) (differ.Result, error) {
	d.calls.Add(1)
	return differ.Result{
		types.ReportText:     "text diff\nnoise\n",
		types.ReportMarkdown: "markdown diff\n",
		types.ReportHTML:     "<p>html diff</p>",
	}, nil
}

func TestGetDiffMemoized(t *testing.T) {
	ctx := context.Background()
	counting := &countingDiffer{}
	state := diffState(t, "a\n", "b\n", WithDiffers(differ.NewRegistry(counting)))
	state.Job.Spec().Differ = "counting"

	first, err := state.GetDiff(ctx, types.ReportText, nil, time.UTC)
	require.NoError(t, err)
	second, err := state.GetDiff(ctx, types.ReportText, nil, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), counting.calls.Load())

	// The other kinds were cached by the first call
	html, err := state.GetDiff(ctx, types.ReportHTML, nil, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "<p>html diff</p>", html)
	assert.Equal(t, int32(1), counting.calls.Load())
}

func TestGetDiffAppliesDiffFilter(t *testing.T) {
	ctx := context.Background()
	counting := &countingDiffer{}
	state := diffState(t, "a\n", "b\n", WithDiffers(differ.NewRegistry(counting)))
	state.Job.Spec().Differ = "counting"
	state.Job.Spec().DiffFilter = "delete_lines_containing:noise"

	text, err := state.GetDiff(ctx, types.ReportText, nil, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, text, "text diff")
	assert.NotContains(t, text, "noise")
	assert.Contains(t, state.unfilteredDiff[types.ReportText], "noise")
}

func TestGetDiffOverride(t *testing.T) {
	counting := &countingDiffer{}
	registry := differ.NewRegistry(differ.NewUnifiedDiffer(), counting)
	state := diffState(t, "a\n", "b\n", WithDiffers(registry))

	diff, err := state.GetDiff(context.Background(), types.ReportMarkdown, "counting", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "markdown diff\n", diff)
}

func TestIsMarkdown(t *testing.T) {
	state := NewJobState(newStore(t), newJob("https://example.com"))
	assert.False(t, state.IsMarkdown())
	state.NewMimeType = "text/markdown"
	assert.True(t, state.IsMarkdown())
	state.NewMimeType = "text/plain"
	state.Job.Spec().IsMarkdown = true
	assert.True(t, state.IsMarkdown())
}

func TestAddedData(t *testing.T) {
	state := NewJobState(newStore(t), newJob("https://example.com"))
	state.NewData = "x"
	state.NewETag = "e"
	state.Exception = errors.New("bad")

	added := state.AddedData()
	assert.Equal(t, "x", added["new_data"])
	assert.Equal(t, "e", added["new_etag"])
	assert.Equal(t, "bad", added["exception"])
	assert.Contains(t, added, "error_ignored")
	assert.Contains(t, added, "new_timestamp")
}

func TestWithJobStateNormalizesErrors(t *testing.T) {
	store := newStore(t)
	job := newJob("https://example.com")

	err := WithJobState(store, job, func(state *JobState) error {
		return exec.Command("sh", "-c", "echo failing >&2; exit 3").Run()
	})
	require.Error(t, err)
	assert.True(t, vahtierrors.Is(err, vahtierrors.ErrorTypeProcess))

	err = WithJobState(store, job, func(state *JobState) error {
		_, err := exec.LookPath("vahti-no-such-binary")
		return err
	})
	assert.True(t, vahtierrors.Is(err, vahtierrors.ErrorTypeIO))

	err = WithJobState(store, job, func(state *JobState) error { return nil })
	assert.NoError(t, err)
}

// recordingDispatcher captures what a report hands off
type recordingDispatcher struct {
	name         string
	states       []*JobState
	duration     time.Duration
	jobsFiles    []string
	checkEnabled bool
	calls        int
}

func (d *recordingDispatcher) SubmitAll(ctx context.Context, report *Report, states []*JobState, duration time.Duration, jobsFiles []string) error {
	d.calls++
	d.states, d.duration, d.jobsFiles = states, duration, jobsFiles
	return nil
}

func (d *recordingDispatcher) SubmitOne(ctx context.Context, name string, report *Report, states []*JobState, duration time.Duration, jobsFiles []string, checkEnabled bool) error {
	d.calls++
	d.name, d.checkEnabled = name, checkEnabled
	d.states, d.duration, d.jobsFiles = states, duration, jobsFiles
	return nil
}

func newReport(t *testing.T, cfg *config.Config, d Dispatcher) *Report {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	report, err := NewReport(cfg, d, nil)
	require.NoError(t, err)
	return report
}

func TestReportSetters(t *testing.T) {
	report := newReport(t, nil, nil)
	store := newStore(t)

	states := make([]*JobState, 6)
	for i := range states {
		states[i] = NewJobState(store, newJob("https://example.com"))
	}
	report.New(states[0])
	report.Changed(states[1])
	report.ChangedNoReport(states[2])
	report.Unchanged(states[3])
	report.Error(states[4])
	report.Custom(states[5], "test")

	want := []types.Verb{types.VerbNew, types.VerbChanged, types.VerbChangedNoReport, types.VerbUnchanged, types.VerbError, "test"}
	got := report.JobStates()
	require.Len(t, got, len(want))
	for i, state := range got {
		assert.Same(t, states[i], state)
		assert.Equal(t, want[i], state.Verb)
	}
}

func TestReportLogsErrorsButNotNotModified(t *testing.T) {
	var buf bytes.Buffer
	report, err := NewReport(config.DefaultConfig(), nil, logger.NewSimpleWriter(&buf, false))
	require.NoError(t, err)
	store := newStore(t)

	cached := NewJobState(store, newJob("https://cached.example"))
	cached.Exception = vahtierrors.NotModified(`"v1"`)
	report.Unchanged(cached)
	assert.Empty(t, buf.String())

	failed := NewJobState(store, newJob("https://failed.example"))
	failed.Exception = errors.New("connection refused")
	report.Error(failed)
	assert.Contains(t, buf.String(), "connection refused")
	assert.NotContains(t, buf.String(), "cached.example")
}

func TestReportTimezone(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Report.Tz = "Europe/Helsinki"
	report := newReport(t, cfg, nil)
	assert.Equal(t, "Europe/Helsinki", report.Tz.String())

	cfg.Report.Tz = "Mars/Olympus"
	_, err := NewReport(cfg, nil, nil)
	assert.Error(t, err)
}

func collect(report *Report, states []*JobState) []*JobState {
	var out []*JobState
	for state := range report.FilteredJobStates(context.Background(), states) {
		out = append(out, state)
	}
	return out
}

func TestFilteredJobStatesChangedNoReportAlwaysExcluded(t *testing.T) {
	store := newStore(t)
	for _, flags := range [][4]bool{{false, false, false, false}, {true, true, true, true}, {true, false, true, false}} {
		cfg := config.DefaultConfig()
		cfg.Display = config.DisplayConfig{New: flags[0], Error: flags[1], Unchanged: flags[2], EmptyDiff: flags[3]}
		report := newReport(t, cfg, nil)

		state := NewJobState(store, newJob("https://example.com"))
		state.OldData, state.NewData = "a\n", "b\n"
		report.ChangedNoReport(state)

		assert.Empty(t, collect(report, report.JobStates()), "display %v", flags)
	}
}

func TestFilteredJobStatesDisplayFlags(t *testing.T) {
	store := newStore(t)
	cfg := config.DefaultConfig()
	cfg.Display = config.DisplayConfig{New: true, Error: false, Unchanged: false, EmptyDiff: false}
	report := newReport(t, cfg, nil)

	mk := func(oldData, newData string) *JobState {
		s := NewJobState(store, newJob("https://example.com"))
		s.OldData, s.NewData = oldData, newData
		s.OldTimestamp, s.NewTimestamp = 1709296215, 1709299815
		return s
	}
	newState := mk("", "fresh\n")
	errState := mk("", "")
	unchanged := mk("same\n", "same\n")
	emptyChange := mk("same\n", "same\n")
	realChange := mk("old\n", "new\n")

	report.New(newState)
	report.Error(errState)
	report.Unchanged(unchanged)
	report.Changed(emptyChange)
	report.Changed(realChange)

	got := collect(report, report.JobStates())
	assert.Equal(t, []*JobState{newState, realChange}, got)

	// Re-evaluated on every call
	cfg.Display.Error = true
	cfg.Display.EmptyDiff = true
	got = collect(report, report.JobStates())
	assert.Equal(t, []*JobState{newState, errState, emptyChange, realChange}, got)
}

func TestFilteredJobStatesStopsEarly(t *testing.T) {
	store := newStore(t)
	report := newReport(t, nil, nil)
	for i := 0; i < 3; i++ {
		report.New(NewJobState(store, newJob("https://example.com")))
	}

	count := 0
	for range report.FilteredJobStates(context.Background(), report.JobStates()) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestFinish(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	report := newReport(t, nil, dispatcher)
	state := NewJobState(newStore(t), newJob("https://example.com"))
	report.Changed(state)

	require.NoError(t, report.Finish(context.Background(), []string{"jobs.yaml"}))
	assert.Equal(t, 1, dispatcher.calls)
	assert.Equal(t, []*JobState{state}, dispatcher.states)
	assert.Equal(t, []string{"jobs.yaml"}, dispatcher.jobsFiles)
	assert.GreaterOrEqual(t, dispatcher.duration, time.Duration(0))

	require.NoError(t, report.FinishOne(context.Background(), "webhook", nil, false))
	assert.Equal(t, 2, dispatcher.calls)
	assert.Equal(t, "webhook", dispatcher.name)
	assert.False(t, dispatcher.checkEnabled)
}
