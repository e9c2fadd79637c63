package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/jobs"
	"github.com/yairfalse/vahti/internal/reporters"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/internal/storage"
	"github.com/yairfalse/vahti/pkg/config"
	"github.com/yairfalse/vahti/pkg/types"
)

// scriptedJob returns whatever its fields hold at retrieval time
type scriptedJob struct {
	mu     sync.Mutex
	spec   types.JobSpec
	data   string
	etag   string
	err    error
	ignore bool
	delay  time.Duration
}

func (j *scriptedJob) Spec() *types.JobSpec { return &j.spec }
func (j *scriptedJob) GUID() string         { return j.spec.GUID() }

func (j *scriptedJob) Retrieve(ctx context.Context, state *runner.JobState, headless bool) (string, string, string, error) {
	if j.delay > 0 {
		time.Sleep(j.delay)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.data, j.etag, types.DefaultMimeType, j.err
}

func (j *scriptedJob) FormatError(err error, trace string) string { return err.Error() }
func (j *scriptedJob) IgnoreError(err error) (bool, string)      { return j.ignore, "" }

func (j *scriptedJob) set(data string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.data, j.err = data, err
}

// capturingReporter keeps the states of the last submission
type capturingReporter struct {
	name    string
	enabled bool
	states  []*runner.JobState
	files   []string
	calls   int
}

func (r *capturingReporter) Name() string                    { return r.name }
func (r *capturingReporter) Description() string             { return "captures reports" }
func (r *capturingReporter) Enabled(cfg *config.Config) bool { return r.enabled }
func (r *capturingReporter) Submit(ctx context.Context, report *runner.Report, states []*runner.JobState, duration time.Duration, jobsFiles []string) error {
	r.calls++
	r.states = states
	r.files = jobsFiles
	return nil
}

type fixture struct {
	orch     *Orchestrator
	store    storage.Store
	out      *bytes.Buffer
	stdout   *bytes.Buffer
	captured *capturingReporter
	cfg      *config.Config
}

func newFixture(t *testing.T, jobList []runner.Job, mutate func(*Options)) *fixture {
	t.Helper()
	store, err := storage.NewLocalStore(storage.Config{Backend: "local", Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.DefaultConfig()
	cfg.Report.Tz = "UTC"
	f := &fixture{
		store:    store,
		out:      &bytes.Buffer{},
		stdout:   &bytes.Buffer{},
		captured: &capturingReporter{name: "webhook", enabled: true},
		cfg:      cfg,
	}
	opts := Options{
		Config:    cfg,
		Store:     store,
		Jobs:      jobList,
		JobsFiles: []string{"jobs.yaml"},
		Reporters: reporters.NewRegistry(reporters.NewStdoutReporter(f.stdout), f.captured),
		Out:       f.out,
		Headless:  true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.orch = New(opts)
	return f
}

func urlJob(index int, url, data string) *scriptedJob {
	return &scriptedJob{spec: types.JobSpec{URL: url, Index: index}, data: data}
}

func verbs(states []*runner.JobState) []types.Verb {
	out := make([]types.Verb, len(states))
	for i, s := range states {
		out[i] = s.Verb
	}
	return out
}

func TestRunJobsClassification(t *testing.T) {
	ctx := context.Background()
	plain := urlJob(1, "https://a.example/", "Unchanged Line\nPrevious Content\nAnother Unchanged Line\n")
	quiet := urlJob(2, "https://b.example/", "one\n")
	quiet.spec.NoReport = true
	same := urlJob(3, "https://c.example/", "Same Old, Same Old\n")
	f := newFixture(t, []runner.Job{plain, quiet, same}, nil)

	report, err := f.orch.RunJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Verb{types.VerbNew, types.VerbNew, types.VerbNew}, verbs(report.JobStates()))

	plain.set("Unchanged Line\nUpdated Content\nAnother Unchanged Line\n", nil)
	quiet.set("two\n", nil)
	report, err = f.orch.RunJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Verb{types.VerbChanged, types.VerbChangedNoReport, types.VerbUnchanged}, verbs(report.JobStates()))

	diff, err := report.JobStates()[0].GetDiff(ctx, types.ReportText, nil, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, diff, "+Updated Content")

	// Only the displayable change reaches the enabled reporters
	require.Len(t, f.captured.states, 3)
	shown := 0
	for range report.FilteredJobStates(ctx, f.captured.states) {
		shown++
	}
	assert.Equal(t, 1, shown)
	assert.Equal(t, []string{"jobs.yaml"}, f.captured.files)
	assert.Contains(t, f.stdout.String(), "CHANGED: https://a.example/")

	history, err := f.store.GetHistorySnapshots(ctx, plain.GUID(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// Unchanged data is not stored again
	history, err = f.store.GetHistorySnapshots(ctx, same.GUID(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunJobsBinaryDataUnchanged(t *testing.T) {
	ctx := context.Background()
	png := "\x89PNG\r\n\x1a\n\xff\xfe\x00tail"
	job := urlJob(1, "https://img.example/logo.png", png)
	f := newFixture(t, []runner.Job{job}, nil)

	report, err := f.orch.RunJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Verb{types.VerbNew}, verbs(report.JobStates()))

	report, err = f.orch.RunJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Verb{types.VerbUnchanged}, verbs(report.JobStates()))

	history, err := f.store.GetHistorySnapshots(ctx, job.GUID(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunJobsErrorsAndMaxTries(t *testing.T) {
	ctx := context.Background()
	job := urlJob(1, "https://flaky.example/", "content\n")
	job.spec.MaxTries = 2
	f := newFixture(t, []runner.Job{job}, nil)

	_, err := f.orch.RunJobs(ctx)
	require.NoError(t, err)

	job.set("", errors.New("connection refused"))
	report, err := f.orch.RunJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.JobStates(), "first failure stays below max_tries")

	latest, err := f.store.Load(ctx, job.GUID())
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Tries)
	assert.Equal(t, "content\n", latest.Data)

	report, err = f.orch.RunJobs(ctx)
	require.NoError(t, err)
	require.Len(t, report.JobStates(), 1)
	assert.Equal(t, types.VerbError, report.JobStates()[0].Verb)

	latest, err = f.store.Load(ctx, job.GUID())
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Tries)
	assert.Equal(t, "content\n", latest.Data)

	// Recovery resets the error count and compares against the last good data
	job.set("content\n", nil)
	report, err = f.orch.RunJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Verb{types.VerbUnchanged}, verbs(report.JobStates()))
	latest, err = f.store.Load(ctx, job.GUID())
	require.NoError(t, err)
	assert.Equal(t, 0, latest.Tries)
}

func TestRunJobsNotModifiedResetsTries(t *testing.T) {
	ctx := context.Background()
	job := urlJob(1, "https://etag.example/", "")
	job.err = vahtierrors.NotModified(`"v1"`)
	f := newFixture(t, []runner.Job{job}, nil)

	require.NoError(t, f.store.Save(ctx, job.GUID(), types.Snapshot{
		Data: "cached\n", Timestamp: 1700000000, Tries: 3, ETag: `"v1"`, MimeType: types.DefaultMimeType,
	}))

	report, err := f.orch.RunJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Verb{types.VerbUnchanged}, verbs(report.JobStates()))

	latest, err := f.store.Load(ctx, job.GUID())
	require.NoError(t, err)
	assert.Equal(t, 0, latest.Tries)
	assert.Equal(t, "cached\n", latest.Data)
	assert.Equal(t, `"v1"`, latest.ETag)
}

func TestRunJobsIgnoredError(t *testing.T) {
	ctx := context.Background()
	job := urlJob(1, "https://ignored.example/", "")
	job.err = errors.New("timeout")
	job.ignore = true
	f := newFixture(t, []runner.Job{job}, nil)

	report, err := f.orch.RunJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.JobStates())

	guids, err := f.store.GetGUIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, guids)
}

func TestRunJobsKeepsSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	var list []runner.Job
	for i := 1; i <= 8; i++ {
		job := urlJob(i, fmt.Sprintf("https://%d.example/", i), "data\n")
		job.delay = time.Duration(9-i) * 5 * time.Millisecond
		list = append(list, job)
	}
	f := newFixture(t, list, nil)
	f.cfg.Jobs.MaxWorkers = 4

	report, err := f.orch.RunJobs(ctx)
	require.NoError(t, err)
	states := report.JobStates()
	require.Len(t, states, 8)
	for i, state := range states {
		assert.Equal(t, i+1, state.Job.Spec().Index)
	}
}

func TestRunJobsJoblist(t *testing.T) {
	ctx := context.Background()
	a := urlJob(1, "https://a.example/", "a\n")
	b := urlJob(2, "https://b.example/", "b\n")
	c := urlJob(3, "https://c.example/", "c\n")

	f := newFixture(t, []runner.Job{a, b, c}, func(o *Options) { o.Joblist = []int{-1, 1} })
	report, err := f.orch.RunJobs(ctx)
	require.NoError(t, err)
	states := report.JobStates()
	require.Len(t, states, 2)
	assert.Equal(t, "https://a.example/", states[0].Job.Spec().Location())
	assert.Equal(t, "https://c.example/", states[1].Job.Spec().Location())

	f = newFixture(t, []runner.Job{a, b, c}, func(o *Options) { o.Joblist = []int{4} })
	_, err = f.orch.RunJobs(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Job index 4 out of range (found 3 jobs).")
	assert.True(t, vahtierrors.Is(err, vahtierrors.ErrorTypeValidation))
}

func TestWorkerLimit(t *testing.T) {
	f := newFixture(t, nil, nil)
	batch := []runner.Job{urlJob(1, "https://a.example/", ""), urlJob(2, "https://b.example/", "")}
	assert.Equal(t, 2, f.orch.workerLimit(batch))

	f.cfg.Jobs.MaxWorkers = 1
	assert.Equal(t, 1, f.orch.workerLimit(batch))
}

func TestListErrorJobsStdout(t *testing.T) {
	ctx := context.Background()
	ok := urlJob(1, "https://ok.example/", "fine\n")
	broken := urlJob(2, "https://broken.example/", "")
	broken.err = errors.New("boom")
	empty := urlJob(3, "https://empty.example/", "  \n")
	empty.spec.Name = "Empty page"
	f := newFixture(t, []runner.Job{ok, broken, empty}, nil)

	require.NoError(t, f.orch.ListErrorJobs(ctx, "stdout"))

	out := f.out.String()
	assert.True(t, strings.HasPrefix(out,
		"Jobs with errors or returning no data (after unmodified filters, if any)\n   in jobs file jobs.yaml:\n"))
	assert.Contains(t, out, "  2: Error \"boom\": https://broken.example/\n")
	assert.Contains(t, out, "  3: No data: Empty page (https://empty.example/)\n")
	assert.NotContains(t, out, "ok.example")
	assert.Contains(t, out, "--\nChecked 3 jobs for errors in ")

	// Nothing was saved
	guids, err := f.store.GetGUIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, guids)
}

func TestListErrorJobsThroughReporter(t *testing.T) {
	ctx := context.Background()
	broken := urlJob(1, "https://broken.example/", "")
	broken.err = errors.New("boom")
	f := newFixture(t, []runner.Job{broken}, nil)
	f.captured.enabled = false

	require.NoError(t, f.orch.ListErrorJobs(ctx, "webhook"))

	require.Equal(t, 1, f.captured.calls, "sent even though the reporter is disabled")
	require.Len(t, f.captured.states, 1)
	state := f.captured.states[0]
	assert.Equal(t, types.VerbError, state.Verb)
	assert.Equal(t, errorsCommand, state.Job.Spec().Location())
	assert.Contains(t, state.ErrorMessage(), "  1: Error \"boom\": https://broken.example/")
	assert.Empty(t, f.out.String())
}

func TestListErrorJobsNoErrorsThroughReporter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []runner.Job{urlJob(1, "https://ok.example/", "fine\n")}, nil)

	require.NoError(t, f.orch.ListErrorJobs(ctx, "webhook"))
	assert.Equal(t, 0, f.captured.calls)
	assert.Contains(t, f.out.String(), "Found no errors\n")
}

func TestListErrorJobsUnknownReporter(t *testing.T) {
	f := newFixture(t, nil, nil)
	err := f.orch.ListErrorJobs(context.Background(), "pager")

	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.Code)
	assert.Equal(t, "Invalid reporter pager\n", f.out.String())
}

func TestJobLookup(t *testing.T) {
	a := urlJob(1, "https://a.example/", "")
	b := &scriptedJob{spec: types.JobSpec{Command: "date", Index: 2}}
	f := newFixture(t, []runner.Job{a, b}, nil)

	tests := []struct {
		id   string
		want runner.Job
	}{
		{"1", a},
		{"2", b},
		{"-1", b},
		{"-2", a},
		{"https://a.example/", a},
		{"date", b},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			job, err := f.orch.Job(tt.id)
			require.NoError(t, err)
			assert.Same(t, tt.want, job)
		})
	}

	for _, id := range []string{"0", "3", "-3", "https://missing.example/"} {
		_, err := f.orch.Job(id)
		var exit *ExitError
		require.ErrorAs(t, err, &exit, id)
		assert.Equal(t, "Job not found: "+id, exit.Error())
	}
}

func TestTestJob(t *testing.T) {
	ctx := context.Background()
	job := urlJob(1, "https://a.example/", "hello\r\nworld\n")
	job.spec.Name = "Greeting"
	job.spec.Note = "a note"
	f := newFixture(t, []runner.Job{job}, nil)

	require.NoError(t, f.orch.TestJob(ctx, "1"))
	assert.True(t, job.spec.IgnoreCached)
	assert.True(t, strings.HasPrefix(f.out.String(), "Greeting\n--------\na note\n\nhello\nworld\n\n\n--\nJob tested in "))

	guids, err := f.store.GetGUIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, guids, "test runs are not saved")

	job.set("", errors.New("boom"))
	assert.EqualError(t, f.orch.TestJob(ctx, "1"), "boom")
}

func seedHistory(t *testing.T, store storage.Store, guid string, data ...string) {
	t.Helper()
	// data is oldest first
	for i, d := range data {
		require.NoError(t, store.Save(context.Background(), guid, types.Snapshot{
			Data: d, Timestamp: float64(1700000000 + i*60), MimeType: types.DefaultMimeType,
		}))
	}
}

func TestTestDiff(t *testing.T) {
	ctx := context.Background()
	job := urlJob(1, "https://a.example/", "")
	f := newFixture(t, []runner.Job{job}, nil)

	err := f.orch.TestDiff(ctx, "1", "stdout")
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Contains(t, f.out.String(), "This job has never been run before.")

	seedHistory(t, f.store, job.GUID(), "v1\n")
	f.out.Reset()
	require.ErrorAs(t, f.orch.TestDiff(ctx, "1", "stdout"), &exit)
	assert.Contains(t, f.out.String(), "Not enough historic data available")

	seedHistory(t, f.store, job.GUID(), "v2\n", "v3\n")
	require.NoError(t, f.orch.TestDiff(ctx, "1", "stdout"))

	out := f.stdout.String()
	assert.Contains(t, out, "FILTERED DIFF (SNAPSHOTS  0 AND -1): https://a.example/")
	assert.Contains(t, out, "FILTERED DIFF (SNAPSHOTS -1 AND -2): https://a.example/")
	assert.Contains(t, out, "-v2\n+v3\n")
	assert.Contains(t, out, "-v1\n+v2\n")
	assert.Contains(t, out, "with vahti ")
}

func TestDiffBase(t *testing.T) {
	older := []types.Snapshot{
		{Data: "a\nb\nc\nd\n", Timestamp: 3},
		{Data: "x\ny\n", Timestamp: 2},
		{Data: "a\nb\nc\nz\n", Timestamp: 1},
	}

	base, ok := diffBase("anything\n", older, 1)
	require.True(t, ok)
	assert.Equal(t, 3.0, base.Timestamp)

	base, ok = diffBase("x\ny\n", older, 3)
	require.True(t, ok)
	assert.Equal(t, 2.0, base.Timestamp, "exact match wins")

	base, ok = diffBase("a\nb\nc\nz\n", older, 2)
	require.True(t, ok)
	assert.Equal(t, 3.0, base.Timestamp, "only compared_versions candidates are considered")

	_, ok = diffBase("unrelated\n", older, 3)
	assert.False(t, ok)
}

func TestDumpHistory(t *testing.T) {
	ctx := context.Background()
	job := urlJob(1, "https://a.example/", "")
	f := newFixture(t, []runner.Job{job}, nil)

	require.NoError(t, f.store.Save(ctx, job.GUID(), types.Snapshot{Data: "good\n", Timestamp: 1700000000, ETag: "abc", MimeType: types.DefaultMimeType}))
	require.NoError(t, f.store.Save(ctx, job.GUID(), types.Snapshot{Data: "good\n", Timestamp: 1700000060, Tries: 1, MimeType: types.DefaultMimeType}))

	require.NoError(t, f.orch.DumpHistory(ctx, "1"))
	out := f.out.String()
	assert.Contains(t, out, "History for job Job 1: https://a.example/:\n(ID: "+job.GUID()+")\n")
	assert.Contains(t, out, "1) Tue, 14 Nov 2023 22:14:20 +0000; error run (number 1)\n")
	assert.Contains(t, out, "2) Tue, 14 Nov 2023 22:13:20 +0000; ETag: abc\n")
	assert.True(t, strings.HasSuffix(out, "Found 1 good snapshot and 1 error capture.\n"))

	f.out.Reset()
	other := newFixture(t, []runner.Job{job}, nil)
	require.NoError(t, other.orch.DumpHistory(ctx, "1"))
	assert.True(t, strings.HasSuffix(other.out.String(), "Found 0 snapshots.\n"))
}

func TestDeleteSnapshot(t *testing.T) {
	ctx := context.Background()
	job := urlJob(1, "https://a.example/", "")
	f := newFixture(t, []runner.Job{job}, nil)

	err := f.orch.DeleteSnapshot(ctx, "1")
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.Code)
	assert.Contains(t, f.out.String(), "No snapshots found to be deleted for Job 1: https://a.example/")

	seedHistory(t, f.store, job.GUID(), "v1\n", "v2\n")
	require.NoError(t, f.orch.DeleteSnapshot(ctx, "1"))
	latest, err := f.store.Load(ctx, job.GUID())
	require.NoError(t, err)
	assert.Equal(t, "v1\n", latest.Data)
}

func TestChangeLocation(t *testing.T) {
	ctx := context.Background()
	a := urlJob(1, "https://old.example/", "")
	b := urlJob(2, "https://taken.example/", "")
	f := newFixture(t, []runner.Job{a, b}, nil)

	var exit *ExitError
	require.ErrorAs(t, f.orch.ChangeLocation(ctx, "1", "https://taken.example/"), &exit)
	assert.Contains(t, f.out.String(), "already exists for a job")

	require.ErrorAs(t, f.orch.ChangeLocation(ctx, "1", "https://new.example/"), &exit)
	assert.Contains(t, f.out.String(), `No snapshots found for "https://old.example/"`)

	seedHistory(t, f.store, a.GUID(), "v1\n", "v2\n")
	require.NoError(t, f.orch.ChangeLocation(ctx, "https://old.example/", "https://new.example/"))
	assert.Contains(t, f.out.String(), `Searched through 2 snapshots and moved "https://old.example/" to "https://new.example/"`)

	moved := types.JobSpec{URL: "https://new.example/"}
	history, err := f.store.GetHistorySnapshots(ctx, moved.GUID(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	history, err = f.store.GetHistorySnapshots(ctx, a.GUID(), 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestTestReporter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.captured.enabled = false

	require.NoError(t, f.orch.TestReporter(ctx, "webhook"))
	assert.Contains(t, f.out.String(), "WARNING: Reporter being tested is not enabled: webhook")

	states := f.captured.states
	require.Len(t, states, 4)
	assert.Equal(t, []types.Verb{types.VerbNew, types.VerbChanged, types.VerbUnchanged, types.VerbError}, verbs(states))
	for _, s := range states {
		assert.Equal(t, types.EpochTimestamp, s.OldTimestamp)
	}

	changed, err := states[1].GetDiff(ctx, types.ReportText, nil, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, changed, "-Previous Content\n+Updated Content\n")

	unchanged, err := states[2].GetDiff(ctx, types.ReportText, nil, time.UTC)
	require.NoError(t, err)
	assert.Empty(t, unchanged)

	assert.Equal(t, "The error message would appear here.", states[3].ErrorMessage())
	assert.Equal(t, "Sample job where an error was encountered", states[3].Job.Spec().PrettyName())

	err = f.orch.TestReporter(ctx, "carrier-pigeon")
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Contains(t, f.out.String(), "No such reporter: carrier-pigeon")
}

func TestMaintenance(t *testing.T) {
	ctx := context.Background()
	live := urlJob(1, "https://live.example/", "")
	f := newFixture(t, []runner.Job{live}, nil)

	seedHistory(t, f.store, live.GUID(), "v1\n", "v2\n", "v3\n")
	gone := types.JobSpec{URL: "https://gone.example/"}
	seedHistory(t, f.store, gone.GUID(), "old\n")

	require.NoError(t, f.orch.GC(ctx, 2))
	assert.Contains(t, f.out.String(), "Removed 2 snapshots.")
	guids, err := f.store.GetGUIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{live.GUID()}, guids)

	require.NoError(t, f.orch.CleanCache(ctx))
	history, err := f.store.GetHistorySnapshots(ctx, live.GUID(), 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "v3\n", history[0].Data)

	require.NoError(t, f.orch.Rollback(ctx, 1700000000))
	history, err = f.store.GetHistorySnapshots(ctx, live.GUID(), 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Contains(t, f.out.String(), "Deleted 1 snapshot captured after Tue, 14 Nov 2023 22:13:20 +0000.")
}

func TestListJobsAndFeatures(t *testing.T) {
	named := urlJob(1, "https://a.example/", "")
	named.spec.Name = "Front page"
	f := newFixture(t, []runner.Job{named, urlJob(2, "https://b.example/", "")}, nil)

	f.orch.ListJobs()
	assert.Equal(t, "  1: Front page (https://a.example/)\n  2: https://b.example/\nJobs file: jobs.yaml\n", f.out.String())

	f.out.Reset()
	f.orch.Features(jobs.Default())
	out := f.out.String()
	assert.Contains(t, out, "Supported jobs:")
	assert.Contains(t, out, "  * command - ")
	assert.Contains(t, out, "  * html2text - ")
	assert.Contains(t, out, "  * unified - ")
	assert.Contains(t, out, "  * stdout - ")
}
