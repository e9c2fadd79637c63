package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/vahti/internal/differ"
	"github.com/yairfalse/vahti/internal/jobs"
	"github.com/yairfalse/vahti/internal/reporters"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/config"
	"github.com/yairfalse/vahti/pkg/types"
)

// pseudoJob stands in for a job in reports that were not produced by a run
type pseudoJob struct {
	spec types.JobSpec
}

func newPseudoJob(spec types.JobSpec) *pseudoJob {
	return &pseudoJob{spec: spec}
}

func (j *pseudoJob) Spec() *types.JobSpec { return &j.spec }
func (j *pseudoJob) GUID() string         { return j.spec.GUID() }

func (j *pseudoJob) Retrieve(ctx context.Context, state *runner.JobState, headless bool) (string, string, string, error) {
	return "", "", "", errors.New("sample jobs cannot be retrieved")
}

func (j *pseudoJob) FormatError(err error, trace string) string { return err.Error() }
func (j *pseudoJob) IgnoreError(err error) (bool, string)      { return false, "" }

// ListJobs prints every job with its number
func (o *Orchestrator) ListJobs() {
	for _, job := range o.jobs {
		spec := job.Spec()
		if o.verbose {
			o.printf("%3d: %s\n", spec.Index, spec)
		} else {
			o.printf("%3d: %s\n", spec.Index, jobs.Label(spec))
		}
	}
	switch {
	case len(o.jobsFiles) == 1:
		o.printf("Jobs file: %s\n", o.jobsFiles[0])
	case len(o.jobsFiles) > 1:
		o.printf("Jobs files concatenated:\n   • %s\n", strings.Join(o.jobsFiles, "\n   • "))
	}
}

// TestJob runs one job without saving and prints its filtered data
func (o *Orchestrator) TestJob(ctx context.Context, id string) error {
	job, err := o.Job(id)
	if err != nil {
		return err
	}
	start := time.Now()

	// Always retrieve afresh; filters are what is being tested
	job.Spec().IgnoreCached = true

	return runner.WithJobState(o.store, job, func(state *runner.JobState) error {
		state.Process(ctx, o.headless)
		if state.Exception != nil {
			return state.Exception
		}
		spec := job.Spec()
		o.println(spec.PrettyName())
		o.println(strings.Repeat("-", len(spec.PrettyName())))
		if spec.Note != "" {
			o.println(spec.Note)
		}
		o.println()
		o.println(state.NewData)
		o.println()
		o.println("--")
		o.printf("Job tested in %s with vahti %s.\n", reporters.DurationText(time.Since(start)), reporters.Version)
		return nil
	}, o.stateOptions()...)
}

// TestDiff replays the stored history of a job through its differ and diff
// filters, sending every consecutive pair to the named reporter
func (o *Orchestrator) TestDiff(ctx context.Context, id, reporter string) error {
	job, err := o.Job(id)
	if err != nil {
		return err
	}
	spec := job.Spec()

	if containsHTML2Text(spec.Filter) {
		spec.IsMarkdown = true
	}

	history, err := o.store.GetHistorySnapshots(ctx, job.GUID(), 0)
	if err != nil {
		return err
	}
	switch len(history) {
	case 0:
		o.println("This job has never been run before.")
		return &ExitError{Code: 1}
	case 1:
		o.println("Not enough historic data available (need at least 2 different snapshots).")
		return &ExitError{Code: 1}
	}

	if spec.ComparedVersions > 1 {
		o.printf("Note: The job's 'compared_versions' directive is set to %d.\n", spec.ComparedVersions)
	}

	cfg := fullReportConfig(o.cfg, reporter)
	jobsFiles := []string{"--test-diff"}
	for i := 0; i < len(history)-1; i++ {
		state := runner.NewJobState(o.store, job, o.stateOptions()...)
		state.NewData = history[i].Data
		state.NewTimestamp = history[i].Timestamp
		state.NewETag = history[i].ETag
		state.NewMimeType = history[i].MimeType

		if base, ok := diffBase(history[i].Data, history[i+1:], spec.ComparedVersions); ok {
			state.OldData = base.Data
			state.OldTimestamp = base.Timestamp
			state.OldETag = base.ETag
			state.OldMimeType = base.MimeType
		}

		var label string
		if state.NewData == state.OldData {
			label = fmt.Sprintf("No change (snapshots %2d AND %2d) with 'compared_versions: %d'", -i, -(i + 1), spec.ComparedVersions)
		} else {
			label = fmt.Sprintf("Filtered diff (snapshots %2d and %2d)", -i, -(i + 1))
		}

		report, err := o.newReport(cfg)
		if err != nil {
			return err
		}
		report.Custom(state, label)
		if err := report.FinishOne(ctx, reporter, jobsFiles, false); err != nil {
			return err
		}
	}
	return nil
}

// diffBase picks the snapshot a capture is compared against: the next older
// one, or with compared versions the exact or closest match among that many
func diffBase(data string, older []types.Snapshot, comparedVersions int) (types.Snapshot, bool) {
	if comparedVersions <= 1 {
		return older[0], true
	}
	candidates := older[:min(comparedVersions, len(older))]
	for _, s := range candidates {
		if s.Data == data {
			return s, true
		}
	}
	return differ.CloseMatch(data, candidates)
}

func containsHTML2Text(filter interface{}) bool {
	switch f := filter.(type) {
	case string:
		return strings.Contains(f, "html2text")
	case []interface{}:
		for _, item := range f {
			switch v := item.(type) {
			case string:
				if strings.Contains(v, "html2text") {
					return true
				}
			case map[string]interface{}:
				if _, ok := v["html2text"]; ok {
					return true
				}
			}
		}
	}
	return false
}

// fullReportConfig enables the reporter and every detail of the text and markdown renderers
func fullReportConfig(base *config.Config, reporter string) *config.Config {
	cfg := *base
	cfg.Report.Text.Details, cfg.Report.Text.Footer, cfg.Report.Text.Minimal = true, true, false
	cfg.Report.Markdown.Details, cfg.Report.Markdown.Footer, cfg.Report.Markdown.Minimal = true, true, false
	switch reporter {
	case "stdout":
		cfg.Report.Stdout.Enabled = true
	case "webhook":
		cfg.Report.Webhook.Enabled = true
	case "slack":
		cfg.Report.Slack.Enabled = true
	}
	return &cfg
}

// DumpHistory prints every stored snapshot of a job, newest first
func (o *Orchestrator) DumpHistory(ctx context.Context, id string) error {
	job, err := o.Job(id)
	if err != nil {
		return err
	}
	spec := job.Spec()

	history, err := o.store.GetHistorySnapshots(ctx, job.GUID(), 0)
	if err != nil {
		return err
	}
	tz, err := o.cfg.Location()
	if err != nil {
		return err
	}

	o.printf("History for job %s:\n", spec.IndexedLocation())
	o.printf("(ID: %s)\n", job.GUID())
	if len(history) > 0 {
		o.println(strings.Repeat("=", 50))
	}

	failed := 0
	for i, snapshot := range history {
		var suffix string
		if snapshot.ETag != "" {
			suffix += "; ETag: " + snapshot.ETag
		}
		if snapshot.IsError() {
			suffix += fmt.Sprintf("; error run (number %d)", snapshot.Tries)
			failed++
		}
		header := fmt.Sprintf("%d) %s%s", i+1, snapshot.Time().In(tz).Format(time.RFC1123Z), suffix)
		width := max(50, len(header))
		o.println(header)
		o.println(strings.Repeat("-", width))
		o.println(snapshot.Data)
		o.println(strings.Repeat("=", width))
		o.println()
	}

	good := len(history) - failed
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d", good)
	if failed > 0 {
		sb.WriteString(" good")
	}
	sb.WriteString(" snapshot")
	if good != 1 {
		sb.WriteString("s")
	}
	if failed > 0 {
		fmt.Fprintf(&sb, " and %d error capture", failed)
		if failed != 1 {
			sb.WriteString("s")
		}
	}
	sb.WriteString(".")
	o.println(sb.String())
	return nil
}

// DeleteSnapshot removes the latest snapshot of a job. Nothing to delete exits with 1.
func (o *Orchestrator) DeleteSnapshot(ctx context.Context, id string) error {
	job, err := o.Job(id)
	if err != nil {
		return err
	}
	state := runner.NewJobState(o.store, job, o.stateOptions()...)
	deleted, err := state.DeleteLatest(ctx, false)
	if err != nil {
		return err
	}
	if !deleted {
		o.printf("No snapshots found to be deleted for %s\n", job.Spec().IndexedLocation())
		return &ExitError{Code: 1}
	}
	o.printf("Deleted last snapshot of %s\n", job.Spec().IndexedLocation())
	return nil
}

// ChangeLocation moves the snapshots of the job at oldID to the GUID of newLocation.
// It must run before the jobs file is updated.
func (o *Orchestrator) ChangeLocation(ctx context.Context, oldID, newLocation string) error {
	for _, job := range o.jobs {
		if job.Spec().Location() == newLocation {
			o.printf("The new location %q already exists for a job. Delete the existing job or choose a different value.\n", newLocation)
			o.println("Hint: you have to run change-location before you update the jobs file!")
			return &ExitError{Code: 1}
		}
	}

	job, err := o.Job(oldID)
	if err != nil {
		return err
	}
	oldLocation := job.Spec().Location()
	oldGUID := job.GUID()

	guids, err := o.store.GetGUIDs(ctx)
	if err != nil {
		return err
	}
	known := false
	for _, guid := range guids {
		if guid == oldGUID {
			known = true
			break
		}
	}
	if !known {
		o.printf("No snapshots found for %q\n", oldLocation)
		return &ExitError{Code: 1}
	}

	moved := *job.Spec()
	if moved.URL != "" {
		moved.URL = newLocation
	} else {
		moved.Command = newLocation
	}

	o.printf("Moving location of %q to %q\n", oldLocation, newLocation)
	n, err := o.store.Move(ctx, oldGUID, moved.GUID())
	if err != nil {
		return err
	}
	if n > 0 {
		o.printf("Searched through %d snapshots and moved %q to %q\n", n, oldLocation, newLocation)
	}
	o.printf("Please update the jobs file to reflect %q.\n", newLocation)
	return nil
}

// TestReporter sends one sample of every verb through the named reporter
func (o *Orchestrator) TestReporter(ctx context.Context, name string) error {
	rep, ok := o.reporters.Get(name)
	if !ok {
		o.printf("No such reporter: %s\n", name)
		o.printf("\nSupported reporters:\n%s\n", o.reporterList())
		return &ExitError{Code: 1}
	}
	if !rep.Enabled(o.cfg) {
		o.printf("WARNING: Reporter being tested is not enabled: %s\n", name)
		o.println("Will still attempt to test it, but this may not work")
	}

	report, err := o.newReport(nil)
	if err != nil {
		return err
	}
	for _, sample := range o.sampleStates() {
		switch sample.Verb {
		case types.VerbNew:
			report.New(sample)
		case types.VerbChanged:
			report.Changed(sample)
		case types.VerbUnchanged:
			report.Unchanged(sample)
		case types.VerbError:
			report.Error(sample)
		}
	}
	return report.FinishOne(ctx, name, o.jobsFiles, false)
}

// sampleStates builds the four demonstration states of TestReporter. Verb is
// preset to the classification each one is meant for.
func (o *Orchestrator) sampleStates() []*runner.JobState {
	build := func(verb types.Verb, name, url, oldData, newData string) *runner.JobState {
		state := runner.NewJobState(nil, newPseudoJob(types.JobSpec{Name: name, URL: url}), o.stateOptions()...)
		state.OldData = oldData
		state.OldTimestamp = types.EpochTimestamp
		state.NewData = newData
		state.NewTimestamp = types.Now()
		state.Verb = verb
		return state
	}

	failed := build(types.VerbError, "Sample job where an error was encountered", "https://example.com/error", "", "")
	failed.Exception = errors.New("The error message would appear here.")
	failed.Traceback = failed.Job.FormatError(failed.Exception, "")

	return []*runner.JobState{
		build(types.VerbNew, "Sample job that was newly added", "https://example.com/new", "", ""),
		build(types.VerbChanged, "Sample job where something changed", "https://example.com/changed",
			"Unchanged Line\nPrevious Content\nAnother Unchanged Line\n",
			"Unchanged Line\nUpdated Content\nAnother Unchanged Line\n"),
		build(types.VerbUnchanged, "Sample job where nothing changed", "http://example.com/unchanged",
			"Same Old, Same Old\n", "Same Old, Same Old\n"),
		failed,
	}
}

func (o *Orchestrator) reporterList() string {
	var lines []string
	for _, rep := range o.reporters.List() {
		lines = append(lines, fmt.Sprintf("  * %s - %s", rep.Name(), rep.Description()))
	}
	return strings.Join(lines, "\n")
}

// Features prints the registered job kinds, filters, differs and reporters
func (o *Orchestrator) Features(kinds *jobs.Registry) {
	o.println("Supported jobs:")
	o.println()
	for _, kind := range kinds.List() {
		o.printf("  * %s - %s\n", kind.Name, kind.Description)
	}
	o.println()
	o.println("Supported filters:")
	o.println()
	for _, f := range o.filters.List() {
		o.printf("  * %s - %s\n", f.Name(), f.Description())
	}
	o.println()
	o.println("Supported differs:")
	o.println()
	for _, d := range o.differs.List() {
		o.printf("  * %s - %s\n", d.Name(), d.Description())
	}
	o.println()
	o.println("Supported reporters:")
	o.println()
	o.println(o.reporterList())
}

// GC drops snapshots of jobs no longer in the jobs file and keeps the newest keep of the rest
func (o *Orchestrator) GC(ctx context.Context, keep int) error {
	known := make([]string, 0, len(o.jobs))
	for _, job := range o.jobs {
		known = append(known, job.GUID())
	}
	removed, err := o.store.GC(ctx, known, keep)
	if err != nil {
		return err
	}
	o.printf("Removed %s.\n", plural(removed, "snapshot"))
	return nil
}

// CleanCache keeps only the latest snapshot of every job
func (o *Orchestrator) CleanCache(ctx context.Context) error {
	removed, err := o.store.CleanCache(ctx)
	if err != nil {
		return err
	}
	o.printf("Removed %s.\n", plural(removed, "snapshot"))
	return nil
}

// Rollback deletes every snapshot taken after timestamp
func (o *Orchestrator) Rollback(ctx context.Context, timestamp float64) error {
	removed, err := o.store.RollbackCache(ctx, timestamp)
	if err != nil {
		return err
	}
	tz, err := o.cfg.Location()
	if err != nil {
		return err
	}
	o.printf("Deleted %s captured after %s.\n", plural(removed, "snapshot"),
		types.TimeFromTimestamp(timestamp).In(tz).Format(time.RFC1123Z))
	return nil
}
