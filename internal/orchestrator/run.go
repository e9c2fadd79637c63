package orchestrator

import (
	"context"
	"errors"
	"fmt"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/runner"
)

// RunJobs processes the selected jobs, classifies and saves every result in
// job order, then hands the report to the enabled reporters.
func (o *Orchestrator) RunJobs(ctx context.Context) (*runner.Report, error) {
	batch, err := o.selectJobs()
	if err != nil {
		return nil, err
	}
	if len(o.joblist) > 0 {
		o.log.Debug(fmt.Sprintf("processing %s as specified in command line: # %s", plural(len(batch), "job"), o.joblistText()))
	} else {
		o.log.Debug(fmt.Sprintf("processing %s", plural(len(batch), "job")))
	}

	report, err := o.newReport(nil)
	if err != nil {
		return nil, err
	}

	var saveErrs []error
	for state := range o.process(ctx, batch, o.workerLimit(batch)) {
		if err := o.classify(ctx, report, state); err != nil {
			o.log.WithField("job", state.Job.Spec().Index).Error("failed to save snapshot", err)
			saveErrs = append(saveErrs, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if err := report.Finish(ctx, o.jobsFiles); err != nil {
		return report, err
	}
	return report, errors.Join(saveErrs...)
}

// classify files one finished state under its verb and persists what the
// verb calls for
func (o *Orchestrator) classify(ctx context.Context, report *runner.Report, state *runner.JobState) error {
	spec := state.Job.Spec()
	log := o.log.WithField("job", spec.Index)

	if state.Exception != nil {
		switch {
		case state.ErrorIgnored:
			reason := state.ErrorIgnoredReason
			if reason == "" {
				reason = state.Exception.Error()
			}
			log.Info(fmt.Sprintf("%s: error ignored: %s", spec.IndexedLocation(), reason))
			return nil

		case vahtierrors.IsNotModified(state.Exception):
			log.Info(fmt.Sprintf("%s: content unchanged (not modified)", spec.IndexedLocation()))
			report.Unchanged(state)
			if state.Tries > 0 {
				state.Tries = 0
				return state.Save(ctx, true)
			}
			return nil

		case state.Tries < spec.MaxTries:
			log.Info(fmt.Sprintf("%s: error %d of %d allowed before reporting", spec.IndexedLocation(), state.Tries, spec.MaxTries))
			return state.Save(ctx, true)

		default:
			report.Error(state)
			return state.Save(ctx, true)
		}
	}

	oldError := state.Tries > 0
	state.Tries = 0

	if state.OldSnapshot.IsEmpty() || (state.OldData == "" && oldError) {
		report.New(state)
		return state.Save(ctx, false)
	}

	if matched, ok := state.HistorySnapshots[state.NewData]; ok {
		state.OldTimestamp = matched.Timestamp
		state.OldData = matched.Data
	}
	if state.NewData == state.OldData {
		report.Unchanged(state)
		if oldError || state.NewETag != state.OldETag {
			return state.Save(ctx, false)
		}
		return nil
	}

	if spec.NoReport {
		report.ChangedNoReport(state)
	} else {
		report.Changed(state)
	}
	return state.Save(ctx, false)
}
