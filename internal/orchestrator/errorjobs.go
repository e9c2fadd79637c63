package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/jobs"
	"github.com/yairfalse/vahti/internal/reporters"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/types"
)

// errorsCommand is the location of the pseudo-job carrying the error summary
const errorsCommand = "vahti errors"

// ListErrorJobs runs the selected jobs without saving and lists those that
// fail or return no data. The summary goes to stdout, or through the named
// reporter as a single error entry.
func (o *Orchestrator) ListErrorJobs(ctx context.Context, reporter string) error {
	if _, ok := o.reporters.Get(reporter); !ok {
		o.printf("Invalid reporter %s\n", reporter)
		return &ExitError{Code: 1}
	}

	start := time.Now()
	batch, err := o.selectJobs()
	if err != nil {
		return err
	}

	header := o.errorsHeader(len(batch))
	var lines []string
	for state := range o.process(ctx, batch, poolSize(batch)) {
		if line := o.errorLine(state); line != "" {
			lines = append(lines, line)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	checked := fmt.Sprintf("Checked %s for errors in %s.", plural(len(batch), "job"), reporters.DurationText(time.Since(start)))

	if reporter == "stdout" {
		o.println(header)
		for _, line := range lines {
			o.println(line)
		}
		o.println("--")
		o.println(checked)
		return nil
	}

	if len(lines) == 0 {
		o.println(header)
		o.println("--")
		o.println("Found no errors")
		o.println(checked)
		return nil
	}

	cfg := *o.cfg
	cfg.Display.Error = true
	cfg.Report.Text.Footer = false
	cfg.Report.Markdown.Footer = false
	cfg.Report.HTML.Footer = false
	report, err := o.newReport(&cfg)
	if err != nil {
		return err
	}

	state := runner.NewJobState(nil, newPseudoJob(types.JobSpec{Command: errorsCommand}), o.stateOptions()...)
	state.Traceback = header + "\n" + strings.Join(lines, "\n") + "\n" + checked
	report.Error(state)
	return report.FinishOne(ctx, reporter, o.jobsFiles, false)
}

func (o *Orchestrator) errorsHeader(count int) string {
	var sb strings.Builder
	sb.WriteString("Jobs with errors or returning no data (after unmodified filters, if any)")
	if len(o.jobsFiles) == 1 {
		fmt.Fprintf(&sb, "\n   in jobs file %s:", o.jobsFiles[0])
	} else {
		sb.WriteString("\n   in the concatenation of the jobs files")
		for _, file := range o.jobsFiles {
			fmt.Fprintf(&sb, "\n   • %s", file)
		}
	}
	if len(o.joblist) > 0 {
		fmt.Fprintf(&sb, "\nProcessing %s as specified in command line: # %s", plural(count, "job"), o.joblistText())
	}
	return sb.String()
}

// errorLine describes a failing or empty job; successful jobs with data yield ""
func (o *Orchestrator) errorLine(state *runner.JobState) string {
	spec := state.Job.Spec()
	name := jobs.Label(spec)
	if o.verbose {
		name = spec.String()
	}

	if state.Exception != nil && !vahtierrors.IsNotModified(state.Exception) {
		return fmt.Sprintf("%3d: Error \"%s\": %s", spec.Index, state.Exception, name)
	}

	data := state.NewData
	if state.Exception != nil {
		data = state.OldData
	}
	if strings.TrimSpace(data) == "" {
		return fmt.Sprintf("%3d: No data: %s", spec.Index, name)
	}
	return ""
}
