package jobs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/types"
)

// CommandJob captures the standard output of a shell command
type CommandJob struct {
	base
}

func newCommandJob(spec types.JobSpec, deps Deps) (runner.Job, error) {
	if spec.Command == "" {
		return nil, vahtierrors.ValidationError(fmt.Sprintf("job %d: command is required", spec.Index))
	}
	return &CommandJob{base: newBase(spec, deps)}, nil
}

// Retrieve runs the command through sh -c. A non-zero exit status is an
// error carrying the command's standard error.
func (j *CommandJob) Retrieve(ctx context.Context, state *runner.JobState, headless bool) (string, string, string, error) {
	ctx, cancel := withTimeout(ctx, j.spec.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", j.spec.Command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	j.log.Debug(fmt.Sprintf("running %q", j.spec.Command))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return "", "", "", vahtierrors.ProcessError(stderr.String(), err)
	}
	return stdout.String(), "", types.DefaultMimeType, nil
}
