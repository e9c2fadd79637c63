package runner

import (
	"context"

	"github.com/yairfalse/vahti/pkg/types"
)

// Job is a monitored source. Implementations live in internal/jobs.
type Job interface {
	// Spec returns the directives the job was loaded from
	Spec() *types.JobSpec
	// GUID returns the snapshot store key of the job
	GUID() string
	// Retrieve fetches the current content. The state gives access to the
	// previous capture, e.g. its ETag for conditional requests.
	Retrieve(ctx context.Context, state *JobState, headless bool) (data, etag, mimeType string, err error)
	// FormatError renders err for reports; trace is the detailed error text
	FormatError(err error, trace string) string
	// IgnoreError decides whether err is suppressed. A non-empty reason also suppresses it.
	IgnoreError(err error) (ignored bool, reason string)
}
