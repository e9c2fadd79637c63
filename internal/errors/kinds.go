package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

// NotModified signals that the source confirmed the content has not changed since the given ETag
func NotModified(etag string) *VahtiError {
	err := New(ErrorTypeNotModified, "content not modified")
	if etag != "" {
		err.WithCause(fmt.Sprintf("server confirmed ETag %s", etag))
	}
	return err
}

// RetrievalError wraps a failure to obtain content from a job's source
func RetrievalError(location string, originalErr error) *VahtiError {
	return Wrap(ErrorTypeRetrieval, originalErr, fmt.Sprintf("retrieving %s", location))
}

// HTTPError describes a response with an error status code
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Status != "" {
		return "HTTP " + e.Status
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// FilterError wraps a failure of one filter of a job's chain
func FilterError(kind string, jobIndex int, originalErr error) *VahtiError {
	return Wrap(ErrorTypeFilter, originalErr, fmt.Sprintf("job %d: filter %q failed", jobIndex, kind)).
		WithHelp("vahti test-job " + fmt.Sprint(jobIndex))
}

// UnknownFilterError reports a filter kind that is not registered
func UnknownFilterError(kind string, jobIndex int) *VahtiError {
	return New(ErrorTypeValidation, fmt.Sprintf("job %d: unknown filter kind %q", jobIndex, kind)).
		WithSolutions("Check the spelling of the filter name in the jobs file").
		WithHelp("vahti features")
}

// PolicyFailure reports that a job's own error formatting or ignoring hook failed
func PolicyFailure(hook string, originalErr error) *VahtiError {
	return Wrap(ErrorTypeJobPolicy, originalErr, fmt.Sprintf("job error hook %s failed", hook))
}

// ProcessError reports a failed external process, carrying its standard error output
func ProcessError(stderr string, originalErr error) *VahtiError {
	err := Wrap(ErrorTypeProcess, originalErr, "external process failed")
	if s := strings.TrimSpace(stderr); s != "" {
		err.WithCause(s)
	}
	return err
}

// IOError wraps an operating system input/output failure
func IOError(originalErr error) *VahtiError {
	return Wrap(ErrorTypeIO, originalErr, "I/O error")
}

// ConfigurationError reports an invalid or unreadable configuration
func ConfigurationError(message string, originalErr error) *VahtiError {
	return Wrap(ErrorTypeConfiguration, originalErr, message).
		WithHelp("vahti --config <file> run")
}

// ValidationError reports invalid user input such as a bad job directive
func ValidationError(message string) *VahtiError {
	return New(ErrorTypeValidation, message)
}

// StorageError wraps a failure of the snapshot store
func StorageError(operation string, originalErr error) *VahtiError {
	return Wrap(ErrorTypeStorage, originalErr, "snapshot store: "+operation)
}

// Normalize translates low-level process and missing-file failures into the
// ProcessError and IOError kinds. Other errors are returned unchanged.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var vErr *VahtiError
	if stderrors.As(err, &vErr) && (vErr.Type == ErrorTypeProcess || vErr.Type == ErrorTypeIO) {
		return err
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return ProcessError(string(exitErr.Stderr), err)
	}
	if stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, exec.ErrNotFound) {
		return IOError(err)
	}
	return err
}
