package errors

import (
	"bytes"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFprintError(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name: "Retrieval Error",
			err: RetrievalError("https://example.com/", fmt.Errorf("connection refused")).
				WithCause("Host did not answer").
				WithSolutions("Check the URL", "Set ignore_connection_errors: true"),
			contains: []string{
				"retrieving https://example.com/: connection refused",
				"Host did not answer",
				"1. Check the URL",
				"2. Set ignore_connection_errors: true",
			},
		},
		{
			name: "Configuration Error",
			err:  ConfigurationError("invalid report.tz", nil),
			contains: []string{
				"invalid report.tz",
				"Help:",
			},
		},
		{
			name:     "Plain Error",
			err:      fmt.Errorf("boom"),
			contains: []string{"Error: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			FprintError(&buf, tt.err)
			for _, expected := range tt.contains {
				assert.Contains(t, buf.String(), expected)
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"Configuration Error", ConfigurationError("bad", nil), 78},
		{"Validation Error", ValidationError("bad directive"), 65},
		{"IO Error", IOError(fmt.Errorf("disk full")), 74},
		{"Retrieval Error", RetrievalError("x", fmt.Errorf("down")), 69},
		{"Wrapped Storage Error", fmt.Errorf("saving: %w", StorageError("save", nil)), 73},
		{"Generic Error", fmt.Errorf("some generic error"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetExitCode(tt.err))
		})
	}
}

func TestFormatErrorWithContext(t *testing.T) {
	err := FilterError("css", 3, fmt.Errorf("bad selector")).
		WithSolutions("Fix the selector")

	output := FormatErrorWithContext(err, map[string]string{"Job": "3"})

	assert.Contains(t, output, `job 3: filter "css" failed: bad selector`)
	assert.Contains(t, output, "Type: Filter")
	assert.Contains(t, output, "Job: 3")
	assert.Contains(t, output, "1. Fix the selector")
	assert.Contains(t, output, "Help: vahti test-job 3")
}

func TestIsNotModified(t *testing.T) {
	assert.True(t, IsNotModified(NotModified("abc")))
	assert.True(t, IsNotModified(fmt.Errorf("wrapped: %w", NotModified(""))))
	assert.True(t, IsNotModified(RetrievalError("x", NotModified(""))))
	assert.False(t, IsNotModified(fmt.Errorf("other")))
	assert.False(t, IsNotModified(nil))
}

func TestVahtiErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("root")
	err := Wrap(ErrorTypeStorage, cause, "saving")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "saving: root", err.Error())
	assert.Equal(t, "[Storage] saving: root", fmt.Sprintf("%+v", err))
	assert.Contains(t, err.Detail(), "Error: saving: root")
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize(nil))

	plain := fmt.Errorf("plain")
	assert.Same(t, plain, Normalize(plain))

	_, lookErr := exec.LookPath("vahti-definitely-missing-binary")
	require.Error(t, lookErr)
	assert.Equal(t, ErrorTypeIO, TypeOf(Normalize(lookErr)))

	exitErr := exec.Command("sh", "-c", "echo oops >&2; exit 3").Run()
	require.Error(t, exitErr)
	normalized := Normalize(exitErr)
	assert.Equal(t, ErrorTypeProcess, TypeOf(normalized))
}
