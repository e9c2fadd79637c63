package types

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// JobSpec holds the directives of one job as read from the jobs file
type JobSpec struct {
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Note string `yaml:"note,omitempty" json:"note,omitempty"`

	URL        string            `yaml:"url,omitempty" json:"url,omitempty"`
	UseBrowser bool              `yaml:"use_browser,omitempty" json:"use_browser,omitempty"`
	Command    string            `yaml:"command,omitempty" json:"command,omitempty"`
	Method     string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Data       string            `yaml:"data,omitempty" json:"data,omitempty"`
	Timeout    float64           `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	UserAgent  string            `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	WaitFor    string            `yaml:"wait_for,omitempty" json:"wait_for,omitempty"`

	Filter           interface{} `yaml:"filter,omitempty" json:"filter,omitempty"`
	DiffFilter       interface{} `yaml:"diff_filter,omitempty" json:"diff_filter,omitempty"`
	Differ           interface{} `yaml:"differ,omitempty" json:"differ,omitempty"`
	ComparedVersions int         `yaml:"compared_versions,omitempty" json:"compared_versions,omitempty"`
	IsMarkdown       bool        `yaml:"is_markdown,omitempty" json:"is_markdown,omitempty"`
	MaxTries         int         `yaml:"max_tries,omitempty" json:"max_tries,omitempty"`
	NoReport         bool        `yaml:"no_report,omitempty" json:"no_report,omitempty"`
	IgnoreCached     bool        `yaml:"ignore_cached,omitempty" json:"ignore_cached,omitempty"`

	IgnoreConnectionErrors bool        `yaml:"ignore_connection_errors,omitempty" json:"ignore_connection_errors,omitempty"`
	IgnoreTimeoutErrors    bool        `yaml:"ignore_timeout_errors,omitempty" json:"ignore_timeout_errors,omitempty"`
	IgnoreTooManyRedirects bool        `yaml:"ignore_too_many_redirects,omitempty" json:"ignore_too_many_redirects,omitempty"`
	IgnoreHTTPErrorCodes   interface{} `yaml:"ignore_http_error_codes,omitempty" json:"ignore_http_error_codes,omitempty"`

	// Index is the 1-based position of the job in the jobs file
	Index int `yaml:"-" json:"-"`
}

// Location returns the URL or command that identifies the job
func (j *JobSpec) Location() string {
	if j.URL != "" {
		return j.URL
	}
	return j.Command
}

// GUID returns the content-derived identifier used as the snapshot store key
func (j *JobSpec) GUID() string {
	sum := sha1.Sum([]byte(j.Location()))
	return hex.EncodeToString(sum[:])
}

// PrettyName returns the job name, falling back to its location
func (j *JobSpec) PrettyName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.Location()
}

// IndexedLocation is the location prefixed with the job number, used in log lines
func (j *JobSpec) IndexedLocation() string {
	return fmt.Sprintf("Job %d: %s", j.Index, j.Location())
}

// String renders the job for verbose listings
func (j *JobSpec) String() string {
	kind := j.Kind
	if kind == "" {
		kind = "job"
	}
	if j.Name != "" {
		return fmt.Sprintf("<%s index=%d name=%q location=%q>", kind, j.Index, j.Name, j.Location())
	}
	return fmt.Sprintf("<%s index=%d location=%q>", kind, j.Index, j.Location())
}
