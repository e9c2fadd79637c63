package types

import (
	"errors"
	"math"
	"time"
)

// EpochTimestamp is the capture time given to a job that has never been run.
const EpochTimestamp = 1605147837.511478

// DefaultMimeType is used when a retrieval does not report a content type
const DefaultMimeType = "text/plain"

// Snapshot is one persisted capture of a job's content
type Snapshot struct {
	Data      string  `json:"data"`
	Timestamp float64 `json:"timestamp"`
	Tries     int     `json:"tries"`
	ETag      string  `json:"etag"`
	MimeType  string  `json:"mime_type"`
}

// EmptySnapshot returns the snapshot used when the store holds nothing for a job
func EmptySnapshot() Snapshot {
	return Snapshot{
		Data:      "",
		Timestamp: EpochTimestamp,
		Tries:     0,
		ETag:      "",
		MimeType:  DefaultMimeType,
	}
}

// Validate checks the snapshot before it is written to a store
func (s *Snapshot) Validate() error {
	if s.Timestamp <= 0 || math.IsNaN(s.Timestamp) || math.IsInf(s.Timestamp, 0) {
		return errors.New("snapshot timestamp must be a positive number of seconds")
	}
	if s.Tries < 0 {
		return errors.New("snapshot tries cannot be negative")
	}
	return nil
}

// IsError reports whether the snapshot was captured by a failing run
func (s *Snapshot) IsError() bool {
	return s.Tries > 0
}

// IsEmpty reports whether the snapshot is the never-run sentinel
func (s *Snapshot) IsEmpty() bool {
	return s.Data == "" && s.Timestamp == EpochTimestamp
}

// Time converts the float timestamp to a time.Time
func (s *Snapshot) Time() time.Time {
	return TimeFromTimestamp(s.Timestamp)
}

// TimeFromTimestamp converts float seconds since the Unix epoch to a time.Time
func TimeFromTimestamp(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// TimestampFromTime converts a time.Time to float seconds since the Unix epoch
func TimestampFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Now returns the current time as float seconds since the Unix epoch
func Now() float64 {
	return TimestampFromTime(time.Now())
}
