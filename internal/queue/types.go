package queue

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether s ends a job's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// JobDescriptor is the immutable unit of work handed to a build worker.
type JobDescriptor struct {
	ID         string `json:"id"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	OutputPath string `json:"output_path"`
	BuildType  string `json:"build_type"`
}

// Job is a JobDescriptor plus its queue bookkeeping.
type Job struct {
	JobDescriptor
	Status      Status
	SubmittedBy string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   *string
	SiteDigest  *string
}

type EnqueueRequest struct {
	Repository  string
	Branch      string
	OutputPath  string
	BuildType   string
	SubmittedBy string
}

func (r EnqueueRequest) validate() error {
	switch {
	case r.Repository == "":
		return fmt.Errorf("repository is empty")
	case r.Branch == "":
		return fmt.Errorf("branch is empty")
	case r.OutputPath == "":
		return fmt.Errorf("output_path is empty")
	case r.BuildType == "":
		return fmt.Errorf("build_type is empty")
	case r.SubmittedBy == "":
		return fmt.Errorf("submitted_by is empty")
	}
	return nil
}

// Outcome is the terminal record written by Complete.
type Outcome struct {
	Status     Status
	LastError  string
	BuildLog   string
	SiteDigest string
}

var ErrJobNotFound = errors.New("job not found")

// maxBuildLogBytes caps the build log stored with a job.
const maxBuildLogBytes = 64 * 1024

// truncateLog keeps the tail of s, starting on a rune boundary.
func truncateLog(s string) string {
	if len(s) <= maxBuildLogBytes {
		return s
	}
	i := len(s) - maxBuildLogBytes
	for n := 0; n < utf8.UTFMax-1 && i < len(s) && !utf8.RuneStart(s[i]); n++ {
		i++
	}
	return s[i:]
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
