package model

import (
	"fmt"
	"time"
)

// JobStateKind job state tag
type JobStateKind int

const (
	JobWaiting JobStateKind = iota // queued, no worker yet
	JobRunning                     // a worker is executing it
	JobDone                        // finished successfully
	JobError                       // failed, message carried in JobState
)

// Name returns the state name as the job manager reports it
func (k JobStateKind) Name() string {
	switch k {
	case JobRunning:
		return "RUNNING"
	case JobDone:
		return "DONE"
	case JobError:
		return "ERROR"
	default:
		return "WAIT_WORKER"
	}
}

func (k JobStateKind) String() string {
	return k.Name()
}

// JobState tagged job state; Message is only meaningful for JobError
type JobState struct {
	Kind    JobStateKind
	Message string
}

func Waiting() JobState { return JobState{Kind: JobWaiting} }
func Running() JobState { return JobState{Kind: JobRunning} }
func Done() JobState { return JobState{Kind: JobDone} }
func Failed(msg string) JobState { return JobState{Kind: JobError, Message: msg} }

// Category job list tab
type Category string

const (
	CategoryAll      Category = "all"
	CategoryRunning  Category = "running"
	CategoryFinished Category = "finished"
	CategoryFailed   Category = "failed"
)

// Categories lists the tabs in display order
var Categories = []Category{CategoryAll, CategoryRunning, CategoryFinished, CategoryFailed}

// ParseCategory parses a tab name; empty means all
func ParseCategory(s string) (Category, error) {
	if s == "" {
		return CategoryAll, nil
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown job category: %s", s)
}

// Bucket returns the tab a job in this state belongs to besides All.
// ok is false for states that only appear under All.
func (k JobStateKind) Bucket() (Category, bool) {
	switch k {
	case JobRunning:
		return CategoryRunning, true
	case JobDone:
		return CategoryFinished, true
	case JobError:
		return CategoryFailed, true
	default:
		return "", false
	}
}

// Job read-only snapshot of a job owned by the job manager
type Job struct {
	ID    string
	Kind  string // function label
	State JobState
}

// JobRow display-ready job row
type JobRow struct {
	GID       string `json:"gid"`
	State     string `json:"state"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
	Highlight bool   `json:"highlight"` // error rows are drawn in red
}

// Row renders the job for the job tables
func (j Job) Row() JobRow {
	row := JobRow{
		GID:   j.ID,
		State: j.State.Kind.Name(),
		Kind:  j.Kind,
		Error: "-",
	}
	if j.State.Kind == JobError {
		row.Highlight = true
		if j.State.Message != "" {
			row.Error = j.State.Message
		}
	}
	return row
}

// JobSnapshot four categorized, most-recent-first job lists
type JobSnapshot struct {
	All      []JobRow  `json:"all"`
	Running  []JobRow  `json:"running"`
	Finished []JobRow  `json:"finished"`
	Failed   []JobRow  `json:"failed"`
	BuiltAt  time.Time `json:"builtAt"`
}

// JobCounts tab counters
type JobCounts struct {
	All      int `json:"all"`
	Running  int `json:"running"`
	Finished int `json:"finished"`
	Failed   int `json:"failed"`
}

// EmptyJobSnapshot returns a snapshot with non-nil empty lists
func EmptyJobSnapshot() JobSnapshot {
	return JobSnapshot{
		All:      []JobRow{},
		Running:  []JobRow{},
		Finished: []JobRow{},
		Failed:   []JobRow{},
	}
}

// BuildJobSnapshot buckets jobs given in source iteration order and reverses each bucket
func BuildJobSnapshot(jobs []Job, now time.Time) JobSnapshot {
	snap := EmptyJobSnapshot()
	snap.BuiltAt = now
	for i := len(jobs) - 1; i >= 0; i-- {
		row := jobs[i].Row()
		snap.All = append(snap.All, row)
		if cat, ok := jobs[i].State.Kind.Bucket(); ok {
			switch cat {
			case CategoryRunning:
				snap.Running = append(snap.Running, row)
			case CategoryFinished:
				snap.Finished = append(snap.Finished, row)
			case CategoryFailed:
				snap.Failed = append(snap.Failed, row)
			}
		}
	}
	return snap
}

// Counts returns the tab counters
func (s JobSnapshot) Counts() JobCounts {
	return JobCounts{
		All:      len(s.All),
		Running:  len(s.Running),
		Finished: len(s.Finished),
		Failed:   len(s.Failed),
	}
}

// Rows returns one tab
func (s JobSnapshot) Rows(c Category) []JobRow {
	switch c {
	case CategoryRunning:
		return s.Running
	case CategoryFinished:
		return s.Finished
	case CategoryFailed:
		return s.Failed
	default:
		return s.All
	}
}

// Labels tab labels with counts, e.g. "all(5)"
func (s JobSnapshot) Labels() map[Category]string {
	c := s.Counts()
	return map[Category]string{
		CategoryAll:      fmt.Sprintf("all(%d)", c.All),
		CategoryRunning:  fmt.Sprintf("running(%d)", c.Running),
		CategoryFinished: fmt.Sprintf("finished(%d)", c.Finished),
		CategoryFailed:   fmt.Sprintf("failed(%d)", c.Failed),
	}
}
