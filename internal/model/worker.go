package model

import (
	"strconv"
	"time"
)

// Activity worker activity classification
type Activity int

const (
	ActivityIdle Activity = iota // Idle - waiting for a job
	ActivityBusy                 // Busy - executing a job
)

// ActivityFromIdle maps the worker's ground-truth idle flag onto Activity
func ActivityFromIdle(idle bool) Activity {
	if idle {
		return ActivityIdle
	}
	return ActivityBusy
}

func (a Activity) String() string {
	switch a {
	case ActivityBusy:
		return "working"
	default:
		return "waiting"
	}
}

// MarshalText renders the activity the way the worker cards show it
func (a Activity) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// WorkerSummary badge values for the worker toolbar
type WorkerSummary struct {
	All    int `json:"all"`
	Idle   int `json:"idle"`
	Busy   int `json:"busy"`
	Max    int `json:"max"`
	Target int `json:"target"` // last requested pool size, 0 before any request
}

// WorkerStats per-worker resource readout
type WorkerStats struct {
	WorkerID   string    `json:"workerId"`
	Index      int       `json:"index"` // stable 1-based display index
	PID        int       `json:"pid"`
	Activity   Activity  `json:"activity"`
	CPUPercent float64   `json:"cpuPercent"`
	MemPercent float64   `json:"memPercent"`
	Gone       bool      `json:"gone,omitempty"` // process vanished before it could be sampled
	SampledAt  time.Time `json:"sampledAt"`
}

// Title card title, e.g. "3-Worker"
func (s WorkerStats) Title() string {
	return strconv.Itoa(s.Index) + "-Worker"
}
