// Package recent remembers recently opened workspaces and the last pool size
// used for each, most recent first.
package recent

import (
	"context"
	"os"
	"path/filepath"
)

const (
	// maxDefaultWorkers upper bound of the worker count offered for unknown workspaces
	maxDefaultWorkers = 5
	// FileName default file name of the file backend
	FileName = "recent_workspace.json"
)

// Entry one recently opened workspace
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	WorkerCount int    `json:"worker_count"`
}

// Store persistence of the recent workspace list.
// Every mutating call moves the touched entry to the front.
type Store interface {
	// Lookup returns the stored worker count of path, or the default count when
	// the entry is missing or invalid, and records the entry with that count.
	Lookup(ctx context.Context, name, path string) (int, error)
	// Record stores count for path
	Record(ctx context.Context, name, path string, count int) error
	// Remove forgets path
	Remove(ctx context.Context, path string) error
	// List returns the entries most recent first
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// DefaultWorkerCount worker count offered for a workspace opened for the first time
func DefaultWorkerCount(cpus int) int {
	if cpus <= 0 {
		return 1
	}
	if cpus > maxDefaultWorkers {
		return maxDefaultWorkers
	}
	return cpus
}

// DefaultPath <user config dir>/twinpool/recent_workspace.json
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "twinpool", FileName)
}

// moveToFront removes path from entries and, if add is set, inserts e at the front
func moveToFront(entries []Entry, e Entry, add bool) []Entry {
	out := make([]Entry, 0, len(entries)+1)
	if add {
		out = append(out, e)
	}
	for _, item := range entries {
		if item.Path == e.Path {
			continue
		}
		out = append(out, item)
	}
	return out
}
