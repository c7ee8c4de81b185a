package recent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"sigs.k8s.io/yaml"

	"twinpool/pkg/logger"
)

// invalidCount marks an entry whose stored count is unusable
const invalidCount = -1

// fileEntry on-disk entry; worker_count is kept loose so that a hand-edited
// value of the wrong type degrades to the default instead of failing the read
type fileEntry struct {
	Name        string      `json:"name"`
	Path        string      `json:"path"`
	WorkerCount interface{} `json:"worker_count,omitempty"`
}

// FileStore file-backed Store. The file holds a JSON (or, by extension, YAML)
// list of entries. Reads are cached until the file changes on disk.
type FileStore struct {
	path         string
	defaultCount int

	mu     sync.Mutex
	cache  []Entry
	cached bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileStore opens the store at path, creating its directory if needed.
// defaultCount is returned by Lookup for unknown workspaces.
func NewFileStore(path string, defaultCount int) (*FileStore, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create recent workspace directory: %w", err)
	}

	s := &FileStore{
		path:         path,
		defaultCount: defaultCount,
		done:         make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("recent workspace file watch unavailable, caching disabled")
		return s, nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		logger.Warn("recent workspace file watch unavailable, caching disabled")
		return s, nil
	}
	s.watcher = watcher
	s.wg.Add(1)
	go s.watch()
	return s, nil
}

// Path file location
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Lookup(_ context.Context, name, path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return 0, err
	}
	count := s.defaultCount
	for _, e := range entries {
		if e.Path == path {
			if e.WorkerCount >= 0 {
				count = e.WorkerCount
			}
			break
		}
	}
	if err := s.save(moveToFront(entries, Entry{Name: name, Path: path, WorkerCount: count}, true)); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *FileStore) Record(_ context.Context, name, path string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	return s.save(moveToFront(entries, Entry{Name: name, Path: path, WorkerCount: count}, true))
}

func (s *FileStore) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	return s.save(moveToFront(entries, Entry{Path: path}, false))
}

func (s *FileStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	return append([]Entry(nil), entries...), nil
}

// Close stops the file watch
func (s *FileStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

// load must be called with s.mu held
func (s *FileStore) load() ([]Entry, error) {
	if s.cached && s.watcher != nil {
		return s.cache, nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.setCache(nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recent workspaces: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		s.setCache(nil)
		return nil, nil
	}

	var raw []fileEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode recent workspaces %s: %w", s.path, err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		if r.Path == "" {
			continue
		}
		entries = append(entries, Entry{Name: r.Name, Path: r.Path, WorkerCount: looseCount(r.WorkerCount)})
	}
	s.setCache(entries)
	return entries, nil
}

// save must be called with s.mu held
func (s *FileStore) save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(entries)
	default:
		data, err = json.Marshal(entries)
	}
	if err != nil {
		return fmt.Errorf("failed to encode recent workspaces: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write recent workspaces: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace recent workspaces: %w", err)
	}
	s.setCache(entries)
	return nil
}

func (s *FileStore) setCache(entries []Entry) {
	s.cache = entries
	s.cached = true
}

func (s *FileStore) invalidate() {
	s.mu.Lock()
	s.cached = false
	s.cache = nil
	s.mu.Unlock()
}

func (s *FileStore) watch() {
	defer s.wg.Done()
	base := filepath.Base(s.path)
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == base {
				s.invalidate()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.WarnCtx(context.Background(), "recent workspace watch error: %v", err)
			s.invalidate()
		}
	}
}

// looseCount accepts whole non-negative numbers only; anything else is
// invalidCount. 0 is a valid count: the pool was last scaled to nothing.
func looseCount(v interface{}) int {
	f, ok := v.(float64)
	if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return invalidCount
	}
	return int(f)
}
