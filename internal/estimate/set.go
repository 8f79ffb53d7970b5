package estimate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"GoKmerSpectra/internal/model"
)

const fileExt = ".hll"

// Set maps file ids to their estimates. It implements model.EstimateSource.
// A set bound to a directory looks up <dir>/<file id>.hll on a miss, so
// estimates written after the engine started are still found.
type Set struct {
	mu        sync.RWMutex
	dir       string
	estimates map[model.FileID]*FileEstimate
}

func NewSet() *Set {
	return &Set{estimates: make(map[model.FileID]*FileEstimate)}
}

// Put stores the estimate of a file, replacing any previous one.
func (s *Set) Put(file model.FileID, e *FileEstimate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimates[file] = e
}

// Estimate implements model.EstimateSource.
func (s *Set) Estimate(file model.FileID) (model.Estimator, bool) {
	s.mu.RLock()
	e, ok := s.estimates[file]
	dir := s.dir
	s.mu.RUnlock()
	if ok {
		return e, true
	}
	if dir == "" {
		return nil, false
	}

	e, err := readFile(filePath(dir, file))
	if err != nil {
		return nil, false
	}
	s.Put(file, e)
	return e, true
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.estimates)
}

// Save writes every estimate to dir as <file id>.hll.
func (s *Set) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create estimate directory: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for file, e := range s.estimates {
		if err := writeFile(dir, file, e); err != nil {
			return err
		}
	}
	return nil
}

// SaveFile writes a single estimate to dir as <file id>.hll.
func SaveFile(dir string, file model.FileID, e *FileEstimate) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create estimate directory: %w", err)
	}
	return writeFile(dir, file, e)
}

// LoadDir reads every <file id>.hll file of dir. Other files are ignored.
// A missing dir yields an empty set; files that appear later are picked
// up by Estimate.
func LoadDir(dir string) (*Set, error) {
	set := NewSet()
	set.dir = dir

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read estimate directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, fileExt), 10, 32)
		if err != nil {
			continue
		}
		e, err := readFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		set.Put(model.FileID(id), e)
	}
	return set, nil
}

func filePath(dir string, file model.FileID) string {
	return filepath.Join(dir, strconv.FormatUint(uint64(file), 10)+fileExt)
}

// writeFile goes through a temp file and a rename so a concurrent reader
// never sees a partial sketch.
func writeFile(dir string, file model.FileID, e *FileEstimate) error {
	data, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	path := filePath(dir, file)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write estimate '%s': %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write estimate '%s': %w", path, err)
	}
	return nil
}

func readFile(path string) (*FileEstimate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read estimate '%s': %w", path, err)
	}
	e := &FileEstimate{}
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("estimate '%s': %w", path, err)
	}
	return e, nil
}
