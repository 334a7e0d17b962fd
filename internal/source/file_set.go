package source

import (
	"fmt"
	"path/filepath"
	"sync"

	"fortio.org/safecast"
)

// FileSet hands out stable FileIDs for source paths. It is safe for
// concurrent use: diagnostics are rendered while pipelines may still register
// files.
type FileSet struct {
	mu    sync.RWMutex
	files []File            // files[0] is the NoFile placeholder
	index map[string]FileID // path -> id
}

// NewFileSet creates an empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{
		files: []File{{ID: NoFile}},
		index: make(map[string]FileID),
	}
}

// Add registers path and returns its FileID. Registering the same path twice
// returns the first id.
func (fileSet *FileSet) Add(path string) FileID {
	normalized := normalizePath(path)

	fileSet.mu.Lock()
	defer fileSet.mu.Unlock()

	if id, ok := fileSet.index[normalized]; ok {
		return id
	}
	n, err := safecast.Conv[uint32](len(fileSet.files))
	if err != nil {
		panic(fmt.Errorf("file count overflow: %w", err))
	}
	id := FileID(n)
	fileSet.files = append(fileSet.files, File{ID: id, Path: normalized})
	fileSet.index[normalized] = id
	return id
}

// Get returns the file for id, or false when id is unknown.
func (fileSet *FileSet) Get(id FileID) (File, bool) {
	fileSet.mu.RLock()
	defer fileSet.mu.RUnlock()
	if id == NoFile || int(id) >= len(fileSet.files) {
		return File{}, false
	}
	return fileSet.files[id], true
}

// Lookup returns the FileID registered for path.
func (fileSet *FileSet) Lookup(path string) (FileID, bool) {
	fileSet.mu.RLock()
	defer fileSet.mu.RUnlock()
	id, ok := fileSet.index[normalizePath(path)]
	return id, ok
}

// Path returns the registered path for id or "" for NoFile/unknown ids.
func (fileSet *FileSet) Path(id FileID) string {
	f, ok := fileSet.Get(id)
	if !ok {
		return ""
	}
	return f.Path
}

// Len returns the number of registered files.
func (fileSet *FileSet) Len() int {
	fileSet.mu.RLock()
	defer fileSet.mu.RUnlock()
	return len(fileSet.files) - 1
}

func normalizePath(p string) string {
	// единый вид в кроссплатформенных дифах
	return filepath.ToSlash(filepath.Clean(p))
}
