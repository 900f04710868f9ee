package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const resumeExt = ".resume"

var (
	ErrNotFound   = errors.New("resume data not found")
	ErrInvalidKey = errors.New("invalid resume key")
	ErrTooLarge   = errors.New("resume data larger than store")
)

type entry struct {
	path string
	size int64
}

// ResumeStore keeps engine resume blobs on disk, one file per torrent. The
// number of entries and their total size are bounded; the least recently used
// entries are removed first.
type ResumeStore struct {
	cache       *lru.Cache
	dir         string
	mu          sync.Mutex
	maxBytes    int64
	currentSize int64
}

// NewResumeStore indexes resume files already present in dir, oldest first,
// so restarts keep what earlier runs saved.
func NewResumeStore(dir string, maxEntries int, maxBytes int64) (*ResumeStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create resume directory: %w", err)
	}

	s := &ResumeStore{dir: dir, maxBytes: maxBytes}
	cache, err := lru.NewWithEvict(maxEntries, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	s.cache = cache

	if err := s.loadExisting(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ResumeStore) loadExisting() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read resume directory: %w", err)
	}

	type found struct {
		key string
		e   entry
		mod int64
	}
	var files []found
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), resumeExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, found{
			key: strings.TrimSuffix(de.Name(), resumeExt),
			e:   entry{path: filepath.Join(s.dir, de.Name()), size: info.Size()},
			mod: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		s.cache.Add(f.key, f.e)
		s.currentSize += f.e.size
	}
	return s.evict(0)
}

// onEvict runs inside cache mutations, which only happen with s.mu held.
func (s *ResumeStore) onEvict(_ interface{}, value interface{}) {
	e := value.(entry)
	_ = os.Remove(e.path)
	s.currentSize -= e.size
}

func validKey(key string) bool {
	return key != "" && key == filepath.Base(key) && key != "." && key != ".."
}

func (s *ResumeStore) Store(key string, reader io.Reader) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := filepath.Join(s.dir, key+resumeExt)
	tmp := filePath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	written, err := io.Copy(file, reader)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		os.Remove(tmp)
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, written)
	}

	s.cache.Remove(key)
	if err := s.evict(written); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to evict files: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move file: %w", err)
	}

	s.cache.Add(key, entry{path: filePath, size: written})
	s.currentSize += written
	return nil
}

// Save is Store for an in-memory blob.
func (s *ResumeStore) Save(key string, data []byte) error {
	return s.Store(key, bytes.NewReader(data))
}

func (s *ResumeStore) Get(key string) (io.ReadCloser, error) {
	if v, ok := s.cache.Get(key); ok {
		file, err := os.Open(v.(entry).path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		return file, nil
	}
	return nil, ErrNotFound
}

// Path returns the file backing key, for engines that read resume data
// themselves.
func (s *ResumeStore) Path(key string) (string, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", false
	}
	return v.(entry).path, true
}

func (s *ResumeStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
}

func (s *ResumeStore) Len() int {
	return s.cache.Len()
}

func (s *ResumeStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSize
}

// Cleanup trims the store back under its byte limit.
func (s *ResumeStore) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evict(0)
}

func (s *ResumeStore) evict(sizeNeeded int64) error {
	if s.maxBytes <= 0 {
		return nil
	}
	for s.currentSize+sizeNeeded > s.maxBytes {
		if _, _, ok := s.cache.RemoveOldest(); !ok {
			return fmt.Errorf("failed to evict file from cache")
		}
	}
	return nil
}
