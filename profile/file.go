package profile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
)

// fileFormat is the on-disk layout of a FileStore.
type fileFormat struct {
	Version  int                           `yaml:"version"`
	Profiles []*tonal.InharmonicityProfile `yaml:"profiles"`
}

const fileVersion = 1

// FileStore keeps profiles in a single YAML document. Every write replaces
// the file atomically.
type FileStore struct {
	path string

	mu    sync.Mutex
	cache *MemoryStore
}

var _ Store = (*FileStore)(nil)

// OpenFileStore loads path, or starts empty if it does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, cache: NewMemoryStore()}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("profile: parse %s: %w", path, err)
	}
	if doc.Version != fileVersion {
		return nil, fmt.Errorf("profile: %s has version %d, want %d", path, doc.Version, fileVersion)
	}
	for _, p := range doc.Profiles {
		if err := s.cache.Save(context.Background(), p); err != nil {
			return nil, fmt.Errorf("profile: %s: %w", path, err)
		}
	}
	return s, nil
}

// Path returns the backing file
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(ctx context.Context, p *tonal.InharmonicityProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.cache.Get(ctx, indexOf(p))
	if err := s.cache.Save(ctx, p); err != nil {
		return err
	}
	if werr := s.flush(ctx); werr != nil {
		// roll back so memory matches disk
		if err == nil {
			_ = s.cache.Save(ctx, prev)
		} else {
			_ = s.cache.Delete(ctx, p.Note.Index)
		}
		return werr
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, noteIndex int) (*tonal.InharmonicityProfile, error) {
	return s.cache.Get(ctx, noteIndex)
}

func (s *FileStore) List(ctx context.Context) ([]*tonal.InharmonicityProfile, error) {
	return s.cache.List(ctx)
}

func (s *FileStore) Delete(ctx context.Context, noteIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.cache.Get(ctx, noteIndex)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, noteIndex); err != nil {
		return err
	}
	if err := s.flush(ctx); err != nil {
		_ = s.cache.Save(ctx, prev)
		return err
	}
	return nil
}

func (s *FileStore) flush(ctx context.Context) error {
	all, err := s.cache.List(ctx)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(fileFormat{Version: fileVersion, Profiles: all})
	if err != nil {
		return fmt.Errorf("profile: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".profiles-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func indexOf(p *tonal.InharmonicityProfile) int {
	if p == nil {
		return -1
	}
	return p.Note.Index
}
