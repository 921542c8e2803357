// Package profile persists measured inharmonicity profiles, one per piano
// key. Saving a key that already has a profile replaces it.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
)

// ErrNotFound is returned when a key has no stored profile.
var ErrNotFound = errors.New("profile not found")

// Store keeps the latest profile per key.
type Store interface {
	Save(ctx context.Context, p *tonal.InharmonicityProfile) error
	Get(ctx context.Context, noteIndex int) (*tonal.InharmonicityProfile, error)
	// List returns every profile ordered by key, lowest first.
	List(ctx context.Context) ([]*tonal.InharmonicityProfile, error)
	Delete(ctx context.Context, noteIndex int) error
}

func validate(p *tonal.InharmonicityProfile) error {
	if p == nil {
		return errors.New("profile: nil profile")
	}
	if p.Note.Index < 0 || p.Note.Index >= tonal.PianoKeys {
		return fmt.Errorf("profile: note index %d outside the keyboard", p.Note.Index)
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[int]tonal.InharmonicityProfile
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[int]tonal.InharmonicityProfile)}
}

// Save stores a copy of p
func (s *MemoryStore) Save(_ context.Context, p *tonal.InharmonicityProfile) error {
	if err := validate(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Note.Index] = clone(p)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, noteIndex int) (*tonal.InharmonicityProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[noteIndex]
	if !ok {
		return nil, ErrNotFound
	}
	c := clone(&p)
	return &c, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*tonal.InharmonicityProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*tonal.InharmonicityProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		c := clone(&p)
		out = append(out, &c)
	}
	sortByNote(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, noteIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[noteIndex]; !ok {
		return ErrNotFound
	}
	delete(s.profiles, noteIndex)
	return nil
}

func clone(p *tonal.InharmonicityProfile) tonal.InharmonicityProfile {
	c := *p
	c.Partials = append(c.Partials[:0:0], p.Partials...)
	return c
}

func sortByNote(ps []*tonal.InharmonicityProfile) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Note.Index < ps[j].Note.Index })
}
