package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/VigorCast/internal/domain/run"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// MemoryStore is an in-memory artifact store.
type MemoryStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Types   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Objects: map[string][]byte{}, Types: map[string]string{}}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[key] = append([]byte(nil), data...)
	s.Types[key] = contentType
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Objects[key]
	if !ok {
		return nil, errors.New(errors.ErrCodeArtifactNotFound, "artifact not found").WithDetailf("key=%s", key)
	}
	return data, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, key)
	delete(s.Types, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.Objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// MemoryRunRepository is an in-memory run.Repository.
type MemoryRunRepository struct {
	mu    sync.Mutex
	runs  map[string]*run.Run
	order []string
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{runs: map[string]*run.Run{}}
}

func (r *MemoryRunRepository) Save(_ context.Context, rec *run.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[rec.ID]; !ok {
		r.order = append(r.order, rec.ID)
	}
	cp := *rec
	r.runs[rec.ID] = &cp
	return nil
}

func (r *MemoryRunRepository) Get(_ context.Context, id string) (*run.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[id]
	if !ok {
		return nil, run.ErrRunNotFound.WithDetailf("id=%s", id)
	}
	cp := *rec
	return &cp, nil
}

// List returns the most recently created runs first.
func (r *MemoryRunRepository) List(_ context.Context, limit int) ([]*run.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*run.Run
	for i := len(r.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *r.runs[r.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}
