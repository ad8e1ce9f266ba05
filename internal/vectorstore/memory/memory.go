package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
	"medrag/internal/index"
)

// Storage keeps the active generation in process memory.
type Storage struct {
	mu  sync.RWMutex
	gen *index.Generation
}

func NewStorage() *Storage { return &Storage{} }

func (s *Storage) Save(ctx context.Context, g *index.Generation) error {
	if err := g.Validate(); err != nil {
		return goerr.Wrap(err, "refusing to save invalid generation")
	}
	cp := *g
	cp.Sentences = slices.Clone(g.Sentences)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen = &cp
	return nil
}

func (s *Storage) Load(ctx context.Context) (*index.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gen == nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "no generation saved")
	}
	cp := *s.gen
	cp.Sentences = slices.Clone(s.gen.Sentences)
	return &cp, nil
}
