package exercise

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/pyportal/internal/domain"
)

// Store persists the exercise catalogue
type Store interface {
	// Replace atomically swaps the whole catalogue for exercises.
	// On error the previous catalogue remains intact.
	Replace(ctx context.Context, exercises []*domain.Exercise) error
	// List returns every exercise ordered by Order ascending.
	List(ctx context.Context) ([]*domain.Exercise, error)
	// Get returns the exercise with the given id or slug.
	Get(ctx context.Context, idOrSlug string) (*domain.Exercise, error)
	// Count returns the number of stored exercises.
	Count(ctx context.Context) (int, error)
}

// Source produces the exercises to load into the store
type Source interface {
	Load() ([]*domain.Exercise, error)
}

// RefreshObserver is notified after every refresh attempt
type RefreshObserver interface {
	ObserveRefresh(loaded int, err error)
}

// Service coordinates the exercise source and the store
type Service struct {
	source   Source
	store    Store
	observer RefreshObserver
	logger   *slog.Logger

	mu sync.Mutex // serializes Refresh
}

// NewService creates a new exercise service
func NewService(source Source, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source: source,
		store:  store,
		logger: logger,
	}
}

// SetObserver attaches a refresh observer
func (s *Service) SetObserver(o RefreshObserver) {
	s.observer = o
}

// Refresh reloads every exercise from the source and replaces the stored
// catalogue in a single transaction. It returns the number of exercises loaded.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.refresh(ctx)
	if s.observer != nil {
		s.observer.ObserveRefresh(n, err)
	}
	if err != nil {
		s.logger.Error("exercise refresh failed", "error", err)
		return 0, err
	}
	s.logger.Info("exercises refreshed", "count", n)
	return n, nil
}

func (s *Service) refresh(ctx context.Context) (int, error) {
	exercises, err := s.source.Load()
	if err != nil {
		return 0, fmt.Errorf("load exercises: %w", err)
	}
	if err := s.store.Replace(ctx, exercises); err != nil {
		return 0, fmt.Errorf("replace exercises: %w", err)
	}
	return len(exercises), nil
}

// List returns all exercises in catalogue order
func (s *Service) List(ctx context.Context) ([]*domain.Exercise, error) {
	return s.store.List(ctx)
}

// Get returns a single exercise by id or slug
func (s *Service) Get(ctx context.Context, idOrSlug string) (*domain.Exercise, error) {
	if idOrSlug == "" {
		return nil, domain.NewValidationError("exercise id", "must not be empty")
	}
	return s.store.Get(ctx, idOrSlug)
}

// Count returns the number of stored exercises
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}
