package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/felixgeelhaar/pyportal/internal/pocketbase"
)

// DefaultCollection is the backend collection holding progress records
const DefaultCollection = "user_progress"

// pocketbaseTime is the date layout the backend stores and returns
const pocketbaseTime = "2006-01-02 15:04:05.000Z"

// Records is the subset of the backend client the service needs
type Records interface {
	List(ctx context.Context, collection string, opts pocketbase.ListOptions) (*pocketbase.ListResult, error)
	Create(ctx context.Context, collection string, in, out any) error
	Update(ctx context.Context, collection, id string, in, out any) error
}

// Service tracks per-user exercise progress
type Service struct {
	records    Records
	collection string
	logger     *slog.Logger
	now        func() time.Time

	// Record is read-modify-write against the backend
	mu sync.Mutex
}

// NewService creates a progress service; an empty collection uses DefaultCollection
func NewService(records Records, collection string, logger *slog.Logger) *Service {
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		records:    records,
		collection: collection,
		logger:     logger,
		now:        time.Now,
	}
}

type record struct {
	ID           string `json:"id,omitempty"`
	User         string `json:"user"`
	ExerciseID   string `json:"exercise_id"`
	Completed    bool   `json:"completed"`
	CompletedAt  string `json:"completed_at,omitempty"`
	Attempts     int    `json:"attempts"`
	TimeSpent    int    `json:"time_spent"`
	SolutionCode string `json:"solution_code,omitempty"`
}

func (r *record) toDomain() *domain.Progress {
	p := &domain.Progress{
		ID:           r.ID,
		UserID:       r.User,
		ExerciseID:   r.ExerciseID,
		Completed:    r.Completed,
		Attempts:     r.Attempts,
		BestSolution: r.SolutionCode,
		TimeSpent:    r.TimeSpent,
	}
	if t, ok := parseTime(r.CompletedAt); ok {
		p.CompletedAt = &t
	}
	return p
}

func fromDomain(p *domain.Progress) record {
	r := record{
		ID:           p.ID,
		User:         p.UserID,
		ExerciseID:   p.ExerciseID,
		Completed:    p.Completed,
		Attempts:     p.Attempts,
		TimeSpent:    p.TimeSpent,
		SolutionCode: p.BestSolution,
	}
	if p.CompletedAt != nil {
		r.CompletedAt = p.CompletedAt.UTC().Format(pocketbaseTime)
	}
	return r
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{pocketbaseTime, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func validateKeys(userID, exerciseID string) error {
	if userID == "" {
		return domain.NewValidationError("userId", "is required")
	}
	if exerciseID == "" {
		return domain.NewValidationError("exerciseId", "is required")
	}
	return nil
}

// find returns the stored record, or nil when the user has no progress yet
func (s *Service) find(ctx context.Context, userID, exerciseID string) (*record, error) {
	page, err := s.records.List(ctx, s.collection, pocketbase.ListOptions{
		Page:    1,
		PerPage: 1,
		Filter:  "user = " + strconv.Quote(userID) + " && exercise_id = " + strconv.Quote(exerciseID),
	})
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	var r record
	if err := json.Unmarshal(page.Items[0], &r); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &r, nil
}

// Get returns the progress for one exercise. A user with no attempts yet
// gets a zero record rather than an error.
func (s *Service) Get(ctx context.Context, userID, exerciseID string) (*domain.Progress, error) {
	if err := validateKeys(userID, exerciseID); err != nil {
		return nil, err
	}
	r, err := s.find(ctx, userID, exerciseID)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if r == nil {
		return &domain.Progress{UserID: userID, ExerciseID: exerciseID}, nil
	}
	return r.toDomain(), nil
}

// listPageSize is the page size used when listing a user's records
const listPageSize = 200

// ListByUser returns every progress record of a user, oldest first
func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Progress, error) {
	if userID == "" {
		return nil, domain.NewValidationError("userId", "is required")
	}

	out := []domain.Progress{}
	for page := 1; ; page++ {
		res, err := s.records.List(ctx, s.collection, pocketbase.ListOptions{
			Page:    page,
			PerPage: listPageSize,
			Filter:  "user = " + strconv.Quote(userID),
			Sort:    "created",
		})
		if err != nil {
			return nil, fmt.Errorf("list progress: %w", err)
		}

		for _, item := range res.Items {
			var r record
			if err := json.Unmarshal(item, &r); err != nil {
				return nil, fmt.Errorf("decode progress: %w", err)
			}
			out = append(out, *r.toDomain())
		}
		if page >= res.TotalPages || len(res.Items) == 0 {
			return out, nil
		}
	}
}

// Record folds one attempt into the user's progress and stores it
func (s *Service) Record(ctx context.Context, userID, exerciseID string, attempt domain.Attempt) (*domain.Progress, error) {
	if err := validateKeys(userID, exerciseID); err != nil {
		return nil, err
	}
	if attempt.TimeSpent < 0 {
		return nil, domain.NewValidationError("timeSpent", "must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.find(ctx, userID, exerciseID)
	if err != nil {
		return nil, fmt.Errorf("record progress: %w", err)
	}

	p := &domain.Progress{UserID: userID, ExerciseID: exerciseID}
	if existing != nil {
		p = existing.toDomain()
	}
	p.Apply(attempt, s.now())

	in := fromDomain(p)
	var stored record
	if existing == nil {
		err = s.records.Create(ctx, s.collection, in, &stored)
	} else {
		in.ID = ""
		err = s.records.Update(ctx, s.collection, existing.ID, in, &stored)
	}
	if err != nil {
		return nil, fmt.Errorf("record progress: %w", err)
	}

	s.logger.Info("progress recorded",
		"user_id", userID,
		"exercise_id", exerciseID,
		"attempts", p.Attempts,
		"completed", p.Completed)

	if stored.ID == "" {
		return p, nil
	}
	return stored.toDomain(), nil
}
