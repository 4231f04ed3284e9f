package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/pyportal/internal/api/middleware"
	"github.com/felixgeelhaar/pyportal/internal/domain"
)

// AdminTokenHeader carries the token that guards administrative endpoints
const AdminTokenHeader = "X-Admin-Token"

// ExerciseService is the exercise catalogue as seen by the API
type ExerciseService interface {
	List(ctx context.Context) ([]*domain.Exercise, error)
	Get(ctx context.Context, idOrSlug string) (*domain.Exercise, error)
	Refresh(ctx context.Context) (int, error)
}

// ExerciseHandler handles exercise endpoints
type ExerciseHandler struct {
	exercises  ExerciseService
	adminToken string
}

// NewExerciseHandler creates a new exercise handler. An empty adminToken
// leaves the refresh endpoint open.
func NewExerciseHandler(exercises ExerciseService, adminToken string) *ExerciseHandler {
	return &ExerciseHandler{
		exercises:  exercises,
		adminToken: adminToken,
	}
}

// List returns every exercise in catalogue order
func (h *ExerciseHandler) List(w http.ResponseWriter, r *http.Request) {
	exercises, err := h.exercises.List(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteData(w, http.StatusOK, exercises)
}

// Get returns one exercise by id or slug
func (h *ExerciseHandler) Get(w http.ResponseWriter, r *http.Request) {
	ex, err := h.exercises.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteData(w, http.StatusOK, ex)
}

// Hints returns the hints of one exercise
func (h *ExerciseHandler) Hints(w http.ResponseWriter, r *http.Request) {
	ex, err := h.exercises.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	hints := ex.Hints
	if hints == nil {
		hints = []string{}
	}
	WriteData(w, http.StatusOK, hints)
}

// Refresh reloads the catalogue from disk
func (h *ExerciseHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.adminToken != "" {
		got := r.Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) != 1 {
			WriteError(w, r, http.StatusUnauthorized, "admin token required", nil)
			return
		}
	}

	n, err := h.exercises.Refresh(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	slog.Info("exercise catalogue refreshed via api",
		"count", n,
		"request_id", middleware.GetRequestID(r.Context()))

	WriteJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]int{"loaded": n},
		Message: "Exercises refreshed",
	})
}
