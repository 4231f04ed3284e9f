package handlers

import (
	"context"
	"net/http"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/felixgeelhaar/pyportal/internal/pocketbase"
)

// ProgressService tracks per-user progress
type ProgressService interface {
	Get(ctx context.Context, userID, exerciseID string) (*domain.Progress, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Progress, error)
	Record(ctx context.Context, userID, exerciseID string, attempt domain.Attempt) (*domain.Progress, error)
}

// FeatureReader looks up feature flags
type FeatureReader interface {
	Lookup(ctx context.Context, name string) (*pocketbase.FeatureFlag, error)
}

// ProgressHandler handles progress and feature endpoints backed by the
// auth/data service. Either dependency may be nil when no backend is configured.
type ProgressHandler struct {
	progress ProgressService
	features FeatureReader
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(progress ProgressService, features FeatureReader) *ProgressHandler {
	return &ProgressHandler{progress: progress, features: features}
}

func (h *ProgressHandler) unavailable(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusServiceUnavailable, "data backend is not configured", nil)
}

// ListByUser returns every progress record of a user
func (h *ProgressHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	if h.progress == nil {
		h.unavailable(w, r)
		return
	}
	list, err := h.progress.ListByUser(r.Context(), r.PathValue("user"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteData(w, http.StatusOK, list)
}

// Get returns the progress of one user on one exercise
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.progress == nil {
		h.unavailable(w, r)
		return
	}
	p, err := h.progress.Get(r.Context(), r.PathValue("user"), r.PathValue("exercise"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteData(w, http.StatusOK, p)
}

// Record folds an attempt into the stored progress
func (h *ProgressHandler) Record(w http.ResponseWriter, r *http.Request) {
	if h.progress == nil {
		h.unavailable(w, r)
		return
	}
	var attempt domain.Attempt
	if err := decodeJSON(w, r, &attempt); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	p, err := h.progress.Record(r.Context(), r.PathValue("user"), r.PathValue("exercise"), attempt)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: p, Message: "Progress updated"})
}

// Feature reports whether a named feature is enabled
func (h *ProgressHandler) Feature(w http.ResponseWriter, r *http.Request) {
	if h.features == nil {
		h.unavailable(w, r)
		return
	}
	name := r.PathValue("name")
	flag, err := h.features.Lookup(r.Context(), name)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	if flag == nil {
		flag = &pocketbase.FeatureFlag{Name: name}
	}
	WriteData(w, http.StatusOK, flag)
}
