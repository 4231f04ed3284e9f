package handlers

import (
	"context"
	"net/http"

	"github.com/felixgeelhaar/pyportal/internal/domain"
)

// Executor runs submissions through the execution gateway
type Executor interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionResponse, error)
}

// ExecutionHandler handles code execution
type ExecutionHandler struct {
	executor Executor
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(executor Executor) *ExecutionHandler {
	return &ExecutionHandler{executor: executor}
}

// Run executes a submission. The body of a completed run is the execution
// response itself, which already carries its own success flag; failing user
// code is a 200.
func (h *ExecutionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecutionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteDomainError(w, r, err)
		return
	}

	resp, err := h.executor.Execute(r.Context(), req)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
