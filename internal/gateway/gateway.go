// Package gateway validates execution requests, resolves exercise tests and
// turns raw interpreter output into the portal's execution result.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/felixgeelhaar/pyportal/internal/runner"
)

// ErrCodeTooLarge is returned, alongside domain.ErrInvalidInput, when the
// submitted code exceeds Config.MaxCodeBytes.
var ErrCodeTooLarge = errors.New("code too large")

// Outcomes reported to the Observer
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// ExerciseLookup resolves an exercise by id or slug
type ExerciseLookup interface {
	Get(ctx context.Context, idOrSlug string) (*domain.Exercise, error)
}

// ProgressRecorder stores an attempt for a user
type ProgressRecorder interface {
	Record(ctx context.Context, userID, exerciseID string, attempt domain.Attempt) (*domain.Progress, error)
}

// Observer is notified after every execution
type Observer interface {
	ObserveExecution(outcome string, d time.Duration)
}

// Config holds gateway configuration
type Config struct {
	MaxCodeBytes  int
	MaxConcurrent int
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		MaxCodeBytes:  50000,
		MaxConcurrent: 4,
	}
}

// Gateway executes learner code through a runner capability
type Gateway struct {
	capability runner.Capability
	exercises  ExerciseLookup
	cfg        Config
	logger     *slog.Logger

	progress ProgressRecorder
	observer Observer

	slots chan struct{}
}

// New creates a new execution gateway
func New(capability runner.Capability, exercises ExerciseLookup, cfg Config, logger *slog.Logger) *Gateway {
	def := DefaultConfig()
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = def.MaxCodeBytes
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		capability: capability,
		exercises:  exercises,
		cfg:        cfg,
		logger:     logger,
		slots:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

// SetProgressRecorder enables attempt recording for requests with a user id
func (g *Gateway) SetProgressRecorder(p ProgressRecorder) {
	g.progress = p
}

// SetObserver attaches an execution observer
func (g *Gateway) SetObserver(o Observer) {
	g.observer = o
}

// Validate checks a request without executing it
func (g *Gateway) Validate(req domain.ExecutionRequest) error {
	if strings.TrimSpace(req.Code) == "" {
		return domain.NewValidationError("code", "is required")
	}
	if len(req.Code) > g.cfg.MaxCodeBytes {
		return fmt.Errorf("%w: %w", ErrCodeTooLarge,
			domain.NewValidationError("code", fmt.Sprintf("must be at most %d bytes", g.cfg.MaxCodeBytes)))
	}
	if req.RunTests && req.ExerciseID == "" {
		return domain.NewValidationError("exerciseId", "is required when runTests is set")
	}
	return nil
}

// Execute runs the submitted code, with the exercise's tests when RunTests is
// set. A non-empty ExerciseID must name a known exercise. Failures of the capability itself are reported in the response, not
// as an error; errors are returned only for invalid requests and unknown
// exercises.
func (g *Gateway) Execute(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionResponse, error) {
	if err := g.Validate(req); err != nil {
		return nil, err
	}

	sub := runner.Submission{Code: req.Code, RunTests: req.RunTests}
	var ex *domain.Exercise
	if req.ExerciseID != "" {
		var err error
		if ex, err = g.exercises.Get(ctx, req.ExerciseID); err != nil {
			return nil, err
		}
		if req.RunTests {
			sub.TestCode = ex.TestCode
		}
	}

	select {
	case g.slots <- struct{}{}:
		defer func() { <-g.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	out, runErr := g.runSafely(ctx, sub)
	elapsed := time.Since(start)

	var resp *domain.ExecutionResponse
	outcome := OutcomeError
	if runErr != nil {
		g.logger.Warn("execution capability failed", "exercise_id", req.ExerciseID, "error", runErr)
		resp = &domain.ExecutionResponse{
			Success: false,
			Errors:  "Execution failed: " + failureReason(runErr),
		}
	} else {
		resp = buildResponse(out, req.RunTests)
		outcome = outcomeOf(resp, out)
	}
	resp.ExecutionTime = elapsed.Milliseconds()

	if g.observer != nil {
		g.observer.ObserveExecution(outcome, elapsed)
	}
	g.logger.Debug("execution finished",
		"exercise_id", req.ExerciseID,
		"run_tests", req.RunTests,
		"outcome", outcome,
		"duration_ms", resp.ExecutionTime,
	)

	if runErr == nil && ex != nil {
		g.recordAttempt(ctx, req, progressKey(ex), resp)
	}
	return resp, nil
}

// runSafely calls the capability and converts a panic into an error
func (g *Gateway) runSafely(ctx context.Context, sub runner.Submission) (out *runner.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	out, err = g.capability.Run(ctx, sub)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("no output from capability")
	}
	return out, nil
}

// failureReason unwraps an ExecutionError so the prefix is not repeated
func failureReason(err error) string {
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) && execErr.Cause != nil {
		return execErr.Cause.Error()
	}
	return err.Error()
}

func buildResponse(out *runner.Output, runTests bool) *domain.ExecutionResponse {
	resp := &domain.ExecutionResponse{
		Output: out.Stdout,
		Errors: out.Stderr,
	}
	if out.TimedOut {
		resp.Errors = timeoutMessage(out.Duration)
	}
	resp.Success = out.OK()

	if runTests {
		tr := ParseTestOutput(out.Stdout, resp.Errors)
		tr.ExecutionTime = out.Duration.Milliseconds()
		resp.TestResult = tr
		resp.Success = resp.Success && tr.Passed
	}
	return resp
}

func outcomeOf(resp *domain.ExecutionResponse, out *runner.Output) string {
	switch {
	case out.TimedOut:
		return OutcomeTimeout
	case resp.Success:
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

func timeoutMessage(d time.Duration) string {
	return fmt.Sprintf("Code execution timed out after %s.\n"+
		"This usually means:\n"+
		"- Your code has an infinite loop\n"+
		"- You're using input() which waits for user input\n"+
		"- The code is taking too long to execute", d.Round(100*time.Millisecond))
}

// progressKey is the exercise key progress is stored under. The folder slug
// survives catalogue reloads; generated ids do not.
func progressKey(ex *domain.Exercise) string {
	if ex.Slug != "" {
		return ex.Slug
	}
	return ex.ID
}

// recordAttempt stores the attempt when progress tracking is enabled.
// Failures are logged and do not affect the response.
func (g *Gateway) recordAttempt(ctx context.Context, req domain.ExecutionRequest, key string, resp *domain.ExecutionResponse) {
	if g.progress == nil || req.UserID == "" {
		return
	}

	attempt := domain.Attempt{
		Completed: req.RunTests && resp.Success,
		TimeSpent: int(resp.ExecutionTime / 1000),
	}
	if attempt.Completed {
		attempt.Solution = req.Code
	}

	if _, err := g.progress.Record(ctx, req.UserID, key, attempt); err != nil {
		g.logger.Warn("failed to record progress",
			"user_id", req.UserID,
			"exercise_id", key,
			"error", err,
		)
	}
}
