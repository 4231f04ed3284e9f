package mcp

import (
	"context"
	"fmt"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/pyportal/internal/domain"
)

// Catalogue lists and resolves exercises
type Catalogue interface {
	List(ctx context.Context) ([]*domain.Exercise, error)
	Get(ctx context.Context, idOrSlug string) (*domain.Exercise, error)
}

// Executor runs submissions through the execution gateway
type Executor interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionResponse, error)
}

// Server wraps the MCP server with portal tools
type Server struct {
	mcpServer *server.Server
	exercises Catalogue
	executor  Executor
}

// Config contains configuration for the MCP server
type Config struct {
	Exercises Catalogue
	Executor  Executor
	Version   string
}

// NewServer creates a new MCP server for the portal
func NewServer(cfg Config) *Server {
	s := &Server{
		exercises: cfg.Exercises,
		executor:  cfg.Executor,
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "pyportal",
		Version: version,
	}, server.WithInstructions(`
The Python learning portal serves small Python exercises and runs submissions
in a sandbox.

Available tools:
- portal_list_exercises: List exercises in order, optionally filtered
- portal_get_exercise: Get instructions and starter code for one exercise
- portal_run: Run Python code, optionally against an exercise's tests
`))

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("portal_list_exercises").
		Description("List Python exercises in curriculum order. Filter by difficulty or topic.").
		Handler(s.handleList)

	s.mcpServer.Tool("portal_get_exercise").
		Description("Get one exercise by id or folder name, including instructions and starter code.").
		Handler(s.handleGet)

	s.mcpServer.Tool("portal_run").
		Description("Run Python code. Set run_tests with an exercise_id to check it against the exercise's tests.").
		Handler(s.handleRun)
}

type ListInput struct {
	Difficulty string `json:"difficulty,omitempty" jsonschema:"description=Only exercises of this difficulty,enum=beginner,enum=intermediate,enum=advanced"`
	Topic      string `json:"topic,omitempty" jsonschema:"description=Only exercises tagged with this topic"`
}

type ExerciseSummary struct {
	ID            string   `json:"id"`
	Slug          string   `json:"slug"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Difficulty    string   `json:"difficulty"`
	Topics        []string `json:"topics"`
	Order         int      `json:"order"`
	EstimatedTime int      `json:"estimated_time"`
}

type ListOutput struct {
	Exercises []ExerciseSummary `json:"exercises"`
	Total     int               `json:"total"`
}

type GetInput struct {
	ExerciseID string `json:"exercise_id" jsonschema:"description=Exercise id or folder name such as E1_tip_calc"`
}

type GetOutput struct {
	ExerciseSummary
	Instructions string   `json:"instructions"`
	StarterCode  string   `json:"starter_code"`
	Hints        []string `json:"hints,omitempty"`
}

type RunInput struct {
	Code       string `json:"code" jsonschema:"description=Python source to run"`
	ExerciseID string `json:"exercise_id,omitempty" jsonschema:"description=Exercise whose tests to run"`
	RunTests   bool   `json:"run_tests,omitempty" jsonschema:"description=Run the exercise's tests against the code"`
}

type RunOutput struct {
	Success       bool   `json:"success"`
	Output        string `json:"output"`
	Errors        string `json:"errors,omitempty"`
	Passed        int    `json:"passed,omitempty"`
	Total         int    `json:"total,omitempty"`
	Summary       string `json:"summary"`
	ExecutionTime int64  `json:"execution_time_ms"`
}

func summarize(ex *domain.Exercise) ExerciseSummary {
	return ExerciseSummary{
		ID:            ex.ID,
		Slug:          ex.Slug,
		Title:         ex.Title,
		Description:   ex.Description,
		Difficulty:    string(ex.Difficulty),
		Topics:        ex.Topics,
		Order:         ex.Order,
		EstimatedTime: ex.EstimatedTime,
	}
}

func (s *Server) handleList(ctx context.Context, input ListInput) (ListOutput, error) {
	if s.exercises == nil {
		return ListOutput{}, fmt.Errorf("exercise catalogue not configured")
	}
	all, err := s.exercises.List(ctx)
	if err != nil {
		return ListOutput{}, fmt.Errorf("list exercises: %w", err)
	}

	out := ListOutput{Exercises: make([]ExerciseSummary, 0, len(all))}
	for _, ex := range all {
		if input.Difficulty != "" && string(ex.Difficulty) != input.Difficulty {
			continue
		}
		if input.Topic != "" && !ex.HasTopic(input.Topic) {
			continue
		}
		out.Exercises = append(out.Exercises, summarize(ex))
	}
	out.Total = len(out.Exercises)
	return out, nil
}

// handleGet never returns the reference solution
func (s *Server) handleGet(ctx context.Context, input GetInput) (GetOutput, error) {
	if s.exercises == nil {
		return GetOutput{}, fmt.Errorf("exercise catalogue not configured")
	}
	ex, err := s.exercises.Get(ctx, input.ExerciseID)
	if err != nil {
		return GetOutput{}, fmt.Errorf("get exercise: %w", err)
	}
	return GetOutput{
		ExerciseSummary: summarize(ex),
		Instructions:    ex.Instructions,
		StarterCode:     ex.StarterCode,
		Hints:           ex.Hints,
	}, nil
}

func (s *Server) handleRun(ctx context.Context, input RunInput) (RunOutput, error) {
	if s.executor == nil {
		return RunOutput{}, fmt.Errorf("executor not configured")
	}
	resp, err := s.executor.Execute(ctx, domain.ExecutionRequest{
		Code:       input.Code,
		ExerciseID: input.ExerciseID,
		RunTests:   input.RunTests,
	})
	if err != nil {
		return RunOutput{}, fmt.Errorf("run failed: %w", err)
	}

	out := RunOutput{
		Success:       resp.Success,
		Output:        resp.Output,
		Errors:        resp.Errors,
		ExecutionTime: resp.ExecutionTime,
	}
	if tr := resp.TestResult; tr != nil {
		out.Passed = tr.PassedCount()
		out.Total = len(tr.TestCases)
	}
	out.Summary = runSummary(resp)
	return out, nil
}

func runSummary(resp *domain.ExecutionResponse) string {
	tr := resp.TestResult
	if tr == nil {
		if resp.Success {
			return "Ran successfully"
		}
		return "Run failed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tests: %d/%d passed", tr.PassedCount(), len(tr.TestCases))
	for _, tc := range tr.TestCases {
		if tc.Passed {
			continue
		}
		fmt.Fprintf(&b, "\n✗ %s", tc.Name)
		if tc.Error != "" {
			fmt.Fprintf(&b, ": %s", tc.Error)
		}
	}
	return b.String()
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
