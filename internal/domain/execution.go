package domain

// ExecutionRequest is a code submission routed through the execution gateway
type ExecutionRequest struct {
	Code       string `json:"code"`
	ExerciseID string `json:"exerciseId,omitempty"`
	RunTests   bool   `json:"runTests"`
	UserID     string `json:"userId,omitempty"`
}

// ExecutionResponse is the normalized outcome of a submission.
// It is created per submission and never persisted.
type ExecutionResponse struct {
	Success       bool        `json:"success"`
	Output        string      `json:"output"`
	Errors        string      `json:"errors,omitempty"`
	TestResult    *TestResult `json:"testResult,omitempty"`
	ExecutionTime int64       `json:"executionTime"` // milliseconds
}

// TestResult is the per-test breakdown of a submission that ran tests
type TestResult struct {
	Passed        bool       `json:"passed"`
	Output        string     `json:"output"`
	Errors        string     `json:"errors,omitempty"`
	ExecutionTime int64      `json:"executionTime"`
	TestCases     []TestCase `json:"testCases"`
}

// TestCase is a single named check within a test run
type TestCase struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PassedCount returns how many test cases passed
func (r *TestResult) PassedCount() int {
	n := 0
	for _, tc := range r.TestCases {
		if tc.Passed {
			n++
		}
	}
	return n
}
