package gateway

import (
	"regexp"
	"strings"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/felixgeelhaar/pyportal/internal/runner"
)

// Test case names reported by ParseTestOutput
const (
	CaseImport      = "Import Test"
	CaseAll         = "All Tests"
	CaseAssertion   = "Test Case"
	CaseSyntax      = "Syntax Check"
	CaseName        = "Variable Check"
	CaseIndentation = "Indentation Check"
	CaseExecution   = "Execution"
)

const (
	msgImport      = "Failed to import your code. Check for syntax errors."
	msgSyntax      = "Syntax error in your code. Please check for typos, missing colons, or incorrect indentation."
	msgName        = "Variable or function name not found. Check your spelling and make sure you defined it."
	msgIndentation = "Indentation error. Python requires consistent indentation (use 4 spaces)."
	msgNoOutput    = "No output from tests. Check your function implementation."
	msgUnknown     = "Unknown test failure"
)

var tracebackFrame = regexp.MustCompile(`(?m)^\s*File ".*?", line \d+, in .*\n?`)

// ParseTestOutput turns the output of a test run into per-case results.
// Tests signal success by printing OK; failures are recognised from the
// Python exception names on stderr.
func ParseTestOutput(stdout, stderr string) *domain.TestResult {
	result := &domain.TestResult{
		Output:    stdout,
		Errors:    stderr,
		TestCases: []domain.TestCase{},
	}

	if strings.Contains(stdout, runner.ImportErrorMarker) || strings.Contains(stderr, runner.ImportErrorMarker) {
		result.TestCases = append(result.TestCases, domain.TestCase{
			Name:  CaseImport,
			Error: importDetail(stdout + "\n" + stderr),
		})
		return result
	}

	switch {
	case strings.Contains(stdout, "OK") && stderr == "":
		result.Passed = true
		result.TestCases = append(result.TestCases, domain.TestCase{Name: CaseAll, Passed: true})
	case stderr != "":
		result.TestCases = append(result.TestCases, classifyErrors(stderr)...)
	default:
		result.TestCases = append(result.TestCases, domain.TestCase{Name: CaseExecution, Error: msgNoOutput})
	}
	return result
}

func classifyErrors(stderr string) []domain.TestCase {
	switch {
	case strings.Contains(stderr, "AssertionError"):
		return assertionCases(stderr)
	case strings.Contains(stderr, "SyntaxError:"):
		return []domain.TestCase{{Name: CaseSyntax, Error: msgSyntax}}
	case strings.Contains(stderr, "NameError:"):
		return []domain.TestCase{{Name: CaseName, Error: msgName}}
	case strings.Contains(stderr, "IndentationError:"):
		return []domain.TestCase{{Name: CaseIndentation, Error: msgIndentation}}
	}

	cleaned := CleanTraceback(stderr)
	if cleaned == "" {
		cleaned = msgUnknown
	}
	return []domain.TestCase{{Name: CaseExecution, Error: cleaned}}
}

// assertionCases returns one failing case per AssertionError line. A bare
// AssertionError is described by the assert statement printed above it.
func assertionCases(stderr string) []domain.TestCase {
	var cases []domain.TestCase
	lines := strings.Split(stderr, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "AssertionError:"):
			cases = append(cases, domain.TestCase{
				Name:  CaseAssertion,
				Error: strings.TrimSpace(strings.TrimPrefix(trimmed, "AssertionError:")),
			})
		case trimmed == "AssertionError":
			msg := "Assertion failed"
			if i > 0 {
				if prev := strings.TrimSpace(lines[i-1]); strings.HasPrefix(prev, "assert") {
					msg += ": " + prev
				}
			}
			cases = append(cases, domain.TestCase{Name: CaseAssertion, Error: msg})
		}
	}
	if len(cases) == 0 {
		cases = append(cases, domain.TestCase{Name: CaseAssertion, Error: CleanTraceback(stderr)})
	}
	return cases
}

// CleanTraceback drops the File "...", line N frames and blank lines
// from a Python traceback.
func CleanTraceback(stderr string) string {
	stripped := tracebackFrame.ReplaceAllString(stderr, "")
	var kept []string
	for _, line := range strings.Split(stripped, "\n") {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func importDetail(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if idx := strings.Index(line, runner.ImportErrorMarker); idx >= 0 {
			detail := strings.TrimSpace(line[idx+len(runner.ImportErrorMarker):])
			if detail != "" {
				return msgImport + " " + detail
			}
		}
	}
	return msgImport
}
