package runner

import (
	"regexp"
	"strings"
)

// File names used inside the execution directory
const (
	UserCodeFile   = "user_code.py"
	StarterFile    = "starter.py"
	TestRunnerFile = "test_runner.py"
)

// ImportErrorMarker prefixes the line the test runner prints when the
// learner's module cannot be imported.
const ImportErrorMarker = "IMPORT_ERROR:"

const mainBlockNotice = "# Interactive section removed for web execution"

var mainGuard = regexp.MustCompile(`^(\s*)if\s+__name__\s*==\s*['"]__main__['"]\s*:`)

const testRunnerHeader = `import sys
import os
sys.path.insert(0, os.path.dirname(os.path.abspath(__file__)))

try:
    import starter
except ImportError as e:
    print(f"IMPORT_ERROR: Failed to import starter module: {e}")
    sys.exit(1)
except Exception as e:
    print(f"IMPORT_ERROR: Error in starter module: {e}")
    sys.exit(1)

`

// PrepareFiles lays out the files for a submission and returns them
// together with the entry point to execute.
func PrepareFiles(sub Submission) (files map[string]string, entry string) {
	if !sub.RunTests {
		return map[string]string{UserCodeFile: DisableMainBlock(sub.Code)}, UserCodeFile
	}
	return map[string]string{
		StarterFile:    sub.Code,
		TestRunnerFile: TestRunner(sub.TestCode),
	}, TestRunnerFile
}

// TestRunner wraps test code in a script that imports the learner's
// module first and reports import failures with ImportErrorMarker.
func TestRunner(testCode string) string {
	return testRunnerHeader + testCode + "\n"
}

// DisableMainBlock comments out every `if __name__ == "__main__":` block so
// that interactive code such as input() does not block execution.
func DisableMainBlock(code string) string {
	lines := strings.Split(code, "\n")
	out := make([]string, 0, len(lines)+2)

	inBlock := false
	blockIndent := 0
	for _, line := range lines {
		if inBlock {
			if strings.TrimSpace(line) == "" || indentWidth(line) > blockIndent {
				out = append(out, "# "+line)
				continue
			}
			inBlock = false
		}

		if m := mainGuard.FindStringSubmatch(line); m != nil {
			indent := m[1]
			out = append(out, indent+mainBlockNotice, indent+"# "+strings.TrimLeft(line, " \t"))
			inBlock = true
			blockIndent = indentWidth(line)
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func indentWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}
