// Package runner executes learner Python code on behalf of the execution gateway.
package runner

import (
	"bytes"
	"context"
	"strings"
	"time"
)

// Capability runs a single submission and reports what the interpreter produced.
// Implementations return an error only when the run could not be attempted;
// a failing program is reported through Output.
type Capability interface {
	Run(ctx context.Context, sub Submission) (*Output, error)
}

// Submission is the code to execute. With RunTests set the code is saved
// as an importable module and TestCode is run against it.
type Submission struct {
	Code     string `json:"code"`
	TestCode string `json:"testCode,omitempty"`
	RunTests bool   `json:"runTests"`
}

// Output is the raw result of one interpreter run
type Output struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exitCode"`
	Duration  time.Duration `json:"duration"`
	TimedOut  bool          `json:"timedOut"`
	Truncated bool          `json:"truncated"`
}

// OK reports whether the program exited cleanly within its limits
func (o *Output) OK() bool {
	return o.ExitCode == 0 && !o.TimedOut && !o.Truncated
}

// Limits bound a single run
type Limits struct {
	Timeout        time.Duration
	MaxOutputBytes int
}

// DefaultLimits returns the default execution limits
func DefaultLimits() Limits {
	return Limits{
		Timeout:        3 * time.Second,
		MaxOutputBytes: 512 * 1024,
	}
}

const (
	truncatedMarker = "\n... (output truncated)"
	outputTooLarge  = "Output too large. Consider reducing print statements."
)

// limitedBuffer keeps the first limit bytes written and silently discards
// the rest so the writing process is never blocked.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

// buildOutput trims the captured streams and applies the truncation markers
func buildOutput(stdout, stderr *limitedBuffer, exitCode int, duration time.Duration, timedOut bool) *Output {
	out := &Output{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: exitCode,
		Duration: duration,
		TimedOut: timedOut,
	}
	if stdout.truncated {
		out.Truncated = true
		out.Stdout += truncatedMarker
		if out.Stderr == "" {
			out.Stderr = outputTooLarge
		} else {
			out.Stderr = outputTooLarge + "\n" + out.Stderr
		}
	}
	if stderr.truncated {
		out.Truncated = true
		out.Stderr += truncatedMarker
	}
	return out
}
