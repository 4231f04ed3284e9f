package runner

import (
	"strings"
	"testing"
	"time"
)

func TestLimitedBuffer(t *testing.T) {
	b := newLimitedBuffer(5)

	n, err := b.Write([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	n, err = b.Write([]byte("defg"))
	if err != nil || n != 4 {
		t.Fatalf("Write() = %d, %v; writes must always report full length", n, err)
	}
	if b.String() != "abcde" {
		t.Errorf("String() = %q, want %q", b.String(), "abcde")
	}
	if !b.truncated {
		t.Error("buffer should be marked truncated")
	}
}

func TestLimitedBuffer_NoLimit(t *testing.T) {
	b := newLimitedBuffer(0)
	b.Write([]byte(strings.Repeat("x", 1000)))
	if b.truncated || len(b.String()) != 1000 {
		t.Error("zero limit should keep everything")
	}
}

func TestBuildOutput(t *testing.T) {
	stdout := newLimitedBuffer(10)
	stderr := newLimitedBuffer(10)
	stdout.Write([]byte("  hello\n"))
	stderr.Write([]byte("\n"))

	out := buildOutput(stdout, stderr, 0, time.Second, false)
	if out.Stdout != "hello" || out.Stderr != "" {
		t.Errorf("streams should be trimmed, got %q / %q", out.Stdout, out.Stderr)
	}
	if !out.OK() {
		t.Error("clean exit should be OK")
	}
}

func TestBuildOutput_Truncated(t *testing.T) {
	stdout := newLimitedBuffer(4)
	stderr := newLimitedBuffer(4)
	stdout.Write([]byte("0123456789"))

	out := buildOutput(stdout, stderr, 0, time.Second, false)
	if !out.Truncated {
		t.Fatal("output should be truncated")
	}
	if out.Stdout != "0123"+truncatedMarker {
		t.Errorf("Stdout = %q", out.Stdout)
	}
	if out.Stderr != outputTooLarge {
		t.Errorf("Stderr = %q", out.Stderr)
	}
	if out.OK() {
		t.Error("truncated output must not be OK")
	}
}

func TestOutput_OK(t *testing.T) {
	tests := []struct {
		name string
		out  Output
		want bool
	}{
		{"clean", Output{}, true},
		{"non-zero exit", Output{ExitCode: 1}, false},
		{"timed out", Output{TimedOut: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.out.OK(); got != tt.want {
				t.Errorf("OK() = %v, want %v", got, tt.want)
			}
		})
	}
}
