package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/felixgeelhaar/pyportal/internal/runner"
)

// loopback answers every published job through the subscribed handler
type loopback struct {
	mu       sync.Mutex
	handlers map[string]ResultHandler
	reply    func(job *RunJob) *RunResult
	replyTo  string
	err      error
}

func newLoopback(reply func(*RunJob) *RunResult) *loopback {
	return &loopback{handlers: map[string]ResultHandler{}, reply: reply}
}

func (l *loopback) Queue() string { return "replies" }

func (l *loopback) Subscribe(id string, h ResultHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[id] = h
}

func (l *loopback) Unsubscribe(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, id)
}

func (l *loopback) PublishRunJob(_ context.Context, job *RunJob, replyTo string) error {
	l.replyTo = replyTo
	if l.err != nil {
		return l.err
	}
	if l.reply == nil {
		return nil
	}
	l.mu.Lock()
	h := l.handlers[job.ID.String()]
	l.mu.Unlock()
	go h(l.reply(job))
	return nil
}

func newTestRemote(lb *loopback, timeout time.Duration) *RemoteCapability {
	return &RemoteCapability{producer: lb, results: lb, timeout: timeout}
}

func TestRemoteCapability_Run(t *testing.T) {
	lb := newLoopback(func(job *RunJob) *RunResult {
		return &RunResult{JobID: job.ID, Status: StatusCompleted, Output: &runner.Output{Stdout: job.Submission.Code}}
	})
	r := newTestRemote(lb, time.Second)

	out, err := r.Run(context.Background(), runner.Submission{Code: "echo"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Stdout != "echo" {
		t.Errorf("Stdout = %q", out.Stdout)
	}
	if lb.replyTo != "replies" {
		t.Errorf("replyTo = %q, want the result consumer's queue", lb.replyTo)
	}
	if len(lb.handlers) != 0 {
		t.Error("handler should be unsubscribed after the reply")
	}
}

func TestRemoteCapability_WorkerFailure(t *testing.T) {
	lb := newLoopback(func(job *RunJob) *RunResult {
		return &RunResult{JobID: job.ID, Status: StatusFailed, Error: "docker down"}
	})

	_, err := newTestRemote(lb, time.Second).Run(context.Background(), runner.Submission{Code: "x"})
	if !errors.Is(err, domain.ErrExecution) {
		t.Fatalf("Run() error = %v, want ErrExecution", err)
	}
}

func TestRemoteCapability_WorkerTimeout(t *testing.T) {
	lb := newLoopback(func(job *RunJob) *RunResult {
		return &RunResult{JobID: job.ID, Status: StatusTimeout, Error: "execution timed out"}
	})

	out, err := newTestRemote(lb, time.Second).Run(context.Background(), runner.Submission{Code: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.TimedOut {
		t.Error("timeout status should map to a timed out output")
	}
}

func TestRemoteCapability_NoReply(t *testing.T) {
	lb := newLoopback(nil)

	_, err := newTestRemote(lb, 20*time.Millisecond).Run(context.Background(), runner.Submission{Code: "x"})
	if !errors.Is(err, domain.ErrExecution) {
		t.Fatalf("Run() error = %v, want ErrExecution", err)
	}
}

func TestRemoteCapability_PublishError(t *testing.T) {
	lb := newLoopback(nil)
	lb.err = errors.New("channel closed")

	if _, err := newTestRemote(lb, time.Second).Run(context.Background(), runner.Submission{Code: "x"}); err == nil {
		t.Fatal("Run() should fail when publishing fails")
	}
}

func TestNewRemoteCapability_DefaultTimeout(t *testing.T) {
	r := NewRemoteCapability(nil, nil, 0)
	if r.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", r.timeout)
	}
}
