package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/felixgeelhaar/pyportal/internal/runner"
)

// jobPublisher sends run jobs to the workers
type jobPublisher interface {
	PublishRunJob(ctx context.Context, job *RunJob, replyTo string) error
}

// resultSubscriber delivers replies by job id
type resultSubscriber interface {
	Queue() string
	Subscribe(jobID string, handler ResultHandler)
	Unsubscribe(jobID string)
}

// RemoteCapability executes submissions on queue workers. It publishes a job
// with this process's reply queue and waits for the matching result.
type RemoteCapability struct {
	producer jobPublisher
	results  resultSubscriber
	timeout  time.Duration
}

// NewRemoteCapability creates a capability backed by workers. The result
// consumer must already be started.
func NewRemoteCapability(producer *Producer, results *ResultConsumer, timeout time.Duration) *RemoteCapability {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteCapability{
		producer: producer,
		results:  results,
		timeout:  timeout,
	}
}

// Run publishes the submission and blocks until a worker replies or the
// wait times out.
func (r *RemoteCapability) Run(ctx context.Context, sub runner.Submission) (*runner.Output, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	job := NewRunJob("", sub)
	replies := make(chan *RunResult, 1)

	key := job.ID.String()
	r.results.Subscribe(key, func(res *RunResult) {
		select {
		case replies <- res:
		default:
		}
	})
	defer r.results.Unsubscribe(key)

	if err := r.producer.PublishRunJob(ctx, job, r.results.Queue()); err != nil {
		return nil, err
	}

	select {
	case res := <-replies:
		return resultOutput(res)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.ExecutionError{Cause: fmt.Errorf("no worker reply within %s", r.timeout)}
		}
		return nil, ctx.Err()
	}
}

func resultOutput(res *RunResult) (*runner.Output, error) {
	switch {
	case res.Output != nil:
		return res.Output, nil
	case res.Status == StatusTimeout:
		return &runner.Output{TimedOut: true, ExitCode: -1, Duration: res.Duration}, nil
	case res.Error != "":
		return nil, &domain.ExecutionError{Cause: errors.New(res.Error)}
	default:
		return nil, &domain.ExecutionError{Cause: fmt.Errorf("worker returned status %q without output", res.Status)}
	}
}
