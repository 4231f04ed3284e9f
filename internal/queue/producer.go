package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/runner"
	"github.com/google/uuid"
)

// publisher is the subset of Connection used to send messages
type publisher interface {
	PublishJSON(ctx context.Context, queue string, data any, correlationID, replyTo string) error
}

// Producer publishes run jobs and results
type Producer struct {
	conn publisher
}

// NewProducer creates a new queue producer
func NewProducer(conn *Connection) *Producer {
	return &Producer{conn: conn}
}

// PublishRunJob publishes a job to the run queue. Replies are sent to replyTo,
// or to the shared results queue when replyTo is empty.
func (p *Producer) PublishRunJob(ctx context.Context, job *RunJob, replyTo string) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, RunQueueName, job, job.ID.String(), replyTo); err != nil {
		return fmt.Errorf("failed to publish run job: %w", err)
	}

	slog.Debug("published run job",
		"job_id", job.ID,
		"exercise_id", job.ExerciseID,
		"run_tests", job.Submission.RunTests,
	)

	return nil
}

// PublishResult publishes a run result to replyTo, falling back to the
// shared results queue.
func (p *Producer) PublishResult(ctx context.Context, result *RunResult, replyTo string) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}
	if replyTo == "" {
		replyTo = ResultQueueName
	}

	if err := p.conn.PublishJSON(ctx, replyTo, result, result.JobID.String(), ""); err != nil {
		return fmt.Errorf("failed to publish run result: %w", err)
	}

	slog.Debug("published run result",
		"job_id", result.JobID,
		"status", result.Status,
		"duration", result.Duration,
	)

	return nil
}

// NewRunJob creates a run job for a submission
func NewRunJob(exerciseID string, sub runner.Submission) *RunJob {
	return &RunJob{
		ID:         uuid.New(),
		ExerciseID: exerciseID,
		Submission: sub,
		CreatedAt:  time.Now(),
	}
}
