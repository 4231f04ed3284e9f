package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/runner"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobHandler processes run jobs
type JobHandler func(ctx context.Context, job *RunJob) (*RunResult, error)

// ExecutionHandler returns a JobHandler that runs each job's submission
// with capability.
func ExecutionHandler(capability runner.Capability) JobHandler {
	return func(ctx context.Context, job *RunJob) (*RunResult, error) {
		out, err := capability.Run(ctx, job.Submission)
		if err != nil {
			return nil, err
		}
		status := StatusCompleted
		if out.TimedOut {
			status = StatusTimeout
		}
		return &RunResult{Status: status, Output: out}, nil
	}
}

// deliverySource is the part of Connection consumers read from
type deliverySource interface {
	Consume(queue string, prefetch int, autoAck bool) (<-chan amqp.Delivery, error)
	Reconnected() <-chan struct{}
	Done() <-chan struct{}
}

// Consumer consumes run jobs from the queue
type Consumer struct {
	conn       deliverySource
	handler    JobHandler
	producer   *Producer
	workers    int
	prefetch   int
	jobTimeout time.Duration
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	lost       chan struct{}
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers    int           // number of concurrent workers
	Prefetch   int           // prefetch count per worker
	JobTimeout time.Duration // upper bound for one job including setup
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:    3,
		Prefetch:   1,
		JobTimeout: 30 * time.Second,
	}
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, handler JobHandler, cfg ConsumerConfig) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}

	return &Consumer{
		conn:       conn,
		handler:    handler,
		producer:   NewProducer(conn),
		workers:    cfg.Workers,
		prefetch:   cfg.Prefetch,
		jobTimeout: cfg.JobTimeout,
	}
}

// Start begins consuming messages. Consumption resumes on the new channel
// after a reconnect.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)
	c.lost = make(chan struct{})

	reconnected := c.conn.Reconnected()
	msgs, err := c.conn.Consume(RunQueueName, c.prefetch*c.workers, false)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	slog.Info("starting run queue consumer", "workers", c.workers, "prefetch", c.prefetch)

	c.wg.Add(1)
	go c.supervise(ctx, msgs, reconnected)

	return nil
}

// Run starts the consumer and blocks until ctx is cancelled. It returns
// ErrConnectionLost when the connection cannot be re-established.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		c.Stop()
		return nil
	case <-c.lost:
		c.Stop()
		return ErrConnectionLost
	}
}

// supervise runs the workers over msgs and consumes again after each
// reconnect
func (c *Consumer) supervise(ctx context.Context, msgs <-chan amqp.Delivery, reconnected <-chan struct{}) {
	defer c.wg.Done()

	for {
		var workers sync.WaitGroup
		for i := 0; i < c.workers; i++ {
			workers.Add(1)
			go func(id int) {
				defer workers.Done()
				c.worker(ctx, id, msgs)
			}(i)
		}
		workers.Wait()

		msgs = resume(ctx, c.conn, &reconnected, RunQueueName, c.prefetch*c.workers, false)
		if msgs == nil {
			if ctx.Err() == nil {
				close(c.lost)
			}
			return
		}
		slog.Info("resumed consuming run queue")
	}
}

// resume waits for the next reconnect and consumes queue again. It returns
// nil when ctx is cancelled or the connection is gone for good.
func resume(ctx context.Context, src deliverySource, reconnected *<-chan struct{}, queue string, prefetch int, autoAck bool) <-chan amqp.Delivery {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-src.Done():
			slog.Error("giving up consuming", "queue", queue)
			return nil
		case <-*reconnected:
		}

		*reconnected = src.Reconnected()
		msgs, err := src.Consume(queue, prefetch, autoAck)
		if err != nil {
			slog.Warn("failed to resume consuming", "queue", queue, "error", err)
			continue
		}
		return msgs
	}
}

// worker processes messages from the queue until msgs closes
func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	slog.Debug("worker started", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("worker stopping", "worker_id", id)
			return

		case msg, ok := <-msgs:
			if !ok {
				slog.Info("message channel closed", "worker_id", id)
				return
			}

			c.processMessage(ctx, id, msg)
		}
	}
}

// processMessage handles a single message
func (c *Consumer) processMessage(ctx context.Context, workerID int, msg amqp.Delivery) {
	start := time.Now()

	var job RunJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		slog.Error("failed to unmarshal job",
			"worker_id", workerID,
			"error", err,
		)
		// Malformed messages are dropped
		_ = msg.Reject(false)
		return
	}

	slog.Debug("processing run job",
		"worker_id", workerID,
		"job_id", job.ID,
		"exercise_id", job.ExerciseID,
	)

	jobCtx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	defer cancel()

	result := c.handle(jobCtx, &job)
	result.JobID = job.ID
	result.Duration = time.Since(start)
	result.CompletedAt = time.Now()

	if err := c.producer.PublishResult(ctx, result, msg.ReplyTo); err != nil {
		slog.Error("failed to publish result",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
	}

	if err := msg.Ack(false); err != nil {
		slog.Error("failed to ack message",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
	}
}

// handle runs the handler and converts failures into a result
func (c *Consumer) handle(ctx context.Context, job *RunJob) (result *RunResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &RunResult{Status: StatusFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	result, err := c.handler(ctx, job)
	if err != nil {
		slog.Error("job processing failed", "job_id", job.ID, "error", err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &RunResult{Status: StatusTimeout, Error: "execution timed out"}
		}
		return &RunResult{Status: StatusFailed, Error: err.Error()}
	}
	if result == nil {
		return &RunResult{Status: StatusFailed, Error: "handler returned no result"}
	}
	if result.Status == "" {
		result.Status = StatusCompleted
	}
	return result
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	slog.Info("consumer stopped")
}

// ResultConsumer consumes run results and hands them to the waiting caller
type ResultConsumer struct {
	conn       deliverySource
	queue      string
	handlers   map[string]ResultHandler
	handlersMu sync.RWMutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ResultHandler handles a run result for a specific job
type ResultHandler func(result *RunResult)

// NewResultConsumer creates a result consumer reading from queue
func NewResultConsumer(conn *Connection, queue string) *ResultConsumer {
	return &ResultConsumer{
		conn:     conn,
		queue:    queue,
		handlers: make(map[string]ResultHandler),
	}
}

// Queue returns the name of the queue results are read from
func (rc *ResultConsumer) Queue() string {
	return rc.queue
}

// Subscribe registers a handler for results of a specific job
func (rc *ResultConsumer) Subscribe(jobID string, handler ResultHandler) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	rc.handlers[jobID] = handler
}

// Unsubscribe removes a handler
func (rc *ResultConsumer) Unsubscribe(jobID string) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	delete(rc.handlers, jobID)
}

// Start begins consuming results. Consumption resumes after a reconnect.
func (rc *ResultConsumer) Start(ctx context.Context) error {
	ctx, rc.cancelFunc = context.WithCancel(ctx)

	reconnected := rc.conn.Reconnected()
	msgs, err := rc.conn.Consume(rc.queue, 0, true) // results are fire-and-forget
	if err != nil {
		return fmt.Errorf("failed to start result consumer: %w", err)
	}

	rc.wg.Add(1)
	go rc.consume(ctx, msgs, reconnected)

	return nil
}

func (rc *ResultConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery, reconnected <-chan struct{}) {
	defer rc.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if ok {
				rc.dispatch(msg.CorrelationId, msg.Body)
				continue
			}
			if msgs = resume(ctx, rc.conn, &reconnected, rc.queue, 0, true); msgs == nil {
				return
			}
			slog.Info("resumed consuming results", "queue", rc.queue)
		}
	}
}

// dispatch decodes a result and calls the handler subscribed to its job.
// The correlation id takes precedence over the job id in the body.
func (rc *ResultConsumer) dispatch(correlationID string, body []byte) {
	var result RunResult
	if err := json.Unmarshal(body, &result); err != nil {
		slog.Error("failed to unmarshal result", "error", err)
		return
	}

	key := correlationID
	if key == "" && result.JobID != uuid.Nil {
		key = result.JobID.String()
	}

	rc.handlersMu.RLock()
	handler, ok := rc.handlers[key]
	rc.handlersMu.RUnlock()

	if !ok {
		slog.Debug("dropping result without subscriber", "job_id", key)
		return
	}
	handler(&result)
}

// Stop stops the result consumer
func (rc *ResultConsumer) Stop() {
	if rc.cancelFunc != nil {
		rc.cancelFunc()
	}
	rc.wg.Wait()
}
