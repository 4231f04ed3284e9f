package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/runner"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type fakePublisher struct {
	mu       sync.Mutex
	queues   []string
	corrIDs  []string
	replyTos []string
	payloads []any
	err      error
}

func (f *fakePublisher) PublishJSON(_ context.Context, queue string, data any, correlationID, replyTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, queue)
	f.corrIDs = append(f.corrIDs, correlationID)
	f.replyTos = append(f.replyTos, replyTo)
	f.payloads = append(f.payloads, data)
	return f.err
}

type fakeAcknowledger struct {
	acked    int
	rejected int
	requeue  bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error { f.acked++; return nil }
func (f *fakeAcknowledger) Nack(uint64, bool, bool) error { return nil }
func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.rejected++
	f.requeue = requeue
	return nil
}

type stubCapability struct {
	out *runner.Output
	err error
}

func (s stubCapability) Run(context.Context, runner.Submission) (*runner.Output, error) {
	return s.out, s.err
}

func newTestConsumer(handler JobHandler, pub *fakePublisher) *Consumer {
	return &Consumer{
		handler:    handler,
		producer:   &Producer{conn: pub},
		workers:    1,
		prefetch:   1,
		jobTimeout: time.Second,
	}
}

func delivery(t *testing.T, ack amqp.Acknowledger, body any, replyTo string) amqp.Delivery {
	t.Helper()
	data, ok := body.([]byte)
	if !ok {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	return amqp.Delivery{Acknowledger: ack, Body: data, ReplyTo: replyTo}
}

func TestConsumer_ProcessMessage(t *testing.T) {
	pub := &fakePublisher{}
	handler := ExecutionHandler(stubCapability{out: &runner.Output{Stdout: "hi"}})
	c := newTestConsumer(handler, pub)
	ack := &fakeAcknowledger{}

	job := NewRunJob("ex", runner.Submission{Code: "print('hi')"})
	c.processMessage(context.Background(), 0, delivery(t, ack, job, "reply-q"))

	if ack.acked != 1 {
		t.Errorf("acked = %d, want 1", ack.acked)
	}
	if len(pub.queues) != 1 || pub.queues[0] != "reply-q" {
		t.Fatalf("published to %v, want reply-q", pub.queues)
	}
	if pub.corrIDs[0] != job.ID.String() {
		t.Errorf("correlation id = %q, want job id", pub.corrIDs[0])
	}
	res := pub.payloads[0].(*RunResult)
	if res.Status != StatusCompleted || res.Output.Stdout != "hi" || res.JobID != job.ID {
		t.Errorf("result = %+v", res)
	}
}

func TestConsumer_ProcessMessage_DefaultReplyQueue(t *testing.T) {
	pub := &fakePublisher{}
	c := newTestConsumer(ExecutionHandler(stubCapability{out: &runner.Output{}}), pub)

	c.processMessage(context.Background(), 0, delivery(t, &fakeAcknowledger{}, NewRunJob("", runner.Submission{Code: "x"}), ""))

	if pub.queues[0] != ResultQueueName {
		t.Errorf("published to %q, want %q", pub.queues[0], ResultQueueName)
	}
}

func TestConsumer_ProcessMessage_Malformed(t *testing.T) {
	pub := &fakePublisher{}
	c := newTestConsumer(ExecutionHandler(stubCapability{}), pub)
	ack := &fakeAcknowledger{}

	c.processMessage(context.Background(), 0, delivery(t, ack, []byte("{not json"), ""))

	if ack.rejected != 1 || ack.requeue {
		t.Errorf("malformed message should be rejected without requeue, got %+v", ack)
	}
	if len(pub.queues) != 0 {
		t.Error("nothing should be published for a malformed message")
	}
}

func TestConsumer_Handle_Failures(t *testing.T) {
	tests := []struct {
		name       string
		handler    JobHandler
		wantStatus string
		wantError  string
	}{
		{
			name: "handler error",
			handler: func(context.Context, *RunJob) (*RunResult, error) {
				return nil, errors.New("docker down")
			},
			wantStatus: StatusFailed,
			wantError:  "docker down",
		},
		{
			name: "handler panic",
			handler: func(context.Context, *RunJob) (*RunResult, error) {
				panic("boom")
			},
			wantStatus: StatusFailed,
			wantError:  "panic: boom",
		},
		{
			name: "nil result",
			handler: func(context.Context, *RunJob) (*RunResult, error) {
				return nil, nil
			},
			wantStatus: StatusFailed,
			wantError:  "handler returned no result",
		},
		{
			name: "deadline",
			handler: func(ctx context.Context, _ *RunJob) (*RunResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			wantStatus: StatusTimeout,
			wantError:  "execution timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConsumer(tt.handler, &fakePublisher{})
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			res := c.handle(ctx, &RunJob{ID: uuid.New()})
			if res.Status != tt.wantStatus || res.Error != tt.wantError {
				t.Errorf("handle() = {%s %q}, want {%s %q}", res.Status, res.Error, tt.wantStatus, tt.wantError)
			}
		})
	}
}

func TestExecutionHandler_Timeout(t *testing.T) {
	h := ExecutionHandler(stubCapability{out: &runner.Output{TimedOut: true}})
	res, err := h(context.Background(), &RunJob{})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if res.Status != StatusTimeout {
		t.Errorf("Status = %q, want %q", res.Status, StatusTimeout)
	}
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := NewConsumer(nil, nil, ConsumerConfig{})
	if c.workers != 3 || c.prefetch != 1 || c.jobTimeout != 30*time.Second {
		t.Errorf("defaults not applied: workers=%d prefetch=%d timeout=%v", c.workers, c.prefetch, c.jobTimeout)
	}

	c = NewConsumer(nil, nil, ConsumerConfig{Workers: 10, Prefetch: 5, JobTimeout: time.Minute})
	if c.workers != 10 || c.prefetch != 5 || c.jobTimeout != time.Minute {
		t.Error("custom config should be preserved")
	}
}

func TestResultConsumer_SubscribeUnsubscribe(t *testing.T) {
	rc := NewResultConsumer(nil, "replies")
	jobID := uuid.New().String()

	rc.Subscribe(jobID, func(*RunResult) {})
	rc.handlersMu.RLock()
	_, exists := rc.handlers[jobID]
	rc.handlersMu.RUnlock()
	if !exists {
		t.Error("handler should be registered after Subscribe")
	}

	rc.Unsubscribe(jobID)
	rc.handlersMu.RLock()
	_, exists = rc.handlers[jobID]
	rc.handlersMu.RUnlock()
	if exists {
		t.Error("handler should be removed after Unsubscribe")
	}
	if rc.Queue() != "replies" {
		t.Errorf("Queue() = %q", rc.Queue())
	}
}

func TestResultConsumer_Dispatch(t *testing.T) {
	rc := NewResultConsumer(nil, "replies")
	jobID := uuid.New()

	var got *RunResult
	rc.Subscribe(jobID.String(), func(r *RunResult) { got = r })

	body, _ := json.Marshal(RunResult{JobID: jobID, Status: StatusCompleted})

	// Falls back to the job id in the body
	rc.dispatch("", body)
	if got == nil || got.Status != StatusCompleted {
		t.Fatalf("handler not called, got %+v", got)
	}

	// Unknown correlation id is dropped
	got = nil
	rc.dispatch("other", body)
	if got != nil {
		t.Error("result for another job must not be delivered")
	}

	// Malformed payloads are ignored
	rc.dispatch(jobID.String(), []byte("nope"))
	if got != nil {
		t.Error("malformed result must not be delivered")
	}
}

// fakeSource hands out a fresh delivery channel per Consume call and lets
// tests drop and restore the connection.
type fakeSource struct {
	mu          sync.Mutex
	channels    []chan amqp.Delivery
	reconnected chan struct{}
	done        chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{reconnected: make(chan struct{}), done: make(chan struct{})}
}

func (f *fakeSource) Consume(string, int, bool) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan amqp.Delivery, 1)
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeSource) Reconnected() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnected
}

func (f *fakeSource) Done() <-chan struct{} { return f.done }

// drop closes the current delivery channel like a broken connection does
func (f *fakeSource) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.channels[len(f.channels)-1])
}

func (f *fakeSource) reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.reconnected)
	f.reconnected = make(chan struct{})
}

func (f *fakeSource) consumes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

func (f *fakeSource) current() chan amqp.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[len(f.channels)-1]
}

func (f *fakePublisher) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConsumer_ResumesAfterReconnect(t *testing.T) {
	src := newFakeSource()
	pub := &fakePublisher{}
	c := newTestConsumer(ExecutionHandler(stubCapability{out: &runner.Output{Stdout: "hi"}}), pub)
	c.conn = src

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	src.drop()
	src.reconnect()
	waitFor(t, "second consume", func() bool { return src.consumes() == 2 })

	job := NewRunJob("ex", runner.Submission{Code: "print('hi')"})
	src.current() <- delivery(t, &fakeAcknowledger{}, job, "reply-q")
	waitFor(t, "result after reconnect", func() bool { return pub.published() == 1 })
}

func TestConsumer_RunReturnsWhenConnectionLost(t *testing.T) {
	src := newFakeSource()
	c := newTestConsumer(ExecutionHandler(stubCapability{out: &runner.Output{}}), &fakePublisher{})
	c.conn = src

	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	waitFor(t, "consume", func() bool { return src.consumes() == 1 })
	src.drop()
	close(src.done)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("Run() error = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() kept blocking after the connection was lost")
	}
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	src := newFakeSource()
	c := newTestConsumer(ExecutionHandler(stubCapability{out: &runner.Output{}}), &fakePublisher{})
	c.conn = src

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	waitFor(t, "consume", func() bool { return src.consumes() == 1 })
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestResultConsumer_ResumesAfterReconnect(t *testing.T) {
	src := newFakeSource()
	rc := NewResultConsumer(nil, "replies")
	rc.conn = src

	jobID := uuid.New()
	got := make(chan *RunResult, 1)
	rc.Subscribe(jobID.String(), func(r *RunResult) { got <- r })

	if err := rc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rc.Stop()

	src.drop()
	src.reconnect()
	waitFor(t, "second consume", func() bool { return src.consumes() == 2 })

	body, _ := json.Marshal(RunResult{JobID: jobID, Status: StatusCompleted})
	src.current() <- amqp.Delivery{CorrelationId: jobID.String(), Body: body}

	select {
	case r := <-got:
		if r.Status != StatusCompleted {
			t.Errorf("Status = %q", r.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("result not delivered after reconnect")
	}
}
