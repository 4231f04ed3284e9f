//go:build integration

package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/felixgeelhaar/pyportal/internal/queue"
	"github.com/felixgeelhaar/pyportal/internal/runner"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// setupRabbitMQ creates a RabbitMQ container for testing
func setupRabbitMQ(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get AMQP URL: %v", err)
	}
	return amqpURL
}

type echoCapability struct{}

func (echoCapability) Run(_ context.Context, sub runner.Submission) (*runner.Output, error) {
	return &runner.Output{Stdout: sub.Code, Duration: time.Millisecond}, nil
}

type failingCapability struct{}

func (failingCapability) Run(context.Context, runner.Submission) (*runner.Output, error) {
	return nil, errors.New("sandbox unavailable")
}

func startWorker(t *testing.T, url string, capability runner.Capability) {
	t.Helper()
	conn, err := queue.NewConnection(url)
	if err != nil {
		t.Fatalf("failed to create worker connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	consumer := queue.NewConsumer(conn, queue.ExecutionHandler(capability), queue.ConsumerConfig{Workers: 2})
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("failed to start consumer: %v", err)
	}
	t.Cleanup(consumer.Stop)
}

func newRemote(t *testing.T, url string) *queue.RemoteCapability {
	t.Helper()
	conn, err := queue.NewConnection(url)
	if err != nil {
		t.Fatalf("failed to create client connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	replyQueue, err := conn.DeclareReplyQueue()
	if err != nil {
		t.Fatalf("DeclareReplyQueue() error = %v", err)
	}
	results := queue.NewResultConsumer(conn, replyQueue)
	if err := results.Start(context.Background()); err != nil {
		t.Fatalf("failed to start result consumer: %v", err)
	}
	t.Cleanup(results.Stop)

	return queue.NewRemoteCapability(queue.NewProducer(conn), results, 20*time.Second)
}

func TestIntegration_Connection_ConnectAndClose(t *testing.T) {
	url := setupRabbitMQ(t)

	conn, err := queue.NewConnection(url)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	if !conn.IsConnected() {
		t.Error("expected connection to be active")
	}
	if err := conn.Close(); err != nil {
		t.Errorf("failed to close connection: %v", err)
	}
}

func TestIntegration_Connection_InvalidURL(t *testing.T) {
	if _, err := queue.NewConnection("amqp://invalid:5672"); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestIntegration_RemoteRoundTrip(t *testing.T) {
	url := setupRabbitMQ(t)
	startWorker(t, url, echoCapability{})
	remote := newRemote(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, code := range []string{"print(1)", "print(2)", "print(3)"} {
		out, err := remote.Run(ctx, runner.Submission{Code: code})
		if err != nil {
			t.Fatalf("Run(%q) error = %v", code, err)
		}
		if out.Stdout != code {
			t.Errorf("Stdout = %q, want %q", out.Stdout, code)
		}
	}
}

func TestIntegration_RemoteWorkerError(t *testing.T) {
	url := setupRabbitMQ(t)
	startWorker(t, url, failingCapability{})
	remote := newRemote(t, url)

	_, err := remote.Run(context.Background(), runner.Submission{Code: "x"})
	if !errors.Is(err, domain.ErrExecution) {
		t.Fatalf("Run() error = %v, want ErrExecution", err)
	}
}

func TestIntegration_ProducerPublishResult(t *testing.T) {
	url := setupRabbitMQ(t)

	conn, err := queue.NewConnection(url)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	res := &queue.RunResult{Status: queue.StatusCompleted}
	if err := queue.NewProducer(conn).PublishResult(context.Background(), res, ""); err != nil {
		t.Fatalf("failed to publish result: %v", err)
	}

	q, err := conn.Channel().QueueInspect(queue.ResultQueueName)
	if err != nil {
		t.Fatalf("failed to inspect queue: %v", err)
	}
	if q.Messages != 1 {
		t.Errorf("expected 1 message in queue, got %d", q.Messages)
	}
}
