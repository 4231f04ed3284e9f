// Package queue distributes code execution over RabbitMQ. The API server
// publishes run jobs and waits for the reply; workers execute them with a
// local or Docker runner.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/runner"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names
const (
	RunQueueName    = "pyportal.runs"
	ResultQueueName = "pyportal.results"
)

// Result statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// RunJob is a submission waiting to be executed by a worker
type RunJob struct {
	ID         uuid.UUID         `json:"id"`
	ExerciseID string            `json:"exercise_id,omitempty"`
	Submission runner.Submission `json:"submission"`
	CreatedAt  time.Time         `json:"created_at"`
}

// RunResult is the worker's reply to a RunJob
type RunResult struct {
	JobID       uuid.UUID      `json:"job_id"`
	Status      string         `json:"status"`
	Output      *runner.Output `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Duration    time.Duration  `json:"duration"`
	CompletedAt time.Time      `json:"completed_at"`
}

// ErrConnectionLost is returned by consumers once reconnecting has given up
var ErrConnectionLost = errors.New("rabbitmq connection lost")

// Connection manages the RabbitMQ connection with automatic reconnection
type Connection struct {
	url        string
	conn       *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	closed     bool
	reconnects int

	// reply queues are exclusive to a connection and redeclared on reconnect
	replyQueues []string

	// closed and replaced after every successful connect
	reconnected chan struct{}
	done        chan struct{}
	doneOnce    sync.Once
}

// NewConnection creates a new RabbitMQ connection
func NewConnection(url string) (*Connection, error) {
	c := &Connection{
		url:         url,
		reconnected: make(chan struct{}),
		done:        make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// connect establishes connection and channel
func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	c.conn, err = amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareQueues(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}
	for _, name := range c.replyQueues {
		if err := declareReplyQueue(c.channel, name); err != nil {
			c.channel.Close()
			c.conn.Close()
			return err
		}
	}

	close(c.reconnected)
	c.reconnected = make(chan struct{})

	go c.handleReconnect(c.conn)

	slog.Info("connected to RabbitMQ", "url", sanitizeURL(c.url))
	return nil
}

// declareQueues creates the shared queues
func (c *Connection) declareQueues() error {
	_, err := c.channel.QueueDeclare(
		RunQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-message-ttl": int32(60000), // stale submissions are useless
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare run queue: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		ResultQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-message-ttl": int32(60000),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare results queue: %w", err)
	}

	return nil
}

// DeclareReplyQueue declares an exclusive, auto-deleted queue for this
// process's replies and returns its name. The queue is declared again
// under the same name after a reconnect.
func (c *Connection) DeclareReplyQueue() (string, error) {
	name := "pyportal.replies." + uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := declareReplyQueue(c.channel, name); err != nil {
		return "", err
	}
	c.replyQueues = append(c.replyQueues, name)
	return name, nil
}

func declareReplyQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare reply queue: %w", err)
	}
	return nil
}

// Consume starts a consumer on the current channel. A positive prefetch
// sets the channel QoS first.
func (c *Connection) Consume(queue string, prefetch int, autoAck bool) (<-chan amqp.Delivery, error) {
	ch := c.Channel()
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}
	return ch.Consume(
		queue,
		"",      // consumer tag (auto-generated)
		autoAck, // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
}

// Reconnected returns a channel that is closed on the next successful
// reconnect. Capture it before consuming so no reconnect is missed.
func (c *Connection) Reconnected() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// Done is closed when the connection is closed or reconnecting gave up
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// handleReconnect listens for connection close and attempts to reconnect
func (c *Connection) handleReconnect(conn *amqp.Connection) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

	err := <-notifyClose
	if err == nil {
		return // normal close
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	slog.Warn("RabbitMQ connection closed, attempting to reconnect",
		"error", err,
		"reconnects", c.reconnects,
	)

	for i := 0; i < 10; i++ {
		c.reconnects++
		backoff := time.Duration(1<<i) * time.Second
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		time.Sleep(backoff)

		if err := c.connect(); err != nil {
			slog.Error("reconnection failed", "error", err, "attempt", i+1)
			continue
		}

		slog.Info("reconnected to RabbitMQ", "attempts", i+1)
		return
	}

	slog.Error("failed to reconnect to RabbitMQ after 10 attempts")
	c.markDone()
}

// Channel returns the current channel (thread-safe)
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.markDone()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes a JSON message to a queue. correlationID and
// replyTo are optional.
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any, correlationID, replyTo string) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch := c.Channel()
	return ch.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: correlationID,
			ReplyTo:       replyTo,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
}

// sanitizeURL removes credentials from an AMQP URL for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if len(raw) > 20 {
			return raw[:20] + "..."
		}
		return raw
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
