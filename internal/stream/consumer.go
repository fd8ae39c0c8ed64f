package stream

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"mailbridge/core/domain"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/logger"
)

const (
	maxAttempts = 3
	baseBackoff = 5 * time.Second

	rateWindow = time.Minute
)

// perWindow caps deliveries per queue per rate window.
var perWindow = map[string]int{
	domain.QueueInitialSync:     10,
	domain.QueueIncrementalSync: 20,
}

// Handler processes one job. A nil return acknowledges the job; an error
// sends it back through the retry policy.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) error
}

// Consumer drains the sync and upload queues with at-least-once delivery,
// bounded retries and per-queue rate limits.
type Consumer struct {
	stream   *RedisStream
	producer *Producer
	handler  Handler
	name     string
}

func NewConsumer(stream *RedisStream, producer *Producer, handler Handler, name string) *Consumer {
	return &Consumer{stream: stream, producer: producer, handler: handler, name: name}
}

// Start creates the consumer groups and spawns one drain loop per queue.
func (c *Consumer) Start(ctx context.Context) {
	queues := []string{domain.QueueInitialSync, domain.QueueIncrementalSync, domain.QueueAttachmentUpload}
	for _, q := range queues {
		if err := c.stream.CreateGroup(ctx, q); err != nil {
			logger.WithError(err).Error("failed to create consumer group for %s", q)
		}
	}
	for _, q := range queues {
		go c.consume(ctx, q)
	}
}

func (c *Consumer) consume(ctx context.Context, queue string) {
	limiter := newWindowLimiter(perWindow[queue], rateWindow)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.stream.Read(ctx, queue, c.name, 10, 5*time.Second)
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				logger.WithError(err).Error("queue read failed on %s", queue)
				time.Sleep(time.Second)
			}
			continue
		}

		for _, msg := range msgs {
			if err := limiter.wait(ctx); err != nil {
				return
			}
			c.process(ctx, queue, msg)
		}
	}
}

func (c *Consumer) process(ctx context.Context, queue string, msg redis.XMessage) {
	// The entry is acked regardless of outcome; retries travel as fresh
	// entries so a crashed worker redelivers via the pending list only.
	defer func() {
		if err := c.stream.Ack(ctx, queue, msg.ID); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("ack failed for %s on %s", msg.ID, queue)
		}
	}()

	data, ok := msg.Values["data"].(string)
	if !ok {
		logger.Error("malformed queue entry %s on %s", msg.ID, queue)
		return
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		logger.WithError(err).Error("undecodable job %s on %s", msg.ID, queue)
		return
	}
	job.Queue = queue

	// Honor scheduled backoff. The delays are short enough to wait out
	// in place.
	if wait := time.Until(job.BackoffUntil); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			// Push the job back so it is not lost with the ack.
			_ = c.producer.republish(context.Background(), &job)
			return
		}
	}

	job.State = domain.JobRunning
	err := c.handler.Handle(ctx, &job)
	if err == nil {
		return
	}

	job.AttemptCount++
	if !apperr.IsRetryable(err) || job.AttemptCount >= maxAttempts {
		logger.WithError(err).Error("job %s dead after %d attempts", job.ID, job.AttemptCount)
		if dlErr := c.producer.deadLetter(ctx, &job); dlErr != nil {
			logger.WithError(dlErr).Error("dead letter publish failed for %s", job.ID)
		}
		return
	}

	job.State = domain.JobFailed
	job.BackoffUntil = time.Now().Add(nextBackoff(job.AttemptCount))
	logger.WithError(err).Warn("job %s failed, retry %d/%d after %s",
		job.ID, job.AttemptCount, maxAttempts, time.Until(job.BackoffUntil).Round(time.Second))
	if pubErr := c.producer.republish(ctx, &job); pubErr != nil {
		logger.WithError(pubErr).Error("retry publish failed for %s", job.ID)
	}
}

// nextBackoff doubles per attempt starting at the base delay: 5s, 10s, 20s.
func nextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return baseBackoff << (attempt - 1)
}

// windowLimiter caps events per fixed window. A zero limit means no cap.
type windowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	start  time.Time
	count  int
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{limit: limit, window: window, start: time.Now()}
}

// wait blocks until the caller may proceed under the rate limit.
func (l *windowLimiter) wait(ctx context.Context) error {
	if l.limit <= 0 {
		return nil
	}
	for {
		l.mu.Lock()
		now := time.Now()
		if now.Sub(l.start) >= l.window {
			l.start = now
			l.count = 0
		}
		if l.count < l.limit {
			l.count++
			l.mu.Unlock()
			return nil
		}
		sleep := l.window - now.Sub(l.start)
		l.mu.Unlock()

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
