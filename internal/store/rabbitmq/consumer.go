package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/support-chat/internal/logging"
)

// HandleFunc processes one reply job.
type HandleFunc func(ctx context.Context, jobID string) error

type ConsumerOptions struct {
	Concurrency int
	// MaxRetries is how often a failed job goes through the retry queue before the DLQ.
	MaxRetries int
	RetryDelay time.Duration
	// Retryable decides whether a failed job is worth another attempt. nil retries every failure.
	Retryable func(error) bool
}

// retrier schedules another attempt of a failed job. *Publisher implements it.
type retrier interface {
	publish(ctx context.Context, queue, jobID string, retries int, expiration string) error
}

type Consumer struct {
	pub   *Publisher
	retry retrier
	queue string
	opts  ConsumerOptions
}

func NewConsumer(url, queue string, opts ConsumerOptions) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	pub, err := NewPublisher(url, queue)
	if err != nil {
		return nil, err
	}
	return &Consumer{pub: pub, retry: pub, queue: queue, opts: opts}, nil
}

func (c *Consumer) Close() error {
	return c.pub.Close()
}

var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// Run consumes the main queue with a fixed worker pool until ctx is done.
// In-flight jobs finish before Run returns.
func (c *Consumer) Run(ctx context.Context, handle HandleFunc) error {
	ch, err := c.pub.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	// strict concurrency control
	if err := ch.Qos(c.opts.Concurrency, 0, false); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	log := logging.Logger().With("queue", c.queue)
	log.Info("worker started", "concurrency", c.opts.Concurrency)

	// in-flight jobs run to completion after shutdown starts
	jobCtx := context.WithoutCancel(ctx)

	// worker pool
	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.deliver(jobCtx, workerID, d, handle)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return nil
		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return ErrDeliveriesClosed
			}
			jobs <- d
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, workerID int, d amqp.Delivery, handle HandleFunc) {
	log := logging.Logger().With("worker", workerID)

	var m JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		log.Error("bad job message", "err", err)
		_ = d.Nack(false, false)
		return
	}
	log = log.With("job_id", m.JobID)

	start := time.Now()
	err := handle(ctx, m.JobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", "err", err)
		}
		return
	}

	attempt := retryCount(d.Headers)
	log.Error("job failed", "cost", time.Since(start), "attempt", attempt, "err", err)
	if attempt < c.opts.MaxRetries && (c.opts.Retryable == nil || c.opts.Retryable(err)) {
		delay := strconv.FormatInt(c.opts.RetryDelay.Milliseconds(), 10)
		pubErr := c.retry.publish(ctx, retryQueue(c.queue), m.JobID, attempt+1, delay)
		if pubErr == nil {
			_ = d.Ack(false)
			return
		}
		log.Error("schedule retry failed", "err", pubErr)
	}
	_ = d.Nack(false, false)
}
