package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ackRecorder is an amqp.Acknowledger that remembers the outcome of a delivery.
type ackRecorder struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

type published struct {
	queue      string
	jobID      string
	retries    int
	expiration string
}

type retryRecorder struct {
	sent []published
	err  error
}

func (r *retryRecorder) publish(_ context.Context, queue, jobID string, retries int, expiration string) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, published{queue, jobID, retries, expiration})
	return nil
}

func newTestConsumer(rec *retryRecorder, opts ConsumerOptions) *Consumer {
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Consumer{retry: rec, queue: "chat_reply_jobs", opts: opts}
}

func delivery(t *testing.T, ack *ackRecorder, jobID string, attempt int) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}
	if attempt > 0 {
		d.Headers = amqp.Table{retryCountHeader: int32(attempt)}
	}
	return d
}

var errBoom = errors.New("boom")

func TestDeliver_SuccessAcks(t *testing.T) {
	ack, rec := &ackRecorder{}, &retryRecorder{}
	c := newTestConsumer(rec, ConsumerOptions{MaxRetries: 3})

	var got string
	c.deliver(context.Background(), 0, delivery(t, ack, "job-1", 0), func(_ context.Context, id string) error {
		got = id
		return nil
	})

	if got != "job-1" {
		t.Fatalf("handled job=%q", got)
	}
	if ack.acked != 1 || ack.nacked != 0 || len(rec.sent) != 0 {
		t.Fatalf("acked=%d nacked=%d retries=%d", ack.acked, ack.nacked, len(rec.sent))
	}
}

func TestDeliver_FailureGoesToRetryQueue(t *testing.T) {
	ack, rec := &ackRecorder{}, &retryRecorder{}
	c := newTestConsumer(rec, ConsumerOptions{MaxRetries: 3, RetryDelay: 2 * time.Second})

	c.deliver(context.Background(), 0, delivery(t, ack, "job-1", 1), func(context.Context, string) error {
		return errBoom
	})

	if ack.acked != 1 || ack.nacked != 0 {
		t.Fatalf("original delivery must be acked once the retry is queued: acked=%d nacked=%d", ack.acked, ack.nacked)
	}
	want := published{queue: "chat_reply_jobs.retry", jobID: "job-1", retries: 2, expiration: "2000"}
	if len(rec.sent) != 1 || rec.sent[0] != want {
		t.Fatalf("retry=%+v want %+v", rec.sent, want)
	}
}

func TestDeliver_RetriesExhaustedGoesToDLQ(t *testing.T) {
	ack, rec := &ackRecorder{}, &retryRecorder{}
	c := newTestConsumer(rec, ConsumerOptions{MaxRetries: 3})

	c.deliver(context.Background(), 0, delivery(t, ack, "job-1", 3), func(context.Context, string) error {
		return errBoom
	})

	if ack.nacked != 1 || ack.requeue || ack.acked != 0 {
		t.Fatalf("expected nack without requeue: acked=%d nacked=%d requeue=%v", ack.acked, ack.nacked, ack.requeue)
	}
	if len(rec.sent) != 0 {
		t.Fatalf("no retry expected, got %+v", rec.sent)
	}
}

func TestDeliver_NonRetryableErrorGoesToDLQ(t *testing.T) {
	ack, rec := &ackRecorder{}, &retryRecorder{}
	errFatal := errors.New("job not found")
	c := newTestConsumer(rec, ConsumerOptions{
		MaxRetries: 3,
		Retryable:  func(err error) bool { return !errors.Is(err, errFatal) },
	})

	c.deliver(context.Background(), 0, delivery(t, ack, "job-1", 0), func(context.Context, string) error {
		return errFatal
	})

	if ack.nacked != 1 || ack.requeue || len(rec.sent) != 0 {
		t.Fatalf("nacked=%d requeue=%v retries=%d", ack.nacked, ack.requeue, len(rec.sent))
	}
}

func TestDeliver_RetryPublishFailureGoesToDLQ(t *testing.T) {
	ack, rec := &ackRecorder{}, &retryRecorder{err: errors.New("channel closed")}
	c := newTestConsumer(rec, ConsumerOptions{MaxRetries: 3})

	c.deliver(context.Background(), 0, delivery(t, ack, "job-1", 0), func(context.Context, string) error {
		return errBoom
	})

	if ack.acked != 0 || ack.nacked != 1 || ack.requeue {
		t.Fatalf("acked=%d nacked=%d requeue=%v", ack.acked, ack.nacked, ack.requeue)
	}
}

func TestDeliver_MalformedBodyIsRejected(t *testing.T) {
	for name, body := range map[string][]byte{
		"not json":     []byte("{"),
		"missing id":   []byte(`{"job_id":""}`),
		"wrong fields": []byte(`{"id":"job-1"}`),
	} {
		t.Run(name, func(t *testing.T) {
			ack, rec := &ackRecorder{}, &retryRecorder{}
			c := newTestConsumer(rec, ConsumerOptions{MaxRetries: 3})

			called := false
			d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}
			c.deliver(context.Background(), 0, d, func(context.Context, string) error {
				called = true
				return nil
			})

			if called {
				t.Fatalf("handler must not run for a malformed body")
			}
			if ack.nacked != 1 || ack.requeue || len(rec.sent) != 0 {
				t.Fatalf("nacked=%d requeue=%v retries=%d", ack.nacked, ack.requeue, len(rec.sent))
			}
		})
	}
}
