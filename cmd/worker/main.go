package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/support-chat/internal/app"
	"github.com/suPer8Hu/support-chat/internal/chat"
	"github.com/suPer8Hu/support-chat/internal/config"
	"github.com/suPer8Hu/support-chat/internal/logging"
	"github.com/suPer8Hu/support-chat/internal/store/rabbitmq"
)

const (
	maxRetries = 3
	retryDelay = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg := config.Load()
	if cfg.RabbitURL == "" {
		log.Fatalf("RABBIT_URL is required for the worker")
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  maxRetries,
		RetryDelay:  retryDelay,
		Retryable:   retryable,
	})
	if err != nil {
		log.Fatalf("rabbit: %v", err)
	}
	defer consumer.Close()

	err = consumer.Run(ctx, func(ctx context.Context, jobID string) error {
		start := time.Now()
		err := a.Chat.ProcessJob(ctx, jobID)
		if total := time.Since(start); total > 2*time.Second {
			logging.Logger().Info("job_timing", "job_id", jobID, "total", total, "ok", err == nil)
		}
		return err
	})
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
}

// retryable reports whether another attempt may succeed. Missing jobs or sessions never will.
func retryable(err error) bool {
	return errors.Is(err, chat.ErrUpstream) || errors.Is(err, chat.ErrStorage)
}
