package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/support-chat/internal/app"
	"github.com/suPer8Hu/support-chat/internal/auth"
	"github.com/suPer8Hu/support-chat/internal/config"
	"github.com/suPer8Hu/support-chat/internal/httpapi"
	"github.com/suPer8Hu/support-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/support-chat/internal/logging"
	"github.com/suPer8Hu/support-chat/internal/store/rabbitmq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env loaded (%v), using process environment", err)
	}
	cfg := config.Load()
	logger := logging.Logger()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	admin, err := auth.NewAdmin(cfg.AdminUsername, cfg.AdminPassword, cfg.JWTSecret, cfg.AdminTokenTTL)
	if err != nil {
		log.Fatalf("admin gate: %v", err)
	}
	if !admin.Enabled() {
		logger.Warn("ADMIN_PASSWORD not set, admin endpoints are open")
	}

	deps := handlers.Deps{
		Chat:          a.Chat,
		Admin:         admin,
		Live:          a.Broker,
		FallbackReply: cfg.FallbackReply,
	}
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Warn("rabbitmq unavailable, async replies disabled", "err", err)
		} else {
			defer pub.Close()
			deps.Jobs = pub
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("support chat listening", "addr", cfg.HTTPAddr, "db", cfg.DBDriver)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
