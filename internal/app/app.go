package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/support-chat/internal/chat"
	"github.com/suPer8Hu/support-chat/internal/config"
	"github.com/suPer8Hu/support-chat/internal/db"
	"github.com/suPer8Hu/support-chat/internal/logging"
	"github.com/suPer8Hu/support-chat/internal/store/redisstore"
	"gorm.io/gorm"
)

// App holds the wiring shared by the API server and the reply worker.
type App struct {
	Cfg    config.Config
	DB     *gorm.DB
	Redis  *redis.Client // nil without REDIS_ADDR
	Broker chat.Broker
	Chat   *chat.Service

	closers []func() error
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logging.Logger()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, DB: gdb}
	if sqlDB, err := gdb.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	var cache chat.MessageCache
	a.Broker = chat.NewMemoryBroker()
	if cfg.RedisAddr != "" {
		rdb, err := redisstore.NewClient(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn("redis unavailable, continuing without cache and shared live feed",
				"addr", cfg.RedisAddr, "err", err)
		} else {
			a.Redis = rdb
			a.closers = append(a.closers, rdb.Close)
			cache = redisstore.NewMessageCache(rdb, cfg.CacheTTL)
			a.Broker = redisstore.NewBroker(rdb)
			log.Info("redis connected", "addr", cfg.RedisAddr)
		}
	}

	provider, err := cfg.NewProvider(ctx)
	if err != nil {
		// Chats still record; replies fail over to the fallback text.
		log.Warn("completion provider unavailable", "provider", cfg.AIProvider, "err", err)
	} else {
		log.Info("completion provider ready", "provider", cfg.AIProvider)
	}

	a.Chat = chat.NewService(chat.Deps{
		Sessions: chat.NewSessionStore(gdb),
		Messages: chat.NewMessageLog(gdb, cache),
		Provider: provider,
		Jobs:     chat.NewJobStore(gdb),
		Broker:   a.Broker,
	}, chat.Config{
		ContextWindowSize: cfg.ChatContextWindowSize,
		CompletionTimeout: cfg.CompletionTimeout,
		SystemPrompt:      cfg.SystemPrompt,
	})
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
