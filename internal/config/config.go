package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	// admin gate; empty AdminPassword leaves admin endpoints open
	AdminUsername string
	AdminPassword string
	JWTSecret     string
	AdminTokenTTL time.Duration

	// redis; empty RedisAddr disables the message cache and the shared live feed
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	ChatContextWindowSize int
	CompletionTimeout     time.Duration
	SystemPrompt          string
	FallbackReply         string

	// AI provider
	AIProvider    string
	OllamaBaseURL string
	OllamaModel   string
	// OllamaTemperature is nil when OLLAMA_TEMPERATURE is unset.
	OllamaTemperature *float64
	OllamaNumCtx      int
	OllamaKeepAlive   string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
	ArkAPIKey         string
	ArkAccessKey      string
	ArkSecretKey      string
	ArkModel          string
	ArkBaseURL        string
	ArkRegion         string

	// rabbitMQ; empty RabbitURL disables async replies
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int
}

const defaultSystemPrompt = "You are a friendly customer support assistant for a solar energy company. " +
	"Answer clearly and briefly, and use the earlier conversation to stay on topic."

const defaultFallbackReply = "I'm sorry, I'm having trouble connecting to my backend service. Please try again later."

func Load() Config {
	addr := getEnv("HTTP_ADDR", "")
	if addr == "" {
		port := getEnv("PORT", "5111")
		if strings.Contains(port, ":") {
			addr = port
		} else {
			addr = ":" + port
		}
	}

	dbDriver := strings.ToLower(getEnv("DB_DRIVER", "sqlite"))
	dsn := os.Getenv("DB_DSN")
	if dsn == "" && dbDriver == "sqlite" {
		dsn = "data/chat.db"
	}
	// mysql DSN demo:
	// app:apppass@tcp(127.0.0.1:3306)/support_chat?charset=utf8mb4&parseTime=true&loc=UTC

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	return Config{
		HTTPAddr: addr,

		DBDriver: dbDriver,
		DBDSN:    dsn,

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		JWTSecret:     secret,
		AdminTokenTTL: getDuration("ADMIN_TOKEN_TTL", 12*time.Hour),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		CacheTTL:      getDuration("CACHE_TTL", 24*time.Hour),

		ChatContextWindowSize: getInt("CHAT_CONTEXT_WINDOW_SIZE", 20),
		CompletionTimeout:     getDuration("COMPLETION_TIMEOUT", 30*time.Second),
		SystemPrompt:          getEnv("SYSTEM_PROMPT", defaultSystemPrompt),
		FallbackReply:         getEnv("FALLBACK_REPLY", defaultFallbackReply),

		AIProvider:        strings.ToLower(getEnv("AI_PROVIDER", "ollama")),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3:latest"),
		OllamaTemperature: getFloat("OLLAMA_TEMPERATURE"),
		OllamaNumCtx:      getInt("OLLAMA_NUM_CTX", 0),
		OllamaKeepAlive:   os.Getenv("OLLAMA_KEEP_ALIVE"),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),
		ArkAPIKey:         os.Getenv("ARK_API_KEY"),
		ArkAccessKey:      os.Getenv("ARK_ACCESS_KEY"),
		ArkSecretKey:      os.Getenv("ARK_SECRET_KEY"),
		ArkModel:          os.Getenv("ARK_MODEL"),
		ArkBaseURL:        getEnv("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:         getEnv("ARK_REGION", "cn-beijing"),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       getEnv("RABBIT_QUEUE", "chat_reply_jobs"),
		WorkerConcurrency: clamp(getInt("WORKER_CONCURRENCY", 2), 1, 50),
	}
}

func (c Config) AdminAuthEnabled() bool {
	return c.AdminPassword != ""
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string) *float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

// getDuration accepts Go durations ("45s") or a plain number of seconds.
func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
