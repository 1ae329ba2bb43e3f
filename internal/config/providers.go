package config

import (
	"context"

	"github.com/suPer8Hu/support-chat/internal/ai"
)

// Registry returns every completion provider this config can build.
func (c Config) Registry() *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context) (ai.Provider, error) {
		return ai.NewOllamaProvider(c.OllamaBaseURL, c.OllamaModel, ai.OllamaOptions{
			Temperature: c.OllamaTemperature,
			NumCtx:      c.OllamaNumCtx,
			KeepAlive:   c.OllamaKeepAlive,
		}), nil
	})
	reg.Register("openrouter", func(ctx context.Context) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(c.OpenRouterBaseURL, c.OpenRouterAPIKey, c.OpenRouterModel,
			c.OpenRouterSiteURL, c.OpenRouterAppName), nil
	})
	reg.Register("ark", func(ctx context.Context) (ai.Provider, error) {
		p, err := ai.NewArkProvider(ctx, ai.ArkConfig{
			APIKey:    c.ArkAPIKey,
			AccessKey: c.ArkAccessKey,
			SecretKey: c.ArkSecretKey,
			Model:     c.ArkModel,
			BaseURL:   c.ArkBaseURL,
			Region:    c.ArkRegion,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	return reg
}

// NewProvider builds the provider selected by AI_PROVIDER.
func (c Config) NewProvider(ctx context.Context) (ai.Provider, error) {
	return c.Registry().Get(ctx, c.AIProvider)
}
