package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

type generator interface {
	Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ArkProvider talks to a Volcengine Ark chat model through eino.
type ArkProvider struct {
	model generator
}

func NewArkProvider(ctx context.Context, cfg ArkConfig) (*ArkProvider, error) {
	if !cfg.Enabled() {
		return nil, errors.New("ark: model and api key (or access key + secret key) are required")
	}
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   cfg.BaseURL,
		Region:    cfg.Region,
		APIKey:    cfg.APIKey,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Model:     cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("ark: create chat model: %w", err)
	}
	return &ArkProvider{model: cm}, nil
}

func (p *ArkProvider) Chat(ctx context.Context, messages []Message) (Completion, error) {
	in := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			in = append(in, schema.SystemMessage(m.Content))
		case RoleAssistant:
			in = append(in, schema.AssistantMessage(m.Content, nil))
		default:
			in = append(in, schema.UserMessage(m.Content))
		}
	}

	out, err := p.model.Generate(ctx, in)
	if err != nil {
		return Completion{}, fmt.Errorf("ark: %w", err)
	}
	if out == nil {
		return Completion{}, errors.New("ark: empty response")
	}

	c := Completion{Text: out.Content}
	if out.ResponseMeta != nil && out.ResponseMeta.LogProbs != nil {
		lps := make([]float64, 0, len(out.ResponseMeta.LogProbs.Content))
		for _, lp := range out.ResponseMeta.LogProbs.Content {
			lps = append(lps, lp.LogProb)
		}
		c.Confidence = ConfidenceFromLogprobs(lps)
	}
	return c, nil
}
