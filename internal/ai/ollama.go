package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaOptions tunes generation on a local Ollama server. Zero values leave the
// server's model defaults in place.
type OllamaOptions struct {
	Temperature *float64
	// NumCtx is the context length in tokens.
	NumCtx int
	// KeepAlive is how long the model stays loaded after a request, e.g. "5m".
	KeepAlive string
}

type OllamaProvider struct {
	BaseURL string
	Model   string
	Options OllamaOptions
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string, opts OllamaOptions) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Options: opts,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaModelOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
}

type ollamaChatReq struct {
	Model     string              `json:"model"`
	Messages  []ollamaTurn        `json:"messages"`
	Stream    bool                `json:"stream"`
	Options   *ollamaModelOptions `json:"options,omitempty"`
	KeepAlive string              `json:"keep_alive,omitempty"`
}

type ollamaChatResp struct {
	Message    ollamaTurn `json:"message"`
	Done       bool       `json:"done"`
	DoneReason string     `json:"done_reason,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func (p *OllamaProvider) request(messages []Message) ollamaChatReq {
	turns := make([]ollamaTurn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, ollamaTurn{Role: m.Role, Content: m.Content})
	}
	req := ollamaChatReq{
		Model:     p.Model,
		Messages:  turns,
		KeepAlive: strings.TrimSpace(p.Options.KeepAlive),
	}
	if p.Options.Temperature != nil || p.Options.NumCtx > 0 {
		req.Options = &ollamaModelOptions{Temperature: p.Options.Temperature, NumCtx: p.Options.NumCtx}
	}
	return req
}

// Chat does not report confidence: the Ollama chat API exposes no token probabilities.
func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (Completion, error) {
	if p.Client == nil {
		return Completion{}, errors.New("ollama: http client is nil")
	}

	b, err := json.Marshal(p.request(messages))
	if err != nil {
		return Completion{}, err
	}

	url := strings.TrimRight(p.BaseURL, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Completion{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Completion{}, fmt.Errorf("ollama: read response: %w", err)
	}

	var decoded ollamaChatResp
	decodeErr := json.Unmarshal(body, &decoded)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// model-not-found and friends come back as {"error": "..."}
		if decodeErr == nil && decoded.Error != "" {
			return Completion{}, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, decoded.Error)
		}
		return Completion{}, fmt.Errorf("ollama: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return Completion{}, fmt.Errorf("ollama: malformed response: %w", decodeErr)
	}
	if decoded.Error != "" {
		return Completion{}, fmt.Errorf("ollama: %s", decoded.Error)
	}
	if decoded.DoneReason == "load" {
		return Completion{}, errors.New("ollama: model loaded without generating a reply")
	}
	return Completion{Text: decoded.Message.Content}, nil
}
