package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/valpere/tabletran/internal/unit"
)

const defaultOpenAIBaseURL = "https://openrouter.ai/api/v1"

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint:
// a local vLLM server, OpenRouter or OpenAI itself.
type OpenAIProvider struct {
	name    string
	baseURL string
	model   string
	client  *resty.Client
}

func NewOpenAIProvider(name string, cfg ProviderConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if name == "" {
		name = "openai"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   cfg.Model,
		client:  resty.New().SetTimeout(timeout),
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Call(ctx context.Context, token string, req Request) (*unit.Unit, error) {
	system, user, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature":     0.2,
		"response_format": map[string]string{"type": "json_object"},
	}

	var resp chatCompletion
	r := p.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Title", "tabletran").
		SetBody(body).
		SetResult(&resp)
	if token != "" {
		r.SetAuthToken(token)
	}

	rr, err := r.Post(p.baseURL + "/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	if rr.IsError() {
		return nil, &StatusError{Provider: p.name, Code: rr.StatusCode(), Body: rr.String()}
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s returned no choices", ErrValidation, p.name)
	}
	return parseReply(req, resp.Choices[0].Message.Content)
}
