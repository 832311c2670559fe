package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/valpere/tabletran/internal/unit"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3.2"
)

// OllamaProvider calls a local Ollama server in JSON mode. Ollama has no
// credentials; the pool token is only used for rate accounting.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *resty.Client
}

func NewOllamaProvider(cfg ProviderConfig) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  resty.New().SetTimeout(timeout),
	}
}

func (s *OllamaProvider) Name() string {
	return "ollama"
}

func (s *OllamaProvider) Call(ctx context.Context, _ string, req Request) (*unit.Unit, error) {
	system, user, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"stream":  false,
		"format":  "json",
		"options": map[string]any{"temperature": 0.2},
	}

	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	rr, err := s.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&resp).
		Post(s.baseURL + "/api/chat")
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if rr.IsError() {
		return nil, &StatusError{Provider: s.Name(), Code: rr.StatusCode(), Body: rr.String()}
	}
	return parseReply(req, resp.Message.Content)
}
