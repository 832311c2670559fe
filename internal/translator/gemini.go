package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/valpere/tabletran/internal/unit"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"
)

// GeminiProvider calls generateContent with a JSON response mime type. It is
// the accuracy-oriented backend used for refinement under strict quotas.
type GeminiProvider struct {
	baseURL string
	model   string
	client  *resty.Client
}

func NewGeminiProvider(cfg ProviderConfig) *GeminiProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &GeminiProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  resty.New().SetTimeout(timeout),
	}
}

func (g *GeminiProvider) Name() string {
	return "gemini"
}

func (g *GeminiProvider) Call(ctx context.Context, token string, req Request) (*unit.Unit, error) {
	system, user, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"system_instruction": map[string]any{
			"parts": []map[string]string{{"text": system}},
		},
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": user}}},
		},
		"generationConfig": map[string]any{
			"temperature":      0.2,
			"responseMimeType": "application/json",
		},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	rr, err := g.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", token).
		SetBody(body).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	raw := rr.Body()
	if rr.IsError() {
		msg := gjson.GetBytes(raw, "error.message").String()
		if status := gjson.GetBytes(raw, "error.status").String(); status != "" {
			msg = status + ": " + msg
		}
		if msg == "" {
			msg = rr.String()
		}
		return nil, &StatusError{Provider: g.Name(), Code: rr.StatusCode(), Body: msg}
	}

	if reason := gjson.GetBytes(raw, "promptFeedback.blockReason").String(); reason != "" {
		return nil, fmt.Errorf("%w: gemini blocked the prompt: %s", ErrValidation, reason)
	}
	text := gjson.GetBytes(raw, "candidates.0.content.parts.0.text")
	if !text.Exists() {
		return nil, fmt.Errorf("%w: empty gemini response", ErrTransient)
	}
	return parseReply(req, text.String())
}
