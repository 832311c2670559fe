package translator

import (
	"context"
	"fmt"
	"html"
	"sync"

	translate "cloud.google.com/go/translate"
	"google.golang.org/api/option"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/placeholder"
	"github.com/valpere/tabletran/internal/unit"
)

// googleBatchSize stays under the Cloud Translation per-request text limit.
const googleBatchSize = 100

// GoogleProvider translates cell by cell with Cloud Translation v2. Every
// non-numeric cell goes out in one batched call and the answers are written
// back in place, so the shape is preserved by construction. Markup, math and
// URLs inside a cell are masked for the call.
type GoogleProvider struct {
	endpoint string

	mu      sync.Mutex
	clients map[string]*translate.Client
}

func NewGoogleProvider(cfg ProviderConfig) *GoogleProvider {
	return &GoogleProvider{endpoint: cfg.BaseURL, clients: make(map[string]*translate.Client)}
}

func (s *GoogleProvider) Name() string {
	return "google"
}

func (s *GoogleProvider) client(ctx context.Context, token string) (*translate.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[token]; ok {
		return c, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(token)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	c, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	s.clients[token] = c
	return c, nil
}

func (s *GoogleProvider) Call(ctx context.Context, token string, req Request) (*unit.Unit, error) {
	// Machine translation has no notion of refining a draft; it retranslates
	// the original instead.
	in := req.Unit
	if req.Stage == checkpoint.Refined && req.Original != nil {
		in = req.Original
	}

	targetTag, err := req.Target.Tag()
	if err != nil {
		return nil, fmt.Errorf("invalid target language: %w", err)
	}
	sourceTag, err := req.Source.Tag()
	if err != nil {
		return nil, fmt.Errorf("invalid source language: %w", err)
	}

	out := in.Clone()
	out.ID = req.Unit.ID
	cells := translatableCells(out)
	if len(cells) == 0 {
		return out, nil
	}

	client, err := s.client(ctx, token)
	if err != nil {
		return nil, err
	}

	opts := &translate.Options{Source: sourceTag, Format: translate.Text}
	for start := 0; start < len(cells); start += googleBatchSize {
		end := min(start+googleBatchSize, len(cells))
		texts := make([]string, 0, end-start)
		masks := make([]*placeholder.Mask, 0, end-start)
		for _, c := range cells[start:end] {
			text, m := placeholder.Protect(*c)
			texts = append(texts, text)
			masks = append(masks, m)
		}

		translations, err := client.Translate(ctx, texts, targetTag, opts)
		if err != nil {
			return nil, fmt.Errorf("translation failed: %w", err)
		}
		if len(translations) != len(texts) {
			return nil, fmt.Errorf("%w: google returned %d translations for %d cells", ErrValidation, len(translations), len(texts))
		}
		for i, tr := range translations {
			text, err := masks[i].Restore(html.UnescapeString(tr.Text))
			if err != nil {
				return nil, fmt.Errorf("%w: cell %d: %v", ErrValidation, start+i, err)
			}
			*cells[start+i] = text
		}
	}
	return out, nil
}

// translatableCells returns the cells of u that carry text.
func translatableCells(u *unit.Unit) []*string {
	var cells []*string
	for _, c := range u.Cells() {
		if !unit.IsNumeric(*c) {
			cells = append(cells, c)
		}
	}
	return cells
}

// Close releases every cached client.
func (s *GoogleProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for token, c := range s.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.clients, token)
	}
	return firstErr
}
