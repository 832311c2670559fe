package translator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/valpere/tabletran/internal/unit"
)

// googleServer answers Cloud Translation v2 requests with translate applied to
// every input text.
func googleServer(t *testing.T, translate func(string) string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Q      []string `json:"q"`
			Target string   `json:"target"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Target != "es" {
			t.Errorf("target = %q, want es", body.Target)
		}
		type translation struct {
			TranslatedText string `json:"translatedText"`
		}
		out := make([]translation, len(body.Q))
		for i, q := range body.Q {
			out[i] = translation{TranslatedText: translate(q)}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"translations": out}})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGoogleProvider_MasksMarkup(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	server := googleServer(t, func(q string) string {
		mu.Lock()
		sent = append(sent, q)
		mu.Unlock()
		return strings.ReplaceAll(q, "Total", "Totalidad")
	})
	p := NewGoogleProvider(ProviderConfig{BaseURL: server.URL + "/"})
	defer p.Close()

	req := testRequest()
	req.Unit = unit.NewTable("T1", []string{"<b>Total</b>", "Year"}, [][]string{{"Total", "2020"}})

	out, err := p.Call(context.Background(), "k1", req)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if out.Columns[0] != "<b>Totalidad</b>" {
		t.Errorf("column = %q, want markup restored", out.Columns[0])
	}
	if out.Rows[0][1] != "2020" {
		t.Errorf("numeric cell = %q, want untouched", out.Rows[0][1])
	}
	mu.Lock()
	defer mu.Unlock()
	for _, q := range sent {
		if strings.Contains(q, "<b>") {
			t.Errorf("markup sent to the service: %q", q)
		}
		if q == "2020" {
			t.Error("numeric cell sent to the service")
		}
	}
}

func TestGoogleProvider_LostMarkerIsValidation(t *testing.T) {
	server := googleServer(t, func(q string) string {
		return strings.ReplaceAll(q, "[PH0]", "")
	})
	p := NewGoogleProvider(ProviderConfig{BaseURL: server.URL + "/"})
	defer p.Close()

	req := testRequest()
	req.Unit = unit.NewTable("T1", []string{"see https://example.org"}, [][]string{{"Spain"}})

	_, err := p.Call(context.Background(), "k1", req)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Call() error = %v, want ErrValidation", err)
	}
}
