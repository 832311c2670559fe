package translator

import (
	"context"
	"time"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/language"
	"github.com/valpere/tabletran/internal/unit"
)

// ProviderConfig configures one protocol adapter.
type ProviderConfig struct {
	Provider  string        `mapstructure:"provider" json:"provider"`
	Model     string        `mapstructure:"model" json:"model"`
	BaseURL   string        `mapstructure:"base_url" json:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout" json:"timeout"`
	ProjectID string        `mapstructure:"project_id" json:"project_id"`
}

// Request asks a backend to produce the stage output for one unit.
type Request struct {
	Stage checkpoint.Stage
	// Unit is the stage input: the original for Initial, the stage 1 output
	// for Refined and the refined unit for BackTranslated.
	Unit *unit.Unit
	// Original is the source-language unit, given to refinement as reference.
	Original *unit.Unit
	Source   language.Target
	Target   language.Target
	// HasFallback tells the call loop a second backend will get the unit if
	// this one gives up.
	HasFallback bool
}

// Provider is one protocol adapter: it sends a single request with the given
// credential and parses the reply into a unit. Providers do not retry.
type Provider interface {
	Name() string
	Call(ctx context.Context, token string, req Request) (*unit.Unit, error)
}

// Backend is what a stage runner dispatches to. Translate runs the full
// retry and rotation loop for one request. TranslateBatch reports every
// request exactly once through onResult, which may be called from several
// goroutines at once.
type Backend interface {
	Name() string
	Translate(ctx context.Context, req Request) (*unit.Unit, error)
	TranslateBatch(ctx context.Context, reqs []Request, onResult func(i int, out *unit.Unit, err error))
}
