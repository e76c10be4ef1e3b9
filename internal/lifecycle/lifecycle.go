package lifecycle

import (
	"context"

	"github.com/janhq/jan-core/internal/provider"
)

// Lifecycle controls which models are resident on the local inference
// backend. Remote providers need no lifecycle management; callers use Noop
// for those.
type Lifecycle interface {
	// StartModel loads the model and blocks until it is resident.
	StartModel(ctx context.Context, p *provider.Provider, modelID string) error

	// StopModel unloads the model.
	StopModel(ctx context.Context, p *provider.Provider, modelID string) error

	// StopAllModels unloads every running model.
	StopAllModels(ctx context.Context) error

	// Running returns the names of currently loaded models.
	Running(ctx context.Context) ([]string, error)
}

// Noop is a Lifecycle for providers whose models are always available
// (remote APIs).
type Noop struct{}

func (Noop) StartModel(context.Context, *provider.Provider, string) error { return nil }
func (Noop) StopModel(context.Context, *provider.Provider, string) error  { return nil }
func (Noop) StopAllModels(context.Context) error                          { return nil }
func (Noop) Running(context.Context) ([]string, error)                    { return nil, nil }
