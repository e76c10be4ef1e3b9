package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/janhq/jan-core/internal/lifecycle"
	"github.com/janhq/jan-core/internal/logging"
	"github.com/janhq/jan-core/internal/provider"
)

// RecoveryChoice is the user's answer to a context-overflow prompt.
type RecoveryChoice int

const (
	// RecoveryDecline rejects both options; the original error stands.
	RecoveryDecline RecoveryChoice = iota
	// RecoveryIncreaseContext doubles the model's context window.
	RecoveryIncreaseContext
	// RecoveryContextShift enables the provider's context-shifting mode.
	RecoveryContextShift
)

// RecoveryPrompter asks the user which recovery to apply for a
// context-overflow failure.
type RecoveryPrompter func(ctx context.Context, cause error) (RecoveryChoice, error)

// Recovery applies the two context-overflow recovery policies. Both mutate
// provider configuration, persist it, and restart the model before the turn
// is retried.
type Recovery struct {
	providers   *provider.Store
	lifecycle   lifecycle.Lifecycle
	settleDelay time.Duration
}

// NewRecovery creates the recovery service. settleDelay is the pause after
// stopping and after starting the model during a restart; zero selects the
// one-second default.
func NewRecovery(providers *provider.Store, lc lifecycle.Lifecycle, settleDelay time.Duration) *Recovery {
	if settleDelay == 0 {
		settleDelay = time.Second
	}
	return &Recovery{providers: providers, lifecycle: lc, settleDelay: settleDelay}
}

// IncreaseContextLength doubles the model's configured context window
// (floored at the default), persists it, restarts the model, and returns
// the refreshed provider for the retry.
func (r *Recovery) IncreaseContextLength(ctx context.Context, providerName, modelID string) (*provider.Provider, error) {
	p, ok := r.providers.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
	model, ok := p.Model(modelID)
	if !ok {
		return nil, fmt.Errorf("unknown model %s for provider %s", modelID, providerName)
	}

	current := model.ContextLength()
	if current < provider.DefaultContextLength {
		current = provider.DefaultContextLength
	}
	next := current * 2

	setting := provider.NumberSetting(provider.KeyContextLength, float64(next))
	if err := r.providers.UpdateModelSettings(providerName, modelID, []provider.Setting{setting}); err != nil {
		return nil, err
	}
	logging.Info("context length increased", "model", modelID, "ctx_len", next)

	refreshed, _ := r.providers.Get(providerName)
	if err := r.restartModel(ctx, refreshed, modelID); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// EnableContextShift forces the provider's context-shift setting on,
// persists it, restarts the model, and returns the refreshed provider.
func (r *Recovery) EnableContextShift(ctx context.Context, providerName, modelID string) (*provider.Provider, error) {
	if _, ok := r.providers.Get(providerName); !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}

	setting := provider.BoolSetting(provider.KeyContextShift, true)
	if err := r.providers.UpdateSettings(providerName, []provider.Setting{setting}); err != nil {
		return nil, err
	}
	logging.Info("context shifting enabled", "provider", providerName)

	refreshed, _ := r.providers.Get(providerName)
	if err := r.restartModel(ctx, refreshed, modelID); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// restartModel stops every running model, waits for the backend to settle,
// loads the target fresh, then waits again before the retry goes out.
func (r *Recovery) restartModel(ctx context.Context, p *provider.Provider, modelID string) error {
	if err := r.lifecycle.StopAllModels(ctx); err != nil {
		return fmt.Errorf("failed to stop running models: %w", err)
	}
	if err := sleepCtx(ctx, r.settleDelay); err != nil {
		return err
	}
	if err := r.lifecycle.StartModel(ctx, p, modelID); err != nil {
		return fmt.Errorf("failed to restart model %s: %w", modelID, err)
	}
	return sleepCtx(ctx, r.settleDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
