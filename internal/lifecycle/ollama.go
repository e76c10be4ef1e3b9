package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/janhq/jan-core/internal/logging"
	"github.com/janhq/jan-core/internal/provider"
)

// OllamaConfig holds configuration for the Ollama-backed lifecycle.
type OllamaConfig struct {
	BaseURL     string        // Default: "http://localhost:11434"
	APIKey      string        // Optional, for remote Ollama servers with auth
	KeepAlive   time.Duration // How long loaded models stay resident (default: 30m)
	HTTPTimeout time.Duration // HTTP request timeout (default: 120s)
}

// Ollama implements Lifecycle against a local or remote Ollama server. A
// model is loaded by issuing an empty generate request with a keep-alive,
// and unloaded with a zero keep-alive.
type Ollama struct {
	client    *api.Client
	keepAlive time.Duration
}

// authTransport adds an Authorization header to HTTP requests.
type authTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())
	reqClone.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(reqClone)
}

// NewOllama creates an Ollama-backed lifecycle service.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30 * time.Minute
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 120 * time.Second
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.APIKey != "" {
		httpClient.Transport = &authTransport{base: http.DefaultTransport, apiKey: cfg.APIKey}
	}

	return &Ollama{
		client:    api.NewClient(baseURL, httpClient),
		keepAlive: cfg.KeepAlive,
	}, nil
}

// StartModel loads the model and blocks until the server reports it ready.
func (o *Ollama) StartModel(ctx context.Context, p *provider.Provider, modelID string) error {
	logging.Info("loading model", "model", modelID)

	req := &api.GenerateRequest{
		Model:     modelID,
		KeepAlive: &api.Duration{Duration: o.keepAlive},
	}
	// An empty generate request loads the model without producing output.
	err := o.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil })
	if err != nil {
		return fmt.Errorf("failed to start model %s: %w", modelID, err)
	}
	return nil
}

// StopModel unloads the model via a zero keep-alive.
func (o *Ollama) StopModel(ctx context.Context, p *provider.Provider, modelID string) error {
	logging.Info("stopping model", "model", modelID)

	req := &api.GenerateRequest{
		Model:     modelID,
		KeepAlive: &api.Duration{Duration: 0},
	}
	err := o.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil })
	if err != nil {
		return fmt.Errorf("failed to stop model %s: %w", modelID, err)
	}
	return nil
}

// StopAllModels unloads every model the server reports as running.
func (o *Ollama) StopAllModels(ctx context.Context) error {
	running, err := o.Running(ctx)
	if err != nil {
		return err
	}
	for _, name := range running {
		if err := o.StopModel(ctx, nil, name); err != nil {
			return err
		}
	}
	return nil
}

// Running lists the models currently resident on the server.
func (o *Ollama) Running(ctx context.Context) ([]string, error) {
	resp, err := o.client.ListRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list running models: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
