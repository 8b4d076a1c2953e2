// Package config loads the process-wide gateway configuration. The config is
// built once in main and treated as read-only for the life of the process.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"raggate-api/internal/shared"
)

// Policy decides what happens when the knowledge store is unreachable.
type Policy string

const (
	// PolicyDegrade continues to dispatch with zero injected context.
	PolicyDegrade Policy = "degrade"
	// PolicyAbort fails the request with 503 RetrievalUnavailable.
	PolicyAbort Policy = "abort"
)

// Provider describes one backend model provider.
type Provider struct {
	// Kind selects the adapter implementation: "groq" or "ollama".
	Kind    string `json:"kind"`
	BaseURL string `json:"base_url"`
	// APIKey may reference an environment variable, e.g. "${GROQ_API_KEY}".
	APIKey string `json:"api_key,omitempty"`
	// Models maps gateway model ids to the upstream model name. An empty
	// value forwards the gateway id unchanged.
	Models map[string]string `json:"models"`
	// MaxConns bounds concurrent connections to this backend.
	MaxConns int `json:"max_conns,omitempty"`
}

// Retrieval holds the knowledge-store knobs.
type Retrieval struct {
	StoreURL      string  `json:"store_url"`
	EmbedURL      string  `json:"embed_url"`
	EmbedModel    string  `json:"embed_model"`
	TopK          int     `json:"top_k,omitempty"`
	MinScore      float64 `json:"min_score,omitempty"`
	ContextBudget int     `json:"context_budget,omitempty"`
	Policy        Policy  `json:"policy,omitempty"`
}

// Config is the full gateway configuration.
type Config struct {
	Providers map[string]*Provider `json:"providers"`
	// Routing maps a client-facing model id to a provider name.
	Routing   map[string]string `json:"routing"`
	Retrieval Retrieval         `json:"retrieval"`
}

// Load reads and validates a JSON config file, expanding ${VAR} references
// in credentials so keys never live in the file itself.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = shared.DefaultTopK
	}
	if c.Retrieval.ContextBudget == 0 {
		c.Retrieval.ContextBudget = shared.DefaultContextBudget
	}
	if c.Retrieval.Policy == "" {
		c.Retrieval.Policy = PolicyDegrade
	}
	for _, p := range c.Providers {
		p.APIKey = os.ExpandEnv(p.APIKey)
		if p.MaxConns == 0 {
			p.MaxConns = shared.DefaultMaxConnsPerHost
		}
	}
}

// Validate checks internal consistency before the server starts taking
// traffic. A routing entry pointing at an unconfigured provider is a
// deployment mistake we want to fail fast on.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: no providers defined")
	}
	for name, p := range c.Providers {
		if p.Kind != "groq" && p.Kind != "ollama" {
			return fmt.Errorf("config: provider %s has unknown kind %q", name, p.Kind)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("config: provider %s missing base_url", name)
		}
	}
	for model, provider := range c.Routing {
		if _, ok := c.Providers[provider]; !ok {
			return fmt.Errorf("config: model %s routed to unknown provider %s", model, provider)
		}
	}
	if c.Retrieval.Policy != PolicyDegrade && c.Retrieval.Policy != PolicyAbort {
		return fmt.Errorf("config: retrieval policy must be %q or %q, got %q", PolicyDegrade, PolicyAbort, c.Retrieval.Policy)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("config: min_score must be in [0,1], got %f", c.Retrieval.MinScore)
	}
	return nil
}

// UpstreamModel resolves a gateway model id to the name the provider expects.
func (p *Provider) UpstreamModel(model string) string {
	if mapped, ok := p.Models[model]; ok && mapped != "" {
		return mapped
	}
	return model
}
