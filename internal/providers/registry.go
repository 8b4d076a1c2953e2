package providers

import (
	"fmt"
	"sort"

	"raggate-api/internal/config"
	"raggate-api/internal/shared"

	"go.uber.org/zap"
)

// Registry holds the adapter instances and the model routing table, resolved
// once at startup from configuration. Reads only after construction, so no
// locking is needed.
type Registry struct {
	adapters map[string]Adapter
	routing  map[string]string
}

// NewRegistry builds one adapter per configured provider.
func NewRegistry(cfg *config.Config, retry RetryPolicy, log *zap.SugaredLogger) (*Registry, error) {
	adapters := make(map[string]Adapter, len(cfg.Providers))
	for name, pcfg := range cfg.Providers {
		switch pcfg.Kind {
		case "groq":
			adapters[name] = NewGroq(name, pcfg, retry, log)
		case "ollama":
			adapters[name] = NewOllama(name, pcfg, retry, log)
		default:
			return nil, fmt.Errorf("unknown provider kind %q for %s", pcfg.Kind, name)
		}
	}
	return &Registry{
		adapters: adapters,
		routing:  cfg.Routing,
	}, nil
}

// Resolve maps a client-facing model id to its adapter. Unknown model ids
// fail before any network call is made.
func (r *Registry) Resolve(model string) (Adapter, error) {
	providerName, ok := r.routing[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownModel, model)
	}
	adapter, ok := r.adapters[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownModel, model)
	}
	return adapter, nil
}

// Models lists the routable model ids, sorted for stable output.
func (r *Registry) Models() []string {
	models := make([]string, 0, len(r.routing))
	for model := range r.routing {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// Adapter returns a registered adapter by provider name.
func (r *Registry) Adapter(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}
