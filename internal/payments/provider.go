package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownProvider is a configuration error; retrying cannot fix it.
var ErrUnknownProvider = errors.New("payments: unknown provider")

// Provider authorizes a payment with an acquirer and returns its raw
// response, which is stored verbatim.
type Provider interface {
	Authorize(ctx context.Context, p Payment, timeoutSeconds int) (map[string]any, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, p Payment, timeoutSeconds int) (map[string]any, error)

func (f ProviderFunc) Authorize(ctx context.Context, p Payment, timeoutSeconds int) (map[string]any, error) {
	return f(ctx, p, timeoutSeconds)
}

// ManualProvider approves every request. Used for cash and manually keyed
// card payments.
type ManualProvider struct{}

func (ManualProvider) Authorize(context.Context, Payment, int) (map[string]any, error) {
	return map[string]any{"ok": true, "provider": DefaultProvider, "note": "authorized manually"}, nil
}

// Registry maps a payment's stored provider name to its implementation.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns a registry holding only the manual provider.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	_ = r.Register(DefaultProvider, ManualProvider{})
	return r
}

// Register adds or replaces the provider for name. Names match exactly.
func (r *Registry) Register(name string, p Provider) error {
	if name == "" || name != strings.TrimSpace(name) || p == nil {
		return fmt.Errorf("payments: invalid provider registration for key %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	return nil
}

// Resolve never falls back to another provider.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}
