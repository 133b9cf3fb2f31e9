package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderFactory[T any] func(ctx context.Context) (T, error)

// Registry routes a model name from the URL to the adapter serving it.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{factories: make(map[string]ProviderFactory[T])}
}

func (r *Registry[T]) Register(name string, f ProviderFactory[T]) {
	name = normalizeName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// RegisterInstance registers an already constructed adapter.
func (r *Registry[T]) RegisterInstance(name string, v T) {
	r.Register(name, func(context.Context) (T, error) { return v, nil })
}

// RegisterUnconfigured keeps name routable but answers ErrNotConfigured.
func (r *Registry[T]) RegisterUnconfigured(name string) {
	r.Register(name, func(context.Context) (T, error) {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotConfigured, name)
	})
}

func (r *Registry[T]) Get(ctx context.Context, name string) (T, error) {
	name = normalizeName(name)
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return f(ctx)
}

func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
