// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hybrid

import (
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrBackendUnavailable is the cause of errors returned when no backend can be created for a placement.
var ErrBackendUnavailable = errors.New("backend unavailable")

// GOMLX_HYBRID is the environment variable with the backend configuration of each placement, used by
// NewRegistry.
//
// The format is a ";" separated list of "<placement>=<backend_config>", where "<backend_config>" is
// given to backends.NewWithConfig. E.g.: "cpu=cpu:workers=4;interpreter=interpreter".
const GOMLX_HYBRID = "GOMLX_HYBRID" //nolint

// Provider creates the backend for a placement. Calls to a Registry's provider are serialized.
type Provider func(p placement.Placement) (backends.Backend, error)

// Registry creates and caches one backend per placement.
//
// It is safe for concurrent use.
type Registry struct {
	provider Provider
	configs  map[placement.Placement]string

	mu    sync.Mutex
	cache map[placement.Placement]backends.Backend
}

// NewRegistry returns a Registry that creates backends with backends.NewWithConfig.
//
// The configuration of each placement is taken from the environment variable GOMLX_HYBRID, if set.
// Placements not configured use the backend named by placement.Placement.BackendName, with an empty
// configuration.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		configs: make(map[placement.Placement]string),
		cache:   make(map[placement.Placement]backends.Backend),
	}
	if config, found := os.LookupEnv(GOMLX_HYBRID); found {
		configs, err := ParseConfigs(config)
		if err != nil {
			return nil, errors.WithMessagef(err, "environment variable %s", GOMLX_HYBRID)
		}
		r.configs = configs
	}
	// The provider is called with r.mu locked.
	r.provider = func(p placement.Placement) (backends.Backend, error) {
		return backends.NewWithConfig(r.lockedBackendConfig(p))
	}
	return r, nil
}

// NewRegistryWithProvider returns a Registry that creates its backends with provider.
func NewRegistryWithProvider(provider Provider) *Registry {
	return &Registry{
		provider: provider,
		configs:  make(map[placement.Placement]string),
		cache:    make(map[placement.Placement]backends.Backend),
	}
}

// ParseConfigs parses the per-placement backend configurations, see GOMLX_HYBRID for the format.
func ParseConfigs(config string) (map[placement.Placement]string, error) {
	configs := make(map[placement.Placement]string)
	for _, part := range strings.Split(config, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Errorf("invalid entry %q in %q, expected <placement>=<backend_config>", part, config)
		}
		p, err := placement.PlacementString(strings.TrimSpace(key))
		if err != nil || !p.IsAssigned() {
			return nil, errors.Errorf("invalid placement %q in %q", key, config)
		}
		configs[p] = strings.TrimSpace(value)
	}
	return configs, nil
}

// SetBackendConfig sets the configuration used to create the backend of p. It only affects backends
// not yet created.
func (r *Registry) SetBackendConfig(p placement.Placement, config string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[p] = config
}

// BackendConfig returns the configuration used to create the backend for p.
func (r *Registry) BackendConfig(p placement.Placement) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockedBackendConfig(p)
}

func (r *Registry) lockedBackendConfig(p placement.Placement) string {
	if config, found := r.configs[p]; found {
		return config
	}
	return p.BackendName()
}

// Backend returns the backend for placement p, creating it on first use.
//
// Failures are returned with ErrBackendUnavailable as cause and are not cached: a later call tries
// again.
func (r *Registry) Backend(p placement.Placement) (backends.Backend, error) {
	if !p.IsAssigned() {
		return nil, errors.Wrapf(ErrBackendUnavailable, "no backend for placement %s", p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if backend, found := r.cache[p]; found {
		return backend, nil
	}
	backend, err := r.provider(p)
	if err != nil {
		return nil, errors.Wrapf(ErrBackendUnavailable, "placement %s (config %q): %v", p, r.lockedBackendConfig(p), err)
	}
	if backend == nil {
		return nil, errors.Wrapf(ErrBackendUnavailable, "placement %s: provider returned no backend", p)
	}
	klog.V(1).Infof("hybrid registry: created backend %q for placement %s", backend.Name(), p)
	r.cache[p] = backend
	return backend, nil
}

// Placements returns the placements with a backend already created, sorted.
func (r *Registry) Placements() []placement.Placement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.cache))
}

// Finalize all the backends created, and empties the cache.
func (r *Registry) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p, backend := range r.cache {
		backend.Finalize()
		delete(r.cache, p)
	}
}
