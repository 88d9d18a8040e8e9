package application

import (
	"sync"

	"github.com/davarch/rollout/internal/domain"
	"go.uber.org/zap"
)

const DefaultEnvironment = "test"

// Resolver maps branch names to connection profiles. Tables can be swapped
// while a run is paused; lookups always see a complete table.
type Resolver struct {
	mu           sync.RWMutex
	def          string
	branches     map[string]string
	environments map[string]domain.ConnectionProfile
}

func NewResolver(def string, branches map[string]string, envs map[string]domain.ConnectionProfile) *Resolver {
	if def == "" {
		def = DefaultEnvironment
	}
	return &Resolver{def: def, branches: branches, environments: envs}
}

func (r *Resolver) Update(log *zap.Logger, def string, branches map[string]string, envs map[string]domain.ConnectionProfile) {
	if def == "" {
		def = DefaultEnvironment
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def, r.branches, r.environments = def, branches, envs
	log.Info("environment table reloaded", zap.Int("branches", len(branches)), zap.Int("environments", len(envs)))
}

// Resolve never fails: unmapped branches and unknown environments fall back
// to the default environment's profile.
func (r *Resolver) Resolve(branch string) domain.ConnectionProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	env, ok := r.branches[branch]
	if !ok || env == "" {
		env = r.def
	}

	p, ok := r.environments[env]
	if !ok {
		env = r.def
		p = r.environments[env]
	}
	p.Environment = env
	return p
}

func (r *Resolver) Environment(env string) (domain.ConnectionProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.environments[env]
	if ok {
		p.Environment = env
	}
	return p, ok
}
