// Package router selects a provider for a task given routing policy,
// capability requirements, cost ceiling, and availability.
package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mirrorlake/steward/pkg/provider"
	"github.com/mirrorlake/steward/pkg/schema"
)

// ErrNoCapableProvider is returned when no available provider matches the
// task's requirements.
var ErrNoCapableProvider = errors.New("no capable provider")

// Mode selects the routing policy.
type Mode string

const (
	// ModeRespectRanking picks the lowest-ranked capable provider.
	ModeRespectRanking Mode = "respect_ranking"
	// ModeOptimizeCost picks the cheapest capable provider, rank as tie-break.
	ModeOptimizeCost Mode = "optimize_cost"
	// ModeProviderOnly pins routing to a single named provider.
	ModeProviderOnly Mode = "provider_only"
	// ModeRoundRobin rotates across capable providers.
	ModeRoundRobin Mode = "round_robin"
)

// Router picks providers for tasks. Selection is read-only apart from the
// round-robin cursor, which is advanced under a lock.
type Router struct {
	providers []provider.Provider
	mode      Mode
	only      string
	excluded  map[string]bool

	mu     sync.Mutex
	cursor int
}

// Option configures a Router.
type Option func(*Router)

// WithMode sets the routing mode.
func WithMode(mode Mode) Option {
	return func(r *Router) {
		if mode != "" {
			r.mode = mode
		}
	}
}

// WithProviderOnly pins routing to a single provider name. Implies
// ModeProviderOnly.
func WithProviderOnly(name string) Option {
	return func(r *Router) {
		r.only = name
		r.mode = ModeProviderOnly
	}
}

// WithExcluded removes providers from consideration by name. Used by
// failover to drop the provider that just failed.
func WithExcluded(names ...string) Option {
	return func(r *Router) {
		for _, name := range names {
			r.excluded[name] = true
		}
	}
}

// New creates a router over the given providers. The default mode respects
// ranking.
func New(providers []provider.Provider, opts ...Option) *Router {
	r := &Router{
		providers: providers,
		mode:      ModeRespectRanking,
		excluded:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the full provider set the router was built over.
func (r *Router) Providers() []provider.Provider {
	return r.providers
}

// SelectProvider picks a provider for the task, or fails with
// ErrNoCapableProvider when nothing matches.
//
// An explicit model preference bypasses every filter, including the cost
// ceiling. The capability filter is mandatory; the cost ceiling is advisory
// and is dropped when it would empty the candidate set.
func (r *Router) SelectProvider(task *schema.TaskContext) (provider.Provider, error) {
	if task.ModelPreference != "" {
		if p := r.byName(task.ModelPreference); p != nil && p.IsAvailable() {
			return p, nil
		}
	}

	if r.mode == ModeProviderOnly {
		p := r.byName(r.only)
		if p == nil || !p.IsAvailable() {
			return nil, fmt.Errorf("%w: provider %q not available", ErrNoCapableProvider, r.only)
		}
		if !r.capable(p, task) {
			return nil, fmt.Errorf("%w: provider %q lacks required capabilities", ErrNoCapableProvider, r.only)
		}
		return p, nil
	}

	candidates := r.filter(task)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: task %s", ErrNoCapableProvider, task.JobID)
	}

	if task.MaxCostTier != "" {
		withinBudget := make([]provider.Provider, 0, len(candidates))
		for _, p := range candidates {
			if p.CostTier().Order() <= task.MaxCostTier.Order() {
				withinBudget = append(withinBudget, p)
			}
		}
		// The cost ceiling is advisory: capability-matching providers beat
		// an empty set.
		if len(withinBudget) > 0 {
			candidates = withinBudget
		}
	}

	switch r.mode {
	case ModeOptimizeCost:
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].CostTier().Order() == candidates[j].CostTier().Order() {
				return candidates[i].Rank() < candidates[j].Rank()
			}
			return candidates[i].CostTier().Order() < candidates[j].CostTier().Order()
		})
		return candidates[0], nil
	case ModeRoundRobin:
		r.mu.Lock()
		pick := candidates[r.cursor%len(candidates)]
		r.cursor++
		r.mu.Unlock()
		return pick, nil
	default:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Rank() < candidates[j].Rank()
		})
		return candidates[0], nil
	}
}

func (r *Router) byName(name string) provider.Provider {
	if r.excluded[name] {
		return nil
	}
	for _, p := range r.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

func (r *Router) filter(task *schema.TaskContext) []provider.Provider {
	var out []provider.Provider
	for _, p := range r.providers {
		if r.excluded[p.Name()] {
			continue
		}
		if !r.capable(p, task) {
			continue
		}
		if !p.IsAvailable() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// capable checks the task's required capabilities, or its resource type when
// no explicit capabilities were requested. A mixed resource type matches any
// provider.
func (r *Router) capable(p provider.Provider, task *schema.TaskContext) bool {
	if len(task.RequiredCapabilities) > 0 {
		for _, want := range task.RequiredCapabilities {
			if !provider.HasCapability(p, want) {
				return false
			}
		}
		return true
	}

	switch task.ResourceType {
	case "", schema.ResourceMixed:
		return true
	default:
		return provider.HasCapability(p, schema.Capability(task.ResourceType))
	}
}
