package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Router resolves model ids to provider profiles.
type Router struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewRouter creates a router holding the given profiles. Later profiles
// replace earlier ones with the same id.
func NewRouter(profiles ...Profile) (*Router, error) {
	r := &Router{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds (or replaces) a profile.
func (r *Router) Register(p Profile) error {
	p = p.Clone()
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[normalizeID(p.ID)] = p
	return nil
}

// Resolve returns the profile registered for modelID. The returned value is
// a copy; mutating it does not affect later lookups.
func (r *Router) Resolve(modelID string) (Profile, error) {
	r.mu.RLock()
	p, ok := r.profiles[normalizeID(modelID)]
	r.mu.RUnlock()
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}
	return p.Clone(), nil
}

// Models returns the registered model ids in sorted order.
func (r *Router) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
