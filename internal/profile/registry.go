package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

// Registry holds the known client profiles.
type Registry struct {
	profiles map[domain.ClientType]Profile
}

// NewRegistry creates a registry with all built-in clients.
func NewRegistry() *Registry {
	return NewRegistryWithProfiles(yuanShen(), global(), cloud())
}

// NewRegistryWithProfiles creates a registry with custom profiles (for testing).
func NewRegistryWithProfiles(profiles ...Profile) *Registry {
	r := &Registry{
		profiles: make(map[domain.ClientType]Profile),
	}
	for _, p := range profiles {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a profile.
func (r *Registry) Register(p Profile) {
	r.profiles[p.ClientType] = p
}

// Get returns the profile for a client type. Lookup is case-insensitive.
func (r *Registry) Get(client domain.ClientType) (Profile, error) {
	if p, ok := r.profiles[client]; ok {
		return p, nil
	}
	for ct, p := range r.profiles {
		if strings.EqualFold(string(ct), string(client)) {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("unknown client type: %s", client)
}

// ByProcessName finds the profile whose process name matches name.
func (r *Registry) ByProcessName(name string) (Profile, bool) {
	for _, p := range r.profiles {
		if strings.EqualFold(p.ProcessName, name) {
			return p, true
		}
	}
	return Profile{}, false
}

// Resolve builds a target for client, honouring an explicit process name
// override when one is configured.
func (r *Registry) Resolve(client domain.ClientType, capture domain.CaptureType, processOverride string) (domain.Target, error) {
	p, err := r.Get(client)
	if err != nil {
		return domain.Target{}, err
	}
	target := p.Target(capture)
	if processOverride != "" {
		target.ProcessName = processOverride
	}
	return target, nil
}

// All returns profiles ordered by client type.
func (r *Registry) All() []Profile {
	result := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ClientType < result[j].ClientType
	})
	return result
}
