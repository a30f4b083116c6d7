package provider

// Registry is an explicit uuid -> Provider table, the Go equivalent of
// the original implementation's link-time provider registration: both
// satisfy the "dynamic dispatch over providers" contract, but Go has no
// constructor-attribute idiom to register at import time, so providers
// are registered explicitly at daemon startup instead.
type Registry struct {
	providers map[string]Provider
	byName    map[string]Provider
}

// NewRegistry builds a Registry from the given providers, indexed by
// both UUID and friendly name.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		byName:    make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		r.providers[p.UUID()] = p
		r.byName[p.FriendlyName()] = p
	}
	return r
}

// ByUUID looks up a provider by its stable uuid (the hub's provider_type).
func (r *Registry) ByUUID(uuid string) (Provider, bool) {
	p, ok := r.providers[uuid]
	return p, ok
}

// ByFriendlyName looks up a provider by its short human-readable tag.
func (r *Registry) ByFriendlyName(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// All returns every registered provider, in no particular order.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}
