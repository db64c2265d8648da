package channel

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the gateway for each platform. It must be created via
// NewRegistry and passed explicitly to components that need it.
type Registry struct {
	mu       sync.RWMutex
	gateways map[Platform]Gateway
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		gateways: map[Platform]Gateway{},
	}
}

// Register adds a gateway to the registry.
func (r *Registry) Register(gateway Gateway) error {
	if gateway == nil {
		return fmt.Errorf("gateway is nil")
	}
	p := normalizePlatform(gateway.Platform().String())
	if p == "" {
		return fmt.Errorf("platform is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gateways[p]; exists {
		return fmt.Errorf("platform already registered: %s", p)
	}
	r.gateways[p] = gateway
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(gateway Gateway) {
	if err := r.Register(gateway); err != nil {
		panic(err)
	}
}

// Get returns the gateway for the given platform.
func (r *Registry) Get(platform Platform) (Gateway, bool) {
	p := normalizePlatform(platform.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[p]
	return gw, ok
}

// Gateway is like Get but returns ErrUnsupportedPlatform when absent.
func (r *Registry) Gateway(platform Platform) (Gateway, error) {
	gw, ok := r.Get(platform)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	return gw, nil
}

// WebhookRegistrar returns the registrar for the platform if its gateway implements one.
func (r *Registry) WebhookRegistrar(platform Platform) (WebhookRegistrar, bool) {
	gw, ok := r.Get(platform)
	if !ok {
		return nil, false
	}
	reg, ok := gw.(WebhookRegistrar)
	return reg, ok
}

// UpdatePoller returns the poller for the platform if its gateway implements one.
func (r *Registry) UpdatePoller(platform Platform) (UpdatePoller, bool) {
	gw, ok := r.Get(platform)
	if !ok {
		return nil, false
	}
	poller, ok := gw.(UpdatePoller)
	return poller, ok
}

// Platforms returns all registered platforms in sorted order.
func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Platform, 0, len(r.gateways))
	for p := range r.gateways {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}
