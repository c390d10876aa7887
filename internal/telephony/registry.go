package telephony

import (
	"log/slog"
	"sync"

	"voice-platform/internal/config"
)

// Registry hands out one Provider per tenant and memoizes it. It replaces a
// hidden process-wide cache with an owned object that callers can invalidate
// when tenant provider credentials change.
type Registry struct {
	cfg config.ProviderConfig
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]Provider
}

func NewRegistry(cfg config.ProviderConfig, log *slog.Logger) *Registry {
	return &Registry{
		cfg:     cfg,
		log:     log,
		clients: make(map[string]Provider),
	}
}

// ForTenant returns the memoized client for tenantID, creating it on first use.
func (r *Registry) ForTenant(tenantID string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.clients[tenantID]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.clients[tenantID]; ok {
		return p, nil
	}
	client := NewTwilioClient(r.cfg, tenantID, r.log)
	r.clients[tenantID] = client
	return client, nil
}

// Invalidate drops the cached client for tenantID so the next call rebuilds it.
func (r *Registry) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.clients, tenantID)
	r.mu.Unlock()
}
