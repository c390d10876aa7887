package provision

import (
	"context"

	"voice-platform/internal/telephony"
	"voice-platform/internal/tenantstore"
)

// Providers hands out the per-tenant telephony provider client.
// Implemented by telephony.Registry; tests substitute fakes.
type Providers interface {
	ForTenant(tenantID string) (telephony.Provider, error)
}

// ConfigStore is the tenant-config slice of the datastore.
type ConfigStore interface {
	GetConfig(ctx context.Context, tenantID string) (tenantstore.TelephonyConfig, error)
	UpsertConfig(ctx context.Context, c tenantstore.TelephonyConfig) error
	ClearConfig(ctx context.Context, tenantID string) error
	TenantOwningTrunk(ctx context.Context, trunkSID string) (string, bool, error)
}

// NumberStore is the owned-numbers slice of the datastore.
type NumberStore interface {
	CreateNumber(ctx context.Context, n tenantstore.OwnedNumber) error
	GetNumber(ctx context.Context, tenantID, number string) (tenantstore.OwnedNumber, error)
	ListNumbers(ctx context.Context, tenantID string) ([]tenantstore.OwnedNumber, error)
	UpdateAssignment(ctx context.Context, tenantID, number, inboundAgentID, outboundAgentID, nickname string, version *int64) error
	MarkImported(ctx context.Context, tenantID, number, agentPlatformID string) error
	DeleteNumber(ctx context.Context, tenantID, number string) error
}
