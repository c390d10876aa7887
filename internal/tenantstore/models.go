package tenantstore

import (
	"time"

	"voice-platform/internal/vault"
)

// TelephonyConfig is the per-tenant connector configuration document.
// Created on the first provisioning call, mutated by setup/fix operations,
// and unset (not deleted) on cleanup.
type TelephonyConfig struct {
	TenantID string `json:"tenant_id"`

	TrunkSID          string `json:"trunk_sid,omitempty"`
	CredentialListSID string `json:"credential_list_sid,omitempty"`
	CredentialSID     string `json:"credential_sid,omitempty"`

	// SIPUsername is plaintext; the password is stored encrypted.
	SIPUsername string                `json:"sip_username,omitempty"`
	SIPPassword vault.EncryptedSecret `json:"sip_password,omitempty"`

	EmergencyAddressSID string `json:"emergency_address_sid,omitempty"`
	RegulatoryBundleSID string `json:"regulatory_bundle_sid,omitempty"`

	TerminationURIs []string `json:"termination_uris,omitempty"`

	SetupStatus string    `json:"setup_status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Setup statuses for the telephony config document.
const (
	SetupStatusPending  = "pending"
	SetupStatusComplete = "complete"
	SetupStatusCleared  = "cleared"
)

// OwnedNumber is one tenant-owned phone number and its integration state.
type OwnedNumber struct {
	TenantID string `json:"tenant_id"`
	Number   string `json:"number"` // E.164

	ProviderSID     string `json:"provider_sid"`
	AgentPlatformID string `json:"agent_platform_id,omitempty"`

	InboundAgentID  string `json:"inbound_agent_id,omitempty"`
	OutboundAgentID string `json:"outbound_agent_id,omitempty"`
	Nickname        string `json:"nickname,omitempty"`

	NumberType string `json:"number_type"`
	Country    string `json:"country"`

	// Imported records whether agent-platform import succeeded; false is a
	// soft-failure state, the number stays usable through the provider.
	Imported bool `json:"imported"`

	// AgentVersion is the agent platform's version stamp at last assignment;
	// nil once assignments are cleared.
	AgentVersion *int64 `json:"agent_version,omitempty"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Number lifecycle statuses.
const (
	NumberStatusActive   = "active"
	NumberStatusReleased = "released"
)
