package agent

import (
	"context"
)

// Client is the voice-agent platform phone-number API consumed by the
// provisioning workflows. The live listing is the source of truth for
// assignment-conflict validation; local records are projections.
type Client interface {
	ImportPhoneNumber(ctx context.Context, req ImportRequest) (PhoneNumber, error)
	UpdatePhoneNumber(ctx context.Context, number string, req UpdateRequest) (PhoneNumber, error)
	DeletePhoneNumber(ctx context.Context, number string) error
	ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error)
}

// PhoneNumber is a number known to the agent platform together with its
// current agent bindings.
type PhoneNumber struct {
	ID     string `json:"id"`
	Number string `json:"number"` // E.164

	Nickname string `json:"nickname,omitempty"`

	// An agent holds at most one inbound and one outbound number at a time.
	InboundAgentID  string `json:"inbound_agent_id,omitempty"`
	OutboundAgentID string `json:"outbound_agent_id,omitempty"`

	// AgentVersion is the platform's version stamp for the bound agent;
	// nil when no agent is bound.
	AgentVersion *int64 `json:"agent_version,omitempty"`
}

// ImportRequest registers an externally-owned SIP number with the platform.
type ImportRequest struct {
	Number string `json:"number"`

	// SIP trunk the platform dials out through.
	TerminationURI string `json:"termination_uri"`
	SIPUsername    string `json:"sip_username"`
	SIPPassword    string `json:"sip_password"`

	Nickname string `json:"nickname,omitempty"`
}

// UpdateRequest mutates agent bindings and the display nickname.
// nil pointer = leave unchanged; pointer to empty string = clear.
type UpdateRequest struct {
	InboundAgentID  *string `json:"inbound_agent_id,omitempty"`
	OutboundAgentID *string `json:"outbound_agent_id,omitempty"`
	Nickname        *string `json:"nickname,omitempty"`
}
