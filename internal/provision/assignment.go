package provision

import (
	"context"
	"errors"
	"fmt"

	"voice-platform/internal/agent"
	"voice-platform/internal/tenantstore"
)

// AssignmentRequest mutates a number's agent bindings and nickname.
// nil pointer = leave unchanged; pointer to empty string = clear.
type AssignmentRequest struct {
	InboundAgentID  *string `json:"inbound_agent_id,omitempty"`
	OutboundAgentID *string `json:"outbound_agent_id,omitempty"`
	Nickname        *string `json:"nickname,omitempty"`
}

// UpdateAssignment binds agents to a number. Conflict validation runs against
// the agent platform's live listing, not local records: an agent may hold at
// most one inbound and one outbound number, and a stale projection must never
// approve a double booking.
func (p *Provisioner) UpdateAssignment(ctx context.Context, tenantID, number string, req AssignmentRequest) (tenantstore.OwnedNumber, error) {
	rec, err := p.numbers.GetNumber(ctx, tenantID, number)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}

	if !rec.Imported {
		// Earlier import soft-failed; heal it now, an unimported number
		// cannot carry agent bindings.
		if err := p.reimport(ctx, tenantID, &rec); err != nil {
			return tenantstore.OwnedNumber{}, fmt.Errorf("number %s is not registered with the agent platform: %w", number, err)
		}
	}

	live, err := p.agents.ListPhoneNumbers(ctx)
	if err != nil {
		return tenantstore.OwnedNumber{}, fmt.Errorf("list agent platform numbers: %w", err)
	}
	if err := checkAssignmentConflicts(live, number, req); err != nil {
		return tenantstore.OwnedNumber{}, err
	}

	updated, err := p.agents.UpdatePhoneNumber(ctx, number, agent.UpdateRequest{
		InboundAgentID:  req.InboundAgentID,
		OutboundAgentID: req.OutboundAgentID,
		Nickname:        req.Nickname,
	})
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}

	rec.InboundAgentID = updated.InboundAgentID
	rec.OutboundAgentID = updated.OutboundAgentID
	if updated.Nickname != "" || req.Nickname != nil {
		rec.Nickname = updated.Nickname
	}
	rec.AgentVersion = updated.AgentVersion
	rec.UpdatedAt = p.clock()

	if err := p.numbers.UpdateAssignment(ctx, tenantID, number, rec.InboundAgentID, rec.OutboundAgentID, rec.Nickname, rec.AgentVersion); err != nil {
		return tenantstore.OwnedNumber{}, err
	}
	return rec, nil
}

func checkAssignmentConflicts(live []agent.PhoneNumber, number string, req AssignmentRequest) error {
	for _, pn := range live {
		if pn.Number == number {
			// The target number itself: an existing binding belongs to its
			// current agent and must be cleared before another takes it.
			if req.InboundAgentID != nil && *req.InboundAgentID != "" &&
				pn.InboundAgentID != "" && pn.InboundAgentID != *req.InboundAgentID {
				return &ConflictError{AgentID: pn.InboundAgentID, Direction: "inbound", Number: pn.Number}
			}
			if req.OutboundAgentID != nil && *req.OutboundAgentID != "" &&
				pn.OutboundAgentID != "" && pn.OutboundAgentID != *req.OutboundAgentID {
				return &ConflictError{AgentID: pn.OutboundAgentID, Direction: "outbound", Number: pn.Number}
			}
			continue
		}
		if req.InboundAgentID != nil && *req.InboundAgentID != "" && pn.InboundAgentID == *req.InboundAgentID {
			return &ConflictError{AgentID: *req.InboundAgentID, Direction: "inbound", Number: pn.Number}
		}
		if req.OutboundAgentID != nil && *req.OutboundAgentID != "" && pn.OutboundAgentID == *req.OutboundAgentID {
			return &ConflictError{AgentID: *req.OutboundAgentID, Direction: "outbound", Number: pn.Number}
		}
	}
	return nil
}

// reimport retries the agent-platform import for a number whose original
// import soft-failed, and persists the recovered state.
func (p *Provisioner) reimport(ctx context.Context, tenantID string, rec *tenantstore.OwnedNumber) error {
	cfg, err := p.store.GetConfig(ctx, tenantID)
	if err != nil {
		return err
	}
	if cfg.TrunkSID == "" || len(cfg.TerminationURIs) == 0 {
		return errors.New("trunk not configured")
	}
	trunk := TrunkInfo{
		TrunkSID:        cfg.TrunkSID,
		SIPUsername:     cfg.SIPUsername,
		TerminationURIs: cfg.TerminationURIs,
	}
	platformID, err := p.importToAgentPlatform(ctx, cfg, trunk, rec.Number, rec.Nickname)
	if err != nil {
		return err
	}
	rec.Imported = true
	rec.AgentPlatformID = platformID
	// The row exists with imported=false; flip it in place.
	return p.numbers.MarkImported(ctx, tenantID, rec.Number, platformID)
}
