package provision

import (
	"context"
	"errors"
	"fmt"

	"voice-platform/internal/agent"
	"voice-platform/internal/telephony"
	"voice-platform/internal/tenantstore"
)

// ReleaseResult reports what a release actually did, step by step. A repeat
// release of an already-released number returns Found=false and no error.
type ReleaseResult struct {
	Found bool `json:"found"`

	AgentPlatformDeleted bool `json:"agent_platform_deleted"`
	EmergencyReleased    bool `json:"emergency_released"`
	TrunkDetached        bool `json:"trunk_detached"`
	CallbacksReset       bool `json:"callbacks_reset"`
	RecordDeleted        bool `json:"record_deleted"`
}

// Release takes a number out of management in the reverse of the provisioning
// order: agent platform (best-effort), emergency address (with deregistration
// wait), trunk detachment, callback reset, local record. The number itself
// stays purchased in the provider account. Already-gone resources at any step
// are treated as done, which makes the operation safely repeatable.
func (p *Provisioner) Release(ctx context.Context, tenantID, number string) (ReleaseResult, error) {
	var res ReleaseResult

	releaseSlot, err := p.acquireSlot(ctx, tenantID)
	if err != nil {
		return res, err
	}
	defer releaseSlot()

	rec, err := p.numbers.GetNumber(ctx, tenantID, number)
	if err != nil {
		if errors.Is(err, tenantstore.ErrNotFound) {
			return res, nil
		}
		return res, err
	}
	res.Found = true

	provider, err := p.providers.ForTenant(tenantID)
	if err != nil {
		return res, err
	}
	cfg, err := p.store.GetConfig(ctx, tenantID)
	if err != nil && !errors.Is(err, tenantstore.ErrNotFound) {
		return res, err
	}

	if rec.Imported {
		// Best-effort: an unreachable agent platform must not block the
		// trunk and provider teardown. The miss stays visible in the result.
		if err := p.agents.DeletePhoneNumber(ctx, rec.Number); err != nil && !isAgentNotFound(err) {
			p.log.Warn("agent platform delete failed", "number", rec.Number, "error", err)
		} else {
			res.AgentPlatformDeleted = true
		}
	}

	sid := rec.ProviderSID
	if sid == "" {
		inc, found, err := provider.FetchNumberByDigits(ctx, rec.Number)
		if err != nil {
			return res, err
		}
		if !found {
			// Gone at the provider already; just drop the record.
			if err := p.numbers.DeleteNumber(ctx, tenantID, number); err != nil {
				return res, err
			}
			res.RecordDeleted = true
			return res, nil
		}
		sid = inc.SID
	}

	if regulatoryFlagsFor(rec.Country).EmergencyAddressRequired {
		if err := provider.ReleaseEmergencyAddress(ctx, sid); err != nil && !telephony.IsNotFound(err) {
			return res, fmt.Errorf("release emergency address: %w", err)
		}
		if err := p.waitEmergencyCleared(ctx, provider, sid); err != nil {
			return res, err
		}
		res.EmergencyReleased = true
	}

	if cfg.TrunkSID != "" {
		if err := provider.DetachNumberFromTrunk(ctx, cfg.TrunkSID, sid); err != nil && !telephony.IsNotFound(err) {
			return res, fmt.Errorf("detach from trunk: %w", err)
		}
		res.TrunkDetached = true
	}

	// The number remains purchased; only its callback configuration is
	// cleared so an inbound call cannot hit a dangling webhook.
	if err := provider.ResetNumberCallbacks(ctx, sid); err != nil && !telephony.IsNotFound(err) {
		p.log.Warn("reset callbacks failed", "number", rec.Number, "error", err)
	} else {
		res.CallbacksReset = true
	}

	if err := p.numbers.DeleteNumber(ctx, tenantID, number); err != nil && !errors.Is(err, tenantstore.ErrNotFound) {
		return res, err
	}
	res.RecordDeleted = true

	p.log.Info("number released", "tenant_id", tenantID, "number", number)
	return res, nil
}

func isAgentNotFound(err error) bool {
	var apiErr *agent.APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}
