package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-platform/internal/agent"
	"voice-platform/internal/saga"
	"voice-platform/internal/telephony"
	"voice-platform/internal/tenantstore"
)

// PurchaseParams buys one specific number, normally picked from Search.
type PurchaseParams struct {
	Number   string `json:"number"` // E.164
	Nickname string `json:"nickname,omitempty"`
}

// Purchase buys the number and runs the full integration pipeline: emergency
// address (where the country requires one), trunk registration, agent-platform
// import, datastore record.
//
// Regulatory prerequisites are checked before any money moves or any external
// resource is touched. If a later step fails, everything bought or attached so
// far is compensated in reverse order.
func (p *Provisioner) Purchase(ctx context.Context, tenantID string, params PurchaseParams) (tenantstore.OwnedNumber, error) {
	if params.Number == "" {
		return tenantstore.OwnedNumber{}, errors.New("number is required")
	}
	release, err := p.acquireSlot(ctx, tenantID)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}
	defer release()

	country := CountryOfNumber(params.Number)
	numberType := DetectNumberType(params.Number)
	flags := regulatoryFlagsFor(country)

	cfg, err := p.store.GetConfig(ctx, tenantID)
	if err != nil && !errors.Is(err, tenantstore.ErrNotFound) {
		return tenantstore.OwnedNumber{}, err
	}
	if err := checkRegulatoryPrereqs(flags, cfg); err != nil {
		return tenantstore.OwnedNumber{}, err
	}

	trunk, err := p.trunks.FetchOrCreate(ctx, tenantID)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}
	// FetchOrCreate may have rewritten the config (fresh trunk, rotated
	// credential); reload so the pipeline sees what it persisted.
	cfg, err = p.store.GetConfig(ctx, tenantID)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}

	provider, err := p.providers.ForTenant(tenantID)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}

	opts := telephony.PurchaseOptions{
		AddressSID: cfg.EmergencyAddressSID,
		BundleSID:  cfg.RegulatoryBundleSID,
	}
	inc, err := p.buyWithRetry(ctx, provider, params.Number, country, numberType, opts)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}

	sg := saga.New("number-purchase", p.log)
	sg.Ran("purchase-number", inc.SID, func(ctx context.Context) error {
		// An emergency address that is still deregistering blocks deletion;
		// wait out the pending state before touching the number.
		if flags.EmergencyAddressRequired {
			if err := p.waitEmergencyCleared(ctx, provider, inc.SID); err != nil {
				return err
			}
		}
		return provider.DeleteNumber(ctx, inc.SID)
	})

	rec, err := p.integrate(ctx, provider, sg, cfg, trunk, inc, integrateParams{
		tenantID:   tenantID,
		nickname:   params.Nickname,
		country:    country,
		numberType: numberType,
		flags:      flags,
	})
	if err == nil {
		return rec, nil
	}

	rep := sg.Unwind(ctx)
	if !rep.Complete() {
		return tenantstore.OwnedNumber{}, &CleanupFailureError{
			Cause:       err,
			Unwind:      rep.Err(),
			OrphanedIDs: rep.OrphanedIDs(),
		}
	}
	return tenantstore.OwnedNumber{}, fmt.Errorf("number setup failed (rolled back): %w", err)
}

// Import integrates a number the tenant already owns at the provider: same
// pipeline as Purchase minus the buying.
func (p *Provisioner) Import(ctx context.Context, tenantID, number, nickname string) (tenantstore.OwnedNumber, error) {
	if number == "" {
		return tenantstore.OwnedNumber{}, errors.New("number is required")
	}
	release, err := p.acquireSlot(ctx, tenantID)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}
	defer release()

	country := CountryOfNumber(number)
	numberType := DetectNumberType(number)
	flags := regulatoryFlagsFor(country)

	cfg, err := p.store.GetConfig(ctx, tenantID)
	if err != nil && !errors.Is(err, tenantstore.ErrNotFound) {
		return tenantstore.OwnedNumber{}, err
	}
	if err := checkRegulatoryPrereqs(flags, cfg); err != nil {
		return tenantstore.OwnedNumber{}, err
	}

	trunk, err := p.trunks.FetchOrCreate(ctx, tenantID)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}
	cfg, err = p.store.GetConfig(ctx, tenantID)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}

	provider, err := p.providers.ForTenant(tenantID)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}

	inc, found, err := provider.FetchNumberByDigits(ctx, number)
	if err != nil {
		return tenantstore.OwnedNumber{}, err
	}
	if !found {
		return tenantstore.OwnedNumber{}, fmt.Errorf("number %s is not owned by the provider account", number)
	}

	sg := saga.New("number-import", p.log)
	rec, err := p.integrate(ctx, provider, sg, cfg, trunk, inc, integrateParams{
		tenantID:   tenantID,
		nickname:   nickname,
		country:    country,
		numberType: numberType,
		flags:      flags,
	})
	if err == nil {
		return rec, nil
	}

	rep := sg.Unwind(ctx)
	if !rep.Complete() {
		return tenantstore.OwnedNumber{}, &CleanupFailureError{
			Cause:       err,
			Unwind:      rep.Err(),
			OrphanedIDs: rep.OrphanedIDs(),
		}
	}
	return tenantstore.OwnedNumber{}, fmt.Errorf("number setup failed (rolled back): %w", err)
}

func checkRegulatoryPrereqs(flags RegulatoryFlags, cfg tenantstore.TelephonyConfig) error {
	if flags.EmergencyAddressRequired && cfg.EmergencyAddressSID == "" {
		return &ConfigurationError{Missing: "emergency address"}
	}
	if flags.BundleRequired && cfg.RegulatoryBundleSID == "" {
		return &ConfigurationError{Missing: "regulatory bundle"}
	}
	return nil
}

// buyWithRetry purchases the requested number, falling back to same-type
// substitutes when it was taken between search and purchase. Substitutes never
// cross number types; bundles are type-specific.
func (p *Provisioner) buyWithRetry(ctx context.Context, provider telephony.Provider, number, country string, numberType telephony.NumberType, opts telephony.PurchaseOptions) (telephony.IncomingNumber, error) {
	target := number
	tried := map[string]bool{}
	for attempt := 1; attempt <= purchaseAttempts; attempt++ {
		tried[target] = true
		inc, err := provider.PurchaseNumber(ctx, target, opts)
		if err == nil {
			if target != number {
				p.log.Info("purchased substitute number", "requested", number, "purchased", target)
			}
			return inc, nil
		}
		if !telephony.IsNumberUnavailable(err) {
			return telephony.IncomingNumber{}, err
		}

		next, found, serr := p.findSubstitute(ctx, provider, country, numberType, tried)
		if serr != nil {
			return telephony.IncomingNumber{}, serr
		}
		if !found {
			break
		}
		target = next
	}
	return telephony.IncomingNumber{}, &UnavailableNumberError{
		Number:     number,
		NumberType: string(numberType),
		Attempts:   purchaseAttempts,
	}
}

func (p *Provisioner) findSubstitute(ctx context.Context, provider telephony.Provider, country string, numberType telephony.NumberType, tried map[string]bool) (string, bool, error) {
	nums, err := provider.SearchNumbers(ctx, telephony.SearchRequest{
		Country: country,
		Type:    numberType,
		Limit:   10,
	})
	if err != nil {
		return "", false, fmt.Errorf("search substitute: %w", err)
	}
	for _, n := range nums {
		if !tried[n.Number] {
			return n.Number, true, nil
		}
	}
	return "", false, nil
}

type integrateParams struct {
	tenantID   string
	nickname   string
	country    string
	numberType telephony.NumberType
	flags      RegulatoryFlags
}

// integrate wires a provider-owned number into the tenant: emergency address,
// trunk, agent platform, datastore. Steps with external side effects register
// their undo on sg; the agent-platform import is deliberately soft — its
// failure leaves the number usable and is recorded, not compensated.
func (p *Provisioner) integrate(ctx context.Context, provider telephony.Provider, sg *saga.Saga, cfg tenantstore.TelephonyConfig, trunk TrunkInfo, inc telephony.IncomingNumber, params integrateParams) (tenantstore.OwnedNumber, error) {
	if params.flags.EmergencyAddressRequired {
		if err := provider.AssignEmergencyAddress(ctx, inc.SID, cfg.EmergencyAddressSID); err != nil {
			return tenantstore.OwnedNumber{}, fmt.Errorf("assign emergency address: %w", err)
		}
		sg.Ran("assign-emergency-address", inc.SID, func(ctx context.Context) error {
			return provider.ReleaseEmergencyAddress(ctx, inc.SID)
		})
	}

	if err := provider.AttachNumberToTrunk(ctx, trunk.TrunkSID, inc.SID); err != nil {
		return tenantstore.OwnedNumber{}, fmt.Errorf("attach number to trunk: %w", err)
	}
	sg.Ran("attach-number-to-trunk", inc.SID, func(ctx context.Context) error {
		return provider.DetachNumberFromTrunk(ctx, trunk.TrunkSID, inc.SID)
	})

	rec := tenantstore.OwnedNumber{
		TenantID:    params.tenantID,
		Number:      inc.Number,
		ProviderSID: inc.SID,
		Nickname:    params.nickname,
		NumberType:  string(params.numberType),
		Country:     params.country,
		Status:      tenantstore.NumberStatusActive,
		CreatedAt:   p.clock(),
		UpdatedAt:   p.clock(),
	}

	platformID, err := p.importToAgentPlatform(ctx, cfg, trunk, inc.Number, params.nickname)
	if err != nil {
		// Soft failure: the number keeps working through the trunk; the
		// import can be retried on the next assignment.
		p.log.Warn("agent platform import failed", "tenant_id", params.tenantID, "number", inc.Number, "error", err)
	} else {
		rec.Imported = true
		rec.AgentPlatformID = platformID
	}

	if err := p.numbers.CreateNumber(ctx, rec); err != nil {
		return tenantstore.OwnedNumber{}, fmt.Errorf("persist number: %w", err)
	}
	p.log.Info("number provisioned", "tenant_id", params.tenantID, "number", inc.Number, "imported", rec.Imported)
	return rec, nil
}

func (p *Provisioner) importToAgentPlatform(ctx context.Context, cfg tenantstore.TelephonyConfig, trunk TrunkInfo, number, nickname string) (string, error) {
	password, err := p.vault.DecryptField(cfg.SIPPassword, sipPasswordContext)
	if err != nil {
		return "", err
	}
	if len(trunk.TerminationURIs) == 0 {
		return "", errors.New("trunk has no termination uri")
	}
	pn, err := p.agents.ImportPhoneNumber(ctx, agent.ImportRequest{
		Number:         number,
		TerminationURI: trunk.TerminationURIs[0],
		SIPUsername:    trunk.SIPUsername,
		SIPPassword:    password,
		Nickname:       nickname,
	})
	if err != nil {
		return "", err
	}
	return pn.ID, nil
}

// waitEmergencyCleared polls until the provider reports the emergency address
// fully deregistered. Deletion before that point can strand the registration.
func (p *Provisioner) waitEmergencyCleared(ctx context.Context, provider telephony.Provider, numberSID string) error {
	for attempt := 0; attempt < p.pollAttempts; attempt++ {
		st, err := provider.EmergencyAddressStatus(ctx, numberSID)
		if err != nil {
			return err
		}
		if st == telephony.EmergencyStatusUnassigned {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
	return fmt.Errorf("emergency address still registered on %s after %d checks", numberSID, p.pollAttempts)
}
