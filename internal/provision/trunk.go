package provision

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voice-platform/internal/config"
	"voice-platform/internal/saga"
	"voice-platform/internal/telephony"
	"voice-platform/internal/tenantstore"
	"voice-platform/internal/vault"
	"voice-platform/pkg/utils"

	"github.com/google/uuid"
)

// TrunkManager owns the one-trunk-per-tenant lifecycle.
//
// Invariants:
// - At most one trunk per tenant.
// - At most one active credential per trunk; an existing first credential is
//   canonical and a second is never created.
// - A failed creation never leaves a partially-configured trunk behind.
type TrunkManager struct {
	providers Providers
	store     ConfigStore
	numbers   NumberStore
	vault     *vault.Vault
	log       *slog.Logger

	// locks serializes fetch-or-create per tenant; two concurrent calls must
	// not both observe "no trunk" and create twice.
	locks *utils.KeyedMutex

	originationURI string
	sharedPassword string

	clock func() time.Time
}

const (
	// trunkPrefix namespaces tenant trunks; the derived name is the sole
	// reliable discovery key when no trunk id was persisted.
	trunkPrefix = "vt-"

	trunkDomainSuffix = ".pstn.twilio.com"

	sipPasswordContext = "sip_password"
)

func NewTrunkManager(providers Providers, store ConfigStore, numbers NumberStore, v *vault.Vault, sip config.SIPConfig, log *slog.Logger) *TrunkManager {
	if log == nil {
		log = slog.Default()
	}
	return &TrunkManager{
		providers:      providers,
		store:          store,
		numbers:        numbers,
		vault:          v,
		log:            log,
		locks:          utils.NewKeyedMutex(),
		originationURI: sip.OriginationURI,
		sharedPassword: sip.SharedPassword,
		clock:          time.Now,
	}
}

// TrunkInfo is the provisioned trunk state returned to callers.
type TrunkInfo struct {
	TrunkSID        string   `json:"trunk_sid"`
	DomainName      string   `json:"domain_name"`
	SIPUsername     string   `json:"sip_username"`
	TerminationURIs []string `json:"termination_uris"`
	Created         bool     `json:"created"`
}

// FetchOrCreate returns the tenant's trunk, discovering an existing one or
// creating it. The call is idempotent: a second call with no intervening
// failure returns the same trunk.
//
// Discovery order:
//  1. trunk id stored in the tenant config (authoritative; a stale id that no
//     longer resolves falls through to search),
//  2. search all trunks by the tenant's naming prefix,
//  3. legacy fallback: a single prefix-less trunk claimed by no other tenant.
func (m *TrunkManager) FetchOrCreate(ctx context.Context, tenantID string) (TrunkInfo, error) {
	if tenantID == "" {
		return TrunkInfo{}, &ConfigurationError{Missing: "tenant id"}
	}

	m.locks.Lock(tenantID)
	defer m.locks.Unlock(tenantID)

	provider, err := m.providers.ForTenant(tenantID)
	if err != nil {
		return TrunkInfo{}, err
	}

	cfg, err := m.store.GetConfig(ctx, tenantID)
	if err != nil && !errors.Is(err, tenantstore.ErrNotFound) {
		return TrunkInfo{}, err
	}
	cfg.TenantID = tenantID

	trunk, found, err := m.discover(ctx, provider, tenantID, cfg)
	if err != nil {
		return TrunkInfo{}, err
	}
	if found {
		return m.adopt(ctx, provider, cfg, trunk)
	}
	return m.create(ctx, provider, cfg)
}

func (m *TrunkManager) discover(ctx context.Context, provider telephony.Provider, tenantID string, cfg tenantstore.TelephonyConfig) (telephony.Trunk, bool, error) {
	if cfg.TrunkSID != "" {
		trunk, err := provider.FetchTrunk(ctx, cfg.TrunkSID)
		if err == nil {
			return trunk, true, nil
		}
		if !telephony.IsNotFound(err) {
			return telephony.Trunk{}, false, err
		}
		// Stored id is stale (trunk deleted out of band); fall through.
		m.log.Warn("stored trunk id no longer resolves", "tenant_id", tenantID, "trunk_sid", cfg.TrunkSID)
	}

	trunks, err := provider.ListTrunks(ctx)
	if err != nil {
		return telephony.Trunk{}, false, err
	}

	prefix := tenantTrunkName(tenantID)
	var legacy []telephony.Trunk
	for _, t := range trunks {
		if strings.HasPrefix(t.FriendlyName, prefix) || strings.HasPrefix(t.DomainName, prefix) {
			return t, true, nil
		}
		if !strings.HasPrefix(t.FriendlyName, trunkPrefix) {
			legacy = append(legacy, t)
		}
	}

	// Legacy fallback: adopt a prefix-less trunk only when there is exactly
	// one and no other tenant has claimed it. Guessing among several would
	// cross tenant boundaries.
	var unowned []telephony.Trunk
	for _, t := range legacy {
		owner, owned, err := m.store.TenantOwningTrunk(ctx, t.SID)
		if err != nil {
			return telephony.Trunk{}, false, err
		}
		if owned && owner != tenantID {
			continue
		}
		unowned = append(unowned, t)
	}
	switch len(unowned) {
	case 0:
		return telephony.Trunk{}, false, nil
	case 1:
		return unowned[0], true, nil
	default:
		sids := make([]string, len(unowned))
		for i, t := range unowned {
			sids[i] = t.SID
		}
		return telephony.Trunk{}, false, &AmbiguousResourceError{Resource: "trunk", Candidates: sids}
	}
}

// adopt canonicalizes an existing trunk: its first credential wins, a second
// is never created, and the well-known password is re-encrypted into the
// config because the provider never returns a stored secret in plaintext.
func (m *TrunkManager) adopt(ctx context.Context, provider telephony.Provider, cfg tenantstore.TelephonyConfig, trunk telephony.Trunk) (TrunkInfo, error) {
	lists, err := provider.ListTrunkCredentialLists(ctx, trunk.SID)
	if err != nil {
		return TrunkInfo{}, err
	}

	var (
		listSID  string
		cred     telephony.Credential
		password string
	)
	if len(lists) > 0 {
		listSID = lists[0].SID
		creds, err := provider.ListCredentials(ctx, listSID)
		if err != nil {
			return TrunkInfo{}, err
		}
		if len(creds) > 0 {
			cred = creds[0]
			if m.sharedPassword != "" {
				password = m.sharedPassword
			} else {
				// No shared password policy: rotate in place, keeping the
				// canonical username so provider-side references survive.
				password = randomPassword()
				if err := provider.DeleteCredential(ctx, listSID, cred.SID); err != nil {
					return TrunkInfo{}, err
				}
				cred, err = provider.CreateCredential(ctx, listSID, cred.Username, password)
				if err != nil {
					return TrunkInfo{}, err
				}
			}
		}
	}
	if cred.SID == "" {
		listSID, cred, password, err = m.ensureCredential(ctx, provider, trunk, sipUsername(cfg.TenantID))
		if err != nil {
			return TrunkInfo{}, err
		}
	}

	encrypted, err := m.vault.EncryptField(password, sipPasswordContext)
	if err != nil {
		return TrunkInfo{}, err
	}

	cfg.TrunkSID = trunk.SID
	cfg.CredentialListSID = listSID
	cfg.CredentialSID = cred.SID
	cfg.SIPUsername = cred.Username
	cfg.SIPPassword = encrypted
	cfg.TerminationURIs = terminationURIs(trunk.DomainName)
	cfg.SetupStatus = tenantstore.SetupStatusComplete
	m.stampConfig(&cfg)
	if err := m.store.UpsertConfig(ctx, cfg); err != nil {
		return TrunkInfo{}, err
	}

	return TrunkInfo{
		TrunkSID:        trunk.SID,
		DomainName:      trunk.DomainName,
		SIPUsername:     cred.Username,
		TerminationURIs: cfg.TerminationURIs,
	}, nil
}

// create provisions a fresh tenant-scoped trunk. Any failure after trunk
// creation deletes the trunk before the error propagates.
func (m *TrunkManager) create(ctx context.Context, provider telephony.Provider, cfg tenantstore.TelephonyConfig) (TrunkInfo, error) {
	name := tenantTrunkName(cfg.TenantID)
	// Random suffix avoids domain collisions on re-create.
	domain := name + "-" + shortSuffix() + trunkDomainSuffix

	trunk, err := provider.CreateTrunk(ctx, name, domain)
	if err != nil {
		return TrunkInfo{}, err
	}

	sg := saga.New("trunk-setup", m.log)
	sg.Ran("create-trunk", trunk.SID, func(ctx context.Context) error {
		return provider.DeleteTrunk(ctx, trunk.SID)
	})

	info, err := m.configureNewTrunk(ctx, provider, cfg, trunk)
	if err == nil {
		return info, nil
	}

	rep := sg.Unwind(ctx)
	if !rep.Complete() {
		return TrunkInfo{}, &CleanupFailureError{
			Cause:       err,
			Unwind:      rep.Err(),
			OrphanedIDs: rep.OrphanedIDs(),
		}
	}
	return TrunkInfo{}, fmt.Errorf("trunk setup failed (rolled back): %w", err)
}

func (m *TrunkManager) configureNewTrunk(ctx context.Context, provider telephony.Provider, cfg tenantstore.TelephonyConfig, trunk telephony.Trunk) (TrunkInfo, error) {
	listSID, cred, password, err := m.ensureCredential(ctx, provider, trunk, sipUsername(cfg.TenantID))
	if err != nil {
		return TrunkInfo{}, err
	}

	if err := provider.ConfigureOrigination(ctx, trunk.SID, m.originationURI); err != nil {
		return TrunkInfo{}, err
	}

	encrypted, err := m.vault.EncryptField(password, sipPasswordContext)
	if err != nil {
		return TrunkInfo{}, err
	}

	cfg.TrunkSID = trunk.SID
	cfg.CredentialListSID = listSID
	cfg.CredentialSID = cred.SID
	cfg.SIPUsername = cred.Username
	cfg.SIPPassword = encrypted
	cfg.TerminationURIs = terminationURIs(trunk.DomainName)
	cfg.SetupStatus = tenantstore.SetupStatusComplete
	m.stampConfig(&cfg)
	if err := m.store.UpsertConfig(ctx, cfg); err != nil {
		return TrunkInfo{}, err
	}

	m.log.Info("trunk provisioned", "tenant_id", cfg.TenantID, "trunk_sid", trunk.SID)
	return TrunkInfo{
		TrunkSID:        trunk.SID,
		DomainName:      trunk.DomainName,
		SIPUsername:     cred.Username,
		TerminationURIs: cfg.TerminationURIs,
		Created:         true,
	}, nil
}

// ensureCredential creates the credential list + credential and attaches the
// list to the trunk. Password policy: the configured shared password when set,
// otherwise a random per-tenant secret.
func (m *TrunkManager) ensureCredential(ctx context.Context, provider telephony.Provider, trunk telephony.Trunk, username string) (string, telephony.Credential, string, error) {
	password := m.sharedPassword
	if password == "" {
		password = randomPassword()
	}

	list, err := provider.CreateCredentialList(ctx, trunk.FriendlyName)
	if err != nil {
		return "", telephony.Credential{}, "", err
	}
	cred, err := provider.CreateCredential(ctx, list.SID, username, password)
	if err != nil {
		return "", telephony.Credential{}, "", err
	}
	if err := provider.AttachCredentialList(ctx, trunk.SID, list.SID); err != nil {
		return "", telephony.Credential{}, "", err
	}
	return list.SID, cred, password, nil
}

// Cleanup unsets the tenant's telephony config and deletes the provider trunk.
// Refused while owned numbers remain; release them first.
func (m *TrunkManager) Cleanup(ctx context.Context, tenantID string) error {
	m.locks.Lock(tenantID)
	defer m.locks.Unlock(tenantID)

	cfg, err := m.store.GetConfig(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenantstore.ErrNotFound) {
			return nil
		}
		return err
	}
	if cfg.TrunkSID == "" {
		return nil
	}

	owned, err := m.numbers.ListNumbers(ctx, tenantID)
	if err != nil {
		return err
	}
	if len(owned) > 0 {
		return fmt.Errorf("cannot clean up trunk %s: %d numbers still registered", cfg.TrunkSID, len(owned))
	}

	provider, err := m.providers.ForTenant(tenantID)
	if err != nil {
		return err
	}
	if err := provider.DeleteTrunk(ctx, cfg.TrunkSID); err != nil && !telephony.IsNotFound(err) {
		return err
	}
	return m.store.ClearConfig(ctx, tenantID)
}

func (m *TrunkManager) stampConfig(cfg *tenantstore.TelephonyConfig) {
	now := m.clock()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
}

/* ===================== NAMING ===================== */

// tenantTrunkName derives the deterministic per-tenant prefix. Hashing keeps
// tenant identifiers out of provider-visible names.
func tenantTrunkName(tenantID string) string {
	sum := sha256.Sum256([]byte(tenantID))
	return trunkPrefix + hex.EncodeToString(sum[:])[:12]
}

func sipUsername(tenantID string) string {
	sum := sha256.Sum256([]byte("sip-user:" + tenantID))
	return "user-" + hex.EncodeToString(sum[:])[:10]
}

// terminationURIs derives the primary and regional outbound SIP endpoints
// from the trunk domain.
func terminationURIs(domain string) []string {
	uris := []string{"sip:" + domain}
	base := strings.TrimSuffix(domain, trunkDomainSuffix)
	if base != domain {
		for _, region := range []string{"us1", "ie1"} {
			uris = append(uris, "sip:"+base+".pstn."+region+".twilio.com")
		}
	}
	return uris
}

func shortSuffix() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func randomPassword() string {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process is in no state to mint
		// credentials at all.
		panic(err)
	}
	return hex.EncodeToString(b)
}
