package provision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voice-platform/internal/agent"
	"voice-platform/internal/vault"
	"voice-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Provisioner runs the phone-number workflows: search, purchase, import,
// agent assignment and release. It builds on the TrunkManager for trunk
// state and compensates external side effects on failure.
type Provisioner struct {
	providers Providers
	trunks    *TrunkManager
	store     ConfigStore
	numbers   NumberStore
	agents    agent.Client
	vault     *vault.Vault
	cache     *redis.Client
	log       *slog.Logger

	cacheTTL time.Duration

	// Emergency-address release polling bounds; the provider deregisters
	// asynchronously and a release is not safe until it reports unassigned.
	pollInterval time.Duration
	pollAttempts int

	clock func() time.Time
}

const (
	defaultCacheTTL     = time.Minute
	defaultPollInterval = 2 * time.Second
	defaultPollAttempts = 10

	// purchaseAttempts bounds the buy-retry loop when a searched number is
	// taken between search and purchase.
	purchaseAttempts = 3

	// inflightLimit caps concurrent provisioning workflows per tenant across
	// all api processes; each workflow fans out into many provider calls.
	inflightLimit = 3
	inflightTTL   = 5 * time.Minute
)

// ErrTooManyInFlight means the tenant already has the maximum number of
// provisioning workflows running.
var ErrTooManyInFlight = errors.New("too many provisioning operations in flight, retry shortly")

// acquireSlot takes a distributed per-tenant concurrency slot. Returns a
// release func; without redis it degrades to a no-op (the per-process
// KeyedMutex still serializes trunk setup).
func (p *Provisioner) acquireSlot(ctx context.Context, tenantID string) (func(), error) {
	if p.cache == nil {
		return func() {}, nil
	}
	key := "prov:inflight:" + tenantID
	ok, err := utils.AcquireConcurrencyCap(ctx, p.cache, key, inflightLimit, inflightTTL)
	if err != nil {
		// Redis being down must not block provisioning outright.
		p.log.Warn("concurrency cap unavailable", "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrTooManyInFlight
	}
	return func() {
		if err := utils.ReleaseConcurrencyCap(context.WithoutCancel(ctx), p.cache, key); err != nil {
			p.log.Warn("concurrency cap release failed", "error", err)
		}
	}, nil
}

func NewProvisioner(providers Providers, trunks *TrunkManager, store ConfigStore, numbers NumberStore, agents agent.Client, v *vault.Vault, cache *redis.Client, cacheTTL time.Duration, log *slog.Logger) *Provisioner {
	if log == nil {
		log = slog.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Provisioner{
		providers:    providers,
		trunks:       trunks,
		store:        store,
		numbers:      numbers,
		agents:       agents,
		vault:        v,
		cache:        cache,
		log:          log,
		cacheTTL:     cacheTTL,
		pollInterval: defaultPollInterval,
		pollAttempts: defaultPollAttempts,
		clock:        time.Now,
	}
}
