package provision

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"voice-platform/internal/telephony"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSearchProvisioner(t *testing.T, p *fakeProvider) *Provisioner {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	providers := &fakeProviders{provider: p}
	s := newFakeStore()
	trunks := NewTrunkManager(providers, s, s, testVault(t), testSIPConfig(), slog.Default())
	return NewProvisioner(providers, trunks, s, s, newFakeAgent(), testVault(t), cache, time.Minute, slog.Default())
}

func usLocal(numbers ...string) []telephony.AvailableNumber {
	out := make([]telephony.AvailableNumber, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, telephony.AvailableNumber{Number: n, Country: "US", Type: telephony.NumberTypeLocal, AreaCode: "415"})
	}
	return out
}

func TestSearch_AnnotatesRegulatoryFlags(t *testing.T) {
	p := newFakeProvider()
	p.available = usLocal("+14155550100", "+14155550101")
	pr := newSearchProvisioner(t, p)

	res, err := pr.Search(context.Background(), "t1", SearchParams{Country: "US", AreaCode: "415"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.Regulatory.EmergencyAddressRequired || res.Regulatory.BundleRequired {
		t.Fatalf("unexpected flags %+v", res.Regulatory)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(res.Candidates))
	}
	for _, c := range res.Candidates {
		if !c.Regulatory.EmergencyAddressRequired {
			t.Fatalf("candidate missing flags: %+v", c)
		}
	}
}

func TestSearch_NormalizesDialingCodeCountry(t *testing.T) {
	p := newFakeProvider()
	p.available = []telephony.AvailableNumber{
		{Number: "+447700900123", Country: "GB", Type: telephony.NumberTypeMobile},
	}
	pr := newSearchProvisioner(t, p)

	res, err := pr.Search(context.Background(), "t1", SearchParams{Country: "+44"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Country != "GB" {
		t.Fatalf("country not normalized: %q", res.Country)
	}
	if !res.Regulatory.BundleRequired {
		t.Fatal("GB must require a bundle")
	}
}

func TestSearch_DialingCodeInAreaCodeOverridesCountry(t *testing.T) {
	pr := newSearchProvisioner(t, newFakeProvider())

	res, err := pr.Search(context.Background(), "t1", SearchParams{Country: "US", AreaCode: "44"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Country != "GB" || res.AreaCode != "" {
		t.Fatalf("expected GB with dropped area code, got %q / %q", res.Country, res.AreaCode)
	}
}

func TestSearch_RejectsInvalidAreaCode(t *testing.T) {
	pr := newSearchProvisioner(t, newFakeProvider())

	if _, err := pr.Search(context.Background(), "t1", SearchParams{Country: "US", AreaCode: "145"}); err == nil {
		t.Fatal("area code starting with 1 must be rejected for US")
	}
	if _, err := pr.Search(context.Background(), "t1", SearchParams{Country: "US", AreaCode: "41a"}); err == nil {
		t.Fatal("non-digit area code must be rejected")
	}
}

func TestSearch_CachesResults(t *testing.T) {
	p := newFakeProvider()
	p.available = usLocal("+14155550100")
	pr := newSearchProvisioner(t, p)
	ctx := context.Background()

	first, err := pr.Search(ctx, "t1", SearchParams{Country: "US", AreaCode: "415"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if first.Cached {
		t.Fatal("first search must miss the cache")
	}
	providerCalls := p.callCount("SearchNumbers")

	second, err := pr.Search(ctx, "t1", SearchParams{Country: "US", AreaCode: "415"})
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if !second.Cached {
		t.Fatal("second search must hit the cache")
	}
	if got := p.callCount("SearchNumbers"); got != providerCalls {
		t.Fatalf("cached search still queried the provider (%d -> %d)", providerCalls, got)
	}
	if len(second.Candidates) != len(first.Candidates) {
		t.Fatalf("cached candidates differ: %d vs %d", len(second.Candidates), len(first.Candidates))
	}

	// Different tenant, same query: cache is tenant-scoped.
	other, err := pr.Search(ctx, "t2", SearchParams{Country: "US", AreaCode: "415"})
	if err != nil {
		t.Fatalf("other tenant Search: %v", err)
	}
	if other.Cached {
		t.Fatal("cache must not leak across tenants")
	}
}

func TestSearch_PinnedTypeQueriesOneCategory(t *testing.T) {
	p := newFakeProvider()
	p.available = usLocal("+14155550100")
	pr := newSearchProvisioner(t, p)

	_, err := pr.Search(context.Background(), "t1", SearchParams{Country: "US", Type: telephony.NumberTypeLocal})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := p.callCount("SearchNumbers"); got != 1 {
		t.Fatalf("pinned type must query once, got %d", got)
	}
}
