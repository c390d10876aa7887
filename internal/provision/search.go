package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"voice-platform/internal/telephony"

	"github.com/redis/go-redis/v9"
)

// SearchParams is a caller-facing number search. Country and AreaCode accept
// the sloppy inputs real callers send (dialing codes, "+44", swapped fields);
// normalization resolves them before any provider query.
type SearchParams struct {
	Country  string `json:"country,omitempty"`
	AreaCode string `json:"area_code,omitempty"`
	Contains string `json:"contains,omitempty"`

	// Type restricts the search to one category; empty searches the
	// categories relevant to the country.
	Type  telephony.NumberType `json:"type,omitempty"`
	Limit int                  `json:"limit,omitempty"`
}

// Candidate is an available number annotated with what buying it will demand.
type Candidate struct {
	telephony.AvailableNumber
	Regulatory RegulatoryFlags `json:"regulatory"`
}

// SearchResult reports the resolved query and its candidates.
type SearchResult struct {
	Country    string          `json:"country"`
	AreaCode   string          `json:"area_code,omitempty"`
	Regulatory RegulatoryFlags `json:"regulatory"`
	Candidates []Candidate     `json:"candidates"`
	Cached     bool            `json:"cached"`
}

// Search lists purchasable numbers for the tenant. Results are cached briefly
// per query; availability data is stale within seconds anyway and the cache
// keeps bursty UI polling off the provider.
func (p *Provisioner) Search(ctx context.Context, tenantID string, params SearchParams) (SearchResult, error) {
	country, areaCode := NormalizeCountryArea(params.Country, params.AreaCode)
	if err := ValidateAreaCode(country, areaCode); err != nil {
		return SearchResult{}, err
	}

	flags := regulatoryFlagsFor(country)
	result := SearchResult{Country: country, AreaCode: areaCode, Regulatory: flags}

	key := searchCacheKey(tenantID, country, areaCode, params.Contains, params.Type)
	if cached, ok := p.cachedSearch(ctx, key); ok {
		result.Candidates = cached
		result.Cached = true
		return result, nil
	}

	provider, err := p.providers.ForTenant(tenantID)
	if err != nil {
		return SearchResult{}, err
	}

	limit := params.Limit
	if limit <= 0 || limit > 30 {
		limit = 30
	}

	var candidates []Candidate
	for _, nt := range searchTypes(country, params.Type) {
		nums, err := provider.SearchNumbers(ctx, telephony.SearchRequest{
			Country:  country,
			AreaCode: areaCode,
			Type:     nt,
			Contains: params.Contains,
			Limit:    limit,
		})
		if err != nil {
			// A category can be unsupported in a country; skip it rather
			// than failing the whole search.
			if telephony.IsNotFound(err) {
				continue
			}
			return SearchResult{}, fmt.Errorf("search %s numbers: %w", nt, err)
		}
		for _, n := range nums {
			if n.Country == "" {
				n.Country = country
			}
			candidates = append(candidates, Candidate{AvailableNumber: n, Regulatory: flags})
		}
	}

	p.storeSearch(ctx, key, candidates)
	result.Candidates = candidates
	return result, nil
}

// searchTypes picks the categories to query when the caller did not pin one.
// Mobile numbers are not a NANP concept; toll-free search outside NANP is
// rarely supported and never what a caller left the type blank for.
func searchTypes(country string, pinned telephony.NumberType) []telephony.NumberType {
	if pinned != "" {
		return []telephony.NumberType{pinned}
	}
	switch country {
	case "US", "CA":
		return []telephony.NumberType{telephony.NumberTypeLocal, telephony.NumberTypeTollFree}
	default:
		return []telephony.NumberType{telephony.NumberTypeLocal, telephony.NumberTypeMobile}
	}
}

func searchCacheKey(tenantID, country, areaCode, contains string, nt telephony.NumberType) string {
	return strings.Join([]string{"numsearch", tenantID, country, areaCode, contains, string(nt)}, ":")
}

func (p *Provisioner) cachedSearch(ctx context.Context, key string) ([]Candidate, bool) {
	if p.cache == nil {
		return nil, false
	}
	raw, err := p.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			p.log.Warn("search cache read failed", "error", err)
		}
		return nil, false
	}
	var out []Candidate
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (p *Provisioner) storeSearch(ctx context.Context, key string, candidates []Candidate) {
	if p.cache == nil || len(candidates) == 0 {
		return
	}
	raw, err := json.Marshal(candidates)
	if err != nil {
		return
	}
	ttl := p.cacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := p.cache.Set(ctx, key, raw, ttl).Err(); err != nil {
		p.log.Warn("search cache write failed", "error", err)
	}
}
