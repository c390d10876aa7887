package provision

import (
	"fmt"
	"strings"

	"voice-platform/internal/telephony"
)

// Normalization and lookup helpers for countries, area codes and number types.

// dialingCodes maps phone dialing codes to ISO 3166-1 alpha-2 countries.
// Longest-prefix wins when matching E.164 numbers.
var dialingCodes = map[string]string{
	"1":  "US",
	"7":  "RU",
	"20": "EG",
	"27": "ZA",
	"31": "NL",
	"32": "BE",
	"33": "FR",
	"34": "ES",
	"39": "IT",
	"44": "GB",
	"46": "SE",
	"47": "NO",
	"48": "PL",
	"49": "DE",
	"52": "MX",
	"55": "BR",
	"61": "AU",
	"64": "NZ",
	"65": "SG",
	"81": "JP",
	"82": "KR",
	"86": "CN",
	"91": "IN",
}

// emergencyAddressCountries require an emergency address before purchase.
var emergencyAddressCountries = map[string]bool{
	"US": true,
	"CA": true,
}

// bundleCountries require a regulatory bundle before purchase.
var bundleCountries = map[string]bool{
	"GB": true,
	"DE": true,
	"FR": true,
	"ES": true,
	"IT": true,
	"NL": true,
	"AU": true,
	"JP": true,
}

// RegulatoryFlags describes what a destination country demands.
type RegulatoryFlags struct {
	EmergencyAddressRequired bool `json:"emergency_address_required"`
	BundleRequired           bool `json:"bundle_required"`
}

func regulatoryFlagsFor(country string) RegulatoryFlags {
	return RegulatoryFlags{
		EmergencyAddressRequired: emergencyAddressCountries[country],
		BundleRequired:           bundleCountries[country],
	}
}

// ValidateAreaCode checks area-code syntax for a country.
// North-American codes are exactly 3 digits with a 2-9 first digit; other
// countries accept 1-5 digits.
func ValidateAreaCode(country, areaCode string) error {
	if areaCode == "" {
		return nil
	}
	for _, r := range areaCode {
		if r < '0' || r > '9' {
			return fmt.Errorf("area code %q must contain only digits", areaCode)
		}
	}
	if country == "US" || country == "CA" {
		if len(areaCode) != 3 {
			return fmt.Errorf("area code %q must be exactly 3 digits for %s", areaCode, country)
		}
		if areaCode[0] < '2' || areaCode[0] > '9' {
			return fmt.Errorf("area code %q must start with a digit 2-9 for %s", areaCode, country)
		}
		return nil
	}
	if len(areaCode) > 5 {
		return fmt.Errorf("area code %q is too long", areaCode)
	}
	return nil
}

// NormalizeCountryArea resolves the ambiguity between dialing codes and ISO
// country codes supplied in either field. A "country" like "+44" or "44"
// becomes GB; an "area code" that is really a dialing code (invalid as an
// area code for the declared country) overrides the country and is dropped.
func NormalizeCountryArea(country, areaCode string) (string, string) {
	country = strings.ToUpper(strings.TrimSpace(country))
	areaCode = strings.TrimSpace(areaCode)

	if raw := strings.TrimPrefix(country, "+"); isDigits(raw) {
		if iso, ok := dialingCodes[raw]; ok {
			country = iso
		}
	}
	if country == "" {
		country = "US"
	}

	if areaCode != "" && ValidateAreaCode(country, areaCode) != nil {
		if iso, ok := dialingCodes[strings.TrimPrefix(areaCode, "+")]; ok {
			return iso, ""
		}
	}
	return country, areaCode
}

// CountryOfNumber derives the ISO country from an E.164 number by
// longest-prefix match on dialing codes. Empty when unknown.
func CountryOfNumber(number string) string {
	digits := strings.TrimPrefix(number, "+")
	for l := 3; l >= 1; l-- {
		if len(digits) < l {
			continue
		}
		if iso, ok := dialingCodes[digits[:l]]; ok {
			return iso
		}
	}
	return ""
}

// tollFreePrefixes are NANP toll-free area codes.
var tollFreePrefixes = []string{"800", "833", "844", "855", "866", "877", "888"}

// DetectNumberType classifies an E.164 number by pattern. The type matters
// because regulatory bundles are type-specific.
func DetectNumberType(number string) telephony.NumberType {
	digits := strings.TrimPrefix(number, "+")

	if strings.HasPrefix(digits, "1") && len(digits) == 11 {
		area := digits[1:4]
		for _, p := range tollFreePrefixes {
			if area == p {
				return telephony.NumberTypeTollFree
			}
		}
		return telephony.NumberTypeLocal
	}

	// GB mobiles are +447...; a few other common mobile patterns.
	switch {
	case strings.HasPrefix(digits, "447"):
		return telephony.NumberTypeMobile
	case strings.HasPrefix(digits, "4915"), strings.HasPrefix(digits, "4916"), strings.HasPrefix(digits, "4917"):
		return telephony.NumberTypeMobile
	case strings.HasPrefix(digits, "614"):
		return telephony.NumberTypeMobile
	}
	return telephony.NumberTypeLocal
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
