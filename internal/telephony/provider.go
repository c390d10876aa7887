package telephony

import (
	"context"
)

// Provider defines the provider-agnostic telephony API used by business logic.
//
// Rules:
// - No provider SDK/HTTP calls outside telephony adapters.
// - Keep request/response types provider-agnostic; raw payloads stay inside
//   the adapter.
// - Every call must honor ctx and carry an explicit network timeout.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// Trunks
	CreateTrunk(ctx context.Context, friendlyName, domainName string) (Trunk, error)
	FetchTrunk(ctx context.Context, trunkSID string) (Trunk, error)
	ListTrunks(ctx context.Context) ([]Trunk, error)
	DeleteTrunk(ctx context.Context, trunkSID string) error

	// SIP credential lists
	CreateCredentialList(ctx context.Context, friendlyName string) (CredentialList, error)
	ListTrunkCredentialLists(ctx context.Context, trunkSID string) ([]CredentialList, error)
	AttachCredentialList(ctx context.Context, trunkSID, listSID string) error
	CreateCredential(ctx context.Context, listSID, username, password string) (Credential, error)
	ListCredentials(ctx context.Context, listSID string) ([]Credential, error)
	DeleteCredential(ctx context.Context, listSID, credentialSID string) error

	// Routing
	ConfigureOrigination(ctx context.Context, trunkSID, sipURI string) error

	// Phone numbers
	SearchNumbers(ctx context.Context, req SearchRequest) ([]AvailableNumber, error)
	PurchaseNumber(ctx context.Context, number string, opts PurchaseOptions) (IncomingNumber, error)
	FetchNumberByDigits(ctx context.Context, number string) (IncomingNumber, bool, error)
	DeleteNumber(ctx context.Context, numberSID string) error
	ResetNumberCallbacks(ctx context.Context, numberSID string) error

	// Trunk registration
	AttachNumberToTrunk(ctx context.Context, trunkSID, numberSID string) error
	DetachNumberFromTrunk(ctx context.Context, trunkSID, numberSID string) error

	// Regulatory
	AssignEmergencyAddress(ctx context.Context, numberSID, addressSID string) error
	ReleaseEmergencyAddress(ctx context.Context, numberSID string) error
	EmergencyAddressStatus(ctx context.Context, numberSID string) (EmergencyStatus, error)
}

// Trunk is a SIP trunk resource at the provider.
type Trunk struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`

	// DomainName doubles as the human label and the only reliable discovery
	// key for tenant ownership.
	DomainName string `json:"domain_name"`
}

// CredentialList groups SIP credentials attachable to a trunk.
type CredentialList struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
}

// Credential is a SIP credential; the provider never returns the password.
type Credential struct {
	SID      string `json:"sid"`
	Username string `json:"username"`
}

// NumberType categorizes phone numbers. Regulatory bundles are type-specific,
// so substitutions across types are never safe.
type NumberType string

const (
	NumberTypeLocal    NumberType = "local"
	NumberTypeMobile   NumberType = "mobile"
	NumberTypeTollFree NumberType = "toll_free"
)

// SearchRequest queries available numbers in one category.
type SearchRequest struct {
	Country  string     `json:"country"`
	AreaCode string     `json:"area_code,omitempty"`
	Type     NumberType `json:"type"`
	Contains string     `json:"contains,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

// AvailableNumber is a purchasable candidate.
type AvailableNumber struct {
	Number   string     `json:"number"` // E.164
	Country  string     `json:"country"`
	Type     NumberType `json:"type"`
	Locality string     `json:"locality,omitempty"`
	AreaCode string     `json:"area_code,omitempty"`
}

// PurchaseOptions carries regulatory references required by some countries.
type PurchaseOptions struct {
	AddressSID string `json:"address_sid,omitempty"`
	BundleSID  string `json:"bundle_sid,omitempty"`
}

// IncomingNumber is a number owned by the account.
type IncomingNumber struct {
	SID                 string `json:"sid"`
	Number              string `json:"number"` // E.164
	TrunkSID            string `json:"trunk_sid,omitempty"`
	EmergencyAddressSID string `json:"emergency_address_sid,omitempty"`
}

// EmergencyStatus is the provider-reported state of an emergency address
// registration on a number.
type EmergencyStatus string

const (
	EmergencyStatusRegistered  EmergencyStatus = "registered"
	EmergencyStatusUnassigned  EmergencyStatus = "unassigned"
	EmergencyStatusPendingLoss EmergencyStatus = "pending_loss"
)
