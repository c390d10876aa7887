package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voice-platform/internal/config"
)

// TwilioClient implements Provider against the Twilio REST APIs
// (core 2010-04-01 for numbers/addresses, trunking v1 for SIP trunks).
//
// There is deliberately no circuit breaker here; repeated failures propagate
// to the workflow layer, which owns retry policy.
type TwilioClient struct {
	accountSID string
	authToken  string
	coreBase   string
	trunkBase  string

	tenantID string
	http     *http.Client
	log      *slog.Logger
}

const (
	defaultCoreBase     = "https://api.twilio.com/2010-04-01"
	defaultTrunkingBase = "https://trunking.twilio.com/v1"

	requestTimeout = 15 * time.Second
)

// NewTwilioClient builds a client scoped to one tenant for logging and
// memoization purposes. cfg.BaseURL overrides both API hosts (used in tests
// and simulators).
func NewTwilioClient(cfg config.ProviderConfig, tenantID string, log *slog.Logger) *TwilioClient {
	coreBase := defaultCoreBase
	trunkBase := defaultTrunkingBase
	if cfg.BaseURL != "" {
		coreBase = strings.TrimSuffix(cfg.BaseURL, "/") + "/2010-04-01"
		trunkBase = strings.TrimSuffix(cfg.BaseURL, "/") + "/v1"
	}
	if log == nil {
		log = slog.Default()
	}
	return &TwilioClient{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		coreBase:   coreBase,
		trunkBase:  trunkBase,
		tenantID:   tenantID,
		http:       &http.Client{Timeout: requestTimeout},
		log:        log.With("provider", "twilio", "tenant_id", tenantID),
	}
}

func (c *TwilioClient) Name() string { return "twilio" }

func (c *TwilioClient) HealthCheck(ctx context.Context) error {
	var out struct {
		SID string `json:"sid"`
	}
	return c.do(ctx, http.MethodGet, c.accountURL(".json"), nil, &out)
}

/* ===================== TRUNKS ===================== */

type trunkPayload struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	DomainName   string `json:"domain_name"`
}

func (p trunkPayload) toTrunk() Trunk {
	return Trunk{SID: p.SID, FriendlyName: p.FriendlyName, DomainName: p.DomainName}
}

func (c *TwilioClient) CreateTrunk(ctx context.Context, friendlyName, domainName string) (Trunk, error) {
	form := url.Values{}
	form.Set("FriendlyName", friendlyName)
	form.Set("DomainName", domainName)

	var out trunkPayload
	if err := c.do(ctx, http.MethodPost, c.trunkBase+"/Trunks", form, &out); err != nil {
		return Trunk{}, err
	}
	return out.toTrunk(), nil
}

func (c *TwilioClient) FetchTrunk(ctx context.Context, trunkSID string) (Trunk, error) {
	var out trunkPayload
	if err := c.do(ctx, http.MethodGet, c.trunkBase+"/Trunks/"+trunkSID, nil, &out); err != nil {
		return Trunk{}, err
	}
	return out.toTrunk(), nil
}

func (c *TwilioClient) ListTrunks(ctx context.Context) ([]Trunk, error) {
	var out struct {
		Trunks []trunkPayload `json:"trunks"`
	}
	if err := c.do(ctx, http.MethodGet, c.trunkBase+"/Trunks?PageSize=200", nil, &out); err != nil {
		return nil, err
	}
	trunks := make([]Trunk, 0, len(out.Trunks))
	for _, t := range out.Trunks {
		trunks = append(trunks, t.toTrunk())
	}
	return trunks, nil
}

func (c *TwilioClient) DeleteTrunk(ctx context.Context, trunkSID string) error {
	return c.do(ctx, http.MethodDelete, c.trunkBase+"/Trunks/"+trunkSID, nil, nil)
}

/* ===================== CREDENTIALS ===================== */

type credentialListPayload struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
}

func (c *TwilioClient) CreateCredentialList(ctx context.Context, friendlyName string) (CredentialList, error) {
	form := url.Values{}
	form.Set("FriendlyName", friendlyName)

	var out credentialListPayload
	if err := c.do(ctx, http.MethodPost, c.accountURL("/SIP/CredentialLists.json"), form, &out); err != nil {
		return CredentialList{}, err
	}
	return CredentialList{SID: out.SID, FriendlyName: out.FriendlyName}, nil
}

func (c *TwilioClient) ListTrunkCredentialLists(ctx context.Context, trunkSID string) ([]CredentialList, error) {
	var out struct {
		CredentialLists []credentialListPayload `json:"credential_lists"`
	}
	if err := c.do(ctx, http.MethodGet, c.trunkBase+"/Trunks/"+trunkSID+"/CredentialLists", nil, &out); err != nil {
		return nil, err
	}
	lists := make([]CredentialList, 0, len(out.CredentialLists))
	for _, l := range out.CredentialLists {
		lists = append(lists, CredentialList{SID: l.SID, FriendlyName: l.FriendlyName})
	}
	return lists, nil
}

func (c *TwilioClient) AttachCredentialList(ctx context.Context, trunkSID, listSID string) error {
	form := url.Values{}
	form.Set("CredentialListSid", listSID)
	return c.do(ctx, http.MethodPost, c.trunkBase+"/Trunks/"+trunkSID+"/CredentialLists", form, nil)
}

func (c *TwilioClient) CreateCredential(ctx context.Context, listSID, username, password string) (Credential, error) {
	form := url.Values{}
	form.Set("Username", username)
	form.Set("Password", password)

	var out struct {
		SID      string `json:"sid"`
		Username string `json:"username"`
	}
	path := c.accountURL("/SIP/CredentialLists/" + listSID + "/Credentials.json")
	if err := c.do(ctx, http.MethodPost, path, form, &out); err != nil {
		return Credential{}, err
	}
	return Credential{SID: out.SID, Username: out.Username}, nil
}

func (c *TwilioClient) ListCredentials(ctx context.Context, listSID string) ([]Credential, error) {
	var out struct {
		Credentials []struct {
			SID      string `json:"sid"`
			Username string `json:"username"`
		} `json:"credentials"`
	}
	path := c.accountURL("/SIP/CredentialLists/" + listSID + "/Credentials.json")
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	creds := make([]Credential, 0, len(out.Credentials))
	for _, cr := range out.Credentials {
		creds = append(creds, Credential{SID: cr.SID, Username: cr.Username})
	}
	return creds, nil
}

func (c *TwilioClient) DeleteCredential(ctx context.Context, listSID, credentialSID string) error {
	path := c.accountURL("/SIP/CredentialLists/" + listSID + "/Credentials/" + credentialSID + ".json")
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

/* ===================== ROUTING ===================== */

func (c *TwilioClient) ConfigureOrigination(ctx context.Context, trunkSID, sipURI string) error {
	form := url.Values{}
	form.Set("FriendlyName", "inbound")
	form.Set("SipUrl", sipURI)
	form.Set("Weight", "10")
	form.Set("Priority", "10")
	form.Set("Enabled", "true")
	return c.do(ctx, http.MethodPost, c.trunkBase+"/Trunks/"+trunkSID+"/OriginationUrls", form, nil)
}

/* ===================== NUMBERS ===================== */

type incomingNumberPayload struct {
	SID                 string `json:"sid"`
	PhoneNumber         string `json:"phone_number"`
	TrunkSID            string `json:"trunk_sid"`
	EmergencyAddressSID string `json:"emergency_address_sid"`
}

func (p incomingNumberPayload) toNumber() IncomingNumber {
	return IncomingNumber{
		SID:                 p.SID,
		Number:              p.PhoneNumber,
		TrunkSID:            p.TrunkSID,
		EmergencyAddressSID: p.EmergencyAddressSID,
	}
}

func searchPathSegment(t NumberType) string {
	switch t {
	case NumberTypeMobile:
		return "Mobile"
	case NumberTypeTollFree:
		return "TollFree"
	default:
		return "Local"
	}
}

func (c *TwilioClient) SearchNumbers(ctx context.Context, req SearchRequest) ([]AvailableNumber, error) {
	q := url.Values{}
	if req.AreaCode != "" {
		q.Set("AreaCode", req.AreaCode)
	}
	if req.Contains != "" {
		q.Set("Contains", req.Contains)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	q.Set("PageSize", fmt.Sprintf("%d", limit))

	path := c.accountURL("/AvailablePhoneNumbers/" + req.Country + "/" + searchPathSegment(req.Type) + ".json?" + q.Encode())

	var out struct {
		AvailablePhoneNumbers []struct {
			PhoneNumber string `json:"phone_number"`
			ISOCountry  string `json:"iso_country"`
			Locality    string `json:"locality"`
		} `json:"available_phone_numbers"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	nums := make([]AvailableNumber, 0, len(out.AvailablePhoneNumbers))
	for _, n := range out.AvailablePhoneNumbers {
		nums = append(nums, AvailableNumber{
			Number:   n.PhoneNumber,
			Country:  n.ISOCountry,
			Type:     req.Type,
			Locality: n.Locality,
		})
	}
	return nums, nil
}

func (c *TwilioClient) PurchaseNumber(ctx context.Context, number string, opts PurchaseOptions) (IncomingNumber, error) {
	form := url.Values{}
	form.Set("PhoneNumber", number)
	if opts.AddressSID != "" {
		form.Set("AddressSid", opts.AddressSID)
	}
	if opts.BundleSID != "" {
		form.Set("BundleSid", opts.BundleSID)
	}

	var out incomingNumberPayload
	if err := c.do(ctx, http.MethodPost, c.accountURL("/IncomingPhoneNumbers.json"), form, &out); err != nil {
		return IncomingNumber{}, err
	}
	return out.toNumber(), nil
}

func (c *TwilioClient) FetchNumberByDigits(ctx context.Context, number string) (IncomingNumber, bool, error) {
	q := url.Values{}
	q.Set("PhoneNumber", number)

	var out struct {
		IncomingPhoneNumbers []incomingNumberPayload `json:"incoming_phone_numbers"`
	}
	path := c.accountURL("/IncomingPhoneNumbers.json?" + q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return IncomingNumber{}, false, err
	}
	if len(out.IncomingPhoneNumbers) == 0 {
		return IncomingNumber{}, false, nil
	}
	return out.IncomingPhoneNumbers[0].toNumber(), true, nil
}

func (c *TwilioClient) DeleteNumber(ctx context.Context, numberSID string) error {
	return c.do(ctx, http.MethodDelete, c.accountURL("/IncomingPhoneNumbers/"+numberSID+".json"), nil, nil)
}

// ResetNumberCallbacks clears voice webhook configuration while leaving the
// number purchased.
func (c *TwilioClient) ResetNumberCallbacks(ctx context.Context, numberSID string) error {
	form := url.Values{}
	form.Set("VoiceUrl", "")
	form.Set("VoiceFallbackUrl", "")
	form.Set("StatusCallback", "")
	return c.do(ctx, http.MethodPost, c.accountURL("/IncomingPhoneNumbers/"+numberSID+".json"), form, nil)
}

func (c *TwilioClient) AttachNumberToTrunk(ctx context.Context, trunkSID, numberSID string) error {
	form := url.Values{}
	form.Set("PhoneNumberSid", numberSID)
	return c.do(ctx, http.MethodPost, c.trunkBase+"/Trunks/"+trunkSID+"/PhoneNumbers", form, nil)
}

func (c *TwilioClient) DetachNumberFromTrunk(ctx context.Context, trunkSID, numberSID string) error {
	return c.do(ctx, http.MethodDelete, c.trunkBase+"/Trunks/"+trunkSID+"/PhoneNumbers/"+numberSID, nil, nil)
}

/* ===================== REGULATORY ===================== */

func (c *TwilioClient) AssignEmergencyAddress(ctx context.Context, numberSID, addressSID string) error {
	form := url.Values{}
	form.Set("EmergencyAddressSid", addressSID)
	form.Set("EmergencyStatus", "Active")
	return c.do(ctx, http.MethodPost, c.accountURL("/IncomingPhoneNumbers/"+numberSID+".json"), form, nil)
}

func (c *TwilioClient) ReleaseEmergencyAddress(ctx context.Context, numberSID string) error {
	form := url.Values{}
	form.Set("EmergencyAddressSid", "")
	form.Set("EmergencyStatus", "Inactive")
	return c.do(ctx, http.MethodPost, c.accountURL("/IncomingPhoneNumbers/"+numberSID+".json"), form, nil)
}

func (c *TwilioClient) EmergencyAddressStatus(ctx context.Context, numberSID string) (EmergencyStatus, error) {
	var out struct {
		EmergencyAddressStatus string `json:"emergency_address_status"`
	}
	if err := c.do(ctx, http.MethodGet, c.accountURL("/IncomingPhoneNumbers/"+numberSID+".json"), nil, &out); err != nil {
		return "", err
	}
	switch out.EmergencyAddressStatus {
	case "registered":
		return EmergencyStatusRegistered, nil
	case "pending-loss", "pending-registration":
		return EmergencyStatusPendingLoss, nil
	default:
		return EmergencyStatusUnassigned, nil
	}
}

/* ===================== TRANSPORT ===================== */

func (c *TwilioClient) accountURL(suffix string) string {
	return c.coreBase + "/Accounts/" + c.accountSID + suffix
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (c *TwilioClient) do(ctx context.Context, method, rawURL string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telephony: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Op: method + " " + req.URL.Path, Status: resp.StatusCode}
		var payload errorPayload
		if jsonErr := json.Unmarshal(raw, &payload); jsonErr == nil && payload.Message != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.log.Debug("provider call failed", "op", apiErr.Op, "status", apiErr.Status, "code", apiErr.Code)
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("telephony: decode response: %w", err)
	}
	return nil
}
