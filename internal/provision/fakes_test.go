package provision

import (
	"context"
	"fmt"
	"sync"

	"voice-platform/internal/agent"
	"voice-platform/internal/telephony"
	"voice-platform/internal/tenantstore"
)

// In-memory fakes shared by the workflow tests. The provider fake keeps
// per-method call logs so tests can assert on side effects and ordering.

type fakeProvider struct {
	mu sync.Mutex

	trunks      map[string]telephony.Trunk
	lists       map[string]telephony.CredentialList
	trunkLists  map[string][]string // trunkSID -> listSIDs
	credentials map[string][]telephony.Credential
	numbers     map[string]telephony.IncomingNumber // SID -> number
	origination map[string]string

	available []telephony.AvailableNumber

	emergencyStatus map[string]telephony.EmergencyStatus

	// errors injected per operation name, e.g. "CreateCredential".
	fail map[string]error
	// one-shot errors, consumed in order before fail is consulted.
	failQueue map[string][]error

	// stickyEmergency keeps the emergency status frozen across releases,
	// simulating slow provider-side deregistration.
	stickyEmergency bool

	calls []string
	seq   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		trunks:          map[string]telephony.Trunk{},
		lists:           map[string]telephony.CredentialList{},
		trunkLists:      map[string][]string{},
		credentials:     map[string][]telephony.Credential{},
		numbers:         map[string]telephony.IncomingNumber{},
		origination:     map[string]string{},
		emergencyStatus: map[string]telephony.EmergencyStatus{},
		fail:            map[string]error{},
		failQueue:       map[string][]error{},
	}
}

func (f *fakeProvider) failOn(op string, err error) { f.fail[op] = err }

func (f *fakeProvider) failOnce(op string, err error) {
	f.failQueue[op] = append(f.failQueue[op], err)
}

func (f *fakeProvider) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if q := f.failQueue[op]; len(q) > 0 {
		f.failQueue[op] = q[1:]
		return q[0]
	}
	return f.fail[op]
}

func (f *fakeProvider) nextSID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s%03d", prefix, f.seq)
}

func (f *fakeProvider) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeProvider) Name() string                      { return "fake" }
func (f *fakeProvider) HealthCheck(context.Context) error { return nil }

func (f *fakeProvider) CreateTrunk(_ context.Context, friendlyName, domainName string) (telephony.Trunk, error) {
	if err := f.record("CreateTrunk"); err != nil {
		return telephony.Trunk{}, err
	}
	t := telephony.Trunk{SID: f.nextSID("TK"), FriendlyName: friendlyName, DomainName: domainName}
	f.trunks[t.SID] = t
	return t, nil
}

func (f *fakeProvider) FetchTrunk(_ context.Context, trunkSID string) (telephony.Trunk, error) {
	if err := f.record("FetchTrunk"); err != nil {
		return telephony.Trunk{}, err
	}
	t, ok := f.trunks[trunkSID]
	if !ok {
		return telephony.Trunk{}, &telephony.APIError{Op: "FetchTrunk", Status: 404, Code: 20404}
	}
	return t, nil
}

func (f *fakeProvider) ListTrunks(context.Context) ([]telephony.Trunk, error) {
	if err := f.record("ListTrunks"); err != nil {
		return nil, err
	}
	out := make([]telephony.Trunk, 0, len(f.trunks))
	for _, t := range f.trunks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeProvider) DeleteTrunk(_ context.Context, trunkSID string) error {
	if err := f.record("DeleteTrunk"); err != nil {
		return err
	}
	delete(f.trunks, trunkSID)
	return nil
}

func (f *fakeProvider) CreateCredentialList(_ context.Context, friendlyName string) (telephony.CredentialList, error) {
	if err := f.record("CreateCredentialList"); err != nil {
		return telephony.CredentialList{}, err
	}
	l := telephony.CredentialList{SID: f.nextSID("CL"), FriendlyName: friendlyName}
	f.lists[l.SID] = l
	return l, nil
}

func (f *fakeProvider) ListTrunkCredentialLists(_ context.Context, trunkSID string) ([]telephony.CredentialList, error) {
	if err := f.record("ListTrunkCredentialLists"); err != nil {
		return nil, err
	}
	var out []telephony.CredentialList
	for _, sid := range f.trunkLists[trunkSID] {
		out = append(out, f.lists[sid])
	}
	return out, nil
}

func (f *fakeProvider) AttachCredentialList(_ context.Context, trunkSID, listSID string) error {
	if err := f.record("AttachCredentialList"); err != nil {
		return err
	}
	f.trunkLists[trunkSID] = append(f.trunkLists[trunkSID], listSID)
	return nil
}

func (f *fakeProvider) CreateCredential(_ context.Context, listSID, username, _ string) (telephony.Credential, error) {
	if err := f.record("CreateCredential"); err != nil {
		return telephony.Credential{}, err
	}
	c := telephony.Credential{SID: f.nextSID("CR"), Username: username}
	f.credentials[listSID] = append(f.credentials[listSID], c)
	return c, nil
}

func (f *fakeProvider) ListCredentials(_ context.Context, listSID string) ([]telephony.Credential, error) {
	if err := f.record("ListCredentials"); err != nil {
		return nil, err
	}
	return f.credentials[listSID], nil
}

func (f *fakeProvider) DeleteCredential(_ context.Context, listSID, credentialSID string) error {
	if err := f.record("DeleteCredential"); err != nil {
		return err
	}
	creds := f.credentials[listSID]
	for i, c := range creds {
		if c.SID == credentialSID {
			f.credentials[listSID] = append(creds[:i], creds[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeProvider) ConfigureOrigination(_ context.Context, trunkSID, sipURI string) error {
	if err := f.record("ConfigureOrigination"); err != nil {
		return err
	}
	f.origination[trunkSID] = sipURI
	return nil
}

func (f *fakeProvider) SearchNumbers(_ context.Context, req telephony.SearchRequest) ([]telephony.AvailableNumber, error) {
	if err := f.record("SearchNumbers"); err != nil {
		return nil, err
	}
	var out []telephony.AvailableNumber
	for _, n := range f.available {
		if req.Country != "" && n.Country != req.Country {
			continue
		}
		if req.Type != "" && n.Type != req.Type {
			continue
		}
		if req.AreaCode != "" && n.AreaCode != req.AreaCode {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeProvider) PurchaseNumber(_ context.Context, number string, _ telephony.PurchaseOptions) (telephony.IncomingNumber, error) {
	if err := f.record("PurchaseNumber"); err != nil {
		return telephony.IncomingNumber{}, err
	}
	n := telephony.IncomingNumber{SID: f.nextSID("PN"), Number: number}
	f.numbers[n.SID] = n
	return n, nil
}

func (f *fakeProvider) FetchNumberByDigits(_ context.Context, number string) (telephony.IncomingNumber, bool, error) {
	if err := f.record("FetchNumberByDigits"); err != nil {
		return telephony.IncomingNumber{}, false, err
	}
	for _, n := range f.numbers {
		if n.Number == number {
			return n, true, nil
		}
	}
	return telephony.IncomingNumber{}, false, nil
}

func (f *fakeProvider) DeleteNumber(_ context.Context, numberSID string) error {
	if err := f.record("DeleteNumber"); err != nil {
		return err
	}
	delete(f.numbers, numberSID)
	return nil
}

func (f *fakeProvider) ResetNumberCallbacks(_ context.Context, numberSID string) error {
	return f.record("ResetNumberCallbacks")
}

func (f *fakeProvider) AttachNumberToTrunk(_ context.Context, trunkSID, numberSID string) error {
	if err := f.record("AttachNumberToTrunk"); err != nil {
		return err
	}
	n := f.numbers[numberSID]
	n.TrunkSID = trunkSID
	f.numbers[numberSID] = n
	return nil
}

func (f *fakeProvider) DetachNumberFromTrunk(_ context.Context, _, numberSID string) error {
	if err := f.record("DetachNumberFromTrunk"); err != nil {
		return err
	}
	n := f.numbers[numberSID]
	n.TrunkSID = ""
	f.numbers[numberSID] = n
	return nil
}

func (f *fakeProvider) AssignEmergencyAddress(_ context.Context, numberSID, addressSID string) error {
	if err := f.record("AssignEmergencyAddress"); err != nil {
		return err
	}
	n := f.numbers[numberSID]
	n.EmergencyAddressSID = addressSID
	f.numbers[numberSID] = n
	f.emergencyStatus[numberSID] = telephony.EmergencyStatusRegistered
	return nil
}

func (f *fakeProvider) ReleaseEmergencyAddress(_ context.Context, numberSID string) error {
	if err := f.record("ReleaseEmergencyAddress"); err != nil {
		return err
	}
	n := f.numbers[numberSID]
	n.EmergencyAddressSID = ""
	f.numbers[numberSID] = n
	if !f.stickyEmergency {
		f.emergencyStatus[numberSID] = telephony.EmergencyStatusUnassigned
	}
	return nil
}

func (f *fakeProvider) EmergencyAddressStatus(_ context.Context, numberSID string) (telephony.EmergencyStatus, error) {
	if err := f.record("EmergencyAddressStatus"); err != nil {
		return "", err
	}
	st, ok := f.emergencyStatus[numberSID]
	if !ok {
		return telephony.EmergencyStatusUnassigned, nil
	}
	return st, nil
}

type fakeAgent struct {
	mu      sync.Mutex
	numbers map[string]agent.PhoneNumber
	fail    map[string]error
	seq     int
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{numbers: map[string]agent.PhoneNumber{}, fail: map[string]error{}}
}

func (a *fakeAgent) failOn(op string, err error) { a.fail[op] = err }

func (a *fakeAgent) ImportPhoneNumber(_ context.Context, req agent.ImportRequest) (agent.PhoneNumber, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail["ImportPhoneNumber"]; err != nil {
		return agent.PhoneNumber{}, err
	}
	a.seq++
	pn := agent.PhoneNumber{ID: fmt.Sprintf("apn-%03d", a.seq), Number: req.Number, Nickname: req.Nickname}
	a.numbers[req.Number] = pn
	return pn, nil
}

func (a *fakeAgent) UpdatePhoneNumber(_ context.Context, number string, req agent.UpdateRequest) (agent.PhoneNumber, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail["UpdatePhoneNumber"]; err != nil {
		return agent.PhoneNumber{}, err
	}
	pn, ok := a.numbers[number]
	if !ok {
		return agent.PhoneNumber{}, &agent.APIError{Op: "UpdatePhoneNumber", Status: 404, Message: "unknown number"}
	}
	if req.InboundAgentID != nil {
		pn.InboundAgentID = *req.InboundAgentID
	}
	if req.OutboundAgentID != nil {
		pn.OutboundAgentID = *req.OutboundAgentID
	}
	if req.Nickname != nil {
		pn.Nickname = *req.Nickname
	}
	if pn.InboundAgentID != "" || pn.OutboundAgentID != "" {
		v := int64(len(a.numbers) + 40)
		pn.AgentVersion = &v
	} else {
		pn.AgentVersion = nil
	}
	a.numbers[number] = pn
	return pn, nil
}

func (a *fakeAgent) DeletePhoneNumber(_ context.Context, number string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail["DeletePhoneNumber"]; err != nil {
		return err
	}
	if _, ok := a.numbers[number]; !ok {
		return &agent.APIError{Op: "DeletePhoneNumber", Status: 404, Message: "unknown number"}
	}
	delete(a.numbers, number)
	return nil
}

func (a *fakeAgent) ListPhoneNumbers(context.Context) ([]agent.PhoneNumber, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail["ListPhoneNumbers"]; err != nil {
		return nil, err
	}
	out := make([]agent.PhoneNumber, 0, len(a.numbers))
	for _, pn := range a.numbers {
		out = append(out, pn)
	}
	return out, nil
}

type fakeProviders struct {
	provider telephony.Provider
	err      error
}

func (f *fakeProviders) ForTenant(string) (telephony.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

type fakeStore struct {
	mu      sync.Mutex
	configs map[string]tenantstore.TelephonyConfig
	numbers map[string]tenantstore.OwnedNumber // tenantID+"|"+number
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		configs: map[string]tenantstore.TelephonyConfig{},
		numbers: map[string]tenantstore.OwnedNumber{},
	}
}

func (s *fakeStore) GetConfig(_ context.Context, tenantID string) (tenantstore.TelephonyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[tenantID]
	if !ok {
		return tenantstore.TelephonyConfig{}, tenantstore.ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) UpsertConfig(_ context.Context, c tenantstore.TelephonyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[c.TenantID] = c
	return nil
}

func (s *fakeStore) ClearConfig(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[tenantID]
	if !ok {
		return tenantstore.ErrNotFound
	}
	s.configs[tenantID] = tenantstore.TelephonyConfig{
		TenantID:    tenantID,
		SetupStatus: tenantstore.SetupStatusCleared,
		CreatedAt:   c.CreatedAt,
	}
	return nil
}

func (s *fakeStore) TenantOwningTrunk(_ context.Context, trunkSID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.configs {
		if c.TrunkSID == trunkSID {
			return id, true, nil
		}
	}
	return "", false, nil
}

func numberKey(tenantID, number string) string { return tenantID + "|" + number }

func (s *fakeStore) CreateNumber(_ context.Context, n tenantstore.OwnedNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirror the real table's PRIMARY KEY (tenant_id, number).
	if _, ok := s.numbers[numberKey(n.TenantID, n.Number)]; ok {
		return fmt.Errorf("insert %s: duplicate key value violates unique constraint %q", n.Number, "phone_numbers_pkey")
	}
	s.numbers[numberKey(n.TenantID, n.Number)] = n
	return nil
}

func (s *fakeStore) MarkImported(_ context.Context, tenantID, number, agentPlatformID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.numbers[numberKey(tenantID, number)]
	if !ok {
		return tenantstore.ErrNotFound
	}
	n.Imported = true
	n.AgentPlatformID = agentPlatformID
	s.numbers[numberKey(tenantID, number)] = n
	return nil
}

func (s *fakeStore) GetNumber(_ context.Context, tenantID, number string) (tenantstore.OwnedNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.numbers[numberKey(tenantID, number)]
	if !ok {
		return tenantstore.OwnedNumber{}, tenantstore.ErrNotFound
	}
	return n, nil
}

func (s *fakeStore) ListNumbers(_ context.Context, tenantID string) ([]tenantstore.OwnedNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tenantstore.OwnedNumber
	for _, n := range s.numbers {
		if n.TenantID == tenantID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateAssignment(_ context.Context, tenantID, number, inboundAgentID, outboundAgentID, nickname string, version *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.numbers[numberKey(tenantID, number)]
	if !ok {
		return tenantstore.ErrNotFound
	}
	n.InboundAgentID = inboundAgentID
	n.OutboundAgentID = outboundAgentID
	n.Nickname = nickname
	n.AgentVersion = version
	s.numbers[numberKey(tenantID, number)] = n
	return nil
}

func (s *fakeStore) DeleteNumber(_ context.Context, tenantID, number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.numbers[numberKey(tenantID, number)]; !ok {
		return tenantstore.ErrNotFound
	}
	delete(s.numbers, numberKey(tenantID, number))
	return nil
}
