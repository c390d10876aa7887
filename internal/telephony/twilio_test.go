package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"voice-platform/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *TwilioClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTwilioClient(config.ProviderConfig{
		AccountSID: "AC123",
		AuthToken:  "secret",
		BaseURL:    srv.URL,
	}, "t1", nil)
}

func TestCreateTrunk_SendsFormAndAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/Trunks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("basic auth not set")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("FriendlyName") != "vt-abc" || r.PostForm.Get("DomainName") != "vt-abc.pstn.twilio.com" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"TK1","friendly_name":"vt-abc","domain_name":"vt-abc.pstn.twilio.com"}`))
	})

	trunk, err := c.CreateTrunk(context.Background(), "vt-abc", "vt-abc.pstn.twilio.com")
	if err != nil {
		t.Fatalf("CreateTrunk: %v", err)
	}
	if trunk.SID != "TK1" || trunk.DomainName != "vt-abc.pstn.twilio.com" {
		t.Fatalf("unexpected trunk %+v", trunk)
	}
}

func TestFetchTrunk_NotFoundIsClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":20404,"message":"The requested resource was not found","status":404}`))
	})

	_, err := c.FetchTrunk(context.Background(), "TKgone")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found classification, got %v", err)
	}
}

func TestPurchaseNumber_UnavailableIsClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21422,"message":"PhoneNumber is not available","status":400}`))
	})

	_, err := c.PurchaseNumber(context.Background(), "+14155550100", PurchaseOptions{})
	if !IsNumberUnavailable(err) {
		t.Fatalf("expected number-unavailable classification, got %v", err)
	}
}

func TestPurchaseNumber_IncludesRegulatoryOptions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("AddressSid") != "AD1" || r.PostForm.Get("BundleSid") != "BU1" {
			t.Errorf("regulatory options missing: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"PN1","phone_number":"+14155550100"}`))
	})

	inc, err := c.PurchaseNumber(context.Background(), "+14155550100", PurchaseOptions{AddressSID: "AD1", BundleSID: "BU1"})
	if err != nil {
		t.Fatalf("PurchaseNumber: %v", err)
	}
	if inc.SID != "PN1" || inc.Number != "+14155550100" {
		t.Fatalf("unexpected number %+v", inc)
	}
}

func TestSearchNumbers_BuildsCategoryPath(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"available_phone_numbers":[{"phone_number":"+14155550100","iso_country":"US","locality":"San Francisco"}]}`))
	})

	nums, err := c.SearchNumbers(context.Background(), SearchRequest{Country: "US", Type: NumberTypeTollFree, AreaCode: "800"})
	if err != nil {
		t.Fatalf("SearchNumbers: %v", err)
	}
	want := "/2010-04-01/Accounts/AC123/AvailablePhoneNumbers/US/TollFree.json"
	if gotPath != want {
		t.Fatalf("path %q, want %q", gotPath, want)
	}
	if len(nums) != 1 || nums[0].Type != NumberTypeTollFree || nums[0].Locality != "San Francisco" {
		t.Fatalf("unexpected result %+v", nums)
	}
}

func TestFetchNumberByDigits_EmptyListMeansNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"incoming_phone_numbers":[]}`))
	})

	_, found, err := c.FetchNumberByDigits(context.Background(), "+14155550100")
	if err != nil {
		t.Fatalf("FetchNumberByDigits: %v", err)
	}
	if found {
		t.Fatal("expected found=false")
	}
}

func TestEmergencyAddressStatus_MapsProviderStates(t *testing.T) {
	tests := []struct {
		payload string
		want    EmergencyStatus
	}{
		{`{"emergency_address_status":"registered"}`, EmergencyStatusRegistered},
		{`{"emergency_address_status":"pending-loss"}`, EmergencyStatusPendingLoss},
		{`{"emergency_address_status":"unregistered"}`, EmergencyStatusUnassigned},
	}
	for _, tt := range tests {
		payload := tt.payload
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(payload))
		})
		st, err := c.EmergencyAddressStatus(context.Background(), "PN1")
		if err != nil {
			t.Fatalf("EmergencyAddressStatus: %v", err)
		}
		if st != tt.want {
			t.Fatalf("payload %s: got %q, want %q", tt.payload, st, tt.want)
		}
	}
}
