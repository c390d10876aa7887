package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"voice-platform/internal/auth"
	"voice-platform/internal/provision"
	"voice-platform/internal/telephony"
	"voice-platform/internal/tenantstore"
	"voice-platform/internal/vault"

	"github.com/gin-gonic/gin"
)

type stubConfigStore struct {
	cfg tenantstore.TelephonyConfig
	err error
}

func (s *stubConfigStore) GetConfig(context.Context, string) (tenantstore.TelephonyConfig, error) {
	return s.cfg, s.err
}
func (s *stubConfigStore) UpsertConfig(context.Context, tenantstore.TelephonyConfig) error {
	return nil
}
func (s *stubConfigStore) ClearConfig(context.Context, string) error { return nil }
func (s *stubConfigStore) TenantOwningTrunk(context.Context, string) (string, bool, error) {
	return "", false, nil
}

type stubNumberStore struct {
	numbers []tenantstore.OwnedNumber
}

func (s *stubNumberStore) CreateNumber(context.Context, tenantstore.OwnedNumber) error { return nil }
func (s *stubNumberStore) GetNumber(context.Context, string, string) (tenantstore.OwnedNumber, error) {
	return tenantstore.OwnedNumber{}, tenantstore.ErrNotFound
}
func (s *stubNumberStore) ListNumbers(context.Context, string) ([]tenantstore.OwnedNumber, error) {
	return s.numbers, nil
}
func (s *stubNumberStore) UpdateAssignment(context.Context, string, string, string, string, string, *int64) error {
	return nil
}
func (s *stubNumberStore) MarkImported(context.Context, string, string, string) error { return nil }
func (s *stubNumberStore) DeleteNumber(context.Context, string, string) error { return nil }

func withTenant(tenantID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "user-1", tenantID, "owner")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func TestWriteWorkflowError_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"configuration", &provision.ConfigurationError{Missing: "emergency address"}, http.StatusPreconditionFailed},
		{"conflict", &provision.ConflictError{AgentID: "a", Direction: "inbound", Number: "+1"}, http.StatusConflict},
		{"ambiguous", &provision.AmbiguousResourceError{Resource: "trunk", Candidates: []string{"TK1", "TK2"}}, http.StatusConflict},
		{"unavailable", &provision.UnavailableNumberError{Number: "+1", NumberType: "local", Attempts: 3}, http.StatusConflict},
		{"cleanup failure", &provision.CleanupFailureError{Cause: errors.New("x"), OrphanedIDs: []string{"PN1"}}, http.StatusBadGateway},
		{"decryption", &vault.DecryptionError{Kind: vault.DecryptionAuthFailed, Reason: "reconfigure credentials"}, http.StatusConflict},
		{"not found", tenantstore.ErrNotFound, http.StatusNotFound},
		{"provider", &telephony.APIError{Op: "CreateTrunk", Status: 500}, http.StatusBadGateway},
		{"throttled", provision.ErrTooManyInFlight, http.StatusTooManyRequests},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			writeWorkflowError(c, tt.err)
			if w.Code != tt.want {
				t.Fatalf("status %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestGetTelephonyConfig_MasksSecrets(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := Handlers{Config: &stubConfigStore{cfg: tenantstore.TelephonyConfig{
		TenantID:    "t1",
		TrunkSID:    "TK123",
		SIPUsername: "user-1",
		SIPPassword: vault.EncryptedSecret{Ciphertext: "aa", IV: "bb", AuthTag: "cc"},
	}}}

	r := gin.New()
	r.GET("/config", withTenant("t1"), h.GetTelephonyConfig)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	var doc map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["sip_username"] != "user-1" || doc["trunk_sid"] != "TK123" {
		t.Fatalf("plain fields must survive: %v", doc)
	}
	if doc["sip_password"] != "********" {
		t.Fatalf("encrypted secret leaked: %v", doc["sip_password"])
	}
}

func TestGetTelephonyConfig_MissingTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := Handlers{Config: &stubConfigStore{}}
	r := gin.New()
	r.GET("/config", h.GetTelephonyConfig)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
}

func TestGetTelephonyConfig_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := Handlers{Config: &stubConfigStore{err: tenantstore.ErrNotFound}}
	r := gin.New()
	r.GET("/config", withTenant("t1"), h.GetTelephonyConfig)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestListNumbers_EmptyIsJSONArray(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := Handlers{Owned: &stubNumberStore{}}
	r := gin.New()
	r.GET("/numbers", withTenant("t1"), h.ListNumbers)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/numbers", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body struct {
		Numbers []tenantstore.OwnedNumber `json:"numbers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Numbers == nil {
		t.Fatal("numbers must be an array, not null")
	}
}

func TestHealth_ReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := Handlers{
		PingDB:    func(context.Context) error { return nil },
		PingRedis: func(context.Context) error { return errors.New("connection refused") },
	}
	r := gin.New()
	r.GET("/healthz", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", w.Code)
	}
}
