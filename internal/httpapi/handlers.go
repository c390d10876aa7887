package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"voice-platform/internal/auth"
	"voice-platform/internal/provision"
	"voice-platform/internal/telephony"
	"voice-platform/internal/tenantstore"
	"voice-platform/internal/vault"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	Trunks  *provision.TrunkManager
	Numbers *provision.Provisioner
	Config  provision.ConfigStore
	Owned   provision.NumberStore

	// Health probes for the readiness endpoint.
	PingDB    func(ctx context.Context) error
	PingRedis func(ctx context.Context) error
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Telephony config ---

// GetTelephonyConfig returns the tenant's connector config with every
// encrypted secret masked. Plaintext secrets never leave the service.
func (h Handlers) GetTelephonyConfig(c *gin.Context) {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	cfg, err := h.Config.GetConfig(c.Request.Context(), tenantID)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, sanitizeConfig(cfg))
}

func sanitizeConfig(cfg tenantstore.TelephonyConfig) map[string]any {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return map[string]any{}
	}
	return vault.MaskSecrets(doc)
}

// SetupTrunk fetches or creates the tenant's SIP trunk.
func (h Handlers) SetupTrunk(c *gin.Context) {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	info, err := h.Trunks.FetchOrCreate(c.Request.Context(), tenantID)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	status := http.StatusOK
	if info.Created {
		status = http.StatusCreated
	}
	c.JSON(status, info)
}

// CleanupTrunk deletes the tenant's trunk and unsets the config.
func (h Handlers) CleanupTrunk(c *gin.Context) {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	if err := h.Trunks.Cleanup(c.Request.Context(), tenantID); err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Numbers ---

func (h Handlers) SearchNumbers(c *gin.Context) {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	params := provision.SearchParams{
		Country:  c.Query("country"),
		AreaCode: c.Query("area_code"),
		Contains: c.Query("contains"),
		Type:     telephony.NumberType(c.Query("type")),
	}
	res, err := h.Numbers.Search(c.Request.Context(), tenantID, params)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type purchaseRequest struct {
	Number   string `json:"number"`
	Nickname string `json:"nickname,omitempty"`
}

func (h Handlers) PurchaseNumber(c *gin.Context) {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Number == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}
	rec, err := h.Numbers.Purchase(c.Request.Context(), tenantID, provision.PurchaseParams{
		Number:   req.Number,
		Nickname: req.Nickname,
	})
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h Handlers) ImportNumber(c *gin.Context) {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Number == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}
	rec, err := h.Numbers.Import(c.Request.Context(), tenantID, req.Number, req.Nickname)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h Handlers) ListNumbers(c *gin.Context) {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	nums, err := h.Owned.ListNumbers(c.Request.Context(), tenantID)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	if nums == nil {
		nums = []tenantstore.OwnedNumber{}
	}
	c.JSON(http.StatusOK, gin.H{"numbers": nums})
}

type assignmentRequest struct {
	InboundAgentID  *string `json:"inbound_agent_id,omitempty"`
	OutboundAgentID *string `json:"outbound_agent_id,omitempty"`
	Nickname        *string `json:"nickname,omitempty"`
}

func (h Handlers) UpdateAssignment(c *gin.Context) {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	number := c.Param("number")
	if number == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rec, err := h.Numbers.UpdateAssignment(c.Request.Context(), tenantID, number, provision.AssignmentRequest{
		InboundAgentID:  req.InboundAgentID,
		OutboundAgentID: req.OutboundAgentID,
		Nickname:        req.Nickname,
	})
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) ReleaseNumber(c *gin.Context) {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	number := c.Param("number")
	if number == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}
	res, err := h.Numbers.Release(c.Request.Context(), tenantID, number)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	if h.PingDB != nil {
		if err := h.PingDB(ctx); err != nil {
			checks["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.PingRedis != nil {
		if err := h.PingRedis(ctx); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	}
	c.JSON(status, checks)
}

// --- Shared helpers ---

func tenantFrom(c *gin.Context) (string, bool) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return "", false
	}
	return tenantID, true
}

// writeWorkflowError maps the provisioning error taxonomy onto HTTP statuses.
// The message is always the error's own text; the taxonomy keeps that text
// actionable.
func writeWorkflowError(c *gin.Context, err error) {
	var (
		confErr    *provision.ConfigurationError
		ambErr     *provision.AmbiguousResourceError
		unavErr    *provision.UnavailableNumberError
		conflErr   *provision.ConflictError
		cleanupErr *provision.CleanupFailureError
		decErr     *vault.DecryptionError
		apiErr     *telephony.APIError
	)

	switch {
	case errors.Is(err, provision.ErrTooManyInFlight):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.As(err, &confErr):
		c.AbortWithStatusJSON(http.StatusPreconditionFailed, gin.H{"error": confErr.Error(), "missing": confErr.Missing})
	case errors.As(err, &conflErr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":           conflErr.Error(),
			"agent_id":        conflErr.AgentID,
			"direction":       conflErr.Direction,
			"existing_number": conflErr.Number,
		})
	case errors.As(err, &ambErr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": ambErr.Error(), "candidates": ambErr.Candidates})
	case errors.As(err, &unavErr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": unavErr.Error()})
	case errors.As(err, &cleanupErr):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": cleanupErr.Error(), "orphaned_ids": cleanupErr.OrphanedIDs})
	case errors.As(err, &decErr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": decErr.Error()})
	case errors.Is(err, tenantstore.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &apiErr):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": apiErr.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
