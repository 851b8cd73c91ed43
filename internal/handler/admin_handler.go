package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"streamportal/gatekeeper/internal/cache"
	"streamportal/gatekeeper/internal/config"
	"streamportal/gatekeeper/internal/model"
	"streamportal/gatekeeper/internal/service"
	"streamportal/gatekeeper/pkg/crypto"
	jwtpkg "streamportal/gatekeeper/pkg/jwt"
	"streamportal/gatekeeper/pkg/response"
)

type AdminHandler struct {
	adminCfg   config.AdminConfig
	jwtManager *jwtpkg.Manager
	codes      service.CodeService
	audit      *service.AuditLog
	recovery   *service.RecoveryManager
	monitor    *service.PerformanceMonitor
	cache      cache.SnapshotCache
	sweeper    *service.Sweeper
}

func NewAdminHandler(
	adminCfg config.AdminConfig,
	jwtManager *jwtpkg.Manager,
	codes service.CodeService,
	audit *service.AuditLog,
	recovery *service.RecoveryManager,
	monitor *service.PerformanceMonitor,
	snapCache cache.SnapshotCache,
	sweeper *service.Sweeper,
) *AdminHandler {
	return &AdminHandler{
		adminCfg:   adminCfg,
		jwtManager: jwtManager,
		codes:      codes,
		audit:      audit,
		recovery:   recovery,
		monitor:    monitor,
		cache:      snapCache,
		sweeper:    sweeper,
	}
}

type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges the operator credential for an admin token.
func (h *AdminHandler) Login(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	if req.Username != h.adminCfg.Username ||
		!crypto.CheckSecret(req.Password, h.adminCfg.PasswordHash) {
		response.Unauthorized(c, "invalid credentials")
		return
	}

	token, err := h.jwtManager.GenerateAdminToken(req.Username)
	if err != nil {
		response.InternalError(c, "failed to issue token")
		return
	}
	response.Success(c, gin.H{"token": token})
}

type CreateCodeRequest struct {
	Code          string     `json:"code"`
	Type          string     `json:"type" binding:"required"`
	MaxUsageCount int        `json:"max_usage_count"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	EventID       *uuid.UUID `json:"event_id,omitempty"`
}

// CreateCode creates a new access code.
func (h *AdminHandler) CreateCode(c *gin.Context) {
	var req CreateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	code, err := h.codes.CreateCode(c.Request.Context(), service.CreateCodeParams{
		Code:          req.Code,
		Type:          model.CodeType(req.Type),
		MaxUsageCount: req.MaxUsageCount,
		ExpiresAt:     req.ExpiresAt,
		EventID:       req.EventID,
	})
	if err != nil {
		response.BadRequest(c, "failed to create access code: "+err.Error())
		return
	}
	response.Success(c, code)
}

// ListCodes returns all access codes.
func (h *AdminHandler) ListCodes(c *gin.Context) {
	codes, err := h.codes.ListCodes(c.Request.Context())
	if err != nil {
		response.InternalError(c, "failed to list access codes")
		return
	}
	response.Success(c, codes)
}

// DeactivateCode flips a code inactive.
func (h *AdminHandler) DeactivateCode(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid code id")
		return
	}
	if err := h.codes.DeactivateCode(c.Request.Context(), id); err != nil {
		response.InternalError(c, "failed to deactivate code")
		return
	}
	response.Success(c, nil)
}

// RecentErrors returns the newest audit entries, optionally filtered by kind
// or code id.
func (h *AdminHandler) RecentErrors(c *gin.Context) {
	kind := service.ErrorKind(c.Query("kind"))
	codeID := uuid.Nil
	if raw := c.Query("code_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid code_id")
			return
		}
		codeID = parsed
	}

	if kind != "" || codeID != uuid.Nil {
		response.Success(c, h.audit.Query(time.Time{}, time.Time{}, kind, codeID))
		return
	}
	response.Success(c, h.audit.Recent(100))
}

// ErrorStats returns error counts by kind.
func (h *AdminHandler) ErrorStats(c *gin.Context) {
	response.Success(c, h.audit.Stats())
}

// ClearErrors wipes the audit log. Privileged operator action.
func (h *AdminHandler) ClearErrors(c *gin.Context) {
	h.audit.Clear()
	response.Success(c, nil)
}

// SystemStats exposes recovery, performance, and cache snapshots.
func (h *AdminHandler) SystemStats(c *gin.Context) {
	response.Success(c, gin.H{
		"active_recoveries": h.recovery.ActiveRecoveries(),
		"operations":        h.monitor.Snapshot(),
		"cache":             h.cache.Stats(c.Request.Context()),
	})
}

// TriggerSweep runs one sweep pass and returns its counts, preceded by the
// outstanding-work figures observed before the pass.
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	stale, expired, suspects, err := h.sweeper.Outstanding(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, "failed to inspect outstanding work")
		return
	}
	result := h.sweeper.Sweep(c.Request.Context())
	response.Success(c, gin.H{
		"outstanding": gin.H{
			"stale_sessions": stale,
			"expired_codes":  expired,
			"suspect_codes":  suspects,
		},
		"result": result,
	})
}
