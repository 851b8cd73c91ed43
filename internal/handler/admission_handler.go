package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"streamportal/gatekeeper/internal/service"
	"streamportal/gatekeeper/pkg/response"
)

type AdmissionHandler struct {
	admissions service.AdmissionService
}

func NewAdmissionHandler(admissions service.AdmissionService) *AdmissionHandler {
	return &AdmissionHandler{admissions: admissions}
}

type AdmitRequest struct {
	Code string `json:"code" binding:"required"`
}

// Admit redeems an access code for a viewer session.
func (h *AdmissionHandler) Admit(c *gin.Context) {
	var req AdmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.admissions.Admit(c.Request.Context(), req.Code)
	if err != nil {
		writeAdmissionError(c, err)
		return
	}
	response.Success(c, result)
}

// Heartbeat keeps a session alive against the inactivity sweep.
func (h *AdmissionHandler) Heartbeat(c *gin.Context) {
	token, ok := rawBearerToken(c)
	if !ok {
		response.Unauthorized(c, "missing or malformed authorization header")
		return
	}

	if err := h.admissions.Heartbeat(c.Request.Context(), token); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Unauthorized(c, "session not found or already ended")
			return
		}
		response.ServiceUnavailable(c, "heartbeat failed")
		return
	}
	response.Success(c, nil)
}

// Logout ends the session and releases its slot.
func (h *AdmissionHandler) Logout(c *gin.Context) {
	token, ok := rawBearerToken(c)
	if !ok {
		response.Unauthorized(c, "missing or malformed authorization header")
		return
	}

	if err := h.admissions.Logout(c.Request.Context(), token); err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			response.Unauthorized(c, "session not found")
		case errors.Is(err, service.ErrSessionEnded):
			response.Success(c, nil)
		default:
			response.ServiceUnavailable(c, "logout failed")
		}
		return
	}
	response.Success(c, nil)
}
