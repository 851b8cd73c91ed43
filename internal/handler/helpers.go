package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"streamportal/gatekeeper/internal/service"
	"streamportal/gatekeeper/pkg/response"
)

// statusForKind maps each error kind to its stable HTTP status class so client
// retry behavior can be driven from the kind alone.
func statusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.KindInvalidCode:
		return http.StatusNotFound
	case service.KindCodeExpired:
		return http.StatusGone
	case service.KindCapacityExceeded:
		return http.StatusForbidden
	case service.KindConcurrentAccessConflict:
		return http.StatusConflict
	case service.KindCapacityCheckFailed,
		service.KindUsageIncrementFailed,
		service.KindDatabaseError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeAdmissionError renders a typed admission error; anything untyped
// becomes a generic 500 without leaking internals.
func writeAdmissionError(c *gin.Context, err error) {
	var ae *service.AdmissionError
	if errors.As(err, &ae) {
		response.KindError(c, statusForKind(ae.Kind), string(ae.Kind), ae.UserMessage)
		return
	}
	response.InternalError(c, "request failed")
}

// rawBearerToken returns the bearer token without validating it; the service
// layer revalidates and resolves it against the session row.
func rawBearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}
