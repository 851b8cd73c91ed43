package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"streamportal/gatekeeper/internal/service"
	"streamportal/gatekeeper/pkg/response"
)

func TestStatusForKindIsStable(t *testing.T) {
	cases := map[service.ErrorKind]int{
		service.KindInvalidCode:              http.StatusNotFound,
		service.KindCodeExpired:              http.StatusGone,
		service.KindCapacityExceeded:         http.StatusForbidden,
		service.KindConcurrentAccessConflict: http.StatusConflict,
		service.KindCapacityCheckFailed:      http.StatusServiceUnavailable,
		service.KindUsageIncrementFailed:     http.StatusServiceUnavailable,
		service.KindDatabaseError:            http.StatusServiceUnavailable,
		service.KindSessionCreationFailed:    http.StatusInternalServerError,
		service.KindRollbackFailed:           http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Errorf("%s -> %d, want %d", kind, got, want)
		}
	}
}

func TestWriteAdmissionErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeAdmissionError(c, &service.AdmissionError{
		Kind:        service.KindConcurrentAccessConflict,
		UserMessage: "Another viewer was admitted just ahead of you. Please try again.",
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var body response.APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Kind != string(service.KindConcurrentAccessConflict) {
		t.Errorf("kind = %q", body.Kind)
	}
	if body.Message == "" {
		t.Error("missing user message")
	}
}

func TestWriteAdmissionErrorHidesUntypedErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeAdmissionError(c, errors.New("pq: relation does not exist"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body response.APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Message != "request failed" {
		t.Errorf("message leaked internals: %q", body.Message)
	}
}
