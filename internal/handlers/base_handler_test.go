package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testHandlerLogger() *utils.Logger {
	return utils.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, recorder
}

func TestParseIDParam(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantID     uint
		wantOK     bool
		wantStatus int
	}{
		{"valid id", "12", 12, true, http.StatusOK},
		{"non-numeric", "abc", 0, false, http.StatusBadRequest},
		{"negative", "-4", 0, false, http.StatusBadRequest},
		// A literal zero parses but names no entity; the handler must reject
		// it here instead of returning an empty 200 later.
		{"zero", "0", 0, false, http.StatusBadRequest},
		{"empty", "", 0, false, http.StatusBadRequest},
	}

	h := NewBaseHandler(testHandlerLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, recorder := testContext(t)
			c.Params = gin.Params{{Key: "id", Value: tt.raw}}

			id, ok := h.parseIDParam(c, "id")
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if id != tt.wantID {
				t.Errorf("id = %d, want %d", id, tt.wantID)
			}
			if !tt.wantOK && recorder.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", recorder.Code, tt.wantStatus)
			}
			if tt.wantOK && recorder.Body.Len() != 0 {
				t.Errorf("unexpected response body on success: %s", recorder.Body.String())
			}
		})
	}
}
