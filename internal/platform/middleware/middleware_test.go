package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/kaduart/fono-inova-api/internal/platform/auth"
)

func TestRequestID_Generates(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequestID()(func(c echo.Context) error {
		rid, _ := c.Get("request_id").(string)
		if rid == "" {
			t.Error("request_id not set on context")
		}
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("response missing request id header")
	}
}

func TestRequestID_HonorsIncoming(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-rid-42")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = RequestID()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)

	if got := rec.Header().Get(RequestIDHeader); got != "client-rid-42" {
		t.Errorf("request id = %q, want client-rid-42", got)
	}
}

func TestLogger_WritesRequestLine(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-1")

	err := Logger(logger)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"rid-1", "/api/v1/appointments", `"method":"GET"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestRecovery_ConvertsPanic(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("boom")
	})(c)

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 HTTPError, got %v", err)
	}
}

func TestRateLimit_RejectsBeyondBurst(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	call := func(userID string) error {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
		if userID != "" {
			req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, userID))
		}
		rec := httptest.NewRecorder()
		return handler(e.NewContext(req, rec))
	}

	for i := 0; i < 2; i++ {
		if err := call("user-1"); err != nil {
			t.Fatalf("request %d within burst: %v", i+1, err)
		}
	}

	err := call("user-1")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %v, want 429 HTTPError", err)
	}

	// Another client has its own bucket.
	if err := call("user-2"); err != nil {
		t.Errorf("distinct client limited: %v", err)
	}
}

func TestRateLimit_SetsRetryAfter(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("first request: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	_ = handler(e.NewContext(req, rec))
	if rec.Header().Get("Retry-After") == "" {
		t.Error("rejected response missing Retry-After")
	}
}

func TestAudit_RecordsAPIAccess(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "user-7")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"secretary"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-9")

	var got AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		got = entry
		return nil
	})

	err := Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})(c)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if got.UserID != "user-7" {
		t.Errorf("user id = %q, want user-7", got.UserID)
	}
	if got.Resource != "appointments" {
		t.Errorf("resource = %q, want appointments", got.Resource)
	}
	if got.Action != "create" {
		t.Errorf("action = %q, want create", got.Action)
	}
	if got.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", got.StatusCode)
	}
	if got.RequestID != "rid-9" {
		t.Errorf("request id = %q, want rid-9", got.RequestID)
	}
}

func TestAudit_SkipsNonAPIRoutes(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		called = true
		return nil
	})

	_ = Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)

	if called {
		t.Error("recorder called for non-API route")
	}
}

func TestActionFromMethod(t *testing.T) {
	tests := []struct {
		method, query, want string
	}{
		{"GET", "", "read"},
		{"GET", "patientId=1", "search"},
		{"POST", "", "create"},
		{"PUT", "", "update"},
		{"PATCH", "", "update"},
		{"DELETE", "", "delete"},
	}
	for _, tt := range tests {
		if got := actionFromMethod(tt.method, tt.query); got != tt.want {
			t.Errorf("actionFromMethod(%s, %q) = %q, want %q", tt.method, tt.query, got, tt.want)
		}
	}
}
