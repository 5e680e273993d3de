package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequestID_Generated(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/health")
	h := RequestID()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rid, _ := c.Get("request_id").(string)
	if rid == "" {
		t.Error("expected request_id to be set")
	}
	if rec.Header().Get(RequestIDHeader) != rid {
		t.Error("expected response header to echo request_id")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequestID()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rid, _ := c.Get("request_id").(string); rid != "abc-123" {
		t.Errorf("expected propagated request id, got %q", rid)
	}
}

func TestRecovery_Panic(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/boom")
	h := Recovery(zerolog.Nop())(func(c echo.Context) error { panic("boom") })

	err := h(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 HTTPError, got %v", err)
	}
}

func TestRecovery_NoPanic(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/ok")
	h := Recovery(zerolog.Nop())(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogger_PassesThrough(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/alerts")
	h := Logger(zerolog.Nop())(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 3; i++ {
		c, _ := newTestContext(http.MethodGet, "/alerts")
		if err := h(c); err != nil {
			t.Fatalf("request %d should be allowed: %v", i, err)
		}
	}
}

func TestRateLimit_RejectsBeyondBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	c, _ := newTestContext(http.MethodGet, "/alerts")
	if err := h(c); err != nil {
		t.Fatalf("first request should be allowed: %v", err)
	}

	c2, rec := newTestContext(http.MethodGet, "/alerts")
	err := h(c2)
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %v", err)
	}
	_ = rec
}
