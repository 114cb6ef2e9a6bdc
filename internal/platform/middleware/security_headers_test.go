package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		wantHSTS  string
	}{
		{"plain http", "", ""},
		{"behind tls proxy", "https", "max-age=31536000; includeSubDomains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
			if tt.forwarded != "" {
				req.Header.Set(echo.HeaderXForwardedProto, tt.forwarded)
			}
			rec := httptest.NewRecorder()

			err := SecurityHeaders()(func(c echo.Context) error {
				return c.JSON(http.StatusOK, map[string]string{"ok": "1"})
			})(e.NewContext(req, rec))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			want := map[string]string{
				"X-Content-Type-Options":    "nosniff",
				"X-Frame-Options":           "DENY",
				"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
				"Referrer-Policy":           "no-referrer",
				"Cache-Control":             "no-store",
				"Strict-Transport-Security": tt.wantHSTS,
				"X-XSS-Protection":          "",
			}
			for h, v := range want {
				if got := rec.Header().Get(h); got != v {
					t.Errorf("%s: got %q, want %q", h, got, v)
				}
			}
		})
	}
}

func TestSecurityHeaders_SetOnHandlerError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/cases/x", nil), rec)

	err := SecurityHeaders()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected the handler's 404, got %v", err)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("headers missing on error response: %v", rec.Header())
	}
}
