package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const hstsMaxAge = 365 * 24 * 60 * 60

// SecurityHeaders sets the response headers of a JSON API that serves case
// files: no sniffing, no framing, no caching, no referrer. HSTS is only sent
// on HTTPS requests (direct or X-Forwarded-Proto).
func SecurityHeaders() echo.MiddlewareFunc {
	secure := echomw.SecureWithConfig(echomw.SecureConfig{
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            hstsMaxAge,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := secure(next)
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
			return h(c)
		}
	}
}
