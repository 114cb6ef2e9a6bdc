package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/labforense/oficios/internal/platform/apperr"
)

// RequestTimeout puts a deadline on each request context. Handlers run to
// completion on the request goroutine; a case transaction whose context
// expires is rolled back and the resulting error becomes 504. Requests for
// which skip returns true run without a deadline.
func RequestTimeout(timeout time.Duration, skip ...func(echo.Context) bool) echo.MiddlewareFunc {
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout: timeout,
		Skipper: func(c echo.Context) bool {
			for _, s := range skip {
				if s(c) {
					return true
				}
			}
			return false
		},
		ErrorHandler: func(err error, c echo.Context) error {
			if errors.Is(err, context.DeadlineExceeded) {
				return echo.NewHTTPError(http.StatusGatewayTimeout, apperr.Body{
					Code:    "timeout",
					Message: "request processing exceeded the allowed time limit",
				}).SetInternal(err)
			}
			return err
		},
	})
}
