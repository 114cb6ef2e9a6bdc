package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/labforense/oficios/internal/platform/apperr"
	"github.com/labforense/oficios/internal/platform/auth"
)

// RateLimitConfig sizes the per-caller token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// ExpiresIn drops buckets of callers idle this long. Zero means 3m.
	ExpiresIn time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// CallerKey identifies the bucket of a request: the authenticated user, or
// the client IP when there is none.
func CallerKey(c echo.Context) (string, error) {
	if user := auth.UserIDFromContext(c.Request().Context()); user != "" {
		return "user:" + user, nil
	}
	return "ip:" + c.RealIP(), nil
}

// RateLimit limits each caller to cfg on echo's in-memory limiter store.
// Rejected requests get 429 with Retry-After.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)
	retryAfter := strconv.Itoa(int(math.Ceil(1 / cfg.RequestsPerSecond)))

	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: cfg.ExpiresIn,
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store:               store,
		IdentifierExtractor: CallerKey,
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, apperr.Body{Code: "forbidden", Message: err.Error()})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			c.Response().Header().Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, apperr.Body{Code: "rate_limited", Message: "rate limit exceeded"})
		},
	})
}
