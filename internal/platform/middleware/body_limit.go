package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/labforense/oficios/internal/platform/apperr"
)

// BodyLimit caps request bodies: uploadLimit for multipart requests (signed
// dictamen uploads), defaultLimit for everything else. Limits use echo's
// notation ("1M", "25M", "512K") and panic when malformed. An oversized
// body, whether announced by Content-Length or found while reading, ends
// in 413 with a validation_error body.
func BodyLimit(defaultLimit, uploadLimit string) echo.MiddlewareFunc {
	std := echomw.BodyLimit(defaultLimit)
	upload := echomw.BodyLimit(uploadLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		stdNext, uploadNext := std(next), upload(next)
		return func(c echo.Context) error {
			h, limit := stdNext, defaultLimit
			if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
				h, limit = uploadNext, uploadLimit
			}
			err := h(c)
			if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, apperr.Body{
					Code:    apperr.KindValidation.String(),
					Message: "request body exceeds the " + limit + " limit",
				}).SetInternal(err)
			}
			return err
		}
	}
}
