package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
)

// ErrorHandler renders every error as {"success": false, "message": ...}.
// Domain errors are mapped by kind; storage failures are logged and
// reported generically.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := apperr.PublicMessage(err)

		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
			if he.Internal != nil && apperr.Kind(he.Internal) != nil {
				code = apperr.HTTPStatus(he.Internal)
				message = apperr.PublicMessage(he.Internal)
			}
		case apperr.Kind(err) != nil:
			code = apperr.HTTPStatus(err)
		}

		if code >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, map[string]interface{}{"success": false, "message": message})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}
