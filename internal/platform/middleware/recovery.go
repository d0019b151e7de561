package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chokoronadal/wbhsms/internal/platform/auth"
)

// Recovery turns a panicking handler into a 500. A panic inside an engine
// call happens before commit, so the transaction has already rolled back by
// the time the response is written.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				ev := logger.Error().
					Interface("request_id", c.Get("request_id")).
					Str("method", c.Request().Method).
					Str("path", c.Path()).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack())
				if a, ok := auth.ActorFromContext(c.Request().Context()); ok {
					ev = ev.Int64("user_id", a.ID).Str("role", string(a.Role))
				}
				ev.Msg("handler panicked")
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
