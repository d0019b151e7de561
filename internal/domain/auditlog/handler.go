package auditlog

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/chokoronadal/wbhsms/internal/domain/actor"
	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
	"github.com/chokoronadal/wbhsms/internal/platform/auth"
	"github.com/chokoronadal/wbhsms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/audit-logs", h.List, auth.RequireRole(actor.RoleAdmin))
}

// List handles GET /audit-logs?user_id=&action_type=&limit=&offset=.
func (h *Handler) List(c echo.Context) error {
	var f Filter
	if v := c.QueryParam("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return apperr.Validation("user_id must be a positive integer")
		}
		f.UserID = id
	}
	f.ActionType = c.QueryParam("action_type")

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
