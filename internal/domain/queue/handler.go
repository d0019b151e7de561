package queue

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/chokoronadal/wbhsms/internal/domain/actor"
	"github.com/chokoronadal/wbhsms/internal/domain/status"
	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
	"github.com/chokoronadal/wbhsms/internal/platform/auth"
)

type Handler struct {
	svc   *Service
	board echo.HandlerFunc
}

// NewHandler builds the queue handler. board, when non-nil, serves the live
// queue board websocket.
func NewHandler(svc *Service, board echo.HandlerFunc) *Handler {
	return &Handler{svc: svc, board: board}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := auth.RequireRole(status.QueueStaff()...)
	api.GET("/queue", h.Get, staff)
	api.POST("/queue", h.Post, staff)
	api.PUT("/queue", h.Put, staff)
	if h.board != nil {
		api.GET("/queue/ws", h.board, staff)
	}

	api.GET("/patient_queue_status", h.PatientStatus, auth.RequireRole(actor.RolePatient))
}

// Get handles GET /queue?action=queue_list|statistics|appointment_queue.
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	switch action := c.QueryParam("action"); action {
	case "queue_list":
		queueType := c.QueryParam("queue_type")
		items, err := h.svc.GetQueueByTypeAndDate(ctx, queueType, c.QueryParam("date"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":    true,
			"queue_type": queueType,
			"date":       c.QueryParam("date"),
			"entries":    items,
			"count":      len(items),
		})
	case "statistics":
		stats, err := h.svc.GetStatistics(ctx, c.QueryParam("date"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":    true,
			"statistics": stats,
		})
	case "appointment_queue":
		id, err := strconv.ParseInt(c.QueryParam("appointment_id"), 10, 64)
		if err != nil {
			return apperr.Validation("appointment_id must be a positive integer")
		}
		e, err := h.svc.GetAppointmentQueue(ctx, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": true,
			"queue":   e,
		})
	default:
		return unknownAction(action)
	}
}

// Post handles POST /queue?action=create_queue.
func (h *Handler) Post(c echo.Context) error {
	a, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	if action := c.QueryParam("action"); action != "create_queue" {
		return unknownAction(action)
	}

	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	e, err := h.svc.CreateQueueEntry(c.Request().Context(), a, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Patient added to queue",
		"queue":   e,
	})
}

// Put handles PUT /queue?action=update_status|reinstate.
func (h *Handler) Put(c echo.Context) error {
	a, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	var e *Entry
	var msg string
	switch action := c.QueryParam("action"); action {
	case "update_status":
		var req UpdateStatusRequest
		if err := c.Bind(&req); err != nil {
			return apperr.Validation("invalid request body")
		}
		e, err = h.svc.UpdateQueueStatus(ctx, a, req)
		msg = "Queue status updated"
	case "reinstate":
		var req ReinstateRequest
		if err := c.Bind(&req); err != nil {
			return apperr.Validation("invalid request body")
		}
		e, err = h.svc.ReinstateQueueEntry(ctx, a, req)
		msg = "Patient reinstated to queue"
	default:
		return unknownAction(action)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": msg,
		"queue":   e,
	})
}

// PatientStatus handles GET /patient_queue_status.
func (h *Handler) PatientStatus(c echo.Context) error {
	a, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetPatientQueueStatus(c.Request().Context(), a)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":   true,
		"queue":     st.Queue,
		"wait_info": st.WaitInfo,
		"timestamp": st.Timestamp,
	})
}

func unknownAction(action string) error {
	if action == "" {
		return apperr.Validation("action is required")
	}
	return apperr.Validation("unknown action %q", action)
}
