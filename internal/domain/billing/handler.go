package billing

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
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	cashier := auth.RequireRole(status.BillingStaff()...)
	api.POST("/billing/create_invoice", h.CreateInvoice, cashier)
	api.POST("/billing/update_invoice_status", h.UpdateInvoiceStatus, cashier)
	api.GET("/billing/get_service_catalog", h.GetServiceCatalog, cashier)

	// Any signed-in user; the service limits patients to their own record.
	api.GET("/billing/get_patient_invoices", h.GetPatientInvoices)
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	a, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	var req CreateInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	inv, err := h.svc.CreateInvoice(c.Request().Context(), a, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Invoice created successfully",
		"invoice": inv,
	})
}

func (h *Handler) UpdateInvoiceStatus(c echo.Context) error {
	a, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	var req UpdateInvoiceStatusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	inv, err := h.svc.UpdateInvoiceStatus(c.Request().Context(), a, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Invoice status updated",
		"invoice": inv,
	})
}

// GetPatientInvoices handles GET /billing/get_patient_invoices?patient_id=.
// A patient may omit patient_id to read their own invoices.
func (h *Handler) GetPatientInvoices(c echo.Context) error {
	a, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	var patientID int64
	if v := c.QueryParam("patient_id"); v != "" {
		patientID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return apperr.Validation("patient_id must be a positive integer")
		}
	} else if a.Role == actor.RolePatient && a.PatientID != nil {
		patientID = *a.PatientID
	}

	res, err := h.svc.GetPatientInvoices(c.Request().Context(), a, patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"invoices": res.Invoices,
		"summary":  res.Summary,
	})
}

func (h *Handler) GetServiceCatalog(c echo.Context) error {
	items, err := h.svc.GetServiceCatalog(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"items":   items,
		"count":   len(items),
	})
}
