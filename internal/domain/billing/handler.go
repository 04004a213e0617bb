package billing

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "desk_office", "billing", "physician", "pharmacist", "nurse"))
	read.GET("/invoices", h.List)
	read.GET("/invoices/:id", h.Get)

	billing := api.Group("", auth.RequireRole("admin", "billing"))
	billing.POST("/invoices", h.Create)
	billing.POST("/invoices/:id/issue", h.Issue)
	billing.POST("/invoices/:id/pay", h.MarkPaid)
	billing.POST("/invoices/:id/cancel", h.Cancel)
}

func (h *Handler) Create(c echo.Context) error {
	var params CreateInvoiceParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	inv, err := h.svc.CreateInvoice(ctx, params, auth.UserIDFromContext(ctx))
	if err != nil {
		return invoiceError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) Get(c echo.Context) error {
	ref := c.Param("id")
	ctx := c.Request().Context()
	if id, err := uuid.Parse(ref); err == nil {
		inv, err := h.svc.Get(ctx, id)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "invoice not found")
		}
		return c.JSON(http.StatusOK, inv)
	}
	inv, err := h.svc.GetByNumber(ctx, ref)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "invoice not found")
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	ctx := c.Request().Context()

	if pid := c.QueryParam("patient_id"); pid != "" {
		patientID, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListByPatient(ctx, patientID, p.Limit, p.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
	}

	status := InvoiceStatus(c.QueryParam("status"))
	if status == "" {
		status = StatusIssued
	}
	items, total, err := h.svc.ListByStatus(ctx, status, p.Limit, p.Offset)
	if err != nil {
		return invoiceError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Issue(c echo.Context) error {
	return h.transition(c, h.svc.Issue)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.svc.Cancel)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	inv, err := h.svc.MarkPaid(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return invoiceError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, id uuid.UUID) (*Invoice, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inv, err := fn(c.Request().Context(), id)
	if err != nil {
		return invoiceError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func invoiceError(err error) error {
	var blocked *GateBlockedError
	var invalid *InvalidStatusError
	var validation *authorization.ValidationError
	var unavailable *authorization.StoreUnavailableError
	switch {
	case errors.As(err, &blocked):
		return echo.NewHTTPError(http.StatusForbidden, blocked.Decision)
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusConflict, invalid.Error())
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, validation.Error())
	case errors.As(err, &unavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, unavailable.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
