package authorization

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	read.GET("/authorizations", h.ListCodes)
	read.GET("/authorizations/:code", h.Lookup)
	read.GET("/authorizations/:code/validate", h.Validate)
	read.GET("/authorization-requests", h.ListRequests)
	read.GET("/authorization-requests/:id", h.GetRequest)

	// Clinical roles raise and withdraw requests on a patient's behalf.
	clinical := api.Group("", auth.RequireRole("admin", "desk_office", "physician", "pharmacist", "nurse"))
	clinical.POST("/authorization-requests", h.RaiseRequest)
	clinical.POST("/authorization-requests/:id/withdraw", h.WithdrawRequest)
	clinical.POST("/authorizations/:code/collect", h.Collect)
	clinical.POST("/authorizations/:code/use", h.MarkUsed)

	desk := api.Group("", auth.RequireRole("admin", "desk_office"))
	desk.POST("/authorizations", h.CreateCode)
	desk.POST("/authorizations/:code/cancel", h.CancelCode)
	desk.POST("/authorization-requests/:id/fulfill", h.FulfillRequest)
}

func (h *Handler) CreateCode(c echo.Context) error {
	var params CreateCodeParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	code, err := h.svc.CreateCode(ctx, params, auth.UserIDFromContext(ctx))
	if err != nil {
		return codeError(err)
	}
	return c.JSON(http.StatusCreated, code)
}

func (h *Handler) Lookup(c echo.Context) error {
	code, err := h.svc.Lookup(c.Request().Context(), c.Param("code"))
	if err != nil {
		return codeError(err)
	}
	return c.JSON(http.StatusOK, code)
}

func (h *Handler) Validate(c echo.Context) error {
	result, err := h.svc.Validate(c.Request().Context(), c.Param("code"))
	if err != nil {
		return codeError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Collect(c echo.Context) error {
	code, err := h.svc.CollectCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return codeError(err)
	}
	return c.JSON(http.StatusOK, code)
}

func (h *Handler) MarkUsed(c echo.Context) error {
	code, err := h.svc.MarkUsed(c.Request().Context(), c.Param("code"))
	if err != nil {
		return codeError(err)
	}
	return c.JSON(http.StatusOK, code)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelCode(c echo.Context) error {
	var body cancelRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	code, err := h.svc.Cancel(c.Request().Context(), c.Param("code"), body.Reason)
	if err != nil {
		return codeError(err)
	}
	return c.JSON(http.StatusOK, code)
}

func (h *Handler) ListCodes(c echo.Context) error {
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

	status := Status(c.QueryParam("status"))
	if status == "" {
		status = StatusActive
	}
	items, total, err := h.svc.ListByStatus(ctx, status, p.Limit, p.Offset)
	if err != nil {
		return codeError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

type raiseRequestBody struct {
	PatientID     uuid.UUID `json:"patient_id"`
	Module        string    `json:"module"`
	Justification string    `json:"justification"`
}

func (h *Handler) RaiseRequest(c echo.Context) error {
	var body raiseRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	req, err := h.svc.RaiseRequest(ctx, body.PatientID, ServiceType(body.Module), auth.UserIDFromContext(ctx), body.Justification)
	if err != nil {
		return codeError(err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "authorization request not found")
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) ListRequests(c echo.Context) error {
	p := pagination.FromContext(c)
	ctx := c.Request().Context()

	if pid := c.QueryParam("patient_id"); pid != "" {
		patientID, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListRequestsByPatient(ctx, patientID, p.Limit, p.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
	}

	items, total, err := h.svc.ListPendingRequests(ctx, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

type fulfillRequestBody struct {
	Code string `json:"code"`
}

func (h *Handler) FulfillRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body fulfillRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.FulfillRequest(c.Request().Context(), id, body.Code)
	if err != nil {
		return codeError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) WithdrawRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.WithdrawRequest(c.Request().Context(), id)
	if err != nil {
		return codeError(err)
	}
	return c.JSON(http.StatusOK, req)
}

// codeError maps the package's error taxonomy to HTTP responses.
func codeError(err error) error {
	var invalid *InvalidTransitionError
	var validation *ValidationError
	switch {
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrRequestNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateCode):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrCodeSpaceExhausted):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
