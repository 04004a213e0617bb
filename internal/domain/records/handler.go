package records

import (
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
	read.GET("/clinical-records", h.List)
	read.GET("/clinical-records/:id", h.Get)
	read.GET("/module-configs", h.ListConfigs)

	clinical := api.Group("", auth.RequireRole("admin", "desk_office", "physician", "pharmacist", "nurse"))
	clinical.POST("/clinical-records", h.Register)
	clinical.POST("/clinical-records/:id/link-code", h.LinkCode)

	desk := api.Group("", auth.RequireRole("admin", "desk_office"))
	desk.POST("/clinical-records/:id/reject", h.Reject)
	desk.PUT("/module-configs/:module", h.SetConfig)
}

func (h *Handler) Register(c echo.Context) error {
	var params RegisterRecordParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	cr, err := h.svc.RegisterRecord(ctx, params, auth.UserIDFromContext(ctx))
	if err != nil {
		return recordError(err)
	}
	return c.JSON(http.StatusCreated, cr)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cr, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "clinical record not found")
	}
	return c.JSON(http.StatusOK, cr)
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

	status := AuthorizationStatus(c.QueryParam("status"))
	if status == "" {
		status = AuthPending
	}
	items, total, err := h.svc.ListByStatus(ctx, status, p.Limit, p.Offset)
	if err != nil {
		return recordError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

type linkCodeBody struct {
	Code string `json:"code"`
}

func (h *Handler) LinkCode(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body linkCodeBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cr, err := h.svc.LinkCode(c.Request().Context(), id, body.Code)
	if err != nil {
		return recordError(err)
	}
	return c.JSON(http.StatusOK, cr)
}

type rejectBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body rejectBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cr, err := h.svc.MarkRejected(c.Request().Context(), id, body.Reason)
	if err != nil {
		return recordError(err)
	}
	return c.JSON(http.StatusOK, cr)
}

func (h *Handler) ListConfigs(c echo.Context) error {
	configs, err := h.svc.ListModuleConfigs(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, configs)
}

func (h *Handler) SetConfig(c echo.Context) error {
	var cfg ModuleConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg.Module = Module(c.Param("module"))
	out, err := h.svc.SetModuleConfig(c.Request().Context(), &cfg)
	if err != nil {
		return recordError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func recordError(err error) error {
	var validation *authorization.ValidationError
	var unavailable *authorization.StoreUnavailableError
	switch {
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, validation.Error())
	case errors.As(err, &unavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, unavailable.Error())
	case errors.Is(err, authorization.ErrCodeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
