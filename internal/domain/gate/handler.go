package gate

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	clinical := api.Group("", auth.RequireRole("admin", "desk_office", "billing", "physician", "pharmacist", "nurse"))
	clinical.POST("/gate/evaluate", h.Evaluate)
}

func (h *Handler) Evaluate(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	decision, err := h.svc.Evaluate(ctx, in, auth.UserIDFromContext(ctx))
	if err != nil {
		var validation *authorization.ValidationError
		var unavailable *authorization.StoreUnavailableError
		switch {
		case errors.As(err, &validation):
			return echo.NewHTTPError(http.StatusBadRequest, validation.Error())
		case errors.As(err, &unavailable):
			return echo.NewHTTPError(http.StatusServiceUnavailable, unavailable.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, decision)
}
