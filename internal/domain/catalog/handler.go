package catalog

import (
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
	read := api.Group("", auth.RequireRole("admin", "billing", "desk_office", "physician", "pharmacist"))
	read.GET("/catalog/items", h.List)
	read.GET("/catalog/items/:id", h.Get)
	read.GET("/catalog/category-mappings", h.ListMappings)

	write := api.Group("", auth.RequireRole("admin", "billing"))
	write.POST("/catalog/items", h.Create)
	write.PUT("/catalog/items/:id", h.Update)
	write.DELETE("/catalog/items/:id", h.Delete)
	write.PUT("/catalog/category-mappings", h.SetMapping)
}

func (h *Handler) Create(c echo.Context) error {
	var item ServiceItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateItem(c.Request().Context(), &item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		item, cerr := h.svc.GetItemByCode(c.Request().Context(), c.Param("id"))
		if cerr != nil {
			return echo.NewHTTPError(http.StatusNotFound, "service item not found")
		}
		return c.JSON(http.StatusOK, item)
	}
	item, err := h.svc.GetItem(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "service item not found")
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var item ServiceItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item.ID = id
	if err := h.svc.UpdateItem(c.Request().Context(), &item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteItem(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "service item not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	ctx := c.Request().Context()

	if cat := c.QueryParam("category"); cat != "" {
		items, total, err := h.svc.ListItemsByCategory(ctx, cat, p.Limit, p.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
	}

	if q := c.QueryParam("q"); q != "" {
		items, total, err := h.svc.SearchItems(ctx, q, p.Limit, p.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
	}

	items, total, err := h.svc.ListItems(ctx, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) ListMappings(c echo.Context) error {
	mappings, err := h.svc.ListCategoryMappings(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, mappings)
}

func (h *Handler) SetMapping(c echo.Context) error {
	var m CategoryMapping
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetCategoryMapping(c.Request().Context(), &m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}
