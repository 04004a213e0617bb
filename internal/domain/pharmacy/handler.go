package pharmacy

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
	read.GET("/medications", h.ListMedications)
	read.GET("/medications/:id", h.GetMedication)
	read.GET("/dispensaries", h.ListDispensaries)
	read.GET("/packs", h.ListPacks)
	read.GET("/packs/:id", h.GetPack)
	read.GET("/pack-orders", h.ListOrders)
	read.GET("/pack-orders/:id", h.GetOrder)
	read.GET("/prescriptions", h.ListPrescriptions)
	read.GET("/prescriptions/:id", h.GetPrescription)

	clinical := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	clinical.POST("/pack-orders", h.CreateOrder)
	clinical.POST("/pack-orders/:id/cancel", h.CancelOrder)

	pharmacist := api.Group("", auth.RequireRole("admin", "pharmacist"))
	pharmacist.POST("/medications", h.CreateMedication)
	pharmacist.POST("/dispensaries", h.CreateDispensary)
	pharmacist.PUT("/dispensaries/:id", h.UpdateDispensary)
	pharmacist.GET("/dispensaries/:id/inventory", h.ListActiveInventory)
	pharmacist.POST("/packs", h.CreatePack)
	pharmacist.POST("/inventory/bulk", h.ReceiveStock)
	pharmacist.GET("/inventory/bulk/:medication_id", h.ListBulkInventory)
	pharmacist.POST("/pack-orders/:id/process", h.ProcessOrder)
	pharmacist.POST("/pack-orders/:id/ready", h.MarkReady)
	pharmacist.POST("/pack-orders/:id/dispense", h.Dispense)
}

func (h *Handler) CreateMedication(c echo.Context) error {
	var m Medication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.CreateMedication(c.Request().Context(), &m)
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetMedication(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.svc.GetMedication(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "medication not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMedications(c echo.Context) error {
	p := pagination.FromContext(c)
	ctx := c.Request().Context()
	if q := c.QueryParam("q"); q != "" {
		items, total, err := h.svc.SearchMedications(ctx, q, p.Limit, p.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
	}
	items, total, err := h.svc.ListMedications(ctx, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) CreateDispensary(c echo.Context) error {
	var d Dispensary
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.CreateDispensary(c.Request().Context(), &d)
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) UpdateDispensary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var d Dispensary
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = id
	out, err := h.svc.UpdateDispensary(c.Request().Context(), &d)
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListDispensaries(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListDispensaries(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) CreatePack(c echo.Context) error {
	var pack MedicalPack
	if err := c.Bind(&pack); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.CreatePack(c.Request().Context(), &pack)
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetPack(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pack, err := h.svc.GetPack(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "pack not found")
	}
	return c.JSON(http.StatusOK, pack)
}

func (h *Handler) ListPacks(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListPacks(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) ReceiveStock(c echo.Context) error {
	var row BulkInventory
	if err := c.Bind(&row); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.ReceiveStock(c.Request().Context(), &row)
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListBulkInventory(c echo.Context) error {
	medicationID, err := uuid.Parse(c.Param("medication_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid medication_id")
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListBulkInventory(c.Request().Context(), medicationID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) ListActiveInventory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListActiveInventory(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var params CreateOrderParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	order, err := h.svc.CreateOrder(ctx, params, auth.UserIDFromContext(ctx))
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusCreated, order)
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	order, err := h.svc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "pack order not found")
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) ListOrders(c echo.Context) error {
	p := pagination.FromContext(c)
	ctx := c.Request().Context()
	if pid := c.QueryParam("patient_id"); pid != "" {
		patientID, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListOrdersByPatient(ctx, patientID, p.Limit, p.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
	}
	status := PackOrderStatus(c.QueryParam("status"))
	if status == "" {
		status = OrderOrdered
	}
	items, total, err := h.svc.ListOrdersByStatus(ctx, status, p.Limit, p.Offset)
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

type processOrderBody struct {
	DispensaryID uuid.UUID `json:"dispensary_id"`
}

func (h *Handler) ProcessOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body processOrderBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	prescription, err := h.svc.Process(ctx, id, body.DispensaryID, auth.UserIDFromContext(ctx))
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusOK, prescription)
}

func (h *Handler) MarkReady(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	order, err := h.svc.MarkReady(c.Request().Context(), id)
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) Dispense(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	order, err := h.svc.Dispense(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) CancelOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	order, err := h.svc.CancelOrder(c.Request().Context(), id)
	if err != nil {
		return pharmacyError(err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	prescription, err := h.svc.GetPrescription(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return c.JSON(http.StatusOK, prescription)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	pid := c.QueryParam("patient_id")
	if pid == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	patientID, err := uuid.Parse(pid)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListPrescriptionsByPatient(c.Request().Context(), patientID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func pharmacyError(err error) error {
	var blocked *GateBlockedError
	var status *OrderStatusError
	var stock *authorization.InsufficientCriticalStockError
	var validation *authorization.ValidationError
	var unavailable *authorization.StoreUnavailableError
	switch {
	case errors.As(err, &blocked):
		return echo.NewHTTPError(http.StatusForbidden, blocked.Decision)
	case errors.As(err, &status):
		return echo.NewHTTPError(http.StatusConflict, status.Error())
	case errors.As(err, &stock):
		return echo.NewHTTPError(http.StatusConflict, stock.Error())
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, validation.Error())
	case errors.As(err, &unavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, unavailable.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
