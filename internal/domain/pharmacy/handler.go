package pharmacy

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
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
	// Read endpoints – pharmacist, doctor
	read := api.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleDoctor))
	read.GET("/drugs", h.ListDrugs)
	read.GET("/drugs/low-stock", h.ListLowStock)
	read.GET("/drugs/search", h.SearchDrugs)
	read.GET("/drugs/:id", h.GetDrug)
	read.GET("/pharmacy-prescriptions", h.ListPrescriptions)
	read.GET("/pharmacy-prescriptions/:id", h.GetPrescription)

	// Write endpoints – pharmacist
	write := api.Group("", auth.RequireRole(auth.RolePharmacist))
	write.POST("/drugs", h.CreateDrug)
	write.PUT("/drugs/:id", h.UpdateDrug)
	write.DELETE("/drugs/:id", h.DeleteDrug)
	write.PATCH("/drugs/:id/quantity", h.UpdateQuantity)
	write.POST("/drugs/:id/check-stock", h.CheckStockLevel)
	write.POST("/drugs/:id/expire", h.MarkExpired)
	write.POST("/pharmacy-prescriptions", h.CreatePrescription)
	write.PUT("/pharmacy-prescriptions/:id", h.UpdatePrescription)
	write.DELETE("/pharmacy-prescriptions/:id", h.DeletePrescription)
	write.POST("/pharmacy-prescriptions/:id/dispense", h.DispensePrescription)
	write.POST("/pharmacy-prescriptions/:id/substitution", h.RequestSubstitution)
	write.POST("/pharmacy-prescriptions/:id/cancel", h.CancelPrescription)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Drugs --

func (h *Handler) CreateDrug(c echo.Context) error {
	var req DrugRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.CreateDrug(c.Request().Context(), &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDrug(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDrug(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDrug(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req DrugRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.UpdateDrug(c.Request().Context(), id, &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDrug(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteDrug(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListDrugs(c echo.Context) error {
	ctx := c.Request().Context()
	if status := c.QueryParam("status"); status != "" {
		items, err := h.svc.ListDrugsByStatus(ctx, DrugStatus(status))
		if err != nil {
			return apperr.ToHTTP(err)
		}
		return c.JSON(http.StatusOK, items)
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDrugs(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListLowStock(c echo.Context) error {
	items, err := h.svc.ListLowStock(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SearchDrugs(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	items, err := h.svc.SearchDrugs(c.Request().Context(), name)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateQuantity(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Quantity *int `json:"quantity"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Quantity == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "quantity is required")
	}
	d, err := h.svc.UpdateQuantity(c.Request().Context(), id, *body.Quantity)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) CheckStockLevel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.CheckStockLevel(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) MarkExpired(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.MarkExpired(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- Pharmacy prescriptions --

func (h *Handler) CreatePrescription(c echo.Context) error {
	var req PrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.CreatePrescription(c.Request().Context(), &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPrescription(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePrescription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req PrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePrescription(c.Request().Context(), id, &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePrescription(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListPrescriptions filters by ?status=, ?patient_id= or ?pharmacist=me,
// otherwise pages through every order.
func (h *Handler) ListPrescriptions(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		items []*Prescription
		err   error
	)
	switch {
	case c.QueryParam("status") != "":
		items, err = h.svc.ListPrescriptionsByStatus(ctx, PrescriptionStatus(c.QueryParam("status")))
	case c.QueryParam("patient_id") != "":
		patientID, perr := uuid.Parse(c.QueryParam("patient_id"))
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, err = h.svc.ListPrescriptionsForPatient(ctx, patientID)
	case c.QueryParam("pharmacist") == "me":
		me, perr := auth.UserUUIDFromContext(ctx)
		if perr != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, perr.Error())
		}
		items, err = h.svc.ListPrescriptionsForPharmacist(ctx, me)
	default:
		pg := pagination.FromContext(c)
		all, total, err := h.svc.ListPrescriptions(ctx, pg.Limit, pg.Offset)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(all, total, pg))
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DispensePrescription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	pharmacistID, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	var req DispenseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PharmacistName == "" {
		req.PharmacistName = auth.EmailFromContext(ctx)
	}
	p, err := h.svc.DispensePrescription(ctx, id, pharmacistID, req.PharmacistName)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) RequestSubstitution(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req SubstitutionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.RequestSubstitution(c.Request().Context(), id, &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CancelPrescription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.CancelPrescription(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}
