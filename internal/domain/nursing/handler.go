package nursing

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Orders – doctor, nurse
	orders := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	orders.POST("/prescriptions", h.CreatePrescription)
	orders.GET("/prescriptions/:id", h.GetPrescription)
	orders.GET("/patients/:patientId/prescriptions", h.ListPatientPrescriptions)
	orders.GET("/patients/:patientId/prescriptions/active", h.ListActivePrescriptions)
	orders.GET("/medications", h.ListMedications)
	orders.GET("/medications/:id", h.GetMedication)

	// Administration – nurse
	nurse := api.Group("", auth.RequireRole(auth.RoleNurse))
	nurse.POST("/administrations/validate", h.Validate)
	nurse.POST("/administrations", h.Administer)
	nurse.POST("/administrations/missed", h.MarkMissed)
	nurse.GET("/administrations/:recordId", h.GetRecord)
	nurse.POST("/administrations/:recordId/adverse-reaction", h.ReportAdverseReaction)
	nurse.GET("/patients/:patientId/administrations", h.AdministrationHistory)
	nurse.GET("/nurses/me/administrations", h.MyAdministrations)
	nurse.GET("/nurses/me/dashboard", h.Dashboard)
	nurse.POST("/patients/search", h.SearchPatients)
	nurse.GET("/patients/users", h.ListPatients)

	// Catalogue – admin
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/medications", h.CreateMedication)
}

func callerID(c echo.Context) (uuid.UUID, error) {
	id, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return id, nil
}

func parseUUIDParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Prescriptions --

func (h *Handler) CreatePrescription(c echo.Context) error {
	prescriber, err := callerID(c)
	if err != nil {
		return err
	}
	var req OrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	var p *Prescription
	if req.PatientID == uuid.Nil && req.PatientEmail != "" {
		p, err = h.svc.CreateFromOrderForPatientEmail(ctx, prescriber, &req)
	} else {
		p, err = h.svc.CreateFromOrder(ctx, prescriber, &req)
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPrescription(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatientPrescriptions(c echo.Context) error {
	patientID, err := parseUUIDParam(c, "patientId")
	if err != nil {
		return err
	}
	items, err := h.svc.PrescriptionsForPatient(c.Request().Context(), patientID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListActivePrescriptions(c echo.Context) error {
	patientID, err := parseUUIDParam(c, "patientId")
	if err != nil {
		return err
	}
	items, err := h.svc.ActivePrescriptions(c.Request().Context(), patientID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Medications --

func (h *Handler) CreateMedication(c echo.Context) error {
	var m Medication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.CreateMedication(c.Request().Context(), &m)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetMedication(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.GetMedication(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMedications(c echo.Context) error {
	items, err := h.svc.ListMedications(c.Request().Context(), c.QueryParam("all") != "true")
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Administration --

func (h *Handler) Validate(c echo.Context) error {
	var req AdministrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Validate(c.Request().Context(), &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid":    res.Valid(),
		"errors":   res.Errors,
		"warnings": res.Warnings,
	})
}

func (h *Handler) Administer(c echo.Context) error {
	nurseID, err := callerID(c)
	if err != nil {
		return err
	}
	var req AdministrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Administer(c.Request().Context(), nurseID, &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) MarkMissed(c echo.Context) error {
	nurseID, err := callerID(c)
	if err != nil {
		return err
	}
	var req MissedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.MarkMissed(c.Request().Context(), nurseID, &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetRecord(c echo.Context) error {
	rec, err := h.svc.GetRecord(c.Request().Context(), c.Param("recordId"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ReportAdverseReaction(c echo.Context) error {
	var body struct {
		AdverseReaction string `json:"adverse_reaction"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.ReportAdverseReaction(c.Request().Context(), c.Param("recordId"), body.AdverseReaction)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) AdministrationHistory(c echo.Context) error {
	patientID, err := parseUUIDParam(c, "patientId")
	if err != nil {
		return err
	}
	items, err := h.svc.AdministrationHistory(c.Request().Context(), patientID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

// MyAdministrations lists the caller's records, optionally bounded by the
// RFC 3339 from/to query parameters.
func (h *Handler) MyAdministrations(c echo.Context) error {
	nurseID, err := callerID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	fromStr, toStr := c.QueryParam("from"), c.QueryParam("to")
	if fromStr == "" && toStr == "" {
		items, err := h.svc.NurseHistory(ctx, nurseID)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		return c.JSON(http.StatusOK, items)
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
	}
	items, err := h.svc.NurseAdministrationsBetween(ctx, nurseID, from, to)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Dashboard(c echo.Context) error {
	nurseID, err := callerID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Dashboard(c.Request().Context(), nurseID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- Patients --

type patientSearchRequest struct {
	SearchType string `json:"search_type"`
	SearchTerm string `json:"search_term"`
}

func (h *Handler) SearchPatients(c echo.Context) error {
	var req patientSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patients, err := h.svc.SearchPatients(c.Request().Context(), identity.SearchType(req.SearchType), req.SearchTerm)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.ListPatients(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, patients)
}
