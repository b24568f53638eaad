package scheduling

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	appts := api.Group("/appointments")
	appts.POST("", h.Book, auth.RequireRole(auth.RolePatient))
	appts.GET("/mine", h.ListMine, auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	appts.POST("/:id/cancel", h.Cancel, auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	appts.POST("/:id/complete", h.Complete, auth.RequireRole(auth.RoleDoctor))

	mine := api.Group("/surgeries/mine", auth.RequireRole(auth.RolePatient))
	mine.GET("", h.ListMySurgeries)
	mine.GET("/completed", h.ListMyCompletedSurgeries)

	sg := api.Group("/surgeries", auth.RequireRole(auth.RoleDoctor))
	sg.POST("", h.ScheduleSurgery)
	sg.GET("", h.ListSurgeries)
	sg.GET("/counts", h.SurgeryCounts)
	sg.GET("/:id", h.GetSurgery)
	sg.PUT("/:id", h.UpdateSurgery)
	sg.DELETE("/:id", h.DeleteSurgery)
	sg.POST("/:id/complete", h.CompleteSurgery)
}

func callerID(c echo.Context) (uuid.UUID, error) {
	id, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return id, nil
}

// callerAndID resolves the caller and the :id path parameter.
func callerAndID(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	caller, err := callerID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return caller, id, nil
}

// -- Appointments --

func (h *Handler) Book(c echo.Context) error {
	patientID, err := callerID(c)
	if err != nil {
		return err
	}
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	a, err := h.svc.Book(c.Request().Context(), patientID, &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

// ListMine returns the doctor's schedule for doctors and the patient's own
// bookings otherwise.
func (h *Handler) ListMine(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	var items []*Appointment
	if auth.HasRole(ctx, auth.RoleDoctor) {
		items, err = h.svc.ListAppointmentsForDoctor(ctx, caller)
	} else {
		items, err = h.svc.ListAppointmentsForPatient(ctx, caller)
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Cancel(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CancelAppointment(c.Request().Context(), id, caller)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Complete(c echo.Context) error {
	caller, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CompleteAppointment(c.Request().Context(), id, caller)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Surgeries --

func (h *Handler) ScheduleSurgery(c echo.Context) error {
	doctorID, err := callerID(c)
	if err != nil {
		return err
	}
	var req SurgeryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sg, err := h.svc.ScheduleSurgery(c.Request().Context(), doctorID, &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, sg)
}

func (h *Handler) ListSurgeries(c echo.Context) error {
	doctorID, err := callerID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListSurgeries(c.Request().Context(), doctorID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListMySurgeries(c echo.Context) error {
	return h.listPatientSurgeries(c, SurgeryStatus(strings.ToUpper(c.QueryParam("status"))))
}

func (h *Handler) ListMyCompletedSurgeries(c echo.Context) error {
	return h.listPatientSurgeries(c, SurgeryCompleted)
}

func (h *Handler) listPatientSurgeries(c echo.Context, status SurgeryStatus) error {
	patientID, err := callerID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListSurgeriesForPatient(c.Request().Context(), patientID, status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SurgeryCounts(c echo.Context) error {
	doctorID, err := callerID(c)
	if err != nil {
		return err
	}
	counts, err := h.svc.SurgeryCounts(c.Request().Context(), doctorID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, counts)
}

func (h *Handler) GetSurgery(c echo.Context) error {
	doctorID, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	sg, err := h.svc.GetSurgery(c.Request().Context(), id, doctorID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sg)
}

func (h *Handler) UpdateSurgery(c echo.Context) error {
	doctorID, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	var upd SurgeryUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sg, err := h.svc.UpdateSurgery(c.Request().Context(), id, doctorID, &upd)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sg)
}

func (h *Handler) DeleteSurgery(c echo.Context) error {
	doctorID, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSurgery(c.Request().Context(), id, doctorID); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CompleteSurgery(c echo.Context) error {
	doctorID, id, err := callerAndID(c)
	if err != nil {
		return err
	}
	sg, err := h.svc.CompleteSurgery(c.Request().Context(), id, doctorID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sg)
}
