package patient

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mednexus/mednexus/internal/platform/auth"
	"github.com/mednexus/mednexus/pkg/pagination"
)

// statusClientClosedRequest is logged when the caller went away mid-request.
const statusClientClosedRequest = 499

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, physician, nurse
	readGroup := api.Group("", auth.RequireRole(readRoles...))
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/:id", h.GetPatient)
	readGroup.GET("/patients/:id/knowledge", h.GetKnowledge)
	readGroup.GET("/patients/:id/vitals", h.GetVitals)
	readGroup.GET("/patients/:id/images", h.ListImages)

	// Intake endpoints – admin, physician, nurse
	intakeGroup := api.Group("", auth.RequireRole(intakeRoles...))
	intakeGroup.POST("/patients", h.AdmitPatient)
	intakeGroup.PATCH("/patients/:id", h.UpdatePatient)
	intakeGroup.PUT("/patients/:id/knowledge", h.PutKnowledge)
	intakeGroup.PUT("/patients/:id/vitals", h.PutVitals)
	intakeGroup.POST("/patients/:id/images", h.AddImage)
	intakeGroup.DELETE("/patients/:id/images/:image_id", h.RemoveImage)

	// Delete – admin, physician
	deleteGroup := api.Group("", auth.RequireRole(deleteRoles...))
	deleteGroup.DELETE("/patients/:id", h.DeletePatient)
}

func (h *Handler) AdmitPatient(c echo.Context) error {
	var in Intake
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Admit(c.Request().Context(), &in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if patients == nil {
		patients = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var u PatientUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), id, &u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PutKnowledge(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var k Knowledge
	if err := c.Bind(&k); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	k.PatientID = id
	if err := h.svc.PutKnowledge(c.Request().Context(), &k); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, k)
}

func (h *Handler) GetKnowledge(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	k, err := h.svc.GetKnowledge(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if k == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no knowledge recorded for patient")
	}
	return c.JSON(http.StatusOK, k)
}

func (h *Handler) PutVitals(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var v HeartVitals
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v.PatientID = id
	if err := h.svc.PutVitals(c.Request().Context(), &v); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetVitals(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetVitals(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if v == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no vitals recorded for patient")
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) AddImage(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var img Image
	if err := c.Bind(&img); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	img.PatientID = id
	if err := h.svc.AddImage(c.Request().Context(), &img); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, img)
}

func (h *Handler) ListImages(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	images, err := h.svc.ListImages(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if images == nil {
		images = []*Image{}
	}
	return c.JSON(http.StatusOK, images)
}

func (h *Handler) RemoveImage(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	imageID, err := uuid.Parse(c.Param("image_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid image_id")
	}
	if err := h.svc.RemoveImage(c.Request().Context(), id, imageID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func patientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return id, nil
}

func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrImageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient image not found")
	case errors.Is(err, ErrDuplicateNationalID):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(statusClientClosedRequest, "request canceled")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
