package riskassessment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mednexus/mednexus/internal/platform/auth"
	"github.com/mednexus/mednexus/internal/platform/modelregistry"
	"github.com/mednexus/mednexus/internal/platform/workerpool"
	"github.com/mednexus/mednexus/pkg/pagination"
)

// retryAfterSeconds is advertised when the pipeline is saturated.
const retryAfterSeconds = "5"

// statusClientClosedRequest is logged when the caller went away mid-run.
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
	readGroup.GET("/patients/:id/risk-assessments", h.ListByPatient)
	readGroup.GET("/risk-assessments/:id", h.Get)
	readGroup.GET("/risk-assessments/:id/fhir", h.GetFHIR)
	readGroup.POST("/risk-assessments/preview", h.Preview)

	// Write endpoints – admin, physician
	writeGroup := api.Group("", auth.RequireRole(writeRoles...))
	writeGroup.POST("/patients/:id/risk-assessments", h.Assess)
	writeGroup.DELETE("/risk-assessments/:id", h.Delete)
}

// Assess runs the pipeline for a patient. An empty body assesses the stored
// snapshot.
func (h *Handler) Assess(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	snap, err := decodeSnapshot(c.Request().Body)
	if err != nil {
		return err
	}
	res, err := h.svc.Assess(c.Request().Context(), patientID, snap)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Preview(c echo.Context) error {
	snap, err := decodeSnapshot(c.Request().Body)
	if err != nil {
		return err
	}
	if snap == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "snapshot body is required")
	}
	res, err := h.svc.Preview(c.Request().Context(), snap)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Get(c echo.Context) error {
	res, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetFHIR(c echo.Context) error {
	res, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res.ToFHIR())
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Result{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) lookup(c echo.Context) (*Result, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	res, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(c, err)
	}
	return res, nil
}

// decodeSnapshot returns nil for an empty body, which Assess reads as "use
// the stored snapshot". c.Bind cannot be used here: it treats a missing
// Content-Type or a chunked empty body as a bind error, and it also binds
// path params onto the target.
func decodeSnapshot(body io.Reader) (*Snapshot, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid snapshot: "+err.Error())
	}
	return &snap, nil
}

func httpError(c echo.Context, err error) error {
	var ipe *IncompleteProfileError
	var se *ScoringError
	var mue *modelregistry.ModelUnavailableError
	switch {
	case errors.As(err, &ipe):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrResultNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "risk result not found")
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, workerpool.ErrQueueFull), errors.Is(err, workerpool.ErrPoolClosed):
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "risk pipeline is at capacity, retry later")
	case errors.As(err, &mue):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &se):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "risk assessment timed out")
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(statusClientClosedRequest, "request canceled")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
