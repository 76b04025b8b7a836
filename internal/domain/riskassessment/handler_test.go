package riskassessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mednexus/mednexus/internal/platform/auth"
	"github.com/mednexus/mednexus/internal/platform/fhir"
	"github.com/mednexus/mednexus/internal/platform/modelregistry"
	"github.com/mednexus/mednexus/internal/platform/workerpool"
)

const sampleBody = `{
	"profile": {"age": 45, "gender": "female"},
	"knowledge": {"hba1c": 6.0, "glucose": 140, "bmi": 27},
	"vitals": {"systolic_bp": 135, "diastolic_bp": 85, "chest_pain": "atypical"},
	"images": []
}`

func newTestHandler(t *testing.T) (*Handler, *mockResultRepo, *mockSnapshotRepo, *echo.Echo) {
	t.Helper()
	svc, results, snapshots := newTestService(t, nil)
	return NewHandler(svc), results, snapshots, echo.New()
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func TestHandler_Assess(t *testing.T) {
	h, results, _, e := newTestHandler(t)
	patientID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(sampleBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(patientID.String())

	if err := h.Assess(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.PatientID == nil || *res.PatientID != patientID {
		t.Errorf("expected patient %s, got %v", patientID, res.PatientID)
	}
	if res.DiabetesDiagnosis != "High risk" || res.HeartDiseaseDiagnosis != "Low risk" {
		t.Errorf("unexpected diagnoses %+v", res)
	}
	if len(results.store) != 1 {
		t.Errorf("expected 1 stored result, got %d", len(results.store))
	}
}

func TestHandler_AssessEmptyBodyUsesStoredSnapshot(t *testing.T) {
	h, _, snapshots, e := newTestHandler(t)
	patientID := uuid.New()
	snapshots.snapshots[patientID] = sampleSnapshot()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(patientID.String())

	if err := h.Assess(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	// Whitespace-only body of unknown length, no Content-Type.
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("  \n"))
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(patientID.String())
	if err := h.Assess(c); err != nil {
		t.Fatalf("unexpected error for blank chunked body: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201 for blank chunked body, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if code := httpStatus(t, h.Assess(c)); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown patient, got %d", code)
	}
}

func TestHandler_AssessBadInput(t *testing.T) {
	h, _, _, e := newTestHandler(t)
	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"bad id", "not-a-uuid", sampleBody, http.StatusBadRequest},
		{"bad json", uuid.New().String(), `{"profile":`, http.StatusBadRequest},
		{"missing age", uuid.New().String(), `{"profile":{"gender":"male"},"knowledge":{},"vitals":{}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)), httptest.NewRecorder())
			c.SetParamNames("id")
			c.SetParamValues(tt.id)
			if code := httpStatus(t, h.Assess(c)); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestHandler_Preview(t *testing.T) {
	h, results, _, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(sampleBody)), rec)
	if err := h.Preview(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(results.store) != 0 {
		t.Error("preview must not store")
	}

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	if code := httpStatus(t, h.Preview(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty preview body, got %d", code)
	}
}

func TestHandler_GetAndFHIR(t *testing.T) {
	h, _, _, e := newTestHandler(t)
	stored, err := h.svc.Assess(context.Background(), uuid.New(), sampleSnapshot())
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(stored.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(stored.ID.String())
	if err := h.GetFHIR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ra fhir.RiskAssessment
	if err := json.Unmarshal(rec.Body.Bytes(), &ra); err != nil {
		t.Fatal(err)
	}
	if ra.ResourceType != "RiskAssessment" || len(ra.Prediction) != 3 {
		t.Errorf("unexpected FHIR resource %+v", ra)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if code := httpStatus(t, h.Get(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")
	if code := httpStatus(t, h.GetFHIR(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListByPatient(t *testing.T) {
	h, _, _, e := newTestHandler(t)
	patientID := uuid.New()
	for i := 0; i < 3; i++ {
		if _, err := h.svc.Assess(context.Background(), patientID, sampleSnapshot()); err != nil {
			t.Fatal(err)
		}
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=2", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(patientID.String())
	if err := h.ListByPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var page struct {
		Data    []Result `json:"data"`
		Total   int      `json:"total"`
		HasMore bool     `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Data) != 2 || !page.HasMore {
		t.Errorf("unexpected page total=%d len=%d more=%v", page.Total, len(page.Data), page.HasMore)
	}
}

func TestHandler_ListByPatientEmptyIsArray(t *testing.T) {
	h, _, _, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	if err := h.ListByPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected an empty data array, got %s", rec.Body.String())
	}
}

func TestHandler_Delete(t *testing.T) {
	h, results, _, e := newTestHandler(t)
	stored, err := h.svc.Assess(context.Background(), uuid.New(), sampleSnapshot())
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(stored.ID.String())
	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if len(results.store) != 0 {
		t.Error("expected result to be deleted")
	}

	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(stored.ID.String())
	if code := httpStatus(t, h.Delete(c)); code != http.StatusNotFound {
		t.Errorf("expected 404 for a second delete, got %d", code)
	}
}

func TestHandler_RoutesRequireRoles(t *testing.T) {
	h, _, _, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"))

	tests := []struct {
		roles  []string
		method string
		path   string
		body   string
		want   int
	}{
		{[]string{"nurse"}, http.MethodPost, "/api/v1/risk-assessments/preview", sampleBody, http.StatusOK},
		{[]string{"nurse"}, http.MethodPost, "/api/v1/patients/" + uuid.NewString() + "/risk-assessments", sampleBody, http.StatusForbidden},
		{[]string{"physician"}, http.MethodPost, "/api/v1/patients/" + uuid.NewString() + "/risk-assessments", sampleBody, http.StatusCreated},
		{[]string{"billing"}, http.MethodGet, "/api/v1/risk-assessments/" + uuid.NewString(), "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v %s %s", tt.roles, tt.method, tt.path), func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req = req.WithContext(auth.WithIdentity(req.Context(), "u1", tt.roles))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHTTPError_Mapping(t *testing.T) {
	e := echo.New()
	tests := []struct {
		name       string
		err        error
		want       int
		retryAfter bool
	}{
		{"incomplete", &IncompleteProfileError{Field: "age", Reason: "is required"}, http.StatusUnprocessableEntity, false},
		{"result not found", ErrResultNotFound, http.StatusNotFound, false},
		{"patient not found", fmt.Errorf("load: %w", ErrPatientNotFound), http.StatusNotFound, false},
		{"queue full", workerpool.ErrQueueFull, http.StatusServiceUnavailable, true},
		{"pool closed", workerpool.ErrPoolClosed, http.StatusServiceUnavailable, true},
		{"model unavailable", &modelregistry.ModelUnavailableError{Name: "diabetes"}, http.StatusServiceUnavailable, false},
		{"scoring", &ScoringError{Disease: DiseaseDiabetes, Err: errors.New("boom")}, http.StatusBadGateway, false},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, false},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), statusClientClosedRequest, false},
		{"other", errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			if code := httpStatus(t, httpError(c, tt.err)); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
			if got := rec.Header().Get("Retry-After") != ""; got != tt.retryAfter {
				t.Errorf("Retry-After set = %v, want %v", got, tt.retryAfter)
			}
		})
	}
}
