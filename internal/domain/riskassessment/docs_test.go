package riskassessment

import (
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestOperationsMatchRoutes(t *testing.T) {
	e := echo.New()
	NewHandler(nil).RegisterRoutes(e.Group(""))

	documented := make(map[string]bool)
	for _, op := range Operations() {
		documented[op.Method+" "+op.Path] = true
	}

	routes := 0
	for _, r := range e.Routes() {
		if !strings.Contains(r.Path, "risk-assessments") {
			continue
		}
		routes++
		if !documented[r.Method+" "+r.Path] {
			t.Errorf("route %s %s is not documented", r.Method, r.Path)
		}
	}
	if routes != len(Operations()) {
		t.Errorf("expected %d routes, got %d", len(Operations()), routes)
	}
}

func TestSchemasCoverOperations(t *testing.T) {
	schemas := Schemas()
	for _, op := range Operations() {
		for _, name := range []string{op.RequestSchema, op.ResponseSchema} {
			if name == "" {
				continue
			}
			if _, ok := schemas[name]; !ok {
				t.Errorf("%s refers to unknown schema %q", op.OperationID, name)
			}
		}
	}
}
