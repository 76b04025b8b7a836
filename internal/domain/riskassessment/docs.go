package riskassessment

import (
	"net/http"

	"github.com/mednexus/mednexus/internal/platform/auth"
	"github.com/mednexus/mednexus/internal/platform/openapi"
)

var (
	readRoles  = []string{auth.RoleAdmin, auth.RolePhysician, auth.RoleNurse}
	writeRoles = []string{auth.RoleAdmin, auth.RolePhysician}
)

// Operations describes the routes RegisterRoutes installs.
func Operations() []openapi.Operation {
	page := []openapi.Param{
		{Name: "limit", Type: "integer", Description: "Page size (default 20, max 100)"},
		{Name: "offset", Type: "integer", Description: "Items to skip"},
	}
	return []openapi.Operation{
		{
			Method: http.MethodPost, Path: "/patients/:id/risk-assessments",
			Summary:     "Assess a patient; an empty body assesses the stored snapshot",
			OperationID: "assessPatient", Tag: "RiskAssessment", Roles: writeRoles,
			RequestSchema: "Snapshot", RequestOptional: true,
			Status: http.StatusCreated, ResponseSchema: "RiskResult",
		},
		{
			Method: http.MethodGet, Path: "/patients/:id/risk-assessments",
			Summary:     "List a patient's stored assessments",
			OperationID: "listPatientRiskAssessments", Tag: "RiskAssessment", Roles: readRoles,
			ResponseSchema: "RiskResultPage", Query: page,
		},
		{
			Method: http.MethodPost, Path: "/risk-assessments/preview",
			Summary:     "Assess a snapshot without storing the result",
			OperationID: "previewRiskAssessment", Tag: "RiskAssessment", Roles: readRoles,
			RequestSchema: "Snapshot", ResponseSchema: "RiskResult",
		},
		{
			Method: http.MethodGet, Path: "/risk-assessments/:id",
			Summary:     "Read a stored assessment",
			OperationID: "getRiskAssessment", Tag: "RiskAssessment", Roles: readRoles,
			ResponseSchema: "RiskResult",
		},
		{
			Method: http.MethodGet, Path: "/risk-assessments/:id/fhir",
			Summary:     "Read a stored assessment as a FHIR RiskAssessment",
			OperationID: "getRiskAssessmentFHIR", Tag: "RiskAssessment", Roles: readRoles,
			ResponseSchema: "RiskAssessment", ContentType: "application/fhir+json",
		},
		{
			Method: http.MethodDelete, Path: "/risk-assessments/:id",
			Summary:     "Delete a stored assessment",
			OperationID: "deleteRiskAssessment", Tag: "RiskAssessment", Roles: writeRoles,
			Status: http.StatusNoContent,
		},
	}
}

func prop(typ string) map[string]interface{} { return map[string]interface{}{"type": typ} }

func nullable(typ string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "nullable": true}
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	out := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// Schemas returns the component schemas Operations refers to.
func Schemas() map[string]map[string]interface{} {
	visual := object(map[string]interface{}{
		"probability": nullable("number"),
		"status": map[string]interface{}{"type": "string", "enum": []string{
			string(VisualAvailable), string(VisualNoImage), string(VisualUnsupported), string(VisualFailed),
		}},
		"locator": prop("string"),
		"detail":  prop("string"),
	}, "probability", "status")

	return map[string]map[string]interface{}{
		"Snapshot": object(map[string]interface{}{
			"profile": object(map[string]interface{}{
				"age":    prop("integer"),
				"gender": prop("string"),
			}, "age", "gender"),
			"knowledge": object(map[string]interface{}{
				"glucose":                prop("number"),
				"bmi":                    prop("number"),
				"hba1c":                  prop("number"),
				"total_cholesterol":      prop("number"),
				"diabetes":               prop("boolean"),
				"heart_disease":          prop("boolean"),
				"smoking":                prop("boolean"),
				"prevalent_hypertension": prop("boolean"),
				"prevalent_stroke":       prop("boolean"),
				"cigarettes_per_day":     prop("integer"),
			}),
			"vitals": object(map[string]interface{}{
				"bp_meds":        prop("boolean"),
				"diastolic_bp":   prop("integer"),
				"systolic_bp":    prop("integer"),
				"heart_rate":     prop("integer"),
				"chest_pain":     prop("string"),
				"resting_ecg":    prop("string"),
				"exercise_slope": prop("string"),
			}),
			"images": map[string]interface{}{
				"type": "array",
				"items": object(map[string]interface{}{
					"image_path":  prop("string"),
					"disease_tag": prop("string"),
				}, "image_path", "disease_tag"),
			},
		}, "profile"),
		"VisualFinding": visual,
		"RiskResult": object(map[string]interface{}{
			"id":                      map[string]interface{}{"type": "string", "format": "uuid"},
			"patient_id":              map[string]interface{}{"type": "string", "format": "uuid"},
			"diabetes_risk":           prop("number"),
			"hypertension_risk":       prop("number"),
			"heart_disease_risk":      prop("number"),
			"diabetes_diagnosis":      prop("string"),
			"hypertension_diagnosis":  prop("string"),
			"heart_disease_diagnosis": prop("string"),
			"source":                  prop("string"),
			"summary":                 prop("string"),
			"created_at":              map[string]interface{}{"type": "string", "format": "date-time"},
			"payload": object(map[string]interface{}{
				"visual":   map[string]interface{}{"type": "object", "additionalProperties": ref("VisualFinding")},
				"warnings": map[string]interface{}{"type": "array", "items": prop("string")},
			}),
		}),
		"RiskResultPage": object(map[string]interface{}{
			"data":        map[string]interface{}{"type": "array", "items": ref("RiskResult")},
			"total":       prop("integer"),
			"limit":       prop("integer"),
			"offset":      prop("integer"),
			"has_more":    prop("boolean"),
			"next_offset": nullable("integer"),
		}),
		"RiskAssessment": object(map[string]interface{}{
			"resourceType":       map[string]interface{}{"type": "string", "enum": []string{"RiskAssessment"}},
			"id":                 prop("string"),
			"status":             prop("string"),
			"subject":            ref("Reference"),
			"occurrenceDateTime": map[string]interface{}{"type": "string", "format": "date-time"},
			"method":             ref("CodeableConcept"),
			"prediction": map[string]interface{}{
				"type": "array",
				"items": object(map[string]interface{}{
					"outcome":            ref("CodeableConcept"),
					"probabilityDecimal": prop("number"),
					"qualitativeRisk":    ref("CodeableConcept"),
				}),
			},
		}, "resourceType", "status"),
	}
}
