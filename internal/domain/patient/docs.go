package patient

import (
	"net/http"

	"github.com/mednexus/mednexus/internal/platform/auth"
	"github.com/mednexus/mednexus/internal/platform/openapi"
)

var (
	readRoles   = []string{auth.RoleAdmin, auth.RolePhysician, auth.RoleNurse}
	intakeRoles = []string{auth.RoleAdmin, auth.RolePhysician, auth.RoleNurse}
	deleteRoles = []string{auth.RoleAdmin, auth.RolePhysician}
)

// Operations describes the routes RegisterRoutes installs.
func Operations() []openapi.Operation {
	invalid := map[int]string{http.StatusBadRequest: "Invalid input"}
	admit := map[int]string{
		http.StatusBadRequest: "Invalid input",
		http.StatusConflict:   "national_id is already registered",
	}
	none := map[int]string{}
	page := []openapi.Param{
		{Name: "limit", Type: "integer", Description: "Page size (default 20, max 100)"},
		{Name: "offset", Type: "integer", Description: "Items to skip"},
	}
	return []openapi.Operation{
		{
			Method: http.MethodPost, Path: "/patients",
			Summary:     "Register a patient with optional knowledge, vitals and images",
			OperationID: "admitPatient", Tag: "Patient", Roles: intakeRoles,
			RequestSchema: "Intake", Status: http.StatusCreated, ResponseSchema: "PatientRecord", Errors: admit,
		},
		{
			Method: http.MethodGet, Path: "/patients",
			Summary:     "List patients, newest first",
			OperationID: "listPatients", Tag: "Patient", Roles: readRoles,
			ResponseSchema: "PatientPage", Query: page, Errors: none,
		},
		{
			Method: http.MethodGet, Path: "/patients/:id",
			Summary:     "Read a patient with every stored clinical row",
			OperationID: "getPatient", Tag: "Patient", Roles: readRoles,
			ResponseSchema: "PatientRecord", Errors: none,
		},
		{
			Method: http.MethodPatch, Path: "/patients/:id",
			Summary:     "Update the given patient fields",
			OperationID: "updatePatient", Tag: "Patient", Roles: intakeRoles,
			RequestSchema: "PatientUpdate", ResponseSchema: "Patient", Errors: admit,
		},
		{
			Method: http.MethodDelete, Path: "/patients/:id",
			Summary:     "Delete a patient, its clinical rows and its results",
			OperationID: "deletePatient", Tag: "Patient", Roles: deleteRoles,
			Status: http.StatusNoContent, Errors: none,
		},
		{
			Method: http.MethodPut, Path: "/patients/:id/knowledge",
			Summary:     "Store or replace the patient's labs and lifestyle",
			OperationID: "putPatientKnowledge", Tag: "Patient", Roles: intakeRoles,
			RequestSchema: "Knowledge", ResponseSchema: "Knowledge", Errors: invalid,
		},
		{
			Method: http.MethodGet, Path: "/patients/:id/knowledge",
			Summary:     "Read the patient's labs and lifestyle",
			OperationID: "getPatientKnowledge", Tag: "Patient", Roles: readRoles,
			ResponseSchema: "Knowledge", Errors: none,
		},
		{
			Method: http.MethodPut, Path: "/patients/:id/vitals",
			Summary:     "Store or replace the patient's cardiac vitals",
			OperationID: "putPatientVitals", Tag: "Patient", Roles: intakeRoles,
			RequestSchema: "HeartVitals", ResponseSchema: "HeartVitals", Errors: invalid,
		},
		{
			Method: http.MethodGet, Path: "/patients/:id/vitals",
			Summary:     "Read the patient's cardiac vitals",
			OperationID: "getPatientVitals", Tag: "Patient", Roles: readRoles,
			ResponseSchema: "HeartVitals", Errors: none,
		},
		{
			Method: http.MethodPost, Path: "/patients/:id/images",
			Summary:     "Attach an image locator to the patient",
			OperationID: "addPatientImage", Tag: "Patient", Roles: intakeRoles,
			RequestSchema: "PatientImage", Status: http.StatusCreated, ResponseSchema: "PatientImage", Errors: invalid,
		},
		{
			Method: http.MethodGet, Path: "/patients/:id/images",
			Summary:     "List the patient's images, oldest first",
			OperationID: "listPatientImages", Tag: "Patient", Roles: readRoles,
			ResponseSchema: "PatientImageList", Errors: none,
		},
		{
			Method: http.MethodDelete, Path: "/patients/:id/images/:image_id",
			Summary:     "Detach an image from the patient",
			OperationID: "removePatientImage", Tag: "Patient", Roles: intakeRoles,
			Status: http.StatusNoContent, Errors: none,
		},
	}
}

func prop(typ string) map[string]interface{} { return map[string]interface{}{"type": typ} }

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
	uuidProp := map[string]interface{}{"type": "string", "format": "uuid"}
	timeProp := map[string]interface{}{"type": "string", "format": "date-time"}

	patientProps := func() map[string]interface{} {
		return map[string]interface{}{
			"national_id": map[string]interface{}{"type": "string", "maxLength": maxNationalID},
			"full_name":   map[string]interface{}{"type": "string", "maxLength": maxFullName},
			"complaint":   prop("string"),
			"age":         map[string]interface{}{"type": "integer", "minimum": 0},
			"gender":      map[string]interface{}{"type": "string", "maxLength": maxGender},
		}
	}
	patient := patientProps()
	patient["id"] = uuidProp
	patient["created_at"] = timeProp

	knowledge := object(map[string]interface{}{
		"id":                     uuidProp,
		"patient_id":             uuidProp,
		"glucose":                prop("number"),
		"bmi":                    prop("number"),
		"hba1c":                  prop("number"),
		"total_cholesterol":      prop("number"),
		"diabetes":               prop("boolean"),
		"heart_disease":          prop("boolean"),
		"smoking":                prop("boolean"),
		"cigarettes_per_day":     prop("integer"),
		"prevalent_hypertension": prop("boolean"),
		"prevalent_stroke":       prop("boolean"),
		"created_at":             timeProp,
	})
	vitals := object(map[string]interface{}{
		"id":             uuidProp,
		"patient_id":     uuidProp,
		"bp_meds":        prop("boolean"),
		"diastolic_bp":   prop("integer"),
		"systolic_bp":    prop("integer"),
		"heart_rate":     prop("integer"),
		"chest_pain":     prop("string"),
		"resting_ecg":    prop("string"),
		"exercise_slope": prop("string"),
		"created_at":     timeProp,
	})
	image := object(map[string]interface{}{
		"id":          uuidProp,
		"patient_id":  uuidProp,
		"image_path":  prop("string"),
		"disease_tag": map[string]interface{}{"type": "string", "maxLength": maxDiseaseTag},
		"created_at":  timeProp,
	}, "image_path")
	images := map[string]interface{}{"type": "array", "items": ref("PatientImage")}

	return map[string]map[string]interface{}{
		"Patient":          object(patient, "national_id", "full_name"),
		"PatientUpdate":    object(patientProps()),
		"Knowledge":        knowledge,
		"HeartVitals":      vitals,
		"PatientImage":     image,
		"PatientImageList": images,
		"PatientRecord": object(map[string]interface{}{
			"patient":   ref("Patient"),
			"knowledge": ref("Knowledge"),
			"vitals":    ref("HeartVitals"),
			"images":    images,
		}, "patient"),
		"Intake": object(map[string]interface{}{
			"patient":   ref("Patient"),
			"knowledge": ref("Knowledge"),
			"vitals":    ref("HeartVitals"),
			"images":    images,
		}, "patient"),
		"PatientPage": object(map[string]interface{}{
			"data":        map[string]interface{}{"type": "array", "items": ref("Patient")},
			"total":       prop("integer"),
			"limit":       prop("integer"),
			"offset":      prop("integer"),
			"has_more":    prop("boolean"),
			"next_offset": map[string]interface{}{"type": "integer", "nullable": true},
		}),
	}
}
