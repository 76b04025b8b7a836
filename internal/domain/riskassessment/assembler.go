package riskassessment

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mednexus/mednexus/internal/platform/fhir"
)

// Result maps to the risk_result table: flat numeric fields per disease, and
// a structured payload for visual findings and encoding warnings.
type Result struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	PatientID             *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	DiabetesRisk          float64    `db:"diabetes_risk" json:"diabetes_risk"`
	HypertensionRisk      float64    `db:"hypertension_risk" json:"hypertension_risk"`
	HeartDiseaseRisk      float64    `db:"heart_disease_risk" json:"heart_disease_risk"`
	DiabetesDiagnosis     string     `db:"diabetes_diagnosis" json:"diabetes_diagnosis"`
	HypertensionDiagnosis string     `db:"hypertension_diagnosis" json:"hypertension_diagnosis"`
	HeartDiseaseDiagnosis string     `db:"heart_disease_diagnosis" json:"heart_disease_diagnosis"`
	Source                string     `db:"source" json:"source"`
	Payload               Payload    `db:"payload" json:"payload"`
	Summary               string     `db:"summary" json:"summary"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
}

// Payload is the structured part of a stored result.
type Payload struct {
	Visual   map[string]VisualFinding `json:"visual"`
	Warnings []string                 `json:"warnings,omitempty"`
}

// Assemble converts an assessment into the stored result shape. It has no
// side effects; ID and PatientID are left for the caller.
func Assemble(a *RiskAssessment) (*Result, error) {
	if a == nil {
		return nil, errors.New("assemble: nil assessment")
	}
	for _, d := range Diseases() {
		if _, ok := a.Risks[d]; !ok {
			return nil, fmt.Errorf("assemble: assessment has no %s score", d)
		}
	}

	visual := make(map[string]VisualFinding, len(a.Visual))
	for k, v := range a.Visual {
		visual[k] = v
	}
	r := &Result{
		DiabetesRisk:          a.Risks[DiseaseDiabetes].Probability,
		HypertensionRisk:      a.Risks[DiseaseHypertension].Probability,
		HeartDiseaseRisk:      a.Risks[DiseaseHeartDisease].Probability,
		DiabetesDiagnosis:     a.Risks[DiseaseDiabetes].Band.Label(),
		HypertensionDiagnosis: a.Risks[DiseaseHypertension].Band.Label(),
		HeartDiseaseDiagnosis: a.Risks[DiseaseHeartDisease].Band.Label(),
		Source:                a.Source,
		Payload:               Payload{Visual: visual, Warnings: append([]string(nil), a.Warnings...)},
		CreatedAt:             a.CreatedAt,
	}
	r.Summary = summarize(a)
	return r, nil
}

// summarize renders a one-line readable digest, e.g.
// "diabetes: High risk (0.720); hypertension: ...; visual hypertension: 0.410".
func summarize(a *RiskAssessment) string {
	parts := make([]string, 0, 3+len(a.Visual))
	for _, d := range Diseases() {
		r := a.Risks[d]
		parts = append(parts, fmt.Sprintf("%s: %s (%.3f)", d, r.Band.Label(), r.Probability))
	}
	tags := make([]string, 0, len(a.Visual))
	for t := range a.Visual {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	for _, t := range tags {
		f := a.Visual[t]
		if f.Available() {
			parts = append(parts, fmt.Sprintf("visual %s: %.3f", t, *f.Probability))
		} else {
			parts = append(parts, fmt.Sprintf("visual %s: %s", t, f.Status))
		}
	}
	return strings.Join(parts, "; ")
}

type storedRisk struct {
	disease     Disease
	probability float64
	label       string
}

func (r *Result) risks() []storedRisk {
	return []storedRisk{
		{DiseaseDiabetes, r.DiabetesRisk, r.DiabetesDiagnosis},
		{DiseaseHypertension, r.HypertensionRisk, r.HypertensionDiagnosis},
		{DiseaseHeartDisease, r.HeartDiseaseRisk, r.HeartDiseaseDiagnosis},
	}
}

var diseaseDisplay = map[Disease]string{
	DiseaseDiabetes:     "Diabetes mellitus",
	DiseaseHypertension: "Hypertension",
	DiseaseHeartDisease: "Heart disease",
}

// ToFHIR renders the result as a FHIR R4 RiskAssessment with one prediction
// per disease.
func (r *Result) ToFHIR() *fhir.RiskAssessment {
	ra := &fhir.RiskAssessment{
		ResourceType:       "RiskAssessment",
		ID:                 r.ID.String(),
		Meta:               &fhir.Meta{LastUpdated: r.CreatedAt},
		Status:             "final",
		OccurrenceDateTime: r.CreatedAt.Format(time.RFC3339),
		Method:             &fhir.CodeableConcept{Text: r.Source},
	}
	if r.PatientID != nil {
		ra.Subject = &fhir.Reference{Reference: fhir.FormatReference("Patient", r.PatientID.String())}
	}
	for _, d := range r.risks() {
		code := Classify(d.probability).FHIRCode()
		ra.Prediction = append(ra.Prediction, fhir.RiskPrediction{
			Outcome:            fhir.CodeableConcept{Text: diseaseDisplay[d.disease]},
			ProbabilityDecimal: d.probability,
			QualitativeRisk: &fhir.CodeableConcept{
				Coding: []fhir.Coding{{System: fhir.RiskProbabilitySystem, Code: code, Display: d.label}},
			},
		})
	}
	if r.Summary != "" {
		ra.Note = []fhir.Annotation{{Text: r.Summary}}
	}
	return ra
}
