package riskassessment

import (
	"time"

	"github.com/google/uuid"
)

// Disease identifies one numeric risk model.
type Disease string

const (
	DiseaseDiabetes     Disease = "diabetes"
	DiseaseHypertension Disease = "hypertension"
	DiseaseHeartDisease Disease = "heart_disease"
)

// Diseases lists every disease an assessment must score, in report order.
func Diseases() []Disease {
	return []Disease{DiseaseDiabetes, DiseaseHypertension, DiseaseHeartDisease}
}

// DiseaseNames is Diseases as registry keys.
func DiseaseNames() []string {
	out := make([]string, 0, 3)
	for _, d := range Diseases() {
		out = append(out, string(d))
	}
	return out
}

// PatientProfile holds the demographics every encoder needs. Age and Gender
// are required.
type PatientProfile struct {
	Age    *int   `json:"age"`
	Gender string `json:"gender"`
}

// ClinicalKnowledge is the lab and lifestyle snapshot. Every field is
// optional; absent numerics encode as 0 and absent flags as false.
type ClinicalKnowledge struct {
	Glucose               *float64 `json:"glucose,omitempty"`
	BMI                   *float64 `json:"bmi,omitempty"`
	HbA1c                 *float64 `json:"hba1c,omitempty"`
	TotalCholesterol      *float64 `json:"total_cholesterol,omitempty"`
	Diabetes              *bool    `json:"diabetes,omitempty"`
	HeartDisease          *bool    `json:"heart_disease,omitempty"`
	Smoking               *bool    `json:"smoking,omitempty"`
	PrevalentHypertension *bool    `json:"prevalent_hypertension,omitempty"`
	PrevalentStroke       *bool    `json:"prevalent_stroke,omitempty"`
	CigarettesPerDay      *int     `json:"cigarettes_per_day,omitempty"`
}

// CardiacVitals feeds the heart-disease model. Categorical fields take values
// from small fixed vocabularies; see the encoder for the accepted spellings.
type CardiacVitals struct {
	BPMeds        *bool  `json:"bp_meds,omitempty"`
	DiastolicBP   *int   `json:"diastolic_bp,omitempty"`
	SystolicBP    *int   `json:"systolic_bp,omitempty"`
	HeartRate     *int   `json:"heart_rate,omitempty"`
	ChestPain     string `json:"chest_pain,omitempty"`
	RestingECG    string `json:"resting_ecg,omitempty"`
	ExerciseSlope string `json:"exercise_slope,omitempty"`
}

// MedicalImage points at an image artifact and the visual model it is meant for.
type MedicalImage struct {
	ImagePath  string `json:"image_path"`
	DiseaseTag string `json:"disease_tag"`
}

// Snapshot is everything one pipeline run consumes.
type Snapshot struct {
	PatientID uuid.UUID          `json:"patient_id,omitempty"`
	Profile   *PatientProfile    `json:"profile"`
	Knowledge *ClinicalKnowledge `json:"knowledge"`
	Vitals    *CardiacVitals     `json:"vitals"`
	Images    []MedicalImage     `json:"images"`
}

// Band is a coarse risk category.
type Band string

const (
	BandLow      Band = "Low"
	BandModerate Band = "Moderate"
	BandHigh     Band = "High"
)

// Label is the band as written into stored results, e.g. "High risk".
func (b Band) Label() string { return string(b) + " risk" }

// FHIRCode is the band as a risk-probability code.
func (b Band) FHIRCode() string {
	switch b {
	case BandLow:
		return "low"
	case BandModerate:
		return "moderate"
	default:
		return "high"
	}
}

// DiseaseRisk is one scored disease.
type DiseaseRisk struct {
	Probability float64 `json:"probability"`
	Band        Band    `json:"band"`
}

// VisualStatus says why a visual finding does or does not carry a probability.
type VisualStatus string

const (
	VisualAvailable   VisualStatus = "available"
	VisualNoImage     VisualStatus = "no-image"
	VisualUnsupported VisualStatus = "unsupported"
	VisualFailed      VisualStatus = "failed"
)

// VisualFinding is an image-derived probability for one disease tag, or an
// explicit absence.
type VisualFinding struct {
	Probability *float64     `json:"probability"`
	Status      VisualStatus `json:"status"`
	Locator     string       `json:"locator,omitempty"`
	Detail      string       `json:"detail,omitempty"`
}

// Available reports whether the finding carries a probability.
func (f VisualFinding) Available() bool {
	return f.Status == VisualAvailable && f.Probability != nil
}

// RiskAssessment is the output of one pipeline run.
type RiskAssessment struct {
	Risks     map[Disease]DiseaseRisk  `json:"risks"`
	Visual    map[string]VisualFinding `json:"visual"`
	Source    string                   `json:"source"`
	CreatedAt time.Time                `json:"created_at"`
	Warnings  []string                 `json:"warnings,omitempty"`
}
