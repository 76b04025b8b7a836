package fhir

import (
	"fmt"
	"time"
)

// RiskProbabilitySystem is the HL7 code system for qualitative risk.
const RiskProbabilitySystem = "http://terminology.hl7.org/CodeSystem/risk-probability"

type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
	Profile     []string  `json:"profile,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Annotation struct {
	Text string `json:"text"`
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}

// RiskAssessment is the subset of the R4 RiskAssessment resource we emit.
type RiskAssessment struct {
	ResourceType       string           `json:"resourceType"`
	ID                 string           `json:"id"`
	Meta               *Meta            `json:"meta,omitempty"`
	Status             string           `json:"status"`
	Subject            *Reference       `json:"subject,omitempty"`
	OccurrenceDateTime string           `json:"occurrenceDateTime,omitempty"`
	Method             *CodeableConcept `json:"method,omitempty"`
	Prediction         []RiskPrediction `json:"prediction,omitempty"`
	Note               []Annotation     `json:"note,omitempty"`
}

type RiskPrediction struct {
	Outcome            CodeableConcept  `json:"outcome"`
	ProbabilityDecimal float64          `json:"probabilityDecimal"`
	QualitativeRisk    *CodeableConcept `json:"qualitativeRisk,omitempty"`
}

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}
