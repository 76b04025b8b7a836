package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the demographic row. Age and gender feed the risk pipeline.
type Patient struct {
	ID         uuid.UUID `json:"id"`
	NationalID string    `json:"national_id"`
	FullName   string    `json:"full_name"`
	Complaint  *string   `json:"complaint,omitempty"`
	Age        *int      `json:"age,omitempty"`
	Gender     *string   `json:"gender,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PatientUpdate is a partial update; nil fields keep their stored value.
type PatientUpdate struct {
	NationalID *string `json:"national_id"`
	FullName   *string `json:"full_name"`
	Complaint  *string `json:"complaint"`
	Age        *int    `json:"age"`
	Gender     *string `json:"gender"`
}

// Apply copies the set fields onto p.
func (u *PatientUpdate) Apply(p *Patient) {
	if u.NationalID != nil {
		p.NationalID = *u.NationalID
	}
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.Complaint != nil {
		p.Complaint = u.Complaint
	}
	if u.Age != nil {
		p.Age = u.Age
	}
	if u.Gender != nil {
		p.Gender = u.Gender
	}
}

// Knowledge is the lab and lifestyle row, at most one per patient.
type Knowledge struct {
	ID                    uuid.UUID `json:"id"`
	PatientID             uuid.UUID `json:"patient_id"`
	Glucose               *float64  `json:"glucose,omitempty"`
	BMI                   *float64  `json:"bmi,omitempty"`
	HbA1c                 *float64  `json:"hba1c,omitempty"`
	TotalCholesterol      *float64  `json:"total_cholesterol,omitempty"`
	Diabetes              *bool     `json:"diabetes,omitempty"`
	HeartDisease          *bool     `json:"heart_disease,omitempty"`
	Smoking               *bool     `json:"smoking,omitempty"`
	CigarettesPerDay      *int      `json:"cigarettes_per_day,omitempty"`
	PrevalentHypertension *bool     `json:"prevalent_hypertension,omitempty"`
	PrevalentStroke       *bool     `json:"prevalent_stroke,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// HeartVitals is the cardiac row, at most one per patient.
type HeartVitals struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	BPMeds        *bool     `json:"bp_meds,omitempty"`
	DiastolicBP   *int      `json:"diastolic_bp,omitempty"`
	SystolicBP    *int      `json:"systolic_bp,omitempty"`
	HeartRate     *int      `json:"heart_rate,omitempty"`
	ChestPain     *string   `json:"chest_pain,omitempty"`
	RestingECG    *string   `json:"resting_ecg,omitempty"`
	ExerciseSlope *string   `json:"exercise_slope,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Image is a stored image locator tagged for one visual model.
type Image struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	ImagePath  string    `json:"image_path"`
	DiseaseTag *string   `json:"disease_tag,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Record is a patient with every clinical row stored for it.
type Record struct {
	Patient   *Patient     `json:"patient"`
	Knowledge *Knowledge   `json:"knowledge"`
	Vitals    *HeartVitals `json:"vitals"`
	Images    []*Image     `json:"images"`
}

// Intake registers a patient and any clinical rows in one call.
type Intake struct {
	Patient   Patient      `json:"patient"`
	Knowledge *Knowledge   `json:"knowledge,omitempty"`
	Vitals    *HeartVitals `json:"vitals,omitempty"`
	Images    []*Image     `json:"images,omitempty"`
}
