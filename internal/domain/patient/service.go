package patient

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Column widths from the patient tables.
const (
	maxNationalID  = 11
	maxFullName    = 120
	maxGender      = 10
	maxCategorical = 20
	maxDiseaseTag  = 50
)

// ValidationError reports one rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + " " + e.Reason }

// LocatorResolver checks that an image locator lands inside the storage root.
type LocatorResolver interface {
	Resolve(locator string) (string, error)
}

// TxRunner runs fn in one transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Option func(*Service)

// WithLocatorResolver rejects image locators the resolver refuses.
func WithLocatorResolver(r LocatorResolver) Option { return func(s *Service) { s.resolver = r } }

// WithTx makes multi-row writes atomic.
func WithTx(tx TxRunner) Option { return func(s *Service) { s.inTx = tx } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

type Service struct {
	repo     Repository
	resolver LocatorResolver
	inTx     TxRunner
	logger   zerolog.Logger
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		inTx:   func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) },
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := normalizePatient(p); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Msg("patient registered")
	return nil
}

// Admit stores a patient together with its clinical rows. Nothing is stored
// when any part is rejected.
func (s *Service) Admit(ctx context.Context, in *Intake) (*Record, error) {
	p := in.Patient
	if err := normalizePatient(&p); err != nil {
		return nil, err
	}
	if in.Knowledge != nil {
		if err := validateKnowledge(in.Knowledge); err != nil {
			return nil, err
		}
	}
	if in.Vitals != nil {
		if err := normalizeVitals(in.Vitals); err != nil {
			return nil, err
		}
	}
	for i, img := range in.Images {
		if img == nil {
			return nil, &ValidationError{Field: fmt.Sprintf("images[%d]", i), Reason: "is required"}
		}
		if err := s.normalizeImage(img); err != nil {
			return nil, err
		}
	}

	rec := &Record{Patient: &p, Images: []*Image{}}
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, &p); err != nil {
			return err
		}
		if in.Knowledge != nil {
			in.Knowledge.PatientID = p.ID
			if err := s.repo.UpsertKnowledge(ctx, in.Knowledge); err != nil {
				return fmt.Errorf("store knowledge: %w", err)
			}
			rec.Knowledge = in.Knowledge
		}
		if in.Vitals != nil {
			in.Vitals.PatientID = p.ID
			if err := s.repo.UpsertVitals(ctx, in.Vitals); err != nil {
				return fmt.Errorf("store vitals: %w", err)
			}
			rec.Vitals = in.Vitals
		}
		for _, img := range in.Images {
			img.PatientID = p.ID
			if err := s.repo.AddImage(ctx, img); err != nil {
				return fmt.Errorf("store image: %w", err)
			}
			rec.Images = append(rec.Images, img)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Bool("knowledge", rec.Knowledge != nil).
		Bool("vitals", rec.Vitals != nil).
		Int("images", len(rec.Images)).
		Msg("patient admitted")
	return rec, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// GetRecord returns the patient and every clinical row stored for it.
func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := &Record{Patient: p}
	if rec.Knowledge, err = s.repo.GetKnowledge(ctx, id); err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	if rec.Vitals, err = s.repo.GetVitals(ctx, id); err != nil {
		return nil, fmt.Errorf("load vitals: %w", err)
	}
	if rec.Images, err = s.repo.ListImages(ctx, id); err != nil {
		return nil, fmt.Errorf("load images: %w", err)
	}
	if rec.Images == nil {
		rec.Images = []*Image{}
	}
	return rec, nil
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdatePatient applies a partial update and returns the stored row.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, u *PatientUpdate) (*Patient, error) {
	var out *Patient
	err := s.inTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		u.Apply(p)
		if err := normalizePatient(p); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// DeletePatient removes the patient, its clinical rows and its results.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", id.String()).Msg("patient deleted")
	return nil
}

// -- Clinical rows --

func (s *Service) PutKnowledge(ctx context.Context, k *Knowledge) error {
	if k.PatientID == uuid.Nil {
		return &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if err := validateKnowledge(k); err != nil {
		return err
	}
	return s.repo.UpsertKnowledge(ctx, k)
}

func (s *Service) GetKnowledge(ctx context.Context, patientID uuid.UUID) (*Knowledge, error) {
	return s.repo.GetKnowledge(ctx, patientID)
}

func (s *Service) PutVitals(ctx context.Context, v *HeartVitals) error {
	if v.PatientID == uuid.Nil {
		return &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if err := normalizeVitals(v); err != nil {
		return err
	}
	return s.repo.UpsertVitals(ctx, v)
}

func (s *Service) GetVitals(ctx context.Context, patientID uuid.UUID) (*HeartVitals, error) {
	return s.repo.GetVitals(ctx, patientID)
}

func (s *Service) AddImage(ctx context.Context, img *Image) error {
	if img.PatientID == uuid.Nil {
		return &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if err := s.normalizeImage(img); err != nil {
		return err
	}
	return s.repo.AddImage(ctx, img)
}

func (s *Service) ListImages(ctx context.Context, patientID uuid.UUID) ([]*Image, error) {
	if _, err := s.repo.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repo.ListImages(ctx, patientID)
}

func (s *Service) RemoveImage(ctx context.Context, patientID, imageID uuid.UUID) error {
	return s.repo.RemoveImage(ctx, patientID, imageID)
}

// -- Validation --

func normalizePatient(p *Patient) error {
	p.FullName = strings.TrimSpace(p.FullName)
	if p.FullName == "" {
		return &ValidationError{Field: "full_name", Reason: "is required"}
	}
	if utf8.RuneCountInString(p.FullName) > maxFullName {
		return &ValidationError{Field: "full_name", Reason: fmt.Sprintf("exceeds %d characters", maxFullName)}
	}
	p.NationalID = strings.TrimSpace(p.NationalID)
	if p.NationalID == "" {
		return &ValidationError{Field: "national_id", Reason: "is required"}
	}
	if utf8.RuneCountInString(p.NationalID) > maxNationalID {
		return &ValidationError{Field: "national_id", Reason: fmt.Sprintf("exceeds %d characters", maxNationalID)}
	}
	if p.Age != nil && *p.Age < 0 {
		return &ValidationError{Field: "age", Reason: "must not be negative"}
	}
	p.Complaint = trimmed(p.Complaint)
	p.Gender = trimmed(p.Gender)
	if p.Gender != nil {
		g := strings.ToLower(*p.Gender)
		if utf8.RuneCountInString(g) > maxGender {
			return &ValidationError{Field: "gender", Reason: fmt.Sprintf("exceeds %d characters", maxGender)}
		}
		p.Gender = &g
	}
	return nil
}

func validateKnowledge(k *Knowledge) error {
	for name, v := range map[string]*float64{
		"glucose":           k.Glucose,
		"bmi":               k.BMI,
		"hba1c":             k.HbA1c,
		"total_cholesterol": k.TotalCholesterol,
	} {
		if v != nil && *v < 0 {
			return &ValidationError{Field: name, Reason: "must not be negative"}
		}
	}
	if k.CigarettesPerDay != nil && *k.CigarettesPerDay < 0 {
		return &ValidationError{Field: "cigarettes_per_day", Reason: "must not be negative"}
	}
	return nil
}

func normalizeVitals(v *HeartVitals) error {
	for name, n := range map[string]*int{
		"diastolic_bp": v.DiastolicBP,
		"systolic_bp":  v.SystolicBP,
		"heart_rate":   v.HeartRate,
	} {
		if n != nil && *n < 0 {
			return &ValidationError{Field: name, Reason: "must not be negative"}
		}
	}
	for name, f := range map[string]**string{
		"chest_pain":     &v.ChestPain,
		"resting_ecg":    &v.RestingECG,
		"exercise_slope": &v.ExerciseSlope,
	} {
		*f = trimmed(*f)
		if *f != nil && utf8.RuneCountInString(**f) > maxCategorical {
			return &ValidationError{Field: name, Reason: fmt.Sprintf("exceeds %d characters", maxCategorical)}
		}
	}
	return nil
}

func (s *Service) normalizeImage(img *Image) error {
	img.ImagePath = strings.TrimSpace(img.ImagePath)
	if img.ImagePath == "" {
		return &ValidationError{Field: "image_path", Reason: "is required"}
	}
	if s.resolver != nil {
		if _, err := s.resolver.Resolve(img.ImagePath); err != nil {
			return &ValidationError{Field: "image_path", Reason: "is outside the image storage root"}
		}
	}
	img.DiseaseTag = trimmed(img.DiseaseTag)
	if img.DiseaseTag != nil {
		tag := strings.ToLower(*img.DiseaseTag)
		if utf8.RuneCountInString(tag) > maxDiseaseTag {
			return &ValidationError{Field: "disease_tag", Reason: fmt.Sprintf("exceeds %d characters", maxDiseaseTag)}
		}
		img.DiseaseTag = &tag
	}
	return nil
}

// trimmed returns nil for a nil or blank string.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
