package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no patient row matches.
	ErrNotFound = errors.New("patient not found")
	// ErrImageNotFound is returned when no image row matches.
	ErrImageNotFound = errors.New("patient image not found")
	// ErrDuplicateNationalID is returned when national_id is already registered.
	ErrDuplicateNationalID = errors.New("national_id is already registered")
)

// Repository stores patients and their clinical rows. Writes for a patient
// that does not exist return ErrNotFound.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)

	// Knowledge and vitals are one row per patient; Upsert replaces it and
	// Get returns nil without error when none is stored.
	UpsertKnowledge(ctx context.Context, k *Knowledge) error
	GetKnowledge(ctx context.Context, patientID uuid.UUID) (*Knowledge, error)
	UpsertVitals(ctx context.Context, v *HeartVitals) error
	GetVitals(ctx context.Context, patientID uuid.UUID) (*HeartVitals, error)

	// Images
	AddImage(ctx context.Context, img *Image) error
	ListImages(ctx context.Context, patientID uuid.UUID) ([]*Image, error)
	RemoveImage(ctx context.Context, patientID, imageID uuid.UUID) error
}
