package riskassessment

import (
	"context"

	"github.com/google/uuid"
)

// ResultRepository stores one Result per pipeline run.
type ResultRepository interface {
	Create(ctx context.Context, r *Result) error
	GetByID(ctx context.Context, id uuid.UUID) (*Result, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Result, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// SnapshotRepository loads the stored clinical snapshot of a patient.
// Missing knowledge or vitals rows load as empty records.
type SnapshotRepository interface {
	Load(ctx context.Context, patientID uuid.UUID) (*Snapshot, error)
}
