package riskassessment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mednexus/mednexus/internal/platform/telemetry"
	"github.com/mednexus/mednexus/internal/platform/workerpool"
)

// Service admits assessments through a bounded worker pool and stores their
// results.
type Service struct {
	engine    *Engine
	pool      *workerpool.Pool
	results   ResultRepository
	snapshots SnapshotRepository
	metrics   *telemetry.PipelineMetrics
	logger    zerolog.Logger
}

// NewService wires the pipeline. A nil pool runs assessments on the calling
// goroutine.
func NewService(
	engine *Engine,
	pool *workerpool.Pool,
	results ResultRepository,
	snapshots SnapshotRepository,
	metrics *telemetry.PipelineMetrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		engine:    engine,
		pool:      pool,
		results:   results,
		snapshots: snapshots,
		metrics:   metrics,
		logger:    logger,
	}
}

// Assess runs the pipeline for a patient and persists the result. When s is
// nil the stored snapshot is loaded.
func (s *Service) Assess(ctx context.Context, patientID uuid.UUID, snap *Snapshot) (*Result, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if snap == nil {
		if s.snapshots == nil {
			return nil, errors.New("no snapshot supplied and no snapshot store configured")
		}
		loaded, err := s.snapshots.Load(ctx, patientID)
		if err != nil {
			return nil, err
		}
		snap = loaded
	}
	snap.PatientID = patientID

	res, err := s.evaluate(ctx, snap)
	if err != nil {
		return nil, err
	}
	res.ID = uuid.New()
	res.PatientID = &patientID
	if err := s.results.Create(ctx, res); err != nil {
		return nil, fmt.Errorf("store risk result: %w", err)
	}
	s.logger.Info().Str("result_id", res.ID.String()).Str("patient_id", patientID.String()).
		Msg("risk result stored")
	return res, nil
}

// Preview runs the pipeline without storing anything.
func (s *Service) Preview(ctx context.Context, snap *Snapshot) (*Result, error) {
	if snap == nil {
		return nil, &IncompleteProfileError{Field: "snapshot", Reason: "is required"}
	}
	res, err := s.evaluate(ctx, snap)
	if err != nil {
		return nil, err
	}
	if snap.PatientID != uuid.Nil {
		id := snap.PatientID
		res.PatientID = &id
	}
	return res, nil
}

func (s *Service) evaluate(ctx context.Context, snap *Snapshot) (*Result, error) {
	var a *RiskAssessment
	job := func(ctx context.Context) error {
		s.metrics.Started()
		defer s.metrics.Finished()
		var err error
		a, err = s.engine.Run(ctx, snap)
		return err
	}

	var err error
	if s.pool == nil {
		err = job(ctx)
	} else {
		err = s.pool.Do(ctx, job)
	}
	if errors.Is(err, workerpool.ErrQueueFull) {
		s.metrics.RecordRejection()
		s.logger.Warn().Int("workers", s.pool.Workers()).Int("queue", s.pool.Queue()).
			Msg("risk assessment rejected, queue full")
	}
	if err != nil {
		return nil, err
	}
	return Assemble(a)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Result, error) {
	return s.results.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Result, int, error) {
	return s.results.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.results.Delete(ctx, id)
}
