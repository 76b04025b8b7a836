package riskassessment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mednexus/mednexus/internal/platform/imaging"
	"github.com/mednexus/mednexus/internal/platform/modelregistry"
	"github.com/mednexus/mednexus/internal/platform/telemetry"
)

// DefaultSource tags assessments produced by this pipeline version.
const DefaultSource = "mednexus-risk-pipeline/v1"

// maxSourceLen matches the width of risk_result.source.
const maxSourceLen = 300

// Engine runs the risk pipeline against an immutable model registry. An
// Engine holds no per-run state and is safe for concurrent use.
type Engine struct {
	registry *modelregistry.Registry
	images   *imaging.Preprocessor
	source   string
	logger   zerolog.Logger
	metrics  *telemetry.PipelineMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithSource(source string) EngineOption { return func(e *Engine) { e.source = source } }

func WithLogger(l zerolog.Logger) EngineOption { return func(e *Engine) { e.logger = l } }

func WithMetrics(m *telemetry.PipelineMetrics) EngineOption { return func(e *Engine) { e.metrics = m } }

func WithTracer(t trace.Tracer) EngineOption { return func(e *Engine) { e.tracer = t } }

// WithClock overrides the assessment timestamp source.
func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

// NewEngine checks that the registry can score every disease with a model
// whose input width matches the feature layout.
func NewEngine(registry *modelregistry.Registry, images *imaging.Preprocessor, opts ...EngineOption) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("model registry is required")
	}
	if images == nil {
		return nil, errors.New("image preprocessor is required")
	}
	e := &Engine{
		registry: registry,
		images:   images,
		source:   DefaultSource,
		logger:   zerolog.Nop(),
		tracer:   otel.Tracer("mednexus/riskassessment"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.source == "" || len(e.source) > maxSourceLen {
		return nil, fmt.Errorf("source tag must be 1-%d characters", maxSourceLen)
	}

	for _, d := range Diseases() {
		s, err := registry.Scorer(string(d))
		if err != nil {
			return nil, err
		}
		if dim, ok := s.(modelregistry.Dimensioned); ok && dim.Dimension() != FeatureWidth(d) {
			return nil, &modelregistry.ModelUnavailableError{
				Name:     string(d),
				Modality: modelregistry.ModalityNumeric,
				Reason:   fmt.Sprintf("model takes %d features, encoder produces %d", dim.Dimension(), FeatureWidth(d)),
			}
		}
	}
	return e, nil
}

// Source returns the tag written into every assessment.
func (e *Engine) Source() string { return e.source }

// Run assesses a snapshot.
func (e *Engine) Run(ctx context.Context, s *Snapshot) (*RiskAssessment, error) {
	if s == nil {
		return nil, &IncompleteProfileError{Field: "snapshot", Reason: "is required"}
	}
	return e.RunRiskPipeline(ctx, s.Profile, s.Knowledge, s.Vitals, s.Images)
}

// RunRiskPipeline scores all three diseases and any matching images. It
// returns either a complete assessment or an error; a failed numeric score
// fails the run, a failed visual score only degrades that tag's finding.
// No deadline is imposed here; callers bound the run through ctx.
func (e *Engine) RunRiskPipeline(ctx context.Context, profile *PatientProfile, knowledge *ClinicalKnowledge, vitals *CardiacVitals, images []MedicalImage) (*RiskAssessment, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "risk.pipeline", trace.WithAttributes(attribute.String("source", e.source)))
	defer span.End()

	a, err := e.run(ctx, profile, knowledge, vitals, images)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordOutcome(outcome(err), elapsed.Seconds())
		e.logger.Error().Err(err).Str("source", e.source).Dur("elapsed", elapsed).Msg("risk assessment failed")
		return nil, err
	}

	e.metrics.RecordOutcome("ok", elapsed.Seconds())
	for _, d := range Diseases() {
		e.metrics.RecordDiagnosis(string(d), string(a.Risks[d].Band))
	}
	for tag, f := range a.Visual {
		if f.Status == VisualUnsupported {
			tag = telemetry.UnregisteredTag
		}
		e.metrics.RecordVisual(tag, string(f.Status))
	}
	e.logger.Info().
		Str("source", e.source).
		Float64(string(DiseaseDiabetes), a.Risks[DiseaseDiabetes].Probability).
		Float64(string(DiseaseHypertension), a.Risks[DiseaseHypertension].Probability).
		Float64(string(DiseaseHeartDisease), a.Risks[DiseaseHeartDisease].Probability).
		Int("visual_findings", len(a.Visual)).
		Int("warnings", len(a.Warnings)).
		Dur("elapsed", elapsed).
		Msg("risk assessment complete")
	return a, nil
}

func (e *Engine) run(ctx context.Context, profile *PatientProfile, knowledge *ClinicalKnowledge, vitals *CardiacVitals, images []MedicalImage) (*RiskAssessment, error) {
	rec, err := deriveRecord(profile, knowledge, vitals)
	if err != nil {
		return nil, err
	}

	diseases := Diseases()
	vectors := make([]*FeatureVector, len(diseases))
	var warnings []string
	for i, d := range diseases {
		fv, err := rec.encode(d)
		if err != nil {
			return nil, err
		}
		vectors[i] = fv
		for _, v := range fv.Violations {
			e.logger.Warn().Str("disease", string(d)).Str("field", v.Field).Str("value", v.Value).
				Msg("categorical value outside vocabulary, encoded as unknown")
			warnings = append(warnings, v.Error())
		}
	}

	probs := make([]float64, len(diseases))
	g, gctx := errgroup.WithContext(ctx)
	for i := range diseases {
		i := i
		g.Go(func() error {
			p, err := e.scoreNumeric(gctx, vectors[i])
			if err != nil {
				return err
			}
			probs[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	visual := e.scoreVisual(ctx, images)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := &RiskAssessment{
		Risks:     make(map[Disease]DiseaseRisk, len(diseases)),
		Visual:    visual,
		Source:    e.source,
		CreatedAt: e.now().UTC(),
		Warnings:  warnings,
	}
	for i, d := range diseases {
		a.Risks[d] = DiseaseRisk{Probability: probs[i], Band: Classify(probs[i])}
	}
	return a, nil
}

func (e *Engine) scoreNumeric(ctx context.Context, fv *FeatureVector) (float64, error) {
	ctx, span := e.tracer.Start(ctx, "risk.score", trace.WithAttributes(
		attribute.String("disease", string(fv.Disease)),
		attribute.Int("features", len(fv.Values)),
	))
	defer span.End()

	s, err := e.registry.Scorer(string(fv.Disease))
	if err != nil {
		return 0, &ScoringError{Disease: fv.Disease, Err: err}
	}
	start := time.Now()
	p, err := s.Score(ctx, fv.Values)
	e.metrics.ObserveScore(string(fv.Disease), string(modelregistry.ModalityNumeric), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, &ScoringError{Disease: fv.Disease, Err: err}
	}
	if !validProbability(p) {
		err := fmt.Errorf("%w: got %v", errInvalidProbability, p)
		span.SetStatus(codes.Error, err.Error())
		return 0, &ScoringError{Disease: fv.Disease, Err: err}
	}
	span.SetAttributes(attribute.Float64("probability", p))
	e.logger.Debug().Str("disease", string(fv.Disease)).Float64("probability", p).Msg("disease scored")
	return p, nil
}

// scoreVisual reports a finding for every registered visual tag and every
// tag present among the images. Only the first image per tag is scored.
func (e *Engine) scoreVisual(ctx context.Context, images []MedicalImage) map[string]VisualFinding {
	first := make(map[string]MedicalImage)
	for _, img := range images {
		tag := strings.ToLower(strings.TrimSpace(img.DiseaseTag))
		if tag == "" {
			e.logger.Debug().Str("locator", img.ImagePath).Msg("image has no disease tag, skipped")
			continue
		}
		if _, seen := first[tag]; !seen {
			first[tag] = img
		}
	}

	tags := make(map[string]bool, len(first))
	for _, t := range e.registry.VisualTags() {
		tags[t] = true
	}
	for t := range first {
		tags[t] = true
	}
	ordered := make([]string, 0, len(tags))
	for t := range tags {
		ordered = append(ordered, t)
	}
	sort.Strings(ordered)

	out := make(map[string]VisualFinding, len(ordered))
	for _, tag := range ordered {
		img, hasImage := first[tag]
		model, hasModel := e.registry.Visual(tag)
		switch {
		case !hasModel:
			out[tag] = VisualFinding{Status: VisualUnsupported, Locator: img.ImagePath, Detail: "no visual model registered for tag"}
		case !hasImage:
			out[tag] = VisualFinding{Status: VisualNoImage}
		default:
			out[tag] = e.scoreImage(ctx, tag, img, model)
		}
	}
	return out
}

func (e *Engine) scoreImage(ctx context.Context, tag string, img MedicalImage, model modelregistry.VisualModel) VisualFinding {
	ctx, span := e.tracer.Start(ctx, "risk.visual", trace.WithAttributes(
		attribute.String("tag", tag),
		attribute.String("pipeline", string(model.Pipeline)),
	))
	defer span.End()

	degrade := func(err error) VisualFinding {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn().Err(err).Str("tag", tag).Str("locator", img.ImagePath).Msg("visual finding unavailable")
		return VisualFinding{Status: VisualFailed, Locator: img.ImagePath, Detail: err.Error()}
	}

	tensor, err := e.images.Preprocess(img.ImagePath, model.Pipeline)
	if err != nil {
		return degrade(err)
	}
	start := time.Now()
	p, err := model.Scorer.ScoreImage(ctx, tensor)
	e.metrics.ObserveScore(tag, string(modelregistry.ModalityVisual), time.Since(start).Seconds())
	if err != nil {
		return degrade(fmt.Errorf("score image: %w", err))
	}
	if !validProbability(p) {
		return degrade(fmt.Errorf("%w: got %v", errInvalidProbability, p))
	}
	return VisualFinding{Probability: &p, Status: VisualAvailable, Locator: img.ImagePath}
}

func outcome(err error) string {
	var ipe *IncompleteProfileError
	var se *ScoringError
	switch {
	case errors.As(err, &ipe):
		return "incomplete_profile"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &se):
		return "scoring_error"
	default:
		return "error"
	}
}
