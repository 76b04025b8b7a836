package riskassessment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mednexus/mednexus/internal/platform/imaging"
	"github.com/mednexus/mednexus/internal/platform/modelregistry"
	"github.com/mednexus/mednexus/internal/platform/telemetry"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func constScorer(p float64) modelregistry.Scorer {
	return modelregistry.ScorerFunc(func(context.Context, []float64) (float64, error) { return p, nil })
}

func constImageScorer(p float64) modelregistry.ImageScorer {
	return modelregistry.ImageScorerFunc(func(context.Context, *imaging.Tensor) (float64, error) { return p, nil })
}

// sumScorer is deterministic in its input so repeated runs can be compared.
func sumScorer() modelregistry.Scorer {
	return modelregistry.ScorerFunc(func(_ context.Context, f []float64) (float64, error) {
		var s float64
		for _, v := range f {
			s += v
		}
		return 1 / (1 + math.Exp(-s/1000)), nil
	})
}

func numericBuilder(diabetes, hypertension, heart modelregistry.Scorer) *modelregistry.Builder {
	return modelregistry.NewBuilder().
		Numeric(string(DiseaseDiabetes), diabetes).
		Numeric(string(DiseaseHypertension), hypertension).
		Numeric(string(DiseaseHeartDisease), heart)
}

func buildRegistry(t *testing.T, b *modelregistry.Builder) *modelregistry.Registry {
	t.Helper()
	reg, err := b.Build(DiseaseNames()...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func newTestEngine(t *testing.T, reg *modelregistry.Registry, root string) *Engine {
	t.Helper()
	if root == "" {
		root = t.TempDir()
	}
	pre, err := imaging.NewPreprocessor(root)
	if err != nil {
		t.Fatalf("preprocessor: %v", err)
	}
	e, err := NewEngine(reg, pre, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Profile: &PatientProfile{Age: intPtr(45), Gender: "female"},
		Knowledge: &ClinicalKnowledge{
			HbA1c:   floatPtr(6.0),
			Glucose: floatPtr(140),
			BMI:     floatPtr(27),
		},
		Vitals: &CardiacVitals{SystolicBP: intPtr(135), DiastolicBP: intPtr(85), HeartRate: intPtr(72)},
	}
}

func TestNewEngine_Validation(t *testing.T) {
	pre, _ := imaging.NewPreprocessor(t.TempDir())
	reg := buildRegistry(t, numericBuilder(constScorer(0.1), constScorer(0.1), constScorer(0.1)))

	if _, err := NewEngine(nil, pre); err == nil {
		t.Error("expected error for nil registry")
	}
	if _, err := NewEngine(reg, nil); err == nil {
		t.Error("expected error for nil preprocessor")
	}
	if _, err := NewEngine(reg, pre, WithSource(strings.Repeat("s", 301))); err == nil {
		t.Error("expected error for oversized source tag")
	}
	e, err := NewEngine(reg, pre, WithSource("clinic-a/v2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Source() != "clinic-a/v2" {
		t.Errorf("expected custom source, got %q", e.Source())
	}

	partial, err := modelregistry.NewBuilder().Numeric(string(DiseaseDiabetes), constScorer(0.1)).Build()
	if err != nil {
		t.Fatal(err)
	}
	var mue *modelregistry.ModelUnavailableError
	if _, err := NewEngine(partial, pre); !errors.As(err, &mue) {
		t.Errorf("expected ModelUnavailableError for a partial registry, got %v", err)
	}
}

func TestNewEngine_WidthMismatch(t *testing.T) {
	pre, _ := imaging.NewPreprocessor(t.TempDir())
	narrow, err := modelregistry.NewLogistic([]float64{0.1, 0.2, 0.3}, 0)
	if err != nil {
		t.Fatal(err)
	}
	reg := buildRegistry(t, numericBuilder(narrow, constScorer(0.1), constScorer(0.1)))

	_, err = NewEngine(reg, pre)
	var mue *modelregistry.ModelUnavailableError
	if !errors.As(err, &mue) {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
	if mue.Name != string(DiseaseDiabetes) {
		t.Errorf("expected diabetes to be reported, got %q", mue.Name)
	}
}

func TestRun_ScoresAllDiseases(t *testing.T) {
	reg := buildRegistry(t, numericBuilder(constScorer(0.72), constScorer(0.33), constScorer(0.1)))
	e := newTestEngine(t, reg, "")

	a, err := e.Run(context.Background(), sampleSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[Disease]DiseaseRisk{
		DiseaseDiabetes:     {Probability: 0.72, Band: BandHigh},
		DiseaseHypertension: {Probability: 0.33, Band: BandModerate},
		DiseaseHeartDisease: {Probability: 0.1, Band: BandLow},
	}
	if !reflect.DeepEqual(a.Risks, want) {
		t.Errorf("risks = %+v, want %+v", a.Risks, want)
	}
	if a.Source != DefaultSource {
		t.Errorf("expected default source, got %q", a.Source)
	}
	if !a.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected created_at %v, got %v", fixedNow, a.CreatedAt)
	}
	if len(a.Visual) != 0 {
		t.Errorf("expected no visual findings without visual models or images, got %v", a.Visual)
	}
}

func TestRun_NoImagesLeavesRegisteredTagsAbsent(t *testing.T) {
	reg := buildRegistry(t, numericBuilder(constScorer(0.5), constScorer(0.5), constScorer(0.5)).
		Visual("hypertension", constImageScorer(0.9), imaging.PipelineEfficientNet))
	e := newTestEngine(t, reg, "")

	a, err := e.Run(context.Background(), sampleSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, ok := a.Visual["hypertension"]
	if !ok {
		t.Fatal("expected a finding for the registered hypertension tag")
	}
	if f.Available() || f.Status != VisualNoImage || f.Probability != nil {
		t.Errorf("expected an absent no-image finding, got %+v", f)
	}
}

func TestRun_Idempotent(t *testing.T) {
	root := t.TempDir()
	writePNG(t, root, "fundus.png")
	reg := buildRegistry(t, numericBuilder(sumScorer(), sumScorer(), sumScorer()).
		Visual("hypertension", constImageScorer(0.41), imaging.PipelineEfficientNet))
	e := newTestEngine(t, reg, root)

	snap := sampleSnapshot()
	snap.Images = []MedicalImage{{ImagePath: "/static/fundus.png", DiseaseTag: "hypertension"}}

	first, err := e.Run(context.Background(), snap)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := e.Run(context.Background(), snap)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("runs differ:\n%+v\n%+v", first, second)
	}
}

func TestRun_MixedImageTags(t *testing.T) {
	root := t.TempDir()
	writePNG(t, root, "fundus.png")
	writePNG(t, root, "foot.png")
	reg := buildRegistry(t, numericBuilder(constScorer(0.2), constScorer(0.2), constScorer(0.2)).
		Visual("hypertension", constImageScorer(0.41), imaging.PipelineEfficientNet))
	e := newTestEngine(t, reg, root)

	snap := sampleSnapshot()
	snap.Images = []MedicalImage{
		{ImagePath: "/static/fundus.png", DiseaseTag: "hypertension"},
		{ImagePath: "/static/foot.png", DiseaseTag: "Diabetes"},
	}
	a, err := e.Run(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ht := a.Visual["hypertension"]
	if !ht.Available() || *ht.Probability != 0.41 {
		t.Errorf("expected hypertension probability 0.41, got %+v", ht)
	}
	db, ok := a.Visual["diabetes"]
	if !ok {
		t.Fatal("expected an explicit finding for the diabetes image")
	}
	if db.Available() || db.Status != VisualUnsupported || db.Locator != "/static/foot.png" {
		t.Errorf("expected unsupported diabetes finding, got %+v", db)
	}
	if len(a.Risks) != 3 {
		t.Errorf("expected three numeric risks, got %d", len(a.Risks))
	}
}

func TestRun_OnlyFirstImagePerTag(t *testing.T) {
	root := t.TempDir()
	writePNG(t, root, "second.png")
	var calls int32
	scorer := modelregistry.ImageScorerFunc(func(context.Context, *imaging.Tensor) (float64, error) {
		atomic.AddInt32(&calls, 1)
		return 0.5, nil
	})
	reg := buildRegistry(t, numericBuilder(constScorer(0.2), constScorer(0.2), constScorer(0.2)).
		Visual("hypertension", scorer, imaging.PipelineEfficientNet))
	e := newTestEngine(t, reg, root)

	snap := sampleSnapshot()
	snap.Images = []MedicalImage{
		{ImagePath: "/static/first-missing.png", DiseaseTag: "hypertension"},
		{ImagePath: "/static/second.png", DiseaseTag: "hypertension"},
	}
	a, err := e.Run(context.Background(), snap)
	if err != nil {
		t.Fatalf("visual failure must not fail the run: %v", err)
	}
	f := a.Visual["hypertension"]
	if f.Status != VisualFailed || f.Locator != "/static/first-missing.png" {
		t.Errorf("expected failed finding for the first image, got %+v", f)
	}
	if calls != 0 {
		t.Errorf("expected the scorer not to run, ran %d times", calls)
	}
}

func TestRun_VisualScoreDegrades(t *testing.T) {
	root := t.TempDir()
	writePNG(t, root, "fundus.png")
	tests := map[string]modelregistry.ImageScorer{
		"scorer error": modelregistry.ImageScorerFunc(func(context.Context, *imaging.Tensor) (float64, error) {
			return 0, errors.New("model server down")
		}),
		"out of range": constImageScorer(1.5),
		"nan":          constImageScorer(math.NaN()),
	}
	for name, scorer := range tests {
		t.Run(name, func(t *testing.T) {
			reg := buildRegistry(t, numericBuilder(constScorer(0.2), constScorer(0.2), constScorer(0.2)).
				Visual("hypertension", scorer, imaging.PipelineEfficientNet))
			e := newTestEngine(t, reg, root)
			snap := sampleSnapshot()
			snap.Images = []MedicalImage{{ImagePath: "fundus.png", DiseaseTag: "hypertension"}}

			a, err := e.Run(context.Background(), snap)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			f := a.Visual["hypertension"]
			if f.Available() || f.Status != VisualFailed || f.Detail == "" {
				t.Errorf("expected failed finding with detail, got %+v", f)
			}
		})
	}
}

func TestRun_NumericFailureFailsRun(t *testing.T) {
	broken := modelregistry.ScorerFunc(func(context.Context, []float64) (float64, error) {
		return 0, errors.New("weights corrupted")
	})
	reg := buildRegistry(t, numericBuilder(constScorer(0.2), broken, constScorer(0.2)))
	e := newTestEngine(t, reg, "")

	a, err := e.Run(context.Background(), sampleSnapshot())
	if a != nil {
		t.Error("expected no partial assessment")
	}
	var se *ScoringError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScoringError, got %v", err)
	}
	if se.Disease != DiseaseHypertension {
		t.Errorf("expected hypertension failure, got %s", se.Disease)
	}
}

func TestRun_InvalidNumericProbability(t *testing.T) {
	for _, p := range []float64{math.NaN(), -0.1, 1.2} {
		reg := buildRegistry(t, numericBuilder(constScorer(0.2), constScorer(0.2), constScorer(p)))
		e := newTestEngine(t, reg, "")

		_, err := e.Run(context.Background(), sampleSnapshot())
		var se *ScoringError
		if !errors.As(err, &se) || se.Disease != DiseaseHeartDisease {
			t.Errorf("p=%v: expected heart disease ScoringError, got %v", p, err)
		}
		if !errors.Is(err, errInvalidProbability) {
			t.Errorf("p=%v: expected errInvalidProbability, got %v", p, err)
		}
	}
}

func TestRun_IncompleteProfile(t *testing.T) {
	reg := buildRegistry(t, numericBuilder(constScorer(0.2), constScorer(0.2), constScorer(0.2)))
	e := newTestEngine(t, reg, "")

	snap := sampleSnapshot()
	snap.Profile.Age = nil
	_, err := e.Run(context.Background(), snap)
	var ipe *IncompleteProfileError
	if !errors.As(err, &ipe) || ipe.Field != "age" {
		t.Errorf("expected incomplete age, got %v", err)
	}

	if _, err := e.Run(context.Background(), nil); !errors.As(err, &ipe) {
		t.Errorf("expected IncompleteProfileError for nil snapshot, got %v", err)
	}
}

func TestRun_MissingOptionalFieldsStillComplete(t *testing.T) {
	reg := buildRegistry(t, numericBuilder(sumScorer(), sumScorer(), sumScorer()))
	e := newTestEngine(t, reg, "")

	snap := sampleSnapshot()
	snap.Knowledge.BMI = nil
	snap.Knowledge.HbA1c = nil
	a, err := e.Run(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, d := range Diseases() {
		if _, ok := a.Risks[d]; !ok {
			t.Errorf("missing %s risk", d)
		}
	}
}

func TestRun_WarningsForUnknownCategories(t *testing.T) {
	reg := buildRegistry(t, numericBuilder(constScorer(0.2), constScorer(0.2), constScorer(0.2)))
	e := newTestEngine(t, reg, "")

	snap := sampleSnapshot()
	snap.Vitals.ChestPain = "crushing"
	a, err := e.Run(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Warnings) != 1 || !strings.Contains(a.Warnings[0], "crushing") {
		t.Errorf("expected one chest pain warning, got %v", a.Warnings)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	reg := buildRegistry(t, numericBuilder(constScorer(0.2), constScorer(0.2), constScorer(0.2)))
	e := newTestEngine(t, reg, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx, sampleSnapshot()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOutcome(t *testing.T) {
	tests := map[string]error{
		"incomplete_profile": &IncompleteProfileError{Field: "age"},
		"timeout":            context.DeadlineExceeded,
		"canceled":           context.Canceled,
		"scoring_error":      &ScoringError{Disease: DiseaseDiabetes, Err: errors.New("x")},
		"error":              errors.New("other"),
	}
	for want, err := range tests {
		if got := outcome(err); got != want {
			t.Errorf("outcome(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestRun_VisualMetricLabelsBoundedByRegistry(t *testing.T) {
	root := t.TempDir()
	writePNG(t, root, "fundus.png")
	reg := buildRegistry(t, numericBuilder(constScorer(0.2), constScorer(0.2), constScorer(0.2)).
		Visual("hypertension", constImageScorer(0.41), imaging.PipelineEfficientNet))
	pre, err := imaging.NewPreprocessor(root)
	if err != nil {
		t.Fatal(err)
	}
	metrics := telemetry.NewPipelineMetrics(prometheus.NewRegistry())
	e, err := NewEngine(reg, pre, WithMetrics(metrics))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 200; i++ {
		snap := sampleSnapshot()
		snap.Images = []MedicalImage{
			{ImagePath: "/static/fundus.png", DiseaseTag: "hypertension"},
			{ImagePath: "/static/x.png", DiseaseTag: fmt.Sprintf("custom-tag-%d", i)},
		}
		if _, err := e.Run(context.Background(), snap); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	if got := testutil.CollectAndCount(metrics.VisualTotal); got != 2 {
		t.Errorf("expected 2 visual series (registered + unregistered), got %d", got)
	}
	if got := testutil.ToFloat64(metrics.VisualTotal.WithLabelValues(telemetry.UnregisteredTag, string(VisualUnsupported))); got != 200 {
		t.Errorf("expected 200 unregistered findings, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.VisualTotal.WithLabelValues("hypertension", string(VisualAvailable))); got != 200 {
		t.Errorf("expected 200 hypertension findings, got %v", got)
	}
}
