// Package modelregistry holds the pretrained scorers the risk pipeline calls.
//
// A Registry is assembled once at process start, by a Builder or from a YAML
// manifest, and is read-only afterwards: lookups never mutate it, so one
// Registry can serve any number of concurrent pipeline runs. There is no
// reload path; a new model set means a new process.
package modelregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mednexus/mednexus/internal/platform/imaging"
)

// Modality distinguishes feature-vector models from image models.
type Modality string

const (
	ModalityNumeric Modality = "numeric"
	ModalityVisual  Modality = "visual"
)

// Scorer maps a feature vector to a probability in [0,1].
type Scorer interface {
	Score(ctx context.Context, features []float64) (float64, error)
}

// ImageScorer maps a preprocessed image tensor to a probability in [0,1].
type ImageScorer interface {
	ScoreImage(ctx context.Context, t *imaging.Tensor) (float64, error)
}

// Dimensioned is implemented by scorers that know their input width.
type Dimensioned interface {
	Dimension() int
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, features []float64) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, features []float64) (float64, error) {
	return f(ctx, features)
}

// ImageScorerFunc adapts a function to ImageScorer.
type ImageScorerFunc func(ctx context.Context, t *imaging.Tensor) (float64, error)

func (f ImageScorerFunc) ScoreImage(ctx context.Context, t *imaging.Tensor) (float64, error) {
	return f(ctx, t)
}

// VisualModel pairs an image scorer with the pipeline its input must go through.
type VisualModel struct {
	Scorer   ImageScorer
	Pipeline imaging.Pipeline
}

// ModelUnavailableError reports a model the registry cannot provide.
type ModelUnavailableError struct {
	Name     string
	Modality Modality
	Reason   string
}

func (e *ModelUnavailableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s model %q is not registered", e.Modality, e.Name)
	}
	return fmt.Sprintf("%s model %q unavailable: %s", e.Modality, e.Name, e.Reason)
}

// Registry is an immutable set of numeric and visual scorers.
type Registry struct {
	numeric map[string]Scorer
	visual  map[string]VisualModel
}

// Scorer returns the numeric scorer registered under name.
func (r *Registry) Scorer(name string) (Scorer, error) {
	s, ok := r.numeric[normalize(name)]
	if !ok {
		return nil, &ModelUnavailableError{Name: name, Modality: ModalityNumeric}
	}
	return s, nil
}

// Visual returns the image model registered for a disease tag.
func (r *Registry) Visual(tag string) (VisualModel, bool) {
	m, ok := r.visual[normalize(tag)]
	return m, ok
}

// NumericNames lists registered numeric models, sorted.
func (r *Registry) NumericNames() []string { return sortedKeys(r.numeric) }

// VisualTags lists disease tags with a registered image model, sorted.
func (r *Registry) VisualTags() []string { return sortedKeys(r.visual) }

// Builder collects scorers before freezing them into a Registry.
type Builder struct {
	numeric map[string]Scorer
	visual  map[string]VisualModel
	err     error
}

func NewBuilder() *Builder {
	return &Builder{
		numeric: make(map[string]Scorer),
		visual:  make(map[string]VisualModel),
	}
}

// Numeric registers a feature-vector scorer.
func (b *Builder) Numeric(name string, s Scorer) *Builder {
	key := normalize(name)
	switch {
	case key == "":
		b.fail(fmt.Errorf("numeric model name is required"))
	case s == nil:
		b.fail(&ModelUnavailableError{Name: name, Modality: ModalityNumeric, Reason: "nil scorer"})
	default:
		b.numeric[key] = s
	}
	return b
}

// Visual registers an image scorer for a disease tag.
func (b *Builder) Visual(tag string, s ImageScorer, pipeline imaging.Pipeline) *Builder {
	key := normalize(tag)
	if key == "" {
		b.fail(fmt.Errorf("visual model tag is required"))
		return b
	}
	if s == nil {
		b.fail(&ModelUnavailableError{Name: tag, Modality: ModalityVisual, Reason: "nil scorer"})
		return b
	}
	if _, err := imaging.ParsePipeline(string(pipeline)); err != nil {
		b.fail(&ModelUnavailableError{Name: tag, Modality: ModalityVisual, Reason: err.Error()})
		return b
	}
	b.visual[key] = VisualModel{Scorer: s, Pipeline: pipeline}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build freezes the registry. Every name in required must have a numeric
// scorer, otherwise a ModelUnavailableError is returned.
func (b *Builder) Build(required ...string) (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, name := range required {
		if _, ok := b.numeric[normalize(name)]; !ok {
			return nil, &ModelUnavailableError{Name: name, Modality: ModalityNumeric}
		}
	}

	r := &Registry{
		numeric: make(map[string]Scorer, len(b.numeric)),
		visual:  make(map[string]VisualModel, len(b.visual)),
	}
	for k, v := range b.numeric {
		r.numeric[k] = v
	}
	for k, v := range b.visual {
		r.visual[k] = v
	}
	return r, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
