package modelregistry

import (
	"context"
	"fmt"
	"math"
)

// StandardScaler applies (x - mean) / scale per feature, the transform a
// fitted standard scaler stores. A zero scale is treated as 1.
type StandardScaler struct {
	Mean  []float64 `yaml:"mean"`
	Scale []float64 `yaml:"scale"`
}

func (s *StandardScaler) validate() error {
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler mean has %d entries, scale has %d", len(s.Mean), len(s.Scale))
	}
	return nil
}

// Transform returns a scaled copy of x.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out, nil
}

// Scaled runs features through a scaler before handing them to the wrapped scorer.
type Scaled struct {
	Scaler *StandardScaler
	Next   Scorer
}

func (s *Scaled) Score(ctx context.Context, features []float64) (float64, error) {
	x, err := s.Scaler.Transform(features)
	if err != nil {
		return 0, err
	}
	return s.Next.Score(ctx, x)
}

func (s *Scaled) Dimension() int { return len(s.Scaler.Mean) }

// Logistic is a binary logistic-regression scorer: sigmoid(w . x + b).
type Logistic struct {
	Weights []float64
	Bias    float64
}

func NewLogistic(weights []float64, bias float64) (*Logistic, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("logistic model has no weights")
	}
	w := make([]float64, len(weights))
	copy(w, weights)
	return &Logistic{Weights: w, Bias: bias}, nil
}

func (m *Logistic) Score(_ context.Context, features []float64) (float64, error) {
	if len(features) != len(m.Weights) {
		return 0, fmt.Errorf("logistic model expects %d features, got %d", len(m.Weights), len(features))
	}
	z := m.Bias
	for i, v := range features {
		z += m.Weights[i] * v
	}
	return sigmoid(z), nil
}

func (m *Logistic) Dimension() int { return len(m.Weights) }

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
