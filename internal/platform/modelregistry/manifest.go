package modelregistry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mednexus/mednexus/internal/platform/imaging"
)

// Manifest is the on-disk description of the model set.
//
//	numeric:
//	  diabetes:
//	    kind: logistic
//	    weights: [0.04, 0.8, ...]
//	    bias: -3.1
//	    scaler: {mean: [...], scale: [...]}
//	  heart_disease:
//	    kind: remote
//	    endpoint: http://models:8501/v1/models/heart:predict
//	    output_index: 1
//	visual:
//	  hypertension:
//	    kind: remote
//	    pipeline: efficientnet
//	    endpoint: http://models:8501/v1/models/hypertension_visual:predict
type Manifest struct {
	Numeric map[string]ModelEntry `yaml:"numeric"`
	Visual  map[string]ModelEntry `yaml:"visual"`
}

// ModelEntry describes one model.
type ModelEntry struct {
	Kind        string            `yaml:"kind"`
	Features    int               `yaml:"features,omitempty"`
	Weights     []float64         `yaml:"weights,omitempty"`
	Bias        float64           `yaml:"bias,omitempty"`
	Scaler      *StandardScaler   `yaml:"scaler,omitempty"`
	Endpoint    string            `yaml:"endpoint,omitempty"`
	OutputIndex int               `yaml:"output_index,omitempty"`
	Timeout     time.Duration     `yaml:"timeout,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Pipeline    string            `yaml:"pipeline,omitempty"`
}

const (
	KindLogistic = "logistic"
	KindRemote   = "remote"
)

// LoadManifest reads a YAML manifest and builds the registry it describes.
func LoadManifest(path string, required ...string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model manifest: %w", err)
	}
	return ParseManifest(data, required...)
}

// ParseManifest builds a registry from manifest bytes.
func ParseManifest(data []byte, required ...string) (*Registry, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model manifest: %w", err)
	}
	return m.Build(required...)
}

// Build instantiates every scorer in the manifest.
func (m *Manifest) Build(required ...string) (*Registry, error) {
	b := NewBuilder()

	for _, name := range sortedKeys(m.Numeric) {
		s, err := m.Numeric[name].numericScorer()
		if err != nil {
			return nil, &ModelUnavailableError{Name: name, Modality: ModalityNumeric, Reason: err.Error()}
		}
		b.Numeric(name, s)
	}

	for _, tag := range sortedKeys(m.Visual) {
		entry := m.Visual[tag]
		s, p, err := entry.imageScorer()
		if err != nil {
			return nil, &ModelUnavailableError{Name: tag, Modality: ModalityVisual, Reason: err.Error()}
		}
		b.Visual(tag, s, p)
	}

	return b.Build(required...)
}

func (e ModelEntry) numericScorer() (Scorer, error) {
	var s Scorer
	switch e.Kind {
	case KindLogistic:
		m, err := NewLogistic(e.Weights, e.Bias)
		if err != nil {
			return nil, err
		}
		s = m
	case KindRemote:
		r, err := NewRemoteScorer(e.remoteConfig())
		if err != nil {
			return nil, err
		}
		s = r
	default:
		return nil, fmt.Errorf("unknown model kind %q", e.Kind)
	}

	if e.Scaler != nil {
		if err := e.Scaler.validate(); err != nil {
			return nil, err
		}
		if d, ok := s.(Dimensioned); ok && d.Dimension() != len(e.Scaler.Mean) {
			return nil, fmt.Errorf("scaler takes %d features, model takes %d", len(e.Scaler.Mean), d.Dimension())
		}
		s = &Scaled{Scaler: e.Scaler, Next: s}
	}

	if e.Features > 0 {
		d, ok := s.(Dimensioned)
		if !ok {
			s = &fixedWidth{Scorer: s, width: e.Features}
		} else if d.Dimension() != e.Features {
			return nil, fmt.Errorf("declared %d features, model takes %d", e.Features, d.Dimension())
		}
	}
	return s, nil
}

func (e ModelEntry) imageScorer() (ImageScorer, imaging.Pipeline, error) {
	if e.Kind != KindRemote {
		return nil, "", fmt.Errorf("visual models must be remote, got kind %q", e.Kind)
	}
	p, err := imaging.ParsePipeline(e.Pipeline)
	if err != nil {
		return nil, "", err
	}
	s, err := NewRemoteImageScorer(e.remoteConfig())
	if err != nil {
		return nil, "", err
	}
	return s, p, nil
}

func (e ModelEntry) remoteConfig() RemoteConfig {
	return RemoteConfig{
		Endpoint:    e.Endpoint,
		OutputIndex: e.OutputIndex,
		Timeout:     e.Timeout,
		Headers:     e.Headers,
	}
}

// fixedWidth lets a remote scorer advertise the width declared in the manifest.
type fixedWidth struct {
	Scorer
	width int
}

func (f *fixedWidth) Dimension() int { return f.width }
