package modelregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mednexus/mednexus/internal/platform/imaging"
)

// RemoteConfig points a scorer at a model server speaking the
// TensorFlow-Serving REST predict protocol:
//
//	POST {endpoint}  {"instances": [...]}  ->  {"predictions": [...]}
type RemoteConfig struct {
	Endpoint string
	// OutputIndex selects the positive-class column when the server returns
	// one probability per class. Single-output models use 0.
	OutputIndex int
	Timeout     time.Duration
	Headers     map[string]string
}

type predictRequest struct {
	Instances interface{} `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error,omitempty"`
}

func newRemoteClient(cfg RemoteConfig) (*resty.Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("remote model endpoint is required")
	}
	if cfg.OutputIndex < 0 {
		return nil, fmt.Errorf("output index must be >= 0, got %d", cfg.OutputIndex)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// No retries: a failed score is reported as-is.
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	return client, nil
}

// RemoteScorer scores feature vectors on a model server.
type RemoteScorer struct {
	client      *resty.Client
	endpoint    string
	outputIndex int
}

func NewRemoteScorer(cfg RemoteConfig) (*RemoteScorer, error) {
	client, err := newRemoteClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RemoteScorer{client: client, endpoint: cfg.Endpoint, outputIndex: cfg.OutputIndex}, nil
}

func (s *RemoteScorer) Score(ctx context.Context, features []float64) (float64, error) {
	return predict(ctx, s.client, s.endpoint, [][]float64{features}, s.outputIndex)
}

// RemoteImageScorer scores image tensors on a model server.
type RemoteImageScorer struct {
	client      *resty.Client
	endpoint    string
	outputIndex int
}

func NewRemoteImageScorer(cfg RemoteConfig) (*RemoteImageScorer, error) {
	client, err := newRemoteClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RemoteImageScorer{client: client, endpoint: cfg.Endpoint, outputIndex: cfg.OutputIndex}, nil
}

func (s *RemoteImageScorer) ScoreImage(ctx context.Context, t *imaging.Tensor) (float64, error) {
	if t == nil {
		return 0, errors.New("nil tensor")
	}
	return predict(ctx, s.client, s.endpoint, t.Nested(), s.outputIndex)
}

func predict(ctx context.Context, client *resty.Client, endpoint string, instances interface{}, outputIndex int) (float64, error) {
	var out predictResponse
	resp, err := client.R().
		SetContext(ctx).
		SetBody(predictRequest{Instances: instances}).
		SetResult(&out).
		SetError(&out).
		Post(endpoint)
	if err != nil {
		return 0, fmt.Errorf("call model server %s: %w", endpoint, err)
	}
	if resp.IsError() {
		if out.Error != "" {
			return 0, fmt.Errorf("model server %s returned %d: %s", endpoint, resp.StatusCode(), out.Error)
		}
		return 0, fmt.Errorf("model server %s returned %d", endpoint, resp.StatusCode())
	}
	if len(out.Predictions) == 0 {
		return 0, fmt.Errorf("model server %s returned no predictions", endpoint)
	}
	return firstOutput(out.Predictions[0], outputIndex)
}

// firstOutput accepts both a bare scalar prediction and a per-class vector.
func firstOutput(raw json.RawMessage, index int) (float64, error) {
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		if index != 0 {
			return 0, fmt.Errorf("scalar prediction has no output %d", index)
		}
		return scalar, nil
	}
	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		return 0, fmt.Errorf("decode prediction %s: %w", string(raw), err)
	}
	if index >= len(vec) {
		return 0, fmt.Errorf("prediction has %d outputs, want index %d", len(vec), index)
	}
	return vec[index], nil
}
