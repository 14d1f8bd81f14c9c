// Package detection provides a small multi-scale detector and its loss.
//
// The network is a shared dense backbone feeding one dense head per
// detection scale. Each head predicts, for every cell of an s x s grid and
// every anchor, a box (4 values), an objectness score and one score per
// class, flattened into a single row per sample.
package detection

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-detect/tensor"
)

// ValuesPerAnchor is the box and objectness channel count before the class scores.
const ValuesPerAnchor = 5

// Config describes the network shape and the loss weighting.
type Config struct {
	InputSize  int     `json:"input_size"`
	Hidden     int     `json:"hidden"`
	Anchors    int     `json:"anchors"`
	Classes    int     `json:"classes"`
	Scales     []int   `json:"scales"` // Grid side length per head, coarse to fine
	Seed       int64   `json:"seed"`
	CoordScale float64 `json:"coord_scale"` // Weight of box and class channels in the loss
}

// DefaultConfig returns a three-head detector over 32 input features.
func DefaultConfig() Config {
	return Config{
		InputSize:  32,
		Hidden:     64,
		Anchors:    3,
		Classes:    2,
		Scales:     []int{4, 2, 1},
		Seed:       1,
		CoordScale: 5,
	}
}

// Validate checks that every dimension is usable.
func (c Config) Validate() error {
	if c.InputSize <= 0 || c.Hidden <= 0 || c.Anchors <= 0 || c.Classes < 0 {
		return fmt.Errorf("invalid detector dimensions: input %d, hidden %d, anchors %d, classes %d",
			c.InputSize, c.Hidden, c.Anchors, c.Classes)
	}
	if len(c.Scales) == 0 {
		return fmt.Errorf("at least one detection scale is required")
	}
	for i, s := range c.Scales {
		if s <= 0 {
			return fmt.Errorf("scale %d must be positive, got %d", i, s)
		}
	}
	if c.CoordScale < 0 {
		return fmt.Errorf("coord_scale must not be negative, got %g", c.CoordScale)
	}
	return nil
}

// Channels returns the number of values predicted per anchor.
func (c Config) Channels() int {
	return ValuesPerAnchor + c.Classes
}

// HeadSizes returns the flattened output width of every head.
func (c Config) HeadSizes() []int {
	sizes := make([]int, len(c.Scales))
	for i, s := range c.Scales {
		sizes[i] = s * s * c.Anchors * c.Channels()
	}
	return sizes
}

// Model is the detector.
type Model struct {
	config   Config
	backbone *Sequential
	heads    []*Linear
}

// NewModel builds the network with deterministic Xavier initialisation from config.Seed.
func NewModel(config Config) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(config.Seed))

	stem, err := NewLinear(config.InputSize, config.Hidden, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create backbone: %w", err)
	}

	heads := make([]*Linear, len(config.Scales))
	for i, size := range config.HeadSizes() {
		heads[i], err = NewLinear(config.Hidden, size, rng)
		if err != nil {
			return nil, fmt.Errorf("failed to create head %d: %w", i, err)
		}
	}

	return &Model{
		config:   config,
		backbone: NewSequential(stem, ReLU{}),
		heads:    heads,
	}, nil
}

// Config returns the configuration the model was built with.
func (m *Model) Config() Config {
	return m.config
}

// Forward returns one prediction tensor of shape [batch, HeadSizes()[i]] per head.
func (m *Model) Forward(tape *tensor.Tape, inputs *tensor.Tensor) ([]*tensor.Tensor, error) {
	features, err := m.backbone.Forward(tape, inputs)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}

	predictions := make([]*tensor.Tensor, len(m.heads))
	for i, head := range m.heads {
		predictions[i], err = head.Forward(tape, features)
		if err != nil {
			return nil, fmt.Errorf("head %d: %w", i, err)
		}
	}
	return predictions, nil
}

// TrainableParameters returns backbone parameters followed by each head's
// weight and bias. The order is stable for the life of the model.
func (m *Model) TrainableParameters() []*tensor.Tensor {
	params := m.backbone.Parameters()
	for _, head := range m.heads {
		params = append(params, head.Parameters()...)
	}
	return params
}

// Weights returns copies of the parameter values in TrainableParameters order.
func (m *Model) Weights() []*tensor.Tensor {
	params := m.TrainableParameters()
	weights := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		weights[i] = p.Clone()
	}
	return weights
}

// SetWeights copies values into the parameters, e.g. from a loaded checkpoint.
func (m *Model) SetWeights(weights []*tensor.Tensor) error {
	params := m.TrainableParameters()
	if len(weights) != len(params) {
		return fmt.Errorf("%w: got %d weights for %d parameters", tensor.ErrShapeMismatch, len(weights), len(params))
	}
	for i, w := range weights {
		if !tensor.SameShape(w, params[i]) {
			return fmt.Errorf("%w: weight %d has shape %v, parameter has %v", tensor.ErrShapeMismatch, i, w.Shape, params[i].Shape)
		}
	}
	for i, w := range weights {
		if err := params[i].SetData(w.Data); err != nil {
			return err
		}
	}
	return nil
}
