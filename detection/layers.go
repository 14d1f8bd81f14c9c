package detection

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-detect/tensor"
)

// Layer is one differentiable stage of the network. A nil tape runs the
// layer without recording anything.
type Layer interface {
	Forward(tape *tensor.Tape, input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
}

// Linear implements a fully connected (dense) layer: y = xW + b
type Linear struct {
	weight *tensor.Tensor // [inputSize, outputSize]
	bias   *tensor.Tensor // [outputSize]
}

// NewLinear creates a new Linear layer
func NewLinear(inputSize, outputSize int, rng *rand.Rand) (*Linear, error) {
	// Xavier/Glorot uniform: W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weight, err := tensor.RandomUniform([]int{inputSize, outputSize}, bound, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	bias, err := tensor.Zeros([]int{outputSize})
	if err != nil {
		return nil, fmt.Errorf("failed to create bias tensor: %w", err)
	}
	return &Linear{weight: weight, bias: bias}, nil
}

// Forward performs the forward pass
func (l *Linear) Forward(tape *tensor.Tape, input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 || input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("%w: linear layer expects [batch, %d], got %v", tensor.ErrShapeMismatch, l.weight.Shape[0], input.Shape)
	}
	output, err := tape.MatMul(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("linear forward failed: %w", err)
	}
	output, err = tape.AddBias(output, l.bias)
	if err != nil {
		return nil, fmt.Errorf("bias addition failed: %w", err)
	}
	return output, nil
}

// Parameters returns the weight and bias, in that order
func (l *Linear) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.weight, l.bias}
}

// OutputSize returns the number of output features
func (l *Linear) OutputSize() int {
	return l.weight.Shape[1]
}

// ReLU implements ReLU activation function module
type ReLU struct{}

// Forward performs the forward pass
func (ReLU) Forward(tape *tensor.Tape, input *tensor.Tensor) (*tensor.Tensor, error) {
	return tape.ReLU(input), nil
}

// Parameters returns nil; ReLU has no parameters
func (ReLU) Parameters() []*tensor.Tensor {
	return nil
}

// Sequential chains layers in order
type Sequential struct {
	layers []Layer
}

// NewSequential creates a new sequential container
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{layers: layers}
}

// Forward performs the forward pass through all layers
func (s *Sequential) Forward(tape *tensor.Tape, input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	for i, layer := range s.layers {
		var err error
		output, err = layer.Forward(tape, output)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return output, nil
}

// Parameters returns all parameters from all layers
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range s.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}
