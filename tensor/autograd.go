package tensor

import (
	"errors"
	"fmt"
)

// ErrTapeUsed is returned when Gradient is called twice on the same tape.
var ErrTapeUsed = errors.New("tensor: gradient tape already consumed")

// Operation is a recorded differentiable op. Backward maps the gradient of the
// op's output to one gradient per input, in input order.
type Operation interface {
	Backward(gradOut *Tensor) ([]*Tensor, error)
}

type tapeEntry struct {
	op     Operation
	inputs []*Tensor
	output *Tensor
}

// Tape records differentiable operations on watched tensors so that the
// gradient of a scalar result can be computed with respect to them.
//
// All Tape methods accept a nil receiver: the op is then computed eagerly
// and nothing is recorded, which is how inference-only passes run.
type Tape struct {
	tracked map[*Tensor]bool
	entries []tapeEntry
	used    bool
}

// NewTape returns an empty tape.
func NewTape() *Tape {
	return &Tape{tracked: make(map[*Tensor]bool)}
}

// Watch marks tensors as sources whose gradients may be requested.
func (tp *Tape) Watch(ts ...*Tensor) {
	if tp == nil {
		return
	}
	for _, t := range ts {
		tp.tracked[t] = true
	}
}

// record keeps the op only if at least one input depends on a watched tensor.
func (tp *Tape) record(op Operation, output *Tensor, inputs ...*Tensor) *Tensor {
	if tp == nil {
		return output
	}
	for _, in := range inputs {
		if tp.tracked[in] {
			tp.entries = append(tp.entries, tapeEntry{op: op, inputs: inputs, output: output})
			tp.tracked[output] = true
			return output
		}
	}
	return output
}

// Gradient computes d(target)/d(source) for every source, preserving order.
// Sources the target does not depend on get a nil gradient. The target must
// hold a single element. A tape can only be consumed once.
func (tp *Tape) Gradient(target *Tensor, sources []*Tensor) ([]*Tensor, error) {
	if tp == nil {
		return nil, errors.New("tensor: gradient requested without a tape")
	}
	if tp.used {
		return nil, ErrTapeUsed
	}
	tp.used = true

	if target.NumElems != 1 {
		return nil, fmt.Errorf("%w: gradient target must be scalar, got %v", ErrShapeMismatch, target.Shape)
	}

	grads := make(map[*Tensor]*Tensor)
	if tp.tracked[target] {
		seed, err := Ones(target.Shape)
		if err != nil {
			return nil, err
		}
		grads[target] = seed

		for i := len(tp.entries) - 1; i >= 0; i-- {
			entry := tp.entries[i]
			gradOut, ok := grads[entry.output]
			if !ok {
				continue
			}
			inGrads, err := entry.op.Backward(gradOut)
			if err != nil {
				return nil, fmt.Errorf("backward pass failed: %w", err)
			}
			for j, in := range entry.inputs {
				if !tp.tracked[in] || inGrads[j] == nil {
					continue
				}
				if existing, ok := grads[in]; ok {
					sum, err := Add(existing, inGrads[j])
					if err != nil {
						return nil, fmt.Errorf("gradient accumulation failed: %w", err)
					}
					grads[in] = sum
				} else {
					grads[in] = inGrads[j]
				}
			}
		}
	}

	result := make([]*Tensor, len(sources))
	for i, src := range sources {
		result[i] = grads[src]
	}
	tp.entries = nil
	return result, nil
}

// AddOp implements the Operation interface for element-wise addition
type AddOp struct{}

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	return []*Tensor{gradOut, gradOut}, nil
}

// Add records a + b.
func (tp *Tape) Add(a, b *Tensor) (*Tensor, error) {
	out, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	return tp.record(&AddOp{}, out, a, b), nil
}

// SubOp implements the Operation interface for element-wise subtraction
type SubOp struct{}

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	return []*Tensor{gradOut, Scale(gradOut, -1)}, nil
}

// Sub records a - b.
func (tp *Tape) Sub(a, b *Tensor) (*Tensor, error) {
	out, err := Sub(a, b)
	if err != nil {
		return nil, err
	}
	return tp.record(&SubOp{}, out, a, b), nil
}

// MulOp implements the Operation interface for element-wise multiplication
type MulOp struct {
	a, b *Tensor
}

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := Mul(gradOut, op.b)
	if err != nil {
		return nil, err
	}
	gradB, err := Mul(gradOut, op.a)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// Mul records a * b.
func (tp *Tape) Mul(a, b *Tensor) (*Tensor, error) {
	out, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	return tp.record(&MulOp{a: a, b: b}, out, a, b), nil
}

// ScaleOp implements the Operation interface for multiplication by a constant
type ScaleOp struct {
	factor float64
}

func (op *ScaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	return []*Tensor{Scale(gradOut, op.factor)}, nil
}

// Scale records s * a.
func (tp *Tape) Scale(a *Tensor, s float64) *Tensor {
	return tp.record(&ScaleOp{factor: s}, Scale(a, s), a)
}

// MatMulOp implements the Operation interface for matrix multiplication
type MatMulOp struct {
	a, b *Tensor
}

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// d(A @ B)/dA = gradOut @ B^T, d(A @ B)/dB = A^T @ gradOut
	bT, err := Transpose(op.b)
	if err != nil {
		return nil, err
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		return nil, err
	}
	aT, err := Transpose(op.a)
	if err != nil {
		return nil, err
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MatMul records a @ b.
func (tp *Tape) MatMul(a, b *Tensor) (*Tensor, error) {
	out, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	return tp.record(&MatMulOp{a: a, b: b}, out, a, b), nil
}

// AddBiasOp implements the Operation interface for adding a bias row vector
type AddBiasOp struct{}

func (op *AddBiasOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradBias, err := SumRows(gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradOut, gradBias}, nil
}

// AddBias records x + bias broadcast over the rows of x.
func (tp *Tape) AddBias(x, bias *Tensor) (*Tensor, error) {
	out, err := AddRowVector(x, bias)
	if err != nil {
		return nil, err
	}
	return tp.record(&AddBiasOp{}, out, x, bias), nil
}

// ReLUOp implements the Operation interface for ReLU activation
type ReLUOp struct {
	input *Tensor
}

func (op *ReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad := ZerosLike(gradOut)
	for i, v := range op.input.Data {
		if v > 0 {
			grad.Data[i] = gradOut.Data[i]
		}
	}
	return []*Tensor{grad}, nil
}

// ReLU records max(0, x).
func (tp *Tape) ReLU(x *Tensor) *Tensor {
	return tp.record(&ReLUOp{input: x}, ReLU(x), x)
}

// SigmoidOp implements the Operation interface for sigmoid activation
type SigmoidOp struct {
	output *Tensor
}

func (op *SigmoidOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// d(sigmoid(x))/dx = s * (1 - s)
	grad := ZerosLike(gradOut)
	for i, s := range op.output.Data {
		grad.Data[i] = gradOut.Data[i] * s * (1 - s)
	}
	return []*Tensor{grad}, nil
}

// Sigmoid records 1 / (1 + exp(-x)).
func (tp *Tape) Sigmoid(x *Tensor) *Tensor {
	out := Sigmoid(x)
	return tp.record(&SigmoidOp{output: out}, out, x)
}

// SumOp implements the Operation interface for a full reduction
type SumOp struct {
	input *Tensor
	scale float64
}

func (op *SumOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g := float32(float64(gradOut.Data[0]) * op.scale)
	grad := ZerosLike(op.input)
	for i := range grad.Data {
		grad.Data[i] = g
	}
	return []*Tensor{grad}, nil
}

// Sum records the sum of all elements of x.
func (tp *Tape) Sum(x *Tensor) *Tensor {
	return tp.record(&SumOp{input: x, scale: 1}, Sum(x), x)
}

// Mean records the mean of all elements of x.
func (tp *Tape) Mean(x *Tensor) *Tensor {
	return tp.record(&SumOp{input: x, scale: 1 / float64(x.NumElems)}, Mean(x), x)
}
