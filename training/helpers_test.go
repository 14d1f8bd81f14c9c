package training

import (
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-detect/tensor"
)

func mustTensor(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	x, err := tensor.New(shape, data)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeGenerator hands out the same batch and counts calls.
type fakeGenerator struct {
	steps int
	batch Batch
	calls int
	err   error
}

func (g *fakeGenerator) StepsPerEpoch() int { return g.steps }

func (g *fakeGenerator) NextBatch() (Batch, error) {
	g.calls++
	if g.err != nil {
		return Batch{}, g.err
	}
	return g.batch, nil
}

func newFakeGenerator(t *testing.T, steps int) *fakeGenerator {
	return &fakeGenerator{
		steps: steps,
		batch: Batch{
			Inputs:  mustTensor(t, []int{1, 2}, []float32{1, 2}),
			Targets: []*tensor.Tensor{mustTensor(t, []int{1, 1}, []float32{3})},
		},
	}
}

// linearModel computes inputs @ w and never uses its second parameter.
type linearModel struct {
	w      *tensor.Tensor
	unused *tensor.Tensor
	calls  int
	err    error
}

func newLinearModel(t *testing.T) *linearModel {
	return &linearModel{
		w:      mustTensor(t, []int{2, 1}, []float32{0.5, 0.5}),
		unused: mustTensor(t, []int{1}, []float32{7}),
	}
}

func (m *linearModel) Forward(tape *tensor.Tape, inputs *tensor.Tensor) ([]*tensor.Tensor, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out, err := tape.MatMul(inputs, m.w)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{out}, nil
}

func (m *linearModel) TrainableParameters() []*tensor.Tensor {
	return []*tensor.Tensor{m.w, m.unused}
}

func (m *linearModel) Weights() []*tensor.Tensor {
	return []*tensor.Tensor{m.w.Clone(), m.unused.Clone()}
}

// squaredError is mean((pred - target)^2) over the first head.
type squaredError struct{}

func (squaredError) Loss(tape *tensor.Tape, targets, predictions []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(targets) != len(predictions) {
		return nil, fmt.Errorf("%w: %d targets, %d predictions", tensor.ErrShapeMismatch, len(targets), len(predictions))
	}
	diff, err := tape.Sub(predictions[0], targets[0])
	if err != nil {
		return nil, err
	}
	sq, err := tape.Mul(diff, diff)
	if err != nil {
		return nil, err
	}
	return tape.Mean(sq), nil
}

// scriptedLoss returns the next value of a fixed sequence on every call.
type scriptedLoss struct {
	values []float64
	calls  int
}

func (l *scriptedLoss) Loss(tape *tensor.Tape, targets, predictions []*tensor.Tensor) (*tensor.Tensor, error) {
	if l.calls >= len(l.values) {
		return nil, fmt.Errorf("scripted loss exhausted after %d calls", l.calls)
	}
	v := l.values[l.calls]
	l.calls++
	return tensor.FromScalar(v), nil
}

// countingOptimizer records how often it was asked to apply gradients.
type countingOptimizer struct {
	calls int
	err   error
}

func (o *countingOptimizer) ApplyGradients(grads, params []*tensor.Tensor) error {
	o.calls++
	return o.err
}

func (o *countingOptimizer) LearningRate() float64 { return 1e-4 }

// failingSink rejects every scalar.
type failingSink struct{}

func (failingSink) AddScalar(string, float64, int) error { return fmt.Errorf("sink unavailable") }
func (failingSink) Close() error                         { return nil }
