package training

import (
	"errors"
	"math"
	"testing"

	"github.com/tsawler/go-detect/tensor"
)

// TestComputeGradients tests gradient values, order and the unused-parameter placeholder
func TestComputeGradients(t *testing.T) {
	model := newLinearModel(t)
	gen := newFakeGenerator(t, 1)

	grads, loss, err := ComputeGradients(model, squaredError{}, gen.batch.Inputs, gen.batch.Targets)
	if err != nil {
		t.Fatalf("ComputeGradients failed: %v", err)
	}

	// x = [1, 2], w = [0.5, 0.5], target 3: pred 1.5, loss 2.25, dL/dw = 2*(pred-target)*x
	if math.Abs(loss-2.25) > 1e-6 {
		t.Errorf("loss = %v, expected 2.25", loss)
	}
	if len(grads) != 2 {
		t.Fatalf("got %d gradients, expected one per parameter", len(grads))
	}
	expected := []float32{-3, -6}
	for i, e := range expected {
		if math.Abs(float64(grads[0].Data[i]-e)) > 1e-5 {
			t.Errorf("grad[0][%d] = %v, expected %v", i, grads[0].Data[i], e)
		}
	}
	if grads[1] != nil {
		t.Errorf("unused parameter got gradient %v, expected nil", grads[1].Data)
	}

	if model.w.Data[0] != 0.5 || model.w.Data[1] != 0.5 {
		t.Errorf("ComputeGradients mutated parameters: %v", model.w.Data)
	}
}

// TestComputeGradientsShapeMismatch tests that a target shape error propagates
func TestComputeGradientsShapeMismatch(t *testing.T) {
	model := newLinearModel(t)
	inputs := mustTensor(t, []int{1, 2}, []float32{1, 2})
	targets := []*tensor.Tensor{mustTensor(t, []int{2, 1}, []float32{1, 2})}

	_, _, err := ComputeGradients(model, squaredError{}, inputs, targets)
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch, got %v", err)
	}

	_, _, err = ComputeGradients(model, squaredError{}, inputs, nil)
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch for missing targets, got %v", err)
	}
}

// TestComputeGradientsConstantLoss tests a loss that ignores every parameter
func TestComputeGradientsConstantLoss(t *testing.T) {
	model := newLinearModel(t)
	gen := newFakeGenerator(t, 1)

	grads, loss, err := ComputeGradients(model, &scriptedLoss{values: []float64{4}}, gen.batch.Inputs, gen.batch.Targets)
	if err != nil {
		t.Fatal(err)
	}
	if loss != 4 {
		t.Errorf("loss = %v", loss)
	}
	for i, g := range grads {
		if g != nil {
			t.Errorf("grad %d = %v, expected nil", i, g.Data)
		}
	}
}
