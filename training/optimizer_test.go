package training

import (
	"errors"
	"math"
	"testing"

	"github.com/tsawler/go-detect/tensor"
)

func TestSGD(t *testing.T) {
	tests := []struct {
		name     string
		momentum float64
		decay    float64
		steps    int
		expected float32
	}{
		// p -= 0.1 * 0.5
		{"plain", 0, 0, 1, 0.95},
		{"plain twice", 0, 0, 2, 0.90},
		// v1 = 0.5, v2 = 0.9*0.5 + 0.5 = 0.95; p = 1 - 0.1*(0.5+0.95)
		{"momentum", 0.9, 0, 2, 0.855},
		// g = 0.5 + 0.1*1
		{"weight decay", 0, 0.1, 1, 0.94},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			param := mustTensor(t, []int{1}, []float32{1})
			grad := mustTensor(t, []int{1}, []float32{0.5})
			sgd := NewSGD(0.1, tt.momentum, tt.decay, false)

			for i := 0; i < tt.steps; i++ {
				if err := sgd.ApplyGradients([]*tensor.Tensor{grad}, []*tensor.Tensor{param}); err != nil {
					t.Fatal(err)
				}
			}
			if math.Abs(float64(param.Data[0]-tt.expected)) > 1e-6 {
				t.Errorf("param = %v, expected %v", param.Data[0], tt.expected)
			}
			if sgd.LearningRate() != 0.1 {
				t.Errorf("learning rate = %v", sgd.LearningRate())
			}
		})
	}
}

func TestAdamFirstStep(t *testing.T) {
	param := mustTensor(t, []int{2}, []float32{1, -1})
	grad := mustTensor(t, []int{2}, []float32{0.5, -20})
	adam := NewDefaultAdam(1e-3)

	if err := adam.ApplyGradients([]*tensor.Tensor{grad}, []*tensor.Tensor{param}); err != nil {
		t.Fatal(err)
	}

	// bias-corrected first step moves each weight by lr against the gradient sign
	expected := []float32{0.999, -0.999}
	for i, e := range expected {
		if math.Abs(float64(param.Data[i]-e)) > 1e-6 {
			t.Errorf("param[%d] = %v, expected %v", i, param.Data[i], e)
		}
	}
	if adam.Steps() != 1 {
		t.Errorf("steps = %d", adam.Steps())
	}
}

func TestOptimizersSkipNilGradients(t *testing.T) {
	for _, opt := range []Optimizer{NewSGD(0.1, 0.9, 0, true), NewDefaultAdam(0.1)} {
		used := mustTensor(t, []int{1}, []float32{1})
		unused := mustTensor(t, []int{1}, []float32{2})
		grad := mustTensor(t, []int{1}, []float32{1})

		if err := opt.ApplyGradients([]*tensor.Tensor{grad, nil}, []*tensor.Tensor{used, unused}); err != nil {
			t.Fatal(err)
		}
		if unused.Data[0] != 2 {
			t.Errorf("%T changed a parameter with no gradient", opt)
		}
		if used.Data[0] >= 1 {
			t.Errorf("%T did not descend: %v", opt, used.Data[0])
		}
	}
}

func TestOptimizerPairingErrors(t *testing.T) {
	param := mustTensor(t, []int{2}, []float32{1, 2})
	badGrad := mustTensor(t, []int{3}, []float32{1, 2, 3})

	for _, opt := range []Optimizer{NewSGD(0.1, 0, 0, false), NewDefaultAdam(0.1)} {
		if err := opt.ApplyGradients(nil, []*tensor.Tensor{param}); err == nil {
			t.Errorf("%T: expected error for missing gradients", opt)
		}
		err := opt.ApplyGradients([]*tensor.Tensor{badGrad}, []*tensor.Tensor{param})
		if !errors.Is(err, tensor.ErrShapeMismatch) {
			t.Errorf("%T: expected shape mismatch, got %v", opt, err)
		}
	}
}
