package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-detect/tensor"
)

// Optimizer applies gradients to parameters in place. grads[i] belongs to
// params[i]; a nil gradient leaves its parameter untouched.
type Optimizer interface {
	ApplyGradients(grads, params []*tensor.Tensor) error
	LearningRate() float64
}

func checkPairs(grads, params []*tensor.Tensor) error {
	if len(grads) != len(params) {
		return fmt.Errorf("got %d gradients for %d parameters", len(grads), len(params))
	}
	for i, g := range grads {
		if g == nil {
			continue
		}
		if !tensor.SameShape(g, params[i]) {
			return fmt.Errorf("%w: gradient %d has shape %v, parameter has %v", tensor.ErrShapeMismatch, i, g.Shape, params[i].Shape)
		}
	}
	return nil
}

// SGD implements Stochastic Gradient Descent with optional momentum and
// L2 weight decay.
type SGD struct {
	learningRate float64
	momentum     float64
	weightDecay  float64
	nesterov     bool
	velocities   map[*tensor.Tensor][]float32
	mutex        sync.Mutex
}

// NewSGD creates a new SGD optimizer
func NewSGD(lr, momentum, weightDecay float64, nesterov bool) *SGD {
	return &SGD{
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		nesterov:     nesterov,
		velocities:   make(map[*tensor.Tensor][]float32),
	}
}

// ApplyGradients performs a single optimization step
func (sgd *SGD) ApplyGradients(grads, params []*tensor.Tensor) error {
	if err := checkPairs(grads, params); err != nil {
		return err
	}

	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for i, param := range params {
		grad := grads[i]
		if grad == nil {
			continue
		}

		var velocity []float32
		if sgd.momentum > 0 {
			velocity = sgd.velocities[param]
			if velocity == nil {
				velocity = make([]float32, len(param.Data))
				sgd.velocities[param] = velocity
			}
		}

		for j, p := range param.Data {
			g := float64(grad.Data[j])
			if sgd.weightDecay > 0 {
				g += sgd.weightDecay * float64(p)
			}
			if velocity != nil {
				v := sgd.momentum*float64(velocity[j]) + g
				velocity[j] = float32(v)
				if sgd.nesterov {
					g += sgd.momentum * v
				} else {
					g = v
				}
			}
			param.Data[j] = float32(float64(p) - sgd.learningRate*g)
		}
	}
	return nil
}

// LearningRate returns the constant step size.
func (sgd *SGD) LearningRate() float64 {
	return sgd.learningRate
}

// Adam implements the Adam optimizer with bias-corrected moment estimates.
type Adam struct {
	learningRate float64
	beta1        float64
	beta2        float64
	eps          float64
	weightDecay  float64
	stepCount    int
	m            map[*tensor.Tensor][]float32 // First moment estimates
	v            map[*tensor.Tensor][]float32 // Second moment estimates
	mutex        sync.Mutex
}

// NewAdam creates a new Adam optimizer
func NewAdam(lr, beta1, beta2, eps, weightDecay float64) *Adam {
	return &Adam{
		learningRate: lr,
		beta1:        beta1,
		beta2:        beta2,
		eps:          eps,
		weightDecay:  weightDecay,
		m:            make(map[*tensor.Tensor][]float32),
		v:            make(map[*tensor.Tensor][]float32),
	}
}

// NewDefaultAdam uses beta1 0.9, beta2 0.999 and epsilon 1e-8.
func NewDefaultAdam(lr float64) *Adam {
	return NewAdam(lr, 0.9, 0.999, 1e-8, 0)
}

// ApplyGradients performs a single optimization step. The step counter used
// for bias correction advances once per call.
func (adam *Adam) ApplyGradients(grads, params []*tensor.Tensor) error {
	if err := checkPairs(grads, params); err != nil {
		return err
	}

	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.stepCount++
	biasCorrection1 := 1.0 - math.Pow(adam.beta1, float64(adam.stepCount))
	biasCorrection2 := 1.0 - math.Pow(adam.beta2, float64(adam.stepCount))
	stepSize := adam.learningRate / biasCorrection1

	for i, param := range params {
		grad := grads[i]
		if grad == nil {
			continue
		}

		m := adam.m[param]
		if m == nil {
			m = make([]float32, len(param.Data))
			adam.m[param] = m
		}
		v := adam.v[param]
		if v == nil {
			v = make([]float32, len(param.Data))
			adam.v[param] = v
		}

		for j, p := range param.Data {
			g := float64(grad.Data[j])
			if adam.weightDecay > 0 {
				g += adam.weightDecay * float64(p)
			}
			mj := adam.beta1*float64(m[j]) + (1-adam.beta1)*g
			vj := adam.beta2*float64(v[j]) + (1-adam.beta2)*g*g
			m[j] = float32(mj)
			v[j] = float32(vj)

			denom := math.Sqrt(vj/biasCorrection2) + adam.eps
			param.Data[j] = float32(float64(p) - stepSize*mj/denom)
		}
	}
	return nil
}

// LearningRate returns the constant step size.
func (adam *Adam) LearningRate() float64 {
	return adam.learningRate
}

// Steps returns the number of ApplyGradients calls so far.
func (adam *Adam) Steps() int {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	return adam.stepCount
}
