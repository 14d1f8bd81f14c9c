package tensor

import (
	"fmt"
	"math"
)

func checkSameShape(op string, t1, t2 *Tensor) error {
	if !shapesEqual(t1.Shape, t2.Shape) {
		return fmt.Errorf("%w: %s of %v and %v", ErrShapeMismatch, op, t1.Shape, t2.Shape)
	}
	return nil
}

func elementwise(op string, t1, t2 *Tensor, f func(a, b float32) float32) (*Tensor, error) {
	if err := checkSameShape(op, t1, t2); err != nil {
		return nil, err
	}
	result, err := New(t1.Shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t1.Data {
		result.Data[i] = f(t1.Data[i], t2.Data[i])
	}
	return result, nil
}

// Add computes t1 + t2 element-wise.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("add", t1, t2, func(a, b float32) float32 { return a + b })
}

// Sub computes t1 - t2 element-wise.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("sub", t1, t2, func(a, b float32) float32 { return a - b })
}

// Mul computes t1 * t2 element-wise.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("mul", t1, t2, func(a, b float32) float32 { return a * b })
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float64) *Tensor {
	result := ZerosLike(t)
	for i, v := range t.Data {
		result.Data[i] = v * float32(s)
	}
	return result
}

// ReLU computes max(0, x) element-wise.
func ReLU(t *Tensor) *Tensor {
	result := ZerosLike(t)
	for i, v := range t.Data {
		if v > 0 {
			result.Data[i] = v
		}
	}
	return result
}

// Sigmoid computes 1 / (1 + exp(-x)) element-wise.
func Sigmoid(t *Tensor) *Tensor {
	result := ZerosLike(t)
	for i, v := range t.Data {
		result.Data[i] = float32(1.0 / (1.0 + math.Exp(-float64(v))))
	}
	return result
}

// Sum reduces all elements to a scalar.
func Sum(t *Tensor) *Tensor {
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	return FromScalar(sum)
}

// Mean reduces all elements to their arithmetic mean.
func Mean(t *Tensor) *Tensor {
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	return FromScalar(sum / float64(t.NumElems))
}

// AddRowVector adds the vector v of shape [n] to every row of the matrix m of shape [rows, n].
func AddRowVector(m, v *Tensor) (*Tensor, error) {
	if len(m.Shape) != 2 || len(v.Shape) != 1 || m.Shape[1] != v.Shape[0] {
		return nil, fmt.Errorf("%w: cannot add row vector %v to matrix %v", ErrShapeMismatch, v.Shape, m.Shape)
	}
	result, err := New(m.Shape, nil)
	if err != nil {
		return nil, err
	}
	cols := m.Shape[1]
	for r := 0; r < m.Shape[0]; r++ {
		for c := 0; c < cols; c++ {
			result.Data[r*cols+c] = m.Data[r*cols+c] + v.Data[c]
		}
	}
	return result, nil
}

// SumRows collapses a [rows, n] matrix to a [n] vector by summing over rows.
func SumRows(m *Tensor) (*Tensor, error) {
	if len(m.Shape) != 2 {
		return nil, fmt.Errorf("%w: sum rows expects a matrix, got %v", ErrShapeMismatch, m.Shape)
	}
	cols := m.Shape[1]
	result, err := New([]int{cols}, nil)
	if err != nil {
		return nil, err
	}
	for r := 0; r < m.Shape[0]; r++ {
		for c := 0; c < cols; c++ {
			result.Data[c] += m.Data[r*cols+c]
		}
	}
	return result, nil
}

// IsFinite reports whether every element is neither NaN nor infinite.
func IsFinite(t *Tensor) bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
