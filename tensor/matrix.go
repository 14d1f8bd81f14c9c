package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// toDense widens a 2D tensor into a gonum matrix.
func toDense(t *Tensor) *mat.Dense {
	data := make([]float64, len(t.Data))
	for i, v := range t.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(t.Shape[0], t.Shape[1], data)
}

func fromDense(d *mat.Dense) (*Tensor, error) {
	rows, cols := d.Dims()
	raw := d.RawMatrix()
	data := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			data[r*cols+c] = float32(raw.Data[r*raw.Stride+c])
		}
	}
	return New([]int{rows, cols}, data)
}

// MatMul multiplies t1 [m, k] by t2 [k, n].
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("%w: matmul requires 2D tensors, got %v and %v", ErrShapeMismatch, t1.Shape, t2.Shape)
	}
	if t1.Shape[1] != t2.Shape[0] {
		return nil, fmt.Errorf("%w: matmul inner dimensions differ: %v x %v", ErrShapeMismatch, t1.Shape, t2.Shape)
	}

	var product mat.Dense
	product.Mul(toDense(t1), toDense(t2))
	return fromDense(&product)
}

// Transpose swaps the two axes of a matrix.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("%w: transpose requires a 2D tensor, got %v", ErrShapeMismatch, t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	result, err := New([]int{cols, rows}, nil)
	if err != nil {
		return nil, err
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result.Data[j*rows+i] = t.Data[i*cols+j]
		}
	}
	return result, nil
}
