package tensor

import (
	"fmt"
	"math/rand"
)

// New creates a tensor with the given shape. A nil data slice allocates zeros;
// otherwise the slice is used directly and must have exactly one value per element.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, numElems)
	} else if len(data) != numElems {
		return nil, fmt.Errorf("%w: data length %d does not match tensor size %d", ErrShapeMismatch, len(data), numElems)
	}

	s := make([]int, len(shape))
	copy(s, shape)

	return &Tensor{
		Shape:    s,
		Strides:  calculateStrides(s),
		DType:    Float32,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int) (*Tensor, error) {
	return New(shape, nil)
}

// Ones creates a tensor filled with ones.
func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1)
}

// Full creates a tensor filled with value.
func Full(shape []int, value float32) (*Tensor, error) {
	t, err := New(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// RandomUniform fills a tensor with values drawn from U(-bound, bound).
func RandomUniform(shape []int, bound float64, rng *rand.Rand) (*Tensor, error) {
	t, err := New(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t, nil
}

// RandomNormal fills a tensor with values drawn from N(mean, std^2).
func RandomNormal(shape []int, mean, std float64, rng *rand.Rand) (*Tensor, error) {
	t, err := New(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64()*std + mean)
	}
	return t, nil
}

// FromScalar creates a rank-0 tensor holding value.
func FromScalar(value float64) *Tensor {
	return &Tensor{
		Shape:    []int{},
		Strides:  []int{},
		DType:    Float32,
		Data:     []float32{float32(value)},
		NumElems: 1,
	}
}

// ZerosLike creates a zero tensor with t's shape.
func ZerosLike(t *Tensor) *Tensor {
	s := make([]int, len(t.Shape))
	copy(s, t.Shape)
	return &Tensor{
		Shape:    s,
		Strides:  calculateStrides(s),
		DType:    Float32,
		Data:     make([]float32, t.NumElems),
		NumElems: t.NumElems,
	}
}
