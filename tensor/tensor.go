package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned (wrapped) whenever operand shapes disagree.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

type DType int

const (
	Float32 DType = iota
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	default:
		return "Unknown"
	}
}

// Tensor is a dense, row-major float32 array on the CPU.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Data     []float32
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int {
	return t.NumElems
}

// Dim returns the rank of the tensor. Scalars have rank 0.
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item requires a single-element tensor, got shape %v", t.Shape)
	}
	return float64(t.Data[0]), nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    t.DType,
		Data:     data,
		NumElems: t.NumElems,
	}
}

// Reshape returns a tensor sharing t's data with a new shape.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("%w: cannot reshape %v (%d elements) to %v", ErrShapeMismatch, t.Shape, t.NumElems, newShape)
	}
	shape := make([]int, len(newShape))
	copy(shape, newShape)
	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// SetData replaces the tensor contents in place. The element count must match.
func (t *Tensor) SetData(data []float32) error {
	if len(data) != t.NumElems {
		return fmt.Errorf("%w: data length %d does not match tensor size %d", ErrShapeMismatch, len(data), t.NumElems)
	}
	copy(t.Data, data)
	return nil
}

// Equal reports whether both tensors have the same shape and identical values.
func (t *Tensor) Equal(other *Tensor) bool {
	if !SameShape(t, other) {
		return false
	}
	for i, v := range t.Data {
		if other.Data[i] != v {
			return false
		}
	}
	return true
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	return shapesEqual(a.Shape, b.Shape)
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// calculateNumElements treats the empty shape as a scalar.
func calculateNumElements(shape []int) int {
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
