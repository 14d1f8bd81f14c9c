package datasets

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-detect/tensor"
)

// Synthetic is an in-memory detection dataset with learnable targets:
// inputs are standard normal and each head's target row is
// sigmoid(input @ P_h) for a fixed random projection P_h.
type Synthetic struct {
	inputs  *tensor.Tensor   // [n, inputSize]
	targets []*tensor.Tensor // [n, headSizes[h]]
}

// NewSynthetic generates n samples deterministically from seed.
func NewSynthetic(n, inputSize int, headSizes []int, seed int64) (*Synthetic, error) {
	if n <= 0 || inputSize <= 0 {
		return nil, fmt.Errorf("invalid synthetic dataset size: %d samples of %d features", n, inputSize)
	}
	if len(headSizes) == 0 {
		return nil, fmt.Errorf("at least one head is required")
	}
	rng := rand.New(rand.NewSource(seed))

	inputs, err := tensor.RandomNormal([]int{n, inputSize}, 0, 1, rng)
	if err != nil {
		return nil, err
	}

	targets := make([]*tensor.Tensor, len(headSizes))
	for h, size := range headSizes {
		projection, err := tensor.RandomNormal([]int{inputSize, size}, 0, 1/float64(inputSize), rng)
		if err != nil {
			return nil, fmt.Errorf("head %d: %w", h, err)
		}
		logits, err := tensor.MatMul(inputs, projection)
		if err != nil {
			return nil, fmt.Errorf("head %d: %w", h, err)
		}
		targets[h] = tensor.Sigmoid(logits)
	}
	return &Synthetic{inputs: inputs, targets: targets}, nil
}

// Len returns the number of samples
func (s *Synthetic) Len() int {
	return s.inputs.Shape[0]
}

// Get returns copies of row idx of the inputs and of every head's targets.
func (s *Synthetic) Get(idx int) (Sample, error) {
	if idx < 0 || idx >= s.Len() {
		return Sample{}, fmt.Errorf("index %d out of range for %d samples", idx, s.Len())
	}
	input, err := row(s.inputs, idx)
	if err != nil {
		return Sample{}, err
	}
	targets := make([]*tensor.Tensor, len(s.targets))
	for h, t := range s.targets {
		targets[h], err = row(t, idx)
		if err != nil {
			return Sample{}, err
		}
	}
	return Sample{Input: input, Targets: targets}, nil
}

func row(m *tensor.Tensor, idx int) (*tensor.Tensor, error) {
	width := m.Shape[1]
	data := make([]float32, width)
	copy(data, m.Data[idx*width:(idx+1)*width])
	return tensor.New([]int{width}, data)
}

func permutation(n int, seed int64) []int {
	return rand.New(rand.NewSource(seed)).Perm(n)
}
