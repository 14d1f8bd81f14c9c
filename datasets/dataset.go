// Package datasets supplies samples to the trainer: an in-memory synthetic
// detection dataset, subsets and splits of any dataset, and a Loader that
// turns a dataset into an endless stream of fixed-size batches.
package datasets

import (
	"fmt"

	"github.com/tsawler/go-detect/tensor"
)

// Sample is one input row with one target row per detection head.
type Sample struct {
	Input   *tensor.Tensor   // [features]
	Targets []*tensor.Tensor // [head size] each
}

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	// Len returns the total number of samples
	Len() int
	// Get returns a single sample
	Get(idx int) (Sample, error)
}

// Subset exposes a fixed selection of another dataset's samples.
type Subset struct {
	source  Dataset
	indices []int
}

// NewSubset returns the first limit samples of source. A limit larger
// than the dataset is clamped.
func NewSubset(source Dataset, limit int) (*Subset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	if limit > source.Len() {
		limit = source.Len()
	}
	indices := make([]int, limit)
	for i := range indices {
		indices[i] = i
	}
	return &Subset{source: source, indices: indices}, nil
}

// Len returns the number of samples in the subset
func (s *Subset) Len() int {
	return len(s.indices)
}

// Get returns sample idx of the subset.
func (s *Subset) Get(idx int) (Sample, error) {
	if idx < 0 || idx >= len(s.indices) {
		return Sample{}, fmt.Errorf("index out of bounds for subset: %d (size: %d)", idx, len(s.indices))
	}
	return s.source.Get(s.indices[idx])
}

// Split partitions ds into disjoint train and validation subsets. The
// validation part holds round(len*validFraction) samples chosen by a
// seeded shuffle; every sample lands in exactly one part.
func Split(ds Dataset, validFraction float64, seed int64) (train, valid *Subset, err error) {
	if validFraction < 0 || validFraction >= 1 {
		return nil, nil, fmt.Errorf("validation fraction must be in [0, 1), got %g", validFraction)
	}

	order := permutation(ds.Len(), seed)
	validLen := int(float64(ds.Len())*validFraction + 0.5)
	if validLen >= ds.Len() && ds.Len() > 0 {
		validLen = ds.Len() - 1
	}

	valid = &Subset{source: ds, indices: order[:validLen]}
	train = &Subset{source: ds, indices: order[validLen:]}
	return train, valid, nil
}
