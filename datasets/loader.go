package datasets

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/tsawler/go-detect/tensor"
	"github.com/tsawler/go-detect/training"
)

// Loader batches a Dataset for the trainer. It never runs dry: when the
// sample order is exhausted it is reshuffled (if enabled) and reading
// continues from the start, so every batch holds exactly batchSize samples.
type Loader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewLoader creates a loader. With shuffle set, sample order is drawn from
// a generator seeded with seed so runs are reproducible.
func NewLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	dl := &Loader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}
	if shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
	return dl, nil
}

// StepsPerEpoch returns ceil(len / batchSize).
func (dl *Loader) StepsPerEpoch() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// BatchSize returns the number of samples per batch
func (dl *Loader) BatchSize() int {
	return dl.batchSize
}

// NextBatch returns the next batchSize samples stacked into tensors.
func (dl *Loader) NextBatch() (training.Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	picked := make([]int, dl.batchSize)
	for i := range picked {
		if dl.position >= len(dl.indices) {
			dl.rewind()
		}
		picked[i] = dl.indices[dl.position]
		dl.position++
	}

	batch, err := dl.loadBatch(picked)
	if err != nil {
		return training.Batch{}, errors.Wrap(err, "failed to load batch")
	}
	return batch, nil
}

// rewind starts a new pass over the dataset
func (dl *Loader) rewind() {
	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// loadBatch loads samples and combines them into batched tensors
func (dl *Loader) loadBatch(indices []int) (training.Batch, error) {
	first, err := dl.dataset.Get(indices[0])
	if err != nil {
		return training.Batch{}, fmt.Errorf("failed to load sample %d: %w", indices[0], err)
	}

	inputs, err := tensor.Zeros([]int{len(indices), first.Input.NumElems})
	if err != nil {
		return training.Batch{}, err
	}
	targets := make([]*tensor.Tensor, len(first.Targets))
	for h, target := range first.Targets {
		targets[h], err = tensor.Zeros([]int{len(indices), target.NumElems})
		if err != nil {
			return training.Batch{}, err
		}
	}

	for row, idx := range indices {
		sample := first
		if row > 0 {
			sample, err = dl.dataset.Get(idx)
			if err != nil {
				return training.Batch{}, fmt.Errorf("failed to load sample %d: %w", idx, err)
			}
		}
		if err := copyRow(inputs, sample.Input, row); err != nil {
			return training.Batch{}, fmt.Errorf("sample %d input: %w", idx, err)
		}
		if len(sample.Targets) != len(targets) {
			return training.Batch{}, fmt.Errorf("%w: sample %d has %d targets, expected %d",
				tensor.ErrShapeMismatch, idx, len(sample.Targets), len(targets))
		}
		for h, target := range sample.Targets {
			if err := copyRow(targets[h], target, row); err != nil {
				return training.Batch{}, fmt.Errorf("sample %d target %d: %w", idx, h, err)
			}
		}
	}

	return training.Batch{Inputs: inputs, Targets: targets}, nil
}

// copyRow copies a sample into one row of a batch matrix
func copyRow(batch, sample *tensor.Tensor, row int) error {
	width := batch.Shape[1]
	if sample.NumElems != width {
		return fmt.Errorf("%w: sample has %d values, batch row has %d", tensor.ErrShapeMismatch, sample.NumElems, width)
	}
	copy(batch.Data[row*width:(row+1)*width], sample.Data)
	return nil
}
