package training

import (
	"github.com/tsawler/go-detect/tensor"
)

// Metric stream names written once per epoch.
const (
	StreamTrainLoss = "train_loss"
	StreamValidLoss = "valid_loss"
)

// Mode selects what an epoch does with each batch.
type Mode int

const (
	// ModeTrain computes gradients and updates parameters once per batch.
	ModeTrain Mode = iota
	// ModeEval runs the forward pass only.
	ModeEval
)

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeEval:
		return "eval"
	default:
		return "unknown"
	}
}

// Model is a multi-head network whose parameters the trainer updates.
//
// Forward receives a nil tape for inference passes; a non-nil tape records
// the ops needed to differentiate the loss. TrainableParameters returns the
// live parameter handles in a stable order, and Weights returns copies of
// their current values in the same order.
type Model interface {
	Forward(tape *tensor.Tape, inputs *tensor.Tensor) ([]*tensor.Tensor, error)
	TrainableParameters() []*tensor.Tensor
	Weights() []*tensor.Tensor
}

// LossFunction reduces per-head targets and predictions to a scalar.
// It must be a pure function of its arguments.
type LossFunction interface {
	Loss(tape *tensor.Tape, targets, predictions []*tensor.Tensor) (*tensor.Tensor, error)
}

// Batch is one unit of inputs and per-head targets.
type Batch struct {
	Inputs  *tensor.Tensor
	Targets []*tensor.Tensor
}

// Generator yields batches. NextBatch is called exactly StepsPerEpoch times
// per epoch; the generator owns any shuffling and wrap-around.
type Generator interface {
	StepsPerEpoch() int
	NextBatch() (Batch, error)
}

// MetricSink receives one scalar per stream per epoch.
type MetricSink interface {
	AddScalar(stream string, value float64, step int) error
	Close() error
}

type nopSink struct{}

func (nopSink) AddScalar(string, float64, int) error { return nil }
func (nopSink) Close() error                         { return nil }
