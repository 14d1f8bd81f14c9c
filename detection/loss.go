package detection

import (
	"fmt"

	"github.com/tsawler/go-detect/tensor"
)

// objectnessChannel is the per-anchor offset of the objectness score, after the 4 box values.
const objectnessChannel = 4

// Loss sums a weighted mean squared error over every head. Box and class
// channels are weighted by CoordScale, the objectness channel by 1.
type Loss struct {
	config Config
}

// NewLoss creates the loss for a detector built from config.
func NewLoss(config Config) *Loss {
	return &Loss{config: config}
}

// Loss returns a scalar tensor. targets and predictions must hold one
// tensor per head with matching shapes.
func (l *Loss) Loss(tape *tensor.Tape, targets, predictions []*tensor.Tensor) (*tensor.Tensor, error) {
	heads := len(l.config.Scales)
	if len(predictions) != heads || len(targets) != heads {
		return nil, fmt.Errorf("%w: expected %d heads, got %d predictions and %d targets",
			tensor.ErrShapeMismatch, heads, len(predictions), len(targets))
	}

	var total *tensor.Tensor
	for i := range predictions {
		headLoss, err := l.headLoss(tape, targets[i], predictions[i])
		if err != nil {
			return nil, fmt.Errorf("head %d: %w", i, err)
		}
		if total == nil {
			total = headLoss
			continue
		}
		total, err = tape.Add(total, headLoss)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (l *Loss) headLoss(tape *tensor.Tape, target, prediction *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tape.Sub(prediction, target)
	if err != nil {
		return nil, err
	}
	squared, err := tape.Mul(diff, diff)
	if err != nil {
		return nil, err
	}
	weighted, err := tape.Mul(squared, l.channelWeights(prediction))
	if err != nil {
		return nil, err
	}
	return tape.Mean(weighted), nil
}

// channelWeights builds a constant mask shaped like prediction, whose last
// dimension is a multiple of Channels().
func (l *Loss) channelWeights(prediction *tensor.Tensor) *tensor.Tensor {
	mask := tensor.ZerosLike(prediction)
	channels := l.config.Channels()
	for i := range mask.Data {
		if i%channels == objectnessChannel {
			mask.Data[i] = 1
		} else {
			mask.Data[i] = float32(l.config.CoordScale)
		}
	}
	return mask
}
