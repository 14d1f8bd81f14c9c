package training

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-detect/tensor"
)

// ComputeGradients runs one traced forward pass and returns the gradient of
// the loss with respect to every trainable parameter, in parameter order,
// together with the loss value. Parameters the loss does not depend on get
// a nil gradient. Parameters are not modified.
func ComputeGradients(model Model, loss LossFunction, inputs *tensor.Tensor, targets []*tensor.Tensor) ([]*tensor.Tensor, float64, error) {
	params := model.TrainableParameters()

	tape := tensor.NewTape()
	tape.Watch(params...)

	predictions, err := model.Forward(tape, inputs)
	if err != nil {
		return nil, 0, errors.Wrap(err, "forward pass failed")
	}

	lossTensor, err := loss.Loss(tape, targets, predictions)
	if err != nil {
		return nil, 0, errors.Wrap(err, "loss computation failed")
	}

	value, err := lossTensor.Item()
	if err != nil {
		return nil, 0, errors.Wrap(err, "loss is not a scalar")
	}

	grads, err := tape.Gradient(lossTensor, params)
	if err != nil {
		return nil, 0, errors.Wrap(err, "backward pass failed")
	}
	return grads, value, nil
}

// evaluate runs an untraced forward pass and returns the loss value.
func evaluate(model Model, loss LossFunction, inputs *tensor.Tensor, targets []*tensor.Tensor) (float64, error) {
	predictions, err := model.Forward(nil, inputs)
	if err != nil {
		return 0, errors.Wrap(err, "forward pass failed")
	}
	lossTensor, err := loss.Loss(nil, targets, predictions)
	if err != nil {
		return 0, errors.Wrap(err, "loss computation failed")
	}
	value, err := lossTensor.Item()
	if err != nil {
		return 0, errors.Wrap(err, "loss is not a scalar")
	}
	return value, nil
}
