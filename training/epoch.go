package training

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// RunEpoch pulls exactly gen.StepsPerEpoch() batches and returns the mean
// batch loss. In ModeTrain every batch is differentiated and opt applies
// the gradients before the next batch is drawn; in ModeEval parameters are
// only read and opt may be nil.
func RunEpoch(model Model, loss LossFunction, gen Generator, mode Mode, opt Optimizer) (float64, error) {
	return runEpoch(model, loss, gen, mode, opt, nil)
}

func runEpoch(model Model, loss LossFunction, gen Generator, mode Mode, opt Optimizer, progress *ProgressBar) (float64, error) {
	steps := gen.StepsPerEpoch()
	if steps <= 0 {
		return 0, ErrNoSteps
	}
	if mode == ModeTrain && opt == nil {
		return 0, errors.New("train epoch requires an optimizer")
	}

	losses := make([]float64, steps)
	for step := 0; step < steps; step++ {
		batch, err := gen.NextBatch()
		if err != nil {
			return 0, errors.Wrapf(err, "failed to fetch batch %d", step)
		}

		switch mode {
		case ModeTrain:
			grads, value, err := ComputeGradients(model, loss, batch.Inputs, batch.Targets)
			if err != nil {
				return 0, errors.Wrapf(err, "batch %d", step)
			}
			if err := opt.ApplyGradients(grads, model.TrainableParameters()); err != nil {
				return 0, errors.Wrapf(err, "optimizer step failed at batch %d", step)
			}
			losses[step] = value
		case ModeEval:
			value, err := evaluate(model, loss, batch.Inputs, batch.Targets)
			if err != nil {
				return 0, errors.Wrapf(err, "batch %d", step)
			}
			losses[step] = value
		default:
			return 0, errors.Errorf("unknown epoch mode %d", mode)
		}

		if progress != nil {
			progress.Update(step+1, map[string]float64{"loss": losses[step]})
		}
	}
	if progress != nil {
		progress.Finish()
	}

	return floats.Sum(losses) / float64(steps), nil
}
