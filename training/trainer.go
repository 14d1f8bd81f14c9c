package training

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-detect/checkpoints"
)

// Option customises a Trainer.
type Option func(*Trainer)

// WithLogger replaces the default stderr logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(t *Trainer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithProgressOutput sets where the per-batch progress bar is drawn when
// Config.ShowProgress is set. Defaults to stderr.
func WithProgressOutput(w io.Writer) Option {
	return func(t *Trainer) {
		if w != nil {
			t.progressOut = w
		}
	}
}

// Trainer manages the training process
type Trainer struct {
	model     Model
	loss      LossFunction
	optimizer Optimizer
	sink      MetricSink
	config    Config

	logger      *logrus.Logger
	progressOut io.Writer
	now         func() time.Time

	policy  *CheckpointPolicy
	stopper *EarlyStopping
	history []float64
}

// NewTrainer creates a new Trainer. A nil sink discards metrics.
func NewTrainer(model Model, loss LossFunction, optimizer Optimizer, sink MetricSink, config Config, opts ...Option) (*Trainer, error) {
	if model == nil || loss == nil || optimizer == nil {
		return nil, errors.New("model, loss and optimizer are required")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid training config")
	}
	if sink == nil {
		sink = nopSink{}
	}

	t := &Trainer{
		model:       model,
		loss:        loss,
		optimizer:   optimizer,
		sink:        sink,
		config:      config,
		logger:      logrus.New(),
		progressOut: os.Stderr,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if lr := optimizer.LearningRate(); lr != config.LearningRate {
		t.logger.WithFields(logrus.Fields{
			"config_learning_rate":    config.LearningRate,
			"optimizer_learning_rate": lr,
		}).Warn("Config learning rate differs from the optimizer's; the optimizer's is used")
	}
	return t, nil
}

// Train runs up to NumEpochs epochs and returns the validation loss of
// every completed epoch. When valid is nil the train loss stands in for the
// validation loss. Training ends early once the validation loss has not
// improved for more than Patience epochs; the epoch that triggers the stop
// is included in the history and its checkpoint, if any, is kept.
// Any collaborator error aborts the run.
func (t *Trainer) Train(train, valid Generator) ([]float64, error) {
	if train == nil {
		return nil, errors.New("a training generator is required")
	}

	runID := t.config.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	t.history = make([]float64, 0, t.config.NumEpochs)
	t.stopper = NewEarlyStopping(t.config.Patience)
	t.policy = NewCheckpointPolicy(t.config.SaveDir, t.config.WeightName, t.config.Format())
	t.policy.RunID = runID
	t.policy.Host = checkpoints.HostInfo()
	t.policy.now = t.now

	if t.policy.Enabled() {
		if err := checkpoints.EnsureDir(t.config.SaveDir); err != nil {
			return nil, err
		}
	}

	log := t.logger.WithField("run_id", runID)
	log.WithFields(logrus.Fields{
		"epochs":        t.config.NumEpochs,
		"learning_rate": t.optimizer.LearningRate(),
		"patience":      t.config.Patience,
		"checkpoint":    t.policy.Path,
		"validation":    valid != nil,
	}).Info("Starting training")

	for epoch := 0; epoch < t.config.NumEpochs; epoch++ {
		epochStart := t.now()

		var progress *ProgressBar
		if t.config.ShowProgress {
			progress = NewProgressBar(t.progressOut, fmt.Sprintf("epoch %d", epoch), train.StepsPerEpoch())
		}
		trainLoss, err := runEpoch(t.model, t.loss, train, ModeTrain, t.optimizer, progress)
		if err != nil {
			return nil, errors.Wrapf(err, "training epoch %d failed", epoch)
		}

		validLoss := trainLoss
		if valid != nil {
			validLoss, err = runEpoch(t.model, t.loss, valid, ModeEval, nil, nil)
			if err != nil {
				return nil, errors.Wrapf(err, "validation epoch %d failed", epoch)
			}
		}

		if t.config.HaltOnNonFinite && (!isFinite(trainLoss) || !isFinite(validLoss)) {
			return nil, errors.Wrapf(ErrNonFiniteLoss, "epoch %d: train_loss=%v valid_loss=%v", epoch, trainLoss, validLoss)
		}

		t.history = append(t.history, validLoss)

		if err := t.sink.AddScalar(StreamTrainLoss, trainLoss, epoch); err != nil {
			return nil, errors.Wrapf(err, "failed to record %s", StreamTrainLoss)
		}
		if err := t.sink.AddScalar(StreamValidLoss, validLoss, epoch); err != nil {
			return nil, errors.Wrapf(err, "failed to record %s", StreamValidLoss)
		}

		log.WithFields(logrus.Fields{
			"epoch":      epoch,
			"train_loss": trainLoss,
			"valid_loss": validLoss,
			"duration":   t.now().Sub(epochStart),
		}).Info("Epoch completed")

		saved, err := t.policy.MaybeSave(t.model, t.history)
		if err != nil {
			return nil, err
		}
		if saved {
			log.WithFields(logrus.Fields{
				"epoch":      epoch,
				"valid_loss": validLoss,
				"path":       t.policy.Path,
			}).Info("Updated weights with new best loss")
		}

		if t.stopper.Step(validLoss) {
			log.WithFields(logrus.Fields{
				"epoch":     epoch,
				"best_loss": t.stopper.Best(),
				"patience":  t.stopper.Patience(),
			}).Info("Early stopping triggered")
			return t.History(), nil
		}
	}

	return t.History(), nil
}

// History returns a copy of the validation losses recorded by the last Train call.
func (t *Trainer) History() []float64 {
	out := make([]float64, len(t.history))
	copy(out, t.history)
	return out
}

// EarlyStopping exposes the stopping monitor of the last Train call.
func (t *Trainer) EarlyStopping() *EarlyStopping {
	return t.stopper
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
