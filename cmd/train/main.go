// Command train fits the multi-scale detector on a synthetic dataset,
// logging per-epoch losses to TensorBoard event files and keeping the
// best weights in a single checkpoint.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-detect/datasets"
	"github.com/tsawler/go-detect/detection"
	"github.com/tsawler/go-detect/summary"
	"github.com/tsawler/go-detect/training"
)

// runIDLayout names a run after its start time (day/month/year-hh:mm:ss).
const runIDLayout = "02/01/2006-15:04:05"

type options struct {
	config        training.Config
	samples       int
	batchSize     int
	validFraction float64
	seed          int64
}

func main() {
	logger := logrus.New()
	if err := run(os.Args[1:], logger, os.Stderr); err != nil {
		logger.WithError(err).Error("Training failed")
		os.Exit(1)
	}
}

func parseOptions(args []string, now time.Time) (options, error) {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)

	defaults := training.DefaultConfig()
	configPath := fs.String("config", "", "JSON file with training options; flags override it")
	epochs := fs.Int("epochs", defaults.NumEpochs, "Maximum number of epochs")
	lr := fs.Float64("lr", defaults.LearningRate, "Adam learning rate")
	saveDir := fs.String("save-dir", defaults.SaveDir, "Checkpoint directory (empty disables checkpointing)")
	weightName := fs.String("weight-name", defaults.WeightName, "Checkpoint file name without extension")
	patience := fs.Int("patience", defaults.Patience, "Epochs without improvement tolerated before stopping")
	runID := fs.String("run-id", "", "Run identifier for the log directory (default: start time)")
	logDir := fs.String("log-dir", defaults.LogDir, "Root directory for TensorBoard event files")
	format := fs.String("format", defaults.CheckpointFormat, "Checkpoint format: onnx or json")
	progress := fs.Bool("progress", false, "Show a per-batch progress bar")
	haltNonFinite := fs.Bool("halt-on-non-finite", false, "Abort when an epoch loss is NaN or infinite")

	opts := options{}
	fs.IntVar(&opts.samples, "samples", 512, "Number of synthetic samples")
	fs.IntVar(&opts.batchSize, "batch", 32, "Batch size")
	fs.Float64Var(&opts.validFraction, "valid-fraction", 0.2, "Share of samples held out for validation (0 trains without validation)")
	fs.Int64Var(&opts.seed, "seed", 1, "Seed for data generation, shuffling and initialisation")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	cfg := defaults
	if *configPath != "" {
		loaded, err := training.LoadConfig(*configPath)
		if err != nil {
			return opts, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "epochs":
			cfg.NumEpochs = *epochs
		case "lr":
			cfg.LearningRate = *lr
		case "save-dir":
			cfg.SaveDir = *saveDir
		case "weight-name":
			cfg.WeightName = *weightName
		case "patience":
			cfg.Patience = *patience
		case "run-id":
			cfg.RunID = *runID
		case "log-dir":
			cfg.LogDir = *logDir
		case "format":
			cfg.CheckpointFormat = *format
		case "progress":
			cfg.ShowProgress = *progress
		case "halt-on-non-finite":
			cfg.HaltOnNonFinite = *haltNonFinite
		}
	})

	if cfg.RunID == "" {
		cfg.RunID = now.Format(runIDLayout)
	}
	if err := cfg.Validate(); err != nil {
		return opts, err
	}
	if opts.samples <= 0 || opts.batchSize <= 0 {
		return opts, fmt.Errorf("samples and batch must be positive")
	}

	opts.config = cfg
	return opts, nil
}

func run(args []string, logger *logrus.Logger, progressOut io.Writer) error {
	opts, err := parseOptions(args, time.Now())
	if err != nil {
		return err
	}
	cfg := opts.config

	logger.WithFields(logrus.Fields{
		"cpu":     cpuid.CPU.BrandName,
		"cores":   cpuid.CPU.PhysicalCores,
		"threads": cpuid.CPU.LogicalCores,
		"avx2":    cpuid.CPU.Supports(cpuid.AVX2),
	}).Info("Host")

	modelConfig := detection.DefaultConfig()
	modelConfig.Seed = opts.seed
	model, err := detection.NewModel(modelConfig)
	if err != nil {
		return errors.Wrap(err, "failed to build model")
	}

	data, err := datasets.NewSynthetic(opts.samples, modelConfig.InputSize, modelConfig.HeadSizes(), opts.seed)
	if err != nil {
		return errors.Wrap(err, "failed to build dataset")
	}
	trainSet, validSet, err := datasets.Split(data, opts.validFraction, opts.seed)
	if err != nil {
		return err
	}

	trainLoader, err := datasets.NewLoader(trainSet, opts.batchSize, true, opts.seed)
	if err != nil {
		return errors.Wrap(err, "failed to create train loader")
	}
	var validGen training.Generator
	if validSet.Len() > 0 {
		validLoader, err := datasets.NewLoader(validSet, opts.batchSize, false, opts.seed)
		if err != nil {
			return errors.Wrap(err, "failed to create validation loader")
		}
		validGen = validLoader
	}

	writer, err := summary.NewWriter(cfg.LogDir, cfg.RunID)
	if err != nil {
		return err
	}
	defer writer.Close()

	trainer, err := training.NewTrainer(model, detection.NewLoss(modelConfig), training.NewDefaultAdam(cfg.LearningRate), writer, cfg,
		training.WithLogger(logger), training.WithProgressOutput(progressOut))
	if err != nil {
		return err
	}

	history, err := trainer.Train(trainLoader, validGen)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"epochs":    len(history),
		"best_loss": floats.Min(history),
		"logs":      writer.RunDir(),
	}).Info("Training finished")
	return writer.Close()
}
