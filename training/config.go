package training

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/tsawler/go-detect/checkpoints"
)

// Config holds configuration for a training run. LearningRate is read
// when the optimizer is built; the Trainer steps with the rate of the
// optimizer it is given.
type Config struct {
	LearningRate float64 `json:"learning_rate"`
	NumEpochs    int     `json:"num_epochs"`
	SaveDir      string  `json:"save_dir"` // Empty disables checkpointing
	WeightName   string  `json:"weight_name"`
	Patience     int     `json:"patience"`

	RunID            string `json:"run_id"` // Namespaces the metric log directory
	LogDir           string `json:"log_dir"`
	CheckpointFormat string `json:"checkpoint_format"` // "onnx" or "json"
	ShowProgress     bool   `json:"show_progress"`
	HaltOnNonFinite  bool   `json:"halt_on_non_finite"`
}

// DefaultConfig returns the default training options
func DefaultConfig() Config {
	return Config{
		LearningRate:     1e-4,
		NumEpochs:        500,
		SaveDir:          "",
		WeightName:       "weights",
		Patience:         10,
		LogDir:           "logs",
		CheckpointFormat: "onnx",
	}
}

// LoadConfig reads a JSON file over DefaultConfig. Keys missing from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration for values the trainer cannot run with
func (c Config) Validate() error {
	if c.NumEpochs <= 0 {
		return errors.Errorf("num_epochs must be positive, got %d", c.NumEpochs)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.Patience < 0 {
		return errors.Errorf("patience must not be negative, got %d", c.Patience)
	}
	if c.SaveDir != "" && c.WeightName == "" {
		return errors.New("weight_name is required when save_dir is set")
	}
	if _, err := checkpoints.ParseFormat(c.CheckpointFormat); err != nil {
		return err
	}
	return nil
}

// Format returns the parsed checkpoint format.
func (c Config) Format() checkpoints.Format {
	f, _ := checkpoints.ParseFormat(c.CheckpointFormat)
	return f
}
