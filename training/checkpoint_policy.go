package training

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-detect/checkpoints"
)

// CheckpointPolicy writes the model's weights whenever the newest history
// value equals the minimum of the history. Equal values re-save. An empty
// Path disables checkpointing.
type CheckpointPolicy struct {
	Path   string
	Format checkpoints.Format
	RunID  string
	Host   string

	now      func() time.Time
	savedLen int
}

// NewCheckpointPolicy places the artifact at <saveDir>/<weightName><ext>.
// An empty saveDir returns a disabled policy.
func NewCheckpointPolicy(saveDir, weightName string, format checkpoints.Format) *CheckpointPolicy {
	p := &CheckpointPolicy{Format: format, now: time.Now}
	if saveDir != "" {
		p.Path = filepath.Join(saveDir, weightName+format.Extension())
	}
	return p
}

// Enabled reports whether a save path is configured.
func (p *CheckpointPolicy) Enabled() bool {
	return p.Path != ""
}

// MaybeSave saves the weights if the last entry of history is its minimum
// and reports whether it did. Repeated calls for the same history length
// save at most once.
func (p *CheckpointPolicy) MaybeSave(model Model, history []float64) (bool, error) {
	if len(history) == 0 {
		return false, errors.New("checkpoint policy called with empty history")
	}
	if !p.Enabled() {
		return false, nil
	}

	if len(history) == p.savedLen {
		return false, nil
	}
	epoch := len(history) - 1
	current := history[epoch]
	if current != floats.Min(history) {
		return false, nil
	}

	now := time.Now
	if p.now != nil {
		now = p.now
	}
	meta := checkpoints.Metadata{
		RunID:     p.RunID,
		Epoch:     epoch,
		ValidLoss: current,
		CreatedAt: now(),
		Host:      p.Host,
	}
	ckpt := checkpoints.FromTensors(model.Weights(), meta)
	if err := checkpoints.Save(p.Path, ckpt, p.Format); err != nil {
		return false, errors.Wrapf(err, "failed to save checkpoint for epoch %d", epoch)
	}
	p.savedLen = len(history)
	return true, nil
}
