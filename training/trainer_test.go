package training

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/tsawler/go-detect/checkpoints"
	"github.com/tsawler/go-detect/summary"
)

func testConfig(epochs, patience int) Config {
	cfg := DefaultConfig()
	cfg.NumEpochs = epochs
	cfg.Patience = patience
	cfg.RunID = "test-run"
	return cfg
}

func newTestTrainer(t *testing.T, loss LossFunction, sink MetricSink, cfg Config) *Trainer {
	t.Helper()
	trainer, err := NewTrainer(newLinearModel(t), loss, &countingOptimizer{}, sink, cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	return trainer
}

func equalHistory(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestTrainerFallsBackToTrainLoss tests valid_loss == train_loss without a validation generator
func TestTrainerFallsBackToTrainLoss(t *testing.T) {
	sink := summary.NewMemory()
	losses := []float64{4, 3, 2.5, 2}
	trainer := newTestTrainer(t, &scriptedLoss{values: losses}, sink, testConfig(4, 10))

	history, err := trainer.Train(newFakeGenerator(t, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !equalHistory(history, losses) {
		t.Errorf("history = %v, expected %v", history, losses)
	}
	if !equalHistory(sink.Values(StreamTrainLoss), sink.Values(StreamValidLoss)) {
		t.Errorf("train %v and valid %v streams differ", sink.Values(StreamTrainLoss), sink.Values(StreamValidLoss))
	}
	for i, p := range sink.Points(StreamValidLoss) {
		if p.Step != i {
			t.Errorf("point %d logged at step %d", i, p.Step)
		}
	}
}

// TestTrainerScenario tests epochs=3, patience=1, train losses [2, 1, 1.5]
func TestTrainerScenario(t *testing.T) {
	trainer := newTestTrainer(t, &scriptedLoss{values: []float64{2, 1, 1.5}}, nil, testConfig(3, 1))

	history, err := trainer.Train(newFakeGenerator(t, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{2, 1, 1.5}
	if !equalHistory(history, expected) {
		t.Errorf("history = %v, expected %v", history, expected)
	}
	if es := trainer.EarlyStopping(); es.Best() != 1 || es.Counter() != 1 {
		t.Errorf("best=%v counter=%d, expected best 1 counter 1", es.Best(), es.Counter())
	}
}

// TestTrainerEarlyStop tests that the run ends on the epoch where patience is exceeded
func TestTrainerEarlyStop(t *testing.T) {
	losses := []float64{2, 1, 1.5, 1.5, 0.5, 0.25}
	loss := &scriptedLoss{values: losses}
	trainer := newTestTrainer(t, loss, nil, testConfig(6, 1))

	history, err := trainer.Train(newFakeGenerator(t, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{2, 1, 1.5, 1.5}
	if !equalHistory(history, expected) {
		t.Errorf("history = %v, expected %v", history, expected)
	}
	if loss.calls != 4 {
		t.Errorf("ran %d epochs, expected 4", loss.calls)
	}
	if !trainer.EarlyStopping().Stopped() {
		t.Error("expected stopped monitor")
	}
}

// TestTrainerEarlyStopKeepsCheckpoint tests that a tied epoch saves and then stops the run
func TestTrainerEarlyStopKeepsCheckpoint(t *testing.T) {
	saveDir := t.TempDir()
	cfg := testConfig(3, 0)
	cfg.SaveDir = saveDir
	trainer := newTestTrainer(t, &scriptedLoss{values: []float64{1, 1, 0.5}}, nil, cfg)

	history, err := trainer.Train(newFakeGenerator(t, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !equalHistory(history, []float64{1, 1}) {
		t.Errorf("history = %v, expected [1 1]", history)
	}
	if !trainer.EarlyStopping().Stopped() {
		t.Error("expected stopped monitor")
	}

	ckpt, err := checkpoints.Load(filepath.Join(saveDir, "weights.onnx"))
	if err != nil {
		t.Fatal(err)
	}
	if ckpt.Metadata.Epoch != 1 || ckpt.Metadata.ValidLoss != 1 {
		t.Errorf("artifact from epoch %d loss %v, expected the stopping epoch 1", ckpt.Metadata.Epoch, ckpt.Metadata.ValidLoss)
	}
}

// TestTrainerValidation tests that the validation generator drives history and early stopping
func TestTrainerValidation(t *testing.T) {
	sink := summary.NewMemory()
	// train, valid alternate per epoch
	loss := &scriptedLoss{values: []float64{1, 5, 0.5, 6, 0.25, 7}}
	trainer := newTestTrainer(t, loss, sink, testConfig(3, 0))

	train := newFakeGenerator(t, 1)
	valid := newFakeGenerator(t, 1)
	history, err := trainer.Train(train, valid)
	if err != nil {
		t.Fatal(err)
	}
	if !equalHistory(history, []float64{5, 6}) {
		t.Errorf("history = %v, expected [5 6]", history)
	}
	if !equalHistory(sink.Values(StreamTrainLoss), []float64{1, 0.5}) {
		t.Errorf("train stream = %v", sink.Values(StreamTrainLoss))
	}
	if train.calls != 2 || valid.calls != 2 {
		t.Errorf("train calls %d, valid calls %d", train.calls, valid.calls)
	}
}

// TestTrainerCheckpoints tests that the best epoch's weights land in the save dir
func TestTrainerCheckpoints(t *testing.T) {
	saveDir := filepath.Join(t.TempDir(), "nested", "weights")
	cfg := testConfig(4, 10)
	cfg.SaveDir = saveDir
	cfg.WeightName = "detector"

	model := newLinearModel(t)
	opt := NewDefaultAdam(0.01)
	trainer, err := NewTrainer(model, squaredError{}, opt, nil, cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	gen := newFakeGenerator(t, 2)
	history, err := trainer.Train(gen, gen)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 4 {
		t.Fatalf("history length %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i] >= history[i-1] {
			t.Errorf("loss did not decrease at epoch %d: %v", i, history)
		}
	}

	ckpt, err := checkpoints.Load(filepath.Join(saveDir, "detector.onnx"))
	if err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
	if ckpt.Metadata.Epoch != 3 || ckpt.Metadata.RunID != "test-run" {
		t.Errorf("metadata = %+v", ckpt.Metadata)
	}
	restored, err := ckpt.Tensors()
	if err != nil {
		t.Fatal(err)
	}
	if !restored[0].Equal(model.w) {
		t.Errorf("saved weights %v differ from final weights %v", restored[0].Data, model.w.Data)
	}
}

// TestTrainerCreatesSaveDirUpFront tests that the save dir exists even if no epoch completes
func TestTrainerCreatesSaveDirUpFront(t *testing.T) {
	saveDir := filepath.Join(t.TempDir(), "out")
	cfg := testConfig(1, 10)
	cfg.SaveDir = saveDir
	trainer := newTestTrainer(t, &scriptedLoss{}, nil, cfg)

	if _, err := trainer.Train(newFakeGenerator(t, 1), nil); err == nil {
		t.Fatal("expected exhausted loss error")
	}
	if info, err := os.Stat(saveDir); err != nil || !info.IsDir() {
		t.Errorf("save dir not created: %v", err)
	}
}

// TestTrainerErrors tests that collaborator failures end the run without a history
func TestTrainerErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("generator", func(t *testing.T) {
		trainer := newTestTrainer(t, &scriptedLoss{values: []float64{1, 1}}, nil, testConfig(2, 1))
		gen := newFakeGenerator(t, 1)
		gen.err = boom
		history, err := trainer.Train(gen, nil)
		if !errors.Is(err, boom) || history != nil {
			t.Errorf("history=%v err=%v", history, err)
		}
	})

	t.Run("validation generator", func(t *testing.T) {
		trainer := newTestTrainer(t, &scriptedLoss{values: []float64{1, 1}}, nil, testConfig(2, 1))
		valid := newFakeGenerator(t, 0)
		if _, err := trainer.Train(newFakeGenerator(t, 1), valid); !errors.Is(err, ErrNoSteps) {
			t.Errorf("expected ErrNoSteps, got %v", err)
		}
	})

	t.Run("sink", func(t *testing.T) {
		trainer := newTestTrainer(t, &scriptedLoss{values: []float64{1}}, failingSink{}, testConfig(1, 1))
		if _, err := trainer.Train(newFakeGenerator(t, 1), nil); err == nil {
			t.Error("expected sink error")
		}
	})

	t.Run("save dir", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		cfg := testConfig(1, 1)
		cfg.SaveDir = filepath.Join(file, "weights")
		trainer := newTestTrainer(t, &scriptedLoss{values: []float64{1}}, nil, cfg)
		if _, err := trainer.Train(newFakeGenerator(t, 1), nil); err == nil {
			t.Error("expected error creating save dir")
		}
	})

	t.Run("missing generator", func(t *testing.T) {
		trainer := newTestTrainer(t, &scriptedLoss{}, nil, testConfig(1, 1))
		if _, err := trainer.Train(nil, nil); err == nil {
			t.Error("expected error")
		}
	})
}

// TestTrainerNonFiniteLoss tests both the permissive default and the halting option
func TestTrainerNonFiniteLoss(t *testing.T) {
	losses := []float64{1, math.NaN(), 0.5}

	permissive := newTestTrainer(t, &scriptedLoss{values: losses}, nil, testConfig(3, 5))
	history, err := permissive.Train(newFakeGenerator(t, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 || !math.IsNaN(history[1]) {
		t.Errorf("history = %v", history)
	}

	cfg := testConfig(3, 5)
	cfg.HaltOnNonFinite = true
	strict := newTestTrainer(t, &scriptedLoss{values: losses}, nil, cfg)
	if _, err := strict.Train(newFakeGenerator(t, 1), nil); !errors.Is(err, ErrNonFiniteLoss) {
		t.Errorf("expected ErrNonFiniteLoss, got %v", err)
	}
}

// TestTrainerProgress tests the per-batch progress display
func TestTrainerProgress(t *testing.T) {
	var out bytes.Buffer
	cfg := testConfig(1, 1)
	cfg.ShowProgress = true
	trainer, err := NewTrainer(newLinearModel(t), &scriptedLoss{values: []float64{1, 1, 1}}, &countingOptimizer{}, nil, cfg,
		WithLogger(quietLogger()), WithProgressOutput(&out))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := trainer.Train(newFakeGenerator(t, 3), nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "epoch 0") || !strings.Contains(out.String(), "3/3") {
		t.Errorf("unexpected progress output %q", out.String())
	}
}

func TestNewTrainerValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumEpochs = 0
	if _, err := NewTrainer(newLinearModel(t), squaredError{}, &countingOptimizer{}, nil, cfg); err == nil {
		t.Error("expected config error")
	}
	if _, err := NewTrainer(nil, squaredError{}, &countingOptimizer{}, nil, DefaultConfig()); err == nil {
		t.Error("expected error for missing model")
	}
}

// TestNewTrainerWarnsOnLearningRateMismatch tests that a config rate the optimizer does not use is reported
func TestNewTrainerWarnsOnLearningRateMismatch(t *testing.T) {
	logger, hook := test.NewNullLogger()

	if _, err := NewTrainer(newLinearModel(t), squaredError{}, NewDefaultAdam(1e-4), nil, DefaultConfig(), WithLogger(logger)); err != nil {
		t.Fatal(err)
	}
	if len(hook.AllEntries()) != 0 {
		t.Errorf("unexpected log entries for matching rates: %v", hook.AllEntries())
	}

	if _, err := NewTrainer(newLinearModel(t), squaredError{}, NewDefaultAdam(0.01), nil, DefaultConfig(), WithLogger(logger)); err != nil {
		t.Fatal(err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning, got %v", entry)
	}
	if entry.Data["optimizer_learning_rate"] != 0.01 || entry.Data["config_learning_rate"] != 1e-4 {
		t.Errorf("warning fields = %v", entry.Data)
	}
}
