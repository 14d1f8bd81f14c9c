package checkpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-detect/tensor"
)

// Producer is written into every artifact's metadata.
const (
	Producer        = "go-detect"
	ProducerVersion = "1.0.0"
)

// Format defines the serialization format
type Format int

const (
	FormatONNX Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatONNX:
		return "ONNX"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension used for the format, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	default:
		return ".onnx"
	}
}

// ParseFormat maps a user-facing name ("onnx", "json") to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "onnx":
		return FormatONNX, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatONNX, fmt.Errorf("unknown checkpoint format %q", name)
	}
}

// Checkpoint is a snapshot of every trainable parameter plus run metadata.
type Checkpoint struct {
	Weights  []WeightTensor `json:"weights"`
	Metadata Metadata       `json:"metadata"`
}

// WeightTensor is one parameter stored under its positional name ("weight0", "weight1", ...).
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	DType string    `json:"dtype"`
	Data  []float32 `json:"data"`
}

// Metadata describes when and why the snapshot was taken.
type Metadata struct {
	RunID     string    `json:"run_id"`
	Epoch     int       `json:"epoch"`
	ValidLoss float64   `json:"valid_loss"`
	CreatedAt time.Time `json:"created_at"`
	Producer  string    `json:"producer"`
	Host      string    `json:"host,omitempty"`
}

// MarshalJSON writes valid_loss as a string so non-finite losses survive encoding.
func (m Metadata) MarshalJSON() ([]byte, error) {
	type alias Metadata
	return json.Marshal(struct {
		alias
		ValidLoss string `json:"valid_loss"`
	}{alias(m), strconv.FormatFloat(m.ValidLoss, 'g', -1, 64)})
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	type alias Metadata
	aux := struct {
		*alias
		ValidLoss string `json:"valid_loss"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ValidLoss == "" {
		return nil
	}
	loss, err := strconv.ParseFloat(aux.ValidLoss, 64)
	if err != nil {
		return fmt.Errorf("invalid valid_loss %q: %v", aux.ValidLoss, err)
	}
	m.ValidLoss = loss
	return nil
}

// WeightName returns the stable positional name of parameter i.
func WeightName(i int) string {
	return fmt.Sprintf("weight%d", i)
}

// FromTensors copies parameter values into a checkpoint, naming them by position.
func FromTensors(weights []*tensor.Tensor, meta Metadata) *Checkpoint {
	ckpt := &Checkpoint{
		Weights:  make([]WeightTensor, len(weights)),
		Metadata: meta,
	}
	if ckpt.Metadata.Producer == "" {
		ckpt.Metadata.Producer = Producer
	}
	for i, w := range weights {
		shape := make([]int, len(w.Shape))
		copy(shape, w.Shape)
		data := make([]float32, len(w.Data))
		copy(data, w.Data)
		ckpt.Weights[i] = WeightTensor{
			Name:  WeightName(i),
			Shape: shape,
			DType: w.DType.String(),
			Data:  data,
		}
	}
	return ckpt
}

// Tensors rebuilds the parameter tensors in positional order.
func (c *Checkpoint) Tensors() ([]*tensor.Tensor, error) {
	result := make([]*tensor.Tensor, len(c.Weights))
	for i, w := range c.Weights {
		t, err := tensor.New(w.Shape, w.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "weight %s", w.Name)
		}
		result[i] = t
	}
	return result, nil
}

// EnsureDir creates the checkpoint directory tree if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
	}
	return nil
}

// Save writes the checkpoint to path, replacing any previous artifact.
// The bytes go to a temporary file in the same directory first and are
// renamed into place, so a failed write leaves the old artifact intact.
func Save(path string, ckpt *Checkpoint, format Format) error {
	var data []byte
	var err error

	switch format {
	case FormatONNX:
		data = encodeONNX(ckpt)
	case FormatJSON:
		data, err = json.MarshalIndent(ckpt, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode checkpoint")
		}
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", format)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to set checkpoint permissions")
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to write checkpoint")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to close checkpoint")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to move checkpoint into %s", path)
	}
	return nil
}

// Load reads a checkpoint written by Save in either format.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint")
	}

	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		var ckpt Checkpoint
		if err := json.Unmarshal(data, &ckpt); err != nil {
			return nil, errors.Wrap(err, "failed to decode checkpoint")
		}
		return &ckpt, nil
	}

	ckpt, err := decodeONNX(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode ONNX checkpoint")
	}
	return ckpt, nil
}
