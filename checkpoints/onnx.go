package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto. Only the messages needed to carry weight
// initializers and run metadata are encoded.
const (
	modelIrVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8
	modelMetadataProps   protowire.Number = 14

	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5

	tensorDims      protowire.Number = 1
	tensorDataType  protowire.Number = 2
	tensorFloatData protowire.Number = 4
	tensorName      protowire.Number = 8
	tensorRawData   protowire.Number = 9

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2

	onnxIRVersion = 7
	onnxOpset     = 13
	onnxFloat     = 1 // TensorProto.DataType.FLOAT
)

const (
	metaRunID     = "run_id"
	metaEpoch     = "epoch"
	metaValidLoss = "valid_loss"
	metaCreatedAt = "created_at"
	metaHost      = "host"
)

// encodeONNX builds an ONNX ModelProto whose graph holds one initializer per weight.
func encodeONNX(ckpt *Checkpoint) []byte {
	var graph []byte
	graph = protowire.AppendTag(graph, graphName, protowire.BytesType)
	graph = protowire.AppendString(graph, "go-detect-weights")
	for _, w := range ckpt.Weights {
		graph = protowire.AppendTag(graph, graphInitializer, protowire.BytesType)
		graph = protowire.AppendBytes(graph, encodeTensorProto(w))
	}

	var opset []byte
	opset = protowire.AppendTag(opset, opsetDomain, protowire.BytesType)
	opset = protowire.AppendString(opset, "")
	opset = protowire.AppendTag(opset, opsetVersion, protowire.VarintType)
	opset = protowire.AppendVarint(opset, onnxOpset)

	producer := ckpt.Metadata.Producer
	if producer == "" {
		producer = Producer
	}

	var b []byte
	b = protowire.AppendTag(b, modelIrVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, onnxIRVersion)
	b = protowire.AppendTag(b, modelProducerName, protowire.BytesType)
	b = protowire.AppendString(b, producer)
	b = protowire.AppendTag(b, modelProducerVersion, protowire.BytesType)
	b = protowire.AppendString(b, ProducerVersion)
	b = protowire.AppendTag(b, modelGraph, protowire.BytesType)
	b = protowire.AppendBytes(b, graph)
	b = protowire.AppendTag(b, modelOpsetImport, protowire.BytesType)
	b = protowire.AppendBytes(b, opset)

	meta := ckpt.Metadata
	props := [][2]string{
		{metaRunID, meta.RunID},
		{metaEpoch, strconv.Itoa(meta.Epoch)},
		{metaValidLoss, strconv.FormatFloat(meta.ValidLoss, 'g', -1, 64)},
		{metaCreatedAt, meta.CreatedAt.UTC().Format(time.RFC3339Nano)},
		{metaHost, meta.Host},
	}
	for _, kv := range props {
		var entry []byte
		entry = protowire.AppendTag(entry, entryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, kv[0])
		entry = protowire.AppendTag(entry, entryValue, protowire.BytesType)
		entry = protowire.AppendString(entry, kv[1])
		b = protowire.AppendTag(b, modelMetadataProps, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

// encodeTensorProto stores the values as little-endian raw_data, as ONNX exporters do.
func encodeTensorProto(w WeightTensor) []byte {
	var b []byte
	for _, d := range w.Shape {
		b = protowire.AppendTag(b, tensorDims, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = protowire.AppendTag(b, tensorDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, onnxFloat)
	b = protowire.AppendTag(b, tensorName, protowire.BytesType)
	b = protowire.AppendString(b, w.Name)

	raw := make([]byte, 4*len(w.Data))
	for i, v := range w.Data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	b = protowire.AppendTag(b, tensorRawData, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)
	return b
}

// fieldFunc handles one decoded field; it returns the number of bytes consumed.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walkFields iterates over every field of a message, skipping the ones fn ignores (n == 0).
func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		used, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if used == 0 {
			used = protowire.ConsumeFieldValue(num, typ, b)
			if used < 0 {
				return protowire.ParseError(used)
			}
		}
		b = b[used:]
	}
	return nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func decodeONNX(data []byte) (*Checkpoint, error) {
	ckpt := &Checkpoint{}

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		switch num {
		case modelProducerName:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			ckpt.Metadata.Producer = string(v)
			return n, nil
		case modelGraph:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			weights, err := decodeGraph(v)
			if err != nil {
				return 0, err
			}
			ckpt.Weights = weights
			return n, nil
		case modelMetadataProps:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			if err := decodeMetadataEntry(v, &ckpt.Metadata); err != nil {
				return 0, err
			}
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return ckpt, nil
}

func decodeGraph(data []byte) ([]WeightTensor, error) {
	var weights []WeightTensor
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != graphInitializer || typ != protowire.BytesType {
			return 0, nil
		}
		v, n, err := consumeBytes(b)
		if err != nil {
			return 0, err
		}
		w, err := decodeTensorProto(v)
		if err != nil {
			return 0, err
		}
		weights = append(weights, w)
		return n, nil
	})
	return weights, err
}

func decodeTensorProto(data []byte) (WeightTensor, error) {
	w := WeightTensor{DType: "Float32"}
	var raw []byte
	var floats []float32
	dataType := uint64(onnxFloat)

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == tensorDims && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			w.Shape = append(w.Shape, int(v))
			return n, nil
		case num == tensorDims && typ == protowire.BytesType:
			packed, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				w.Shape = append(w.Shape, int(v))
				packed = packed[m:]
			}
			return n, nil
		case num == tensorDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			dataType = v
			return n, nil
		case num == tensorName && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			w.Name = string(v)
			return n, nil
		case num == tensorRawData && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			raw = v
			return n, nil
		case num == tensorFloatData && typ == protowire.BytesType:
			packed, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				floats = append(floats, math.Float32frombits(v))
				packed = packed[m:]
			}
			return n, nil
		case num == tensorFloatData && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			floats = append(floats, math.Float32frombits(v))
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return w, err
	}

	if dataType != onnxFloat {
		return w, fmt.Errorf("tensor %s: unsupported ONNX data type %d", w.Name, dataType)
	}
	if raw != nil {
		if len(raw)%4 != 0 {
			return w, fmt.Errorf("tensor %s: raw data length %d is not a multiple of 4", w.Name, len(raw))
		}
		floats = make([]float32, len(raw)/4)
		for i := range floats {
			floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	}
	w.Data = floats
	return w, nil
}

func decodeMetadataEntry(data []byte, meta *Metadata) error {
	var key, value string
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType || (num != entryKey && num != entryValue) {
			return 0, nil
		}
		v, n, err := consumeBytes(b)
		if err != nil {
			return 0, err
		}
		if num == entryKey {
			key = string(v)
		} else {
			value = string(v)
		}
		return n, nil
	})
	if err != nil {
		return err
	}

	switch key {
	case metaRunID:
		meta.RunID = value
	case metaHost:
		meta.Host = value
	case metaEpoch:
		epoch, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid epoch metadata %q: %v", value, err)
		}
		meta.Epoch = epoch
	case metaValidLoss:
		loss, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid valid_loss metadata %q: %v", value, err)
		}
		meta.ValidLoss = loss
	case metaCreatedAt:
		ts, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return fmt.Errorf("invalid created_at metadata %q: %v", value, err)
		}
		meta.CreatedAt = ts
	}
	return nil
}
