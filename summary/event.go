package summary

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from tensorflow/core/util/event.proto and summary.proto.
const (
	eventWallTime    protowire.Number = 1
	eventStep        protowire.Number = 2
	eventFileVersion protowire.Number = 3
	eventSummary     protowire.Number = 5

	summaryValue protowire.Number = 1

	valueTag         protowire.Number = 1
	valueSimpleValue protowire.Number = 2
)

// FileVersion is the marker TensorBoard expects in the first record of every event file.
const FileVersion = "brain.Event:2"

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Event is a decoded scalar event record.
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Tag         string
	Value       float32
}

func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, crcTable)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

func encodeFileVersionEvent(wallTime float64) []byte {
	var b []byte
	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(wallTime))
	b = protowire.AppendTag(b, eventFileVersion, protowire.BytesType)
	b = protowire.AppendString(b, FileVersion)
	return b
}

func encodeScalarEvent(wallTime float64, step int64, tag string, value float32) []byte {
	var val []byte
	val = protowire.AppendTag(val, valueTag, protowire.BytesType)
	val = protowire.AppendString(val, tag)
	val = protowire.AppendTag(val, valueSimpleValue, protowire.Fixed32Type)
	val = protowire.AppendFixed32(val, math.Float32bits(value))

	var sum []byte
	sum = protowire.AppendTag(sum, summaryValue, protowire.BytesType)
	sum = protowire.AppendBytes(sum, val)

	var b []byte
	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(wallTime))
	b = protowire.AppendTag(b, eventStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(step))
	b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
	b = protowire.AppendBytes(b, sum)
	return b
}

// writeRecord frames data as a TFRecord: length, masked crc of length, data, masked crc of data.
func writeRecord(w io.Writer, data []byte) error {
	header := make([]byte, 12)
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:12], maskedCRC(header[0:8]))

	footer := make([]byte, 4)
	binary.LittleEndian.PutUint32(footer, maskedCRC(data))

	for _, chunk := range [][]byte{header, data, footer} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func readRecord(r io.Reader) ([]byte, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(header[8:12]) != maskedCRC(header[0:8]) {
		return nil, fmt.Errorf("record length checksum mismatch")
	}
	length := binary.LittleEndian.Uint64(header[0:8])

	data := make([]byte, length+4)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "truncated record")
	}
	payload := data[:length]
	if binary.LittleEndian.Uint32(data[length:]) != maskedCRC(payload) {
		return nil, fmt.Errorf("record data checksum mismatch")
	}
	return payload, nil
}

// ReadEvents decodes every record of a TensorBoard event file.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open event file")
	}
	defer f.Close()

	var events []Event
	r := bufio.NewReader(f)
	for {
		payload, err := readRecord(r)
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", len(events))
		}
		ev, err := decodeEvent(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", len(events))
		}
		events = append(events, ev)
	}
}

func decodeEvent(b []byte) (Event, error) {
	var ev Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ev, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return ev, protowire.ParseError(m)
			}
			ev.WallTime = math.Float64frombits(v)
			n = m
		case num == eventStep && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return ev, protowire.ParseError(m)
			}
			ev.Step = int64(v)
			n = m
		case num == eventFileVersion && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return ev, protowire.ParseError(m)
			}
			ev.FileVersion = string(v)
			n = m
		case num == eventSummary && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return ev, protowire.ParseError(m)
			}
			if err := decodeSummary(v, &ev); err != nil {
				return ev, err
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ev, protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return ev, nil
}

// decodeSummary keeps the first simple value, which is all this package writes.
func decodeSummary(b []byte, ev *Event) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if num == summaryValue && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if ev.Tag == "" {
				if err := decodeValue(v, ev); err != nil {
					return err
				}
			}
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func decodeValue(b []byte, ev *Event) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == valueTag && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			ev.Tag = string(v)
			n = m
		case num == valueSimpleValue && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			ev.Value = math.Float32frombits(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return nil
}
