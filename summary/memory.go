package summary

import (
	"fmt"
	"sort"
	"sync"
)

// Point is one recorded scalar.
type Point struct {
	Step  int
	Value float64
}

// Memory is an in-process metric sink.
type Memory struct {
	mu      sync.Mutex
	streams map[string][]Point
	closed  bool
}

// NewMemory returns an empty sink.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string][]Point)}
}

// AddScalar appends value to the named stream. It fails after Close.
func (m *Memory) AddScalar(name string, value float64, step int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory sink is closed")
	}
	m.streams[name] = append(m.streams[name], Point{Step: step, Value: value})
	return nil
}

// Close marks the sink closed. Recorded values stay readable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Points returns a copy of the values recorded on a stream, in arrival order.
func (m *Memory) Points(name string) []Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Point, len(m.streams[name]))
	copy(out, m.streams[name])
	return out
}

// Values returns only the scalar values of a stream.
func (m *Memory) Values(name string) []float64 {
	points := m.Points(name)
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// Streams lists the stream names that received at least one value.
func (m *Memory) Streams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.streams))
	for name := range m.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
