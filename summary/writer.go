// Package summary records scalar training metrics. Writer produces
// TensorBoard event files; Memory keeps values in process for tests.
package summary

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultTag is the scalar tag written into every event, so that each
// stream directory shows up as one run of the "loss" chart.
const DefaultTag = "loss"

type stream struct {
	path string
	file *os.File
	buf  *bufio.Writer
}

// Writer appends scalar events to one TensorBoard event file per stream,
// laid out as <logDir>/<runID>/<stream>/events.out.tfevents.<unix>.<host>.
// Files are created on the first scalar of a stream.
type Writer struct {
	mu      sync.Mutex
	logDir  string
	runID   string
	tag     string
	host    string
	now     func() time.Time
	streams map[string]*stream
	closed  bool
}

// NewWriter returns a writer rooted at logDir/runID. No files are touched
// until the first scalar arrives.
func NewWriter(logDir, runID string) (*Writer, error) {
	if logDir == "" {
		return nil, fmt.Errorf("log directory must not be empty")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id must not be empty")
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return &Writer{
		logDir:  logDir,
		runID:   runID,
		tag:     DefaultTag,
		host:    host,
		now:     time.Now,
		streams: make(map[string]*stream),
	}, nil
}

// RunDir returns the directory that holds the stream subdirectories.
func (w *Writer) RunDir() string {
	return filepath.Join(w.logDir, w.runID)
}

// Path returns the event file of a stream, or "" if nothing was written to it yet.
func (w *Writer) Path(name string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.streams[name]; ok {
		return s.path
	}
	return ""
}

// AddScalar appends value at step to the named stream and flushes it to disk.
func (w *Writer) AddScalar(name string, value float64, step int) error {
	if name == "" {
		return fmt.Errorf("stream name must not be empty")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("summary writer is closed")
	}

	s, err := w.open(name)
	if err != nil {
		return err
	}

	record := encodeScalarEvent(wallTime(w.now()), int64(step), w.tag, float32(value))
	if err := writeRecord(s.buf, record); err != nil {
		return errors.Wrapf(err, "failed to write %s event", name)
	}
	if err := s.buf.Flush(); err != nil {
		return errors.Wrapf(err, "failed to flush %s events", name)
	}
	return nil
}

func (w *Writer) open(name string) (*stream, error) {
	if s, ok := w.streams[name]; ok {
		return s, nil
	}

	dir := filepath.Join(w.RunDir(), name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory %s", dir)
	}

	now := w.now()
	path := filepath.Join(dir, fmt.Sprintf("events.out.tfevents.%d.%s", now.Unix(), w.host))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create event file for %s", name)
	}

	s := &stream{path: path, file: f, buf: bufio.NewWriter(f)}
	if err := writeRecord(s.buf, encodeFileVersionEvent(wallTime(now))); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to write %s file header", name)
	}
	w.streams[name] = s
	return s, nil
}

// Close flushes and closes every stream file. Further writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	for name, s := range w.streams {
		if err := s.buf.Flush(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to flush %s events", name)
		}
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close %s events", name)
		}
	}
	return firstErr
}

func wallTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
