package training

import "math"

// EarlyStopping watches a loss that should decrease and reports when it has
// failed to improve for more than Patience consecutive updates.
type EarlyStopping struct {
	patience int
	best     float64
	counter  int
	stopped  bool
}

// NewEarlyStopping returns a monitor with best = +Inf and a zero counter.
func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{
		patience: patience,
		best:     math.Inf(1),
	}
}

// Step records value and returns true once the counter exceeds patience.
// A strictly smaller value resets the counter. NaN never counts as an
// improvement.
func (es *EarlyStopping) Step(value float64) bool {
	if es.stopped {
		return true
	}
	if value < es.best {
		es.best = value
		es.counter = 0
		return false
	}
	es.counter++
	if es.counter > es.patience {
		es.stopped = true
	}
	return es.stopped
}

// Best returns the lowest value seen so far.
func (es *EarlyStopping) Best() float64 { return es.best }

// Counter returns the number of consecutive updates without improvement.
func (es *EarlyStopping) Counter() int { return es.counter }

// Patience returns the configured limit.
func (es *EarlyStopping) Patience() int { return es.patience }

// Stopped reports whether Step has signalled a stop.
func (es *EarlyStopping) Stopped() bool { return es.stopped }
