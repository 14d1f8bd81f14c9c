package training

import "errors"

var (
	// ErrNoSteps is returned when a generator reports no batches per epoch.
	ErrNoSteps = errors.New("generator reports no steps per epoch")
	// ErrNonFiniteLoss is returned for a NaN or infinite epoch loss when
	// Config.HaltOnNonFinite is set.
	ErrNonFiniteLoss = errors.New("non-finite loss")
)
