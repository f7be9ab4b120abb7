package core

import (
	"errors"
	"fmt"
)

var (
	// ErrEccentricity indicates a mean eccentricity outside [0, 1).
	ErrEccentricity = errors.New("mean eccentricity out of range")
	// ErrMeanMotion indicates a non-positive mean motion.
	ErrMeanMotion = errors.New("mean motion is not positive")
	// ErrPerturbedEccentricity indicates the lunar-solar perturbed
	// eccentricity left [0, 1].
	ErrPerturbedEccentricity = errors.New("perturbed eccentricity out of range")
	// ErrSemiLatusRectum indicates a negative semi-latus rectum.
	ErrSemiLatusRectum = errors.New("semi-latus rectum is negative")
	// ErrDecayed indicates the propagated radius fell below one earth radius.
	ErrDecayed = errors.New("orbit has decayed")
	// ErrHorizon indicates the target time is beyond the model's validity
	// horizon relative to the element epoch.
	ErrHorizon = errors.New("propagation horizon exceeded")
	// ErrDegenerateVector indicates a zero, NaN or infinite position.
	ErrDegenerateVector = errors.New("degenerate position vector")
	// ErrInvalidWindow indicates a prediction window that cannot be sampled.
	ErrInvalidWindow = errors.New("invalid prediction window")
)

// PropagationError reports a propagation failure for one object. Code
// follows the numbering of the reference SGP4 implementation (1 mean
// eccentricity, 2 mean motion, 3 perturbed eccentricity, 4 semi-latus
// rectum, 6 decay) with 7 used for the validity horizon.
type PropagationError struct {
	Name    string
	Minutes float64 // minutes since epoch
	Code    int
	Err     error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("propagate %q at %+.3f min (code %d): %v", e.Name, e.Minutes, e.Code, e.Err)
}

func (e *PropagationError) Unwrap() error { return e.Err }

// TransformError reports a failed inertial to geodetic conversion.
type TransformError struct {
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("geodetic transform: %v", e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

var errCodes = map[error]int{
	ErrEccentricity:          1,
	ErrMeanMotion:            2,
	ErrPerturbedEccentricity: 3,
	ErrSemiLatusRectum:       4,
	ErrDecayed:               6,
	ErrHorizon:               7,
}

func propagationErr(name string, minutes float64, cause error) *PropagationError {
	return &PropagationError{Name: name, Minutes: minutes, Code: errCodes[cause], Err: cause}
}
