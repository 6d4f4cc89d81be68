// Package detector implements the anomaly detectors and the composite that merges them.
//
// Detectors never panic or return bare errors to the pipeline: every call yields a
// Result, and the Composite consumes Result.Err as "use the fallback".
package detector

import (
	"errors"

	"owl-vitals/internal/models"
	"owl-vitals/internal/nn"
)

var (
	ErrNotTrained          = errors.New("detector not trained")
	ErrInsufficientHistory = errors.New("insufficient history for training")
	ErrShapeMismatch       = nn.ErrShapeMismatch
)

// State training state of a statistical detector
type State int

const (
	StateUntrained State = iota
	StateTrained
)

func (s State) String() string {
	if s == StateTrained {
		return "trained"
	}
	return "untrained"
}

// Result verdict or error from one detection call
type Result struct {
	Verdict *models.AnomalyVerdict
	Err     error
}

func verdictResult(v *models.AnomalyVerdict) Result { return Result{Verdict: v} }

func errorResult(err error) Result { return Result{Err: err} }

// Detector per-signal anomaly detection on a single reading
type Detector interface {
	Name() string
	Detect(r *models.VitalReading) Result
}

// Trainable detector with an explicit UNTRAINED -> TRAINED transition
type Trainable interface {
	Detector
	Train(h *models.HistorySnapshot) error
	State() State
	// MinSamples history length that must be exceeded before training
	MinSamples() int
}
