package pipeline

import (
	"time"

	"github.com/drblury/fluxbridge/sink"
)

// Status is the per-rule result of one pass.
type Status string

const (
	StatusProduced         Status = "produced"
	StatusNotFound         Status = "not_found"
	StatusEvaluationFailed Status = "evaluation_failed"
)

// Outcome records what one rule did with one payload.
type Outcome struct {
	Rule   string
	Status Status
	// Extracted is the value selected by the path, before transformation.
	Extracted float64
	// Value is the transformed value written to the point.
	Value float64
	Err   error
}

// Report summarises one pass over a payload.
type Report struct {
	ID         string
	StartedAt  time.Time
	Outcomes   []Outcome
	Points     sink.Batch
	Dispatched bool
	Duration   time.Duration
	// Failure is the payload level failure of this pass, if any. It is set
	// whether the policy recovered from it or not.
	Failure error
}

// Count returns how many outcomes have status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}
