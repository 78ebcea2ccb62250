package collector

import (
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// Status tags a lane collection outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the result of collecting one lane for one vendor.
type Outcome struct {
	VendorID string     `json:"vendorId"`
	Lane     model.Lane `json:"lane"`
	Status   Status     `json:"status"`
	Saved    int        `json:"saved"`
	Reason   string     `json:"reason,omitempty"`
	// SeedErrors lists per-seed failures, including on success.
	SeedErrors []string `json:"seedErrors,omitempty"`
	Err        error    `json:"-"`
}

// Success reports saved facts.
func Success(saved int) Outcome {
	return Outcome{Status: StatusSuccess, Saved: saved}
}

// Skipped reports a lane that was not collected.
func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}

// Failed reports a lane that could not be collected.
func Failed(err error) Outcome {
	o := Outcome{Status: StatusFailed, Err: err}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}

// Report aggregates outcomes across vendors and lanes.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Add appends an outcome.
func (r *Report) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Saved returns the total facts saved.
func (r *Report) Saved() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Saved
	}
	return n
}

// Count returns the number of outcomes with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// ForVendor returns the outcomes for one vendor, in insertion order.
func (r *Report) ForVendor(vendorID string) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.VendorID == vendorID {
			out = append(out, o)
		}
	}
	return out
}
