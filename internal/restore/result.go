package restore

import "time"

// RecordError is a record that still failed after retries. Index is the
// record's position within its batch.
type RecordError struct {
	Index    int    `json:"index"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

// BatchResult accounts for one submitted batch. Success+Failure == Submitted.
type BatchResult struct {
	Submitted  int           `json:"submitted"`
	Success    int           `json:"success"`
	Failure    int           `json:"failure"`
	Errors     []RecordError `json:"errors,omitempty"`
	CreatedIDs []string      `json:"created_ids,omitempty"`
	Retries    int           `json:"retries"`
}

func (b BatchResult) IsSuccess() bool { return b.Failure == 0 }

// Result aggregates the batches written for one object.
type Result struct {
	Object    string        `json:"object"`
	Batches   []BatchResult `json:"batches,omitempty"`
	Total     int           `json:"total"`
	Skipped   int           `json:"skipped"`
	Completed bool          `json:"completed"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
	// Planned holds the estimate of a dry run in place of batches.
	Planned *ObjectPreview `json:"planned,omitempty"`
}

func (r *Result) add(b BatchResult) { r.Batches = append(r.Batches, b) }

func (r *Result) Submitted() int {
	n := 0
	for _, b := range r.Batches {
		n += b.Submitted
	}
	return n
}

func (r *Result) Success() int {
	n := 0
	for _, b := range r.Batches {
		n += b.Success
	}
	return n
}

func (r *Result) Failure() int {
	n := 0
	for _, b := range r.Batches {
		n += b.Failure
	}
	return n
}

func (r *Result) Retries() int {
	n := 0
	for _, b := range r.Batches {
		n += b.Retries
	}
	return n
}

func (r *Result) CreatedIDs() []string {
	var ids []string
	for _, b := range r.Batches {
		ids = append(ids, b.CreatedIDs...)
	}
	return ids
}

// IsSuccess is true when the object completed without failed records or errors.
func (r *Result) IsSuccess() bool {
	return r.Completed && r.Failure() == 0 && len(r.Errors) == 0
}

// ErrorSummary counts failed records per category.
func (r *Result) ErrorSummary() map[string]int {
	out := map[string]int{}
	for _, b := range r.Batches {
		for _, e := range b.Errors {
			out[e.Category]++
		}
	}
	return out
}
