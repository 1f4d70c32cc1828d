package restore

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rowjay/restorekit/internal/resolve"
	"github.com/rowjay/restorekit/internal/transform"
	"github.com/rowjay/restorekit/internal/validate"
)

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	// StatusDryRun marks a run that wrote nothing. It is never a success.
	StatusDryRun = "dry_run"
)

// Report is the outcome of one Pipeline.Run.
type Report struct {
	RunID      string               `json:"run_id"`
	DryRun     bool                 `json:"dry_run"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Order      []string             `json:"order"`
	Waves      [][]string           `json:"waves"`
	Objects    []*Result            `json:"objects"`
	Validation []*validate.Report   `json:"validation,omitempty"`
	Transform  transform.Statistics `json:"transform"`
	Lookups    resolve.Stats        `json:"lookups"`
	Error      string               `json:"error,omitempty"`
}

type Totals struct {
	Objects   int `json:"objects"`
	Records   int `json:"records"`
	Submitted int `json:"submitted"`
	Success   int `json:"success"`
	Failure   int `json:"failure"`
	Skipped   int `json:"skipped"`
	Retries   int `json:"retries"`
}

func newReport(runID string, dryRun bool) *Report {
	return &Report{RunID: runID, DryRun: dryRun, StartedAt: time.Now().UTC()}
}

func (r *Report) finish(err error) {
	r.FinishedAt = time.Now().UTC()
	if err != nil {
		r.Error = err.Error()
	}
}

func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

func (r *Report) Totals() Totals {
	t := Totals{Objects: len(r.Objects)}
	for _, o := range r.Objects {
		t.Records += o.Total
		t.Submitted += o.Submitted()
		t.Success += o.Success()
		t.Failure += o.Failure()
		t.Skipped += o.Skipped
		t.Retries += o.Retries()
	}
	return t
}

// Status is failed when the run aborted or nothing was written but records
// failed, dry_run for a completed dry run, partial when anything failed or
// was left out, success otherwise.
func (r *Report) Status() string {
	t := r.Totals()
	if r.Error != "" || (t.Success == 0 && t.Failure > 0) {
		return StatusFailed
	}
	if r.DryRun {
		return StatusDryRun
	}
	for _, o := range r.Objects {
		if !o.IsSuccess() {
			return StatusPartial
		}
	}
	return StatusSuccess
}

func (r *Report) Result(object string) *Result {
	for _, o := range r.Objects {
		if o.Object == object {
			return o
		}
	}
	return nil
}

func (r *Report) MarshalJSON() ([]byte, error) {
	type plain Report
	return json.Marshal(struct {
		*plain
		Status string `json:"status"`
		Totals Totals `json:"totals"`
	}{(*plain)(r), r.Status(), r.Totals()})
}

// maxSampleErrors bounds the per-object failure samples in text output.
const maxSampleErrors = 10

// WriteText prints a human readable summary.
func (r *Report) WriteText(w io.Writer) error {
	t := r.Totals()
	var b strings.Builder
	kind := "Restore"
	if r.DryRun {
		kind = "Dry run"
	}
	fmt.Fprintf(&b, "%s %s: %s in %s\n", kind, r.RunID, r.Status(), r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "  records: %s loaded, %s written, %s failed, %s skipped, %s retries\n",
		humanize.Comma(int64(t.Records)), humanize.Comma(int64(t.Success)), humanize.Comma(int64(t.Failure)),
		humanize.Comma(int64(t.Skipped)), humanize.Comma(int64(t.Retries)))
	fmt.Fprintf(&b, "  lookups: %d resolved, %d unresolved, %d failed\n", r.Lookups.Resolved, r.Lookups.Unresolved, r.Lookups.Failures)
	for _, o := range r.Objects {
		state := "ok"
		if o.Planned != nil {
			fmt.Fprintf(&b, "  %-30s %-10s %8s to submit, %d batches, ~%ds\n", o.Object, "planned",
				humanize.Comma(int64(o.Planned.ToSubmit)), o.Planned.Batches, o.Planned.Seconds)
			continue
		}
		if !o.IsSuccess() {
			state = "incomplete"
			if o.Completed {
				state = "errors"
			}
		}
		fmt.Fprintf(&b, "  %-30s %-10s %8s/%-8s failed %-6d skipped %d\n", o.Object, state,
			humanize.Comma(int64(o.Success())), humanize.Comma(int64(o.Total)), o.Failure(), o.Skipped)
		summary := o.ErrorSummary()
		cats := make([]string, 0, len(summary))
		for c := range summary {
			cats = append(cats, c)
		}
		sort.Slice(cats, func(i, j int) bool {
			if summary[cats[i]] != summary[cats[j]] {
				return summary[cats[i]] > summary[cats[j]]
			}
			return cats[i] < cats[j]
		})
		for _, c := range cats {
			fmt.Fprintf(&b, "      %s (%d records)\n", c, summary[c])
		}
		for i, e := range o.Errors {
			if i == maxSampleErrors {
				fmt.Fprintf(&b, "      ... and %d more\n", len(o.Errors)-maxSampleErrors)
				break
			}
			fmt.Fprintf(&b, "      %s\n", e)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "  aborted: %s\n", r.Error)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
