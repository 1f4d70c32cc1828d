package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rowjay/restorekit/internal/resolve"
	"github.com/rowjay/restorekit/internal/transform"
)

const (
	recordsPerSecond = 50
	minSeconds       = 5
	maxSeconds       = 7200

	largeDataset     = 100_000
	mediumDataset    = 50_000
	largeFile        = 50 << 20
	hugeFile         = 500 << 20
	highAPICalls     = 5000
	largeRestoreSize = 100_000
)

// ObjectPreview estimates the restore of one object without writing it.
type ObjectPreview struct {
	Object       string   `json:"object"`
	Records      int      `json:"records"`
	SizeBytes    int64    `json:"size_bytes"`
	ToSubmit     int      `json:"to_submit"`
	Skipped      int      `json:"skipped"`
	Batches      int      `json:"batches"`
	APICalls     int      `json:"api_calls"`
	Seconds      int      `json:"seconds"`
	Dependencies []string `json:"dependencies,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// Preview is a dry run: ordering, validation, resolution and transformation
// happen, nothing is submitted.
type Preview struct {
	RunID        string               `json:"run_id"`
	Order        []string             `json:"order"`
	Waves        [][]string           `json:"waves"`
	Cycles       [][]string           `json:"cycles,omitempty"`
	Objects      []*ObjectPreview     `json:"objects"`
	TotalRecords int                  `json:"total_records"`
	TotalBytes   int64                `json:"total_bytes"`
	APICalls     int                  `json:"api_calls"`
	Minutes      int                  `json:"minutes"`
	Warnings     []string             `json:"warnings,omitempty"`
	Transform    transform.Statistics `json:"transform"`
	Lookups      resolve.Stats        `json:"lookups"`
}

// EstimateAPICalls is one call to open the job, one per batch and one to
// collect results. No records means no calls.
func EstimateAPICalls(records, batchSize int) int {
	if records <= 0 {
		return 0
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return 1 + (records+batchSize-1)/batchSize + 1
}

// EstimateSeconds assumes 50 records per second, bounded to [5s, 2h].
func EstimateSeconds(records int) int {
	if records <= 0 {
		return 0
	}
	return min(max(records/recordsPerSecond, minSeconds), maxSeconds)
}

// plan is the estimate attached to an object result in a dry run.
func plan(object string, res *Result, toSubmit, batchSize int) *ObjectPreview {
	op := &ObjectPreview{Object: object, Records: res.Total, Skipped: res.Skipped}
	op.estimate(toSubmit, batchSize)
	return op
}

func (op *ObjectPreview) estimate(toSubmit, batchSize int) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	op.ToSubmit = toSubmit
	op.Batches = (toSubmit + batchSize - 1) / batchSize
	op.APICalls = EstimateAPICalls(toSubmit, batchSize)
	op.Seconds = EstimateSeconds(toSubmit)
}

func (p *Pipeline) Preview(ctx context.Context, objects []string, src Source, opts Options) (*Preview, error) {
	opts = opts.normalized()
	opts.DryRun = true
	principal := p.runningPrincipal(ctx)
	pv := &Preview{RunID: p.runID}

	pv.Waves = p.orderer.Waves(ctx, objects)
	for _, w := range pv.Waves {
		pv.Order = append(pv.Order, w...)
	}
	pv.Cycles = p.orderer.Cycles(ctx, objects)
	for _, c := range pv.Cycles {
		pv.Warnings = append(pv.Warnings, fmt.Sprintf("circular dependency between %s: order inside the cycle is not guaranteed", strings.Join(c, ", ")))
	}
	deps := p.orderer.Dependencies(ctx, objects)
	sizer, _ := src.(Sizer)

	seconds := 0
	for _, object := range pv.Order {
		if err := ctx.Err(); err != nil {
			return pv, err
		}
		op := &ObjectPreview{Object: object, Dependencies: deps[object]}
		if sizer != nil {
			op.SizeBytes = sizer.Size(object)
		}
		res := &Result{Object: object}
		prepared, vr, err := p.prepare(ctx, object, src, opts, principal, res)
		var fe *transform.FailError
		switch {
		case errors.As(err, &fe):
			op.Errors = append(op.Errors, "restore would abort: "+fe.Error())
		case err != nil:
			return pv, err
		default:
			op.Errors = append(op.Errors, res.Errors...)
		}
		if vr != nil {
			op.Errors = append(op.Errors, vr.Errors...)
			op.Warnings = append(op.Warnings, vr.Warnings...)
		}
		op.Records, op.Skipped = res.Total, res.Skipped
		op.estimate(len(prepared), opts.BatchSize)
		op.Warnings = append(op.Warnings, sizeWarnings(op.Records, op.SizeBytes)...)

		pv.Objects = append(pv.Objects, op)
		pv.TotalRecords += op.Records
		pv.TotalBytes += op.SizeBytes
		pv.APICalls += op.APICalls
		seconds += op.Seconds
	}
	pv.Minutes = (seconds + 59) / 60

	if pv.TotalRecords > largeRestoreSize {
		pv.Warnings = append(pv.Warnings, fmt.Sprintf("large restore: %s records may take several hours", humanize.Comma(int64(pv.TotalRecords))))
	}
	if pv.APICalls > highAPICalls {
		pv.Warnings = append(pv.Warnings, fmt.Sprintf("high API usage: %s calls, check the target's limits", humanize.Comma(int64(pv.APICalls))))
	}
	if pv.TotalBytes > hugeFile {
		pv.Warnings = append(pv.Warnings, fmt.Sprintf("very large data size: %s, ensure sufficient memory", humanize.IBytes(uint64(pv.TotalBytes))))
	}
	pv.Transform = p.transformer.Statistics()
	pv.Lookups = p.resolver.Stats()
	return pv, nil
}

func sizeWarnings(records int, size int64) []string {
	var out []string
	switch {
	case records > largeDataset:
		out = append(out, fmt.Sprintf("large dataset: %s records may take a long time", humanize.Comma(int64(records))))
	case records > mediumDataset:
		out = append(out, fmt.Sprintf("medium dataset: %s records, allow extra time", humanize.Comma(int64(records))))
	case records == 0:
		out = append(out, "no records found, verify the backup")
	}
	switch {
	case size > hugeFile:
		out = append(out, fmt.Sprintf("very large file: %s may require additional memory", humanize.IBytes(uint64(size))))
	case size > largeFile:
		out = append(out, fmt.Sprintf("large file: %s, processing may be slower", humanize.IBytes(uint64(size))))
	}
	return out
}

// WriteText prints the preview for people.
func (pv *Preview) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Restore preview %s\n", pv.RunID)
	fmt.Fprintf(&b, "  order: %s\n", strings.Join(pv.Order, " -> "))
	fmt.Fprintf(&b, "  %s records, %s, ~%d API calls, ~%d min\n",
		humanize.Comma(int64(pv.TotalRecords)), humanize.IBytes(uint64(pv.TotalBytes)), pv.APICalls, pv.Minutes)
	for _, o := range pv.Objects {
		fmt.Fprintf(&b, "  %-30s %8s records  %4d batches  %s skipped\n", o.Object, humanize.Comma(int64(o.Records)), o.Batches, humanize.Comma(int64(o.Skipped)))
		for _, e := range o.Errors {
			fmt.Fprintf(&b, "      error: %s\n", e)
		}
		for _, wn := range o.Warnings {
			fmt.Fprintf(&b, "      warning: %s\n", wn)
		}
	}
	for _, wn := range pv.Warnings {
		fmt.Fprintf(&b, "  warning: %s\n", wn)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
