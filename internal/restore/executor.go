package restore

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/logging"
	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/metrics"
	"github.com/rowjay/restorekit/internal/record"
	"github.com/rowjay/restorekit/internal/target"
)

// SystemFields are maintained by the target and never written.
var SystemFields = []string{
	"CreatedDate", "CreatedById", "LastModifiedDate", "LastModifiedById",
	"SystemModstamp", "IsDeleted", "LastActivityDate", "LastViewedDate",
	"LastReferencedDate", "attributes",
}

// Seeder learns identifiers created during the run.
type Seeder interface {
	Seed(objectType string, rec *record.Record, id string)
}

// Executor writes records in batches with selective retries. One Executor
// serves a whole run; Stop is shared by every object it writes.
type Executor struct {
	writer   target.Writer
	provider meta.Provider
	seeder   Seeder
	metrics  *metrics.Recorder
	log      zerolog.Logger

	stopped atomic.Bool
}

func NewExecutor(writer target.Writer, provider meta.Provider, seeder Seeder, rec *metrics.Recorder, log zerolog.Logger) *Executor {
	return &Executor{
		writer:   writer,
		provider: provider,
		seeder:   seeder,
		metrics:  rec,
		log:      logging.Component(log, "executor"),
	}
}

// Stop makes every object stop before its next batch.
func (e *Executor) Stop() { e.stopped.Store(true) }

func (e *Executor) Stopped() bool { return e.stopped.Load() }

// Execute restores objects in the given order. Objects without records
// are skipped. It returns early with the context error when canceled.
func (e *Executor) Execute(ctx context.Context, order []string, recordsByObject map[string][]*record.Record, opts Options) (map[string]*Result, error) {
	results := map[string]*Result{}
	for _, object := range order {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if e.Stopped() {
			results[object] = &Result{Object: object, Total: len(recordsByObject[object]), Errors: []string{"not attempted: restore stopped after an error"}}
			continue
		}
		records, ok := recordsByObject[object]
		if !ok {
			continue
		}
		res, err := e.ExecuteObject(ctx, object, records, opts)
		results[object] = res
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// ExecuteObject writes one object's records. Write failures are accounted
// in the result; only cancellation is returned as an error.
func (e *Executor) ExecuteObject(ctx context.Context, object string, records []*record.Record, opts Options) (*Result, error) {
	opts = opts.normalized()
	start := time.Now()
	res := &Result{Object: object, Total: len(records)}
	defer func() { res.Duration = time.Since(start) }()
	log := e.log.With().Str("object", object).Logger()

	md := e.describe(ctx, object)
	idField := md.PrimaryKey()
	mode, extField := opts.Mode, opts.ExternalIDField
	if opts.PreserveOriginalIDs && mode == target.Insert {
		mode, extField = target.Upsert, idField
	}
	if mode == target.Upsert && extField == "" {
		if f := opts.UpsertFields[object]; f != "" {
			extField = f
		} else if ext := md.ExternalIDFields(); len(ext) > 0 {
			extField = ext[0]
		} else {
			res.Errors = append(res.Errors, fmt.Sprintf("no external id field found for upsert on %s", object))
			if opts.StopOnError {
				e.Stop()
			}
			return res, nil
		}
	}

	batches := (len(records) + opts.BatchSize - 1) / opts.BatchSize
	for n := 0; n < batches; n++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if e.Stopped() {
			log.Warn().Int("batch", n+1).Msg("stopping before batch")
			return res, nil
		}
		lo := n * opts.BatchSize
		hi := min(lo+opts.BatchSize, len(records))
		chunk := records[lo:hi]

		cleaned := make([]*record.Record, len(chunk))
		for i, rec := range chunk {
			cleaned[i] = clean(rec, idField, mode, opts.PreserveOriginalIDs)
		}
		br, outcomes := e.submit(ctx, object, mode, extField, cleaned, opts)
		res.add(br)
		e.metrics.Batch(object, br.Retries)
		e.metrics.Records(object, "success", br.Success)
		e.metrics.Records(object, "failure", br.Failure)

		if e.seeder != nil {
			for i, o := range outcomes {
				if o.Success() && o.ID != "" {
					e.seeder.Seed(object, chunk[i], o.ID)
				}
			}
		}
		log.Info().Int("batch", n+1).Int("of", batches).Int("success", br.Success).Int("failure", br.Failure).Int("retries", br.Retries).Msg("batch written")

		if !br.IsSuccess() && opts.StopOnError {
			log.Warn().Msg("stopping on error")
			e.Stop()
			return res, nil
		}
	}
	res.Completed = true
	return res, nil
}

func (e *Executor) describe(ctx context.Context, object string) *meta.ObjectMetadata {
	if e.provider != nil {
		md, err := e.provider.Describe(ctx, object)
		if err == nil && md != nil {
			return md
		}
		e.log.Warn().Err(err).Str("object", object).Msg("writing without metadata")
	}
	return &meta.ObjectMetadata{Name: object, IDField: meta.DefaultIDField}
}

// submit writes one batch, resubmitting only records whose failure is
// transient. Every record ends with exactly one final outcome.
func (e *Executor) submit(ctx context.Context, object string, mode target.Mode, extField string, records []*record.Record, opts Options) (BatchResult, []target.Outcome) {
	final := make([]target.Outcome, len(records))
	pending := make([]int, len(records))
	for i := range pending {
		pending[i] = i
	}
	br := BatchResult{Submitted: len(records)}

	for attempt := 0; len(pending) > 0; attempt++ {
		batch := make([]*record.Record, len(pending))
		for j, i := range pending {
			batch[j] = records[i]
		}
		// A batch already handed to the target runs to completion.
		outcomes, err := e.writer.SubmitBatch(context.WithoutCancel(ctx), object, mode, extField, batch)

		var retry []int
		if err != nil {
			for _, i := range pending {
				final[i] = target.Outcome{Err: "batch submission failed: " + err.Error()}
			}
			if IsRetryableError(err) {
				retry = pending
			}
		} else {
			for j, i := range pending {
				if j >= len(outcomes) {
					final[i] = target.Outcome{Err: "no result returned for record"}
					continue
				}
				final[i] = outcomes[j]
				if !outcomes[j].Success() && IsRetryable(outcomes[j].Err) {
					retry = append(retry, i)
				}
			}
		}

		if len(retry) == 0 || attempt >= opts.MaxRetries {
			break
		}
		delay := opts.RetryDelay * time.Duration(attempt+1)
		e.log.Debug().Str("object", object).Int("records", len(retry)).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying transient failures")
		if !sleep(ctx, delay) {
			break
		}
		br.Retries++
		pending = retry
	}

	for i, o := range final {
		if o.Success() {
			br.Success++
			if o.ID != "" {
				br.CreatedIDs = append(br.CreatedIDs, o.ID)
			}
			continue
		}
		br.Failure++
		br.Errors = append(br.Errors, RecordError{Index: i, Message: o.Err, Category: Categorize(o.Err)})
	}
	return br, final
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// clean drops what the target maintains or cannot take: system fields,
// reference scaffolding, null values and, on insert, the id field.
func clean(rec *record.Record, idField string, mode target.Mode, preserveIDs bool) *record.Record {
	out := record.New()
	for _, k := range rec.Keys() {
		if isSystemField(k) || record.IsScaffold(k) {
			continue
		}
		if mode == target.Insert && !preserveIDs && strings.EqualFold(k, idField) {
			continue
		}
		v, _ := rec.Get(k)
		if v.Blank() || v.S == "null" {
			continue
		}
		out.Set(k, v)
	}
	return out
}

func isSystemField(name string) bool {
	for _, f := range SystemFields {
		if f == name {
			return true
		}
	}
	return false
}
