package restore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/record"
	"github.com/rowjay/restorekit/internal/resolve"
	"github.com/rowjay/restorekit/internal/target"
)

type submission struct {
	object  string
	mode    target.Mode
	ext     string
	records []*record.Record
}

// scriptedWriter answers each call with respond; by default every record succeeds.
type scriptedWriter struct {
	mu      sync.Mutex
	calls   []submission
	respond func(call int, recs []*record.Record) ([]target.Outcome, error)
	next    int
}

func (w *scriptedWriter) SubmitBatch(_ context.Context, object string, mode target.Mode, ext string, recs []*record.Record) ([]target.Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	call := len(w.calls)
	w.calls = append(w.calls, submission{object, mode, ext, recs})
	if w.respond != nil {
		return w.respond(call, recs)
	}
	out := make([]target.Outcome, len(recs))
	for i := range recs {
		w.next++
		out[i] = target.Outcome{ID: fmt.Sprintf("new-%d", w.next)}
	}
	return out, nil
}

func (w *scriptedWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func testOptions() Options {
	o := DefaultOptions()
	o.RetryDelay = 0
	return o
}

func names(n int) []*record.Record {
	out := make([]*record.Record, n)
	for i := range out {
		out[i] = record.FromPairs("Id", fmt.Sprintf("old-%d", i), "Name", fmt.Sprintf("Account %d", i))
	}
	return out
}

func TestExecuteObjectBatches(t *testing.T) {
	w := &scriptedWriter{}
	ex := NewExecutor(w, nil, nil, nil, zerolog.Nop())
	opts := testOptions()
	opts.BatchSize = 2

	res, err := ex.ExecuteObject(context.Background(), "Account", names(5), opts)
	require.NoError(t, err)

	assert.Equal(t, 3, w.callCount())
	assert.Len(t, res.Batches, 3)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 5, res.Submitted())
	assert.Equal(t, 5, res.Success())
	assert.Zero(t, res.Failure())
	assert.Len(t, res.CreatedIDs(), 5)
	assert.True(t, res.Completed)
	assert.True(t, res.IsSuccess())

	// the original id is not sent on insert
	assert.False(t, w.calls[0].records[0].Has("Id"))
	assert.Equal(t, target.Insert, w.calls[0].mode)
}

func TestSubmitRetriesOnlyTransientFailures(t *testing.T) {
	w := &scriptedWriter{respond: func(call int, recs []*record.Record) ([]target.Outcome, error) {
		if call == 0 {
			return []target.Outcome{
				{ID: "a"},
				{Err: "UNABLE_TO_LOCK_ROW: unable to obtain exclusive access"},
				{Err: "REQUIRED_FIELD_MISSING: Name"},
			}, nil
		}
		out := make([]target.Outcome, len(recs))
		for i := range recs {
			out[i] = target.Outcome{ID: "b"}
		}
		return out, nil
	}}
	ex := NewExecutor(w, nil, nil, nil, zerolog.Nop())

	res, err := ex.ExecuteObject(context.Background(), "Account", names(3), testOptions())
	require.NoError(t, err)

	require.Equal(t, 2, w.callCount())
	require.Len(t, w.calls[1].records, 1)
	assert.Equal(t, "Account 1", w.calls[1].records[0].Str("Name"))

	b := res.Batches[0]
	assert.Equal(t, 3, b.Submitted)
	assert.Equal(t, 2, b.Success)
	assert.Equal(t, 1, b.Failure)
	assert.Equal(t, 1, b.Retries)
	assert.Equal(t, []string{"a", "b"}, b.CreatedIDs)
	require.Len(t, b.Errors, 1)
	assert.Equal(t, 2, b.Errors[0].Index)
	assert.Equal(t, "Required field missing", b.Errors[0].Category)
	assert.Equal(t, map[string]int{"Required field missing": 1}, res.ErrorSummary())
}

func TestSubmitGivesUpAfterMaxRetries(t *testing.T) {
	w := &scriptedWriter{respond: func(_ int, recs []*record.Record) ([]target.Outcome, error) {
		out := make([]target.Outcome, len(recs))
		for i := range recs {
			out[i] = target.Outcome{Err: "UNABLE_TO_LOCK_ROW"}
		}
		return out, nil
	}}
	ex := NewExecutor(w, nil, nil, nil, zerolog.Nop())
	opts := testOptions()
	opts.MaxRetries = 2

	res, err := ex.ExecuteObject(context.Background(), "Account", names(1), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, w.callCount())
	assert.Equal(t, 2, res.Retries())
	assert.Equal(t, 1, res.Failure())
	assert.Equal(t, res.Submitted(), res.Success()+res.Failure())
	assert.True(t, res.Completed)
	assert.False(t, res.IsSuccess())
}

func TestSubmitBatchErrors(t *testing.T) {
	t.Run("transient", func(t *testing.T) {
		w := &scriptedWriter{}
		w.respond = func(call int, recs []*record.Record) ([]target.Outcome, error) {
			if call == 0 {
				return nil, errors.New("dial tcp 10.0.0.1:5432: connection refused")
			}
			return make([]target.Outcome, len(recs)), nil
		}
		ex := NewExecutor(w, nil, nil, nil, zerolog.Nop())
		res, err := ex.ExecuteObject(context.Background(), "Account", names(2), testOptions())
		require.NoError(t, err)
		assert.Equal(t, 2, w.callCount())
		assert.Equal(t, 2, res.Success())
		assert.Equal(t, 1, res.Retries())
	})

	t.Run("terminal", func(t *testing.T) {
		w := &scriptedWriter{respond: func(int, []*record.Record) ([]target.Outcome, error) {
			return nil, errors.New("permission denied for table account")
		}}
		ex := NewExecutor(w, nil, nil, nil, zerolog.Nop())
		res, err := ex.ExecuteObject(context.Background(), "Account", names(2), testOptions())
		require.NoError(t, err)
		assert.Equal(t, 1, w.callCount())
		assert.Equal(t, 2, res.Failure())
		assert.Contains(t, res.Batches[0].Errors[0].Message, "batch submission failed")
	})

	t.Run("missing outcomes", func(t *testing.T) {
		w := &scriptedWriter{respond: func(int, []*record.Record) ([]target.Outcome, error) {
			return []target.Outcome{{ID: "x"}}, nil
		}}
		ex := NewExecutor(w, nil, nil, nil, zerolog.Nop())
		res, err := ex.ExecuteObject(context.Background(), "Account", names(3), testOptions())
		require.NoError(t, err)
		assert.Equal(t, 1, w.callCount())
		assert.Equal(t, 1, res.Success())
		assert.Equal(t, 2, res.Failure())
		assert.Equal(t, "no result returned for record", res.Batches[0].Errors[0].Message)
	})
}

func TestStopOnError(t *testing.T) {
	w := &scriptedWriter{respond: func(call int, recs []*record.Record) ([]target.Outcome, error) {
		if call == 1 {
			return []target.Outcome{{Err: "DUPLICATE_VALUE: Name"}}, nil
		}
		return []target.Outcome{{ID: "ok"}}, nil
	}}
	ex := NewExecutor(w, nil, nil, nil, zerolog.Nop())
	opts := testOptions()
	opts.BatchSize = 1
	opts.StopOnError = true

	results, err := ex.Execute(context.Background(), []string{"Account", "Contact"}, map[string][]*record.Record{
		"Account": names(3),
		"Contact": names(2),
	}, opts)
	require.NoError(t, err)

	assert.True(t, ex.Stopped())
	assert.Equal(t, 2, w.callCount())
	acc := results["Account"]
	assert.False(t, acc.Completed)
	assert.Equal(t, 1, acc.Success())
	assert.Equal(t, 1, acc.Failure())

	con := results["Contact"]
	assert.Zero(t, con.Submitted())
	assert.Equal(t, 2, con.Total)
	require.Len(t, con.Errors, 1)
	assert.Contains(t, con.Errors[0], "not attempted")
}

func TestPreserveOriginalIDsUpsertsOnIDField(t *testing.T) {
	w := &scriptedWriter{}
	ex := NewExecutor(w, nil, nil, nil, zerolog.Nop())
	opts := testOptions()
	opts.PreserveOriginalIDs = true

	_, err := ex.ExecuteObject(context.Background(), "Account", names(1), opts)
	require.NoError(t, err)
	require.Equal(t, 1, w.callCount())
	assert.Equal(t, target.Upsert, w.calls[0].mode)
	assert.Equal(t, "Id", w.calls[0].ext)
	assert.Equal(t, "old-0", w.calls[0].records[0].Str("Id"))
}

func TestUpsertExternalIDField(t *testing.T) {
	withExt := &meta.ObjectMetadata{Name: "Account", IDField: "Id", Fields: []meta.FieldInfo{
		{Name: "Id", Type: meta.TypeID},
		{Name: "Name", Type: meta.TypeString},
		{Name: "Legacy_Id__c", Type: meta.TypeString, ExternalID: true},
	}}
	opts := testOptions()
	opts.Mode = target.Upsert

	w := &scriptedWriter{}
	ex := NewExecutor(w, meta.NewStatic(withExt), nil, nil, zerolog.Nop())
	_, err := ex.ExecuteObject(context.Background(), "Account", names(1), opts)
	require.NoError(t, err)
	assert.Equal(t, "Legacy_Id__c", w.calls[0].ext)

	opts.UpsertFields = map[string]string{"Account": "Name"}
	_, err = ex.ExecuteObject(context.Background(), "Account", names(1), opts)
	require.NoError(t, err)
	assert.Equal(t, "Name", w.calls[1].ext)
	opts.UpsertFields = nil

	w = &scriptedWriter{}
	ex = NewExecutor(w, meta.NewStatic(), nil, nil, zerolog.Nop())
	res, err := ex.ExecuteObject(context.Background(), "Account", names(1), opts)
	require.NoError(t, err)
	assert.Zero(t, w.callCount())
	assert.False(t, res.Completed)
	assert.Contains(t, res.Errors[0], "no external id field")
}

func TestExecuteObjectCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &scriptedWriter{}
	ex := NewExecutor(w, nil, nil, nil, zerolog.Nop())
	_, err := ex.ExecuteObject(ctx, "Account", names(2), testOptions())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, w.callCount())
}

type noQuerier struct{ calls int }

func (q *noQuerier) QueryIDs(context.Context, resolve.Lookup) (map[string]string, error) {
	q.calls++
	return nil, errors.New("unexpected lookup")
}

func TestExecutorSeedsResolver(t *testing.T) {
	provider := meta.NewStatic(meta.Requires("Contact", "Account"))
	q := &noQuerier{}
	r := resolve.New(provider, q, 0, zerolog.Nop())
	r.Put("Account", "Name", "Initech", "001INI")

	w := &scriptedWriter{}
	ex := NewExecutor(w, provider, r, nil, zerolog.Nop())
	_, err := ex.ExecuteObject(context.Background(), "Account", []*record.Record{record.FromPairs("Id", "001OLD", "Name", "Acme")}, testOptions())
	require.NoError(t, err)

	out, err := r.Resolve(context.Background(), "Contact", []*record.Record{
		record.FromPairs("LastName", "Doe", "AccountId", "001OLD", "_ref_AccountId_Name", "Acme"),
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", out[0].Str("AccountId"))
	assert.Zero(t, q.calls)
}

func TestClean(t *testing.T) {
	rec := record.New()
	rec.SetString("Id", "001")
	rec.SetString("Name", "Acme")
	rec.SetString("CreatedDate", "2024-01-01")
	rec.SetString("_ref_OwnerId_Username", "ada@example.com")
	rec.SetString("Phone", "null")
	rec.SetString("Fax", "")
	rec.Set("Website", record.Null)

	out := clean(rec, "Id", target.Insert, false)
	assert.Equal(t, []string{"Name"}, out.Keys())

	out = clean(rec, "Id", target.Upsert, false)
	assert.Equal(t, []string{"Id", "Name"}, out.Keys())

	out = clean(rec, "Id", target.Insert, true)
	assert.Equal(t, []string{"Id", "Name"}, out.Keys())
}
