package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/record"
)

type fakeQuerier struct {
	mu      sync.Mutex
	data    map[string]map[string]map[string]string // object -> field -> value -> id
	calls   []Lookup
	failFor string
}

func (f *fakeQuerier) QueryIDs(_ context.Context, l Lookup) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, l)
	if l.ObjectType == f.failFor {
		return nil, errors.New("connection reset by peer")
	}
	out := map[string]string{}
	for _, v := range l.Values {
		if id, ok := f.data[l.ObjectType][l.Field][v]; ok {
			out[v] = id
		}
	}
	return out, nil
}

func (f *fakeQuerier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func accounts() *fakeQuerier {
	return &fakeQuerier{data: map[string]map[string]map[string]string{
		"Account": {"Name": {"Acme Corp": "001XYZ", "Globex": "001GLX"}},
		"User":    {"Username": {"ada@example.com": "005ADA"}},
	}}
}

func TestResolveRewritesLookupField(t *testing.T) {
	q := accounts()
	r := New(meta.NewStatic(meta.Requires("Contact", "Account")), q, 0, zerolog.Nop())

	in := []*record.Record{record.FromPairs("LastName", "Doe", "AccountId", "001OLD", "_ref_AccountId_Name", "Acme Corp")}
	out, err := r.Resolve(context.Background(), "Contact", in)
	require.NoError(t, err)

	assert.Equal(t, "001XYZ", out[0].Str("AccountId"))
	assert.Equal(t, "001OLD", in[0].Str("AccountId"), "input must not be mutated")
	assert.Equal(t, int64(1), r.Stats().Resolved)
}

func TestResolveMissLeavesFieldUntouched(t *testing.T) {
	r := New(meta.NewStatic(), accounts(), 0, zerolog.Nop())
	in := []*record.Record{record.FromPairs("AccountId", "001OLD", "_ref_AccountId_Name", "Initech")}
	out, err := r.Resolve(context.Background(), "Contact", in)
	require.NoError(t, err)
	assert.Equal(t, "001OLD", out[0].Str("AccountId"))
	assert.Equal(t, int64(1), r.Stats().Unresolved)
}

func TestResolveBatchesOneLookupPerSlot(t *testing.T) {
	q := accounts()
	r := New(meta.NewStatic(), q, 0, zerolog.Nop())
	in := []*record.Record{
		record.FromPairs("_ref_AccountId_Name", "Acme Corp"),
		record.FromPairs("_ref_AccountId_Name", "Globex"),
		record.FromPairs("_ref_AccountId_Name", "Acme Corp"),
		record.FromPairs("_ref_OwnerId_Username", "ada@example.com"),
	}
	out, err := r.Resolve(context.Background(), "Contact", in)
	require.NoError(t, err)
	assert.Equal(t, "001GLX", out[1].Str("AccountId"))
	assert.Equal(t, "005ADA", out[3].Str("OwnerId"))
	assert.Equal(t, 2, q.callCount())

	_, err = r.Resolve(context.Background(), "Contact", in)
	require.NoError(t, err)
	assert.Equal(t, 2, q.callCount(), "second pass is served from cache")
}

func TestResolveChunksLookups(t *testing.T) {
	q := accounts()
	r := New(meta.NewStatic(), q, 2, zerolog.Nop())
	in := []*record.Record{
		record.FromPairs("_ref_AccountId_Name", "a"),
		record.FromPairs("_ref_AccountId_Name", "b"),
		record.FromPairs("_ref_AccountId_Name", "c"),
	}
	_, err := r.Resolve(context.Background(), "Contact", in)
	require.NoError(t, err)
	require.Equal(t, 2, q.callCount())
	assert.Equal(t, []string{"a", "b"}, q.calls[0].Values)
	assert.Equal(t, []string{"c"}, q.calls[1].Values)
}

func TestResolveConcurrentMissesShareLookup(t *testing.T) {
	q := accounts()
	r := New(meta.NewStatic(), q, 0, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.Resolve(context.Background(), "Contact", []*record.Record{record.FromPairs("_ref_AccountId_Name", "Acme Corp")})
			assert.NoError(t, err)
			assert.Equal(t, "001XYZ", out[0].Str("AccountId"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, q.callCount())
}

func TestResolveSkipsBlankAndNullLiteral(t *testing.T) {
	q := accounts()
	r := New(meta.NewStatic(), q, 0, zerolog.Nop())
	rec := record.FromPairs("_ref_AccountId_Name", "null", "AccountId", "x")
	rec.Set("_ref_ParentId_Name", record.Null)
	_, err := r.Resolve(context.Background(), "Contact", []*record.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 0, q.callCount())
}

func TestResolveLookupFailureDegrades(t *testing.T) {
	q := accounts()
	q.failFor = "Account"
	r := New(meta.NewStatic(), q, 0, zerolog.Nop())
	out, err := r.Resolve(context.Background(), "Contact", []*record.Record{record.FromPairs("AccountId", "old", "_ref_AccountId_Name", "Acme Corp")})
	require.NoError(t, err)
	assert.Equal(t, "old", out[0].Str("AccountId"))
	assert.Equal(t, int64(1), r.Stats().Failures)
}

func TestResolveCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(meta.NewStatic(), accounts(), 0, zerolog.Nop())
	_, err := r.Resolve(ctx, "Contact", []*record.Record{record.FromPairs("_ref_AccountId_Name", "Acme Corp")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSeedResolvesRecordsCreatedInRun(t *testing.T) {
	q := accounts()
	r := New(meta.NewStatic(), q, 0, zerolog.Nop())
	in := []*record.Record{record.FromPairs("_ref_AccountId_Name", "Initech")}

	out, err := r.Resolve(context.Background(), "Contact", in)
	require.NoError(t, err)
	assert.False(t, out[0].Has("AccountId"))

	r.Seed("Account", record.FromPairs("Name", "Initech", "Industry", "Software"), "001INI")
	out, err = r.Resolve(context.Background(), "Contact", in)
	require.NoError(t, err)
	assert.Equal(t, "001INI", out[0].Str("AccountId"))
	assert.Equal(t, 1, q.callCount())
}

func TestReferencedType(t *testing.T) {
	md := &meta.ObjectMetadata{Relationships: []meta.RelationshipField{{
		Field:       meta.FieldInfo{Name: "Parent__c"},
		ReferenceTo: []string{"Project__c"},
	}}}
	assert.Equal(t, "Project__c", ReferencedType(md, "Parent__c"))
	assert.Equal(t, "User", ReferencedType(nil, "OwnerId"))
	assert.Equal(t, "User", ReferencedType(nil, "LastModifiedById"))
	assert.Equal(t, "Account", ReferencedType(nil, "AccountId"))
	assert.Equal(t, "Region__c", ReferencedType(nil, "Region__c"))
}

func TestSplitRefColumn(t *testing.T) {
	rec := record.FromPairs("Billing_Account__c", "x")
	lookup, key, ok := splitRefColumn("_ref_Billing_Account__c_External_Key__c", nil, rec)
	require.True(t, ok)
	assert.Equal(t, "Billing_Account__c", lookup)
	assert.Equal(t, "External_Key__c", key)

	lookup, key, ok = splitRefColumn("_ref_Region__c_Name", nil, record.New())
	require.True(t, ok)
	assert.Equal(t, "Region__c", lookup)
	assert.Equal(t, "Name", key)

	lookup, key, ok = splitRefColumn("_ref_AccountId_Name", nil, record.New())
	require.True(t, ok)
	assert.Equal(t, "AccountId", lookup)
	assert.Equal(t, "Name", key)

	_, _, ok = splitRefColumn("_ref_Broken", nil, record.New())
	assert.False(t, ok)
}

func TestLookupFilterEscapes(t *testing.T) {
	l := Lookup{ObjectType: "Account", Field: "Name", Values: []string{"O'Brien", `a\b`, "line\nbreak", "cr\r"}}
	assert.Equal(t, `Name IN ('O\'Brien', 'a\\b', 'line\nbreak', 'cr\r')`, l.Filter())
}
