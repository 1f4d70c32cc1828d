package resolve

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/record"
)

// Stats counts resolver activity since construction or the last Clear.
type Stats struct {
	Lookups    int64 `json:"lookups"`
	Resolved   int64 `json:"resolved"`
	Unresolved int64 `json:"unresolved"`
	Failures   int64 `json:"failures"`
	Seeded     int64 `json:"seeded"`
}

type slotKey struct {
	objectType string
	field      string
}

// slot caches natural-key lookups for one (object type, key field) pair.
// tried holds values already asked for, found or not.
type slot struct {
	mu    sync.Mutex
	ids   map[string]string
	tried map[string]bool
}

// Resolver rewrites lookup fields from the natural keys captured in
// reference columns. It is safe for concurrent use.
type Resolver struct {
	provider  meta.Provider
	querier   Querier
	chunkSize int
	log       zerolog.Logger

	mu    sync.Mutex
	slots map[slotKey]*slot

	lookups, resolved, unresolved, failures, seeded atomic.Int64
}

func New(provider meta.Provider, querier Querier, chunkSize int, log zerolog.Logger) *Resolver {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Resolver{
		provider:  provider,
		querier:   querier,
		chunkSize: chunkSize,
		log:       log.With().Str("component", "resolver").Logger(),
		slots:     map[slotKey]*slot{},
	}
}

type reference struct {
	column   string
	lookup   string
	keyField string
	refType  string
	value    string
}

// Resolve returns copies of records with lookup fields rewritten to target
// identifiers. Unresolved references leave the lookup field untouched. Only
// context errors are returned; failed lookups are logged and counted.
func (r *Resolver) Resolve(ctx context.Context, objectType string, records []*record.Record) ([]*record.Record, error) {
	md, err := r.provider.Describe(ctx, objectType)
	if err != nil {
		r.log.Debug().Err(err).Str("object", objectType).Msg("resolving without metadata")
		md = nil
	}

	refs := make([][]reference, len(records))
	pending := map[slotKey]map[string]bool{}
	for i, rec := range records {
		for _, col := range rec.Keys() {
			if !strings.HasPrefix(col, record.RefPrefix) {
				continue
			}
			v, _ := rec.Get(col)
			if v.Blank() || v.S == "null" {
				continue
			}
			lookup, keyField, ok := splitRefColumn(col, md, rec)
			if !ok {
				continue
			}
			ref := reference{column: col, lookup: lookup, keyField: keyField, refType: ReferencedType(md, lookup), value: v.S}
			refs[i] = append(refs[i], ref)
			key := slotKey{ref.refType, keyField}
			if pending[key] == nil {
				pending[key] = map[string]bool{}
			}
			pending[key][v.S] = true
		}
	}

	keys := make([]slotKey, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].objectType != keys[j].objectType {
			return keys[i].objectType < keys[j].objectType
		}
		return keys[i].field < keys[j].field
	})
	for _, k := range keys {
		if err := r.populate(ctx, k, pending[k]); err != nil {
			return nil, err
		}
	}

	out := make([]*record.Record, len(records))
	for i, rec := range records {
		c := rec.Clone()
		for _, ref := range refs[i] {
			id, ok := r.cached(slotKey{ref.refType, ref.keyField}, ref.value)
			if !ok {
				r.unresolved.Add(1)
				continue
			}
			c.SetString(ref.lookup, id)
			r.resolved.Add(1)
		}
		out[i] = c
	}
	return out, nil
}

// Seed records that a record of objectType was created with id, so later
// references to any of its cached natural keys resolve without a lookup.
func (r *Resolver) Seed(objectType string, rec *record.Record, id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	var targets []*slot
	var fields []string
	for k, s := range r.slots {
		if k.objectType == objectType {
			targets = append(targets, s)
			fields = append(fields, k.field)
		}
	}
	r.mu.Unlock()

	for i, s := range targets {
		v, ok := rec.Get(fields[i])
		if !ok || v.Blank() {
			continue
		}
		s.mu.Lock()
		s.ids[v.S] = id
		s.tried[v.S] = true
		s.mu.Unlock()
		r.seeded.Add(1)
	}
}

// Put installs a known mapping, as if a lookup had returned it.
func (r *Resolver) Put(objectType, field, value, id string) {
	s := r.slot(slotKey{objectType, field})
	s.mu.Lock()
	s.ids[value] = id
	s.tried[value] = true
	s.mu.Unlock()
}

func (r *Resolver) Stats() Stats {
	return Stats{
		Lookups:    r.lookups.Load(),
		Resolved:   r.resolved.Load(),
		Unresolved: r.unresolved.Load(),
		Failures:   r.failures.Load(),
		Seeded:     r.seeded.Load(),
	}
}

// Clear drops every cached mapping and resets the counters.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.slots = map[slotKey]*slot{}
	r.mu.Unlock()
	r.lookups.Store(0)
	r.resolved.Store(0)
	r.unresolved.Store(0)
	r.failures.Store(0)
	r.seeded.Store(0)
}

func (r *Resolver) slot(k slotKey) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[k]
	if !ok {
		s = &slot{ids: map[string]string{}, tried: map[string]bool{}}
		r.slots[k] = s
	}
	return s
}

func (r *Resolver) cached(k slotKey, value string) (string, bool) {
	s := r.slot(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[value]
	return id, ok
}

// populate looks up every value of the slot not asked for before. The slot
// lock is held across the lookup so concurrent callers wait for one query.
func (r *Resolver) populate(ctx context.Context, k slotKey, values map[string]bool) error {
	s := r.slot(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []string
	for v := range values {
		if !s.tried[v] {
			missing = append(missing, v)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)

	for _, part := range chunk(missing, r.chunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		lookup := Lookup{ObjectType: k.objectType, Field: k.field, Values: part}
		r.lookups.Add(1)
		found, err := r.querier.QueryIDs(ctx, lookup)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.failures.Add(1)
			r.log.Warn().Err(err).Str("object", k.objectType).Str("field", k.field).Int("values", len(part)).Msg("natural key lookup failed")
			continue
		}
		for v, id := range found {
			s.ids[v] = id
		}
		for _, v := range part {
			s.tried[v] = true
		}
	}
	return nil
}

// ReferencedType names the object type a lookup field points to: metadata
// first, then the principal type for audit fields, then the field name
// without its trailing Id.
func ReferencedType(md *meta.ObjectMetadata, lookupField string) string {
	if rel, ok := md.Relationship(lookupField); ok && len(rel.ReferenceTo) > 0 {
		return rel.ReferenceTo[0]
	}
	if meta.IsAuditField(lookupField) {
		return meta.PrincipalType
	}
	if strings.HasSuffix(lookupField, "Id") && len(lookupField) > 2 {
		return strings.TrimSuffix(lookupField, "Id")
	}
	return lookupField
}

// splitRefColumn parses _ref_<LookupField>_<NaturalKeyField>. Known field
// names from metadata and the record win, longest first; otherwise the
// column splits after a custom-field suffix or at the first underscore.
func splitRefColumn(column string, md *meta.ObjectMetadata, rec *record.Record) (lookup, keyField string, ok bool) {
	rest := strings.TrimPrefix(column, record.RefPrefix)

	var candidates []string
	if md != nil {
		for _, rel := range md.Relationships {
			candidates = append(candidates, rel.Field.Name)
		}
	}
	for _, k := range rec.Keys() {
		if !record.IsScaffold(k) {
			candidates = append(candidates, k)
		}
	}
	best := ""
	for _, c := range candidates {
		if len(c) > len(best) && len(rest) > len(c)+1 && strings.HasPrefix(rest, c+"_") {
			best = c
		}
	}
	if best != "" {
		return best, rest[len(best)+1:], true
	}

	if i := strings.Index(rest, "__c_"); i > 0 && len(rest) > i+4 {
		return rest[:i+3], rest[i+4:], true
	}
	i := strings.Index(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
