package transform

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/record"
)

// RecordTypeField holds the type discriminator.
const RecordTypeField = "RecordTypeId"

// OwnerField is required on write, so SET_NULL never clears it.
const OwnerField = "OwnerId"

// FailError aborts a TransformRecords call under the FAIL behavior.
type FailError struct {
	ObjectType string
	Category   string
	Field      string
	Value      string
	Index      int
}

func (e *FailError) Error() string {
	return fmt.Sprintf("transform %s record %d: unmapped %s value %q in %s", e.ObjectType, e.Index, e.Category, e.Value, e.Field)
}

// Result is the outcome of transforming one record: a record, a skip, or a failure.
type Result struct {
	Record  *record.Record
	Skipped bool
	Err     *FailError
	stats   Statistics
}

type objectPlan struct {
	cfg   *ObjectConfig
	steps []step
}

// Transformer applies a read-only Config to batches of records.
// It is safe for concurrent use.
type Transformer struct {
	cfg   *Config
	plans map[string]objectPlan
	log   zerolog.Logger

	mu    sync.Mutex
	stats Statistics
}

// New compiles cfg. A nil cfg is the identity transform apart from blank normalization.
func New(cfg *Config, log zerolog.Logger) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transformer{cfg: cfg, plans: map[string]objectPlan{}, log: log.With().Str("component", "transformer").Logger()}
	if cfg != nil {
		for name, obj := range cfg.Objects {
			if obj == nil {
				continue
			}
			steps, err := compileSteps(obj.ValueTransformations)
			if err != nil {
				return nil, fmt.Errorf("object %s: %w", name, err)
			}
			t.plans[name] = objectPlan{cfg: obj, steps: steps}
		}
	}
	return t, nil
}

// TransformRecords transforms a batch. Skipped records are omitted and
// counted. The first FAIL aborts the call with a *FailError and the batch
// contributes nothing to the statistics.
func (t *Transformer) TransformRecords(objectType string, records []*record.Record, runningPrincipalID string) ([]*record.Record, error) {
	var batch Statistics
	out := make([]*record.Record, 0, len(records))
	for i, rec := range records {
		res := t.TransformRecord(objectType, rec, runningPrincipalID)
		if res.Err != nil {
			res.Err.Index = i
			t.log.Error().Err(res.Err).Str("object", objectType).Msg("transformation failed")
			return nil, res.Err
		}
		batch.add(res.stats)
		if res.Skipped {
			continue
		}
		out = append(out, res.Record)
	}
	t.mu.Lock()
	t.stats.add(batch)
	t.mu.Unlock()
	return out, nil
}

// TransformRecord runs the per-record pipeline without touching the statistics.
func (t *Transformer) TransformRecord(objectType string, in *record.Record, runningPrincipalID string) Result {
	rec := in.Clone()
	for _, k := range rec.Keys() {
		v, _ := rec.Get(k)
		rec.Set(k, v.Normalize())
	}

	plan := t.plans[objectType]
	var st Statistics
	skip := func() Result {
		st.Skipped++
		return Result{Skipped: true, stats: st}
	}
	fail := func(category, field, value string) Result {
		return Result{Err: &FailError{ObjectType: objectType, Category: category, Field: field, Value: value}}
	}

	// Type discriminator.
	if v, ok := rec.Get(RecordTypeField); ok && v.Valid {
		if mapped, hit := lookup(v.S, objectRecordTypes(plan.cfg), t.globalRecordTypes()); hit {
			rec.SetString(RecordTypeField, mapped)
			st.RecordTypeMappings++
		} else {
			switch b := resolveBehavior(objectBehavior(plan.cfg, catRecordType), t.globalBehavior(catRecordType), objectDefault(plan.cfg, catRecordType)); b {
			case KeepOriginal:
			case SetNull:
				rec.Set(RecordTypeField, record.Null)
			case SkipRecord:
				return skip()
			case Fail:
				return fail("record type", RecordTypeField, v.S)
			case UseDefault:
				if plan.cfg != nil && plan.cfg.DefaultRecordTypeID != "" {
					rec.SetString(RecordTypeField, plan.cfg.DefaultRecordTypeID)
				} else if objectBehavior(plan.cfg, catRecordType) == UseDefault || t.globalBehavior(catRecordType) == UseDefault {
					t.log.Warn().Str("object", objectType).Msg("USE_DEFAULT without default_record_type_id; keeping original")
				}
			case UseRunningUser, Unset:
				// Rejected at load; keep the original value.
			}
		}
	}

	// Principal references.
	for _, field := range rec.Keys() {
		if !IsUserField(field) {
			continue
		}
		v, _ := rec.Get(field)
		if !v.Valid {
			continue
		}
		if mapped, hit := lookup(v.S, objectUsers(plan.cfg), t.globalUsers()); hit {
			rec.SetString(field, mapped)
			st.UserMappings++
			continue
		}
		switch b := resolveBehavior(objectBehavior(plan.cfg, catUser), t.globalBehavior(catUser), objectDefault(plan.cfg, catUser)); b {
		case KeepOriginal, Unset:
		case SetNull:
			if field == OwnerField {
				t.log.Warn().Str("object", objectType).Str("value", v.S).Msg("SET_NULL on required owner; keeping original")
				continue
			}
			rec.Set(field, record.Null)
		case SkipRecord:
			return skip()
		case Fail:
			return fail("user", field, v.S)
		case UseDefault:
			if def := t.defaultUser(plan.cfg); def != "" {
				rec.SetString(field, def)
			}
		case UseRunningUser:
			if runningPrincipalID != "" {
				rec.SetString(field, runningPrincipalID)
			}
		}
	}

	// Categorical values.
	for _, field := range t.picklistFields(plan.cfg) {
		v, ok := rec.Get(field)
		if !ok || !v.Valid {
			continue
		}
		if mapped, hit := lookup(v.S, objectPicklist(plan.cfg, field), t.globalPicklist(field)); hit {
			rec.SetString(field, mapped)
			st.PicklistMappings++
			continue
		}
		switch b := resolveBehavior(objectBehavior(plan.cfg, catPicklist), t.globalBehavior(catPicklist)); b {
		case KeepOriginal, Unset:
		case SetNull:
			rec.Set(field, record.Null)
		case SkipRecord:
			return skip()
		case Fail:
			return fail("picklist", field, v.S)
		case UseDefault:
			if def, ok := t.defaultPicklist(plan.cfg, field); ok {
				rec.SetString(field, def)
			} else {
				rec.Set(field, record.Null)
			}
		case UseRunningUser:
		}
	}

	// Field shaping.
	if plan.cfg != nil {
		for _, f := range plan.cfg.ExcludedFields {
			rec.Delete(f)
		}
		for _, from := range sortedKeys(plan.cfg.FieldRenames) {
			rec.Rename(from, plan.cfg.FieldRenames[from])
		}
	}
	for _, k := range rec.Keys() {
		if record.IsScaffold(k) {
			rec.Delete(k)
		}
	}

	// Value transformations, keyed by the field name after renames.
	for _, s := range plan.steps {
		cur, present := rec.Get(s.field)
		if (!present || !cur.Valid) && !s.op.creates() {
			continue
		}
		if s.condition != "" && !strings.Contains(cur.S, s.condition) {
			continue
		}
		rec.Set(s.field, s.op.Apply(cur, rec))
		st.FieldTransformations++
	}

	st.Transformed++
	return Result{Record: rec, stats: st}
}

// IsUserField reports whether field holds a principal reference.
func IsUserField(field string) bool {
	switch field {
	case "OwnerId", "CreatedById", "LastModifiedById":
		return true
	}
	return strings.HasSuffix(field, "__c") && strings.Contains(field, "User")
}

type category int

const (
	catRecordType category = iota
	catUser
	catPicklist
)

func objectBehavior(obj *ObjectConfig, c category) Behavior {
	if obj == nil {
		return Unset
	}
	switch c {
	case catRecordType:
		return obj.UnmappedRecordType
	case catUser:
		return obj.UnmappedUser
	case catPicklist:
		return obj.UnmappedPicklist
	}
	return Unset
}

// objectDefault applies once an object is configured but leaves a category
// unset: principals go to the running user, record types to the object's
// default. Unconfigured objects keep their values.
func objectDefault(obj *ObjectConfig, c category) Behavior {
	if obj == nil {
		return Unset
	}
	switch c {
	case catRecordType:
		return UseDefault
	case catUser:
		return UseRunningUser
	}
	return Unset
}

func (t *Transformer) globalBehavior(c category) Behavior {
	if t.cfg == nil {
		return Unset
	}
	switch c {
	case catRecordType:
		return t.cfg.UnmappedRecordType
	case catUser:
		return t.cfg.UnmappedUser
	case catPicklist:
		return t.cfg.UnmappedPicklist
	}
	return Unset
}

// lookup consults the object table, then the global table.
func lookup(value string, object, global map[string]string) (string, bool) {
	if mapped, ok := object[value]; ok {
		return mapped, true
	}
	mapped, ok := global[value]
	return mapped, ok
}

func objectRecordTypes(obj *ObjectConfig) map[string]string {
	if obj == nil {
		return nil
	}
	return obj.RecordTypeMappings
}

func objectUsers(obj *ObjectConfig) map[string]string {
	if obj == nil {
		return nil
	}
	return obj.UserMappings
}

func objectPicklist(obj *ObjectConfig, field string) map[string]string {
	if obj == nil {
		return nil
	}
	return obj.PicklistMappings[field]
}

func (t *Transformer) globalRecordTypes() map[string]string {
	if t.cfg == nil {
		return nil
	}
	return t.cfg.RecordTypeMappings
}

func (t *Transformer) globalUsers() map[string]string {
	if t.cfg == nil {
		return nil
	}
	return t.cfg.UserMappings
}

func (t *Transformer) globalPicklist(field string) map[string]string {
	if t.cfg == nil {
		return nil
	}
	return t.cfg.PicklistMappings[field]
}

func (t *Transformer) defaultUser(obj *ObjectConfig) string {
	if obj != nil && obj.DefaultUserID != "" {
		return obj.DefaultUserID
	}
	if t.cfg != nil {
		return t.cfg.DefaultUserID
	}
	return ""
}

func (t *Transformer) defaultPicklist(obj *ObjectConfig, field string) (string, bool) {
	if obj != nil {
		if v, ok := obj.DefaultPicklist[field]; ok {
			return v, true
		}
	}
	if t.cfg != nil {
		if v, ok := t.cfg.DefaultPicklist[field]; ok {
			return v, true
		}
	}
	return "", false
}

// picklistFields lists the fields with a categorical mapping at either level.
func (t *Transformer) picklistFields(obj *ObjectConfig) []string {
	set := map[string]bool{}
	if obj != nil {
		for f := range obj.PicklistMappings {
			set[f] = true
		}
	}
	if t.cfg != nil {
		for f := range t.cfg.PicklistMappings {
			set[f] = true
		}
	}
	return sortedKeys(set)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
