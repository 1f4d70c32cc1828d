// Package validate checks backup records against target metadata before any
// write is attempted.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/record"
)

const (
	// DetailLimit bounds how many records get per-value checks.
	DetailLimit       = 100
	MaxPicklistLength = 255
)

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)
	phonePattern = regexp.MustCompile(`(?i)^[+\d\s\-().ext]+$`)
	urlPattern   = regexp.MustCompile(`(?i)^https?://.*`)

	// DefaultIDPattern accepts opaque identifiers without whitespace.
	DefaultIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)
)

// Report collects findings for one object. Errors are values the target
// would reject; warnings are worth a look but do not block.
type Report struct {
	Object   string   `json:"object"`
	Records  int      `json:"records"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *Report) OK() bool { return len(r.Errors) == 0 }

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

type Validator struct {
	provider  meta.Provider
	idPattern *regexp.Regexp
	log       zerolog.Logger
}

func New(provider meta.Provider, log zerolog.Logger) *Validator {
	return &Validator{provider: provider, idPattern: DefaultIDPattern, log: log.With().Str("component", "validator").Logger()}
}

// SetIDPattern replaces the format reference and id values must match.
func (v *Validator) SetIDPattern(p *regexp.Regexp) {
	if p != nil {
		v.idPattern = p
	}
}

func (v *Validator) Validate(ctx context.Context, objectType string, records []*record.Record) *Report {
	rep := &Report{Object: objectType, Records: len(records)}
	if len(records) == 0 {
		rep.warnf("no records to validate")
		return rep
	}
	md, err := v.provider.Describe(ctx, objectType)
	if err != nil {
		rep.errorf("object %s not found in target: %v", objectType, err)
		return rep
	}

	columns := records[0].Keys()
	checkFieldsExist(rep, md, columns)
	checkRequired(rep, md, columns)

	for i, rec := range records {
		if i >= DetailLimit {
			rep.warnf("only validated the first %d of %d records in detail", DetailLimit, len(records))
			break
		}
		v.checkValues(rep, md, i+1, rec)
	}
	v.log.Debug().Str("object", objectType).Int("errors", len(rep.Errors)).Int("warnings", len(rep.Warnings)).Msg("validated")
	return rep
}

func checkFieldsExist(rep *Report, md *meta.ObjectMetadata, columns []string) {
	for _, c := range columns {
		if record.IsScaffold(c) || strings.EqualFold(c, md.PrimaryKey()) {
			continue
		}
		if _, ok := md.Field(c); !ok {
			rep.warnf("field %q not found in target and will be rejected", c)
		}
	}
}

func checkRequired(rep *Report, md *meta.ObjectMetadata, columns []string) {
	present := map[string]bool{}
	for _, c := range columns {
		present[strings.ToLower(c)] = true
	}
	for _, f := range md.Fields {
		if !f.Required || !f.Createable || strings.EqualFold(f.Name, md.PrimaryKey()) {
			continue
		}
		if present[strings.ToLower(f.Name)] || hasRefColumn(columns, f.Name) {
			continue
		}
		rep.warnf("required field %q not present in backup data", f.Name)
	}
}

func hasRefColumn(columns []string, field string) bool {
	prefix := strings.ToLower(record.RefPrefix + field + "_")
	for _, c := range columns {
		if strings.HasPrefix(strings.ToLower(c), prefix) {
			return true
		}
	}
	return false
}

func (v *Validator) checkValues(rep *Report, md *meta.ObjectMetadata, n int, rec *record.Record) {
	for _, name := range rec.Keys() {
		val, _ := rec.Get(name)
		if val.Blank() || record.IsScaffold(name) {
			continue
		}
		f, ok := md.Field(name)
		if !ok {
			continue
		}
		v.checkValue(rep, n, f, val.S)
	}
}

func (v *Validator) checkValue(rep *Report, n int, f meta.FieldInfo, value string) {
	switch strings.ToLower(f.Type) {
	case meta.TypeString, meta.TypeTextArea:
		if f.MaxLength > 0 && len([]rune(value)) > f.MaxLength {
			rep.errorf("record %d: text too long in %q: %d chars (max %d)", n, f.Name, len([]rune(value)), f.MaxLength)
		}
	case meta.TypeEmail:
		if !emailPattern.MatchString(value) {
			rep.errorf("record %d: invalid email in %q: %s", n, f.Name, truncate(value, 50))
		}
	case meta.TypePhone:
		if !phonePattern.MatchString(value) {
			rep.warnf("record %d: unusual phone format in %q: %s", n, f.Name, truncate(value, 30))
		}
	case meta.TypeURL:
		if !urlPattern.MatchString(value) {
			rep.warnf("record %d: url may not be valid in %q: %s", n, f.Name, truncate(value, 50))
		}
	case meta.TypeReference, meta.TypeID:
		if !v.idPattern.MatchString(value) {
			rep.errorf("record %d: invalid id format in %q: %s", n, f.Name, truncate(value, 20))
		}
	case meta.TypeBoolean:
		switch strings.ToLower(value) {
		case "true", "false", "1", "0":
		default:
			rep.errorf("record %d: invalid boolean in %q: %s", n, f.Name, value)
		}
	case meta.TypeInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			rep.errorf("record %d: invalid integer in %q: %s", n, f.Name, truncate(value, 20))
		}
	case meta.TypeDouble:
		if _, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64); err != nil {
			rep.errorf("record %d: invalid number in %q: %s", n, f.Name, truncate(value, 20))
		}
	case meta.TypeDate:
		if _, err := time.Parse(time.DateOnly, value); err != nil {
			rep.errorf("record %d: invalid date in %q: %s (expected YYYY-MM-DD)", n, f.Name, value)
		}
	case meta.TypeDateTime:
		if !validDateTime(value) {
			rep.errorf("record %d: invalid datetime in %q: %s", n, f.Name, truncate(value, 30))
		}
	case meta.TypePicklist:
		if len(value) > MaxPicklistLength {
			rep.errorf("record %d: picklist value too long in %q: %d chars (max %d)", n, f.Name, len(value), MaxPicklistLength)
		} else if len(f.PicklistValues) > 0 && !contains(f.PicklistValues, value) {
			rep.warnf("record %d: value %q is not a known %s option", n, truncate(value, 30), f.Name)
		}
	}
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	time.DateTime,
}

func validDateTime(v string) bool {
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

func truncate(v string, n int) string {
	r := []rune(v)
	if len(r) <= n {
		return v
	}
	return string(r[:n]) + "..."
}
