package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rowjay/restorekit/internal/record"
)

// OpType names a value transformation in configuration files.
type OpType string

const (
	OpRegexReplace OpType = "REGEX_REPLACE"
	OpPrefix       OpType = "PREFIX"
	OpSuffix       OpType = "SUFFIX"
	OpTrim         OpType = "TRIM"
	OpUppercase    OpType = "UPPERCASE"
	OpLowercase    OpType = "LOWERCASE"
	OpConstant     OpType = "CONSTANT"
	OpLookup       OpType = "LOOKUP"
	OpFormula      OpType = "FORMULA"
	OpConcatenate  OpType = "CONCATENATE"
)

// Op is one value transformation. The set of implementations is closed.
type Op interface {
	// Apply returns the new value of a field given its current value and the record.
	Apply(current record.Value, rec *record.Record) record.Value
	// creates reports whether the op produces a value for an absent or null field.
	creates() bool
}

type RegexReplace struct {
	Pattern     *regexp.Regexp
	Replacement string
}

type Prefix struct{ Text string }

type Suffix struct{ Text string }

type Trim struct{}

type Uppercase struct{}

type Lowercase struct{}

type Constant struct{ Text string }

// Lookup maps whole values through a static table; misses pass through.
type Lookup struct{ Table map[string]string }

// Formula renders Template, replacing {Field} with that field's value and
// {value} with the current value.
type Formula struct{ Template string }

// Concatenate joins the values of Fields with Separator, skipping nulls.
type Concatenate struct {
	Fields    []string
	Separator string
}

func (o RegexReplace) Apply(v record.Value, _ *record.Record) record.Value {
	return record.String(o.Pattern.ReplaceAllString(v.S, o.Replacement))
}

func (o Prefix) Apply(v record.Value, _ *record.Record) record.Value {
	return record.String(o.Text + v.S)
}

func (o Suffix) Apply(v record.Value, _ *record.Record) record.Value {
	return record.String(v.S + o.Text)
}

func (Trim) Apply(v record.Value, _ *record.Record) record.Value {
	return record.String(strings.TrimSpace(v.S))
}

func (Uppercase) Apply(v record.Value, _ *record.Record) record.Value {
	return record.String(strings.ToUpper(v.S))
}

func (Lowercase) Apply(v record.Value, _ *record.Record) record.Value {
	return record.String(strings.ToLower(v.S))
}

func (o Constant) Apply(record.Value, *record.Record) record.Value {
	return record.String(o.Text)
}

func (o Lookup) Apply(v record.Value, _ *record.Record) record.Value {
	if mapped, ok := o.Table[v.S]; ok {
		return record.String(mapped)
	}
	return v
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

func (o Formula) Apply(v record.Value, rec *record.Record) record.Value {
	out := placeholder.ReplaceAllStringFunc(o.Template, func(m string) string {
		name := m[1 : len(m)-1]
		if name == "value" {
			return v.S
		}
		return rec.Str(name)
	})
	return record.String(out)
}

func (o Concatenate) Apply(_ record.Value, rec *record.Record) record.Value {
	parts := make([]string, 0, len(o.Fields))
	for _, f := range o.Fields {
		if fv, ok := rec.Get(f); ok && !fv.Blank() {
			parts = append(parts, fv.S)
		}
	}
	return record.String(strings.Join(parts, o.Separator))
}

func (RegexReplace) creates() bool { return false }
func (Prefix) creates() bool       { return false }
func (Suffix) creates() bool       { return false }
func (Trim) creates() bool         { return false }
func (Uppercase) creates() bool    { return false }
func (Lowercase) creates() bool    { return false }
func (Constant) creates() bool     { return true }
func (Lookup) creates() bool       { return false }
func (Formula) creates() bool      { return true }
func (Concatenate) creates() bool  { return true }

// compileOp builds the Op for one configured transformation.
func compileOp(vt ValueTransformation) (Op, error) {
	switch OpType(strings.ToUpper(string(vt.Type))) {
	case OpRegexReplace:
		re, err := regexp.Compile(vt.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", vt.Pattern, err)
		}
		return RegexReplace{Pattern: re, Replacement: vt.Replacement}, nil
	case OpPrefix:
		return Prefix{Text: vt.Replacement}, nil
	case OpSuffix:
		return Suffix{Text: vt.Replacement}, nil
	case OpTrim:
		return Trim{}, nil
	case OpUppercase:
		return Uppercase{}, nil
	case OpLowercase:
		return Lowercase{}, nil
	case OpConstant:
		return Constant{Text: vt.Replacement}, nil
	case OpLookup:
		if len(vt.LookupTable) == 0 {
			return nil, fmt.Errorf("lookup transformation needs a lookup_table")
		}
		return Lookup{Table: vt.LookupTable}, nil
	case OpFormula:
		if vt.Replacement == "" {
			return nil, fmt.Errorf("formula transformation needs a replacement template")
		}
		return Formula{Template: vt.Replacement}, nil
	case OpConcatenate:
		if len(vt.Fields) == 0 {
			return nil, fmt.Errorf("concatenate transformation needs fields")
		}
		return Concatenate{Fields: vt.Fields, Separator: vt.Separator}, nil
	default:
		return nil, fmt.Errorf("unknown transformation type %q", vt.Type)
	}
}
