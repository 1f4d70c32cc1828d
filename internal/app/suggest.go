package app

import (
	"context"
	"fmt"

	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/transform"
)

// ValueSource lists the values a target field already holds.
type ValueSource interface {
	DistinctValues(ctx context.Context, objectType, field string, limit int) ([]string, error)
}

const maxTargetValues = 500

type FieldSuggestions struct {
	Field       string                 `json:"field"`
	Suggestions []transform.Suggestion `json:"suggestions"`
}

// Suggest proposes categorical value mappings for object: backup values the
// target does not know are paired with the closest value it does. fields
// defaults to the target's picklist fields. The returned config is the
// current transformation config with the suggestions merged in.
func (a *App) Suggest(ctx context.Context, object string, fields []string) (*transform.Config, []FieldSuggestions, error) {
	s, err := a.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer s.Close()

	md, err := s.tgt.Describe(ctx, object)
	if err != nil {
		return nil, nil, err
	}
	if len(fields) == 0 {
		for _, f := range md.Fields {
			if f.Type == meta.TypePicklist {
				fields = append(fields, f.Name)
			}
		}
	}
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("%s has no picklist fields; name the fields to map", object)
	}

	records, err := s.set.Records(ctx, object)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := a.transformConfig(ctx, s.set)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		cfg = &transform.Config{}
	}
	if cfg.Objects == nil {
		cfg.Objects = map[string]*transform.ObjectConfig{}
	}
	obj := cfg.Objects[object]
	if obj == nil {
		obj = &transform.ObjectConfig{}
		cfg.Objects[object] = obj
	}

	var out []FieldSuggestions
	for _, name := range fields {
		info, ok := md.Field(name)
		if !ok {
			a.Log.Warn().Str("object", object).Str("field", name).Msg("field not found in target")
			continue
		}
		known := info.PicklistValues
		if vs, ok := s.tgt.(ValueSource); ok && len(known) == 0 {
			if known, err = vs.DistinctValues(ctx, object, info.Name, maxTargetValues); err != nil {
				return nil, nil, err
			}
		}
		seen := map[string]bool{}
		var source []string
		for _, rec := range records {
			v, ok := rec.Get(info.Name)
			if !ok || v.Blank() || seen[v.S] {
				continue
			}
			seen[v.S] = true
			source = append(source, v.S)
		}
		sug := transform.SuggestPicklistMappings(source, known)
		if len(sug) > 0 {
			obj.ApplyPicklistSuggestions(info.Name, sug)
		}
		out = append(out, FieldSuggestions{Field: info.Name, Suggestions: sug})
	}
	return cfg, out, nil
}
