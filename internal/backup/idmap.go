package backup

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/record"
)

// IDMapping maps source identifiers to natural keys per object, written by
// the exporter alongside the data files.
type IDMapping struct {
	GeneratedAt string                     `json:"generatedAt"`
	Mappings    map[string]ObjectIDMapping `json:"mappings"`
}

type ObjectIDMapping struct {
	IdentifierField string            `json:"identifierField"`
	RecordCount     int               `json:"recordCount"`
	IDToIdentifier  map[string]string `json:"idToIdentifier"`
}

func decodeIDMapping(r io.Reader) (*IDMapping, error) {
	var m IDMapping
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("parse id mapping: %w", err)
	}
	return &m, nil
}

// AddReferenceColumns adds a _ref_<Field>_<IdentifierField> column for every
// reference field whose source id is known to the mapping and that has no
// reference column yet. Records are copied, never modified.
func (m *IDMapping) AddReferenceColumns(md *meta.ObjectMetadata, records []*record.Record) ([]*record.Record, int) {
	if m == nil || md == nil || len(m.Mappings) == 0 {
		return records, 0
	}
	out := make([]*record.Record, len(records))
	added := 0
	for i, in := range records {
		rec := in.Clone()
		for _, rel := range md.Relationships {
			sourceID := rec.Str(rel.Field.Name)
			if sourceID == "" || hasRefColumn(rec, rel.Field.Name) {
				continue
			}
			for _, refType := range rel.ReferenceTo {
				om, ok := m.Mappings[refType]
				if !ok || om.IdentifierField == "" {
					continue
				}
				if natural, ok := om.IDToIdentifier[sourceID]; ok {
					rec.SetString(record.RefPrefix+rel.Field.Name+"_"+om.IdentifierField, natural)
					added++
					break
				}
			}
		}
		out[i] = rec
	}
	return out, added
}

func hasRefColumn(rec *record.Record, field string) bool {
	prefix := record.RefPrefix + field + "_"
	for _, k := range rec.Keys() {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
