package meta

import (
	"context"
	"strings"
)

// Semantic field types reported by a Provider.
const (
	TypeString    = "string"
	TypeInt       = "int"
	TypeDouble    = "double"
	TypeBoolean   = "boolean"
	TypeDate      = "date"
	TypeDateTime  = "datetime"
	TypePicklist  = "picklist"
	TypeReference = "reference"
	TypeEmail     = "email"
	TypePhone     = "phone"
	TypeURL       = "url"
	TypeTextArea  = "textarea"
	TypeID        = "id"
)

const (
	// PrincipalType is the object type audit and ownership fields point to.
	PrincipalType  = "User"
	DefaultIDField = "Id"
)

// AuditFields are the well-known principal reference fields.
var AuditFields = []string{"OwnerId", "CreatedById", "LastModifiedById"}

func IsAuditField(name string) bool {
	for _, f := range AuditFields {
		if f == name {
			return true
		}
	}
	return false
}

type FieldInfo struct {
	Name           string
	Type           string
	Label          string
	Required       bool
	Createable     bool
	MaxLength      int
	ExternalID     bool
	Unique         bool
	NameField      bool
	PicklistValues []string
}

type RelationshipField struct {
	Field            FieldInfo
	ReferenceTo      []string
	RelationshipName string
}

// Polymorphic reports whether the field may point to more than one object type.
func (r RelationshipField) Polymorphic() bool { return len(r.ReferenceTo) > 1 }

type RecordTypeInfo struct {
	ID            string
	Name          string
	DeveloperName string
	IsDefault     bool
}

type ObjectMetadata struct {
	Name          string
	Fields        []FieldInfo
	Relationships []RelationshipField
	RecordTypes   []RecordTypeInfo
	IDField       string
}

// Provider describes object types of a target datastore.
type Provider interface {
	Describe(ctx context.Context, objectType string) (*ObjectMetadata, error)
}

func (m *ObjectMetadata) PrimaryKey() string {
	if m == nil || m.IDField == "" {
		return DefaultIDField
	}
	return m.IDField
}

func (m *ObjectMetadata) Field(name string) (FieldInfo, bool) {
	if m == nil {
		return FieldInfo{}, false
	}
	for _, f := range m.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldInfo{}, false
}

func (m *ObjectMetadata) Relationship(field string) (RelationshipField, bool) {
	if m == nil {
		return RelationshipField{}, false
	}
	for _, r := range m.Relationships {
		if strings.EqualFold(r.Field.Name, field) {
			return r, true
		}
	}
	return RelationshipField{}, false
}

// RequiredReferences returns the relationship fields that must be populated on create.
func (m *ObjectMetadata) RequiredReferences() []RelationshipField {
	if m == nil {
		return nil
	}
	var out []RelationshipField
	for _, r := range m.Relationships {
		if r.Field.Required {
			out = append(out, r)
		}
	}
	return out
}

func (m *ObjectMetadata) ExternalIDFields() []string {
	if m == nil {
		return nil
	}
	var out []string
	for _, f := range m.Fields {
		if f.ExternalID {
			out = append(out, f.Name)
		}
	}
	return out
}

func (m *ObjectMetadata) DefaultRecordType() (RecordTypeInfo, bool) {
	if m == nil {
		return RecordTypeInfo{}, false
	}
	for _, rt := range m.RecordTypes {
		if rt.IsDefault {
			return rt, true
		}
	}
	return RecordTypeInfo{}, false
}
