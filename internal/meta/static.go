package meta

import (
	"context"
	"fmt"
	"sync"
)

// Static serves metadata from memory. Names listed in Failing return an error.
type Static struct {
	mu      sync.Mutex
	Objects map[string]*ObjectMetadata
	Failing map[string]bool
	calls   map[string]int
}

func NewStatic(objects ...*ObjectMetadata) *Static {
	s := &Static{Objects: map[string]*ObjectMetadata{}, Failing: map[string]bool{}, calls: map[string]int{}}
	for _, md := range objects {
		s.Objects[md.Name] = md
	}
	return s
}

func (s *Static) Describe(_ context.Context, objectType string) (*ObjectMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[objectType]++
	if s.Failing[objectType] {
		return nil, fmt.Errorf("describe %s: metadata unavailable", objectType)
	}
	md, ok := s.Objects[objectType]
	if !ok {
		return &ObjectMetadata{Name: objectType, IDField: DefaultIDField}, nil
	}
	return md, nil
}

// Calls returns how many times objectType was described.
func (s *Static) Calls(objectType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[objectType]
}

// Requires builds metadata for objectType with a required reference field per parent.
// The field for parent P is named P+"Id".
func Requires(objectType string, parents ...string) *ObjectMetadata {
	md := &ObjectMetadata{
		Name:    objectType,
		IDField: DefaultIDField,
		Fields:  []FieldInfo{{Name: DefaultIDField, Type: TypeID}},
	}
	for _, p := range parents {
		f := FieldInfo{Name: p + "Id", Type: TypeReference, Required: true, Createable: true}
		md.Fields = append(md.Fields, f)
		md.Relationships = append(md.Relationships, RelationshipField{Field: f, ReferenceTo: []string{p}, RelationshipName: p})
	}
	return md
}
