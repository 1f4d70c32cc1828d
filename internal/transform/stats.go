package transform

// Statistics counts transformer activity since construction or the last reset.
type Statistics struct {
	Transformed          int64 `json:"transformed"`
	Skipped              int64 `json:"skipped"`
	FieldTransformations int64 `json:"field_transformations"`
	UserMappings         int64 `json:"user_mappings"`
	RecordTypeMappings   int64 `json:"record_type_mappings"`
	PicklistMappings     int64 `json:"picklist_mappings"`
}

func (s *Statistics) add(o Statistics) {
	s.Transformed += o.Transformed
	s.Skipped += o.Skipped
	s.FieldTransformations += o.FieldTransformations
	s.UserMappings += o.UserMappings
	s.RecordTypeMappings += o.RecordTypeMappings
	s.PicklistMappings += o.PicklistMappings
}

func (t *Transformer) Statistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Transformer) ResetStatistics() {
	t.mu.Lock()
	t.stats = Statistics{}
	t.mu.Unlock()
}
