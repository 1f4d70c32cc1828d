package transform

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ConfigFileNames are looked up, in order, next to a backup set.
var ConfigFileNames = []string{
	"_transformation_config.yaml",
	"_transformation_config.yml",
	"_transformation_config.json",
}

// Config holds the global mapping tables and the per-object overrides.
// Object settings take precedence; a miss at object level falls back to the
// global table, the tables are never merged.
type Config struct {
	UserMappings       map[string]string            `yaml:"user_mappings,omitempty"`
	RecordTypeMappings map[string]string            `yaml:"record_type_mappings,omitempty"`
	PicklistMappings   map[string]map[string]string `yaml:"picklist_mappings,omitempty"`
	DefaultPicklist    map[string]string            `yaml:"default_picklist_values,omitempty"`
	DefaultUserID      string                       `yaml:"default_user_id,omitempty"`

	UnmappedUser       Behavior `yaml:"unmapped_user_behavior,omitempty"`
	UnmappedRecordType Behavior `yaml:"unmapped_record_type_behavior,omitempty"`
	UnmappedPicklist   Behavior `yaml:"unmapped_picklist_behavior,omitempty"`

	Objects map[string]*ObjectConfig `yaml:"objects,omitempty"`
}

type ObjectConfig struct {
	RecordTypeMappings  map[string]string `yaml:"record_type_mappings,omitempty"`
	DefaultRecordTypeID string            `yaml:"default_record_type_id,omitempty"`
	UnmappedRecordType  Behavior          `yaml:"unmapped_record_type_behavior,omitempty"`

	UserMappings  map[string]string `yaml:"user_mappings,omitempty"`
	DefaultUserID string            `yaml:"default_user_id,omitempty"`
	UnmappedUser  Behavior          `yaml:"unmapped_user_behavior,omitempty"`

	PicklistMappings map[string]map[string]string `yaml:"picklist_mappings,omitempty"`
	DefaultPicklist  map[string]string            `yaml:"default_picklist_values,omitempty"`
	UnmappedPicklist Behavior                     `yaml:"unmapped_picklist_behavior,omitempty"`

	FieldRenames         map[string]string     `yaml:"field_mappings,omitempty"`
	ExcludedFields       []string              `yaml:"excluded_fields,omitempty"`
	ValueTransformations []ValueTransformation `yaml:"value_transformations,omitempty"`
}

// ValueTransformation configures one operation on one field. Replacement
// doubles as the prefix, suffix, constant and formula template.
type ValueTransformation struct {
	Field       string            `yaml:"field"`
	Type        OpType            `yaml:"type"`
	Pattern     string            `yaml:"pattern,omitempty"`
	Replacement string            `yaml:"replacement,omitempty"`
	Condition   string            `yaml:"condition,omitempty"`
	LookupTable map[string]string `yaml:"lookup_table,omitempty"`
	Fields      []string          `yaml:"fields,omitempty"`
	Separator   string            `yaml:"separator,omitempty"`
}

// Object returns the configuration for objectType, or nil.
func (c *Config) Object(objectType string) *ObjectConfig {
	if c == nil {
		return nil
	}
	return c.Objects[objectType]
}

// Load parses a YAML or JSON transformation config and validates it.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read transformation config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("parse transformation config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteYAML encodes the config in the format Load reads.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transformation config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Validate rejects behaviors used outside their category and transformations
// that cannot be compiled.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if err := checkBehavior("record type", c.UnmappedRecordType); err != nil {
		return err
	}
	if err := checkBehavior("picklist", c.UnmappedPicklist); err != nil {
		return err
	}

	names := make([]string, 0, len(c.Objects))
	for name := range c.Objects {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		obj := c.Objects[name]
		if obj == nil {
			continue
		}
		if err := checkBehavior("record type", obj.UnmappedRecordType); err != nil {
			return fmt.Errorf("object %s: %w", name, err)
		}
		if err := checkBehavior("picklist", obj.UnmappedPicklist); err != nil {
			return fmt.Errorf("object %s: %w", name, err)
		}
		if _, err := compileSteps(obj.ValueTransformations); err != nil {
			return fmt.Errorf("object %s: %w", name, err)
		}
	}
	return nil
}

func checkBehavior(category string, b Behavior) error {
	if b == UseRunningUser {
		return fmt.Errorf("%s behavior %s is only valid for user fields", category, b)
	}
	return nil
}

// step is a compiled value transformation.
type step struct {
	field     string
	condition string
	op        Op
}

func compileSteps(list []ValueTransformation) ([]step, error) {
	steps := make([]step, 0, len(list))
	for i, vt := range list {
		if vt.Field == "" {
			return nil, fmt.Errorf("value transformation %d: field is required", i)
		}
		op, err := compileOp(vt)
		if err != nil {
			return nil, fmt.Errorf("value transformation %d (%s): %w", i, vt.Field, err)
		}
		steps = append(steps, step{field: vt.Field, condition: vt.Condition, op: op})
	}
	return steps, nil
}
