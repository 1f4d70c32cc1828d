package transform

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Behavior selects what happens when a mapping lookup misses.
type Behavior int

const (
	// Unset defers to the next configuration level.
	Unset Behavior = iota
	KeepOriginal
	SetNull
	SkipRecord
	Fail
	UseDefault
	// UseRunningUser substitutes the principal running the restore. Principal fields only.
	UseRunningUser
)

var behaviorNames = map[Behavior]string{
	Unset:          "",
	KeepOriginal:   "KEEP_ORIGINAL",
	SetNull:        "SET_NULL",
	SkipRecord:     "SKIP_RECORD",
	Fail:           "FAIL",
	UseDefault:     "USE_DEFAULT",
	UseRunningUser: "USE_RUNNING_USER",
}

func (b Behavior) String() string {
	if name, ok := behaviorNames[b]; ok {
		return name
	}
	return fmt.Sprintf("Behavior(%d)", int(b))
}

// ParseBehavior accepts the upper snake case names, case-insensitively, with
// dashes or spaces in place of underscores.
func ParseBehavior(s string) (Behavior, error) {
	norm := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s)))
	if norm == "" {
		return Unset, nil
	}
	for b, name := range behaviorNames {
		if b != Unset && name == norm {
			return b, nil
		}
	}
	return Unset, fmt.Errorf("unknown unmapped value behavior %q", s)
}

func (b *Behavior) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseBehavior(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = parsed
	return nil
}

func (b Behavior) MarshalYAML() (any, error) { return b.String(), nil }

// resolveBehavior picks the first level that sets a behavior, most specific
// first. Nothing set keeps the original value.
func resolveBehavior(levels ...Behavior) Behavior {
	for _, b := range levels {
		if b != Unset {
			return b
		}
	}
	return KeepOriginal
}
